package client

import (
	"time"
)

// MoveSender 发布器的出口
type MoveSender interface {
	SendMove(x, y float64) error
}

type PublisherConfig struct {
	// MinDistance 与上次发送位置的距离必须严格超过该值
	MinDistance float64
	// MinInterval 距上次发送至少经过的时间
	MinInterval time.Duration
}

func DefaultPublisherConfig() PublisherConfig {
	return PublisherConfig{MinDistance: 1.0, MinInterval: 20 * time.Millisecond}
}

// Publisher 决定本地位置变化何时值得发送：距离与时间双重门限。
// 首次 Tick 以及 Force 之后的下一次 Tick 无条件发送。
type Publisher struct {
	cfg    PublisherConfig
	out    MoveSender
	now    func() time.Time
	last   Vec
	lastAt time.Time
	force  bool
	sent   int
}

func NewPublisher(out MoveSender, cfg PublisherConfig) *Publisher {
	return &Publisher{cfg: cfg, out: out, now: time.Now, force: true}
}

// Force 下一次 Tick 无条件发送（join 之后、瞬移之后）
func (p *Publisher) Force() { p.force = true }

// Sent 已发送的移动次数
func (p *Publisher) Sent() int { return p.sent }

// Tick 每个本地模拟帧调用一次；返回本帧是否发送
func (p *Publisher) Tick(pos Vec) (bool, error) {
	now := p.now()
	if !p.force {
		if pos.Dist(p.last) <= p.cfg.MinDistance || now.Sub(p.lastAt) < p.cfg.MinInterval {
			return false, nil
		}
	}
	if err := p.out.SendMove(pos.X, pos.Y); err != nil {
		// 发送失败不更新状态，下一帧重试
		return false, err
	}
	p.force = false
	p.last = pos
	p.lastAt = now
	p.sent++
	return true, nil
}
