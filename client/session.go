package client

import (
	"context"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"buildpixel/protocol"
)

// SessionConfig 客户端会话参数
type SessionConfig struct {
	Identity   protocol.Join
	Spawn      Vec
	Publisher  PublisherConfig
	Reconciler ReconcilerConfig
	Seating    SeatingConfig
}

// Session 单线程客户端循环：消费入站消息 → 收敛远端 → 本地移动 → 就座状态机 → 发布移动
type Session struct {
	link Link
	log  *zap.SugaredLogger

	Local      *LocalPlayer
	Publisher  *Publisher
	Reconciler *Reconciler
	Seating    *Seating

	identity protocol.Join
	joined   bool
	chat     chan protocol.Chat
}

func NewSession(link Link, cfg SessionConfig, loader AssetLoader, rng *rand.Rand, log *zap.SugaredLogger) *Session {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	s := &Session{
		link:     link,
		log:      log,
		Local:    NewLocalPlayer(cfg.Spawn),
		identity: cfg.Identity,
		chat:     make(chan protocol.Chat, 64),
	}
	s.Publisher = NewPublisher(s, cfg.Publisher)
	s.Reconciler = NewReconciler(loader, cfg.Reconciler, log)
	s.Seating = NewSeating(cfg.Seating, s.Local, s.Publisher, rng, log)
	return s
}

// SendMove 发布器经由当前连接发送
func (s *Session) SendMove(x, y float64) error { return s.link.SendMove(x, y) }

// Chat 收到的聊天行（包括自己发出的）
func (s *Session) Chat() <-chan protocol.Chat { return s.chat }

func (s *Session) Say(text string) error { return s.link.SendChat(text) }

// Resync 请求重新下发名单
func (s *Session) Resync() error { return s.link.SendResync() }

func (s *Session) Joined() bool { return s.joined }

// Rebind 重连后切换到新连接：清空远端投影，等待新名单后重新 join
func (s *Session) Rebind(link Link) {
	s.link = link
	s.joined = false
	s.Reconciler.Reset()
}

// Step 执行一帧
func (s *Session) Step(dt time.Duration, in Input) error {
	if err := s.drain(); err != nil {
		return err
	}
	s.Reconciler.Tick()
	s.Local.Step(dt, in)
	s.Seating.Tick(in.Any())
	if !s.joined {
		return nil
	}
	_, err := s.Publisher.Tick(s.Local.Position())
	return err
}

func (s *Session) drain() error {
	for {
		select {
		case msg := <-s.link.Inbound():
			if err := s.handle(msg); err != nil {
				return err
			}
		default:
			return nil
		}
	}
}

func (s *Session) handle(msg protocol.ServerMessage) error {
	switch m := msg.(type) {
	case protocol.Chat:
		select {
		case s.chat <- m:
		default:
			s.log.Debugf("chat from %s dropped: reader not keeping up", m.SenderID)
		}
		return nil
	case protocol.Roster:
		if self := s.Reconciler.Self(); self != "" && self != m.Self {
			// 新会话 ID：丢弃旧投影
			s.Reconciler.Reset()
			s.joined = false
		}
		s.Reconciler.Apply(m)
		if !s.joined {
			if err := s.link.SendJoin(s.identity); err != nil {
				return err
			}
			s.joined = true
			s.Publisher.Force()
			s.log.Infof("joined as %s (%s)", s.identity.Name, m.Self)
		}
		return nil
	default:
		s.Reconciler.Apply(msg)
		return nil
	}
}

// Run 以固定频率驱动 Step，直到 ctx 结束或连接关闭；input 每帧取一次
func (s *Session) Run(ctx context.Context, rate time.Duration, input func() Input) error {
	ticker := time.NewTicker(rate)
	defer ticker.Stop()
	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.link.Done():
			if t, ok := s.link.(*Transport); ok && t.Err() != nil {
				return t.Err()
			}
			return ErrClosed
		case now := <-ticker.C:
			var in Input
			if input != nil {
				in = input()
			}
			if err := s.Step(now.Sub(last), in); err != nil {
				return err
			}
			last = now
		}
	}
}

// Close 关闭连接并等待头像加载退出
func (s *Session) Close() error {
	err := s.link.Close()
	s.Reconciler.Close()
	return err
}
