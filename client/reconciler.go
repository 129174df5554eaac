package client

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"buildpixel/protocol"
)

type Anim string

const (
	AnimIdle     Anim = "idle"
	AnimWalk     Anim = "walk"
	AnimIdleBack Anim = "idle_back" // 面向舞台（背影）
)

type Facing string

const (
	FacingRight Facing = "right"
	FacingLeft  Facing = "left"
)

type TextureState int

const (
	TextureNone    TextureState = iota // 无头像引用，使用通用占位贴图
	TexturePending                     // 加载中，暂用占位贴图
	TextureLoaded
	TextureFailed // 保留占位贴图，不重试
)

func (s TextureState) String() string {
	switch s {
	case TextureNone:
		return "none"
	case TexturePending:
		return "pending"
	case TextureLoaded:
		return "loaded"
	case TextureFailed:
		return "failed"
	}
	return "unknown"
}

// RemoteAvatar 远端玩家在本地的投影（只读副本通过 Reconciler.Avatar 获取）
type RemoteAvatar struct {
	ID          string
	Name        string
	SpriteURL   string
	PortraitURL string

	Pos    Vec // 当前渲染位置
	Target Vec // 最近一次收到的位置
	Anim   Anim
	Facing Facing

	Texture      TextureState
	TextureImage *Texture

	from       Vec
	tweenStart time.Time
	tweening   bool
	lastMove   time.Time
	loadSeq    uint64 // 当前有效加载的序号
}

type ReconcilerConfig struct {
	TweenDuration time.Duration // 插值时长（线性）
	IdleAfter     time.Duration // 无新移动多久后回到 idle
}

func DefaultReconcilerConfig() ReconcilerConfig {
	return ReconcilerConfig{TweenDuration: 50 * time.Millisecond, IdleAfter: 200 * time.Millisecond}
}

// Reconciler 把服务端事件收敛为远端头像集合；只在会话循环中调用
type Reconciler struct {
	cfg     ReconcilerConfig
	loader  AssetLoader
	log     *zap.SugaredLogger
	now     func() time.Time
	self    string
	avatars map[string]*RemoteAvatar

	done     *completions
	loads    uint64 // 单调递增，Reset 后也不回退
	inflight sync.WaitGroup
	ctx      context.Context
	cancel   context.CancelFunc
}

// NewReconciler loader 可为 nil（不加载头像），log 可为 nil
func NewReconciler(loader AssetLoader, cfg ReconcilerConfig, log *zap.SugaredLogger) *Reconciler {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	r := &Reconciler{
		cfg:     cfg,
		loader:  loader,
		log:     log,
		now:     time.Now,
		avatars: make(map[string]*RemoteAvatar),
		done:    &completions{},
	}
	r.ctx, r.cancel = context.WithCancel(context.Background())
	return r
}

// Self 当前会话 ID（来自最近的名单快照）
func (r *Reconciler) Self() string { return r.self }

func (r *Reconciler) Len() int { return len(r.avatars) }

func (r *Reconciler) Avatar(id string) (RemoteAvatar, bool) {
	a, ok := r.avatars[id]
	if !ok {
		return RemoteAvatar{}, false
	}
	return *a, true
}

// Avatars 按 ID 排序的副本
func (r *Reconciler) Avatars() []RemoteAvatar {
	out := make([]RemoteAvatar, 0, len(r.avatars))
	for _, a := range r.avatars {
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Apply 处理一条服务端消息；聊天不在这里处理
func (r *Reconciler) Apply(msg protocol.ServerMessage) {
	switch m := msg.(type) {
	case protocol.Roster:
		r.onRoster(m)
	case protocol.PlayerJoined:
		r.onJoined(m.Player)
	case protocol.PlayerMoved:
		r.onMoved(m.Player)
	case protocol.PlayerLeft:
		r.onLeft(m.ID)
	}
}

// onRoster 为每个非本地的 ID 创建头像；已跟踪的跳过，迟到的重复快照不会产生幽灵
func (r *Reconciler) onRoster(m protocol.Roster) {
	r.self = m.Self
	for id, p := range m.Players {
		if id == r.self {
			continue
		}
		if _, ok := r.avatars[id]; ok {
			continue
		}
		r.create(p)
	}
}

func (r *Reconciler) onJoined(p protocol.Player) {
	if p.ID == r.self {
		return
	}
	a, ok := r.avatars[p.ID]
	if !ok {
		r.create(p)
		return
	}
	// 重复 join：原地更新身份，不创建第二个头像
	a.Name = p.Name
	a.PortraitURL = p.PortraitURL
	if a.SpriteURL != p.SpriteURL {
		a.SpriteURL = p.SpriteURL
		r.load(a)
	}
}

func (r *Reconciler) onMoved(p protocol.Player) {
	a, ok := r.avatars[p.ID]
	if !ok {
		// 未知 ID 的移动直接忽略，不猜测
		r.log.Debugf("move for unknown avatar %s ignored", p.ID)
		return
	}
	now := r.now()
	target := Vec{X: p.X, Y: p.Y}
	delta := target.Sub(a.Target)
	switch {
	case delta.X < 0:
		a.Facing = FacingLeft
	case delta.X > 0:
		a.Facing = FacingRight
	}
	if delta.Len() == 0 {
		a.Anim = AnimIdle
	} else {
		a.Anim = AnimWalk
	}
	a.from = a.Pos
	a.Target = target
	a.tweenStart = now
	a.tweening = true
	a.lastMove = now
}

func (r *Reconciler) onLeft(id string) {
	if _, ok := r.avatars[id]; !ok {
		return
	}
	delete(r.avatars, id)
}

func (r *Reconciler) create(p protocol.Player) {
	pos := Vec{X: p.X, Y: p.Y}
	a := &RemoteAvatar{
		ID:          p.ID,
		Name:        p.Name,
		SpriteURL:   p.SpriteURL,
		PortraitURL: p.PortraitURL,
		Pos:         pos,
		Target:      pos,
		from:        pos,
		Anim:        AnimIdle,
		Facing:      FacingRight,
	}
	r.avatars[p.ID] = a
	r.load(a)
}

// load 异步加载头像；完成结果在下一次 Tick 应用
func (r *Reconciler) load(a *RemoteAvatar) {
	a.TextureImage = nil
	r.loads++
	a.loadSeq = r.loads
	if a.SpriteURL == "" || r.loader == nil {
		a.Texture = TextureNone
		return
	}
	a.Texture = TexturePending
	id, ref, seq, ctx := a.ID, a.SpriteURL, a.loadSeq, r.ctx
	r.inflight.Add(1)
	go func() {
		defer r.inflight.Done()
		tex, err := r.loader.Load(ctx, ref)
		r.done.push(loadResult{id: id, ref: ref, seq: seq, tex: tex, err: err})
	}()
}

// Tick 应用已完成的加载、推进插值、回落到 idle
func (r *Reconciler) Tick() {
	for _, res := range r.done.take() {
		a, ok := r.avatars[res.id]
		if !ok || a.loadSeq != res.seq {
			// 头像已销毁、换了新头像，或是 Reset 前发起的加载
			continue
		}
		if res.err != nil {
			r.log.Warnf("load sprite for %s (%s): %v", res.id, res.ref, res.err)
			a.Texture = TextureFailed
			continue
		}
		a.Texture = TextureLoaded
		a.TextureImage = res.tex
	}

	now := r.now()
	for _, a := range r.avatars {
		if a.tweening {
			t := 1.0
			if r.cfg.TweenDuration > 0 {
				t = float64(now.Sub(a.tweenStart)) / float64(r.cfg.TweenDuration)
			}
			if t >= 1 {
				a.Pos = a.Target
				a.tweening = false
			} else {
				a.Pos = a.from.Lerp(a.Target, t)
			}
		}
		if a.Anim == AnimWalk && now.Sub(a.lastMove) >= r.cfg.IdleAfter {
			a.Anim = AnimIdle
		}
	}
}

// Reset 断线重连时清空所有投影，并放弃进行中的加载
func (r *Reconciler) Reset() {
	r.cancel()
	r.ctx, r.cancel = context.WithCancel(context.Background())
	r.avatars = make(map[string]*RemoteAvatar)
	r.self = ""
	r.done.take()
}

// Close 取消进行中的加载并等待其退出
func (r *Reconciler) Close() {
	r.cancel()
	r.inflight.Wait()
}
