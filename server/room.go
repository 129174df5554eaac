package server

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"buildpixel/protocol"
)

var (
	ErrUnknownSession = errors.New("unknown session")
	ErrNotJoined      = errors.New("session has not joined")
	ErrRoomClosed     = errors.New("room closed")
	ErrSendQueueFull  = errors.New("send queue full")
	ErrInvalidConfig  = errors.New("invalid room config")
)

// announcerName 系统公告的显示名
const announcerName = "System"

// RoomConfig 创建房间时的参数
type RoomConfig struct {
	SpawnX        float64
	SpawnY        float64
	MaxChatLen    int
	JoinTimeout   time.Duration // 未 join 会话的最长存活时间
	SweepInterval time.Duration // 驱逐扫描周期
	Inbox         int           // 命令队列容量
	SendQueue     int           // 每连接发送队列容量
	ReadLimit     int64         // 单帧最大字节数
}

// DefaultRoomConfig 与 config.Default() 的 world/server 段一致
func DefaultRoomConfig() RoomConfig {
	return RoomConfig{
		SpawnX:        400,
		SpawnY:        300,
		MaxChatLen:    protocol.MaxChatLen,
		JoinTimeout:   30 * time.Second,
		SweepInterval: 5 * time.Second,
		Inbox:         256,
		SendQueue:     256,
		ReadLimit:     64 << 10,
	}
}

// RoomSettings 可热更新的房间规则
type RoomSettings struct {
	MaxChatLen  int           `json:"max_chat_len"`
	JoinTimeout time.Duration `json:"-"`
	// JoinTimeoutMs 仅用于 JSON 输出
	JoinTimeoutMs int64 `json:"join_timeout_ms"`
}

// ConfigUpdate /admin/config 的部分更新载荷
type ConfigUpdate struct {
	MaxChatLen    *int   `json:"max_chat_len,omitempty"`
	JoinTimeoutMs *int64 `json:"join_timeout_ms,omitempty"`
}

// Validate 拒绝非正值
func (u ConfigUpdate) Validate() error {
	if u.MaxChatLen != nil && (*u.MaxChatLen <= 0 || *u.MaxChatLen > protocol.MaxChatLen) {
		return fmt.Errorf("%w: max_chat_len must be in [1,%d]", ErrInvalidConfig, protocol.MaxChatLen)
	}
	if u.JoinTimeoutMs != nil && *u.JoinTimeoutMs <= 0 {
		return fmt.Errorf("%w: join_timeout_ms must be positive", ErrInvalidConfig)
	}
	return nil
}

// Room 一个共享空间：注册表与路由由单一事件循环独占
type Room struct {
	ID string

	inbox    chan command
	quit     chan struct{}
	done     chan struct{}
	stopOnce sync.Once

	players  *registry
	router   *router
	metrics  *RoomMetrics
	settings RoomSettings

	cfg   RoomConfig
	now   func() time.Time
	newID func() PlayerID
	// onEmpty 最后一个连接离开时在事件循环内调用；为 nil 则房间常驻
	onEmpty func(*Room)

	startOnce sync.Once
}

// NewRoom 创建房间，初始化数据结构；Start 之后才开始处理命令
func NewRoom(id string, cfg RoomConfig) *Room {
	if cfg.Inbox <= 0 {
		cfg.Inbox = 256
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = 5 * time.Second
	}
	if cfg.MaxChatLen <= 0 || cfg.MaxChatLen > protocol.MaxChatLen {
		cfg.MaxChatLen = protocol.MaxChatLen
	}
	metrics := &RoomMetrics{}
	r := &Room{
		ID:      id,
		inbox:   make(chan command, cfg.Inbox), // 足够缓冲，避免网络读阻塞
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
		players: newRegistry(),
		router:  newRouter(metrics),
		metrics: metrics,
		cfg:     cfg,
		now:     time.Now,
		newID:   func() PlayerID { return PlayerID(uuid.NewString()) },
	}
	r.settings = RoomSettings{MaxChatLen: cfg.MaxChatLen}
	r.settings.setJoinTimeout(cfg.JoinTimeout)
	return r
}

func (s *RoomSettings) setJoinTimeout(d time.Duration) {
	s.JoinTimeout = d
	s.JoinTimeoutMs = d.Milliseconds()
}

// Metrics 房间指标（原子读取，任意 goroutine 可用）
func (r *Room) Metrics() *RoomMetrics { return r.metrics }

// ---- 对外入口：投递命令到事件循环 ----

// submit 阻塞投递，房间停止或 ctx 结束时返回
func (r *Room) submit(ctx context.Context, c command) error {
	select {
	case <-r.quit:
		return ErrRoomClosed
	default:
	}
	select {
	case r.inbox <- c:
		return nil
	case <-r.quit:
		return ErrRoomClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Connect 登记新连接，返回分配的会话 ID；完整名单已排入该连接的发送队列
func (r *Room) Connect(ctx context.Context, conn Conn) (PlayerID, error) {
	reply := make(chan PlayerID, 1)
	if err := r.submit(ctx, connectCmd{conn: conn, reply: reply}); err != nil {
		return "", err
	}
	select {
	case id := <-reply:
		return id, nil
	case <-r.quit:
		return "", ErrRoomClosed
	}
}

func (r *Room) Join(id PlayerID, msg protocol.Join) error {
	return r.submit(context.Background(), joinCmd{id: id, msg: msg})
}

func (r *Room) Move(id PlayerID, x, y float64) error {
	return r.submit(context.Background(), moveCmd{id: id, x: x, y: y})
}

func (r *Room) Chat(id PlayerID, text string) error {
	return r.submit(context.Background(), chatCmd{id: id, text: text})
}

func (r *Room) Resync(id PlayerID) error {
	return r.submit(context.Background(), resyncCmd{id: id})
}

// Leave 会话结束（读泵退出）；对未知 ID 为空操作
func (r *Room) Leave(id PlayerID, reason string) error {
	return r.submit(context.Background(), leaveCmd{id: id, reason: reason})
}

// Announce 以 system 身份向所有连接广播一条聊天
func (r *Room) Announce(ctx context.Context, text string) error {
	return r.submit(ctx, announceCmd{text: text})
}

// View 在事件循环内执行只读回调，返回前 fn 已执行完
func (r *Room) View(ctx context.Context, fn func(Roster, RoomSettings)) error {
	done := make(chan struct{})
	if err := r.submit(ctx, viewCmd{fn: fn, done: done}); err != nil {
		return err
	}
	select {
	case <-done:
		return nil
	case <-r.quit:
		return ErrRoomClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Players 当前名单的副本
func (r *Room) Players(ctx context.Context) (map[PlayerID]protocol.Player, error) {
	var out map[PlayerID]protocol.Player
	err := r.View(ctx, func(roster Roster, _ RoomSettings) {
		out = roster.Snapshot()
	})
	return out, err
}

// Settings 当前房间规则
func (r *Room) Settings(ctx context.Context) (RoomSettings, error) {
	var out RoomSettings
	err := r.View(ctx, func(_ Roster, s RoomSettings) { out = s })
	return out, err
}

// Configure 热更新房间规则，返回更新后的值
func (r *Room) Configure(ctx context.Context, u ConfigUpdate) (RoomSettings, error) {
	if err := u.Validate(); err != nil {
		return RoomSettings{}, err
	}
	reply := make(chan RoomSettings, 1)
	if err := r.submit(ctx, configureCmd{update: u, reply: reply}); err != nil {
		return RoomSettings{}, err
	}
	select {
	case s := <-reply:
		return s, nil
	case <-r.quit:
		return RoomSettings{}, ErrRoomClosed
	}
}

// Stop 停止事件循环并关闭所有连接；可重复调用
func (r *Room) Stop() {
	r.stopOnce.Do(func() { close(r.quit) })
}

// Done 事件循环退出后关闭
func (r *Room) Done() <-chan struct{} { return r.done }

// ---- 事件循环内的处理函数（仅由 Run 调用） ----

func (r *Room) onConnect(c Conn) PlayerID {
	id := r.newID()
	r.players.insert(id, r.cfg.SpawnX, r.cfg.SpawnY, r.now())
	r.router.attach(id, c)
	r.metrics.IncConnects()
	// 名单只发给新连接本身，此时不通知其他人
	r.router.ToOne(id, r.players.roster(id))
	Log.Infof("connect: room=%s id=%s codec=%s players=%d", r.ID, id, c.Codec().Name(), r.players.Len())
	return id
}

func (r *Room) onJoin(id PlayerID, j protocol.Join) error {
	p, ok := r.players.get(id)
	if !ok {
		return fmt.Errorf("join %s: %w", id, ErrUnknownSession)
	}
	rejoin := p.joined
	p.applyIdentity(j)
	r.metrics.IncJoins()
	r.router.ToOthers(id, protocol.PlayerJoined{Player: p.state})
	Log.Infof("join: room=%s id=%s name=%q rejoin=%v", r.ID, id, p.state.Name, rejoin)
	return nil
}

func (r *Room) onMove(id PlayerID, x, y float64) error {
	p, ok := r.players.get(id)
	if !ok {
		return fmt.Errorf("move %s: %w", id, ErrUnknownSession)
	}
	if !p.joined {
		return fmt.Errorf("move %s: %w", id, ErrNotJoined)
	}
	p.moveTo(x, y)
	r.metrics.IncMoves()
	r.router.ToOthers(id, protocol.PlayerMoved{Player: p.state})
	return nil
}

func (r *Room) onChat(id PlayerID, text string) error {
	p, ok := r.players.get(id)
	if !ok {
		return fmt.Errorf("chat %s: %w", id, ErrUnknownSession)
	}
	if !p.joined {
		return fmt.Errorf("chat %s: %w", id, ErrNotJoined)
	}
	if n := utf8.RuneCountInString(text); n == 0 || n > r.settings.MaxChatLen {
		return fmt.Errorf("%w: chat text must be 1-%d runes", protocol.ErrInvalidPayload, r.settings.MaxChatLen)
	}
	r.metrics.IncChats()
	// 聊天发给所有人，包括发送者本身
	r.router.ToAll(protocol.Chat{
		SenderID:   string(id),
		SenderName: p.state.Name,
		Text:       text,
		Timestamp:  r.now().UnixMilli(),
	})
	return nil
}

func (r *Room) onResync(id PlayerID) error {
	if _, ok := r.players.get(id); !ok {
		return fmt.Errorf("resync %s: %w", id, ErrUnknownSession)
	}
	r.router.ToOne(id, r.players.roster(id))
	return nil
}

// onLeave 移除会话并通知剩余连接；返回是否真的移除了
func (r *Room) onLeave(id PlayerID, reason string) bool {
	if _, ok := r.players.remove(id); !ok {
		// 读泵退出与驱逐可能先后报告同一连接
		Log.Debugf("leave: room=%s id=%s unknown (%s)", r.ID, id, reason)
		return false
	}
	if c, ok := r.router.detach(id); ok {
		_ = c.Close()
	}
	r.metrics.IncDisconnects()
	r.router.ToAll(protocol.PlayerLeft{ID: string(id)})
	Log.Infof("leave: room=%s id=%s reason=%s players=%d", r.ID, id, reason, r.players.Len())
	if r.players.Len() == 0 && r.onEmpty != nil {
		r.onEmpty(r)
	}
	return true
}

func (r *Room) onAnnounce(text string) {
	r.router.ToAll(protocol.Chat{
		SenderID:   protocol.SystemSenderID,
		SenderName: announcerName,
		Text:       text,
		Timestamp:  r.now().UnixMilli(),
	})
	Log.Infof("announce: room=%s text=%q", r.ID, text)
}

func (r *Room) onConfigure(u ConfigUpdate) RoomSettings {
	if u.MaxChatLen != nil {
		r.settings.MaxChatLen = *u.MaxChatLen
	}
	if u.JoinTimeoutMs != nil {
		r.settings.setJoinTimeout(time.Duration(*u.JoinTimeoutMs) * time.Millisecond)
	}
	Log.Infof("config updated: room=%s maxChatLen=%d joinTimeout=%s",
		r.ID, r.settings.MaxChatLen, r.settings.JoinTimeout)
	return r.settings
}

// reject 协议违规：记录、计数、丢弃，连接保持打开
func (r *Room) reject(id PlayerID, kind protocol.Kind, err error) {
	r.metrics.IncProtocolViolations()
	Log.Warnf("rejected %s from %s: %v", kind, id, err)
}
