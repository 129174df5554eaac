package server

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"buildpixel/protocol"
)

type fakeConn struct {
	codec  protocol.Codec
	sendCh chan []byte
	closed atomic.Bool
}

func newFakeConn(codec protocol.Codec, queue int) *fakeConn {
	return &fakeConn{codec: codec, sendCh: make(chan []byte, queue)}
}

func (f *fakeConn) Send(b []byte) error {
	cp := make([]byte, len(b))
	copy(cp, b)
	select {
	case f.sendCh <- cp:
		return nil
	default:
		return ErrSendQueueFull
	}
}

func (f *fakeConn) Close() error {
	f.closed.Store(true)
	return nil
}

func (f *fakeConn) Codec() protocol.Codec { return f.codec }

// drain 返回当前已排队的全部消息（调用前先用 barrier 等待房间处理完）
func (f *fakeConn) drain(t *testing.T) []protocol.ServerMessage {
	t.Helper()
	var out []protocol.ServerMessage
	for {
		select {
		case b := <-f.sendCh:
			m, err := f.codec.DecodeServer(b)
			require.NoError(t, err)
			out = append(out, m)
		default:
			return out
		}
	}
}

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func startRoom(t *testing.T, mutate ...func(*Room)) *Room {
	t.Helper()
	cfg := DefaultRoomConfig()
	cfg.SweepInterval = time.Hour
	r := NewRoom("test", cfg)
	seq := 0
	r.newID = func() PlayerID {
		seq++
		return PlayerID(fmt.Sprintf("p%d", seq))
	}
	for _, fn := range mutate {
		fn(r)
	}
	r.Start()
	t.Cleanup(func() {
		r.Stop()
		<-r.Done()
	})
	return r
}

// barrier 等待之前投递的命令全部执行完
func barrier(t *testing.T, r *Room) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, r.View(ctx, func(Roster, RoomSettings) {}))
}

func connect(t *testing.T, r *Room, codec protocol.Codec) (PlayerID, *fakeConn) {
	t.Helper()
	fc := newFakeConn(codec, 64)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	id, err := r.Connect(ctx, fc)
	require.NoError(t, err)
	return id, fc
}

func connectJoined(t *testing.T, r *Room, name string) (PlayerID, *fakeConn) {
	t.Helper()
	id, fc := connect(t, r, protocol.JSON)
	require.NoError(t, r.Join(id, protocol.Join{Name: name}))
	barrier(t, r)
	return id, fc
}

func TestConnectSendsRosterOnlyToNewcomer(t *testing.T) {
	r := startRoom(t)

	a, fa := connect(t, r, protocol.JSON)
	barrier(t, r)
	msgs := fa.drain(t)
	require.Len(t, msgs, 1)
	roster, ok := msgs[0].(protocol.Roster)
	require.True(t, ok, "first message must be the roster")
	assert.Equal(t, string(a), roster.Self)
	assert.Equal(t, protocol.Player{ID: string(a), X: 400, Y: 300, Name: protocol.PlaceholderName},
		roster.Players[string(a)])

	_, fb := connect(t, r, protocol.JSON)
	barrier(t, r)
	require.Len(t, fb.drain(t), 1)
	assert.Empty(t, fa.drain(t), "connect alone is not announced")
}

func TestRosterCompleteness(t *testing.T) {
	r := startRoom(t)

	const n = 5
	names := map[string]string{}
	for i := 0; i < n-1; i++ {
		id, _ := connectJoined(t, r, fmt.Sprintf("user%d", i))
		names[string(id)] = fmt.Sprintf("user%d", i)
	}

	self, fc := connect(t, r, protocol.JSON)
	barrier(t, r)
	msgs := fc.drain(t)
	require.Len(t, msgs, 1)
	roster := msgs[0].(protocol.Roster)

	require.Len(t, roster.Players, n)
	for id, name := range names {
		assert.Equal(t, name, roster.Players[id].Name)
	}
	assert.Equal(t, protocol.PlaceholderName, roster.Players[string(self)].Name)
}

func TestJoinAnnouncedToOthersOnly(t *testing.T) {
	r := startRoom(t)
	_, fa := connect(t, r, protocol.JSON)
	b, fb := connect(t, r, protocol.JSON)
	barrier(t, r)
	fa.drain(t)
	fb.drain(t)

	require.NoError(t, r.Join(b, protocol.Join{Name: "Bo", SpriteURL: "/s.png", PortraitURL: "/p.png"}))
	barrier(t, r)

	msgs := fa.drain(t)
	require.Len(t, msgs, 1)
	joined := msgs[0].(protocol.PlayerJoined)
	assert.Equal(t, protocol.Player{ID: string(b), X: 400, Y: 300, Name: "Bo", SpriteURL: "/s.png", PortraitURL: "/p.png"}, joined.Player)
	assert.Empty(t, fb.drain(t))
}

func TestRepeatedJoinUpdatesInPlace(t *testing.T) {
	r := startRoom(t)
	_, fa := connect(t, r, protocol.JSON)
	b, _ := connectJoined(t, r, "Bo")
	require.NoError(t, r.Join(b, protocol.Join{Name: "Bobby"}))
	barrier(t, r)

	var joins []protocol.PlayerJoined
	for _, m := range fa.drain(t) {
		if j, ok := m.(protocol.PlayerJoined); ok {
			joins = append(joins, j)
		}
	}
	require.Len(t, joins, 2)
	assert.Equal(t, "Bobby", joins[1].Player.Name)

	players, err := r.Players(context.Background())
	require.NoError(t, err)
	assert.Len(t, players, 2)
	assert.Equal(t, "Bobby", players[b].Name)
}

func TestMoveBeforeJoinIsRejected(t *testing.T) {
	r := startRoom(t)
	_, fa := connectJoined(t, r, "Ann")
	b, fb := connect(t, r, protocol.JSON)
	barrier(t, r)
	fa.drain(t)
	fb.drain(t)

	require.NoError(t, r.Move(b, 10, 10))
	require.NoError(t, r.Chat(b, "hello"))
	barrier(t, r)

	assert.Empty(t, fa.drain(t))
	assert.Empty(t, fb.drain(t))
	assert.EqualValues(t, 2, r.Metrics().ProtocolViolations)

	players, err := r.Players(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 400.0, players[b].X)
}

func TestUnknownSessionIsIgnored(t *testing.T) {
	r := startRoom(t)
	_, fa := connectJoined(t, r, "Ann")
	fa.drain(t)

	require.NoError(t, r.Join("ghost", protocol.Join{Name: "x"}))
	require.NoError(t, r.Move("ghost", 1, 1))
	require.NoError(t, r.Resync("ghost"))
	barrier(t, r)

	assert.Empty(t, fa.drain(t))
	assert.EqualValues(t, 3, r.Metrics().ProtocolViolations)
}

func TestJoinThenMoveScenario(t *testing.T) {
	r := startRoom(t)

	a, fa := connect(t, r, protocol.JSON)
	b, fb := connect(t, r, protocol.JSON)
	barrier(t, r)
	rosterB := fb.drain(t)[0].(protocol.Roster)
	fa.drain(t)

	require.NoError(t, r.Join(a, protocol.Join{Name: "Ann"}))
	require.NoError(t, r.Join(b, protocol.Join{Name: "Bo"}))
	require.NoError(t, r.Move(a, 120, 80))
	barrier(t, r)

	// B 的名单快照早于 A 完成 join，只包含占位身份
	assert.Equal(t, protocol.PlaceholderName, rosterB.Players[string(a)].Name)

	msgs := fb.drain(t)
	require.Len(t, msgs, 2)
	joined, ok := msgs[0].(protocol.PlayerJoined)
	require.True(t, ok, "join must precede move")
	assert.Equal(t, "Ann", joined.Player.Name)
	moved, ok := msgs[1].(protocol.PlayerMoved)
	require.True(t, ok)
	assert.Equal(t, protocol.Player{ID: string(a), X: 120, Y: 80, Name: "Ann"}, moved.Player)

	// A 只看到 B 的 join，看不到自己的移动
	msgs = fa.drain(t)
	require.Len(t, msgs, 1)
	assert.Equal(t, string(b), msgs[0].(protocol.PlayerJoined).Player.ID)
}

func TestChatReachesEveryoneIncludingSender(t *testing.T) {
	clock := &fakeClock{t: time.UnixMilli(1_700_000_000_000)}
	r := startRoom(t, func(r *Room) { r.now = clock.Now })

	a, fa := connectJoined(t, r, "Ann")
	_, fb := connectJoined(t, r, "Bo")
	fa.drain(t)
	fb.drain(t)

	require.NoError(t, r.Chat(a, "hi"))
	barrier(t, r)

	for _, fc := range []*fakeConn{fa, fb} {
		msgs := fc.drain(t)
		require.Len(t, msgs, 1)
		assert.Equal(t, protocol.Chat{
			SenderID:   string(a),
			SenderName: "Ann",
			Text:       "hi",
			Timestamp:  1_700_000_000_000,
		}, msgs[0])
	}
}

func TestChatLengthFollowsRoomSettings(t *testing.T) {
	r := startRoom(t)
	a, fa := connectJoined(t, r, "Ann")
	fa.drain(t)

	limit := 3
	_, err := r.Configure(context.Background(), ConfigUpdate{MaxChatLen: &limit})
	require.NoError(t, err)

	require.NoError(t, r.Chat(a, "four"))
	require.NoError(t, r.Chat(a, "ok"))
	barrier(t, r)

	msgs := fa.drain(t)
	require.Len(t, msgs, 1)
	assert.Equal(t, "ok", msgs[0].(protocol.Chat).Text)
}

func TestLeaveNotifiesRemainingAndCloses(t *testing.T) {
	r := startRoom(t)
	a, fa := connectJoined(t, r, "Ann")
	_, fb := connectJoined(t, r, "Bo")
	fa.drain(t)
	fb.drain(t)

	require.NoError(t, r.Leave(a, "closed"))
	barrier(t, r)

	assert.True(t, fa.closed.Load())
	assert.Empty(t, fa.drain(t))
	msgs := fb.drain(t)
	require.Len(t, msgs, 1)
	assert.Equal(t, protocol.PlayerLeft{ID: string(a)}, msgs[0])

	// 新连接的名单不再包含 a
	_, fc := connect(t, r, protocol.JSON)
	barrier(t, r)
	roster := fc.drain(t)[0].(protocol.Roster)
	assert.NotContains(t, roster.Players, string(a))

	// 重复离开为空操作
	require.NoError(t, r.Leave(a, "closed"))
	barrier(t, r)
	assert.Empty(t, fb.drain(t))
	assert.EqualValues(t, 1, r.Metrics().Disconnects)
}

func TestResyncResendsRosterToRequester(t *testing.T) {
	r := startRoom(t)
	a, fa := connectJoined(t, r, "Ann")
	_, fb := connectJoined(t, r, "Bo")
	fa.drain(t)
	fb.drain(t)

	require.NoError(t, r.Resync(a))
	barrier(t, r)

	msgs := fa.drain(t)
	require.Len(t, msgs, 1)
	roster := msgs[0].(protocol.Roster)
	assert.Equal(t, string(a), roster.Self)
	assert.Len(t, roster.Players, 2)
	assert.Empty(t, fb.drain(t))
}

func TestAnnounceUsesSystemSender(t *testing.T) {
	r := startRoom(t)
	_, fa := connectJoined(t, r, "Ann")
	fa.drain(t)

	require.NoError(t, r.Announce(context.Background(), "maintenance at noon"))
	barrier(t, r)

	msgs := fa.drain(t)
	require.Len(t, msgs, 1)
	chat := msgs[0].(protocol.Chat)
	assert.Equal(t, protocol.SystemSenderID, chat.SenderID)
	assert.Equal(t, "maintenance at noon", chat.Text)
}

func TestEvictStaleUnjoined(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	r := NewRoom("test", DefaultRoomConfig())
	r.now = clock.Now

	idle := newFakeConn(protocol.JSON, 8)
	joined := newFakeConn(protocol.JSON, 8)
	idleID := r.onConnect(idle)
	joinedID := r.onConnect(joined)
	require.NoError(t, r.onJoin(joinedID, protocol.Join{Name: "Ann"}))

	clock.Advance(10 * time.Second)
	assert.Zero(t, r.evictStale())

	clock.Advance(25 * time.Second)
	assert.Equal(t, 1, r.evictStale())
	assert.True(t, idle.closed.Load())
	assert.False(t, joined.closed.Load())
	assert.False(t, r.players.Joined(idleID))
	_, ok := r.players.Lookup(idleID)
	assert.False(t, ok)
	assert.EqualValues(t, 1, r.metrics.Evictions)

	// 已 join 的会话无论多久都不驱逐
	clock.Advance(time.Hour)
	assert.Zero(t, r.evictStale())
}

func TestEvictionRunsFromLoop(t *testing.T) {
	cfg := DefaultRoomConfig()
	cfg.JoinTimeout = 20 * time.Millisecond
	cfg.SweepInterval = 5 * time.Millisecond
	r := NewRoom("test", cfg)
	r.Start()
	defer r.Stop()

	fc := newFakeConn(protocol.JSON, 8)
	_, err := r.Connect(context.Background(), fc)
	require.NoError(t, err)

	require.Eventually(t, fc.closed.Load, time.Second, 5*time.Millisecond)
}

func TestFullSendQueueDropsAndCounts(t *testing.T) {
	r := startRoom(t)
	a, fa := connectJoined(t, r, "Ann")
	slow := newFakeConn(protocol.JSON, 1)
	_, err := r.Connect(context.Background(), slow) // 名单占满队列
	require.NoError(t, err)
	barrier(t, r)
	fa.drain(t)

	require.NoError(t, r.Move(a, 1, 1))
	require.NoError(t, r.Move(a, 2, 2))
	barrier(t, r)

	assert.EqualValues(t, 2, r.Metrics().SendDropped)
	assert.Len(t, slow.drain(t), 1)
}

func TestStoppedRoomRejectsCommands(t *testing.T) {
	r := NewRoom("test", DefaultRoomConfig())
	r.Start()
	fc := newFakeConn(protocol.JSON, 8)
	_, err := r.Connect(context.Background(), fc)
	require.NoError(t, err)

	r.Stop()
	<-r.Done()

	assert.True(t, fc.closed.Load())
	assert.ErrorIs(t, r.Move("p1", 1, 1), ErrRoomClosed)
	_, err = r.Connect(context.Background(), newFakeConn(protocol.JSON, 1))
	assert.ErrorIs(t, err, ErrRoomClosed)
}

func TestConfigureValidation(t *testing.T) {
	r := startRoom(t)
	zero := 0
	_, err := r.Configure(context.Background(), ConfigUpdate{MaxChatLen: &zero})
	assert.ErrorIs(t, err, ErrInvalidConfig)

	ms := int64(1500)
	s, err := r.Configure(context.Background(), ConfigUpdate{JoinTimeoutMs: &ms})
	require.NoError(t, err)
	assert.Equal(t, 1500*time.Millisecond, s.JoinTimeout)
	assert.Equal(t, protocol.MaxChatLen, s.MaxChatLen)
}

func TestLastLeaveReportsEmptyRoom(t *testing.T) {
	emptied := make(chan *Room, 1)
	r := startRoom(t, func(r *Room) {
		r.onEmpty = func(r *Room) { emptied <- r }
	})
	a, _ := connectJoined(t, r, "Ann")
	b, _ := connect(t, r, protocol.JSON)

	require.NoError(t, r.Leave(a, "closed"))
	barrier(t, r)
	assert.Empty(t, emptied)

	require.NoError(t, r.Leave(b, "closed"))
	barrier(t, r)
	require.Len(t, emptied, 1)
	assert.Same(t, r, <-emptied)

	// 未知 ID 的离开不会再次触发
	require.NoError(t, r.Leave(b, "closed"))
	barrier(t, r)
	assert.Empty(t, emptied)
}
