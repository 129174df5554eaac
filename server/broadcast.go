package server

import (
	"errors"

	"buildpixel/protocol"
)

// Conn 房间视角下的一条连接
// Send 必须非阻塞（写入发送队列），队列满时返回 ErrSendQueueFull
type Conn interface {
	Send(b []byte) error
	Close() error
	Codec() protocol.Codec
}

// router 在传输层之上的寻址层：单播、除发送者外广播、全员广播。
// 不做合并或批处理：每次状态变化对每个接收者恰好产生一条消息。
type router struct {
	conns   map[PlayerID]Conn
	metrics *RoomMetrics
}

func newRouter(metrics *RoomMetrics) *router {
	return &router{conns: make(map[PlayerID]Conn), metrics: metrics}
}

func (rt *router) attach(id PlayerID, c Conn) {
	rt.conns[id] = c
}

func (rt *router) detach(id PlayerID) (Conn, bool) {
	c, ok := rt.conns[id]
	if ok {
		delete(rt.conns, id)
	}
	return c, ok
}

func (rt *router) len() int { return len(rt.conns) }

// ToOne 单播（名单快照、resync）
func (rt *router) ToOne(id PlayerID, msg protocol.ServerMessage) {
	c, ok := rt.conns[id]
	if !ok {
		return
	}
	rt.send(id, c, msg, make(encodeCache, 1))
}

// ToOthers 发给除 sender 之外的所有连接（join、move）
func (rt *router) ToOthers(sender PlayerID, msg protocol.ServerMessage) {
	cache := make(encodeCache, 1)
	for id, c := range rt.conns {
		if id == sender {
			continue
		}
		rt.send(id, c, msg, cache)
	}
}

// ToAll 发给所有连接，包括发送者（离开、聊天）
func (rt *router) ToAll(msg protocol.ServerMessage) {
	cache := make(encodeCache, 1)
	for id, c := range rt.conns {
		rt.send(id, c, msg, cache)
	}
}

// encodeCache 同一条消息按编解码器名称只编码一次
type encodeCache map[string][]byte

func (rt *router) send(id PlayerID, c Conn, msg protocol.ServerMessage, cache encodeCache) {
	codec := c.Codec()
	b, ok := cache[codec.Name()]
	if !ok {
		var err error
		b, err = codec.Encode(msg)
		if err != nil {
			Log.Errorf("encode %s for %s via %s: %v", msg.Kind(), id, codec.Name(), err)
			return
		}
		cache[codec.Name()] = b
	}
	if err := c.Send(b); err != nil {
		if errors.Is(err, ErrSendQueueFull) {
			rt.metrics.IncSendDropped()
			Log.Warnf("send queue full, dropped %s for %s", msg.Kind(), id)
			return
		}
		Log.Debugf("send %s to %s: %v", msg.Kind(), id, err)
		return
	}
	rt.metrics.IncSent()
}
