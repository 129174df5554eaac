package server

import (
	"buildpixel/protocol"
)

// command 房间事件循环处理的命令（封闭集合）
// 每条命令在循环中执行完毕后才处理下一条，这是注册表唯一的并发控制
type command interface {
	apply(r *Room)
}

// connectCmd 新连接接入；reply 带缓冲，循环不会因调用方离开而阻塞
type connectCmd struct {
	conn  Conn
	reply chan PlayerID
}

type joinCmd struct {
	id  PlayerID
	msg protocol.Join
}

type moveCmd struct {
	id   PlayerID
	x, y float64
}

type chatCmd struct {
	id   PlayerID
	text string
}

type resyncCmd struct {
	id PlayerID
}

// leaveCmd 连接关闭或被驱逐；reason 仅用于日志
type leaveCmd struct {
	id     PlayerID
	reason string
}

type announceCmd struct {
	text string
}

// viewCmd 在循环内以只读视图执行 fn（管理接口读取名单）
type viewCmd struct {
	fn   func(Roster, RoomSettings)
	done chan struct{}
}

type configureCmd struct {
	update ConfigUpdate
	reply  chan RoomSettings
}

func (c connectCmd) apply(r *Room) {
	c.reply <- r.onConnect(c.conn)
}

func (c joinCmd) apply(r *Room) {
	if err := r.onJoin(c.id, c.msg); err != nil {
		r.reject(c.id, protocol.KindJoin, err)
	}
}

func (c moveCmd) apply(r *Room) {
	if err := r.onMove(c.id, c.x, c.y); err != nil {
		r.reject(c.id, protocol.KindMove, err)
	}
}

func (c chatCmd) apply(r *Room) {
	if err := r.onChat(c.id, c.text); err != nil {
		r.reject(c.id, protocol.KindChat, err)
	}
}

func (c resyncCmd) apply(r *Room) {
	if err := r.onResync(c.id); err != nil {
		r.reject(c.id, protocol.KindResync, err)
	}
}

func (c leaveCmd) apply(r *Room) {
	r.onLeave(c.id, c.reason)
}

func (c announceCmd) apply(r *Room) {
	r.onAnnounce(c.text)
}

func (c viewCmd) apply(r *Room) {
	defer close(c.done)
	c.fn(r.players, r.settings)
}

func (c configureCmd) apply(r *Room) {
	c.reply <- r.onConfigure(c.update)
}
