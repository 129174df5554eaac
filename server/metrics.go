package server

import (
	"sync/atomic"
)

// RoomMetrics 记录房间运行期的关键指标（用于监控与调试）
// 由事件循环写、HTTP 读，因此全部使用原子操作
type RoomMetrics struct {
	Connects           int64 // 接入的连接数
	Joins              int64 // 完成的 join 数（含重复 join）
	Moves              int64 // 被接受的移动
	Chats              int64 // 被接受的聊天
	Disconnects        int64 // 断开（含驱逐）
	Evictions          int64 // 因超时未 join 被驱逐
	ProtocolViolations int64 // 被丢弃的非法消息
	MessagesSent       int64 // 成功入队的出站消息
	SendDropped        int64 // 因发送队列满被丢弃的出站消息
	Commands           int64 // 处理的命令数
	TotalCommandNs     int64 // 命令处理累计耗时（纳秒）
}

func (m *RoomMetrics) IncConnects()           { atomic.AddInt64(&m.Connects, 1) }
func (m *RoomMetrics) IncJoins()              { atomic.AddInt64(&m.Joins, 1) }
func (m *RoomMetrics) IncMoves()              { atomic.AddInt64(&m.Moves, 1) }
func (m *RoomMetrics) IncChats()              { atomic.AddInt64(&m.Chats, 1) }
func (m *RoomMetrics) IncDisconnects()        { atomic.AddInt64(&m.Disconnects, 1) }
func (m *RoomMetrics) IncEvictions()          { atomic.AddInt64(&m.Evictions, 1) }
func (m *RoomMetrics) IncProtocolViolations() { atomic.AddInt64(&m.ProtocolViolations, 1) }
func (m *RoomMetrics) IncSent()               { atomic.AddInt64(&m.MessagesSent, 1) }
func (m *RoomMetrics) IncSendDropped()        { atomic.AddInt64(&m.SendDropped, 1) }
func (m *RoomMetrics) AddCommand(ns int64) {
	atomic.AddInt64(&m.Commands, 1)
	atomic.AddInt64(&m.TotalCommandNs, ns)
}

// Snapshot 返回只读副本，便于 HTTP 输出
func (m *RoomMetrics) Snapshot() map[string]any {
	cmds := atomic.LoadInt64(&m.Commands)
	total := atomic.LoadInt64(&m.TotalCommandNs)
	var avgUs float64
	if cmds > 0 {
		avgUs = float64(total) / float64(cmds) / 1e3
	}
	return map[string]any{
		"connects":            atomic.LoadInt64(&m.Connects),
		"joins":               atomic.LoadInt64(&m.Joins),
		"moves":               atomic.LoadInt64(&m.Moves),
		"chats":               atomic.LoadInt64(&m.Chats),
		"disconnects":         atomic.LoadInt64(&m.Disconnects),
		"evictions":           atomic.LoadInt64(&m.Evictions),
		"protocol_violations": atomic.LoadInt64(&m.ProtocolViolations),
		"messages_sent":       atomic.LoadInt64(&m.MessagesSent),
		"send_dropped":        atomic.LoadInt64(&m.SendDropped),
		"commands":            cmds,
		"avg_command_us":      avgUs,
	}
}
