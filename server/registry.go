package server

import (
	"time"

	"buildpixel/protocol"
)

// Roster 注册表的只读视图。修改方法均不导出，只有房间的事件循环能改动注册表。
type Roster interface {
	Snapshot() map[PlayerID]protocol.Player
	Lookup(id PlayerID) (protocol.Player, bool)
	Joined(id PlayerID) bool
	Len() int
}

// registry 会话 → 玩家状态；仅由所属 Room 的单一 goroutine 访问，无需加锁
type registry struct {
	players map[PlayerID]*player
}

var _ Roster = (*registry)(nil)

func newRegistry() *registry {
	return &registry{players: make(map[PlayerID]*player)}
}

func (g *registry) insert(id PlayerID, x, y float64, now time.Time) *player {
	p := newPlayer(id, x, y, now)
	g.players[id] = p
	return p
}

func (g *registry) get(id PlayerID) (*player, bool) {
	p, ok := g.players[id]
	return p, ok
}

func (g *registry) remove(id PlayerID) (*player, bool) {
	p, ok := g.players[id]
	if ok {
		delete(g.players, id)
	}
	return p, ok
}

// staleUnjoined 返回连接早于 cutoff 且仍未 join 的会话
func (g *registry) staleUnjoined(cutoff time.Time) []PlayerID {
	var out []PlayerID
	for id, p := range g.players {
		if !p.joined && p.connectedAt.Before(cutoff) {
			out = append(out, id)
		}
	}
	return out
}

// roster 构造发给 self 的完整名单快照
func (g *registry) roster(self PlayerID) protocol.Roster {
	players := make(map[string]protocol.Player, len(g.players))
	for id, p := range g.players {
		players[string(id)] = p.state
	}
	return protocol.Roster{Self: string(self), Players: players}
}

func (g *registry) Snapshot() map[PlayerID]protocol.Player {
	out := make(map[PlayerID]protocol.Player, len(g.players))
	for id, p := range g.players {
		out[id] = p.state
	}
	return out
}

func (g *registry) Lookup(id PlayerID) (protocol.Player, bool) {
	p, ok := g.players[id]
	if !ok {
		return protocol.Player{}, false
	}
	return p.state, true
}

func (g *registry) Joined(id PlayerID) bool {
	p, ok := g.players[id]
	return ok && p.joined
}

func (g *registry) Len() int { return len(g.players) }
