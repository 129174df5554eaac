package server

import (
	"time"

	"buildpixel/protocol"
)

// PlayerID 会话标识：每个连接一个，与任何存档身份无关
type PlayerID string

// player 注册表中的权威记录（服务端状态）
// 连接建立时以占位身份创建，之后 join / move 只做原地修改，从不替换
type player struct {
	state       protocol.Player
	joined      bool
	connectedAt time.Time
}

func newPlayer(id PlayerID, x, y float64, now time.Time) *player {
	return &player{
		state: protocol.Player{
			ID:   string(id),
			X:    x,
			Y:    y,
			Name: protocol.PlaceholderName,
		},
		connectedAt: now,
	}
}

// applyIdentity 合并 join 带来的身份信息
func (p *player) applyIdentity(j protocol.Join) {
	p.state.Name = j.Name
	p.state.SpriteURL = j.SpriteURL
	p.state.PortraitURL = j.PortraitURL
	p.joined = true
}

func (p *player) moveTo(x, y float64) {
	p.state.X = x
	p.state.Y = y
}
