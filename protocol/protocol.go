// Package protocol 定义中继与客户端之间的线上消息：封闭的消息种类集合（按方向区分），
// 每种消息字段固定，并在传输边界处校验。
package protocol

import "time"

// Kind 帧类型标识（帧结构：{"t": kind, "p": payload}）
type Kind string

const (
	KindRoster       Kind = "roster"        // s→c 新连接的完整名单快照
	KindJoin         Kind = "join"          // c→s 补全身份
	KindMove         Kind = "move"          // c→s 位置上报
	KindChat         Kind = "chat"          // 双向：c→s 为文本，s→c 为带发送者的聊天行
	KindResync       Kind = "resync"        // c→s 请求重新下发名单
	KindPlayerJoined Kind = "player_joined" // s→others
	KindPlayerMoved  Kind = "player_moved"  // s→others
	KindPlayerLeft   Kind = "player_left"   // s→all
)

const (
	// PlaceholderName 连接建立后、join 完成前的占位名
	PlaceholderName = "Guest"
	// SystemSenderID 服务端公告使用的发送者 ID
	SystemSenderID = "system"

	MaxNameLen     = 32
	MaxChatLen     = 500
	MaxAssetRefLen = 2048
)

// Player 玩家的线上表示
type Player struct {
	ID          string  `json:"id"`
	X           float64 `json:"x"`
	Y           float64 `json:"y"`
	Name        string  `json:"name"`
	SpriteURL   string  `json:"spriteUrl,omitempty"`
	PortraitURL string  `json:"portraitUrl,omitempty"`
}

// Message 所有线上消息的公共接口
type Message interface {
	Kind() Kind
}

// ClientMessage 客户端 → 服务端的消息（封闭集合）
type ClientMessage interface {
	Message
	Validate() error
	clientMessage()
}

// ServerMessage 服务端 → 客户端的消息（封闭集合）
type ServerMessage interface {
	Message
	serverMessage()
}

// ---- client → server ----

type Join struct {
	Name        string `json:"name" jsonschema:"minLength=1,maxLength=32"`
	SpriteURL   string `json:"spriteUrl,omitempty" jsonschema:"maxLength=2048"`
	PortraitURL string `json:"portraitUrl,omitempty" jsonschema:"maxLength=2048"`
}

type Move struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type ChatSend struct {
	Text string `json:"text" jsonschema:"minLength=1,maxLength=500"`
}

type Resync struct{}

func (Join) Kind() Kind     { return KindJoin }
func (Move) Kind() Kind     { return KindMove }
func (ChatSend) Kind() Kind { return KindChat }
func (Resync) Kind() Kind   { return KindResync }

func (Join) clientMessage()     {}
func (Move) clientMessage()     {}
func (ChatSend) clientMessage() {}
func (Resync) clientMessage()   {}

// ---- server → client ----

type Roster struct {
	Self    string            `json:"self"`
	Players map[string]Player `json:"players"`
}

type PlayerJoined struct {
	Player Player `json:"player"`
}

type PlayerMoved struct {
	Player Player `json:"player"`
}

type PlayerLeft struct {
	ID string `json:"id"`
}

// Chat 广播给所有连接（包含发送者本身）的聊天行
type Chat struct {
	SenderID   string `json:"senderId"`
	SenderName string `json:"senderName"`
	Text       string `json:"text"`
	Timestamp  int64  `json:"timestamp"` // Unix 毫秒
}

func (Roster) Kind() Kind       { return KindRoster }
func (PlayerJoined) Kind() Kind { return KindPlayerJoined }
func (PlayerMoved) Kind() Kind  { return KindPlayerMoved }
func (PlayerLeft) Kind() Kind   { return KindPlayerLeft }
func (Chat) Kind() Kind         { return KindChat }

func (Roster) serverMessage()       {}
func (PlayerJoined) serverMessage() {}
func (PlayerMoved) serverMessage()  {}
func (PlayerLeft) serverMessage()   {}
func (Chat) serverMessage()         {}

// Time 将聊天时间戳还原为 time.Time
func (c Chat) Time() time.Time {
	return time.UnixMilli(c.Timestamp)
}
