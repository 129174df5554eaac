package server

import (
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"buildpixel/protocol"
)

const (
	writeWait  = 10 * time.Second    // 单次写超时
	pongWait   = 60 * time.Second    // 等待 pong 的最长时间
	pingPeriod = (pongWait * 9) / 10 // 必须小于 pongWait
)

var errConnClosed = errors.New("connection closed")

// ClientConn 一条 WebSocket 连接：发送队列 + 读写两个协程
// Send/Close 可在任意 goroutine 调用；发送通道从不关闭，用 done 通知写协程退出
type ClientConn struct {
	ws        *websocket.Conn
	codec     protocol.Codec
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

var _ Conn = (*ClientConn)(nil)

func NewClientConn(ws *websocket.Conn, codec protocol.Codec, queue int) *ClientConn {
	if queue <= 0 {
		queue = 256
	}
	return &ClientConn{
		ws:    ws,
		codec: codec,
		send:  make(chan []byte, queue),
		done:  make(chan struct{}),
	}
}

func (c *ClientConn) Codec() protocol.Codec { return c.codec }

// Send 将编码好的帧压入队列（非阻塞，满则返回 ErrSendQueueFull）
func (c *ClientConn) Send(b []byte) error {
	select {
	case <-c.done:
		return errConnClosed
	default:
	}
	select {
	case c.send <- b:
		return nil
	default:
		return ErrSendQueueFull
	}
}

// Close 通知写协程发送关闭帧并断开；可重复调用
func (c *ClientConn) Close() error {
	c.closeOnce.Do(func() { close(c.done) })
	return nil
}

func (c *ClientConn) messageType() int {
	if c.codec.Binary() {
		return websocket.BinaryMessage
	}
	return websocket.TextMessage
}

// writePump 独立协程，负责从 send 队列写出到 WS，并定期发送 ping
func (c *ClientConn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()
	for {
		select {
		case msg := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(c.messageType(), msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			// 先把已排队的帧写完（例如离开前的最后几条广播）
			for {
				select {
				case msg := <-c.send:
					_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
					if err := c.ws.WriteMessage(c.messageType(), msg); err != nil {
						return
					}
				default:
					_ = c.ws.WriteControl(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
						time.Now().Add(writeWait))
					return
				}
			}
		}
	}
}

// readPump 读取客户端帧，解码校验后作为命令投递到房间
func (c *ClientConn) readPump(room *Room, id PlayerID, readLimit int64) {
	reason := "closed"
	defer func() {
		// 读泵退出时，通知房间在事件循环中移除该会话
		_ = room.Leave(id, reason)
		_ = c.Close()
	}()
	if readLimit > 0 {
		c.ws.SetReadLimit(readLimit)
	}
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error { return c.ws.SetReadDeadline(time.Now().Add(pongWait)) })

	for {
		_, payload, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				Log.Warnf("read %s: %v", id, err)
				reason = "read error"
			}
			return
		}
		msg, err := c.codec.DecodeClient(payload)
		if err != nil {
			// 非法帧：记录、计数、丢弃，连接保持打开
			room.Metrics().IncProtocolViolations()
			Log.Warnf("bad frame from %s: %v", id, err)
			continue
		}
		switch m := msg.(type) {
		case protocol.Join:
			err = room.Join(id, m)
		case protocol.Move:
			err = room.Move(id, m.X, m.Y)
		case protocol.ChatSend:
			err = room.Chat(id, m.Text)
		case protocol.Resync:
			err = room.Resync(id)
		}
		if errors.Is(err, ErrRoomClosed) {
			reason = "room closed"
			return
		}
	}
}

func newUpgrader(allowed []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" || len(allowed) == 0 {
				// 未配置白名单时允许所有来源（开发环境）
				return true
			}
			for _, a := range allowed {
				if a == "*" || strings.EqualFold(a, origin) {
					return true
				}
			}
			return false
		},
	}
}

// HandleWS WebSocket 接入：/ws?room=lobby&codec=json
func (m *RoomManager) HandleWS(w http.ResponseWriter, r *http.Request) {
	roomID := r.URL.Query().Get("room")
	if roomID == "" {
		roomID = m.cfg.DefaultRoom
	}
	codec, err := protocol.Lookup(r.URL.Query().Get("codec"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	ws, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		Log.Warnf("upgrade error: %v", err)
		return
	}

	client := NewClientConn(ws, codec, m.cfg.Room.SendQueue)
	go client.writePump()

	// 房间可能恰好因变空而被回收，换一个新实例重试一次
	var (
		room *Room
		id   PlayerID
	)
	for attempt := 0; attempt < 2; attempt++ {
		room = m.GetOrCreateRoom(roomID)
		id, err = room.Connect(r.Context(), client)
		if !errors.Is(err, ErrRoomClosed) {
			break
		}
	}
	if err != nil {
		Log.Warnf("connect to room %s: %v", roomID, err)
		_ = client.Close()
		return
	}
	go client.readPump(room, id, m.cfg.Room.ReadLimit)
}
