package client

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"buildpixel/protocol"
)

var ErrClosed = errors.New("transport closed")

const (
	writeWait = 10 * time.Second
	sendQueue = 64
)

// Link 会话循环看到的连接
type Link interface {
	SendJoin(j protocol.Join) error
	SendMove(x, y float64) error
	SendChat(text string) error
	SendResync() error
	Inbound() <-chan protocol.ServerMessage
	Done() <-chan struct{}
	Close() error
}

// Transport 基于 gorilla/websocket 的客户端连接：一个读协程、一个写协程
type Transport struct {
	ws    *websocket.Conn
	codec protocol.Codec
	log   *zap.SugaredLogger

	in        chan protocol.ServerMessage
	out       chan []byte
	done      chan struct{}
	closeOnce sync.Once
	err       error
	errMu     sync.Mutex
}

var _ Link = (*Transport)(nil)

// Dial 连接中继，rawURL 形如 ws://host:3000/ws?room=lobby；codec 追加为 ?codec=
func Dial(ctx context.Context, rawURL string, codec protocol.Codec, log *zap.SugaredLogger) (*Transport, error) {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse relay url: %w", err)
	}
	q := u.Query()
	q.Set("codec", codec.Name())
	u.RawQuery = q.Encode()

	ws, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", u.Redacted(), err)
	}
	t := &Transport{
		ws:    ws,
		codec: codec,
		log:   log,
		in:    make(chan protocol.ServerMessage, 256),
		out:   make(chan []byte, sendQueue),
		done:  make(chan struct{}),
	}
	go t.readLoop()
	go t.writeLoop()
	return t, nil
}

func (t *Transport) Inbound() <-chan protocol.ServerMessage { return t.in }

func (t *Transport) Done() <-chan struct{} { return t.done }

// Err 连接结束的原因（正常关闭为 nil）
func (t *Transport) Err() error {
	t.errMu.Lock()
	defer t.errMu.Unlock()
	return t.err
}

func (t *Transport) SendJoin(j protocol.Join) error { return t.send(j) }

func (t *Transport) SendMove(x, y float64) error { return t.send(protocol.Move{X: x, Y: y}) }

func (t *Transport) SendChat(text string) error { return t.send(protocol.ChatSend{Text: text}) }

func (t *Transport) SendResync() error { return t.send(protocol.Resync{}) }

// send 在本地先做一次校验，非法消息不上线
func (t *Transport) send(m protocol.ClientMessage) error {
	if err := m.Validate(); err != nil {
		return err
	}
	b, err := t.codec.Encode(m)
	if err != nil {
		return err
	}
	select {
	case <-t.done:
		return ErrClosed
	case t.out <- b:
		return nil
	}
}

func (t *Transport) Close() error {
	t.shutdown(nil)
	return nil
}

func (t *Transport) shutdown(err error) {
	t.closeOnce.Do(func() {
		t.errMu.Lock()
		t.err = err
		t.errMu.Unlock()
		close(t.done)
		_ = t.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait))
		_ = t.ws.Close()
	})
}

func (t *Transport) readLoop() {
	for {
		_, b, err := t.ws.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				err = nil
			}
			t.shutdown(err)
			return
		}
		msg, err := t.codec.DecodeServer(b)
		if err != nil {
			t.log.Warnf("drop undecodable frame: %v", err)
			continue
		}
		select {
		case t.in <- msg:
		case <-t.done:
			return
		}
	}
}

func (t *Transport) writeLoop() {
	typ := websocket.TextMessage
	if t.codec.Binary() {
		typ = websocket.BinaryMessage
	}
	for {
		select {
		case <-t.done:
			return
		case b := <-t.out:
			_ = t.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := t.ws.WriteMessage(typ, b); err != nil {
				t.shutdown(err)
				return
			}
		}
	}
}
