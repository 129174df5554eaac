package protocol

import (
	"bytes"
	"errors"
	"fmt"
	"reflect"
	"sort"

	"github.com/fxamacker/cbor/v2"
	gojson "github.com/goccy/go-json"
	"github.com/vmihailenco/msgpack/v5"
)

// Codec 帧编解码器；每个连接在握手时选定一个（?codec=json|cbor|msgpack）
type Codec interface {
	Name() string
	// Binary 为 true 时以二进制 WebSocket 帧发送
	Binary() bool
	Encode(m Message) ([]byte, error)
	DecodeClient(b []byte) (ClientMessage, error)
	DecodeServer(b []byte) (ServerMessage, error)
}

// 编码时统一使用的帧结构；P 为具体消息值
type frame struct {
	T Kind    `json:"t"`
	P Message `json:"p"`
}

// unmarshalFunc 将帧内 payload 解到目标值；payload 缺省时不做任何事
type unmarshalFunc func(v any) error

type codec struct {
	name   string
	binary bool
	encode func(v any) ([]byte, error)
	// split 解析帧头，返回种类与 payload 的延迟解码函数
	split func(b []byte) (Kind, unmarshalFunc, error)
}

func (c *codec) Name() string { return c.name }
func (c *codec) Binary() bool { return c.binary }

func (c *codec) Encode(m Message) ([]byte, error) {
	if m == nil {
		return nil, fmt.Errorf("%s: encode nil message", c.name)
	}
	return c.encode(frame{T: m.Kind(), P: m})
}

func (c *codec) DecodeClient(b []byte) (ClientMessage, error) {
	kind, payload, err := c.head(b)
	if err != nil {
		return nil, err
	}
	var m ClientMessage
	switch kind {
	case KindJoin:
		m, err = decodeAs[Join](payload)
	case KindMove:
		m, err = decodeMove(payload)
	case KindChat:
		m, err = decodeAs[ChatSend](payload)
	case KindResync:
		m, err = decodeAs[Resync](payload)
	default:
		return nil, fmt.Errorf("%w: %q (client)", ErrUnknownKind, kind)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidPayload, kind, err)
	}
	m = normalize(m)
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

func (c *codec) DecodeServer(b []byte) (ServerMessage, error) {
	kind, payload, err := c.head(b)
	if err != nil {
		return nil, err
	}
	var m ServerMessage
	switch kind {
	case KindRoster:
		m, err = decodeAs[Roster](payload)
	case KindPlayerJoined:
		m, err = decodeAs[PlayerJoined](payload)
	case KindPlayerMoved:
		m, err = decodeAs[PlayerMoved](payload)
	case KindPlayerLeft:
		m, err = decodeAs[PlayerLeft](payload)
	case KindChat:
		m, err = decodeAs[Chat](payload)
	default:
		return nil, fmt.Errorf("%w: %q (server)", ErrUnknownKind, kind)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidPayload, kind, err)
	}
	return m, nil
}

func (c *codec) head(b []byte) (Kind, unmarshalFunc, error) {
	if len(b) == 0 {
		return "", nil, ErrEmptyFrame
	}
	kind, payload, err := c.split(b)
	if err != nil {
		return "", nil, fmt.Errorf("%s: decode frame: %w", c.name, err)
	}
	return kind, payload, nil
}

func decodeAs[T Message](payload unmarshalFunc) (T, error) {
	var out T
	err := payload(&out)
	return out, err
}

// decodeMove 两个坐标都必须出现；缺省不能当作 (0,0)
func decodeMove(payload unmarshalFunc) (Move, error) {
	var p struct {
		X *float64 `json:"x"`
		Y *float64 `json:"y"`
	}
	if err := payload(&p); err != nil {
		return Move{}, err
	}
	if p.X == nil || p.Y == nil {
		return Move{}, errors.New("x and y are required")
	}
	return Move{X: *p.X, Y: *p.Y}, nil
}

// ---- json（默认，文本帧） ----

var JSON Codec = &codec{
	name:   "json",
	encode: gojson.Marshal,
	split: func(b []byte) (Kind, unmarshalFunc, error) {
		var f struct {
			T Kind               `json:"t"`
			P gojson.RawMessage `json:"p"`
		}
		if err := gojson.Unmarshal(b, &f); err != nil {
			return "", nil, err
		}
		return f.T, func(v any) error {
			if len(f.P) == 0 || string(f.P) == "null" {
				return nil
			}
			return gojson.Unmarshal(f.P, v)
		}, nil
	},
}

// ---- cbor（确定性编码，二进制帧） ----

var (
	cborEnc cbor.EncMode
	cborDec cbor.DecMode
)

func init() {
	var err error
	cborEnc, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("protocol: CBOR encoder initialization failed: " + err.Error())
	}
	// 目标为 any 时使用 map[string]any，与 json 的行为保持一致
	cborDec, err = cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("protocol: CBOR decoder initialization failed: " + err.Error())
	}
}

var CBOR Codec = &codec{
	name:   "cbor",
	binary: true,
	encode: func(v any) ([]byte, error) { return cborEnc.Marshal(v) },
	split: func(b []byte) (Kind, unmarshalFunc, error) {
		var f struct {
			T Kind            `cbor:"t"`
			P cbor.RawMessage `cbor:"p"`
		}
		if err := cborDec.Unmarshal(b, &f); err != nil {
			return "", nil, err
		}
		return f.T, func(v any) error {
			if len(f.P) == 0 {
				return nil
			}
			return cborDec.Unmarshal(f.P, v)
		}, nil
	},
}

// ---- msgpack（二进制帧；沿用 json 标签） ----

var MsgPack Codec = &codec{
	name:   "msgpack",
	binary: true,
	encode: func(v any) ([]byte, error) {
		var buf bytes.Buffer
		enc := msgpack.NewEncoder(&buf)
		enc.SetCustomStructTag("json")
		if err := enc.Encode(v); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	},
	split: func(b []byte) (Kind, unmarshalFunc, error) {
		var f struct {
			T Kind               `json:"t"`
			P msgpack.RawMessage `json:"p"`
		}
		if err := msgpackUnmarshal(b, &f); err != nil {
			return "", nil, err
		}
		return f.T, func(v any) error {
			if len(f.P) == 0 {
				return nil
			}
			return msgpackUnmarshal(f.P, v)
		}, nil
	},
}

func msgpackUnmarshal(b []byte, v any) error {
	dec := msgpack.NewDecoder(bytes.NewReader(b))
	dec.SetCustomStructTag("json")
	return dec.Decode(v)
}

var codecs = map[string]Codec{
	JSON.Name():    JSON,
	CBOR.Name():    CBOR,
	MsgPack.Name(): MsgPack,
}

// Lookup 按名称查找编解码器，空名称返回 JSON
func Lookup(name string) (Codec, error) {
	if name == "" {
		return JSON, nil
	}
	c, ok := codecs[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCodec, name)
	}
	return c, nil
}

// CodecNames 返回所有已注册编解码器名称（有序）
func CodecNames() []string {
	names := make([]string, 0, len(codecs))
	for n := range codecs {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
