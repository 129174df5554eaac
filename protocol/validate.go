package protocol

import (
	"errors"
	"fmt"
	"math"
	"net/url"
	"strings"
	"unicode/utf8"
)

var (
	ErrUnknownKind     = errors.New("unknown message kind")
	ErrInvalidPayload  = errors.New("invalid payload")
	ErrUnknownCodec    = errors.New("unknown codec")
	ErrEmptyFrame      = errors.New("empty frame")
	errInvalidAssetRef = errors.New("asset ref must be a root-relative path or an http(s) URL")
)

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidPayload, fmt.Sprintf(format, args...))
}

func (j Join) Validate() error {
	n := utf8.RuneCountInString(j.Name)
	if n == 0 || strings.TrimSpace(j.Name) == "" {
		return invalid("join: empty name")
	}
	if n > MaxNameLen {
		return invalid("join: name longer than %d runes", MaxNameLen)
	}
	if err := ValidateAssetRef(j.SpriteURL); err != nil {
		return invalid("join: spriteUrl: %v", err)
	}
	if err := ValidateAssetRef(j.PortraitURL); err != nil {
		return invalid("join: portraitUrl: %v", err)
	}
	return nil
}

// Validate 只拒绝无法表示的坐标；不校验边界与速度（中继信任客户端模拟）
func (m Move) Validate() error {
	if !finite(m.X) || !finite(m.Y) {
		return invalid("move: non-finite coordinate (%v, %v)", m.X, m.Y)
	}
	return nil
}

func (c ChatSend) Validate() error {
	if strings.TrimSpace(c.Text) == "" {
		return invalid("chat: empty text")
	}
	if utf8.RuneCountInString(c.Text) > MaxChatLen {
		return invalid("chat: text longer than %d runes", MaxChatLen)
	}
	return nil
}

func (Resync) Validate() error { return nil }

// ValidateAssetRef 接受空串、站内根路径（/assets/...）或 http(s) 绝对地址
func ValidateAssetRef(ref string) error {
	if ref == "" {
		return nil
	}
	if len(ref) > MaxAssetRefLen {
		return fmt.Errorf("longer than %d bytes", MaxAssetRefLen)
	}
	if strings.HasPrefix(ref, "/") && !strings.HasPrefix(ref, "//") {
		return nil
	}
	u, err := url.Parse(ref)
	if err != nil {
		return err
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return errInvalidAssetRef
	}
	return nil
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// normalize 去除首尾空白；在校验之前调用
func normalize(m ClientMessage) ClientMessage {
	switch v := m.(type) {
	case Join:
		v.Name = strings.TrimSpace(v.Name)
		v.SpriteURL = strings.TrimSpace(v.SpriteURL)
		v.PortraitURL = strings.TrimSpace(v.PortraitURL)
		return v
	case ChatSend:
		v.Text = strings.TrimSpace(v.Text)
		return v
	}
	return m
}
