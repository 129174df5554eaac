// Package avatar 头像创建：接收照片或文字描述，产出一套精灵图/立绘地址。
// 真正的生成管线在 Generator 接口之后；这里自带一个本地实现。
package avatar

import (
	"context"
	"errors"
)

var (
	ErrNoInput          = errors.New("upload image or provide description")
	ErrUnsupportedImage = errors.New("unsupported image type")
	ErrNoPresets        = errors.New("no avatar presets configured")
)

// Request 照片与描述至少有一个
type Request struct {
	Photo       []byte
	Description string
}

func (r Request) Empty() bool { return len(r.Photo) == 0 && r.Description == "" }

// Result 生成的一套资源地址
type Result struct {
	SpriteURL   string `json:"spriteUrl"`
	FrontURL    string `json:"frontUrl"`
	BackURL     string `json:"backUrl"`
	PortraitURL string `json:"portraitUrl"`
}

// Generator 生成管线（外部 AI 服务或本地预设）
type Generator interface {
	Generate(ctx context.Context, req Request) (Result, error)
}

// Preset 一套预置角色资源
type Preset struct {
	Sprite   string
	Front    string
	Back     string
	Portrait string
}
