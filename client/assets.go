package client

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// Texture 已加载的头像贴图
type Texture struct {
	Ref    string
	Width  int
	Height int
	Data   []byte
}

// AssetLoader 按引用加载贴图；可能阻塞，由调用方放到独立 goroutine
type AssetLoader interface {
	Load(ctx context.Context, ref string) (*Texture, error)
}

// HTTPAssetLoader 通过 HTTP 拉取图片并解析尺寸；相对引用（/assets/...）基于 BaseURL 解析
type HTTPAssetLoader struct {
	BaseURL  string
	Client   *http.Client
	MaxBytes int64
}

func NewHTTPAssetLoader(baseURL string) *HTTPAssetLoader {
	return &HTTPAssetLoader{
		BaseURL:  strings.TrimRight(baseURL, "/"),
		Client:   &http.Client{Timeout: 10 * time.Second},
		MaxBytes: 5 << 20,
	}
}

func (l *HTTPAssetLoader) resolve(ref string) (string, error) {
	if strings.HasPrefix(ref, "/") {
		if l.BaseURL == "" {
			return "", fmt.Errorf("relative asset %q without base url", ref)
		}
		return l.BaseURL + ref, nil
	}
	u, err := url.Parse(ref)
	if err != nil {
		return "", err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("unsupported asset scheme %q", u.Scheme)
	}
	return u.String(), nil
}

func (l *HTTPAssetLoader) Load(ctx context.Context, ref string) (*Texture, error) {
	u, err := l.resolve(ref)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := l.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("load %s: status %d", ref, resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, l.MaxBytes))
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", ref, err)
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", ref, err)
	}
	return &Texture{Ref: ref, Width: cfg.Width, Height: cfg.Height, Data: data}, nil
}

// loadResult 异步加载的完成记录
type loadResult struct {
	id  string
	ref string
	seq uint64 // 发起时的加载序号
	tex *Texture
	err error
}

// completions 加载协程只追加，会话循环在下一帧统一取走
type completions struct {
	mu    sync.Mutex
	items []loadResult
}

func (c *completions) push(r loadResult) {
	c.mu.Lock()
	c.items = append(c.items, r)
	c.mu.Unlock()
}

func (c *completions) take() []loadResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.items
	c.items = nil
	return out
}
