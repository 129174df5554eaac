package profile

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	gojson "github.com/goccy/go-json"
	"go.uber.org/zap"
)

// Client 档案接口的 HTTP 客户端
type Client struct {
	BaseURL string
	HTTP    *http.Client
	Timeout time.Duration
	log     *zap.SugaredLogger
	wg      sync.WaitGroup
}

func NewClient(baseURL string, log *zap.SugaredLogger) *Client {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP:    &http.Client{Timeout: 10 * time.Second},
		Timeout: 5 * time.Second,
		log:     log,
	}
}

func (c *Client) Save(ctx context.Context, p Profile) (Profile, error) {
	body, err := gojson.Marshal(p)
	if err != nil {
		return Profile{}, fmt.Errorf("encode profile: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.BaseURL+"/api/profiles/"+url.PathEscape(p.ID), bytes.NewReader(body))
	if err != nil {
		return Profile{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return Profile{}, fmt.Errorf("save profile: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Profile{}, fmt.Errorf("save profile: status %d", resp.StatusCode)
	}
	var saved Profile
	if err := gojson.NewDecoder(resp.Body).Decode(&saved); err != nil {
		return Profile{}, fmt.Errorf("decode profile: %w", err)
	}
	return saved, nil
}

// SaveAsync 不阻塞调用方，失败只记日志
func (c *Client) SaveAsync(p Profile) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), c.Timeout)
		defer cancel()
		if _, err := c.Save(ctx, p); err != nil {
			c.log.Warnf("profile %s not saved: %v", p.ID, err)
			return
		}
		c.log.Debugf("profile %s saved", p.ID)
	}()
}

// Wait 等待未完成的异步保存
func (c *Client) Wait() { c.wg.Wait() }
