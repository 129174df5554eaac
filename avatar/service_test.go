package avatar

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	gojson "github.com/goccy/go-json"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

func testPresets() []Preset {
	return []Preset{
		{Sprite: "/assets/characters/char_01.png", Front: "/assets/characters/char_01_front.png", Back: "/assets/characters/char_01_back.png", Portrait: "/assets/characters/char_01_portrait.png"},
		{Sprite: "/assets/characters/char_02.png", Front: "/assets/characters/char_02_front.png", Back: "/assets/characters/char_02_back.png", Portrait: "/assets/characters/char_02_portrait.png"},
	}
}

func newTestService(t *testing.T, cfg ServiceConfig) (*Service, *httptest.Server, string) {
	t.Helper()
	dir := t.TempDir()
	cfg.Dir = dir
	cfg.PublicPrefix = "/assets/user_avatars"
	gen := NewLocalGenerator(dir, cfg.PublicPrefix, testPresets(), nil)
	svc := NewService(gen, cfg, nil)
	r := mux.NewRouter()
	svc.Register(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return svc, srv, dir
}

func multipartBody(t *testing.T, photo []byte, description string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if photo != nil {
		fw, err := mw.CreateFormFile("avatar", "me.png")
		require.NoError(t, err)
		_, err = fw.Write(photo)
		require.NoError(t, err)
	}
	if description != "" {
		require.NoError(t, mw.WriteField("description", description))
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func post(t *testing.T, srv *httptest.Server, photo []byte, description string) (*http.Response, map[string]any) {
	t.Helper()
	body, ct := multipartBody(t, photo, description)
	resp, err := http.Post(srv.URL+"/api/create-avatar", ct, body)
	require.NoError(t, err)
	defer resp.Body.Close()
	var out map[string]any
	require.NoError(t, gojson.NewDecoder(resp.Body).Decode(&out))
	return resp, out
}

func TestCreateAvatarFromPhoto(t *testing.T) {
	_, srv, dir := newTestService(t, ServiceConfig{})

	photo := append(append([]byte{}, pngHeader...), []byte("pixels")...)
	resp, out := post(t, srv, photo, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, out["success"])
	assert.Contains(t, out["spriteUrl"], "/assets/characters/")

	name := contentKey(photo) + ".png"
	assert.Equal(t, "/assets/user_avatars/"+name, out["portraitUrl"])
	stored, err := os.ReadFile(filepath.Join(dir, name))
	require.NoError(t, err)
	assert.Equal(t, photo, stored)

	// 上传的文件可通过公开前缀访问
	get, err := http.Get(srv.URL + "/assets/user_avatars/" + name)
	require.NoError(t, err)
	defer get.Body.Close()
	assert.Equal(t, http.StatusOK, get.StatusCode)

	// 同一张照片结果确定
	_, again := post(t, srv, photo, "")
	assert.Equal(t, out, again)
}

func TestCreateAvatarFromDescription(t *testing.T) {
	_, srv, _ := newTestService(t, ServiceConfig{})
	resp, out := post(t, srv, nil, "a knight with a red cape")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, strings.HasSuffix(out["portraitUrl"].(string), "_portrait.png"))
	assert.NotEmpty(t, out["frontUrl"])
	assert.NotEmpty(t, out["backUrl"])
}

func TestCreateAvatarValidation(t *testing.T) {
	_, srv, _ := newTestService(t, ServiceConfig{MaxUploadBytes: 1024})

	resp, out := post(t, srv, nil, "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, ErrNoInput.Error(), out["error"])

	resp, _ = post(t, srv, []byte("plain text is not an image"), "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	big := append(append([]byte{}, pngHeader...), bytes.Repeat([]byte{0}, 2048)...)
	resp, _ = post(t, srv, big, "")
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
}

func TestCreateAvatarRateLimited(t *testing.T) {
	_, srv, _ := newTestService(t, ServiceConfig{RatePerMinute: 1, Burst: 2})

	for i := 0; i < 2; i++ {
		resp, _ := post(t, srv, nil, "wizard")
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}
	resp, _ := post(t, srv, nil, "wizard")
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
}

func TestLocalGeneratorRequiresPresets(t *testing.T) {
	g := NewLocalGenerator(t.TempDir(), "/x", nil, nil)
	_, err := g.Generate(context.Background(), Request{Description: "x"})
	assert.ErrorIs(t, err, ErrNoPresets)
	_, err = g.Generate(context.Background(), Request{})
	assert.ErrorIs(t, err, ErrNoInput)
}

func TestPresetIndexUsesTwoDigestBytes(t *testing.T) {
	assert.Equal(t, 0x0102%1000, presetIndex([]byte{0x01, 0x02, 0xff}, 1000))
	assert.Equal(t, 0xffff%7, presetIndex([]byte{0xff, 0xff}, 7))
}

func TestPresetPickSpreadsAcrossPresets(t *testing.T) {
	presets := []Preset{{Sprite: "/a.png"}, {Sprite: "/b.png"}, {Sprite: "/c.png"}}
	g := NewLocalGenerator(t.TempDir(), "/x", presets, nil)

	counts := map[string]int{}
	for i := 0; i < 300; i++ {
		desc := fmt.Sprintf("character %d", i)
		res, err := g.Generate(context.Background(), Request{Description: desc})
		require.NoError(t, err)

		sum := contentSum([]byte(desc))
		want := presets[int(binary.BigEndian.Uint16(sum[:2]))%len(presets)]
		assert.Equal(t, want.Sprite, res.SpriteURL, desc)
		counts[res.SpriteURL]++
	}
	for _, p := range presets {
		assert.InDelta(t, 100, counts[p.Sprite], 40, p.Sprite)
	}
}
