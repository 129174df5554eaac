package avatar

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"net/http"
	"os"
	"path"
	"path/filepath"

	"github.com/zeebo/blake3"
	"go.uber.org/zap"
)

var imageExt = map[string]string{
	"image/png":  ".png",
	"image/jpeg": ".jpg",
	"image/gif":  ".gif",
	"image/webp": ".webp",
}

// LocalGenerator 不调用外部服务：照片按内容寻址落盘作为立绘，
// 精灵图由内容哈希确定性地挑选一套预设
type LocalGenerator struct {
	Dir          string // 上传文件目录
	PublicPrefix string // 对外访问前缀，如 /assets/user_avatars
	Presets      []Preset
	Log          *zap.SugaredLogger
}

func NewLocalGenerator(dir, publicPrefix string, presets []Preset, log *zap.SugaredLogger) *LocalGenerator {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &LocalGenerator{Dir: dir, PublicPrefix: publicPrefix, Presets: presets, Log: log}
}

// contentSum BLAKE3 原始摘要
func contentSum(data []byte) []byte {
	h := blake3.New()
	_, _ = h.Write(data)
	return h.Sum(nil)
}

// contentKey 十六进制摘要，用作落盘文件名
func contentKey(data []byte) string {
	return hex.EncodeToString(contentSum(data))
}

// presetIndex 取摘要前两个字节作为大端 uint16 再取模
func presetIndex(sum []byte, n int) int {
	return int(binary.BigEndian.Uint16(sum[:2])) % n
}

func (g *LocalGenerator) Generate(ctx context.Context, req Request) (Result, error) {
	if req.Empty() {
		return Result{}, ErrNoInput
	}
	if len(g.Presets) == 0 {
		return Result{}, ErrNoPresets
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	seed := []byte(req.Description)
	if len(req.Photo) > 0 {
		seed = req.Photo
	}
	sum := contentSum(seed)
	preset := g.Presets[presetIndex(sum, len(g.Presets))]

	res := Result{
		SpriteURL:   preset.Sprite,
		FrontURL:    preset.Front,
		BackURL:     preset.Back,
		PortraitURL: preset.Portrait,
	}
	if len(req.Photo) == 0 {
		return res, nil
	}

	name, err := g.store(hex.EncodeToString(sum), req.Photo)
	if err != nil {
		return Result{}, err
	}
	res.PortraitURL = path.Join(g.PublicPrefix, name)
	return res, nil
}

// store 写入 Dir/<blake3>.<ext>；同内容只写一次
func (g *LocalGenerator) store(key string, photo []byte) (string, error) {
	ext, ok := imageExt[http.DetectContentType(photo)]
	if !ok {
		return "", ErrUnsupportedImage
	}
	name := key + ext
	if err := os.MkdirAll(g.Dir, 0o755); err != nil {
		return "", fmt.Errorf("create avatar dir: %w", err)
	}
	dst := filepath.Join(g.Dir, name)
	if _, err := os.Stat(dst); err == nil {
		g.Log.Debugf("avatar %s already stored", name)
		return name, nil
	}
	tmp := dst + ".tmp"
	if err := os.WriteFile(tmp, photo, 0o644); err != nil {
		return "", fmt.Errorf("write avatar: %w", err)
	}
	if err := os.Rename(tmp, dst); err != nil {
		return "", fmt.Errorf("write avatar: %w", err)
	}
	g.Log.Infof("stored avatar %s (%d bytes)", name, len(photo))
	return name, nil
}
