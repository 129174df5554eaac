// Package config 加载中继配置：默认值 → YAML 文件 → .env / 环境变量 → 校验。
// 命令行参数由调用方在 Load 之后覆盖。
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"buildpixel/protocol"
)

// Config 进程级配置
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	World   WorldConfig   `yaml:"world"`
	Log     LogConfig     `yaml:"log"`
	Avatar  AvatarConfig  `yaml:"avatar"`
	Profile ProfileConfig `yaml:"profile"`
	Tunnel  TunnelConfig  `yaml:"tunnel"`
}

type ServerConfig struct {
	Addr      string `yaml:"addr"`
	StaticDir string `yaml:"static_dir"`
	// AllowedOrigins 为空时接受任意 Origin（开发环境）
	AllowedOrigins []string `yaml:"allowed_origins"`
	SendQueue      int      `yaml:"send_queue"`
	ReadLimit      int64    `yaml:"read_limit"`
}

type WorldConfig struct {
	DefaultRoom string  `yaml:"default_room"`
	SpawnX      float64 `yaml:"spawn_x"`
	SpawnY      float64 `yaml:"spawn_y"`
	// JoinTimeout 连接后迟迟不 join 的会话在此时长后被驱逐；0 表示不驱逐
	JoinTimeout   time.Duration `yaml:"join_timeout"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
	MaxChatLen    int           `yaml:"max_chat_len"`
	Inbox         int           `yaml:"inbox"`
}

type LogConfig struct {
	File       string `yaml:"file"`
	Level      string `yaml:"level"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
	Console    bool   `yaml:"console"`
}

type AvatarConfig struct {
	Dir           string         `yaml:"dir"`
	PublicPrefix  string         `yaml:"public_prefix"`
	MaxUploadMB   int            `yaml:"max_upload_mb"`
	RatePerMinute float64        `yaml:"rate_per_minute"`
	Burst         int            `yaml:"burst"`
	Presets       []PresetConfig `yaml:"presets"`
}

// PresetConfig 一套预制角色素材
type PresetConfig struct {
	Sprite   string `yaml:"sprite"`
	Front    string `yaml:"front"`
	Back     string `yaml:"back"`
	Portrait string `yaml:"portrait"`
}

type ProfileConfig struct {
	Backend       string `yaml:"backend"` // memory | redis
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
	KeyPrefix     string `yaml:"key_prefix"`
}

type TunnelConfig struct {
	Enabled   bool   `yaml:"enabled"`
	AuthToken string `yaml:"auth_token"`
	Domain    string `yaml:"domain"`
}

// Default 返回开箱即用的默认配置
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:      ":3000",
			StaticDir: "web",
			SendQueue: 256,
			ReadLimit: 64 << 10,
		},
		World: WorldConfig{
			DefaultRoom:   "lobby",
			SpawnX:        400,
			SpawnY:        300,
			JoinTimeout:   30 * time.Second,
			SweepInterval: 5 * time.Second,
			MaxChatLen:    protocol.MaxChatLen,
			Inbox:         256,
		},
		Log: LogConfig{
			File:       "app.log",
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 7,
		},
		Avatar: AvatarConfig{
			Dir:           "uploads/user_avatars",
			PublicPrefix:  "/assets/user_avatars",
			MaxUploadMB:   5,
			RatePerMinute: 6,
			Burst:         3,
			Presets: []PresetConfig{
				{Sprite: "/assets/characters/char_01.png", Front: "/assets/characters/char_01_front.png", Back: "/assets/characters/char_01_back.png", Portrait: "/assets/characters/char_01_portrait.png"},
				{Sprite: "/assets/characters/char_02.png", Front: "/assets/characters/char_02_front.png", Back: "/assets/characters/char_02_back.png", Portrait: "/assets/characters/char_02_portrait.png"},
				{Sprite: "/assets/characters/char_03.png", Front: "/assets/characters/char_03_front.png", Back: "/assets/characters/char_03_back.png", Portrait: "/assets/characters/char_03_portrait.png"},
			},
		},
		Profile: ProfileConfig{
			Backend:   "memory",
			KeyPrefix: "buildpixel:profile:",
		},
	}
}

// LoadDotEnv 加载 .env 文件；文件不存在不算错误
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	var existing []string
	for _, f := range files {
		if _, err := os.Stat(f); err == nil {
			existing = append(existing, f)
		}
	}
	if len(existing) == 0 {
		return nil
	}
	return godotenv.Load(existing...)
}

// Load 按 默认值 → YAML（path 非空时）→ 环境变量 的顺序构建配置并校验
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := Decode(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Decode 将 YAML 叠加到 cfg 上；未知字段视为错误
func Decode(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// ApplyEnv 用环境变量覆盖配置；lookup 通常为 os.LookupEnv
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	get := func(keys ...string) (string, bool) {
		for _, k := range keys {
			if v, ok := lookup(k); ok && v != "" {
				return v, true
			}
		}
		return "", false
	}

	if v, ok := get("ADDR"); ok {
		c.Server.Addr = v
	} else if v, ok := get("PORT"); ok {
		c.Server.Addr = ":" + v
	}
	if v, ok := get("STATIC_DIR"); ok {
		c.Server.StaticDir = v
	}
	if v, ok := get("DEFAULT_ROOM"); ok {
		c.World.DefaultRoom = v
	}
	if v, ok := get("JOIN_TIMEOUT"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("JOIN_TIMEOUT: %w", err)
		}
		c.World.JoinTimeout = d
	}
	if v, ok := get("LOG_LEVEL"); ok {
		c.Log.Level = v
	}
	if v, ok := get("LOG_FILE"); ok {
		c.Log.File = v
	}
	if v, ok := get("REDIS_ADDR"); ok {
		c.Profile.RedisAddr = v
		c.Profile.Backend = "redis"
	}
	if v, ok := get("REDIS_PASSWORD"); ok {
		c.Profile.RedisPassword = v
	}
	if v, ok := get("NGROK_ENABLED"); ok {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("NGROK_ENABLED: %w", err)
		}
		c.Tunnel.Enabled = enabled
	}
	if v, ok := get("NGROK_AUTHTOKEN", "NGROK_AUTH_TOKEN"); ok {
		c.Tunnel.AuthToken = v
	}
	if v, ok := get("NGROK_DOMAIN"); ok {
		c.Tunnel.Domain = v
	}
	return nil
}

// Validate 检查配置的一致性
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Server.Addr) == "" {
		errs = append(errs, errors.New("server.addr is required"))
	}
	if c.Server.SendQueue <= 0 {
		errs = append(errs, errors.New("server.send_queue must be positive"))
	}
	if c.Server.ReadLimit <= 0 {
		errs = append(errs, errors.New("server.read_limit must be positive"))
	}
	if c.World.DefaultRoom == "" {
		errs = append(errs, errors.New("world.default_room is required"))
	}
	if c.World.JoinTimeout < 0 {
		errs = append(errs, errors.New("world.join_timeout must not be negative"))
	}
	if c.World.JoinTimeout > 0 && c.World.SweepInterval <= 0 {
		errs = append(errs, errors.New("world.sweep_interval must be positive when join_timeout is set"))
	}
	if c.World.MaxChatLen <= 0 || c.World.MaxChatLen > protocol.MaxChatLen {
		errs = append(errs, fmt.Errorf("world.max_chat_len must be in [1, %d]", protocol.MaxChatLen))
	}
	if c.World.Inbox <= 0 {
		errs = append(errs, errors.New("world.inbox must be positive"))
	}
	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	if c.Avatar.MaxUploadMB <= 0 {
		errs = append(errs, errors.New("avatar.max_upload_mb must be positive"))
	}
	if len(c.Avatar.Presets) == 0 {
		errs = append(errs, errors.New("avatar.presets must not be empty"))
	}
	switch c.Profile.Backend {
	case "memory":
	case "redis":
		if c.Profile.RedisAddr == "" {
			errs = append(errs, errors.New("profile.redis_addr is required for the redis backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("profile.backend %q: want memory or redis", c.Profile.Backend))
	}
	if c.Tunnel.Enabled && c.Tunnel.AuthToken == "" {
		errs = append(errs, errors.New("tunnel.auth_token is required when the tunnel is enabled"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}
