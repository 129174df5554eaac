package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/urfave/cli/v3"
	"go.uber.org/multierr"
	"golang.ngrok.com/ngrok"
	ngrokConfig "golang.ngrok.com/ngrok/config"

	"buildpixel/avatar"
	"buildpixel/config"
	"buildpixel/profile"
	"buildpixel/server"
)

// BuildPixel 入口：在线状态中继 + 头像/档案接口 + 静态资源
func main() {
	cmd := &cli.Command{
		Name:  "buildpixel",
		Usage: "presence relay for the pixel office",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "YAML config file", Sources: cli.EnvVars("BUILDPIXEL_CONFIG")},
			&cli.StringFlag{Name: "addr", Usage: "listen address, e.g. :3000"},
			&cli.StringFlag{Name: "static", Usage: "static asset directory"},
			&cli.StringFlag{Name: "log-level", Usage: "debug | info | warn | error"},
			&cli.DurationFlag{Name: "join-timeout", Usage: "evict sessions that have not joined after this long (0 disables)"},
			&cli.Float64Flag{Name: "avatar-rate", Usage: "avatar creations allowed per minute"},
			&cli.BoolFlag{Name: "ngrok", Usage: "expose the server through an ngrok tunnel"},
			&cli.StringFlag{Name: "ngrok-domain", Usage: "reserved ngrok domain (optional)"},
		},
		Action: run,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := cmd.Run(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig(cmd *cli.Command) (*config.Config, error) {
	if err := config.LoadDotEnv(); err != nil {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	cfg, err := config.Load(cmd.String("config"))
	if err != nil {
		return nil, err
	}
	// 命令行优先级最高
	if cmd.IsSet("addr") {
		cfg.Server.Addr = cmd.String("addr")
	}
	if cmd.IsSet("static") {
		cfg.Server.StaticDir = cmd.String("static")
	}
	if cmd.IsSet("log-level") {
		cfg.Log.Level = cmd.String("log-level")
	}
	if cmd.IsSet("join-timeout") {
		cfg.World.JoinTimeout = cmd.Duration("join-timeout")
	}
	if cmd.IsSet("avatar-rate") {
		cfg.Avatar.RatePerMinute = cmd.Float64("avatar-rate")
	}
	if cmd.IsSet("ngrok") {
		cfg.Tunnel.Enabled = cmd.Bool("ngrok")
	}
	if cmd.IsSet("ngrok-domain") {
		cfg.Tunnel.Domain = cmd.String("ngrok-domain")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func run(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := server.InitLogger(cfg.Log); err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	rm := server.NewRoomManager(server.ManagerConfig{
		DefaultRoom:    cfg.World.DefaultRoom,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Room: server.RoomConfig{
			SpawnX:        cfg.World.SpawnX,
			SpawnY:        cfg.World.SpawnY,
			MaxChatLen:    cfg.World.MaxChatLen,
			JoinTimeout:   cfg.World.JoinTimeout,
			SweepInterval: cfg.World.SweepInterval,
			Inbox:         cfg.World.Inbox,
			SendQueue:     cfg.Server.SendQueue,
			ReadLimit:     cfg.Server.ReadLimit,
		},
	})
	// 预创建默认房间
	_ = rm.GetOrCreateRoom(cfg.World.DefaultRoom)

	store, closeStore, err := newProfileStore(ctx, cfg.Profile)
	if err != nil {
		return err
	}

	router := buildRouter(cfg, rm, store)
	srv := &http.Server{Addr: cfg.Server.Addr, Handler: router, ReadHeaderTimeout: 10 * time.Second}

	serveErr := make(chan error, 2)
	go func() {
		server.Log.Infof("BuildPixel listening on %s; open http://localhost%v/", cfg.Server.Addr, cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- fmt.Errorf("listen: %w", err)
		}
	}()

	var tunnel io.Closer
	if cfg.Tunnel.Enabled {
		tun, err := startTunnel(ctx, cfg.Tunnel, router, serveErr)
		if err != nil {
			// 隧道失败不影响本地服务
			server.Log.Errorf("failed to start ngrok tunnel: %v", err)
		} else {
			tunnel = tun
		}
	}

	select {
	case <-ctx.Done():
		server.Log.Info("Shutting down...")
		err = nil
	case err = <-serveErr:
		server.Log.Errorf("server stopped: %v", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err = multierr.Append(err, srv.Shutdown(shutdownCtx))
	if tunnel != nil {
		err = multierr.Append(err, tunnel.Close())
	}
	err = multierr.Append(err, rm.Shutdown(shutdownCtx))
	err = multierr.Append(err, closeStore())
	_ = server.SyncLogger()
	return err
}

func buildRouter(cfg *config.Config, rm *server.RoomManager, store profile.Store) *mux.Router {
	r := mux.NewRouter()
	rm.Register(r)

	presets := make([]avatar.Preset, 0, len(cfg.Avatar.Presets))
	for _, p := range cfg.Avatar.Presets {
		presets = append(presets, avatar.Preset{Sprite: p.Sprite, Front: p.Front, Back: p.Back, Portrait: p.Portrait})
	}
	gen := avatar.NewLocalGenerator(cfg.Avatar.Dir, cfg.Avatar.PublicPrefix, presets, server.Log)
	avatar.NewService(gen, avatar.ServiceConfig{
		MaxUploadBytes: int64(cfg.Avatar.MaxUploadMB) << 20,
		RatePerMinute:  cfg.Avatar.RatePerMinute,
		Burst:          cfg.Avatar.Burst,
		Dir:            cfg.Avatar.Dir,
		PublicPrefix:   cfg.Avatar.PublicPrefix,
	}, server.Log).Register(r)

	profile.NewHandler(store, server.Log).Register(r)

	// 其余路径交给静态资源目录
	if cfg.Server.StaticDir != "" {
		r.PathPrefix("/").Handler(http.FileServer(http.Dir(cfg.Server.StaticDir)))
	}
	return r
}

func newProfileStore(ctx context.Context, cfg config.ProfileConfig) (profile.Store, func() error, error) {
	if cfg.Backend != "redis" {
		server.Log.Infof("profile store: memory")
		return profile.NewMemoryStore(), func() error { return nil }, nil
	}
	dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	rdb, err := profile.DialRedis(dialCtx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		return nil, nil, err
	}
	server.Log.Infof("profile store: redis %s db=%d", cfg.RedisAddr, cfg.RedisDB)
	return profile.NewRedisStore(rdb, cfg.KeyPrefix), rdb.Close, nil
}

// startTunnel 通过 ngrok 对外暴露同一个 router
func startTunnel(ctx context.Context, cfg config.TunnelConfig, handler http.Handler, serveErr chan<- error) (io.Closer, error) {
	endpoint := ngrokConfig.HTTPEndpoint()
	if cfg.Domain != "" {
		endpoint = ngrokConfig.HTTPEndpoint(ngrokConfig.WithDomain(cfg.Domain))
	}
	tun, err := ngrok.Listen(ctx, endpoint, ngrok.WithAuthtoken(cfg.AuthToken))
	if err != nil {
		return nil, err
	}
	server.Log.Infof("ngrok tunnel established: %s (ws: %s/ws)", tun.URL(), tun.URL())
	go func() {
		if err := http.Serve(tun, handler); err != nil && !errors.Is(err, http.ErrServerClosed) && !errors.Is(err, net.ErrClosed) {
			serveErr <- fmt.Errorf("ngrok serve: %w", err)
		}
	}()
	return tun, nil
}
