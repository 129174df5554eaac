// presencebot 无界面的在线状态机器人：连接中继后在地图上随机漫游、偶尔聊天，
// 用于压测中继和在空房间里制造一些人气。
package main

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/urfave/cli/v3"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"buildpixel/profile"
	"buildpixel/protocol"
)

func main() {
	cmd := &cli.Command{
		Name:  "presencebot",
		Usage: "wandering presence bots for a buildpixel relay",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "url", Value: "ws://localhost:3000/ws?room=lobby", Usage: "relay websocket url", Sources: cli.EnvVars("RELAY_URL")},
			&cli.IntFlag{Name: "count", Aliases: []string{"n"}, Value: 3, Usage: "number of bots"},
			&cli.StringFlag{Name: "codec", Value: protocol.JSON.Name(), Usage: "wire codec: json | cbor | msgpack"},
			&cli.StringFlag{Name: "sprite", Value: "/assets/characters/char_01.png", Usage: "sprite url announced on join"},
			&cli.BoolFlag{Name: "sit", Usage: "accept the seat prompt when entering the stage"},
			&cli.StringFlag{Name: "profile-url", Usage: "http base url of the profile api; empty disables saving", Sources: cli.EnvVars("PROFILE_URL")},
			&cli.DurationFlag{Name: "frame", Value: 50 * time.Millisecond, Usage: "simulation frame interval"},
			&cli.StringFlag{Name: "log-level", Value: "info", Usage: "debug | info | warn | error"},
		},
		Action: runBots,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := cmd.Run(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newLogger(level string) (*zap.SugaredLogger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	cfg := zap.NewDevelopmentConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	logger, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return logger.Sugar(), nil
}

func runBots(ctx context.Context, cmd *cli.Command) error {
	log, err := newLogger(cmd.String("log-level"))
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	codec, err := protocol.Lookup(cmd.String("codec"))
	if err != nil {
		return err
	}
	n := cmd.Int("count")
	if n <= 0 {
		return fmt.Errorf("count must be positive, got %d", n)
	}

	var profiles *profile.Client
	if base := cmd.String("profile-url"); base != "" {
		profiles = profile.NewClient(base, log)
		defer profiles.Wait()
	}

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		b := &bot{
			cfg: botConfig{
				URL:   cmd.String("url"),
				Codec: codec,
				Identity: protocol.Join{
					Name:      fmt.Sprintf("Bot-%d", i+1),
					SpriteURL: cmd.String("sprite"),
				},
				ID:        uuid.NewString(),
				Sit:       cmd.Bool("sit"),
				FrameRate: cmd.Duration("frame"),
			},
			rng:      rand.New(rand.NewSource(time.Now().UnixNano() + int64(i))),
			profiles: profiles,
			log:      log,
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := b.run(ctx); err != nil {
				log.Errorf("%s stopped: %v", b.cfg.Identity.Name, err)
			}
		}()
	}
	log.Infof("%d bots wandering on %s", n, cmd.String("url"))
	wg.Wait()
	return nil
}
