package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"buildpixel/client"
	"buildpixel/profile"
	"buildpixel/protocol"
)

var phrases = []string{
	"Hello!",
	"Nice weather!",
	"Busy day?",
	"Where is the meeting?",
	"Pixel art is cool!",
	"Generating assets...",
	"I am a bot.",
	"Walking around...",
	"Looks nice here.",
	"Anyone seen the boss?",
}

// action 一次漫游决策
type action struct {
	Stay   bool
	Target client.Vec
	Say    string
}

// plan 一半概率原地不动，否则走向随机点；三成概率说一句话
func plan(rng *rand.Rand) action {
	var a action
	if rng.Float64() < 0.5 {
		a.Stay = true
	} else {
		a.Target = client.Vec{
			X: client.PlayerWidth/2 + rng.Float64()*(client.WorldWidth-client.PlayerWidth),
			Y: client.PlayerHeight/2 + rng.Float64()*(client.WorldHeight-client.PlayerHeight),
		}
	}
	if rng.Float64() < 0.3 {
		a.Say = phrases[rng.Intn(len(phrases))]
	}
	return a
}

// nextDecision 2~5 秒
func nextDecision(rng *rand.Rand) time.Duration {
	return 2*time.Second + time.Duration(rng.Int63n(int64(3*time.Second)))
}

type botConfig struct {
	URL       string
	Codec     protocol.Codec
	Identity  protocol.Join
	ID        string // 档案 id
	Sit       bool   // 进入舞台区域时是否确认就座
	FrameRate time.Duration
}

type bot struct {
	cfg      botConfig
	rng      *rand.Rand
	profiles *profile.Client
	log      *zap.SugaredLogger
}

func (b *bot) dial(ctx context.Context) (*client.Transport, error) {
	dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return client.Dial(dialCtx, b.cfg.URL, b.cfg.Codec, b.log)
}

// run 连接中继并漫游；断线后重连并复用同一会话
func (b *bot) run(ctx context.Context) error {
	tr, err := b.dial(ctx)
	if err != nil {
		return err
	}
	spawn := client.Vec{X: 400 + b.rng.Float64()*200, Y: 300 + b.rng.Float64()*100}
	sess := client.NewSession(tr, client.SessionConfig{
		Identity:   b.cfg.Identity,
		Spawn:      spawn,
		Publisher:  client.DefaultPublisherConfig(),
		Reconciler: client.DefaultReconcilerConfig(),
		Seating:    client.DefaultSeatingConfig(b.rng),
	}, nil, b.rng, b.log)
	defer sess.Close()

	saved := false
	for {
		err := b.loop(ctx, sess, tr, &saved)
		if ctx.Err() != nil {
			return nil
		}
		b.log.Warnf("%s disconnected: %v; reconnecting", b.cfg.Identity.Name, err)
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(2 * time.Second):
			}
			if tr, err = b.dial(ctx); err == nil {
				break
			}
			b.log.Warnf("%s reconnect failed: %v", b.cfg.Identity.Name, err)
		}
		sess.Rebind(tr)
	}
}

func (b *bot) loop(ctx context.Context, sess *client.Session, tr *client.Transport, saved *bool) error {
	frames := time.NewTicker(b.cfg.FrameRate)
	defer frames.Stop()
	decide := time.NewTimer(nextDecision(b.rng))
	defer decide.Stop()
	last := time.Now()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tr.Done():
			if err := tr.Err(); err != nil {
				return err
			}
			return client.ErrClosed
		case now := <-frames.C:
			if err := sess.Step(now.Sub(last), client.Input{}); err != nil {
				return err
			}
			last = now
			if sess.Joined() && !*saved && b.profiles != nil {
				b.profiles.SaveAsync(profile.Profile{ID: b.cfg.ID, Name: b.cfg.Identity.Name, SpriteURL: b.cfg.Identity.SpriteURL})
				*saved = true
			}
			b.handleSignals(sess)
			b.drainChat(sess)
		case <-decide.C:
			if err := b.act(sess); err != nil && !errors.Is(err, client.ErrClosed) {
				b.log.Warnf("%s: %v", b.cfg.Identity.Name, err)
			}
			decide.Reset(nextDecision(b.rng))
		}
	}
}

func (b *bot) act(sess *client.Session) error {
	if !sess.Joined() {
		return nil
	}
	a := plan(b.rng)
	// 就座流程中不打断
	switch sess.Seating.State() {
	case client.SeatIdle, client.SeatPendingConfirm:
		if a.Stay {
			sess.Local.Stop()
		} else {
			sess.Local.WalkTo(a.Target)
		}
	}
	if a.Say != "" {
		if err := sess.Say(a.Say); err != nil {
			return fmt.Errorf("say: %w", err)
		}
	}
	return nil
}

func (b *bot) handleSignals(sess *client.Session) {
	for {
		select {
		case sig := <-sess.Seating.Signals():
			if sig.Kind != client.SignalEnterZone {
				b.log.Debugf("%s %s at (%.0f, %.0f)", b.cfg.Identity.Name, sig.Kind, sig.At.X, sig.At.Y)
				continue
			}
			var err error
			if b.cfg.Sit {
				err = sess.Seating.Confirm()
			} else {
				err = sess.Seating.Decline()
			}
			if err != nil {
				b.log.Debugf("%s seating: %v", b.cfg.Identity.Name, err)
			}
		default:
			return
		}
	}
}

func (b *bot) drainChat(sess *client.Session) {
	for {
		select {
		case c := <-sess.Chat():
			b.log.Debugf("[%s] %s: %s", b.cfg.Identity.Name, c.SenderName, c.Text)
		default:
			return
		}
	}
}
