package main

import (
	"context"
	"math/rand"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"buildpixel/client"
	"buildpixel/profile"
	"buildpixel/protocol"
	"buildpixel/server"
)

func TestPlanStaysInsideWorld(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	stays, says := 0, 0
	for i := 0; i < 1000; i++ {
		a := plan(rng)
		if a.Stay {
			stays++
		} else {
			assert.True(t, a.Target.X >= 0 && a.Target.X <= client.WorldWidth)
			assert.True(t, a.Target.Y >= 0 && a.Target.Y <= client.WorldHeight)
		}
		if a.Say != "" {
			says++
			assert.Contains(t, phrases, a.Say)
		}
	}
	assert.InDelta(t, 500, stays, 80)
	assert.InDelta(t, 300, says, 80)
}

func TestNextDecisionRange(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 100; i++ {
		d := nextDecision(rng)
		assert.GreaterOrEqual(t, d, 2*time.Second)
		assert.Less(t, d, 5*time.Second)
	}
}

func TestBotJoinsAndSavesProfile(t *testing.T) {
	rm := server.NewRoomManager(server.ManagerConfig{DefaultRoom: "lobby", Room: server.DefaultRoomConfig()})
	store := profile.NewMemoryStore()
	r := mux.NewRouter()
	rm.Register(r)
	profile.NewHandler(store, nil).Register(r)
	srv := httptest.NewServer(r)
	defer srv.Close()

	profiles := profile.NewClient(srv.URL, nil)
	b := &bot{
		cfg: botConfig{
			URL:       "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?room=lobby",
			Codec:     protocol.CBOR,
			Identity:  protocol.Join{Name: "Bot-1"},
			ID:        "bot-id-1",
			FrameRate: 10 * time.Millisecond,
		},
		rng:      rand.New(rand.NewSource(3)),
		profiles: profiles,
		log:      zap.NewNop().Sugar(),
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.run(ctx) }()

	require.Eventually(t, func() bool {
		ps, err := rm.GetOrCreateRoom("lobby").Players(context.Background())
		if err != nil || len(ps) != 1 {
			return false
		}
		for _, p := range ps {
			return p.Name == "Bot-1"
		}
		return false
	}, 3*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		_, err := store.Get(context.Background(), "bot-id-1")
		return err == nil
	}, 3*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("bot did not stop")
	}
	profiles.Wait()

	shutdownCtx, stop := context.WithTimeout(context.Background(), 2*time.Second)
	defer stop()
	require.NoError(t, rm.Shutdown(shutdownCtx))
}
