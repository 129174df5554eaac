package client

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

type recordingSender struct {
	moves []Vec
	err   error
}

func (r *recordingSender) SendMove(x, y float64) error {
	if r.err != nil {
		return r.err
	}
	r.moves = append(r.moves, Vec{X: x, Y: y})
	return nil
}

func newTestPublisher() (*Publisher, *recordingSender, *fakeClock) {
	out := &recordingSender{}
	clock := &fakeClock{t: time.Unix(0, 0)}
	p := NewPublisher(out, DefaultPublisherConfig())
	p.now = clock.Now
	return p, out, clock
}

func TestPublisherThrottle(t *testing.T) {
	p, out, clock := newTestPublisher()

	pos := Vec{X: 100, Y: 100}
	for i := 0; i < 100; i++ {
		_, err := p.Tick(pos)
		require.NoError(t, err)
		pos.X += 2
		clock.Advance(5 * time.Millisecond)
	}

	// ⌈100×5/20⌉ = 25
	assert.LessOrEqual(t, len(out.moves), 25)
	assert.Equal(t, 25, len(out.moves))
	assert.Equal(t, 25, p.Sent())
}

func TestPublisherDistanceGate(t *testing.T) {
	p, out, clock := newTestPublisher()

	sent, err := p.Tick(Vec{})
	require.NoError(t, err)
	require.True(t, sent, "first tick always sends")

	for _, x := range []float64{0.5, 1.0} {
		clock.Advance(30 * time.Millisecond)
		sent, err = p.Tick(Vec{X: x})
		require.NoError(t, err)
		assert.False(t, sent, "x=%v is within the minimum distance", x)
	}

	clock.Advance(30 * time.Millisecond)
	sent, err = p.Tick(Vec{X: 1.5})
	require.NoError(t, err)
	assert.True(t, sent)
	assert.Equal(t, []Vec{{}, {X: 1.5}}, out.moves)
}

func TestPublisherIntervalGate(t *testing.T) {
	p, out, clock := newTestPublisher()
	_, _ = p.Tick(Vec{})

	clock.Advance(19 * time.Millisecond)
	sent, _ := p.Tick(Vec{X: 50})
	assert.False(t, sent)

	clock.Advance(time.Millisecond)
	sent, _ = p.Tick(Vec{X: 50})
	assert.True(t, sent)
	assert.Len(t, out.moves, 2)
}

func TestPublisherForce(t *testing.T) {
	p, out, _ := newTestPublisher()
	_, _ = p.Tick(Vec{X: 5, Y: 5})

	sent, _ := p.Tick(Vec{X: 5, Y: 5})
	assert.False(t, sent)

	p.Force()
	sent, _ = p.Tick(Vec{X: 5, Y: 5})
	assert.True(t, sent, "forced tick ignores both gates")

	sent, _ = p.Tick(Vec{X: 5, Y: 5})
	assert.False(t, sent, "force is consumed by one send")
	assert.Len(t, out.moves, 2)
}

func TestPublisherSendErrorRetries(t *testing.T) {
	p, out, _ := newTestPublisher()
	out.err = errors.New("boom")

	sent, err := p.Tick(Vec{X: 1})
	assert.Error(t, err)
	assert.False(t, sent)

	out.err = nil
	sent, err = p.Tick(Vec{X: 1})
	require.NoError(t, err)
	assert.True(t, sent)
}
