package profile

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	gojson "github.com/goccy/go-json"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreKeepsCreatedAt(t *testing.T) {
	s := NewMemoryStore()
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return t0 }

	p, err := s.Put(context.Background(), Profile{ID: "u1", Name: "Ann"})
	require.NoError(t, err)
	assert.Equal(t, t0, p.CreatedAt)

	s.now = func() time.Time { return t0.Add(time.Hour) }
	p, err = s.Put(context.Background(), Profile{ID: "u1", Name: "Ann B", SpriteURL: "/a.png"})
	require.NoError(t, err)
	assert.Equal(t, t0, p.CreatedAt)

	got, err := s.Get(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "Ann B", got.Name)
	assert.Equal(t, "/a.png", got.SpriteURL)

	_, err = s.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreValidation(t *testing.T) {
	s := NewMemoryStore()
	for _, p := range []Profile{
		{ID: "", Name: "Ann"},
		{ID: "u1", Name: "   "},
		{ID: "u1", Name: "this name is far too long for anybody to use"},
	} {
		_, err := s.Put(context.Background(), p)
		assert.ErrorIs(t, err, ErrInvalidProfile, "%+v", p)
	}
}

func TestMemoryStoreListOrdered(t *testing.T) {
	s := NewMemoryStore()
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"c", "a", "b"} {
		ts := t0.Add(time.Duration(i) * time.Minute)
		s.now = func() time.Time { return ts }
		_, err := s.Put(context.Background(), Profile{ID: id, Name: id})
		require.NoError(t, err)
	}
	ps, err := s.List(context.Background())
	require.NoError(t, err)
	require.Len(t, ps, 3)
	assert.Equal(t, []string{"c", "a", "b"}, []string{ps[0].ID, ps[1].ID, ps[2].ID})
}

func newProfileServer(t *testing.T) (*httptest.Server, *MemoryStore) {
	t.Helper()
	store := NewMemoryStore()
	r := mux.NewRouter()
	NewHandler(store, nil).Register(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, store
}

func TestHandlerPutGetList(t *testing.T) {
	srv, _ := newProfileServer(t)

	body, _ := gojson.Marshal(Profile{ID: "ignored", Name: " Ann ", PortraitURL: "/p.png"})
	req, _ := http.NewRequest(http.MethodPut, srv.URL+"/api/profiles/u1", bytes.NewReader(body))
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/api/profiles/u1")
	require.NoError(t, err)
	var p Profile
	require.NoError(t, gojson.NewDecoder(resp.Body).Decode(&p))
	resp.Body.Close()
	assert.Equal(t, "u1", p.ID)
	assert.Equal(t, "Ann", p.Name)
	assert.Equal(t, "/p.png", p.PortraitURL)

	resp, err = http.Get(srv.URL + "/api/profiles")
	require.NoError(t, err)
	var ps []Profile
	require.NoError(t, gojson.NewDecoder(resp.Body).Decode(&ps))
	resp.Body.Close()
	assert.Len(t, ps, 1)

	resp, err = http.Get(srv.URL + "/api/profiles/missing")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHandlerRejectsBadInput(t *testing.T) {
	srv, _ := newProfileServer(t)

	for _, body := range []string{"{not json", `{"name":""}`} {
		req, _ := http.NewRequest(http.MethodPut, srv.URL+"/api/profiles/u1", bytes.NewBufferString(body))
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, body)
	}
}

func TestClientSaveAsync(t *testing.T) {
	srv, store := newProfileServer(t)
	c := NewClient(srv.URL, nil)

	c.SaveAsync(Profile{ID: "bot-1", Name: "Bot"})
	c.Wait()
	p, err := store.Get(context.Background(), "bot-1")
	require.NoError(t, err)
	assert.Equal(t, "Bot", p.Name)

	// 失败不 panic、不阻塞
	c.SaveAsync(Profile{ID: "bot-2", Name: ""})
	c.Wait()
	_, err = store.Get(context.Background(), "bot-2")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDialRedisUnreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := DialRedis(ctx, "127.0.0.1:1", "", 0)
	assert.Error(t, err)
}
