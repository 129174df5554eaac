// Package profile 玩家档案：本地生成的身份对应名字与形象，join 时异步保存。
package profile

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"
)

var (
	ErrNotFound       = errors.New("profile not found")
	ErrInvalidProfile = errors.New("invalid profile")
)

const MaxNameLen = 32

type Profile struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	SpriteURL   string    `json:"spriteUrl,omitempty"`
	PortraitURL string    `json:"portraitUrl,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

func (p Profile) Validate() error {
	if strings.TrimSpace(p.ID) == "" {
		return ErrInvalidProfile
	}
	name := strings.TrimSpace(p.Name)
	if name == "" || utf8.RuneCountInString(name) > MaxNameLen {
		return ErrInvalidProfile
	}
	return nil
}

// Store 档案存储；Put 保留首次创建时间
type Store interface {
	Put(ctx context.Context, p Profile) (Profile, error)
	Get(ctx context.Context, id string) (Profile, error)
	List(ctx context.Context) ([]Profile, error)
}

type MemoryStore struct {
	mu       sync.RWMutex
	profiles map[string]Profile
	now      func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{profiles: make(map[string]Profile), now: time.Now}
}

func (s *MemoryStore) Put(_ context.Context, p Profile) (Profile, error) {
	if err := p.Validate(); err != nil {
		return Profile{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.profiles[p.ID]; ok {
		p.CreatedAt = old.CreatedAt
	} else if p.CreatedAt.IsZero() {
		p.CreatedAt = s.now().UTC()
	}
	s.profiles[p.ID] = p
	return p, nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[id]
	if !ok {
		return Profile{}, ErrNotFound
	}
	return p, nil
}

func (s *MemoryStore) List(_ context.Context) ([]Profile, error) {
	s.mu.RLock()
	out := make([]Profile, 0, len(s.profiles))
	for _, p := range s.profiles {
		out = append(out, p)
	}
	s.mu.RUnlock()
	sortProfiles(out)
	return out, nil
}

// sortProfiles 按创建时间，再按 id
func sortProfiles(ps []Profile) {
	sort.Slice(ps, func(i, j int) bool {
		if !ps[i].CreatedAt.Equal(ps[j].CreatedAt) {
			return ps[i].CreatedAt.Before(ps[j].CreatedAt)
		}
		return ps[i].ID < ps[j].ID
	})
}
