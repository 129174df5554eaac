package profile

import (
	"context"
	"errors"
	"fmt"
	"time"

	gojson "github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
)

const DefaultKeyPrefix = "buildpixel:profile:"

// RedisStore 每个档案一个 JSON 字符串键
type RedisStore struct {
	rdb    redis.UniversalClient
	prefix string
	now    func() time.Time
}

func NewRedisStore(rdb redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &RedisStore{rdb: rdb, prefix: prefix, now: time.Now}
}

// DialRedis 建立连接并 PING 一次
func DialRedis(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return rdb, nil
}

func (s *RedisStore) key(id string) string { return s.prefix + id }

func (s *RedisStore) Put(ctx context.Context, p Profile) (Profile, error) {
	if err := p.Validate(); err != nil {
		return Profile{}, err
	}
	old, err := s.Get(ctx, p.ID)
	switch {
	case err == nil:
		p.CreatedAt = old.CreatedAt
	case errors.Is(err, ErrNotFound):
		if p.CreatedAt.IsZero() {
			p.CreatedAt = s.now().UTC()
		}
	default:
		return Profile{}, err
	}
	raw, err := gojson.Marshal(p)
	if err != nil {
		return Profile{}, fmt.Errorf("encode profile: %w", err)
	}
	if err := s.rdb.Set(ctx, s.key(p.ID), raw, 0).Err(); err != nil {
		return Profile{}, fmt.Errorf("redis set %s: %w", p.ID, err)
	}
	return p, nil
}

func (s *RedisStore) Get(ctx context.Context, id string) (Profile, error) {
	raw, err := s.rdb.Get(ctx, s.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Profile{}, ErrNotFound
	}
	if err != nil {
		return Profile{}, fmt.Errorf("redis get %s: %w", id, err)
	}
	var p Profile
	if err := gojson.Unmarshal(raw, &p); err != nil {
		return Profile{}, fmt.Errorf("decode profile %s: %w", id, err)
	}
	return p, nil
}

// List SCAN 前缀下所有键，避免 KEYS 阻塞
func (s *RedisStore) List(ctx context.Context) ([]Profile, error) {
	var out []Profile
	iter := s.rdb.Scan(ctx, 0, s.prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		id := iter.Val()[len(s.prefix):]
		p, err := s.Get(ctx, id)
		if errors.Is(err, ErrNotFound) {
			// 扫描期间被删
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redis scan: %w", err)
	}
	sortProfiles(out)
	return out, nil
}
