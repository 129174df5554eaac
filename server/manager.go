package server

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/multierr"
)

// ManagerConfig 房间管理器参数
type ManagerConfig struct {
	DefaultRoom    string
	AllowedOrigins []string
	Room           RoomConfig
}

// RoomManager 管理多个房间的生命周期
type RoomManager struct {
	mu       sync.RWMutex
	rooms    map[string]*Room
	cfg      ManagerConfig
	upgrader websocket.Upgrader
	closed   bool
}

func NewRoomManager(cfg ManagerConfig) *RoomManager {
	if cfg.DefaultRoom == "" {
		cfg.DefaultRoom = "lobby"
	}
	return &RoomManager{
		rooms:    make(map[string]*Room),
		cfg:      cfg,
		upgrader: newUpgrader(cfg.AllowedOrigins),
	}
}

// DefaultRoom 未指定 ?room= 时使用的房间名
func (m *RoomManager) DefaultRoom() string { return m.cfg.DefaultRoom }

// GetOrCreateRoom 获取或创建房间，并确保事件循环已启动
func (m *RoomManager) GetOrCreateRoom(id string) *Room {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rooms[id]
	if !ok {
		r = NewRoom(id, m.cfg.Room)
		if id != m.cfg.DefaultRoom {
			r.onEmpty = m.release
		}
		m.rooms[id] = r
		if m.closed {
			// 关闭后创建的房间立即停止，Connect 会得到 ErrRoomClosed
			r.Stop()
		}
		r.Start()
		Log.Infof("room created: %s", id)
	}
	return r
}

// release 空房间从管理器摘除并停止；之后的同名请求会得到一个新房间
func (m *RoomManager) release(r *Room) {
	m.mu.Lock()
	if m.rooms[r.ID] == r {
		delete(m.rooms, r.ID)
	}
	m.mu.Unlock()
	r.Stop()
	Log.Infof("room released: %s", r.ID)
}

// Room 查找已存在的房间
func (m *RoomManager) Room(id string) (*Room, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rooms[id]
	return r, ok
}

// Rooms 按 ID 排序的房间列表
func (m *RoomManager) Rooms() []*Room {
	m.mu.RLock()
	out := make([]*Room, 0, len(m.rooms))
	for _, r := range m.rooms {
		out = append(out, r)
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Shutdown 停止所有房间并等待事件循环退出
func (m *RoomManager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()

	rooms := m.Rooms()
	for _, r := range rooms {
		r.Stop()
	}
	var err error
	for _, r := range rooms {
		select {
		case <-r.Done():
		case <-ctx.Done():
			err = multierr.Append(err, fmt.Errorf("room %s: %w", r.ID, ctx.Err()))
		}
	}
	return err
}
