package server

import (
	"errors"
	"net/http"
	"sort"

	gojson "github.com/goccy/go-json"
	"github.com/gorilla/mux"

	"buildpixel/protocol"
)

// Register 挂载 WebSocket 与管理/监控接口
func (m *RoomManager) Register(r *mux.Router) {
	r.HandleFunc("/ws", m.HandleWS)
	r.HandleFunc("/healthz", HandleHealthz).Methods(http.MethodGet)
	r.HandleFunc("/metrics", m.HandleMetrics).Methods(http.MethodGet)
	r.HandleFunc("/admin/config", m.HandleAdminConfig).Methods(http.MethodGet, http.MethodPost)
	r.HandleFunc("/admin/players", m.HandlePlayers).Methods(http.MethodGet)
	// zap.AtomicLevel 自带 GET/PUT {"level":"debug"} 处理
	r.Handle("/admin/log/level", LogLevel).Methods(http.MethodGet, http.MethodPut)
	r.Handle("/mcp", m.MCPHandler()).Methods(http.MethodPost)
}

func HandleHealthz(w http.ResponseWriter, _ *http.Request) {
	_, _ = w.Write([]byte("ok"))
}

// roomFor 解析 ?room=：缺省为默认房间（不存在则创建），显式指定的房间必须已存在
func (m *RoomManager) roomFor(w http.ResponseWriter, r *http.Request) (*Room, bool) {
	roomID := r.URL.Query().Get("room")
	if roomID == "" {
		return m.GetOrCreateRoom(m.cfg.DefaultRoom), true
	}
	room, ok := m.Room(roomID)
	if !ok {
		respondError(w, http.StatusNotFound, "unknown room: "+roomID)
		return nil, false
	}
	return room, true
}

// HandleAdminConfig 提供房间规则的读取与热更新
// GET  /admin/config?room=lobby  返回当前配置
// POST /admin/config?room=lobby  以 JSON 载荷更新部分字段（经由房间事件循环生效）
func (m *RoomManager) HandleAdminConfig(w http.ResponseWriter, r *http.Request) {
	room, ok := m.roomFor(w, r)
	if !ok {
		return
	}
	switch r.Method {
	case http.MethodGet:
		s, err := room.Settings(r.Context())
		if err != nil {
			respondRoomError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, s)
	case http.MethodPost:
		var body ConfigUpdate
		if err := gojson.NewDecoder(r.Body).Decode(&body); err != nil {
			respondError(w, http.StatusBadRequest, "invalid json")
			return
		}
		s, err := room.Configure(r.Context(), body)
		if err != nil {
			respondRoomError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, s)
	default:
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// HandleMetrics 输出指定房间的运行指标
// GET /metrics?room=lobby
func (m *RoomManager) HandleMetrics(w http.ResponseWriter, r *http.Request) {
	room, ok := m.roomFor(w, r)
	if !ok {
		return
	}
	players := 0
	if err := room.View(r.Context(), func(roster Roster, _ RoomSettings) { players = roster.Len() }); err != nil {
		respondRoomError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"room":    room.ID,
		"players": players,
		"metrics": room.Metrics().Snapshot(),
	})
}

// HandlePlayers 输出名单快照（按 ID 排序）
// GET /admin/players?room=lobby
func (m *RoomManager) HandlePlayers(w http.ResponseWriter, r *http.Request) {
	room, ok := m.roomFor(w, r)
	if !ok {
		return
	}
	players, err := room.Players(r.Context())
	if err != nil {
		respondRoomError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"room":    room.ID,
		"players": sortedPlayers(players),
	})
}

func sortedPlayers(in map[PlayerID]protocol.Player) []protocol.Player {
	out := make([]protocol.Player, 0, len(in))
	for _, p := range in {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = gojson.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

func respondRoomError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrInvalidConfig):
		respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrRoomClosed):
		respondError(w, http.StatusServiceUnavailable, err.Error())
	default:
		respondError(w, http.StatusInternalServerError, err.Error())
	}
}
