package server

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	gojson "github.com/goccy/go-json"
	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
)

// NewMCPServer 以 MCP 工具暴露房间管理：list_rooms / list_players / announce
func (m *RoomManager) NewMCPServer() *mcpserver.MCPServer {
	s := mcpserver.NewMCPServer(
		"buildpixel relay",
		"1.0.0",
		mcpserver.WithToolCapabilities(true),
		mcpserver.WithInstructions(`buildpixel presence relay - admin tools

- list_rooms: rooms with player counts
- list_players: roster of one room (defaults to the lobby)
- announce: broadcast a system chat line to everyone in a room`),
	)

	s.AddTool(mcp.Tool{
		Name:        "list_rooms",
		Description: "List rooms with their player counts",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}, m.handleListRooms)

	s.AddTool(mcp.Tool{
		Name:        "list_players",
		Description: "List the players currently present in a room",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"room": map[string]interface{}{
					"type":        "string",
					"description": "Room id (defaults to the lobby)",
				},
			},
		},
	}, m.handleListPlayers)

	s.AddTool(mcp.Tool{
		Name:        "announce",
		Description: "Broadcast a system chat message to every connection in a room",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"room": map[string]interface{}{
					"type":        "string",
					"description": "Room id (defaults to the lobby)",
				},
				"text": map[string]interface{}{
					"type":        "string",
					"description": "Message text",
				},
			},
			Required: []string{"text"},
		},
	}, m.handleAnnounce)

	return s
}

// MCPHandler POST /mcp：单次 JSON-RPC 请求/响应
func (m *RoomManager) MCPHandler() http.Handler {
	s := m.NewMCPServer()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "failed to read request", http.StatusBadRequest)
			return
		}
		defer r.Body.Close()

		response := s.HandleMessage(r.Context(), body)
		if response == nil {
			// 通知类消息没有响应
			w.WriteHeader(http.StatusAccepted)
			return
		}
		data, err := gojson.Marshal(response)
		if err != nil {
			http.Error(w, "failed to marshal response", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(data)
	})
}

func stringArg(args map[string]interface{}, key string) string {
	v, _ := args[key].(string)
	return strings.TrimSpace(v)
}

// mcpRoom 与 HTTP 的 ?room= 规则一致
func (m *RoomManager) mcpRoom(args map[string]interface{}) (*Room, error) {
	id := stringArg(args, "room")
	if id == "" {
		return m.GetOrCreateRoom(m.cfg.DefaultRoom), nil
	}
	room, ok := m.Room(id)
	if !ok {
		return nil, fmt.Errorf("unknown room: %s", id)
	}
	return room, nil
}

func (m *RoomManager) handleListRooms(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var b strings.Builder
	rooms := m.Rooms()
	if len(rooms) == 0 {
		return mcp.NewToolResultText("no rooms"), nil
	}
	for _, room := range rooms {
		n := 0
		if err := room.View(ctx, func(roster Roster, _ RoomSettings) { n = roster.Len() }); err != nil {
			fmt.Fprintf(&b, "%s: %v\n", room.ID, err)
			continue
		}
		fmt.Fprintf(&b, "%s: %d players\n", room.ID, n)
	}
	return mcp.NewToolResultText(b.String()), nil
}

func (m *RoomManager) handleListPlayers(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, _ := request.Params.Arguments.(map[string]interface{})
	room, err := m.mcpRoom(args)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	players, err := room.Players(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	data, err := gojson.MarshalIndent(sortedPlayers(players), "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

func (m *RoomManager) handleAnnounce(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, _ := request.Params.Arguments.(map[string]interface{})
	text := stringArg(args, "text")
	if text == "" {
		return mcp.NewToolResultError("text is required"), nil
	}
	room, err := m.mcpRoom(args)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := room.Announce(ctx, text); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("announced to %s", room.ID)), nil
}
