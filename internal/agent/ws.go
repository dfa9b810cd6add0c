package agent

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/coder/websocket"
	"github.com/repolens/repolens/internal/domain"
	"github.com/repolens/repolens/internal/llm"
)

// WebSocketHandler streams chat turns over a WebSocket: tool calls are pushed
// as they execute instead of arriving in one batch with the answer.
type WebSocketHandler struct {
	handler       *Handler
	allowedOrigin string
	isDev         bool
}

// NewWebSocketHandler creates the streaming chat handler. It shares the turn
// lock and conversation log with the HTTP handler so HTTP and WebSocket
// clients cannot interleave turns.
func NewWebSocketHandler(handler *Handler, allowedOrigin string, isDev bool) *WebSocketHandler {
	return &WebSocketHandler{
		handler:       handler,
		allowedOrigin: allowedOrigin,
		isDev:         isDev,
	}
}

// wsInbound is a client frame.
type wsInbound struct {
	Type    string `json:"type"` // "chat" | "ping"
	Content string `json:"content,omitempty"`
}

// wsOutbound is a server frame.
type wsOutbound struct {
	Type        string           `json:"type"` // "tool_call" | "answer" | "suggestions" | "error" | "pong"
	Content     string           `json:"content,omitempty"`
	ToolCall    *domain.ToolCall `json:"tool_call,omitempty"`
	Suggestions []string         `json:"suggestions,omitempty"`
}

// ServeHTTP implements http.Handler for WebSocket upgrade.
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err, "ip", r.RemoteAddr)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "session ended"); closeErr != nil {
			slog.Debug("Failed to close websocket", "error", closeErr)
		}
	}()

	slog.Info("WebSocket chat connected", "ip", r.RemoteAddr)
	h.readLoop(r.Context(), ws)
}

func (h *WebSocketHandler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.allowedOrigin == "*" {
		return true
	}
	if origin == h.allowedOrigin {
		return true
	}
	slog.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigin)
	return false
}

func (h *WebSocketHandler) readLoop(ctx context.Context, ws *websocket.Conn) {
	for {
		_, message, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				slog.Debug("WebSocket closed by client")
			} else {
				slog.Warn("WebSocket read error", "error", err)
			}
			return
		}

		var msg wsInbound
		if err := json.Unmarshal(message, &msg); err != nil {
			h.writeJSON(ws, wsOutbound{Type: "error", Content: "invalid frame"})
			continue
		}

		switch msg.Type {
		case "ping":
			h.writeJSON(ws, wsOutbound{Type: "pong"})
		case "chat":
			h.runTurn(ctx, ws, msg.Content)
		default:
			h.writeJSON(ws, wsOutbound{Type: "error", Content: "unknown message type"})
		}
	}
}

// runTurn executes one turn, streaming each tool call as it completes.
func (h *WebSocketHandler) runTurn(ctx context.Context, ws *websocket.Conn, userText string) {
	if strings.TrimSpace(userText) == "" {
		h.writeJSON(ws, wsOutbound{Type: "error", Content: "message is required"})
		return
	}

	h.handler.turnMu.Lock()
	defer h.handler.turnMu.Unlock()

	orc := h.handler.orc
	sessionID := orc.Sessions().Snapshot().SessionID
	h.handler.convLog.Log(ConversationLogEvent{
		SessionID: sessionID,
		Direction: "inbound",
		EventType: "user_message",
		Content:   userText,
	})

	trace := func(call domain.ToolCall) {
		h.writeJSON(ws, wsOutbound{Type: "tool_call", ToolCall: &call})
	}

	result, err := orc.HandleTurn(ctx, userText, trace)
	if err != nil {
		slog.Error("Turn failed", "session_id", sessionID, "error", err)
		content := "internal error"
		if llm.IsBackendError(err) {
			content = "the language model backend failed: " + err.Error()
		}
		h.writeJSON(ws, wsOutbound{Type: "error", Content: content})
		return
	}

	h.handler.convLog.Log(ConversationLogEvent{
		SessionID: sessionID,
		Direction: "outbound",
		EventType: "assistant_answer",
		Content:   result.Answer,
		Repo:      orc.Sessions().Snapshot().ActiveRepo,
	})

	h.writeJSON(ws, wsOutbound{Type: "answer", Content: result.Answer})
	if len(result.Suggestions) > 0 {
		h.writeJSON(ws, wsOutbound{Type: "suggestions", Suggestions: suggestionTexts(result.Suggestions)})
	}
}

func (h *WebSocketHandler) writeJSON(ws *websocket.Conn, v wsOutbound) {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Warn("Failed to encode websocket frame", "error", err)
		return
	}
	if err := ws.Write(context.Background(), websocket.MessageText, data); err != nil {
		slog.Debug("WebSocket write error", "error", err)
	}
}
