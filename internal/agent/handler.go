package agent

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/repolens/repolens/internal/api"
	"github.com/repolens/repolens/internal/config"
	"github.com/repolens/repolens/internal/domain"
	"github.com/repolens/repolens/internal/llm"
)

// maxRequestBodySize is the maximum allowed chat request body (64KB).
const maxRequestBodySize = 64 << 10

// Handler exposes the orchestrator over HTTP.
type Handler struct {
	orc         *Orchestrator
	rateLimiter *RateLimiter
	convLog     ConversationLogger

	// turnMu serializes turns: one user message is fully handled before
	// the next is accepted.
	turnMu sync.Mutex
}

// NewHandler creates the chat handler.
func NewHandler(orc *Orchestrator, convLog ConversationLogger, cfg *config.Config) *Handler {
	if convLog == nil {
		convLog = noopConversationLogger{}
	}
	return &Handler{
		orc:         orc,
		rateLimiter: NewRateLimiter(cfg.RateLimit.RequestsPerWindow, cfg.RateLimit.WindowDuration),
		convLog:     convLog,
	}
}

// RegisterRoutes registers the chat API routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/api/chat", h.HandleChat)
	r.Get("/api/session", h.HandleGetSession)
	r.Post("/api/session/reset", h.HandleResetSession)
}

type chatRequest struct {
	Message string `json:"message"`
}

type chatResponse struct {
	Answer      string            `json:"answer"`
	Suggestions []string          `json:"suggestions"`
	ToolCalls   []domain.ToolCall `json:"tool_calls,omitempty"`
}

// HandleChat runs one turn for the posted message.
func (h *Handler) HandleChat(w http.ResponseWriter, r *http.Request) {
	if !h.rateLimiter.Allow(clientKey(r)) {
		api.Error(w, http.StatusTooManyRequests, "too many requests, slow down")
		return
	}

	var req chatRequest
	body := http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		if errors.Is(err, io.EOF) || strings.Contains(err.Error(), "request body too large") {
			api.Error(w, http.StatusBadRequest, "invalid request body")
			return
		}
		api.Error(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		api.Error(w, http.StatusBadRequest, "message is required")
		return
	}

	h.turnMu.Lock()
	defer h.turnMu.Unlock()

	sessionID := h.orc.Sessions().Snapshot().SessionID
	h.convLog.Log(ConversationLogEvent{
		SessionID: sessionID,
		Direction: "inbound",
		EventType: "user_message",
		Content:   req.Message,
	})

	result, err := h.orc.HandleTurn(r.Context(), req.Message, nil)
	if err != nil {
		slog.Error("Turn failed", "session_id", sessionID, "error", err)
		if llm.IsBackendError(err) {
			api.Error(w, http.StatusBadGateway, "the language model backend failed: "+err.Error())
		} else {
			api.Error(w, http.StatusInternalServerError, "internal error")
		}
		return
	}

	h.convLog.Log(ConversationLogEvent{
		SessionID: sessionID,
		Direction: "outbound",
		EventType: "assistant_answer",
		Content:   result.Answer,
		Repo:      h.orc.Sessions().Snapshot().ActiveRepo,
	})

	api.JSON(w, http.StatusOK, chatResponse{
		Answer:      result.Answer,
		Suggestions: suggestionTexts(result.Suggestions),
		ToolCalls:   result.ToolCalls,
	})
}

type sessionResponse struct {
	SessionID   string           `json:"session_id"`
	ActiveRepo  string           `json:"active_repo"`
	Messages    []domain.Message `json:"messages"`
	Suggestions []string         `json:"suggestions"`
}

// HandleGetSession returns the current conversation for UI hydration.
func (h *Handler) HandleGetSession(w http.ResponseWriter, r *http.Request) {
	conv := h.orc.Sessions().Snapshot()
	api.JSON(w, http.StatusOK, sessionResponse{
		SessionID:   conv.SessionID,
		ActiveRepo:  conv.ActiveRepo,
		Messages:    conv.Messages,
		Suggestions: suggestionTexts(conv.PendingSuggestions),
	})
}

// HandleResetSession discards the conversation and starts fresh.
func (h *Handler) HandleResetSession(w http.ResponseWriter, r *http.Request) {
	h.turnMu.Lock()
	defer h.turnMu.Unlock()

	conv, err := h.orc.Sessions().Reset(r.Context())
	if err != nil {
		slog.Error("Failed to reset session", "error", err)
		api.Error(w, http.StatusInternalServerError, "failed to reset session")
		return
	}
	api.JSON(w, http.StatusOK, map[string]string{"session_id": conv.SessionID})
}

// Close releases handler resources.
func (h *Handler) Close() {
	if err := h.convLog.Close(); err != nil {
		slog.Warn("Failed to close conversation logger", "error", err)
	}
}

func suggestionTexts(suggestions []domain.Suggestion) []string {
	texts := make([]string, 0, len(suggestions))
	for _, s := range suggestions {
		texts = append(texts, s.Text)
	}
	return texts
}

func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// RateLimiter implements a per-client sliding-window rate limiter.
type RateLimiter struct {
	mu       sync.Mutex
	requests map[string][]time.Time
	limit    int
	window   time.Duration
}

// NewRateLimiter creates a rate limiter and starts its background eviction.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	rl := &RateLimiter{
		requests: make(map[string][]time.Time),
		limit:    limit,
		window:   window,
	}
	rl.startEviction()
	return rl
}

// Allow checks if a request is allowed for the given key.
func (r *RateLimiter) Allow(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-r.window)

	var recent []time.Time
	for _, t := range r.requests[key] {
		if t.After(cutoff) {
			recent = append(recent, t)
		}
	}

	if len(recent) >= r.limit {
		r.requests[key] = recent
		return false
	}

	r.requests[key] = append(recent, now)
	return true
}

// startEviction periodically removes expired keys so the map cannot grow
// without bound.
func (r *RateLimiter) startEviction() {
	go func() {
		ticker := time.NewTicker(r.window)
		defer ticker.Stop()
		for range ticker.C {
			r.mu.Lock()
			cutoff := time.Now().Add(-r.window)
			for key, times := range r.requests {
				var fresh []time.Time
				for _, t := range times {
					if t.After(cutoff) {
						fresh = append(fresh, t)
					}
				}
				if len(fresh) == 0 {
					delete(r.requests, key)
				} else {
					r.requests[key] = fresh
				}
			}
			r.mu.Unlock()
		}
	}()
}
