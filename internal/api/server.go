// Package api implements the chat HTTP API.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kaustubhduse/support-agent/internal/agent"
	"github.com/kaustubhduse/support-agent/internal/buildinfo"
	"github.com/kaustubhduse/support-agent/internal/memory"
	"github.com/kaustubhduse/support-agent/internal/observe"
	"github.com/kaustubhduse/support-agent/internal/router"
)

// writeJSON encodes v as JSON to w with a 200 status.
func writeJSON(w http.ResponseWriter, v any, logger *slog.Logger) {
	writeJSONStatus(w, http.StatusOK, v, logger)
}

// writeJSONStatus encodes v as JSON to w, logging any errors at debug
// level. Errors here typically mean the client disconnected mid-response.
func writeJSONStatus(w http.ResponseWriter, code int, v any, logger *slog.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("failed to write JSON response", "error", err)
	}
}

// ChatService answers one user message.
type ChatService interface {
	HandleIncomingMessage(ctx context.Context, conversationID, text string) string
}

// ConversationStore exposes stored conversations to the API.
type ConversationStore interface {
	History(ctx context.Context, conversationID string) ([]memory.Message, error)
	Conversation(ctx context.Context, id string) (*memory.Conversation, error)
	ListConversations(ctx context.Context) ([]memory.Conversation, error)
	DeleteConversation(ctx context.Context, id string) error
}

// RouterInspector exposes routing decisions for introspection.
type RouterInspector interface {
	Stats() router.Stats
	AuditLog(limit int) []router.Decision
	Explain(requestID string) *router.Decision
}

// Server is the HTTP API server.
type Server struct {
	addr          string
	chat          ChatService
	conversations ConversationStore
	router        RouterInspector
	logger        *slog.Logger

	allowedOrigins []string
	limiter        *RateLimiter
	metrics        *observe.Metrics
	metricsHandler http.Handler

	server *http.Server
}

// NewServer creates a new API server listening on addr.
func NewServer(addr string, chat ChatService, conversations ConversationStore, rtr RouterInspector, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		addr:          addr,
		chat:          chat,
		conversations: conversations,
		router:        rtr,
		logger:        logger.With("component", "api"),
		metrics:       observe.DefaultMetrics(),
	}
}

// SetCORS sets the browser origins allowed to call the API.
func (s *Server) SetCORS(origins []string) {
	s.allowedOrigins = origins
}

// SetRateLimiter limits /api/ requests per client.
func (s *Server) SetRateLimiter(l *RateLimiter) {
	s.limiter = l
}

// SetMetrics sets the instruments recorded by the request middleware and
// the handler served at /metrics. A nil handler leaves /metrics
// unregistered.
func (s *Server) SetMetrics(m *observe.Metrics, handler http.Handler) {
	if m != nil {
		s.metrics = m
	}
	s.metricsHandler = handler
}

// Handler returns the complete middleware chain around the API routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Chat
	mux.HandleFunc("POST /api/chat/messages", s.handleSendMessage)
	mux.HandleFunc("GET /api/chat/conversations", s.handleConversationList)
	mux.HandleFunc("GET /api/chat/conversations/{id}", s.handleConversationGet)
	mux.HandleFunc("DELETE /api/chat/conversations/{id}", s.handleConversationDelete)

	// Agent catalogue
	mux.HandleFunc("GET /api/agents", s.handleAgents)
	mux.HandleFunc("GET /api/agents/{type}/capabilities", s.handleAgentCapabilities)

	// Router introspection
	mux.HandleFunc("GET /api/router/stats", s.handleRouterStats)
	mux.HandleFunc("GET /api/router/audit", s.handleRouterAudit)
	mux.HandleFunc("GET /api/router/explain/{requestId}", s.handleRouterExplain)

	// Health
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/version", s.handleVersion)

	if s.metricsHandler != nil {
		mux.Handle("GET /metrics", s.metricsHandler)
	}

	var h http.Handler = observe.Middleware(s.metrics)(mux)
	if s.limiter != nil {
		h = s.limiter.Middleware("/api/", s.logger)(h)
	}
	h = s.withCORS(h)
	h = s.withRecovery(h)
	return s.withLogging(h)
}

// Start begins serving HTTP requests. It returns http.ErrServerClosed
// after Shutdown.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		BaseContext:  func(_ net.Listener) context.Context { return ctx },
	}

	s.logger.Info("starting API server", "address", s.addr)
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start),
		)
	})
}

// withRecovery turns a handler panic into a 500.
func (s *Server) withRecovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			s.logger.Error("handler panic", "method", r.Method, "path", r.URL.Path, "panic", rec)
			writeJSONStatus(w, http.StatusInternalServerError, map[string]any{
				"success": false,
				"message": "Internal server error",
			}, s.logger)
		}()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) errorResponse(w http.ResponseWriter, code int, message string) {
	writeJSONStatus(w, code, map[string]string{"error": message}, s.logger)
}

// Chat handlers

// SendMessageRequest is the body of POST /api/chat/messages.
type SendMessageRequest struct {
	ConversationID string `json:"conversationId"`
	Message        string `json:"message"`
}

// SendMessageResponse carries the assistant's reply.
type SendMessageResponse struct {
	Reply          string `json:"reply"`
	ConversationID string `json:"conversationId"`
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var req SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		s.errorResponse(w, http.StatusBadRequest, "message is required")
		return
	}
	if req.ConversationID == "" {
		req.ConversationID = uuid.NewString()
	}

	reply := s.chat.HandleIncomingMessage(r.Context(), req.ConversationID, req.Message)
	writeJSON(w, SendMessageResponse{Reply: reply, ConversationID: req.ConversationID}, s.logger)
}

func (s *Server) handleConversationList(w http.ResponseWriter, r *http.Request) {
	convs, err := s.conversations.ListConversations(r.Context())
	if err != nil {
		s.logger.Error("list conversations failed", "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "failed to list conversations")
		return
	}
	writeJSON(w, convs, s.logger)
}

func (s *Server) handleConversationGet(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	msgs, err := s.conversations.History(r.Context(), id)
	if err != nil {
		s.logger.Error("load conversation failed", "conversation_id", id, "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "failed to load conversation")
		return
	}
	writeJSON(w, msgs, s.logger)
}

func (s *Server) handleConversationDelete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	conv, err := s.conversations.Conversation(r.Context(), id)
	if err == nil && conv == nil {
		s.errorResponse(w, http.StatusNotFound, "conversation not found")
		return
	}
	if err == nil {
		err = s.conversations.DeleteConversation(r.Context(), id)
	}
	if err != nil {
		s.logger.Error("delete conversation failed", "conversation_id", id, "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "failed to delete conversation")
		return
	}

	s.logger.Info("conversation deleted", "conversation_id", id)
	writeJSON(w, map[string]bool{"success": true}, s.logger)
}

// Agent catalogue handlers

func (s *Server) handleAgents(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, agent.Catalog(), s.logger)
}

func (s *Server) handleAgentCapabilities(w http.ResponseWriter, r *http.Request) {
	caps, ok := agent.CapabilitiesFor(r.PathValue("type"))
	if !ok {
		s.errorResponse(w, http.StatusNotFound, "Agent type not found")
		return
	}
	writeJSON(w, caps, s.logger)
}

// Router introspection handlers

func (s *Server) handleRouterStats(w http.ResponseWriter, r *http.Request) {
	if s.router == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "router not configured")
		return
	}
	writeJSON(w, s.router.Stats(), s.logger)
}

func (s *Server) handleRouterAudit(w http.ResponseWriter, r *http.Request) {
	if s.router == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "router not configured")
		return
	}

	decisions := s.router.AuditLog(parseIntParam(r, "limit", 20))
	writeJSON(w, map[string]any{
		"count":     len(decisions),
		"decisions": decisions,
	}, s.logger)
}

func (s *Server) handleRouterExplain(w http.ResponseWriter, r *http.Request) {
	if s.router == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "router not configured")
		return
	}

	decision := s.router.Explain(r.PathValue("requestId"))
	if decision == nil {
		s.errorResponse(w, http.StatusNotFound, "decision not found")
		return
	}
	writeJSON(w, decision, s.logger)
}

// Health handlers

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if _, err := w.Write([]byte("OK")); err != nil {
		s.logger.Debug("failed to write health response", "error", err)
	}
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, buildinfo.RuntimeInfo(), s.logger)
}

func parseIntParam(r *http.Request, name string, defaultVal int) int {
	s := r.URL.Query().Get(name)
	if s == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return defaultVal
	}
	return n
}
