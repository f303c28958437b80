// Package web implements the HTTP API for the concierge: conversation
// lifecycle, signal submission, state queries, an HTML transcript view,
// and a WebSocket feed of operational events.
package web

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/voyagehq/concierge-agent/internal/buildinfo"
	"github.com/voyagehq/concierge-agent/internal/conversation"
	"github.com/voyagehq/concierge-agent/internal/events"
	"github.com/voyagehq/concierge-agent/internal/orchestrator"
)

// writeJSON encodes v as JSON to w, logging any errors at debug level.
// Errors here typically mean the client disconnected mid-response,
// which is not actionable but worth tracking for debugging.
func writeJSON(w http.ResponseWriter, v any, logger *slog.Logger) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("failed to write JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string, logger *slog.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(map[string]string{"error": msg}); err != nil {
		logger.Debug("failed to write JSON error", "error", err)
	}
}

// Server is the HTTP API server.
type Server struct {
	address      string
	port         int
	manager      *orchestrator.Manager
	store        orchestrator.RestorableStore
	bus          *events.Bus
	systemPrompt string
	logger       *slog.Logger
	server       *http.Server
	upgrader     websocket.Upgrader
}

// NewServer creates a new API server. store serves transcript queries
// for sessions that no longer have a live engine.
func NewServer(address string, port int, manager *orchestrator.Manager, store orchestrator.RestorableStore, bus *events.Bus, systemPrompt string, logger *slog.Logger) *Server {
	return &Server{
		address:      address,
		port:         port,
		manager:      manager,
		store:        store,
		bus:          bus,
		systemPrompt: systemPrompt,
		logger:       logger.With("component", "web"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
	}
}

// Handler returns the route table. Exposed separately from Start so
// tests can drive it with httptest.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /v1/conversations", s.handleCreate)
	mux.HandleFunc("GET /v1/conversations", s.handleList)
	mux.HandleFunc("GET /v1/conversations/{id}", s.handleGet)
	mux.HandleFunc("GET /v1/conversations/{id}/status", s.handleStatus)
	mux.HandleFunc("GET /v1/conversations/{id}/approvals", s.handleApprovalsList)
	mux.HandleFunc("GET /v1/conversations/{id}/transcript", s.handleTranscript)
	mux.HandleFunc("POST /v1/conversations/{id}/messages", s.handleMessage)
	mux.HandleFunc("POST /v1/conversations/{id}/approvals", s.handleApprove)
	mux.HandleFunc("PUT /v1/conversations/{id}/goals", s.handleGoals)

	mux.HandleFunc("GET /v1/events", s.handleEvents)

	mux.HandleFunc("GET /v1/version", s.handleVersion)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /", s.handleRoot)

	return s.withLogging(mux)
}

// Start begins serving HTTP requests and blocks until the listener
// fails or Shutdown is called.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", s.address, s.port),
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second, // Long for the WebSocket feed
	}

	addr := s.address
	if addr == "" {
		addr = "0.0.0.0"
	}
	s.logger.Info("starting API server", "address", addr, "port", s.port)
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
		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start),
		)
	})
}

// --- conversation lifecycle ---

type createRequest struct {
	SessionID    string              `json:"sessionId"`
	Goals        []conversation.Goal `json:"goals"`
	SystemPrompt string              `json:"systemPrompt"`
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body", s.logger)
		return
	}
	if req.SessionID == "" {
		req.SessionID = uuid.NewString()
	}
	prompt := req.SystemPrompt
	if prompt == "" {
		prompt = s.systemPrompt
	}

	c, err := s.manager.Start(req.SessionID, req.Goals, prompt)
	if err != nil {
		writeError(w, http.StatusConflict, err.Error(), s.logger)
		return
	}

	w.WriteHeader(http.StatusCreated)
	writeJSON(w, c.Snapshot(), s.logger)
}

type conversationSummary struct {
	SessionID string              `json:"sessionId"`
	Status    conversation.Status `json:"status"`
	Messages  int                 `json:"messages"`
	UpdatedAt time.Time           `json:"updatedAt"`
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	summaries := []conversationSummary{}
	for _, c := range s.manager.List() {
		snap := c.Snapshot()
		summaries = append(summaries, conversationSummary{
			SessionID: snap.SessionID,
			Status:    snap.Status,
			Messages:  len(snap.Messages),
			UpdatedAt: snap.UpdatedAt,
		})
	}
	writeJSON(w, summaries, s.logger)
}

// loadState returns the session state from the live engine or, for
// terminal sessions, from the snapshot store.
func (s *Server) loadState(sessionID string) (*conversation.State, error) {
	if c := s.manager.Get(sessionID); c != nil {
		snap := c.Snapshot()
		return &snap, nil
	}
	if s.store == nil {
		return nil, nil
	}
	return s.store.Load(sessionID)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	state, err := s.loadState(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error(), s.logger)
		return
	}
	if state == nil {
		writeError(w, http.StatusNotFound, "conversation not found", s.logger)
		return
	}
	writeJSON(w, state, s.logger)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	state, err := s.loadState(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error(), s.logger)
		return
	}
	if state == nil {
		writeError(w, http.StatusNotFound, "conversation not found", s.logger)
		return
	}
	writeJSON(w, map[string]any{
		"sessionId":   state.SessionID,
		"status":      state.Status,
		"currentGoal": state.CurrentGoal,
		"messages":    len(state.Messages),
	}, s.logger)
}

func (s *Server) handleApprovalsList(w http.ResponseWriter, r *http.Request) {
	c := s.manager.Get(r.PathValue("id"))
	if c == nil {
		writeError(w, http.StatusNotFound, "conversation not found", s.logger)
		return
	}
	pending := c.PendingApprovals()
	if pending == nil {
		pending = []string{}
	}
	writeJSON(w, map[string]any{"pending": pending}, s.logger)
}

func (s *Server) handleTranscript(w http.ResponseWriter, r *http.Request) {
	state, err := s.loadState(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error(), s.logger)
		return
	}
	if state == nil {
		writeError(w, http.StatusNotFound, "conversation not found", s.logger)
		return
	}

	html, err := RenderTranscript(state)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error(), s.logger)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(html)
}

// --- signal submission ---

type messageRequest struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	c := s.manager.Get(r.PathValue("id"))
	if c == nil {
		writeError(w, http.StatusNotFound, "conversation not found", s.logger)
		return
	}

	var req messageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body", s.logger)
		return
	}
	if req.Text == "" {
		writeError(w, http.StatusBadRequest, "text is required", s.logger)
		return
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	if err := c.SubmitMessage(req.ID, req.Text); err != nil {
		writeError(w, http.StatusConflict, err.Error(), s.logger)
		return
	}
	w.WriteHeader(http.StatusAccepted)
	writeJSON(w, map[string]string{"id": req.ID, "status": "queued"}, s.logger)
}

type approvalRequest struct {
	ID         string `json:"id"`
	ToolCallID string `json:"toolCallId"`
	Approved   bool   `json:"approved"`
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	c := s.manager.Get(r.PathValue("id"))
	if c == nil {
		writeError(w, http.StatusNotFound, "conversation not found", s.logger)
		return
	}

	var req approvalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body", s.logger)
		return
	}
	if req.ToolCallID == "" {
		writeError(w, http.StatusBadRequest, "toolCallId is required", s.logger)
		return
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	if err := c.ApproveTool(req.ID, req.ToolCallID, req.Approved); err != nil {
		writeError(w, http.StatusConflict, err.Error(), s.logger)
		return
	}
	writeJSON(w, map[string]any{"id": req.ID, "approved": req.Approved}, s.logger)
}

type goalsRequest struct {
	ID    string              `json:"id"`
	Goals []conversation.Goal `json:"goals"`
}

func (s *Server) handleGoals(w http.ResponseWriter, r *http.Request) {
	c := s.manager.Get(r.PathValue("id"))
	if c == nil {
		writeError(w, http.StatusNotFound, "conversation not found", s.logger)
		return
	}

	var req goalsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body", s.logger)
		return
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	if err := c.UpdateGoals(req.ID, req.Goals); err != nil {
		writeError(w, http.StatusConflict, err.Error(), s.logger)
		return
	}
	writeJSON(w, map[string]any{"id": req.ID, "goals": len(req.Goals)}, s.logger)
}

// --- event feed ---

// handleEvents upgrades to WebSocket and streams bus events as JSON.
// Slow clients miss events rather than backpressuring the engine.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	ch := s.bus.Subscribe(64)
	defer s.bus.Unsubscribe(ch)

	// Reader goroutine: drains control frames and signals client close.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-closed:
			return
		case evt := <-ch:
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteJSON(evt); err != nil {
				s.logger.Debug("websocket write failed", "error", err)
				return
			}
		}
	}
}

// --- health and version ---

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{
		"name":    "concierge",
		"version": buildinfo.Version,
		"status":  "ok",
	}, s.logger)
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, buildinfo.Info(), s.logger)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "healthy"}, s.logger)
}
