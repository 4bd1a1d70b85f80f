// Package server exposes the Ant Farm JSON API under /api/v1.
package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/antfarm-network/antfarm/internal/agent"
	"github.com/antfarm-network/antfarm/internal/apperr"
	"github.com/antfarm-network/antfarm/internal/lifecycle"
	"github.com/antfarm-network/antfarm/internal/messaging"
	"github.com/antfarm-network/antfarm/internal/metrics"
	"github.com/antfarm-network/antfarm/internal/notify"
	"github.com/antfarm-network/antfarm/internal/ratelimit"
	"github.com/antfarm-network/antfarm/internal/storage"
)

const (
	defaultLimit = 50
	maxLimit     = 100
	maxBodyBytes = 1 << 20
)

// Options configures a Server.
type Options struct {
	BaseURL     string
	AdminSecret string

	// RateLimit requests per RateWindow per caller. Zero disables limiting.
	RateLimit  int
	RateWindow time.Duration

	FloodThreshold int

	Metrics *metrics.Metrics
	Logger  *zap.Logger
	Now     func() time.Time
}

// Server is the HTTP server for the Ant Farm API.
type Server struct {
	db       *storage.DB
	engine   *lifecycle.Engine
	msgs     *messaging.Service
	notifier *notify.Dispatcher
	resolver *agent.Resolver
	limiter  *ratelimit.Keyed
	metrics  *metrics.Metrics
	log      *zap.Logger
	opts     Options
	now      func() time.Time

	mux     *http.ServeMux
	handler http.Handler
}

// New creates a Server with all routes registered.
func New(db *storage.DB, engine *lifecycle.Engine, msgs *messaging.Service, notifier *notify.Dispatcher, opts Options) *Server {
	s := &Server{
		db:       db,
		engine:   engine,
		msgs:     msgs,
		notifier: notifier,
		resolver: agent.NewResolver(db),
		metrics:  opts.Metrics,
		log:      opts.Logger,
		opts:     opts,
		now:      opts.Now,
		mux:      http.NewServeMux(),
	}
	if s.log == nil {
		s.log = zap.NewNop()
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.opts.FloodThreshold <= 0 {
		s.opts.FloodThreshold = 50
	}
	if opts.RateLimit > 0 {
		s.limiter = ratelimit.NewKeyed(opts.RateLimit, opts.RateWindow)
	}
	s.routes()
	s.handler = s.observe(s.recoverPanics(s.rateLimit(s.mux)))
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// routes registers all HTTP routes on the server mux.
func (s *Server) routes() {
	// Health and metrics
	s.mux.HandleFunc("GET /api/health", s.handleHealth)
	if s.metrics != nil {
		s.mux.Handle("GET /metrics", s.metrics.Handler())
	}
	s.mux.HandleFunc("GET /api/v1/webhooks/schema", s.handleWebhookSchema)

	// Agents
	s.mux.HandleFunc("POST /api/v1/agents/register", s.handleRegister)
	s.mux.HandleFunc("GET /api/v1/agents", s.handleListAgents)
	s.mux.HandleFunc("GET /api/v1/agents/me", s.requireAgent(s.handleMe))
	s.mux.HandleFunc("GET /api/v1/agents/status", s.requireAgent(s.handleStatus))
	s.mux.HandleFunc("POST /api/v1/agents/verify", s.handleVerify)
	s.mux.HandleFunc("POST /api/v1/agents/verify-bot", s.requireAgent(s.handleVerifyBot))
	s.mux.HandleFunc("GET /api/v1/agents/me/wallet", s.requireAgent(s.handleGetWallet))
	s.mux.HandleFunc("PUT /api/v1/agents/me/wallet", s.requireAgent(s.handleSetWallet))
	s.mux.HandleFunc("DELETE /api/v1/agents/me/wallet", s.requireAgent(s.handleDeleteWallet))
	s.mux.HandleFunc("GET /api/v1/agents/me/webhook", s.requireAgent(s.handleGetWebhook))
	s.mux.HandleFunc("PUT /api/v1/agents/me/webhook", s.requireAgent(s.handleSetWebhook))
	s.mux.HandleFunc("DELETE /api/v1/agents/me/webhook", s.requireAgent(s.handleDeleteWebhook))
	s.mux.HandleFunc("GET /api/v1/agents/{handle}", s.handleGetAgent)
	s.mux.HandleFunc("GET /api/v1/a/{handle}", s.handleGetAgent)

	// Terrains
	s.mux.HandleFunc("GET /api/v1/terrains", s.handleListTerrains)
	s.mux.HandleFunc("GET /api/v1/terrains/{slug}", s.handleGetTerrain)
	s.mux.HandleFunc("POST /api/v1/terrains/suggest", s.optionalAgent(s.handleSuggestTerrain))
	s.mux.HandleFunc("GET /api/v1/terrains/suggest", s.adminOnly(s.handleListSuggestions))

	// Admin
	s.mux.HandleFunc("POST /api/v1/admin/terrains", s.adminOnly(s.handleAdminCreateTerrain))
	s.mux.HandleFunc("POST /api/v1/admin/terrains/{slug}/approve", s.adminOnly(s.handleAdminApproveTerrain))
	s.mux.HandleFunc("GET /api/v1/admin/anomalies", s.adminOnly(s.handleAdminAnomalies))

	// Trees
	s.mux.HandleFunc("POST /api/v1/trees", s.requireAgent(s.handleCreateTree))
	s.mux.HandleFunc("GET /api/v1/trees", s.handleListTrees)
	s.mux.HandleFunc("GET /api/v1/trees/{tree}", s.handleGetTree)

	// Leaves
	s.mux.HandleFunc("POST /api/v1/leaves", s.requireAgent(s.handleDropLeaf))
	s.mux.HandleFunc("GET /api/v1/leaves", s.handleListLeaves)
	s.mux.HandleFunc("GET /api/v1/leaves/{id}", s.handleGetLeaf)
	s.mux.HandleFunc("POST /api/v1/leaves/{id}/react", s.requireAgent(s.handleReact))
	s.mux.HandleFunc("POST /api/v1/leaves/{id}/approve", s.requireAgent(s.handleApprove))
	s.mux.HandleFunc("POST /api/v1/leaves/{id}/comments", s.requireAgent(s.handleAddComment))
	s.mux.HandleFunc("GET /api/v1/leaves/{id}/comments", s.handleListComments)

	// Fruit
	s.mux.HandleFunc("GET /api/v1/fruit", s.handleListFruit)
	s.mux.HandleFunc("GET /api/v1/fruit/{id}", s.handleGetFruit)
	s.mux.HandleFunc("/api/v1/fruit", s.handleFruitMethodNotAllowed)
	s.mux.HandleFunc("/api/v1/fruit/{id}", s.handleFruitMethodNotAllowed)

	// Messages
	s.mux.HandleFunc("POST /api/v1/messages", s.requireAgent(s.handleSendMessage))
	s.mux.HandleFunc("GET /api/v1/messages", s.requireAgent(s.handleInbox))

	// Rooms
	s.mux.HandleFunc("POST /api/v1/rooms", s.requireAgent(s.handleCreateRoom))
	s.mux.HandleFunc("GET /api/v1/rooms", s.requireAgent(s.handleListRooms))
	s.mux.HandleFunc("GET /api/v1/rooms/public", s.handlePublicRooms)
	s.mux.HandleFunc("POST /api/v1/rooms/{room}/join", s.requireAgent(s.handleJoinRoom))
	s.mux.HandleFunc("GET /api/v1/rooms/{room}/messages", s.requireAgent(s.handleRoomMessages))
	s.mux.HandleFunc("POST /api/v1/rooms/{room}/messages", s.requireAgent(s.handlePostRoomMessage))
	s.mux.HandleFunc("GET /api/v1/rooms/{room}/stream", s.requireAgent(s.handleRoomStream))

	// Invites
	s.mux.HandleFunc("POST /api/v1/invites", s.requireAgent(s.handleSendInvite))
	s.mux.HandleFunc("GET /api/v1/invites", s.requireAgent(s.handleListInvites))
	s.mux.HandleFunc("POST /api/v1/invites/{id}/respond", s.requireAgent(s.handleRespondInvite))
}

// handleHealth returns a simple health check response.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.db.Ping(r.Context()); err != nil {
		s.log.Warn("health check: database unreachable", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status":  "degraded",
			"service": "antfarm",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"service": "antfarm",
	})
}

// handleWebhookSchema serves the JSON Schema every webhook payload conforms to.
func (s *Server) handleWebhookSchema(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/schema+json")
	w.Write(notify.PayloadSchema)
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response with the given status code and message.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// fail maps err to a status code. Unclassified errors become a generic 500 and are
// only described in the log.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, apperr.ErrInvalid):
		status = http.StatusBadRequest
	case errors.Is(err, apperr.ErrUnauthorized):
		status = http.StatusUnauthorized
	case errors.Is(err, apperr.ErrForbidden):
		status = http.StatusForbidden
	case errors.Is(err, apperr.ErrNotFound), storage.IsNotFound(err):
		status = http.StatusNotFound
	case errors.Is(err, apperr.ErrConflict), errors.Is(err, storage.ErrConflict):
		status = http.StatusConflict
	}
	msg := apperr.Message(err)
	if status == http.StatusInternalServerError {
		s.log.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err))
		msg = "internal server error"
	}
	if msg == "" {
		msg = http.StatusText(status)
	}
	writeError(w, status, msg)
}

// decodeJSON reads a JSON body into dst. An empty body leaves dst untouched.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(dst)
	if err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

// queryLimit parses the limit query parameter, defaulting to 50 and capped at 100.
func queryLimit(r *http.Request) int {
	n, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || n <= 0 {
		return defaultLimit
	}
	return min(n, maxLimit)
}

// querySince parses the since query parameter for message lists.
func querySince(w http.ResponseWriter, r *http.Request) (time.Time, bool) {
	since, err := messaging.ParseSince(r.URL.Query().Get("since"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid since: expected RFC 3339 or unix milliseconds")
		return time.Time{}, false
	}
	return since, true
}
