package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/cors"

	"github.com/h1v3-io/skycast/internal/agent"
	"github.com/h1v3-io/skycast/internal/httputil"
	"github.com/h1v3-io/skycast/internal/logbuf"
	"github.com/h1v3-io/skycast/pkg/protocol"
)

const (
	defaultLogLimit = 200
	// API chats are keyed apart from connector chats.
	chatKeyPrefix = "api:"
)

// LogQuerier abstracts log entry querying to avoid coupling to logbuf.Buffer directly.
type LogQuerier interface {
	Query(f logbuf.Filter) []logbuf.Entry
}

// ChatService is what the API server needs from the session manager.
type ChatService interface {
	Exchange(ctx context.Context, chatID, query string, s agent.Surface) (agent.Outcome, error)
	Reset(chatID string) error
	History(chatID string) ([]protocol.DisplayTurn, error)
}

// Config holds API server configuration.
type Config struct {
	Addr        string   // host:port
	Key         string   // API key for Bearer auth
	CORSOrigins []string // empty = "*"
}

// Server is the skycast REST API server.
type Server struct {
	chats  ChatService
	cfg    Config
	logger *slog.Logger
	logs   LogQuerier
	mux    *http.ServeMux
	srv    *http.Server
}

// NewServer creates a new API server. logs may be nil.
func NewServer(chats ChatService, cfg Config, logger *slog.Logger, logs LogQuerier) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		chats:  chats,
		cfg:    cfg,
		logger: logger,
		logs:   logs,
	}
	mux := http.NewServeMux()
	s.mux = mux
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("POST /api/chats", s.requireAuth(s.handleCreateChat))
	mux.HandleFunc("GET /api/chats/{id}", s.requireAuth(s.handleGetChat))
	mux.HandleFunc("DELETE /api/chats/{id}", s.requireAuth(s.handleDeleteChat))
	mux.HandleFunc("POST /api/chats/{id}/messages", s.requireAuth(s.handlePostMessage))
	mux.HandleFunc("GET /api/logs", s.requireAuth(s.handleGetLogs))

	origins := cfg.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	corsHandler := cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
	})

	s.srv = &http.Server{
		Addr:              cfg.Addr,
		Handler:           corsHandler.Handler(s.recovery(mux)),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Start begins listening. Blocks until context is cancelled.
func (s *Server) Start(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.srv.Shutdown(shutCtx)
	}()

	s.logger.Info("api server starting", "addr", s.srv.Addr)
	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("api server: %w", err)
	}
	return nil
}

// Handle mounts an extra handler, such as an inbound webhook endpoint.
// Authentication is left to h.
func (s *Server) Handle(pattern string, h http.Handler) {
	s.mux.Handle(pattern, h)
}

// Handler returns the underlying http.Handler for testing.
func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

// --- Middleware ---

func (s *Server) recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic in handler", "path", r.URL.Path, "panic", rec)
				writeError(w, http.StatusInternalServerError, "internal error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.Key == "" {
			next(w, r)
			return
		}
		if !httputil.BearerMatches(r, s.cfg.Key) {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r)
	}
}

// --- Handlers ---

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleCreateChat(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusCreated, map[string]string{"chat_id": uuid.NewString()})
}

type chatResponse struct {
	ChatID string                 `json:"chat_id"`
	Turns  []protocol.DisplayTurn `json:"turns"`
}

func (s *Server) handleGetChat(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	turns, err := s.chats.History(chatKeyPrefix + id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if turns == nil {
		turns = []protocol.DisplayTurn{}
	}
	writeJSON(w, http.StatusOK, chatResponse{ChatID: id, Turns: turns})
}

func (s *Server) handleDeleteChat(w http.ResponseWriter, r *http.Request) {
	if err := s.chats.Reset(chatKeyPrefix + r.PathValue("id")); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type postMessageRequest struct {
	Content string `json:"content"`
}

type exchangeResponse struct {
	ExchangeID string                 `json:"exchange_id"`
	State      string                 `json:"state"`
	Turns      []protocol.DisplayTurn `json:"turns"`
	Errors     []string               `json:"errors"`
}

func (s *Server) handlePostMessage(w http.ResponseWriter, r *http.Request) {
	var req postMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		writeError(w, http.StatusBadRequest, "content is required")
		return
	}

	rec := &recorder{turns: []protocol.DisplayTurn{}, errors: []string{}}
	out, err := s.chats.Exchange(r.Context(), chatKeyPrefix+r.PathValue("id"), req.Content, rec)
	if err != nil {
		s.logger.Error("api exchange failed", "chat_id", r.PathValue("id"), "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, exchangeResponse{
		ExchangeID: out.ExchangeID,
		State:      out.State.String(),
		Turns:      rec.turns,
		Errors:     rec.errors,
	})
}

func (s *Server) handleGetLogs(w http.ResponseWriter, r *http.Request) {
	if s.logs == nil {
		writeJSON(w, http.StatusOK, []logbuf.Entry{})
		return
	}
	q := r.URL.Query()

	f := logbuf.Filter{Limit: defaultLogLimit, MinLevel: slog.LevelDebug, Exchange: q.Get("exchange")}
	if l := q.Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 {
			f.Limit = n
		}
	}
	if lvl := q.Get("level"); lvl != "" {
		parsed, err := logbuf.ParseLevel(lvl)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		f.MinLevel = parsed
	}
	if since := q.Get("since"); since != "" {
		t, err := parseSince(since)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		f.Since = t
	}

	entries := s.logs.Query(f)
	if entries == nil {
		entries = []logbuf.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// parseSince accepts Unix milliseconds or RFC 3339.
func parseSince(s string) (time.Time, error) {
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.UnixMilli(ms), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid since %q: want unix milliseconds or RFC 3339", s)
	}
	return t, nil
}

// recorder is the agent.Surface for one API exchange.
type recorder struct {
	mu     sync.Mutex
	turns  []protocol.DisplayTurn
	errors []string
}

func (r *recorder) Render(turn protocol.DisplayTurn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.turns = append(r.turns, turn)
}

func (r *recorder) ShowError(msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errors = append(r.errors, msg)
}

func (r *recorder) Busy(string) func() { return func() {} }

// --- Helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
