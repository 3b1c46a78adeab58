package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/kalambet/sunday/internal/chat"
	"github.com/kalambet/sunday/internal/mail"
	"github.com/kalambet/sunday/internal/storage"
	"github.com/kalambet/sunday/internal/turn"
)

const (
	maxRequestBodySize = 1 << 20 // 1MB
	defaultListLimit   = 50

	// UserHeader selects the acting user. Requests without it act as the
	// configured default user.
	UserHeader = "X-Sunday-User"
)

// AppDeps are the collaborators of the thread API.
type AppDeps struct {
	Store    *storage.Store
	Registry *turn.Registry
	// AI returns the generation parameters for a new operation.
	AI          func() chat.AIConfig
	Token       string
	DefaultUser string
	Logger      *slog.Logger

	sinks *sinks
}

// AnswerRequest is the body of POST /threads/{id}/answer.
type AnswerRequest struct {
	Question string    `json:"question"`
	Mode     chat.Mode `json:"mode,omitempty"`
	Context  string    `json:"context,omitempty"`
}

// Event is one NDJSON line of an answer, rewrite or retry response. All
// lines but the last are updates; the last carries the result.
type Event struct {
	Type   string       `json:"type"`
	Update *turn.Update `json:"update,omitempty"`
	Result *turn.Result `json:"result,omitempty"`
}

// Event types.
const (
	EventUpdate = "update"
	EventResult = "result"
)

// IntegrationRequest is the body of PUT /integrations/gmail.
type IntegrationRequest struct {
	AccessToken string `json:"access_token"`
}

// IntegrationStatus is returned by GET /integrations/gmail.
type IntegrationStatus struct {
	Provider  string     `json:"provider"`
	Linked    bool       `json:"linked"`
	UpdatedAt *time.Time `json:"updated_at,omitempty"`
}

// NewAppHandler returns the thread and integration API. When deps.Token is
// empty the API is served without authentication.
func NewAppHandler(deps AppDeps) http.Handler {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	deps.Logger = deps.Logger.With("component", "api")
	deps.sinks = &sinks{m: make(map[string]*sink)}

	r := chi.NewRouter()
	if deps.Token != "" {
		r.Use(BearerAuth(deps.Token))
	}

	r.Get("/threads", handleListThreads(deps))
	r.Post("/threads", handleCreateThread(deps))
	r.Get("/threads/{id}", handleGetThread(deps))
	r.Delete("/threads/{id}", handleDeleteThread(deps))
	r.Post("/threads/{id}/answer", handleAnswer(deps))
	r.Post("/threads/{id}/rewrite", handleRewrite(deps))
	r.Post("/threads/{id}/retry", handleRetry(deps))
	r.Post("/threads/{id}/cancel", handleCancel(deps))

	r.Put("/integrations/gmail", handlePutIntegration(deps))
	r.Get("/integrations/gmail", handleGetIntegration(deps))
	r.Delete("/integrations/gmail", handleDeleteIntegration(deps))

	return r
}

// NewRouter composes the served surface: an unauthenticated health check,
// the completion relay at /api/chat when relay is non-nil, and the thread API.
func NewRouter(deps AppDeps, relay http.Handler) http.Handler {
	top := chi.NewRouter()
	top.Get("/health", handleHealth)
	if relay != nil {
		if deps.Token != "" {
			relay = BearerAuth(deps.Token)(relay)
		}
		top.Handle("/api/chat", relay)
	}
	top.Mount("/", NewAppHandler(deps))
	return top
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func userID(deps AppDeps, r *http.Request) string {
	if u := strings.TrimSpace(r.Header.Get(UserHeader)); u != "" {
		return u
	}
	return deps.DefaultUser
}

func handleListThreads(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := defaultListLimit
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "limit must be a positive integer")
				return
			}
			limit = min(n, 500)
		}

		threads, err := deps.Store.ListThreads(r.Context(), userID(deps, r), limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list threads: %v", err)
			return
		}
		if threads == nil {
			threads = []storage.ThreadSummary{}
		}
		writeJSON(w, http.StatusOK, threads)
	}
}

func handleCreateThread(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req struct {
			Title string `json:"title"`
		}
		if r.ContentLength != 0 {
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
				return
			}
		}

		t := chat.Thread{
			ID:       uuid.New().String(),
			UserID:   userID(deps, r),
			Title:    req.Title,
			Messages: []chat.Message{},
			Chats:    []chat.Turn{},
		}
		if err := deps.Store.CreateThread(r.Context(), &t); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to create thread: %v", err)
			return
		}
		writeJSON(w, http.StatusCreated, t)
	}
}

func handleGetThread(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, id := userID(deps, r), chi.URLParam(r, "id")

		if o, ok := deps.Registry.Lookup(user, id); ok {
			writeJSON(w, http.StatusOK, o.Snapshot())
			return
		}

		t, err := deps.Store.GetThread(r.Context(), user, id)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "thread not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get thread: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, t)
	}
}

func handleDeleteThread(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, id := userID(deps, r), chi.URLParam(r, "id")

		o, loaded := deps.Registry.Lookup(user, id)
		if loaded && o.Busy() {
			httpError(w, http.StatusConflict, "conflict", "thread has an operation in flight")
			return
		}

		// Threads whose first turn never persisted exist only in memory.
		err := deps.Store.DeleteThread(r.Context(), user, id)
		if errors.Is(err, storage.ErrNotFound) && !loaded {
			httpError(w, http.StatusNotFound, "not_found", "thread not found")
			return
		}
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to delete thread: %v", err)
			return
		}
		deps.Registry.Forget(user, id)
		deps.sinks.forget(user, id)
		w.WriteHeader(http.StatusNoContent)
	}
}

func handleAnswer(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req AnswerRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if strings.TrimSpace(req.Question) == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "question is required")
			return
		}
		switch req.Mode {
		case "", chat.ModeChat, chat.ModeImage:
		default:
			httpError(w, http.StatusBadRequest, "invalid_request_error", "unknown mode %q", req.Mode)
			return
		}

		runOperation(deps, w, r, func(ctx context.Context, o *turn.Orchestrator, observe turn.Observer) turn.Result {
			return o.Answer(ctx, turn.AnswerRequest{
				Question: req.Question,
				Mode:     req.Mode,
				Context:  req.Context,
				AI:       deps.AI(),
				Observe:  observe,
			})
		})
	}
}

func handleRewrite(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		runOperation(deps, w, r, func(ctx context.Context, o *turn.Orchestrator, observe turn.Observer) turn.Result {
			return o.Rewrite(ctx, turn.RewriteRequest{AI: deps.AI(), Observe: observe})
		})
	}
}

// handleRetry re-runs the last failed operation on the thread.
func handleRetry(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, id := userID(deps, r), chi.URLParam(r, "id")
		retry, ok := deps.Registry.TakeRetry(user, id)
		if !ok {
			httpError(w, http.StatusConflict, "conflict", "nothing to retry")
			return
		}
		runOperation(deps, w, r, func(ctx context.Context, _ *turn.Orchestrator, _ turn.Observer) turn.Result {
			return retry(ctx)
		})
	}
}

func handleCancel(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if o, ok := deps.Registry.Lookup(userID(deps, r), chi.URLParam(r, "id")); ok {
			o.Cancel()
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

type operation func(ctx context.Context, o *turn.Orchestrator, observe turn.Observer) turn.Result

// runOperation streams the operation's updates as NDJSON and ends with the
// result. A client that disconnects cancels the operation.
func runOperation(deps AppDeps, w http.ResponseWriter, r *http.Request, op operation) {
	user, id := userID(deps, r), chi.URLParam(r, "id")
	o, err := deps.Registry.Get(r.Context(), user, id)
	if err != nil {
		httpError(w, http.StatusInternalServerError, "api_error", "failed to load thread: %v", err)
		return
	}

	sk := deps.sinks.get(user, id)

	flusher, _ := w.(http.Flusher)
	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	enc := json.NewEncoder(w)
	write := func(ev Event) {
		if err := enc.Encode(ev); err != nil {
			deps.Logger.Debug("writing event failed", "thread_id", id, "error", err)
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
	}

	sk.attach(func(u turn.Update) {
		write(Event{Type: EventUpdate, Update: &u})
	})
	res := op(r.Context(), o, sk.observe)
	sk.attach(nil)

	deps.Registry.Record(user, id, res)
	write(Event{Type: EventResult, Result: &res})
}

// sink forwards updates to the response currently attached to a thread.
// Retry closures keep the sink they were created with, so a retry streams to
// the request that triggered it.
type sink struct {
	mu sync.Mutex
	fn turn.Observer
}

func (s *sink) attach(fn turn.Observer) {
	s.mu.Lock()
	s.fn = fn
	s.mu.Unlock()
}

func (s *sink) observe(u turn.Update) {
	s.mu.Lock()
	fn := s.fn
	s.mu.Unlock()
	if fn != nil {
		fn(u)
	}
}

type sinks struct {
	mu sync.Mutex
	m  map[string]*sink
}

func sinkKey(user, threadID string) string {
	return user + "\x00" + threadID
}

func (s *sinks) forget(user, threadID string) {
	s.mu.Lock()
	delete(s.m, sinkKey(user, threadID))
	s.mu.Unlock()
}

func (s *sinks) get(user, threadID string) *sink {
	k := sinkKey(user, threadID)
	s.mu.Lock()
	defer s.mu.Unlock()
	sk, ok := s.m[k]
	if !ok {
		sk = &sink{}
		s.m[k] = sk
	}
	return sk
}

func handlePutIntegration(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req IntegrationRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.AccessToken == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "access_token is required")
			return
		}

		err := deps.Store.PutIntegration(r.Context(), storage.Integration{
			UserID:      userID(deps, r),
			Provider:    mail.Provider,
			AccessToken: req.AccessToken,
		})
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to save integration: %v", err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func handleGetIntegration(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		in, err := deps.Store.GetIntegration(r.Context(), userID(deps, r), mail.Provider)
		if errors.Is(err, storage.ErrNotFound) {
			writeJSON(w, http.StatusOK, IntegrationStatus{Provider: mail.Provider})
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get integration: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, IntegrationStatus{Provider: mail.Provider, Linked: true, UpdatedAt: &in.UpdatedAt})
	}
}

func handleDeleteIntegration(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := deps.Store.DeleteIntegration(r.Context(), userID(deps, r), mail.Provider)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "gmail is not linked")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to delete integration: %v", err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
