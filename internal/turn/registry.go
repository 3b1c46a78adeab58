package turn

import (
	"context"
	"errors"
	"sync"

	"github.com/kalambet/sunday/internal/chat"
	"github.com/kalambet/sunday/internal/storage"
)

// Loader reads a stored thread. It returns storage.ErrNotFound for a thread
// that does not exist yet.
type Loader func(ctx context.Context, userID, threadID string) (chat.Thread, error)

type threadKey struct {
	userID, threadID string
}

// Registry keeps one Orchestrator per (user, thread) so that cancel and retry
// requests reach the operation running on that thread.
type Registry struct {
	deps Deps
	load Loader

	mu      sync.Mutex
	orchs   map[threadKey]*Orchestrator
	retries map[threadKey]func(context.Context) Result
}

// NewRegistry creates a Registry that builds orchestrators from deps and
// loads their threads with load.
func NewRegistry(deps Deps, load Loader) *Registry {
	return &Registry{
		deps:    deps,
		load:    load,
		orchs:   make(map[threadKey]*Orchestrator),
		retries: make(map[threadKey]func(context.Context) Result),
	}
}

// Get returns the orchestrator for the thread, loading the thread on first
// use. A thread that is not stored yet starts empty.
func (r *Registry) Get(ctx context.Context, userID, threadID string) (*Orchestrator, error) {
	k := threadKey{userID, threadID}

	r.mu.Lock()
	o, ok := r.orchs[k]
	r.mu.Unlock()
	if ok {
		return o, nil
	}

	thread, err := r.load(ctx, userID, threadID)
	if errors.Is(err, storage.ErrNotFound) {
		thread, err = chat.Thread{ID: threadID, UserID: userID}, nil
	}
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if o, ok := r.orchs[k]; ok {
		return o, nil
	}
	o = New(userID, thread, r.deps)
	r.orchs[k] = o
	return o, nil
}

// Lookup returns the orchestrator for the thread if one is loaded.
func (r *Registry) Lookup(userID, threadID string) (*Orchestrator, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orchs[threadKey{userID, threadID}]
	return o, ok
}

// Forget drops the orchestrator and any pending retry for the thread.
func (r *Registry) Forget(userID, threadID string) {
	k := threadKey{userID, threadID}
	r.mu.Lock()
	delete(r.orchs, k)
	delete(r.retries, k)
	r.mu.Unlock()
}

// Record remembers the retry of a failed result for the thread, replacing
// any earlier one. Results without a retry clear it.
func (r *Registry) Record(userID, threadID string, res Result) {
	k := threadKey{userID, threadID}
	r.mu.Lock()
	defer r.mu.Unlock()
	if res.Retry == nil {
		delete(r.retries, k)
		return
	}
	r.retries[k] = res.Retry
}

// TakeRetry removes and returns the pending retry for the thread.
func (r *Registry) TakeRetry(userID, threadID string) (func(context.Context) Result, bool) {
	k := threadKey{userID, threadID}
	r.mu.Lock()
	defer r.mu.Unlock()
	fn, ok := r.retries[k]
	delete(r.retries, k)
	return fn, ok
}
