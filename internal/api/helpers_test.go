package api

import (
	"context"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/kalambet/sunday/internal/chat"
	"github.com/kalambet/sunday/internal/completion"
	"github.com/kalambet/sunday/internal/storage"
	"github.com/kalambet/sunday/internal/turn"
)

const testUser = "local"

// scriptedBackend answers each call with the next scripted response; the
// last one repeats.
type scriptedBackend struct {
	mu        sync.Mutex
	responses []scripted
	requests  []completion.Request
}

type scripted struct {
	body string
	err  error
	// block holds the stream open after body until the request is cancelled.
	block bool
}

func (b *scriptedBackend) Stream(ctx context.Context, req completion.Request) (io.ReadCloser, error) {
	b.mu.Lock()
	b.requests = append(b.requests, req)
	r := b.responses[min(len(b.requests), len(b.responses))-1]
	b.mu.Unlock()

	if r.err != nil {
		return nil, r.err
	}
	if r.block {
		return &blockingBody{ctx: ctx, first: r.body}, nil
	}
	return io.NopCloser(strings.NewReader(r.body)), nil
}

func (b *scriptedBackend) calls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.requests)
}

type blockingBody struct {
	ctx   context.Context
	first string
	sent  bool
}

func (b *blockingBody) Read(p []byte) (int, error) {
	if !b.sent {
		b.sent = true
		return copy(p, b.first), nil
	}
	<-b.ctx.Done()
	return 0, b.ctx.Err()
}

func (b *blockingBody) Close() error { return nil }

func testAI() chat.AIConfig {
	return chat.AIConfig{Model: "gpt-4o-mini", ImageModel: "gpt-4o", Temperature: 0.5, MaxTokens: 100, TopP: 1}
}

func newTestStore(t *testing.T) *storage.Store {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func newTestRegistry(store *storage.Store, backend turn.Backend) *turn.Registry {
	return turn.NewRegistry(turn.Deps{
		Backend:      backend,
		Store:        store,
		Integrations: store,
	}, store.GetThread)
}
