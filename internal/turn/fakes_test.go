package turn

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/kalambet/sunday/internal/chat"
	"github.com/kalambet/sunday/internal/completion"
	"github.com/kalambet/sunday/internal/mail"
	"github.com/kalambet/sunday/internal/storage"
)

// chunkReader replays fixed chunks. With block set it waits for ctx after
// the last chunk instead of ending the stream.
type chunkReader struct {
	ctx         context.Context
	chunks      [][]byte
	eofWithLast bool
	block       bool
	failAfter   error
	i           int
	closed      bool
}

func (r *chunkReader) Read(p []byte) (int, error) {
	if r.i < len(r.chunks) {
		n := copy(p, r.chunks[r.i])
		r.i++
		if r.i == len(r.chunks) && r.eofWithLast && !r.block && r.failAfter == nil {
			return n, io.EOF
		}
		return n, nil
	}
	switch {
	case r.failAfter != nil:
		return 0, r.failAfter
	case r.block:
		<-r.ctx.Done()
		return 0, r.ctx.Err()
	default:
		return 0, io.EOF
	}
}

func (r *chunkReader) Close() error {
	r.closed = true
	return nil
}

func strChunks(parts ...string) [][]byte {
	out := make([][]byte, len(parts))
	for i, p := range parts {
		out[i] = []byte(p)
	}
	return out
}

type fakeBackend struct {
	mu       sync.Mutex
	requests []completion.Request
	readers  []*chunkReader
	respond  func(ctx context.Context, call int) (io.ReadCloser, error)
}

func (b *fakeBackend) Stream(ctx context.Context, req completion.Request) (io.ReadCloser, error) {
	b.mu.Lock()
	b.requests = append(b.requests, req)
	call := len(b.requests)
	b.mu.Unlock()

	rc, err := b.respond(ctx, call)
	if r, ok := rc.(*chunkReader); ok {
		b.mu.Lock()
		b.readers = append(b.readers, r)
		b.mu.Unlock()
	}
	return rc, err
}

func (b *fakeBackend) calls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.requests)
}

func (b *fakeBackend) lastRequest() completion.Request {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.requests[len(b.requests)-1]
}

// streaming answers every call with the given chunks, signalling EOF on the
// last one.
func streaming(parts ...string) *fakeBackend {
	return &fakeBackend{respond: func(ctx context.Context, _ int) (io.ReadCloser, error) {
		return &chunkReader{ctx: ctx, chunks: strChunks(parts...), eofWithLast: true}, nil
	}}
}

type savedThread struct {
	userID, threadID string
	messages         []chat.Message
	chats            []chat.Turn
}

type fakeStore struct {
	mu    sync.Mutex
	saves []savedThread
	err   error
}

func (s *fakeStore) SaveThread(ctx context.Context, userID, threadID string, messages []chat.Message, chats []chat.Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ctx.Err() != nil {
		return ctx.Err()
	}
	s.saves = append(s.saves, savedThread{
		userID:   userID,
		threadID: threadID,
		messages: append([]chat.Message(nil), messages...),
		chats:    append([]chat.Turn(nil), chats...),
	})
	return s.err
}

func (s *fakeStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.saves)
}

type fakeIntegrations struct {
	linked bool
	err    error
}

func (f *fakeIntegrations) GetIntegration(_ context.Context, userID, provider string) (storage.Integration, error) {
	if f.err != nil {
		return storage.Integration{}, f.err
	}
	if !f.linked {
		return storage.Integration{}, storage.ErrNotFound
	}
	return storage.Integration{UserID: userID, Provider: provider, AccessToken: "tok"}, nil
}

type fakeMail struct {
	mu      sync.Mutex
	emails  []mail.Email
	listErr error
	listed  int
	calls   []string
}

func (f *fakeMail) ListRecent(_ context.Context, limit int, query string) ([]mail.Email, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listed++
	return f.emails, f.listErr
}

func (f *fakeMail) CreateDraft(_ context.Context, to, subject, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "draft:"+to)
	return nil
}

func (f *fakeMail) Send(_ context.Context, to, subject, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "send:"+to)
	return nil
}

func (f *fakeMail) factory() mail.Factory {
	return func(context.Context, string) (mail.Service, error) { return f, nil }
}

// recorder collects observations.
type recorder struct {
	updates []Update
	onState map[State]func(Update)
	onFirst func(Update)
}

func (r *recorder) observe(u Update) {
	r.updates = append(r.updates, u)
	if u.Kind == UpdateAnswer && r.onFirst != nil {
		f := r.onFirst
		r.onFirst = nil
		f(u)
	}
	if u.Kind == UpdateState {
		if f := r.onState[u.State]; f != nil {
			f(u)
		}
	}
}

func (r *recorder) answers() []string {
	var out []string
	for _, u := range r.updates {
		if u.Kind == UpdateAnswer {
			out = append(out, u.Answer)
		}
	}
	return out
}

func (r *recorder) states() []State {
	var out []State
	for _, u := range r.updates {
		if u.Kind == UpdateState {
			out = append(out, u.State)
		}
	}
	return out
}

var errBoom = errors.New("boom")
