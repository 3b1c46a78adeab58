package directive

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kalambet/sunday/internal/mail"
	"github.com/kalambet/sunday/internal/storage"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name   string
		answer string
		want   []Directive
	}{
		{
			name:   "none",
			answer: "The sky is blue.",
		},
		{
			name:   "draft",
			answer: `Here you go. DRAFT_CONTENT: {"to":"a@b.c","subject":"Hi","body":"Hello"} Done.`,
			want:   []Directive{{Kind: KindDraft, Payload: `{"to":"a@b.c","subject":"Hi","body":"Hello"}`}},
		},
		{
			name:   "send before draft in text still parsed draft first",
			answer: "SEND_CONTENT: {\"to\":\"x\"}\nDRAFT_CONTENT:\n{\"to\":\"y\"}",
			want: []Directive{
				{Kind: KindDraft, Payload: `{"to":"y"}`},
				{Kind: KindSend, Payload: `{"to":"x"}`},
			},
		},
		{
			name:   "marker without object",
			answer: "DRAFT_CONTENT: none available",
		},
		{
			name:   "first closing brace wins",
			answer: `DRAFT_CONTENT: {"to":"a","body":"{x}"}`,
			want:   []Directive{{Kind: KindDraft, Payload: `{"to":"a","body":"{x}`}},
		},
		{
			name:   "only first marker of a kind",
			answer: `SEND_CONTENT: {"n":1} SEND_CONTENT: {"n":2}`,
			want:   []Directive{{Kind: KindSend, Payload: `{"n":1}`}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Parse(tt.answer))
		})
	}
}

func TestHasMarker(t *testing.T) {
	assert.True(t, HasMarker("x DRAFT_CONTENT: y"))
	assert.True(t, HasMarker("SEND_CONTENT:"))
	assert.False(t, HasMarker("DRAFT_CONTENT without colon"))
}

func TestDecode(t *testing.T) {
	d := Directive{Payload: `{"to":"bob@example.com","subject":"Hi","body":"Hello\nthere","cc":"x"}`}
	require.NoError(t, d.Decode())
	assert.Equal(t, "bob@example.com", d.To)
	assert.Equal(t, "Hi", d.Subject)
	assert.Equal(t, "Hello\nthere", d.Body)

	for _, payload := range []string{
		`{not json}`,
		`{"to":"a","subject":"s"}`,
		`{"to":"a","subject":"s","body":3}`,
		`{"to":"a","subject":null,"body":"b"}`,
		`{"to":"  ","subject":"s","body":"b"}`,
	} {
		d := Directive{Payload: payload}
		assert.ErrorIs(t, d.Decode(), ErrMalformedPayload, payload)
	}
}

type fakeIntegrations struct {
	token string
	err   error
}

func (f *fakeIntegrations) GetIntegration(_ context.Context, userID, provider string) (storage.Integration, error) {
	if f.err != nil {
		return storage.Integration{}, f.err
	}
	return storage.Integration{UserID: userID, Provider: provider, AccessToken: f.token}, nil
}

type fakeMail struct {
	mu      sync.Mutex
	calls   []string
	failFor string
}

func (f *fakeMail) ListRecent(context.Context, int, string) ([]mail.Email, error) { return nil, nil }

func (f *fakeMail) CreateDraft(_ context.Context, to, subject, body string) error {
	return f.record("draft", to)
}

func (f *fakeMail) Send(_ context.Context, to, subject, body string) error {
	return f.record("send", to)
}

func (f *fakeMail) record(op, to string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, op+":"+to)
	if op == f.failFor {
		return errors.New("gmail: 500")
	}
	return nil
}

func newExecutor(in *fakeIntegrations, m *fakeMail) *Executor {
	return NewExecutor(in, func(_ context.Context, token string) (mail.Service, error) {
		return m, nil
	}, nil)
}

const (
	draftPayload = `DRAFT_CONTENT: {"to":"a@x.com","subject":"S","body":"B"}`
	sendPayload  = `SEND_CONTENT: {"to":"b@x.com","subject":"S","body":"B"}`
)

func TestRun_DraftAndSend(t *testing.T) {
	m := &fakeMail{}
	e := newExecutor(&fakeIntegrations{token: "tok"}, m)

	var emitted []string
	answer := "Sure.\n" + sendPayload + "\n" + draftPayload
	got, outcomes := e.Run(context.Background(), "u1", answer, func(a string) { emitted = append(emitted, a) })

	assert.Equal(t, []string{"draft:a@x.com", "send:b@x.com"}, m.calls)
	assert.Equal(t, answer+DraftCreatedSuffix+SentSuffix, got)
	assert.Equal(t, []string{answer + DraftCreatedSuffix, answer + DraftCreatedSuffix + SentSuffix}, emitted)
	require.Len(t, outcomes, 2)
	assert.NoError(t, outcomes[0].Err)
	assert.NoError(t, outcomes[1].Err)
}

func TestRun_MalformedPayload(t *testing.T) {
	m := &fakeMail{}
	e := newExecutor(&fakeIntegrations{token: "tok"}, m)

	answer := `DRAFT_CONTENT: {"to": "a@x.com", subject}`
	got, outcomes := e.Run(context.Background(), "u1", answer, nil)

	assert.Empty(t, m.calls)
	assert.Equal(t, answer+DraftFailedSuffix, got)
	assert.Equal(t, 1, strings.Count(got, DraftFailedSuffix))
	require.Len(t, outcomes, 1)
	assert.ErrorIs(t, outcomes[0].Err, ErrMalformedPayload)
}

func TestRun_NotLinkedSkipsSilently(t *testing.T) {
	m := &fakeMail{}
	e := newExecutor(&fakeIntegrations{err: storage.ErrNotFound}, m)

	var emitted int
	answer := draftPayload + " " + sendPayload
	got, outcomes := e.Run(context.Background(), "u1", answer, func(string) { emitted++ })

	assert.Equal(t, answer, got)
	assert.Zero(t, emitted)
	assert.Empty(t, m.calls)
	require.Len(t, outcomes, 2)
	assert.True(t, outcomes[0].Skipped)
	assert.True(t, outcomes[1].Skipped)
}

func TestRun_LookupErrorFails(t *testing.T) {
	m := &fakeMail{}
	e := newExecutor(&fakeIntegrations{err: errors.New("disk I/O error")}, m)

	got, _ := e.Run(context.Background(), "u1", sendPayload, nil)
	assert.Equal(t, sendPayload+SendFailedSuffix, got)
	assert.Empty(t, m.calls)
}

func TestRun_ActionErrorIsLocal(t *testing.T) {
	m := &fakeMail{failFor: "draft"}
	e := newExecutor(&fakeIntegrations{token: "tok"}, m)

	answer := draftPayload + "\n" + sendPayload
	got, outcomes := e.Run(context.Background(), "u1", answer, nil)

	assert.Equal(t, answer+DraftFailedSuffix+SentSuffix, got)
	assert.Equal(t, []string{"draft:a@x.com", "send:b@x.com"}, m.calls)
	require.Len(t, outcomes, 2)
	assert.Error(t, outcomes[0].Err)
	assert.NoError(t, outcomes[1].Err)
}

func TestRun_ServiceConstructionFails(t *testing.T) {
	e := NewExecutor(&fakeIntegrations{token: "tok"}, func(context.Context, string) (mail.Service, error) {
		return nil, errors.New("bad token")
	}, nil)

	got, _ := e.Run(context.Background(), "u1", draftPayload, nil)
	assert.Equal(t, draftPayload+DraftFailedSuffix, got)
}

func TestRun_NoDirectives(t *testing.T) {
	m := &fakeMail{}
	e := newExecutor(&fakeIntegrations{token: "tok"}, m)

	got, outcomes := e.Run(context.Background(), "u1", "plain answer", func(string) { t.Fatal("unexpected emit") })
	assert.Equal(t, "plain answer", got)
	assert.Empty(t, outcomes)
}
