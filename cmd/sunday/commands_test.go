package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kalambet/sunday/internal/api"
	"github.com/kalambet/sunday/internal/chat"
	"github.com/kalambet/sunday/internal/config"
	"github.com/kalambet/sunday/internal/turn"
)

type recordedRequest struct {
	Method string
	Path   string
	Body   string
	Auth   string
	User   string
}

type testServer struct {
	server   *httptest.Server
	requests []recordedRequest
}

func newTestServer(t *testing.T, responses map[string]string) *testServer {
	t.Helper()
	ts := &testServer{}

	ts.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body bytes.Buffer
		body.ReadFrom(r.Body)

		ts.requests = append(ts.requests, recordedRequest{
			Method: r.Method,
			Path:   r.URL.RequestURI(),
			Body:   body.String(),
			Auth:   r.Header.Get("Authorization"),
			User:   r.Header.Get(api.UserHeader),
		})

		key := r.Method + " " + r.URL.Path
		if resp, ok := responses[key]; ok {
			if resp == "" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			if strings.HasPrefix(resp, `{"type"`) {
				w.Header().Set("Content-Type", "application/x-ndjson")
			} else {
				w.Header().Set("Content-Type", "application/json")
			}
			w.Write([]byte(resp))
			return
		}

		w.WriteHeader(404)
		w.Write([]byte(`{"error":{"message":"not found","type":"not_found"}}`))
	}))

	t.Cleanup(ts.server.Close)
	return ts
}

func (ts *testServer) client() *apiClient {
	return &apiClient{
		baseURL:    ts.server.URL,
		token:      "test-token",
		user:       "alice",
		httpClient: ts.server.Client(),
	}
}

func ndjson(t *testing.T, events ...api.Event) string {
	t.Helper()
	var sb strings.Builder
	enc := json.NewEncoder(&sb)
	for _, ev := range events {
		if err := enc.Encode(ev); err != nil {
			t.Fatalf("encoding event: %v", err)
		}
	}
	return sb.String()
}

func answerEvent(s string) api.Event {
	return api.Event{Type: api.EventUpdate, Update: &turn.Update{Kind: turn.UpdateAnswer, Answer: s}}
}

func resultEvent(res turn.Result) api.Event {
	return api.Event{Type: api.EventResult, Result: &res}
}

// captureOutput redirects stdout and stderr writers for the test.
func captureOutput(t *testing.T) (out, errOut *bytes.Buffer) {
	t.Helper()
	oldOut, oldErr, oldColor := stdout, stderr, noColor
	out, errOut = &bytes.Buffer{}, &bytes.Buffer{}
	stdout, stderr, noColor = out, errOut, true
	t.Cleanup(func() { stdout, stderr, noColor = oldOut, oldErr, oldColor })
	return out, errOut
}

var ctx = context.Background()

func TestAPIClient_AuthAndUserHeaders(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /health": `{"status":"ok"}`,
	})

	client := ts.client()
	client.token = "my-secret-token"

	resp, err := client.get(ctx, "/health")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	resp.Body.Close()

	if len(ts.requests) != 1 {
		t.Fatalf("expected 1 request, got %d", len(ts.requests))
	}
	if ts.requests[0].Auth != "Bearer my-secret-token" {
		t.Errorf("auth = %q, want 'Bearer my-secret-token'", ts.requests[0].Auth)
	}
	if ts.requests[0].User != "alice" {
		t.Errorf("user = %q, want alice", ts.requests[0].User)
	}
}

func TestAPIClient_NoTokenNoAuthHeader(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /health": `{"status":"ok"}`,
	})

	client := ts.client()
	client.token = ""
	resp, err := client.get(ctx, "/health")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	resp.Body.Close()

	if ts.requests[0].Auth != "" {
		t.Errorf("auth = %q, want none", ts.requests[0].Auth)
	}
}

func TestStatusCommand_Stopped(t *testing.T) {
	ts := newTestServer(t, map[string]string{})
	ts.server.Close()

	client := ts.client()
	_, err := client.get(ctx, "/health")
	if err == nil {
		t.Fatal("expected error for stopped server")
	}
	if !strings.Contains(err.Error(), "not reachable") {
		t.Errorf("error = %q, want it to mention 'not reachable'", err.Error())
	}
}

func TestDecodeJSON_ErrorResponse(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(401)
		w.Write([]byte(`{"error":{"message":"invalid or missing bearer token","type":"authentication_error"}}`))
	}))
	defer ts.Close()

	client := &apiClient{
		baseURL:    ts.URL,
		token:      "bad-token",
		httpClient: ts.Client(),
	}

	resp, err := client.get(ctx, "/threads")
	if err != nil {
		t.Fatalf("unexpected transport error: %v", err)
	}

	var result any
	err = decodeJSON(resp, &result)
	if err == nil {
		t.Fatal("expected error for 401 response")
	}
	if !strings.Contains(err.Error(), "401") || !strings.Contains(err.Error(), "invalid or missing bearer token") {
		t.Errorf("error = %q, want status and message", err.Error())
	}
}

func TestStream_DeliversUpdatesAndResult(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /threads/t1/answer": ndjson(t,
			api.Event{Type: api.EventUpdate, Update: &turn.Update{Kind: turn.UpdateState, State: turn.StateBuilding}},
			answerEvent("Hel"),
			answerEvent("Hello"),
			resultEvent(turn.Result{Outcome: turn.OutcomeCompleted, Answer: "Hello"}),
		),
	})

	var answers []string
	res, err := ts.client().stream(ctx, threadPath("t1", "answer"), api.AnswerRequest{Question: "hi"}, func(u turn.Update) {
		if u.Kind == turn.UpdateAnswer {
			answers = append(answers, u.Answer)
		}
	})
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	if res.Outcome != turn.OutcomeCompleted || res.Answer != "Hello" {
		t.Fatalf("result = %+v", res)
	}
	if strings.Join(answers, "|") != "Hel|Hello" {
		t.Fatalf("answers = %v", answers)
	}

	var body api.AnswerRequest
	json.Unmarshal([]byte(ts.requests[0].Body), &body)
	if body.Question != "hi" {
		t.Fatalf("request body = %q", ts.requests[0].Body)
	}
}

func TestStream_MissingResult(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /threads/t1/answer": ndjson(t, answerEvent("Hel")),
	})
	if _, err := ts.client().stream(ctx, "/threads/t1/answer", nil, nil); err == nil {
		t.Fatal("expected error when the stream has no result")
	}
}

func TestStream_HTTPError(t *testing.T) {
	ts := newTestServer(t, map[string]string{})
	_, err := ts.client().stream(ctx, "/threads/t1/retry", nil, nil)
	if err == nil || !strings.Contains(err.Error(), "404") {
		t.Fatalf("err = %v, want 404", err)
	}
}

func TestRunStreamed_PrintsAnswer(t *testing.T) {
	out, _ := captureOutput(t)
	ts := newTestServer(t, map[string]string{
		"POST /threads/t1/answer": ndjson(t,
			answerEvent("Hel"),
			answerEvent("Hello"),
			resultEvent(turn.Result{Outcome: turn.OutcomeCompleted, Answer: "Hello"}),
		),
	})

	if err := runStreamed(ctx, ts.client(), "t1", "answer", api.AnswerRequest{Question: "hi"}); err != nil {
		t.Fatalf("runStreamed: %v", err)
	}
	if out.String() != "Hello\n" {
		t.Fatalf("stdout = %q", out.String())
	}
}

func TestRunStreamed_FailureIsReported(t *testing.T) {
	_, errOut := captureOutput(t)
	ts := newTestServer(t, map[string]string{
		"POST /threads/t1/answer": ndjson(t, resultEvent(turn.Result{
			Outcome: turn.OutcomeFailed,
			Err:     &turn.Error{Kind: turn.KindRequestFailed, Message: turn.MsgRequestFailed},
		})),
	})

	err := runStreamed(ctx, ts.client(), "t1", "answer", api.AnswerRequest{Question: "hi"})
	if !errors.Is(err, errReported) {
		t.Fatalf("err = %v, want errReported", err)
	}
	if !strings.Contains(errOut.String(), turn.MsgRequestFailed) || !strings.Contains(errOut.String(), "sunday retry --thread t1") {
		t.Fatalf("stderr = %q", errOut.String())
	}
}

func TestAnswerPrinter(t *testing.T) {
	out, _ := captureOutput(t)
	p := &answerPrinter{}

	p.update(turn.Update{Kind: turn.UpdateState, State: turn.StateBuilding})
	p.update(turn.Update{Kind: turn.UpdateAnswer, Answer: "Draft "})
	p.update(turn.Update{Kind: turn.UpdateAnswer, Answer: "Draft ready"})
	p.update(turn.Update{Kind: turn.UpdateAnswer, Answer: "Draft ready\n\nDraft has been created in Gmail!"})
	p.finish()

	want := "Draft ready\n\nDraft has been created in Gmail!\n"
	if out.String() != want {
		t.Fatalf("stdout = %q, want %q", out.String(), want)
	}

	out.Reset()
	p = &answerPrinter{printed: "abc"}
	p.update(turn.Update{Kind: turn.UpdateAnswer, Answer: "xyz"})
	if out.String() != "\nxyz" {
		t.Fatalf("replacement output = %q", out.String())
	}
}

func TestPrintOutcome(t *testing.T) {
	captureOutput(t)

	tests := []struct {
		name    string
		res     turn.Result
		wantErr bool
	}{
		{"completed", turn.Result{Outcome: turn.OutcomeCompleted}, false},
		{"cancelled", turn.Result{Outcome: turn.OutcomeCancelled}, false},
		{"skipped", turn.Result{Outcome: turn.OutcomeSkipped}, false},
		{"no data", turn.Result{Outcome: turn.OutcomeFailed, Err: &turn.Error{Kind: turn.KindNoDataFound, Message: turn.MsgNoDataFound}}, true},
		{"failed without detail", turn.Result{Outcome: turn.OutcomeFailed}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := printOutcome("t1", tt.res)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, errReported) {
				t.Fatalf("err = %v, want errReported", err)
			}
		})
	}
}

func TestBuildAnswerRequest(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "notes.txt")
	if err := os.WriteFile(path, []byte("meeting notes"), 0o644); err != nil {
		t.Fatal(err)
	}

	req, err := buildAnswerRequest("  summarize  ", "chat", "background", path)
	if err != nil {
		t.Fatalf("buildAnswerRequest: %v", err)
	}
	if req.Question != "summarize" || req.Mode != chat.ModeChat {
		t.Fatalf("req = %+v", req)
	}
	if req.Context != "background\n\nmeeting notes" {
		t.Fatalf("context = %q", req.Context)
	}

	if _, err := buildAnswerRequest(" ", "chat", "", ""); err == nil {
		t.Error("expected error for empty question")
	}
	if _, err := buildAnswerRequest("hi", "video", "", ""); err == nil {
		t.Error("expected error for unknown mode")
	}
	if _, err := buildAnswerRequest("hi", "chat", "", filepath.Join(dir, "missing.txt")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestThreadPath(t *testing.T) {
	if got := threadPath("a/b", "answer"); got != "/threads/a%2Fb/answer" {
		t.Errorf("threadPath = %q", got)
	}
	if got := threadPath("t1"); got != "/threads/t1" {
		t.Errorf("threadPath = %q", got)
	}
}

func TestNoColorFlag(t *testing.T) {
	old := noColor
	defer func() { noColor = old }()

	noColor = true
	result := colorize(colorGreen, "test message")
	if strings.Contains(result, "\033[") {
		t.Errorf("colorize with noColor=true should not contain ANSI codes, got %q", result)
	}
	if result != "test message" {
		t.Errorf("result = %q, want %q", result, "test message")
	}

	noColor = false
	result = colorize(colorGreen, "test message")
	if !strings.Contains(result, "\033[") {
		t.Errorf("colorize with noColor=false should contain ANSI codes, got %q", result)
	}
}

func TestConfigShowAll(t *testing.T) {
	cfg := config.Config{}
	cfg.Server.Port = 4000
	cfg.AI.Model = "gpt-4o-mini"

	keys := config.ShowAll(cfg)
	if len(keys) == 0 {
		t.Fatal("expected non-empty keys from ShowAll")
	}

	found := false
	for _, k := range keys {
		if k.Key == "server.port" && k.Value == "4000" {
			found = true
		}
	}
	if !found {
		t.Error("expected to find server.port=4000 in ShowAll output")
	}
}

func TestLogLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug": slog.LevelDebug,
		"INFO":  slog.LevelInfo,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
		"bogus": slog.LevelInfo,
	}
	for in, want := range tests {
		if got := logLevel(in); got != want {
			t.Errorf("logLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestCountLabel(t *testing.T) {
	tests := []struct {
		count, limit int
		want         string
	}{
		{0, 100, "0"},
		{42, 100, "42"},
		{100, 100, "100+"},
	}
	for _, tt := range tests {
		if got := countLabel(tt.count, tt.limit); got != tt.want {
			t.Errorf("countLabel(%d, %d) = %q, want %q", tt.count, tt.limit, got, tt.want)
		}
	}
}

func TestRootCommand_AskRequiresQuestion(t *testing.T) {
	captureOutput(t)
	defer rootCmd.SetArgs(nil)

	rootCmd.SetArgs([]string{"ask"})
	if err := rootCmd.Execute(); err == nil {
		t.Fatal("expected error when no question is given")
	}
}
