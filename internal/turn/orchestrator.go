// Package turn runs the lifecycle of a single conversational turn: building
// the outbound context, streaming the answer, executing mail directives and
// persisting the thread.
package turn

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/kalambet/sunday/internal/chat"
	"github.com/kalambet/sunday/internal/completion"
	"github.com/kalambet/sunday/internal/composer"
	"github.com/kalambet/sunday/internal/directive"
	"github.com/kalambet/sunday/internal/intent"
	"github.com/kalambet/sunday/internal/mail"
	"github.com/kalambet/sunday/internal/storage"
	"github.com/kalambet/sunday/internal/stream"
)

const defaultMailLimit = 500

// Backend issues a streamed completion request.
type Backend interface {
	Stream(ctx context.Context, req completion.Request) (io.ReadCloser, error)
}

// ThreadStore persists the messages and turns of a thread.
type ThreadStore interface {
	SaveThread(ctx context.Context, userID, threadID string, messages []chat.Message, chats []chat.Turn) error
}

// Deps are the collaborators of an Orchestrator.
type Deps struct {
	Backend      Backend
	Store        ThreadStore
	Integrations directive.IntegrationStore
	Mail         mail.Factory
	Composer     *composer.Composer

	// RequiresMailbox decides whether a question needs mailbox context.
	// Defaults to intent.RequiresMailbox.
	RequiresMailbox func(question string) bool

	// MailLimit and MailQuery bound the recent-mail listing.
	MailLimit int
	MailQuery string

	// ChunkSize is the stream read buffer size.
	ChunkSize int

	Logger *slog.Logger
}

// AnswerRequest is the input of Answer.
type AnswerRequest struct {
	Question string
	Mode     chat.Mode
	Context  string
	AI       chat.AIConfig
	Observe  Observer
}

// RewriteRequest is the input of Rewrite.
type RewriteRequest struct {
	AI      chat.AIConfig
	Observe Observer
}

// Orchestrator owns one thread and runs turns against it. Operations are
// expected to run one at a time; starting a new one while another is in
// flight only moves cancellation control to the new one.
type Orchestrator struct {
	userID   string
	deps     Deps
	executor *directive.Executor
	consumer stream.Consumer
	logger   *slog.Logger

	cancel Canceller

	mu     sync.RWMutex
	thread chat.Thread
}

// New creates an Orchestrator for a user's thread.
func New(userID string, thread chat.Thread, deps Deps) *Orchestrator {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Composer == nil {
		deps.Composer = composer.New(0)
	}
	if deps.RequiresMailbox == nil {
		deps.RequiresMailbox = intent.RequiresMailbox
	}
	if deps.MailLimit <= 0 {
		deps.MailLimit = defaultMailLimit
	}
	thread.UserID = userID
	return &Orchestrator{
		userID:   userID,
		deps:     deps,
		executor: directive.NewExecutor(deps.Integrations, deps.Mail, deps.Logger),
		consumer: stream.Consumer{ChunkSize: deps.ChunkSize},
		logger:   deps.Logger.With("component", "turn", "thread_id", thread.ID),
		thread:   thread.Clone(),
	}
}

// Snapshot returns a copy of the thread as it is right now, including the
// partial answer of a turn that is still streaming.
func (o *Orchestrator) Snapshot() chat.Thread {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.thread.Clone()
}

// Cancel aborts the operation in flight, if any. Calling it again has no
// further effect.
func (o *Orchestrator) Cancel() {
	o.cancel.Cancel()
}

// Busy reports whether an operation holds the cancellation reference.
func (o *Orchestrator) Busy() bool {
	return o.cancel.Active()
}

// Answer appends a new turn for the question and answers it.
func (o *Orchestrator) Answer(ctx context.Context, req AnswerRequest) Result {
	if req.Mode == "" {
		req.Mode = chat.ModeChat
	}
	o.mu.Lock()
	o.thread.Chats = append(o.thread.Chats, chat.Turn{Question: req.Question, Mode: req.Mode})
	idx := len(o.thread.Chats) - 1
	o.mu.Unlock()

	return o.answer(ctx, req, idx)
}

func (o *Orchestrator) answer(ctx context.Context, req AnswerRequest, idx int) Result {
	runCtx, done := o.cancel.Start(ctx)
	defer done()

	if o.setAnswer(idx, "") != "" {
		notify(req.Observe, Update{Kind: UpdateAnswer, TurnIndex: idx})
	}
	notify(req.Observe, Update{Kind: UpdateState, State: StateBuilding, TurnIndex: idx, Cancel: o.cancel.Cancel})

	o.mu.RLock()
	history := append([]chat.Message(nil), o.thread.Messages...)
	o.mu.RUnlock()

	standard := o.deps.Composer.ForAnswer(history, req.Question, req.Context, req.AI.CustomPrompt)
	outbound := standard

	if o.deps.RequiresMailbox(req.Question) {
		msgs, err := o.mailboxContext(runCtx, req.Question)
		switch {
		case err == nil:
			if msgs != nil {
				outbound = msgs
			}
		case runCtx.Err() != nil:
			return o.cancelled(ctx, idx, req.Observe)
		case errors.Is(err, ErrNoDataFound):
			return o.fail(idx, KindNoDataFound, err, req.Observe)
		default:
			return o.fail(idx, KindIntegrationUnavailable, err, req.Observe)
		}
	}

	retry := func(ctx context.Context) Result { return o.answer(ctx, req, idx) }
	answer, res, ok := o.stream(ctx, runCtx, completion.NewRequest(outbound, req.AI, req.Mode), idx, req.Observe, retry)
	if !ok {
		return res
	}

	notify(req.Observe, Update{Kind: UpdateState, State: StateFinalizing, TurnIndex: idx})
	o.mu.Lock()
	o.thread.Messages = append(standard, chat.Message{Role: chat.RoleAssistant, Content: answer})
	o.mu.Unlock()

	if directive.HasMarker(answer) {
		answer, _ = o.executor.Run(context.WithoutCancel(ctx), o.userID, answer, func(a string) {
			o.setAnswer(idx, a)
			notify(req.Observe, Update{Kind: UpdateAnswer, TurnIndex: idx, Answer: a})
		})
	}

	o.persist(ctx, idx)
	notify(req.Observe, Update{Kind: UpdateState, State: StatePersisted, TurnIndex: idx})
	return Result{Outcome: OutcomeCompleted, TurnIndex: idx, Answer: answer}
}

// Rewrite regenerates the answer of the last turn. It is skipped without
// touching any state when the last turn has no answer yet.
func (o *Orchestrator) Rewrite(ctx context.Context, req RewriteRequest) Result {
	o.mu.RLock()
	last, ok := o.thread.LastTurn()
	idx := len(o.thread.Chats) - 1
	o.mu.RUnlock()
	if !ok || last.Answer == "" {
		return Result{Outcome: OutcomeSkipped, TurnIndex: idx}
	}

	runCtx, done := o.cancel.Start(ctx)
	defer done()

	notify(req.Observe, Update{Kind: UpdateState, State: StateBuilding, TurnIndex: idx, Cancel: o.cancel.Cancel})

	o.mu.RLock()
	history := append([]chat.Message(nil), o.thread.Messages...)
	o.mu.RUnlock()

	// A cancelled or failed answer never reached the history.
	if !composer.EndsWithExchange(history, last.Question) {
		history = append(o.deps.Composer.ForAnswer(history, last.Question, "", req.AI.CustomPrompt),
			chat.Message{Role: chat.RoleAssistant, Content: last.Answer})
	}

	outbound := o.deps.Composer.ForRewrite(history, last.Question, req.AI.CustomPrompt)

	retry := func(ctx context.Context) Result { return o.Rewrite(ctx, req) }
	answer, res, ok := o.stream(ctx, runCtx, completion.NewRequest(outbound, req.AI, last.Mode), idx, req.Observe, retry)
	if !ok {
		return res
	}

	notify(req.Observe, Update{Kind: UpdateState, State: StateFinalizing, TurnIndex: idx})
	o.mu.Lock()
	o.thread.Messages = append(withoutLastAssistant(history), chat.Message{Role: chat.RoleAssistant, Content: answer})
	o.mu.Unlock()

	o.persist(ctx, idx)
	notify(req.Observe, Update{Kind: UpdateState, State: StatePersisted, TurnIndex: idx})
	return Result{Outcome: OutcomeCompleted, TurnIndex: idx, Answer: answer}
}

// stream issues the request and consumes the response into the turn at idx.
// When ok is false the operation has ended and res is its result.
func (o *Orchestrator) stream(ctx, runCtx context.Context, req completion.Request, idx int, observe Observer, retry func(context.Context) Result) (answer string, res Result, ok bool) {
	body, err := o.deps.Backend.Stream(runCtx, req)
	if err != nil {
		if runCtx.Err() != nil {
			return "", o.cancelled(ctx, idx, observe), false
		}
		res := o.fail(idx, KindRequestFailed, err, observe)
		res.Retry = retry
		return "", res, false
	}
	defer body.Close()

	notify(observe, Update{Kind: UpdateState, State: StateStreaming, TurnIndex: idx})
	answer, err = o.consumer.Consume(runCtx, body, func(a string) {
		o.setAnswer(idx, a)
		notify(observe, Update{Kind: UpdateAnswer, TurnIndex: idx, Answer: a})
	})
	if err != nil {
		if runCtx.Err() != nil {
			return "", o.cancelled(ctx, idx, observe), false
		}
		res := o.fail(idx, KindRequestFailed, fmt.Errorf("reading stream: %w", err), observe)
		res.Retry = retry
		return "", res, false
	}
	return answer, Result{}, true
}

// mailboxContext returns the mailbox-backed message sequence, or nil when
// the user has not linked a mailbox.
func (o *Orchestrator) mailboxContext(ctx context.Context, question string) ([]chat.Message, error) {
	if o.deps.Integrations == nil || o.deps.Mail == nil {
		return nil, nil
	}
	in, err := o.deps.Integrations.GetIntegration(ctx, o.userID, mail.Provider)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading %s integration: %w", mail.Provider, err)
	}
	svc, err := o.deps.Mail(ctx, in.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", mail.Provider, err)
	}
	emails, err := svc.ListRecent(ctx, o.deps.MailLimit, o.deps.MailQuery)
	if err != nil {
		return nil, fmt.Errorf("listing recent mail: %w", err)
	}
	if len(emails) == 0 {
		return nil, ErrNoDataFound
	}
	msgs, excerpts := o.deps.Composer.Mailbox(emails, question)
	if excerpts == 0 {
		return nil, fmt.Errorf("%d emails exceed the context budget: %w", len(emails), ErrNoDataFound)
	}
	return msgs, nil
}

func (o *Orchestrator) cancelled(ctx context.Context, idx int, observe Observer) Result {
	o.logger.Info("turn cancelled", "turn_index", idx)
	o.persist(ctx, idx)
	notify(observe, Update{Kind: UpdateState, State: StateCancelled, TurnIndex: idx})

	o.mu.RLock()
	answer := o.thread.Chats[idx].Answer
	o.mu.RUnlock()
	return Result{Outcome: OutcomeCancelled, TurnIndex: idx, Answer: answer}
}

func (o *Orchestrator) fail(idx int, kind ErrorKind, err error, observe Observer) Result {
	o.logger.Error("turn failed", "turn_index", idx, "kind", kind, "error", err)
	notify(observe, Update{Kind: UpdateState, State: StateFailed, TurnIndex: idx})
	return failed(idx, kind, err)
}

// persist writes the thread and swallows failures. It ignores cancellation
// of ctx so a cancelled turn is still saved.
func (o *Orchestrator) persist(ctx context.Context, idx int) {
	snap := o.Snapshot()
	if err := o.deps.Store.SaveThread(context.WithoutCancel(ctx), o.userID, snap.ID, snap.Messages, snap.Chats); err != nil {
		o.logger.Warn("persisting thread failed", "turn_index", idx, "error", err)
	}
}

// setAnswer replaces the answer of the turn at idx and returns the old one.
func (o *Orchestrator) setAnswer(idx int, answer string) string {
	o.mu.Lock()
	defer o.mu.Unlock()
	if idx >= len(o.thread.Chats) {
		return ""
	}
	prev := o.thread.Chats[idx].Answer
	o.thread.Chats[idx].Answer = answer
	return prev
}

func notify(observe Observer, u Update) {
	if observe == nil {
		return
	}
	if u.Kind == UpdateState {
		st := u.State.Status()
		u.Status = &st
	}
	observe(u)
}

// withoutLastAssistant drops the most recent assistant message.
func withoutLastAssistant(msgs []chat.Message) []chat.Message {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == chat.RoleAssistant {
			out := make([]chat.Message, 0, len(msgs))
			out = append(out, msgs[:i]...)
			return append(out, msgs[i+1:]...)
		}
	}
	return msgs
}
