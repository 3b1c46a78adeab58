package directive

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/kalambet/sunday/internal/mail"
	"github.com/kalambet/sunday/internal/storage"
)

// Outcome suffixes appended to the answer.
const (
	DraftCreatedSuffix = "\n\nDraft has been created in Gmail!"
	DraftFailedSuffix  = "\n\n⚠️ Failed to create draft - please check Gmail connection"
	SentSuffix         = "\n\nEmail has been sent successfully!"
	SendFailedSuffix   = "\n\n⚠️ Failed to send email - please check Gmail connection"
)

// IntegrationStore looks up a user's linked mailbox. It returns
// storage.ErrNotFound when nothing is linked.
type IntegrationStore interface {
	GetIntegration(ctx context.Context, userID, provider string) (storage.Integration, error)
}

// Outcome records what happened to one directive.
type Outcome struct {
	Kind    Kind
	Skipped bool
	Err     error
}

// Executor runs the directives of a finished answer against the user's
// mailbox.
type Executor struct {
	integrations IntegrationStore
	newService   mail.Factory
	logger       *slog.Logger
}

// NewExecutor creates an Executor. A nil logger falls back to slog.Default().
func NewExecutor(integrations IntegrationStore, newService mail.Factory, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		integrations: integrations,
		newService:   newService,
		logger:       logger.With("component", "directive"),
	}
}

// Run executes every directive in answer once, draft before send, and returns
// the answer with one outcome suffix per executed directive. emit is called
// with the updated answer after each suffix is appended. A directive whose
// integration is not linked is skipped without a suffix. Failures never
// escape Run; they only change the suffix.
func (e *Executor) Run(ctx context.Context, userID, answer string, emit func(answer string)) (string, []Outcome) {
	directives := Parse(answer)
	outcomes := make([]Outcome, 0, len(directives))
	for _, d := range directives {
		err := e.execute(ctx, userID, &d)
		if errors.Is(err, storage.ErrNotFound) {
			e.logger.Debug("directive skipped, mailbox not linked", "kind", d.Kind, "user_id", userID)
			outcomes = append(outcomes, Outcome{Kind: d.Kind, Skipped: true})
			continue
		}

		if err != nil {
			e.logger.Warn("directive failed", "kind", d.Kind, "user_id", userID, "error", err)
			answer += failureSuffix(d.Kind)
		} else {
			e.logger.Info("directive executed", "kind", d.Kind, "user_id", userID)
			answer += successSuffix(d.Kind)
		}
		outcomes = append(outcomes, Outcome{Kind: d.Kind, Err: err})
		if emit != nil {
			emit(answer)
		}
	}
	return answer, outcomes
}

func (e *Executor) execute(ctx context.Context, userID string, d *Directive) error {
	if e.integrations == nil || e.newService == nil {
		return storage.ErrNotFound
	}
	in, err := e.integrations.GetIntegration(ctx, userID, mail.Provider)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return err
		}
		return fmt.Errorf("loading %s integration: %w", mail.Provider, err)
	}
	if err := d.Decode(); err != nil {
		return err
	}
	svc, err := e.newService(ctx, in.AccessToken)
	if err != nil {
		return fmt.Errorf("connecting to %s: %w", mail.Provider, err)
	}
	switch d.Kind {
	case KindDraft:
		return svc.CreateDraft(ctx, d.To, d.Subject, d.Body)
	case KindSend:
		return svc.Send(ctx, d.To, d.Subject, d.Body)
	default:
		return fmt.Errorf("unknown directive kind %q", d.Kind)
	}
}

func successSuffix(k Kind) string {
	if k == KindSend {
		return SentSuffix
	}
	return DraftCreatedSuffix
}

func failureSuffix(k Kind) string {
	if k == KindSend {
		return SendFailedSuffix
	}
	return DraftFailedSuffix
}
