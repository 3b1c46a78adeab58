// Package mail defines the mailbox actions a turn can trigger and a Gmail
// implementation of them.
package mail

import "context"

// Provider is the integration record name for Gmail.
const Provider = "gmail"

// Email is an excerpt of one mailbox message used as answer context.
type Email struct {
	ID      string `json:"id"`
	From    string `json:"from"`
	To      string `json:"to"`
	Subject string `json:"subject"`
	Date    string `json:"date"`
	Snippet string `json:"snippet"`
	Body    string `json:"body,omitempty"`
}

// Service is the mail action surface consumed by the turn orchestrator.
type Service interface {
	// ListRecent returns up to limit recent messages matching the optional
	// search query.
	ListRecent(ctx context.Context, limit int, query string) ([]Email, error)
	CreateDraft(ctx context.Context, to, subject, body string) error
	Send(ctx context.Context, to, subject, body string) error
}

// Factory builds a Service bound to a user's access token.
type Factory func(ctx context.Context, accessToken string) (Service, error)
