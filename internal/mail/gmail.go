package mail

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/sync/errgroup"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"
)

const (
	gmailUser = "me"
	// Gmail caps a single list page at 500 ids.
	maxPageSize   = 500
	fetchParallel = 8
	maxBodyRunes  = 1500
)

// Gmail implements Service on top of the Gmail REST API.
type Gmail struct {
	svc *gmail.Service
}

// NewGmail creates a Gmail client authorised with a user's OAuth access
// token. Extra client options are applied after the token source, which lets
// tests point the client at a local endpoint.
func NewGmail(ctx context.Context, accessToken string, opts ...option.ClientOption) (*Gmail, error) {
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken})
	all := append([]option.ClientOption{option.WithTokenSource(ts)}, opts...)
	svc, err := gmail.NewService(ctx, all...)
	if err != nil {
		return nil, fmt.Errorf("creating gmail service: %w", err)
	}
	return &Gmail{svc: svc}, nil
}

// GmailFactory is a Factory producing Gmail-backed services.
func GmailFactory(opts ...option.ClientOption) Factory {
	return func(ctx context.Context, accessToken string) (Service, error) {
		return NewGmail(ctx, accessToken, opts...)
	}
}

// ListRecent lists message ids newest first, then fetches each message's
// headers and text body with bounded concurrency.
func (g *Gmail) ListRecent(ctx context.Context, limit int, query string) ([]Email, error) {
	if limit <= 0 {
		return nil, nil
	}

	var ids []string
	pageToken := ""
	for len(ids) < limit {
		call := g.svc.Users.Messages.List(gmailUser).
			MaxResults(int64(min(limit-len(ids), maxPageSize))).
			Context(ctx)
		if query != "" {
			call = call.Q(query)
		}
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}
		resp, err := call.Do()
		if err != nil {
			return nil, fmt.Errorf("listing messages: %w", err)
		}
		for _, m := range resp.Messages {
			ids = append(ids, m.Id)
		}
		if resp.NextPageToken == "" || len(resp.Messages) == 0 {
			break
		}
		pageToken = resp.NextPageToken
	}
	if len(ids) > limit {
		ids = ids[:limit]
	}

	emails := make([]Email, len(ids))
	eg, gCtx := errgroup.WithContext(ctx)
	eg.SetLimit(fetchParallel)
	for i, id := range ids {
		eg.Go(func() error {
			msg, err := g.svc.Users.Messages.Get(gmailUser, id).Format("full").Context(gCtx).Do()
			if err != nil {
				return fmt.Errorf("fetching message %s: %w", id, err)
			}
			emails[i] = toEmail(msg)
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return emails, nil
}

// CreateDraft stores a draft in the user's mailbox.
func (g *Gmail) CreateDraft(ctx context.Context, to, subject, body string) error {
	draft := &gmail.Draft{Message: &gmail.Message{Raw: encodeRaw(to, subject, body)}}
	if _, err := g.svc.Users.Drafts.Create(gmailUser, draft).Context(ctx).Do(); err != nil {
		return fmt.Errorf("creating draft: %w", err)
	}
	return nil
}

// Send sends a message from the user's mailbox.
func (g *Gmail) Send(ctx context.Context, to, subject, body string) error {
	msg := &gmail.Message{Raw: encodeRaw(to, subject, body)}
	if _, err := g.svc.Users.Messages.Send(gmailUser, msg).Context(ctx).Do(); err != nil {
		return fmt.Errorf("sending message: %w", err)
	}
	return nil
}

// encodeRaw renders a minimal RFC 2822 message in the base64url form the
// Gmail API expects.
func encodeRaw(to, subject, body string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "To: %s\r\n", to)
	fmt.Fprintf(&sb, "Subject: %s\r\n", subject)
	sb.WriteString("MIME-Version: 1.0\r\n")
	sb.WriteString("Content-Type: text/plain; charset=\"UTF-8\"\r\n")
	sb.WriteString("\r\n")
	sb.WriteString(body)
	return base64.URLEncoding.EncodeToString([]byte(sb.String()))
}

func toEmail(msg *gmail.Message) Email {
	e := Email{ID: msg.Id, Snippet: msg.Snippet}
	if msg.Payload == nil {
		return e
	}
	for _, h := range msg.Payload.Headers {
		switch strings.ToLower(h.Name) {
		case "from":
			e.From = h.Value
		case "to":
			e.To = h.Value
		case "subject":
			e.Subject = h.Value
		case "date":
			e.Date = h.Value
		}
	}
	e.Body = truncateRunes(strings.TrimSpace(partText(msg.Payload)), maxBodyRunes)
	return e
}

// partText prefers a text/plain body anywhere in the MIME tree and falls back
// to the first text/html body converted to plain text.
func partText(p *gmail.MessagePart) string {
	if s := findPart(p, "text/plain"); s != "" {
		return s
	}
	if s := findPart(p, "text/html"); s != "" {
		return HTMLToText(s)
	}
	return ""
}

func findPart(p *gmail.MessagePart, mimeType string) string {
	if p == nil {
		return ""
	}
	if strings.HasPrefix(p.MimeType, mimeType) && p.Body != nil && p.Body.Data != "" {
		if b, err := decodeBase64URL(p.Body.Data); err == nil {
			return string(b)
		}
	}
	for _, child := range p.Parts {
		if s := findPart(child, mimeType); s != "" {
			return s
		}
	}
	return ""
}

func decodeBase64URL(s string) ([]byte, error) {
	if b, err := base64.URLEncoding.DecodeString(s); err == nil {
		return b, nil
	}
	return base64.RawURLEncoding.DecodeString(s)
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}
