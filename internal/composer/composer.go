package composer

import (
	"fmt"
	"strings"

	"github.com/kalambet/sunday/internal/chat"
	"github.com/kalambet/sunday/internal/mail"
)

const defaultMaxContextTokens = 4000

// DefaultSystemPrompt opens every new thread.
const DefaultSystemPrompt = "You are an AI assistant named Sunday. Answer clearly and concisely. " +
	"If the user asks who you are, you are an AI assistant named Sunday."

// mailboxPrompt instructs the model how to answer from the user's inbox and
// how to request mail actions.
const mailboxPrompt = "You are Sunday, an AI assistant with read access to the user's Gmail inbox. " +
	"Answer the question using only the emails listed below.\n" +
	"If the user asks you to write an email, reply with DRAFT_CONTENT: followed by a JSON object " +
	`{"to": "...", "subject": "...", "body": "..."}. ` +
	"If the user explicitly asks you to send it, use SEND_CONTENT: with the same JSON object instead."

// Composer builds the ordered message sequence sent to the completion
// backend. MaxContextTokens bounds the mailbox excerpts injected into a
// mailbox-backed request.
type Composer struct {
	MaxContextTokens int
}

// New creates a Composer with the given token budget for injected context.
// If maxContextTokens <= 0, the default (4000) is used.
func New(maxContextTokens int) *Composer {
	if maxContextTokens <= 0 {
		maxContextTokens = defaultMaxContextTokens
	}
	return &Composer{MaxContextTokens: maxContextTokens}
}

// Initial seeds an empty thread: the default system prompt, an optional
// custom prompt, optional free-text context, then the question.
func (c *Composer) Initial(question, context, customPrompt string) []chat.Message {
	msgs := []chat.Message{{Role: chat.RoleSystem, Content: DefaultSystemPrompt}}
	if p := strings.TrimSpace(customPrompt); p != "" {
		msgs = append(msgs, chat.Message{Role: chat.RoleSystem, Content: p})
	}
	if ctx := strings.TrimSpace(context); ctx != "" {
		msgs = append(msgs, chat.Message{Role: chat.RoleSystem, Content: "Use the following context to answer the question:\n\n" + ctx})
	}
	return append(msgs, chat.Message{Role: chat.RoleUser, Content: question})
}

// ForAnswer returns the standard sequence for a new question. With no
// history the thread is seeded via Initial; otherwise the question is
// appended to a copy of the history.
func (c *Composer) ForAnswer(history []chat.Message, question, context, customPrompt string) []chat.Message {
	if len(history) == 0 {
		return c.Initial(question, context, customPrompt)
	}
	msgs := make([]chat.Message, 0, len(history)+1)
	msgs = append(msgs, history...)
	return append(msgs, chat.Message{Role: chat.RoleUser, Content: question})
}

// ForRewrite rebuilds the sequence that produced the most recent answer so it
// can be regenerated. The first system message moves to the front and any
// other system messages are dropped. The last user message and the last
// assistant message are removed from the history, the user message is
// re-appended at the end (falling back to question when history has none),
// and a non-empty custom prompt is appended last as a system message.
func (c *Composer) ForRewrite(history []chat.Message, question, customPrompt string) []chat.Message {
	sysIdx, userIdx, asstIdx := -1, -1, -1
	for i, m := range history {
		switch m.Role {
		case chat.RoleSystem:
			if sysIdx < 0 {
				sysIdx = i
			}
		case chat.RoleUser:
			userIdx = i
		case chat.RoleAssistant:
			asstIdx = i
		}
	}

	msgs := make([]chat.Message, 0, len(history)+1)
	if sysIdx >= 0 {
		msgs = append(msgs, history[sysIdx])
	}
	for i, m := range history {
		if m.Role == chat.RoleSystem || i == userIdx || i == asstIdx {
			continue
		}
		msgs = append(msgs, m)
	}

	last := question
	if userIdx >= 0 {
		last = history[userIdx].Content
	}
	msgs = append(msgs, chat.Message{Role: chat.RoleUser, Content: last})

	if p := strings.TrimSpace(customPrompt); p != "" {
		msgs = append(msgs, chat.Message{Role: chat.RoleSystem, Content: p})
	}
	return msgs
}

// EndsWithExchange reports whether history closes with the user message for
// question followed by an assistant reply.
func EndsWithExchange(history []chat.Message, question string) bool {
	n := len(history)
	return n >= 2 &&
		history[n-1].Role == chat.RoleAssistant &&
		history[n-2].Role == chat.RoleUser &&
		history[n-2].Content == question
}

// Mailbox replaces the standard sequence with one built from email excerpts.
// Emails are taken in order until the token budget is exhausted; later
// emails that do not fit are dropped. It also returns how many excerpts made
// it into the prompt.
func (c *Composer) Mailbox(emails []mail.Email, question string) ([]chat.Message, int) {
	var sb strings.Builder
	sb.WriteString(mailboxPrompt)

	header := "\n\n[Recent Emails]\n"
	remaining := c.MaxContextTokens - EstimateTokens(sb.String()) - EstimateTokens(header)

	var selected []string
	for _, e := range emails {
		entry := formatEmail(e)
		tokens := EstimateTokens(entry)
		if tokens > remaining {
			continue
		}
		selected = append(selected, entry)
		remaining -= tokens
	}

	if len(selected) > 0 {
		sb.WriteString(header)
		for _, entry := range selected {
			sb.WriteString(entry)
		}
	}

	return []chat.Message{
		{Role: chat.RoleSystem, Content: sb.String()},
		{Role: chat.RoleUser, Content: question},
	}, len(selected)
}

func formatEmail(e mail.Email) string {
	text := e.Body
	if text == "" {
		text = e.Snippet
	}
	return fmt.Sprintf("From: %s\nSubject: %s\nDate: %s\n%s\n\n", e.From, e.Subject, e.Date, text)
}

// EstimateTokens provides a rough token count using 4 chars per token heuristic.
func EstimateTokens(text string) int {
	return (len(text) + 3) / 4
}
