package intent

import (
	"strings"
	"unicode"
)

// mailboxTerms are words that indicate a question needs data from the user's
// mailbox: the mail itself, or things that usually only live there.
var mailboxTerms = map[string]bool{
	"email":        true,
	"emails":       true,
	"e-mail":       true,
	"mail":         true,
	"mails":        true,
	"gmail":        true,
	"inbox":        true,
	"unread":       true,
	"draft":        true,
	"drafts":       true,
	"reply":        true,
	"replied":      true,
	"sender":       true,
	"newsletter":   true,
	"meeting":      true,
	"meetings":     true,
	"invite":       true,
	"invitation":   true,
	"appointment":  true,
	"receipt":      true,
	"receipts":     true,
	"order":        true,
	"shipping":     true,
	"subscription": true,
}

// mailboxPhrases are multi-word cues matched against the normalised query.
var mailboxPhrases = []string{
	"send a message to",
	"write to",
	"did anyone send",
	"who sent",
	"my next meeting",
}

// Classifier decides whether a question needs mailbox access.
type Classifier struct {
	extraTerms map[string]bool
}

// NewClassifier returns a Classifier that also matches the given terms.
func NewClassifier(extra ...string) *Classifier {
	c := &Classifier{extraTerms: make(map[string]bool, len(extra))}
	for _, t := range extra {
		if t = strings.ToLower(strings.TrimSpace(t)); t != "" {
			c.extraTerms[t] = true
		}
	}
	return c
}

// RequiresMailbox reports whether the question should be answered from the
// user's recent email rather than the thread history alone.
func (c *Classifier) RequiresMailbox(question string) bool {
	q := strings.ToLower(question)
	for _, p := range mailboxPhrases {
		if strings.Contains(q, p) {
			return true
		}
	}

	words := strings.FieldsFunc(q, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '-'
	})
	for _, w := range words {
		if mailboxTerms[w] || c.extraTerms[w] {
			return true
		}
	}
	return false
}

// RequiresMailbox is the default classifier as a plain predicate.
func RequiresMailbox(question string) bool {
	return defaultClassifier.RequiresMailbox(question)
}

var defaultClassifier = NewClassifier()
