// Package directive recognises mail action markers in a finished answer and
// carries them out.
package directive

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Kind is the mail action a directive requests.
type Kind string

const (
	KindDraft Kind = "draft"
	KindSend  Kind = "send"
)

// Marker tokens emitted by the model.
const (
	DraftMarker = "DRAFT_CONTENT:"
	SendMarker  = "SEND_CONTENT:"
)

// ErrMalformedPayload is returned when a marker's JSON object is not a valid
// {to, subject, body} payload.
var ErrMalformedPayload = errors.New("malformed directive payload")

var (
	draftPattern = regexp.MustCompile(`DRAFT_CONTENT:\s*(\{[\s\S]*?\})`)
	sendPattern  = regexp.MustCompile(`SEND_CONTENT:\s*(\{[\s\S]*?\})`)
)

// Directive is a mail action extracted from an answer. Payload holds the raw
// JSON object following the marker; the fields are filled by Decode.
type Directive struct {
	Kind    Kind
	Payload string
	To      string
	Subject string
	Body    string
}

// Parse returns the directives found in answer, draft before send. Each
// marker kind yields at most one directive: the first marker followed by a
// plausible JSON object. A marker without an object yields nothing.
func Parse(answer string) []Directive {
	var out []Directive
	for _, p := range []struct {
		kind Kind
		re   *regexp.Regexp
	}{
		{KindDraft, draftPattern},
		{KindSend, sendPattern},
	} {
		m := p.re.FindStringSubmatch(answer)
		if m == nil {
			continue
		}
		out = append(out, Directive{Kind: p.kind, Payload: m[1]})
	}
	return out
}

// HasMarker reports whether answer mentions either marker at all.
func HasMarker(answer string) bool {
	return strings.Contains(answer, DraftMarker) || strings.Contains(answer, SendMarker)
}

// Decode parses the payload strictly: to, subject and body must all be
// present as strings, and to must be non-empty.
func (d *Directive) Decode() error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal([]byte(d.Payload), &raw); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	fields := map[string]*string{"to": &d.To, "subject": &d.Subject, "body": &d.Body}
	for name, dst := range fields {
		v, ok := raw[name]
		if !ok {
			return fmt.Errorf("%w: missing %q", ErrMalformedPayload, name)
		}
		if string(v) == "null" {
			return fmt.Errorf("%w: field %q is null", ErrMalformedPayload, name)
		}
		if err := json.Unmarshal(v, dst); err != nil {
			return fmt.Errorf("%w: field %q is not a string", ErrMalformedPayload, name)
		}
	}
	if strings.TrimSpace(d.To) == "" {
		return fmt.Errorf("%w: empty recipient", ErrMalformedPayload)
	}
	return nil
}
