package completion

import (
	"fmt"

	"github.com/kalambet/sunday/internal/chat"
)

// Request is the JSON body POSTed to the completion backend.
type Request struct {
	Messages         []chat.Message `json:"messages"`
	Model            string         `json:"model"`
	Temperature      float64        `json:"temperature"`
	MaxTokens        int            `json:"max_tokens"`
	TopP             float64        `json:"top_p"`
	FrequencyPenalty float64        `json:"frequency_penalty"`
	PresencePenalty  float64        `json:"presence_penalty"`
}

// NewRequest builds a Request from the outbound messages and the caller's
// AI configuration snapshot. The model is chosen by turn mode.
func NewRequest(messages []chat.Message, ai chat.AIConfig, mode chat.Mode) Request {
	return Request{
		Messages:         messages,
		Model:            ai.ModelFor(mode),
		Temperature:      ai.Temperature,
		MaxTokens:        ai.MaxTokens,
		TopP:             ai.TopP,
		FrequencyPenalty: ai.FrequencyPenalty,
		PresencePenalty:  ai.PresencePenalty,
	}
}

// StatusError is returned for any non-2xx backend response. The body is
// not inspected.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.Code)
}
