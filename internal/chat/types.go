package chat

import "time"

// Role identifies the author of a Message in the model context window.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one role-tagged utterance sent to the completion backend.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Mode tags a Turn with the kind of answer requested.
type Mode string

const (
	ModeChat  Mode = "chat"
	ModeImage Mode = "image"
)

// Turn is one question/answer exchange. Answer is updated progressively
// while the turn is streaming.
type Turn struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
	Mode     Mode   `json:"mode,omitempty"`
}

// Thread is a full conversation owned by a single user.
type Thread struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Title     string    `json:"title,omitempty"`
	Messages  []Message `json:"messages"`
	Chats     []Turn    `json:"chats"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// LastTurn returns the current (last) turn of the thread.
func (t *Thread) LastTurn() (Turn, bool) {
	if len(t.Chats) == 0 {
		return Turn{}, false
	}
	return t.Chats[len(t.Chats)-1], true
}

// Clone returns a deep copy so readers never share slices with the writer.
func (t *Thread) Clone() Thread {
	out := *t
	out.Messages = append([]Message(nil), t.Messages...)
	out.Chats = append([]Turn(nil), t.Chats...)
	return out
}

// AIConfig is the read-only snapshot of generation parameters supplied with
// each request.
type AIConfig struct {
	Model            string  `json:"model"`
	ImageModel       string  `json:"image_model,omitempty"`
	Temperature      float64 `json:"temperature"`
	MaxTokens        int     `json:"max_tokens"`
	TopP             float64 `json:"top_p"`
	FrequencyPenalty float64 `json:"frequency_penalty"`
	PresencePenalty  float64 `json:"presence_penalty"`
	CustomPrompt     string  `json:"custom_prompt,omitempty"`
}

// ModelFor picks the model for a turn mode. Image turns use ImageModel when set.
func (c AIConfig) ModelFor(mode Mode) string {
	if mode == ModeImage && c.ImageModel != "" {
		return c.ImageModel
	}
	return c.Model
}
