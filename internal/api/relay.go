package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/shared"

	"github.com/kalambet/sunday/internal/chat"
	"github.com/kalambet/sunday/internal/completion"
)

// NewRelayHandler serves POST /api/chat: it forwards a completion request to
// an OpenAI-compatible upstream and writes the answer back as an unframed
// text stream, flushing after every delta. The end of the body is the only
// completion signal.
func NewRelayHandler(client openai.Client, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "relay")

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			httpError(w, http.StatusMethodNotAllowed, "invalid_request_error", "method %s not allowed", r.Method)
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req completion.Request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Model == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "model is required")
			return
		}
		if len(req.Messages) == 0 {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "messages must not be empty")
			return
		}

		stream := client.Chat.Completions.NewStreaming(r.Context(), relayParams(req))
		defer stream.Close()

		flusher, _ := w.(http.Flusher)
		started := false
		for stream.Next() {
			chunk := stream.Current()
			if len(chunk.Choices) == 0 || chunk.Choices[0].Delta.Content == "" {
				continue
			}
			if !started {
				w.Header().Set("Content-Type", "text/plain; charset=utf-8")
				w.Header().Set("Cache-Control", "no-cache")
				w.WriteHeader(http.StatusOK)
				started = true
			}
			if _, err := w.Write([]byte(chunk.Choices[0].Delta.Content)); err != nil {
				logger.Debug("client went away", "error", err)
				return
			}
			if flusher != nil {
				flusher.Flush()
			}
		}

		if err := stream.Err(); err != nil {
			if !started {
				logger.Warn("upstream request failed", "model", req.Model, "error", err)
				httpError(w, http.StatusBadGateway, "upstream_error", "upstream request failed: %v", err)
				return
			}
			// The status line is already out; abort so the client sees a
			// broken stream rather than a short answer.
			logger.Warn("upstream stream broke", "model", req.Model, "error", err)
			panic(http.ErrAbortHandler)
		}

		if !started {
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			w.WriteHeader(http.StatusOK)
		}
	})
}

func relayParams(req completion.Request) openai.ChatCompletionNewParams {
	msgs := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages))
	for _, m := range req.Messages {
		switch m.Role {
		case chat.RoleSystem:
			msgs = append(msgs, openai.SystemMessage(m.Content))
		case chat.RoleAssistant:
			msgs = append(msgs, openai.AssistantMessage(m.Content))
		default:
			msgs = append(msgs, openai.UserMessage(m.Content))
		}
	}

	params := openai.ChatCompletionNewParams{
		Model:            shared.ChatModel(req.Model),
		Messages:         msgs,
		Temperature:      openai.Float(req.Temperature),
		TopP:             openai.Float(req.TopP),
		FrequencyPenalty: openai.Float(req.FrequencyPenalty),
		PresencePenalty:  openai.Float(req.PresencePenalty),
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}
	return params
}
