package openai

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"safety-proxy/api/internal/ai"

	goopenai "github.com/sashabaranov/go-openai"
)

const DefaultModel = "gpt-4o-mini"

type Engine struct {
	client *goopenai.Client
	model  string
	log    *slog.Logger
}

type Option func(*goopenai.ClientConfig)

// WithBaseURL points the client at a compatible endpoint.
func WithBaseURL(url string) Option {
	return func(c *goopenai.ClientConfig) {
		if url != "" {
			c.BaseURL = url
		}
	}
}

func New(apiKey, model string, logger *slog.Logger, opts ...Option) (*Engine, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, errors.New("OPENAI_API_KEY is empty")
	}
	model = strings.TrimSpace(model)
	if model == "" {
		model = DefaultModel
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	cfg := goopenai.DefaultConfig(apiKey)
	for _, o := range opts {
		o(&cfg)
	}
	return &Engine{client: goopenai.NewClientWithConfig(cfg), model: model, log: logger}, nil
}

func (e *Engine) Name() string  { return "openai" }
func (e *Engine) Model() string { return e.model }

func (e *Engine) Generate(ctx context.Context, req ai.Request) (string, error) {
	creq := goopenai.ChatCompletionRequest{
		Model:    e.model,
		Messages: messages(req),
	}
	if req.JSON {
		creq.ResponseFormat = &goopenai.ChatCompletionResponseFormat{
			Type: goopenai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	start := time.Now()
	resp, err := e.client.CreateChatCompletion(ctx, creq)
	if err != nil {
		return "", classify(err)
	}
	if len(resp.Choices) == 0 {
		return "", nil
	}
	out := resp.Choices[0].Message.Content
	e.log.Debug("openai generate",
		"model", e.model, "json", req.JSON, "media_bytes", len(req.Media),
		"reply_len", len(out), "tokens", resp.Usage.TotalTokens, "took", time.Since(start))
	return out, nil
}

func messages(req ai.Request) []goopenai.ChatCompletionMessage {
	out := make([]goopenai.ChatCompletionMessage, 0, len(req.History)+2)
	if s := strings.TrimSpace(req.System); s != "" {
		out = append(out, goopenai.ChatCompletionMessage{Role: goopenai.ChatMessageRoleSystem, Content: s})
	}
	for _, t := range req.History {
		role := goopenai.ChatMessageRoleUser
		if t.Role == ai.RoleModel {
			role = goopenai.ChatMessageRoleAssistant
		}
		out = append(out, goopenai.ChatCompletionMessage{Role: role, Content: t.Text})
	}

	if !req.HasMedia() {
		return append(out, goopenai.ChatCompletionMessage{Role: goopenai.ChatMessageRoleUser, Content: req.Instruction})
	}
	return append(out, goopenai.ChatCompletionMessage{
		Role: goopenai.ChatMessageRoleUser,
		MultiContent: []goopenai.ChatMessagePart{
			{
				Type: goopenai.ChatMessagePartTypeImageURL,
				ImageURL: &goopenai.ChatMessageImageURL{
					URL:    dataURL(req.MIMEType, req.Media),
					Detail: goopenai.ImageURLDetailHigh,
				},
			},
			{Type: goopenai.ChatMessagePartTypeText, Text: req.Instruction},
		},
	})
}

func dataURL(mime string, data []byte) string {
	if mime == "" {
		mime = "image/jpeg"
	}
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data)
}

func classify(err error) error {
	code := 0
	var apiErr *goopenai.APIError
	var reqErr *goopenai.RequestError
	switch {
	case errors.As(err, &apiErr):
		code = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		code = reqErr.HTTPStatusCode
	}
	switch code {
	case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound:
		return fmt.Errorf("openai %d: %w: %w", code, ai.ErrPermanent, err)
	}
	return fmt.Errorf("openai: %w", err)
}
