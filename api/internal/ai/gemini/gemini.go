package gemini

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"safety-proxy/api/internal/ai"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

const DefaultModel = "gemini-2.5-flash"

// Engine talks to the Gemini API through one long-lived client.
type Engine struct {
	client *genai.Client
	model  string
	log    *slog.Logger
}

func New(ctx context.Context, apiKey, model string, logger *slog.Logger) (*Engine, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, errors.New("GEMINI_API_KEY is empty")
	}
	model = strings.TrimSpace(model)
	if model == "" {
		model = DefaultModel
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	cl, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("gemini: new client: %w", err)
	}
	return &Engine{client: cl, model: model, log: logger}, nil
}

func (e *Engine) Name() string  { return "gemini" }
func (e *Engine) Model() string { return e.model }

func (e *Engine) Close() error { return e.client.Close() }

func (e *Engine) Generate(ctx context.Context, req ai.Request) (string, error) {
	m := e.client.GenerativeModel(e.model)
	configure(m, req)

	start := time.Now()
	var (
		resp *genai.GenerateContentResponse
		err  error
	)
	if len(req.History) > 0 {
		cs := m.StartChat()
		cs.History = history(req.History)
		resp, err = cs.SendMessage(ctx, parts(req)...)
	} else {
		resp, err = m.GenerateContent(ctx, parts(req)...)
	}
	if err != nil {
		return "", classify(err)
	}

	txt := firstText(resp)
	e.log.Debug("gemini generate",
		"model", e.model, "json", req.JSON, "media_bytes", len(req.Media),
		"reply_len", len(txt), "took", time.Since(start))
	return txt, nil
}

func configure(m *genai.GenerativeModel, req ai.Request) {
	if req.JSON {
		m.GenerationConfig = genai.GenerationConfig{
			Temperature:      ptrFloat32(0),
			ResponseMIMEType: "application/json",
		}
	}
	if s := strings.TrimSpace(req.System); s != "" {
		m.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(s)}}
	}
}

// parts puts the image before the instruction, as a user would send it.
func parts(req ai.Request) []genai.Part {
	out := make([]genai.Part, 0, 2)
	if req.HasMedia() {
		out = append(out, genai.Blob{MIMEType: req.MIMEType, Data: req.Media})
	}
	return append(out, genai.Text(req.Instruction))
}

func history(turns []ai.Turn) []*genai.Content {
	out := make([]*genai.Content, 0, len(turns))
	for _, t := range turns {
		role := "user"
		if t.Role == ai.RoleModel {
			role = "model"
		}
		out = append(out, &genai.Content{Role: role, Parts: []genai.Part{genai.Text(t.Text)}})
	}
	return out
}

// firstText joins the text parts of the first candidate that has content.
func firstText(resp *genai.GenerateContentResponse) string {
	if resp == nil {
		return ""
	}
	for _, c := range resp.Candidates {
		if c == nil || c.Content == nil {
			continue
		}
		var b strings.Builder
		for _, p := range c.Content.Parts {
			if t, ok := p.(genai.Text); ok {
				b.WriteString(string(t))
			}
		}
		if b.Len() > 0 {
			return b.String()
		}
	}
	return ""
}

func classify(err error) error {
	var blocked *genai.BlockedError
	if errors.As(err, &blocked) {
		return fmt.Errorf("gemini: %w: %w", ai.ErrPermanent, err)
	}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		switch gerr.Code {
		case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound:
			return fmt.Errorf("gemini %d: %w: %w", gerr.Code, ai.ErrPermanent, err)
		}
	}
	return fmt.Errorf("gemini: %w", err)
}

func ptrFloat32(v float32) *float32 { return &v }
