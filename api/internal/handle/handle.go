package handle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"safety-proxy/api/internal/ai"
	"safety-proxy/api/internal/media"
	"safety-proxy/api/internal/normalize"
	"safety-proxy/api/internal/pipeline"
	"safety-proxy/api/internal/safety"
	"safety-proxy/api/internal/store"
)

const maxBody = 32 << 20

type Service interface {
	AnalyzePhoto(ctx context.Context, req safety.PhotoRequest) (*safety.PhotoResponse, error)
	AssessRisk(ctx context.Context, req safety.AssessRequest) (*safety.AssessResponse, error)
	AdditionalHazards(ctx context.Context, req safety.AdditionalRequest) (*safety.AdditionalResponse, error)
	Ask(ctx context.Context, req safety.AskRequest) (string, error)
}

type Handle struct {
	svc     Service
	timeout time.Duration
	log     *slog.Logger
}

func New(svc Service, timeout time.Duration, logger *slog.Logger) *Handle {
	if timeout <= 0 {
		timeout = 180 * time.Second
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Handle{svc: svc, timeout: timeout, log: logger}
}

// Register mounts the API routes on mux.
func (h *Handle) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/photo/analyze", h.AnalyzePhoto)
	mux.HandleFunc("POST /v1/risk/assess", h.AssessRisk)
	mux.HandleFunc("POST /v1/risk/additional", h.AdditionalHazards)
	mux.HandleFunc("POST /v1/qa", h.Ask)
}

type errorBody struct {
	Error     string `json:"error"`
	Stage     string `json:"stage,omitempty"`
	Retryable bool   `json:"retryable"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *Handle) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := statusOf(err)
	stage, _ := pipeline.StageOf(err)
	if code >= 500 {
		h.log.Error("request failed", "path", r.URL.Path, "status", code, "stage", stage, "err", err)
	}
	writeJSON(w, code, errorBody{Error: err.Error(), Stage: string(stage), Retryable: pipeline.Retryable(err)})
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, errBadRequest), errors.Is(err, pipeline.ErrInvalidJob), errors.Is(err, ai.ErrUnknownEngine):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, media.ErrDecode), errors.Is(err, normalize.ErrSchemaMismatch):
		return http.StatusUnprocessableEntity
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		// empty or unparseable replies and upstream failures
		return http.StatusBadGateway
	}
}

var errBadRequest = errors.New("bad request")

func decodeBody(r *http.Request, dst any) error {
	defer r.Body.Close()
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBody)).Decode(dst); err != nil {
		return fmt.Errorf("%w: bad json: %v", errBadRequest, err)
	}
	return nil
}

// withDeadline applies X-Request-Timeout (or ?timeoutSec=) in seconds, else the default.
func (h *Handle) withDeadline(r *http.Request) (context.Context, context.CancelFunc) {
	deadline := h.timeout
	ts := r.Header.Get("X-Request-Timeout")
	if ts == "" {
		ts = r.URL.Query().Get("timeoutSec")
	}
	if v, _ := strconv.Atoi(strings.TrimSpace(ts)); v > 0 {
		deadline = time.Duration(v) * time.Second
	}
	return context.WithTimeout(r.Context(), deadline)
}

// decodeImage accepts plain base64 or a data URL. An empty string means no image.
func decodeImage(b64, mime string) (*media.RawMedia, error) {
	if strings.TrimSpace(b64) == "" {
		return nil, nil
	}
	data, hint, err := media.DecodeBase64MaybeDataURL(b64)
	if err != nil || len(data) == 0 {
		return nil, fmt.Errorf("%w: bad image base64", errBadRequest)
	}
	return &media.RawMedia{Data: data, MIMEType: media.PickMIME(mime, hint, data)}, nil
}
