// Package safety is the application service shared by the HTTP and Telegram
// front ends: engine selection, the analysis cache and assessment records
// around the pipeline.
package safety

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"safety-proxy/api/internal/ai"
	"safety-proxy/api/internal/media"
	"safety-proxy/api/internal/normalize"
	"safety-proxy/api/internal/pipeline"
	"safety-proxy/api/internal/store"
)

const DefaultCacheTTL = 7 * 24 * time.Hour

type AnalysisStore interface {
	FindByHash(ctx context.Context, imageHash, engine, model string, maxAge time.Duration) (*store.AnalysisRow, error)
	Upsert(ctx context.Context, row store.AnalysisRow) error
}

type AssessmentStore interface {
	Save(ctx context.Context, a *store.Assessment) error
	Get(ctx context.Context, id string) (*store.Assessment, error)
	LatestForChat(ctx context.Context, chatID int64) (*store.Assessment, error)
	AppendHazards(ctx context.Context, id string, more []normalize.Hazard) ([]normalize.Hazard, error)
}

type Service struct {
	pipe        *pipeline.Pipeline
	engines     *ai.Engines
	analyses    AnalysisStore
	assessments AssessmentStore
	cacheTTL    time.Duration
	log         *slog.Logger
}

type Option func(*Service)

// WithAnalysisCache enables the photo analysis cache.
func WithAnalysisCache(s AnalysisStore, ttl time.Duration) Option {
	return func(svc *Service) {
		svc.analyses = s
		if ttl > 0 {
			svc.cacheTTL = ttl
		}
	}
}

// WithAssessments persists risk assessments.
func WithAssessments(s AssessmentStore) Option {
	return func(svc *Service) { svc.assessments = s }
}

func New(pipe *pipeline.Pipeline, engines *ai.Engines, logger *slog.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	s := &Service{pipe: pipe, engines: engines, cacheTTL: DefaultCacheTTL, log: logger}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Service) EngineNames() []string { return s.engines.Names() }

// EngineName resolves an engine name or alias, or the default when name is empty.
func (s *Service) EngineName(name string) (string, error) {
	eng, err := s.engines.Get(name)
	if err != nil {
		return "", err
	}
	return eng.Name(), nil
}

type PhotoRequest struct {
	Engine  string
	Media   media.RawMedia
	Context string
	ChatID  int64
}

type PhotoResponse struct {
	Engine   string                  `json:"engine"`
	Model    string                  `json:"model"`
	Analysis normalize.PhotoAnalysis `json:"analysis"`
	Media    *media.Meta             `json:"media,omitempty"`
	Cached   bool                    `json:"cached"`
}

// AnalyzePhoto returns a cached analysis of the same image, engine, model
// and context when there is a fresh one, and runs the pipeline otherwise.
func (s *Service) AnalyzePhoto(ctx context.Context, req PhotoRequest) (*PhotoResponse, error) {
	eng, err := s.engines.Get(req.Engine)
	if err != nil {
		return nil, err
	}
	hash := media.SHA256Hex(req.Media.Data)

	if s.analyses != nil {
		row, err := s.analyses.FindByHash(ctx, hash, eng.Name(), eng.Model(), s.cacheTTL)
		switch {
		case err == nil && row.Context == req.Context:
			s.log.Debug("photo analysis cache hit", "hash", hash[:12], "engine", eng.Name())
			return &PhotoResponse{Engine: eng.Name(), Model: eng.Model(), Analysis: row.Result, Cached: true}, nil
		case err != nil && !errors.Is(err, store.ErrNotFound):
			s.log.Warn("photo analysis cache lookup failed", "err", err)
		}
	}

	res, err := s.pipe.Run(ctx, eng, pipeline.Job{
		Kind:    pipeline.KindPhotoAnalysis,
		Media:   &req.Media,
		Context: req.Context,
	})
	if err != nil {
		return nil, err
	}

	if s.analyses != nil {
		row := store.AnalysisRow{
			ChatID: req.ChatID, ImageHash: hash, Engine: eng.Name(), Model: eng.Model(),
			Context: req.Context, Result: *res.Photo,
		}
		if err := s.analyses.Upsert(ctx, row); err != nil {
			s.log.Warn("photo analysis cache store failed", "err", err)
		}
	}
	return &PhotoResponse{Engine: eng.Name(), Model: eng.Model(), Analysis: *res.Photo, Media: res.Media}, nil
}

type AssessRequest struct {
	Engine      string
	Media       *media.RawMedia
	ProcessName string
	Context     string
	Title       string
	ChatID      int64
}

type AssessResponse struct {
	AssessmentID string             `json:"assessment_id,omitempty"`
	Engine       string             `json:"engine"`
	Model        string             `json:"model"`
	ProcessName  string             `json:"process_name"`
	Hazards      []normalize.Hazard `json:"hazards"`
	Media        *media.Meta        `json:"media,omitempty"`
}

// AssessRisk runs a risk assessment and saves it when a store is configured.
// A failed save is logged; the assessment is still returned.
func (s *Service) AssessRisk(ctx context.Context, req AssessRequest) (*AssessResponse, error) {
	eng, err := s.engines.Get(req.Engine)
	if err != nil {
		return nil, err
	}
	res, err := s.pipe.Run(ctx, eng, pipeline.Job{
		Kind:        pipeline.KindRiskAssessment,
		Media:       req.Media,
		Context:     req.Context,
		ProcessName: req.ProcessName,
	})
	if err != nil {
		return nil, err
	}
	out := &AssessResponse{
		Engine: eng.Name(), Model: eng.Model(), ProcessName: req.ProcessName,
		Hazards: res.Hazards, Media: res.Media,
	}
	if s.assessments != nil {
		a := &store.Assessment{
			ChatID: req.ChatID, Title: req.Title, ProcessName: req.ProcessName,
			Engine: eng.Name(), Model: eng.Model(), Hazards: res.Hazards,
		}
		if req.Media != nil {
			a.ImageHash = media.SHA256Hex(req.Media.Data)
		}
		if err := s.assessments.Save(ctx, a); err != nil {
			s.log.Warn("save assessment failed", "err", err)
		} else {
			out.AssessmentID = a.ID
		}
	}
	return out, nil
}

// LatestAssessment returns the chat's most recent stored assessment, or
// store.ErrNotFound when there is none or nothing is persisted.
func (s *Service) LatestAssessment(ctx context.Context, chatID int64) (*store.Assessment, error) {
	if s.assessments == nil {
		return nil, store.ErrNotFound
	}
	return s.assessments.LatestForChat(ctx, chatID)
}

type AdditionalRequest struct {
	Engine string
	// AssessmentID, when stored, supplies the process name and existing
	// hazards and receives the new ones.
	AssessmentID string
	ProcessName  string
	Existing     []string
}

type AdditionalResponse struct {
	AssessmentID string             `json:"assessment_id,omitempty"`
	Added        []normalize.Hazard `json:"added"`
	Hazards      []normalize.Hazard `json:"hazards,omitempty"`
}

func (s *Service) AdditionalHazards(ctx context.Context, req AdditionalRequest) (*AdditionalResponse, error) {
	eng, err := s.engines.Get(req.Engine)
	if err != nil {
		return nil, err
	}
	process, existing := req.ProcessName, req.Existing
	stored := req.AssessmentID != "" && s.assessments != nil
	if stored {
		a, err := s.assessments.Get(ctx, req.AssessmentID)
		if err != nil {
			return nil, err
		}
		process = a.ProcessName
		existing = descriptions(a.Hazards)
	}

	added, err := s.pipe.AdditionalHazards(ctx, eng, process, existing)
	if err != nil {
		return nil, err
	}
	out := &AdditionalResponse{Added: added}
	if stored {
		all, err := s.assessments.AppendHazards(ctx, req.AssessmentID, added)
		if err != nil {
			return nil, err
		}
		out.AssessmentID, out.Hazards = req.AssessmentID, all
	}
	return out, nil
}

type AskRequest struct {
	Engine   string
	Question string
	History  []ai.Turn
	Media    *media.RawMedia
}

func (s *Service) Ask(ctx context.Context, req AskRequest) (string, error) {
	eng, err := s.engines.Get(req.Engine)
	if err != nil {
		return "", err
	}
	return s.pipe.Answer(ctx, eng, req.Question, req.History, req.Media)
}

func descriptions(hs []normalize.Hazard) []string {
	out := make([]string, 0, len(hs))
	for _, h := range hs {
		out = append(out, h.Description)
	}
	return out
}
