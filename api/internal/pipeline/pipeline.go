// Package pipeline sequences image reduction, the AI call and response
// normalization. It performs a single attempt; retries belong to the engine
// wrapper or the caller.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"safety-proxy/api/internal/ai"
	"safety-proxy/api/internal/media"
	"safety-proxy/api/internal/normalize"
	"safety-proxy/api/internal/prompt"

	"github.com/google/uuid"
)

// MaxHistory is how many prior Q&A turns are sent with a question.
const MaxHistory = 8

type Kind string

const (
	KindPhotoAnalysis     Kind = "photo_analysis"
	KindRiskAssessment    Kind = "risk_assessment"
	KindAdditionalHazards Kind = "additional_hazards"
	KindAnswer            Kind = "answer"
)

type Job struct {
	Kind Kind
	// Media is optional; without it the call is text-only and reduce is skipped.
	Media       *media.RawMedia
	Context     string
	ProcessName string
}

type Result struct {
	Kind    Kind                     `json:"kind"`
	Hazards []normalize.Hazard       `json:"hazards,omitempty"`
	Photo   *normalize.PhotoAnalysis `json:"photo,omitempty"`
	Media   *media.Meta              `json:"media,omitempty"`
}

type Reducer interface {
	Reduce(raw media.RawMedia) (*media.CompressedMedia, error)
}

// Recorder observes finished runs. failedStage is empty on success.
type Recorder interface {
	ObserveRun(kind, failedStage string, took time.Duration)
}

type Pipeline struct {
	reducer Reducer
	log     *slog.Logger
	rec     Recorder
	newID   func() string
}

type Option func(*Pipeline)

func WithRecorder(r Recorder) Option { return func(p *Pipeline) { p.rec = r } }

// WithIDGenerator replaces uuid.NewString for hazard IDs.
func WithIDGenerator(f func() string) Option { return func(p *Pipeline) { p.newID = f } }

func New(reducer Reducer, logger *slog.Logger, opts ...Option) *Pipeline {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if reducer == nil {
		reducer = media.NewReducer(media.DefaultLimits(), logger)
	}
	p := &Pipeline{reducer: reducer, log: logger, newID: uuid.NewString}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Run executes a photo analysis or risk assessment job against gen.
func (p *Pipeline) Run(ctx context.Context, gen ai.Generator, job Job) (res *Result, err error) {
	start := time.Now()
	defer func() { p.finish(job.Kind, start, err) }()

	if gen == nil {
		return nil, fmt.Errorf("%w: no generator", ErrInvalidJob)
	}
	var instruction string
	switch job.Kind {
	case KindPhotoAnalysis:
		instruction = prompt.PhotoAnalysis(job.Context)
	case KindRiskAssessment:
		if strings.TrimSpace(job.ProcessName) == "" {
			return nil, fmt.Errorf("%w: process name is required", ErrInvalidJob)
		}
		instruction = prompt.RiskAssessment(job.ProcessName, job.Context)
	default:
		return nil, fmt.Errorf("%w: unsupported kind %q", ErrInvalidJob, job.Kind)
	}

	req := ai.Request{Instruction: instruction, JSON: true}
	res = &Result{Kind: job.Kind}
	if job.Media != nil {
		cm, err := p.reduce(job.Kind, *job.Media)
		if err != nil {
			return nil, err
		}
		req.Media, req.MIMEType = cm.Data, cm.MIMEType
		res.Media = &cm.Meta
	}

	v, err := p.generateJSON(ctx, gen, job.Kind, req)
	if err != nil {
		return nil, err
	}

	switch job.Kind {
	case KindPhotoAnalysis:
		if !v.IsObject() && !v.IsArray() {
			return nil, wrap(job.Kind, StageCoerce, normalize.ErrSchemaMismatch)
		}
		photo := normalize.CoercePhotoAnalysis(v)
		res.Photo = &photo
	case KindRiskAssessment:
		hazards, err := normalize.CoerceHazardList(v)
		if err != nil {
			return nil, wrap(job.Kind, StageCoerce, err)
		}
		res.Hazards = p.assignIDs(hazards)
	}
	return res, nil
}

// AdditionalHazards asks for hazards of processName not already listed in
// existing. An unexpected reply shape yields an empty list.
func (p *Pipeline) AdditionalHazards(ctx context.Context, gen ai.Generator, processName string, existing []string) (out []normalize.Hazard, err error) {
	start := time.Now()
	defer func() { p.finish(KindAdditionalHazards, start, err) }()

	if gen == nil || strings.TrimSpace(processName) == "" {
		return nil, fmt.Errorf("%w: process name and generator are required", ErrInvalidJob)
	}
	req := ai.Request{Instruction: prompt.AdditionalHazards(processName, existing), JSON: true}
	v, err := p.generateJSON(ctx, gen, KindAdditionalHazards, req)
	if err != nil {
		return nil, err
	}
	return p.assignIDs(normalize.CoerceAdditionalHazards(v)), nil
}

// Answer replies to a safety question in free text. Only the last
// MaxHistory turns of history are sent.
func (p *Pipeline) Answer(ctx context.Context, gen ai.Generator, question string, history []ai.Turn, raw *media.RawMedia) (answer string, err error) {
	start := time.Now()
	defer func() { p.finish(KindAnswer, start, err) }()

	question = strings.TrimSpace(question)
	if gen == nil || question == "" {
		return "", fmt.Errorf("%w: question and generator are required", ErrInvalidJob)
	}
	if len(history) > MaxHistory {
		history = history[len(history)-MaxHistory:]
	}
	req := ai.Request{
		System:      prompt.QASystem(raw != nil),
		Instruction: question,
		History:     history,
	}
	if raw != nil {
		cm, err := p.reduce(KindAnswer, *raw)
		if err != nil {
			return "", err
		}
		req.Media, req.MIMEType = cm.Data, cm.MIMEType
	}
	text, err := p.generate(ctx, gen, KindAnswer, req)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}

func (p *Pipeline) reduce(kind Kind, raw media.RawMedia) (*media.CompressedMedia, error) {
	cm, err := p.reducer.Reduce(raw)
	if err != nil {
		return nil, wrap(kind, StageReduce, err)
	}
	return cm, nil
}

func (p *Pipeline) generate(ctx context.Context, gen ai.Generator, kind Kind, req ai.Request) (string, error) {
	text, err := gen.Generate(ctx, req)
	if err != nil {
		return "", wrap(kind, StageGenerate, err)
	}
	if strings.TrimSpace(text) == "" {
		return "", wrap(kind, StageResponse, ErrEmptyResponse)
	}
	return text, nil
}

func (p *Pipeline) generateJSON(ctx context.Context, gen ai.Generator, kind Kind, req ai.Request) (normalize.Value, error) {
	text, err := p.generate(ctx, gen, kind, req)
	if err != nil {
		return normalize.Value{}, err
	}
	v, err := normalize.Parse(text)
	if err != nil {
		return normalize.Value{}, wrap(kind, StageParse, err)
	}
	return v, nil
}

func (p *Pipeline) assignIDs(hs []normalize.Hazard) []normalize.Hazard {
	for i := range hs {
		hs[i].ID = p.newID()
	}
	return hs
}

func (p *Pipeline) finish(kind Kind, start time.Time, err error) {
	took := time.Since(start)
	stage, _ := StageOf(err)
	if err != nil && stage == "" {
		stage = "request"
	}
	if p.rec != nil {
		p.rec.ObserveRun(string(kind), string(stage), took)
	}
	if err == nil {
		p.log.Info("pipeline done", "kind", kind, "took", took)
		return
	}
	var pf *normalize.ParseFailure
	if errors.As(err, &pf) {
		p.log.Debug("unparseable ai reply", "kind", kind, "excerpt", pf.Excerpt, "attempted", pf.Attempted)
	}
	p.log.Warn("pipeline failed", "kind", kind, "stage", stage, "retryable", Retryable(err), "err", err)
}
