package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"safety-proxy/api/internal/normalize"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Assessment is a saved risk assessment.
type Assessment struct {
	ID          string             `json:"id"`
	CreatedAt   time.Time          `json:"created_at"`
	UpdatedAt   time.Time          `json:"updated_at"`
	ChatID      int64              `json:"-"`
	Title       string             `json:"title"`
	ProcessName string             `json:"process_name"`
	ImageHash   string             `json:"image_hash,omitempty"`
	Engine      string             `json:"engine"`
	Model       string             `json:"model"`
	Hazards     []normalize.Hazard `json:"hazards"`
}

type AssessmentRepo struct{ db DB }

func NewAssessmentRepo(db DB) *AssessmentRepo { return &AssessmentRepo{db: db} }

const assessmentCols = `id, created_at, updated_at, coalesce(chat_id,0), title, process_name, image_hash, engine, model, hazards_json`

// Save inserts a new assessment, assigning an ID when it has none.
func (r *AssessmentRepo) Save(ctx context.Context, a *Assessment) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	js, err := json.Marshal(a.Hazards)
	if err != nil {
		return fmt.Errorf("marshal hazards: %w", err)
	}
	const q = `
insert into risk_assessments (id, chat_id, title, process_name, image_hash, engine, model, hazards_json)
values ($1,$2,$3,$4,$5,$6,$7,$8)
returning created_at, updated_at`
	return r.db.QueryRow(ctx, q, a.ID, a.ChatID, a.Title, a.ProcessName, a.ImageHash, a.Engine, a.Model, js).
		Scan(&a.CreatedAt, &a.UpdatedAt)
}

func (r *AssessmentRepo) Get(ctx context.Context, id string) (*Assessment, error) {
	q := `select ` + assessmentCols + ` from risk_assessments where id = $1`
	return scanAssessment(r.db.QueryRow(ctx, q, id))
}

// LatestForChat returns the most recent assessment made from a chat.
func (r *AssessmentRepo) LatestForChat(ctx context.Context, chatID int64) (*Assessment, error) {
	q := `select ` + assessmentCols + ` from risk_assessments where chat_id = $1 order by created_at desc limit 1`
	return scanAssessment(r.db.QueryRow(ctx, q, chatID))
}

// AppendHazards adds hazards to an existing assessment and returns the merged list.
func (r *AssessmentRepo) AppendHazards(ctx context.Context, id string, more []normalize.Hazard) ([]normalize.Hazard, error) {
	a, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	merged := append(a.Hazards, more...)
	js, err := json.Marshal(merged)
	if err != nil {
		return nil, fmt.Errorf("marshal hazards: %w", err)
	}
	tag, err := r.db.Exec(ctx, `update risk_assessments set hazards_json = $2, updated_at = now() where id = $1`, id, js)
	if err != nil {
		return nil, err
	}
	if tag.RowsAffected() == 0 {
		return nil, ErrNotFound
	}
	return merged, nil
}

func scanAssessment(row pgx.Row) (*Assessment, error) {
	var (
		a  Assessment
		js []byte
	)
	if err := row.Scan(&a.ID, &a.CreatedAt, &a.UpdatedAt, &a.ChatID, &a.Title, &a.ProcessName,
		&a.ImageHash, &a.Engine, &a.Model, &js); err != nil {
		return nil, notFound(err)
	}
	if err := json.Unmarshal(js, &a.Hazards); err != nil {
		return nil, fmt.Errorf("decode hazards of %s: %w", a.ID, err)
	}
	if a.Hazards == nil {
		a.Hazards = []normalize.Hazard{}
	}
	return &a, nil
}
