package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"safety-proxy/api/internal/normalize"
)

// AnalysisRepo caches photo analyses by (image_hash, engine, model).
type AnalysisRepo struct{ db DB }

func NewAnalysisRepo(db DB) *AnalysisRepo { return &AnalysisRepo{db: db} }

type AnalysisRow struct {
	ID        int64
	CreatedAt time.Time
	ChatID    int64
	ImageHash string
	Engine    string
	Model     string
	Context   string
	Result    normalize.PhotoAnalysis
}

// FindByHash returns the cached analysis for the key. With maxAge > 0 an
// older row counts as missing. A row whose JSON no longer decodes is
// reported as missing too, so the caller just asks the model again.
func (r *AnalysisRepo) FindByHash(ctx context.Context, imageHash, engine, model string, maxAge time.Duration) (*AnalysisRow, error) {
	const q = `
select id, created_at, coalesce(chat_id,0), image_hash, engine, model, context, result_json
from photo_analyses
where image_hash = $1 and engine = $2 and model = $3`

	var (
		row AnalysisRow
		js  []byte
	)
	err := r.db.QueryRow(ctx, q, imageHash, engine, model).Scan(
		&row.ID, &row.CreatedAt, &row.ChatID, &row.ImageHash, &row.Engine, &row.Model, &row.Context, &js)
	if err != nil {
		return nil, notFound(err)
	}
	if maxAge > 0 && time.Since(row.CreatedAt) > maxAge {
		return nil, ErrNotFound
	}
	if err := json.Unmarshal(js, &row.Result); err != nil {
		return nil, ErrNotFound
	}
	return &row, nil
}

// Upsert stores the analysis, replacing an existing row for the same key.
func (r *AnalysisRepo) Upsert(ctx context.Context, row AnalysisRow) error {
	js, err := json.Marshal(row.Result)
	if err != nil {
		return fmt.Errorf("marshal analysis: %w", err)
	}
	const q = `
insert into photo_analyses (chat_id, image_hash, engine, model, context, result_json)
values ($1,$2,$3,$4,$5,$6)
on conflict (image_hash, engine, model) do update
set chat_id = excluded.chat_id,
    context = excluded.context,
    result_json = excluded.result_json,
    created_at = now()`
	_, err = r.db.Exec(ctx, q, row.ChatID, row.ImageHash, row.Engine, row.Model, row.Context, js)
	return err
}

// PurgeOlderThan deletes cache rows older than the given age.
func (r *AnalysisRepo) PurgeOlderThan(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, errors.New("olderThan must be > 0")
	}
	tag, err := r.db.Exec(ctx, `delete from photo_analyses where created_at < $1`, time.Now().Add(-olderThan))
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
