package store

import (
	"context"
	"testing"
	"time"

	"safety-proxy/api/internal/normalize"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMock(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return mock
}

var analysisCols = []string{"id", "created_at", "chat_id", "image_hash", "engine", "model", "context", "result_json"}

func TestAnalysisRepo_FindByHash(t *testing.T) {
	ctx := context.Background()

	t.Run("Should return a cached analysis", func(t *testing.T) {
		mock := newMock(t)
		rows := mock.NewRows(analysisCols).AddRow(
			int64(7), time.Now(), int64(42), "abc", "gemini", "gemini-2.5-flash", "",
			[]byte(`{"hazards":["h1"],"engineeringSolutions":[],"managementSolutions":[],"relatedRegulations":[]}`))
		mock.ExpectQuery("from photo_analyses\\s+where image_hash = \\$1").
			WithArgs("abc", "gemini", "gemini-2.5-flash").
			WillReturnRows(rows)

		got, err := NewAnalysisRepo(mock).FindByHash(ctx, "abc", "gemini", "gemini-2.5-flash", time.Hour)
		require.NoError(t, err)
		assert.Equal(t, int64(7), got.ID)
		assert.Equal(t, []string{"h1"}, got.Result.Hazards)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
	t.Run("Should treat stale rows as missing", func(t *testing.T) {
		mock := newMock(t)
		rows := mock.NewRows(analysisCols).AddRow(
			int64(7), time.Now().Add(-48*time.Hour), int64(0), "abc", "gemini", "m", "", []byte(`{}`))
		mock.ExpectQuery("from photo_analyses").WithArgs("abc", "gemini", "m").WillReturnRows(rows)

		_, err := NewAnalysisRepo(mock).FindByHash(ctx, "abc", "gemini", "m", time.Hour)
		assert.ErrorIs(t, err, ErrNotFound)
	})
	t.Run("Should map no rows to ErrNotFound", func(t *testing.T) {
		mock := newMock(t)
		mock.ExpectQuery("from photo_analyses").WithArgs("zzz", "gemini", "m").WillReturnError(pgx.ErrNoRows)

		_, err := NewAnalysisRepo(mock).FindByHash(ctx, "zzz", "gemini", "m", 0)
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestAnalysisRepo_Upsert(t *testing.T) {
	mock := newMock(t)
	mock.ExpectExec("insert into photo_analyses").
		WithArgs(int64(42), "abc", "openai", "gpt-4o-mini", "야간 작업", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := NewAnalysisRepo(mock).Upsert(context.Background(), AnalysisRow{
		ChatID: 42, ImageHash: "abc", Engine: "openai", Model: "gpt-4o-mini", Context: "야간 작업",
		Result: normalize.PhotoAnalysis{Hazards: []string{"h"}},
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAnalysisRepo_PurgeOlderThan(t *testing.T) {
	mock := newMock(t)
	mock.ExpectExec("delete from photo_analyses").WithArgs(pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("DELETE", 3))

	n, err := NewAnalysisRepo(mock).PurgeOlderThan(context.Background(), 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	_, err = NewAnalysisRepo(mock).PurgeOlderThan(context.Background(), 0)
	assert.Error(t, err)
}

var assessmentColNames = []string{"id", "created_at", "updated_at", "chat_id", "title", "process_name", "image_hash", "engine", "model", "hazards_json"}

func TestAssessmentRepo(t *testing.T) {
	ctx := context.Background()
	now := time.Now()

	t.Run("Should assign an ID on save", func(t *testing.T) {
		mock := newMock(t)
		mock.ExpectQuery("insert into risk_assessments").
			WithArgs(pgxmock.AnyArg(), int64(1), "A동 골조", "거푸집 설치", "", "gemini", "m", pgxmock.AnyArg()).
			WillReturnRows(mock.NewRows([]string{"created_at", "updated_at"}).AddRow(now, now))

		a := &Assessment{ChatID: 1, Title: "A동 골조", ProcessName: "거푸집 설치", Engine: "gemini", Model: "m"}
		require.NoError(t, NewAssessmentRepo(mock).Save(ctx, a))
		assert.Len(t, a.ID, 36)
		assert.Equal(t, now, a.CreatedAt)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Should load the latest assessment of a chat", func(t *testing.T) {
		mock := newMock(t)
		rows := mock.NewRows(assessmentColNames).AddRow(
			"id-1", now, now, int64(9), "", "용접", "", "gemini", "m",
			[]byte(`[{"id":"h1","description":"화재","severity":4,"likelihood":3,"countermeasures":"소화기 비치"}]`))
		mock.ExpectQuery("select (.+) from risk_assessments where chat_id = \\$1").WithArgs(int64(9)).WillReturnRows(rows)

		a, err := NewAssessmentRepo(mock).LatestForChat(ctx, 9)
		require.NoError(t, err)
		assert.Equal(t, "용접", a.ProcessName)
		require.Len(t, a.Hazards, 1)
		assert.Equal(t, 12, a.Hazards[0].Score())
	})

	t.Run("Should append hazards", func(t *testing.T) {
		mock := newMock(t)
		rows := mock.NewRows(assessmentColNames).AddRow(
			"id-1", now, now, int64(9), "", "용접", "", "gemini", "m", []byte(`[{"id":"h1","description":"화재","severity":4,"likelihood":3,"countermeasures":"x"}]`))
		mock.ExpectQuery("select (.+) from risk_assessments where id = \\$1").WithArgs("id-1").WillReturnRows(rows)
		mock.ExpectExec("update risk_assessments set hazards_json").WithArgs("id-1", pgxmock.AnyArg()).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))

		merged, err := NewAssessmentRepo(mock).AppendHazards(ctx, "id-1", []normalize.Hazard{{ID: "h2", Description: "흄"}})
		require.NoError(t, err)
		require.Len(t, merged, 2)
		assert.Equal(t, "h2", merged[1].ID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Should map missing assessments", func(t *testing.T) {
		mock := newMock(t)
		mock.ExpectQuery("select (.+) from risk_assessments where id").WithArgs("nope").WillReturnError(pgx.ErrNoRows)
		_, err := NewAssessmentRepo(mock).Get(ctx, "nope")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestEnsureSchema(t *testing.T) {
	mock := newMock(t)
	mock.ExpectExec("create table if not exists photo_analyses").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	require.NoError(t, EnsureSchema(context.Background(), mock))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSummary(t *testing.T) {
	assert.Equal(t, "host=db port=5432 db=safety user=app",
		Summary("postgres://app:secret@db:5432/safety?sslmode=disable"))
	assert.Equal(t, "host=localhost db=safety user=app", Summary("postgres://app@localhost/safety"))
	assert.NotContains(t, Summary("postgres://app:secret@db:5432/safety"), "secret")
	assert.Equal(t, "dsn: parse error", Summary("host=db user=app"))
}
