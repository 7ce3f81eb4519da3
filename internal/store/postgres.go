// internal/store/postgres.go
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/geopulse/geo-workflows/internal/models"
	"github.com/geopulse/geo-workflows/services"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/jmoiron/sqlx/types"
)

// PostgresQuestionSetStore persists question sets as JSONB documents. The
// qna array lives in a single column; single-record writes are done inside
// Postgres so two concurrent answer runs cannot clobber each other's
// elements.
type PostgresQuestionSetStore struct {
	db *sqlx.DB
}

func NewPostgresQuestionSetStore(db *sqlx.DB) *PostgresQuestionSetStore {
	return &PostgresQuestionSetStore{db: db}
}

type questionSetRow struct {
	ID          uuid.UUID      `db:"question_set_id"`
	BrandName   string         `db:"brand_name"`
	WebsiteURL  string         `db:"website_url"`
	Context     string         `db:"context"`
	Nation      string         `db:"nation"`
	State       string         `db:"state"`
	Competitors types.JSONText `db:"competitors"`
	Qna         types.JSONText `db:"qna"`
	CreatedAt   time.Time      `db:"created_at"`
	UpdatedAt   time.Time      `db:"updated_at"`
}

func (r *questionSetRow) toModel() (*models.QuestionSet, error) {
	set := &models.QuestionSet{
		ID:         r.ID,
		BrandName:  r.BrandName,
		WebsiteURL: r.WebsiteURL,
		Context:    r.Context,
		Nation:     r.Nation,
		State:      r.State,
		CreatedAt:  r.CreatedAt,
		UpdatedAt:  r.UpdatedAt,
	}
	if len(r.Competitors) > 0 {
		if err := json.Unmarshal(r.Competitors, &set.Competitors); err != nil {
			return nil, fmt.Errorf("failed to decode competitors for set %s: %w", r.ID, err)
		}
	}
	if len(r.Qna) > 0 {
		if err := json.Unmarshal(r.Qna, &set.Qna); err != nil {
			return nil, fmt.Errorf("failed to decode qna for set %s: %w", r.ID, err)
		}
	}
	return set, nil
}

func (s *PostgresQuestionSetStore) GetByID(ctx context.Context, id uuid.UUID) (*models.QuestionSet, error) {
	var row questionSetRow
	err := s.db.GetContext(ctx, &row, `
		SELECT question_set_id, brand_name, website_url, context, nation, state,
		       competitors, qna, created_at, updated_at
		FROM question_sets
		WHERE question_set_id = $1`, id)
	if err == sql.ErrNoRows {
		return nil, services.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load question set %s: %w", id, err)
	}
	return row.toModel()
}

func (s *PostgresQuestionSetStore) Create(ctx context.Context, set *models.QuestionSet) error {
	if set.ID == uuid.Nil {
		set.ID = uuid.New()
	}
	now := time.Now().UTC()
	set.CreatedAt = now
	set.UpdatedAt = now

	competitors, err := json.Marshal(set.Competitors)
	if err != nil {
		return fmt.Errorf("failed to encode competitors: %w", err)
	}
	qna, err := json.Marshal(set.Qna)
	if err != nil {
		return fmt.Errorf("failed to encode qna: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO question_sets
			(question_set_id, brand_name, website_url, context, nation, state,
			 competitors, qna, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		set.ID, set.BrandName, set.WebsiteURL, set.Context, set.Nation, set.State,
		types.JSONText(competitors), types.JSONText(qna), set.CreatedAt, set.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert question set: %w", err)
	}
	return nil
}

func (s *PostgresQuestionSetStore) UpdateQna(ctx context.Context, id uuid.UUID, qna []models.QnaRecord) error {
	encoded, err := json.Marshal(qna)
	if err != nil {
		return fmt.Errorf("failed to encode qna: %w", err)
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE question_sets
		SET qna = $2, updated_at = NOW()
		WHERE question_set_id = $1`,
		id, types.JSONText(encoded))
	if err != nil {
		return fmt.Errorf("failed to update qna for set %s: %w", id, err)
	}
	if rows, err := result.RowsAffected(); err == nil && rows == 0 {
		return services.ErrNotFound
	}
	return nil
}

// UpdateRecord rewrites one qna element in place, matched by its uuid. The
// rebuild happens inside Postgres so elements written by other callers
// between our read and this write are preserved.
func (s *PostgresQuestionSetStore) UpdateRecord(ctx context.Context, id uuid.UUID, record models.QnaRecord) error {
	encoded, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to encode record: %w", err)
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE question_sets
		SET qna = (
			SELECT COALESCE(jsonb_agg(
				CASE WHEN elem->>'uuid' = $2 THEN $3::jsonb ELSE elem END
			), '[]'::jsonb)
			FROM jsonb_array_elements(qna) AS elem
		),
		updated_at = NOW()
		WHERE question_set_id = $1`,
		id, record.UUID, types.JSONText(encoded))
	if err != nil {
		return fmt.Errorf("failed to update record %s in set %s: %w", record.UUID, id, err)
	}
	if rows, err := result.RowsAffected(); err == nil && rows == 0 {
		return services.ErrNotFound
	}
	return nil
}

// ListStale returns sets whose newest metrics report predates the cutoff,
// including sets that have never been aggregated at all.
func (s *PostgresQuestionSetStore) ListStale(ctx context.Context, cutoff time.Time) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := s.db.SelectContext(ctx, &ids, `
		SELECT qs.question_set_id
		FROM question_sets qs
		LEFT JOIN LATERAL (
			SELECT created_at
			FROM geo_metrics g
			WHERE g.question_set_id = qs.question_set_id
			ORDER BY created_at DESC
			LIMIT 1
		) latest ON TRUE
		WHERE latest.created_at IS NULL OR latest.created_at < $1
		ORDER BY qs.created_at`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to list stale question sets: %w", err)
	}
	return ids, nil
}

// PostgresMetricsStore persists metrics reports, one JSONB document per
// time-series entry.
type PostgresMetricsStore struct {
	db *sqlx.DB
}

func NewPostgresMetricsStore(db *sqlx.DB) *PostgresMetricsStore {
	return &PostgresMetricsStore{db: db}
}

type metricsRow struct {
	ID            uuid.UUID      `db:"geo_metric_id"`
	QuestionSetID uuid.UUID      `db:"question_set_id"`
	Report        types.JSONText `db:"report"`
	CreatedAt     time.Time      `db:"created_at"`
	UpdatedAt     time.Time      `db:"updated_at"`
}

func (s *PostgresMetricsStore) GetLatestForSet(ctx context.Context, questionSetID uuid.UUID) (*models.MetricsReport, error) {
	var row metricsRow
	err := s.db.GetContext(ctx, &row, `
		SELECT geo_metric_id, question_set_id, report, created_at, updated_at
		FROM geo_metrics
		WHERE question_set_id = $1
		ORDER BY created_at DESC
		LIMIT 1`, questionSetID)
	if err == sql.ErrNoRows {
		return nil, services.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load latest report for set %s: %w", questionSetID, err)
	}

	var report models.MetricsReport
	if err := json.Unmarshal(row.Report, &report); err != nil {
		return nil, fmt.Errorf("failed to decode report %s: %w", row.ID, err)
	}
	// The columns are authoritative for identity and freshness.
	report.ID = row.ID
	report.QuestionSetID = row.QuestionSetID
	report.CreatedAt = row.CreatedAt
	report.UpdatedAt = row.UpdatedAt
	return &report, nil
}

func (s *PostgresMetricsStore) Insert(ctx context.Context, report *models.MetricsReport) error {
	if report.ID == uuid.Nil {
		report.ID = uuid.New()
	}
	encoded, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO geo_metrics (geo_metric_id, question_set_id, report, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)`,
		report.ID, report.QuestionSetID, types.JSONText(encoded), report.CreatedAt, report.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert report: %w", err)
	}
	return nil
}

func (s *PostgresMetricsStore) Update(ctx context.Context, report *models.MetricsReport) error {
	encoded, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE geo_metrics
		SET report = $2, updated_at = $3
		WHERE geo_metric_id = $1`,
		report.ID, types.JSONText(encoded), report.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to update report %s: %w", report.ID, err)
	}
	if rows, err := result.RowsAffected(); err == nil && rows == 0 {
		return services.ErrNotFound
	}
	return nil
}
