package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"

	apperrors "github.com/opscart/cloudops-cost-optimizer/pkg/errors"
	"github.com/opscart/cloudops-cost-optimizer/pkg/models"
)

//go:embed migrations/*.sql
var postgresFS embed.FS

// PostgresStore implements Store interface using PostgreSQL
type PostgresStore struct {
	db  *sql.DB
	dsn string
}

// NewPostgresStore creates a new PostgreSQL store
func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &PostgresStore{
		db:  db,
		dsn: dsn,
	}

	if err := store.migrate(); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return store, nil
}

// migrate runs database migrations
func (s *PostgresStore) migrate() error {
	schema, err := postgresFS.ReadFile("migrations/001_postgres_schema.sql")
	if err != nil {
		return fmt.Errorf("failed to read schema: %w", err)
	}

	if _, err := s.db.Exec(string(schema)); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}

	return nil
}

const recommendationColumns = `
	id, user_id, type, priority, category, title, description,
	estimated_monthly_savings, estimated_yearly_savings,
	difficulty, implementation_time, resource_details, impact, auto_implementable,
	implemented, implemented_at, actual_savings,
	verification_status, verification_reason, verified_at, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecommendation(row rowScanner) (*models.Recommendation, error) {
	var rec models.Recommendation
	var details []byte
	var implementedAt, verifiedAt sql.NullTime
	var difficulty, implementationTime, impact sql.NullString

	err := row.Scan(
		&rec.ID, &rec.UserID, &rec.Type, &rec.Priority, &rec.Category, &rec.Title, &rec.Description,
		&rec.EstimatedMonthlySavings, &rec.EstimatedYearlySavings,
		&difficulty, &implementationTime, &details, &impact, &rec.AutoImplementable,
		&rec.Implemented, &implementedAt, &rec.ActualSavings,
		&rec.VerificationStatus, &rec.VerificationReason, &verifiedAt, &rec.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	rec.Difficulty = difficulty.String
	rec.ImplementationTime = implementationTime.String
	rec.Impact = impact.String

	if implementedAt.Valid {
		rec.ImplementedAt = &implementedAt.Time
	}
	if verifiedAt.Valid {
		rec.VerifiedAt = &verifiedAt.Time
	}

	rec.ResourceDetails, err = models.DecodeResourceDetails(rec.Type, details)
	if err != nil {
		return nil, err
	}

	return &rec, nil
}

// ReplaceRecommendations swaps the user's unimplemented recommendations for recs
func (s *PostgresStore) ReplaceRecommendations(ctx context.Context, userID string, recs []*models.Recommendation) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrCodePersistence, "failed to begin transaction", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM recommendations WHERE user_id = $1 AND implemented = FALSE`, userID,
	); err != nil {
		return apperrors.Wrap(apperrors.ErrCodePersistence, "failed to delete recommendations", err)
	}

	if len(recs) > 0 {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO recommendations (`+recommendationColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)
		`)
		if err != nil {
			return apperrors.Wrap(apperrors.ErrCodePersistence, "failed to prepare insert", err)
		}
		defer stmt.Close()

		now := time.Now()
		for _, rec := range recs {
			if rec.ID == "" {
				rec.ID = uuid.New().String()
			}
			if rec.CreatedAt.IsZero() {
				rec.CreatedAt = now
			}
			rec.UserID = userID

			details, err := marshalDetails(rec.ResourceDetails)
			if err != nil {
				return err
			}

			if _, err := stmt.ExecContext(ctx,
				rec.ID, rec.UserID, rec.Type, rec.Priority, rec.Category, rec.Title, rec.Description,
				rec.EstimatedMonthlySavings, rec.EstimatedYearlySavings,
				rec.Difficulty, rec.ImplementationTime, details, rec.Impact, rec.AutoImplementable,
				rec.Implemented, rec.ImplementedAt, rec.ActualSavings,
				rec.VerificationStatus, rec.VerificationReason, rec.VerifiedAt, rec.CreatedAt,
			); err != nil {
				return apperrors.Wrap(apperrors.ErrCodePersistence, "failed to insert recommendation", err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return apperrors.Wrap(apperrors.ErrCodePersistence, "failed to commit recommendations", err)
	}
	return nil
}

func marshalDetails(details models.ResourceDetails) ([]byte, error) {
	if details == nil {
		return nil, nil
	}
	data, err := json.Marshal(details)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrCodeInternal, "failed to encode resource details", err)
	}
	return data, nil
}

// GetRecommendation retrieves one of the user's recommendations by ID
func (s *PostgresStore) GetRecommendation(ctx context.Context, userID, id string) (*models.Recommendation, error) {
	query := `SELECT ` + recommendationColumns + ` FROM recommendations WHERE id = $1 AND user_id = $2`

	rec, err := scanRecommendation(s.db.QueryRowContext(ctx, query, id, userID))
	if err == sql.ErrNoRows {
		return nil, apperrors.NotFound("Recommendation not found")
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrCodePersistence, "failed to load recommendation", err)
	}
	return rec, nil
}

// ListRecommendations returns the user's recommendations ordered by priority,
// then by estimated monthly savings descending
func (s *PostgresStore) ListRecommendations(ctx context.Context, userID string, filter models.RecommendationFilter) ([]*models.Recommendation, error) {
	conditions := []string{"user_id = $1"}
	args := []any{userID}

	if filter.Implemented != nil {
		args = append(args, *filter.Implemented)
		conditions = append(conditions, fmt.Sprintf("implemented = $%d", len(args)))
	}
	if filter.Priority != "" {
		args = append(args, filter.Priority)
		conditions = append(conditions, fmt.Sprintf("priority = $%d", len(args)))
	}
	if filter.Category != "" {
		args = append(args, filter.Category)
		conditions = append(conditions, fmt.Sprintf("category = $%d", len(args)))
	}

	query := `SELECT ` + recommendationColumns + `
		FROM recommendations
		WHERE ` + strings.Join(conditions, " AND ") + `
		ORDER BY CASE priority WHEN 'High' THEN 0 WHEN 'Medium' THEN 1 WHEN 'Low' THEN 2 ELSE 3 END,
			estimated_monthly_savings DESC, created_at ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrCodePersistence, "failed to list recommendations", err)
	}
	defer rows.Close()

	var recommendations []*models.Recommendation
	for rows.Next() {
		rec, err := scanRecommendation(rows)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.ErrCodePersistence, "failed to scan recommendation", err)
		}
		recommendations = append(recommendations, rec)
	}

	return recommendations, rows.Err()
}

// UpdateVerification records the outcome of a verification run
func (s *PostgresStore) UpdateVerification(ctx context.Context, id string, status models.VerificationStatus, reason string, verifiedAt time.Time) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE recommendations
		SET verification_status = $1, verification_reason = $2, verified_at = $3
		WHERE id = $4
	`, status, reason, verifiedAt, id)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrCodePersistence, "failed to update verification", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return apperrors.Wrap(apperrors.ErrCodePersistence, "failed to update verification", err)
	}
	if rows == 0 {
		return apperrors.NotFound("Recommendation not found")
	}
	return nil
}

// MarkImplemented flags a recommendation implemented and records its tracker entry
func (s *PostgresStore) MarkImplemented(ctx context.Context, userID, id string, implementedAt time.Time, actualSavings *float64, entry *models.SavingsEntry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrCodePersistence, "failed to begin transaction", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		UPDATE recommendations
		SET implemented = TRUE, implemented_at = $1, actual_savings = COALESCE($2, actual_savings)
		WHERE id = $3 AND user_id = $4 AND implemented = FALSE
	`, implementedAt, actualSavings, id, userID)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrCodePersistence, "failed to mark implemented", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return apperrors.Wrap(apperrors.ErrCodePersistence, "failed to mark implemented", err)
	}
	if rows == 0 {
		var implemented bool
		err := tx.QueryRowContext(ctx,
			`SELECT implemented FROM recommendations WHERE id = $1 AND user_id = $2`, id, userID,
		).Scan(&implemented)
		if err == sql.ErrNoRows {
			return apperrors.NotFound("Recommendation not found")
		}
		if err != nil {
			return apperrors.Wrap(apperrors.ErrCodePersistence, "failed to load recommendation", err)
		}
		return apperrors.Invalid("Recommendation already implemented")
	}

	if entry != nil {
		if entry.ID == "" {
			entry.ID = uuid.New().String()
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO savings_tracker (
				id, user_id, recommendation_id, implemented_at,
				estimated_savings, actual_savings, verified, verified_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`,
			entry.ID, entry.UserID, entry.RecommendationID, entry.ImplementedAt,
			entry.EstimatedSavings, entry.ActualSavings, entry.Verified, entry.VerifiedAt,
		); err != nil {
			return apperrors.Wrap(apperrors.ErrCodePersistence, "failed to record savings", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return apperrors.Wrap(apperrors.ErrCodePersistence, "failed to commit implementation", err)
	}
	return nil
}

// ListSavings returns tracker entries ordered by implementation time
func (s *PostgresStore) ListSavings(ctx context.Context, q SavingsQuery) ([]*models.SavingsEntry, error) {
	conditions := []string{"user_id = $1"}
	args := []any{q.UserID}

	if !q.Since.IsZero() {
		args = append(args, q.Since)
		conditions = append(conditions, fmt.Sprintf("implemented_at >= $%d", len(args)))
	}
	if q.VerifiedOnly {
		conditions = append(conditions, "verified = TRUE")
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, recommendation_id, implemented_at,
			estimated_savings, actual_savings, verified, verified_at
		FROM savings_tracker
		WHERE `+strings.Join(conditions, " AND ")+`
		ORDER BY implemented_at ASC
	`, args...)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrCodePersistence, "failed to list savings", err)
	}
	defer rows.Close()

	var entries []*models.SavingsEntry
	for rows.Next() {
		var entry models.SavingsEntry
		var verifiedAt sql.NullTime

		if err := rows.Scan(
			&entry.ID, &entry.UserID, &entry.RecommendationID, &entry.ImplementedAt,
			&entry.EstimatedSavings, &entry.ActualSavings, &entry.Verified, &verifiedAt,
		); err != nil {
			return nil, apperrors.Wrap(apperrors.ErrCodePersistence, "failed to scan savings", err)
		}
		if verifiedAt.Valid {
			entry.VerifiedAt = &verifiedAt.Time
		}
		entries = append(entries, &entry)
	}

	return entries, rows.Err()
}

// VerifySavings marks the tracker entry of a recommendation verified.
// A recommendation without an entry is left alone.
func (s *PostgresStore) VerifySavings(ctx context.Context, recommendationID string, actualSavings float64, verifiedAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE savings_tracker
		SET verified = TRUE, verified_at = $1, actual_savings = $2
		WHERE recommendation_id = $3
	`, verifiedAt, actualSavings, recommendationID)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrCodePersistence, "failed to verify savings", err)
	}
	return nil
}

// SaveMetrics inserts metric samples in one transaction
func (s *PostgresStore) SaveMetrics(ctx context.Context, samples []*models.MetricSample) error {
	if len(samples) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrCodePersistence, "failed to begin transaction", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO metric_history (id, user_id, service, metric_name, value, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6)
	`)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrCodePersistence, "failed to prepare insert", err)
	}
	defer stmt.Close()

	for _, sample := range samples {
		if sample.ID == "" {
			sample.ID = uuid.New().String()
		}
		if _, err := stmt.ExecContext(ctx,
			sample.ID, sample.UserID, sample.Service, sample.MetricName, sample.Value, sample.Timestamp,
		); err != nil {
			return apperrors.Wrap(apperrors.ErrCodePersistence, "failed to insert metric", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return apperrors.Wrap(apperrors.ErrCodePersistence, "failed to commit metrics", err)
	}
	return nil
}

// QueryMetrics returns samples in ascending timestamp order
func (s *PostgresStore) QueryMetrics(ctx context.Context, q models.MetricQuery) ([]*models.MetricSample, error) {
	conditions := []string{"user_id = $1"}
	args := []any{q.UserID}

	if q.Service != "" {
		args = append(args, q.Service)
		conditions = append(conditions, fmt.Sprintf("service = $%d", len(args)))
	}
	if q.MetricName != "" {
		args = append(args, q.MetricName)
		conditions = append(conditions, fmt.Sprintf("metric_name = $%d", len(args)))
	}
	if !q.Start.IsZero() {
		args = append(args, q.Start)
		conditions = append(conditions, fmt.Sprintf("timestamp >= $%d", len(args)))
	}
	if !q.End.IsZero() {
		args = append(args, q.End)
		conditions = append(conditions, fmt.Sprintf("timestamp <= $%d", len(args)))
	}

	limit := q.Limit
	if limit <= 0 {
		limit = DefaultMetricLimit
	}
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, service, metric_name, value, timestamp
		FROM metric_history
		WHERE `+strings.Join(conditions, " AND ")+`
		ORDER BY timestamp ASC
		LIMIT $`+fmt.Sprint(len(args)), args...)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrCodePersistence, "failed to query metrics", err)
	}
	defer rows.Close()

	var samples []*models.MetricSample
	for rows.Next() {
		var sample models.MetricSample
		if err := rows.Scan(
			&sample.ID, &sample.UserID, &sample.Service, &sample.MetricName, &sample.Value, &sample.Timestamp,
		); err != nil {
			return nil, apperrors.Wrap(apperrors.ErrCodePersistence, "failed to scan metric", err)
		}
		samples = append(samples, &sample)
	}

	return samples, rows.Err()
}

// Ping checks database connectivity
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection
func (s *PostgresStore) Close() error {
	return s.db.Close()
}
