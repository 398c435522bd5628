package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/opscart/cloudops-cost-optimizer/pkg/models"
)

// RecommendationStore persists recommendations keyed by user
type RecommendationStore interface {
	// ReplaceRecommendations deletes the user's unimplemented recommendations
	// and inserts recs in their place. Implemented ones are kept.
	ReplaceRecommendations(ctx context.Context, userID string, recs []*models.Recommendation) error
	GetRecommendation(ctx context.Context, userID, id string) (*models.Recommendation, error)
	ListRecommendations(ctx context.Context, userID string, filter models.RecommendationFilter) ([]*models.Recommendation, error)
	UpdateVerification(ctx context.Context, id string, status models.VerificationStatus, reason string, verifiedAt time.Time) error

	// MarkImplemented flags the recommendation implemented and, when entry is
	// non-nil, creates its savings tracker entry in the same transaction.
	MarkImplemented(ctx context.Context, userID, id string, implementedAt time.Time, actualSavings *float64, entry *models.SavingsEntry) error
}

// SavingsStore persists savings tracker entries
type SavingsStore interface {
	ListSavings(ctx context.Context, query SavingsQuery) ([]*models.SavingsEntry, error)
	VerifySavings(ctx context.Context, recommendationID string, actualSavings float64, verifiedAt time.Time) error
}

// MetricStore persists metric history samples
type MetricStore interface {
	SaveMetrics(ctx context.Context, samples []*models.MetricSample) error
	QueryMetrics(ctx context.Context, query models.MetricQuery) ([]*models.MetricSample, error)
}

// Store defines the interface for persistent storage
type Store interface {
	RecommendationStore
	SavingsStore
	MetricStore

	Ping(ctx context.Context) error
	Close() error
}

// SavingsQuery selects tracker entries for one user. A zero Since means no
// lower bound.
type SavingsQuery struct {
	UserID       string
	Since        time.Time
	VerifiedOnly bool
}

// DefaultMetricLimit caps metric history queries
const DefaultMetricLimit = 1000

// MemoryDSN selects the in-process store
const MemoryDSN = "memory://"

// Open returns the store for a DSN: MemoryDSN for the in-process store,
// anything else is handed to PostgreSQL.
func Open(dsn string) (Store, error) {
	if strings.HasPrefix(dsn, "memory:") {
		return NewMemoryStore(), nil
	}
	s, err := NewPostgresStore(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	return s, nil
}
