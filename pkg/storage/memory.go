package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/opscart/cloudops-cost-optimizer/pkg/errors"
	"github.com/opscart/cloudops-cost-optimizer/pkg/models"
)

// MemoryStore implements Store in process memory. It backs one-shot CLI
// runs and tests; data is lost on exit.
type MemoryStore struct {
	mu              sync.RWMutex
	recommendations map[string]*models.Recommendation
	savings         map[string]*models.SavingsEntry // keyed by recommendation ID
	metrics         []*models.MetricSample
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		recommendations: make(map[string]*models.Recommendation),
		savings:         make(map[string]*models.SavingsEntry),
	}
}

func (m *MemoryStore) ReplaceRecommendations(ctx context.Context, userID string, recs []*models.Recommendation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, rec := range m.recommendations {
		if rec.UserID == userID && !rec.Implemented {
			delete(m.recommendations, id)
		}
	}

	now := time.Now()
	for _, rec := range recs {
		if rec.ID == "" {
			rec.ID = uuid.New().String()
		}
		if rec.CreatedAt.IsZero() {
			rec.CreatedAt = now
		}
		rec.UserID = userID
		stored := *rec
		m.recommendations[rec.ID] = &stored
	}
	return nil
}

func (m *MemoryStore) GetRecommendation(ctx context.Context, userID, id string) (*models.Recommendation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.recommendations[id]
	if !ok || rec.UserID != userID {
		return nil, apperrors.NotFound("Recommendation not found")
	}
	out := *rec
	return &out, nil
}

func (m *MemoryStore) ListRecommendations(ctx context.Context, userID string, filter models.RecommendationFilter) ([]*models.Recommendation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*models.Recommendation
	for _, rec := range m.recommendations {
		if rec.UserID != userID {
			continue
		}
		if filter.Implemented != nil && rec.Implemented != *filter.Implemented {
			continue
		}
		if filter.Priority != "" && rec.Priority != filter.Priority {
			continue
		}
		if filter.Category != "" && rec.Category != filter.Category {
			continue
		}
		c := *rec
		out = append(out, &c)
	}

	SortRecommendations(out)
	return out, nil
}

// SortRecommendations orders by priority, then estimated monthly savings
// descending, then creation time.
func SortRecommendations(recs []*models.Recommendation) {
	sort.SliceStable(recs, func(i, j int) bool {
		a, b := recs[i], recs[j]
		if a.Priority.Rank() != b.Priority.Rank() {
			return a.Priority.Rank() < b.Priority.Rank()
		}
		if a.EstimatedMonthlySavings != b.EstimatedMonthlySavings {
			return a.EstimatedMonthlySavings > b.EstimatedMonthlySavings
		}
		return a.CreatedAt.Before(b.CreatedAt)
	})
}

func (m *MemoryStore) UpdateVerification(ctx context.Context, id string, status models.VerificationStatus, reason string, verifiedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.recommendations[id]
	if !ok {
		return apperrors.NotFound("Recommendation not found")
	}
	at := verifiedAt
	rec.VerificationStatus = status
	rec.VerificationReason = reason
	rec.VerifiedAt = &at
	return nil
}

func (m *MemoryStore) MarkImplemented(ctx context.Context, userID, id string, implementedAt time.Time, actualSavings *float64, entry *models.SavingsEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.recommendations[id]
	if !ok || rec.UserID != userID {
		return apperrors.NotFound("Recommendation not found")
	}
	if rec.Implemented {
		return apperrors.Invalid("Recommendation already implemented")
	}
	if entry != nil {
		if _, exists := m.savings[id]; exists {
			return apperrors.New(apperrors.ErrCodePersistence, "savings already recorded for recommendation")
		}
	}

	at := implementedAt
	rec.Implemented = true
	rec.ImplementedAt = &at
	if actualSavings != nil {
		rec.ActualSavings = *actualSavings
	}

	if entry != nil {
		if entry.ID == "" {
			entry.ID = uuid.New().String()
		}
		stored := *entry
		m.savings[id] = &stored
	}
	return nil
}

func (m *MemoryStore) ListSavings(ctx context.Context, q SavingsQuery) ([]*models.SavingsEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*models.SavingsEntry
	for _, e := range m.savings {
		if e.UserID != q.UserID {
			continue
		}
		if !q.Since.IsZero() && e.ImplementedAt.Before(q.Since) {
			continue
		}
		if q.VerifiedOnly && !e.Verified {
			continue
		}
		c := *e
		out = append(out, &c)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].ImplementedAt.Before(out[j].ImplementedAt)
	})
	return out, nil
}

func (m *MemoryStore) VerifySavings(ctx context.Context, recommendationID string, actualSavings float64, verifiedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.savings[recommendationID]
	if !ok {
		return nil
	}
	at := verifiedAt
	e.Verified = true
	e.VerifiedAt = &at
	e.ActualSavings = actualSavings
	return nil
}

// AddSavings inserts a tracker entry directly; used to seed data
func (m *MemoryStore) AddSavings(entry *models.SavingsEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	stored := *entry
	m.savings[entry.RecommendationID] = &stored
}

func (m *MemoryStore) SaveMetrics(ctx context.Context, samples []*models.MetricSample) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, s := range samples {
		if s.ID == "" {
			s.ID = uuid.New().String()
		}
		c := *s
		m.metrics = append(m.metrics, &c)
	}
	return nil
}

func (m *MemoryStore) QueryMetrics(ctx context.Context, q models.MetricQuery) ([]*models.MetricSample, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*models.MetricSample
	for _, s := range m.metrics {
		if s.UserID != q.UserID {
			continue
		}
		if q.Service != "" && s.Service != q.Service {
			continue
		}
		if q.MetricName != "" && s.MetricName != q.MetricName {
			continue
		}
		if !q.Start.IsZero() && s.Timestamp.Before(q.Start) {
			continue
		}
		if !q.End.IsZero() && s.Timestamp.After(q.End) {
			continue
		}
		c := *s
		out = append(out, &c)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})

	limit := q.Limit
	if limit <= 0 {
		limit = DefaultMetricLimit
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) Ping(ctx context.Context) error { return nil }

func (m *MemoryStore) Close() error { return nil }
