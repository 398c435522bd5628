package analytics

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/opscart/cloudops-cost-optimizer/pkg/errors"
	"github.com/opscart/cloudops-cost-optimizer/pkg/models"
	"github.com/opscart/cloudops-cost-optimizer/pkg/storage"
)

var fixedNow = time.Date(2025, 5, 20, 12, 0, 0, 0, time.UTC)

type stubInventory struct {
	snap *models.Snapshot
	err  error
}

func (s stubInventory) Snapshot(ctx context.Context, userID string) (*models.Snapshot, error) {
	return s.snap, s.err
}

func newTestService(store *storage.MemoryStore, inv stubInventory) *Service {
	svc := NewService(store, inv, nil)
	svc.now = func() time.Time { return fixedNow }
	return svc
}

func sample(service, metric string, value float64, at time.Time) *models.MetricSample {
	return &models.MetricSample{UserID: "u1", Service: service, MetricName: metric, Value: value, Timestamp: at}
}

func TestSamples(t *testing.T) {
	snap := &models.Snapshot{Resources: models.Resources{
		EC2: []models.Instance{
			{ID: "i-1", State: models.StateRunning, CPUUtilization: models.Float(10)},
			{ID: "i-2", State: models.StateStopped, CPUUtilization: models.OptionalFloat{}},
			{ID: "i-3", State: models.StateRunning, CPUUtilization: models.Float(30)},
		},
		S3:     []models.Bucket{{Name: "a", SizeBytes: 100}, {Name: "b", SizeBytes: 50}},
		Lambda: []models.Function{{Name: "f", Invocations: models.Float(7)}, {Name: "g"}},
		EBS:    []models.Volume{{VolumeID: "v1", Size: "100GiB"}, {VolumeID: "v2", Size: "20"}},
	}}

	samples := Samples("u1", snap, fixedNow)
	require.Len(t, samples, 11)

	got := make(map[string]float64)
	for _, s := range samples {
		assert.Equal(t, fixedNow, s.Timestamp)
		got[s.Service+"/"+s.MetricName] = s.Value
	}

	assert.Equal(t, 20.0, got["EC2/cpuUtilization"])
	assert.Equal(t, 3.0, got["EC2/instanceCount"])
	assert.Equal(t, 2.0, got["EC2/runningInstances"])
	assert.Equal(t, 150.0, got["S3/totalSize"])
	assert.Equal(t, 0.0, got["RDS/databaseCount"])
	assert.Equal(t, 0.0, got["RDS/cpuUtilization"])
	assert.Equal(t, 7.0, got["Lambda/invocations"])
	assert.Equal(t, 120.0, got["EBS/totalStorage"])
}

func TestCollect(t *testing.T) {
	store := storage.NewMemoryStore()
	svc := newTestService(store, stubInventory{snap: &models.Snapshot{}})

	n, err := svc.Collect(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, 11, n)

	stored, err := store.QueryMetrics(context.Background(), models.MetricQuery{UserID: "u1"})
	require.NoError(t, err)
	assert.Len(t, stored, 11)
}

func TestCollectUpstreamError(t *testing.T) {
	store := storage.NewMemoryStore()
	svc := newTestService(store, stubInventory{err: errors.New("unreachable")})

	_, err := svc.Collect(context.Background(), "u1")
	assert.Error(t, err)
}

func TestHistoryRanges(t *testing.T) {
	store := storage.NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, store.SaveMetrics(ctx, []*models.MetricSample{
		sample("EC2", MetricCPUUtilization, 1, fixedNow.Add(-30*time.Minute)),
		sample("EC2", MetricCPUUtilization, 2, fixedNow.Add(-5*time.Hour)),
		sample("EC2", MetricCPUUtilization, 3, fixedNow.Add(-3*24*time.Hour)),
		sample("S3", MetricBucketCount, 4, fixedNow.Add(-10*time.Minute)),
	}))
	svc := newTestService(store, stubInventory{})

	tests := []struct {
		name  string
		query HistoryQuery
		want  int
	}{
		{"default 24h", HistoryQuery{}, 3},
		{"1h", HistoryQuery{Range: Range1h}, 2},
		{"7d ec2", HistoryQuery{Range: Range7d, Service: "EC2"}, 3},
		{"metric filter", HistoryQuery{Range: Range7d, MetricName: MetricBucketCount}, 1},
		{"custom", HistoryQuery{Range: RangeCustom, Start: fixedNow.Add(-4 * 24 * time.Hour), End: fixedNow.Add(-2 * 24 * time.Hour)}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := svc.History(ctx, "u1", tt.query)
			require.NoError(t, err)
			assert.Len(t, got, tt.want)
			for i := 1; i < len(got); i++ {
				assert.False(t, got[i].Timestamp.Before(got[i-1].Timestamp))
			}
		})
	}
}

func TestHistoryInvalidRange(t *testing.T) {
	svc := newTestService(storage.NewMemoryStore(), stubInventory{})
	ctx := context.Background()

	_, err := svc.History(ctx, "u1", HistoryQuery{Range: "2y"})
	assert.True(t, apperrors.Is(err, apperrors.ErrCodeInvalidRequest))

	_, err = svc.History(ctx, "u1", HistoryQuery{Range: RangeCustom})
	assert.True(t, apperrors.Is(err, apperrors.ErrCodeInvalidRequest))
}

func TestTrends(t *testing.T) {
	store := storage.NewMemoryStore()
	ctx := context.Background()
	day := 24 * time.Hour
	require.NoError(t, store.SaveMetrics(ctx, []*models.MetricSample{
		sample("EC2", MetricCPUUtilization, 30, fixedNow.Add(-1*day)),
		sample("EC2", MetricCPUUtilization, 20, fixedNow.Add(-10*day)),
		sample("EC2", MetricCPUUtilization, 40, fixedNow.Add(-45*day)),
	}))
	svc := newTestService(store, stubInventory{})

	trends, err := svc.Trends(ctx, "u1", "EC2", MetricCPUUtilization)
	require.NoError(t, err)

	assert.Equal(t, 30.0, trends.Weekly.Current)
	assert.Equal(t, 20.0, trends.Weekly.Previous)
	assert.Equal(t, 50.0, trends.Weekly.Change)
	assert.Equal(t, "up", trends.Weekly.Direction)

	assert.Equal(t, 25.0, trends.Monthly.Current)
	assert.Equal(t, 40.0, trends.Monthly.Previous)
	assert.Equal(t, -37.5, trends.Monthly.Change)
	assert.Equal(t, "down", trends.Monthly.Direction)

	assert.Nil(t, trends.Growth)
	assert.Nil(t, trends.Pattern)
}

func TestTrendsRequiresServiceAndMetric(t *testing.T) {
	svc := newTestService(storage.NewMemoryStore(), stubInventory{})
	_, err := svc.Trends(context.Background(), "u1", "EC2", "")
	assert.True(t, apperrors.Is(err, apperrors.ErrCodeInvalidRequest))
}

func TestPercentChange(t *testing.T) {
	assert.Equal(t, 100.0, PercentChange(5, 0))
	assert.Equal(t, 0.0, PercentChange(0, 0))
	assert.Equal(t, 33.33, PercentChange(4, 3))
	assert.Equal(t, -50.0, PercentChange(1, 2))
}

func TestCalculateGrowthTrend(t *testing.T) {
	var samples []*models.MetricSample
	start := fixedNow.Add(-20 * 24 * time.Hour)
	for i := 0; i < 20; i++ {
		// +1 per day on a base of 100
		samples = append(samples, sample("EC2", MetricCPUUtilization, 100+float64(i), start.Add(time.Duration(i)*24*time.Hour)))
	}

	g := CalculateGrowthTrend(samples)
	require.NotNil(t, g)
	assert.Equal(t, TrendGrowing, g.Trend)
	assert.InDelta(t, 1.0, g.Confidence, 0.001)
	assert.InDelta(t, 149.0, g.Predicted30Days, 0.01)
	assert.Greater(t, g.MonthlyGrowthRate, growthThreshold)

	assert.Nil(t, CalculateGrowthTrend(samples[:3]))
}

func TestAnalyzeUsagePattern(t *testing.T) {
	var steady, spiky []*models.MetricSample
	for i := 0; i < 20; i++ {
		at := fixedNow.Add(time.Duration(i) * time.Minute)
		steady = append(steady, sample("EC2", MetricCPUUtilization, 50, at))
		v := 10.0
		if i%4 == 0 {
			v = 90
		}
		spiky = append(spiky, sample("EC2", MetricCPUUtilization, v, at))
	}

	p := AnalyzeUsagePattern(steady)
	require.NotNil(t, p)
	assert.Equal(t, PatternSteady, p.Pattern)
	assert.Equal(t, 50.0, p.Max)

	p = AnalyzeUsagePattern(spiky)
	require.NotNil(t, p)
	assert.Contains(t, []string{PatternSpiky, PatternHighlyVariable}, p.Pattern)
	assert.Equal(t, 90.0, p.Max)

	assert.Nil(t, AnalyzeUsagePattern(steady[:5]))
}
