// Package analytics collects per-service metric samples from inventory
// snapshots and answers history and trend queries over them.
package analytics

import (
	"context"
	"time"

	apperrors "github.com/opscart/cloudops-cost-optimizer/pkg/errors"
	"github.com/opscart/cloudops-cost-optimizer/pkg/inventory"
	"github.com/opscart/cloudops-cost-optimizer/pkg/logger"
	"github.com/opscart/cloudops-cost-optimizer/pkg/models"
	"github.com/opscart/cloudops-cost-optimizer/pkg/storage"
)

// Metric names stored per service
const (
	MetricCPUUtilization   = "cpuUtilization"
	MetricInstanceCount    = "instanceCount"
	MetricRunningInstances = "runningInstances"
	MetricBucketCount      = "bucketCount"
	MetricTotalSize        = "totalSize"
	MetricDatabaseCount    = "databaseCount"
	MetricFunctionCount    = "functionCount"
	MetricInvocations      = "invocations"
	MetricVolumeCount      = "volumeCount"
	MetricTotalStorage     = "totalStorage"
)

// TimeRange names a history window
type TimeRange string

const (
	Range1h     TimeRange = "1h"
	Range24h    TimeRange = "24h"
	Range7d     TimeRange = "7d"
	Range30d    TimeRange = "30d"
	Range90d    TimeRange = "90d"
	RangeCustom TimeRange = "custom"
)

var rangeDurations = map[TimeRange]time.Duration{
	Range1h:  time.Hour,
	Range24h: 24 * time.Hour,
	Range7d:  7 * 24 * time.Hour,
	Range30d: 30 * 24 * time.Hour,
	Range90d: 90 * 24 * time.Hour,
}

// trendSampleLimit bounds the samples loaded for one trend computation
const trendSampleLimit = 100000

// HistoryQuery selects stored samples
type HistoryQuery struct {
	Service    string
	MetricName string
	Range      TimeRange
	Start      time.Time // custom range only
	End        time.Time // custom range only
}

// Service records and analyzes metric history
type Service struct {
	store     storage.MetricStore
	inventory inventory.Provider
	log       *logger.Logger
	now       func() time.Time
}

func NewService(store storage.MetricStore, inv inventory.Provider, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewNop()
	}
	return &Service{
		store:     store,
		inventory: inv,
		log:       log.With("service", "analytics"),
		now:       time.Now,
	}
}

// Collect snapshots the user's inventory and stores one sample per metric
func (s *Service) Collect(ctx context.Context, userID string) (int, error) {
	if userID == "" {
		return 0, apperrors.Invalid("userId is required")
	}

	snap, err := s.inventory.Snapshot(ctx, userID)
	if err != nil {
		s.log.Error("failed to fetch inventory for collection", "userId", userID, "error", err)
		return 0, err
	}

	samples := Samples(userID, snap, s.now().UTC())
	if err := s.store.SaveMetrics(ctx, samples); err != nil {
		s.log.Error("failed to store metrics", "userId", userID, "error", err)
		return 0, err
	}

	s.log.Info("collected metrics", "userId", userID, "count", len(samples))
	return len(samples), nil
}

// Samples derives the stored metrics from a snapshot. Every sample carries
// the same timestamp.
func Samples(userID string, snap *models.Snapshot, at time.Time) []*models.MetricSample {
	if snap == nil {
		return nil
	}
	res := snap.Resources

	var samples []*models.MetricSample
	add := func(service, metric string, value float64) {
		samples = append(samples, &models.MetricSample{
			UserID:     userID,
			Service:    service,
			MetricName: metric,
			Value:      value,
			Timestamp:  at,
		})
	}

	var cpu []float64
	running := 0
	for _, inst := range res.EC2 {
		if inst.CPUUtilization.Valid {
			cpu = append(cpu, inst.CPUUtilization.Value)
		}
		if inst.State == models.StateRunning {
			running++
		}
	}
	add(models.ServiceEC2, MetricCPUUtilization, average(cpu))
	add(models.ServiceEC2, MetricInstanceCount, float64(len(res.EC2)))
	add(models.ServiceEC2, MetricRunningInstances, float64(running))

	var size float64
	for _, b := range res.S3 {
		size += b.SizeBytes
	}
	add(models.ServiceS3, MetricBucketCount, float64(len(res.S3)))
	add(models.ServiceS3, MetricTotalSize, size)

	var dbCPU []float64
	for _, db := range res.RDS {
		if db.CPUUtilization.Valid {
			dbCPU = append(dbCPU, db.CPUUtilization.Value)
		}
	}
	add(models.ServiceRDS, MetricDatabaseCount, float64(len(res.RDS)))
	add(models.ServiceRDS, MetricCPUUtilization, average(dbCPU))

	var invocations float64
	for _, fn := range res.Lambda {
		invocations += fn.Invocations.Or(0)
	}
	add(models.ServiceLambda, MetricFunctionCount, float64(len(res.Lambda)))
	add(models.ServiceLambda, MetricInvocations, invocations)

	storageGB := 0
	for _, v := range res.EBS {
		storageGB += v.SizeGB()
	}
	add(models.ServiceEBS, MetricVolumeCount, float64(len(res.EBS)))
	add(models.ServiceEBS, MetricTotalStorage, float64(storageGB))

	return samples
}

// History returns stored samples for the window, oldest first
func (s *Service) History(ctx context.Context, userID string, q HistoryQuery) ([]*models.MetricSample, error) {
	if userID == "" {
		return nil, apperrors.Invalid("userId is required")
	}

	start, end, err := s.window(q)
	if err != nil {
		return nil, err
	}

	samples, err := s.store.QueryMetrics(ctx, models.MetricQuery{
		UserID:     userID,
		Service:    q.Service,
		MetricName: q.MetricName,
		Start:      start,
		End:        end,
		Limit:      storage.DefaultMetricLimit,
	})
	if err != nil {
		return nil, err
	}
	if samples == nil {
		samples = []*models.MetricSample{}
	}
	return samples, nil
}

func (s *Service) window(q HistoryQuery) (time.Time, time.Time, error) {
	now := s.now().UTC()
	if q.Range == "" {
		q.Range = Range24h
	}

	if q.Range == RangeCustom {
		if q.Start.IsZero() || q.End.IsZero() {
			return time.Time{}, time.Time{}, apperrors.Invalid("startDate and endDate are required for a custom range")
		}
		if q.End.Before(q.Start) {
			return time.Time{}, time.Time{}, apperrors.Invalid("endDate must not be before startDate")
		}
		return q.Start, q.End, nil
	}

	d, ok := rangeDurations[q.Range]
	if !ok {
		return time.Time{}, time.Time{}, apperrors.Newf(apperrors.ErrCodeInvalidRequest, "invalid timeRange %q", q.Range)
	}
	return now.Add(-d), now, nil
}

// Trends compares weekly and monthly averages of one metric and adds a
// growth fit and usage pattern over the last 30 days
func (s *Service) Trends(ctx context.Context, userID, service, metric string) (*models.MetricTrends, error) {
	if userID == "" {
		return nil, apperrors.Invalid("userId is required")
	}
	if service == "" || metric == "" {
		return nil, apperrors.Invalid("service and metricName are required")
	}

	now := s.now().UTC()
	day := 24 * time.Hour

	samples, err := s.store.QueryMetrics(ctx, models.MetricQuery{
		UserID:     userID,
		Service:    service,
		MetricName: metric,
		Start:      now.Add(-60 * day),
		End:        now,
		Limit:      trendSampleLimit,
	})
	if err != nil {
		return nil, err
	}

	between := func(from, to time.Time) []*models.MetricSample {
		var out []*models.MetricSample
		for _, sm := range samples {
			if !sm.Timestamp.Before(from) && sm.Timestamp.Before(to) {
				out = append(out, sm)
			}
		}
		return out
	}
	avg := func(ss []*models.MetricSample) float64 {
		return average(sampleValues(ss))
	}

	// include samples stamped exactly now
	until := now.Add(time.Nanosecond)
	lastMonth := between(now.Add(-30*day), until)

	trends := &models.MetricTrends{
		Service: service,
		Metric:  metric,
		Weekly: Compare(
			avg(between(now.Add(-7*day), until)),
			avg(between(now.Add(-14*day), now.Add(-7*day))),
		),
		Monthly: Compare(
			avg(lastMonth),
			avg(between(now.Add(-60*day), now.Add(-30*day))),
		),
		Growth:  CalculateGrowthTrend(lastMonth),
		Pattern: AnalyzeUsagePattern(lastMonth),
	}
	return trends, nil
}
