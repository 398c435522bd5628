package analytics

import (
	"math"
	"sort"

	"github.com/opscart/cloudops-cost-optimizer/pkg/models"
)

const (
	// minPatternSamples is the smallest series classified by AnalyzeUsagePattern
	minPatternSamples = 10
	// minGrowthSamples is roughly one hour of five-minute collections
	minGrowthSamples = 12
	// growthThreshold is the monthly growth rate, in percent, above which a
	// series counts as growing (or below its negative as declining)
	growthThreshold = 3.0
)

// Trend labels
const (
	TrendGrowing   = "growing"
	TrendDeclining = "declining"
	TrendStable    = "stable"
)

// Usage pattern labels
const (
	PatternSteady         = "steady"
	PatternModerate       = "moderate"
	PatternSpiky          = "spiky"
	PatternHighlyVariable = "highly-variable"
)

// PercentChange returns the change from previous to current in percent,
// rounded to two decimals. A zero baseline yields 100 when current is
// positive, else 0.
func PercentChange(current, previous float64) float64 {
	if previous == 0 {
		if current > 0 {
			return 100
		}
		return 0
	}
	return round2((current - previous) / previous * 100)
}

// Compare builds a TrendComparison between two period averages
func Compare(current, previous float64) models.TrendComparison {
	change := PercentChange(current, previous)
	direction := "up"
	if change < 0 {
		direction = "down"
	}
	return models.TrendComparison{
		Current:   round2(current),
		Previous:  round2(previous),
		Change:    change,
		Direction: direction,
	}
}

// AnalyzeUsagePattern classifies a series by its coefficient of variation.
// It returns nil for series too short to classify.
func AnalyzeUsagePattern(samples []*models.MetricSample) *models.UsagePattern {
	if len(samples) < minPatternSamples {
		return nil
	}

	values := sampleValues(samples)
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	cv := coefficientOfVariation(values)

	var pattern string
	switch {
	case cv < 0.15:
		pattern = PatternSteady
	case cv < 0.35:
		pattern = PatternModerate
	case cv < 0.70:
		pattern = PatternSpiky
	default:
		pattern = PatternHighlyVariable
	}

	return &models.UsagePattern{
		Average:                round2(average(values)),
		P95:                    round2(percentile(sorted, 95)),
		Max:                    sorted[len(sorted)-1],
		CoefficientOfVariation: round2(cv),
		Pattern:                pattern,
	}
}

// CalculateGrowthTrend fits a line through the series and projects it.
// It returns nil when there is too little data or no time spread.
func CalculateGrowthTrend(samples []*models.MetricSample) *models.GrowthTrend {
	if len(samples) < minGrowthSamples {
		return nil
	}

	start := samples[0].Timestamp
	x := make([]float64, len(samples)) // hours since first sample
	y := make([]float64, len(samples))
	for i, s := range samples {
		x[i] = s.Timestamp.Sub(start).Hours()
		y[i] = s.Value
	}
	if x[len(x)-1] <= 0 {
		return nil
	}

	slope, intercept, r2 := linearRegression(x, y)
	currentAvg := average(y)

	const hoursPerMonth = 24.0 * 30.0
	var rate float64
	if currentAvg > 0 {
		rate = slope * hoursPerMonth / currentAvg * 100
	}

	last := x[len(x)-1]
	predicted30 := slope*(last+24*30) + intercept
	predicted90 := slope*(last+24*90) + intercept
	if predicted30 < 0 {
		predicted30 = 0
	}
	if predicted90 < 0 {
		predicted90 = 0
	}

	trend := TrendStable
	switch {
	case rate > growthThreshold:
		trend = TrendGrowing
	case rate < -growthThreshold:
		trend = TrendDeclining
	}

	return &models.GrowthTrend{
		MonthlyGrowthRate: round2(rate),
		Trend:             trend,
		Confidence:        round2(r2),
		Predicted30Days:   round2(predicted30),
		Predicted90Days:   round2(predicted90),
	}
}

// linearRegression returns slope, intercept and R² clamped to [0, 1]
func linearRegression(x, y []float64) (slope, intercept, r2 float64) {
	if len(x) == 0 {
		return 0, 0, 0
	}

	meanX := average(x)
	meanY := average(y)

	var num, den float64
	for i := range x {
		num += (x[i] - meanX) * (y[i] - meanY)
		den += (x[i] - meanX) * (x[i] - meanX)
	}
	if den == 0 {
		return 0, meanY, 0
	}

	slope = num / den
	intercept = meanY - slope*meanX

	var ssTotal, ssRes float64
	for i := range x {
		predicted := slope*x[i] + intercept
		ssRes += (y[i] - predicted) * (y[i] - predicted)
		ssTotal += (y[i] - meanY) * (y[i] - meanY)
	}
	if ssTotal == 0 {
		return slope, intercept, 0
	}

	r2 = 1 - ssRes/ssTotal
	return slope, intercept, math.Max(0, math.Min(1, r2))
}

// percentile interpolates linearly between closest ranks of sorted values
func percentile(sorted []float64, p float64) float64 {
	switch len(sorted) {
	case 0:
		return 0
	case 1:
		return sorted[0]
	}

	rank := p / 100 * float64(len(sorted)-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	if lo == hi {
		return sorted[lo]
	}
	return sorted[lo] + (sorted[hi]-sorted[lo])*(rank-float64(lo))
}

func coefficientOfVariation(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	mean := average(values)
	if mean == 0 {
		return 0
	}

	var sq float64
	for _, v := range values {
		sq += (v - mean) * (v - mean)
	}
	return math.Sqrt(sq/float64(len(values))) / mean
}

func average(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func sampleValues(samples []*models.MetricSample) []float64 {
	values := make([]float64, len(samples))
	for i, s := range samples {
		values[i] = s.Value
	}
	return values
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
