package models

import "time"

// SavingsEntry tracks the savings of one implemented recommendation
type SavingsEntry struct {
	ID               string     `json:"id"`
	UserID           string     `json:"userId"`
	RecommendationID string     `json:"recommendationId"`
	ImplementedAt    time.Time  `json:"implementedAt"`
	EstimatedSavings float64    `json:"estimatedSavings"`
	ActualSavings    float64    `json:"actualSavings"`
	Verified         bool       `json:"verified"`
	VerifiedAt       *time.Time `json:"verifiedAt,omitempty"`
}

// Timeframe selects the window for savings totals
type Timeframe string

const (
	TimeframeAll   Timeframe = "all"
	TimeframeMonth Timeframe = "month"
	TimeframeWeek  Timeframe = "week"
)

// SavingsTotals represents verified savings over a timeframe
type SavingsTotals struct {
	TotalActualSavings    float64 `json:"totalActualSavings"`
	TotalEstimatedSavings float64 `json:"totalEstimatedSavings"`
	SavingsCount          int     `json:"savingsCount"`
	Accuracy              float64 `json:"accuracy"`
}

// SavingsDataPoint represents a single day's savings
type SavingsDataPoint struct {
	Date             string  `json:"date"`
	EstimatedSavings float64 `json:"estimatedSavings"`
	ActualSavings    float64 `json:"actualSavings"`
	Count            int     `json:"count"`
}

// SavingsPotential represents open savings across unimplemented recommendations
type SavingsPotential struct {
	TotalMonthlySavings float64 `json:"totalMonthlySavings"`
	TotalYearlySavings  float64 `json:"totalYearlySavings"`
	RecommendationCount int     `json:"recommendationCount"`
}

// Service names used for metric history
const (
	ServiceEC2    = "EC2"
	ServiceS3     = "S3"
	ServiceRDS    = "RDS"
	ServiceLambda = "Lambda"
	ServiceEBS    = "EBS"
)

// MetricSample is one stored metric value
type MetricSample struct {
	ID         string    `json:"id"`
	UserID     string    `json:"userId"`
	Service    string    `json:"service"`
	MetricName string    `json:"metricName"`
	Value      float64   `json:"value"`
	Timestamp  time.Time `json:"timestamp"`
}

// MetricQuery selects metric history
type MetricQuery struct {
	UserID     string
	Service    string
	MetricName string
	Start      time.Time
	End        time.Time
	Limit      int
}

// TrendComparison compares two period averages
type TrendComparison struct {
	Current   float64 `json:"current"`
	Previous  float64 `json:"previous"`
	Change    float64 `json:"change"`
	Direction string  `json:"direction"`
}

// MetricTrends represents weekly and monthly trend comparisons
type MetricTrends struct {
	Service string          `json:"service"`
	Metric  string          `json:"metric"`
	Weekly  TrendComparison `json:"weekly"`
	Monthly TrendComparison `json:"monthly"`
	Growth  *GrowthTrend    `json:"growth,omitempty"`
	Pattern *UsagePattern   `json:"pattern,omitempty"`
}

// GrowthTrend represents a fitted linear trend over a metric series
type GrowthTrend struct {
	MonthlyGrowthRate float64 `json:"monthlyGrowthRate"`
	Trend             string  `json:"trend"`
	Confidence        float64 `json:"confidence"`
	Predicted30Days   float64 `json:"predicted30Days"`
	Predicted90Days   float64 `json:"predicted90Days"`
}

// UsagePattern classifies the variability of a metric series
type UsagePattern struct {
	Average                float64 `json:"average"`
	P95                    float64 `json:"p95"`
	Max                    float64 `json:"max"`
	CoefficientOfVariation float64 `json:"coefficientOfVariation"`
	Pattern                string  `json:"pattern"`
}
