package reporter

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/opscart/cloudops-cost-optimizer/pkg/models"
)

// ReportFormat represents the output format
type ReportFormat string

const (
	FormatMarkdown ReportFormat = "markdown"
	FormatCSV      ReportFormat = "csv"
)

// ContentType returns the MIME type of the format
func (f ReportFormat) ContentType() string {
	switch f {
	case FormatCSV:
		return "text/csv; charset=utf-8"
	case FormatMarkdown:
		return "text/markdown; charset=utf-8"
	}
	return "application/octet-stream"
}

// ParseFormat accepts csv, markdown or md
func ParseFormat(s string) (ReportFormat, error) {
	switch s {
	case "csv", "":
		return FormatCSV, nil
	case "markdown", "md":
		return FormatMarkdown, nil
	}
	return "", fmt.Errorf("unsupported report format %q (want csv or markdown)", s)
}

// Report contains all data for generating reports
type Report struct {
	UserID          string
	GeneratedAt     time.Time
	Recommendations []*models.Recommendation

	TotalMonthlySavings float64
	TotalYearlySavings  float64
	OpenCount           int
	ImplementedCount    int
	VerifiedCount       int

	CategoryStats map[models.Category]*GroupStats
	PriorityStats map[models.Priority]*GroupStats
}

// GroupStats holds statistics for one category or priority
type GroupStats struct {
	Name            string
	Recommendations int
	Implemented     int
	MonthlySavings  float64
}

// Generate builds a report from recommendations. Savings totals cover
// open recommendations only.
func Generate(userID string, recommendations []*models.Recommendation) *Report {
	report := &Report{
		UserID:          userID,
		GeneratedAt:     time.Now().UTC(),
		Recommendations: recommendations,
		CategoryStats:   make(map[models.Category]*GroupStats),
		PriorityStats:   make(map[models.Priority]*GroupStats),
	}
	calculateStats(report)
	return report
}

// Write renders the report in the requested format
func Write(report *Report, format ReportFormat, w io.Writer) error {
	switch format {
	case FormatCSV:
		return GenerateCSV(report, w)
	case FormatMarkdown:
		return GenerateMarkdown(report, w)
	}
	return fmt.Errorf("unsupported report format %q", format)
}

func calculateStats(report *Report) {
	for _, rec := range report.Recommendations {
		if rec.Implemented {
			report.ImplementedCount++
		} else {
			report.OpenCount++
			report.TotalMonthlySavings += rec.EstimatedMonthlySavings
		}
		if rec.VerificationStatus == models.VerificationVerified {
			report.VerifiedCount++
		}

		cat := report.CategoryStats[rec.Category]
		if cat == nil {
			cat = &GroupStats{Name: string(rec.Category)}
			report.CategoryStats[rec.Category] = cat
		}
		addToGroup(cat, rec)

		pri := report.PriorityStats[rec.Priority]
		if pri == nil {
			pri = &GroupStats{Name: string(rec.Priority)}
			report.PriorityStats[rec.Priority] = pri
		}
		addToGroup(pri, rec)
	}
	report.TotalYearlySavings = report.TotalMonthlySavings * 12
}

func addToGroup(g *GroupStats, rec *models.Recommendation) {
	g.Recommendations++
	if rec.Implemented {
		g.Implemented++
		return
	}
	g.MonthlySavings += rec.EstimatedMonthlySavings
}

// sortedCategories returns category stats by savings, highest first
func sortedCategories(report *Report) []*GroupStats {
	out := make([]*GroupStats, 0, len(report.CategoryStats))
	for _, s := range report.CategoryStats {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].MonthlySavings != out[j].MonthlySavings {
			return out[i].MonthlySavings > out[j].MonthlySavings
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// sortedPriorities returns priority stats High, Medium, Low
func sortedPriorities(report *Report) []*GroupStats {
	out := make([]*GroupStats, 0, len(report.PriorityStats))
	for _, s := range report.PriorityStats {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		return models.Priority(out[i].Name).Rank() < models.Priority(out[j].Name).Rank()
	})
	return out
}
