package reporter

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
)

// GenerateCSV creates a CSV report
func GenerateCSV(report *Report, writer io.Writer) error {
	w := csv.NewWriter(writer)

	header := []string{
		"ID",
		"Type",
		"Priority",
		"Category",
		"Title",
		"Monthly Savings ($)",
		"Yearly Savings ($)",
		"Difficulty",
		"Auto Implementable",
		"Implemented",
		"Verification",
	}
	if err := w.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}

	for _, rec := range report.Recommendations {
		row := []string{
			rec.ID,
			string(rec.Type),
			string(rec.Priority),
			string(rec.Category),
			rec.Title,
			fmt.Sprintf("%.2f", rec.EstimatedMonthlySavings),
			fmt.Sprintf("%.2f", rec.EstimatedYearlySavings),
			rec.Difficulty,
			strconv.FormatBool(rec.AutoImplementable),
			strconv.FormatBool(rec.Implemented),
			string(rec.VerificationStatus),
		}
		if err := w.Write(row); err != nil {
			return fmt.Errorf("failed to write CSV row: %w", err)
		}
	}

	rows := [][]string{
		{},
		{"SUMMARY"},
		{"Open Recommendations", strconv.Itoa(report.OpenCount)},
		{"Implemented", strconv.Itoa(report.ImplementedCount)},
		{"Verified", strconv.Itoa(report.VerifiedCount)},
		{"Total Monthly Savings", fmt.Sprintf("$%.2f", report.TotalMonthlySavings)},
		{"Total Yearly Savings", fmt.Sprintf("$%.2f", report.TotalYearlySavings)},
		{},
		{"CATEGORY BREAKDOWN"},
		{"Category", "Recommendations", "Implemented", "Open Savings"},
	}
	for _, s := range sortedCategories(report) {
		rows = append(rows, []string{
			s.Name,
			strconv.Itoa(s.Recommendations),
			strconv.Itoa(s.Implemented),
			fmt.Sprintf("$%.2f", s.MonthlySavings),
		})
	}
	if err := w.WriteAll(rows); err != nil {
		return fmt.Errorf("failed to write CSV summary: %w", err)
	}
	return nil
}
