package reporter

import (
	"fmt"
	"io"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// GenerateMarkdown creates a Markdown report. Amounts use English digit
// grouping, e.g. $1,234.00.
func GenerateMarkdown(report *Report, writer io.Writer) error {
	p := message.NewPrinter(language.English)
	var b strings.Builder

	fmt.Fprintf(&b, "# Cost Optimization Report\n\n")
	fmt.Fprintf(&b, "- **User:** %s\n", report.UserID)
	fmt.Fprintf(&b, "- **Generated:** %s\n\n", report.GeneratedAt.Format("2006-01-02 15:04 MST"))

	b.WriteString("## Summary\n\n")
	b.WriteString("| Metric | Value |\n|---|---|\n")
	fmt.Fprintf(&b, "| Open recommendations | %d |\n", report.OpenCount)
	fmt.Fprintf(&b, "| Implemented | %d |\n", report.ImplementedCount)
	fmt.Fprintf(&b, "| Verified | %d |\n", report.VerifiedCount)
	b.WriteString(p.Sprintf("| Potential monthly savings | $%.2f |\n", report.TotalMonthlySavings))
	b.WriteString(p.Sprintf("| Potential yearly savings | $%.2f |\n\n", report.TotalYearlySavings))

	if len(report.Recommendations) == 0 {
		b.WriteString("No recommendations. Infrastructure is optimized.\n")
		_, err := io.WriteString(writer, b.String())
		return err
	}

	b.WriteString("## By Priority\n\n")
	b.WriteString("| Priority | Recommendations | Implemented | Open savings |\n|---|---|---|---|\n")
	for _, s := range sortedPriorities(report) {
		b.WriteString(p.Sprintf("| %s | %d | %d | $%.2f |\n", s.Name, s.Recommendations, s.Implemented, s.MonthlySavings))
	}

	b.WriteString("\n## By Category\n\n")
	b.WriteString("| Category | Recommendations | Implemented | Open savings |\n|---|---|---|---|\n")
	for _, s := range sortedCategories(report) {
		b.WriteString(p.Sprintf("| %s | %d | %d | $%.2f |\n", s.Name, s.Recommendations, s.Implemented, s.MonthlySavings))
	}

	b.WriteString("\n## Recommendations\n\n")
	for _, rec := range report.Recommendations {
		status := "open"
		if rec.Implemented {
			status = "implemented"
		}
		if rec.VerificationStatus != "" {
			status += ", " + string(rec.VerificationStatus)
		}
		fmt.Fprintf(&b, "### %s\n\n", rec.Title)
		fmt.Fprintf(&b, "- **Type:** %s (%s / %s)\n", rec.Type, rec.Priority, rec.Category)
		b.WriteString(p.Sprintf("- **Savings:** $%.2f/month, $%.2f/year\n", rec.EstimatedMonthlySavings, rec.EstimatedYearlySavings))
		fmt.Fprintf(&b, "- **Status:** %s\n", status)
		if rec.Description != "" {
			fmt.Fprintf(&b, "\n%s\n", rec.Description)
		}
		b.WriteString("\n")
	}

	_, err := io.WriteString(writer, b.String())
	return err
}
