package main

import (
	"encoding/json"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/opscart/cloudops-cost-optimizer/pkg/models"
)

// render writes v in the configured output format, calling text for the
// human-readable form
func render(v any, text func()) error {
	switch cfg.OutputFormat {
	case "", "text":
		text()
		return nil
	case "json":
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(v); err != nil {
			return fmt.Errorf("error encoding JSON: %w", err)
		}
		return nil
	case "yaml":
		encoder := yaml.NewEncoder(os.Stdout)
		encoder.SetIndent(2)
		defer encoder.Close()
		if err := encoder.Encode(v); err != nil {
			return fmt.Errorf("error encoding YAML: %w", err)
		}
		return nil
	default:
		return fmt.Errorf("output must be text, json, or yaml")
	}
}

func printRecommendations(recs []*models.Recommendation) {
	if len(recs) == 0 {
		fmt.Println("[INFO] No optimization opportunities found")
		return
	}

	total := 0.0
	for i, rec := range recs {
		fmt.Printf("%d. %s [%s] (ID: %s)\n", i+1, rec.Title, rec.Priority, rec.ID)
		fmt.Printf("   Type: %s  Category: %s\n", rec.Type, rec.Category)
		if rec.Description != "" {
			fmt.Printf("   %s\n", rec.Description)
		}
		fmt.Printf("   Savings: $%.2f/month ($%.2f/year)\n", rec.EstimatedMonthlySavings, rec.EstimatedYearlySavings)
		status := "open"
		if rec.Implemented {
			status = "implemented"
		}
		if rec.VerificationStatus != "" {
			status += ", " + string(rec.VerificationStatus)
		}
		fmt.Printf("   Status: %s\n", status)
		fmt.Printf("   Created: %s\n", rec.CreatedAt.Format("2006-01-02 15:04:05"))
		fmt.Println()
		if !rec.Implemented {
			total += rec.EstimatedMonthlySavings
		}
	}

	fmt.Printf("Total potential savings: $%.2f/month\n", total)
}
