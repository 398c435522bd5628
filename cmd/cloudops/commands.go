package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/opscart/cloudops-cost-optimizer/pkg/actuator"
	"github.com/opscart/cloudops-cost-optimizer/pkg/models"
	"github.com/opscart/cloudops-cost-optimizer/pkg/optimizer"
	"github.com/opscart/cloudops-cost-optimizer/pkg/reporter"
	"github.com/opscart/cloudops-cost-optimizer/pkg/savings"
	"github.com/opscart/cloudops-cost-optimizer/pkg/storage"
)

var (
	// History flags
	historyLimit       int
	historyImplemented string
	historyPriority    string
	historyCategory    string

	// Savings flags
	savingsTimeframe string
	savingsDays      int

	// Report flags
	reportFormat string
	reportFile   string
)

func recommendCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "recommend <userId>",
		Short: "Generate recommendations for a user now",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withOptimizer(cmd.Context(), func(svc *optimizer.Service, store storage.Store) error {
				res, err := svc.Generate(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return render(res, func() { printRecommendations(res.Recommendations) })
			})
		},
	}
}

func verifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify <userId> <recommendationId>",
		Short: "Verify that a recommendation took effect",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withOptimizer(cmd.Context(), func(svc *optimizer.Service, store storage.Store) error {
				result := svc.Verify(cmd.Context(), args[0], args[1])
				return render(result, func() {
					status := "NOT VERIFIED"
					if result.Verified {
						status = "VERIFIED"
					}
					fmt.Printf("%s: %s\n", status, result.Reason)
				})
			})
		},
	}
}

func historyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history <userId>",
		Short: "View stored recommendations",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			filter, err := historyFilter()
			if err != nil {
				return err
			}
			return withStore(func(store storage.Store) error {
				recs, err := store.ListRecommendations(cmd.Context(), args[0], filter)
				if err != nil {
					return err
				}
				if historyLimit > 0 && len(recs) > historyLimit {
					recs = recs[:historyLimit]
				}
				return render(recs, func() {
					if len(recs) == 0 {
						fmt.Printf("No recommendations found for user: %s\n", args[0])
						return
					}
					fmt.Printf("Recommendations for user '%s':\n\n", args[0])
					printRecommendations(recs)
				})
			})
		},
	}
	cmd.Flags().IntVar(&historyLimit, "limit", 20, "Number of recommendations to show (0 for all)")
	cmd.Flags().StringVar(&historyImplemented, "implemented", "", "Filter by implementation state: true or false")
	cmd.Flags().StringVar(&historyPriority, "priority", "", "Filter by priority: High, Medium, Low")
	cmd.Flags().StringVar(&historyCategory, "category", "", "Filter by category: Compute, Storage, Database")
	return cmd
}

func historyFilter() (models.RecommendationFilter, error) {
	f := models.RecommendationFilter{
		Priority: models.Priority(historyPriority),
		Category: models.Category(historyCategory),
	}
	switch strings.ToLower(historyImplemented) {
	case "":
	case "true":
		v := true
		f.Implemented = &v
	case "false":
		v := false
		f.Implemented = &v
	default:
		return f, fmt.Errorf("--implemented must be true or false")
	}
	return f, nil
}

func savingsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "savings <userId>",
		Short: "Show verified savings and the daily timeline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(func(store storage.Store) error {
				calc := savings.NewCalculator(store)
				totals, err := calc.Total(cmd.Context(), args[0], models.Timeframe(savingsTimeframe))
				if err != nil {
					return err
				}
				timeline, err := calc.Timeline(cmd.Context(), args[0], savingsDays)
				if err != nil {
					return err
				}

				out := struct {
					Timeframe string                    `json:"timeframe" yaml:"timeframe"`
					Totals    *models.SavingsTotals     `json:"totals" yaml:"totals"`
					Timeline  []models.SavingsDataPoint `json:"timeline" yaml:"timeline"`
				}{savingsTimeframe, totals, timeline}

				return render(out, func() {
					fmt.Printf("Verified savings (%s):\n", savingsTimeframe)
					fmt.Printf("   Actual:    $%.2f/month\n", totals.TotalActualSavings)
					fmt.Printf("   Estimated: $%.2f/month\n", totals.TotalEstimatedSavings)
					fmt.Printf("   Count:     %d\n", totals.SavingsCount)
					fmt.Printf("   Accuracy:  %.2f%%\n\n", totals.Accuracy)

					fmt.Printf("Implementations in the last %d days:\n", savingsDays)
					if len(timeline) == 0 {
						fmt.Println("   none")
					}
					for _, p := range timeline {
						fmt.Printf("   %s  %d  est $%.2f  actual $%.2f\n", p.Date, p.Count, p.EstimatedSavings, p.ActualSavings)
					}
				})
			})
		},
	}
	cmd.Flags().StringVar(&savingsTimeframe, "timeframe", string(models.TimeframeAll), "Timeframe: all, month, week")
	cmd.Flags().IntVar(&savingsDays, "days", savings.DefaultTimelineDays, "Timeline window in days")
	return cmd
}

func reportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report <userId>",
		Short: "Export recommendations as CSV or Markdown",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := reporter.ParseFormat(reportFormat)
			if err != nil {
				return err
			}
			return withStore(func(store storage.Store) error {
				recs, err := store.ListRecommendations(cmd.Context(), args[0], models.RecommendationFilter{})
				if err != nil {
					return err
				}
				report := reporter.Generate(args[0], recs)

				if reportFile == "" {
					return reporter.Write(report, format, os.Stdout)
				}
				f, err := os.Create(reportFile)
				if err != nil {
					return fmt.Errorf("failed to create report file: %w", err)
				}
				defer f.Close()
				if err := reporter.Write(report, format, f); err != nil {
					return err
				}
				fmt.Fprintf(os.Stderr, "[INFO] Report written to %s\n", reportFile)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&reportFormat, "format", string(reporter.FormatCSV), "Report format: csv, markdown")
	cmd.Flags().StringVar(&reportFile, "file", "", "Write the report to this file instead of stdout")
	return cmd
}

func withStore(fn func(storage.Store) error) error {
	store, err := storage.Open(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer store.Close()
	return fn(store)
}

func withOptimizer(ctx context.Context, fn func(*optimizer.Service, storage.Store) error) error {
	return withStore(func(store storage.Store) error {
		lk, closeLocker, err := newLocker(ctx)
		if err != nil {
			return err
		}
		defer closeLocker()

		svc := optimizer.NewService(optimizer.Deps{
			Store:     store,
			Inventory: newInventory(),
			Actuator:  actuator.NewClient(cfg.MonitoringServiceURL, cfg.HTTPTimeout, log),
			Locker:    lk,
			Log:       log,
		})
		return fn(svc, store)
	})
}
