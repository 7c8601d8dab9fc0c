package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/labopti/labopti/internal/config"
	"github.com/labopti/labopti/internal/domain/guideline"
	"github.com/labopti/labopti/internal/domain/recommendation"
	"github.com/labopti/labopti/internal/platform/db"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "labopti-server",
		Version:      version,
		Short:        "Lab test recommendation API server",
		SilenceUsage: true,
	}
	root.AddCommand(serveCmd())
	root.AddCommand(migrateCmd())
	root.AddCommand(guidelinesCmd())
	root.AddCommand(recommendCmd())
	return root
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			return runServer(cmd.Context(), cfg)
		},
	}
}

func openPool(ctx context.Context, cfg *config.Config) (*db.Migrator, func(), error) {
	if err := cfg.RequireDatabase(); err != nil {
		return nil, nil, err
	}
	pool, err := db.NewPool(ctx, db.PoolConfig{URL: cfg.DatabaseURL, MaxConns: cfg.DBMaxConns, MinConns: cfg.DBMinConns})
	if err != nil {
		return nil, nil, err
	}
	return db.NewEmbeddedMigrator(pool), pool.Close, nil
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	// migrate up
	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			migrator, closePool, err := openPool(ctx, cfg)
			if err != nil {
				return err
			}
			defer closePool()

			count, err := migrator.Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s) successfully.\n", count)
			return nil
		},
	})

	// migrate status
	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			migrator, closePool, err := openPool(ctx, cfg)
			if err != nil {
				return err
			}
			defer closePool()

			statuses, err := migrator.Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}
			printStatus(cmd, statuses)
			return nil
		},
	})

	return cmd
}

func printStatus(cmd *cobra.Command, statuses []db.MigrationStatus) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
	fmt.Fprintln(out, "---------- ---------------------------------------- ---------- --------------------")
	for _, s := range statuses {
		status := "pending"
		appliedAt := ""
		if s.Applied {
			status = "applied"
			if s.AppliedAt != nil {
				appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
			}
		}
		fmt.Fprintf(out, "%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
	}
}

func guidelinesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "guidelines",
		Short: "Inspect the guideline knowledge base",
	}

	validate := &cobra.Command{
		Use:   "validate",
		Short: "Load a guideline file and report problems",
		RunE: func(cmd *cobra.Command, args []string) error {
			file, _ := cmd.Flags().GetString("file")
			store, err := guideline.Load(file)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: ok (%d tests, %d symptoms, default test %s)\n",
				file, len(store.TestNames()), len(store.Symptoms()), store.DefaultTest())
			return nil
		},
	}
	validate.Flags().String("file", "./data/guidelines.json", "Path to the guideline file (.json, .yaml, .yml)")
	cmd.AddCommand(validate)
	return cmd
}

// noHistory is used by the dry-run command, where no patient record exists.
type noHistory struct{}

func (noHistory) LastResultDate(context.Context, uuid.UUID, string) (*time.Time, error) {
	return nil, nil
}

func recommendCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "recommend",
		Short: "Print the test plan for a new patient without storing anything",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if file, _ := cmd.Flags().GetString("guidelines"); file != "" {
				cfg.GuidelinesPath = file
			}
			symptoms, _ := cmd.Flags().GetStringSlice("symptoms")
			age, _ := cmd.Flags().GetInt("age")
			gender, _ := cmd.Flags().GetString("gender")

			store, err := guideline.Load(cfg.GuidelinesPath)
			if err != nil {
				return err
			}
			logger := zerolog.Nop()
			explainer, closeExplainer, err := buildExplainer(cmd.Context(), cfg, store, logger)
			if err != nil {
				return err
			}
			defer closeExplainer()

			engine := recommendation.NewEngine(store, noHistory{}, explainer, recommendation.Options{
				NarrativeTimeout: cfg.NarrativeTimeout,
				Concurrency:      cfg.NarrativeConcurrency,
				Logger:           logger,
			})
			plan, err := engine.Decide(cmd.Context(), recommendation.DecideRequest{
				PatientID: uuid.New(),
				Symptoms:  symptoms,
				Age:       age,
				Gender:    gender,
			})
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(plan)
		},
	}
	cmd.Flags().StringSlice("symptoms", nil, "Comma separated symptoms")
	cmd.Flags().Int("age", 0, "Patient age in years")
	cmd.Flags().String("gender", "", "Patient gender")
	cmd.Flags().String("guidelines", "", "Override GUIDELINES_PATH")
	return cmd
}
