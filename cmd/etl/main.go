package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/heigenstudio/bookingpipe/internal/addons"
	"github.com/heigenstudio/bookingpipe/internal/archive"
	"github.com/heigenstudio/bookingpipe/internal/config"
	"github.com/heigenstudio/bookingpipe/internal/database"
	"github.com/heigenstudio/bookingpipe/internal/export"
	"github.com/heigenstudio/bookingpipe/internal/ingest"
	"github.com/heigenstudio/bookingpipe/internal/pipeline"
	"github.com/heigenstudio/bookingpipe/internal/store"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rootCmd := newRootCommand()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "etl: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "etl",
		Short: "Studio booking spreadsheet pipeline",
		Long: `etl ingests consent-form and booking-record spreadsheets from the inbox
directory, stages every row for audit, and merges them into the customer,
package and booking master tables.`,
		SilenceUsage: true,
	}
	cmd.AddCommand(
		newRunCmd(),
		newExportCmd(),
		newInitDBCmd(),
	)
	return cmd
}

func newRunCmd() *cobra.Command {
	var mergeEnabled bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Process the inbox directory (staging only unless --merge)",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, log, err := setup()
			if err != nil {
				return err
			}

			pool, err := connect(ctx, cfg)
			if err != nil {
				return err
			}
			defer pool.Close()

			var arch pipeline.Archiver
			if cfg.ArchiveEnabled() {
				st, err := archive.New(cfg)
				if err != nil {
					return err
				}
				if err := st.EnsureBucket(ctx); err != nil {
					return err
				}
				arch = st
			}

			ing := ingest.New(cfg.InboxDir, cfg.ProcessedDir, cfg.MoveRetries, cfg.MoveBackoff, log)
			norm := addons.New(cfg.CostumeFallbackQty, log)
			pipe := pipeline.New(ing, store.NewPostgres(pool), norm, arch, cfg.ProcessedDir, log)

			summary, err := pipe.Run(ctx, mergeEnabled)
			if err != nil {
				return err
			}

			staged, merged, failed := 0, 0, 0
			for _, fs := range summary.Files {
				staged += fs.Staged
				merged += fs.Merge.Merged
				failed += fs.Merge.Errors + fs.Merge.MissingCustomer
			}
			log.WithFields(logrus.Fields{
				"files":        len(summary.Files),
				"files_failed": summary.FilesFailed,
				"staged":       staged,
				"merged":       merged,
				"row_failures": failed,
			}).Info("pipeline pass complete")
			if summary.FilesFailed > 0 {
				return fmt.Errorf("%d file(s) failed, see log", summary.FilesFailed)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&mergeEnabled, "merge", false, "Merge staged rows into the master tables")
	return cmd
}

func newExportCmd() *cobra.Command {
	var outPath string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the merged-bookings CSV consumed by the recommender",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, log, err := setup()
			if err != nil {
				return err
			}
			if outPath == "" {
				outPath = cfg.ExportPath
			}

			pool, err := connect(ctx, cfg)
			if err != nil {
				return err
			}
			defer pool.Close()

			count, err := export.MergedBookings(ctx, pool, outPath)
			if err != nil {
				return err
			}
			log.WithFields(logrus.Fields{"bookings": count, "path": outPath}).Info("export written")
			return nil
		},
	}
	cmd.Flags().StringVar(&outPath, "out", "", "Output path (defaults to ETL_EXPORT_PATH)")
	return cmd
}

func newInitDBCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "initdb",
		Short: "Create tables and seed the add-on catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, log, err := setup()
			if err != nil {
				return err
			}

			pool, err := connect(ctx, cfg)
			if err != nil {
				return err
			}
			defer pool.Close()

			if err := database.SeedAddonCatalog(ctx, pool); err != nil {
				return err
			}
			log.Info("schema ensured and addon catalog seeded")
			return nil
		},
	}
}

func setup() (*config.Config, logrus.FieldLogger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	log := logger.WithField("run_id", uuid.NewString())
	return cfg, log, nil
}

func connect(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	pool, err := database.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	if err := database.EnsureSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}
