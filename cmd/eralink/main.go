package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"eralink/internal/config"
	"eralink/internal/extract"
	"eralink/internal/linkage"
	"eralink/internal/metrics"
	"eralink/internal/pipeline"
	"eralink/internal/platform/db"
	"eralink/internal/refdict"
	"eralink/internal/store"
	"eralink/internal/warehouse"
)

const dateLayout = "2006-01-02"

func main() {
	rootCmd := &cobra.Command{
		Use:           "eralink",
		Short:         "Extract, link and load ERA/835 remittances",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(runUnitCmd())
	rootCmd.AddCommand(runAllCmd())
	rootCmd.AddCommand(resetCmd())
	rootCmd.AddCommand(migrateCmd())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		stop()
		os.Exit(1)
	}
}

func runUnitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run-unit",
		Short: "Process a single practice",
		RunE: func(cmd *cobra.Command, args []string) error {
			guid, _ := cmd.Flags().GetString("practice")
			name, _ := cmd.Flags().GetString("name")
			start, _ := cmd.Flags().GetString("start-date")

			app, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.close()

			since, err := app.since(start)
			if err != nil {
				return err
			}
			p, err := app.wh.Practice(cmd.Context(), guid)
			if err != nil {
				return err
			}
			if name != "" {
				p.Name = name
			}
			return app.run(cmd.Context(), []warehouse.Practice{p}, since)
		},
	}
	cmd.Flags().String("practice", "", "Practice GUID")
	cmd.Flags().String("name", "", "Override the practice name used for the output directory")
	cmd.Flags().String("start-date", "", "Window start (YYYY-MM-DD); defaults to LOOKBACK_DAYS ago")
	cmd.MarkFlagRequired("practice")
	return cmd
}

func runAllCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run-all",
		Short: "Process every active practice",
		RunE: func(cmd *cobra.Command, args []string) error {
			start, _ := cmd.Flags().GetString("start-date")
			reset, _ := cmd.Flags().GetBool("reset")

			app, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.close()

			since, err := app.since(start)
			if err != nil {
				return err
			}
			if reset {
				app.log.Warn().Msg("truncating destination tables")
				if err := app.orch.Reset(cmd.Context()); err != nil {
					return err
				}
			}
			units, err := app.wh.Practices(cmd.Context())
			if err != nil {
				return err
			}
			return app.run(cmd.Context(), units, since)
		},
	}
	cmd.Flags().String("start-date", "", "Window start (YYYY-MM-DD); defaults to LOOKBACK_DAYS ago")
	cmd.Flags().Bool("reset", false, "Truncate destination tables before the run")
	return cmd
}

func resetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Truncate all destination tables",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup()
			if err != nil {
				return err
			}
			pool, err := db.NewPool(cmd.Context(), cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()
			return store.NewLoader(pool, log).Reset(cmd.Context())
		},
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply destination schema migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup()
			if err != nil {
				return err
			}
			pool, err := db.NewPool(cmd.Context(), cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()
			if err := store.Migrate(cmd.Context(), pool); err != nil {
				return err
			}
			log.Info().Msg("migrations applied")
			return nil
		},
	}
}

func setup() (*config.Config, zerolog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, zerolog.Nop(), err
	}
	return cfg, newLogger(cfg), nil
}

func newLogger(cfg *config.Config) zerolog.Logger {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if cfg.LogFormat == "console" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.DateTime}).With().Timestamp().Logger()
	}
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		logger = logger.Level(lvl)
	}
	return logger
}

type app struct {
	cfg     *config.Config
	log     zerolog.Logger
	whPool  *pgxpool.Pool
	dstPool *pgxpool.Pool
	wh      *warehouse.Store
	orch    *pipeline.Orchestrator
	metrics *metrics.Recorder
}

func newApp(ctx context.Context) (*app, error) {
	cfg, log, err := setup()
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, log: log, metrics: metrics.New()}

	a.whPool, err = db.NewPool(ctx, cfg.WarehouseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return nil, fmt.Errorf("connect warehouse: %w", err)
	}
	a.dstPool, err = db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		a.whPool.Close()
		return nil, fmt.Errorf("connect destination: %w", err)
	}
	log.Info().Msg("connected to warehouse and destination")

	if err := store.Migrate(ctx, a.dstPool); err != nil {
		a.close()
		return nil, err
	}

	a.wh = warehouse.New(a.whPool, cfg.WarehouseSchema, cfg.ChunkSize)
	global, err := refdict.LoadGlobal(ctx, a.wh)
	if err != nil {
		a.close()
		return nil, err
	}
	reasons, remarks := global.Len()
	log.Info().Int("reasons", reasons).Int("remarks", remarks).Msg("loaded adjustment dictionaries")

	resolver := linkage.NewResolver(a.wh, refdict.NewCache(a.wh), global, log)
	a.orch = pipeline.New(
		extract.New(a.wh, log),
		resolver,
		store.NewLoader(a.dstPool, log),
		pipeline.Options{
			OutputRoot:   cfg.OutputRoot,
			MaxRetries:   cfg.MaxRetries,
			RetryBackoff: cfg.RetryBackoff,
			Metrics:      a.metrics,
		},
		log,
	)
	return a, nil
}

func (a *app) close() {
	a.dstPool.Close()
	a.whPool.Close()
}

func (a *app) since(start string) (time.Time, error) {
	if start == "" {
		return a.cfg.Lookback(time.Now()), nil
	}
	t, err := time.Parse(dateLayout, start)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse start date %q: %w", start, err)
	}
	return t, nil
}

func (a *app) run(ctx context.Context, units []warehouse.Practice, since time.Time) error {
	report := a.orch.Run(ctx, units, since)
	if err := report.Save(a.cfg.ReportFile); err != nil {
		return err
	}
	if err := a.metrics.WriteTextfile(a.cfg.MetricsFile); err != nil {
		a.log.Warn().Err(err).Msg("write metrics textfile")
	}
	a.log.Info().Str("report", a.cfg.ReportFile).Str("json", pipeline.JSONPath(a.cfg.ReportFile)).Msg("report written")

	if err := ctx.Err(); err != nil {
		return errors.Join(pipeline.ErrUnitsFailed, err)
	}
	if report.Failed() {
		return pipeline.ErrUnitsFailed
	}
	return nil
}
