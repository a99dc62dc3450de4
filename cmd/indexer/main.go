// Package main is the entry point for the RTE100 index engine. It ingests
// daily scraped title data, estimates per-title daily revenue, maintains the
// rolling feature table, runs the weekly rebalance, and publishes the
// chain-linked index level series with CSV/JSON exports and a weekly report.
//
// Two execution modes:
//   - one-shot (default): run the full pipeline once and exit
//   - daemon (--daemon): schedule daily ingestion and weekly rebalances, and
//     serve the read-only HTTP API
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/rte-labs/rte100/internal/config"
	"github.com/rte-labs/rte100/internal/database"
	"github.com/rte-labs/rte100/internal/domain"
	"github.com/rte-labs/rte100/internal/loader"
	"github.com/rte-labs/rte100/internal/modules/edr"
	"github.com/rte-labs/rte100/internal/modules/features"
	"github.com/rte-labs/rte100/internal/modules/indexlevel"
	"github.com/rte-labs/rte100/internal/modules/jobs"
	"github.com/rte-labs/rte100/internal/modules/membership"
	"github.com/rte-labs/rte100/internal/modules/rebalance"
	"github.com/rte-labs/rte100/internal/modules/report"
	"github.com/rte-labs/rte100/internal/modules/snapshots"
	"github.com/rte-labs/rte100/internal/pipeline"
	"github.com/rte-labs/rte100/internal/scheduler"
	"github.com/rte-labs/rte100/internal/server"
	"github.com/rte-labs/rte100/pkg/logger"
)

func main() {
	var (
		daemon        = flag.Bool("daemon", false, "run as a long-lived daemon with scheduler and HTTP API")
		runsDir       = flag.String("runs-dir", "", "override the runs directory")
		rebalanceDate = flag.String("rebalance-date", "", "rebalance as of this date (YYYY-MM-DD, default today)")
		ingestOnly    = flag.Bool("ingest-only", false, "one-shot mode: ingest run files without rebalancing")
	)
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		// Use fallback logger if config fails
		fallbackLog := logger.New(logger.Config{Level: "info", Pretty: true})
		fallbackLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: true,
	})

	log.Info().Msg("Starting RTE100 index engine")

	if *runsDir != "" {
		cfg.RunsDir = *runsDir
	}

	indexDB, err := database.New(database.Config{
		Path:    cfg.DatabasePath("index"),
		Profile: database.ProfileStandard,
		Name:    "index",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open index database")
	}
	defer indexDB.Close()

	cacheDB, err := database.New(database.Config{
		Path:    cfg.DatabasePath("cache"),
		Profile: database.ProfileCache,
		Name:    "cache",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open cache database")
	}
	defer cacheDB.Close()

	for _, db := range []*database.DB{indexDB, cacheDB} {
		if err := db.Migrate(); err != nil {
			log.Fatal().Err(err).Str("db", db.Name()).Msg("Failed to migrate database")
		}
	}

	estimator, err := edr.NewEstimator(cfg.EDR, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid EDR parameters")
	}
	aggregator, err := features.NewAggregator(cfg.Rolling, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid rolling parameters")
	}
	engine, err := rebalance.NewEngine(cfg.Rebalance, cfg.Rolling.MinCoverage, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid rebalance parameters")
	}
	builder, err := indexlevel.NewBuilder(cfg.Index, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid index parameters")
	}

	snapshotRepo := snapshots.NewRepository(indexDB.Conn(), log)
	featureRepo := features.NewRepository(indexDB.Conn(), log)
	membershipRepo := membership.NewRepository(indexDB.Conn(), log)
	levelRepo := indexlevel.NewRepository(indexDB.Conn(), log)
	jobRepo := jobs.NewRepository(cacheDB.Conn(), log)

	pipe := pipeline.New(pipeline.Deps{
		Loader:         loader.New(log),
		Estimator:      estimator,
		Aggregator:     aggregator,
		Engine:         engine,
		Builder:        builder,
		Exporter:       report.NewExporter(cfg.ExportsDir, log),
		SnapshotRepo:   snapshotRepo,
		FeatureRepo:    featureRepo,
		MembershipRepo: membershipRepo,
		LevelRepo:      levelRepo,
		JobRepo:        jobRepo,
	}, log)

	if !*daemon {
		runOnce(pipe, cfg, log, *rebalanceDate, *ingestOnly)
		return
	}

	runDaemon(pipe, cfg, log, indexDB, cacheDB, membershipRepo, featureRepo, levelRepo, jobRepo)
}

// runOnce executes a single pipeline run and exits.
func runOnce(pipe *pipeline.Pipeline, cfg *config.Config, log zerolog.Logger, dateArg string, ingestOnly bool) {
	if ingestOnly {
		if err := pipe.UpdateSnapshots(cfg.RunsDir); err != nil {
			log.Fatal().Err(err).Msg("Ingestion failed")
		}
		log.Info().Msg("Ingestion complete")
		return
	}

	date := todayUTC()
	if dateArg != "" {
		parsed, err := time.Parse(domain.DateLayout, dateArg)
		if err != nil {
			log.Fatal().Err(err).Str("date", dateArg).Msg("Invalid rebalance date")
		}
		date = parsed
	}

	if err := pipe.Run(cfg.RunsDir, date); err != nil {
		log.Fatal().Err(err).Msg("Pipeline run failed")
	}
	log.Info().Str("rebalance_date", date.Format(domain.DateLayout)).Msg("Pipeline run complete")
}

// runDaemon starts the scheduler and HTTP server and blocks until SIGINT or
// SIGTERM.
func runDaemon(
	pipe *pipeline.Pipeline,
	cfg *config.Config,
	log zerolog.Logger,
	indexDB, cacheDB *database.DB,
	membershipRepo *membership.Repository,
	featureRepo *features.Repository,
	levelRepo *indexlevel.Repository,
	jobRepo *jobs.Repository,
) {
	sched := scheduler.New(log)

	// Daily ingestion at 06:30 UTC, after the nightly scrape lands. Weekly
	// rebalance Monday 07:00 UTC, once the day's ingestion has finished.
	if err := sched.AddJob("30 6 * * *", scheduler.NewIngestJob(pipe, cfg.RunsDir)); err != nil {
		log.Fatal().Err(err).Msg("Failed to register ingest job")
	}
	if err := sched.AddJob("0 7 * * MON", scheduler.NewRebalanceJob(pipe)); err != nil {
		log.Fatal().Err(err).Msg("Failed to register rebalance job")
	}
	sched.Start()

	srv := server.New(server.Config{
		Log:            log,
		IndexDB:        indexDB,
		CacheDB:        cacheDB,
		DataDir:        cfg.DataDir,
		Port:           cfg.Port,
		DevMode:        cfg.DevMode,
		MembershipRepo: membershipRepo,
		FeatureRepo:    featureRepo,
		LevelRepo:      levelRepo,
		JobRepo:        jobRepo,
	})

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("HTTP server stopped")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down...")

	sched.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Stopped")
}

func todayUTC() time.Time {
	now := time.Now().UTC()
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
}
