// Package pipeline orchestrates the full index production run: ingest daily
// run files into snapshots, rebuild rolling features, run the rebalance, and
// publish the exports, weekly report, and chain-linked level series.
package pipeline

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

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
)

// Pipeline wires the ingestion, computation, and publication stages together.
// Every stage is re-runnable: snapshots replace per day, features rebuild in
// full, membership replaces per rebalance date, and the level series rebuilds
// from history.
type Pipeline struct {
	loader     *loader.Loader
	estimator  *edr.Estimator
	aggregator *features.Aggregator
	engine     *rebalance.Engine
	builder    *indexlevel.Builder
	exporter   *report.Exporter

	snapshotRepo   *snapshots.Repository
	featureRepo    *features.Repository
	membershipRepo *membership.Repository
	levelRepo      *indexlevel.Repository
	jobRepo        *jobs.Repository

	log zerolog.Logger
}

// Deps bundles the pipeline's collaborators for construction.
type Deps struct {
	Loader     *loader.Loader
	Estimator  *edr.Estimator
	Aggregator *features.Aggregator
	Engine     *rebalance.Engine
	Builder    *indexlevel.Builder
	Exporter   *report.Exporter

	SnapshotRepo   *snapshots.Repository
	FeatureRepo    *features.Repository
	MembershipRepo *membership.Repository
	LevelRepo      *indexlevel.Repository
	JobRepo        *jobs.Repository
}

// New creates a pipeline.
func New(deps Deps, log zerolog.Logger) *Pipeline {
	return &Pipeline{
		loader:         deps.Loader,
		estimator:      deps.Estimator,
		aggregator:     deps.Aggregator,
		engine:         deps.Engine,
		builder:        deps.Builder,
		exporter:       deps.Exporter,
		snapshotRepo:   deps.SnapshotRepo,
		featureRepo:    deps.FeatureRepo,
		membershipRepo: deps.MembershipRepo,
		levelRepo:      deps.LevelRepo,
		jobRepo:        deps.JobRepo,
		log:            log.With().Str("service", "pipeline").Logger(),
	}
}

// UpdateSnapshots ingests every discovered run file under runsDir: parse,
// estimate EDR, and replace that day's snapshot rows. A file that fails to
// parse fails its whole day and aborts the run so a partial day is never
// half-written.
func (p *Pipeline) UpdateSnapshots(runsDir string) error {
	return p.runJob("update_snapshots", func() (string, error) {
		files, err := p.loader.Discover(runsDir)
		if err != nil {
			return "", err
		}
		if len(files) == 0 {
			p.log.Warn().Str("runs_dir", runsDir).Msg("No run files discovered")
			return "0 days ingested", nil
		}

		byDate := make(map[time.Time][]domain.TitleRecord)
		var dates []time.Time
		for _, f := range files {
			records, err := p.loader.Load(f.Path)
			if err != nil {
				return "", fmt.Errorf("ingest failed for %s: %w", f.Date.Format(domain.DateLayout), err)
			}
			if _, seen := byDate[f.Date]; !seen {
				dates = append(dates, f.Date)
			}
			byDate[f.Date] = append(byDate[f.Date], records...)
		}

		var titles int
		for _, date := range dates {
			snaps := p.estimator.EstimateDay(date, dedupTitles(byDate[date]))
			if err := p.snapshotRepo.ReplaceDay(date, snaps); err != nil {
				return "", err
			}
			titles += len(snaps)
		}

		p.log.Info().
			Int("days", len(dates)).
			Int("titles", titles).
			Msg("Snapshot ingestion complete")

		return fmt.Sprintf("%d days ingested, %d title snapshots", len(dates), titles), nil
	})
}

// dedupTitles collapses repeated universe ids within one date to the last
// record, the same policy the feature aggregator applies per day. A title
// appearing in two run files for the same date is a recoverable duplicate,
// not a fatal one.
func dedupTitles(records []domain.TitleRecord) []domain.TitleRecord {
	seen := make(map[int64]int, len(records))
	out := make([]domain.TitleRecord, 0, len(records))
	for _, rec := range records {
		if i, ok := seen[rec.UniverseID]; ok {
			out[i] = rec
			continue
		}
		seen[rec.UniverseID] = len(out)
		out = append(out, rec)
	}
	return out
}

// RebuildFeatures recomputes the feature table as of the given date from the
// full snapshot history and returns the rows.
func (p *Pipeline) RebuildFeatures(asOf time.Time) ([]domain.FeatureRow, error) {
	var rows []domain.FeatureRow

	err := p.runJob("rebuild_features", func() (string, error) {
		snaps, err := p.snapshotRepo.GetAll()
		if err != nil {
			return "", err
		}

		rows = p.aggregator.FeaturesAsOf(snaps, asOf)
		if err := p.featureRepo.ReplaceAll(rows); err != nil {
			return "", err
		}

		return fmt.Sprintf("%d feature rows as of %s", len(rows), asOf.Format(domain.DateLayout)), nil
	})

	return rows, err
}

// RunRebalance executes one rebalance for the given date: rebuild features as
// of that date, select and weight the constituents against the prior
// membership, persist the new membership, rebuild the level series, and write
// the exports and weekly report.
func (p *Pipeline) RunRebalance(rebalanceDate time.Time) error {
	return p.runJob("rebalance", func() (string, error) {
		featureRows, err := p.RebuildFeatures(rebalanceDate)
		if err != nil {
			return "", err
		}
		if len(featureRows) == 0 {
			return "", fmt.Errorf("no feature rows as of %s, nothing to rebalance", rebalanceDate.Format(domain.DateLayout))
		}

		prior, err := p.membershipRepo.GetLatestBefore(rebalanceDate)
		if err != nil {
			return "", err
		}

		result, err := p.engine.Rebalance(featureRows, rebalanceDate, prior)
		if err != nil {
			return "", err
		}

		if err := p.membershipRepo.Append(rebalanceDate, result.Membership); err != nil {
			return "", err
		}

		if err := p.rebuildLevels(rebalanceDate); err != nil {
			return "", err
		}

		if err := p.publish(result, prior, rebalanceDate); err != nil {
			return "", err
		}

		return fmt.Sprintf("%d constituents for %s", len(result.Membership), rebalanceDate.Format(domain.DateLayout)), nil
	})
}

// Run executes the full production cycle: ingest, then rebalance for the
// given date.
func (p *Pipeline) Run(runsDir string, rebalanceDate time.Time) error {
	if err := p.UpdateSnapshots(runsDir); err != nil {
		return err
	}
	return p.RunRebalance(rebalanceDate)
}

// rebuildLevels recomputes the chain-linked series from the full snapshot and
// membership histories and replaces the stored series.
func (p *Pipeline) rebuildLevels(rebalanceDate time.Time) error {
	snaps, err := p.snapshotRepo.GetAll()
	if err != nil {
		return err
	}
	history, err := p.membershipRepo.GetAll()
	if err != nil {
		return err
	}
	rebalanceDates, err := p.membershipRepo.GetRebalanceDates()
	if err != nil {
		return err
	}

	points := p.builder.Build(snaps, history, rebalanceDates)
	if err := p.levelRepo.ReplaceAll(points); err != nil {
		return err
	}

	return p.exporter.WriteIndexLevelExports(points, rebalanceDate)
}

func (p *Pipeline) publish(result *rebalance.Result, prior []domain.MembershipRecord, rebalanceDate time.Time) error {
	latest, err := p.snapshotRepo.LatestPerTitleAsOf(rebalanceDate)
	if err != nil {
		return err
	}

	rows := report.BuildExportRows(result.Membership, result.Ranked, latest)
	if err := p.exporter.WriteRebalanceExports(rows, rebalanceDate); err != nil {
		return err
	}

	if _, err := p.exporter.WriteWeeklyReport(rows, prior, rebalanceDate); err != nil {
		return err
	}

	return nil
}

// runJob wraps a stage with job history recording. A failure to record never
// masks the stage's own error.
func (p *Pipeline) runJob(name string, fn func() (string, error)) error {
	id, err := p.jobRepo.Start(name)
	if err != nil {
		p.log.Warn().Err(err).Str("job", name).Msg("Failed to record job start")
	}

	detail, err := fn()
	if id != "" {
		status := jobs.StatusCompleted
		if err != nil {
			status = jobs.StatusFailed
			detail = err.Error()
		}
		if ferr := p.jobRepo.Finish(id, status, detail); ferr != nil {
			p.log.Warn().Err(ferr).Str("job", name).Msg("Failed to record job finish")
		}
	}

	return err
}
