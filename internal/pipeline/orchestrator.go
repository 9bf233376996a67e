// Package pipeline drives each processing unit through extraction,
// validation, enrichment and loading, retrying failed units and producing a
// run report.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"eralink/internal/batchfile"
	"eralink/internal/extract"
	"eralink/internal/linkage"
	"eralink/internal/metrics"
	"eralink/internal/store"
	"eralink/internal/validate"
	"eralink/internal/warehouse"
)

// State is a unit's position in the pipeline.
type State string

const (
	Pending    State = "Pending"
	Extracting State = "Extracting"
	Enriching  State = "Enriching"
	Loading    State = "Loading"
	Success    State = "Success"
	Failed     State = "Failed"
)

// LoadStatus describes what reached the destination for a unit.
type LoadStatus string

const (
	LoadSuccess LoadStatus = "Success"
	LoadERAOnly LoadStatus = "ERA Only"
	LoadNoData  LoadStatus = "No Data"
	LoadSkipped LoadStatus = "Skipped"
)

type Extractor interface {
	Extract(ctx context.Context, practice warehouse.Practice, since time.Time, dir string) (extract.Stats, error)
}

type Enricher interface {
	Enrich(ctx context.Context, lines []batchfile.LineRow) ([]linkage.EnrichedLine, error)
}

type Loader interface {
	Load(ctx context.Context, b store.Batch) (store.LoadStats, error)
	Reset(ctx context.Context) error
}

// ValidateFunc checks a unit directory before enrichment.
type ValidateFunc func(dir string, log zerolog.Logger) (validate.Result, error)

type Options struct {
	OutputRoot   string
	MaxRetries   int
	RetryBackoff time.Duration
	Metrics      *metrics.Recorder
}

type Orchestrator struct {
	extractor Extractor
	enricher  Enricher
	loader    Loader
	validate  ValidateFunc
	opts      Options
	log       zerolog.Logger
}

func New(ex Extractor, en Enricher, ld Loader, opts Options, log zerolog.Logger) *Orchestrator {
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	return &Orchestrator{
		extractor: ex,
		enricher:  en,
		loader:    ld,
		validate:  validate.Validate,
		opts:      opts,
		log:       log.With().Str("component", "pipeline").Logger(),
	}
}

// UnitDir is the output directory of a unit: its sanitized name and GUID.
func (o *Orchestrator) UnitDir(p warehouse.Practice) string {
	return filepath.Join(o.opts.OutputRoot, Sanitize(p.Name)+"_"+p.GUID)
}

// Sanitize keeps letters, digits, spaces and underscores, then turns spaces
// into underscores.
func Sanitize(name string) string {
	var b strings.Builder
	for _, r := range name {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == ' ' || r == '_' {
			b.WriteRune(r)
		}
	}
	return strings.ReplaceAll(strings.TrimSpace(b.String()), " ", "_")
}

// Reset clears the destination before a full run.
func (o *Orchestrator) Reset(ctx context.Context) error {
	return o.loader.Reset(ctx)
}

// Run processes the units in order. It always returns a report; units not
// reached because ctx was canceled are reported as Failed.
func (o *Orchestrator) Run(ctx context.Context, units []warehouse.Practice, since time.Time) *RunReport {
	report := &RunReport{RunID: uuid.NewString(), Started: time.Now(), Since: since}
	o.log.Info().Str("run_id", report.RunID).Int("units", len(units)).Time("since", since).Msg("run started")

	for i, p := range units {
		if err := ctx.Err(); err != nil {
			report.Units = append(report.Units, UnitReport{
				GUID: p.GUID, Name: p.Name, State: Failed, LoadStatus: LoadSkipped, Error: err.Error(),
			})
			continue
		}
		o.log.Info().Msgf("[%d/%d] processing %s", i+1, len(units), p.Name)
		report.Units = append(report.Units, o.RunUnit(ctx, p, since))
	}

	report.Finished = time.Now()
	report.tally()
	o.log.Info().
		Int("succeeded", report.Totals.Succeeded).
		Int("failed", report.Totals.Failed).
		Int("lines", report.Totals.LinesEnriched).
		Dur("took", report.Finished.Sub(report.Started)).
		Msg("run finished")
	return report
}

// RunUnit takes one unit to Success or Failed. A failed attempt is retried
// after its output directory is removed.
func (o *Orchestrator) RunUnit(ctx context.Context, p warehouse.Practice, since time.Time) UnitReport {
	rep := UnitReport{GUID: p.GUID, Name: p.Name, State: Pending, LoadStatus: LoadSkipped}
	dir := o.UnitDir(p)
	log := o.log.With().Str("practice", p.GUID).Str("name", p.Name).Logger()
	start := time.Now()

	for attempt := 0; attempt <= o.opts.MaxRetries; attempt++ {
		if attempt > 0 {
			log.Warn().Int("attempt", attempt+1).Int("of", o.opts.MaxRetries+1).Str("dir", dir).Msg("retrying unit")
			if err := os.RemoveAll(dir); err != nil {
				log.Error().Err(err).Msg("clear unit directory")
			}
			if err := sleep(ctx, o.opts.RetryBackoff); err != nil {
				break
			}
		}

		rep.Attempts++
		o.opts.Metrics.Attempt()
		err := o.attempt(ctx, p, since, dir, &rep, log)
		if err == nil {
			rep.State = Success
			rep.Error = ""
			break
		}
		log.Error().Err(err).Int("attempt", attempt+1).Str("state", string(rep.State)).Msg("unit attempt failed")
		rep.State = Failed
		rep.Error = err.Error()
		if ctx.Err() != nil {
			break
		}
	}

	rep.Duration = time.Since(start)
	o.record(rep)
	log.Info().Str("state", string(rep.State)).Dur("took", rep.Duration).Msg("unit finished")
	return rep
}

func (o *Orchestrator) attempt(ctx context.Context, p warehouse.Practice, since time.Time, dir string, rep *UnitReport, log zerolog.Logger) error {
	rep.reset()

	rep.State = Extracting
	stats, err := o.extractor.Extract(ctx, p, since, dir)
	if err != nil {
		return fmt.Errorf("extract: %w", err)
	}
	rep.DocumentsFound = stats.Responses
	rep.ERAs = stats.ERAs
	rep.ParseErrors = stats.ParseErrors
	rep.LinesExtracted = stats.Lines

	if stats.Responses == 0 {
		rep.LoadStatus = LoadNoData
		log.Info().Msg("no clearinghouse responses, nothing to load")
		return nil
	}

	if stats.Lines > 0 {
		res, err := o.validate(dir, log)
		if err != nil {
			return fmt.Errorf("validate: %w", err)
		}
		if err := res.Err(); err != nil {
			return err
		}
	}

	rep.State = Enriching
	var enriched []linkage.EnrichedLine
	if stats.Lines > 0 {
		lines, err := batchfile.ReadLines(dir)
		if err != nil {
			return fmt.Errorf("read service lines: %w", err)
		}
		enriched, err = o.enricher.Enrich(ctx, lines)
		if err != nil {
			return fmt.Errorf("enrich: %w", err)
		}
		if err := linkage.WriteEnriched(filepath.Join(dir, batchfile.EnrichedFile), enriched); err != nil {
			return err
		}
		rep.LinesEnriched = len(enriched)
		rep.LinkCounts = linkage.CountStatus(enriched)
	} else {
		log.Warn().Msg("no service lines, skipping enrichment")
	}

	rep.State = Loading
	batch, err := readBatch(p, dir, len(enriched) > 0)
	if err != nil {
		return err
	}
	ls, err := o.loader.Load(ctx, batch)
	if err != nil {
		return err
	}
	rep.Loaded = ls
	rep.LoadStatus = LoadERAOnly
	if len(batch.Lines) > 0 {
		rep.LoadStatus = LoadSuccess
	}
	return nil
}

// readBatch loads back what the earlier stages wrote, so a load always
// reflects the files on disk.
func readBatch(p warehouse.Practice, dir string, withLines bool) (store.Batch, error) {
	b := store.Batch{Practice: p}
	var err error
	if b.Reports, err = batchfile.ReadReports(dir); err != nil {
		return b, fmt.Errorf("read reports: %w", err)
	}
	if b.Claims, err = batchfile.ReadClaims(dir); err != nil && !batchfile.IsNotExist(err) {
		return b, fmt.Errorf("read claims: %w", err)
	}
	if !withLines {
		return b, nil
	}
	if b.Lines, err = linkage.ReadEnriched(filepath.Join(dir, batchfile.EnrichedFile)); err != nil {
		return b, err
	}
	return b, nil
}

func (o *Orchestrator) record(rep UnitReport) {
	m := o.opts.Metrics
	m.UnitFinished(string(rep.State), rep.Duration)
	m.Documents("era", rep.ERAs)
	m.Documents("non_era", rep.DocumentsFound-rep.ERAs-rep.ParseErrors)
	m.Documents("parse_error", rep.ParseErrors)
	m.Linked(linkage.Success.String(), rep.LinkCounts.Success)
	m.Linked(linkage.ClaimFound.String(), rep.LinkCounts.ClaimFound)
	m.Linked(linkage.Failed.String(), rep.LinkCounts.Failed)
	m.Loaded("era_report", rep.Loaded.Reports)
	m.Loaded("era_bundle", rep.Loaded.Bundles)
	m.Loaded("encounter", rep.Loaded.Encounters)
	m.Loaded("claim_line", rep.Loaded.Lines)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// ErrUnitsFailed is returned by callers that need a failing exit status.
var ErrUnitsFailed = errors.New("one or more units failed")
