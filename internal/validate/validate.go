// Package validate checks a unit's extracted files before they are loaded.
package validate

import (
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"eralink/internal/batchfile"
)

const maxExamples = 5

// ErrOrphanedLines is returned when service lines reference claims that were
// not extracted.
var ErrOrphanedLines = errors.New("service lines without a parent claim")

// Orphan is a service line whose claim id is missing from the claims file.
type Orphan struct {
	ClaimID  string
	LineID   string
	FileName string
}

type Result struct {
	Passed   bool
	Claims   int
	Lines    int
	Orphans  int
	Examples []Orphan
}

// Err returns ErrOrphanedLines wrapped with the counts, or nil.
func (r Result) Err() error {
	if r.Passed {
		return nil
	}
	return fmt.Errorf("%w: %d of %d lines", ErrOrphanedLines, r.Orphans, r.Lines)
}

// Validate checks that every line in service_lines.csv belongs to a claim in
// claims_extracted.csv. A directory without either file passes.
func Validate(dir string, log zerolog.Logger) (Result, error) {
	log = log.With().Str("component", "validate").Logger()

	claims, err := batchfile.ClaimIDs(dir)
	if batchfile.IsNotExist(err) {
		log.Info().Str("dir", dir).Msg("no claims file, nothing to validate")
		return Result{Passed: true}, nil
	}
	if err != nil {
		return Result{}, fmt.Errorf("validate claims: %w", err)
	}

	lines, err := batchfile.ReadLines(dir)
	if batchfile.IsNotExist(err) {
		log.Info().Str("dir", dir).Msg("no service lines file, nothing to validate")
		return Result{Passed: true, Claims: len(claims)}, nil
	}
	if err != nil {
		return Result{}, fmt.Errorf("validate service lines: %w", err)
	}

	res := Result{Claims: len(claims), Lines: len(lines)}
	for _, l := range lines {
		// a blank claim id never names a loadable claim, even when the
		// claims file has a blank row
		if _, ok := claims[l.ClaimID]; ok && strings.TrimSpace(l.ClaimID) != "" {
			continue
		}
		res.Orphans++
		if len(res.Examples) < maxExamples {
			res.Examples = append(res.Examples, Orphan{ClaimID: l.ClaimID, LineID: l.LineID, FileName: l.FileName})
		}
	}
	res.Passed = res.Orphans == 0

	if !res.Passed {
		for _, o := range res.Examples {
			log.Warn().Str("claim_id", o.ClaimID).Str("line_id", o.LineID).Str("file", o.FileName).Msg("orphaned service line")
		}
		log.Error().Int("orphans", res.Orphans).Int("lines", res.Lines).Int("claims", res.Claims).Msg("validation failed")
		return res, nil
	}
	log.Info().Int("lines", res.Lines).Int("claims", res.Claims).Msg("validation passed")
	return res, nil
}
