package pipeline

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"eralink/internal/linkage"
	"eralink/internal/store"
)

const reportTimeLayout = "2006-01-02 15:04:05"

// UnitReport is the outcome of one unit.
type UnitReport struct {
	GUID           string          `json:"guid"`
	Name           string          `json:"name"`
	State          State           `json:"state"`
	Attempts       int             `json:"attempts"`
	Duration       time.Duration   `json:"duration_ns"`
	DocumentsFound int             `json:"documents_found"`
	ERAs           int             `json:"eras"`
	ParseErrors    int             `json:"parse_errors"`
	LinesExtracted int             `json:"lines_extracted"`
	LinesEnriched  int             `json:"lines_enriched"`
	LinkCounts     linkage.Counts  `json:"link_counts"`
	Loaded         store.LoadStats `json:"loaded"`
	LoadStatus     LoadStatus      `json:"load_status"`
	Error          string          `json:"error,omitempty"`
}

// reset clears the per-attempt counters.
func (u *UnitReport) reset() {
	u.DocumentsFound = 0
	u.ERAs = 0
	u.ParseErrors = 0
	u.LinesExtracted = 0
	u.LinesEnriched = 0
	u.LinkCounts = linkage.Counts{}
	u.Loaded = store.LoadStats{}
	u.LoadStatus = LoadSkipped
}

type Totals struct {
	Units          int            `json:"units"`
	Succeeded      int            `json:"succeeded"`
	Failed         int            `json:"failed"`
	Documents      int            `json:"documents"`
	ParseErrors    int            `json:"parse_errors"`
	LinesExtracted int            `json:"lines_extracted"`
	LinesEnriched  int            `json:"lines_enriched"`
	LinkCounts     linkage.Counts `json:"link_counts"`
}

type RunReport struct {
	RunID    string       `json:"run_id"`
	Started  time.Time    `json:"started"`
	Finished time.Time    `json:"finished"`
	Since    time.Time    `json:"since"`
	Units    []UnitReport `json:"units"`
	Totals   Totals       `json:"totals"`
}

func (r *RunReport) tally() {
	t := Totals{Units: len(r.Units)}
	for _, u := range r.Units {
		switch u.State {
		case Success:
			t.Succeeded++
		case Failed:
			t.Failed++
		}
		t.Documents += u.DocumentsFound
		t.ParseErrors += u.ParseErrors
		t.LinesExtracted += u.LinesExtracted
		t.LinesEnriched += u.LinesEnriched
		t.LinkCounts.Success += u.LinkCounts.Success
		t.LinkCounts.ClaimFound += u.LinkCounts.ClaimFound
		t.LinkCounts.Failed += u.LinkCounts.Failed
	}
	r.Totals = t
}

// Failed reports whether any unit ended in the Failed state.
func (r *RunReport) Failed() bool { return r.Totals.Failed > 0 }

// WriteMarkdown renders the report as a Markdown document.
func (r *RunReport) WriteMarkdown(w io.Writer) error {
	bw := bufio.NewWriter(w)
	t := r.Totals

	fmt.Fprintf(bw, "# ERA Pipeline Execution Report\n")
	fmt.Fprintf(bw, "**Date:** %s\n", r.Finished.Format(reportTimeLayout))
	fmt.Fprintf(bw, "**Run:** %s\n\n", r.RunID)

	fmt.Fprintf(bw, "## Summary\n")
	fmt.Fprintf(bw, "- **Window start:** %s\n", r.Since.Format("2006-01-02"))
	fmt.Fprintf(bw, "- **Total Units:** %d\n", t.Units)
	fmt.Fprintf(bw, "- **Success:** %d\n", t.Succeeded)
	fmt.Fprintf(bw, "- **Failed:** %d\n", t.Failed)
	fmt.Fprintf(bw, "- **Documents Found:** %d (%d parse errors)\n", t.Documents, t.ParseErrors)
	fmt.Fprintf(bw, "- **Total Service Lines Processed:** %d\n", t.LinesEnriched)
	fmt.Fprintf(bw, "- **Linkage:** %d Success, %d Claim Found, %d Failed\n",
		t.LinkCounts.Success, t.LinkCounts.ClaimFound, t.LinkCounts.Failed)
	fmt.Fprintf(bw, "- **Duration:** %s\n\n", r.Finished.Sub(r.Started).Round(time.Millisecond))

	fmt.Fprintf(bw, "## Detailed Breakdown\n")
	fmt.Fprintf(bw, "| Practice Name | Status | Attempts | Duration | Documents | Parse Errors | Lines Extracted | Lines Enriched | Linked | Claim Found | Unlinked | DB Load |\n")
	fmt.Fprintf(bw, "|---|---|---|---|---|---|---|---|---|---|---|---|\n")
	for _, u := range r.Units {
		fmt.Fprintf(bw, "| %s | %s | %d | %.1fs | %d | %d | %d | %d | %d | %d | %d | %s |\n",
			cell(u.Name), u.State, u.Attempts, u.Duration.Seconds(), u.DocumentsFound, u.ParseErrors,
			u.LinesExtracted, u.LinesEnriched,
			u.LinkCounts.Success, u.LinkCounts.ClaimFound, u.LinkCounts.Failed, u.LoadStatus)
	}

	if t.Failed > 0 {
		fmt.Fprintf(bw, "\n## Error Logs\n")
		for _, u := range r.Units {
			if u.State != Failed {
				continue
			}
			fmt.Fprintf(bw, "### %s (%s)\n", u.Name, u.GUID)
			fmt.Fprintf(bw, "```\n%s\n```\n", u.Error)
		}
	}
	return bw.Flush()
}

func cell(s string) string {
	return strings.ReplaceAll(s, "|", `\|`)
}

// Save writes the Markdown report to path and a JSON copy next to it.
func (r *RunReport) Save(path string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create report dir: %w", err)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create report: %w", err)
	}
	if err := r.WriteMarkdown(f); err != nil {
		f.Close()
		return fmt.Errorf("write report: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close report: %w", err)
	}

	b, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}
	if err := os.WriteFile(JSONPath(path), b, 0o644); err != nil {
		return fmt.Errorf("write json report: %w", err)
	}
	return nil
}

// JSONPath is the JSON sibling of a Markdown report path.
func JSONPath(path string) string {
	return strings.TrimSuffix(path, filepath.Ext(path)) + ".json"
}
