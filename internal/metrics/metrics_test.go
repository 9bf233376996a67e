package metrics

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecorder(t *testing.T) {
	r := New()
	r.UnitFinished("Success", 2*time.Second)
	r.UnitFinished("Failed", time.Second)
	r.UnitFinished("Success", time.Second)
	r.Attempt()
	r.Documents("era", 3)
	r.Documents("parse_error", 0)
	r.Linked("Success", 5)
	r.Linked("Failed", 2)
	r.Loaded("claim_line", 7)

	if got := testutil.ToFloat64(r.units.WithLabelValues("Success")); got != 2 {
		t.Fatalf("units{Success} = %v, want 2", got)
	}
	if got := testutil.ToFloat64(r.documents.WithLabelValues("era")); got != 3 {
		t.Fatalf("documents{era} = %v, want 3", got)
	}
	if got := testutil.ToFloat64(r.linked.WithLabelValues("Failed")); got != 2 {
		t.Fatalf("linked{Failed} = %v, want 2", got)
	}
	if got := testutil.CollectAndCount(r.documents); got != 1 {
		t.Fatalf("documents series = %d, want 1", got)
	}
	if got := testutil.ToFloat64(r.attempts); got != 1 {
		t.Fatalf("attempts = %v, want 1", got)
	}
}

func TestNilRecorder(t *testing.T) {
	var r *Recorder
	r.UnitFinished("Success", time.Second)
	r.Documents("era", 1)
	r.Linked("Success", 1)
	if err := r.WriteTextfile("ignored"); err != nil {
		t.Fatal(err)
	}
}

func TestWriteTextfile(t *testing.T) {
	r := New()
	r.Linked("Claim Found", 4)

	path := filepath.Join(t.TempDir(), "eralink.prom")
	if err := r.WriteTextfile(path); err != nil {
		t.Fatal(err)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(b), `eralink_lines_linked_total{status="Claim Found"} 4`) {
		t.Fatalf("textfile missing linked series:\n%s", b)
	}
}
