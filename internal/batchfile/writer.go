package batchfile

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/goccy/go-json"

	"eralink/internal/remit"
)

// DocumentMeta is attached to every parsed remittance in the JSONL file.
type DocumentMeta struct {
	FileName                string `json:"filename"`
	ReceivedDate            string `json:"received_date"`
	ClearinghouseResponseID string `json:"clearinghouse_response_id"`
	SourceName              string `json:"source_db"`
}

// Document is one line of eras_extracted.jsonl.
type Document struct {
	ID       string       `json:"id"`
	Metadata DocumentMeta `json:"_metadata"`
	*remit.Remittance
}

// Counts tallies the rows written to each file.
type Counts struct {
	Reports    int
	Claims     int
	Lines      int
	Rejections int
	Documents  int
}

// Writer owns the extraction outputs of one unit directory.
type Writer struct {
	dir        string
	files      []*os.File
	reports    *csv.Writer
	claims     *csv.Writer
	lines      *csv.Writer
	rejections *csv.Writer
	docsBuf    *bufio.Writer
	docs       *json.Encoder
	counts     Counts
}

// Create makes dir if needed and truncates all extraction files in it.
func Create(dir string) (*Writer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}

	w := &Writer{dir: dir}
	open := func(name string, header []string) (*csv.Writer, error) {
		f, err := os.Create(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("create %s: %w", name, err)
		}
		w.files = append(w.files, f)
		cw := csv.NewWriter(f)
		if err := cw.Write(header); err != nil {
			return nil, fmt.Errorf("write %s header: %w", name, err)
		}
		return cw, nil
	}

	var err error
	if w.reports, err = open(ReportsFile, reportHeader); err != nil {
		w.closeFiles()
		return nil, err
	}
	if w.claims, err = open(ClaimsFile, claimHeader); err != nil {
		w.closeFiles()
		return nil, err
	}
	if w.lines, err = open(LinesFile, lineHeader); err != nil {
		w.closeFiles()
		return nil, err
	}
	if w.rejections, err = open(RejectionsFile, rejectionHeader); err != nil {
		w.closeFiles()
		return nil, err
	}

	f, err := os.Create(filepath.Join(dir, DocumentsFile))
	if err != nil {
		w.closeFiles()
		return nil, fmt.Errorf("create %s: %w", DocumentsFile, err)
	}
	w.files = append(w.files, f)
	w.docsBuf = bufio.NewWriterSize(f, 256*1024)
	w.docs = json.NewEncoder(w.docsBuf)

	return w, nil
}

func (w *Writer) Dir() string    { return w.dir }
func (w *Writer) Counts() Counts { return w.counts }

func (w *Writer) WriteReport(r ReportRow) error {
	rec := []string{
		r.EraReportID, r.ClearinghouseResponseID, r.CustomerID,
		r.FileName, r.ReceivedDate,
		r.ReportTypeID, r.ReportTypeName,
		r.SourceTypeID, r.SourceTypeName,
		r.PayerName, r.PayerID, r.CheckNumber, r.CheckDate,
		r.TotalPaid, r.TotalAmount, r.Method, r.PracticeGUID,
		strconv.Itoa(r.DeniedCount), strconv.Itoa(r.RejectedCount), strconv.Itoa(r.ClaimCount),
		r.PaymentID, r.ProcessedFlag, r.ResponseType, r.ResponseTypeName,
		r.ReviewedFlag, r.SourceAddress, r.Title,
	}
	if err := w.reports.Write(sanitize(rec)); err != nil {
		return fmt.Errorf("write report row: %w", err)
	}
	w.counts.Reports++
	return nil
}

func (w *Writer) WriteClaim(c ClaimRow) error {
	rec := []string{
		c.EraReportID, c.FileName, c.ReceivedDate, c.PayerName,
		c.ClaimID, c.PayerControlNumber,
		c.PatientName, c.PatientID, c.ProviderName,
		c.Status, c.Billed, c.Paid, c.PatResp, c.Adjustments,
	}
	if err := w.claims.Write(sanitize(rec)); err != nil {
		return fmt.Errorf("write claim row: %w", err)
	}
	w.counts.Claims++
	return nil
}

func (w *Writer) WriteLine(l LineRow) error {
	rec := []string{
		l.FileName, l.ClaimID, l.LineID, strconv.Itoa(l.Position),
		l.Date, l.ProcCode, l.Billed, l.Paid, l.Units, l.Adjustments, l.Status,
	}
	if err := w.lines.Write(sanitize(rec)); err != nil {
		return fmt.Errorf("write line row: %w", err)
	}
	w.counts.Lines++
	return nil
}

func (w *Writer) WriteRejection(r RejectionRow) error {
	rec := []string{r.ReceivedDate, r.FileName, r.Type, r.ContentSnippet}
	if err := w.rejections.Write(sanitize(rec)); err != nil {
		return fmt.Errorf("write rejection row: %w", err)
	}
	w.counts.Rejections++
	return nil
}

func (w *Writer) WriteDocument(d Document) error {
	if err := w.docs.Encode(d); err != nil {
		return fmt.Errorf("write document %s: %w", d.ID, err)
	}
	w.counts.Documents++
	return nil
}

// Flush pushes buffered rows to disk after each document.
func (w *Writer) Flush() error {
	for _, cw := range []*csv.Writer{w.reports, w.claims, w.lines, w.rejections} {
		cw.Flush()
		if err := cw.Error(); err != nil {
			return fmt.Errorf("flush csv: %w", err)
		}
	}
	if err := w.docsBuf.Flush(); err != nil {
		return fmt.Errorf("flush documents: %w", err)
	}
	return nil
}

// Close flushes and closes every file.
func (w *Writer) Close() error {
	flushErr := w.Flush()
	closeErr := w.closeFiles()
	if flushErr != nil {
		return flushErr
	}
	return closeErr
}

func (w *Writer) closeFiles() error {
	var first error
	for _, f := range w.files {
		if err := f.Close(); err != nil && first == nil {
			first = fmt.Errorf("close %s: %w", f.Name(), err)
		}
	}
	w.files = nil
	return first
}

// Snippet flattens the first n bytes of content onto a single line.
func Snippet(content string, n int) string {
	if len(content) > n {
		content = content[:n]
	}
	content = strings.ReplaceAll(content, "\n", " ")
	return strings.ReplaceAll(content, "\r", "")
}

func sanitizeUTF8(s string) string {
	return strings.ToValidUTF8(s, " ")
}

func sanitize(rec []string) []string {
	for i := range rec {
		rec[i] = sanitizeUTF8(rec[i])
	}
	return rec
}
