package batchfile

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// row gives access to the current CSV record by header name.
type row struct {
	rec    []string
	colIdx map[string]int
}

func (r row) get(name string) string {
	i, ok := r.colIdx[name]
	if !ok || i >= len(r.rec) {
		return ""
	}
	return strings.TrimSpace(r.rec[i])
}

func (r row) atoi(name string) int {
	n, _ := strconv.Atoi(r.get(name))
	return n
}

// readCSV streams path and calls fn for every data record. A missing file
// returns an error wrapping fs.ErrNotExist.
func readCSV(path string, fn func(row) error) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer file.Close()

	bufReader := bufio.NewReaderSize(file, 256*1024)

	// Skip UTF-8 BOM if present
	if bom, err := bufReader.Peek(3); err == nil && bom[0] == 0xEF && bom[1] == 0xBB && bom[2] == 0xBF {
		bufReader.Discard(3)
	}

	cr := csv.NewReader(bufReader)
	cr.LazyQuotes = true
	cr.FieldsPerRecord = -1
	cr.ReuseRecord = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read %s header: %w", filepath.Base(path), err)
	}
	colIdx := make(map[string]int, len(header))
	for i, h := range header {
		colIdx[strings.TrimSpace(h)] = i
	}

	line := 1
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return nil
		}
		line++
		if err != nil {
			return fmt.Errorf("read %s line %d: %w", filepath.Base(path), line, err)
		}
		if err := fn(row{rec: rec, colIdx: colIdx}); err != nil {
			return err
		}
	}
}

// Exists reports whether name is present in dir.
func Exists(dir, name string) bool {
	_, err := os.Stat(filepath.Join(dir, name))
	return err == nil
}

// IsNotExist reports whether err came from a missing intermediate file.
func IsNotExist(err error) bool { return errors.Is(err, fs.ErrNotExist) }

func ReadReports(dir string) ([]ReportRow, error) {
	var out []ReportRow
	err := readCSV(filepath.Join(dir, ReportsFile), func(r row) error {
		out = append(out, ReportRow{
			EraReportID:             r.get("EraReportID"),
			ClearinghouseResponseID: r.get("ClearinghouseResponseID"),
			CustomerID:              r.get("CustomerID"),
			FileName:                r.get("FileName"),
			ReceivedDate:            r.get("ReceivedDate"),
			ReportTypeID:            r.get("ReportTypeID"),
			ReportTypeName:          r.get("ReportTypeName"),
			SourceTypeID:            r.get("SourceTypeID"),
			SourceTypeName:          r.get("SourceTypeName"),
			PayerName:               r.get("PayerName"),
			PayerID:                 r.get("PayerID"),
			CheckNumber:             r.get("CheckNumber"),
			CheckDate:               r.get("CheckDate"),
			TotalPaid:               r.get("TotalPaid"),
			TotalAmount:             r.get("TotalAmount"),
			Method:                  r.get("Method"),
			PracticeGUID:            r.get("PracticeGUID"),
			DeniedCount:             r.atoi("DeniedCount"),
			RejectedCount:           r.atoi("RejectedCount"),
			ClaimCount:              r.atoi("ClaimCount"),
			PaymentID:               r.get("PaymentID"),
			ProcessedFlag:           r.get("ProcessedFlag"),
			ResponseType:            r.get("ResponseType"),
			ResponseTypeName:        r.get("ResponseTypeName"),
			ReviewedFlag:            r.get("ReviewedFlag"),
			SourceAddress:           r.get("SourceAddress"),
			Title:                   r.get("Title"),
		})
		return nil
	})
	return out, err
}

func ReadClaims(dir string) ([]ClaimRow, error) {
	var out []ClaimRow
	err := readCSV(filepath.Join(dir, ClaimsFile), func(r row) error {
		out = append(out, ClaimRow{
			EraReportID:        r.get("EraReportID"),
			FileName:           r.get("FileName"),
			ReceivedDate:       r.get("ReceivedDate"),
			PayerName:          r.get("PayerName"),
			ClaimID:            r.get("ClaimID"),
			PayerControlNumber: r.get("PayerControlNumber"),
			PatientName:        r.get("PatientName"),
			PatientID:          r.get("PatientID"),
			ProviderName:       r.get("ProviderName"),
			Status:             r.get("Status"),
			Billed:             r.get("Billed"),
			Paid:               r.get("Paid"),
			PatResp:            r.get("PatResp"),
			Adjustments:        r.get("Adjustments"),
		})
		return nil
	})
	return out, err
}

// ReadLines loads service_lines.csv. Files written without a Position column
// get positions numbered per claim in file order.
func ReadLines(dir string) ([]LineRow, error) {
	var out []LineRow
	seen := make(map[string]int)
	err := readCSV(filepath.Join(dir, LinesFile), func(r row) error {
		l := LineRow{
			FileName:    r.get("FileName"),
			ClaimID:     r.get("ClaimID"),
			LineID:      r.get("LineID_Ref6R"),
			Position:    r.atoi("Position"),
			Date:        r.get("Date"),
			ProcCode:    r.get("ProcCode"),
			Billed:      r.get("Billed"),
			Paid:        r.get("Paid"),
			Units:       r.get("Units"),
			Adjustments: r.get("Adjustments"),
			Status:      r.get("Status"),
		}
		seen[l.ClaimID]++
		if l.Position == 0 {
			l.Position = seen[l.ClaimID]
		}
		out = append(out, l)
		return nil
	})
	return out, err
}

// ClaimIDs returns the set of claim ids in claims_extracted.csv.
func ClaimIDs(dir string) (map[string]struct{}, error) {
	ids := make(map[string]struct{})
	err := readCSV(filepath.Join(dir, ClaimsFile), func(r row) error {
		ids[r.get("ClaimID")] = struct{}{}
		return nil
	})
	return ids, err
}
