// Package extract pulls a practice's clearinghouse responses from the
// warehouse, parses the remittances and writes the unit's intermediate files.
package extract

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"eralink/internal/batchfile"
	"eralink/internal/remit"
	"eralink/internal/warehouse"
)

const (
	dateLayout     = "2006-01-02 15:04:05"
	snippetLen     = 500
	progressPeriod = 100
)

var reportNamespace = uuid.MustParse("6f1c2d0e-35a4-4a4e-9a7b-1b8f8c9f2e10")

// Source is the subset of the warehouse the extractor reads.
type Source interface {
	Responses(ctx context.Context, practiceGUID string, since time.Time) ([]warehouse.Response, error)
}

// Stats summarizes one extraction.
type Stats struct {
	Responses   int
	ERAs        int
	NonERA      int
	ParseErrors int
	Claims      int
	Lines       int
	// SkippedClaims counts claims without a CLP01 id. Their lines are
	// dropped with them since nothing could link or load them.
	SkippedClaims int
	SkippedLines  int
}

type Extractor struct {
	src Source
	log zerolog.Logger
}

func New(src Source, log zerolog.Logger) *Extractor {
	return &Extractor{src: src, log: log.With().Str("component", "extract").Logger()}
}

// ReportID returns the warehouse response id, or a stable id derived from
// the file name and received date when the warehouse has none.
func ReportID(r warehouse.Response) string {
	if r.ResponseID != "" {
		return r.ResponseID
	}
	return uuid.NewMD5(reportNamespace, []byte(r.FileName+r.ReceivedAt.Format(dateLayout))).String()
}

// Extract writes every response received since the given time into dir.
// Documents that fail to parse are logged, counted and skipped.
func (e *Extractor) Extract(ctx context.Context, practice warehouse.Practice, since time.Time, dir string) (Stats, error) {
	var stats Stats
	log := e.log.With().Str("practice", practice.GUID).Logger()

	responses, err := e.src.Responses(ctx, practice.GUID, since)
	if err != nil {
		return stats, fmt.Errorf("fetch responses: %w", err)
	}
	stats.Responses = len(responses)
	log.Info().Int("responses", len(responses)).Time("since", since).Msg("fetched clearinghouse responses")

	w, err := batchfile.Create(dir)
	if err != nil {
		return stats, err
	}

	for i, resp := range responses {
		if err := ctx.Err(); err != nil {
			w.Close()
			return stats, err
		}
		if err := e.writeResponse(w, resp, &stats); err != nil {
			var pe *remit.ParseError
			if errors.As(err, &pe) {
				stats.ParseErrors++
				log.Warn().Err(err).Str("file", resp.FileName).Msg("skipping unparseable remittance")
				continue
			}
			w.Close()
			return stats, err
		}
		if err := w.Flush(); err != nil {
			w.Close()
			return stats, err
		}
		if (i+1)%progressPeriod == 0 {
			log.Info().Int("done", i+1).Int("total", len(responses)).Msg("extraction progress")
		}
	}

	if err := w.Close(); err != nil {
		return stats, err
	}

	log.Info().
		Int("eras", stats.ERAs).
		Int("non_era", stats.NonERA).
		Int("parse_errors", stats.ParseErrors).
		Int("claims", stats.Claims).
		Int("lines", stats.Lines).
		Int("skipped_claims", stats.SkippedClaims).
		Msg("extraction complete")
	return stats, nil
}

func (e *Extractor) writeResponse(w *batchfile.Writer, resp warehouse.Response, stats *Stats) error {
	id := ReportID(resp)
	received := resp.ReceivedAt.Format(dateLayout)
	report := baseReport(id, received, resp)

	if !resp.IsERA() {
		if err := w.WriteRejection(batchfile.RejectionRow{
			ReceivedDate:   received,
			FileName:       resp.FileName,
			Type:           resp.ReportTypeName,
			ContentSnippet: batchfile.Snippet(resp.Content, snippetLen),
		}); err != nil {
			return err
		}
		report.PayerName = orDefault(resp.SourceName, "Unknown")
		report.TotalPaid = "0"
		stats.NonERA++
		return w.WriteReport(report)
	}

	parsed, err := remit.Parse(resp.Content)
	if err != nil {
		return err
	}

	payerName := parsed.Payer.Name
	if payerName == "" {
		payerName = orDefault(resp.SourceName, "Unknown Payer")
	}
	report.PayerName = payerName
	report.PayerID = parsed.Payer.ID
	report.CheckNumber = parsed.Payment.CheckNumber
	report.CheckDate = parsed.Payment.Date
	report.TotalPaid = parsed.Payment.TotalPaid.String()
	report.Method = parsed.Payment.Method
	if err := w.WriteReport(report); err != nil {
		return err
	}

	if err := w.WriteDocument(batchfile.Document{
		ID: id,
		Metadata: batchfile.DocumentMeta{
			FileName:                resp.FileName,
			ReceivedDate:            received,
			ClearinghouseResponseID: resp.ResponseID,
			SourceName:              resp.SourceName,
		},
		Remittance: parsed,
	}); err != nil {
		return err
	}

	for _, c := range parsed.Claims {
		if strings.TrimSpace(c.ClaimID) == "" {
			stats.SkippedClaims++
			stats.SkippedLines += len(c.ServiceLines)
			e.log.Warn().Str("file", resp.FileName).Int("lines", len(c.ServiceLines)).Msg("skipping claim without id")
			continue
		}
		if err := w.WriteClaim(batchfile.ClaimRow{
			EraReportID:        id,
			FileName:           resp.FileName,
			ReceivedDate:       received,
			PayerName:          orDefault(parsed.Payer.Name, "Unknown"),
			ClaimID:            c.ClaimID,
			PayerControlNumber: c.PayerControlNumber,
			PatientName:        c.Patient.Name,
			PatientID:          c.Patient.ID,
			ProviderName:       c.Provider.Name,
			Status:             c.StatusCode,
			Billed:             c.ChargeAmount.String(),
			Paid:               c.PaidAmount.String(),
			PatResp:            c.PatientRespAmount.String(),
			Adjustments:        remit.JoinAdjustments(c.Adjustments),
		}); err != nil {
			return err
		}
		stats.Claims++

		for i, l := range c.ServiceLines {
			if err := w.WriteLine(batchfile.LineRow{
				FileName:    resp.FileName,
				ClaimID:     c.ClaimID,
				LineID:      l.LineID(),
				Position:    i + 1,
				Date:        l.Date,
				ProcCode:    l.ProcCode,
				Billed:      l.Charge.String(),
				Paid:        l.Paid.String(),
				Units:       l.Units.String(),
				Adjustments: remit.JoinAdjustments(l.Adjustments),
				Status:      c.StatusCode,
			}); err != nil {
				return err
			}
			stats.Lines++
		}
	}
	stats.ERAs++
	return nil
}

func baseReport(id, received string, resp warehouse.Response) batchfile.ReportRow {
	return batchfile.ReportRow{
		EraReportID:             id,
		ClearinghouseResponseID: resp.ResponseID,
		CustomerID:              resp.CustomerID,
		FileName:                resp.FileName,
		ReceivedDate:            received,
		ReportTypeID:            resp.ReportTypeID,
		ReportTypeName:          resp.ReportTypeName,
		SourceTypeID:            resp.SourceTypeID,
		SourceTypeName:          resp.SourceTypeName,
		TotalAmount:             resp.TotalAmount.String(),
		PracticeGUID:            resp.PracticeGUID,
		DeniedCount:             resp.Denied,
		RejectedCount:           resp.Rejected,
		ClaimCount:              resp.ItemCount,
		PaymentID:               resp.PaymentID,
		ProcessedFlag:           resp.ProcessedFlag,
		ResponseType:            resp.ResponseType,
		ResponseTypeName:        resp.ResponseTypeName,
		ReviewedFlag:            resp.ReviewedFlag,
		SourceAddress:           resp.SourceAddress,
		Title:                   resp.Title,
	}
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
