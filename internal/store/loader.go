// Package store loads enriched remittance data into the normalized remit
// schema. A unit is loaded in a single transaction of idempotent upserts.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"eralink/internal/batchfile"
	"eralink/internal/linkage"
	"eralink/internal/remit"
	"eralink/internal/warehouse"
)

const schema = "remit"

var (
	lineNamespace   = uuid.MustParse("0b7e3c54-9d1a-4f0e-8a35-2a6f4e5d7c11")
	policyNamespace = uuid.MustParse("5c2d8f1e-7b3a-4c69-9e0d-6a1b2c3d4e5f")
)

// Batch is everything loaded for one unit.
type Batch struct {
	Practice warehouse.Practice
	Reports  []batchfile.ReportRow
	Claims   []batchfile.ClaimRow
	Lines    []linkage.EnrichedLine
}

// LoadStats counts the rows sent to each table.
type LoadStats struct {
	Reports    int
	Bundles    int
	Patients   int
	Providers  int
	Locations  int
	Policies   int
	Encounters int
	Diagnoses  int
	Lines      int
	Reconciled int64
}

// ErrMissingClaimReference is returned for a claim line that names no
// claim; it could never satisfy the era_bundle foreign key.
var ErrMissingClaimReference = errors.New("claim line without claim reference id")

// LoadError reports the table whose upsert failed. The transaction has been
// rolled back when it is returned.
type LoadError struct {
	Table string
	Err   error
}

func (e *LoadError) Error() string { return fmt.Sprintf("load %s: %v", e.Table, e.Err) }
func (e *LoadError) Unwrap() error { return e.Err }

type Loader struct {
	pool *pgxpool.Pool
	log  zerolog.Logger
}

func NewLoader(pool *pgxpool.Pool, log zerolog.Logger) *Loader {
	return &Loader{pool: pool, log: log.With().Str("component", "store").Logger()}
}

// LineID is the stable identity of a claim line. Loading the same remittance
// again yields the same id.
func LineID(claimRef, date, procCode string, position int32) uuid.UUID {
	key := fmt.Sprintf("%s|%s|%s|%d", claimRef, date, procCode, position)
	return uuid.NewSHA1(lineNamespace, []byte(key))
}

// PolicyKey identifies an insurance policy by number and group.
func PolicyKey(policyNumber, groupNumber string) uuid.UUID {
	return uuid.NewSHA1(policyNamespace, []byte(policyNumber+"|"+groupNumber))
}

// Load upserts the batch in one transaction and then reconciles the
// practice's report counters.
func (l *Loader) Load(ctx context.Context, b Batch) (LoadStats, error) {
	var stats LoadStats
	log := l.log.With().Str("practice", b.Practice.GUID).Logger()

	upserts, err := buildUpserts(b, &stats)
	if err != nil {
		return stats, &LoadError{Table: "batch", Err: err}
	}

	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return stats, fmt.Errorf("begin tx: %w", err)
	}

	l.evolveSchema(ctx, tx, log)

	for _, u := range upserts {
		n, err := u.exec(ctx, tx)
		if err != nil {
			tx.Rollback(ctx)
			log.Error().Err(err).Str("table", u.table).Msg("load failed, rolled back")
			return stats, &LoadError{Table: u.table, Err: err}
		}
		log.Debug().Str("table", u.table).Int64("rows", n).Msg("upserted")
	}

	if err := tx.Commit(ctx); err != nil {
		return stats, &LoadError{Table: "commit", Err: err}
	}

	n, err := l.Reconcile(ctx, b.Practice.GUID)
	if err != nil {
		log.Warn().Err(err).Msg("report reconciliation failed")
	}
	stats.Reconciled = n

	log.Info().
		Int("reports", stats.Reports).
		Int("bundles", stats.Bundles).
		Int("encounters", stats.Encounters).
		Int("lines", stats.Lines).
		Int64("reconciled", stats.Reconciled).
		Msg("load committed")
	return stats, nil
}

// requiredColumns are added on every load when missing, so a destination
// created by an older schema keeps accepting rows.
var requiredColumns = []struct{ table, column, ddl string }{
	{"patient", "dob", "DATE"},
	{"patient", "gender", "TEXT"},
	{"patient", "address_line1", "TEXT"},
	{"patient", "city", "TEXT"},
	{"patient", "state", "TEXT"},
	{"patient", "zip", "TEXT"},
	{"provider", "taxonomy_code", "TEXT"},
	{"insurance_policy", "start_date", "DATE"},
	{"insurance_policy", "end_date", "DATE"},
	{"insurance_policy", "copay", "NUMERIC(14,2)"},
	{"encounter", "referring_provider_guid", "TEXT"},
	{"encounter", "appt_subject", "TEXT"},
	{"encounter", "appt_notes", "TEXT"},
	{"encounter", "pos_description", "TEXT"},
	{"encounter_diagnosis", "description", "TEXT"},
	{"claim_line", "adjustment_descriptions", "TEXT"},
	{"claim_line", "modifiers", "JSONB NOT NULL DEFAULT '{}'::jsonb"},
	{"claim_line", "claim_status", "TEXT"},
	{"claim_line", "payer_status", "TEXT"},
	{"claim_line", "clearinghouse_payer", "TEXT"},
	{"claim_line", "tracking_number", "TEXT"},
}

// evolveSchema runs inside a savepoint. A failure is logged and the load
// continues without it.
func (l *Loader) evolveSchema(ctx context.Context, tx pgx.Tx, log zerolog.Logger) {
	sp, err := tx.Begin(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("schema evolution skipped")
		return
	}
	for _, c := range requiredColumns {
		sql := fmt.Sprintf("ALTER TABLE %s ADD COLUMN IF NOT EXISTS %s %s",
			pgx.Identifier{schema, c.table}.Sanitize(), pgx.Identifier{c.column}.Sanitize(), c.ddl)
		if _, err := sp.Exec(ctx, sql); err != nil {
			sp.Rollback(ctx)
			log.Warn().Err(err).Str("table", c.table).Str("column", c.column).Msg("schema evolution failed")
			return
		}
	}
	if err := sp.Commit(ctx); err != nil {
		log.Warn().Err(err).Msg("schema evolution release failed")
	}
}

// Reconcile recomputes the denied, rejected and claim counters of the
// practice's reports from their loaded lines. Reports without lines keep the
// counters they were loaded with.
func (l *Loader) Reconcile(ctx context.Context, practiceGUID string) (int64, error) {
	tag, err := l.pool.Exec(ctx, `
		WITH line_stats AS (
			SELECT b.report_id,
			       count(*) FILTER (WHERE l.paid_amount = 0 AND (
			           concat_ws(' ', l.claim_status, l.payer_status, b.status_description) ILIKE '%Denied%'
			           OR l.billed_amount > 0)) AS denied,
			       count(*) FILTER (WHERE l.paid_amount = 0 AND
			           concat_ws(' ', l.claim_status, l.payer_status, b.status_description) ILIKE '%Rejected%') AS rejected,
			       count(*) AS lines
			FROM remit.claim_line l
			JOIN remit.era_bundle b ON b.claim_reference_id = l.claim_reference_id
			JOIN remit.era_report r ON r.report_id = b.report_id
			WHERE r.practice_guid = $1
			GROUP BY b.report_id
		)
		UPDATE remit.era_report r
		SET denied_count = s.denied,
		    rejected_count = s.rejected,
		    claim_count = GREATEST(r.source_claim_count, s.lines),
		    updated_at = now()
		FROM line_stats s
		WHERE r.report_id = s.report_id`, practiceGUID)
	if err != nil {
		return 0, fmt.Errorf("reconcile reports: %w", err)
	}
	return tag.RowsAffected(), nil
}

// destinationTables lists every table Reset clears.
var destinationTables = []string{
	"claim_line", "encounter_diagnosis", "encounter", "insurance_policy",
	"location", "provider", "patient", "era_bundle", "era_report", "practice",
}

// Reset truncates every destination table.
func (l *Loader) Reset(ctx context.Context) error {
	names := make([]string, len(destinationTables))
	for i, t := range destinationTables {
		names[i] = pgx.Identifier{schema, t}.Sanitize()
	}
	if _, err := l.pool.Exec(ctx, "TRUNCATE "+strings.Join(names, ", ")+" CASCADE"); err != nil {
		return fmt.Errorf("truncate destination: %w", err)
	}
	l.log.Warn().Int("tables", len(names)).Msg("destination reset")
	return nil
}

// upsert stages rows in a temp table with COPY and merges them into the
// target with INSERT ... ON CONFLICT.
type upsert struct {
	table   string
	key     []string
	columns []string
	// extra SET clauses applied on conflict, e.g. "updated_at = now()"
	touch []string
	rows  [][]any
}

func (u upsert) exec(ctx context.Context, tx pgx.Tx) (int64, error) {
	if len(u.rows) == 0 {
		return 0, nil
	}
	target := pgx.Identifier{schema, u.table}.Sanitize()
	stage := "stage_" + u.table

	if _, err := tx.Exec(ctx, fmt.Sprintf(
		"CREATE TEMP TABLE %s (LIKE %s INCLUDING DEFAULTS) ON COMMIT DROP",
		pgx.Identifier{stage}.Sanitize(), target)); err != nil {
		return 0, fmt.Errorf("create stage table: %w", err)
	}

	if _, err := tx.CopyFrom(ctx, pgx.Identifier{stage}, u.columns, pgx.CopyFromRows(u.rows)); err != nil {
		return 0, fmt.Errorf("copy rows: %w", err)
	}

	cols := quoteAll(u.columns)
	isKey := make(map[string]bool, len(u.key))
	for _, k := range u.key {
		isKey[k] = true
	}
	var set []string
	for _, c := range u.columns {
		if !isKey[c] {
			q := pgx.Identifier{c}.Sanitize()
			set = append(set, q+" = EXCLUDED."+q)
		}
	}
	set = append(set, u.touch...)

	conflict := "DO NOTHING"
	if len(set) > 0 {
		conflict = "DO UPDATE SET " + strings.Join(set, ", ")
	}

	tag, err := tx.Exec(ctx, fmt.Sprintf(
		"INSERT INTO %s (%s) SELECT %s FROM %s ON CONFLICT (%s) %s",
		target, cols, cols, pgx.Identifier{stage}.Sanitize(), quoteAll(u.key), conflict))
	if err != nil {
		return 0, fmt.Errorf("merge rows: %w", err)
	}
	return tag.RowsAffected(), nil
}

func quoteAll(names []string) string {
	q := make([]string, len(names))
	for i, n := range names {
		q[i] = pgx.Identifier{n}.Sanitize()
	}
	return strings.Join(q, ", ")
}

// seen keeps the first row per natural key.
type seen map[string]struct{}

func (s seen) first(key string) bool {
	if key == "" {
		return false
	}
	if _, ok := s[key]; ok {
		return false
	}
	s[key] = struct{}{}
	return true
}

func buildUpserts(b Batch, stats *LoadStats) ([]upsert, error) {
	practice := upsert{
		table:   "practice",
		key:     []string{"practice_guid"},
		columns: []string{"practice_guid", "name"},
		touch:   []string{"last_loaded_at = now()"},
		rows:    [][]any{{b.Practice.GUID, strToPgText(b.Practice.Name)}},
	}

	reports := upsert{
		table: "era_report",
		key:   []string{"report_id"},
		columns: []string{
			"report_id", "practice_guid", "clearinghouse_response_id", "file_name", "received_date",
			"report_type", "source_type", "payer_name", "payer_id", "check_number", "check_date",
			"method", "total_paid", "total_amount", "payment_id", "title",
			"source_denied_count", "source_rejected_count", "source_claim_count",
			"denied_count", "rejected_count", "claim_count",
		},
		touch: []string{"updated_at = now()"},
	}
	seenReports := seen{}
	for _, r := range b.Reports {
		if !seenReports.first(r.EraReportID) {
			continue
		}
		reports.rows = append(reports.rows, []any{
			r.EraReportID, b.Practice.GUID, strToPgText(r.ClearinghouseResponseID),
			strToPgText(r.FileName), strToPgTimestamp(r.ReceivedDate),
			strToPgText(r.ReportTypeName), strToPgText(r.SourceTypeName),
			strToPgText(r.PayerName), strToPgText(r.PayerID), strToPgText(r.CheckNumber),
			strToPgText(r.CheckDate), strToPgText(r.Method),
			moneyToNumeric(r.TotalPaid), moneyToNumeric(r.TotalAmount),
			strToPgText(r.PaymentID), strToPgText(r.Title),
			r.DeniedCount, r.RejectedCount, r.ClaimCount,
			r.DeniedCount, r.RejectedCount, r.ClaimCount,
		})
	}
	stats.Reports = len(reports.rows)

	bundles := upsert{
		table: "era_bundle",
		key:   []string{"claim_reference_id"},
		columns: []string{
			"claim_reference_id", "report_id", "payer_name", "payer_control_number",
			"patient_name", "patient_id", "provider_name", "status_code", "status_description",
			"total_billed", "total_paid", "total_patient_resp", "adjustments",
		},
		touch: []string{"updated_at = now()"},
	}
	seenBundles := seen{}
	for _, c := range b.Claims {
		if !seenBundles.first(c.ClaimID) {
			continue
		}
		adj, err := adjustmentsJSON(c.Adjustments)
		if err != nil {
			return nil, err
		}
		bundles.rows = append(bundles.rows, []any{
			c.ClaimID, c.EraReportID, strToPgText(c.PayerName), strToPgText(c.PayerControlNumber),
			strToPgText(c.PatientName), strToPgText(c.PatientID), strToPgText(c.ProviderName),
			strToPgText(c.Status), strToPgText(remit.ClaimStatusDescription(c.Status)),
			moneyToNumeric(c.Billed), moneyToNumeric(c.Paid), moneyToNumeric(c.PatResp), adj,
		})
	}
	stats.Bundles = len(bundles.rows)

	patients := upsert{
		table: "patient",
		key:   []string{"patient_guid"},
		columns: []string{
			"patient_guid", "patient_id", "full_name", "case_id", "dob", "gender",
			"address_line1", "city", "state", "zip",
		},
	}
	providers := upsert{
		table:   "provider",
		key:     []string{"provider_guid"},
		columns: []string{"provider_guid", "npi", "name", "taxonomy_code"},
	}
	locations := upsert{
		table:   "location",
		key:     []string{"location_guid"},
		columns: []string{"location_guid", "name", "npi", "pos_code", "address_block"},
	}
	policies := upsert{
		table: "insurance_policy",
		key:   []string{"policy_key"},
		columns: []string{
			"policy_key", "company_name", "plan_name", "policy_number", "group_number",
			"start_date", "end_date", "copay",
		},
	}
	encounters := upsert{
		table: "encounter",
		key:   []string{"encounter_id"},
		columns: []string{
			"encounter_id", "encounter_guid", "practice_guid", "start_date", "status",
			"appt_type", "appt_reason", "appt_subject", "appt_notes", "pos_code", "pos_description",
			"patient_guid", "provider_guid", "location_guid", "insurance_policy_key",
			"referring_provider_guid",
		},
	}
	diagnoses := upsert{
		table:   "encounter_diagnosis",
		key:     []string{"encounter_id", "encounter_diagnosis_id"},
		columns: []string{"encounter_id", "encounter_diagnosis_id", "precedence", "dictionary_id", "description"},
	}
	lines := upsert{
		table: "claim_line",
		key:   []string{"line_id"},
		columns: []string{
			"line_id", "source_line_ref", "claim_reference_id", "encounter_id", "position",
			"proc_code", "description", "date_of_service", "billed_amount", "paid_amount", "units",
			"adjustments", "adjustment_descriptions", "modifiers",
			"claim_status", "payer_status", "clearinghouse_payer", "tracking_number", "link_status",
		},
		touch: []string{"updated_at = now()"},
	}

	var (
		seenPatients   = seen{}
		seenProviders  = seen{}
		seenLocations  = seen{}
		seenPolicies   = seen{}
		seenEncounters = seen{}
		seenDiagnoses  = seen{}
		seenLines      = seen{}
	)

	for i := range b.Lines {
		e := &b.Lines[i]

		if e.PatientGUID != nil && seenPatients.first(*e.PatientGUID) {
			patients.rows = append(patients.rows, []any{
				*e.PatientGUID, optToPgText(e.PatientID), optToPgText(e.PatientName),
				optToPgText(e.PatientCaseID), optToPgDate(e.PatientDOB), optToPgText(e.PatientGender),
				optToPgText(e.PatientAddress), optToPgText(e.PatientCity),
				optToPgText(e.PatientState), optToPgText(e.PatientZip),
			})
		}

		if e.ProviderGUID != nil && seenProviders.first(*e.ProviderGUID) {
			providers.rows = append(providers.rows, []any{
				*e.ProviderGUID, optToPgText(e.ProviderNPI), optToPgText(e.ProviderName), optToPgText(e.ProviderTaxonomy),
			})
		}
		if e.ReferringProviderGUID != nil && seenProviders.first(*e.ReferringProviderGUID) {
			providers.rows = append(providers.rows, []any{
				*e.ReferringProviderGUID, optToPgText(e.ReferringProviderNPI),
				optToPgText(e.ReferringProviderName), pgtype.Text{},
			})
		}

		if e.LocationGUID != nil && seenLocations.first(*e.LocationGUID) {
			addr, err := jsonb(map[string]*string{
				"address": e.LocationAddress,
				"city":    e.LocationCity,
				"state":   e.LocationState,
			})
			if err != nil {
				return nil, err
			}
			locations.rows = append(locations.rows, []any{
				*e.LocationGUID, optToPgText(e.LocationName), optToPgText(e.LocationNPI),
				optToPgText(e.LocationPOSCode), addr,
			})
		}

		policyKey := pgtype.UUID{}
		if pol, grp := deref(e.PolicyNumber), deref(e.GroupNumber); pol != "" || grp != "" {
			key := PolicyKey(pol, grp)
			policyKey = uuidToPg(key)
			if seenPolicies.first(key.String()) {
				policies.rows = append(policies.rows, []any{
					policyKey, optToPgText(e.InsuranceCompany), optToPgText(e.PlanName),
					optToPgText(e.PolicyNumber), optToPgText(e.GroupNumber),
					optToPgDate(e.PolicyStart), optToPgDate(e.PolicyEnd), optMoneyToNumeric(e.Copay),
				})
			}
		}

		encID := deref(e.EncounterID)
		if encID != "" && seenEncounters.first(encID) {
			encounters.rows = append(encounters.rows, []any{
				encID, optToPgText(e.EncounterGUID), optToPgText(e.PracticeGUID),
				optToPgDate(e.EncounterDate), optToPgText(e.EncounterStatus),
				optToPgText(e.AppointmentType), optToPgText(e.AppointmentDescription),
				optToPgText(e.AppointmentSubject), optToPgText(e.AppointmentNotes),
				optToPgText(e.POSCode), optToPgText(e.POSDescription),
				optToPgText(e.PatientGUID), optToPgText(e.ProviderGUID), optToPgText(e.LocationGUID),
				policyKey, optToPgText(e.ReferringProviderGUID),
			})
		}
		if encID != "" {
			for _, d := range e.Diagnoses {
				if !seenDiagnoses.first(encID + "|" + d.EncounterDiagnosisID) {
					continue
				}
				diagnoses.rows = append(diagnoses.rows, []any{
					encID, d.EncounterDiagnosisID, d.Position, optToPgText(d.DictionaryID), optToPgText(d.Description),
				})
			}
		}

		if strings.TrimSpace(e.ClaimReferenceID) == "" {
			return nil, fmt.Errorf("line %q at position %d: %w", e.LineID, e.Position, ErrMissingClaimReference)
		}
		id := LineID(e.ClaimReferenceID, e.Date, e.ProcCode, e.Position)
		if !seenLines.first(id.String()) {
			continue
		}
		adj, err := adjustmentsJSON(e.Adjustments)
		if err != nil {
			return nil, err
		}
		mods, err := modifiersJSON(e.Modifiers)
		if err != nil {
			return nil, err
		}
		lines.rows = append(lines.rows, []any{
			uuidToPg(id), strToPgText(e.LineID), e.ClaimReferenceID, strToPgText(encID), e.Position,
			strToPgText(e.ProcCode), optToPgText(e.ProcedureDescription), strToPgText(e.Date),
			moneyToNumeric(e.Billed), moneyToNumeric(e.Paid), moneyToNumeric(e.Units),
			adj, optToPgText(e.AdjustmentDescriptions), mods,
			optToPgText(e.ClaimStatus), optToPgText(e.PayerStatus),
			optToPgText(e.ClearinghousePayer), optToPgText(e.TrackingNumber),
			e.Link.String(),
		})
	}

	stats.Patients = len(patients.rows)
	stats.Providers = len(providers.rows)
	stats.Locations = len(locations.rows)
	stats.Policies = len(policies.rows)
	stats.Encounters = len(encounters.rows)
	stats.Diagnoses = len(diagnoses.rows)
	stats.Lines = len(lines.rows)

	return []upsert{
		practice, reports, bundles,
		patients, providers, locations, policies,
		encounters, diagnoses, lines,
	}, nil
}

// adjustmentsJSON turns "CO-45:10.00; PR-3:5.00" into {"CO-45": 10, "PR-3": 5}.
// Repeated codes are summed.
func adjustmentsJSON(s string) (string, error) {
	out := make(map[string]float64)
	sums := make(map[string]remit.Adjustment)
	for _, a := range remit.ParseAdjustments(s) {
		prev := sums[a.Code()]
		a.Amount = a.Amount.Add(prev.Amount)
		sums[a.Code()] = a
	}
	for code, a := range sums {
		out[code] = a.Amount.InexactFloat64()
	}
	return jsonb(out)
}

func modifiersJSON(mods []linkage.Modifier) (string, error) {
	out := make(map[string]string, len(mods))
	for _, m := range mods {
		out[m.Code] = deref(m.Description)
	}
	return jsonb(out)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return strings.TrimSpace(*s)
}
