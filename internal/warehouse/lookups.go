package warehouse

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// Claims resolves claim ids (the 6R line identifiers) against pm_claim.
func (s *Store) Claims(ctx context.Context, claimIDs []string) ([]ClaimRecord, error) {
	sql := fmt.Sprintf(`
		SELECT claimid::text, encounterprocedureid::text, patientguid::text,
		       statusname, payerprocessingstatustypedesc, clearinghousepayer,
		       clearinghousetrackingnumber::text, practiceguid::text
		FROM %s
		WHERE claimid::text = ANY($1)`, s.table("pm_claim"))
	return queryChunked(ctx, s, "query claims", sql, claimIDs, pgx.RowToStructByPos[ClaimRecord])
}

// EncounterProcedures resolves encounter procedure ids, including the eight
// encounter-diagnosis references and four modifier codes of each row.
func (s *Store) EncounterProcedures(ctx context.Context, ids []string) ([]ProcedureRecord, error) {
	sql := fmt.Sprintf(`
		SELECT encounterprocedureid::text, encounterguid::text, procedurecodedictionaryid::text,
		       left(proceduredateofservice::text, 10), servicechargeamount::text,
		       serviceunitcount::text, typeofservicedescription,
		       encounterdiagnosisid1::text, encounterdiagnosisid2::text,
		       encounterdiagnosisid3::text, encounterdiagnosisid4::text,
		       encounterdiagnosisid5::text, encounterdiagnosisid6::text,
		       encounterdiagnosisid7::text, encounterdiagnosisid8::text,
		       proceduremodifier1, proceduremodifier2, proceduremodifier3, proceduremodifier4
		FROM %s
		WHERE encounterprocedureid::text = ANY($1)`, s.table("pm_encounterprocedure"))

	return queryChunked(ctx, s, "query encounter procedures", sql, ids, func(row pgx.CollectableRow) (ProcedureRecord, error) {
		var p ProcedureRecord
		d := &p.DiagnosisIDs
		m := &p.Modifiers
		err := row.Scan(
			&p.EncounterProcedureID, &p.EncounterGUID, &p.DictionaryID,
			&p.DateOfService, &p.ChargeAmount, &p.UnitCount, &p.TypeOfServiceDesc,
			&d[0], &d[1], &d[2], &d[3], &d[4], &d[5], &d[6], &d[7],
			&m[0], &m[1], &m[2], &m[3],
		)
		return p, err
	})
}

// ProcedureDescriptions maps procedure dictionary ids to official names.
func (s *Store) ProcedureDescriptions(ctx context.Context, dictIDs []string) (map[string]string, error) {
	sql := fmt.Sprintf(`
		SELECT procedurecodedictionaryid::text, officialname
		FROM %s
		WHERE procedurecodedictionaryid::text = ANY($1)`, s.table("pm_procedurecodedictionary"))
	return lookupMap(ctx, s, "query procedure dictionary", sql, dictIDs)
}

// EncounterDiagnoses maps encounter-diagnosis ids to diagnosis dictionary ids.
func (s *Store) EncounterDiagnoses(ctx context.Context, ids []string) (map[string]string, error) {
	sql := fmt.Sprintf(`
		SELECT encounterdiagnosisid::text, diagnosiscodedictionaryid::text
		FROM %s
		WHERE encounterdiagnosisid::text = ANY($1)`, s.table("pm_encounterdiagnosis"))
	return lookupMap(ctx, s, "query encounter diagnoses", sql, ids)
}

// ICD10Descriptions resolves dictionary ids against the ICD-10 table.
func (s *Store) ICD10Descriptions(ctx context.Context, dictIDs []string) (map[string]string, error) {
	sql := fmt.Sprintf(`
		SELECT icd10diagnosiscodedictionaryid::text,
		       COALESCE(officialname, officialdescription, localname)
		FROM %s
		WHERE icd10diagnosiscodedictionaryid::text = ANY($1)`, s.table("pm_icd10diagnosiscodedictionary"))
	return lookupMap(ctx, s, "query icd10 dictionary", sql, dictIDs)
}

// LegacyDiagnosisDescriptions resolves dictionary ids against the pre-ICD-10 table.
func (s *Store) LegacyDiagnosisDescriptions(ctx context.Context, dictIDs []string) (map[string]string, error) {
	sql := fmt.Sprintf(`
		SELECT diagnosiscodedictionaryid::text, officialname
		FROM %s
		WHERE diagnosiscodedictionaryid::text = ANY($1)`, s.table("pm_diagnosiscodedictionary"))
	return lookupMap(ctx, s, "query legacy diagnosis dictionary", sql, dictIDs)
}

// Modifiers maps procedure modifier codes to names.
func (s *Store) Modifiers(ctx context.Context, codes []string) (map[string]string, error) {
	sql := fmt.Sprintf(`
		SELECT proceduremodifiercode, modifiername
		FROM %s
		WHERE proceduremodifiercode = ANY($1)`, s.table("pm_proceduremodifier"))
	return lookupMap(ctx, s, "query procedure modifiers", sql, codes)
}

func (s *Store) Encounters(ctx context.Context, guids []string) ([]EncounterRecord, error) {
	sql := fmt.Sprintf(`
		SELECT encounterguid::text, encounterid::text, left(dateofservice::text, 10),
		       encounterstatusdescription, appointmentguid::text, providerguid::text,
		       servicelocationguid::text, insurancepolicyauthorizationid::text,
		       patientcaseid::text, placeofservicecode::text, referringphysicianguid::text,
		       practiceguid::text, patientguid::text
		FROM %s
		WHERE encounterguid::text = ANY($1)`, s.table("pm_encounter"))
	return queryChunked(ctx, s, "query encounters", sql, guids, pgx.RowToStructByPos[EncounterRecord])
}

func (s *Store) Appointments(ctx context.Context, guids []string) ([]AppointmentRecord, error) {
	sql := fmt.Sprintf(`
		SELECT appointmentguid::text, appointmenttype, appointmenttypedescription, subject, notes
		FROM %s
		WHERE appointmentguid::text = ANY($1)`, s.table("pm_appointment"))
	return queryChunked(ctx, s, "query appointments", sql, guids, pgx.RowToStructByPos[AppointmentRecord])
}

// PlacesOfService maps place-of-service codes to descriptions.
func (s *Store) PlacesOfService(ctx context.Context, codes []string) (map[string]string, error) {
	sql := fmt.Sprintf(`
		SELECT placeofservicecode::text, description
		FROM %s
		WHERE placeofservicecode::text = ANY($1)`, s.table("pm_placeofservice"))
	return lookupMap(ctx, s, "query places of service", sql, codes)
}

func (s *Store) Patients(ctx context.Context, guids []string) ([]PatientRecord, error) {
	sql := fmt.Sprintf(`
		SELECT patientguid::text, patientid::text, firstname, lastname, left(dob::text, 10),
		       gender, addressline1, city, state, zipcode, practiceguid::text
		FROM %s
		WHERE patientguid::text = ANY($1)`, s.table("pm_patient"))
	return queryChunked(ctx, s, "query patients", sql, guids, pgx.RowToStructByPos[PatientRecord])
}

func (s *Store) Providers(ctx context.Context, guids []string) ([]ProviderRecord, error) {
	sql := fmt.Sprintf(`
		SELECT doctorguid::text, npi::text, firstname, lastname, practiceguid::text,
		       doctorid::text, taxonomycode
		FROM %s
		WHERE doctorguid::text = ANY($1)`, s.table("pm_doctor"))
	return queryChunked(ctx, s, "query providers", sql, guids, pgx.RowToStructByPos[ProviderRecord])
}

func (s *Store) Locations(ctx context.Context, guids []string) ([]LocationRecord, error) {
	sql := fmt.Sprintf(`
		SELECT servicelocationguid::text, name, addressline1, city, state,
		       practiceguid::text, npi::text, placeofservicecode::text, servicelocationid::text
		FROM %s
		WHERE servicelocationguid::text = ANY($1)`, s.table("pm_servicelocation"))
	return queryChunked(ctx, s, "query service locations", sql, guids, pgx.RowToStructByPos[LocationRecord])
}

// PolicyAuthorizations maps insurance authorization ids to policy GUIDs.
func (s *Store) PolicyAuthorizations(ctx context.Context, ids []string) (map[string]string, error) {
	sql := fmt.Sprintf(`
		SELECT insurancepolicyauthorizationid::text, insurancepolicyguid::text
		FROM %s
		WHERE insurancepolicyauthorizationid::text = ANY($1)`, s.table("pm_insurancepolicyauthorization"))
	return lookupMap(ctx, s, "query policy authorizations", sql, ids)
}

// CasePolicies maps each patient case to its first active policy by
// ascending precedence.
func (s *Store) CasePolicies(ctx context.Context, caseIDs []string) (map[string]string, error) {
	sql := fmt.Sprintf(`
		SELECT patientcaseid::text, insurancepolicyguid::text
		FROM %s
		WHERE patientcaseid::text = ANY($1) AND active = TRUE
		ORDER BY precedence ASC NULLS LAST, insurancepolicyguid`, s.table("pm_insurancepolicy"))

	rows, err := queryChunked(ctx, s, "query case policies", sql, caseIDs, pgx.RowToStructByPos[pair])
	if err != nil {
		return nil, err
	}
	out := make(map[string]string)
	for _, r := range rows {
		if r.Value == nil {
			continue
		}
		if _, ok := out[r.Key]; !ok {
			out[r.Key] = *r.Value
		}
	}
	return out, nil
}

// Policies resolves policy GUIDs with their plan and company names.
func (s *Store) Policies(ctx context.Context, guids []string) ([]PolicyRecord, error) {
	sql := fmt.Sprintf(`
		SELECT p.insurancepolicyguid::text, p.policynumber, p.groupnumber, pl.planname,
		       c.insurancecompanyname, left(p.policystartdate::text, 10),
		       left(p.policyenddate::text, 10), p.copay::text, p.practiceguid::text,
		       p.patientcaseid::text, p.precedence::text
		FROM %s p
		LEFT JOIN %s pl ON p.insurancecompanyplanguid::text = pl.insurancecompanyplanguid::text
		LEFT JOIN %s c ON pl.insurancecompanyid::text = c.insurancecompanyid::text
		WHERE p.insurancepolicyguid::text = ANY($1)`,
		s.table("pm_insurancepolicy"), s.table("pm_insurancecompanyplan"), s.table("pm_insurancecompany"))
	return queryChunked(ctx, s, "query policies", sql, guids, pgx.RowToStructByPos[PolicyRecord])
}

// AdjustmentReasons loads the whole CARC table: reason code to description.
func (s *Store) AdjustmentReasons(ctx context.Context) (map[string]string, error) {
	return s.dictionary(ctx, "query adjustment reasons",
		fmt.Sprintf(`SELECT adjustmentreasoncode::text, description FROM %s WHERE adjustmentreasoncode IS NOT NULL`, s.table("pm_adjustmentreason")))
}

// RemittanceRemarks loads the whole RARC table: remark code to description.
func (s *Store) RemittanceRemarks(ctx context.Context) (map[string]string, error) {
	return s.dictionary(ctx, "query remittance remarks",
		fmt.Sprintf(`SELECT remittancecode::text, remittancedescription FROM %s WHERE remittancecode IS NOT NULL`, s.table("pm_remittanceremark")))
}

func (s *Store) dictionary(ctx context.Context, op, sql string) (map[string]string, error) {
	rows, err := s.pool.Query(ctx, sql)
	if err != nil {
		return nil, classify(op, err)
	}
	pairs, err := pgx.CollectRows(rows, pgx.RowToStructByPos[pair])
	if err != nil {
		return nil, classify(op, err)
	}
	out := make(map[string]string, len(pairs))
	for _, p := range pairs {
		if p.Value != nil {
			out[p.Key] = *p.Value
		}
	}
	return out, nil
}
