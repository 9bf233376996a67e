// Package linkage re-links remittance service lines to the clinical records
// that produced them: claim, procedure, encounter, appointment, patient,
// provider, location and insurance policy.
package linkage

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"eralink/internal/batchfile"
	"eralink/internal/refdict"
	"eralink/internal/warehouse"
)

var linkableID = regexp.MustCompile(`^\d{6}$`)

// Source is the warehouse surface the resolver queries. Every method takes a
// set of keys and returns whatever matched; unknown keys are simply absent.
type Source interface {
	Claims(ctx context.Context, claimIDs []string) ([]warehouse.ClaimRecord, error)
	EncounterProcedures(ctx context.Context, ids []string) ([]warehouse.ProcedureRecord, error)
	EncounterDiagnoses(ctx context.Context, ids []string) (map[string]string, error)
	Encounters(ctx context.Context, guids []string) ([]warehouse.EncounterRecord, error)
	Appointments(ctx context.Context, guids []string) ([]warehouse.AppointmentRecord, error)
	Patients(ctx context.Context, guids []string) ([]warehouse.PatientRecord, error)
	Providers(ctx context.Context, guids []string) ([]warehouse.ProviderRecord, error)
	Locations(ctx context.Context, guids []string) ([]warehouse.LocationRecord, error)
	PolicyAuthorizations(ctx context.Context, ids []string) (map[string]string, error)
	CasePolicies(ctx context.Context, caseIDs []string) (map[string]string, error)
	Policies(ctx context.Context, guids []string) ([]warehouse.PolicyRecord, error)
}

type Resolver struct {
	src    Source
	dict   *refdict.Cache
	global *refdict.Global
	log    zerolog.Logger
}

// NewResolver builds a resolver. global may be nil, in which case adjustment
// descriptions are left empty.
func NewResolver(src Source, dict *refdict.Cache, global *refdict.Global, log zerolog.Logger) *Resolver {
	return &Resolver{
		src:    src,
		dict:   dict,
		global: global,
		log:    log.With().Str("component", "linkage").Logger(),
	}
}

type stage struct {
	name string
	run  func(context.Context, linkMap) (linkMap, error)
}

func (r *Resolver) stages() []stage {
	return []stage{
		{"claims", r.linkClaims},
		{"procedures", r.linkProcedures},
		{"procedure descriptions", r.describeProcedures},
		{"diagnoses", r.linkDiagnoses},
		{"modifiers", r.describeModifiers},
		{"encounters", r.linkEncounters},
		{"appointments", r.linkAppointments},
		{"people and places", r.linkParties},
		{"insurance", r.linkInsurance},
	}
}

// Resolve links each identifier through the warehouse. Every input id is a
// key of the result; ids that are not six digits come back Failed without
// being queried.
func (r *Resolver) Resolve(ctx context.Context, ids []string) (map[string]EnrichedLine, error) {
	out := make(map[string]EnrichedLine)
	m := make(linkMap)
	for _, id := range refdict.Distinct(ids) {
		if linkableID.MatchString(id) {
			m[id] = EnrichedLine{LineID: id}
		} else {
			out[id] = EnrichedLine{LineID: id}
		}
	}
	if len(out) > 0 {
		r.log.Debug().Int("ids", len(out)).Msg("identifiers not eligible for linkage")
	}

	for _, s := range r.stages() {
		if len(m) == 0 {
			break
		}
		start := time.Now()
		next, err := s.run(ctx, m)
		if err != nil {
			return nil, fmt.Errorf("linkage stage %s: %w", s.name, err)
		}
		m = next
		r.log.Debug().Str("stage", s.name).Dur("took", time.Since(start)).Msg("stage done")
	}

	for id, e := range m {
		out[id] = e
	}
	return out, nil
}

// Enrich resolves the lines' identifiers and merges the result into a copy
// of every line, in input order.
func (r *Resolver) Enrich(ctx context.Context, lines []batchfile.LineRow) ([]EnrichedLine, error) {
	ids := make([]string, 0, len(lines))
	for _, l := range lines {
		ids = append(ids, l.LineID)
	}
	resolved, err := r.Resolve(ctx, ids)
	if err != nil {
		return nil, err
	}

	out := make([]EnrichedLine, 0, len(lines))
	for _, l := range lines {
		e := resolved[l.LineID].clone()
		e.FileName = l.FileName
		e.ClaimReferenceID = l.ClaimID
		e.LineID = l.LineID
		e.Position = int32(l.Position)
		e.Date = l.Date
		e.ProcCode = l.ProcCode
		e.Billed = l.Billed
		e.Paid = l.Paid
		e.Units = l.Units
		e.Adjustments = l.Adjustments
		e.Status = l.Status
		if r.global != nil {
			if d := r.global.DescribeAll(l.Adjustments); d != "" {
				e.AdjustmentDescriptions = &d
			}
		}
		out = append(out, e)
	}

	c := CountStatus(out)
	r.log.Info().
		Int("lines", len(out)).
		Int("success", c.Success).
		Int("claim_found", c.ClaimFound).
		Int("failed", c.Failed).
		Msg("linkage complete")
	return out, nil
}

func (r *Resolver) linkClaims(ctx context.Context, in linkMap) (linkMap, error) {
	m := in.clone()
	ids := make([]string, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	claims, err := r.src.Claims(ctx, ids)
	if err != nil {
		return nil, err
	}
	for _, c := range claims {
		e, ok := m[c.ClaimID]
		if !ok {
			continue
		}
		e.ClaimID = ptr(c.ClaimID)
		e.EncounterProcedureID = c.EncounterProcedureID
		e.PatientGUID = c.PatientGUID
		e.ClaimStatus = c.StatusName
		e.PayerStatus = c.PayerStatus
		e.ClearinghousePayer = c.ClearinghousePayer
		e.TrackingNumber = c.TrackingNumber
		e.ClaimPracticeGUID = c.PracticeGUID
		e.Link = e.Link.advance(ClaimFound)
		m[c.ClaimID] = e
	}
	return m, nil
}

func (r *Resolver) linkProcedures(ctx context.Context, in linkMap) (linkMap, error) {
	m := in.clone()
	keyOf := func(e *EnrichedLine) *string { return e.EncounterProcedureID }
	keys := m.keys(one(keyOf))
	if len(keys) == 0 {
		return m, nil
	}
	procs, err := r.src.EncounterProcedures(ctx, keys)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]warehouse.ProcedureRecord, len(procs))
	for _, p := range procs {
		byID[p.EncounterProcedureID] = p
	}

	m.update(keyOf, func(e *EnrichedLine, key string) {
		p, ok := byID[key]
		if !ok {
			return
		}
		e.EncounterGUID = p.EncounterGUID
		e.ProcedureDictID = p.DictionaryID
		e.ProcedureDate = p.DateOfService
		e.ProcedureCharge = p.ChargeAmount
		e.ProcedureUnits = p.UnitCount
		e.ProcedureDescription = p.TypeOfServiceDesc
		e.Diagnoses = nil
		for i, d := range p.DiagnosisIDs {
			if d != nil && *d != "" {
				e.Diagnoses = append(e.Diagnoses, Diagnosis{Position: int32(i + 1), EncounterDiagnosisID: *d})
			}
		}
		e.Modifiers = nil
		for i, c := range p.Modifiers {
			if c != nil && strings.TrimSpace(*c) != "" {
				e.Modifiers = append(e.Modifiers, Modifier{Position: int32(i + 1), Code: strings.TrimSpace(*c)})
			}
		}
	})
	return m, nil
}

func (r *Resolver) describeProcedures(ctx context.Context, in linkMap) (linkMap, error) {
	m := in.clone()
	keyOf := func(e *EnrichedLine) *string { return e.ProcedureDictID }
	desc, err := r.dict.Procedures(ctx, m.keys(one(keyOf)))
	if err != nil {
		return nil, err
	}
	m.update(keyOf, func(e *EnrichedLine, key string) {
		if d, ok := desc[key]; ok {
			e.ProcedureDescription = ptr(d)
		}
	})
	return m, nil
}

func (r *Resolver) linkDiagnoses(ctx context.Context, in linkMap) (linkMap, error) {
	m := in.clone()
	var edIDs []string
	for _, e := range m {
		for _, d := range e.Diagnoses {
			edIDs = append(edIDs, d.EncounterDiagnosisID)
		}
	}
	edIDs = refdict.Distinct(edIDs)
	if len(edIDs) == 0 {
		return m, nil
	}

	dictIDs, err := r.src.EncounterDiagnoses(ctx, edIDs)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(dictIDs))
	for _, v := range dictIDs {
		ids = append(ids, v)
	}
	desc, err := r.dict.Diagnoses(ctx, ids)
	if err != nil {
		return nil, err
	}

	for id, e := range m {
		for i := range e.Diagnoses {
			d := &e.Diagnoses[i]
			dictID, ok := dictIDs[d.EncounterDiagnosisID]
			if !ok {
				continue
			}
			d.DictionaryID = ptr(dictID)
			if s, ok := desc[dictID]; ok {
				d.Description = ptr(s)
			}
		}
		m[id] = e
	}
	return m, nil
}

func (r *Resolver) describeModifiers(ctx context.Context, in linkMap) (linkMap, error) {
	m := in.clone()
	var codes []string
	for _, e := range m {
		for _, mod := range e.Modifiers {
			codes = append(codes, mod.Code)
		}
	}
	desc, err := r.dict.Modifiers(ctx, codes)
	if err != nil {
		return nil, err
	}
	for id, e := range m {
		for i := range e.Modifiers {
			if d, ok := desc[e.Modifiers[i].Code]; ok {
				e.Modifiers[i].Description = ptr(d)
			}
		}
		m[id] = e
	}
	return m, nil
}

func (r *Resolver) linkEncounters(ctx context.Context, in linkMap) (linkMap, error) {
	m := in.clone()
	keyOf := func(e *EnrichedLine) *string { return e.EncounterGUID }
	keys := m.keys(one(keyOf))
	if len(keys) == 0 {
		return m, nil
	}
	encs, err := r.src.Encounters(ctx, keys)
	if err != nil {
		return nil, err
	}
	byGUID := make(map[string]warehouse.EncounterRecord, len(encs))
	for _, enc := range encs {
		byGUID[enc.EncounterGUID] = enc
	}

	m.update(keyOf, func(e *EnrichedLine, key string) {
		enc, ok := byGUID[key]
		if !ok {
			return
		}
		e.EncounterID = enc.EncounterID
		e.EncounterDate = enc.DateOfService
		e.EncounterStatus = enc.Status
		e.AppointmentGUID = enc.AppointmentGUID
		e.ProviderGUID = enc.ProviderGUID
		e.LocationGUID = enc.LocationGUID
		e.AuthorizationID = enc.AuthorizationID
		e.PatientCaseID = enc.PatientCaseID
		e.POSCode = enc.POSCode
		e.ReferringProviderGUID = enc.ReferringProviderGUID
		e.PracticeGUID = enc.PracticeGUID
		if e.PatientGUID == nil {
			e.PatientGUID = enc.PatientGUID
		}
		e.Link = e.Link.advance(Success)
	})
	return m, nil
}

func (r *Resolver) linkAppointments(ctx context.Context, in linkMap) (linkMap, error) {
	m := in.clone()
	keyOf := func(e *EnrichedLine) *string { return e.AppointmentGUID }
	if keys := m.keys(one(keyOf)); len(keys) > 0 {
		appts, err := r.src.Appointments(ctx, keys)
		if err != nil {
			return nil, err
		}
		byGUID := make(map[string]warehouse.AppointmentRecord, len(appts))
		for _, a := range appts {
			byGUID[a.AppointmentGUID] = a
		}
		m.update(keyOf, func(e *EnrichedLine, key string) {
			if a, ok := byGUID[key]; ok {
				e.AppointmentType = a.Type
				e.AppointmentDescription = a.TypeDescription
				e.AppointmentSubject = a.Subject
				e.AppointmentNotes = a.Notes
			}
		})
	}

	posOf := func(e *EnrichedLine) *string { return e.POSCode }
	desc, err := r.dict.PlacesOfService(ctx, m.keys(one(posOf)))
	if err != nil {
		return nil, err
	}
	m.update(posOf, func(e *EnrichedLine, key string) {
		if d, ok := desc[key]; ok {
			e.POSDescription = ptr(d)
		}
	})
	return m, nil
}

func (r *Resolver) linkParties(ctx context.Context, in linkMap) (linkMap, error) {
	m := in.clone()

	patientOf := func(e *EnrichedLine) *string { return e.PatientGUID }
	if keys := m.keys(one(patientOf)); len(keys) > 0 {
		pats, err := r.src.Patients(ctx, keys)
		if err != nil {
			return nil, err
		}
		byGUID := make(map[string]warehouse.PatientRecord, len(pats))
		for _, p := range pats {
			byGUID[p.PatientGUID] = p
		}
		m.update(patientOf, func(e *EnrichedLine, key string) {
			p, ok := byGUID[key]
			if !ok {
				return
			}
			e.PatientID = p.PatientID
			e.PatientName = firstLast(p.FirstName, p.LastName)
			e.PatientDOB = p.DOB
			e.PatientGender = p.Gender
			e.PatientAddress = p.Address
			e.PatientCity = p.City
			e.PatientState = p.State
			e.PatientZip = p.Zip
		})
	}

	providers := m.keys(func(e *EnrichedLine) []*string {
		return []*string{e.ProviderGUID, e.ReferringProviderGUID}
	})
	if len(providers) > 0 {
		docs, err := r.src.Providers(ctx, providers)
		if err != nil {
			return nil, err
		}
		byGUID := make(map[string]warehouse.ProviderRecord, len(docs))
		for _, d := range docs {
			byGUID[d.DoctorGUID] = d
		}
		m.update(func(e *EnrichedLine) *string { return e.ProviderGUID }, func(e *EnrichedLine, key string) {
			if d, ok := byGUID[key]; ok {
				e.ProviderNPI = d.NPI
				e.ProviderName = firstLast(d.FirstName, d.LastName)
				e.ProviderTaxonomy = d.TaxonomyCode
			}
		})
		m.update(func(e *EnrichedLine) *string { return e.ReferringProviderGUID }, func(e *EnrichedLine, key string) {
			if d, ok := byGUID[key]; ok {
				e.ReferringProviderNPI = d.NPI
				e.ReferringProviderName = firstLast(d.FirstName, d.LastName)
			}
		})
	}

	locationOf := func(e *EnrichedLine) *string { return e.LocationGUID }
	if keys := m.keys(one(locationOf)); len(keys) > 0 {
		locs, err := r.src.Locations(ctx, keys)
		if err != nil {
			return nil, err
		}
		byGUID := make(map[string]warehouse.LocationRecord, len(locs))
		for _, l := range locs {
			byGUID[l.LocationGUID] = l
		}
		m.update(locationOf, func(e *EnrichedLine, key string) {
			if l, ok := byGUID[key]; ok {
				e.LocationName = l.Name
				e.LocationAddress = l.Address
				e.LocationCity = l.City
				e.LocationState = l.State
				e.LocationNPI = l.NPI
				e.LocationPOSCode = l.POSCode
			}
		})
	}
	return m, nil
}

// linkInsurance picks the policy authorized for the encounter, falling back
// to the patient case's first active policy by precedence.
func (r *Resolver) linkInsurance(ctx context.Context, in linkMap) (linkMap, error) {
	m := in.clone()

	authOf := func(e *EnrichedLine) *string { return e.AuthorizationID }
	if keys := m.keys(one(authOf)); len(keys) > 0 {
		auth, err := r.src.PolicyAuthorizations(ctx, keys)
		if err != nil {
			return nil, err
		}
		m.update(authOf, func(e *EnrichedLine, key string) {
			if g, ok := auth[key]; ok {
				e.PolicyGUID = ptr(g)
			}
		})
	}

	caseOf := func(e *EnrichedLine) *string {
		if e.PolicyGUID != nil {
			return nil
		}
		return e.PatientCaseID
	}
	if keys := m.keys(one(caseOf)); len(keys) > 0 {
		cases, err := r.src.CasePolicies(ctx, keys)
		if err != nil {
			return nil, err
		}
		m.update(caseOf, func(e *EnrichedLine, key string) {
			if g, ok := cases[key]; ok {
				e.PolicyGUID = ptr(g)
			}
		})
	}

	policyOf := func(e *EnrichedLine) *string { return e.PolicyGUID }
	keys := m.keys(one(policyOf))
	if len(keys) == 0 {
		return m, nil
	}
	pols, err := r.src.Policies(ctx, keys)
	if err != nil {
		return nil, err
	}
	byGUID := make(map[string]warehouse.PolicyRecord, len(pols))
	for _, p := range pols {
		byGUID[p.PolicyGUID] = p
	}
	m.update(policyOf, func(e *EnrichedLine, key string) {
		p, ok := byGUID[key]
		if !ok {
			return
		}
		e.PolicyNumber = p.PolicyNumber
		e.GroupNumber = p.GroupNumber
		e.PlanName = p.PlanName
		e.InsuranceCompany = p.CompanyName
		e.PolicyStart = p.StartDate
		e.PolicyEnd = p.EndDate
		e.Copay = p.Copay
		e.Precedence = p.Precedence
	})
	return m, nil
}

func ptr(s string) *string { return &s }

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return strings.TrimSpace(*s)
}

func firstLast(first, last *string) *string {
	name := strings.TrimSpace(deref(first) + " " + deref(last))
	if name == "" {
		return nil
	}
	return &name
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
