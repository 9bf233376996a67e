package linkage

// LinkStatus records how far a line got through the linkage chain. It only
// moves forward: Failed, then ClaimFound, then Success.
type LinkStatus int32

const (
	Failed LinkStatus = iota
	ClaimFound
	Success
)

func (s LinkStatus) String() string {
	switch s {
	case ClaimFound:
		return "Claim Found"
	case Success:
		return "Success"
	default:
		return "Failed"
	}
}

// advance returns the later of s and to.
func (s LinkStatus) advance(to LinkStatus) LinkStatus {
	if to > s {
		return to
	}
	return s
}

// Diagnosis is one of the up to eight diagnosis pointers of a procedure.
type Diagnosis struct {
	Position             int32   `parquet:"position"`
	EncounterDiagnosisID string  `parquet:"encounter_diagnosis_id"`
	DictionaryID         *string `parquet:"dictionary_id,optional"`
	Description          *string `parquet:"description,optional"`
}

// Modifier is one of the up to four procedure modifiers.
type Modifier struct {
	Position    int32   `parquet:"position"`
	Code        string  `parquet:"code"`
	Description *string `parquet:"description,optional"`
}

// EnrichedLine is a service line joined with everything the warehouse knows
// about it. It is also the row schema of encounters_enriched.parquet.
type EnrichedLine struct {
	// Remittance line
	FileName               string  `parquet:"file_name"`
	ClaimReferenceID       string  `parquet:"claim_reference_id"`
	LineID                 string  `parquet:"line_id_ref6r"`
	Position               int32   `parquet:"position"`
	Date                   string  `parquet:"date"`
	ProcCode               string  `parquet:"proc_code"`
	Billed                 string  `parquet:"billed"`
	Paid                   string  `parquet:"paid"`
	Units                  string  `parquet:"units"`
	Adjustments            string  `parquet:"adjustments"`
	Status                 string  `parquet:"status"`
	AdjustmentDescriptions *string `parquet:"adjustment_descriptions,optional"`

	Link LinkStatus `parquet:"link_status"`

	// pm_claim
	ClaimID              *string `parquet:"claim_id,optional"`
	EncounterProcedureID *string `parquet:"encounter_procedure_id,optional"`
	PatientGUID          *string `parquet:"patient_guid,optional"`
	ClaimStatus          *string `parquet:"claim_status,optional"`
	PayerStatus          *string `parquet:"payer_status,optional"`
	ClearinghousePayer   *string `parquet:"clearinghouse_payer,optional"`
	TrackingNumber       *string `parquet:"tracking_number,optional"`
	ClaimPracticeGUID    *string `parquet:"claim_practice_guid,optional"`

	// pm_encounterprocedure and dictionaries
	EncounterGUID        *string     `parquet:"encounter_guid,optional"`
	ProcedureDictID      *string     `parquet:"procedure_dictionary_id,optional"`
	ProcedureDate        *string     `parquet:"procedure_date,optional"`
	ProcedureCharge      *string     `parquet:"procedure_charge,optional"`
	ProcedureUnits       *string     `parquet:"procedure_units,optional"`
	ProcedureDescription *string     `parquet:"procedure_description,optional"`
	Diagnoses            []Diagnosis `parquet:"diagnoses,list"`
	Modifiers            []Modifier  `parquet:"modifiers,list"`

	// pm_encounter
	EncounterID           *string `parquet:"encounter_id,optional"`
	EncounterDate         *string `parquet:"encounter_date,optional"`
	EncounterStatus       *string `parquet:"encounter_status,optional"`
	AppointmentGUID       *string `parquet:"appointment_guid,optional"`
	ProviderGUID          *string `parquet:"provider_guid,optional"`
	LocationGUID          *string `parquet:"location_guid,optional"`
	AuthorizationID       *string `parquet:"authorization_id,optional"`
	PatientCaseID         *string `parquet:"patient_case_id,optional"`
	POSCode               *string `parquet:"pos_code,optional"`
	ReferringProviderGUID *string `parquet:"referring_provider_guid,optional"`
	PracticeGUID          *string `parquet:"practice_guid,optional"`

	// pm_appointment, pm_placeofservice
	AppointmentType        *string `parquet:"appointment_type,optional"`
	AppointmentDescription *string `parquet:"appointment_description,optional"`
	AppointmentSubject     *string `parquet:"appointment_subject,optional"`
	AppointmentNotes       *string `parquet:"appointment_notes,optional"`
	POSDescription         *string `parquet:"pos_description,optional"`

	// pm_patient
	PatientID      *string `parquet:"patient_id,optional"`
	PatientName    *string `parquet:"patient_name,optional"`
	PatientDOB     *string `parquet:"patient_dob,optional"`
	PatientGender  *string `parquet:"patient_gender,optional"`
	PatientAddress *string `parquet:"patient_address,optional"`
	PatientCity    *string `parquet:"patient_city,optional"`
	PatientState   *string `parquet:"patient_state,optional"`
	PatientZip     *string `parquet:"patient_zip,optional"`

	// pm_doctor
	ProviderNPI           *string `parquet:"provider_npi,optional"`
	ProviderName          *string `parquet:"provider_name,optional"`
	ProviderTaxonomy      *string `parquet:"provider_taxonomy,optional"`
	ReferringProviderNPI  *string `parquet:"referring_provider_npi,optional"`
	ReferringProviderName *string `parquet:"referring_provider_name,optional"`

	// pm_servicelocation
	LocationName    *string `parquet:"location_name,optional"`
	LocationAddress *string `parquet:"location_address,optional"`
	LocationCity    *string `parquet:"location_city,optional"`
	LocationState   *string `parquet:"location_state,optional"`
	LocationNPI     *string `parquet:"location_npi,optional"`
	LocationPOSCode *string `parquet:"location_pos_code,optional"`

	// pm_insurancepolicy
	PolicyGUID       *string `parquet:"policy_guid,optional"`
	PolicyNumber     *string `parquet:"policy_number,optional"`
	GroupNumber      *string `parquet:"group_number,optional"`
	PlanName         *string `parquet:"plan_name,optional"`
	InsuranceCompany *string `parquet:"insurance_company,optional"`
	PolicyStart      *string `parquet:"policy_start,optional"`
	PolicyEnd        *string `parquet:"policy_end,optional"`
	Copay            *string `parquet:"copay,optional"`
	Precedence       *string `parquet:"precedence,optional"`
}

// clone copies e including its slices.
func (e EnrichedLine) clone() EnrichedLine {
	if e.Diagnoses != nil {
		e.Diagnoses = append([]Diagnosis(nil), e.Diagnoses...)
	}
	if e.Modifiers != nil {
		e.Modifiers = append([]Modifier(nil), e.Modifiers...)
	}
	return e
}

// linkMap is the per-stage state keyed by 6R line identifier.
type linkMap map[string]EnrichedLine

func (m linkMap) clone() linkMap {
	out := make(linkMap, len(m))
	for k, v := range m {
		out[k] = v.clone()
	}
	return out
}

// keys collects the distinct non-empty values of keyOf over the map.
func (m linkMap) keys(keyOf func(*EnrichedLine) []*string) []string {
	set := make(map[string]struct{})
	for _, e := range m {
		for _, k := range keyOf(&e) {
			if k != nil && *k != "" {
				set[*k] = struct{}{}
			}
		}
	}
	return sortedKeys(set)
}

// update calls fn for every entry whose key is set and stores the result.
func (m linkMap) update(keyOf func(*EnrichedLine) *string, fn func(e *EnrichedLine, key string)) {
	for id, e := range m {
		k := keyOf(&e)
		if k == nil || *k == "" {
			continue
		}
		fn(&e, *k)
		m[id] = e
	}
}

func one(f func(*EnrichedLine) *string) func(*EnrichedLine) []*string {
	return func(e *EnrichedLine) []*string { return []*string{f(e)} }
}

// Counts tallies lines by link status.
type Counts struct {
	Failed     int
	ClaimFound int
	Success    int
}

func (c Counts) Total() int { return c.Failed + c.ClaimFound + c.Success }

func CountStatus(lines []EnrichedLine) Counts {
	var c Counts
	for _, l := range lines {
		switch l.Link {
		case Success:
			c.Success++
		case ClaimFound:
			c.ClaimFound++
		default:
			c.Failed++
		}
	}
	return c
}
