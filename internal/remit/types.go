package remit

import "github.com/shopspring/decimal"

// Remittance is the structured form of one 835-style payment document.
type Remittance struct {
	Payer    Party     `json:"payer"`
	Payee    Party     `json:"payee"`
	Payment  Payment   `json:"payment"`
	Claims   []Claim   `json:"claims"`
	Segments []Segment `json:"segments"`
}

// Party is a payer or payee loop (N1/N3/N4).
type Party struct {
	Name          string `json:"name,omitempty"`
	ID            string `json:"id,omitempty"`
	Address       string `json:"address,omitempty"`
	Location      string `json:"location,omitempty"`
	EffectiveDate string `json:"effective_date,omitempty"`
}

// Payment holds the BPR/TRN header and the production date.
type Payment struct {
	TotalPaid     decimal.Decimal `json:"total_paid"`
	Method        string          `json:"method,omitempty"`
	Format        string          `json:"format,omitempty"`
	CheckNumber   string          `json:"check_number,omitempty"`
	OriginCompany string          `json:"origin_company,omitempty"`
	Date          string          `json:"date,omitempty"`
}

type Person struct {
	Name string `json:"name,omitempty"`
	ID   string `json:"id,omitempty"`
}

type Claim struct {
	ClaimID            string          `json:"claim_id"`
	PayerControlNumber string          `json:"payer_control_number,omitempty"`
	StatusCode         string          `json:"status_code"`
	ChargeAmount       decimal.Decimal `json:"charge_amount"`
	PaidAmount         decimal.Decimal `json:"paid_amount"`
	PatientRespAmount  decimal.Decimal `json:"patient_resp"`
	Patient            Person          `json:"patient"`
	Provider           Person          `json:"provider"`
	ServiceLines       []ServiceLine   `json:"service_lines"`
	Adjustments        []string        `json:"adjustments"`
}

type ServiceLine struct {
	ProcCode    string          `json:"proc_code"`
	Charge      decimal.Decimal `json:"charge"`
	Paid        decimal.Decimal `json:"paid"`
	Date        string          `json:"date"`
	Units       decimal.Decimal `json:"units"`
	Adjustments []string        `json:"adjustments"`
	Refs        []Reference     `json:"refs"`
}

// Reference is a REF qualifier/value pair.
type Reference struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

// Segment is the audit record of a single raw segment.
type Segment struct {
	ID       string    `json:"id"`
	Desc     string    `json:"desc"`
	Elements []Element `json:"elements"`
}

type Element struct {
	Tag   string `json:"tag"`
	Value string `json:"value"`
}

// LineID returns the linkage identifier carried in the line's 6R reference,
// or "" when the line has none.
func (l ServiceLine) LineID() string {
	for _, ref := range l.Refs {
		if ref.Type == "6R" {
			return ExtractLineID(ref.Value)
		}
	}
	return ""
}

// ClaimStatusDescription maps CLP02 claim status codes to display text.
func ClaimStatusDescription(code string) string {
	switch code {
	case "1":
		return "Processed as Primary"
	case "2":
		return "Processed as Secondary"
	case "3":
		return "Processed as Tertiary"
	case "4":
		return "Denied"
	case "19":
		return "Processed as Primary, Forwarded"
	case "20":
		return "Processed as Secondary, Forwarded"
	case "21":
		return "Processed as Tertiary, Forwarded"
	case "22":
		return "Reversal of Previous Payment"
	case "23":
		return "Not Our Claim, Forwarded"
	case "25":
		return "Predetermination Pricing Only"
	default:
		return code
	}
}
