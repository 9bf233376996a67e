package warehouse

import (
	"time"

	"github.com/shopspring/decimal"
)

// Practice is one processing unit.
type Practice struct {
	GUID string
	Name string
}

// Response is a row of pm_clearinghouseresponse. Only responses whose
// ReportTypeName is "ERA" carry a parseable remittance in Content.
type Response struct {
	CustomerID       string
	ResponseID       string
	ReportTypeID     string
	ReportTypeName   string
	SourceTypeID     string
	SourceTypeName   string
	Denied           int
	Content          string
	FileName         string
	ReceivedAt       time.Time
	ItemCount        int
	PaymentID        string
	PracticeGUID     string
	ProcessedFlag    string
	Rejected         int
	ResponseType     string
	ResponseTypeName string
	ReviewedFlag     string
	SourceAddress    string
	SourceName       string
	Title            string
	TotalAmount      decimal.Decimal
}

// IsERA reports whether the response is an electronic remittance advice.
func (r Response) IsERA() bool { return r.ReportTypeName == "ERA" }

type ClaimRecord struct {
	ClaimID              string
	EncounterProcedureID *string
	PatientGUID          *string
	StatusName           *string
	PayerStatus          *string
	ClearinghousePayer   *string
	TrackingNumber       *string
	PracticeGUID         *string
}

type ProcedureRecord struct {
	EncounterProcedureID string
	EncounterGUID        *string
	DictionaryID         *string
	DateOfService        *string
	ChargeAmount         *string
	UnitCount            *string
	TypeOfServiceDesc    *string
	DiagnosisIDs         [8]*string
	Modifiers            [4]*string
}

type EncounterRecord struct {
	EncounterGUID         string
	EncounterID           *string
	DateOfService         *string
	Status                *string
	AppointmentGUID       *string
	ProviderGUID          *string
	LocationGUID          *string
	AuthorizationID       *string
	PatientCaseID         *string
	POSCode               *string
	ReferringProviderGUID *string
	PracticeGUID          *string
	PatientGUID           *string
}

type AppointmentRecord struct {
	AppointmentGUID string
	Type            *string
	TypeDescription *string
	Subject         *string
	Notes           *string
}

type PatientRecord struct {
	PatientGUID  string
	PatientID    *string
	FirstName    *string
	LastName     *string
	DOB          *string
	Gender       *string
	Address      *string
	City         *string
	State        *string
	Zip          *string
	PracticeGUID *string
}

type ProviderRecord struct {
	DoctorGUID   string
	NPI          *string
	FirstName    *string
	LastName     *string
	PracticeGUID *string
	DoctorID     *string
	TaxonomyCode *string
}

type LocationRecord struct {
	LocationGUID string
	Name         *string
	Address      *string
	City         *string
	State        *string
	PracticeGUID *string
	NPI          *string
	POSCode      *string
	LocationID   *string
}

type PolicyRecord struct {
	PolicyGUID    string
	PolicyNumber  *string
	GroupNumber   *string
	PlanName      *string
	CompanyName   *string
	StartDate     *string
	EndDate       *string
	Copay         *string
	PracticeGUID  *string
	PatientCaseID *string
	Precedence    *string
}
