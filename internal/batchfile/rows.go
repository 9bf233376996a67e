// Package batchfile reads and writes the per-unit intermediate files that
// connect extraction, validation, enrichment and loading.
package batchfile

// File names inside a unit directory.
const (
	ReportsFile    = "era_reports.csv"
	ClaimsFile     = "claims_extracted.csv"
	LinesFile      = "service_lines.csv"
	RejectionsFile = "rejections.csv"
	DocumentsFile  = "eras_extracted.jsonl"
	EnrichedFile   = "encounters_enriched.parquet"
)

var reportHeader = []string{
	"EraReportID", "ClearinghouseResponseID", "CustomerID",
	"FileName", "ReceivedDate",
	"ReportTypeID", "ReportTypeName",
	"SourceTypeID", "SourceTypeName",
	"PayerName", "PayerID", "CheckNumber", "CheckDate",
	"TotalPaid", "TotalAmount", "Method", "PracticeGUID",
	"DeniedCount", "RejectedCount", "ClaimCount",
	"PaymentID", "ProcessedFlag", "ResponseType", "ResponseTypeName",
	"ReviewedFlag", "SourceAddress", "Title",
}

var claimHeader = []string{
	"EraReportID", "FileName", "ReceivedDate", "PayerName",
	"ClaimID", "PayerControlNumber",
	"PatientName", "PatientID", "ProviderName",
	"Status", "Billed", "Paid", "PatResp", "Adjustments",
}

var lineHeader = []string{
	"FileName", "ClaimID", "LineID_Ref6R", "Position",
	"Date", "ProcCode", "Billed", "Paid", "Units", "Adjustments", "Status",
}

var rejectionHeader = []string{"ReceivedDate", "FileName", "Type", "ContentSnippet"}

// ReportRow is one clearinghouse response, ERA or not.
type ReportRow struct {
	EraReportID             string
	ClearinghouseResponseID string
	CustomerID              string
	FileName                string
	ReceivedDate            string
	ReportTypeID            string
	ReportTypeName          string
	SourceTypeID            string
	SourceTypeName          string
	PayerName               string
	PayerID                 string
	CheckNumber             string
	CheckDate               string
	TotalPaid               string
	TotalAmount             string
	Method                  string
	PracticeGUID            string
	DeniedCount             int
	RejectedCount           int
	ClaimCount              int
	PaymentID               string
	ProcessedFlag           string
	ResponseType            string
	ResponseTypeName        string
	ReviewedFlag            string
	SourceAddress           string
	Title                   string
}

// ClaimRow is one CLP loop of a parsed remittance.
type ClaimRow struct {
	EraReportID        string
	FileName           string
	ReceivedDate       string
	PayerName          string
	ClaimID            string
	PayerControlNumber string
	PatientName        string
	PatientID          string
	ProviderName       string
	Status             string
	Billed             string
	Paid               string
	PatResp            string
	Adjustments        string
}

// LineRow is one SVC loop. LineID is the 6R identifier used for linkage and
// Position is the 1-based index of the line within its claim.
type LineRow struct {
	FileName    string
	ClaimID     string
	LineID      string
	Position    int
	Date        string
	ProcCode    string
	Billed      string
	Paid        string
	Units       string
	Adjustments string
	Status      string
}

// RejectionRow records a non-ERA response for audit.
type RejectionRow struct {
	ReceivedDate   string
	FileName       string
	Type           string
	ContentSnippet string
}
