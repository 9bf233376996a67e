package extract

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eralink/internal/batchfile"
	"eralink/internal/warehouse"
)

type fakeSource struct {
	responses []warehouse.Response
	err       error
}

func (f *fakeSource) Responses(ctx context.Context, practiceGUID string, since time.Time) ([]warehouse.Response, error) {
	return f.responses, f.err
}

const eraBody = `<segment name="BPR"><BPR01>I</BPR01><BPR02>100.00</BPR02><BPR04>CHK</BPR04></segment>` +
	`<segment name="TRN"><TRN01>1</TRN01><TRN02>CHK42</TRN02></segment>` +
	`<segment name="N1"><N101>PR</N101><N102>ACME</N102><N104>P01</N104></segment>` +
	`<segment name="CLP"><CLP01>C1</CLP01><CLP02>1</CLP02><CLP03>150</CLP03><CLP04>100</CLP04><CLP05>0</CLP05></segment>` +
	`<segment name="SVC"><SVC01>HC:99213</SVC01><SVC02>100</SVC02><SVC03>75</SVC03><SVC05>1</SVC05></segment>` +
	`<segment name="CAS"><CAS01>CO</CAS01><CAS02>45</CAS02><CAS03>25.00</CAS03></segment>` +
	`<segment name="REF"><REF01>6R</REF01><REF02>K123456A</REF02></segment>` +
	`<segment name="SVC"><SVC01>HC:36415</SVC01><SVC02>50</SVC02><SVC03>25</SVC03><SVC05>1</SVC05></segment>` +
	`<segment name="REF"><REF01>6R</REF01><REF02>123457</REF02></segment>`

func responses() []warehouse.Response {
	at := time.Date(2025, 9, 1, 10, 0, 0, 0, time.UTC)
	return []warehouse.Response{
		{ResponseID: "9001", ReportTypeName: "ERA", Content: eraBody, FileName: "era.xml", ReceivedAt: at, ItemCount: 1, TotalAmount: decimal.NewFromInt(150)},
		{ResponseID: "9002", ReportTypeName: "Rejection", Content: "rejected\nclaim", FileName: "rej.txt", ReceivedAt: at, SourceName: "ACME", Rejected: 1},
		{ResponseID: "", ReportTypeName: "ERA", Content: `<segment name="CLP"><CLP01>X`, FileName: "bad.xml", ReceivedAt: at},
	}
}

func TestExtract(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "Alpha_P-1")
	e := New(&fakeSource{responses: responses()}, zerolog.Nop())

	stats, err := e.Extract(context.Background(), warehouse.Practice{GUID: "P-1", Name: "Alpha"}, time.Time{}, dir)
	require.NoError(t, err)

	assert.Equal(t, Stats{Responses: 3, ERAs: 1, NonERA: 1, ParseErrors: 1, Claims: 1, Lines: 2}, stats)

	reports, err := batchfile.ReadReports(dir)
	require.NoError(t, err)
	require.Len(t, reports, 2)
	assert.Equal(t, "9001", reports[0].EraReportID)
	assert.Equal(t, "ACME", reports[0].PayerName)
	assert.Equal(t, "CHK42", reports[0].CheckNumber)
	assert.Equal(t, "100", reports[0].TotalPaid)
	assert.Equal(t, "150", reports[0].TotalAmount)
	assert.Equal(t, "9002", reports[1].EraReportID)
	assert.Equal(t, "ACME", reports[1].PayerName)
	assert.Equal(t, 1, reports[1].RejectedCount)

	lines, err := batchfile.ReadLines(dir)
	require.NoError(t, err)
	require.Len(t, lines, 2)
	assert.Equal(t, "123456", lines[0].LineID)
	assert.Equal(t, "CO-45:25.00", lines[0].Adjustments)
	assert.Equal(t, 2, lines[1].Position)
	assert.Equal(t, "123457", lines[1].LineID)
	assert.Equal(t, "C1", lines[1].ClaimID)

	claims, err := batchfile.ReadClaims(dir)
	require.NoError(t, err)
	require.Len(t, claims, 1)
	assert.Equal(t, "9001", claims[0].EraReportID)
}

func TestExtractSkipsClaimsWithoutID(t *testing.T) {
	body := `<segment name="CLP"><CLP01></CLP01><CLP02>4</CLP02><CLP03>80</CLP03><CLP04>0</CLP04></segment>` +
		`<segment name="SVC"><SVC01>HC:97110</SVC01><SVC02>80</SVC02><SVC03>0</SVC03><SVC05>1</SVC05></segment>` +
		`<segment name="REF"><REF01>6R</REF01><REF02>222222</REF02></segment>` +
		`<segment name="CLP"><CLP01>C7</CLP01><CLP02>1</CLP02><CLP03>40</CLP03><CLP04>40</CLP04></segment>` +
		`<segment name="SVC"><SVC01>HC:97112</SVC01><SVC02>40</SVC02><SVC03>40</SVC03><SVC05>1</SVC05></segment>`
	at := time.Date(2025, 9, 2, 9, 0, 0, 0, time.UTC)
	src := &fakeSource{responses: []warehouse.Response{
		{ResponseID: "9100", ReportTypeName: "ERA", Content: body, FileName: "partial.xml", ReceivedAt: at},
	}}
	dir := filepath.Join(t.TempDir(), "Beta_P-2")

	stats, err := New(src, zerolog.Nop()).Extract(context.Background(), warehouse.Practice{GUID: "P-2"}, time.Time{}, dir)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Claims)
	assert.Equal(t, 1, stats.Lines)
	assert.Equal(t, 1, stats.SkippedClaims)
	assert.Equal(t, 1, stats.SkippedLines)

	claims, err := batchfile.ReadClaims(dir)
	require.NoError(t, err)
	require.Len(t, claims, 1)
	assert.Equal(t, "C7", claims[0].ClaimID)

	lines, err := batchfile.ReadLines(dir)
	require.NoError(t, err)
	require.Len(t, lines, 1)
	assert.Equal(t, "C7", lines[0].ClaimID)
}

func TestExtractSourceError(t *testing.T) {
	e := New(&fakeSource{err: errors.New("boom")}, zerolog.Nop())
	_, err := e.Extract(context.Background(), warehouse.Practice{GUID: "P-1"}, time.Time{}, t.TempDir())
	assert.Error(t, err)
}

func TestReportIDFallback(t *testing.T) {
	at := time.Date(2025, 9, 1, 10, 0, 0, 0, time.UTC)
	r := warehouse.Response{FileName: "x.xml", ReceivedAt: at}
	id1 := ReportID(r)
	id2 := ReportID(r)
	assert.Equal(t, id1, id2)
	assert.NotEmpty(t, id1)

	r.FileName = "y.xml"
	assert.NotEqual(t, id1, ReportID(r))

	r.ResponseID = "77"
	assert.Equal(t, "77", ReportID(r))
}
