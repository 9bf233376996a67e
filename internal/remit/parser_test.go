package remit

import (
	"errors"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
)

func seg(name string, elems ...string) string {
	var b strings.Builder
	b.WriteString(`<segment name="` + name + `">`)
	for i, v := range elems {
		if v == "" {
			continue
		}
		tag := name + twoDigits(i+1)
		b.WriteString("<" + tag + ">" + v + "</" + tag + ">")
	}
	b.WriteString("</segment>")
	return b.String()
}

func twoDigits(n int) string {
	return string([]byte{byte('0' + n/10), byte('0' + n%10)})
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func sampleDocument() string {
	return strings.Join([]string{
		seg("ST", "835", "0001"),
		seg("BPR", "I", "150.00", "C", "ACH", "CCP"),
		seg("TRN", "1", "EFT998877", "1234567890"),
		seg("DTM", "405", "20240301"),
		seg("N1", "PR", "ACME HEALTH PLAN", "", "PAYER01"),
		seg("N3", "PO BOX 100"),
		seg("N4", "SPRINGFIELD", "IL", "62701"),
		seg("DTM", "405", "20240115"),
		seg("N1", "PE", "FAMILY CLINIC", "XX", "1999999999"),
		seg("N3", "1 MAIN ST"),
		seg("N4", "DENVER", "CO", "80202"),
		seg("CLP", "CLM001", "1", "200.00", "150.00", "20.00", "12", "PCN555"),
		seg("NM1", "QC", "1", "DOE", "JANE", "Q", "", "", "", "MBR123"),
		seg("NM1", "82", "1", "SMITH", "JOHN"),
		seg("SVC", "HC:99213", "120.00", "100.00", "", "1"),
		seg("DTM", "472", "20240210"),
		seg("CAS", "CO", "45", "20.00"),
		seg("REF", "6R", "K123456XYZ1"),
		seg("SVC", "HC:36415", "80.00", "50.00", "", "2"),
		seg("DTM", "472", "20240211"),
		seg("CAS", "PR", "3", "30.00"),
		seg("REF", "6R", "654321"),
		seg("SE", "20", "0001"),
	}, "")
}

func TestParseRoundTrip(t *testing.T) {
	r, err := Parse(sampleDocument())
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if r.Payer.Name != "ACME HEALTH PLAN" || r.Payer.ID != "PAYER01" {
		t.Errorf("payer = %+v", r.Payer)
	}
	if r.Payer.Address != "PO BOX 100" {
		t.Errorf("payer address = %q, want %q", r.Payer.Address, "PO BOX 100")
	}
	if r.Payer.Location != "SPRINGFIELD, IL 62701" {
		t.Errorf("payer location = %q", r.Payer.Location)
	}
	if r.Payer.EffectiveDate != "20240115" {
		t.Errorf("payer effective date = %q, want %q", r.Payer.EffectiveDate, "20240115")
	}
	if r.Payee.Name != "FAMILY CLINIC" || r.Payee.Location != "DENVER, CO 80202" {
		t.Errorf("payee = %+v", r.Payee)
	}
	if r.Payment.Date != "20240301" {
		t.Errorf("payment date = %q, want %q", r.Payment.Date, "20240301")
	}
	if !r.Payment.TotalPaid.Equal(dec("150")) || r.Payment.Method != "ACH" || r.Payment.Format != "CCP" {
		t.Errorf("payment = %+v", r.Payment)
	}
	if r.Payment.CheckNumber != "EFT998877" || r.Payment.OriginCompany != "1234567890" {
		t.Errorf("trace = %q/%q", r.Payment.CheckNumber, r.Payment.OriginCompany)
	}

	if len(r.Claims) != 1 {
		t.Fatalf("claims = %d, want 1", len(r.Claims))
	}
	c := r.Claims[0]
	if c.ClaimID != "CLM001" || c.PayerControlNumber != "PCN555" || c.StatusCode != "1" {
		t.Errorf("claim header = %+v", c)
	}
	if !c.ChargeAmount.Equal(dec("200")) || !c.PaidAmount.Equal(dec("150")) || !c.PatientRespAmount.Equal(dec("20")) {
		t.Errorf("claim amounts = %s/%s/%s", c.ChargeAmount, c.PaidAmount, c.PatientRespAmount)
	}
	if c.Patient.Name != "DOE, JANE Q" || c.Patient.ID != "MBR123" {
		t.Errorf("patient = %+v", c.Patient)
	}
	if c.Provider.Name != "JOHN SMITH" {
		t.Errorf("provider = %q, want %q", c.Provider.Name, "JOHN SMITH")
	}
	if len(c.Adjustments) != 0 {
		t.Errorf("claim adjustments = %v, want none", c.Adjustments)
	}

	if len(c.ServiceLines) != 2 {
		t.Fatalf("service lines = %d, want 2", len(c.ServiceLines))
	}
	tests := []struct {
		proc, date, adj, lineID string
		charge, paid, units     string
	}{
		{"HC:99213", "20240210", "CO-45:20.00", "123456", "120", "100", "1"},
		{"HC:36415", "20240211", "PR-3:30.00", "654321", "80", "50", "2"},
	}
	for i, tt := range tests {
		l := c.ServiceLines[i]
		if l.ProcCode != tt.proc {
			t.Errorf("line %d proc = %q, want %q", i, l.ProcCode, tt.proc)
		}
		if l.Date != tt.date {
			t.Errorf("line %d date = %q, want %q", i, l.Date, tt.date)
		}
		if len(l.Adjustments) != 1 || l.Adjustments[0] != tt.adj {
			t.Errorf("line %d adjustments = %v, want [%s]", i, l.Adjustments, tt.adj)
		}
		if got := l.LineID(); got != tt.lineID {
			t.Errorf("line %d LineID() = %q, want %q", i, got, tt.lineID)
		}
		if !l.Charge.Equal(dec(tt.charge)) || !l.Paid.Equal(dec(tt.paid)) || !l.Units.Equal(dec(tt.units)) {
			t.Errorf("line %d amounts = %s/%s/%s", i, l.Charge, l.Paid, l.Units)
		}
	}

	if len(r.Segments) != 23 {
		t.Errorf("segments = %d, want 23", len(r.Segments))
	}
}

func TestParseClaimLevelAdjustmentAndMultipleClaims(t *testing.T) {
	doc := strings.Join([]string{
		seg("CLP", "A1", "4", "50.00", "0", "0"),
		seg("CAS", "CO", "29", "50.00"),
		seg("CLP", "A2", "1", "10.00", "10.00", "0"),
		seg("SVC", "HC:99211", "10.00", "10.00"),
	}, "")

	r, err := Parse(doc)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(r.Claims) != 2 {
		t.Fatalf("claims = %d, want 2", len(r.Claims))
	}
	if got := r.Claims[0].Adjustments; len(got) != 1 || got[0] != "CO-29:50.00" {
		t.Errorf("claim adjustments = %v", got)
	}
	if len(r.Claims[0].ServiceLines) != 0 {
		t.Errorf("claim A1 lines = %d, want 0", len(r.Claims[0].ServiceLines))
	}
	if len(r.Claims[1].ServiceLines) != 1 {
		t.Errorf("claim A2 lines = %d, want 1", len(r.Claims[1].ServiceLines))
	}
}

func TestParseUnknownSegmentsRecorded(t *testing.T) {
	doc := seg("ZZZ", "x") + seg("CLP", "C1", "1", "1", "1", "0")
	r, err := Parse(doc)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(r.Segments) != 2 {
		t.Fatalf("segments = %d, want 2", len(r.Segments))
	}
	if r.Segments[0].Desc != "Unknown Segment" {
		t.Errorf("desc = %q, want Unknown Segment", r.Segments[0].Desc)
	}
	if len(r.Segments[0].Elements) != 1 || r.Segments[0].Elements[0].Tag != "ZZZ01" {
		t.Errorf("elements = %+v", r.Segments[0].Elements)
	}
	if r.Segments[1].Desc != "Claim Payment Information" {
		t.Errorf("desc = %q", r.Segments[1].Desc)
	}
}

func TestParseSegmentsOutsideClaimIgnored(t *testing.T) {
	doc := seg("SVC", "HC:1", "1", "1") + seg("CAS", "CO", "45", "1") + seg("NM1", "QC", "1", "X")
	r, err := Parse(doc)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(r.Claims) != 0 {
		t.Errorf("claims = %d, want 0", len(r.Claims))
	}
}

func TestParseMalformed(t *testing.T) {
	_, err := Parse(`<segment name="CLP"><CLP01>X</CLP01>`)
	if err == nil {
		t.Fatal("expected error for truncated document")
	}
	var pe *ParseError
	if !errors.As(err, &pe) {
		t.Fatalf("error type = %T, want *ParseError", err)
	}
}

func TestExtractLineID(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"K123456XYZ1", "123456"},
		{"123456", "123456"},
		{"K654321", "654321"},
		{"ABCK000123Z", "000123"},
		{"K12345", "K12345"},
		{"  K999999  ", "999999"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := ExtractLineID(tt.in); got != tt.want {
			t.Errorf("ExtractLineID(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestParseAdjustments(t *testing.T) {
	adjs := ParseAdjustments("CO-45:20.00; PR-3:5; OA-23")
	if len(adjs) != 3 {
		t.Fatalf("len = %d, want 3", len(adjs))
	}
	if adjs[0].Code() != "CO-45" || !adjs[0].Amount.Equal(dec("20")) {
		t.Errorf("adjs[0] = %+v", adjs[0])
	}
	if adjs[1].String() != "PR-3:5.00" {
		t.Errorf("adjs[1].String() = %q", adjs[1].String())
	}
	if adjs[2].Reason != "23" || !adjs[2].Amount.IsZero() {
		t.Errorf("adjs[2] = %+v", adjs[2])
	}
	if got := ParseAdjustments(""); len(got) != 0 {
		t.Errorf("empty = %v", got)
	}
}
