// Package remit parses the XML-wrapped 835 segment encoding delivered by the
// clearinghouse into payer, claim and service-line records.
package remit

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

var lineIDRe = regexp.MustCompile(`K(\d{6})[A-Z0-9]*$`)

var segmentDesc = map[string]string{
	"ST":  "Transaction Set Header",
	"BPR": "Financial Information",
	"TRN": "Reassociation Trace Number",
	"CUR": "Currency",
	"REF": "Reference Information",
	"DTM": "Date/Time Reference",
	"N1":  "Party Identification",
	"N3":  "Party Address",
	"N4":  "Party Geographic Location",
	"PER": "Administrative Communications Contact",
	"LX":  "Header Number",
	"TS3": "Provider Summary Information",
	"TS2": "Provider Supplemental Summary Information",
	"CLP": "Claim Payment Information",
	"NM1": "Individual or Organizational Name",
	"MIA": "Inpatient Adjudication",
	"MOA": "Outpatient Adjudication",
	"SVC": "Service Payment Information",
	"CAS": "Claim Adjustment",
	"PLB": "Provider Level Adjustment",
	"SE":  "Transaction Set Trailer",
	"GE":  "Functional Group Trailer",
	"IEA": "Interchange Control Trailer",
	"ISA": "Interchange Control Header",
	"GS":  "Functional Group Header",
	"AMT": "Monetary Amount",
	"QTY": "Quantity",
	"LQ":  "Industry Code",
}

const unknownSegment = "Unknown Segment"

// ParseError reports a document whose encoding is not well-formed.
type ParseError struct {
	Err error
}

func (e *ParseError) Error() string { return "parse remittance: " + e.Err.Error() }

func (e *ParseError) Unwrap() error { return e.Err }

// ExtractLineID pulls the six-digit line identifier out of a 6R reference
// value such as "K123456XYZ1". Values that do not match are returned as-is.
func ExtractLineID(value string) string {
	value = strings.TrimSpace(value)
	if m := lineIDRe.FindStringSubmatch(value); m != nil {
		return m[1]
	}
	return value
}

// SegmentDescription returns the display name of a segment id.
func SegmentDescription(id string) string {
	if d, ok := segmentDesc[id]; ok {
		return d
	}
	return unknownSegment
}

type loopState int

const (
	loopNone loopState = iota
	loopPayer
	loopPayee
	loopClaim
)

// rawSegment mirrors <segment name="X"><X01>..</X01>...</segment>.
type rawSegment struct {
	Name     string       `xml:"name,attr"`
	Children []rawElement `xml:",any"`
}

type rawElement struct {
	XMLName xml.Name
	Inner   string `xml:",innerxml"`
	Text    string `xml:",chardata"`
}

// segment is a decoded segment with element lookup by tag.
type segment struct {
	id       string
	elements []Element
	byTag    map[string]string
}

func (s *segment) get(tag string) string { return s.byTag[tag] }

func newSegment(raw rawSegment) *segment {
	s := &segment{id: raw.Name, byTag: make(map[string]string, len(raw.Children))}
	for _, c := range raw.Children {
		tag := c.XMLName.Local
		if !isElementTag(raw.Name, tag) {
			continue
		}
		val := c.Text
		if val == "" && c.Inner != "" {
			val = stripTags(c.Inner)
		}
		if _, dup := s.byTag[tag]; dup {
			continue
		}
		s.byTag[tag] = val
		s.elements = append(s.elements, Element{Tag: tag, Value: val})
	}
	return s
}

// isElementTag reports whether tag has the form <segment id><two digits>.
func isElementTag(id, tag string) bool {
	if len(tag) != len(id)+2 || !strings.HasPrefix(tag, id) {
		return false
	}
	d := tag[len(id):]
	return d[0] >= '0' && d[0] <= '9' && d[1] >= '0' && d[1] <= '9'
}

func stripTags(inner string) string {
	var b strings.Builder
	dec := xml.NewDecoder(strings.NewReader("<x>" + inner + "</x>"))
	for {
		tok, err := dec.Token()
		if err != nil {
			break
		}
		if cd, ok := tok.(xml.CharData); ok {
			b.Write(cd)
		}
	}
	return b.String()
}

// parser carries the loop state and the in-progress claim and line.
type parser struct {
	out   *Remittance
	loop  loopState
	claim *Claim
	line  *ServiceLine
}

// Parse decodes one document body. The body is a sequence of <segment>
// elements without a single root; it is wrapped before decoding.
func Parse(content string) (*Remittance, error) {
	dec := xml.NewDecoder(strings.NewReader("<root>" + content + "</root>"))

	p := &parser{out: &Remittance{}}
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, &ParseError{Err: err}
		}
		start, ok := tok.(xml.StartElement)
		if !ok || start.Name.Local != "segment" {
			continue
		}
		var raw rawSegment
		if err := dec.DecodeElement(&raw, &start); err != nil {
			return nil, &ParseError{Err: err}
		}
		p.handle(newSegment(raw))
	}
	p.flushClaim()

	return p.out, nil
}

func (p *parser) handle(s *segment) {
	p.out.Segments = append(p.out.Segments, Segment{
		ID:       s.id,
		Desc:     SegmentDescription(s.id),
		Elements: s.elements,
	})

	switch s.id {
	case "BPR":
		p.out.Payment.TotalPaid = Amount(s.get("BPR02"))
		p.out.Payment.Method = s.get("BPR04")
		p.out.Payment.Format = s.get("BPR05")

	case "TRN":
		if s.get("TRN01") == "1" {
			p.out.Payment.CheckNumber = s.get("TRN02")
			p.out.Payment.OriginCompany = s.get("TRN03")
		}

	case "N1":
		switch s.get("N101") {
		case "PR":
			p.loop = loopPayer
			p.out.Payer.Name = s.get("N102")
			p.out.Payer.ID = s.get("N104")
		case "PE":
			p.loop = loopPayee
			p.out.Payee.Name = s.get("N102")
			p.out.Payee.ID = s.get("N104")
		case "QC":
			if p.claim != nil {
				p.claim.Patient.ID = s.get("N104")
			}
		}

	case "N3":
		if party := p.party(); party != nil {
			party.Address = s.get("N301")
		}

	case "N4":
		if party := p.party(); party != nil {
			party.Location = fmt.Sprintf("%s, %s %s", s.get("N401"), s.get("N402"), s.get("N403"))
		}

	case "CLP":
		p.flushClaim()
		p.loop = loopClaim
		p.claim = &Claim{
			ClaimID:            s.get("CLP01"),
			PayerControlNumber: s.get("CLP07"),
			StatusCode:         s.get("CLP02"),
			ChargeAmount:       Amount(s.get("CLP03")),
			PaidAmount:         Amount(s.get("CLP04")),
			PatientRespAmount:  Amount(s.get("CLP05")),
		}

	case "NM1":
		if p.claim == nil {
			return
		}
		switch s.get("NM101") {
		case "QC":
			p.claim.Patient.Name = strings.TrimSpace(fmt.Sprintf("%s, %s %s", s.get("NM103"), s.get("NM104"), s.get("NM105")))
			p.claim.Patient.ID = s.get("NM109")
		case "82":
			p.claim.Provider.Name = strings.TrimSpace(s.get("NM104") + " " + s.get("NM103"))
		}

	case "SVC":
		if p.claim == nil {
			return
		}
		p.flushLine()
		p.line = &ServiceLine{
			ProcCode: s.get("SVC01"),
			Charge:   Amount(s.get("SVC02")),
			Paid:     Amount(s.get("SVC03")),
			Units:    Amount(s.get("SVC05")),
		}

	case "DTM":
		val := s.get("DTM02")
		switch s.get("DTM01") {
		case "472":
			if p.line != nil {
				p.line.Date = val
			}
		case "405":
			switch p.loop {
			case loopPayer:
				p.out.Payer.EffectiveDate = val
			case loopNone:
				p.out.Payment.Date = val
			}
		}

	case "CAS":
		adj := fmt.Sprintf("%s-%s:%s", s.get("CAS01"), s.get("CAS02"), s.get("CAS03"))
		if p.line != nil {
			p.line.Adjustments = append(p.line.Adjustments, adj)
		} else if p.claim != nil {
			p.claim.Adjustments = append(p.claim.Adjustments, adj)
		}

	case "REF":
		if p.line != nil {
			p.line.Refs = append(p.line.Refs, Reference{Type: s.get("REF01"), Value: s.get("REF02")})
		}
	}
}

func (p *parser) party() *Party {
	switch p.loop {
	case loopPayer:
		return &p.out.Payer
	case loopPayee:
		return &p.out.Payee
	}
	return nil
}

func (p *parser) flushLine() {
	if p.line == nil || p.claim == nil {
		return
	}
	p.claim.ServiceLines = append(p.claim.ServiceLines, *p.line)
	p.line = nil
}

func (p *parser) flushClaim() {
	if p.claim == nil {
		return
	}
	p.flushLine()
	p.out.Claims = append(p.out.Claims, *p.claim)
	p.claim = nil
}

// Amount parses a monetary or quantity element. Empty or malformed input is zero.
func Amount(s string) decimal.Decimal {
	s = strings.TrimSpace(strings.NewReplacer("$", "", ",", "").Replace(s))
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}
