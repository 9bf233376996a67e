package store

import (
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
)

const receivedLayout = "2006-01-02 15:04:05"

func sanitizeUTF8(s string) string {
	return strings.ToValidUTF8(s, " ")
}

func optToPgText(s *string) pgtype.Text {
	if s == nil || *s == "" {
		return pgtype.Text{Valid: false}
	}
	return pgtype.Text{String: sanitizeUTF8(*s), Valid: true}
}

func strToPgText(s string) pgtype.Text {
	return optToPgText(&s)
}

func decimalToNumeric(d decimal.Decimal) pgtype.Numeric {
	return pgtype.Numeric{Int: d.Coefficient(), Exp: d.Exponent(), Valid: true}
}

// moneyToNumeric parses a money string, tolerating "$" and thousands
// separators. Unparseable input becomes NULL.
func moneyToNumeric(s string) pgtype.Numeric {
	s = strings.NewReplacer("$", "", ",", "").Replace(strings.TrimSpace(s))
	if s == "" {
		return pgtype.Numeric{Valid: false}
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return pgtype.Numeric{Valid: false}
	}
	return decimalToNumeric(d)
}

func optMoneyToNumeric(s *string) pgtype.Numeric {
	if s == nil {
		return pgtype.Numeric{Valid: false}
	}
	return moneyToNumeric(*s)
}

// optToPgDate accepts "2006-01-02" or "20060102", with anything after the
// date ignored.
func optToPgDate(s *string) pgtype.Date {
	if s == nil {
		return pgtype.Date{Valid: false}
	}
	v := strings.TrimSpace(*s)
	for _, layout := range []string{"2006-01-02", "20060102"} {
		if len(v) < len(layout) {
			continue
		}
		if t, err := time.Parse(layout, v[:len(layout)]); err == nil {
			return pgtype.Date{Time: t, Valid: true}
		}
	}
	return pgtype.Date{Valid: false}
}

func strToPgTimestamp(s string) pgtype.Timestamp {
	t, err := time.Parse(receivedLayout, strings.TrimSpace(s))
	if err != nil {
		return pgtype.Timestamp{Valid: false}
	}
	return pgtype.Timestamp{Time: t, Valid: true}
}

func uuidToPg(id uuid.UUID) pgtype.UUID {
	return pgtype.UUID{Bytes: id, Valid: true}
}

// jsonb renders v as a JSON document for a jsonb column.
func jsonb(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
