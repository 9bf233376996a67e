// Package warehouse reads the practice-management mirror: clearinghouse
// responses and the claim, encounter and reference tables used for linkage.
package warehouse

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// ErrSourceUnavailable marks failures to reach the warehouse at all, as
// opposed to a query that ran and failed.
var ErrSourceUnavailable = errors.New("warehouse unavailable")

const DefaultChunkSize = 1000

// Store runs bulk lookups against the warehouse. Every multi-key lookup is
// split into chunks of at most chunkSize keys.
type Store struct {
	pool      *pgxpool.Pool
	schema    string
	chunkSize int
}

func New(pool *pgxpool.Pool, schema string, chunkSize int) *Store {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &Store{pool: pool, schema: schema, chunkSize: chunkSize}
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}
	return nil
}

func (s *Store) table(name string) string {
	if s.schema == "" {
		return pgx.Identifier{name}.Sanitize()
	}
	return pgx.Identifier{s.schema, name}.Sanitize()
}

// classify tags connection-level failures with ErrSourceUnavailable.
func classify(op string, err error) error {
	var connErr *pgconn.ConnectError
	var netErr net.Error
	if errors.As(err, &connErr) || errors.As(err, &netErr) || pgconn.Timeout(err) {
		return fmt.Errorf("%s: %w: %v", op, ErrSourceUnavailable, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// chunks splits keys into slices of at most size elements.
func chunks(keys []string, size int) [][]string {
	var out [][]string
	for len(keys) > size {
		out = append(out, keys[:size:size])
		keys = keys[size:]
	}
	if len(keys) > 0 {
		out = append(out, keys)
	}
	return out
}

// queryChunked runs one query per chunk of keys and concatenates the rows.
// An empty key set issues no query.
func queryChunked[T any](ctx context.Context, s *Store, op, sql string, keys []string, scan pgx.RowToFunc[T]) ([]T, error) {
	var out []T
	for _, chunk := range chunks(keys, s.chunkSize) {
		rows, err := s.pool.Query(ctx, sql, chunk)
		if err != nil {
			return nil, classify(op, err)
		}
		got, err := pgx.CollectRows(rows, scan)
		if err != nil {
			return nil, classify(op, err)
		}
		out = append(out, got...)
	}
	return out, nil
}

type pair struct {
	Key   string
	Value *string
}

// lookupMap runs a two-column (key, value) lookup and returns non-null values.
func lookupMap(ctx context.Context, s *Store, op, sql string, keys []string) (map[string]string, error) {
	rows, err := queryChunked(ctx, s, op, sql, keys, pgx.RowToStructByPos[pair])
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(rows))
	for _, r := range rows {
		if r.Value != nil {
			out[r.Key] = *r.Value
		}
	}
	return out, nil
}

// Practices lists active practices that have at least one clearinghouse
// response, ordered by name.
func (s *Store) Practices(ctx context.Context) ([]Practice, error) {
	sql := fmt.Sprintf(`
		SELECT p.practiceguid::text, COALESCE(p.name, '')
		FROM %s p
		WHERE p.active = TRUE
		  AND EXISTS (SELECT 1 FROM %s c WHERE c.practiceguid::text = p.practiceguid::text)
		ORDER BY p.name`, s.table("pm_practice"), s.table("pm_clearinghouseresponse"))

	rows, err := s.pool.Query(ctx, sql)
	if err != nil {
		return nil, classify("query practices", err)
	}
	out, err := pgx.CollectRows(rows, pgx.RowToStructByPos[Practice])
	if err != nil {
		return nil, classify("scan practices", err)
	}
	return out, nil
}

// Practice looks up a single practice by GUID.
func (s *Store) Practice(ctx context.Context, guid string) (Practice, error) {
	sql := fmt.Sprintf(`SELECT practiceguid::text, COALESCE(name, '') FROM %s WHERE practiceguid::text = $1`,
		s.table("pm_practice"))
	var p Practice
	if err := s.pool.QueryRow(ctx, sql, guid).Scan(&p.GUID, &p.Name); err != nil {
		return Practice{}, classify("query practice "+guid, err)
	}
	return p, nil
}

// Responses returns every clearinghouse response for a practice received on
// or after since, newest first.
func (s *Store) Responses(ctx context.Context, practiceGUID string, since time.Time) ([]Response, error) {
	sql := fmt.Sprintf(`
		SELECT
			COALESCE(customerid::text, ''),
			COALESCE(clearinghouseresponseid::text, ''),
			COALESCE(clearinghouseresponsereporttypeid::text, ''),
			COALESCE(clearinghouseresponsereporttypename, ''),
			COALESCE(clearinghouseresponsesourcetypeid::text, ''),
			COALESCE(clearinghouseresponsesourcetypename, ''),
			COALESCE(denied, 0)::int,
			COALESCE(filecontents, ''),
			COALESCE(filename, ''),
			filereceivedate::timestamp,
			COALESCE(itemcount, 0)::int,
			COALESCE(paymentid::text, ''),
			COALESCE(practiceguid::text, ''),
			COALESCE(processedflag::text, ''),
			COALESCE(rejected, 0)::int,
			COALESCE(responsetype::text, ''),
			COALESCE(clearinghouseresponsetypename, ''),
			COALESCE(reviewedflag::text, ''),
			COALESCE(sourceaddress, ''),
			COALESCE(sourcename, ''),
			COALESCE(title, ''),
			COALESCE(totalamount, 0)::text
		FROM %s
		WHERE practiceguid::text = $1 AND filereceivedate >= $2
		ORDER BY filereceivedate DESC`, s.table("pm_clearinghouseresponse"))

	rows, err := s.pool.Query(ctx, sql, practiceGUID, since)
	if err != nil {
		return nil, classify("query clearinghouse responses", err)
	}
	defer rows.Close()

	var out []Response
	for rows.Next() {
		var (
			r        Response
			received pgtype.Timestamp
			total    string
		)
		if err := rows.Scan(
			&r.CustomerID, &r.ResponseID, &r.ReportTypeID, &r.ReportTypeName,
			&r.SourceTypeID, &r.SourceTypeName, &r.Denied, &r.Content, &r.FileName,
			&received, &r.ItemCount, &r.PaymentID, &r.PracticeGUID, &r.ProcessedFlag,
			&r.Rejected, &r.ResponseType, &r.ResponseTypeName, &r.ReviewedFlag,
			&r.SourceAddress, &r.SourceName, &r.Title, &total,
		); err != nil {
			return nil, classify("scan clearinghouse response", err)
		}
		if received.Valid {
			r.ReceivedAt = received.Time
		}
		r.TotalAmount, _ = decimal.NewFromString(total)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("read clearinghouse responses", err)
	}
	return out, nil
}
