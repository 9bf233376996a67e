// Package refdict caches code-to-description lookups: the global adjustment
// reason and remark tables, and memoized batch lookups for procedure,
// diagnosis, modifier and place-of-service codes.
package refdict

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"eralink/internal/remit"
)

// GlobalSource loads the whole-table dictionaries.
type GlobalSource interface {
	AdjustmentReasons(ctx context.Context) (map[string]string, error)
	RemittanceRemarks(ctx context.Context) (map[string]string, error)
}

// Source serves batched per-code lookups.
type Source interface {
	ProcedureDescriptions(ctx context.Context, dictIDs []string) (map[string]string, error)
	ICD10Descriptions(ctx context.Context, dictIDs []string) (map[string]string, error)
	LegacyDiagnosisDescriptions(ctx context.Context, dictIDs []string) (map[string]string, error)
	Modifiers(ctx context.Context, codes []string) (map[string]string, error)
	PlacesOfService(ctx context.Context, codes []string) (map[string]string, error)
}

// Global holds the adjustment reason (CARC) and remittance remark (RARC)
// tables. It is loaded once per run and never modified afterwards.
type Global struct {
	reasons map[string]string
	remarks map[string]string
}

func LoadGlobal(ctx context.Context, src GlobalSource) (*Global, error) {
	reasons, err := src.AdjustmentReasons(ctx)
	if err != nil {
		return nil, fmt.Errorf("load adjustment reasons: %w", err)
	}
	remarks, err := src.RemittanceRemarks(ctx)
	if err != nil {
		return nil, fmt.Errorf("load remittance remarks: %w", err)
	}
	return NewGlobal(reasons, remarks), nil
}

func NewGlobal(reasons, remarks map[string]string) *Global {
	if reasons == nil {
		reasons = map[string]string{}
	}
	if remarks == nil {
		remarks = map[string]string{}
	}
	return &Global{reasons: reasons, remarks: remarks}
}

func (g *Global) Len() (reasons, remarks int) { return len(g.reasons), len(g.remarks) }

// Describe looks up an adjustment: reason table by reason code, then the
// remark table by full "group-reason" code, then by reason code.
func (g *Global) Describe(adj remit.Adjustment) (string, bool) {
	if adj.Reason == "" {
		return "", false
	}
	if d, ok := g.reasons[adj.Reason]; ok {
		return d, true
	}
	if d, ok := g.remarks[adj.Code()]; ok {
		return d, true
	}
	if d, ok := g.remarks[adj.Reason]; ok {
		return d, true
	}
	return "", false
}

// DescribeAll renders "CO-45: desc | PR-3: desc" for the described entries
// of a "; "-joined adjustment list.
func (g *Global) DescribeAll(adjustments string) string {
	var parts []string
	for _, adj := range remit.ParseAdjustments(adjustments) {
		if d, ok := g.Describe(adj); ok {
			parts = append(parts, adj.Code()+": "+d)
		}
	}
	return strings.Join(parts, " | ")
}

// Cache memoizes batched lookups for the lifetime of a run. Only keys not
// already cached are sent to the source; misses are remembered too so a
// code absent from the warehouse is not queried again.
type Cache struct {
	src        Source
	procedures memo
	diagnoses  memo
	modifiers  memo
	pos        memo
}

func NewCache(src Source) *Cache {
	return &Cache{
		src:        src,
		procedures: memo{},
		diagnoses:  memo{},
		modifiers:  memo{},
		pos:        memo{},
	}
}

// memo maps a key to its description; "" records a known miss.
type memo map[string]string

func (m memo) missing(keys []string) []string {
	var out []string
	for _, k := range keys {
		if _, ok := m[k]; !ok {
			out = append(out, k)
		}
	}
	return out
}

func (m memo) store(keys []string, found map[string]string) {
	for _, k := range keys {
		m[k] = found[k]
	}
}

func (m memo) pick(keys []string) map[string]string {
	out := make(map[string]string, len(keys))
	for _, k := range keys {
		if d := m[k]; d != "" {
			out[k] = d
		}
	}
	return out
}

func (c *Cache) lookup(ctx context.Context, m memo, keys []string, fetch func(context.Context, []string) (map[string]string, error)) (map[string]string, error) {
	keys = Distinct(keys)
	if miss := m.missing(keys); len(miss) > 0 {
		found, err := fetch(ctx, miss)
		if err != nil {
			return nil, err
		}
		m.store(miss, found)
	}
	return m.pick(keys), nil
}

func (c *Cache) Procedures(ctx context.Context, dictIDs []string) (map[string]string, error) {
	return c.lookup(ctx, c.procedures, dictIDs, c.src.ProcedureDescriptions)
}

// Diagnoses resolves diagnosis dictionary ids against the ICD-10 table and
// falls back to the legacy table for ids the ICD-10 table does not have.
func (c *Cache) Diagnoses(ctx context.Context, dictIDs []string) (map[string]string, error) {
	return c.lookup(ctx, c.diagnoses, dictIDs, func(ctx context.Context, ids []string) (map[string]string, error) {
		found, err := c.src.ICD10Descriptions(ctx, ids)
		if err != nil {
			return nil, fmt.Errorf("icd10 descriptions: %w", err)
		}
		if found == nil {
			found = make(map[string]string)
		}
		var missing []string
		for _, id := range ids {
			if _, ok := found[id]; !ok {
				missing = append(missing, id)
			}
		}
		if len(missing) == 0 {
			return found, nil
		}
		legacy, err := c.src.LegacyDiagnosisDescriptions(ctx, missing)
		if err != nil {
			return nil, fmt.Errorf("legacy diagnosis descriptions: %w", err)
		}
		for k, v := range legacy {
			found[k] = v
		}
		return found, nil
	})
}

func (c *Cache) Modifiers(ctx context.Context, codes []string) (map[string]string, error) {
	return c.lookup(ctx, c.modifiers, codes, c.src.Modifiers)
}

func (c *Cache) PlacesOfService(ctx context.Context, codes []string) (map[string]string, error) {
	return c.lookup(ctx, c.pos, codes, c.src.PlacesOfService)
}

// Distinct returns the sorted set of non-empty keys.
func Distinct(keys []string) []string {
	set := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		if k != "" {
			set[k] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
