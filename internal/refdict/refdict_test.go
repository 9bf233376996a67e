package refdict

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eralink/internal/remit"
)

type fakeSource struct {
	icd10, legacy, procs map[string]string
	calls                map[string][][]string
	err                  error
}

func newFake() *fakeSource {
	return &fakeSource{
		icd10:  map[string]string{"601": "Essential hypertension"},
		legacy: map[string]string{"602": "Legacy diabetes"},
		procs:  map[string]string{"801": "Office visit"},
		calls:  map[string][][]string{},
	}
}

func (f *fakeSource) pick(name string, src map[string]string, keys []string) (map[string]string, error) {
	f.calls[name] = append(f.calls[name], keys)
	if f.err != nil {
		return nil, f.err
	}
	out := map[string]string{}
	for _, k := range keys {
		if v, ok := src[k]; ok {
			out[k] = v
		}
	}
	return out, nil
}

func (f *fakeSource) ProcedureDescriptions(ctx context.Context, ids []string) (map[string]string, error) {
	return f.pick("procs", f.procs, ids)
}

func (f *fakeSource) ICD10Descriptions(ctx context.Context, ids []string) (map[string]string, error) {
	return f.pick("icd10", f.icd10, ids)
}

func (f *fakeSource) LegacyDiagnosisDescriptions(ctx context.Context, ids []string) (map[string]string, error) {
	return f.pick("legacy", f.legacy, ids)
}

func (f *fakeSource) Modifiers(ctx context.Context, codes []string) (map[string]string, error) {
	return f.pick("mods", map[string]string{"25": "Significant E/M"}, codes)
}

func (f *fakeSource) PlacesOfService(ctx context.Context, codes []string) (map[string]string, error) {
	return f.pick("pos", map[string]string{"11": "Office"}, codes)
}

func TestDiagnosesLegacyFallback(t *testing.T) {
	src := newFake()
	c := NewCache(src)

	got, err := c.Diagnoses(context.Background(), []string{"601", "602", "603", "602"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"601": "Essential hypertension", "602": "Legacy diabetes"}, got)

	require.Len(t, src.calls["icd10"], 1)
	assert.Equal(t, []string{"601", "602", "603"}, src.calls["icd10"][0])
	require.Len(t, src.calls["legacy"], 1)
	assert.Equal(t, []string{"602", "603"}, src.calls["legacy"][0])
}

func TestCacheMemoizesHitsAndMisses(t *testing.T) {
	src := newFake()
	c := NewCache(src)
	ctx := context.Background()

	_, err := c.Procedures(ctx, []string{"801", "999"})
	require.NoError(t, err)
	got, err := c.Procedures(ctx, []string{"801", "999"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"801": "Office visit"}, got)
	assert.Len(t, src.calls["procs"], 1)

	_, err = c.Procedures(ctx, []string{"801", "802"})
	require.NoError(t, err)
	require.Len(t, src.calls["procs"], 2)
	assert.Equal(t, []string{"802"}, src.calls["procs"][1])
}

func TestCacheEmptyKeysSkipQuery(t *testing.T) {
	src := newFake()
	c := NewCache(src)

	got, err := c.Modifiers(context.Background(), []string{"", ""})
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Empty(t, src.calls["mods"])
}

func TestCacheError(t *testing.T) {
	src := newFake()
	src.err = errors.New("down")
	c := NewCache(src)

	_, err := c.PlacesOfService(context.Background(), []string{"11"})
	assert.Error(t, err)

	// failed lookups are not memoized
	src.err = nil
	got, err := c.PlacesOfService(context.Background(), []string{"11"})
	require.NoError(t, err)
	assert.Equal(t, "Office", got["11"])
}

func TestGlobalDescribe(t *testing.T) {
	g := NewGlobal(
		map[string]string{"45": "Charge exceeds fee schedule"},
		map[string]string{"CO-N130": "full code remark", "M15": "bundled"},
	)

	tests := []struct {
		tok  string
		want string
		ok   bool
	}{
		{"CO-45:10.00", "Charge exceeds fee schedule", true},
		{"CO-N130:0", "full code remark", true},
		{"PR-M15:1", "bundled", true},
		{"OA-999:1", "", false},
		{"CO:1", "", false},
	}
	for _, tt := range tests {
		adj, _ := remit.ParseAdjustment(tt.tok)
		got, ok := g.Describe(adj)
		if got != tt.want || ok != tt.ok {
			t.Errorf("Describe(%q) = %q, %v; want %q, %v", tt.tok, got, ok, tt.want, tt.ok)
		}
	}

	all := g.DescribeAll("CO-45:10.00; OA-999:1; PR-M15:1")
	assert.Equal(t, "CO-45: Charge exceeds fee schedule | PR-M15: bundled", all)
}
