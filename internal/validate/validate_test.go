package validate

import (
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eralink/internal/batchfile"
)

func writeUnit(t *testing.T, claims []string, lines []batchfile.LineRow) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "unit")
	w, err := batchfile.Create(dir)
	require.NoError(t, err)
	for _, c := range claims {
		require.NoError(t, w.WriteClaim(batchfile.ClaimRow{ClaimID: c}))
	}
	for _, l := range lines {
		require.NoError(t, w.WriteLine(l))
	}
	require.NoError(t, w.Close())
	return dir
}

func TestValidatePasses(t *testing.T) {
	dir := writeUnit(t, []string{"C1", "C2"}, []batchfile.LineRow{
		{ClaimID: "C1", LineID: "123456"},
		{ClaimID: "C2", LineID: "123457"},
	})

	res, err := Validate(dir, zerolog.Nop())
	require.NoError(t, err)
	assert.True(t, res.Passed)
	assert.Equal(t, 2, res.Claims)
	assert.Equal(t, 2, res.Lines)
	assert.NoError(t, res.Err())
}

func TestValidateOrphans(t *testing.T) {
	lines := []batchfile.LineRow{{ClaimID: "C1", LineID: "1"}}
	for i := 0; i < 7; i++ {
		lines = append(lines, batchfile.LineRow{ClaimID: fmt.Sprintf("X%d", i), LineID: fmt.Sprint(i)})
	}
	dir := writeUnit(t, []string{"C1"}, lines)

	res, err := Validate(dir, zerolog.Nop())
	require.NoError(t, err)
	assert.False(t, res.Passed)
	assert.Equal(t, 7, res.Orphans)
	assert.Len(t, res.Examples, maxExamples)
	assert.Equal(t, "X0", res.Examples[0].ClaimID)
	assert.True(t, errors.Is(res.Err(), ErrOrphanedLines))
}

func TestValidateBlankClaimIDIsOrphan(t *testing.T) {
	dir := writeUnit(t, []string{"C1", ""}, []batchfile.LineRow{
		{ClaimID: "C1", LineID: "123456"},
		{ClaimID: "", LineID: "123457", FileName: "era.xml"},
	})

	res, err := Validate(dir, zerolog.Nop())
	require.NoError(t, err)
	assert.False(t, res.Passed)
	assert.Equal(t, 1, res.Orphans)
	require.Len(t, res.Examples, 1)
	assert.Equal(t, "123457", res.Examples[0].LineID)
	assert.ErrorIs(t, res.Err(), ErrOrphanedLines)
}

func TestValidateMissingFilesPass(t *testing.T) {
	res, err := Validate(filepath.Join(t.TempDir(), "nothing"), zerolog.Nop())
	require.NoError(t, err)
	assert.True(t, res.Passed)
	assert.Zero(t, res.Lines)
}
