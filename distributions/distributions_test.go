package distributions

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildTable(t *testing.T, rows map[string][]float64) *Table {
	var sb strings.Builder
	sb.WriteString("Country\tN")
	for ii := 1; ii <= NumCategories; ii++ {
		fmt.Fprintf(&sb, "\tQ%d", ii)
	}
	sb.WriteString("\n")
	for id, vector := range rows {
		fmt.Fprintf(&sb, "%s\t1000", id)
		for _, v := range vector {
			fmt.Fprintf(&sb, "\t%g", v)
		}
		sb.WriteString("\n")
	}
	table, err := Read(sb.String())
	require.NoError(t, err)
	return table
}

func TestTargetVector(t *testing.T) {
	nigeria := []float64{0.1, 0.1, 0.1, 0.1, 0.1, 0.1, 0.1, 0.1, 0.1, 0.1}
	germany := []float64{0.02, 0.03, 0.05, 0.1, 0.2, 0.2, 0.15, 0.1, 0.1, 0.05}
	table := buildTable(t, map[string][]float64{
		"Nigeria": nigeria,
		"Germany": germany,
	})

	got, err := table.TargetVector("Nigeria")
	require.NoError(t, err)
	assert.Len(t, got, NumCategories)
	assert.Equal(t, nigeria, got)

	got, err = table.TargetVector("Germany")
	require.NoError(t, err)
	assert.Equal(t, germany, got)

	// Returned vector is a copy, the table is immutable.
	got[0] = 99.0
	again, err := table.TargetVector("Germany")
	require.NoError(t, err)
	assert.Equal(t, germany, again)
}

func TestTargetVectorMissingIdentifier(t *testing.T) {
	table := buildTable(t, map[string][]float64{
		"Nigeria": {0.1, 0.1, 0.1, 0.1, 0.1, 0.1, 0.1, 0.1, 0.1, 0.1},
	})
	_, err := table.TargetVector("Atlantis")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Atlantis")

	// Exact match only: no case folding.
	_, err = table.TargetVector("nigeria")
	require.Error(t, err)
}

func TestTrailingColumnsSelected(t *testing.T) {
	// Extra metadata columns between the identifier and the categories must
	// not leak into the vector.
	var sb strings.Builder
	sb.WriteString("Country\tRegion\tN")
	for ii := 1; ii <= NumCategories; ii++ {
		fmt.Fprintf(&sb, "\tQ%d", ii)
	}
	sb.WriteString("\nJapan\tAsia\t1817")
	for ii := 1; ii <= NumCategories; ii++ {
		fmt.Fprintf(&sb, "\t%g", float64(ii)/100.0)
	}
	sb.WriteString("\n")

	table, err := Read(sb.String())
	require.NoError(t, err)
	got, err := table.TargetVector("Japan")
	require.NoError(t, err)
	require.Len(t, got, NumCategories)
	assert.InDelta(t, 0.01, got[0], 1e-9)
	assert.InDelta(t, 0.10, got[NumCategories-1], 1e-9)
}

func TestTooFewColumns(t *testing.T) {
	_, err := Read("Country\tQ1\tQ2\nNigeria\t0.5\t0.5\n")
	require.Error(t, err)
}
