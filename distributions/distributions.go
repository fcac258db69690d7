// Package distributions resolves target survey-response distributions from a
// tab-separated table.
//
// The table has one row per country (or demographic group), with the
// identifier in the first column and the distribution over the survey's
// response categories in the last NumCategories columns. Any columns in
// between (sample sizes, metadata) are ignored.
package distributions

import (
	"os"
	"strings"

	"github.com/go-gota/gota/dataframe"
	"github.com/pkg/errors"
)

// NumCategories is the number of survey response categories, and therefore
// the length of every target vector.
const NumCategories = 10

// Table holds the parsed distribution table, keyed by identifier.
type Table struct {
	identifierColumn string
	vectors          map[string][]float64
}

// ReadFile loads a tab-separated distribution table from the given path.
// The first column is taken as the identifier column.
func ReadFile(path string) (*Table, error) {
	contents, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read distribution table %q", path)
	}
	return Read(string(contents))
}

// Read parses a tab-separated distribution table from a string.
func Read(contents string) (*Table, error) {
	df := dataframe.ReadCSV(strings.NewReader(contents),
		dataframe.HasHeader(true), dataframe.WithDelimiter('\t'))
	if df.Err != nil {
		return nil, errors.Wrap(df.Err, "failed to parse distribution table")
	}
	names := df.Names()
	if len(names) < NumCategories+1 {
		return nil, errors.Errorf("distribution table needs an identifier column plus %d category columns, got %d columns",
			NumCategories, len(names))
	}

	table := &Table{
		identifierColumn: names[0],
		vectors:          make(map[string][]float64, df.Nrow()),
	}
	idCol := df.Col(names[0])
	categoryCols := names[len(names)-NumCategories:]
	for row := 0; row < df.Nrow(); row++ {
		vector := make([]float64, 0, NumCategories)
		for _, colName := range categoryCols {
			elem := df.Col(colName).Elem(row)
			vector = append(vector, elem.Float())
		}
		table.vectors[idCol.Elem(row).String()] = vector
	}
	return table, nil
}

// IdentifierColumn returns the name of the column identifiers are matched
// against, usually "Country".
func (t *Table) IdentifierColumn() string { return t.identifierColumn }

// Identifiers returns all identifiers present in the table.
func (t *Table) Identifiers() []string {
	ids := make([]string, 0, len(t.vectors))
	for id := range t.vectors {
		ids = append(ids, id)
	}
	return ids
}

// TargetVector returns the NumCategories-element distribution for the given
// identifier. The match is exact: no normalization or fuzzy matching. A copy
// is returned, so callers cannot mutate the table.
func (t *Table) TargetVector(identifier string) ([]float64, error) {
	vector, found := t.vectors[identifier]
	if !found {
		return nil, errors.Errorf("identifier %q not found in distribution table (column %q has %d entries)",
			identifier, t.identifierColumn, len(t.vectors))
	}
	out := make([]float64, NumCategories)
	copy(out, vector)
	return out, nil
}
