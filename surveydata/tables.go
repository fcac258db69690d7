package surveydata

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/go-gota/gota/dataframe"
	"github.com/pkg/errors"
)

// Split file names inside the argument-generation directory. Despite the
// extension, both files are tab-separated.
const (
	TrainFile = "train.csv"
	ValidFile = "valid.csv"
)

// Example is one row of a split: the argument-generation input and the
// response to learn.
type Example struct {
	Text  string
	Label string
}

// ReadSplits loads the train and validation splits from dir.
func ReadSplits(dir string) (train, valid []Example, err error) {
	train, err = readSplit(filepath.Join(dir, TrainFile))
	if err != nil {
		return nil, nil, err
	}
	valid, err = readSplit(filepath.Join(dir, ValidFile))
	if err != nil {
		return nil, nil, err
	}
	return train, valid, nil
}

func readSplit(path string) ([]Example, error) {
	contents, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read split %q", path)
	}
	examples, err := parseSplit(string(contents))
	if err != nil {
		return nil, errors.WithMessagef(err, "while parsing split %q", path)
	}
	return examples, nil
}

func parseSplit(contents string) ([]Example, error) {
	df := dataframe.ReadCSV(strings.NewReader(contents),
		dataframe.HasHeader(true), dataframe.WithDelimiter('\t'))
	if df.Err != nil {
		return nil, errors.Wrap(df.Err, "failed to parse split")
	}
	for _, required := range []string{"text", "label"} {
		if !hasColumn(df.Names(), required) {
			return nil, errors.Errorf("split is missing column %q, has %v", required, df.Names())
		}
	}
	texts := df.Col("text").Records()
	labels := df.Col("label").Records()
	examples := make([]Example, len(texts))
	for ii := range texts {
		examples[ii] = Example{Text: texts[ii], Label: labels[ii]}
	}
	return examples, nil
}

func hasColumn(names []string, name string) bool {
	for _, n := range names {
		if n == name {
			return true
		}
	}
	return false
}
