// Package tracker records training metrics for later comparison across
// sweep runs. The default implementation appends JSON lines to a file next
// to the checkpoint lineage; remote experiment-tracking transports can
// implement the same interface.
package tracker

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
)

// Phase of the epoch being recorded.
type Phase string

const (
	PhaseTrain      Phase = "train"
	PhaseValidation Phase = "validation"
)

// StepRecord is one batch's loss.
type StepRecord struct {
	Time  time.Time `json:"time"`
	Epoch int       `json:"epoch"`
	Phase Phase     `json:"phase"`
	Step  int       `json:"step"`
	Loss  float64   `json:"loss"`
}

// EpochRecord summarizes one epoch.
type EpochRecord struct {
	Time      time.Time `json:"time"`
	Epoch     int       `json:"epoch"`
	TrainLoss float64   `json:"train_loss"`
	ValidLoss float64   `json:"valid_loss"`
	BestLoss  float64   `json:"best_loss"`
	Saved     bool      `json:"saved"`
}

// Tracker receives training metrics. Implementations must tolerate being
// called from a single goroutine only.
type Tracker interface {
	LogStep(record StepRecord) error
	LogEpoch(record EpochRecord) error
	Close() error
}

// Nop returns a Tracker that discards everything.
func Nop() Tracker { return nopTracker{} }

type nopTracker struct{}

func (nopTracker) LogStep(StepRecord) error   { return nil }
func (nopTracker) LogEpoch(EpochRecord) error { return nil }
func (nopTracker) Close() error               { return nil }

// File is a Tracker appending one JSON object per line.
type File struct {
	file    *os.File
	encoder *json.Encoder
}

// NewFile creates (or appends to) a JSONL metrics file at path, creating
// parent directories as needed.
func NewFile(path string) (*File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o777); err != nil {
		return nil, errors.Wrapf(err, "failed to create metrics directory for %q", path)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o666)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open metrics file %q", path)
	}
	return &File{file: f, encoder: json.NewEncoder(f)}, nil
}

type taggedRecord struct {
	Kind string `json:"kind"`
	Data any    `json:"data"`
}

// LogStep implements Tracker.
func (t *File) LogStep(record StepRecord) error {
	return errors.Wrap(t.encoder.Encode(taggedRecord{Kind: "step", Data: record}),
		"failed to append step record")
}

// LogEpoch implements Tracker.
func (t *File) LogEpoch(record EpochRecord) error {
	return errors.Wrap(t.encoder.Encode(taggedRecord{Kind: "epoch", Data: record}),
		"failed to append epoch record")
}

// Close implements Tracker.
func (t *File) Close() error {
	return errors.Wrap(t.file.Close(), "failed to close metrics file")
}
