package tracker

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileTracker(t *testing.T) {
	path := filepath.Join(t.TempDir(), "metrics", "run.jsonl")
	tr, err := NewFile(path)
	require.NoError(t, err)

	now := time.Now()
	require.NoError(t, tr.LogStep(StepRecord{Time: now, Epoch: 1, Phase: PhaseTrain, Step: 0, Loss: 2.5}))
	require.NoError(t, tr.LogEpoch(EpochRecord{Time: now, Epoch: 1, TrainLoss: 2.5, ValidLoss: 2.0, BestLoss: 2.0, Saved: true}))
	require.NoError(t, tr.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var kinds []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var tagged struct {
			Kind string          `json:"kind"`
			Data json.RawMessage `json:"data"`
		}
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &tagged))
		kinds = append(kinds, tagged.Kind)
	}
	require.NoError(t, scanner.Err())
	assert.Equal(t, []string{"step", "epoch"}, kinds)
}

func TestNopTracker(t *testing.T) {
	tr := Nop()
	assert.NoError(t, tr.LogStep(StepRecord{}))
	assert.NoError(t, tr.LogEpoch(EpochRecord{}))
	assert.NoError(t, tr.Close())
}
