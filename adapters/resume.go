package adapters

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/context/checkpoints"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Checkpoint lineage layout under the checkpoint root:
//
//	{root}/argument/{model}/TH_{threshold}/{target}/{epoch}           resumed from
//	{root}/argument_survey/{model}/{strategy}_TH_{threshold}/{target}/epoch_{n}   written to
const (
	resumeLineage   = "argument"
	snapshotLineage = "argument_survey"
)

// ResumeDir returns the directory whose numbered subdirectories hold the
// adapter snapshots of a previous training stage.
func ResumeDir(root, modelName string, threshold int, target string) string {
	return filepath.Join(root, resumeLineage, modelName, fmt.Sprintf("TH_%d", threshold), target)
}

// SnapshotDir returns the directory for this stage's epoch-numbered snapshot.
func SnapshotDir(root, modelName, strategy string, threshold int, target string, epoch int) string {
	return filepath.Join(root, snapshotLineage, modelName,
		fmt.Sprintf("%s_TH_%d", strategy, threshold), target, fmt.Sprintf("epoch_%d", epoch))
}

// LatestEpoch scans dir for numerically named subdirectories and returns the
// highest number. Training is resume-only: if no numbered snapshot exists the
// run cannot proceed, and an error is returned.
func LatestEpoch(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, errors.Wrapf(err, "failed to list adapter snapshots in %q", dir)
	}
	best := -1
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		epoch, err := strconv.Atoi(entry.Name())
		if err != nil {
			continue
		}
		if epoch > best {
			best = epoch
		}
	}
	if best < 0 {
		return 0, errors.Errorf("no adapter snapshot to resume from in %q: expected numerically named subdirectories", dir)
	}
	return best, nil
}

// Load resolves the highest-numbered snapshot under resumeDir, reads its
// metadata and loads the adapter variables into ctx. It returns the metadata
// so the caller can construct the base model and adapter configuration.
func Load(ctx *context.Context, resumeDir string) (Metadata, error) {
	var m Metadata
	epoch, err := LatestEpoch(resumeDir)
	if err != nil {
		return m, err
	}
	snapshotDir := filepath.Join(resumeDir, strconv.Itoa(epoch))
	m, err = LoadMetadata(snapshotDir)
	if err != nil {
		return m, err
	}
	_, err = checkpoints.Load(ctx).Dir(snapshotDir).Immediate().Done()
	if err != nil {
		return m, errors.WithMessagef(err, "failed to load adapter snapshot %q", snapshotDir)
	}
	klog.V(1).Infof("Resumed adapter from %s (base model %s, rank %d)", snapshotDir, m.BaseModel, m.Rank)
	return m, nil
}
