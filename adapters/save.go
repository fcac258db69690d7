package adapters

import (
	"os"

	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/context/checkpoints"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Writer persists adapter snapshots into the epoch-numbered lineage.
// Each snapshot holds the adapter metadata and the adapter variables only,
// never the frozen base weights or the optimizer state.
type Writer struct {
	ctx      *context.Context
	metadata Metadata

	root, modelName, strategy, target string
	threshold                         int
}

// NewWriter creates a Writer saving snapshots of ctx's adapter variables
// under the given lineage coordinates.
func NewWriter(ctx *context.Context, metadata Metadata, root, modelName, strategy string, threshold int, target string) *Writer {
	return &Writer{
		ctx:       ctx,
		metadata:  metadata,
		root:      root,
		modelName: modelName,
		strategy:  strategy,
		target:    target,
		threshold: threshold,
	}
}

// Dir returns the snapshot directory for the given 1-based epoch.
func (w *Writer) Dir(epoch int) string {
	return SnapshotDir(w.root, w.modelName, w.strategy, w.threshold, w.target, epoch)
}

// SaveEpoch writes the adapter snapshot for the given 1-based epoch,
// replacing any previous snapshot at the same path.
func (w *Writer) SaveEpoch(epoch int) error {
	dir := w.Dir(epoch)
	if err := os.RemoveAll(dir); err != nil {
		return errors.Wrapf(err, "failed to clear previous snapshot %q", dir)
	}
	if err := w.metadata.Write(dir); err != nil {
		return err
	}
	handler, err := checkpoints.Build(w.ctx).Dir(dir).Keep(1).
		ExcludeVars(BaseVariables(w.ctx)...).Done()
	if err != nil {
		return errors.WithMessagef(err, "failed to create snapshot writer for %q", dir)
	}
	if err = handler.Save(); err != nil {
		return errors.WithMessagef(err, "failed to save adapter snapshot %q", dir)
	}
	klog.V(1).Infof("Saved adapter snapshot to %s", dir)
	return nil
}
