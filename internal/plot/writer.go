package plot

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/born-ml/diffrast/internal/logging"
	"github.com/born-ml/diffrast/internal/train"
)

// SnapshotWriter is a train.Observer that writes every snapshot to
// <Dir>/iter_NNNN.png.
type SnapshotWriter struct {
	dir    string
	figure *Figure
}

// NewSnapshotWriter creates dir if needed and returns a writer using figure.
func NewSnapshotWriter(dir string, figure *Figure) (*SnapshotWriter, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("plot: %w", err)
	}
	return &SnapshotWriter{dir: dir, figure: figure}, nil
}

// Path returns the file a snapshot of iteration i is written to.
func (w *SnapshotWriter) Path(i int) string {
	return filepath.Join(w.dir, fmt.Sprintf("iter_%04d.png", i))
}

// OnIteration implements train.Observer.
func (w *SnapshotWriter) OnIteration(int, float32) {}

// OnSnapshot implements train.Observer.
func (w *SnapshotWriter) OnSnapshot(s train.Snapshot) error {
	path := w.Path(s.Iteration)
	if err := w.figure.SavePNG(path, Snapshot(s.Output, s.ForwardDiff, s.Target)); err != nil {
		return err
	}
	logging.Logger().Debug("plot: wrote snapshot", "path", path, "loss", s.Loss)
	return nil
}

var _ train.Observer = (*SnapshotWriter)(nil)
