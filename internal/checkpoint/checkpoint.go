package checkpoint

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/hogwild-ml/hogwild/internal/tensor"
	"github.com/hogwild-ml/hogwild/internal/train"
)

// Saver persists training parameters to a directory. Periodic saves
// overwrite params.safetensors through an atomic rename; the final save
// additionally writes params.final.safetensors so an interrupted overwrite
// can never eat the end-of-run state.
type Saver struct {
	dir string
	log *slog.Logger

	saves int
}

// NewSaver creates the directory if needed and returns a Saver writing
// into it.
func NewSaver(dir string, logger *slog.Logger) (*Saver, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating checkpoint dir: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Saver{dir: dir, log: logger}, nil
}

// Save writes the graph's current parameters.
func (s *Saver) Save(g train.Graph, final bool) error {
	s.saves++
	metadata := map[string]string{
		"format":   "hogwild",
		"saved_at": time.Now().UTC().Format(time.RFC3339),
		"save_seq": strconv.Itoa(s.saves),
		"final":    strconv.FormatBool(final),
	}
	tensors := map[string]*tensor.RawTensor{"params": g.Params()}

	path := filepath.Join(s.dir, "params.safetensors")
	tmp := path + ".tmp"
	if err := Write(tmp, tensors, metadata); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("publishing checkpoint: %w", err)
	}

	if final {
		if err := Write(filepath.Join(s.dir, "params.final.safetensors"), tensors, metadata); err != nil {
			return err
		}
	}

	s.log.Info("checkpoint written", "path", path, "final", final, "save_seq", s.saves)
	return nil
}

// Restore loads the newest checkpoint in the directory into dst. It returns
// false without error when no checkpoint exists yet.
func Restore(dir string, dst *tensor.RawTensor) (bool, error) {
	path := filepath.Join(dir, "params.safetensors")
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return false, nil
	}
	tensors, _, err := Read(path, dst.Device())
	if err != nil {
		return false, err
	}
	params, ok := tensors["params"]
	if !ok {
		return false, fmt.Errorf("checkpoint %s has no params tensor", path)
	}
	if params.NumElements() != dst.NumElements() {
		return false, fmt.Errorf("checkpoint holds %d parameters, model expects %d",
			params.NumElements(), dst.NumElements())
	}
	dst.CopyFrom(params)
	return true, nil
}
