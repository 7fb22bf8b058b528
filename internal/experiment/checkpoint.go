package experiment

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Checkpoint is the persisted identifier set of completed
// (symbol, param_combo_id) task pairs, written every CheckpointEvery
// completed tasks so a crashed or cancelled sweep can Resume.
type Checkpoint struct {
	Completed map[string]bool `json:"completed"`
}

func taskKey(symbol, comboID string) string {
	return symbol + "::" + comboID
}

// LoadCheckpoint reads path, returning an empty Checkpoint if the file
// doesn't exist yet (a fresh run, not an error).
func LoadCheckpoint(path string) (*Checkpoint, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &Checkpoint{Completed: map[string]bool{}}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("experiment: read checkpoint: %w", err)
	}
	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("experiment: parse checkpoint: %w", err)
	}
	if cp.Completed == nil {
		cp.Completed = map[string]bool{}
	}
	return &cp, nil
}

// Save writes the checkpoint to path via write-temp-then-rename, the
// same atomic-write convention the storage layer (C4) uses.
func (cp *Checkpoint) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("experiment: create checkpoint dir: %w", err)
	}
	data, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("experiment: marshal checkpoint: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("experiment: write checkpoint temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("experiment: rename checkpoint into place: %w", err)
	}
	return nil
}

func (cp *Checkpoint) isComplete(symbol, comboID string) bool {
	return cp.Completed[taskKey(symbol, comboID)]
}

func (cp *Checkpoint) markComplete(symbol, comboID string) {
	cp.Completed[taskKey(symbol, comboID)] = true
}
