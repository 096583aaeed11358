// internal/workflow/state.go
package workflow

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	jsoniter "github.com/json-iterator/go"
)

var jsonx = jsoniter.ConfigCompatibleWithStandardLibrary

// ExpiryState is the small on-disk record of the last observed expiry date.
// It survives between runs so a renewal that did not move the date forward
// is detectable.
type ExpiryState struct {
	Expiry    string    `json:"expiry"`
	UpdatedAt time.Time `json:"updated_at"`
}

// LoadExpiryState reads the persisted state. A missing file is not an
// error; it returns a zero state so first runs work.
func LoadExpiryState(path string) (ExpiryState, error) {
	var st ExpiryState
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return st, nil
		}
		return st, fmt.Errorf("read expiry state: %w", err)
	}
	if err := jsonx.Unmarshal(data, &st); err != nil {
		return ExpiryState{}, fmt.Errorf("decode expiry state: %w", err)
	}
	return st, nil
}

// SaveExpiryState writes the state atomically via a rename.
func SaveExpiryState(path string, st ExpiryState) error {
	data, err := jsonx.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("encode expiry state: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create state directory: %w", err)
		}
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write expiry state: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replace expiry state: %w", err)
	}
	return nil
}
