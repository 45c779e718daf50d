// Package persist reads and writes whole-file JSON snapshots of index state.
package persist

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/m-mizutani/goerr/v2"

	"github.com/wanyview/kaidison-system/internal/model"
)

// WriteJSON serializes v and replaces path with it. The data lands in a
// sibling temp file first so a crash never leaves a half-written snapshot.
func WriteJSON(path string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return goerr.Wrap(fmt.Errorf("%w: %w", model.ErrStorage, err), "marshal snapshot", goerr.V("path", path))
	}
	return writeFile(path, b)
}

// WriteJSONIndent is WriteJSON with two-space indentation, for files meant
// to be read by people.
func WriteJSONIndent(path string, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return goerr.Wrap(fmt.Errorf("%w: %w", model.ErrStorage, err), "marshal snapshot", goerr.V("path", path))
	}
	return writeFile(path, b)
}

func writeFile(path string, b []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return goerr.Wrap(fmt.Errorf("%w: %w", model.ErrStorage, err), "create snapshot dir", goerr.V("dir", dir))
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return goerr.Wrap(fmt.Errorf("%w: %w", model.ErrStorage, err), "create temp snapshot", goerr.V("path", path))
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return goerr.Wrap(fmt.Errorf("%w: %w", model.ErrStorage, err), "write snapshot", goerr.V("path", path))
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return goerr.Wrap(fmt.Errorf("%w: %w", model.ErrStorage, err), "close snapshot", goerr.V("path", path))
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return goerr.Wrap(fmt.Errorf("%w: %w", model.ErrStorage, err), "replace snapshot", goerr.V("path", path))
	}
	return nil
}

// ReadJSON decodes the snapshot at path into v. A missing file reports
// found=false with no error; an unreadable or corrupt file returns an error
// wrapping model.ErrParse.
func ReadJSON(path string, v any) (found bool, err error) {
	b, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return true, goerr.Wrap(fmt.Errorf("%w: %w", model.ErrParse, err), "read snapshot", goerr.V("path", path))
	}
	if err := json.Unmarshal(b, v); err != nil {
		return true, goerr.Wrap(fmt.Errorf("%w: %w", model.ErrParse, err), "decode snapshot", goerr.V("path", path))
	}
	return true, nil
}
