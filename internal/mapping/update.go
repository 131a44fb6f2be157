package mapping

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/BadgerOps/shadowsync/internal/download"
)

// Update refreshes the mapping document at path from url. The new document
// is fetched to a dot-prefixed sibling, validated, and only then renamed
// over the active file; a failed fetch or parse leaves the previous
// document untouched and removes the temporary file.
//
// Update is decoupled from the transform path: the table used for a run is
// loaded once at startup and never hot-swapped mid-run.
func Update(ctx context.Context, dl *download.Client, url, path string, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}

	tmp := filepath.Join(filepath.Dir(path), "."+filepath.Base(path)+".update")
	if err := dl.Fetch(ctx, url, tmp); err != nil {
		return fmt.Errorf("fetching mapping document: %w", err)
	}

	if _, err := Load(tmp); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("rejecting mapping update: %w", err)
	}

	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("installing mapping document: %w", err)
	}

	logger.Info("mapping document updated", "path", path)
	return nil
}
