package store

import (
	"fmt"
	"os"
	"path/filepath"
)

// RuntimeDir returns the on-disk directory a Runtime's history and
// manifest live under, datadir/runtime/, generalized from the
// teacher's per-chain datadir/chains/<chain_id_hex>/ layout to this
// module's single-runtime-per-process deployment model (spec.md §6
// names exactly one Env per process; there is no multi-chain id to
// key the directory by).
func RuntimeDir(datadir string) string {
	return filepath.Join(datadir, "runtime")
}

func ensureDir(path string) error {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", path, err)
	}
	return nil
}
