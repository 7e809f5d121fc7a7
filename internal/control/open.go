package control

import (
	"fmt"
	"os"
	"path/filepath"
)

// Backend names a Store implementation.
type Backend string

const (
	BackendFile   Backend = "file"
	BackendSQLite Backend = "sqlite"
	BackendMemory Backend = "memory"
)

// DefaultDirectory holds control records when none is configured.
const DefaultDirectory = "data/simulations/active"

// SQLiteFile is the database name used by the sqlite backend inside the
// control directory.
const SQLiteFile = "control.db"

// Open returns the store for backend rooted at dir.
func Open(backend Backend, dir string) (Store, error) {
	if dir == "" {
		dir = DefaultDirectory
	}
	switch backend {
	case BackendFile, "":
		return NewFileStore(dir)
	case BackendSQLite:
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating control directory: %w", err)
		}
		return NewSQLiteStore(filepath.Join(dir, SQLiteFile))
	case BackendMemory:
		return NewMemoryStore(), nil
	}
	return nil, fmt.Errorf("unknown control backend %q", backend)
}
