package store

import (
	"context"
	"fmt"
	"path/filepath"
)

// Backend kinds accepted by New.
const (
	KindMemory = "memory"
	KindFS     = "fs"
	KindBadger = "badger"
	KindSQLite = "sqlite"
)

// New opens the backend named by kind. path is ignored by the memory backend;
// an empty path gives an in-memory badger or sqlite database.
func New(ctx context.Context, kind, path string) (Store, error) {
	switch kind {
	case KindMemory, "":
		return NewMemoryStore(), nil
	case KindFS:
		if path == "" {
			return nil, fmt.Errorf("fs store requires a path")
		}
		return NewFSStore(path)
	case KindBadger:
		return NewBadgerStore(path)
	case KindSQLite:
		if path == "" {
			return NewSQLiteStore(ctx, ":memory:")
		}
		return NewSQLiteStore(ctx, filepath.Clean(path))
	default:
		return nil, fmt.Errorf("unknown store kind %q", kind)
	}
}
