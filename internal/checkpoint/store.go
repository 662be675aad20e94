// Package checkpoint persists per-chunk completion markers keyed by
// (source base name, chunk index).
package checkpoint

import (
	"context"
	"sort"
)

// Key identifies one chunk of one source file.
type Key struct {
	BaseName string
	Index    int
}

// Store records which chunks have been transcribed. MarkDone must be durable
// when it returns and never rewrites an existing marker.
type Store interface {
	IsDone(ctx context.Context, baseName string, index int) (bool, error)
	MarkDone(ctx context.Context, baseName string, index int, text string) error
	ListDone(ctx context.Context) ([]Key, error)
	Close() error
}

func sortKeys(keys []Key) {
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].BaseName != keys[j].BaseName {
			return keys[i].BaseName < keys[j].BaseName
		}
		return keys[i].Index < keys[j].Index
	})
}
