// Package index holds the LookupIndex: for each grid key, whether a
// precomputed forward solution exists. It is produced by batch generation and
// loaded once when the engine starts.
package index

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/dipolesim/dipole-engine/internal/grid"
)

// Index maps grid keys to solution existence. Entries are append-only.
type Index struct {
	mu      sync.RWMutex
	entries map[grid.Key]bool
}

// New returns an empty index.
func New() *Index {
	return &Index{entries: make(map[grid.Key]bool)}
}

// Add records a key. Re-adding the same value is a no-op; changing an
// existing entry is rejected.
func (ix *Index) Add(k grid.Key, exists bool) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if prev, ok := ix.entries[k]; ok {
		if prev != exists {
			return fmt.Errorf("index: key %s already recorded as fwd_exists=%t", k, prev)
		}
		return nil
	}
	ix.entries[k] = exists
	return nil
}

// Lookup reports whether a solution exists for k, and whether k is known at all.
func (ix *Index) Lookup(k grid.Key) (exists, known bool) {
	if ix == nil {
		return false, false
	}
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	exists, known = ix.entries[k]
	return exists, known
}

// Len returns the number of recorded keys.
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.entries)
}

// Count returns how many keys have a solution.
func (ix *Index) Count() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	n := 0
	for _, ok := range ix.entries {
		if ok {
			n++
		}
	}
	return n
}

// Entry is one row of the persisted index.
type Entry struct {
	Key    grid.Key
	Exists bool
}

// Entries returns all rows ordered by x, y, z.
func (ix *Index) Entries() []Entry {
	ix.mu.RLock()
	out := make([]Entry, 0, len(ix.entries))
	for k, v := range ix.entries {
		out = append(out, Entry{Key: k, Exists: v})
	}
	ix.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].Key, out[j].Key
		if a.X != b.X {
			return a.X < b.X
		}
		if a.Y != b.Y {
			return a.Y < b.Y
		}
		return a.Z < b.Z
	})
	return out
}

// Load reads an index from path, choosing the format by extension:
// .csv for the tabular text form, .db/.sqlite/.sqlite3 for SQLite.
func Load(path string) (*Index, error) {
	switch format(path) {
	case formatSQLite:
		return LoadSQLite(path)
	default:
		return LoadCSVFile(path)
	}
}

// Save writes the index to path in the format implied by its extension.
func Save(path string, ix *Index) error {
	switch format(path) {
	case formatSQLite:
		return SaveSQLite(path, ix)
	default:
		return SaveCSVFile(path, ix)
	}
}

const (
	formatCSV    = "csv"
	formatSQLite = "sqlite"
)

func format(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".db", ".sqlite", ".sqlite3":
		return formatSQLite
	default:
		return formatCSV
	}
}
