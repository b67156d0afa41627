// Package ledger tracks which chunks of which files have already been
// written to disk, so an interrupted run can resume without re-downloading
// completed work.
package ledger

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	depoterrors "depotdl/internal/errors"
)

// Ledger records completed chunk keys per file path and checkpoints them to
// a JSON file on disk. A chunk key has the form "<offset>_<sha-hex>",
// matching manifest.ChunkRecord.LedgerKey.
type Ledger struct {
	mu      sync.Mutex
	path    string
	entries map[string]map[string]struct{}
	dirty   bool
}

// Load reads the ledger file at path, if it exists, and returns a Ledger
// ready for use. A missing file is not an error; it starts as empty.
func Load(path string) (*Ledger, error) {
	l := &Ledger{
		path:    path,
		entries: make(map[string]map[string]struct{}),
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return l, nil
		}
		return nil, depoterrors.NewLedgerError("load", path, err)
	}
	if len(data) == 0 {
		return l, nil
	}

	if err := json.Unmarshal(data, &l.entries); err != nil {
		return nil, depoterrors.NewLedgerError("load", path, err)
	}
	if l.entries == nil {
		l.entries = make(map[string]map[string]struct{})
	}
	return l, nil
}

// Has reports whether key has already been recorded for file.
func (l *Ledger) Has(file, key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	keys, ok := l.entries[file]
	if !ok {
		return false
	}
	_, ok = keys[key]
	return ok
}

// Record marks key as completed for file.
func (l *Ledger) Record(file, key string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	keys, ok := l.entries[file]
	if !ok {
		keys = make(map[string]struct{})
		l.entries[file] = keys
	}
	keys[key] = struct{}{}
	l.dirty = true
}

// HasAny reports whether any chunk keys are recorded for file at all.
func (l *Ledger) HasAny(file string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	keys, ok := l.entries[file]
	return ok && len(keys) > 0
}

// Reset clears all recorded chunk keys for file. Used when the destination
// file has disappeared out from under the ledger and every chunk must be
// re-fetched.
func (l *Ledger) Reset(file string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	delete(l.entries, file)
	l.dirty = true
}

// Checkpoint rewrites the whole ledger file if anything changed since the
// last checkpoint. It is safe to call concurrently with Has/Record/Reset.
func (l *Ledger) Checkpoint() error {
	l.mu.Lock()
	if !l.dirty {
		l.mu.Unlock()
		return nil
	}
	data, err := json.Marshal(l.entries)
	l.dirty = false
	l.mu.Unlock()

	if err != nil {
		return depoterrors.NewLedgerError("checkpoint", l.path, err)
	}

	if dir := filepath.Dir(l.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return depoterrors.NewLedgerError("checkpoint", l.path, err)
		}
	}

	tmp := l.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return depoterrors.NewLedgerError("checkpoint", l.path, err)
	}
	if err := os.Rename(tmp, l.path); err != nil {
		return depoterrors.NewLedgerError("checkpoint", l.path, err)
	}
	return nil
}

// StartCheckpointLoop checkpoints the ledger every interval until ctx is
// cancelled or the returned stop function is called; either way a final
// checkpoint runs before the loop exits.
func (l *Ledger) StartCheckpointLoop(ctx context.Context, interval time.Duration) (stop func() error) {
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)

	go func() {
		defer wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				_ = l.Checkpoint()
			case <-ctx.Done():
				_ = l.Checkpoint()
				return
			case <-done:
				return
			}
		}
	}()

	var stopOnce sync.Once
	return func() error {
		stopOnce.Do(func() { close(done) })
		wg.Wait()
		return l.Checkpoint()
	}
}
