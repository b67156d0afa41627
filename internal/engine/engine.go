// Package engine schedules and executes a depot download: for every file
// mapping in a manifest it materializes the destination file, skips chunks
// already recorded in the ledger, and dispatches the rest across a bounded
// worker pool.
package engine

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"depotdl/internal/cdn"
	depoterrors "depotdl/internal/errors"
	"depotdl/internal/layout"
	"depotdl/internal/ledger"
	"depotdl/internal/log"
	"depotdl/internal/manifest"
	"depotdl/internal/progress"
)

// checkpointInterval is how often the ledger is flushed to disk while jobs
// are outstanding.
const checkpointInterval = 100 * time.Millisecond

// chunkTimeout bounds a single chunk fetch attempt.
const chunkTimeout = 10 * time.Second

// serverErrorBackoff is the pause before rotating and retrying after a 5xx.
const serverErrorBackoff = 500 * time.Millisecond

// transportBackoff is the shorter pause before rotating after a
// network-level failure.
const transportBackoff = 100 * time.Millisecond

// Config holds the tunables exposed as CLI flags.
type Config struct {
	ThreadNum int
	RetryNum  int
}

// Engine runs one depot download to completion.
type Engine struct {
	pool      *cdn.Pool
	ledger    *ledger.Ledger
	client    *http.Client
	cfg       Config
	reporter  progress.Reporter
	mu        sync.Mutex
	fileLocks sync.Map // path -> *sync.Mutex
}

// New builds an Engine. reporter may be progress.NullReporter{} for quiet runs.
func New(pool *cdn.Pool, led *ledger.Ledger, cfg Config, reporter progress.Reporter) *Engine {
	if cfg.ThreadNum <= 0 {
		cfg.ThreadNum = 32
	}
	if cfg.RetryNum <= 0 {
		cfg.RetryNum = 3
	}
	return &Engine{
		pool:     pool,
		ledger:   led,
		client:   &http.Client{},
		cfg:      cfg,
		reporter: reporter,
	}
}

// Run downloads every file mapping in m into saveRoot. A chunk whose ledger
// key is already recorded is skipped and counted toward progress
// immediately; everything else runs through the worker pool. A returned
// error means an engine-fatal condition (e.g. no CDN servers); individual
// chunk failures are logged and left for a future run instead of aborting
// the whole download.
func (e *Engine) Run(ctx context.Context, m *manifest.Manifest, saveRoot string) error {
	stop := e.ledger.StartCheckpointLoop(ctx, checkpointInterval)
	defer func() { _ = stop() }()

	e.reporter.SetTotal(m.Depot.TotalSize)

	sem := semaphore.NewWeighted(int64(e.cfg.ThreadNum))
	g, gctx := errgroup.WithContext(ctx)

	for _, mapping := range m.Mappings {
		mapping.SortChunks()

		if !mapping.IsDirectory() {
			path := filepath.Join(saveRoot, filepath.FromSlash(mapping.Path))
			if _, statErr := os.Stat(path); os.IsNotExist(statErr) && e.ledger.HasAny(mapping.Path) {
				e.ledger.Reset(mapping.Path)
				if err := e.ledger.Checkpoint(); err != nil {
					return fmt.Errorf("checkpoint reset of %s: %w", mapping.Path, err)
				}
			}
		}

		skip, err := layout.Materialize(saveRoot, mapping)
		if err != nil {
			return fmt.Errorf("materialize %s: %w", mapping.Path, err)
		}
		if skip {
			continue
		}

		path := filepath.Join(saveRoot, filepath.FromSlash(mapping.Path))

		for _, chunk := range mapping.Chunks {
			chunk := chunk

			if e.ledger.Has(mapping.Path, chunk.LedgerKey()) {
				e.reporter.Add(chunk.CBOriginal)
				continue
			}

			if err := sem.Acquire(gctx, 1); err != nil {
				// Context cancelled or errgroup already failed fatally;
				// stop scheduling new work and return what Wait reports:
				// the fatal error, or nil after a plain cancellation.
				return g.Wait()
			}

			mappingPath := mapping.Path
			depot := m.Depot
			g.Go(func() error {
				defer sem.Release(1)
				return e.runChunk(gctx, depot, path, mappingPath, chunk)
			})
		}
	}

	return g.Wait()
}

// runChunk downloads, decodes, and writes one chunk, translating permanent
// per-chunk failures into a logged no-op rather than an engine abort.
func (e *Engine) runChunk(ctx context.Context, depot manifest.DepotDescriptor, path, mappingPath string, chunk manifest.ChunkRecord) error {
	err := e.downloadChunk(ctx, depot, path, mappingPath, chunk)
	if err == nil {
		return nil
	}
	if isFatal(err) {
		return err
	}
	log.Error("chunk download failed, left for a future run",
		log.String("file", mappingPath),
		log.String("sha", chunk.ShaHex()),
		log.Err(err),
	)
	return nil
}

func isFatal(err error) bool {
	return depoterrors.Is(err, depoterrors.ErrNoServers) ||
		depoterrors.Is(err, depoterrors.ErrNoValidToken) ||
		depoterrors.Is(err, depoterrors.ErrLoginFailure)
}
