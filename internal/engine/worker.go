package engine

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"
	"time"

	"depotdl/internal/codec"
	depoterrors "depotdl/internal/errors"
	"depotdl/internal/log"
	"depotdl/internal/manifest"
	"depotdl/internal/util"
)

// downloadChunk runs the full per-chunk pipeline: acquire an endpoint,
// fetch the chunk blob, decode it, write it at its offset, then record it
// in the ledger and update progress. It retries transport failures and
// 5xx responses by rotating to a different endpoint, up to the engine's
// configured retry count.
func (e *Engine) downloadChunk(ctx context.Context, depot manifest.DepotDescriptor, path, mappingPath string, chunk manifest.ChunkRecord) error {
	var lastErr error
	rotate := false

	for attempt := 0; attempt <= e.cfg.RetryNum; attempt++ {
		addr, token, err := e.pool.Acquire(ctx, rotate)
		if err != nil {
			return err
		}

		data, err := e.fetchChunk(ctx, addr, token, depot.ID, chunk)
		if err != nil {
			lastErr = err
			if depoterrors.Is(err, depoterrors.ErrHTTPClientError) {
				return err // permanent: 4xx, leave the chunk for a future run
			}
			log.Warn("chunk fetch failed, rotating server",
				log.String("file", mappingPath),
				log.String("sha", chunk.ShaHex()),
				log.String("server", addr),
				log.Err(err),
			)
			rotate = true
			if isServerError(err) {
				time.Sleep(serverErrorBackoff)
			} else {
				time.Sleep(transportBackoff)
			}
			continue
		}

		decoded, err := codec.Decode(data, depot.Key)
		if err != nil {
			if depoterrors.IsPermanent(err) {
				return err
			}
			lastErr = err
			continue
		}

		if err := e.writeChunk(path, chunk.Offset, decoded); err != nil {
			return err
		}

		e.mu.Lock()
		e.ledger.Record(mappingPath, chunk.LedgerKey())
		e.mu.Unlock()
		e.reporter.Add(chunk.CBOriginal)
		return nil
	}

	return lastErr
}

type serverError struct{ status string }

func (e *serverError) Error() string { return fmt.Sprintf("server error: %s", e.status) }

func isServerError(err error) bool {
	_, ok := err.(*serverError)
	return ok
}

// fetchChunk performs the chunk GET with a per-attempt timeout, classifying
// the response: 4xx is permanent, transport failures and 5xx are
// retryable.
func (e *Engine) fetchChunk(ctx context.Context, addr, token string, depotID uint32, chunk manifest.ChunkRecord) ([]byte, error) {
	reqCtx, cancel := context.WithTimeout(ctx, chunkTimeout)
	defer cancel()

	url := fmt.Sprintf("%s/depot/%d/chunk/%s%s", addr, depotID, chunk.ShaHex(), token)
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		return nil, depoterrors.NewTransportError(addr, err)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, depoterrors.NewTransportError(addr, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return nil, depoterrors.ErrHTTPClientError
	case resp.StatusCode != http.StatusOK:
		// 5xx and anything else unexpected: retryable against another server.
		return nil, &serverError{status: resp.Status}
	}

	buf := util.GetChunkBuffer()
	defer util.PutChunkBuffer(buf)

	var out bytes.Buffer
	if _, err := io.CopyBuffer(&out, resp.Body, buf); err != nil {
		return nil, depoterrors.NewTransportError(addr, err)
	}
	return out.Bytes(), nil
}

// writeChunk writes data at offset in the file at path, holding a per-file
// lock so concurrent workers touching the same destination file don't race.
// A permission error (another process briefly holding the file open) spins
// until the write succeeds rather than failing the chunk outright.
func (e *Engine) writeChunk(path string, offset int64, data []byte) error {
	lock := e.fileLock(path)
	lock.Lock()
	defer lock.Unlock()

	for {
		f, err := os.OpenFile(path, os.O_WRONLY, 0o644)
		if err != nil {
			if os.IsPermission(err) {
				time.Sleep(100 * time.Millisecond)
				continue
			}
			return err
		}

		_, writeErr := f.WriteAt(data, offset)
		closeErr := f.Close()
		if writeErr != nil {
			return writeErr
		}
		return closeErr
	}
}

func (e *Engine) fileLock(path string) *sync.Mutex {
	actual, _ := e.fileLocks.LoadOrStore(path, &sync.Mutex{})
	return actual.(*sync.Mutex)
}
