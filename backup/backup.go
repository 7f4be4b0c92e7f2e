/*
Package backup writes an export file after every committed batch.

PURPOSE:
  The owner keeps a dated copy of the ledger next to the service without
  pressing Export. The file is the same artifact Ledger.Export returns, so
  it can be imported on another device as-is.

NAMING:
  <dir>/<prefix><YYYY-MM-DD>.json. Same-day exports replace each other;
  one file per day survives.

FAILURES:
  A failed write is logged and counted; the commit that triggered it has
  already succeeded and is not affected.
*/
package backup

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/warp/stockflux/ledger"
)

// Exporter writes ledger exports into a directory.
type Exporter struct {
	ledger *ledger.Ledger
	dir    string
	log    *zap.Logger

	mu       sync.Mutex
	last     string
	failures int
}

func New(l *ledger.Ledger, dir string, log *zap.Logger) *Exporter {
	if log == nil {
		log = zap.NewNop()
	}
	return &Exporter{ledger: l, dir: dir, log: log}
}

// Attach subscribes the exporter to committed batches and imports.
func (e *Exporter) Attach() (detach func()) {
	return e.ledger.Subscribe(func(ev ledger.Event) {
		switch ev.Kind {
		case ledger.EventCommitted, ledger.EventImported:
			if _, err := e.Write(); err != nil {
				e.log.Error("automatic export failed", zap.String("dir", e.dir), zap.Error(err))
			}
		}
	})
}

// Write exports now and returns the written path.
func (e *Exporter) Write() (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	art, err := e.ledger.Export()
	if err != nil {
		e.failures++
		return "", err
	}
	path, err := writeAtomic(e.dir, art.Filename, art.Data)
	if err != nil {
		e.failures++
		return "", err
	}
	e.last = path
	e.log.Debug("ledger exported", zap.String("path", path), zap.Int("bytes", len(art.Data)))
	return path, nil
}

// Last is the most recently written path, empty if none.
func (e *Exporter) Last() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.last
}

// Failures counts exports that could not be written.
func (e *Exporter) Failures() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.failures
}

// writeAtomic writes through a temporary file so a reader never sees a
// truncated export.
func writeAtomic(dir, name string, data []byte) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create export dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+name+".*")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", fmt.Errorf("failed to write export: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("failed to write export: %w", err)
	}
	path := filepath.Join(dir, name)
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", fmt.Errorf("failed to move export into place: %w", err)
	}
	return path, nil
}
