// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Package watch provides periodic background maintenance for a
// running job, keeping its temporary directory alive while workers
// stream chunk files through it
package watch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/KhiopsML/khiops-parallel/pkg/logging"
)

// DefaultRefreshInterval keeps refreshes to at most once per hour.
const DefaultRefreshInterval = time.Hour

// keepaliveName is the marker file whose mtime carries the refresh.
const keepaliveName = ".khiops_keepalive"

// TempDirRefresher periodically touches a job's temporary directory
// so host-level tmp reapers never collect it mid-job
type TempDirRefresher struct {
	dir      string
	interval time.Duration
	logger   logging.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

// NewTempDirRefresher creates a refresher for dir
func NewTempDirRefresher(dir string, logger logging.Logger) *TempDirRefresher {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	return &TempDirRefresher{
		dir:      dir,
		interval: DefaultRefreshInterval,
		logger:   logger,
	}
}

// WithRefreshInterval sets a custom refresh interval
func (r *TempDirRefresher) WithRefreshInterval(interval time.Duration) *TempDirRefresher {
	if interval > 0 {
		r.interval = interval
	}
	return r
}

// Start refreshes once immediately, then keeps refreshing on the
// configured interval until Stop or ctx cancellation
func (r *TempDirRefresher) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return fmt.Errorf("watch: refresher already started")
	}

	if err := r.Refresh(); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.started = true

	r.wg.Add(1)
	go r.refreshLoop(runCtx)
	return nil
}

// Stop ends the refresh loop and waits for it to exit
func (r *TempDirRefresher) Stop() {
	r.mu.Lock()
	if !r.started {
		r.mu.Unlock()
		return
	}
	r.cancel()
	r.started = false
	r.mu.Unlock()

	r.wg.Wait()
}

func (r *TempDirRefresher) refreshLoop(ctx context.Context) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := r.Refresh(); err != nil {
				r.logger.Warn("temp dir refresh failed", "dir", r.dir, "error", err)
			}
		case <-ctx.Done():
			return
		}
	}
}

// Refresh touches the directory and its keepalive marker once
func (r *TempDirRefresher) Refresh() error {
	now := time.Now()
	marker := filepath.Join(r.dir, keepaliveName)

	f, err := os.OpenFile(marker, os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("watch: touch %s: %w", marker, err)
	}
	_ = f.Close()
	if err := os.Chtimes(marker, now, now); err != nil {
		return fmt.Errorf("watch: touch %s: %w", marker, err)
	}
	if err := os.Chtimes(r.dir, now, now); err != nil {
		return fmt.Errorf("watch: touch %s: %w", r.dir, err)
	}

	r.logger.Debug("refreshed temp dir", "dir", r.dir)
	return nil
}
