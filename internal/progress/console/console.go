// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Package console implements internal/progress.Reporter by logging
// through pkg/logging, rate-limited so a tight dispatch loop reporting
// progress every few milliseconds does not flood the terminal.
package console

import (
	"sync/atomic"
	"time"

	"github.com/KhiopsML/khiops-parallel/pkg/logging"
)

// Reporter logs progress updates via a pkg/logging.Logger, dropping
// DisplayProgression calls that arrive more often than MinInterval.
type Reporter struct {
	logger      logging.Logger
	minInterval time.Duration

	interrupted atomic.Bool
	lastLogged  atomic.Int64 // unix nanos
	lastPercent atomic.Int32
}

// Option configures a Reporter at construction time.
type Option func(*Reporter)

// WithMinInterval overrides the default progress log rate limit.
func WithMinInterval(d time.Duration) Option {
	return func(r *Reporter) { r.minInterval = d }
}

// New returns a console Reporter that logs through logger.
func New(logger logging.Logger, opts ...Option) *Reporter {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	r := &Reporter{logger: logger, minInterval: 500 * time.Millisecond}
	for _, opt := range opts {
		opt(r)
	}
	r.lastPercent.Store(-1)
	return r
}

// BeginTask implements progress.Reporter.
func (r *Reporter) BeginTask(taskName string) {
	r.interrupted.Store(false)
	r.logger.Info("task started", "task", taskName)
}

// EndTask implements progress.Reporter.
func (r *Reporter) EndTask() {
	r.logger.Info("task finished")
}

// DisplayMainLabel implements progress.Reporter.
func (r *Reporter) DisplayMainLabel(label string) {
	r.logger.Info("status", "label", label)
}

// DisplayLabel implements progress.Reporter.
func (r *Reporter) DisplayLabel(label string) {
	r.logger.Debug("step", "label", label)
}

// DisplayProgression implements progress.Reporter, rate-limiting to
// at most one log line per minInterval and always logging 0 and 100.
func (r *Reporter) DisplayProgression(percent int) {
	now := time.Now().UnixNano()
	last := r.lastLogged.Load()
	samePercent := r.lastPercent.Load() == int32(percent)
	if percent != 0 && percent != 100 && samePercent {
		return
	}
	if percent != 0 && percent != 100 && time.Duration(now-last) < r.minInterval {
		return
	}
	r.lastLogged.Store(now)
	r.lastPercent.Store(int32(percent))
	r.logger.Info("progress", "percent", percent)
}

// RequestInterruption marks the current task as interrupted; the next
// IsInterruptionRequested call returns true. Called from a signal
// handler or CLI Ctrl-C hook, never from the runtime itself.
func (r *Reporter) RequestInterruption() {
	r.interrupted.Store(true)
}

// IsInterruptionRequested implements progress.Reporter.
func (r *Reporter) IsInterruptionRequested() bool {
	return r.interrupted.Load()
}
