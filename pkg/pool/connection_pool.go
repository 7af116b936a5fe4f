// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Package pool provides worker-connection pooling for the coordinator
package pool

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/KhiopsML/khiops-parallel/pkg/logging"
)

// Conn is the minimal connection surface the pool manages; any
// transport connection satisfies it.
type Conn interface {
	Close() error
}

// DialFunc establishes a connection to the worker at rank.
type DialFunc func(ctx context.Context, rank int) (Conn, error)

// RankConnPool manages one connection per worker rank, dialing lazily
// and tracking usage so idle ranks can be reaped between jobs
type RankConnPool struct {
	mu     sync.RWMutex
	conns  map[int]*pooledConn
	dial   DialFunc
	config *PoolConfig
	logger logging.Logger
}

// pooledConn wraps a connection with usage statistics
type pooledConn struct {
	conn     Conn
	created  time.Time
	lastUsed time.Time
	useCount int64
}

// PoolConfig holds configuration for the rank connection pool
type PoolConfig struct {
	// DialTimeout bounds one connection attempt
	DialTimeout time.Duration

	// IdleConnTimeout is an idle period for unused rank connections
	// between jobs. The pool does not apply it by itself:
	// CleanupIdleConns reaps by the maxIdleTime its caller passes
	IdleConnTimeout time.Duration
}

// DefaultPoolConfig returns a pool configuration sized for a
// coordinator keeping every worker of one job attached
func DefaultPoolConfig() *PoolConfig {
	return &PoolConfig{
		DialTimeout:     30 * time.Second,
		IdleConnTimeout: 90 * time.Second,
	}
}

// NewRankConnPool creates a new rank connection pool
func NewRankConnPool(config *PoolConfig, dial DialFunc, logger logging.Logger) *RankConnPool {
	if config == nil {
		config = DefaultPoolConfig()
	}
	if logger == nil {
		logger = logging.NoOpLogger{}
	}

	return &RankConnPool{
		conns:  make(map[int]*pooledConn),
		dial:   dial,
		config: config,
		logger: logger,
	}
}

// GetConn returns the connection for rank, dialing it on first use
func (p *RankConnPool) GetConn(ctx context.Context, rank int) (Conn, error) {
	p.mu.RLock()
	pc, exists := p.conns[rank]
	p.mu.RUnlock()

	if exists {
		// Update usage statistics
		p.mu.Lock()
		pc.lastUsed = time.Now()
		pc.useCount++
		p.mu.Unlock()

		return pc.conn, nil
	}

	dialCtx := ctx
	if p.config.DialTimeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, p.config.DialTimeout)
		defer cancel()
	}
	conn, err := p.dial(dialCtx, rank)
	if err != nil {
		return nil, fmt.Errorf("pool: dial rank %d: %w", rank, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	// Double-check after acquiring write lock: a concurrent GetConn
	// may have dialed the same rank first.
	if existing, exists := p.conns[rank]; exists {
		existing.lastUsed = time.Now()
		existing.useCount++
		_ = conn.Close()
		return existing.conn, nil
	}

	p.conns[rank] = &pooledConn{
		conn:     conn,
		created:  time.Now(),
		lastUsed: time.Now(),
		useCount: 1,
	}
	p.logger.Info("dialed worker connection", "rank", rank)

	return conn, nil
}

// Stats returns statistics about the connection pool
func (p *RankConnPool) Stats() PoolStats {
	p.mu.RLock()
	defer p.mu.RUnlock()

	stats := PoolStats{
		TotalConns: len(p.conns),
		ConnStats:  make(map[int]ConnStats),
	}

	for rank, pc := range p.conns {
		stats.ConnStats[rank] = ConnStats{
			Created:  pc.created,
			LastUsed: pc.lastUsed,
			UseCount: pc.useCount,
		}
	}

	return stats
}

// CleanupIdleConns closes connections that haven't been used recently
func (p *RankConnPool) CleanupIdleConns(maxIdleTime time.Duration) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	removed := 0
	cutoff := time.Now().Add(-maxIdleTime)

	for rank, pc := range p.conns {
		if pc.lastUsed.Before(cutoff) {
			_ = pc.conn.Close()
			delete(p.conns, rank)
			removed++

			p.logger.Info("removed idle worker connection",
				"rank", rank,
				"idle_duration", time.Since(pc.lastUsed),
			)
		}
	}

	return removed
}

// Close closes all connections in the pool
func (p *RankConnPool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var firstErr error
	for rank, pc := range p.conns {
		if err := pc.conn.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(p.conns, rank)
	}

	p.logger.Info("closed all worker connections in pool")
	return firstErr
}

// PoolStats contains statistics about the connection pool
type PoolStats struct {
	TotalConns int
	ConnStats  map[int]ConnStats
}

// ConnStats contains statistics for a single rank connection
type ConnStats struct {
	Created  time.Time
	LastUsed time.Time
	UseCount int64
}
