// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Package wstransport provides internal/transport's Conn surface over
// websocket connections, for running a coordinator and its workers as
// separate processes. It frames every internal/serializer block as
// one binary websocket message and never marshals application data
// itself, only raw serialized bytes.
package wstransport

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/KhiopsML/khiops-parallel/pkg/retry"
)

// Conn is a websocket-backed connection satisfying both
// internal/transport.Conn and internal/serializer.Conn structurally.
type Conn struct {
	ws       *websocket.Conn
	writeMu  sync.Mutex
	closed   chan struct{}
	closeOne sync.Once
}

func newConn(ws *websocket.Conn) *Conn {
	return &Conn{ws: ws, closed: make(chan struct{})}
}

// Send writes frame as a single binary websocket message. Only one
// goroutine may write to a gorilla/websocket.Conn at a time, so
// writes are serialized with writeMu.
func (c *Conn) Send(frame []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.ws.WriteMessage(websocket.BinaryMessage, frame); err != nil {
		return fmt.Errorf("wstransport: send: %w", err)
	}
	return nil
}

// Recv blocks for the next binary message and returns its payload.
func (c *Conn) Recv() ([]byte, error) {
	kind, data, err := c.ws.ReadMessage()
	if err != nil {
		return nil, fmt.Errorf("wstransport: recv: %w", err)
	}
	if kind != websocket.BinaryMessage {
		return nil, fmt.Errorf("wstransport: expected binary message, got kind %d", kind)
	}
	return data, nil
}

// Close closes the underlying websocket connection. Safe to call more
// than once.
func (c *Conn) Close() error {
	var err error
	c.closeOne.Do(func() {
		close(c.closed)
		err = c.ws.Close()
	})
	return err
}

// keepAlive pings the peer every 30 seconds, matching the teacher's
// WebSocketServer.keepAlive interval, so idle connections between
// dispatch rounds are not reaped by intermediate proxies.
func (c *Conn) keepAlive(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.closed:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			err := c.ws.WriteMessage(websocket.PingMessage, nil)
			c.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

// DialOptions configures an outbound connection attempt.
type DialOptions struct {
	// Backoff governs reconnection attempts if the initial dial
	// fails. Defaults to retry.NewExponentialBackoff() when nil.
	Backoff retry.BackoffStrategy
}

// Dial connects to a wstransport.Server at url, identifying itself
// with rank, retrying with backoff on failure.
func Dial(ctx context.Context, url string, rank int, opts DialOptions) (*Conn, error) {
	backoff := opts.Backoff
	if backoff == nil {
		backoff = retry.NewExponentialBackoff()
	}
	header := http.Header{}
	header.Set("X-Khiops-Rank", fmt.Sprintf("%d", rank))

	conn, err := retry.RetryWithResult(ctx, backoff, func() (*Conn, error) {
		ws, _, err := websocket.DefaultDialer.DialContext(ctx, url, header)
		if err != nil {
			return nil, fmt.Errorf("wstransport: dial: %w", err)
		}
		c := newConn(ws)
		go c.keepAlive(ctx)
		return c, nil
	})
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// Server accepts rank-identified websocket connections and hands them
// off through a channel that Server.Accept drains. Routes are
// registered on a gorilla/mux.Router so a wstransport.Server can share
// an HTTP listener with an internal/progress/sseprogress.Reporter.
type Server struct {
	upgrader websocket.Upgrader
	accepted chan accepted
}

type accepted struct {
	rank int
	conn *Conn
}

// NewServer returns a Server ready to have its handler mounted on a
// router with Register.
func NewServer() *Server {
	return &Server{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		accepted: make(chan accepted, 16),
	}
}

// Register mounts the connection-accepting handler at path on router.
func (s *Server) Register(router *mux.Router, path string) {
	router.HandleFunc(path, s.handleConnect)
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	var rank int
	if _, err := fmt.Sscanf(r.Header.Get("X-Khiops-Rank"), "%d", &rank); err != nil {
		http.Error(w, "missing or invalid X-Khiops-Rank header", http.StatusBadRequest)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	c := newConn(ws)
	go c.keepAlive(r.Context())
	s.accepted <- accepted{rank: rank, conn: c}
}

// Accept blocks until a peer connects and returns its declared rank.
func (s *Server) Accept() (int, *Conn, error) {
	a, ok := <-s.accepted
	if !ok {
		return 0, nil, fmt.Errorf("wstransport: server closed")
	}
	return a.rank, a.conn, nil
}

// Close stops accepting new connections.
func (s *Server) Close() error {
	close(s.accepted)
	return nil
}
