// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Package sseprogress implements internal/progress.Reporter over
// Server-Sent Events: event:/data: lines flushed through http.Flusher
// broadcast task-progress events to any number of connected viewers,
// plus an HTTP endpoint a driver uses to request interruption.
package sseprogress

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/gorilla/mux"
)

// Event is one message pushed to every connected SSE client.
type Event struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// Reporter implements progress.Reporter by broadcasting to connected
// SSE clients and serving a cancel endpoint that flips an atomic flag
// IsInterruptionRequested reads.
type Reporter struct {
	mu          sync.Mutex
	clients     map[chan Event]struct{}
	interrupted atomic.Bool
}

// New returns an empty Reporter ready to have its handlers registered
// on a router.
func New() *Reporter {
	return &Reporter{clients: make(map[chan Event]struct{})}
}

// Register mounts the event stream at streamPath and the cancel
// endpoint at cancelPath on router.
func (r *Reporter) Register(router *mux.Router, streamPath, cancelPath string) {
	router.HandleFunc(streamPath, r.handleStream).Methods(http.MethodGet)
	router.HandleFunc(cancelPath, r.handleCancel).Methods(http.MethodPost)
}

func (r *Reporter) handleStream(w http.ResponseWriter, req *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	ch := make(chan Event, 32)
	r.mu.Lock()
	r.clients[ch] = struct{}{}
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		delete(r.clients, ch)
		r.mu.Unlock()
	}()

	ctx := req.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			writeEvent(w, flusher, ev)
		}
	}
}

func (r *Reporter) handleCancel(w http.ResponseWriter, _ *http.Request) {
	r.interrupted.Store(true)
	w.WriteHeader(http.StatusAccepted)
}

func writeEvent(w http.ResponseWriter, flusher http.Flusher, ev Event) {
	data, err := json.Marshal(ev.Data)
	if err != nil {
		data = []byte(`{"error":"failed to marshal data"}`)
	}
	fmt.Fprintf(w, "event: %s\n", ev.Event)
	fmt.Fprintf(w, "data: %s\n\n", data)
	flusher.Flush()
}

func (r *Reporter) broadcast(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for ch := range r.clients {
		select {
		case ch <- ev:
		default:
			// A slow viewer drops a frame rather than blocking the task.
		}
	}
}

// BeginTask implements progress.Reporter.
func (r *Reporter) BeginTask(taskName string) {
	r.interrupted.Store(false)
	r.broadcast(Event{Event: "begin_task", Data: map[string]string{"task": taskName}})
}

// EndTask implements progress.Reporter.
func (r *Reporter) EndTask() {
	r.broadcast(Event{Event: "end_task"})
}

// DisplayMainLabel implements progress.Reporter.
func (r *Reporter) DisplayMainLabel(label string) {
	r.broadcast(Event{Event: "main_label", Data: map[string]string{"label": label}})
}

// DisplayLabel implements progress.Reporter.
func (r *Reporter) DisplayLabel(label string) {
	r.broadcast(Event{Event: "label", Data: map[string]string{"label": label}})
}

// DisplayProgression implements progress.Reporter.
func (r *Reporter) DisplayProgression(percent int) {
	r.broadcast(Event{Event: "progression", Data: map[string]int{"percent": percent}})
}

// RequestInterruption marks the current task as interrupted, same as
// a POST to the cancel endpoint. Called from a signal handler.
func (r *Reporter) RequestInterruption() {
	r.interrupted.Store(true)
}

// IsInterruptionRequested implements progress.Reporter.
func (r *Reporter) IsInterruptionRequested() bool {
	return r.interrupted.Load()
}
