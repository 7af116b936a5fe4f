// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package sseprogress

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCancelEndpointSetsInterruptionFlag(t *testing.T) {
	r := New()
	router := mux.NewRouter()
	r.Register(router, "/events", "/cancel")

	srv := httptest.NewServer(router)
	defer srv.Close()

	assert.False(t, r.IsInterruptionRequested())

	resp, err := http.Post(srv.URL+"/cancel", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.True(t, r.IsInterruptionRequested())
}

func TestBroadcastDoesNotBlockWithNoClients(t *testing.T) {
	r := New()
	done := make(chan struct{})
	go func() {
		r.BeginTask("t")
		r.DisplayMainLabel("working")
		r.DisplayProgression(50)
		r.EndTask()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("broadcast blocked with no subscribers")
	}
}
