package config

import "errors"

var (
	// ErrInvalidTransport is returned when the transport is not a known kind
	ErrInvalidTransport = errors.New("transport must be \"inproc\" or \"websocket\"")

	// ErrInvalidProgress is returned when the progress sink is not a known kind
	ErrInvalidProgress = errors.New("progress must be \"console\" or \"sse\"")

	// ErrMissingCoordinatorURL is returned when the websocket transport has no coordinator URL
	ErrMissingCoordinatorURL = errors.New("coordinator URL is required for the websocket transport")

	// ErrInvalidWorkerCount is returned when the simulated worker count is not positive
	ErrInvalidWorkerCount = errors.New("simulated worker count must be at least 1")
)
