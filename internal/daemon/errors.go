package daemon

import "errors"

var (
	// ErrDaemonAlreadyRunning is returned when trying to start a daemon
	// while another instance is already running on the same socket.
	ErrDaemonAlreadyRunning = errors.New("daemon already running")

	// ErrDaemonNotRunning is returned when trying to connect to a daemon
	// that is not running (socket file does not exist).
	ErrDaemonNotRunning = errors.New("daemon not running")

	// ErrEndpointNotFound is returned when an endpoint operation names an
	// endpoint the engine doesn't know about.
	ErrEndpointNotFound = errors.New("endpoint not found")

	// ErrUnauthorized is returned when a request lacks valid authentication.
	ErrUnauthorized = errors.New("unauthorized")
)
