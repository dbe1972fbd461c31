package bridge

import "errors"

var (
	// ErrNotActive is returned by Cancel when no query is running.
	ErrNotActive = errors.New("no active query")

	// ErrNoSession is returned by Compact when no session id is available to
	// compact.
	ErrNoSession = errors.New("no session to compact")

	// ErrAuthentication indicates the worker failed the startup handshake.
	ErrAuthentication = errors.New("worker handshake failed")

	// ErrWorkerExited indicates the worker process died while a query was
	// active.
	ErrWorkerExited = errors.New("worker exited unexpectedly")

	// ErrBridgeClosed is returned by operations on a stopped bridge.
	ErrBridgeClosed = errors.New("bridge is closed")
)
