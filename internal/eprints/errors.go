package eprints

import "errors"

var (
	// ErrNetwork marks connectivity failures and server-side errors that
	// persisted through the client's retry budget.
	ErrNetwork = errors.New("eprints: network error")
	// ErrProtocol marks a response the client could not interpret.
	ErrProtocol = errors.New("eprints: protocol error")
	// ErrNotFound marks a record the server does not serve.
	ErrNotFound = errors.New("eprints: not found")
)
