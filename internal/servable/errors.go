package servable

import "errors"

// Lookup errors, matched by the transport layer when mapping to status
// codes.
var (
	ErrServableNotFound = errors.New("servable not found")
	ErrVersionNotFound  = errors.New("servable version not found")
	ErrMethodNotFound   = errors.New("method not found")
)
