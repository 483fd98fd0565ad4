package clients

import "errors"

// ErrNotFound is returned when the chain has no record of the requested
// transaction, receipt or block. It is an answer, not a failure, and does
// not trigger endpoint failover.
var ErrNotFound = errors.New("not found")

// errMalformed marks a response that could not be decoded.
var errMalformed = errors.New("malformed rpc response")
