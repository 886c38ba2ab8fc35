package driver

import "errors"

// Sentinel errors the root package maps onto its own Error/ErrorCode
// type via errors.Is, the same layering the teacher uses between
// internal/ctrl and the root ublk.Error type.
var (
	ErrDead             = errors.New("binder: driver is dead")
	ErrConfiguration    = errors.New("binder: configuration error")
	ErrInvalidArgument  = errors.New("binder: invalid argument")
)
