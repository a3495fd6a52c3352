package engine

import "errors"

var (
	ErrShutdown      = errors.New("engine is not running")
	ErrEngineErrored = errors.New("engine is in error state")
	ErrUnknownMode   = errors.New("matching mode not supported")
	ErrOrderNotFound = errors.New("order not found")
	ErrQueueFull     = errors.New("engine command queue is full")
)
