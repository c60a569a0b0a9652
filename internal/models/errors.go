package models

import "errors"

// Error kinds surfaced by the processing core. Components never propagate
// errors past their boundary; these values end up in ProcessingResult.Errors
// or in counters.
var (
	// ErrInvalidData indicates a record failed construction or validation
	ErrInvalidData = errors.New("invalid data")

	// ErrUnknownDataType indicates the identifier could not classify an item
	ErrUnknownDataType = errors.New("unknown data type")

	// ErrNoAvailableChannel indicates no registered channel could accept work
	ErrNoAvailableChannel = errors.New("no available channel")

	// ErrChannelUnhealthy indicates a channel rejected work due to its health state
	ErrChannelUnhealthy = errors.New("channel unhealthy")

	// ErrCircuitOpen indicates a circuit breaker rejected the call
	ErrCircuitOpen = errors.New("circuit breaker open")

	// ErrRouterUnavailable indicates the router-level circuit breaker is open
	ErrRouterUnavailable = errors.New("router unavailable")

	// ErrTimeout indicates the routing deadline was exceeded
	ErrTimeout = errors.New("routing timeout")

	// ErrQueueFull indicates a bounded queue rejected an enqueue
	ErrQueueFull = errors.New("queue full")

	// ErrNotRunning indicates an operation was attempted outside the Active state
	ErrNotRunning = errors.New("component not running")
)
