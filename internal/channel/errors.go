package channel

import "errors"

var (
	// ErrNoChannelForAddress indicates no connected channel owns the address.
	ErrNoChannelForAddress = errors.New("no channel for address")
	// ErrCapabilityUnsupported indicates the owning channel lacks an optional capability.
	ErrCapabilityUnsupported = errors.New("channel capability unsupported")
	// ErrChannelNotReady indicates an operation was attempted before Connect completed.
	ErrChannelNotReady = errors.New("channel not ready")
	// ErrInvalidComponents indicates an action row description failed validation.
	ErrInvalidComponents = errors.New("invalid components")
)
