// Package channel defines the delivery abstraction used by the notification processor.
package channel

import (
	"context"
	"errors"
)

// ErrNotReady is matched by errors reporting a channel that cannot send yet.
var ErrNotReady = errors.New("channel not ready")

// Channel sends text to a canonical address.
//
// Implementations perform exactly one transport call per Send and never retry.
//
//go:generate mockgen -source=channel.go -destination=../mocks/channel/mock.go -package=mocks
type Channel interface {
	// Name is a human-readable label used in diagnostics.
	Name() string
	// Ready reports whether Send can be attempted. It must not block.
	Ready() bool
	// Send delivers text to address.
	Send(ctx context.Context, address, text string) error
}

// NotReadyError is returned when delivery is refused because the channel is not ready.
type NotReadyError struct {
	Channel string
}

func (e *NotReadyError) Error() string {
	return e.Channel + " not ready"
}

// Is makes NotReadyError match ErrNotReady.
func (e *NotReadyError) Is(target error) bool {
	return target == ErrNotReady
}

// DeliveryError wraps a transport failure. Its message is the transport's
// diagnostic, unchanged.
type DeliveryError struct {
	Channel string
	Address string
	Err     error
}

func (e *DeliveryError) Error() string {
	if e.Err == nil {
		return e.Channel + " delivery failed"
	}
	return e.Err.Error()
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}
