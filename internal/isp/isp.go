// Package isp provides exposure statistics acquisition with hardware abstraction.
// The real implementation queries an ISP statistics bridge over a serial line.
// The fake implementation allows testing without hardware.
package isp

import (
	"errors"

	"github.com/sweeney/occlusion-sensor/internal/logic"
)

// Source returns exposure histogram snapshots.
type Source interface {
	// Statistics returns the current exposure histogram.
	// A failed query returns an error and must be safe to retry.
	Statistics() (logic.Histogram, error)

	// Close releases the underlying device.
	Close() error
}

var (
	// ErrMalformed is returned when a response line cannot be parsed.
	ErrMalformed = errors.New("isp: malformed statistics line")
	// ErrDevice is returned when the bridge reports a failed query.
	ErrDevice = errors.New("isp: device error")
	// ErrTimeout is returned when no complete response arrives in time.
	ErrTimeout = errors.New("isp: read timeout")
)
