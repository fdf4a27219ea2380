// Package gpio drives the occlusion indicator LED.
// The real implementation uses the Linux GPIO character device.
// The fake implementation allows testing without hardware.
package gpio

import "github.com/sweeney/occlusion-sensor/internal/logic"

// Indicator shows the confirmed occlusion state.
type Indicator interface {
	// Set drives the indicator: on while occluded, off while clear.
	Set(occluded bool) error

	// Close turns the indicator off and releases GPIO resources.
	Close() error
}

// DefaultChip is the GPIO chip on the Raspberry Pi header.
const DefaultChip = "gpiochip0"

// Disabled is the pin value meaning "no indicator".
const Disabled = -1

// Follow returns a function that mirrors confirmed transitions onto ind.
// It matches the monitor sink signature.
func Follow(ind Indicator) func(event logic.Event) error {
	return func(event logic.Event) error {
		return ind.Set(event.Occluded)
	}
}
