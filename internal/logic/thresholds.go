package logic

import (
	"errors"
	"fmt"
)

// Sensitivity bounds. Higher sensitivity lowers the variance band.
const (
	MinSensitivity = 0
	MaxSensitivity = 100
)

// Fixed policy constants. They do not depend on sensitivity.
const (
	// ClearBrightMin is the bright-bucket occupancy above which a sample supports CLEAR.
	ClearBrightMin = 2000
	// OccludedBrightMax is the bright-bucket occupancy below which a sample supports OCCLUDED.
	OccludedBrightMax = 1000
	// ClearDebounce is the number of consecutive supporting samples that must be exceeded to clear.
	ClearDebounce = 20
	// OccludedDebounce is the number of consecutive supporting samples that must be exceeded to occlude.
	OccludedDebounce = 10
)

// ErrSensitivityRange is returned for sensitivity values outside [0, 100].
var ErrSensitivityRange = errors.New("sensitivity out of range")

// Thresholds is the variance band derived from a sensitivity value.
type Thresholds struct {
	Sensitivity int
	Base        uint32
	Upper       uint32
	Lower       uint32
}

// NewThresholds derives the variance band for the given sensitivity.
func NewThresholds(sensitivity int) (Thresholds, error) {
	if sensitivity < MinSensitivity || sensitivity > MaxSensitivity {
		return Thresholds{}, fmt.Errorf("%w: %d (want %d-%d)", ErrSensitivityRange, sensitivity, MinSensitivity, MaxSensitivity)
	}

	base := uint32(10000 + (100-sensitivity)*200)
	return Thresholds{
		Sensitivity: sensitivity,
		Base:        base,
		Upper:       base * 11 / 10,
		Lower:       base * 9 / 10,
	}, nil
}

// SupportsClear reports whether a sample is evidence that the view is clear.
func (t Thresholds) SupportsClear(variance uint32, bright uint16) bool {
	return variance < t.Upper && bright > ClearBrightMin
}

// SupportsOccluded reports whether a sample is evidence that the view is occluded.
func (t Thresholds) SupportsOccluded(variance uint32, bright uint16) bool {
	return variance > t.Lower && bright < OccludedBrightMax
}
