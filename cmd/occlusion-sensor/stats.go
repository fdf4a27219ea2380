package main

import (
	"fmt"
	"io"

	"github.com/sweeney/occlusion-sensor/internal/isp"
	"github.com/sweeney/occlusion-sensor/internal/logic"
)

// printStats takes one sample and prints how the detector would read it.
func printStats(w io.Writer, src isp.Source, sensitivity int) error {
	th, err := logic.NewThresholds(sensitivity)
	if err != nil {
		return err
	}

	hist, err := src.Statistics()
	if err != nil {
		return fmt.Errorf("query statistics: %w", err)
	}

	variance := logic.Variance(hist[:])
	bright := hist.Bright()

	evidence := "none"
	switch {
	case th.SupportsOccluded(variance, bright):
		evidence = "occluded"
	case th.SupportsClear(variance, bright):
		evidence = "clear"
	}

	fmt.Fprintf(w, "histogram: %v\n", [logic.HistogramBuckets]uint16(hist))
	fmt.Fprintf(w, "variance: %d\n", variance)
	fmt.Fprintf(w, "bright: %d\n", bright)
	fmt.Fprintf(w, "thresholds: sensitivity=%d base=%d upper=%d lower=%d\n", th.Sensitivity, th.Base, th.Upper, th.Lower)
	fmt.Fprintf(w, "evidence: %s\n", evidence)
	return nil
}
