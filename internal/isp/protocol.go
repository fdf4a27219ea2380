package isp

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/sweeney/occlusion-sensor/internal/logic"
)

// Line protocol spoken by the statistics bridge.
const (
	requestLine = "STATS\n"
	histPrefix  = "HIST"
	errPrefix   = "ERR"
)

// ParseLine parses one response line: "HIST h0 h1 h2 h3 h4" (space or comma
// separated) or "ERR <reason>".
func ParseLine(line string) (logic.Histogram, error) {
	var hist logic.Histogram

	line = strings.TrimSpace(line)
	switch {
	case strings.HasPrefix(line, errPrefix):
		reason := strings.TrimSpace(strings.TrimPrefix(line, errPrefix))
		if reason == "" {
			reason = "unspecified"
		}
		return hist, fmt.Errorf("%w: %s", ErrDevice, reason)
	case !strings.HasPrefix(line, histPrefix):
		return hist, fmt.Errorf("%w: %q", ErrMalformed, line)
	}

	fields := strings.FieldsFunc(strings.TrimPrefix(line, histPrefix), func(r rune) bool {
		return r == ' ' || r == ',' || r == '\t'
	})
	if len(fields) != logic.HistogramBuckets {
		return hist, fmt.Errorf("%w: want %d buckets, got %d", ErrMalformed, logic.HistogramBuckets, len(fields))
	}

	for i, f := range fields {
		v, err := strconv.ParseUint(f, 10, 16)
		if err != nil {
			return hist, fmt.Errorf("%w: bucket %d: %v", ErrMalformed, i, err)
		}
		hist[i] = uint16(v)
	}
	return hist, nil
}

// FormatLine renders a histogram the way the bridge reports it.
func FormatLine(hist logic.Histogram) string {
	parts := make([]string, len(hist))
	for i, v := range hist {
		parts[i] = strconv.FormatUint(uint64(v), 10)
	}
	return histPrefix + " " + strings.Join(parts, " ") + "\n"
}
