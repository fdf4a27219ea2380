package isp

import (
	"bytes"
	"fmt"
	"io"
	"sync"
	"time"

	"go.bug.st/serial"

	"github.com/sweeney/occlusion-sensor/internal/logic"
)

// maxLineLen bounds a response line; anything longer is treated as garbage.
const maxLineLen = 256

// Port is the subset of serial.Port used by SerialSource.
type Port interface {
	io.ReadWriteCloser
	// ResetInputBuffer discards bytes received but not yet read.
	ResetInputBuffer() error
}

// SerialSource queries the ISP statistics bridge over a serial line.
// Each call writes one request and reads one response line.
type SerialSource struct {
	mu      sync.Mutex
	port    Port
	pending []byte
}

// OpenSerial opens the statistics bridge at path. A read that sees no data
// within timeout fails the query.
func OpenSerial(path string, baud int, timeout time.Duration) (*SerialSource, error) {
	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("open serial %s: %w", path, err)
	}
	if err := port.SetReadTimeout(timeout); err != nil {
		port.Close()
		return nil, fmt.Errorf("set read timeout: %w", err)
	}

	return NewSerialSource(port), nil
}

// NewSerialSource wraps an already-open port. The port's reads must time out
// by returning (0, nil) when no data arrives.
func NewSerialSource(port Port) *SerialSource {
	return &SerialSource{port: port}
}

// Statistics requests one histogram from the bridge.
func (s *SerialSource) Statistics() (logic.Histogram, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Drop late answers to earlier, timed-out requests
	s.pending = s.pending[:0]
	if err := s.port.ResetInputBuffer(); err != nil {
		return logic.Histogram{}, fmt.Errorf("reset input: %w", err)
	}

	if _, err := io.WriteString(s.port, requestLine); err != nil {
		return logic.Histogram{}, fmt.Errorf("write request: %w", err)
	}

	line, err := s.readLine()
	if err != nil {
		return logic.Histogram{}, err
	}
	return ParseLine(line)
}

func (s *SerialSource) readLine() (string, error) {
	buf := make([]byte, 64)
	for {
		if i := bytes.IndexByte(s.pending, '\n'); i >= 0 {
			line := string(s.pending[:i])
			s.pending = append(s.pending[:0], s.pending[i+1:]...)
			return line, nil
		}
		if len(s.pending) > maxLineLen {
			s.pending = s.pending[:0]
			return "", fmt.Errorf("%w: line exceeds %d bytes", ErrMalformed, maxLineLen)
		}

		n, err := s.port.Read(buf)
		if err != nil {
			return "", fmt.Errorf("read response: %w", err)
		}
		if n == 0 {
			return "", ErrTimeout
		}
		s.pending = append(s.pending, buf[:n]...)
	}
}

// Close closes the serial port.
func (s *SerialSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.port.Close()
}
