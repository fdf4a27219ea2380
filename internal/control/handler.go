// Package control executes start/stop/reconfigure commands received over MQTT.
package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/sweeney/occlusion-sensor/internal/logic"
)

// Command names.
const (
	CmdStart        = "start"
	CmdStop         = "stop"
	CmdUpdateConfig = "update_config"
	CmdGetStatus    = "get_status"
)

// Response status values.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

const queueSize = 10

// Command is a control message.
type Command struct {
	Command string         `json:"command"`
	Config  *CommandConfig `json:"config,omitempty"`
}

// CommandConfig carries region settings for start and update_config.
type CommandConfig struct {
	Regions []RegionJSON `json:"regions"`
}

// RegionJSON is one region entry. Sensitivity is required.
type RegionJSON struct {
	Sensitivity *int `json:"sensitivity"`
}

// Response is published on the response topic for every command.
type Response struct {
	CommandAck string                 `json:"command_ack"`
	Status     string                 `json:"status"`
	Data       map[string]interface{} `json:"data,omitempty"`
	Error      string                 `json:"error,omitempty"`
	Timestamp  string                 `json:"timestamp"`
}

// Transport is the MQTT surface the handler needs.
type Transport interface {
	Subscribe(topic string, fn func(payload []byte)) error
	PublishRaw(topic string, payload []byte) error
}

// Callbacks connect commands to the detector. A nil callback makes its
// command fail with "not implemented".
type Callbacks struct {
	// OnStart receives nil when the command carries no config.
	OnStart        func(regions []logic.RegionConfig) error
	OnStop         func() error
	OnUpdateConfig func(regions []logic.RegionConfig) error
	OnGetStatus    func() map[string]interface{}
}

type request struct {
	cmd Command
	err error // set when the payload could not be decoded
}

// Handler queues control messages and executes them one at a time, in
// arrival order, off the MQTT callback goroutine.
type Handler struct {
	transport     Transport
	controlTopic  string
	responseTopic string
	callbacks     Callbacks
	requests      chan request
	now           func() time.Time

	started bool
	done    chan struct{}
}

// NewHandler creates a handler for the given topics.
func NewHandler(transport Transport, controlTopic, responseTopic string, callbacks Callbacks) *Handler {
	return &Handler{
		transport:     transport,
		controlTopic:  controlTopic,
		responseTopic: responseTopic,
		callbacks:     callbacks,
		requests:      make(chan request, queueSize),
		now:           time.Now,
		done:          make(chan struct{}),
	}
}

// Start subscribes to the control topic and processes commands until ctx is done.
func (h *Handler) Start(ctx context.Context) error {
	if err := h.transport.Subscribe(h.controlTopic, h.messageHandler); err != nil {
		return fmt.Errorf("control subscribe %s: %w", h.controlTopic, err)
	}
	log.Printf("control: listening on %s", h.controlTopic)

	h.started = true
	go func() {
		defer close(h.done)
		h.processCommands(ctx)
	}()
	return nil
}

// Wait blocks until the command loop has exited after ctx was cancelled,
// including any command that was executing at the time. It returns at once
// if Start never succeeded.
func (h *Handler) Wait() {
	if !h.started {
		return
	}
	<-h.done
}

func (h *Handler) messageHandler(payload []byte) {
	var req request
	if err := json.Unmarshal(payload, &req.cmd); err != nil {
		req.err = errors.New("invalid JSON")
		log.Printf("control: failed to parse command: %v", err)
	} else {
		log.Printf("control: command received: %s", req.cmd.Command)
	}

	select {
	case h.requests <- req:
	default:
		log.Printf("control: command queue full, dropping %q", req.cmd.Command)
	}
}

func (h *Handler) processCommands(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-h.requests:
			if ctx.Err() != nil {
				return
			}
			if req.err != nil {
				h.sendResponse(Response{CommandAck: "unknown", Status: StatusError, Error: req.err.Error()})
				continue
			}
			h.sendResponse(h.handleCommand(req.cmd))
		}
	}
}

// handleCommand executes cmd and builds its response.
func (h *Handler) handleCommand(cmd Command) Response {
	resp := Response{CommandAck: cmd.Command}

	fail := func(err error) Response {
		resp.Status = StatusError
		resp.Error = err.Error()
		return resp
	}
	notImplemented := func() Response {
		return fail(fmt.Errorf("%s not implemented", cmd.Command))
	}

	switch cmd.Command {
	case CmdStart:
		if h.callbacks.OnStart == nil {
			return notImplemented()
		}
		var regions []logic.RegionConfig
		if cmd.Config != nil {
			r, err := cmd.Config.regions()
			if err != nil {
				return fail(err)
			}
			regions = r
		}
		if err := h.callbacks.OnStart(regions); err != nil {
			return fail(err)
		}

	case CmdStop:
		if h.callbacks.OnStop == nil {
			return notImplemented()
		}
		if err := h.callbacks.OnStop(); err != nil {
			return fail(err)
		}

	case CmdUpdateConfig:
		if h.callbacks.OnUpdateConfig == nil {
			return notImplemented()
		}
		if cmd.Config == nil {
			return fail(errors.New("config required"))
		}
		regions, err := cmd.Config.regions()
		if err != nil {
			return fail(err)
		}
		if err := h.callbacks.OnUpdateConfig(regions); err != nil {
			return fail(err)
		}
		log.Printf("control: configuration updated, sensitivity=%d", regions[0].Sensitivity)

	case CmdGetStatus:
		if h.callbacks.OnGetStatus == nil {
			return notImplemented()
		}
		resp.Status = StatusSuccess
		resp.Data = h.callbacks.OnGetStatus()
		return resp

	default:
		return fail(fmt.Errorf("unknown command: %s", cmd.Command))
	}

	resp.Status = StatusSuccess
	if h.callbacks.OnGetStatus != nil {
		resp.Data = h.callbacks.OnGetStatus()
	}
	return resp
}

func (c CommandConfig) regions() ([]logic.RegionConfig, error) {
	if len(c.Regions) == 0 {
		return nil, errors.New("config.regions must not be empty")
	}
	out := make([]logic.RegionConfig, len(c.Regions))
	for i, r := range c.Regions {
		if r.Sensitivity == nil {
			return nil, fmt.Errorf("config.regions[%d].sensitivity required", i)
		}
		out[i] = logic.RegionConfig{Sensitivity: *r.Sensitivity}
	}
	return out, nil
}

func (h *Handler) sendResponse(resp Response) {
	resp.Timestamp = h.now().UTC().Format(time.RFC3339)

	payload, err := json.Marshal(resp)
	if err != nil {
		log.Printf("control: marshal response: %v", err)
		return
	}
	if err := h.transport.PublishRaw(h.responseTopic, payload); err != nil {
		log.Printf("control: publish response: %v", err)
		return
	}
	if resp.Status == StatusError {
		log.Printf("control: %s failed: %s", resp.CommandAck, resp.Error)
	}
}
