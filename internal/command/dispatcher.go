// Package command routes Node-RED commands to devices.
//
// Commands arrive on {subscribeRoot}/{level2}ZCMD/{name} with a JSON payload.
// Every device registered under level2 that has a handler receives the
// command.
package command

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"nredpi-gateway/internal/registry"
)

type Command struct {
	Level2  string
	Name    string
	Payload json.RawMessage
}

// Handler is implemented by drivers that accept commands.
type Handler interface {
	Command(ctx context.Context, cmd Command) error
}

type Dispatcher struct {
	reg    *registry.Registry
	logger *slog.Logger

	mu       sync.RWMutex
	handlers map[string]Handler // by device name
}

func NewDispatcher(reg *registry.Registry, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		reg:      reg,
		logger:   logger,
		handlers: make(map[string]Handler),
	}
}

// Handle binds h to a registered device.
func (d *Dispatcher) Handle(device string, h Handler) error {
	if _, err := d.reg.Lookup(device); err != nil {
		return err
	}
	d.mu.Lock()
	d.handlers[device] = h
	d.mu.Unlock()
	return nil
}

// Dispatch parses an inbound message and delivers it. It returns the number
// of handlers that accepted the command. Errors are logged, not returned,
// since the caller is the MQTT receive loop.
func (d *Dispatcher) Dispatch(ctx context.Context, topic string, payload []byte) int {
	level2, name, ok := d.reg.ParseCommandTopic(topic)
	if !ok {
		d.logger.Debug("ignoring message on unexpected topic", "topic", topic)
		return 0
	}

	if len(payload) == 0 {
		payload = []byte("null")
	}
	if !json.Valid(payload) {
		d.logger.Warn("command payload is not valid JSON", "topic", topic, "payload", string(payload))
		return 0
	}
	cmd := Command{Level2: level2, Name: name, Payload: json.RawMessage(payload)}

	d.mu.RLock()
	defer d.mu.RUnlock()

	delivered := 0
	for _, dev := range d.reg.DevicesOn(level2) {
		h, ok := d.handlers[dev.Name]
		if !ok {
			continue
		}
		if err := h.Command(ctx, cmd); err != nil {
			d.logger.Warn("command failed", "device", dev.Name, "command", name, "error", err)
			continue
		}
		delivered++
		d.logger.Info("command handled", "device", dev.Name, "command", name)
	}
	if delivered == 0 {
		d.logger.Debug("no handler accepted command", "topic", topic, "payload", string(payload))
	}
	return delivered
}

// MessageHandler adapts Dispatch to the MQTT client callback.
func (d *Dispatcher) MessageHandler(ctx context.Context) func(topic string, payload []byte) {
	return func(topic string, payload []byte) {
		d.Dispatch(ctx, topic, payload)
	}
}
