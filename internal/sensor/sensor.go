// Package sensor holds the hardware drivers polled by the gateway.
//
// Each driver is built with the device's data keys and returns readings
// keyed by them, in the order the driver documents.
package sensor

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"
)

// Driver is a pollable device that owns hardware resources.
type Driver interface {
	Read(ctx context.Context) (map[string]any, error)
	Close() error
}

// Host initialises periph once and shares the default I2C bus between drivers.
type Host struct {
	logger *slog.Logger

	mu      sync.Mutex
	inited  bool
	bus     i2c.BusCloser
	busName string
}

// NewHost returns a Host for the named I2C bus ("" is the default bus,
// usually /dev/i2c-1 on a Raspberry Pi).
func NewHost(busName string, logger *slog.Logger) *Host {
	if logger == nil {
		logger = slog.Default()
	}
	return &Host{busName: busName, logger: logger}
}

func (h *Host) init() error {
	if h.inited {
		return nil
	}
	if _, err := host.Init(); err != nil {
		return fmt.Errorf("host init: %w", err)
	}
	h.inited = true
	return nil
}

// Bus opens the I2C bus on first use.
func (h *Host) Bus() (i2c.Bus, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.init(); err != nil {
		return nil, err
	}
	if h.bus == nil {
		bus, err := i2creg.Open(h.busName)
		if err != nil {
			return nil, fmt.Errorf("i2c open %q: %w", h.busName, err)
		}
		h.bus = bus
		h.logger.Info("i2c bus opened", "bus", bus.String())
	}
	return h.bus, nil
}

// GPIO makes sure the host drivers are loaded before pins are looked up.
func (h *Host) GPIO() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.init()
}

// Close releases the I2C bus. Safe to call when nothing was opened.
func (h *Host) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.bus == nil {
		return nil
	}
	err := h.bus.Close()
	h.bus = nil
	return err
}

// keyed assigns values to keys position by position. Keys without a value
// are left out so the registry keeps their previous value.
func keyed(keys []string, values ...any) map[string]any {
	out := make(map[string]any, len(keys))
	for i, k := range keys {
		if i >= len(values) {
			break
		}
		out[k] = values[i]
	}
	return out
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
