package sensor

import (
	"context"
	"fmt"
	"log/slog"

	"periph.io/x/conn/v3/physic"
	"periph.io/x/devices/v3/ina219"
)

type powerSensor interface {
	Sense() (ina219.PowerMonitor, error)
}

// INA219 reads bus voltage (V), current (A) and power (W), in that key order.
type INA219 struct {
	name    string
	keys    []string
	dev     powerSensor
	logger  *slog.Logger
	address int
}

type INA219Options struct {
	Address    int
	MaxCurrent physic.ElectricCurrent // 0 uses the periph default
}

func NewINA219(h *Host, name string, keys []string, opts INA219Options, logger *slog.Logger) (*INA219, error) {
	bus, err := h.Bus()
	if err != nil {
		return nil, err
	}
	o := ina219.DefaultOpts
	if opts.Address != 0 {
		o.Address = opts.Address
	}
	if opts.MaxCurrent > 0 {
		o.MaxCurrent = opts.MaxCurrent
	}
	dev, err := ina219.New(bus, &o)
	if err != nil {
		return nil, fmt.Errorf("ina219 %s at %#x: %w", name, o.Address, err)
	}
	logger.Info("ina219 ready", "device", name, "address", fmt.Sprintf("%#x", o.Address), "max_current", o.MaxCurrent.String())
	return newINA219(name, keys, dev, o.Address, logger), nil
}

func newINA219(name string, keys []string, dev powerSensor, address int, logger *slog.Logger) *INA219 {
	return &INA219{name: name, keys: keys, dev: dev, address: address, logger: logger}
}

func (s *INA219) Read(_ context.Context) (map[string]any, error) {
	pm, err := s.dev.Sense()
	if err != nil {
		return nil, fmt.Errorf("ina219 %s sense: %w", s.name, err)
	}

	volts := float64(pm.Voltage) / float64(physic.Volt)
	amps := round(float64(pm.Current)/float64(physic.Ampere), 2)
	watts := float64(pm.Power) / float64(physic.Watt)

	s.logger.Debug("ina219 reading", "device", s.name, "address", s.address, "V", volts, "A", amps, "W", watts)
	return keyed(s.keys, volts, amps, watts), nil
}

// Close is a no-op; the shared bus is released by Host.
func (s *INA219) Close() error { return nil }
