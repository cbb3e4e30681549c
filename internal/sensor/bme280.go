package sensor

import (
	"context"
	"fmt"
	"log/slog"

	"periph.io/x/conn/v3/physic"
	"periph.io/x/devices/v3/bmxx80"
)

type envSensor interface {
	Sense(e *physic.Env) error
	Halt() error
}

// BME280 reads temperature (°C), humidity (%) and pressure (hPa), in that key order.
type BME280 struct {
	name   string
	keys   []string
	dev    envSensor
	logger *slog.Logger
}

func NewBME280(h *Host, name string, keys []string, address uint16, logger *slog.Logger) (*BME280, error) {
	bus, err := h.Bus()
	if err != nil {
		return nil, err
	}
	if address == 0 {
		address = 0x76
	}
	dev, err := bmxx80.NewI2C(bus, address, &bmxx80.DefaultOpts)
	if err != nil {
		return nil, fmt.Errorf("bmxx80 %s at %#x: %w", name, address, err)
	}
	logger.Info("bme280 ready", "device", name, "address", fmt.Sprintf("%#x", address))
	return &BME280{name: name, keys: keys, dev: dev, logger: logger}, nil
}

func (s *BME280) Read(_ context.Context) (map[string]any, error) {
	var env physic.Env
	if err := s.dev.Sense(&env); err != nil {
		return nil, fmt.Errorf("bme280 %s sense: %w", s.name, err)
	}

	temperature := round(env.Temperature.Celsius(), 2)

	// env.Humidity is stored as an int32 fixed point integer at a precision
	// of 0.00001%rH.
	humidity := round(float64(env.Humidity)/100000.0, 2)

	// env.Pressure is an int64 nano Pascal.
	pressure := round(float64(env.Pressure)/float64(100*physic.Pascal), 2)

	return keyed(s.keys, temperature, humidity, pressure), nil
}

func (s *BME280) Close() error {
	return s.dev.Halt()
}
