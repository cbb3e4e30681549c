// Package devices loads the YAML manifest describing the sensors to register.
package devices

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Driver string

const (
	DriverINA219    Driver = "ina219"
	DriverRotary    Driver = "rotary"
	DriverBME280    Driver = "bme280"
	DriverBeacon    Driver = "ble"
	DriverSimulated Driver = "sim"
)

var ErrInvalidManifest = errors.New("devices: invalid manifest")

type Manifest struct {
	// I2CBus names the bus shared by I2C sensors, "" for the default.
	I2CBus  string `yaml:"i2c_bus"`
	Devices []Spec `yaml:"devices"`
}

// Spec describes one device entry.
type Spec struct {
	Name   string   `yaml:"name"`
	Topic  string   `yaml:"topic"`
	Keys   []string `yaml:"keys"`
	Driver Driver   `yaml:"driver"`

	// PublishSuffix is the free-form last publish topic level. When absent
	// the MQTT client ID is used; an explicit empty string is kept.
	PublishSuffix *string `yaml:"publish_suffix"`

	Address        uint16  `yaml:"address"`
	MaxCurrentAmps float64 `yaml:"max_current_amps"`
	ClkPin         string  `yaml:"clk_pin"`
	DTPin          string  `yaml:"dt_pin"`

	BLEAdapter   string        `yaml:"ble_adapter"`
	BLEAddress   string        `yaml:"ble_address"`
	BLECompanyID uint16        `yaml:"ble_company_id"`
	MaxAge       time.Duration `yaml:"max_age"`
}

// Suffix returns the publish suffix, defaulting to clientID.
func (s Spec) Suffix(clientID string) string {
	if s.PublishSuffix == nil {
		return clientID
	}
	return *s.PublishSuffix
}

func Load(path string) (Manifest, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Manifest{}, fmt.Errorf("read devices file: %w", err)
	}
	m, err := Parse(bytes.NewReader(b))
	if err != nil {
		return Manifest{}, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

func Parse(r io.Reader) (Manifest, error) {
	var m Manifest
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&m); err != nil {
		if errors.Is(err, io.EOF) {
			return Manifest{}, fmt.Errorf("%w: empty document", ErrInvalidManifest)
		}
		return Manifest{}, fmt.Errorf("%w: %w", ErrInvalidManifest, err)
	}
	if err := m.validate(); err != nil {
		return Manifest{}, err
	}
	return m, nil
}

// validate checks driver-specific fields only. Naming rules and duplicate
// names are enforced by the registry at registration time.
func (m Manifest) validate() error {
	if len(m.Devices) == 0 {
		return fmt.Errorf("%w: no devices", ErrInvalidManifest)
	}
	for i, d := range m.Devices {
		switch d.Driver {
		case DriverINA219, DriverBME280, DriverBeacon, DriverSimulated:
		case DriverRotary:
			if d.ClkPin == "" || d.DTPin == "" {
				return fmt.Errorf("%w: device %d (%s): rotary needs clk_pin and dt_pin", ErrInvalidManifest, i, d.Name)
			}
		case "":
			return fmt.Errorf("%w: device %d (%s): driver is required", ErrInvalidManifest, i, d.Name)
		default:
			return fmt.Errorf("%w: device %d (%s): unknown driver %q", ErrInvalidManifest, i, d.Name, d.Driver)
		}
		if d.MaxAge < 0 {
			return fmt.Errorf("%w: device %d (%s): max_age must not be negative", ErrInvalidManifest, i, d.Name)
		}
		if d.MaxCurrentAmps < 0 {
			return fmt.Errorf("%w: device %d (%s): max_current_amps must not be negative", ErrInvalidManifest, i, d.Name)
		}
	}
	return nil
}
