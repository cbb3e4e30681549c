package registry

import (
	"errors"
	"fmt"
)

var (
	// ErrDuplicateDevice is matched by *DuplicateDeviceError.
	// A duplicate name leaves the registry unusable; callers must stop.
	ErrDuplicateDevice = errors.New("registry: duplicate device name")

	// ErrInvalidDevice is returned when registration arguments break a naming rule.
	ErrInvalidDevice = errors.New("registry: invalid device")

	// ErrDeviceNotFound is returned by Lookup for unknown names.
	ErrDeviceNotFound = errors.New("registry: device not found")
)

// DuplicateDeviceError reports a second registration of the same device name.
type DuplicateDeviceError struct {
	Name string
}

func (e *DuplicateDeviceError) Error() string {
	return fmt.Sprintf("device %q already in use, device names must be unique", e.Name)
}

func (e *DuplicateDeviceError) Is(target error) bool {
	return target == ErrDuplicateDevice
}

// Collision describes two devices publishing the same data key under one
// subscribe topic. It is a warning, not an error: registration still succeeds.
type Collision struct {
	Device string // device being registered
	Other  string // device that already exposes Key
	Key    string
	Topic  string
}

func (c Collision) String() string {
	return fmt.Sprintf("%s and %s are both publishing %s on %s", c.Device, c.Other, c.Key, c.Topic)
}
