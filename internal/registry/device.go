package registry

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"
)

// Device is the registry record for one logical sensor.
//
// Name, Level2, SubscribeTopic, PublishTopic and Keys are fixed at
// registration. Only the data values and the pending-send flag change
// afterwards, both behind mu.
type Device struct {
	Name           string
	Level2         string
	SubscribeTopic string
	PublishTopic   string

	keys   []string
	keySet map[string]struct{}

	mu          sync.Mutex
	data        map[string]any
	pendingSend bool
}

func newDevice(name, level2, subscribeTopic, publishTopic string, keys []string) *Device {
	d := &Device{
		Name:           name,
		Level2:         level2,
		SubscribeTopic: subscribeTopic,
		PublishTopic:   publishTopic,
		keys:           append([]string(nil), keys...),
		keySet:         make(map[string]struct{}, len(keys)),
		data:           make(map[string]any, len(keys)),
	}
	for _, k := range keys {
		d.keySet[k] = struct{}{}
		d.data[k] = 0
	}
	return d
}

// Keys returns the data keys in registration order.
func (d *Device) Keys() []string {
	return append([]string(nil), d.keys...)
}

// HasKey reports whether key is one of the device's data keys.
func (d *Device) HasKey(key string) bool {
	_, ok := d.keySet[key] // never written after newDevice
	return ok
}

// Store overwrites the values of registered keys with those in reading.
// Keys missing from reading keep their previous value. Keys not registered
// for the device are dropped and returned so the caller can report them.
func (d *Device) Store(reading map[string]any) (unknown []string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for k, v := range reading {
		if _, ok := d.keySet[k]; !ok {
			unknown = append(unknown, k)
			continue
		}
		d.data[k] = v
	}
	return unknown
}

// Snapshot returns a copy of the current data values.
func (d *Device) Snapshot() map[string]any {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make(map[string]any, len(d.data))
	for k, v := range d.data {
		out[k] = v
	}
	return out
}

// MarshalJSON encodes the current data as a JSON object whose keys appear in
// registration order, which keeps dashboard payloads stable between ticks.
func (d *Device) MarshalJSON() ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range d.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		vb, err := json.Marshal(d.data[k])
		if err != nil {
			return nil, fmt.Errorf("marshal %s.%s: %w", d.Name, k, err)
		}
		buf.Write(kb)
		buf.WriteByte(':')
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (d *Device) PendingSend() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pendingSend
}

func (d *Device) SetPendingSend(v bool) {
	d.mu.Lock()
	d.pendingSend = v
	d.mu.Unlock()
}
