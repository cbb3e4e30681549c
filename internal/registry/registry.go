// Package registry maps logical devices to their MQTT topics.
//
// Topic structure, as agreed with the Node-RED flows:
//
//	subscribe  {subscribeRoot}/{level2}ZCMD/+        e.g. nred2pi/ina219AZCMD/+
//	publish    {publishRoot}/{level2}/{suffix}       e.g. pi2nred/ina219A/piTest1
//
// Several devices may share a level2 segment and therefore a subscribe
// topic. Their data keys should not overlap, since the dashboard merges
// payloads received on the same topic by key.
package registry

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"
)

const commandSuffix = "ZCMD"

type Registry struct {
	subscribeRoot string
	publishRoot   string
	logger        *slog.Logger

	devices map[string]*Device
	order   []*Device

	topics   []string
	topicSet map[string]struct{}

	commandRe *regexp.Regexp
}

// New creates an empty registry. A nil logger falls back to slog.Default().
func New(subscribeRoot, publishRoot string, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		subscribeRoot: subscribeRoot,
		publishRoot:   publishRoot,
		logger:        logger,
		devices:       make(map[string]*Device),
		topicSet:      make(map[string]struct{}),
		commandRe: regexp.MustCompile(
			"^" + regexp.QuoteMeta(subscribeRoot) + "/([^/]+)" + commandSuffix + "/([^/]+)$",
		),
	}
}

// SubscribeTopic returns the command topic filter for level2.
func (r *Registry) SubscribeTopic(level2 string) string {
	return r.subscribeRoot + "/" + level2 + commandSuffix + "/+"
}

// PublishTopic returns the telemetry topic for level2 and suffix.
func (r *Registry) PublishTopic(level2, suffix string) string {
	return r.publishRoot + "/" + level2 + "/" + suffix
}

// Register adds a device and initialises each of its keys to zero.
//
// A name that is already registered returns *DuplicateDeviceError and leaves
// the registry untouched. When the device shares its subscribe topic with
// devices registered earlier, every key it has in common with them is logged
// as a warning and returned as a Collision; the device is registered anyway.
// Devices on other subscribe topics are not scanned, since their payloads
// never share a topic with this one.
func (r *Registry) Register(name, level2, publishSuffix string, keys []string) ([]Collision, error) {
	if _, ok := r.devices[name]; ok {
		return nil, &DuplicateDeviceError{Name: name}
	}
	if err := validate(name, level2, keys); err != nil {
		return nil, err
	}

	subTopic := r.SubscribeTopic(level2)
	dev := newDevice(name, level2, subTopic, r.PublishTopic(level2, publishSuffix), keys)

	var collisions []Collision
	if _, shared := r.topicSet[subTopic]; shared {
		for _, key := range keys {
			for _, other := range r.order {
				if other.SubscribeTopic != subTopic || !other.HasKey(key) {
					continue
				}
				c := Collision{Device: name, Other: other.Name, Key: key, Topic: subTopic}
				collisions = append(collisions, c)
				r.logger.Warn("duplicate data key on shared topic",
					"device", c.Device,
					"other_device", c.Other,
					"key", c.Key,
					"topic", c.Topic,
				)
			}
		}
	} else {
		r.topicSet[subTopic] = struct{}{}
		r.topics = append(r.topics, subTopic)
	}

	r.devices[name] = dev
	r.order = append(r.order, dev)

	r.logger.Info("device registered",
		"device", name,
		"subscribe_topic", dev.SubscribeTopic,
		"publish_topic", dev.PublishTopic,
		"keys", dev.keys,
	)
	return collisions, nil
}

// SubscribeTopics returns the distinct subscribe topics in the order they
// were first registered.
func (r *Registry) SubscribeTopics() []string {
	return append([]string(nil), r.topics...)
}

// Lookup returns the device registered under name.
func (r *Registry) Lookup(name string) (*Device, error) {
	d, ok := r.devices[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrDeviceNotFound, name)
	}
	return d, nil
}

// Devices returns all devices in registration order.
func (r *Registry) Devices() []*Device {
	return append([]*Device(nil), r.order...)
}

// DevicesOn returns the devices registered with the given level2 segment.
func (r *Registry) DevicesOn(level2 string) []*Device {
	var out []*Device
	for _, d := range r.order {
		if d.Level2 == level2 {
			out = append(out, d)
		}
	}
	return out
}

// ParseCommandTopic splits an inbound command topic into its level2 segment
// and command name. ok is false for topics outside the subscribe root.
func (r *Registry) ParseCommandTopic(topic string) (level2, command string, ok bool) {
	m := r.commandRe.FindStringSubmatch(topic)
	if m == nil {
		return "", "", false
	}
	return m[1], m[2], true
}

func validate(name, level2 string, keys []string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidDevice)
	}
	if strings.TrimSpace(level2) == "" {
		return fmt.Errorf("%w: device %q: topic level2 is required", ErrInvalidDevice, name)
	}
	if strings.ContainsAny(level2, "/+#") {
		return fmt.Errorf("%w: device %q: topic level2 %q must be a single topic level without wildcards", ErrInvalidDevice, name, level2)
	}
	if len(keys) == 0 {
		return fmt.Errorf("%w: device %q: at least one data key is required", ErrInvalidDevice, name)
	}
	seen := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		if k == "" {
			return fmt.Errorf("%w: device %q: empty data key", ErrInvalidDevice, name)
		}
		if _, dup := seen[k]; dup {
			return fmt.Errorf("%w: device %q: data key %q listed twice", ErrInvalidDevice, name, k)
		}
		seen[k] = struct{}{}
	}
	return nil
}
