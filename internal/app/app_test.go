package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nredpi-gateway/internal/config"
	"nredpi-gateway/internal/devices"
	"nredpi-gateway/internal/registry"
	"nredpi-gateway/internal/sensor"
)

func testConfig() config.Config {
	return config.Config{
		MQTTClientID:  "pi",
		SubscribeRoot: "nred2pi",
		PublishRoot:   "pi2nred",
		PollInterval:  5 * time.Millisecond,
	}
}

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func suffix(s string) *string { return &s }

type closeTracker struct {
	sensor.Driver
	name   string
	closed *[]string
}

func (c closeTracker) Close() error {
	*c.closed = append(*c.closed, c.name)
	return nil
}

// simOpener builds simulated drivers and records Close order.
func simOpener(closed *[]string) DriverOpener {
	return func(_ *sensor.Host, spec devices.Spec, _ *slog.Logger) (sensor.Driver, error) {
		return closeTracker{Driver: sensor.NewSimulated(spec.Keys), name: spec.Name, closed: closed}, nil
	}
}

type memTransport struct {
	mu   sync.Mutex
	msgs map[string][]string
}

func (m *memTransport) Connect(context.Context) error { return nil }

func (m *memTransport) Publish(topic string, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.msgs == nil {
		m.msgs = make(map[string][]string)
	}
	m.msgs[topic] = append(m.msgs[topic], string(payload))
	return nil
}

func (m *memTransport) first(topic string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.msgs[topic]) == 0 {
		return "", false
	}
	return m.msgs[topic][0], true
}

func TestSetup_RegistersDevices(t *testing.T) {
	var closed []string
	manifest := devices.Manifest{Devices: []devices.Spec{
		{Name: "ina219A", Topic: "ina219A", PublishSuffix: suffix("piTest1"), Keys: []string{"Vbusf", "IbusAf", "PowerWf"}, Driver: devices.DriverSimulated},
		{Name: "enc", Topic: "rotary", Keys: []string{"count"}, Driver: devices.DriverSimulated},
	}}

	gw, err := Setup(testConfig(), manifest, simOpener(&closed), quiet())
	require.NoError(t, err)

	d, err := gw.Registry.Lookup("ina219A")
	require.NoError(t, err)
	assert.Equal(t, "nred2pi/ina219AZCMD/+", d.SubscribeTopic)
	assert.Equal(t, "pi2nred/ina219A/piTest1", d.PublishTopic)
	assert.Equal(t, map[string]any{"Vbusf": 0, "IbusAf": 0, "PowerWf": 0}, d.Snapshot())

	enc, err := gw.Registry.Lookup("enc")
	require.NoError(t, err)
	assert.Equal(t, "pi2nred/rotary/pi", enc.PublishTopic)

	assert.Equal(t, []string{"nred2pi/ina219AZCMD/+", "nred2pi/rotaryZCMD/+"}, gw.Registry.SubscribeTopics())
	assert.Empty(t, gw.Collisions)

	gw.Close()
	assert.Equal(t, []string{"enc", "ina219A"}, closed)
}

func TestSetup_DuplicateNameIsFatal(t *testing.T) {
	var closed []string
	manifest := devices.Manifest{Devices: []devices.Spec{
		{Name: "ina219A", Topic: "ina219A", Keys: []string{"V"}, Driver: devices.DriverSimulated},
		{Name: "ina219A", Topic: "other", Keys: []string{"W"}, Driver: devices.DriverSimulated},
	}}

	gw, err := Setup(testConfig(), manifest, simOpener(&closed), quiet())
	require.Error(t, err)
	assert.Nil(t, gw)

	var dup *registry.DuplicateDeviceError
	require.True(t, errors.As(err, &dup))
	assert.Equal(t, "ina219A", dup.Name)
	assert.Equal(t, []string{"ina219A"}, closed, "already opened drivers are released")
}

func TestSetup_CollisionIsAWarning(t *testing.T) {
	var closed []string
	manifest := devices.Manifest{Devices: []devices.Spec{
		{Name: "A", Topic: "x", Keys: []string{"v"}, Driver: devices.DriverSimulated},
		{Name: "B", Topic: "x", Keys: []string{"v"}, Driver: devices.DriverSimulated},
	}}
	cfg := testConfig()
	cfg.SubscribeRoot = "root"

	gw, err := Setup(cfg, manifest, simOpener(&closed), quiet())
	require.NoError(t, err)
	defer gw.Close()

	assert.Equal(t, []registry.Collision{{Device: "B", Other: "A", Key: "v", Topic: "root/xZCMD/+"}}, gw.Collisions)
	assert.Len(t, gw.Drivers, 2)
}

func TestSetup_DriverOpenFailure(t *testing.T) {
	var closed []string
	ok := simOpener(&closed)
	open := func(h *sensor.Host, spec devices.Spec, l *slog.Logger) (sensor.Driver, error) {
		if spec.Name == "broken" {
			return nil, errors.New("i2c: no such device")
		}
		return ok(h, spec, l)
	}
	manifest := devices.Manifest{Devices: []devices.Spec{
		{Name: "good", Topic: "g", Keys: []string{"v"}, Driver: devices.DriverSimulated},
		{Name: "broken", Topic: "b", Keys: []string{"v"}, Driver: devices.DriverINA219},
	}}

	_, err := Setup(testConfig(), manifest, open, quiet())
	assert.ErrorContains(t, err, "broken")
	assert.Equal(t, []string{"good"}, closed)
}

func TestGateway_PollsAndPublishes(t *testing.T) {
	manifest := devices.Manifest{Devices: []devices.Spec{
		{Name: "sim", Topic: "sim", PublishSuffix: suffix("piTest1"), Keys: []string{"a", "b"}, Driver: devices.DriverSimulated},
	}}
	cfg := testConfig()

	gw, err := Setup(cfg, manifest, OpenDriver, quiet())
	require.NoError(t, err)
	defer gw.Close()

	tr := &memTransport{}
	p, err := gw.Poller(tr, cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	require.Eventually(t, func() bool {
		_, ok := tr.first("pi2nred/sim/piTest1")
		return ok
	}, 2*time.Second, 5*time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	got, _ := tr.first("pi2nred/sim/piTest1")
	assert.Equal(t, `{"a":1,"b":2}`, got)
}

func TestOpenDriver_Unknown(t *testing.T) {
	_, err := OpenDriver(sensor.NewHost("", quiet()), devices.Spec{Name: "x", Driver: "adc"}, quiet())
	assert.Error(t, err)
}

func TestGateway_CommandReachesDriver(t *testing.T) {
	manifest := devices.Manifest{Devices: []devices.Spec{
		{Name: "sim", Topic: "sim", Keys: []string{"a"}, Driver: devices.DriverSimulated},
	}}
	gw, err := Setup(testConfig(), manifest, OpenDriver, quiet())
	require.NoError(t, err)
	defer gw.Close()

	ctx := context.Background()
	drv := gw.Drivers["sim"]
	for range 3 {
		_, err := drv.Read(ctx)
		require.NoError(t, err)
	}

	// what the MQTT client hands over for a message on the subscribed topic
	gw.Dispatcher.MessageHandler(ctx)("nred2pi/simZCMD/reset", nil)

	got, err := drv.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"a": 1}, got)
}
