package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"periph.io/x/conn/v3/physic"

	"nredpi-gateway/internal/ble"
	"nredpi-gateway/internal/command"
	"nredpi-gateway/internal/config"
	"nredpi-gateway/internal/devices"
	"nredpi-gateway/internal/mqtt"
	"nredpi-gateway/internal/poller"
	"nredpi-gateway/internal/registry"
	"nredpi-gateway/internal/sensor"
)

// Gateway holds everything built from the device manifest before the
// broker connection is made.
type Gateway struct {
	Registry   *registry.Registry
	Dispatcher *command.Dispatcher
	Drivers    map[string]sensor.Driver
	Collisions []registry.Collision

	host   *sensor.Host
	order  []string
	logger *slog.Logger
}

// DriverOpener builds the driver for one manifest entry.
type DriverOpener func(h *sensor.Host, spec devices.Spec, logger *slog.Logger) (sensor.Driver, error)

func Run(ctx context.Context, cfg config.Config) error {
	logger := slog.Default()
	logger.Info("initializing gateway",
		"mqtt_broker", cfg.MQTTBroker,
		"mqtt_port", cfg.MQTTPort,
		"mqtt_client_id", cfg.MQTTClientID,
		"subscribe_root", cfg.SubscribeRoot,
		"publish_root", cfg.PublishRoot,
		"poll_interval", cfg.PollInterval,
		"devices_file", cfg.DevicesFile,
	)

	manifest, err := devices.Load(cfg.DevicesFile)
	if err != nil {
		return err
	}

	gw, err := Setup(cfg, manifest, OpenDriver, logger)
	if err != nil {
		return err
	}
	defer gw.Close()

	client := mqtt.NewClient(cfg, logger)
	client.SetSubscriptions(gw.Registry.SubscribeTopics(), gw.Dispatcher.MessageHandler(ctx))
	defer client.Disconnect()

	p, err := gw.Poller(client, cfg)
	if err != nil {
		return err
	}

	err = p.Run(ctx)
	if errors.Is(err, poller.ErrConnectionFailed) {
		logger.Error("could not connect to broker, check address and credentials",
			"broker", cfg.MQTTBroker,
			"port", cfg.MQTTPort,
			"failed_connection", client.FailedConnection(),
		)
	}
	logger.Info("gateway shutting down")
	return err
}

// Setup registers every manifest device and opens its driver. A duplicate
// device name aborts setup with *registry.DuplicateDeviceError; drivers
// opened so far are closed again.
func Setup(cfg config.Config, manifest devices.Manifest, open DriverOpener, logger *slog.Logger) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}
	gw := &Gateway{
		Registry: registry.New(cfg.SubscribeRoot, cfg.PublishRoot, logger),
		Drivers:  make(map[string]sensor.Driver),
		host:     sensor.NewHost(manifest.I2CBus, logger),
		logger:   logger,
	}
	gw.Dispatcher = command.NewDispatcher(gw.Registry, logger)

	for _, spec := range manifest.Devices {
		collisions, err := gw.Registry.Register(spec.Name, spec.Topic, spec.Suffix(cfg.MQTTClientID), spec.Keys)
		if err != nil {
			gw.Close()
			return nil, fmt.Errorf("register device: %w", err)
		}
		gw.Collisions = append(gw.Collisions, collisions...)

		drv, err := open(gw.host, spec, logger)
		if err != nil {
			gw.Close()
			return nil, fmt.Errorf("open driver for %s: %w", spec.Name, err)
		}
		gw.Drivers[spec.Name] = drv
		gw.order = append(gw.order, spec.Name)

		if h, ok := drv.(command.Handler); ok {
			if err := gw.Dispatcher.Handle(spec.Name, h); err != nil {
				gw.Close()
				return nil, err
			}
		}
	}
	return gw, nil
}

// Poller builds the polling loop with every driver attached.
func (gw *Gateway) Poller(t poller.Transport, cfg config.Config) (*poller.Poller, error) {
	p := poller.New(gw.Registry, t, poller.Options{Interval: cfg.PollInterval, Logger: gw.logger})
	for _, name := range gw.order {
		if err := p.Attach(name, gw.Drivers[name]); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// Close releases drivers in reverse order, then the I2C bus.
func (gw *Gateway) Close() {
	for i := len(gw.order) - 1; i >= 0; i-- {
		name := gw.order[i]
		if err := gw.Drivers[name].Close(); err != nil {
			gw.logger.Warn("driver close", "device", name, "error", err)
		}
	}
	gw.order = nil
	if err := gw.host.Close(); err != nil {
		gw.logger.Warn("i2c bus close", "error", err)
	}
}

// OpenDriver builds the periph-backed driver named in spec.
func OpenDriver(h *sensor.Host, spec devices.Spec, logger *slog.Logger) (sensor.Driver, error) {
	switch spec.Driver {
	case devices.DriverINA219:
		return sensor.NewINA219(h, spec.Name, spec.Keys, sensor.INA219Options{
			Address:    int(spec.Address),
			MaxCurrent: physic.ElectricCurrent(spec.MaxCurrentAmps * float64(physic.Ampere)),
		}, logger)
	case devices.DriverBME280:
		return sensor.NewBME280(h, spec.Name, spec.Keys, spec.Address, logger)
	case devices.DriverRotary:
		return sensor.NewRotary(h, spec.Name, spec.Keys, spec.ClkPin, spec.DTPin, logger)
	case devices.DriverBeacon:
		return ble.Start(spec.Name, spec.Keys, ble.Options{
			Adapter:   spec.BLEAdapter,
			Address:   spec.BLEAddress,
			CompanyID: spec.BLECompanyID,
			MaxAge:    spec.MaxAge,
		}, logger), nil
	case devices.DriverSimulated:
		return sensor.NewSimulated(spec.Keys), nil
	default:
		return nil, fmt.Errorf("unknown driver %q", spec.Driver)
	}
}
