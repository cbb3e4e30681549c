// Package poller drives the fixed-interval read → publish loop.
package poller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"nredpi-gateway/internal/registry"
)

const DefaultInterval = time.Second

// ErrConnectionFailed is returned by Run when the transport never connects.
// Polling does not start in that case.
var ErrConnectionFailed = errors.New("poller: transport connection failed")

// Reader is the driver contract: one reading keyed by the device's data keys.
type Reader interface {
	Read(ctx context.Context) (map[string]any, error)
}

// Transport is what the loop needs from the MQTT side. Connect may return
// long after the broker handshake was started; Run waits for it.
type Transport interface {
	Connect(ctx context.Context) error
	Publish(topic string, payload []byte) error
}

type State int32

const (
	StateIdle State = iota
	StateConnecting
	StateRunning
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

type Options struct {
	Interval time.Duration
	Logger   *slog.Logger
}

type Poller struct {
	reg       *registry.Registry
	transport Transport
	interval  time.Duration
	logger    *slog.Logger

	readers map[string]Reader
	state   atomic.Int32
}

// TickResult counts per-device outcomes of one poll cycle.
type TickResult struct {
	Published int
	Failed    int
	Skipped   int
}

func New(reg *registry.Registry, transport Transport, opts Options) *Poller {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Poller{
		reg:       reg,
		transport: transport,
		interval:  opts.Interval,
		logger:    opts.Logger,
		readers:   make(map[string]Reader),
	}
}

// Attach binds a driver to a registered device. Must be called before Run.
func (p *Poller) Attach(name string, r Reader) error {
	if _, err := p.reg.Lookup(name); err != nil {
		return err
	}
	if r == nil {
		return fmt.Errorf("poller: nil reader for device %q", name)
	}
	p.readers[name] = r
	return nil
}

func (p *Poller) State() State {
	return State(p.state.Load())
}

func (p *Poller) setState(s State) {
	old := State(p.state.Swap(int32(s)))
	if old != s {
		p.logger.Debug("poller state", "from", old.String(), "to", s.String())
	}
}

// Run connects the transport, then polls every interval until ctx is done.
// It always ends in StateStopped; the caller releases hardware afterwards.
func (p *Poller) Run(ctx context.Context) error {
	defer p.setState(StateStopped)

	p.setState(StateConnecting)
	if err := p.transport.Connect(ctx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	p.setState(StateRunning)
	p.logger.Info("polling started", "interval", p.interval, "devices", len(p.readers))

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("polling stopped")
			return ctx.Err()
		case <-ticker.C:
			res := p.tick(ctx)
			if res.Failed > 0 {
				p.logger.Debug("tick finished with failures",
					"published", res.Published,
					"failed", res.Failed,
				)
			}
		}
	}
}

// tick reads and publishes every registered device once. A failure for one
// device is logged and does not affect the others.
func (p *Poller) tick(ctx context.Context) TickResult {
	var res TickResult
	for _, dev := range p.reg.Devices() {
		if ctx.Err() != nil {
			return res
		}
		r, ok := p.readers[dev.Name]
		if !ok {
			p.logger.Debug("no driver attached, skipping", "device", dev.Name)
			res.Skipped++
			continue
		}
		if err := p.poll(ctx, dev, r); err != nil {
			p.logger.Warn("device poll failed", "device", dev.Name, "topic", dev.PublishTopic, "error", err)
			res.Failed++
			continue
		}
		res.Published++
	}
	return res
}

func (p *Poller) poll(ctx context.Context, dev *registry.Device, r Reader) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("driver panic: %v", rec)
		}
	}()

	reading, err := r.Read(ctx)
	if err != nil {
		return fmt.Errorf("read: %w", err)
	}
	if unknown := dev.Store(reading); len(unknown) > 0 {
		p.logger.Warn("driver returned unregistered keys", "device", dev.Name, "keys", unknown)
	}

	payload, err := dev.MarshalJSON()
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	if err := p.transport.Publish(dev.PublishTopic, payload); err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	p.logger.Debug("published", "device", dev.Name, "topic", dev.PublishTopic, "payload", string(payload))
	return nil
}
