// Package ble reads Pico sensor beacons broadcast over Bluetooth LE.
package ble

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

const maxSeenIDs = 500

// ErrNoReading is returned by Read before a fresh beacon has been received.
var ErrNoReading = errors.New("ble: no recent beacon reading")

type Options struct {
	Adapter   string
	Address   string
	CompanyID uint16
	// MaxAge drops readings older than this; 0 keeps the last reading forever.
	MaxAge time.Duration
}

// Beacon keeps the latest reading from a sensor beacon. Readings are
// temperature, pressure, humidity and reading id, in that key order.
type Beacon struct {
	name   string
	keys   []string
	maxAge time.Duration
	logger *slog.Logger
	now    func() time.Time

	mu     sync.Mutex
	last   *Reading
	seenAt time.Time
	seen   map[uint32]struct{}

	cancel context.CancelFunc
	done   chan struct{}
}

// Start begins scanning in the background. A scan error is logged and the
// device keeps reporting ErrNoReading.
func Start(name string, keys []string, opts Options, logger *slog.Logger) *Beacon {
	b := newBeacon(name, keys, opts.MaxAge, logger)
	l := NewListener(opts.Adapter, Filter{
		Address:   opts.Address,
		CompanyID: opts.CompanyID,
		Prefix:    MagicPrefix,
	}, logger)

	ctx, cancel := context.WithCancel(context.Background())
	b.cancel = cancel
	b.done = make(chan struct{})
	go func() {
		defer close(b.done)
		if err := l.Run(ctx, b.handle); err != nil {
			logger.Warn("ble listener stopped; device will report no readings", "device", name, "error", err)
		}
	}()
	return b
}

func newBeacon(name string, keys []string, maxAge time.Duration, logger *slog.Logger) *Beacon {
	return &Beacon{
		name:   name,
		keys:   keys,
		maxAge: maxAge,
		logger: logger,
		now:    time.Now,
		seen:   make(map[uint32]struct{}),
	}
}

// handle records a match, ignoring repeats of the same reading id.
func (b *Beacon) handle(m Match) {
	r, err := Parse(m.Data)
	if err != nil {
		b.logger.Debug("ignore non-sensor payload", "device", b.name, "addr", m.Address, "data", fmt.Sprintf("%X", m.Data), "error", err)
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if _, dup := b.seen[r.ID]; dup {
		return
	}
	if len(b.seen) >= maxSeenIDs {
		b.seen = make(map[uint32]struct{})
	}
	b.seen[r.ID] = struct{}{}
	b.last = &r
	b.seenAt = m.SeenAt
	b.logger.Debug("beacon reading", "device", b.name, "addr", m.Address, "rssi", m.RSSI, "reading_id", r.ID)
}

func (b *Beacon) Read(_ context.Context) (map[string]any, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.last == nil {
		return nil, ErrNoReading
	}
	if b.maxAge > 0 && b.now().Sub(b.seenAt) > b.maxAge {
		return nil, fmt.Errorf("%w: last seen %s ago", ErrNoReading, b.now().Sub(b.seenAt).Round(time.Second))
	}
	vals := b.last.values()
	out := make(map[string]any, len(b.keys))
	for i, k := range b.keys {
		if i >= len(vals) {
			break
		}
		out[k] = vals[i]
	}
	return out, nil
}

// Close stops scanning.
func (b *Beacon) Close() error {
	if b.cancel != nil {
		b.cancel()
		<-b.done
		b.cancel = nil
	}
	return nil
}
