package sensor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"

	"nredpi-gateway/internal/command"
)

const edgePoll = 100 * time.Millisecond

// Rotary counts detents of a quadrature rotary encoder (KY-040 style).
// Readings are the running count and the last direction (+1, -1 or 0),
// in that key order.
type Rotary struct {
	name   string
	keys   []string
	clk    gpio.PinIO
	dt     gpio.PinIO
	logger *slog.Logger

	mu        sync.Mutex
	count     int
	direction int
	lastClk   gpio.Level

	watching bool
	stop     chan struct{}
	done     chan struct{}
	once     sync.Once
}

func NewRotary(h *Host, name string, keys []string, clkPin, dtPin string, logger *slog.Logger) (*Rotary, error) {
	if err := h.GPIO(); err != nil {
		return nil, err
	}
	clk := gpioreg.ByName(clkPin)
	if clk == nil {
		return nil, fmt.Errorf("rotary %s: unknown clk pin %q", name, clkPin)
	}
	dt := gpioreg.ByName(dtPin)
	if dt == nil {
		return nil, fmt.Errorf("rotary %s: unknown dt pin %q", name, dtPin)
	}
	if err := clk.In(gpio.PullUp, gpio.BothEdges); err != nil {
		return nil, fmt.Errorf("rotary %s: clk %s: %w", name, clkPin, err)
	}
	if err := dt.In(gpio.PullUp, gpio.NoEdge); err != nil {
		return nil, fmt.Errorf("rotary %s: dt %s: %w", name, dtPin, err)
	}

	r := newRotary(name, keys, clk, dt, logger)
	r.lastClk = clk.Read()
	r.watching = true
	go r.watch()
	logger.Info("rotary encoder ready", "device", name, "clk", clkPin, "dt", dtPin)
	return r, nil
}

func newRotary(name string, keys []string, clk, dt gpio.PinIO, logger *slog.Logger) *Rotary {
	return &Rotary{
		name:    name,
		keys:    keys,
		clk:     clk,
		dt:      dt,
		logger:  logger,
		lastClk: gpio.High,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

func (r *Rotary) watch() {
	defer close(r.done)
	for {
		select {
		case <-r.stop:
			return
		default:
		}
		if !r.clk.WaitForEdge(edgePoll) {
			continue
		}
		r.step(r.clk.Read(), r.dt.Read())
	}
}

// step applies one sampled pin state. A detent is counted on every clk
// transition; dt differing from clk means clockwise.
func (r *Rotary) step(clk, dt gpio.Level) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if clk == r.lastClk {
		return
	}
	r.lastClk = clk
	if dt != clk {
		r.count++
		r.direction = 1
	} else {
		r.count--
		r.direction = -1
	}
}

func (r *Rotary) Read(_ context.Context) (map[string]any, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	reading := keyed(r.keys, r.count, r.direction)
	r.direction = 0
	return reading, nil
}

// Command supports "reset" (count to 0) and "set" with a JSON number payload.
func (r *Rotary) Command(_ context.Context, cmd command.Command) error {
	switch cmd.Name {
	case "reset":
		r.mu.Lock()
		r.count, r.direction = 0, 0
		r.mu.Unlock()
		return nil
	case "set":
		if p := bytes.TrimSpace(cmd.Payload); len(p) == 0 || bytes.Equal(p, []byte("null")) {
			return fmt.Errorf("rotary %s: set needs an integer payload", r.name)
		}
		var v int
		if err := json.Unmarshal(cmd.Payload, &v); err != nil {
			return fmt.Errorf("rotary %s: set wants an integer payload: %w", r.name, err)
		}
		r.mu.Lock()
		r.count = v
		r.mu.Unlock()
		return nil
	default:
		return fmt.Errorf("rotary %s: unsupported command %q", r.name, cmd.Name)
	}
}

// Close stops the edge watcher and releases both pins.
func (r *Rotary) Close() error {
	var err error
	r.once.Do(func() {
		close(r.stop)
		if r.watching {
			<-r.done
		}
		if e := r.clk.Halt(); e != nil {
			err = e
		}
		if e := r.dt.Halt(); e != nil && err == nil {
			err = e
		}
	})
	return err
}
