package sensor

import (
	"context"
	"fmt"
	"sync"

	"nredpi-gateway/internal/command"
)

// Simulated needs no hardware. Each Read bumps a counter and reports
// counter*(i+1) for the i-th key, which makes dashboards easy to check.
type Simulated struct {
	keys []string

	mu sync.Mutex
	n  int
}

func NewSimulated(keys []string) *Simulated {
	return &Simulated{keys: keys}
}

func (s *Simulated) Read(_ context.Context) (map[string]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	values := make([]any, len(s.keys))
	for i := range s.keys {
		values[i] = s.n * (i + 1)
	}
	return keyed(s.keys, values...), nil
}

// Command supports "reset", which restarts the counter so the next Read
// reports 1*(i+1) again.
func (s *Simulated) Command(_ context.Context, cmd command.Command) error {
	if cmd.Name != "reset" {
		return fmt.Errorf("simulated: unsupported command %q", cmd.Name)
	}
	s.mu.Lock()
	s.n = 0
	s.mu.Unlock()
	return nil
}

func (s *Simulated) Close() error { return nil }
