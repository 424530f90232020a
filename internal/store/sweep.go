package store

import (
	"log/slog"
	"sync"
	"time"
)

// Sweepable is a store that can drop its expired entries.
type Sweepable interface {
	Sweep() int
}

// Sweeper periodically removes expired entries from a set of stores.
// Expiry is always enforced on read; the sweeper only bounds memory.
type Sweeper struct {
	stores   map[string]Sweepable
	interval time.Duration
	ticker   *time.Ticker
	stop     chan struct{}
	once     sync.Once
}

// NewSweeper creates a sweeper over the named stores. Call Start to run it.
func NewSweeper(interval time.Duration, stores map[string]Sweepable) *Sweeper {
	return &Sweeper{
		stores:   stores,
		interval: interval,
		stop:     make(chan struct{}),
	}
}

// Start runs the sweep loop in a background goroutine.
func (s *Sweeper) Start() {
	s.ticker = time.NewTicker(s.interval)
	go s.loop()
}

// Stop stops the sweep loop. It is safe to call more than once.
func (s *Sweeper) Stop() {
	s.once.Do(func() {
		if s.ticker != nil {
			s.ticker.Stop()
		}
		close(s.stop)
	})
}

func (s *Sweeper) loop() {
	for {
		select {
		case <-s.ticker.C:
			s.SweepOnce()
		case <-s.stop:
			return
		}
	}
}

// SweepOnce sweeps every store once and returns the total removed.
func (s *Sweeper) SweepOnce() int {
	total := 0
	for name, st := range s.stores {
		n := st.Sweep()
		if n > 0 {
			slog.Info("swept expired entries", "store", name, "count", n)
		}
		total += n
	}
	return total
}
