// Package dispatch decides, on a fixed tick, which queued entries are ready to
// be copied or uploaded.
//
// Non-gated entries become ready once they have sat in the queue for the
// cool-off period, which debounces bursts of writes to the same file. Gated
// entries additionally wait until the check time reaches their scheduled
// release. A dispatched entry is marked in progress; scanning it again is a
// no-op until the transfer is acknowledged or fails.
package dispatch

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/fsmweb/uploader/internal/queue"
)

// Releaser reports whether a gated basename is still held back at asOf.
type Releaser interface {
	HeldAt(name string, asOf time.Time) bool
}

// SendFunc delivers a dispatched path to its worker.
type SendFunc func(ctx context.Context, path string) error

// Result describes the outcome of one tick.
type Result struct {
	// Dispatched lists the paths marked in progress by this tick, in queue order.
	Dispatched []string
	// Held lists gated paths found to be held for the first time.
	Held []string
}

// Config holds dispatcher settings.
type Config struct {
	// Interval is the tick period.
	Interval time.Duration

	// CoolOff is the minimum dwell time after an entry's last signal.
	CoolOff time.Duration

	// Now returns the wall-clock time used for cool-off. Defaults to time.Now.
	Now func() time.Time

	// CheckTime returns the time compared against release times.
	// Defaults to Now; an operator override replaces it.
	CheckTime func() time.Time

	// Observe, if set, receives every non-empty tick result.
	Observe func(Result)

	// Logger for dispatcher activity
	Logger *log.Logger
}

// DefaultConfig returns the standard one-second tick and cool-off.
func DefaultConfig() *Config {
	return &Config{
		Interval: time.Second,
		CoolOff:  time.Second,
		Now:      time.Now,
		Logger:   log.New(os.Stderr, "[dispatch] ", log.LstdFlags),
	}
}

// Dispatcher scans one queue.
type Dispatcher struct {
	q        *queue.Queue
	releaser Releaser
	send     SendFunc
	config   *Config
}

// New creates a dispatcher for q. releaser may be nil when the queue never
// holds gated entries.
func New(q *queue.Queue, releaser Releaser, send SendFunc, config *Config) *Dispatcher {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Interval <= 0 {
		config.Interval = time.Second
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	if config.CheckTime == nil {
		config.CheckTime = config.Now
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[dispatch] ", log.LstdFlags)
	}

	return &Dispatcher{
		q:        q,
		releaser: releaser,
		send:     send,
		config:   config,
	}
}

// Tick scans the queue once and marks ready entries in progress. It does not
// send anything; Run does.
func (d *Dispatcher) Tick() Result {
	now := d.config.Now()
	check := d.config.CheckTime()

	var res Result
	d.q.Scan(func(e *queue.Entry) {
		if e.InProgress || e.Failed {
			return
		}
		if now.Sub(e.Added) < d.config.CoolOff {
			return
		}
		if e.Gated {
			if d.releaser != nil && d.releaser.HeldAt(e.Name, check) {
				e.Released = false
				if !e.Held {
					e.Held = true
					res.Held = append(res.Held, e.Path)
				}
				return
			}
			e.Released = true
			e.Held = false
		}
		e.InProgress = true
		res.Dispatched = append(res.Dispatched, e.Path)
	})
	return res
}

// Run ticks until ctx is cancelled, sending each dispatched path. A path that
// cannot be delivered is marked failed in the queue.
func (d *Dispatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(d.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-ticker.C:
			d.dispatch(ctx)
		}
	}
}

func (d *Dispatcher) dispatch(ctx context.Context) {
	res := d.Tick()
	for _, path := range res.Dispatched {
		if err := d.send(ctx, path); err != nil {
			d.config.Logger.Printf("Failed to dispatch %s from %s queue: %v", path, d.q.Name(), err)
			d.q.Fail(path)
		}
	}
	for _, path := range res.Held {
		d.config.Logger.Printf("Holding %s until its release time", path)
	}
	if d.config.Observe != nil && (len(res.Dispatched) > 0 || len(res.Held) > 0) {
		d.config.Observe(res)
	}
}
