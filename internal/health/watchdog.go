// Package health watches the scheduling loop for stalls and reports its
// liveness over HTTP.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Watchdog periodically checks that the loop is still ticking.
type Watchdog struct {
	maxIdle  time.Duration
	interval time.Duration
	logger   *zap.Logger
	now      func() time.Time

	mu       sync.Mutex
	lastBeat time.Time
	ticks    int64
	stalled  bool
	checks   map[string]Check
}

// Check probes a dependency. A nil error means healthy.
type Check func() error

// NewWatchdog creates a watchdog that reports a stall once no beat arrived
// for maxIdle.
func NewWatchdog(maxIdle time.Duration, logger *zap.Logger) *Watchdog {
	if logger == nil {
		logger = zap.NewNop()
	}
	w := &Watchdog{
		maxIdle:  maxIdle,
		interval: time.Minute,
		logger:   logger,
		now:      time.Now,
	}
	w.lastBeat = w.now()
	return w
}

// Beat records loop progress.
func (w *Watchdog) Beat() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.lastBeat = w.now()
	w.ticks++
	if w.stalled {
		w.stalled = false
		w.logger.Info("loop recovered")
	}
}

// AddCheck registers a dependency probe reported by Status under name.
func (w *Watchdog) AddCheck(name string, check Check) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.checks == nil {
		w.checks = make(map[string]Check)
	}
	w.checks[name] = check
}

// Status describes the last observed loop progress.
type Status struct {
	Healthy  bool              `json:"healthy"`
	LastBeat time.Time         `json:"last_beat"`
	Idle     string            `json:"idle"`
	Ticks    int64             `json:"ticks"`
	Checks   map[string]string `json:"checks,omitempty"`
}

// Status reports whether the loop beat within maxIdle and every
// registered check passes.
func (w *Watchdog) Status() Status {
	w.mu.Lock()
	idle := w.now().Sub(w.lastBeat)
	status := Status{
		Healthy:  idle <= w.maxIdle,
		LastBeat: w.lastBeat,
		Idle:     idle.Round(time.Second).String(),
		Ticks:    w.ticks,
	}
	checks := make(map[string]Check, len(w.checks))
	for name, check := range w.checks {
		checks[name] = check
	}
	w.mu.Unlock()

	// Probes may block on the network, so they run unlocked.
	if len(checks) > 0 {
		status.Checks = make(map[string]string, len(checks))
	}
	for name, check := range checks {
		if err := check(); err != nil {
			status.Healthy = false
			status.Checks[name] = err.Error()
			continue
		}
		status.Checks[name] = "ok"
	}
	return status
}

// Start begins the watchdog process. It returns when ctx is done.
func (w *Watchdog) Start(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.check()
		case <-ctx.Done():
			return
		}
	}
}

// check logs once per stall episode.
func (w *Watchdog) check() {
	w.mu.Lock()
	defer w.mu.Unlock()
	idle := w.now().Sub(w.lastBeat)
	if idle <= w.maxIdle || w.stalled {
		return
	}
	w.stalled = true
	w.logger.Warn("loop appears stalled",
		zap.Time("last_beat", w.lastBeat),
		zap.Duration("idle", idle),
		zap.Duration("max_idle", w.maxIdle))
}

// ServeHTTP answers 200 while the loop is live and 503 once it stalls or a
// check fails.
func (w *Watchdog) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	status := w.Status()
	rw.Header().Set("Content-Type", "application/json")
	if !status.Healthy {
		rw.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(rw).Encode(status)
}
