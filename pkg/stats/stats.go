// Package stats tracks per-export traffic counters and emits the periodic
// STATS/CACHE log lines.
package stats

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/usebox/swiftnbd/internal/bytesize"
	"github.com/usebox/swiftnbd/internal/logger"
	"github.com/usebox/swiftnbd/pkg/metrics"
	"github.com/usebox/swiftnbd/pkg/store"
)

// DefaultDelay is the period between stats emissions.
const DefaultDelay = 300 * time.Second

// Counters accumulates NBD-layer bytes for one export. Connection
// goroutines write them; the reporter goroutine reads them.
type Counters struct {
	in  atomic.Uint64
	out atomic.Uint64
}

// AddIn counts bytes received from the client (writes).
func (c *Counters) AddIn(n uint64) { c.in.Add(n) }

// AddOut counts bytes sent to the client (reads).
func (c *Counters) AddOut(n uint64) { c.out.Add(n) }

// In returns the bytes received so far.
func (c *Counters) In() uint64 { return c.in.Load() }

// Out returns the bytes sent so far.
func (c *Counters) Out() uint64 { return c.out.Load() }

type entry struct {
	counters *Counters
	storage  *store.Storage
}

// Reporter periodically logs traffic and cache utilization for every
// registered export.
type Reporter struct {
	delay   time.Duration
	metrics *metrics.NBDMetrics

	mu      sync.Mutex
	exports map[string]entry
}

// NewReporter creates a reporter emitting every delay. A zero delay selects
// DefaultDelay. metrics may be nil.
func NewReporter(delay time.Duration, m *metrics.NBDMetrics) *Reporter {
	if delay <= 0 {
		delay = DefaultDelay
	}
	return &Reporter{
		delay:   delay,
		metrics: m,
		exports: make(map[string]entry),
	}
}

// Register adds an export and returns its NBD-layer counters.
func (r *Reporter) Register(name string, st *store.Storage) *Counters {
	c := &Counters{}
	r.mu.Lock()
	r.exports[name] = entry{counters: c, storage: st}
	r.mu.Unlock()
	return c
}

// Run emits stats every delay until ctx is cancelled. A final report is
// written on shutdown.
func (r *Reporter) Run(ctx context.Context) {
	ticker := time.NewTicker(r.delay)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.Report()
			return
		case <-ticker.C:
			r.Report()
		}
	}
}

// Report writes one STATS and one CACHE line per export and refreshes the
// Prometheus gauges.
func (r *Reporter) Report() {
	r.mu.Lock()
	names := make([]string, 0, len(r.exports))
	for name := range r.exports {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		e := r.exports[name]
		srvIn, srvOut := e.counters.In(), e.counters.Out()
		storeIn, storeOut := e.storage.BytesIn(), e.storage.BytesOut()
		cacheSize, cacheLimit := e.storage.CacheUsage()

		logger.Info(fmt.Sprintf("STATS: %s in=%s (%s), out=%s (%s)",
			name,
			bytesize.ByteSize(srvIn), bytesize.ByteSize(storeIn),
			bytesize.ByteSize(srvOut), bytesize.ByteSize(storeOut),
		))
		logger.Info(fmt.Sprintf("CACHE: %s size=%s limit=%s (%s)",
			name,
			bytesize.ByteSize(cacheSize), bytesize.ByteSize(cacheLimit),
			percent(cacheSize, cacheLimit),
		))

		r.metrics.SetStoreBytes(name, storeIn, storeOut)
		r.metrics.SetCacheUsage(name, cacheSize, cacheLimit)
	}
	r.mu.Unlock()
}

func percent(size, limit int64) string {
	if limit <= 0 {
		return "0.00%"
	}
	return fmt.Sprintf("%.2f%%", 100*float64(size)/float64(limit))
}
