package ruleengine

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/common/model"

	"github.com/vigilops/vigil/internal/alerting/metrics"
)

// bucketIdleFactor controls how long an untouched bucket survives relative
// to its window before the sweeper drops it.
const bucketIdleFactor = 2

// ParseWindow accepts a bare integer (seconds) or a Prometheus-style
// duration string ("5m", "1h30m"). Unparsable or non-positive specs
// disable windowing: the rule fires on every match.
func ParseWindow(spec string) time.Duration {
	if spec == "" {
		return 0
	}
	if secs, err := strconv.Atoi(spec); err == nil {
		if secs <= 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	d, err := model.ParseDuration(spec)
	if err != nil {
		return 0
	}
	return time.Duration(d)
}

type bucket struct {
	window    time.Duration
	hits      []time.Time
	lastTouch time.Time
}

// WindowTracker counts rule matches per (rule, group) bucket over sliding
// windows. State is in-memory only and resets on restart.
type WindowTracker struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	metrics *metrics.Metrics

	nowFn func() time.Time
}

func NewWindowTracker(m *metrics.Metrics) *WindowTracker {
	return &WindowTracker{
		buckets: make(map[string]*bucket),
		metrics: m,
		nowFn:   time.Now,
	}
}

// WithinWindow records one match for the bucket and reports whether the
// rule's threshold is now met. Rules without a window or with threshold <= 1
// always fire; their matches are not tracked.
func (t *WindowTracker) WithinWindow(rule *Rule, groupValue string, ok bool) bool {
	window := ParseWindow(rule.WindowSpec)
	if window <= 0 || rule.Threshold <= 1 {
		return true
	}
	if !ok {
		// Group-by path missing on the entity: windowed counting is
		// impossible, so the rule never fires for it.
		return false
	}

	now := t.nowFn()
	key := rule.ID + "\x00" + groupValue

	t.mu.Lock()
	defer t.mu.Unlock()

	b, found := t.buckets[key]
	if !found {
		b = &bucket{window: window}
		t.buckets[key] = b
	}
	b.window = window
	b.lastTouch = now
	b.hits = append(b.hits, now)
	b.prune(now)

	if t.metrics != nil {
		t.metrics.WindowBuckets.Set(float64(len(t.buckets)))
	}
	return len(b.hits) >= rule.Threshold
}

// prune drops hits that fell out of the sliding window.
func (b *bucket) prune(now time.Time) {
	cutoff := now.Add(-b.window)
	i := 0
	for i < len(b.hits) && !b.hits[i].After(cutoff) {
		i++
	}
	if i > 0 {
		b.hits = append(b.hits[:0], b.hits[i:]...)
	}
}

// Sweep removes buckets idle for longer than twice their window. Runs from
// a background ticker so memory stays bounded on churny group keys.
func (t *WindowTracker) Sweep() {
	now := t.nowFn()
	t.mu.Lock()
	defer t.mu.Unlock()
	for key, b := range t.buckets {
		if now.Sub(b.lastTouch) > bucketIdleFactor*b.window {
			delete(t.buckets, key)
		}
	}
	if t.metrics != nil {
		t.metrics.WindowBuckets.Set(float64(len(t.buckets)))
	}
}

// Start runs the idle sweep loop until ctx is cancelled.
func (t *WindowTracker) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	tick := time.NewTicker(interval)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			t.Sweep()
		}
	}
}
