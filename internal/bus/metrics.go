package bus

import (
	"sync"
	"time"
)

// Metrics monitor defaults.
const (
	// defaultRateWindow is the trailing window used for event/error rates.
	defaultRateWindow = 60 * time.Second

	// defaultLatencyHistory caps the number of latency samples kept for
	// the average-latency figure.
	defaultLatencyHistory = 1000
)

// Metrics is a point-in-time snapshot of the monitor.
type Metrics struct {
	// EventCount is the cumulative number of successfully processed
	// messages since start or the last reset.
	EventCount uint64 `json:"event_count"`

	// ErrorCount is the cumulative number of failed messages.
	ErrorCount uint64 `json:"error_count"`

	// EventRate is events within the trailing window divided by the
	// window length in seconds.
	EventRate float64 `json:"event_rate"`

	// ErrorRate is errors within the trailing window divided by the
	// window length in seconds.
	ErrorRate float64 `json:"error_rate"`

	// AverageLatency is the mean admission-to-completion latency over
	// the most recent samples (bounded history).
	AverageLatency time.Duration `json:"average_latency_ns"`

	// LastEventTime is when the monitor last recorded an event or error.
	LastEventTime time.Time `json:"last_event_time"`
}

// Monitor tracks rolling counters and a bounded latency history for the
// bus. All methods are safe for concurrent use.
type Monitor struct {
	mu sync.Mutex

	window  time.Duration
	history int

	eventCount uint64
	errorCount uint64

	eventTimes []time.Time
	errorTimes []time.Time
	latencies  []time.Duration
	lastEvent  time.Time

	// now is swappable for tests.
	now func() time.Time
}

// NewMonitor creates a metrics monitor. Zero or negative arguments fall
// back to the defaults (60s window, 1000 latency samples).
func NewMonitor(window time.Duration, history int) *Monitor {
	if window <= 0 {
		window = defaultRateWindow
	}
	if history <= 0 {
		history = defaultLatencyHistory
	}
	return &Monitor{
		window:  window,
		history: history,
		now:     time.Now,
	}
}

// RecordEvent records a successfully processed message and its latency.
func (m *Monitor) RecordEvent(latency time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	m.eventCount++
	m.lastEvent = now
	m.eventTimes = append(m.eventTimes, now)

	m.latencies = append(m.latencies, latency)
	if len(m.latencies) > m.history {
		m.latencies = m.latencies[len(m.latencies)-m.history:]
	}
	m.prune(now)
}

// RecordError records a failed message.
func (m *Monitor) RecordError() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	m.errorCount++
	m.lastEvent = now
	m.errorTimes = append(m.errorTimes, now)
	m.prune(now)
}

// Snapshot returns the current metrics.
func (m *Monitor) Snapshot() Metrics {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	m.prune(now)

	var avg time.Duration
	if len(m.latencies) > 0 {
		var total time.Duration
		for _, l := range m.latencies {
			total += l
		}
		avg = total / time.Duration(len(m.latencies))
	}

	seconds := m.window.Seconds()
	return Metrics{
		EventCount:     m.eventCount,
		ErrorCount:     m.errorCount,
		EventRate:      float64(len(m.eventTimes)) / seconds,
		ErrorRate:      float64(len(m.errorTimes)) / seconds,
		AverageLatency: avg,
		LastEventTime:  m.lastEvent,
	}
}

// Reset zeroes all counters and histories. Subscriptions, routes, and
// middleware are unaffected; those live in the bus, not the monitor.
func (m *Monitor) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.eventCount = 0
	m.errorCount = 0
	m.eventTimes = nil
	m.errorTimes = nil
	m.latencies = nil
	m.lastEvent = time.Time{}
}

// prune drops timestamps that fell out of the trailing window. Caller
// must hold the mutex.
func (m *Monitor) prune(now time.Time) {
	cutoff := now.Add(-m.window)
	m.eventTimes = pruneBefore(m.eventTimes, cutoff)
	m.errorTimes = pruneBefore(m.errorTimes, cutoff)
}

func pruneBefore(times []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for ; i < len(times); i++ {
		if !times[i].Before(cutoff) {
			break
		}
	}
	if i == 0 {
		return times
	}
	return append(times[:0], times[i:]...)
}
