package monitoring

import (
	"sort"
	"strings"
	"sync"
	"sync/atomic"
)

// MetricsCollector receives counters for access decisions.
type MetricsCollector interface {
	IncrementCounter(name string, tags map[string]string)
}

// InMemoryMetricsCollector keeps counters in process memory.
type InMemoryMetricsCollector struct {
	mu       sync.RWMutex
	counters map[string]*int64
}

func NewInMemoryMetricsCollector() *InMemoryMetricsCollector {
	return &InMemoryMetricsCollector{counters: make(map[string]*int64)}
}

func (m *InMemoryMetricsCollector) IncrementCounter(name string, tags map[string]string) {
	key := keyWithTags(name, tags)
	m.mu.Lock()
	counter, ok := m.counters[key]
	if !ok {
		counter = new(int64)
		m.counters[key] = counter
	}
	m.mu.Unlock()
	atomic.AddInt64(counter, 1)
}

// GetCounter returns the value of a counter
func (m *InMemoryMetricsCollector) GetCounter(name string, tags map[string]string) int64 {
	m.mu.RLock()
	counter, ok := m.counters[keyWithTags(name, tags)]
	m.mu.RUnlock()
	if !ok {
		return 0
	}
	return atomic.LoadInt64(counter)
}

// Snapshot returns every counter keyed by "name,tag=value,...".
func (m *InMemoryMetricsCollector) Snapshot() map[string]int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]int64, len(m.counters))
	for k, v := range m.counters {
		out[k] = atomic.LoadInt64(v)
	}
	return out
}

func keyWithTags(name string, tags map[string]string) string {
	if len(tags) == 0 {
		return name
	}

	// Sort tags for consistent key generation
	keys := make([]string, 0, len(tags))
	for k := range tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(name)
	for _, k := range keys {
		b.WriteString("," + k + "=" + tags[k])
	}
	return b.String()
}
