// Package health tracks rolling health statistics for the external services
// the application depends on.
package health

import (
	"math"
	"sort"
	"sync"
	"time"
)

// ServiceID identifies a monitored dependency.
type ServiceID string

// Well-known services.
const (
	ServiceChatCompletion ServiceID = "chat-completion"
	ServiceDatabase       ServiceID = "database"
	ServiceVectorStore    ServiceID = "vector-store"
	ServiceSpeech         ServiceID = "speech"
	ServiceObjectStorage  ServiceID = "object-storage"
	ServiceCache          ServiceID = "cache"
)

// Alpha is the smoothing factor applied to every new health sample.
const Alpha = 0.2

// ServiceHealth is the rolling health view of one service.
type ServiceHealth struct {
	ServiceID           ServiceID `json:"serviceId"`
	Healthy             bool      `json:"healthy"`
	LatencyMs           int64     `json:"latencyMs"`
	ErrorRate           float64   `json:"errorRate"`
	LastCheck           time.Time `json:"lastCheck"`
	ConsecutiveFailures int       `json:"consecutiveFailures"`
}

// SuccessRate returns 1 - ErrorRate.
func (h ServiceHealth) SuccessRate() float64 {
	return 1 - h.ErrorRate
}

// Smooth folds sample into prev with an exponential moving average. The
// result is clamped to [0,1] so rounding can never push a rate out of range.
func Smooth(prev, sample, alpha float64) float64 {
	return math.Min(1, math.Max(0, alpha*sample+(1-alpha)*prev))
}

// MonitorConfig holds configuration for the Monitor.
type MonitorConfig struct {
	// Clock overrides time.Now, for tests.
	Clock func() time.Time
}

// Monitor records health observations per service. Entries are created on
// first observation and never removed. Concurrent observations for the same
// service are last-write-wins.
type Monitor struct {
	now func() time.Time

	mu       sync.RWMutex
	services map[ServiceID]*ServiceHealth
}

// NewMonitor creates a new Monitor.
func NewMonitor(cfg MonitorConfig) *Monitor {
	now := cfg.Clock
	if now == nil {
		now = time.Now
	}
	return &Monitor{
		now:      now,
		services: make(map[ServiceID]*ServiceHealth),
	}
}

// Record applies one health observation and returns the updated snapshot.
func (m *Monitor) Record(id ServiceID, healthy bool, latencyMs int64) ServiceHealth {
	m.mu.Lock()
	defer m.mu.Unlock()

	h, ok := m.services[id]
	if !ok {
		h = &ServiceHealth{ServiceID: id}
		m.services[id] = h
	}

	sample := 0.0
	if !healthy {
		sample = 1.0
	}
	h.ErrorRate = Smooth(h.ErrorRate, sample, Alpha)

	if healthy {
		h.ConsecutiveFailures = 0
	} else {
		h.ConsecutiveFailures++
	}

	h.Healthy = healthy
	h.LatencyMs = latencyMs
	h.LastCheck = m.now()

	return *h
}

// Get returns the current snapshot for a service.
func (m *Monitor) Get(id ServiceID) (ServiceHealth, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	h, ok := m.services[id]
	if !ok {
		return ServiceHealth{}, false
	}
	return *h, true
}

// All returns snapshots of every observed service sorted by id.
func (m *Monitor) All() []ServiceHealth {
	m.mu.RLock()
	defer m.mu.RUnlock()

	all := make([]ServiceHealth, 0, len(m.services))
	for _, h := range m.services {
		all = append(all, *h)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ServiceID < all[j].ServiceID })
	return all
}
