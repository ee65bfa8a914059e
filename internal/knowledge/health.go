package knowledge

import (
	"sort"
	"sync"
	"time"
)

// SourceHealth tracks refresh health for a single document source.
type SourceHealth struct {
	Source              string    `json:"source"`
	LastSuccessAt       time.Time `json:"last_success_at,omitzero"`
	LastFailureAt       time.Time `json:"last_failure_at,omitzero"`
	LastError           string    `json:"last_error,omitempty"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	SectionsLastLoad    int       `json:"sections_last_load"`
}

type HealthTracker struct {
	mu      sync.RWMutex
	sources map[string]*SourceHealth
	now     func() time.Time
}

func NewHealthTracker() *HealthTracker {
	return &HealthTracker{
		sources: make(map[string]*SourceHealth),
		now:     time.Now,
	}
}

func (h *HealthTracker) RecordSuccess(source string, sections int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	s := h.ensure(source)
	s.LastSuccessAt = h.now()
	s.ConsecutiveFailures = 0
	s.LastError = ""
	s.SectionsLastLoad = sections
}

// RecordFailure returns the consecutive failure count for source.
func (h *HealthTracker) RecordFailure(source string, err error) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	s := h.ensure(source)
	s.LastFailureAt = h.now()
	s.ConsecutiveFailures++
	if err != nil {
		s.LastError = err.Error()
	}
	return s.ConsecutiveFailures
}

// Snapshot returns a copy ordered by source name.
func (h *HealthTracker) Snapshot() []SourceHealth {
	h.mu.RLock()
	defer h.mu.RUnlock()
	result := make([]SourceHealth, 0, len(h.sources))
	for _, s := range h.sources {
		result = append(result, *s)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Source < result[j].Source })
	return result
}

// Failing lists sources whose most recent load failed, by name.
func (h *HealthTracker) Failing() []string {
	var failing []string
	for _, s := range h.Snapshot() {
		if s.ConsecutiveFailures > 0 {
			failing = append(failing, s.Source)
		}
	}
	return failing
}

func (h *HealthTracker) ensure(source string) *SourceHealth {
	s, ok := h.sources[source]
	if !ok {
		s = &SourceHealth{Source: source}
		h.sources[source] = s
	}
	return s
}
