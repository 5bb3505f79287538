package domain

import "time"

// HealthStatus is the coarse state of one dependency.
type HealthStatus string

const (
	HealthOK       HealthStatus = "ok"
	HealthWarning  HealthStatus = "warning"
	HealthError    HealthStatus = "error"
	HealthChecking HealthStatus = "checking"
)

// Dependency names reported in a health snapshot.
const (
	DependencyInventory   = "inventory"
	DependencyDiscovery   = "discovery"
	DependencyMarketplace = "marketplace"
	DependencyStore       = "store"
)

// Dependencies lists every probed dependency.
var Dependencies = []string{DependencyInventory, DependencyDiscovery, DependencyMarketplace, DependencyStore}

// severity orders statuses from best to worst.
func (s HealthStatus) severity() int {
	switch s {
	case HealthOK:
		return 0
	case HealthChecking:
		return 1
	case HealthWarning:
		return 2
	case HealthError:
		return 3
	}
	return 3
}

// DependencyHealth is the probe result for one dependency.
type DependencyHealth struct {
	Status    HealthStatus `json:"status"`
	LatencyMs int64        `json:"latency_ms"`
	Message   string       `json:"message,omitempty"`
}

// HealthSnapshot maps dependency name to its probe result.
type HealthSnapshot struct {
	Status       HealthStatus                `json:"status"`
	Dependencies map[string]DependencyHealth `json:"dependencies"`
	CheckedAt    time.Time                   `json:"checked_at"`
}

// NewCheckingSnapshot returns a snapshot with every dependency still being checked.
func NewCheckingSnapshot() *HealthSnapshot {
	deps := make(map[string]DependencyHealth, len(Dependencies))
	for _, name := range Dependencies {
		deps[name] = DependencyHealth{Status: HealthChecking}
	}
	return &HealthSnapshot{Status: HealthChecking, Dependencies: deps}
}

// Overall returns the worst status across dependencies.
func (h *HealthSnapshot) Overall() HealthStatus {
	worst := HealthOK
	for _, dep := range h.Dependencies {
		if dep.Status.severity() > worst.severity() {
			worst = dep.Status
		}
	}
	return worst
}
