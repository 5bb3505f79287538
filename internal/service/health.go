package service

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/timmy/conveyor/internal/config"
	"github.com/timmy/conveyor/internal/domain"
	"github.com/timmy/conveyor/internal/integration"
	"github.com/timmy/conveyor/internal/logger"
)

// Pinger is implemented by the item store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthProbes are the dependencies checked by the monitor. A nil prober is reported as not configured.
type HealthProbes struct {
	Inventory   integration.Prober
	Discovery   integration.Prober
	Marketplace integration.Prober
	Store       Pinger
}

// HealthMonitor probes every external dependency concurrently and caches the last snapshot.
type HealthMonitor struct {
	probes         map[string]integration.Prober
	probeTimeout   time.Duration
	overallTimeout time.Duration
	warnLatency    time.Duration
	metrics        *Metrics

	mu   sync.RWMutex
	last *domain.HealthSnapshot
}

// storeProber turns a store ping into a probe result.
type storeProber struct {
	store Pinger
}

func (p storeProber) Ping(ctx context.Context) (int, error) {
	if err := p.store.Ping(ctx); err != nil {
		return 0, err
	}
	return http.StatusOK, nil
}

// NewHealthMonitor creates a monitor. Zero durations in cfg fall back to 5s per probe,
// 8s per check and a 2s warning latency.
func NewHealthMonitor(probes HealthProbes, cfg *config.HealthConfig, metrics *Metrics) *HealthMonitor {
	m := &HealthMonitor{
		probes: map[string]integration.Prober{
			domain.DependencyInventory:   probes.Inventory,
			domain.DependencyDiscovery:   probes.Discovery,
			domain.DependencyMarketplace: probes.Marketplace,
		},
		probeTimeout:   5 * time.Second,
		overallTimeout: 8 * time.Second,
		warnLatency:    2 * time.Second,
		metrics:        metrics,
		last:           domain.NewCheckingSnapshot(),
	}
	if probes.Store != nil {
		m.probes[domain.DependencyStore] = storeProber{store: probes.Store}
	} else {
		m.probes[domain.DependencyStore] = nil
	}
	if cfg != nil {
		if cfg.ProbeTimeout > 0 {
			m.probeTimeout = cfg.ProbeTimeout
		}
		if cfg.OverallTimeout > 0 {
			m.overallTimeout = cfg.OverallTimeout
		}
		if cfg.WarnLatency > 0 {
			m.warnLatency = cfg.WarnLatency
		}
	}
	return m
}

// Check runs all probes and stores the result as the latest snapshot.
func (m *HealthMonitor) Check(ctx context.Context) *domain.HealthSnapshot {
	ctx, cancel := context.WithTimeout(ctx, m.overallTimeout)
	defer cancel()

	var (
		mu      sync.Mutex
		results = make(map[string]domain.DependencyHealth, len(m.probes))
		g       errgroup.Group
	)
	for name, prober := range m.probes {
		g.Go(func() error {
			result := m.probe(ctx, prober)
			mu.Lock()
			results[name] = result
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	snapshot := &domain.HealthSnapshot{Dependencies: results, CheckedAt: time.Now()}
	snapshot.Status = snapshot.Overall()

	for name, dep := range results {
		m.metrics.SetHealth(name, dep.Status)
		if dep.Status == domain.HealthError {
			logger.CtxWarn(ctx, "Dependency %s unhealthy: %s", name, dep.Message)
		}
	}

	m.mu.Lock()
	m.last = snapshot
	m.mu.Unlock()
	return snapshot
}

// Last returns the most recent snapshot without probing.
func (m *HealthMonitor) Last() *domain.HealthSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.last
}

// Run refreshes the snapshot every interval until ctx is done.
func (m *HealthMonitor) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	m.Check(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Check(ctx)
		}
	}
}

func (m *HealthMonitor) probe(ctx context.Context, prober integration.Prober) domain.DependencyHealth {
	if prober == nil {
		return domain.DependencyHealth{Status: domain.HealthWarning, Message: "not configured"}
	}

	ctx, cancel := context.WithTimeout(ctx, m.probeTimeout)
	defer cancel()

	start := time.Now()
	code, err := prober.Ping(ctx)
	latency := time.Since(start)
	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}
	return classifyProbe(code, err, latency, m.warnLatency)
}

// classifyProbe maps a probe result onto a health status.
func classifyProbe(code int, err error, latency, warnLatency time.Duration) domain.DependencyHealth {
	h := domain.DependencyHealth{LatencyMs: latency.Milliseconds()}

	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.As(err, &netErr) && netErr.Timeout():
		h.Status = domain.HealthError
		h.Message = "timeout"
	case err != nil:
		h.Status = domain.HealthError
		h.Message = err.Error()
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		h.Status = domain.HealthError
		h.Message = fmt.Sprintf("HTTP %d: check credentials", code)
	case code >= 500:
		h.Status = domain.HealthError
		h.Message = fmt.Sprintf("HTTP %d", code)
	case code >= 400:
		h.Status = domain.HealthWarning
		h.Message = fmt.Sprintf("HTTP %d", code)
	case latency >= warnLatency:
		h.Status = domain.HealthWarning
		h.Message = fmt.Sprintf("slow response: %s", latency.Round(time.Millisecond))
	default:
		h.Status = domain.HealthOK
	}
	return h
}
