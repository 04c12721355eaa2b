package embedding

import (
	"context"
	"fmt"
	"sync"

	"github.com/hyperjump/kioku/internal/models"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Monitor probes the active plugin on a schedule and calls onRecover when a plugin that
// was unhealthy becomes healthy again. With a pending-work check it also calls onRecover
// on any healthy probe while work is left over, since embedding calls can fail between
// two healthy probes.
type Monitor struct {
	registry  *Registry
	schedule  string
	onRecover func(ctx context.Context)
	observe   func(pluginID string, health models.PluginHealth)
	pending   func(ctx context.Context) bool
	logger    *zap.Logger

	mu   sync.Mutex
	last map[string]models.PluginHealth
	cron *cron.Cron
}

// MonitorOption configures a Monitor.
type MonitorOption func(*Monitor)

// WithMonitorLogger sets a logger for health transitions.
func WithMonitorLogger(l *zap.Logger) MonitorOption {
	return func(m *Monitor) { m.logger = l }
}

// WithHealthObserver registers a callback invoked after every probe.
func WithHealthObserver(fn func(pluginID string, health models.PluginHealth)) MonitorOption {
	return func(m *Monitor) { m.observe = fn }
}

// WithPendingWork sets a check for work left undone by the active plugin, such as files
// indexed without embeddings.
func WithPendingWork(fn func(ctx context.Context) bool) MonitorOption {
	return func(m *Monitor) { m.pending = fn }
}

// NewMonitor creates a monitor probing every interval (a Go duration such as "30s").
func NewMonitor(registry *Registry, interval string, onRecover func(ctx context.Context), opts ...MonitorOption) *Monitor {
	m := &Monitor{
		registry:  registry,
		schedule:  "@every " + interval,
		onRecover: onRecover,
		last:      make(map[string]models.PluginHealth),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Check probes the active plugin once. It returns false when no plugin is active.
func (m *Monitor) Check(ctx context.Context) (models.PluginHealth, bool) {
	p := m.registry.GetActive()
	if p == nil {
		return models.PluginHealth{}, false
	}
	health := p.HealthCheck(ctx)

	m.mu.Lock()
	prev, seen := m.last[p.ID()]
	m.last[p.ID()] = health
	m.mu.Unlock()

	if m.observe != nil {
		m.observe(p.ID(), health)
	}
	if seen && prev.Healthy != health.Healthy && m.logger != nil {
		if health.Healthy {
			m.logger.Info("embedding plugin recovered", zap.String("plugin", p.ID()))
		} else {
			m.logger.Warn("embedding plugin unhealthy", zap.String("plugin", p.ID()),
				zap.String("message", health.Message), zap.String("resolution", health.Resolution))
		}
	}
	if health.Healthy && m.onRecover != nil {
		switch {
		case seen && !prev.Healthy:
			m.onRecover(ctx)
		case m.pending != nil && m.pending(ctx):
			if m.logger != nil {
				m.logger.Info("embedding plugin healthy with pending work", zap.String("plugin", p.ID()))
			}
			m.onRecover(ctx)
		}
	}
	return health, true
}

// Health returns the last probed state of a plugin.
func (m *Monitor) Health(pluginID string) (models.PluginHealth, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.last[pluginID]
	return h, ok
}

// Start schedules periodic probes and runs one immediately.
func (m *Monitor) Start(ctx context.Context) error {
	c := cron.New()
	if _, err := c.AddFunc(m.schedule, func() { m.Check(ctx) }); err != nil {
		return fmt.Errorf("schedule health check %q: %w", m.schedule, err)
	}
	m.mu.Lock()
	m.cron = c
	m.mu.Unlock()
	m.Check(ctx)
	c.Start()
	return nil
}

// Stop halts scheduled probes and waits for a running probe to finish.
func (m *Monitor) Stop() {
	m.mu.Lock()
	c := m.cron
	m.cron = nil
	m.mu.Unlock()
	if c != nil {
		<-c.Stop().Done()
	}
}
