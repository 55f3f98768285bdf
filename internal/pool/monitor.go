package pool

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/audiohub/audiohub-go/internal/conf"
	"github.com/audiohub/audiohub-go/internal/events"
	"github.com/audiohub/audiohub-go/internal/logging"
	"github.com/audiohub/audiohub-go/internal/observability/metrics"
)

const (
	defaultMonitorInterval = 30 * time.Second
	defaultHysteresis      = 5.0
)

// alertState tracks where a gauge sits relative to the thresholds so
// events fire on transitions instead of every sample.
type alertState struct {
	inWarning     bool
	inCritical    bool
	lastValue     float64
	lastCheck     time.Time
	criticalSince time.Time
}

// SystemMonitor samples host gauges and the pool's own utilization,
// publishes pressure and recovery events on the event bus, and applies
// the pool's maintenance tuning every interval.
type SystemMonitor struct {
	pool        *Pool
	interval    time.Duration
	warningAt   float64 // percent
	criticalAt  float64 // percent
	hysteresis  float64 // percent below a threshold before the alert clears
	scratchPath string

	mu          sync.Mutex
	alertStates map[string]*alertState

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	logger  *slog.Logger
	metrics *metrics.PoolMetrics
}

// NewSystemMonitor creates a monitor for the given pool using the
// configured watermarks and sampling interval.
func NewSystemMonitor(p *Pool, settings *conf.Settings) *SystemMonitor {
	ctx, cancel := context.WithCancel(context.Background())

	interval := defaultMonitorInterval
	if settings.Pool.MonitorInterval > 0 {
		interval = time.Duration(settings.Pool.MonitorInterval) * time.Second
	}
	hysteresis := settings.Pool.HysteresisPercent
	if hysteresis <= 0 {
		hysteresis = defaultHysteresis
	}

	return &SystemMonitor{
		pool:        p,
		interval:    interval,
		warningAt:   settings.Pool.LowWatermark * metrics.PercentageFactor,
		criticalAt:  settings.Pool.HighWatermark * metrics.PercentageFactor,
		hysteresis:  hysteresis,
		scratchPath: os.TempDir(),
		alertStates: make(map[string]*alertState),
		ctx:         ctx,
		cancel:      cancel,
		logger:      logging.ForService("pool-monitor"),
	}
}

// SetMetrics attaches Prometheus collectors for the sampled gauges.
func (m *SystemMonitor) SetMetrics(pm *metrics.PoolMetrics) {
	m.metrics = pm
}

// Start begins the sampling loop.
func (m *SystemMonitor) Start() {
	m.logger.Info("starting resource monitoring",
		"interval", m.interval,
		"warning_percent", m.warningAt,
		"critical_percent", m.criticalAt)

	m.wg.Add(1)
	go m.monitorLoop()
}

// Stop halts the sampling loop and waits for it to exit.
func (m *SystemMonitor) Stop() {
	m.cancel()
	m.wg.Wait()
}

func (m *SystemMonitor) monitorLoop() {
	defer m.wg.Done()

	m.checkAllResources()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.checkAllResources()
		case <-m.ctx.Done():
			m.logger.Debug("resource monitor stopping")
			return
		}
	}
}

// TriggerCheck runs one sampling pass immediately. Useful for tests.
func (m *SystemMonitor) TriggerCheck() {
	m.checkAllResources()
}

func (m *SystemMonitor) checkAllResources() {
	cpuPercent := m.sampleCPU()
	memPercent := m.sampleMemory()
	diskPercent := m.sampleDisk()

	if m.metrics != nil {
		m.metrics.SetSystemGauges(cpuPercent, memPercent, diskPercent)
	}

	m.checkThresholds("cpu", cpuPercent)
	m.checkThresholds("memory", memPercent)
	m.checkThresholds("storage", diskPercent)

	// The pool's own utilization runs through the same state machine so
	// pressure inside the allocator raises events even when the host is
	// otherwise idle.
	status := m.pool.Monitor()
	m.checkThresholds("pool", maxUtilization(status.Utilization)*100)

	m.pool.Maintain()
}

func (m *SystemMonitor) sampleCPU() float64 {
	// Zero interval takes an instant reading without blocking the loop.
	percentages, err := cpu.Percent(0, false)
	if err != nil {
		m.logger.Error("failed to sample CPU usage", "error", err)
		return 0
	}
	if len(percentages) == 0 {
		return 0
	}
	return percentages[0]
}

func (m *SystemMonitor) sampleMemory() float64 {
	memInfo, err := mem.VirtualMemory()
	if err != nil {
		m.logger.Error("failed to sample memory usage", "error", err)
		return 0
	}
	return memInfo.UsedPercent
}

func (m *SystemMonitor) sampleDisk() float64 {
	usage, err := disk.Usage(m.scratchPath)
	if err != nil {
		m.logger.Error("failed to sample disk usage",
			"path", m.scratchPath,
			"error", err)
		return 0
	}
	return usage.UsedPercent
}

// checkThresholds runs the hysteresis state machine for one gauge.
// Crossing a threshold publishes a pressure event once, and the alert
// clears only after the value drops a full hysteresis margin below it.
func (m *SystemMonitor) checkThresholds(resource string, current float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, exists := m.alertStates[resource]
	if !exists {
		state = &alertState{}
		m.alertStates[resource] = state
	}
	state.lastValue = current
	state.lastCheck = time.Now()

	switch {
	case current >= m.criticalAt:
		if !state.inCritical {
			m.logger.Warn("critical threshold exceeded",
				"resource", resource,
				"current", current,
				"threshold", m.criticalAt)
			m.publishEvent(resource, current, m.criticalAt, events.SeverityCritical)
			state.inCritical = true
			state.inWarning = true
			state.criticalSince = time.Now()
		}

	case current >= m.warningAt:
		if !state.inWarning {
			m.logger.Warn("warning threshold exceeded",
				"resource", resource,
				"current", current,
				"threshold", m.warningAt)
			m.publishEvent(resource, current, m.warningAt, events.SeverityWarning)
			state.inWarning = true
		}
		if state.inCritical && current < m.criticalAt-m.hysteresis {
			m.publishRecovery(resource, current, state)
			state.inCritical = false
			state.criticalSince = time.Time{}
		}

	default:
		if state.inWarning && current < m.warningAt-m.hysteresis {
			m.publishRecovery(resource, current, state)
			state.inWarning = false
			state.inCritical = false
			state.criticalSince = time.Time{}
		}
	}
}

func (m *SystemMonitor) publishEvent(resource string, current, threshold float64, severity string) {
	eventBus := events.GetEventBus()
	if eventBus == nil {
		m.logger.Debug("event bus not available for resource event",
			"resource", resource,
			"severity", severity)
		return
	}

	event := events.NewResourceEvent(resource, current, threshold, severity)
	if !eventBus.TryPublishResource(event) {
		m.logger.Warn("failed to publish resource event",
			"resource", resource,
			"current", current,
			"severity", severity)
	}
}

func (m *SystemMonitor) publishRecovery(resource string, current float64, state *alertState) {
	var duration time.Duration
	if !state.criticalSince.IsZero() {
		duration = time.Since(state.criticalSince)
	}

	eventBus := events.GetEventBus()
	if eventBus == nil {
		return
	}

	event := events.NewResourceEvent(resource, current, 0, events.SeverityRecovery)
	if duration > 0 {
		if metadata := event.GetMetadata(); metadata != nil {
			metadata["duration"] = duration.String()
		}
	}
	if eventBus.TryPublishResource(event) {
		m.logger.Info("resource usage recovered",
			"resource", resource,
			"current", current,
			"critical_for", duration)
	}
}

// ResourceStatus reports the last observed value and alert flags per
// gauge, keyed by resource name.
func (m *SystemMonitor) ResourceStatus() map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()

	status := make(map[string]any, len(m.alertStates))
	for resource, state := range m.alertStates {
		status[resource] = map[string]any{
			"current_value": state.lastValue,
			"in_warning":    state.inWarning,
			"in_critical":   state.inCritical,
			"last_check":    state.lastCheck.Format(time.RFC3339),
		}
	}
	return status
}
