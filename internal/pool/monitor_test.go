package pool

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/audiohub/audiohub-go/internal/conf"
	"github.com/audiohub/audiohub-go/internal/events"
)

// resourceEventCapture collects resource events published on the bus.
type resourceEventCapture struct {
	mu       sync.Mutex
	received []events.ResourceEvent
}

func (c *resourceEventCapture) Name() string { return "test-resource-capture" }

func (c *resourceEventCapture) ProcessEvent(events.ErrorEvent) error { return nil }

func (c *resourceEventCapture) ProcessBatch([]events.ErrorEvent) error { return nil }

func (c *resourceEventCapture) SupportsBatching() bool { return false }

func (c *resourceEventCapture) ProcessResourceEvent(event events.ResourceEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.received = append(c.received, event)
	return nil
}

// forResource filters captured events down to one gauge. The monitor also
// samples host CPU, memory, and disk, which this test has no control over.
func (c *resourceEventCapture) forResource(resource string) []events.ResourceEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []events.ResourceEvent
	for _, event := range c.received {
		if event.GetResourceType() == resource {
			out = append(out, event)
		}
	}
	return out
}

func monitorTestSettings() *conf.Settings {
	settings := &conf.Settings{}
	settings.Pool.LowWatermark = 0.7
	settings.Pool.HighWatermark = 0.9
	settings.Pool.MonitorInterval = 3600
	settings.Pool.HysteresisPercent = 5
	return settings
}

func TestSystemMonitorPublishesPoolPressureEvents(t *testing.T) {
	events.ResetForTesting()
	t.Cleanup(events.ResetForTesting)

	_, err := events.Initialize(&events.Config{BufferSize: 100, Workers: 1, Enabled: true})
	require.NoError(t, err)

	capture := &resourceEventCapture{}
	require.NoError(t, events.GetEventBus().RegisterConsumer(capture))

	p := testPool(t, 100)
	monitor := NewSystemMonitor(p, monitorTestSettings())

	res, err := p.Allocate(context.Background(), memoryRequest(PriorityCritical, 95))
	require.NoError(t, err)

	// Two passes at 95% must raise exactly one critical event, the alert
	// state only fires on the transition.
	monitor.TriggerCheck()
	monitor.TriggerCheck()

	require.Eventually(t, func() bool {
		return len(capture.forResource("pool")) >= 1
	}, 2*time.Second, 10*time.Millisecond, "pool pressure event should reach the bus")

	poolEvents := capture.forResource("pool")
	require.Len(t, poolEvents, 1, "repeated checks above threshold must not re-alert")
	assert.Equal(t, events.SeverityCritical, poolEvents[0].GetSeverity())
	assert.InDelta(t, 95.0, poolEvents[0].GetCurrentValue(), 0.001)
	assert.InDelta(t, 90.0, poolEvents[0].GetThreshold(), 0.001)

	status := monitor.ResourceStatus()
	require.Contains(t, status, "pool")

	// Draining the pool clears the alert with a recovery event.
	p.Release(res)
	monitor.TriggerCheck()

	require.Eventually(t, func() bool {
		poolEvents := capture.forResource("pool")
		return len(poolEvents) == 2 && poolEvents[1].GetSeverity() == events.SeverityRecovery
	}, 2*time.Second, 10*time.Millisecond, "recovery event should follow the release")
}

func TestSystemMonitorStartStop(t *testing.T) {
	events.ResetForTesting()
	t.Cleanup(events.ResetForTesting)

	p := testPool(t, 100)
	settings := monitorTestSettings()
	settings.Pool.MonitorInterval = 1

	monitor := NewSystemMonitor(p, settings)
	monitor.Start()

	// The loop runs an initial pass synchronously with startup, give it a
	// moment and confirm the host gauges got sampled.
	require.Eventually(t, func() bool {
		status := monitor.ResourceStatus()
		_, ok := status["memory"]
		return ok
	}, 2*time.Second, 10*time.Millisecond)

	monitor.Stop()
}
