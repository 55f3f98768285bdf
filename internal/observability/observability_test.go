package observability

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/audiohub/audiohub-go/internal/events"
	"github.com/audiohub/audiohub-go/internal/observability/metrics"
)

func TestNewMetricsRegistersAllCollectors(t *testing.T) {
	t.Parallel()

	m, err := NewMetrics()
	require.NoError(t, err, "all collectors must register on a fresh registry")
	require.NotNil(t, m.Orchestrator)
	require.NotNil(t, m.Pool)
	require.NotNil(t, m.Recovery)
	require.NotNil(t, m.Executor)
	require.NotNil(t, m.API)
	require.NotNil(t, m.Worker)
	require.NotNil(t, m.Datastore)
	require.NotNil(t, m.MQTT)
}

func TestMetricsEndpointServesRegistry(t *testing.T) {
	t.Parallel()

	m, err := NewMetrics()
	require.NoError(t, err)

	m.Pool.SetUtilization("memory", 0.5)
	m.Orchestrator.SetMemoryUsage(1024, 4096)

	recorder := httptest.NewRecorder()
	request := httptest.NewRequest(http.MethodGet, "/metrics", http.NoBody)
	m.Handler().ServeHTTP(recorder, request)

	require.Equal(t, http.StatusOK, recorder.Code)
	body := recorder.Body.String()
	assert.Contains(t, body, "pool_utilization_ratio")
	assert.Contains(t, body, "orchestrator_memory_usage_bytes")
}

func TestGaugeReadBack(t *testing.T) {
	t.Parallel()

	m, err := NewMetrics()
	require.NoError(t, err)

	m.Pool.SetUtilization("memory", 0.75)
	assert.InDelta(t, 0.75, m.Pool.GetUtilization("memory"), 0.0001)

	m.API.RequestStarted()
	m.API.RequestStarted()
	m.API.RequestFinished()
	assert.InDelta(t, 1, m.API.GetActiveRequests(), 0.0001)
}

func TestMetricsConsumerRoutesEvents(t *testing.T) {
	t.Parallel()

	m, err := NewMetrics()
	require.NoError(t, err)

	consumer := NewMetricsConsumer(m)
	assert.Equal(t, "observability-metrics", consumer.Name())
	assert.True(t, consumer.SupportsBatching())

	event := events.NewResourceEvent("memory", 95.0, 90.0, events.SeverityCritical)
	require.NoError(t, consumer.ProcessResourceEvent(event))

	recovery := events.NewResourceEvent("memory", 40.0, 0, events.SeverityRecovery)
	require.NoError(t, consumer.ProcessResourceEvent(recovery))
}

func TestConcurrentRecording(t *testing.T) {
	t.Parallel()

	m, err := NewMetrics()
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				m.Pool.RecordAllocation("memory", "high", metrics.StatusSuccess, 0.001)
				m.Orchestrator.RecordStateTransition("idle", "loading")
				m.Recovery.RecordError("executor", "TIMEOUT_ERROR")
				m.Executor.RecordOperation("local", "transcribe", metrics.StatusSuccess, 0.01)
			}
		}()
	}
	wg.Wait()
}
