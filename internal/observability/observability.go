// Package observability provides metrics and monitoring capabilities for the audiohub application.
package observability

import (
	"fmt"
	"log"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/audiohub/audiohub-go/internal/observability/metrics"
)

// Metrics bundles the per-subsystem collectors behind one Prometheus registry.
type Metrics struct {
	registry     *prometheus.Registry
	Orchestrator *metrics.OrchestratorMetrics
	Pool         *metrics.PoolMetrics
	Recovery     *metrics.RecoveryMetrics
	Executor     *metrics.ExecutorMetrics
	API          *metrics.APIMetrics
	Worker       *metrics.WorkerMetrics
	Datastore    *metrics.DatastoreMetrics
	MQTT         *metrics.MQTTMetrics
}

// NewMetrics builds a fresh registry and registers every subsystem collector on it.
func NewMetrics() (*Metrics, error) {
	registry := prometheus.NewRegistry()

	orchestratorMetrics, err := metrics.NewOrchestratorMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create orchestrator metrics: %w", err)
	}

	poolMetrics, err := metrics.NewPoolMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool metrics: %w", err)
	}

	recoveryMetrics, err := metrics.NewRecoveryMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create recovery metrics: %w", err)
	}

	executorMetrics, err := metrics.NewExecutorMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create executor metrics: %w", err)
	}

	apiMetrics, err := metrics.NewAPIMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create API metrics: %w", err)
	}

	workerMetrics, err := metrics.NewWorkerMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create worker metrics: %w", err)
	}

	datastoreMetrics, err := metrics.NewDatastoreMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create datastore metrics: %w", err)
	}

	mqttMetrics, err := metrics.NewMQTTMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create MQTT metrics: %w", err)
	}

	m := &Metrics{
		registry:     registry,
		Orchestrator: orchestratorMetrics,
		Pool:         poolMetrics,
		Recovery:     recoveryMetrics,
		Executor:     executorMetrics,
		API:          apiMetrics,
		Worker:       workerMetrics,
		Datastore:    datastoreMetrics,
		MQTT:         mqttMetrics,
	}

	return m, nil
}

// Handler returns the HTTP handler serving the metrics registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		ErrorLog:      log.New(os.Stderr, "metrics handler: ", log.LstdFlags),
		ErrorHandling: promhttp.HTTPErrorOnError,
	})
}

// RegisterHandlers mounts the /metrics endpoint on mux.
func (m *Metrics) RegisterHandlers(mux *http.ServeMux) {
	mux.Handle("/metrics", m.Handler())
}
