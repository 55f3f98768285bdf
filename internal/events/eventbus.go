package events

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/audiohub/audiohub-go/internal/logging"
)

// busCounters holds the bus statistics in atomically updated form. GetStats
// snapshots them into the exported EventBusStats value.
type busCounters struct {
	received   atomic.Uint64
	suppressed atomic.Uint64
	processed  atomic.Uint64
	dropped    atomic.Uint64
	consumer   atomic.Uint64
	fastPath   atomic.Uint64
}

// EventBus fans error and resource events out to registered consumers from a
// pool of workers. Publication never blocks: a full buffer drops the event
// and counts the drop. The two event families travel on separate channels so
// a burst of one cannot starve the other.
type EventBus struct {
	eventChan    chan ErrorEvent
	resourceChan chan ResourceEvent

	bufferSize int
	workers    int

	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	initialized atomic.Bool
	running     atomic.Bool
	mu          sync.Mutex

	consumers []EventConsumer

	deduplicator *ErrorDeduplicator

	counters busCounters

	logger *slog.Logger
}

// The process-wide bus. Publishers reach it through GetEventBus so packages
// need no wiring beyond the errors-package adapter.
var (
	globalEventBus *EventBus
	globalMutex    sync.Mutex
)

// Config holds event bus configuration.
type Config struct {
	BufferSize    int
	Workers       int
	Enabled       bool
	Deduplication *DeduplicationConfig
}

// DefaultConfig returns the default event bus configuration.
func DefaultConfig() *Config {
	return &Config{
		BufferSize:    10000,
		Workers:       4,
		Enabled:       true,
		Deduplication: DefaultDeduplicationConfig(),
	}
}

// Initialize creates the global event bus, or returns the existing one. A
// disabled config yields a nil bus, which every method tolerates.
func Initialize(config *Config) (*EventBus, error) {
	globalMutex.Lock()
	defer globalMutex.Unlock()

	if globalEventBus != nil {
		return globalEventBus, nil
	}

	if config == nil {
		config = DefaultConfig()
	}

	if !config.Enabled {
		return nil, nil
	}

	ctx, cancel := context.WithCancel(context.Background())

	eb := &EventBus{
		eventChan:    make(chan ErrorEvent, config.BufferSize),
		resourceChan: make(chan ResourceEvent, config.BufferSize),
		bufferSize:   config.BufferSize,
		workers:      config.Workers,
		ctx:          ctx,
		cancel:       cancel,
		logger:       logging.ForService("events"),
	}

	if config.Deduplication != nil && config.Deduplication.Enabled {
		eb.deduplicator = NewErrorDeduplicator(config.Deduplication, eb.logger)
	}

	eb.initialized.Store(true)
	globalEventBus = eb

	eb.logger.Info("event bus ready",
		"buffer_size", config.BufferSize,
		"workers", config.Workers,
		"deduplication", eb.deduplicator != nil,
	)

	return eb, nil
}

// GetEventBus returns the global event bus instance.
func GetEventBus() *EventBus {
	globalMutex.Lock()
	defer globalMutex.Unlock()
	return globalEventBus
}

// IsInitialized returns true if the event bus has been initialized.
func IsInitialized() bool {
	globalMutex.Lock()
	defer globalMutex.Unlock()
	return globalEventBus != nil && globalEventBus.initialized.Load()
}

// ResetForTesting tears down the global instance so tests can initialize
// a fresh bus. Not for production use.
func ResetForTesting() {
	globalMutex.Lock()
	eb := globalEventBus
	globalEventBus = nil
	globalMutex.Unlock()

	if eb != nil {
		_ = eb.Shutdown(time.Second)
	}
}

// HasActiveConsumers reports whether the global bus exists and has at least
// one registered consumer.
func HasActiveConsumers() bool {
	eb := GetEventBus()
	return eb != nil && eb.hasConsumers()
}

func (eb *EventBus) hasConsumers() bool {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	return len(eb.consumers) > 0
}

// snapshotConsumers copies the consumer list so dispatch runs without the
// lock held.
func (eb *EventBus) snapshotConsumers() []EventConsumer {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	out := make([]EventConsumer, len(eb.consumers))
	copy(out, eb.consumers)
	return out
}

// RegisterConsumer adds a consumer. Names must be unique; the first
// registration starts the worker pool.
func (eb *EventBus) RegisterConsumer(consumer EventConsumer) error {
	if eb == nil {
		return fmt.Errorf("nil event bus")
	}

	eb.mu.Lock()
	defer eb.mu.Unlock()

	for _, existing := range eb.consumers {
		if existing.Name() == consumer.Name() {
			return fmt.Errorf("consumer %q is already registered", consumer.Name())
		}
	}

	eb.consumers = append(eb.consumers, consumer)

	eb.logger.Info("consumer registered",
		"consumer", consumer.Name(),
		"supports_batching", consumer.SupportsBatching(),
	)

	if len(eb.consumers) == 1 && !eb.running.Load() {
		eb.start()
	}

	return nil
}

// accepting reports whether the bus can take events right now, counting the
// no-consumer fast path.
func (eb *EventBus) accepting() bool {
	if eb == nil || !eb.initialized.Load() || !eb.running.Load() {
		return false
	}
	if !eb.hasConsumers() {
		eb.counters.fastPath.Add(1)
		return false
	}
	return true
}

// TryPublish attempts to publish an error event without blocking.
// Returns true if the event was accepted, false if dropped or suppressed.
func (eb *EventBus) TryPublish(event ErrorEvent) bool {
	if !eb.accepting() {
		return false
	}

	if eb.deduplicator != nil && !eb.deduplicator.ShouldProcess(event) {
		eb.counters.suppressed.Add(1)
		return false
	}

	select {
	case eb.eventChan <- event:
		eb.counters.received.Add(1)
		return true
	default:
		eb.counters.dropped.Add(1)
		eb.logger.Debug("buffer full, dropping event",
			"component", event.GetComponent(),
			"category", event.GetCategory(),
		)
		return false
	}
}

// TryPublishResource attempts to publish a resource event without blocking.
func (eb *EventBus) TryPublishResource(event ResourceEvent) bool {
	if !eb.accepting() {
		return false
	}

	select {
	case eb.resourceChan <- event:
		eb.counters.received.Add(1)
		return true
	default:
		eb.counters.dropped.Add(1)
		eb.logger.Debug("buffer full, dropping resource event",
			"resource", event.GetResourceType(),
			"severity", event.GetSeverity(),
		)
		return false
	}
}

func (eb *EventBus) start() {
	if eb.running.Swap(true) {
		return
	}

	eb.logger.Info("starting workers", "count", eb.workers)

	for i := range eb.workers {
		eb.wg.Add(1)
		go eb.worker(i)
	}
}

// worker drains both channels until shutdown.
func (eb *EventBus) worker(id int) {
	defer eb.wg.Done()

	logger := eb.logger.With("worker_id", id)
	logger.Debug("worker started")

	for {
		select {
		case <-eb.ctx.Done():
			logger.Debug("worker stopped, context canceled")
			return

		case event, ok := <-eb.eventChan:
			if !ok {
				logger.Debug("worker stopped, channel closed")
				return
			}
			eb.dispatchError(event, logger)

		case event, ok := <-eb.resourceChan:
			if !ok {
				logger.Debug("worker stopped, channel closed")
				return
			}
			eb.dispatchResource(event, logger)
		}
	}
}

// guard runs one consumer call, absorbing panics and errors so a bad
// consumer cannot take a worker down or stall its peers.
func (eb *EventBus) guard(logger *slog.Logger, name string, attrs []any, call func() error) {
	defer func() {
		if r := recover(); r != nil {
			eb.counters.consumer.Add(1)
			logger.Error("consumer panicked", append([]any{"consumer", name, "panic", r}, attrs...)...)
		}
	}()

	if err := call(); err != nil {
		eb.counters.consumer.Add(1)
		logger.Error("consumer error", append([]any{"consumer", name, "error", err}, attrs...)...)
		return
	}
	eb.counters.processed.Add(1)
}

func (eb *EventBus) dispatchError(event ErrorEvent, logger *slog.Logger) {
	attrs := []any{"component", event.GetComponent(), "category", event.GetCategory()}
	for _, consumer := range eb.snapshotConsumers() {
		eb.guard(logger, consumer.Name(), attrs, func() error {
			return consumer.ProcessEvent(event)
		})
	}
}

func (eb *EventBus) dispatchResource(event ResourceEvent, logger *slog.Logger) {
	attrs := []any{"resource", event.GetResourceType(), "severity", event.GetSeverity()}
	for _, consumer := range eb.snapshotConsumers() {
		rc, ok := consumer.(ResourceEventConsumer)
		if !ok {
			continue
		}
		eb.guard(logger, consumer.Name(), attrs, func() error {
			return rc.ProcessResourceEvent(event)
		})
	}
}

// Shutdown stops the workers and waits up to timeout for them to drain.
func (eb *EventBus) Shutdown(timeout time.Duration) error {
	if eb == nil || !eb.initialized.Load() {
		return nil
	}

	eb.logger.Info("event bus draining", "timeout", timeout)

	eb.running.Store(false)
	eb.cancel()

	done := make(chan struct{})
	go func() {
		eb.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		if eb.deduplicator != nil {
			eb.deduplicator.Shutdown()
		}
		eb.logger.Info("event bus stopped")
		return nil
	case <-time.After(timeout):
		eb.logger.Warn("event bus drain timed out")
		return fmt.Errorf("drain incomplete after %s", timeout)
	}
}

// GetStats returns a snapshot of the bus counters.
func (eb *EventBus) GetStats() EventBusStats {
	if eb == nil {
		return EventBusStats{}
	}

	return EventBusStats{
		EventsReceived:   eb.counters.received.Load(),
		EventsSuppressed: eb.counters.suppressed.Load(),
		EventsProcessed:  eb.counters.processed.Load(),
		EventsDropped:    eb.counters.dropped.Load(),
		ConsumerErrors:   eb.counters.consumer.Load(),
		FastPathHits:     eb.counters.fastPath.Load(),
	}
}
