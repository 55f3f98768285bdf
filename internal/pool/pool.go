package pool

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/audiohub/audiohub-go/internal/conf"
	"github.com/audiohub/audiohub-go/internal/cpuspec"
	"github.com/audiohub/audiohub-go/internal/errors"
	"github.com/audiohub/audiohub-go/internal/health"
	"github.com/audiohub/audiohub-go/internal/logging"
	"github.com/audiohub/audiohub-go/internal/observability/metrics"
)

const (
	outcomeWindow = 64
	headroomStep  = 0.05
	maxHeadroom   = 0.30
	bytesPerMB    = 1024 * 1024
)

// Config sizes a pool and its monitor thresholds.
type Config struct {
	MemoryCapacity   int64 // bytes
	CPUCapacity      int   // logical cores
	StorageCapacity  int64 // bytes
	LowWatermark     float64
	HighWatermark    float64
	FailureThreshold float64
	BufferSamples    int // scratch buffer length in samples
}

// waitQueues holds the per-priority arrival queues for one resource type.
type waitQueues [numPriorities][]*waiter

// Pool is the typed resource allocator. Grants are charged against fixed
// per-type capacity, contended requests queue by priority and arrival
// order, and a blocked higher class always goes first when capacity
// frees up. Each resource type has its own queues so memory pressure
// never stalls CPU or storage requests.
type Pool struct {
	mu       sync.Mutex
	capacity map[ResourceType]int64
	used     map[ResourceType]int64
	issued   map[string]*Resource
	waiting  map[ResourceType]*waitQueues

	// tunables adjusted by Optimize
	headroom           float64
	evictionAggressive bool

	lowWatermark     float64
	highWatermark    float64
	failureThreshold float64

	// trailing window counters, reset by Snapshot
	windowStart  time.Time
	grants       uint64
	releases     uint64
	grantLatency time.Duration

	outcomes     [outcomeWindow]bool
	outcomeIdx   int
	outcomeCount int

	evictions atomic.Uint64

	buffers *BufferPool
	metrics *metrics.PoolMetrics
	logger  *slog.Logger
}

type waiter struct {
	req      Request
	amount   int64
	ready    chan *Resource
	enqueued time.Time
}

// NewPool creates a pool with the given capacities and thresholds.
func NewPool(config Config) (*Pool, error) {
	if config.MemoryCapacity <= 0 || config.CPUCapacity <= 0 || config.StorageCapacity <= 0 {
		return nil, validationError("capacities must be positive")
	}
	if config.LowWatermark <= 0 || config.HighWatermark <= config.LowWatermark || config.HighWatermark > 1 {
		return nil, validationError(fmt.Sprintf("watermarks must satisfy 0 < low < high <= 1, got %.2f/%.2f",
			config.LowWatermark, config.HighWatermark))
	}

	buffers, err := NewBufferPool(config.BufferSamples)
	if err != nil {
		return nil, err
	}

	return &Pool{
		capacity: map[ResourceType]int64{
			ResourceMemory:  config.MemoryCapacity,
			ResourceCPU:     int64(config.CPUCapacity),
			ResourceStorage: config.StorageCapacity,
		},
		used: map[ResourceType]int64{
			ResourceMemory:  0,
			ResourceCPU:     0,
			ResourceStorage: 0,
		},
		issued: make(map[string]*Resource),
		waiting: map[ResourceType]*waitQueues{
			ResourceMemory:  {},
			ResourceCPU:     {},
			ResourceStorage: {},
		},
		lowWatermark:     config.LowWatermark,
		highWatermark:    config.HighWatermark,
		failureThreshold: config.FailureThreshold,
		windowStart:      time.Now(),
		buffers:          buffers,
		logger:           logging.ForService("pool"),
	}, nil
}

// FromSettings builds a pool from the loaded configuration. A zero CPU
// capacity is sized from the detected host CPU.
func FromSettings(settings *conf.Settings) (*Pool, error) {
	cores := settings.Pool.CPUCapacity
	if cores <= 0 {
		cores = cpuspec.Detect().AllocatableCores()
	}
	return NewPool(Config{
		MemoryCapacity:   settings.Pool.MemoryCapacity * bytesPerMB,
		CPUCapacity:      cores,
		StorageCapacity:  settings.Pool.StorageCapacity * bytesPerMB,
		LowWatermark:     settings.Pool.LowWatermark,
		HighWatermark:    settings.Pool.HighWatermark,
		FailureThreshold: settings.Pool.FailureRateThreshold,
		BufferSamples:    settings.ChunkSamples(),
	})
}

// SetMetrics attaches Prometheus collectors. Safe to leave unset in tests.
func (p *Pool) SetMetrics(m *metrics.PoolMetrics) {
	p.metrics = m
}

// Buffers exposes the scratch sample buffer pool.
func (p *Pool) Buffers() *BufferPool {
	return p.buffers
}

// Allocate grants a resource for the request, waiting for capacity when
// the pool is contended. Requests that can never fit fail immediately
// with an exhaustion error, requests violating their own constraints
// fail with a constraint error. Waiting is bounded by the request's
// timeout and max latency constraint, and by ctx.
func (p *Pool) Allocate(ctx context.Context, req Request) (*Resource, error) {
	start := time.Now()

	if !req.Type.Valid() {
		return nil, validationError(fmt.Sprintf("unknown resource type %q", req.Type))
	}
	if !req.Priority.Valid() {
		return nil, validationError(fmt.Sprintf("unknown priority %d", req.Priority))
	}
	amount := req.amount()
	if amount <= 0 {
		return nil, validationError("requirements must be positive for the requested type")
	}
	if req.violatesConstraints() {
		p.recordFailure()
		p.reportAllocation(req, metrics.StatusConstraint, 0)
		return nil, constraintError(req, "requirements exceed the request's own bounds")
	}

	p.mu.Lock()
	if ceiling := p.ceilingLocked(req.Type, req.Priority); amount > ceiling {
		p.recordOutcomeLocked(true)
		free, capacity := p.freeLocked(req.Type), p.capacity[req.Type]
		p.mu.Unlock()
		p.reportAllocation(req, metrics.StatusExhausted, 0)
		return nil, exhaustionError(req, free, capacity)
	}
	if !p.hasWaitersAtOrAboveLocked(req.Type, req.Priority) && p.grantableLocked(req.Type, req.Priority) >= amount {
		res := p.grantLocked(req, amount, 0)
		p.mu.Unlock()
		p.reportAllocation(req, metrics.StatusSuccess, time.Since(start))
		return res, nil
	}

	w := &waiter{req: req, amount: amount, ready: make(chan *Resource, 1), enqueued: start}
	queues := p.waiting[req.Type]
	queues[req.Priority] = append(queues[req.Priority], w)
	p.updateWaitingGaugesLocked()
	p.mu.Unlock()

	p.logger.Debug("allocation queued",
		"resource_type", string(req.Type),
		"priority", req.Priority.String(),
		"amount", amount)

	wait := req.Requirements.Timeout
	latencyBound := false
	if req.Constraints != nil && req.Constraints.MaxLatency > 0 &&
		(wait == 0 || req.Constraints.MaxLatency < wait) {
		wait = req.Constraints.MaxLatency
		latencyBound = true
	}
	var expired <-chan time.Time
	if wait > 0 {
		timer := time.NewTimer(wait)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case res := <-w.ready:
		p.reportAllocation(req, metrics.StatusSuccess, time.Since(start))
		return res, nil

	case <-expired:
		if p.cancelWaiter(w) {
			if latencyBound {
				p.reportAllocation(req, metrics.StatusConstraint, 0)
				return nil, constraintError(req,
					fmt.Sprintf("no grant within max latency %s", req.Constraints.MaxLatency))
			}
			p.mu.Lock()
			free, capacity := p.freeLocked(req.Type), p.capacity[req.Type]
			p.mu.Unlock()
			p.reportAllocation(req, metrics.StatusExhausted, 0)
			return nil, exhaustionError(req, free, capacity)
		}
		// Grant raced in just as the timer fired, keep it.
		res := <-w.ready
		p.reportAllocation(req, metrics.StatusSuccess, time.Since(start))
		return res, nil

	case <-ctx.Done():
		if p.cancelWaiter(w) {
			return nil, errors.New(ctx.Err()).
				Component("pool").
				Category(errors.CategoryProcessing).
				Context("operation", "allocate").
				Context("resource_type", string(req.Type)).
				Build()
		}
		// Grant landed during cancellation, return it to keep accounting clean.
		res := <-w.ready
		p.Release(res)
		return nil, errors.New(ctx.Err()).
			Component("pool").
			Category(errors.CategoryProcessing).
			Context("operation", "allocate").
			Build()
	}
}

// Release returns a resource to the pool and wakes waiting requests.
// Releasing the same resource twice is a no-op.
func (p *Pool) Release(res *Resource) {
	if res == nil {
		return
	}
	if !res.released.CompareAndSwap(false, true) {
		if p.metrics != nil {
			p.metrics.RecordDoubleRelease()
		}
		p.logger.Debug("duplicate release ignored", "resource_id", res.ID)
		return
	}

	p.mu.Lock()
	if _, ok := p.issued[res.ID]; ok {
		delete(p.issued, res.ID)
		p.used[res.Type] -= res.amount
		if p.used[res.Type] < 0 {
			p.used[res.Type] = 0
		}
		p.releases++
	}
	p.grantWaitersLocked(res.Type)
	p.updateWaitingGaugesLocked()
	p.updateUtilizationGaugesLocked()
	p.mu.Unlock()

	if p.metrics != nil {
		p.metrics.RecordRelease(string(res.Type))
	}
}

// RecordEviction counts an eviction performed upstream, the orchestrator
// reports its model evictions here so pool snapshots carry them.
func (p *Pool) RecordEviction() {
	p.evictions.Add(1)
	if p.metrics != nil {
		p.metrics.RecordEviction()
	}
}

// Snapshot computes the trailing metrics since the previous call and
// resets the window.
func (p *Pool) Snapshot() Metrics {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(p.windowStart).Seconds()
	if elapsed <= 0 {
		elapsed = 1
	}
	var avgLatency time.Duration
	if p.grants > 0 {
		avgLatency = p.grantLatency / time.Duration(p.grants)
	}

	m := Metrics{
		Utilization:    p.utilizationLocked(),
		AllocationRate: float64(p.grants) / elapsed,
		ReleaseRate:    float64(p.releases) / elapsed,
		FailureRate:    p.failureRateLocked(),
		AverageLatency: avgLatency,
		CacheHitRate:   p.buffers.HitRate(),
		EvictionCount:  p.evictions.Load(),
		Issued:         len(p.issued),
		Waiting:        p.waitingLocked(),
	}

	p.grants, p.releases, p.grantLatency = 0, 0, 0
	p.windowStart = now
	return m
}

// Optimize tunes the reservation headroom and eviction aggressiveness
// from a trailing snapshot. It never allocates or releases anything.
func (p *Pool) Optimize(m Metrics) {
	p.mu.Lock()
	defer p.mu.Unlock()

	peak := maxUtilization(m.Utilization)
	switch {
	case p.failureThreshold > 0 && m.FailureRate >= p.failureThreshold:
		p.headroom = math.Min(maxHeadroom, p.headroom+headroomStep)
	case m.FailureRate == 0 && peak < p.lowWatermark:
		p.headroom = math.Max(0, p.headroom-headroomStep)
	}
	p.evictionAggressive = peak >= p.highWatermark ||
		(p.failureThreshold > 0 && m.FailureRate >= p.failureThreshold)

	p.logger.Debug("pool tuning adjusted",
		"headroom", p.headroom,
		"aggressive_eviction", p.evictionAggressive,
		"peak_utilization", peak,
		"failure_rate", m.FailureRate)
}

// Monitor returns a point-in-time health snapshot. The level is critical
// when any utilization crosses the high watermark or the recent failure
// rate crosses its threshold, warning above the low watermark, healthy
// otherwise.
func (p *Pool) Monitor() Status {
	p.mu.Lock()
	utilization := p.utilizationLocked()
	failureRate := p.failureRateLocked()
	issued := len(p.issued)
	waiting := p.waitingLocked()
	low, high, failThreshold := p.lowWatermark, p.highWatermark, p.failureThreshold
	p.mu.Unlock()

	peak := maxUtilization(utilization)
	level := HealthOK
	switch {
	case peak >= high || (failThreshold > 0 && failureRate >= failThreshold):
		level = HealthCritical
	case peak >= low:
		level = HealthWarning
	}

	if p.metrics != nil {
		for rt, ratio := range utilization {
			p.metrics.SetUtilization(string(rt), ratio)
		}
		p.metrics.SetBufferPoolHitRate(p.buffers.HitRate())
	}

	return Status{
		Level:       level,
		Utilization: utilization,
		FailureRate: failureRate,
		Issued:      issued,
		Waiting:     waiting,
		CheckedAt:   time.Now(),
	}
}

// Maintain applies the current tuning to the scratch buffers. Called
// periodically by the system monitor.
func (p *Pool) Maintain() {
	p.mu.Lock()
	aggressive := p.evictionAggressive
	p.mu.Unlock()

	if aggressive {
		p.buffers.Clear()
	}
}

// Capacity returns the configured capacity for a resource type.
func (p *Pool) Capacity(rt ResourceType) int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.capacity[rt]
}

// Used returns the currently charged amount for a resource type.
func (p *Pool) Used(rt ResourceType) int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.used[rt]
}

func (p *Pool) freeLocked(rt ResourceType) int64 {
	return p.capacity[rt] - p.used[rt]
}

// ceilingLocked is the largest amount the class may ever hold. Critical
// requests may take the full capacity, everyone else leaves the
// reservation headroom untouched.
func (p *Pool) ceilingLocked(rt ResourceType, priority Priority) int64 {
	ceiling := p.capacity[rt]
	if priority < PriorityCritical && p.headroom > 0 {
		ceiling -= int64(float64(p.capacity[rt]) * p.headroom)
	}
	return ceiling
}

func (p *Pool) grantableLocked(rt ResourceType, priority Priority) int64 {
	free := p.freeLocked(rt)
	if priority < PriorityCritical && p.headroom > 0 {
		free -= int64(float64(p.capacity[rt]) * p.headroom)
	}
	return free
}

func (p *Pool) hasWaitersAtOrAboveLocked(rt ResourceType, priority Priority) bool {
	queues := p.waiting[rt]
	for class := int(PriorityCritical); class >= int(priority); class-- {
		if len(queues[class]) > 0 {
			return true
		}
	}
	return false
}

func (p *Pool) grantLocked(req Request, amount int64, waited time.Duration) *Resource {
	p.used[req.Type] += amount
	res := &Resource{
		ID:        uuid.New().String(),
		Type:      req.Type,
		Granted:   req.Requirements,
		Status:    health.NewState(),
		GrantedAt: time.Now(),
		amount:    amount,
	}
	p.issued[res.ID] = res
	p.grants++
	p.grantLatency += waited
	p.recordOutcomeLocked(false)
	p.updateUtilizationGaugesLocked()
	return res
}

// grantWaitersLocked serves queued requests for one resource type,
// highest class first and in arrival order within a class. A class head
// that does not fit blocks everything behind it, including lower
// classes.
func (p *Pool) grantWaitersLocked(rt ResourceType) {
	queues := p.waiting[rt]
	for class := int(PriorityCritical); class >= int(PriorityLow); class-- {
		queue := queues[class]
		for len(queue) > 0 {
			w := queue[0]
			if p.grantableLocked(rt, w.req.Priority) < w.amount {
				break
			}
			res := p.grantLocked(w.req, w.amount, time.Since(w.enqueued))
			w.ready <- res
			queue = queue[1:]
		}
		queues[class] = queue
		if len(queue) > 0 {
			break
		}
	}
}

// cancelWaiter removes a queued waiter. It returns false when the waiter
// was already granted, in which case the grant sits in its ready channel.
func (p *Pool) cancelWaiter(w *waiter) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	queues := p.waiting[w.req.Type]
	queue := queues[w.req.Priority]
	for i, candidate := range queue {
		if candidate == w {
			queues[w.req.Priority] = append(queue[:i], queue[i+1:]...)
			p.recordOutcomeLocked(true)
			p.grantWaitersLocked(w.req.Type)
			p.updateWaitingGaugesLocked()
			return true
		}
	}
	return false
}

func (p *Pool) recordOutcomeLocked(failed bool) {
	p.outcomes[p.outcomeIdx] = failed
	p.outcomeIdx = (p.outcomeIdx + 1) % outcomeWindow
	if p.outcomeCount < outcomeWindow {
		p.outcomeCount++
	}
}

func (p *Pool) recordFailure() {
	p.mu.Lock()
	p.recordOutcomeLocked(true)
	p.mu.Unlock()
}

func (p *Pool) failureRateLocked() float64 {
	if p.outcomeCount == 0 {
		return 0
	}
	failures := 0
	for i := 0; i < p.outcomeCount; i++ {
		if p.outcomes[i] {
			failures++
		}
	}
	return float64(failures) / float64(p.outcomeCount)
}

func (p *Pool) utilizationLocked() map[ResourceType]float64 {
	utilization := make(map[ResourceType]float64, len(p.capacity))
	for rt, capacity := range p.capacity {
		if capacity > 0 {
			utilization[rt] = float64(p.used[rt]) / float64(capacity)
		}
	}
	return utilization
}

func (p *Pool) waitingLocked() int {
	total := 0
	for _, queues := range p.waiting {
		for _, queue := range queues {
			total += len(queue)
		}
	}
	return total
}

func (p *Pool) updateWaitingGaugesLocked() {
	if p.metrics == nil {
		return
	}
	for class := int(PriorityLow); class <= int(PriorityCritical); class++ {
		count := 0
		for _, queues := range p.waiting {
			count += len(queues[class])
		}
		p.metrics.SetWaiting(Priority(class).String(), float64(count))
	}
}

func (p *Pool) updateUtilizationGaugesLocked() {
	if p.metrics == nil {
		return
	}
	for rt, capacity := range p.capacity {
		if capacity > 0 {
			p.metrics.SetUtilization(string(rt), float64(p.used[rt])/float64(capacity))
		}
	}
}

func (p *Pool) reportAllocation(req Request, status string, latency time.Duration) {
	if p.metrics == nil {
		return
	}
	p.metrics.RecordAllocation(string(req.Type), req.Priority.String(), status, latency.Seconds())
}

func maxUtilization(utilization map[ResourceType]float64) float64 {
	peak := 0.0
	for _, ratio := range utilization {
		if ratio > peak {
			peak = ratio
		}
	}
	return peak
}
