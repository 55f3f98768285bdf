package notification

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/audiohub/audiohub-go/internal/conf"
	"github.com/audiohub/audiohub-go/internal/errors"
	"github.com/audiohub/audiohub-go/internal/events"
	"github.com/audiohub/audiohub-go/internal/logging"
	"github.com/audiohub/audiohub-go/internal/privacy"
)

const defaultAlertThrottle = 5 * time.Minute

// Config adjusts service behavior. A nil config takes the defaults.
type Config struct {
	// AlertThrottle is the minimum spacing between pushes sharing an
	// alert key, so a flapping component cannot flood the push services.
	AlertThrottle time.Duration

	// SendTimeout bounds one provider delivery.
	SendTimeout time.Duration
}

func (c *Config) withDefaults() Config {
	out := Config{
		AlertThrottle: defaultAlertThrottle,
		SendTimeout:   defaultSendTimeout,
	}
	if c == nil {
		return out
	}
	if c.AlertThrottle > 0 {
		out.AlertThrottle = c.AlertThrottle
	}
	if c.SendTimeout > 0 {
		out.SendTimeout = c.SendTimeout
	}
	return out
}

// Service consumes error and resource events from the bus and dispatches
// the pushable ones to its providers.
type Service struct {
	config    Config
	providers []Provider
	logger    *slog.Logger

	mu       sync.Mutex
	lastPush map[string]time.Time // alert key to last push time
	critical map[string]bool      // resources with an open critical alert
}

// NewService builds a service from the notification settings. Providers
// are validated up front so a bad service URL fails at startup instead of
// at the first alert.
func NewService(settings *conf.Settings, config *Config) (*Service, error) {
	svc := &Service{
		config:   config.withDefaults(),
		logger:   logging.ForService("notification"),
		lastPush: make(map[string]time.Time),
		critical: make(map[string]bool),
	}

	if settings != nil && settings.Notification.Enabled {
		provider := NewShoutrrrProvider(settings.Notification.URLs, svc.config.SendTimeout)
		if err := provider.ValidateConfig(); err != nil {
			return nil, err
		}
		svc.providers = append(svc.providers, provider)
	}

	return svc, nil
}

// AddProvider registers an already validated provider.
func (s *Service) AddProvider(p Provider) {
	s.providers = append(s.providers, p)
}

// Name implements events.EventConsumer.
func (s *Service) Name() string {
	return "notification"
}

// ProcessEvent implements events.EventConsumer. Invalid-input failures are
// user errors and never pushed; everything else pushes when the component
// enters a failing kind or the previous alert for it has aged out.
func (s *Service) ProcessEvent(event events.ErrorEvent) error {
	kind := event.GetKind()
	if kind == errors.KindInvalidInput {
		return nil
	}

	key := "error:" + event.GetComponent() + ":" + string(kind)
	if s.throttled(key) {
		return nil
	}

	n := New(TypeError, priorityForKind(kind), titleForKind(kind), privacy.ScrubMessage(event.GetMessage())).
		WithComponent(event.GetComponent()).
		WithMetadata("error_kind", string(kind)).
		WithMetadata("category", event.GetCategory())
	s.dispatch(n)
	return nil
}

// ProcessBatch implements events.EventConsumer.
func (s *Service) ProcessBatch(batch []events.ErrorEvent) error {
	for _, event := range batch {
		if err := s.ProcessEvent(event); err != nil {
			return err
		}
	}
	return nil
}

// SupportsBatching implements events.EventConsumer. Alerts are rare after
// throttling; batching buys nothing.
func (s *Service) SupportsBatching() bool {
	return false
}

// ProcessResourceEvent implements events.ResourceEventConsumer. Warnings
// stay in the logs; critical pressure pushes, and the recovery that
// follows pushes once to close the loop.
func (s *Service) ProcessResourceEvent(event events.ResourceEvent) error {
	resource := event.GetResourceType()

	switch event.GetSeverity() {
	case events.SeverityCritical:
		if s.throttled("resource:" + resource) {
			return nil
		}
		s.mu.Lock()
		s.critical[resource] = true
		s.mu.Unlock()

		n := New(TypeWarning, PriorityCritical,
			fmt.Sprintf("Critical %s Usage", resourceDisplayName(resource)),
			event.GetMessage()).
			WithComponent("pool-monitor").
			WithMetadata("resource", resource).
			WithMetadata("current_value", event.GetCurrentValue()).
			WithMetadata("threshold", event.GetThreshold())
		s.dispatch(n)

	case events.SeverityRecovery:
		s.mu.Lock()
		open := s.critical[resource]
		delete(s.critical, resource)
		s.mu.Unlock()
		if !open {
			return nil
		}

		n := New(TypeInfo, PriorityMedium,
			fmt.Sprintf("%s Usage Recovered", resourceDisplayName(resource)),
			event.GetMessage()).
			WithComponent("pool-monitor").
			WithMetadata("resource", resource).
			WithMetadata("current_value", event.GetCurrentValue())
		s.dispatch(n)

	default:
		s.logger.Debug("resource event below alert severity",
			"resource", resource,
			"severity", event.GetSeverity())
	}

	return nil
}

// throttled reports whether key fired within the throttle window, and
// records the push time when it did not.
func (s *Service) throttled(key string) bool {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	if last, ok := s.lastPush[key]; ok && now.Sub(last) < s.config.AlertThrottle {
		return true
	}
	s.lastPush[key] = now
	return false
}

// dispatch fans the notification out to every provider. Delivery failures
// are logged, not returned; an unreachable push service must not count
// against bus consumer health.
func (s *Service) dispatch(n *Notification) {
	for _, provider := range s.providers {
		ctx, cancel := context.WithTimeout(context.Background(), s.config.SendTimeout)
		err := provider.Send(ctx, n)
		cancel()
		if err != nil {
			s.logger.Error("notification delivery failed",
				"provider", provider.Name(),
				"notification_id", n.ID,
				"title", n.Title,
				"error", err)
			continue
		}
		s.logger.Debug("notification delivered",
			"provider", provider.Name(),
			"notification_id", n.ID,
			"priority", n.Priority)
	}
}

func titleForKind(kind errors.Kind) string {
	switch kind {
	case errors.KindConnection:
		return "Backend Unreachable"
	case errors.KindTimeout:
		return "Backend Timing Out"
	case errors.KindModel:
		return "Model Failure"
	case errors.KindResourceExceeded:
		return "Resource Limit Exceeded"
	default:
		return "Unexpected Failure"
	}
}

func priorityForKind(kind errors.Kind) Priority {
	switch kind {
	case errors.KindModel:
		return PriorityCritical
	case errors.KindConnection, errors.KindTimeout, errors.KindResourceExceeded:
		return PriorityHigh
	default:
		return PriorityMedium
	}
}

func resourceDisplayName(resource string) string {
	switch resource {
	case events.ResourceMemory:
		return "Memory"
	case events.ResourceCPU:
		return "CPU"
	case events.ResourceStorage:
		return "Storage"
	default:
		return resource
	}
}
