package notification

import "context"

// Provider delivers notifications to one external push service.
type Provider interface {
	// Name identifies the provider in logs.
	Name() string

	// ValidateConfig checks the configuration and prepares the provider
	// for sending. Called once before the provider receives traffic.
	ValidateConfig() error

	// Send delivers one notification.
	Send(ctx context.Context, n *Notification) error
}
