package notification

import (
	"context"
	"io"
	"log"
	"slices"
	"time"

	shoutrrr "github.com/nicholas-fedor/shoutrrr"
	"github.com/nicholas-fedor/shoutrrr/pkg/router"
	stypes "github.com/nicholas-fedor/shoutrrr/pkg/types"

	"github.com/audiohub/audiohub-go/internal/errors"
	"github.com/audiohub/audiohub-go/internal/privacy"
)

const defaultSendTimeout = 30 * time.Second

// ShoutrrrProvider pushes notifications through shoutrrr, one sender
// fanning out to every configured service URL.
type ShoutrrrProvider struct {
	urls    []string
	timeout time.Duration
	sender  *router.ServiceRouter
}

// NewShoutrrrProvider creates a provider for the given service URLs. The
// provider is not usable until ValidateConfig has built the sender.
func NewShoutrrrProvider(urls []string, timeout time.Duration) *ShoutrrrProvider {
	if timeout <= 0 {
		timeout = defaultSendTimeout
	}
	return &ShoutrrrProvider{
		urls:    slices.Clone(urls),
		timeout: timeout,
	}
}

// Name implements Provider.
func (p *ShoutrrrProvider) Name() string {
	return "shoutrrr"
}

// ValidateConfig builds the sender from the configured URLs. Service URLs
// carry tokens, so errors are wrapped before they can reach a log.
func (p *ShoutrrrProvider) ValidateConfig() error {
	if len(p.urls) == 0 {
		return errors.Newf("at least one notification service URL is required").
			Component("notification").
			Category(errors.CategoryValidation).
			Kind(errors.KindInvalidInput).
			Build()
	}

	sender, err := shoutrrr.CreateSender(p.urls...)
	if err != nil {
		return privacy.WrapError(err)
	}
	sender.Timeout = p.timeout
	sender.SetLogger(log.New(io.Discard, "", 0))

	p.sender = sender
	return nil
}

// Send implements Provider. The router enforces its own per-service
// timeout; ctx is checked once up front so a cancelled dispatch does not
// start new deliveries.
func (p *ShoutrrrProvider) Send(ctx context.Context, n *Notification) error {
	if p.sender == nil {
		return errors.Newf("shoutrrr sender not initialized").
			Component("notification").
			Category(errors.CategoryState).
			Kind(errors.KindUnknown).
			Build()
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	params := stypes.Params{}
	if n.Title != "" {
		params.SetTitle(n.Title)
	}

	for _, err := range p.sender.Send(n.Message, &params) {
		if err != nil {
			return privacy.WrapError(err)
		}
	}
	return nil
}
