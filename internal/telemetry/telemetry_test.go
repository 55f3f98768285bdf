package telemetry

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/audiohub/audiohub-go/internal/buildinfo"
	"github.com/audiohub/audiohub-go/internal/conf"
	"github.com/audiohub/audiohub-go/internal/errors"
	"github.com/audiohub/audiohub-go/internal/privacy"
)

var _ errors.PrivacyScrubber = scrubber{}

func TestInitStaysDisabledWithoutDSN(t *testing.T) {
	settings := &conf.Settings{}
	settings.Sentry.Enabled = true

	require.NoError(t, Init(settings, &buildinfo.Context{Version: "test"}))
	assert.False(t, Enabled())
}

func TestInitStaysDisabledWhenOptedOut(t *testing.T) {
	settings := &conf.Settings{}
	settings.Sentry.DSN = "https://key@example.ingest.sentry.io/1"

	require.NoError(t, Init(settings, &buildinfo.Context{Version: "test"}))
	assert.False(t, Enabled())
}

func TestInitRejectsMalformedDSN(t *testing.T) {
	settings := &conf.Settings{}
	settings.Sentry.Enabled = true
	settings.Sentry.DSN = "not-a-dsn"

	err := Init(settings, &buildinfo.Context{Version: "test"})
	require.Error(t, err)
	assert.False(t, Enabled())
}

func TestScrubberRemovesSensitiveContent(t *testing.T) {
	t.Parallel()

	out := scrubber{}.ScrubMessage("publish to tcp://user:pw@broker.internal:1883 failed")
	assert.NotContains(t, out, "pw")
	assert.NotContains(t, out, "broker.internal")
}

func TestLoadOrCreateSystemIDPersists(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	first, err := LoadOrCreateSystemID(dir)
	require.NoError(t, err)
	require.True(t, privacy.IsValidSystemID(first), "id %q should validate", first)

	second, err := LoadOrCreateSystemID(dir)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestLoadOrCreateSystemIDReplacesMalformed(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, systemIDFile), []byte("garbage"), 0o644))

	id, err := LoadOrCreateSystemID(dir)
	require.NoError(t, err)
	assert.True(t, privacy.IsValidSystemID(id), "id %q should validate", id)
	assert.NotEqual(t, "garbage", id)
}

func TestCaptureErrorIsNoOpWhileDisabled(t *testing.T) {
	// Must not panic or block without an initialized client.
	CaptureError(assert.AnError, "test")
}
