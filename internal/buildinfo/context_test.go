package buildinfo

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContextReportsValues(t *testing.T) {
	t.Parallel()

	ctx := &Context{
		Version:   "v1.2.3",
		BuildDate: "2026-08-25T10:00:00Z",
		SystemID:  "ABCD-EF01-2345",
	}

	assert.Equal(t, "v1.2.3", ctx.GetVersion())
	assert.Equal(t, "2026-08-25T10:00:00Z", ctx.GetBuildDate())
	assert.Equal(t, "ABCD-EF01-2345", ctx.GetSystemID())
}

func TestContextDefaultsToUnknown(t *testing.T) {
	t.Parallel()

	var nilCtx *Context
	assert.Equal(t, "unknown", nilCtx.GetVersion())
	assert.Equal(t, "unknown", nilCtx.GetBuildDate())
	assert.Equal(t, "unknown", nilCtx.GetSystemID())

	empty := &Context{}
	assert.Equal(t, "unknown", empty.GetVersion())
	assert.Equal(t, "unknown", empty.GetBuildDate())
	assert.Equal(t, "unknown", empty.GetSystemID())
}
