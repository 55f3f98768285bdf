// Package buildinfo carries build-time metadata injected at startup,
// separate from user configuration.
package buildinfo

// BuildInfo exposes build-time metadata without tying callers to the
// concrete Context type.
type BuildInfo interface {
	// GetVersion returns the build version string.
	GetVersion() string
	// GetBuildDate returns the build date string.
	GetBuildDate() string
	// GetSystemID returns the anonymous system identifier.
	GetSystemID() string
}

// Context holds the values the build and first run establish. Version and
// BuildDate come from ldflags; SystemID is generated once and persisted in
// the config directory.
type Context struct {
	Version   string
	BuildDate string
	SystemID  string
}

// GetVersion implements BuildInfo. A nil or unset context reports "unknown".
func (c *Context) GetVersion() string {
	if c == nil || c.Version == "" {
		return "unknown"
	}
	return c.Version
}

// GetBuildDate implements BuildInfo.
func (c *Context) GetBuildDate() string {
	if c == nil || c.BuildDate == "" {
		return "unknown"
	}
	return c.BuildDate
}

// GetSystemID implements BuildInfo.
func (c *Context) GetSystemID() string {
	if c == nil || c.SystemID == "" {
		return "unknown"
	}
	return c.SystemID
}
