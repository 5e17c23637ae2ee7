// Package buildinfo carries build-time metadata injected through ldflags.
package buildinfo

import (
	"fmt"
	"runtime"
)

// UnknownValue is reported for metadata that was not set at build time.
const UnknownValue = "unknown"

// BuildInfo provides access to build-time metadata.
type BuildInfo interface {
	GetVersion() string
	GetBuildDate() string
	GetCommit() string
}

// Context holds build-time metadata that is not user-configurable.
type Context struct {
	Version   string
	BuildDate string
	Commit    string
}

// NewContext creates a build context.
func NewContext(version, buildDate, commit string) *Context {
	return &Context{Version: version, BuildDate: buildDate, Commit: commit}
}

func orUnknown(c *Context, pick func(*Context) string) string {
	if c == nil {
		return UnknownValue
	}
	if v := pick(c); v != "" {
		return v
	}
	return UnknownValue
}

// GetVersion implements BuildInfo.
func (c *Context) GetVersion() string {
	return orUnknown(c, func(c *Context) string { return c.Version })
}

// GetBuildDate implements BuildInfo.
func (c *Context) GetBuildDate() string {
	return orUnknown(c, func(c *Context) string { return c.BuildDate })
}

// GetCommit implements BuildInfo.
func (c *Context) GetCommit() string {
	return orUnknown(c, func(c *Context) string { return c.Commit })
}

// String renders the version line printed by --version.
func (c *Context) String() string {
	return fmt.Sprintf("%s (commit %s, built %s, %s %s/%s)",
		c.GetVersion(), c.GetCommit(), c.GetBuildDate(), runtime.Version(), runtime.GOOS, runtime.GOARCH)
}
