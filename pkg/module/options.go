package module

import (
	"regexp"
	"slices"
)

// Options controls how the server treats a module
type Options struct {
	// InternalStateUpdatesOnly rejects state deltas submitted by clients
	InternalStateUpdatesOnly bool

	// ManagementEventWhitelist restricts which pushup events reach the module.
	// nil allows every event; patterns are matched against the event name.
	ManagementEventWhitelist []*regexp.Regexp

	// ShouldCacheState persists state after every mutation and restores it
	// during registration
	ShouldCacheState bool

	// ReadCacheTransform rewrites the cached state before it becomes live
	ReadCacheTransform func(map[string]any) map[string]any
}

// Option overrides one default
type Option func(*Options)

// DefaultOptions returns the options a module gets when it overrides nothing
func DefaultOptions() Options {
	return Options{
		ShouldCacheState:   true,
		ReadCacheTransform: func(state map[string]any) map[string]any { return state },
	}
}

// WithInternalStateUpdatesOnly stops clients from submitting state deltas
func WithInternalStateUpdatesOnly() Option {
	return func(o *Options) {
		o.InternalStateUpdatesOnly = true
	}
}

// WithManagementEventWhitelist restricts pushup events to names matching one
// of patterns. It panics if a pattern does not compile, like regexp.MustCompile.
func WithManagementEventWhitelist(patterns ...string) Option {
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		compiled = append(compiled, regexp.MustCompile(p))
	}
	return func(o *Options) {
		o.ManagementEventWhitelist = compiled
	}
}

// WithoutStateCache keeps the module's state in memory only
func WithoutStateCache() Option {
	return func(o *Options) {
		o.ShouldCacheState = false
	}
}

// WithCacheTransform sets the function applied to cached state on load
func WithCacheTransform(fn func(map[string]any) map[string]any) Option {
	return func(o *Options) {
		if fn != nil {
			o.ReadCacheTransform = fn
		}
	}
}

// AllowsManagementEvent reports whether a pushup event may reach the module
func (o Options) AllowsManagementEvent(eventName string) bool {
	if o.ManagementEventWhitelist == nil {
		return true
	}
	return slices.ContainsFunc(o.ManagementEventWhitelist, func(re *regexp.Regexp) bool {
		return re.MatchString(eventName)
	})
}

// WhitelistPatterns returns the source text of the whitelist patterns
func (o Options) WhitelistPatterns() []string {
	if o.ManagementEventWhitelist == nil {
		return nil
	}
	out := make([]string, len(o.ManagementEventWhitelist))
	for i, re := range o.ManagementEventWhitelist {
		out[i] = re.String()
	}
	return out
}
