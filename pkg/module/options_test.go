package module

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOptions_Whitelist(t *testing.T) {
	open := DefaultOptions()
	assert.True(t, open.AllowsManagementEvent("anything"))
	assert.Nil(t, open.WhitelistPatterns())

	opts := DefaultOptions()
	WithManagementEventWhitelist("^score\\.", "^reset$")(&opts)

	assert.True(t, opts.AllowsManagementEvent("score.home"))
	assert.True(t, opts.AllowsManagementEvent("reset"))
	assert.False(t, opts.AllowsManagementEvent("resetAll"))
	assert.False(t, opts.AllowsManagementEvent("chat.message"))
	assert.Equal(t, []string{"^score\\.", "^reset$"}, opts.WhitelistPatterns())
}

func TestOptions_EmptyWhitelistAllowsNothing(t *testing.T) {
	opts := DefaultOptions()
	WithManagementEventWhitelist()(&opts)

	assert.False(t, opts.AllowsManagementEvent("score.home"))
}

func TestOptions_BadPatternPanics(t *testing.T) {
	assert.Panics(t, func() { WithManagementEventWhitelist("(") })
}

func TestOptions_Flags(t *testing.T) {
	opts := DefaultOptions()
	WithInternalStateUpdatesOnly()(&opts)
	WithoutStateCache()(&opts)

	assert.True(t, opts.InternalStateUpdatesOnly)
	assert.False(t, opts.ShouldCacheState)
}

func TestProviders(t *testing.T) {
	RegisterProvider("Options-Test-Provider", Provider{
		New: func(map[string]any) (any, error) { return nil, nil },
	})

	_, ok := LookupProvider("options-test-provider")
	assert.True(t, ok)
	assert.Contains(t, Providers(), "options-test-provider")

	assert.Panics(t, func() {
		RegisterProvider("options-test-provider", Provider{New: func(map[string]any) (any, error) { return nil, nil }})
	})
	assert.Panics(t, func() { RegisterProvider("nil-constructor", Provider{}) })
}
