package registry_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/goatkit/pluginhost/internal/plugin/registry"
	pkgplugin "github.com/goatkit/pluginhost/pkg/plugin"
)

type stubPlugin struct{}

func (stubPlugin) Handle(ctx context.Context, action string, payload map[string]any) (map[string]any, error) {
	return nil, nil
}

func TestRegisterAndLookup(t *testing.T) {
	registry.Register("registry-test-stub", func() pkgplugin.Plugin { return stubPlugin{} })

	factory, ok := registry.Lookup("registry-test-stub")
	require.True(t, ok)
	require.IsType(t, stubPlugin{}, factory())
}

func TestLookupUnknownReturnsFalse(t *testing.T) {
	_, ok := registry.Lookup("registry-test-does-not-exist")
	require.False(t, ok)
}

func TestRegisterDuplicatePanics(t *testing.T) {
	registry.Register("registry-test-dup", func() pkgplugin.Plugin { return stubPlugin{} })
	require.Panics(t, func() {
		registry.Register("registry-test-dup", func() pkgplugin.Plugin { return stubPlugin{} })
	})
}

func TestNamesIncludesRegistered(t *testing.T) {
	registry.Register("registry-test-names", func() pkgplugin.Plugin { return stubPlugin{} })
	require.Contains(t, registry.Names(), "registry-test-names")
}
