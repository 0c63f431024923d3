package plugin_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/goatkit/pluginhost/internal/plugin"
	"github.com/goatkit/pluginhost/internal/plugin/registry"
	pkgplugin "github.com/goatkit/pluginhost/pkg/plugin"
)

type managerTestPlugin struct{ calls int }

func (p *managerTestPlugin) Handle(ctx context.Context, action string, payload map[string]any) (map[string]any, error) {
	p.calls++
	return map[string]any{"calls": p.calls}, nil
}

func setupPluginDir(t *testing.T, name, yaml string) string {
	t.Helper()
	root := t.TempDir()
	dir := filepath.Join(root, name)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "main.go"), []byte("package main"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "plugin.yaml"), []byte(yaml), 0o644))
	return root
}

func TestManagerLoadAllAndCallTrustedPlugin(t *testing.T) {
	registry.Register("manager-test-trusted", func() pkgplugin.Plugin { return &managerTestPlugin{} })

	root := setupPluginDir(t, "manager-test-trusted", `
name: manager-test-trusted
version: 1.0.0
execution_mode: trusted
framework_version: ">=1.0.0"
entry_point: main.go
`)

	mgr := plugin.NewManager(pkgplugin.HostConfig{PluginsDir: root, FrameworkVersion: "1.0.0"}, pkgplugin.Services{})
	require.NoError(t, mgr.LoadAll(context.Background()))

	statuses := mgr.Status()
	require.Len(t, statuses, 1)
	require.Equal(t, plugin.InstanceActive, statuses[0].State)

	out, err := mgr.Call(context.Background(), "manager-test-trusted", "ping", nil)
	require.NoError(t, err)
	require.Equal(t, 1, out["calls"])

	require.NoError(t, mgr.Unload(context.Background(), "manager-test-trusted"))
}

func TestManagerCallUnknownPluginFails(t *testing.T) {
	mgr := plugin.NewManager(pkgplugin.HostConfig{PluginsDir: t.TempDir(), FrameworkVersion: "1.0.0"}, pkgplugin.Services{})
	_, err := mgr.Call(context.Background(), "does-not-exist", "ping", nil)
	require.Error(t, err)
}

func TestManagerRateLimitsCalls(t *testing.T) {
	registry.Register("manager-test-ratelimit", func() pkgplugin.Plugin { return &managerTestPlugin{} })

	root := setupPluginDir(t, "manager-test-ratelimit", `
name: manager-test-ratelimit
version: 1.0.0
execution_mode: trusted
framework_version: ">=1.0.0"
entry_point: main.go
resources:
  rate_limit:
    calls: 1
    period_seconds: 60
`)

	mgr := plugin.NewManager(pkgplugin.HostConfig{PluginsDir: root, FrameworkVersion: "1.0.0"}, pkgplugin.Services{})
	require.NoError(t, mgr.LoadAll(context.Background()))

	_, err := mgr.Call(context.Background(), "manager-test-ratelimit", "ping", nil)
	require.NoError(t, err)

	_, err = mgr.Call(context.Background(), "manager-test-ratelimit", "ping", nil)
	require.Error(t, err)
}

func TestManagerReloadReinitializesInstance(t *testing.T) {
	registry.Register("manager-test-reload", func() pkgplugin.Plugin { return &managerTestPlugin{} })

	root := setupPluginDir(t, "manager-test-reload", `
name: manager-test-reload
version: 1.0.0
execution_mode: trusted
framework_version: ">=1.0.0"
entry_point: main.go
`)

	mgr := plugin.NewManager(pkgplugin.HostConfig{PluginsDir: root, FrameworkVersion: "1.0.0"}, pkgplugin.Services{})
	require.NoError(t, mgr.LoadAll(context.Background()))

	require.NoError(t, mgr.Reload(context.Background(), "manager-test-reload"))

	statuses := mgr.Status()
	require.Len(t, statuses, 1)
	require.Equal(t, plugin.InstanceActive, statuses[0].State)
}

func TestManagerShutdownUnloadsEverything(t *testing.T) {
	registry.Register("manager-test-shutdown", func() pkgplugin.Plugin { return &managerTestPlugin{} })

	root := setupPluginDir(t, "manager-test-shutdown", `
name: manager-test-shutdown
version: 1.0.0
execution_mode: trusted
framework_version: ">=1.0.0"
entry_point: main.go
`)

	mgr := plugin.NewManager(pkgplugin.HostConfig{PluginsDir: root, FrameworkVersion: "1.0.0"}, pkgplugin.Services{})
	require.NoError(t, mgr.LoadAll(context.Background()))
	require.NoError(t, mgr.Shutdown(context.Background()))

	statuses := mgr.Status()
	require.Equal(t, plugin.InstanceUnloaded, statuses[0].State)
}
