package plugin_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/goatkit/pluginhost/internal/plugin"
)

func writeManifest(t *testing.T, dir, yaml string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "plugin.yaml"), []byte(yaml), 0o644))
}

func TestLoadManifestAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "main.go"), []byte("package main"), 0o644))
	writeManifest(t, dir, `
name: sample
version: 1.0.0
execution_mode: trusted
framework_version: ">=1.0.0"
entry_point: main.go
`)

	m, err := plugin.LoadManifest(dir, "1.2.0", map[string]string{})
	require.NoError(t, err)
	require.Equal(t, 30, m.Resources.TimeoutSeconds)
	require.Equal(t, 1000, m.Resources.RateLimit.Calls)
	require.Equal(t, 1, m.Runtime.Retry.MaxAttempts)
	require.Equal(t, 0.5, m.Runtime.Retry.BackoffSeconds)
}

func TestLoadManifestAcceptsLegacyExecutionMode(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "main.go"), []byte("package main"), 0o644))
	writeManifest(t, dir, `
name: sample
version: 1.0.0
execution_mode: legacy
framework_version: ">=1.0.0"
entry_point: main.go
`)

	m, err := plugin.LoadManifest(dir, "1.2.0", map[string]string{})
	require.NoError(t, err)
	require.Equal(t, "legacy", m.ExecutionMode)
	require.Equal(t, 30, m.Resources.TimeoutSeconds)
}

func TestLoadManifestRejectsUnknownFields(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "main.go"), []byte("package main"), 0o644))
	writeManifest(t, dir, `
name: sample
version: 1.0.0
execution_mode: trusted
framework_version: ">=1.0.0"
entry_point: main.go
made_up_field: oops
`)

	_, err := plugin.LoadManifest(dir, "1.2.0", nil)
	require.Error(t, err)
}

func TestLoadManifestRejectsFrameworkVersionMismatch(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "main.go"), []byte("package main"), 0o644))
	writeManifest(t, dir, `
name: sample
version: 1.0.0
execution_mode: trusted
framework_version: ">=2.0.0"
entry_point: main.go
`)

	_, err := plugin.LoadManifest(dir, "1.2.0", nil)
	require.Error(t, err)
}

func TestLoadManifestRejectsMissingEntryPoint(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, `
name: sample
version: 1.0.0
execution_mode: trusted
framework_version: ">=1.0.0"
entry_point: does-not-exist.go
`)

	_, err := plugin.LoadManifest(dir, "1.2.0", nil)
	require.Error(t, err)
}

func TestLoadManifestSubstitutesEnv(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "main.go"), []byte("package main"), 0o644))
	writeManifest(t, dir, `
name: sample
version: 1.0.0
execution_mode: trusted
framework_version: ">=1.0.0"
entry_point: main.go
env:
  TOKEN: "prefix-${SECRET}"
`)

	m, err := plugin.LoadManifest(dir, "1.2.0", map[string]string{"SECRET": "abc"})
	require.NoError(t, err)
	require.Equal(t, "prefix-abc", m.Env["TOKEN"])
}

func TestLoadManifestFailsOnUnresolvedEnvVar(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "main.go"), []byte("package main"), 0o644))
	writeManifest(t, dir, `
name: sample
version: 1.0.0
execution_mode: trusted
framework_version: ">=1.0.0"
entry_point: main.go
env:
  TOKEN: "${MISSING}"
`)

	_, err := plugin.LoadManifest(dir, "1.2.0", map[string]string{})
	require.Error(t, err)
}
