package plugin_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/goatkit/pluginhost/internal/plugin"
)

func TestSignThenVerifySucceeds(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "plugin.yaml"), []byte("name: demo\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "main.go"), []byte("package main"), 0o644))

	secret := []byte("test-secret")
	require.NoError(t, plugin.Sign(dir, secret))
	require.NoError(t, plugin.Verify(dir, secret))
}

func TestVerifyFailsAfterTamper(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "plugin.yaml"), []byte("name: demo\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "main.go"), []byte("package main"), 0o644))

	secret := []byte("test-secret")
	require.NoError(t, plugin.Sign(dir, secret))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "main.go"), []byte("package main // tampered"), 0o644))

	require.Error(t, plugin.Verify(dir, secret))
}

func TestVerifyFailsWithWrongSecret(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "plugin.yaml"), []byte("name: demo\n"), 0o644))

	require.NoError(t, plugin.Sign(dir, []byte("secret-a")))
	require.Error(t, plugin.Verify(dir, []byte("secret-b")))
}
