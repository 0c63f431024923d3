package plugin_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/goatkit/pluginhost/internal/plugin"
)

func writeSource(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func TestScanPassesCleanSource(t *testing.T) {
	dir := t.TempDir()
	writeSource(t, dir, "main.go", `package main

import "fmt"

func main() {
	fmt.Println("hello")
}
`)

	res, err := plugin.Scan(dir, nil, true)
	require.NoError(t, err)
	require.True(t, res.Passed)
	require.Empty(t, res.Errors)
}

func TestScanBlocksForbiddenImport(t *testing.T) {
	dir := t.TempDir()
	writeSource(t, dir, "main.go", `package main

import "os/exec"

func main() {
	exec.Command("ls").Run()
}
`)

	res, err := plugin.Scan(dir, nil, true)
	require.NoError(t, err)
	require.False(t, res.Passed)
	require.NotEmpty(t, res.Errors)
}

func TestScanWhitelistDoesNotOverrideForbiddenImport(t *testing.T) {
	dir := t.TempDir()
	writeSource(t, dir, "main.go", `package main

import "os/exec"

func main() {
	exec.Command("ls").Run()
}
`)

	res, err := plugin.Scan(dir, []string{"os/exec"}, true)
	require.NoError(t, err)
	require.False(t, res.Passed)
}

func TestScanNonBlockingReportsWarningsOnly(t *testing.T) {
	dir := t.TempDir()
	writeSource(t, dir, "main.go", `package main

import "os/exec"

func main() {
	exec.Command("ls").Run()
}
`)

	res, err := plugin.Scan(dir, nil, false)
	require.NoError(t, err)
	require.True(t, res.Passed)
	require.NotEmpty(t, res.Warnings)
}
