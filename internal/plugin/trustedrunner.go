package plugin

import (
	"context"
	"path/filepath"
	"strings"
	"time"

	"github.com/goatkit/pluginhost/internal/plugin/registry"
	pkgplugin "github.com/goatkit/pluginhost/pkg/plugin"
)

// TrustedRunner hosts a plugin compiled into this binary and registered
// under its manifest name via registry.Register.
type TrustedRunner struct {
	manifest *pkgplugin.Manifest
	instance pkgplugin.Plugin
}

// NewTrustedRunner looks manifest.Name up in the registry and
// constructs a fresh instance.
func NewTrustedRunner(manifest *pkgplugin.Manifest) (*TrustedRunner, error) {
	factory, ok := registry.Lookup(manifest.Name)
	if !ok {
		return nil, newError(ErrPluginUnavailable, manifest.Name, "no trusted plugin registered under this name", nil)
	}
	return &TrustedRunner{manifest: manifest, instance: factory()}, nil
}

// Load runs OnLoad if the instance implements Lifecycle.
func (r *TrustedRunner) Load(ctx context.Context) error {
	if lc, ok := r.instance.(pkgplugin.Lifecycle); ok {
		if err := lc.OnLoad(ctx); err != nil {
			return newError(ErrPlugin, r.manifest.Name, "OnLoad failed", err)
		}
	}
	return nil
}

// Unload runs OnUnload if the instance implements Lifecycle.
func (r *TrustedRunner) Unload(ctx context.Context) error {
	if lc, ok := r.instance.(pkgplugin.Lifecycle); ok {
		if err := lc.OnUnload(ctx); err != nil {
			return newError(ErrPlugin, r.manifest.Name, "OnUnload failed", err)
		}
	}
	return nil
}

// Reload runs OnReload if the instance implements Lifecycle.
func (r *TrustedRunner) Reload(ctx context.Context) error {
	if lc, ok := r.instance.(pkgplugin.Lifecycle); ok {
		if err := lc.OnReload(ctx); err != nil {
			return newError(ErrPlugin, r.manifest.Name, "OnReload failed", err)
		}
	}
	return nil
}

// CheckPath enforces the manifest's filesystem.allowed_paths /
// denied_paths against a path a trusted plugin wants to touch.
func (r *TrustedRunner) CheckPath(path string) error {
	clean := filepath.Clean(path)
	for _, denied := range r.manifest.Filesystem.DeniedPaths {
		if withinPath(clean, denied) {
			return newError(ErrFilesystemViolation, r.manifest.Name, "path is denied: "+path, nil)
		}
	}
	if len(r.manifest.Filesystem.AllowedPaths) == 0 {
		return nil
	}
	for _, allowed := range r.manifest.Filesystem.AllowedPaths {
		if withinPath(clean, allowed) {
			return nil
		}
	}
	return newError(ErrFilesystemViolation, r.manifest.Name, "path is not in allowed_paths: "+path, nil)
}

func withinPath(path, root string) bool {
	cleanRoot := filepath.Clean(root)
	if path == cleanRoot {
		return true
	}
	return strings.HasPrefix(path, cleanRoot+string(filepath.Separator))
}

// Call invokes the plugin's Handle within the manifest's timeout.
func (r *TrustedRunner) Call(ctx context.Context, action string, payload map[string]any) (map[string]any, error) {
	timeout := time.Duration(r.manifest.Resources.TimeoutSeconds) * time.Second
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		out map[string]any
		err error
	}
	done := make(chan result, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				done <- result{err: newError(ErrPlugin, r.manifest.Name, "panic in Handle", nil)}
			}
		}()
		out, err := r.instance.Handle(ctx, action, payload)
		done <- result{out: out, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, newError(ErrCallTimeout, r.manifest.Name, "call timed out", ctx.Err())
	case res := <-done:
		if res.err != nil {
			return nil, newError(ErrPlugin, r.manifest.Name, "Handle returned an error", res.err)
		}
		return res.out, nil
	}
}
