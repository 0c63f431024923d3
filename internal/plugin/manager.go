// Package plugin is the plugin runtime host: manifest loading and
// validation, static scanning, signature verification, trusted and
// sandboxed execution, and the PluginManager orchestrator that ties
// them together behind one call API.
package plugin

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/goatkit/pluginhost/internal/plugin/hookbus"
	pkgplugin "github.com/goatkit/pluginhost/pkg/plugin"
)

// runner is what both TrustedRunner and SandboxSupervisor implement,
// letting Manager dispatch through one interface regardless of
// execution mode.
type runner interface {
	Call(ctx context.Context, action string, payload map[string]any) (map[string]any, error)
}

// InstanceState mirrors the lifecycle states a loaded plugin can be in
// from the manager's point of view.
type InstanceState string

const (
	InstanceLoading InstanceState = "loading"
	InstanceActive  InstanceState = "active"
	InstanceFailed  InstanceState = "failed"
	InstanceUnloaded InstanceState = "unloaded"
)

type instance struct {
	manifest    *pkgplugin.Manifest
	state       InstanceState
	runner      runner
	trusted     *TrustedRunner
	sandboxed   *SandboxSupervisor
	rateLimiter *RateLimiter
	failReason  string
}

// Status is the exported read model for a loaded plugin.
type Status struct {
	Name          string
	Version       string
	ExecutionMode string
	State         InstanceState
	FailReason    string
	Permissions   []string
}

// Manager loads, supervises and dispatches calls to every plugin under
// a HostConfig's PluginsDir.
type Manager struct {
	cfg      pkgplugin.HostConfig
	services pkgplugin.Services
	bus      *hookbus.Bus

	mu        sync.RWMutex
	instances map[string]*instance
	loadOrder []string // dependency-wave load order, flattened; reversed for Shutdown
}

// NewManager builds a Manager over cfg. services is the opaque map of
// host collaborators; the manager stores it without interpreting it and
// does not pass it to any plugin.
func NewManager(cfg pkgplugin.HostConfig, services pkgplugin.Services) *Manager {
	return &Manager{
		cfg:       cfg.WithDefaults(),
		services:  services,
		bus:       hookbus.New(),
		instances: make(map[string]*instance),
	}
}

// Bus returns the manager's hook event bus.
func (m *Manager) Bus() *hookbus.Bus {
	return m.bus
}

// LoadAll discovers every plugin.yaml under cfg.PluginsDir, computes
// dependency waves, and loads each wave in turn so a plugin's
// dependencies are always active before it is.
func (m *Manager) LoadAll(ctx context.Context) error {
	dirs, err := discoverPluginDirs(m.cfg.PluginsDir)
	if err != nil {
		return newError(ErrManifest, "", "discovering plugins", err)
	}

	var manifests []*pkgplugin.Manifest
	for _, dir := range dirs {
		mf, err := LoadManifest(dir, m.cfg.FrameworkVersion, m.cfg.EnvView)
		if err != nil {
			slog.Error("skipping plugin with invalid manifest", "dir", dir, "error", err)
			continue
		}
		manifests = append(manifests, mf)
	}

	waves, failed := Waves(manifests)
	for name, err := range failed {
		slog.Error("plugin dependency resolution failed", "plugin", name, "error", err)
		m.mu.Lock()
		m.instances[name] = &instance{state: InstanceFailed, failReason: err.Error()}
		m.mu.Unlock()
	}

	for _, wave := range waves {
		var wg sync.WaitGroup
		for _, mf := range wave {
			wg.Add(1)
			go func(mf *pkgplugin.Manifest) {
				defer wg.Done()
				for _, dep := range mf.Requires {
					m.mu.RLock()
					depInst, ok := m.instances[dep]
					active := ok && depInst.state == InstanceActive
					m.mu.RUnlock()
					if !active {
						err := newError(ErrDependency, mf.Name, "depends on failed plugin "+dep, nil)
						m.mu.Lock()
						m.instances[mf.Name] = &instance{manifest: mf, state: InstanceFailed, failReason: err.Error()}
						m.mu.Unlock()
						slog.Error("plugin load skipped", "plugin", mf.Name, "error", err)
						return
					}
				}
				if err := m.loadOne(ctx, mf); err != nil {
					slog.Error("plugin load failed", "plugin", mf.Name, "error", err)
				}
			}(mf)
		}
		wg.Wait()

		m.mu.Lock()
		for _, mf := range wave {
			m.loadOrder = append(m.loadOrder, mf.Name)
		}
		m.mu.Unlock()
	}

	return nil
}

func (m *Manager) loadOne(ctx context.Context, mf *pkgplugin.Manifest) error {
	m.mu.Lock()
	m.instances[mf.Name] = &instance{manifest: mf, state: InstanceLoading}
	m.mu.Unlock()

	fail := func(err error) error {
		m.mu.Lock()
		m.instances[mf.Name] = &instance{manifest: mf, state: InstanceFailed, failReason: err.Error()}
		m.mu.Unlock()
		return err
	}

	blocking := mf.ExecutionMode == pkgplugin.ExecutionModeSandboxed
	scanResult, err := Scan(mf.SourceDir, mf.Whitelist, blocking)
	if err != nil {
		return fail(err)
	}
	for _, w := range scanResult.Warnings {
		slog.Warn("plugin scan warning", "plugin", mf.Name, "warning", w)
	}
	if !scanResult.Passed {
		return fail(newError(ErrScanner, mf.Name, "scan failed", nil))
	}

	if m.cfg.RequireSignatures {
		if err := Verify(mf.SourceDir, m.cfg.SigningSecret); err != nil {
			return fail(err)
		}
	}

	inst := &instance{
		manifest:    mf,
		state:       InstanceLoading,
		rateLimiter: NewRateLimiter(mf.Resources.RateLimit.Calls, time.Duration(mf.Resources.RateLimit.PeriodSeconds)*time.Second),
	}

	if mf.ExecutionMode != pkgplugin.ExecutionModeSandboxed {
		// trusted and legacy plugins both run in-process via TrustedRunner.
		tr, err := NewTrustedRunner(mf)
		if err != nil {
			return fail(err)
		}
		if err := tr.Load(ctx); err != nil {
			return fail(err)
		}
		inst.trusted = tr
		inst.runner = tr
	} else {
		sup := NewSandboxSupervisor(mf)
		if err := sup.Start(ctx); err != nil {
			return fail(err)
		}
		inst.sandboxed = sup
		inst.runner = sup
	}

	inst.state = InstanceActive
	m.mu.Lock()
	m.instances[mf.Name] = inst
	m.mu.Unlock()

	m.bus.Emit(ctx, "plugin.loaded", map[string]any{"name": mf.Name})
	return nil
}

// Call dispatches action/payload to a loaded, active plugin, enforcing
// its rate limit and retrying transient IPC failures with backoff.
func (m *Manager) Call(ctx context.Context, name, action string, payload map[string]any) (map[string]any, error) {
	m.mu.RLock()
	inst, ok := m.instances[name]
	m.mu.RUnlock()
	if !ok || inst.state != InstanceActive {
		return nil, newError(ErrPluginUnavailable, name, "plugin is not active", nil)
	}

	if allowed, _ := inst.rateLimiter.Check(); !allowed {
		return nil, newError(ErrRateLimitExceeded, name, "rate limit exceeded", nil)
	}

	var lastErr error
	attempts := inst.manifest.Runtime.Retry.MaxAttempts
	backoff := time.Duration(inst.manifest.Runtime.Retry.BackoffSeconds * float64(time.Second))
	for attempt := 0; attempt < attempts; attempt++ {
		out, err := inst.runner.Call(ctx, action, payload)
		if err == nil {
			return out, nil
		}
		lastErr = err
		if !isTransient(err) {
			return nil, err
		}
		if attempt < attempts-1 {
			time.Sleep(backoff * time.Duration(1<<attempt))
		}
	}
	return nil, lastErr
}

func isTransient(err error) bool {
	return isErrCode(err, ErrIPCProcessDead) || isErrCode(err, ErrCallTimeout)
}

func isErrCode(err error, code error) bool {
	var pe *Error
	for err != nil {
		if e, ok := err.(*Error); ok {
			pe = e
			break
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	return pe != nil && pe.Code == code
}

// Unload stops a plugin instance and marks it unloaded.
func (m *Manager) Unload(ctx context.Context, name string) error {
	m.mu.Lock()
	inst, ok := m.instances[name]
	m.mu.Unlock()
	if !ok {
		return newError(ErrPluginUnavailable, name, "plugin not loaded", nil)
	}

	var err error
	switch {
	case inst.trusted != nil:
		err = inst.trusted.Unload(ctx)
	case inst.sandboxed != nil:
		err = inst.sandboxed.Stop(ctx)
	}

	m.mu.Lock()
	inst.state = InstanceUnloaded
	m.mu.Unlock()

	m.bus.Emit(ctx, "plugin.unloaded", map[string]any{"name": name})
	return err
}

// Reload always performs a full Unload followed by Load: a compiled
// target has no module cache to surgically evict, so partial reload
// isn't a meaningful distinction here.
func (m *Manager) Reload(ctx context.Context, name string) error {
	m.mu.RLock()
	inst, ok := m.instances[name]
	m.mu.RUnlock()
	if !ok {
		return newError(ErrPluginUnavailable, name, "plugin not loaded", nil)
	}
	mf := inst.manifest

	if err := m.Unload(ctx, name); err != nil {
		return err
	}
	fresh, err := LoadManifest(mf.SourceDir, m.cfg.FrameworkVersion, m.cfg.EnvView)
	if err != nil {
		return err
	}
	if err := m.loadOne(ctx, fresh); err != nil {
		return err
	}
	m.bus.Emit(ctx, "plugin.reloaded", map[string]any{"name": name})
	return nil
}

// Shutdown unloads every active plugin in reverse load order (so a
// plugin is always unloaded before anything it depends on), giving
// each up to cfg.ShutdownGrace before moving on.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.RLock()
	seen := make(map[string]bool, len(m.loadOrder))
	names := make([]string, 0, len(m.instances))
	for i := len(m.loadOrder) - 1; i >= 0; i-- {
		name := m.loadOrder[i]
		if seen[name] {
			continue
		}
		seen[name] = true
		if inst, ok := m.instances[name]; ok && inst.state == InstanceActive {
			names = append(names, name)
		}
	}
	// plugins loaded outside LoadAll's wave ordering (e.g. hot-added
	// after startup) have no recorded position; unload them last.
	for name, inst := range m.instances {
		if !seen[name] && inst.state == InstanceActive {
			names = append(names, name)
		}
	}
	m.mu.RUnlock()

	var errs []error
	for _, name := range names {
		shutdownCtx, cancel := context.WithTimeout(ctx, m.cfg.ShutdownGrace)
		if err := m.Unload(shutdownCtx, name); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
		cancel()
	}
	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	return nil
}

// Status reports every known plugin's current state.
func (m *Manager) Status() []Status {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Status, 0, len(m.instances))
	for name, inst := range m.instances {
		s := Status{Name: name, State: inst.state, FailReason: inst.failReason}
		if inst.manifest != nil {
			s.Version = inst.manifest.Version
			s.ExecutionMode = inst.manifest.ExecutionMode
			s.Permissions = inst.manifest.Permissions
		}
		out = append(out, s)
	}
	return out
}
