package plugin

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// debounceWindow absorbs the burst of write events a single file save
// triggers, matching the debounce pattern this codebase's hot-reload
// watcher has always used.
const debounceWindow = 500 * time.Millisecond

// Watch starts an fsnotify watcher over every loaded plugin's source
// directory. A content-hash snapshot is taken when Watch starts and compared
// against a fresh one after any filesystem event settles; only an
// actual content change (not just a touch) triggers Reload.
func (m *Manager) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return newError(ErrManifest, "", "creating fsnotify watcher", err)
	}

	snapshots := make(map[string]Snapshot)
	m.mu.RLock()
	for name, inst := range m.instances {
		if inst.manifest == nil {
			continue
		}
		if err := watcher.Add(inst.manifest.SourceDir); err != nil {
			slog.Warn("failed to watch plugin directory", "plugin", name, "error", err)
			continue
		}
		snap, err := TakeSnapshot(inst.manifest.SourceDir, nil)
		if err != nil {
			slog.Warn("failed to snapshot plugin directory", "plugin", name, "error", err)
			continue
		}
		snapshots[name] = snap
	}
	m.mu.RUnlock()

	go m.watchLoop(ctx, watcher, snapshots)
	return nil
}

func (m *Manager) watchLoop(ctx context.Context, watcher *fsnotify.Watcher, snapshots map[string]Snapshot) {
	defer watcher.Close()

	var mu sync.Mutex
	timers := make(map[string]*time.Timer)

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			name := m.pluginForPath(event.Name)
			if name == "" {
				continue
			}
			mu.Lock()
			if t, exists := timers[name]; exists {
				t.Stop()
			}
			timers[name] = time.AfterFunc(debounceWindow, func() {
				m.checkForChange(ctx, name, snapshots)
			})
			mu.Unlock()
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			slog.Error("plugin directory watcher error", "error", err)
		}
	}
}

func (m *Manager) pluginForPath(path string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for name, inst := range m.instances {
		if inst.manifest == nil {
			continue
		}
		if rel, err := filepath.Rel(inst.manifest.SourceDir, path); err == nil && filepath.IsLocal(rel) {
			return name
		}
	}
	return ""
}

func (m *Manager) checkForChange(ctx context.Context, name string, snapshots map[string]Snapshot) {
	m.mu.RLock()
	inst, ok := m.instances[name]
	m.mu.RUnlock()
	if !ok || inst.manifest == nil {
		return
	}

	fresh, err := TakeSnapshot(inst.manifest.SourceDir, nil)
	if err != nil {
		slog.Error("failed to re-snapshot plugin directory", "plugin", name, "error", err)
		return
	}
	diff := DiffSnapshots(snapshots[name], fresh)
	if !diff.HasChanged() {
		return
	}
	snapshots[name] = fresh

	slog.Info("plugin source changed, reloading", "plugin", name)
	if err := m.Reload(ctx, name); err != nil {
		slog.Error("hot reload failed", "plugin", name, "error", err)
	}
}
