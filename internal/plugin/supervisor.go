package plugin

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os/exec"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/goatkit/pluginhost/internal/plugin/ipc"
	pkgplugin "github.com/goatkit/pluginhost/pkg/plugin"
)

// SupervisorState is the sandboxed plugin instance lifecycle.
type SupervisorState string

const (
	StateStopped  SupervisorState = "stopped"
	StateStarting SupervisorState = "starting"
	StateRunning  SupervisorState = "running"
	StateDegraded SupervisorState = "degraded"
	StateCrashed  SupervisorState = "crashed"
)

var restartBackoffs = []time.Duration{
	500 * time.Millisecond, 1 * time.Second, 2 * time.Second, 4 * time.Second,
}

const (
	maxRestartsPerWindow = 5
	restartWindow        = 60 * time.Second
)

// SandboxSupervisor owns a sandboxed plugin's subprocess: starting it,
// health-checking it, restarting it with backoff on crash, and
// dispatching calls over its IPC channel.
type SandboxSupervisor struct {
	manifest *pkgplugin.Manifest
	disk     *DiskWatcher

	mu           sync.Mutex
	state        SupervisorState
	channel      *ipc.Channel
	restartTimes []time.Time
	healthStop   chan struct{}
	healthWG     sync.WaitGroup
}

// NewSandboxSupervisor builds a supervisor for manifest, not yet started.
func NewSandboxSupervisor(manifest *pkgplugin.Manifest) *SandboxSupervisor {
	disk := NewDiskWatcher(manifest.SourceDir, manifest.Resources.MaxDiskMB, nil)
	return &SandboxSupervisor{manifest: manifest, disk: disk, state: StateStopped}
}

// Start spawns the plugin's worker process and, when health checks are
// enabled, begins periodic health pings. It does not wait for an initial
// ping: the supervisor is running as soon as the process has started.
func (s *SandboxSupervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	s.state = StateStarting
	s.mu.Unlock()

	ch, err := s.spawn()
	if err != nil {
		s.mu.Lock()
		s.state = StateCrashed
		s.mu.Unlock()
		return newError(ErrIPCProcessDead, s.manifest.Name, "spawning worker", err)
	}

	s.mu.Lock()
	s.channel = ch
	s.state = StateRunning
	s.mu.Unlock()

	if s.manifest.Runtime.HealthCheck.Enabled {
		s.healthStop = make(chan struct{})
		s.healthWG.Add(1)
		go s.healthLoop()
	}

	return nil
}

func (s *SandboxSupervisor) spawn() (*ipc.Channel, error) {
	cmd := exec.Command(s.manifest.EntryPoint)
	cmd.Dir = s.manifest.SourceDir
	applyProcessSandbox(cmd, s.manifest.Name, s.manifest.Env, s.manifest.Resources.MaxMemoryMB)
	return ipc.Start(cmd)
}

func (s *SandboxSupervisor) healthLoop() {
	defer s.healthWG.Done()
	interval := time.Duration(s.manifest.Runtime.HealthCheck.IntervalSeconds) * time.Second
	timeout := time.Duration(s.manifest.Runtime.HealthCheck.TimeoutSeconds) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.healthStop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			_, err := s.channel.Call(ctx, ipc.Request{ID: uuid.NewString(), Action: "_ping"})
			cancel()
			if err != nil {
				slog.Warn("plugin health check failed", "plugin", s.manifest.Name, "error", err)
				s.handleCrash()
				return
			}
		}
	}
}

func (s *SandboxSupervisor) handleCrash() {
	s.mu.Lock()
	s.state = StateCrashed
	s.mu.Unlock()

	if !s.recordRestartAttempt() {
		slog.Error("plugin exceeded restart ceiling, giving up", "plugin", s.manifest.Name)
		s.mu.Lock()
		s.state = StateDegraded
		s.mu.Unlock()
		return
	}

	attempt := len(s.restartTimes) - 1
	if attempt >= len(restartBackoffs) {
		attempt = len(restartBackoffs) - 1
	}
	time.Sleep(restartBackoffs[attempt])

	if err := s.Start(context.Background()); err != nil {
		slog.Error("plugin restart failed", "plugin", s.manifest.Name, "error", err)
	}
}

// recordRestartAttempt prunes restart timestamps outside restartWindow
// and reports whether another restart is allowed under
// maxRestartsPerWindow.
func (s *SandboxSupervisor) recordRestartAttempt() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-restartWindow)
	valid := 0
	for _, t := range s.restartTimes {
		if t.After(cutoff) {
			s.restartTimes[valid] = t
			valid++
		}
	}
	s.restartTimes = s.restartTimes[:valid]

	if len(s.restartTimes) >= maxRestartsPerWindow {
		return false
	}
	s.restartTimes = append(s.restartTimes, now)
	return true
}

// Call dispatches action/payload to the running worker over its IPC
// channel within the manifest's call timeout.
func (s *SandboxSupervisor) Call(ctx context.Context, action string, payload map[string]any) (map[string]any, error) {
	s.mu.Lock()
	ch := s.channel
	state := s.state
	s.mu.Unlock()

	if state != StateRunning || ch == nil {
		return nil, newError(ErrPluginUnavailable, s.manifest.Name, "supervisor is not running", nil)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, newError(ErrPlugin, s.manifest.Name, "marshaling payload", err)
	}

	if s.disk != nil {
		if err := s.disk.CheckWrite(int64(len(body))); err != nil {
			return nil, err
		}
	}

	timeout := time.Duration(s.manifest.Resources.TimeoutSeconds) * time.Second
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resp, err := ch.Call(callCtx, ipc.Request{ID: uuid.NewString(), Action: action, Payload: body})
	if err != nil {
		if errors.Is(err, ipc.ErrTimeout) {
			return nil, newError(ErrCallTimeout, s.manifest.Name, "call timed out", err)
		}
		go s.handleCrash()
		return nil, newError(ErrIPCProcessDead, s.manifest.Name, "ipc call failed", err)
	}
	if resp.Error != "" {
		return nil, newError(ErrPlugin, s.manifest.Name, resp.Error, nil)
	}

	var out map[string]any
	if len(resp.Result) > 0 {
		if err := json.Unmarshal(resp.Result, &out); err != nil {
			return nil, newError(ErrPlugin, s.manifest.Name, "decoding result", err)
		}
	}
	return out, nil
}

// Stop stops health checking and asks the worker to shut down, killing
// it if it has not answered "_shutdown" within a 3s grace period (or
// before ctx ends).
func (s *SandboxSupervisor) Stop(ctx context.Context) error {
	s.mu.Lock()
	ch := s.channel
	stop := s.healthStop
	s.state = StateStopped
	s.mu.Unlock()

	if stop != nil {
		close(stop)
		s.healthWG.Wait()
	}

	if ch == nil {
		return nil
	}
	graceCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if _, err := ch.Call(graceCtx, ipc.Request{ID: uuid.NewString(), Action: "_shutdown"}); err != nil {
		_ = ch.Kill()
	}
	return ch.Close()
}

// State reports the current lifecycle state.
func (s *SandboxSupervisor) State() SupervisorState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}
