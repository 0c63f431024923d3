//go:build !linux

package plugin

import (
	"fmt"
	"log/slog"
	"os"
	"os/exec"
)

// applyProcessSandbox only scrubs the environment on non-Linux
// platforms: there is no portable Pdeathsig/rlimit equivalent, so
// sandboxed plugins run without process-level hardening, and the host is
// expected to rely on its own process supervision for cleanup.
func applyProcessSandbox(cmd *exec.Cmd, pluginName string, manifestEnv map[string]string, maxMemoryMB int) {
	slog.Warn("process-level sandboxing unavailable on this platform", "plugin", pluginName)

	env := []string{"PATH=" + os.Getenv("PATH")}
	if maxMemoryMB > 0 {
		env = append(env, fmt.Sprintf("_SANDBOX_MAX_MEM_MB=%d", maxMemoryMB))
	}
	for k, v := range manifestEnv {
		env = append(env, k+"="+v)
	}
	cmd.Env = env
}
