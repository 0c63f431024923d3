//go:build linux

package worker

import (
	"log/slog"
	"os"
	"strconv"
	"syscall"
)

// applyMemoryLimit reads _SANDBOX_MAX_MEM_MB (set by the supervisor
// when it spawns this process) and applies it as RLIMIT_AS, so an
// over-budget allocation fails instead of pressuring the host.
func applyMemoryLimit() {
	raw := os.Getenv("_SANDBOX_MAX_MEM_MB")
	if raw == "" {
		return
	}
	mb, err := strconv.Atoi(raw)
	if err != nil || mb <= 0 {
		return
	}
	limit := uint64(mb) * 1024 * 1024
	rlimit := syscall.Rlimit{Cur: limit, Max: limit}
	if err := syscall.Setrlimit(syscall.RLIMIT_AS, &rlimit); err != nil {
		slog.Warn("failed to apply memory rlimit", "error", err)
	}
}
