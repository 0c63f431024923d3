//go:build !linux

package worker

// applyMemoryLimit is a no-op off Linux: RLIMIT_AS has no portable
// equivalent exposed by the Go runtime on other platforms.
func applyMemoryLimit() {}
