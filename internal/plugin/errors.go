package plugin

import (
	"errors"
	"fmt"
)

// Sentinel errors for the plugin host's error taxonomy. Callers should
// compare against these with errors.Is; *Error wraps them with plugin
// context via %w so that still works through fmt.Errorf chains.
var (
	ErrManifest          = errors.New("manifest error")
	ErrScanner           = errors.New("scanner error")
	ErrSignature         = errors.New("signature error")
	ErrDependency        = errors.New("dependency error")
	ErrPluginUnavailable = errors.New("plugin unavailable")
	ErrRateLimitExceeded = errors.New("rate limit exceeded")
	ErrCallTimeout       = errors.New("call timeout")
	ErrIPCProcessDead    = errors.New("ipc process dead")
	ErrFilesystemViolation = errors.New("filesystem violation")
	ErrDiskQuotaExceeded = errors.New("disk quota exceeded")
	ErrPlugin            = errors.New("plugin error")
)

// Error is the machine-readable wrapper surfaced by every operation in
// this package. Code identifies the taxonomy bucket (one of the
// sentinels above); Plugin names the plugin the error concerns, when
// known.
type Error struct {
	Code   error
	Plugin string
	Msg    string
	Err    error
}

func (e *Error) Error() string {
	if e.Plugin != "" {
		return fmt.Sprintf("%s: %s: %s", e.Code, e.Plugin, e.Msg)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Msg)
}

func (e *Error) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return e.Code
}

// Is reports whether target is e's Code, so errors.Is matches the
// sentinel even when Unwrap yields the underlying cause instead.
func (e *Error) Is(target error) bool {
	return target == e.Code
}

func newError(code error, plugin, msg string, cause error) *Error {
	return &Error{Code: code, Plugin: plugin, Msg: msg, Err: cause}
}
