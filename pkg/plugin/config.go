package plugin

import "time"

// HostConfig is the explicit, constructor-injected configuration for a
// Manager. There is no process-wide singleton; callers build one
// (typically from Viper in cmd/pluginhostctl) and pass it to NewManager.
type HostConfig struct {
	// PluginsDir is the root directory scanned for plugin subdirectories,
	// each containing a plugin.yaml and its source/binary.
	PluginsDir string

	// FrameworkVersion is compared against each manifest's
	// framework_version constraint.
	FrameworkVersion string

	// RequireSignatures, when true, rejects any plugin lacking a valid
	// plugin.sig sidecar.
	RequireSignatures bool

	// SigningSecret is the HMAC-SHA256 key used to sign and verify
	// plugin.sig sidecars. Required when RequireSignatures is true.
	SigningSecret []byte

	// EnvView seeds ${VAR} substitution in manifest env blocks. Defaults
	// to the process environment when nil.
	EnvView map[string]string

	// ShutdownGrace bounds how long Manager.Shutdown waits for
	// in-flight calls before forcing plugins down.
	ShutdownGrace time.Duration
}

// WithDefaults fills unset fields with sane defaults.
func (c HostConfig) WithDefaults() HostConfig {
	if c.ShutdownGrace == 0 {
		c.ShutdownGrace = 5 * time.Second
	}
	return c
}
