package plugin

// Manifest is the parsed, validated form of a plugin's plugin.yaml.
type Manifest struct {
	Name             string            `yaml:"name"                        json:"name"`
	Version          string            `yaml:"version"                     json:"version"`
	Author           string            `yaml:"author,omitempty"            json:"author,omitempty"`
	Description      string            `yaml:"description,omitempty"       json:"description,omitempty"`
	ExecutionMode    string            `yaml:"execution_mode"               json:"execution_mode"` // "trusted", "sandboxed" or "legacy"
	FrameworkVersion string            `yaml:"framework_version"            json:"framework_version"`
	EntryPoint       string            `yaml:"entry_point"                  json:"entry_point"`
	Requires         []string          `yaml:"requires,omitempty"           json:"requires,omitempty"`
	Resources        ResourceLimits    `yaml:"resources,omitempty"          json:"resources,omitempty"`
	Runtime          RuntimeConfig     `yaml:"runtime,omitempty"            json:"runtime,omitempty"`
	Filesystem       FilesystemConfig  `yaml:"filesystem,omitempty"         json:"filesystem,omitempty"`
	Permissions      []string          `yaml:"permissions,omitempty"        json:"permissions,omitempty"`
	Env              map[string]string `yaml:"env,omitempty"                json:"env,omitempty"`
	Whitelist        []string          `yaml:"whitelist,omitempty"          json:"whitelist,omitempty"`

	// SourceDir is not part of the on-disk document; it is set by the
	// loader to the directory the manifest was read from, so later
	// stages (scanner, signer, snapshot) know where to look.
	SourceDir string `yaml:"-" json:"-"`
}

// ResourceLimits bounds what a plugin instance may consume.
type ResourceLimits struct {
	TimeoutSeconds int            `yaml:"timeout_seconds,omitempty"  json:"timeout_seconds,omitempty"`
	MaxMemoryMB    int            `yaml:"max_memory_mb,omitempty"    json:"max_memory_mb,omitempty"`
	MaxDiskMB      int            `yaml:"max_disk_mb,omitempty"      json:"max_disk_mb,omitempty"`
	RateLimit      RateLimitLimit `yaml:"rate_limit,omitempty"       json:"rate_limit,omitempty"`
}

// RateLimitLimit is how many calls a plugin may make in a trailing window.
type RateLimitLimit struct {
	Calls         int `yaml:"calls,omitempty"          json:"calls,omitempty"`
	PeriodSeconds int `yaml:"period_seconds,omitempty" json:"period_seconds,omitempty"`
}

// RuntimeConfig configures logging, health checks and call retries
// for a loaded plugin instance.
type RuntimeConfig struct {
	LogLevel    string            `yaml:"log_level,omitempty"    json:"log_level,omitempty"`
	HealthCheck HealthCheckConfig `yaml:"health_check,omitempty" json:"health_check,omitempty"`
	Retry       RetryConfig       `yaml:"retry,omitempty"        json:"retry,omitempty"`
}

// HealthCheckConfig controls supervisor health pings for sandboxed plugins.
type HealthCheckConfig struct {
	Enabled         bool `yaml:"enabled,omitempty"          json:"enabled,omitempty"`
	IntervalSeconds int  `yaml:"interval_seconds,omitempty" json:"interval_seconds,omitempty"`
	TimeoutSeconds  int  `yaml:"timeout_seconds,omitempty"  json:"timeout_seconds,omitempty"`
}

// RetryConfig controls a call's automatic retry on transient failure.
type RetryConfig struct {
	MaxAttempts    int     `yaml:"max_attempts,omitempty"    json:"max_attempts,omitempty"`
	BackoffSeconds float64 `yaml:"backoff_seconds,omitempty" json:"backoff_seconds,omitempty"`
}

// FilesystemConfig restricts the paths a trusted plugin's CheckPath calls
// permit.
type FilesystemConfig struct {
	AllowedPaths []string `yaml:"allowed_paths,omitempty" json:"allowed_paths,omitempty"`
	DeniedPaths  []string `yaml:"denied_paths,omitempty"  json:"denied_paths,omitempty"`
}

const (
	ExecutionModeTrusted   = "trusted"
	ExecutionModeSandboxed = "sandboxed"
	// ExecutionModeLegacy marks a manifest predating the trusted/sandboxed
	// split. It is loaded and dispatched the same way as a trusted plugin.
	ExecutionModeLegacy = "legacy"
)

// TrustedDefaults returns the resource defaults applied to a trusted
// manifest that doesn't set its own values.
func TrustedDefaults() ResourceLimits {
	return ResourceLimits{
		TimeoutSeconds: 30,
		MaxMemoryMB:    0,
		MaxDiskMB:      0,
		RateLimit:      RateLimitLimit{Calls: 1000, PeriodSeconds: 60},
	}
}

// SandboxedDefaults returns the resource defaults applied to a sandboxed
// manifest that doesn't set its own values.
func SandboxedDefaults() ResourceLimits {
	return ResourceLimits{
		TimeoutSeconds: 10,
		MaxMemoryMB:    128,
		MaxDiskMB:      50,
		RateLimit:      RateLimitLimit{Calls: 100, PeriodSeconds: 60},
	}
}
