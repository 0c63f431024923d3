package plugin

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/Masterminds/semver/v3"
	"gopkg.in/yaml.v3"

	pkgplugin "github.com/goatkit/pluginhost/pkg/plugin"
)

var nameRe = regexp.MustCompile(`^[a-z][a-z0-9_-]*$`)

var envVarRe = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// LoadManifest reads and fully validates plugin.yaml from dir, applying
// mode-dependent resource defaults and ${VAR} substitution against env.
// env defaults to the process environment when nil.
func LoadManifest(dir string, frameworkVersion string, env map[string]string) (*pkgplugin.Manifest, error) {
	path := filepath.Join(dir, "plugin.yaml")
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, newError(ErrManifest, "", fmt.Sprintf("reading %s", path), err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	var m pkgplugin.Manifest
	if err := dec.Decode(&m); err != nil {
		return nil, newError(ErrManifest, "", "decoding plugin.yaml", err)
	}

	var doc map[string]any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, newError(ErrManifest, m.Name, "re-parsing plugin.yaml for schema check", err)
	}
	if msgs, err := validateSchema(doc); err != nil {
		return nil, newError(ErrManifest, m.Name, "running schema validation", err)
	} else if len(msgs) > 0 {
		return nil, newError(ErrManifest, m.Name, "schema validation failed: "+strings.Join(msgs, "; "), nil)
	}

	m.SourceDir = dir

	if err := validateSemantics(&m, frameworkVersion); err != nil {
		return nil, err
	}

	applyDefaults(&m)

	if err := substituteEnv(&m, env); err != nil {
		return nil, err
	}

	return &m, nil
}

func validateSemantics(m *pkgplugin.Manifest, frameworkVersion string) error {
	if !nameRe.MatchString(m.Name) {
		return newError(ErrManifest, m.Name, "name must match "+nameRe.String(), nil)
	}
	if _, err := semver.NewVersion(m.Version); err != nil {
		return newError(ErrManifest, m.Name, "invalid semver version", err)
	}
	switch m.ExecutionMode {
	case pkgplugin.ExecutionModeTrusted, pkgplugin.ExecutionModeSandboxed, pkgplugin.ExecutionModeLegacy:
	default:
		return newError(ErrManifest, m.Name, "execution_mode must be trusted, sandboxed or legacy", nil)
	}

	constraint, err := semver.NewConstraint(m.FrameworkVersion)
	if err != nil {
		return newError(ErrManifest, m.Name, "invalid framework_version constraint", err)
	}
	hostVer, err := semver.NewVersion(frameworkVersion)
	if err != nil {
		return newError(ErrManifest, m.Name, "host framework version is not valid semver", err)
	}
	if !constraint.Check(hostVer) {
		return newError(ErrManifest, m.Name,
			fmt.Sprintf("framework_version %q does not admit host version %s", m.FrameworkVersion, frameworkVersion), nil)
	}

	if m.EntryPoint == "" {
		return newError(ErrManifest, m.Name, "entry_point is required", nil)
	}
	entryAbs := filepath.Join(m.SourceDir, m.EntryPoint)
	rel, err := filepath.Rel(m.SourceDir, entryAbs)
	if err != nil || strings.HasPrefix(rel, "..") {
		return newError(ErrManifest, m.Name, "entry_point escapes plugin directory", nil)
	}
	if _, err := os.Stat(entryAbs); err != nil {
		return newError(ErrManifest, m.Name, "entry_point does not exist: "+m.EntryPoint, err)
	}

	for _, p := range append(append([]string{}, m.Filesystem.AllowedPaths...), m.Filesystem.DeniedPaths...) {
		if filepath.IsAbs(p) {
			continue
		}
		if strings.Contains(p, "..") {
			return newError(ErrManifest, m.Name, "filesystem path must not contain '..': "+p, nil)
		}
	}

	return nil
}

func applyDefaults(m *pkgplugin.Manifest) {
	var d pkgplugin.ResourceLimits
	if m.ExecutionMode == pkgplugin.ExecutionModeSandboxed {
		d = pkgplugin.SandboxedDefaults()
	} else {
		// legacy plugins run the trusted path (in-process, no IPC sandbox).
		d = pkgplugin.TrustedDefaults()
	}
	if m.Resources.TimeoutSeconds == 0 {
		m.Resources.TimeoutSeconds = d.TimeoutSeconds
	}
	if m.Resources.MaxMemoryMB == 0 {
		m.Resources.MaxMemoryMB = d.MaxMemoryMB
	}
	if m.Resources.MaxDiskMB == 0 {
		m.Resources.MaxDiskMB = d.MaxDiskMB
	}
	if m.Resources.RateLimit.Calls == 0 {
		m.Resources.RateLimit = d.RateLimit
	}
	if m.Runtime.Retry.MaxAttempts == 0 {
		m.Runtime.Retry.MaxAttempts = 1
	}
	if m.Runtime.Retry.BackoffSeconds == 0 {
		m.Runtime.Retry.BackoffSeconds = 0.5
	}
	if m.Runtime.HealthCheck.IntervalSeconds == 0 {
		m.Runtime.HealthCheck.IntervalSeconds = 30
	}
	if m.Runtime.HealthCheck.TimeoutSeconds == 0 {
		m.Runtime.HealthCheck.TimeoutSeconds = 5
	}
	if m.Runtime.LogLevel == "" {
		m.Runtime.LogLevel = "info"
	}
}

func substituteEnv(m *pkgplugin.Manifest, view map[string]string) error {
	if view == nil {
		view = envToMap(os.Environ())
	}
	for k, v := range m.Env {
		resolved, err := substituteOne(v, view)
		if err != nil {
			return newError(ErrManifest, m.Name, fmt.Sprintf("env %q: %v", k, err), err)
		}
		m.Env[k] = resolved
	}
	return nil
}

func substituteOne(v string, view map[string]string) (string, error) {
	var missing []string
	out := envVarRe.ReplaceAllStringFunc(v, func(match string) string {
		name := envVarRe.FindStringSubmatch(match)[1]
		if val, ok := view[name]; ok {
			return val
		}
		missing = append(missing, name)
		return match
	})
	if len(missing) > 0 {
		return "", fmt.Errorf("unresolved variables: %s", strings.Join(missing, ", "))
	}
	return out, nil
}

func envToMap(environ []string) map[string]string {
	m := make(map[string]string, len(environ))
	for _, kv := range environ {
		if i := strings.IndexByte(kv, '='); i >= 0 {
			m[kv[:i]] = kv[i+1:]
		}
	}
	return m
}
