// Package hostconfig loads pkg/plugin.HostConfig from a config file and
// environment, the way this codebase's other services layer viper over
// a config struct.
package hostconfig

import (
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	pkgplugin "github.com/goatkit/pluginhost/pkg/plugin"
)

// Load reads hostPath (if it exists) and PLUGINHOST_-prefixed environment
// variables into a HostConfig.
func Load(hostPath string) (pkgplugin.HostConfig, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("PLUGINHOST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("plugins_dir", "./plugins")
	v.SetDefault("framework_version", "1.0.0")
	v.SetDefault("require_signatures", false)
	v.SetDefault("shutdown_grace", "5s")

	if hostPath != "" {
		v.SetConfigFile(hostPath)
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !os.IsNotExist(err) {
				return pkgplugin.HostConfig{}, fmt.Errorf("reading host config %s: %w", hostPath, err)
			}
		}
	}

	grace, err := time.ParseDuration(v.GetString("shutdown_grace"))
	if err != nil {
		return pkgplugin.HostConfig{}, fmt.Errorf("parsing shutdown_grace: %w", err)
	}

	var secret []byte
	if hex := v.GetString("signing_secret_hex"); hex != "" {
		secret, err = decodeSecret(hex)
		if err != nil {
			return pkgplugin.HostConfig{}, err
		}
	}

	cfg := pkgplugin.HostConfig{
		PluginsDir:        v.GetString("plugins_dir"),
		FrameworkVersion:  v.GetString("framework_version"),
		RequireSignatures: v.GetBool("require_signatures"),
		SigningSecret:     secret,
		EnvView:           envToMap(os.Environ()),
		ShutdownGrace:     grace,
	}
	return cfg.WithDefaults(), nil
}

func decodeSecret(s string) ([]byte, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("signing_secret_hex is not valid hex: %w", err)
	}
	return b, nil
}

func envToMap(environ []string) map[string]string {
	out := make(map[string]string, len(environ))
	for _, kv := range environ {
		if i := strings.IndexByte(kv, '='); i >= 0 {
			out[kv[:i]] = kv[i+1:]
		}
	}
	return out
}
