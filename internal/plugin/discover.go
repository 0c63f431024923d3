package plugin

import (
	"os"
	"path/filepath"
)

// discoverPluginDirs finds every immediate subdirectory of root
// containing a plugin.yaml, mirroring the directory-walk discovery
// shape this codebase has used for plugin loading elsewhere.
func discoverPluginDirs(root string) ([]string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var dirs []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		candidate := filepath.Join(root, e.Name())
		if _, err := os.Stat(filepath.Join(candidate, "plugin.yaml")); err == nil {
			dirs = append(dirs, candidate)
		}
	}
	return dirs, nil
}
