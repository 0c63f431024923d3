package plugin

import (
	"io/fs"
	"path/filepath"

	"github.com/bmatcuk/doublestar/v4"
)

// defaultIgnorePatterns are always skipped when measuring disk usage or
// building a snapshot, regardless of a plugin's own ignore list.
var defaultIgnorePatterns = []string{
	".git/**",
	"**/.DS_Store",
	"**/*.tmp",
}

// DiskWatcher accounts for the bytes a plugin's data directory
// consumes and rejects writes that would push it over quota.
type DiskWatcher struct {
	dir     string
	quotaMB int
	ignore  []string
}

// NewDiskWatcher builds a watcher over dir enforcing quotaMB (0 =
// unlimited). ignore is a list of doublestar glob patterns, relative to
// dir, additional to defaultIgnorePatterns.
func NewDiskWatcher(dir string, quotaMB int, ignore []string) *DiskWatcher {
	return &DiskWatcher{dir: dir, quotaMB: quotaMB, ignore: append(append([]string{}, defaultIgnorePatterns...), ignore...)}
}

// Usage walks dir and sums the size of every non-ignored file.
func (w *DiskWatcher) Usage() (int64, error) {
	var total int64
	err := filepath.WalkDir(w.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, relErr := filepath.Rel(w.dir, path)
		if relErr != nil {
			return relErr
		}
		if w.isIgnored(rel) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		total += info.Size()
		return nil
	})
	if err != nil {
		return 0, newError(ErrDiskQuotaExceeded, "", "measuring disk usage", err)
	}
	return total, nil
}

// CheckWrite reports whether writing estimatedBytes more would exceed
// the quota, without performing the write.
func (w *DiskWatcher) CheckWrite(estimatedBytes int64) error {
	if w.quotaMB <= 0 {
		return nil
	}
	used, err := w.Usage()
	if err != nil {
		return err
	}
	quota := int64(w.quotaMB) * 1024 * 1024
	if used+estimatedBytes > quota {
		return newError(ErrDiskQuotaExceeded, "",
			"write would exceed disk quota", nil)
	}
	return nil
}

func (w *DiskWatcher) isIgnored(rel string) bool {
	for _, pattern := range w.ignore {
		if ok, _ := doublestar.Match(pattern, rel); ok {
			return true
		}
	}
	return false
}
