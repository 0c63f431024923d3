package plugin

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/bmatcuk/doublestar/v4"
)

// Snapshot maps a file's path, relative to the scanned root, to the hex
// SHA-256 hash of its contents.
type Snapshot map[string]string

// TakeSnapshot walks dir and hashes every file not matched by an ignore
// pattern (doublestar globs, same matching rules as DiskWatcher).
func TakeSnapshot(dir string, ignore []string) (Snapshot, error) {
	patterns := append(append([]string{}, defaultIgnorePatterns...), ignore...)
	snap := make(Snapshot)

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		for _, pattern := range patterns {
			if ok, _ := doublestar.Match(pattern, rel); ok {
				return nil
			}
		}
		hash, err := hashFile(path)
		if err != nil {
			return err
		}
		snap[rel] = hash
		return nil
	})
	if err != nil {
		return nil, newError(ErrScanner, "", "taking snapshot of "+dir, err)
	}
	return snap, nil
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Diff describes what changed between two snapshots of the same plugin.
type Diff struct {
	Added    []string
	Removed  []string
	Modified []string
}

// DiffSnapshots compares old and new, reporting added/removed/modified
// paths.
func DiffSnapshots(old, new Snapshot) Diff {
	var d Diff
	for path, hash := range new {
		oldHash, existed := old[path]
		if !existed {
			d.Added = append(d.Added, path)
		} else if oldHash != hash {
			d.Modified = append(d.Modified, path)
		}
	}
	for path := range old {
		if _, stillThere := new[path]; !stillThere {
			d.Removed = append(d.Removed, path)
		}
	}
	return d
}

// HasChanged reports whether d represents any change at all.
func (d Diff) HasChanged() bool {
	return len(d.Added) > 0 || len(d.Removed) > 0 || len(d.Modified) > 0
}
