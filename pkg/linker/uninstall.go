package linker

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"envrec/pkg/pkgcache"
)

// ErrNoArchPythonUninstall is returned by Uninstall for a noarch: python
// record: its files were tracked by the language-layer installer, which must
// remove them (pip uninstall), not the linker.
var ErrNoArchPythonUninstall = errors.New("noarch python package must be uninstalled via the language-layer installer")

// LoadRecord reads a package's persisted conda-meta record.
func LoadRecord(envDir, name, version, build string) (pkgcache.PrefixRecord, error) {
	path := filepath.Join(envDir, "conda-meta", name+"-"+version+"-"+build+".json")
	data, err := os.ReadFile(path)
	if err != nil {
		return pkgcache.PrefixRecord{}, fmt.Errorf("reading conda-meta record: %w", err)
	}
	var rec pkgcache.PrefixRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return pkgcache.PrefixRecord{}, fmt.Errorf("parsing conda-meta record: %w", err)
	}
	return rec, nil
}

// Uninstall removes every file rec's record names from envDir, then removes
// the conda-meta record itself. Empty parent directories left behind by a
// removed file are pruned.
func Uninstall(envDir string, rec pkgcache.PrefixRecord) error {
	if rec.NoArch == "python" {
		return ErrNoArchPythonUninstall
	}

	for _, rel := range rec.Files {
		path := filepath.Join(envDir, rel)
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("removing %s: %w", rel, err)
		}
		pruneEmptyDirs(filepath.Dir(path), envDir)
	}

	return os.Remove(condaMetaPath(envDir, rec))
}

// pruneEmptyDirs removes dir and its ancestors, stopping at root or at the
// first non-empty directory.
func pruneEmptyDirs(dir, root string) {
	root = filepath.Clean(root)
	for {
		dir = filepath.Clean(dir)
		if dir == root || len(dir) <= len(root) {
			return
		}
		entries, err := os.ReadDir(dir)
		if err != nil || len(entries) > 0 {
			return
		}
		if err := os.Remove(dir); err != nil {
			return
		}
		dir = filepath.Dir(dir)
	}
}
