// Package linker materializes an extracted package into a target environment
// prefix — hardlinks, symlinks, directories, rewritten text/binary files, and
// generated entry-point scripts — and persists the resulting PrefixRecord
// into the environment's conda-meta directory.
package linker

import (
	"path/filepath"

	"envrec/pkg/pkgcache"
)

// Target describes where and for which interpreter a package is being linked.
type Target struct {
	// EnvDir is the environment root, e.g. {root_prefix}/envs/{name}.
	EnvDir string
	// PythonVersion is the installed interpreter's "{major}.{minor}", used to
	// relocate noarch: python packages under lib/python{X.Y}/site-packages.
	// Empty if the environment has no python yet.
	PythonVersion string
}

// entryPoint is one parsed "cli = module:func" declaration from a noarch:
// python package's info/link.json.
type entryPoint struct {
	CLI    string
	Module string
	Func   string
}

// condaMetaPath returns the per-package metadata file path for a linked
// package record.
func condaMetaPath(envDir string, rec pkgcache.PrefixRecord) string {
	return filepath.Join(envDir, "conda-meta", rec.Name+"-"+rec.Version+"-"+rec.Build+".json")
}
