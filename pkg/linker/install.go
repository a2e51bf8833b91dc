package linker

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"envrec/pkg/lazyjson"
	"envrec/pkg/pkgcache"
	"envrec/pkg/rewrite"
)

// cwdMu serializes the working-directory changes symlink materialization
// performs, since a recorded symlink target may be a relative path.
var cwdMu sync.Mutex

// Install materializes rec's files into target, generates entry-point
// scripts for noarch: python packages, and persists the resulting
// conda-meta record.
func Install(rec pkgcache.PrefixRecord, cache *pkgcache.Cache, target Target) error {
	isNoArch := rec.NoArch == "python"
	if isNoArch && target.PythonVersion == "" {
		return fmt.Errorf("linking noarch python package %s-%s-%s requires a known python version", rec.Name, rec.Version, rec.Build)
	}

	var files []string
	for _, entry := range rec.PathsData.Paths {
		relTarget := targetRelPath(entry.Path, isNoArch, target.PythonVersion)
		if err := materialize(rec.ExtractedPackageDir, target.EnvDir, entry, relTarget); err != nil {
			return fmt.Errorf("linking %s: %w", entry.Path, err)
		}
		if entry.PathType != "directory" {
			files = append(files, relTarget)
		}
	}

	if isNoArch {
		eps, err := cache.GetEntryPoints(rec.Fn)
		if err != nil {
			return fmt.Errorf("reading entry points: %w", err)
		}
		generated, err := writeEntryPoints(target, eps)
		if err != nil {
			return err
		}
		files = append(files, generated...)
	}

	rec.Files = files
	rec.Link = pkgcache.LinkInfo{Source: rec.ExtractedPackageDir, Type: pkgcache.LinkTypeHardlink}
	return persistRecord(target.EnvDir, rec)
}

// targetRelPath applies the noarch: python site-packages relocation policy
// to a package-relative path.
func targetRelPath(relPath string, isNoArch bool, pythonVersion string) string {
	if isNoArch && strings.HasPrefix(relPath, "site-packages/") {
		rest := strings.TrimPrefix(relPath, "site-packages/")
		return filepath.Join("lib", "python"+pythonVersion, "site-packages", rest)
	}
	return relPath
}

// materialize creates one entry of a package's paths_data at targetRel
// inside envDir, sourced from extractedDir.
func materialize(extractedDir, envDir string, entry pkgcache.PathEntry, targetRel string) error {
	target := filepath.Join(envDir, targetRel)

	switch entry.PathType {
	case "directory":
		return os.MkdirAll(target, 0o755)

	case "softlink":
		source := filepath.Join(extractedDir, entry.Path)
		linkTarget, err := os.Readlink(source)
		if err != nil {
			return fmt.Errorf("reading symlink %s: %w", source, err)
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		os.Remove(target)
		return withCWD(filepath.Dir(target), func() error {
			return os.Symlink(linkTarget, filepath.Base(target))
		})

	case "hardlink", "":
		source := filepath.Join(extractedDir, entry.Path)
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		os.Remove(target)

		if entry.PrefixPlaceholder == "" {
			return os.Link(source, target)
		}

		fileMode := entry.FileMode
		if fileMode == "" {
			fileMode = "text"
		}
		return rewrite.File(source, target, fileMode, entry.PrefixPlaceholder, envDir)

	default:
		return fmt.Errorf("unknown path type %q", entry.PathType)
	}
}

// withCWD runs fn with the process working directory set to dir, restoring
// the original directory afterward. CWD changes are process-global, so
// callers of Install must not run two installs concurrently.
func withCWD(dir string, fn func() error) error {
	cwdMu.Lock()
	defer cwdMu.Unlock()

	old, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("getting working directory: %w", err)
	}
	if err := os.Chdir(dir); err != nil {
		return fmt.Errorf("changing to %s: %w", dir, err)
	}
	defer os.Chdir(old)

	return fn()
}

// parseEntryPoint splits a "cli = module:func" declaration.
func parseEntryPoint(decl string) (entryPoint, error) {
	parts := strings.SplitN(decl, "=", 2)
	if len(parts) != 2 {
		return entryPoint{}, fmt.Errorf("malformed entry point: %q", decl)
	}
	cli := strings.TrimSpace(parts[0])
	rest := strings.SplitN(strings.TrimSpace(parts[1]), ":", 2)
	if len(rest) != 2 {
		return entryPoint{}, fmt.Errorf("malformed entry point: %q", decl)
	}
	return entryPoint{CLI: cli, Module: strings.TrimSpace(rest[0]), Func: strings.TrimSpace(rest[1])}, nil
}

// writeEntryPoints generates one launcher script per declared entry point
// and returns their paths relative to envDir.
func writeEntryPoints(target Target, decls []string) ([]string, error) {
	var generated []string
	binDir := filepath.Join(target.EnvDir, "bin")
	if err := os.MkdirAll(binDir, 0o755); err != nil {
		return nil, err
	}

	for _, decl := range decls {
		ep, err := parseEntryPoint(decl)
		if err != nil {
			return nil, err
		}

		script := entryPointScript(target, ep)
		path := filepath.Join(binDir, ep.CLI)
		if err := os.WriteFile(path, []byte(script), 0o775); err != nil {
			return nil, fmt.Errorf("writing entry point %s: %w", ep.CLI, err)
		}
		if err := os.Chmod(path, 0o775); err != nil {
			return nil, fmt.Errorf("setting mode of entry point %s: %w", ep.CLI, err)
		}
		generated = append(generated, filepath.Join("bin", ep.CLI))
	}
	return generated, nil
}

func entryPointScript(target Target, ep entryPoint) string {
	interpreter := filepath.Join(target.EnvDir, "bin", "python"+target.PythonVersion)
	return fmt.Sprintf(`#!%s
# -*- coding: utf-8 -*-
import re
import sys
from %s import %s
if __name__ == '__main__':
    sys.argv[0] = re.sub(r'(-script\.pyw|\.exe)?$', '', sys.argv[0])
    sys.exit(%s())
`, interpreter, ep.Module, ep.Func, ep.Func)
}

// persistRecord writes rec into envDir's conda-meta directory, creating the
// directory on demand. It goes through a lazyjson.Manager rather than a bare
// marshal-and-write so the conda-meta file is replaced atomically, matching
// the package cache's own repodata_record.json handling.
func persistRecord(envDir string, rec pkgcache.PrefixRecord) error {
	path := condaMetaPath(envDir, rec)
	mgr := lazyjson.New[pkgcache.PrefixRecord](path, lazyjson.WithDefaultValue(func() *pkgcache.PrefixRecord { return &rec }))
	if err := mgr.Modify(func(r *pkgcache.PrefixRecord) error {
		*r = rec
		return nil
	}); err != nil {
		return fmt.Errorf("persisting prefix record: %w", err)
	}
	return mgr.Save()
}
