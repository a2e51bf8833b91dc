package pkgcache

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// GetPathsData returns the extracted package's file manifest. Packages built
// with a modern conda-build carry info/paths.json directly; older packages
// carry only a flat info/files list, which is read as a fallback with no
// prefix-placeholder metadata (those packages predate binary relocation).
func (c *Cache) GetPathsData(tarball string) (PathsData, error) {
	infoDir := filepath.Join(c.ExtractedDir(tarball), "info")

	if data, err := os.ReadFile(filepath.Join(infoDir, "paths.json")); err == nil {
		var pd PathsData
		if err := json.Unmarshal(data, &pd); err != nil {
			return PathsData{}, fmt.Errorf("parsing info/paths.json: %w", err)
		}
		return pd, nil
	} else if !os.IsNotExist(err) {
		return PathsData{}, fmt.Errorf("reading info/paths.json: %w", err)
	}

	return c.legacyPathsFromFileList(infoDir)
}

func (c *Cache) legacyPathsFromFileList(infoDir string) (PathsData, error) {
	f, err := os.Open(filepath.Join(infoDir, "files"))
	if err != nil {
		if os.IsNotExist(err) {
			return PathsData{PathsVersion: 1}, nil
		}
		return PathsData{}, fmt.Errorf("reading info/files: %w", err)
	}
	defer f.Close()

	pd := PathsData{PathsVersion: 1}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		pd.Paths = append(pd.Paths, PathEntry{Path: line, PathType: "hardlink"})
	}
	if err := scanner.Err(); err != nil {
		return PathsData{}, fmt.Errorf("scanning info/files: %w", err)
	}
	return pd, nil
}

// GetEntryPoints returns the console-script entry points a noarch: python
// package declares, in "name = module:func" form, or nil if it declares none.
func (c *Cache) GetEntryPoints(tarball string) ([]string, error) {
	path := filepath.Join(c.ExtractedDir(tarball), "info", "link.json")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading info/link.json: %w", err)
	}

	var li noarchInfo
	if err := json.Unmarshal(data, &li); err != nil {
		return nil, fmt.Errorf("parsing info/link.json: %w", err)
	}
	return li.Noarch.EntryPoints, nil
}
