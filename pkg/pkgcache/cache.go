package pkgcache

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"envrec/pkg/archive"
	"envrec/pkg/cache"
	"envrec/pkg/channel"
	"envrec/pkg/lazyjson"
)

// Cache is the on-disk store of downloaded tarballs and their extracted
// package directories, rooted at the configured pkgs dir.
type Cache struct {
	pkgsDir string
}

// New creates a Cache rooted at pkgsDir.
func New(pkgsDir string) *Cache {
	return &Cache{pkgsDir: pkgsDir}
}

// TarballPath returns where a tarball is (or would be) stored.
func (c *Cache) TarballPath(tarball string) string {
	return filepath.Join(c.pkgsDir, tarball)
}

// ExtractedDir returns the directory a tarball is (or would be) extracted into.
func (c *Cache) ExtractedDir(tarball string) string {
	return filepath.Join(c.pkgsDir, strings.TrimSuffix(tarball, ".tar.bz2"))
}

// HasTarball reports whether the tarball is already cached.
func (c *Cache) HasTarball(tarball string) bool {
	_, err := os.Stat(c.TarballPath(tarball))
	return err == nil
}

// CreateTarball opens a destination for writing a tarball into the cache.
// The write lands in a temp file and is renamed into place on Close, so a
// partial download never shows up as a complete tarball.
func (c *Cache) CreateTarball(tarball string) (io.WriteCloser, error) {
	if err := os.MkdirAll(c.pkgsDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating pkgs dir: %w", err)
	}
	final := c.TarballPath(tarball)
	tmp := final + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return nil, fmt.Errorf("creating temp tarball: %w", err)
	}
	return &atomicFile{f: f, tmp: tmp, final: final}, nil
}

type atomicFile struct {
	f     *os.File
	tmp   string
	final string
}

func (a *atomicFile) Write(p []byte) (int, error) { return a.f.Write(p) }

func (a *atomicFile) Close() error {
	if err := a.f.Close(); err != nil {
		os.Remove(a.tmp)
		return err
	}
	if err := os.Rename(a.tmp, a.final); err != nil {
		os.Remove(a.tmp)
		return fmt.Errorf("renaming tarball into place: %w", err)
	}
	return nil
}

// HasExtracted reports whether a tarball has already been extracted and
// carries a repodata_record.json, conda's own marker of a complete extraction.
func (c *Cache) HasExtracted(tarball string) bool {
	_, err := os.Stat(filepath.Join(c.ExtractedDir(tarball), "info", "repodata_record.json"))
	return err == nil
}

// EnsureExtracted extracts pkg's tarball if it hasn't been already, then
// writes (or refreshes) its repodata_record.json. Extraction happens into a
// sibling temp directory and is renamed into place atomically.
func (c *Cache) EnsureExtracted(pkg channel.Package) error {
	if !c.HasTarball(pkg.Tarball) {
		return fmt.Errorf("tarball not cached: %s", pkg.Tarball)
	}

	dest := c.ExtractedDir(pkg.Tarball)
	if !c.HasExtracted(pkg.Tarball) {
		if err := cache.Ensure(dest, func() error {
			tmp := dest + ".tmp"
			if err := os.RemoveAll(tmp); err != nil {
				return err
			}
			if err := os.MkdirAll(tmp, 0o755); err != nil {
				return err
			}
			defer os.RemoveAll(tmp)

			if err := archive.ExtractTarBz2(c.TarballPath(pkg.Tarball), tmp); err != nil {
				return fmt.Errorf("extracting %s: %w", pkg.Tarball, err)
			}
			return os.Rename(tmp, dest)
		}); err != nil {
			return err
		}
	}

	return c.ensureRepodataRecord(pkg)
}

// ensureRepodataRecord writes a repodata_record.json synthesized from the
// channel's package data if the extracted package doesn't already carry one.
func (c *Cache) ensureRepodataRecord(pkg channel.Package) error {
	dest := c.ExtractedDir(pkg.Tarball)
	recordPath := filepath.Join(dest, "info", "repodata_record.json")
	if _, err := os.Stat(recordPath); err == nil {
		return nil
	}

	rec := PrefixRecord{
		PackageData:         pkg.PackageData,
		Channel:             pkg.Channel,
		URL:                 fmt.Sprintf("%s/%s", pkg.ChannelURL, pkg.Tarball),
		Fn:                  pkg.Tarball,
		ExtractedPackageDir: dest,
	}

	mgr := lazyjson.New[PrefixRecord](recordPath, lazyjson.WithDefaultValue(func() *PrefixRecord { return &rec }))
	if err := mgr.Modify(func(r *PrefixRecord) error {
		*r = rec
		return nil
	}); err != nil {
		return fmt.Errorf("encoding repodata_record.json: %w", err)
	}
	return mgr.Save()
}

// PackageData reads the synthesized repodata_record.json for an already
// extracted package.
func (c *Cache) PackageData(tarball string) (channel.PackageData, error) {
	var rec PrefixRecord
	path := filepath.Join(c.ExtractedDir(tarball), "info", "repodata_record.json")
	data, err := os.ReadFile(path)
	if err != nil {
		return channel.PackageData{}, fmt.Errorf("reading repodata_record.json: %w", err)
	}
	if err := json.Unmarshal(data, &rec); err != nil {
		return channel.PackageData{}, fmt.Errorf("parsing repodata_record.json: %w", err)
	}
	return rec.PackageData, nil
}

// PrefixRecord assembles the full installation descriptor for an extracted
// package: its repodata record, paths data, and a hardlink descriptor
// pointing at the extracted directory, ready for the linker to materialize.
func (c *Cache) PrefixRecord(tarball string) (PrefixRecord, error) {
	if !c.HasExtracted(tarball) {
		return PrefixRecord{}, fmt.Errorf("package not extracted: %s", tarball)
	}

	path := filepath.Join(c.ExtractedDir(tarball), "info", "repodata_record.json")
	data, err := os.ReadFile(path)
	if err != nil {
		return PrefixRecord{}, fmt.Errorf("reading repodata_record.json: %w", err)
	}
	var rec PrefixRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return PrefixRecord{}, fmt.Errorf("parsing repodata_record.json: %w", err)
	}

	pd, err := c.GetPathsData(tarball)
	if err != nil {
		return PrefixRecord{}, err
	}
	rec.PathsData = pd

	rec.Link = LinkInfo{Source: c.ExtractedDir(tarball), Type: LinkTypeHardlink}
	return rec, nil
}

// IsNoArchPython reports whether the extracted package's info/index.json
// marks it noarch: python, meaning its site-packages files need relocating
// under the target environment's versioned site-packages directory.
func (c *Cache) IsNoArchPython(tarball string) (bool, error) {
	path := filepath.Join(c.ExtractedDir(tarball), "info", "index.json")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("reading info/index.json: %w", err)
	}
	var idx struct {
		NoArch string `json:"noarch"`
	}
	if err := json.Unmarshal(data, &idx); err != nil {
		return false, fmt.Errorf("parsing info/index.json: %w", err)
	}
	return idx.NoArch == "python", nil
}
