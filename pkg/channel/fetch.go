package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"envrec/pkg/archive"
	"envrec/pkg/cache"
	"envrec/pkg/display"
	"envrec/pkg/platform"

	"github.com/PuerkitoBio/goquery"
	"github.com/google/uuid"
)

const repodataTTL = time.Hour

// tarballPattern extracts name/version/build from a conda tarball filename,
// used to synthesize repodata when a channel offers only a directory
// listing (the HTML discovery fallback) instead of repodata.json.
var tarballPattern = regexp.MustCompile(`^(?P<name>.+)-(?P<version>[^-]+)-(?P<build>[^-]+)\.tar\.bz2$`)

// EnsureChannels loads the repodata for every (channel, subdir) pair into the
// index, reusing a cached copy younger than an hour and fetching otherwise.
func (idx *Index) EnsureChannels(ctx context.Context, channels []string, disp display.Display) error {
	for _, ch := range channels {
		for _, subdir := range idx.cfg.GetSubdirs() {
			if err := idx.ensureOne(ctx, ch, subdir, disp); err != nil {
				return fmt.Errorf("channel %s/%s: %w", ch, subdir, err)
			}
		}
	}
	return nil
}

// UpdateIndexes force-refreshes the repodata for every (channel, subdir)
// pair, bypassing the cache TTL.
func (idx *Index) UpdateIndexes(ctx context.Context, channels []string, disp display.Display) error {
	refreshID := uuid.New()
	for _, ch := range channels {
		for _, subdir := range idx.cfg.GetSubdirs() {
			disp.Log(fmt.Sprintf("refresh %s: fetching %s/%s", refreshID, ch, subdir))
			if err := idx.fetchAndStore(ctx, ch, subdir, disp); err != nil {
				return fmt.Errorf("channel %s/%s: %w", ch, subdir, err)
			}
		}
	}
	return nil
}

func (idx *Index) ensureOne(ctx context.Context, ch string, subdir platform.Subdir, disp display.Display) error {
	cachePath := idx.repodataCachePath(ch, subdir)
	err := cache.EnsureWithTTL(cachePath, repodataTTL, func() error {
		return idx.fetchAndStore(ctx, ch, subdir, disp)
	})
	if err != nil {
		return err
	}
	return idx.loadFromCache(ch, subdir, cachePath)
}

// repodataCachePath returns the bit-exact flat cache path
// {root_prefix}/pkgs/cache/{channel-with-slash-as-underscore}_{subdir}
// that a real conda expects (§4.3, §6).
func (idx *Index) repodataCachePath(ch string, subdir platform.Subdir) string {
	safeName := strings.NewReplacer("/", "_", ":", "_").Replace(ch)
	return filepath.Join(idx.cfg.GetRepodataCacheDir(), safeName+"_"+string(subdir))
}

func (idx *Index) loadFromCache(ch string, subdir platform.Subdir, cachePath string) error {
	raw, err := os.ReadFile(cachePath)
	if err != nil {
		return fmt.Errorf("reading cached repodata: %w", err)
	}
	var rd repodata
	if err := json.Unmarshal(raw, &rd); err != nil {
		return fmt.Errorf("parsing cached repodata: %w", err)
	}
	idx.setSubdir(ch, subdir, subdirIndex(rd.Packages))
	return nil
}

// fetchAndStore downloads and caches the repodata for one channel/subdir,
// preferring the zstd-compressed form and falling back to plain JSON, and
// finally to an HTML directory listing when neither repodata file exists.
func (idx *Index) fetchAndStore(ctx context.Context, ch string, subdir platform.Subdir, disp display.Display) error {
	base := idx.channelURL(ch, subdir)
	task := disp.StartTask(fmt.Sprintf("repodata %s/%s", ch, subdir))
	defer task.Done()

	rd, err := idx.downloadRepodataZst(ctx, base, task)
	if err != nil {
		rd, err = idx.downloadRepodataJSON(ctx, base, task)
	}
	if err != nil {
		rd, err = idx.discoverHTML(ctx, base, string(subdir), task)
	}
	if err != nil {
		return err
	}

	canonical, err := json.MarshalIndent(rd, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding repodata: %w", err)
	}
	cachePath := idx.repodataCachePath(ch, subdir)
	if err := os.MkdirAll(filepath.Dir(cachePath), 0o755); err != nil {
		return fmt.Errorf("creating repodata cache dir: %w", err)
	}
	if err := os.WriteFile(cachePath, canonical, 0o644); err != nil {
		return fmt.Errorf("writing repodata cache: %w", err)
	}

	idx.setSubdir(ch, subdir, subdirIndex(rd.Packages))
	return nil
}

func (idx *Index) downloadRepodataZst(ctx context.Context, base string, task display.Task) (repodata, error) {
	var buf bytes.Buffer
	if err := idx.dl.Download(ctx, base+"/repodata.json.zst", &buf, task); err != nil {
		return repodata{}, err
	}
	zr, err := archive.DecompressZst(&buf)
	if err != nil {
		return repodata{}, err
	}
	defer zr.Close()

	var rd repodata
	if err := json.NewDecoder(zr).Decode(&rd); err != nil {
		return repodata{}, fmt.Errorf("decoding repodata.json.zst: %w", err)
	}
	return rd, nil
}

func (idx *Index) downloadRepodataJSON(ctx context.Context, base string, task display.Task) (repodata, error) {
	var buf bytes.Buffer
	if err := idx.dl.Download(ctx, base+"/repodata.json", &buf, task); err != nil {
		return repodata{}, err
	}
	var rd repodata
	if err := json.Unmarshal(buf.Bytes(), &rd); err != nil {
		return repodata{}, fmt.Errorf("decoding repodata.json: %w", err)
	}
	return rd, nil
}

// discoverHTML parses an Apache/nginx-style autoindex page, synthesizing
// repodata from the tarball filenames it links to. It is the last resort
// for channels that publish no repodata.json at all.
func (idx *Index) discoverHTML(ctx context.Context, base, subdir string, task display.Task) (repodata, error) {
	var buf bytes.Buffer
	if err := idx.dl.Download(ctx, base+"/", &buf, task); err != nil {
		return repodata{}, fmt.Errorf("no repodata and no directory listing at %s: %w", base, err)
	}

	doc, err := goquery.NewDocumentFromReader(&buf)
	if err != nil {
		return repodata{}, fmt.Errorf("parsing directory listing: %w", err)
	}

	rd := repodata{Info: repodataInfo{Subdir: subdir}, Packages: make(map[string]PackageData)}
	doc.Find("a").Each(func(_ int, a *goquery.Selection) {
		href, ok := a.Attr("href")
		if !ok {
			return
		}
		name := filepath.Base(href)
		m := tarballPattern.FindStringSubmatch(name)
		if m == nil {
			return
		}
		rd.Packages[name] = PackageData{
			Name:    m[1],
			Version: m[2],
			Build:   m[3],
			Subdir:  subdir,
		}
	})
	return rd, nil
}

// Download fetches a package's tarball into the cache, unless it is already
// present.
func (idx *Index) Download(ctx context.Context, pkg Package, task display.Task) error {
	if idx.store.HasTarball(pkg.Tarball) {
		return nil
	}

	task.SetStage("download", pkg.Tarball)
	w, err := idx.store.CreateTarball(pkg.Tarball)
	if err != nil {
		return fmt.Errorf("creating tarball destination for %s: %w", pkg.Tarball, err)
	}
	defer w.Close()

	uri := fmt.Sprintf("%s/%s", pkg.ChannelURL, pkg.Tarball)
	if err := idx.dl.Download(ctx, uri, w, task); err != nil {
		return fmt.Errorf("downloading %s: %w", pkg.Tarball, err)
	}
	return nil
}
