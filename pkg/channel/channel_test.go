package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"

	"envrec/pkg/config"
	"envrec/pkg/display"

	"github.com/klauspost/compress/zstd"
)

type fakeDownloader struct {
	// responses maps an exact URI to the bytes it should serve.
	responses map[string][]byte
}

func (f *fakeDownloader) Download(_ context.Context, uri string, w io.Writer, _ display.Task) error {
	b, ok := f.responses[uri]
	if !ok {
		return errors.New("404: " + uri)
	}
	_, err := w.Write(b)
	return err
}

type fakeStore struct {
	written map[string][]byte
}

func (s *fakeStore) HasTarball(tarball string) bool {
	_, ok := s.written[tarball]
	return ok
}

type fakeWriteCloser struct {
	*bytes.Buffer
	store   *fakeStore
	tarball string
}

func (w *fakeWriteCloser) Close() error {
	w.store.written[w.tarball] = w.Buffer.Bytes()
	return nil
}

func (s *fakeStore) CreateTarball(tarball string) (io.WriteCloser, error) {
	return &fakeWriteCloser{Buffer: &bytes.Buffer{}, store: s, tarball: tarball}, nil
}

func testConfig(t *testing.T) config.Config {
	t.Helper()
	t.Setenv("ENVREC_ROOT_PREFIX", t.TempDir())
	cfg, err := config.Init()
	if err != nil {
		t.Fatalf("config.Init: %v", err)
	}
	return cfg
}

func zstEncode(t *testing.T, v any) []byte {
	t.Helper()
	raw, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		t.Fatalf("zstd writer: %v", err)
	}
	return enc.EncodeAll(raw, nil)
}

func TestEnsureChannelsAndGetViaZst(t *testing.T) {
	cfg := testConfig(t)
	subdir := cfg.GetSubdir()

	rd := repodata{
		Info: repodataInfo{Subdir: string(subdir)},
		Packages: map[string]PackageData{
			"numpy-1.18.1-py37h7241aed_0.tar.bz2": {Name: "numpy", Version: "1.18.1", Build: "py37h7241aed_0"},
		},
	}

	base := cfg.GetChannelAlias() + "/defaults/" + string(subdir)
	dl := &fakeDownloader{responses: map[string][]byte{
		base + "/repodata.json.zst":                                  zstEncode(t, rd),
		cfg.GetChannelAlias() + "/defaults/noarch/repodata.json.zst": zstEncode(t, repodata{Info: repodataInfo{Subdir: "noarch"}}),
	}}
	store := &fakeStore{written: make(map[string][]byte)}

	idx := New(cfg, dl, store)
	disp := display.NewWriterDisplay(io.Discard)
	if err := idx.EnsureChannels(context.Background(), []string{"defaults"}, disp); err != nil {
		t.Fatalf("EnsureChannels: %v", err)
	}

	pkg, ok := idx.Get("numpy", "1.18.1", "py37h7241aed_0", []string{"defaults"})
	if !ok {
		t.Fatalf("expected to resolve numpy")
	}
	if pkg.Tarball != "numpy-1.18.1-py37h7241aed_0.tar.bz2" {
		t.Errorf("unexpected tarball: %s", pkg.Tarball)
	}
	if pkg.ChannelURL != base {
		t.Errorf("unexpected channel URL: %s", pkg.ChannelURL)
	}
}

func TestGetHonorsChannelPreferenceOrder(t *testing.T) {
	cfg := testConfig(t)
	subdir := cfg.GetSubdir()

	idx := New(cfg, &fakeDownloader{responses: map[string][]byte{}}, &fakeStore{written: make(map[string][]byte)})
	idx.setSubdir("conda-forge", subdir, subdirIndex{
		"xz-5.2.5-h1de35cc_0.tar.bz2": {Name: "xz", Version: "5.2.5", Build: "h1de35cc_0"},
	})
	idx.setSubdir("defaults", subdir, subdirIndex{
		"xz-5.2.5-h1de35cc_0.tar.bz2": {Name: "xz", Version: "5.2.5", Build: "h1de35cc_0"},
	})

	pkg, ok := idx.Get("xz", "5.2.5", "h1de35cc_0", []string{"conda-forge", "defaults"})
	if !ok {
		t.Fatalf("expected match")
	}
	if pkg.Channel != "conda-forge" {
		t.Errorf("expected conda-forge to win preference order, got %s", pkg.Channel)
	}

	pkg, ok = idx.Get("xz", "5.2.5", "h1de35cc_0", []string{"defaults", "conda-forge"})
	if !ok {
		t.Fatalf("expected match")
	}
	if pkg.Channel != "defaults" {
		t.Errorf("expected defaults to win when listed first, got %s", pkg.Channel)
	}
}

func TestDiscoverHTMLFallback(t *testing.T) {
	cfg := testConfig(t)
	subdir := cfg.GetSubdir()
	base := cfg.GetChannelAlias() + "/mirror/" + string(subdir)

	page := `<html><body>
<a href="six-1.16.0-py_0.tar.bz2">six-1.16.0-py_0.tar.bz2</a>
<a href="../">parent</a>
</body></html>`

	dl := &fakeDownloader{responses: map[string][]byte{
		base + "/": []byte(page),
		cfg.GetChannelAlias() + "/mirror/noarch/": []byte("<html><body></body></html>"),
	}}
	store := &fakeStore{written: make(map[string][]byte)}
	idx := New(cfg, dl, store)

	disp := display.NewWriterDisplay(io.Discard)
	if err := idx.EnsureChannels(context.Background(), []string{"mirror"}, disp); err != nil {
		t.Fatalf("EnsureChannels: %v", err)
	}

	pkg, ok := idx.Get("six", "1.16.0", "py_0", []string{"mirror"})
	if !ok {
		t.Fatalf("expected six to be discovered from HTML listing")
	}
	if pkg.Name != "six" {
		t.Errorf("unexpected package: %+v", pkg)
	}
}

func TestDownloadSkipsExistingTarball(t *testing.T) {
	cfg := testConfig(t)
	store := &fakeStore{written: map[string][]byte{"a-1-0.tar.bz2": []byte("cached")}}
	idx := New(cfg, &fakeDownloader{responses: map[string][]byte{}}, store)

	pkg := Package{PackageData: PackageData{Name: "a"}, ChannelURL: "https://example.test", Tarball: "a-1-0.tar.bz2"}
	disp := display.NewWriterDisplay(io.Discard)
	task := disp.StartTask("download")
	if err := idx.Download(context.Background(), pkg, task); err != nil {
		t.Fatalf("Download: %v", err)
	}
	if string(store.written["a-1-0.tar.bz2"]) != "cached" {
		t.Errorf("expected cached content to remain untouched")
	}
}

func TestDownloadFetchesMissingTarball(t *testing.T) {
	cfg := testConfig(t)
	store := &fakeStore{written: make(map[string][]byte)}
	dl := &fakeDownloader{responses: map[string][]byte{
		"https://example.test/a-1-0.tar.bz2": []byte("tarball-bytes"),
	}}
	idx := New(cfg, dl, store)

	pkg := Package{PackageData: PackageData{Name: "a"}, ChannelURL: "https://example.test", Tarball: "a-1-0.tar.bz2"}
	disp := display.NewWriterDisplay(io.Discard)
	task := disp.StartTask("download")
	if err := idx.Download(context.Background(), pkg, task); err != nil {
		t.Fatalf("Download: %v", err)
	}
	if string(store.written["a-1-0.tar.bz2"]) != "tarball-bytes" {
		t.Errorf("unexpected tarball content: %q", store.written["a-1-0.tar.bz2"])
	}
}
