package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"

	"envrec/pkg/channel"
	"envrec/pkg/config"
	"envrec/pkg/diff"
	"envrec/pkg/display"
	"envrec/pkg/pkgcache"
	"envrec/pkg/spec"

	"github.com/klauspost/compress/zstd"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	t.Setenv("ENVREC_ROOT_PREFIX", t.TempDir())
	cfg, err := config.Init()
	if err != nil {
		t.Fatalf("config.Init: %v", err)
	}
	return cfg
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

// seedNativePackage stages a pre-extracted, pre-recorded package directly in
// the cache (rather than round-tripping through a real bzip2 tarball, which
// the standard library can't produce) and returns its channel.Package for
// buildIndex to encode and serve as fake repodata.
func seedNativePackage(t *testing.T, cache *pkgcache.Cache, channelURL string, pd channel.PackageData, files map[string]string) channel.Package {
	t.Helper()
	tarball := fmt.Sprintf("%s-%s-%s.tar.bz2", pd.Name, pd.Version, pd.Build)
	extracted := cache.ExtractedDir(tarball)

	var paths []pkgcache.PathEntry
	for rel, content := range files {
		writeFile(t, filepath.Join(extracted, rel), content)
		paths = append(paths, pkgcache.PathEntry{Path: rel, PathType: "hardlink", FileMode: "text"})
	}
	pathsData := pkgcache.PathsData{PathsVersion: 1, Paths: paths}
	pathsJSON, err := json.Marshal(pathsData)
	if err != nil {
		t.Fatalf("marshal paths.json: %v", err)
	}
	writeFile(t, filepath.Join(extracted, "info", "paths.json"), string(pathsJSON))
	writeFile(t, filepath.Join(extracted, "info", "index.json"), fmt.Sprintf(`{"name":%q,"version":%q,"noarch":%q}`, pd.Name, pd.Version, pd.NoArch))

	rec := pkgcache.PrefixRecord{
		PackageData:         pd,
		Channel:             "defaults",
		URL:                 channelURL + "/" + tarball,
		Fn:                  tarball,
		ExtractedPackageDir: extracted,
	}
	recJSON, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		t.Fatalf("marshal repodata_record.json: %v", err)
	}
	writeFile(t, filepath.Join(extracted, "info", "repodata_record.json"), string(recJSON))

	writeFile(t, cache.TarballPath(tarball), "fake-tarball-bytes")

	return channel.Package{PackageData: pd, Channel: "defaults", ChannelURL: channelURL, Tarball: tarball}
}

type fakeDownloader struct {
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

func zstEncode(t *testing.T, packages map[string]channel.PackageData) []byte {
	t.Helper()
	raw, err := json.Marshal(struct {
		Packages map[string]channel.PackageData `json:"packages"`
	}{Packages: packages})
	if err != nil {
		t.Fatalf("marshal repodata: %v", err)
	}
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		t.Fatalf("zstd writer: %v", err)
	}
	return enc.EncodeAll(raw, nil)
}

// buildIndex ensures a channel index that resolves every seeded package
// against a fake downloader serving zstd-compressed repodata for the
// platform subdir, and empty repodata for noarch.
func buildIndex(t *testing.T, cfg config.Config, cache *pkgcache.Cache, pkgs ...channel.Package) *channel.Index {
	t.Helper()
	subdir := cfg.GetSubdir()
	packages := make(map[string]channel.PackageData, len(pkgs))
	for _, pkg := range pkgs {
		packages[pkg.Tarball] = pkg.PackageData
	}

	base := cfg.GetChannelAlias() + "/defaults/" + string(subdir)
	noarchBase := cfg.GetChannelAlias() + "/defaults/noarch"
	dl := &fakeDownloader{responses: map[string][]byte{
		base + "/repodata.json.zst":       zstEncode(t, packages),
		noarchBase + "/repodata.json.zst": zstEncode(t, map[string]channel.PackageData{}),
	}}

	idx := channel.New(cfg, dl, cache)
	if err := idx.EnsureChannels(context.Background(), []string{"defaults"}, display.NewWriterDisplay(io.Discard)); err != nil {
		t.Fatalf("EnsureChannels: %v", err)
	}
	return idx
}

// fakeNativePM records its calls and never exists, so EnsureEnv always
// creates fresh and InstallPip just records that it ran.
type fakeNativePM struct {
	ensureEnvCalls  []string
	installPipCalls []string
}

func (f *fakeNativePM) ListRecipe(context.Context, string) (*spec.Recipe, error) {
	return spec.New(), nil
}

func (f *fakeNativePM) EnsureEnv(_ context.Context, envName string, _ bool) error {
	f.ensureEnvCalls = append(f.ensureEnvCalls, envName)
	return nil
}

func (f *fakeNativePM) InstallPip(_ context.Context, envName string) error {
	f.installPipCalls = append(f.installPipCalls, envName)
	return nil
}

// writeFakePip installs a fake pip script into envDir/bin so installLanguage
// and updateLanguage's real subprocess calls have something to run. It logs
// every install/uninstall to logPath and, for names listed in failFirstNames,
// fails the first invocation with a transient-looking error before succeeding.
func writeFakePip(t *testing.T, envDir, logPath string, failFirstNames ...string) {
	t.Helper()
	failSet := ""
	for _, n := range failFirstNames {
		failSet += n + " "
	}
	script := fmt.Sprintf(`#!/bin/sh
set -e
cmd="$1"
shift
log="%s"
countdir="%s.counts"
mkdir -p "$countdir"
case "$cmd" in
  install)
    pkgspec="$2"
    name="${pkgspec%%==*}"
    ;;
  uninstall)
    shift
    name="$1"
    ;;
esac
for flaky in %s; do
  if [ "$flaky" = "$name" ]; then
    n=0
    if [ -f "$countdir/$name" ]; then n=$(cat "$countdir/$name"); fi
    n=$((n + 1))
    echo "$n" > "$countdir/$name"
    if [ "$n" -lt 2 ]; then
      echo "transient network hiccup for $name" 1>&2
      exit 1
    fi
  fi
done
echo "$cmd $name" >> "$log"
exit 0
`, logPath, logPath, failSet)
	writeFile(t, filepath.Join(envDir, "bin", "pip"), script)
	if err := os.Chmod(filepath.Join(envDir, "bin", "pip"), 0o755); err != nil {
		t.Fatalf("chmod fake pip: %v", err)
	}
}

func readLog(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return ""
		}
		t.Fatalf("reading log: %v", err)
	}
	return string(data)
}

func TestRunInstallsNativeAndLanguageAdds(t *testing.T) {
	cfg := testConfig(t)
	cache := pkgcache.New(cfg.GetPkgsDir())

	pythonPkg := seedNativePackage(t, cache, cfg.GetChannelAlias()+"/defaults/"+string(cfg.GetSubdir()),
		channel.PackageData{Name: "python", Version: "3.10.4", Build: "h12debd9_0"},
		map[string]string{"bin/python3.10": "#!/bin/sh\necho python\n"})
	numpyPkg := seedNativePackage(t, cache, cfg.GetChannelAlias()+"/defaults/"+string(cfg.GetSubdir()),
		channel.PackageData{Name: "numpy", Version: "1.22.3", Build: "py310h99"},
		map[string]string{"lib/numpy.py": "# numpy"})

	idx := buildIndex(t, cfg, cache, pythonPkg, numpyPkg)

	envName := "demo"
	envDir := cfg.GetEnvDir(envName)
	logPath := filepath.Join(t.TempDir(), "pip.log")
	writeFakePip(t, envDir, logPath)

	nativePM := &fakeNativePM{}
	r := &Reconciler{
		Config:   cfg,
		Index:    idx,
		Cache:    cache,
		NativePM: nativePM,
		Display:  display.NewWriterDisplay(io.Discard),
	}

	plan := diff.Plan{
		Native: diff.SubDiff{
			Adds: []spec.Spec{
				{Name: "python", Version: "3.10.4", Build: "h12debd9_0", Channel: "defaults"},
				{Name: "numpy", Version: "1.22.3", Build: "py310h99", Channel: "defaults"},
			},
		},
		Language: diff.SubDiff{
			Adds: []spec.Spec{
				{Name: "flask", Version: "2.1.2", Channel: "pypi"},
			},
		},
	}

	if err := r.Run(context.Background(), envName, plan, []string{"defaults"}, false); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(nativePM.ensureEnvCalls) != 1 || nativePM.ensureEnvCalls[0] != envName {
		t.Errorf("expected EnsureEnv called once for %s, got %v", envName, nativePM.ensureEnvCalls)
	}

	for _, dist := range []string{"python-3.10.4-h12debd9_0.json", "numpy-1.22.3-py310h99.json"} {
		if _, err := os.Stat(filepath.Join(envDir, "conda-meta", dist)); err != nil {
			t.Errorf("expected conda-meta record %s: %v", dist, err)
		}
	}

	if _, err := os.Stat(filepath.Join(envDir, "bin", "python3.10")); err != nil {
		t.Errorf("expected python binary linked: %v", err)
	}

	if log := readLog(t, logPath); log != "install flask\n" {
		t.Errorf("unexpected pip log: %q", log)
	}
}

func TestRunAppliesNativeUpdate(t *testing.T) {
	cfg := testConfig(t)
	cache := pkgcache.New(cfg.GetPkgsDir())

	oldPkg := seedNativePackage(t, cache, cfg.GetChannelAlias()+"/defaults/"+string(cfg.GetSubdir()),
		channel.PackageData{Name: "requests", Version: "2.27.0", Build: "pyhd3eb1b0_0"},
		map[string]string{"lib/requests.py": "# old"})
	newPkg := seedNativePackage(t, cache, cfg.GetChannelAlias()+"/defaults/"+string(cfg.GetSubdir()),
		channel.PackageData{Name: "requests", Version: "2.28.1", Build: "pyhd3eb1b0_0"},
		map[string]string{"lib/requests.py": "# new"})

	idx := buildIndex(t, cfg, cache, oldPkg, newPkg)

	envName := "demo"
	envDir := cfg.GetEnvDir(envName)
	nativePM := &fakeNativePM{}
	r := &Reconciler{
		Config:   cfg,
		Index:    idx,
		Cache:    cache,
		NativePM: nativePM,
		Display:  display.NewWriterDisplay(io.Discard),
	}

	// First, install the old build directly via the Reconciler so its
	// conda-meta record and files exist before the update runs.
	installPlan := diff.Plan{Native: diff.SubDiff{Adds: []spec.Spec{
		{Name: "requests", Version: "2.27.0", Build: "pyhd3eb1b0_0", Channel: "defaults"},
	}}}
	if err := r.Run(context.Background(), envName, installPlan, []string{"defaults"}, false); err != nil {
		t.Fatalf("seeding install Run: %v", err)
	}
	oldRecord := filepath.Join(envDir, "conda-meta", "requests-2.27.0-pyhd3eb1b0_0.json")
	if _, err := os.Stat(oldRecord); err != nil {
		t.Fatalf("expected old conda-meta record before update: %v", err)
	}

	updatePlan := diff.Plan{Native: diff.SubDiff{Updates: []diff.Update{
		{
			From: spec.Spec{Name: "requests", Version: "2.27.0", Build: "pyhd3eb1b0_0", Channel: "defaults"},
			To:   spec.Spec{Name: "requests", Version: "2.28.1", Build: "pyhd3eb1b0_0", Channel: "defaults"},
		},
	}}}
	if err := r.Run(context.Background(), envName, updatePlan, []string{"defaults"}, false); err != nil {
		t.Fatalf("update Run: %v", err)
	}

	if _, err := os.Stat(oldRecord); !os.IsNotExist(err) {
		t.Errorf("expected old conda-meta record removed after update")
	}
	newRecord := filepath.Join(envDir, "conda-meta", "requests-2.28.1-pyhd3eb1b0_0.json")
	if _, err := os.Stat(newRecord); err != nil {
		t.Fatalf("expected new conda-meta record after update: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(envDir, "lib", "requests.py"))
	if err != nil {
		t.Fatalf("reading updated file: %v", err)
	}
	if string(data) != "# new" {
		t.Errorf("expected relinked file to carry the new content, got %q", data)
	}
}

func TestRunRetriesTransientLanguageLayerFailures(t *testing.T) {
	cfg := testConfig(t)
	cache := pkgcache.New(cfg.GetPkgsDir())
	idx := buildIndex(t, cfg, cache)

	envName := "demo"
	envDir := cfg.GetEnvDir(envName)
	logPath := filepath.Join(t.TempDir(), "pip.log")
	writeFakePip(t, envDir, logPath, "flaky")

	nativePM := &fakeNativePM{}
	r := &Reconciler{
		Config:   cfg,
		Index:    idx,
		Cache:    cache,
		NativePM: nativePM,
		Display:  display.NewWriterDisplay(io.Discard),
	}

	plan := diff.Plan{Language: diff.SubDiff{Adds: []spec.Spec{
		{Name: "six", Version: "1.16.0", Channel: "pypi"},
		{Name: "flaky", Version: "1.0.0", Channel: "pypi"},
		{Name: "wheel", Version: "0.37.1", Channel: "pypi"},
	}}}

	if err := r.Run(context.Background(), envName, plan, []string{"defaults"}, false); err != nil {
		t.Fatalf("Run: %v", err)
	}

	log := readLog(t, logPath)
	for _, want := range []string{"install six", "install flaky", "install wheel"} {
		if !containsLine(log, want) {
			t.Errorf("expected log to contain %q, got %q", want, log)
		}
	}
}

func containsLine(haystack, line string) bool {
	for _, l := range splitLines(haystack) {
		if l == line {
			return true
		}
	}
	return false
}

func splitLines(s string) []string {
	var out []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	return out
}

func TestRunBootstrapsPipViaNativePM(t *testing.T) {
	cfg := testConfig(t)
	cache := pkgcache.New(cfg.GetPkgsDir())
	idx := buildIndex(t, cfg, cache)

	envName := "demo"
	envDir := cfg.GetEnvDir(envName)
	logPath := filepath.Join(t.TempDir(), "pip.log")
	writeFakePip(t, envDir, logPath)

	nativePM := &fakeNativePM{}
	r := &Reconciler{
		Config:   cfg,
		Index:    idx,
		Cache:    cache,
		NativePM: nativePM,
		Display:  display.NewWriterDisplay(io.Discard),
	}

	plan := diff.Plan{Language: diff.SubDiff{Adds: []spec.Spec{
		{Name: "pip", Version: "22.1.2", Channel: "pypi"},
	}}}

	if err := r.Run(context.Background(), envName, plan, []string{"defaults"}, false); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(nativePM.installPipCalls) != 1 || nativePM.installPipCalls[0] != envName {
		t.Errorf("expected InstallPip called once for %s, got %v", envName, nativePM.installPipCalls)
	}
}

func TestNotFoundErrorWhenPackageMissingFromEveryChannel(t *testing.T) {
	cfg := testConfig(t)
	cache := pkgcache.New(cfg.GetPkgsDir())
	idx := buildIndex(t, cfg, cache)

	r := &Reconciler{
		Config:   cfg,
		Index:    idx,
		Cache:    cache,
		NativePM: &fakeNativePM{},
		Display:  display.NewWriterDisplay(io.Discard),
	}

	plan := diff.Plan{Native: diff.SubDiff{Adds: []spec.Spec{
		{Name: "ghost", Version: "9.9.9", Build: "0", Channel: "defaults"},
	}}}

	err := r.Run(context.Background(), "demo", plan, []string{"defaults"}, false)
	var nfe *NotFoundError
	if !errors.As(err, &nfe) {
		t.Fatalf("expected *NotFoundError, got %v", err)
	}
	if nfe.Spec.Name != "ghost" {
		t.Errorf("unexpected spec on NotFoundError: %+v", nfe.Spec)
	}
}
