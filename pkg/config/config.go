// Package config resolves the on-disk layout and system defaults used to
// reconcile environments: the root prefix, channel defaults, and the running
// platform's subdir.
package config

import (
	"os"
	"path/filepath"

	"envrec/pkg/platform"

	"github.com/adrg/xdg"
)

// DefaultChannelAlias is the base URL prepended to a channel name to form its
// index and tarball URLs, unless overridden.
const DefaultChannelAlias = "https://repo.anaconda.com/pkgs"

// config holds the base directories and system info used to reconcile an
// environment tree. Immutable after Init.
type config struct {
	rootPrefix string
	configDir  string

	channelAlias    string
	defaultChannels []string

	subdir platform.Subdir

	nativePMBin string
}

// Config provides access to application-wide paths and channel defaults.
type Config = *config

func (c *config) GetRootPrefix() string        { return c.rootPrefix }
func (c *config) GetPkgsDir() string           { return filepath.Join(c.rootPrefix, "pkgs") }
func (c *config) GetRepodataCacheDir() string  { return filepath.Join(c.GetPkgsDir(), "cache") }
func (c *config) GetDownloadDir() string       { return filepath.Join(c.GetPkgsDir(), ".download") }
func (c *config) GetEnvsDir() string           { return filepath.Join(c.rootPrefix, "envs") }
func (c *config) GetEnvDir(name string) string { return filepath.Join(c.GetEnvsDir(), name) }
func (c *config) GetConfigDir() string         { return c.configDir }
func (c *config) GetChannelAlias() string      { return c.channelAlias }
func (c *config) GetDefaultChannels() []string { return c.defaultChannels }
func (c *config) GetSubdir() platform.Subdir   { return c.subdir }
func (c *config) GetNativePMBin() string       { return c.nativePMBin }

// GetSubdirs returns the subdirs a channel index should load for this
// platform: the platform's own subdir plus the universal noarch bucket.
func (c *config) GetSubdirs() []platform.Subdir {
	return []platform.Subdir{c.subdir, platform.NoArch}
}

// CondaMetaDir returns the metadata directory for the named environment,
// created on demand by the linker.
func (c *config) CondaMetaDir(envName string) string {
	return filepath.Join(c.GetEnvDir(envName), "conda-meta")
}

// Init initializes configuration by detecting the system platform and
// setting up XDG-compliant base directories. ENVREC_ROOT_PREFIX overrides the
// default root prefix.
func Init() (Config, error) {
	subdir, err := platform.Current()
	if err != nil {
		return nil, err
	}

	rootPrefix := os.Getenv("ENVREC_ROOT_PREFIX")
	if rootPrefix == "" {
		rootPrefix = filepath.Join(xdg.DataHome, "envrec")
	}

	nativePMBin := os.Getenv("ENVREC_NATIVE_PM")
	if nativePMBin == "" {
		nativePMBin = "conda"
	}

	return &config{
		rootPrefix:      rootPrefix,
		configDir:       filepath.Join(xdg.ConfigHome, "envrec"),
		channelAlias:    DefaultChannelAlias,
		defaultChannels: []string{"defaults"},
		subdir:          subdir,
		nativePMBin:     nativePMBin,
	}, nil
}
