package channel

import (
	"fmt"
	"io"
	"sort"
	"sync"

	"envrec/pkg/config"
	"envrec/pkg/downloader"
	"envrec/pkg/platform"
)

// TarballStore is the narrow view of the package cache that Download needs.
// It is satisfied by *pkgcache.Cache without channel importing pkgcache.
type TarballStore interface {
	HasTarball(tarball string) bool
	CreateTarball(tarball string) (io.WriteCloser, error)
}

// subdirIndex maps tarball filename to its package data for one channel/subdir.
type subdirIndex map[string]PackageData

// Index holds the merged repodata for every configured channel and subdir,
// and resolves specs against it in channel-preference order.
type Index struct {
	cfg   config.Config
	dl    downloader.Downloader
	store TarballStore

	mu   sync.RWMutex
	data map[string]map[platform.Subdir]subdirIndex // channel -> subdir -> index
}

// New creates an empty Index. Call EnsureChannels before querying it.
func New(cfg config.Config, dl downloader.Downloader, store TarballStore) *Index {
	return &Index{
		cfg:   cfg,
		dl:    dl,
		store: store,
		data:  make(map[string]map[platform.Subdir]subdirIndex),
	}
}

func (idx *Index) setSubdir(channel string, subdir platform.Subdir, sub subdirIndex) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if idx.data[channel] == nil {
		idx.data[channel] = make(map[platform.Subdir]subdirIndex)
	}
	idx.data[channel][subdir] = sub
}

// Get resolves name/version/build against the channels in preference order
// (the order the caller passes, typically the recipe's channel list followed
// by the configured defaults). The first channel carrying a matching
// tarball wins; within a channel, both the platform subdir and noarch are
// considered, platform subdir first.
func (idx *Index) Get(name, version, build string, preferredChannels []string) (Package, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	tarball := fmt.Sprintf("%s-%s-%s.tar.bz2", name, version, build)

	for _, channelName := range preferredChannels {
		subdirs, ok := idx.data[channelName]
		if !ok {
			continue
		}
		for _, subdir := range idx.cfg.GetSubdirs() {
			sub, ok := subdirs[subdir]
			if !ok {
				continue
			}
			pd, ok := sub[tarball]
			if !ok {
				continue
			}
			return Package{
				PackageData: pd,
				Channel:     channelName,
				Subdir:      subdir,
				ChannelURL:  idx.channelURL(channelName, subdir),
				Tarball:     tarball,
			}, true
		}
	}
	return Package{}, false
}

// Channels returns the names of channels currently indexed, sorted.
func (idx *Index) Channels() []string {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	names := make([]string, 0, len(idx.data))
	for c := range idx.data {
		names = append(names, c)
	}
	sort.Strings(names)
	return names
}

func (idx *Index) channelURL(channelName string, subdir platform.Subdir) string {
	if isURL(channelName) {
		return fmt.Sprintf("%s/%s", trimSlash(channelName), subdir)
	}
	return fmt.Sprintf("%s/%s/%s", trimSlash(idx.cfg.GetChannelAlias()), channelName, subdir)
}

func isURL(s string) bool {
	return len(s) > 7 && (s[:7] == "http://" || (len(s) > 8 && s[:8] == "https://"))
}

func trimSlash(s string) string {
	for len(s) > 0 && s[len(s)-1] == '/' {
		s = s[:len(s)-1]
	}
	return s
}
