// Package channel constructs and queries the package index for one or more
// conda-style channels: fetching repodata, caching it on disk, and resolving
// a name/version/build/channel spec to a downloadable package record.
package channel

import "envrec/pkg/platform"

// PackageData is the subset of a repodata.json package record envrec cares
// about. Field names mirror the wire format so it round-trips untouched.
type PackageData struct {
	Name          string   `json:"name"`
	Version       string   `json:"version"`
	Build         string   `json:"build"`
	BuildNumber   int      `json:"build_number"`
	Depends       []string `json:"depends,omitempty"`
	Constrains    []string `json:"constrains,omitempty"`
	License       string   `json:"license,omitempty"`
	Size          int64    `json:"size,omitempty"`
	Timestamp     int64    `json:"timestamp,omitempty"`
	MD5           string   `json:"md5,omitempty"`
	SHA256        string   `json:"sha256,omitempty"`
	Subdir        string   `json:"subdir,omitempty"`
	TrackFeatures string   `json:"track_features,omitempty"`
	NoArch        string   `json:"noarch,omitempty"`
}

// Package is a PackageData resolved against a specific channel: enough to
// locate, download, and cache its tarball.
type Package struct {
	PackageData
	Channel    string
	Subdir     platform.Subdir
	ChannelURL string
	Tarball    string
}

// repodata is the on-disk shape of a channel's repodata.json.
type repodata struct {
	Info     repodataInfo           `json:"info"`
	Packages map[string]PackageData `json:"packages"`

	// PackagesConda holds the .conda-format entries some channels ship
	// alongside .tar.bz2; envrec only ever fetches and links the .tar.bz2
	// form, but keeps the field so a stored repodata.json round-trips.
	PackagesConda map[string]PackageData `json:"packages.conda,omitempty"`
}

type repodataInfo struct {
	Subdir string `json:"subdir"`
}
