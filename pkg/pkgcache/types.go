// Package pkgcache manages the on-disk package cache: extracted package
// directories under the pkgs dir, their tarballs, and the prefix records
// the linker consults to materialize an environment.
package pkgcache

import "envrec/pkg/channel"

// PathEntry is one file recorded in a package's info/paths.json.
type PathEntry struct {
	Path              string `json:"_path"`
	PathType          string `json:"path_type"` // "hardlink", "softlink", or "directory"
	SHA256            string `json:"sha256,omitempty"`
	SizeInBytes       int64  `json:"size_in_bytes,omitempty"`
	FileMode          string `json:"file_mode,omitempty"` // "text" or "binary"
	PrefixPlaceholder string `json:"prefix_placeholder,omitempty"`
	NoLink            bool   `json:"no_link,omitempty"`
}

// PathsData is the parsed form of a package's info/paths.json.
type PathsData struct {
	PathsVersion int         `json:"paths_version"`
	Paths        []PathEntry `json:"paths"`
}

// Link type codes as persisted in a PrefixRecord's link.type field.
const (
	LinkTypeHardlink  = 1
	LinkTypeSoftlink  = 2
	LinkTypeCopy      = 3
	LinkTypeDirectory = 4
)

// LinkInfo records how a package was materialized into an environment.
type LinkInfo struct {
	Source string `json:"source"`
	Type   int    `json:"type"`
}

// PrefixRecord is the conda-meta/<dist>.json record for a linked package: its
// channel package data plus the bookkeeping the linker needs to undo the link.
type PrefixRecord struct {
	channel.PackageData
	Channel              string    `json:"channel"`
	URL                  string    `json:"url"`
	Fn                   string    `json:"fn"`
	ExtractedPackageDir  string    `json:"extracted_package_dir"`
	Files                []string  `json:"files"`
	PathsData            PathsData `json:"paths_data"`
	RequestedSpec        string    `json:"requested_spec,omitempty"`
	Link                 LinkInfo  `json:"link"`
}

// noarchInfo is the relevant subset of a noarch package's info/link.json.
type noarchInfo struct {
	Noarch struct {
		Type         string   `json:"type"` // "python" for packages needing site-packages relocation
		EntryPoints  []string `json:"entry_points,omitempty"`
	} `json:"noarch"`
}
