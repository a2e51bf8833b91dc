// Package disk reports and reclaims the local storage envrec uses: the
// package cache, the download staging area, the repodata cache, and the
// materialized environments themselves.
package disk

import (
	"fmt"
	"os"
	"strings"

	"envrec/pkg/config"
	"envrec/pkg/display"

	"github.com/dustin/go-humanize"
)

// Manager reports on and reclaims envrec's on-disk footprint.
type Manager interface {
	// Info prints a usage table to the display.
	Info() error
	// Clean removes the download staging area and repodata cache, returning
	// the directories it removed.
	Clean() []string
	// Uninstall removes the entire root prefix and config directory,
	// returning the directories it removed. Prompts for confirmation unless
	// force is set.
	Uninstall(force bool) ([]string, error)
	// Usage returns per-category disk usage statistics.
	Usage() ([]Usage, int64)
}

type manager struct {
	cfg  config.Config
	disp display.Display
}

// NewManager creates a disk manager for the given configuration and display.
func NewManager(cfg config.Config, disp display.Display) Manager {
	return &manager{cfg: cfg, disp: disp}
}

// Usage is the disk footprint of one category of envrec-managed data.
type Usage struct {
	Label string
	Size  int64
	Items int
	Path  string
}

func (m *manager) Usage() ([]Usage, int64) {
	paths := []struct{ label, path string }{
		{"Package cache", m.cfg.GetPkgsDir()},
		{"Downloads", m.cfg.GetDownloadDir()},
		{"Repodata cache", m.cfg.GetRepodataCacheDir()},
		{"Environments", m.cfg.GetEnvsDir()},
	}
	var total int64
	stats := make([]Usage, 0, len(paths))
	for _, p := range paths {
		size, count := DirSize(p.path)
		total += size
		stats = append(stats, Usage{Label: p.label, Size: size, Items: count, Path: p.path})
	}
	return stats, total
}

func (m *manager) Info() error {
	stats, total := m.Usage()
	m.disp.Print(fmt.Sprintf("%-16s %-10s %-10s %s\n", "Category", "Size", "Items", "Path"))
	m.disp.Print(strings.Repeat("-", 75) + "\n")
	for _, s := range stats {
		m.disp.Print(fmt.Sprintf("%-16s %-10s %-10d %s\n", s.Label, humanize.Bytes(uint64(s.Size)), s.Items, s.Path))
	}
	m.disp.Print(strings.Repeat("-", 75) + "\n")
	m.disp.Print(fmt.Sprintf("%-16s %s\n", "Total", humanize.Bytes(uint64(total))))
	return nil
}

// Clean removes the download staging area and repodata cache. The package
// cache and materialized environments are left untouched; reconciliation
// depends on them.
func (m *manager) Clean() []string {
	dirs := []string{m.cfg.GetDownloadDir(), m.cfg.GetRepodataCacheDir()}
	var cleaned []string
	for _, dir := range dirs {
		if _, err := os.Stat(dir); err == nil {
			os.RemoveAll(dir)
			os.MkdirAll(dir, 0o755)
			cleaned = append(cleaned, dir)
		}
	}
	return cleaned
}

func (m *manager) Uninstall(force bool) ([]string, error) {
	if !force {
		m.disp.Print("This will delete ALL envrec data (environments, cache, config). Are you sure? [y/N]: ")
		var response string
		fmt.Scanln(&response)
		if strings.ToLower(response) != "y" {
			m.disp.Print("Aborted.\n")
			return nil, nil
		}
	}

	dirs := []string{m.cfg.GetRootPrefix(), m.cfg.GetConfigDir()}
	var removed []string
	for _, dir := range dirs {
		if _, err := os.Stat(dir); err == nil {
			if err := os.RemoveAll(dir); err != nil {
				return removed, fmt.Errorf("removing %s: %w", dir, err)
			}
			removed = append(removed, dir)
		}
	}
	return removed, nil
}
