// Package archive extracts conda-style package tarballs and decompresses the
// zstd-compressed repodata streams fetched from a channel.
package archive

import (
	"archive/tar"
	"compress/bzip2"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"
)

// ExtractTarBz2 extracts a package tarball (.tar.bz2) into dest, preserving
// regular files, directories, and symlinks. Hardlinks and device entries,
// which legitimate package tarballs do not carry, are skipped.
func ExtractTarBz2(src, dest string) error {
	f, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("opening tarball: %w", err)
	}
	defer f.Close()

	tr := tar.NewReader(bzip2.NewReader(f))
	for {
		header, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("reading tar header: %w", err)
		}
		if err := extractEntry(header, dest, tr); err != nil {
			return err
		}
	}
	return nil
}

func extractEntry(header *tar.Header, dest string, tr *tar.Reader) error {
	target := filepath.Join(dest, header.Name)
	if !strings.HasPrefix(target, filepath.Clean(dest)+string(os.PathSeparator)) {
		return fmt.Errorf("illegal entry path in tarball: %s", header.Name)
	}

	switch header.Typeflag {
	case tar.TypeDir:
		return os.MkdirAll(target, 0o755)

	case tar.TypeSymlink:
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return fmt.Errorf("creating parent for %s: %w", target, err)
		}
		os.Remove(target)
		return os.Symlink(header.Linkname, target)

	case tar.TypeReg:
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return fmt.Errorf("creating parent for %s: %w", target, err)
		}
		out, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, os.FileMode(header.Mode))
		if err != nil {
			return fmt.Errorf("creating %s: %w", target, err)
		}
		defer out.Close()
		if _, err := io.Copy(out, tr); err != nil {
			return fmt.Errorf("writing %s: %w", target, err)
		}
		return nil

	default:
		return nil
	}
}

// DecompressZst wraps r in a zstd decoder, used to stream-decode a
// repodata.json.zst response body into JSON.
func DecompressZst(r io.Reader) (io.ReadCloser, error) {
	zr, err := zstd.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("opening zstd stream: %w", err)
	}
	return zr.IOReadCloser(), nil
}
