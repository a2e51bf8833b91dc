// Package rewrite substitutes the build-time prefix placeholder baked into a
// package's files with the real environment prefix at link time. Text files
// are rewritten freely; binary files must keep their exact length, so each
// rewritten NUL-terminated region is NUL-padded back to its original width.
package rewrite

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"regexp"
)

// Text replaces every occurrence of placeholder with prefix in data. The
// result may be longer or shorter than the input.
func Text(data []byte, placeholder, prefix string) []byte {
	if placeholder == "" {
		return data
	}
	return bytes.ReplaceAll(data, []byte(placeholder), []byte(prefix))
}

// Binary replaces placeholder with prefix inside every NUL-terminated region
// that contains it, without changing data's total length. A region runs from
// the placeholder to the next NUL byte; every occurrence of placeholder
// within that region is replaced, and the result is right-padded with NUL up
// to the region's original length. It errors if a replaced region would need
// to grow: a fixed-length binary region has no room for a longer prefix.
func Binary(data []byte, placeholder, prefix string) ([]byte, error) {
	if placeholder == "" {
		return data, nil
	}

	pattern, err := regexp.Compile(regexp.QuoteMeta(placeholder) + `[^\x00]*?\x00`)
	if err != nil {
		return nil, fmt.Errorf("compiling placeholder pattern: %w", err)
	}

	matches := pattern.FindAllIndex(data, -1)
	if matches == nil {
		return data, nil
	}

	phBytes := []byte(placeholder)
	prefixBytes := []byte(prefix)

	out := make([]byte, 0, len(data))
	last := 0
	for _, m := range matches {
		start, end := m[0], m[1]
		out = append(out, data[last:start]...)

		region := data[start:end]
		replaced := bytes.ReplaceAll(region, phBytes, prefixBytes)
		if len(replaced) > len(region) {
			return nil, fmt.Errorf("prefix %q too long to fit %d-byte region in place", prefix, len(region))
		}

		padded := make([]byte, len(region))
		copy(padded, replaced)
		out = append(out, padded...)
		last = end
	}
	out = append(out, data[last:]...)
	return out, nil
}

// File rewrites src into dst according to fileMode ("text" or "binary"),
// substituting placeholder with prefix. Any other fileMode copies the file
// unchanged. dst's mode matches src's.
func File(src, dst, fileMode, placeholder, prefix string) error {
	info, err := os.Stat(src)
	if err != nil {
		return fmt.Errorf("stat %s: %w", src, err)
	}

	if fileMode != "text" && fileMode != "binary" {
		if err := copyFile(src, dst, info.Mode()); err != nil {
			return err
		}
		return os.Chmod(dst, info.Mode())
	}

	data, err := os.ReadFile(src)
	if err != nil {
		return fmt.Errorf("reading %s: %w", src, err)
	}

	var out []byte
	switch fileMode {
	case "text":
		out = Text(data, placeholder, prefix)
	case "binary":
		out, err = Binary(data, placeholder, prefix)
		if err != nil {
			return fmt.Errorf("rewriting %s: %w", src, err)
		}
	}

	if err := os.WriteFile(dst, out, info.Mode()); err != nil {
		return err
	}
	return os.Chmod(dst, info.Mode())
}

func copyFile(src, dst string, mode os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("opening %s: %w", src, err)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode)
	if err != nil {
		return fmt.Errorf("creating %s: %w", dst, err)
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return fmt.Errorf("copying %s: %w", src, err)
	}
	return nil
}
