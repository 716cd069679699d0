// Package fs holds the filesystem primitives shared by the checksum store and
// the eviction monitor: backup directory listing, creation times and safe
// source name handling.
package fs

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// TempPrefix marks in-flight copies inside the backup directory. Files with
// this prefix are never counted, listed or evicted.
const TempPrefix = ".tmp-"

// Entry describes one regular file directly inside the backup directory.
type Entry struct {
	Name    string
	Path    string
	Size    int64
	ModTime time.Time
	// BirthTime is zero when the filesystem does not record it.
	BirthTime time.Time
}

// CreatedAt returns the best available creation time: birth time when the
// filesystem records one, modification time otherwise.
func (e Entry) CreatedAt() time.Time {
	if !e.BirthTime.IsZero() {
		return e.BirthTime
	}
	return e.ModTime
}

// ListRegularFiles returns the regular files directly inside dir. Symlinks,
// directories, special files and temp files are skipped. A missing directory
// yields an empty list.
func ListRegularFiles(dir string) ([]Entry, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading directory: %w", err)
	}

	var out []Entry
	for _, de := range entries {
		if !de.Type().IsRegular() || strings.HasPrefix(de.Name(), TempPrefix) {
			continue
		}
		info, err := de.Info()
		if err != nil {
			if os.IsNotExist(err) {
				// Removed between ReadDir and Info.
				continue
			}
			return nil, fmt.Errorf("stat %s: %w", de.Name(), err)
		}
		out = append(out, newEntry(filepath.Join(dir, de.Name()), info))
	}
	return out, nil
}

// StatRegular re-stats path without following symlinks. It returns ok=false
// when the path is gone or no longer a regular file.
func StatRegular(path string) (Entry, bool, error) {
	info, err := os.Lstat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Entry{}, false, nil
		}
		return Entry{}, false, fmt.Errorf("stat %s: %w", path, err)
	}
	if !info.Mode().IsRegular() {
		return Entry{}, false, nil
	}
	return newEntry(path, info), true, nil
}

// IsRegularFile reports whether path exists and is a regular file (not a symlink).
func IsRegularFile(path string) bool {
	_, ok, err := StatRegular(path)
	return ok && err == nil
}

// SafeName validates a file name supplied by the sync client. Only a plain
// local name is accepted: no separators, no "..", not absolute.
func SafeName(name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("empty file name")
	}
	if name == "." || !filepath.IsLocal(name) || filepath.Base(name) != name {
		return "", fmt.Errorf("file name %q is not a plain local name", name)
	}
	return name, nil
}

// SuffixedName returns name with "_n" inserted before the extension.
// "photo.png" becomes "photo_1.png"; "README" becomes "README_1".
func SuffixedName(name string, n int) string {
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	if stem == "" {
		// Dotfile such as ".bashrc": treat the whole name as the stem.
		stem, ext = name, ""
	}
	return fmt.Sprintf("%s_%d%s", stem, n, ext)
}

func newEntry(path string, info fs.FileInfo) Entry {
	return Entry{
		Name:      info.Name(),
		Path:      path,
		Size:      info.Size(),
		ModTime:   info.ModTime(),
		BirthTime: birthTime(path),
	}
}
