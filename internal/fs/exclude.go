package fs

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ExcludeFileName is the per-directory pattern file read by the eviction monitor.
const ExcludeFileName = ".evictignore"

// defaultExcludes always apply, so the pattern file never evicts itself.
var defaultExcludes = []string{ExcludeFileName}

type excludePattern struct {
	glob      string
	matchPath bool // match the relative path instead of the base name
}

// ExcludeMatcher protects files from eviction. A pattern containing '/' is
// matched against the path relative to the backup directory; any other
// pattern is matched against the base name.
type ExcludeMatcher struct {
	patterns []excludePattern
}

// NewExcludeMatcher builds a matcher from raw patterns plus the defaults.
// Blank lines and '#' comments are skipped.
func NewExcludeMatcher(raw []string) *ExcludeMatcher {
	m := &ExcludeMatcher{}
	for _, p := range append(append([]string{}, defaultExcludes...), raw...) {
		p = strings.TrimSpace(p)
		if p == "" || strings.HasPrefix(p, "#") {
			continue
		}
		m.patterns = append(m.patterns, excludePattern{glob: p, matchPath: strings.Contains(p, "/")})
	}
	return m
}

// LoadExcludeMatcher combines configured patterns with those in dir's
// pattern file. A missing file is not an error.
func LoadExcludeMatcher(dir string, configured []string) (*ExcludeMatcher, error) {
	fromFile, err := ParseExcludeFile(filepath.Join(dir, ExcludeFileName))
	if err != nil {
		return nil, err
	}
	return NewExcludeMatcher(append(append([]string{}, configured...), fromFile...)), nil
}

// Match reports whether relPath is protected. Malformed patterns never match.
func (m *ExcludeMatcher) Match(relPath string) bool {
	if m == nil {
		return false
	}
	slashed := filepath.ToSlash(relPath)
	base := filepath.Base(relPath)
	for _, p := range m.patterns {
		target := base
		if p.matchPath {
			target = slashed
		}
		if ok, err := filepath.Match(p.glob, target); err == nil && ok {
			return true
		}
	}
	return false
}

// ParseExcludeFile returns the raw lines of a pattern file, or nil if it does not exist.
func ParseExcludeFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("opening exclude file: %w", err)
	}
	defer f.Close()

	var lines []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading exclude file: %w", err)
	}
	return lines, nil
}
