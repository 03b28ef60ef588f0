// Package glob expands and matches the doublestar source globs used in the
// configuration.
package glob

import (
	"path/filepath"
	"sort"

	"github.com/bmatcuk/doublestar/v4"
)

// File is one file matched by a pattern.
type File struct {
	// Path is the filesystem path of the file.
	Path string
	// Rel is the path below the pattern's static base, in OS form.
	Rel string
}

// Expand returns the regular files matching pattern in lexical order.
// pattern uses forward slashes and may be absolute.
func Expand(pattern string) ([]File, error) {
	base, _ := doublestar.SplitPattern(pattern)

	matches, err := doublestar.FilepathGlob(filepath.FromSlash(pattern), doublestar.WithFilesOnly())
	if err != nil {
		return nil, err
	}
	sort.Strings(matches)

	files := make([]File, 0, len(matches))
	for _, m := range matches {
		rel, err := filepath.Rel(filepath.FromSlash(base), m)
		if err != nil {
			return nil, err
		}
		files = append(files, File{Path: m, Rel: rel})
	}
	return files, nil
}

// Match reports whether the slash-separated relative path matches pattern.
// Invalid patterns match nothing.
func Match(pattern, rel string) bool {
	ok, err := doublestar.Match(pattern, rel)
	return err == nil && ok
}

// Base is the static directory prefix of pattern.
func Base(pattern string) string {
	base, _ := doublestar.SplitPattern(pattern)
	return base
}
