// Package globs implements compi's Glob Resolver (spec.md §4.3):
// expansion of input/output patterns against the filesystem, using
// shell-style globbing including "**" for arbitrary depth.
//
// Grounded on the other_examples sibling FollowTheProcess/spok, the
// closest relative of compi in the whole retrieval pack (a declarative,
// hash-cached, dependency-graph task runner), which resolves its own
// glob dependencies/outputs with the same library (file/file.go:
// doublestar.FilepathGlob).
package globs

import (
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Result is the outcome of expanding one pattern list: the deduplicated,
// lexicographically sorted set of concrete paths, plus any warnings
// encountered along the way (zero-match patterns, unreadable
// directories) — spec.md §4.3's policy is that these never fail the
// build.
type Result struct {
	Paths    []string
	Warnings []string
}

// hasMeta reports whether pattern contains any glob metacharacter that
// doublestar recognizes.
func hasMeta(pattern string) bool {
	return strings.ContainsAny(pattern, "*?[]{}")
}

// Expand resolves patterns (input or output declarations) against
// baseDir. A pattern with no metacharacters is returned as a literal
// path (joined to baseDir if relative) without requiring it to exist;
// existence is a staleness concern, not a glob concern (spec.md §4.3).
func Expand(patterns []string, baseDir string) Result {
	var res Result
	seen := make(map[string]struct{})

	for _, pattern := range patterns {
		if pattern == "" {
			continue
		}

		if !hasMeta(pattern) {
			p := pattern
			if !filepath.IsAbs(stripTrailingSlash(p)) {
				p = joinKeepTrailingSlash(baseDir, p)
			}
			addPath(&res, seen, p)
			continue
		}

		full := pattern
		if !filepath.IsAbs(pattern) {
			full = filepath.Join(baseDir, pattern)
		}

		matches, err := doublestar.FilepathGlob(full, doublestar.WithFailOnIOErrors())
		if err != nil {
			res.Warnings = append(res.Warnings, "pattern "+pattern+": unreadable path encountered during glob expansion: "+err.Error())
			// Glob again ignoring I/O errors, so the unreadable subtree is
			// skipped while matches elsewhere are still collected.
			matches, _ = doublestar.FilepathGlob(full)
		}

		if len(matches) == 0 {
			res.Warnings = append(res.Warnings, "pattern "+pattern+" matched no files")
			continue
		}
		for _, m := range matches {
			addPath(&res, seen, m)
		}
	}

	sort.Strings(res.Paths)
	return res
}

func addPath(res *Result, seen map[string]struct{}, p string) {
	if _, ok := seen[p]; ok {
		return
	}
	seen[p] = struct{}{}
	res.Paths = append(res.Paths, p)
}

func stripTrailingSlash(p string) string {
	return strings.TrimSuffix(p, "/")
}

func joinKeepTrailingSlash(baseDir, p string) string {
	joined := filepath.Join(baseDir, p)
	if strings.HasSuffix(p, "/") && !strings.HasSuffix(joined, "/") {
		joined += "/"
	}
	return joined
}
