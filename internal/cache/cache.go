// Package cache implements compi's Staleness Oracle and its persistent
// backing store (spec.md §4.5): the RUN/SKIP decision cascade for a
// task, and the on-disk JSON cache of input content hashes that backs
// rule 4 of that cascade.
//
// Grounded on vercel/turborepo's taskhash.Tracker (hash-keyed,
// per-task cache entries computed from resolved inputs) and
// FollowTheProcess/spok's cache package (atomic temp-file-then-rename
// JSON persistence, corrupted-cache-is-empty-not-fatal policy) — both
// retrieved as other_examples siblings of compi's own domain.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"compi/internal/diag"
)

// Document is the process-wide persistent cache: task id -> input path
// -> hex-encoded content hash, per spec.md §6.
type Document struct {
	path    string
	entries map[string]map[string]string
}

// Load reads the cache document at path. A missing or empty file is an
// empty document with no warning; a corrupted or unreadable file is
// treated as an empty document with a warning, never as a fatal error,
// per spec.md §6.
func Load(path string) (*Document, string) {
	doc := &Document{path: path, entries: make(map[string]map[string]string)}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return doc, ""
		}
		return doc, fmt.Sprintf("cache: could not read %s, starting empty: %v", path, err)
	}

	if len(data) == 0 {
		return doc, ""
	}

	if err := json.Unmarshal(data, &doc.entries); err != nil {
		doc.entries = make(map[string]map[string]string)
		return doc, fmt.Sprintf("cache: %s is corrupted, starting empty: %v", path, err)
	}
	return doc, ""
}

// Entry returns the recorded input->hash map for taskID, or nil if
// none is recorded.
func (d *Document) Entry(taskID string) map[string]string {
	return d.entries[taskID]
}

// Put records a fresh entry for taskID, overwriting any previous one.
// Callers must not mutate entry after calling Put.
func (d *Document) Put(taskID string, entry map[string]string) {
	d.entries[taskID] = entry
}

// Save writes the document atomically: write to a temp file in the
// same directory, then rename over the destination, so a crash never
// leaves a partially-written cache file.
func (d *Document) Save() error {
	if err := os.MkdirAll(filepath.Dir(d.path), 0o755); err != nil {
		return diag.Wrap(diag.ClassRuntime, "create cache directory", err)
	}

	data, err := json.MarshalIndent(d.entries, "", "  ")
	if err != nil {
		return diag.Wrap(diag.ClassRuntime, "marshal cache", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(d.path), ".compi_cache-*.tmp")
	if err != nil {
		return diag.Wrap(diag.ClassRuntime, "create temp cache file", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return diag.Wrap(diag.ClassRuntime, "write temp cache file", err)
	}
	if err := tmp.Close(); err != nil {
		return diag.Wrap(diag.ClassRuntime, "close temp cache file", err)
	}
	if err := os.Rename(tmpPath, d.path); err != nil {
		return diag.Wrap(diag.ClassRuntime, "rename temp cache file into place", err)
	}
	return nil
}

// Decision is the Oracle's verdict for one task.
type Decision struct {
	Run    bool
	Reason string
}

// Inputs describes a task's resolved staleness-relevant state, already
// expanded by the Glob Resolver — the Oracle itself never globs.
type Inputs struct {
	TaskID         string
	AlwaysRun      bool
	InputsDeclared bool // whether the task's "inputs" key was present at all
	InputPaths     []string
	OutputPaths    []string // trailing "/" marks a directory output
}

// Evaluate runs the ordered rule cascade of spec.md §4.5 against
// prevEntry (the task's previously recorded input->hash map, or nil),
// returning the decision plus the freshly computed hash set (always
// computed, even on SKIP, so callers never need a second pass over the
// filesystem).
//
// Evaluate takes a snapshot map rather than a *Document so the
// (I/O-bound) hashing it performs can run concurrently across workers
// without touching the Document's shared map. The Document itself is
// not safe for concurrent use: the scheduler serializes every Entry,
// Put and Save call under its own mutex.
func Evaluate(prevEntry map[string]string, in Inputs) (Decision, map[string]string, []string) {
	var warnings []string

	if in.AlwaysRun {
		hashes, w := hashAll(in.InputPaths)
		return Decision{Run: true, Reason: "always_run"}, hashes, append(warnings, w...)
	}

	if !in.InputsDeclared || len(in.InputPaths) == 0 {
		hashes, w := hashAll(in.InputPaths)
		return Decision{Run: true, Reason: "no tracked inputs"}, hashes, append(warnings, w...)
	}

	if len(in.OutputPaths) > 0 {
		for _, out := range in.OutputPaths {
			if !outputExists(out) {
				hashes, w := hashAll(in.InputPaths)
				return Decision{Run: true, Reason: fmt.Sprintf("missing output %s", out)}, hashes, append(warnings, w...)
			}
		}
	}

	hashes, w := hashAll(in.InputPaths)
	warnings = append(warnings, w...)

	if contentChanged(prevEntry, hashes) {
		return Decision{Run: true, Reason: "input content changed"}, hashes, warnings
	}

	if len(in.OutputPaths) > 0 {
		newer, err := anyInputNewerThanOutputs(in.InputPaths, in.OutputPaths)
		if err != nil {
			warnings = append(warnings, err.Error())
		} else if newer {
			return Decision{Run: true, Reason: "output older than an input"}, hashes, warnings
		}
	}

	return Decision{Run: false, Reason: "up to date"}, hashes, warnings
}

func contentChanged(prev, next map[string]string) bool {
	if len(prev) != len(next) {
		return true
	}
	for path, hash := range next {
		if prev[path] != hash {
			return true
		}
	}
	return false
}

func outputExists(path string) bool {
	isDir := strings.HasSuffix(path, "/")
	info, err := os.Stat(strings.TrimSuffix(path, "/"))
	if err != nil {
		return false
	}
	if isDir {
		return info.IsDir()
	}
	return true
}

func anyInputNewerThanOutputs(inputs, outputs []string) (bool, error) {
	var newestInput, oldestOutput int64
	first := true

	for _, p := range inputs {
		info, err := os.Stat(p)
		if err != nil {
			continue
		}
		mtime := info.ModTime().UnixNano()
		if mtime > newestInput {
			newestInput = mtime
		}
	}

	for _, p := range outputs {
		info, err := os.Stat(strings.TrimSuffix(p, "/"))
		if err != nil {
			return false, fmt.Errorf("staleness: could not stat output %s: %w", p, err)
		}
		mtime := info.ModTime().UnixNano()
		if first || mtime < oldestOutput {
			oldestOutput = mtime
			first = false
		}
	}

	if first {
		return false, nil
	}
	return newestInput > oldestOutput, nil
}

// hashAll computes the content hash of every path, treating a missing
// declared input as empty content for hashing purposes (spec.md §7)
// while emitting a warning.
func hashAll(paths []string) (map[string]string, []string) {
	out := make(map[string]string, len(paths))
	var warnings []string
	for _, p := range paths {
		h, err := hashFile(p)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("input %s: %v, hashing as empty content", p, err))
			h = hashBytes(nil)
		}
		out[p] = h
	}
	return out, warnings
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func hashBytes(b []byte) string {
	h := sha256.Sum256(b)
	return hex.EncodeToString(h[:])
}
