// Package graph implements compi's Graph Builder (spec.md §4.4): it
// turns a config.Catalog into a validated Task DAG, resolves the
// requested targets against the alias/id namespace, and assigns each
// task to a topological "level" for level-by-level scheduling.
//
// Structurally grounded on the DAG shape used by dagu-org/dagu's
// internal/core.DAG and vercel/turborepo's internal/graph.CompleteGraph
// (ancestors/descendants over a task-id keyed graph, sorted for
// deterministic output) — neither repo's own graph library travels with
// it without pulling in an unrelated external dependency (dagu has no
// separate cycle-detection package; turborepo's is pyr-sh/dag, scoped
// to turborepo's own module), so the traversal here is hand-rolled
// against the stdlib, using the same map/sort shape those two use.
package graph

import (
	"fmt"
	"sort"
	"strings"

	"compi/internal/config"
	"compi/internal/diag"
)

// Graph is the validated, fully-resolved dependency graph for one
// invocation: every node reachable from the requested targets, plus a
// level assignment usable directly by the Scheduler.
type Graph struct {
	Tasks  map[string]*config.Task
	Levels [][]string          // Levels[i] holds task ids whose dependencies are all in Levels[0..i-1]
	Edges  map[string][]string // canonical dependency ids per task id, aliases already resolved
}

// Build resolves targets (ids or aliases; the catalog default if empty)
// against cat, validates the induced subgraph, and assigns levels.
func Build(cat *config.Catalog, targets []string) (*Graph, error) {
	roots, err := resolveTargets(cat, targets)
	if err != nil {
		return nil, diag.Wrap(diag.ClassGraph, "resolve targets", err)
	}

	nodes, err := closure(cat, roots)
	if err != nil {
		return nil, diag.Wrap(diag.ClassGraph, "build graph", err)
	}

	if cyc := findCycle(nodes); cyc != nil {
		return nil, diag.New(diag.ClassGraph, fmt.Sprintf("dependency cycle detected: %s", strings.Join(cyc, " -> ")))
	}

	levels, err := assignLevels(nodes)
	if err != nil {
		return nil, diag.Wrap(diag.ClassGraph, "assign levels", err)
	}

	edges := make(map[string][]string, len(nodes))
	for id, task := range nodes {
		edges[id] = depIDs(nodes, task)
	}

	return &Graph{Tasks: nodes, Levels: levels, Edges: edges}, nil
}

// resolveTargets turns a target list (possibly empty) into canonical
// task ids, falling back to [config].default, per spec.md §4.4.
func resolveTargets(cat *config.Catalog, targets []string) ([]string, error) {
	if len(targets) == 0 {
		if cat.Global.Default == "" {
			return nil, fmt.Errorf("no target given and no [config].default is set")
		}
		targets = []string{cat.Global.Default}
	}

	ids := make([]string, 0, len(targets))
	for _, ref := range targets {
		task, ok := cat.Resolve(ref)
		if !ok {
			return nil, fmt.Errorf("unknown task %q", ref)
		}
		ids = append(ids, task.ID)
	}
	return ids, nil
}

// closure walks dependency edges from roots and returns every task
// reachable, keyed by canonical id. A dependency that names neither a
// task id nor an alias is a dangling-dependency error.
func closure(cat *config.Catalog, roots []string) (map[string]*config.Task, error) {
	out := make(map[string]*config.Task)
	var visit func(id string) error
	visit = func(id string) error {
		if _, done := out[id]; done {
			return nil
		}
		task, ok := cat.Tasks[id]
		if !ok {
			return fmt.Errorf("internal error: unresolved task id %q", id)
		}
		out[id] = task
		for _, dep := range task.Dependencies {
			depTask, ok := cat.Resolve(dep)
			if !ok {
				return fmt.Errorf("task %q depends on unknown task %q", task.ID, dep)
			}
			if err := visit(depTask.ID); err != nil {
				return err
			}
		}
		return nil
	}
	for _, id := range roots {
		if err := visit(id); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// findCycle reports the first dependency cycle found, naming every
// task on it, or nil if the subgraph is acyclic.
func findCycle(nodes map[string]*config.Task) []string {
	const (
		unvisited = 0
		visiting  = 1
		done      = 2
	)
	state := make(map[string]int, len(nodes))
	var path []string

	var visit func(id string) []string
	visit = func(id string) []string {
		state[id] = visiting
		path = append(path, id)

		task := nodes[id]
		for _, dep := range depIDs(nodes, task) {
			switch state[dep] {
			case visiting:
				start := indexOf(path, dep)
				cyc := append([]string{}, path[start:]...)
				return append(cyc, dep)
			case unvisited:
				if cyc := visit(dep); cyc != nil {
					return cyc
				}
			}
		}

		path = path[:len(path)-1]
		state[id] = done
		return nil
	}

	ids := sortedKeys(nodes)
	for _, id := range ids {
		if state[id] == unvisited {
			if cyc := visit(id); cyc != nil {
				return cyc
			}
		}
	}
	return nil
}

// depIDs resolves a task's raw dependency references back to canonical
// ids within nodes. By the time findCycle runs, closure has already
// confirmed every reference resolves to a node in the subgraph.
func depIDs(nodes map[string]*config.Task, task *config.Task) []string {
	out := make([]string, 0, len(task.Dependencies))
	for _, dep := range task.Dependencies {
		if _, ok := nodes[dep]; ok {
			out = append(out, dep)
			continue
		}
		for id, t := range nodes {
			for _, alias := range t.Aliases {
				if alias == dep {
					out = append(out, id)
				}
			}
		}
	}
	return out
}

func indexOf(path []string, id string) int {
	for i, p := range path {
		if p == id {
			return i
		}
	}
	return 0
}

// assignLevels groups nodes into waves: level 0 holds every task with
// no in-subgraph dependencies, level N holds tasks whose dependencies
// are all satisfied by levels 0..N-1. Within a level, ids are sorted
// for deterministic scheduling order.
func assignLevels(nodes map[string]*config.Task) ([][]string, error) {
	remaining := make(map[string][]string, len(nodes))
	for id, task := range nodes {
		remaining[id] = depIDs(nodes, task)
	}

	var levels [][]string
	placed := make(map[string]bool, len(nodes))

	for len(placed) < len(nodes) {
		var wave []string
		for id, deps := range remaining {
			if placed[id] {
				continue
			}
			if allPlaced(deps, placed) {
				wave = append(wave, id)
			}
		}
		if len(wave) == 0 {
			return nil, fmt.Errorf("internal error: no progress assigning levels, %d tasks unplaced", len(nodes)-len(placed))
		}
		sort.Strings(wave)
		levels = append(levels, wave)
		for _, id := range wave {
			placed[id] = true
		}
	}
	return levels, nil
}

func allPlaced(deps []string, placed map[string]bool) bool {
	for _, d := range deps {
		if !placed[d] {
			return false
		}
	}
	return true
}

func sortedKeys(nodes map[string]*config.Task) []string {
	out := make([]string, 0, len(nodes))
	for id := range nodes {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
