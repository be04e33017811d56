package config

import (
	"fmt"
	"runtime"
	"sort"
	"time"

	"compi/internal/diag"
	"compi/internal/expand"
)

// Load reads and validates the TOML document at path, returning a fully
// expanded Catalog. This is the public entry point for spec.md §4.2.
func Load(path string) (*Catalog, error) {
	doc, err := loadFile(path)
	if err != nil {
		return nil, diag.Wrap(diag.ClassConfig, "load config", err)
	}
	cat, err := resolve(doc)
	if err != nil {
		return nil, diag.Wrap(diag.ClassConfig, "resolve config", err)
	}
	return cat, nil
}

// resolve applies the Variable Expander to every string field of every
// task, normalizes task identities, registers aliases, and validates the
// [config] section, in the order spec.md §4.2 lists.
func resolve(doc *rawDocument) (*Catalog, error) {
	scope := expand.NewScope()

	// User [variables] are registered before any task field is expanded,
	// so tasks may reference them; values themselves expand lazily.
	for name, raw := range doc.Variables {
		scope.Set(name, raw)
	}

	cat := &Catalog{
		Tasks:   make(map[string]*Task, len(doc.Task)),
		Aliases: make(map[string]string),
	}

	// Deterministic iteration order so duplicate-id/alias errors are
	// reproducible across runs.
	keys := make([]string, 0, len(doc.Task))
	for k := range doc.Task {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		raw := doc.Task[key]
		task, err := resolveTask(scope, key, raw)
		if err != nil {
			return nil, err
		}
		if _, exists := cat.Tasks[task.ID]; exists {
			return nil, fmt.Errorf("duplicate task id %q", task.ID)
		}
		cat.Tasks[task.ID] = task
	}

	// Aliases are registered in a second pass so an alias can never
	// collide with an id that appears later in iteration order either.
	for _, key := range keys {
		task := cat.Tasks[resolvedID(doc.Task[key], key)]
		for _, alias := range task.Aliases {
			if alias == "" {
				return nil, fmt.Errorf("task %q declares an empty alias", task.ID)
			}
			if _, exists := cat.Tasks[alias]; exists {
				return nil, fmt.Errorf("alias %q (declared by task %q) collides with an existing task id", alias, task.ID)
			}
			if existingID, exists := cat.Aliases[alias]; exists {
				return nil, fmt.Errorf("alias %q already registered for task %q", alias, existingID)
			}
			cat.Aliases[alias] = task.ID
		}
	}

	global, err := resolveGlobal(scope, doc.Config)
	if err != nil {
		return nil, err
	}
	cat.Global = global

	return cat, nil
}

func resolvedID(raw rawTask, key string) string {
	if raw.ID != "" {
		return raw.ID
	}
	return key
}

func resolveTask(scope *expand.Scope, key string, raw rawTask) (*Task, error) {
	id := resolvedID(raw, key)
	if id == "" {
		return nil, fmt.Errorf("task %q: empty task id is not allowed", key)
	}

	command, err := scope.Text(raw.Command, fmt.Sprintf("task %q command", id))
	if err != nil {
		return nil, err
	}
	if command == "" {
		return nil, fmt.Errorf("task %q: command is required and must be non-empty after expansion", id)
	}

	deps, err := expandAll(scope, raw.Dependencies, fmt.Sprintf("task %q dependencies", id))
	if err != nil {
		return nil, err
	}

	var inputs []string
	if raw.Inputs != nil {
		inputs, err = expandAll(scope, raw.Inputs, fmt.Sprintf("task %q inputs", id))
		if err != nil {
			return nil, err
		}
		if inputs == nil {
			inputs = []string{}
		}
	}

	outputs, err := expandAll(scope, raw.Outputs, fmt.Sprintf("task %q outputs", id))
	if err != nil {
		return nil, err
	}

	aliases, err := expandAll(scope, raw.Aliases, fmt.Sprintf("task %q aliases", id))
	if err != nil {
		return nil, err
	}

	var timeout *time.Duration
	if raw.Timeout != "" {
		expanded, err := scope.Text(raw.Timeout, fmt.Sprintf("task %q timeout", id))
		if err != nil {
			return nil, err
		}
		d, err := parseDuration(expanded)
		if err != nil {
			return nil, fmt.Errorf("task %q: %w", id, err)
		}
		timeout = &d
	}

	return &Task{
		ID:           id,
		Command:      command,
		Dependencies: deps,
		Inputs:       inputs,
		Outputs:      outputs,
		Aliases:      aliases,
		AlwaysRun:    raw.AlwaysRun,
		AutoRemove:   raw.AutoRemove,
		Timeout:      timeout,
	}, nil
}

func expandAll(scope *expand.Scope, items []string, field string) ([]string, error) {
	if items == nil {
		return nil, nil
	}
	out := make([]string, len(items))
	for i, item := range items {
		v, err := scope.Text(item, fmt.Sprintf("%s[%d]", field, i))
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func resolveGlobal(scope *expand.Scope, raw rawGlobal) (Global, error) {
	g := Global{
		CacheDir: ".compi_cache",
		Workers:  runtime.NumCPU(),
		Output:   "group",
		Color:    "auto",
	}

	if raw.Default != "" {
		v, err := scope.Text(raw.Default, "config.default")
		if err != nil {
			return Global{}, err
		}
		g.Default = v
	}

	if raw.CacheDir != "" {
		v, err := scope.Text(raw.CacheDir, "config.cache_dir")
		if err != nil {
			return Global{}, err
		}
		g.CacheDir = v
	}

	if raw.Workers > 0 {
		g.Workers = raw.Workers
	} else if raw.Workers < 0 {
		return Global{}, fmt.Errorf("config.workers must be a positive integer, got %d", raw.Workers)
	}

	if raw.DefaultTimeout != "" {
		v, err := scope.Text(raw.DefaultTimeout, "config.default_timeout")
		if err != nil {
			return Global{}, err
		}
		d, err := parseDuration(v)
		if err != nil {
			return Global{}, fmt.Errorf("config.default_timeout: %w", err)
		}
		g.DefaultTimeout = &d
	}

	if raw.Output != "" {
		v, err := scope.Text(raw.Output, "config.output")
		if err != nil {
			return Global{}, err
		}
		if v != "group" && v != "stream" {
			return Global{}, fmt.Errorf("config.output must be %q or %q, got %q", "group", "stream", v)
		}
		g.Output = v
	}

	if raw.Color != "" {
		v, err := scope.Text(raw.Color, "config.color")
		if err != nil {
			return Global{}, err
		}
		if v != "auto" && v != "always" && v != "never" {
			return Global{}, fmt.Errorf("config.color must be %q, %q, or %q, got %q", "auto", "always", "never", v)
		}
		g.Color = v
	}

	return g, nil
}
