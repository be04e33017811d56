package config

import (
	"fmt"

	"github.com/BurntSushi/toml"
)

// rawDocument mirrors the TOML shape described in spec.md §6: [config],
// [variables], and one [task.<key>] table per task. Decoding this shape
// is the "black box raw configuration-file deserialization" spec.md §1
// treats as an external collaborator — BurntSushi/toml performs it; this
// file only declares the target shape.
type rawDocument struct {
	Config    rawGlobal            `toml:"config"`
	Variables map[string]string    `toml:"variables"`
	Task      map[string]rawTask   `toml:"task"`
}

type rawGlobal struct {
	Default        string `toml:"default"`
	CacheDir       string `toml:"cache_dir"`
	Workers        int    `toml:"workers"`
	DefaultTimeout string `toml:"default_timeout"`
	Output         string `toml:"output"`
	Color          string `toml:"color"`
}

type rawTask struct {
	ID           string   `toml:"id"`
	Command      string   `toml:"command"`
	Dependencies []string `toml:"dependencies"`
	Inputs       []string `toml:"inputs"`
	Outputs      []string `toml:"outputs"`
	Aliases      []string `toml:"aliases"`
	AlwaysRun    bool     `toml:"always_run"`
	AutoRemove   bool     `toml:"auto_remove"`
	Timeout      string   `toml:"timeout"`
}

// loadFile decodes the TOML document at path into a rawDocument.
func loadFile(path string) (*rawDocument, error) {
	var doc rawDocument
	meta, err := toml.DecodeFile(path, &doc)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	_ = meta // undecoded/unknown keys are intentionally ignored (forward-compat)
	if doc.Task == nil {
		doc.Task = map[string]rawTask{}
	}
	if doc.Variables == nil {
		doc.Variables = map[string]string{}
	}
	return &doc, nil
}
