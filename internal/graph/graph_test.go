package graph_test

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"compi/internal/config"
	"compi/internal/graph"
)

func task(id string, deps ...string) *config.Task {
	return &config.Task{ID: id, Command: "echo " + id, Dependencies: deps}
}

func catalog(tasks ...*config.Task) *config.Catalog {
	cat := &config.Catalog{Tasks: make(map[string]*config.Task), Aliases: make(map[string]string)}
	for _, t := range tasks {
		cat.Tasks[t.ID] = t
		for _, alias := range t.Aliases {
			cat.Aliases[alias] = t.ID
		}
	}
	return cat
}

func TestBuild_LinearChain(t *testing.T) {
	cat := catalog(
		task("a"),
		task("b", "a"),
		task("c", "b"),
	)
	cat.Global.Default = "c"

	g, err := graph.Build(cat, nil)
	require.NoError(t, err)
	require.Len(t, g.Tasks, 3)
	require.Len(t, g.Levels, 3)
	assert.Equal(t, []string{"a"}, g.Levels[0])
	assert.Equal(t, []string{"b"}, g.Levels[1])
	assert.Equal(t, []string{"c"}, g.Levels[2])
}

func TestBuild_DiamondSharesLevel(t *testing.T) {
	cat := catalog(
		task("a"),
		task("b", "a"),
		task("c", "a"),
		task("d", "b", "c"),
	)

	g, err := graph.Build(cat, []string{"d"})
	require.NoError(t, err)
	require.Len(t, g.Levels, 3)
	if diff := cmp.Diff([][]string{{"a"}, {"b", "c"}, {"d"}}, g.Levels); diff != "" {
		t.Errorf("levels mismatch (-want +got):\n%s", diff)
	}
}

func TestBuild_OnlyReachableSubgraphIncluded(t *testing.T) {
	cat := catalog(
		task("a"),
		task("b", "a"),
		task("unrelated"),
	)

	g, err := graph.Build(cat, []string{"b"})
	require.NoError(t, err)
	assert.Len(t, g.Tasks, 2)
	_, ok := g.Tasks["unrelated"]
	assert.False(t, ok)
}

func TestBuild_CycleDetected(t *testing.T) {
	cat := catalog(
		task("a", "b"),
		task("b", "a"),
	)

	_, err := graph.Build(cat, []string{"a"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cycle")
}

func TestBuild_DanglingDependencyRejected(t *testing.T) {
	cat := catalog(
		task("a", "ghost"),
	)

	_, err := graph.Build(cat, []string{"a"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ghost")
}

func TestBuild_UnknownTargetRejected(t *testing.T) {
	cat := catalog(task("a"))

	_, err := graph.Build(cat, []string{"nope"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nope")
}

func TestBuild_NoTargetAndNoDefaultRejected(t *testing.T) {
	cat := catalog(task("a"))

	_, err := graph.Build(cat, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "default")
}

func TestBuild_AliasTargetResolves(t *testing.T) {
	a := task("a")
	a.Aliases = []string{"build"}
	cat := catalog(a)

	g, err := graph.Build(cat, []string{"build"})
	require.NoError(t, err)
	_, ok := g.Tasks["a"]
	assert.True(t, ok)
}

func TestBuild_AliasDependencyResolves(t *testing.T) {
	a := task("a")
	a.Aliases = []string{"compile"}
	b := task("b", "compile")
	cat := catalog(a, b)

	g, err := graph.Build(cat, []string{"b"})
	require.NoError(t, err)
	require.Len(t, g.Levels, 2)
	assert.Equal(t, []string{"a"}, g.Levels[0])
	assert.Equal(t, []string{"b"}, g.Levels[1])
}
