package scheduler_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"compi/internal/config"
	"compi/internal/graph"
	"compi/internal/logging"
	"compi/internal/scheduler"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func task(id, command string, deps ...string) *config.Task {
	return &config.Task{ID: id, Command: command, Dependencies: deps}
}

func buildGraph(t *testing.T, tasks ...*config.Task) *graph.Graph {
	t.Helper()
	cat := &config.Catalog{Tasks: make(map[string]*config.Task), Aliases: make(map[string]string)}
	var targets []string
	for _, tk := range tasks {
		cat.Tasks[tk.ID] = tk
		targets = append(targets, tk.ID)
	}
	g, err := graph.Build(cat, targets)
	require.NoError(t, err)
	return g
}

func newScheduler(t *testing.T, g *graph.Graph, opts scheduler.Options) *scheduler.Scheduler {
	t.Helper()
	if opts.ConfigDir == "" {
		opts.ConfigDir = t.TempDir()
	}
	if opts.CacheDir == "" {
		opts.CacheDir = ".compi_cache"
	}
	s, err := scheduler.New(g, opts, logging.NewNop())
	require.NoError(t, err)
	return s
}

func TestRun_SimpleTaskSucceeds(t *testing.T) {
	g := buildGraph(t, task("a", "true"))
	s := newScheduler(t, g, scheduler.Options{Workers: 2, Output: "group"})

	results, err := s.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.False(t, results[0].Skipped)
	assert.False(t, results[0].Failed)
}

func TestRun_DependencyOrderRespected(t *testing.T) {
	dir := t.TempDir()
	marker := filepath.Join(dir, "order.txt")

	g := buildGraph(t,
		task("first", "echo first >> "+marker),
		task("second", "echo second >> "+marker, "first"),
	)
	s := newScheduler(t, g, scheduler.Options{Workers: 2, Output: "group", ConfigDir: dir})

	_, err := s.Run(context.Background())
	require.NoError(t, err)

	data, err := os.ReadFile(marker)
	require.NoError(t, err)
	assert.Equal(t, "first\nsecond\n", string(data))
}

func TestRun_FailFastDoesNotSpawnUnreadyDependents(t *testing.T) {
	dir := t.TempDir()
	marker := filepath.Join(dir, "ran.txt")

	g := buildGraph(t,
		task("boom", "exit 1"),
		task("after", "echo should-not-run >> "+marker, "boom"),
	)
	s := newScheduler(t, g, scheduler.Options{Workers: 2, Output: "group", ConfigDir: dir})

	_, err := s.Run(context.Background())
	require.Error(t, err)

	_, statErr := os.Stat(marker)
	assert.True(t, os.IsNotExist(statErr))
}

func TestRun_Timeout(t *testing.T) {
	to := 200 * time.Millisecond
	g := buildGraph(t, task("slow", "sleep 5"))
	slowTask := g.Tasks["slow"]
	slowTask.Timeout = &to

	s := newScheduler(t, g, scheduler.Options{Workers: 1, Output: "group"})

	start := time.Now()
	results, err := s.Run(context.Background())
	require.Error(t, err)
	require.Len(t, results, 1)
	assert.True(t, results[0].Failed)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestRun_AutoRemoveDeletesOutputAfterSuccess(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "tmp.log")

	tk := task("t", "echo x > "+out)
	tk.Outputs = []string{out}
	tk.AutoRemove = true

	g := buildGraph(t, tk)
	s := newScheduler(t, g, scheduler.Options{Workers: 1, Output: "group", ConfigDir: dir})

	_, err := s.Run(context.Background())
	require.NoError(t, err)

	_, statErr := os.Stat(out)
	assert.True(t, os.IsNotExist(statErr))
}

func TestRun_CachedSkipOnSecondInvocation(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.c")
	out := filepath.Join(dir, "a.out")
	require.NoError(t, os.WriteFile(a, []byte("x"), 0o644))

	tk := task("build", "cp "+a+" "+out)
	tk.Inputs = []string{a}
	tk.Outputs = []string{out}

	runOnce := func() []scheduler.TaskResult {
		g := buildGraph(t, tk)
		s := newScheduler(t, g, scheduler.Options{Workers: 1, Output: "group", ConfigDir: dir, CacheDir: ".cache"})
		results, err := s.Run(context.Background())
		require.NoError(t, err)
		return results
	}

	first := runOnce()
	require.Len(t, first, 1)
	assert.False(t, first[0].Skipped)

	second := runOnce()
	require.Len(t, second, 1)
	assert.True(t, second[0].Skipped)
}

func TestRun_DryRunSpawnsNothing(t *testing.T) {
	dir := t.TempDir()
	marker := filepath.Join(dir, "marker.txt")

	g := buildGraph(t, task("t", "touch "+marker))
	s := newScheduler(t, g, scheduler.Options{Workers: 1, Output: "group", ConfigDir: dir, DryRun: true})

	results, err := s.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "t", results[0].ID)

	_, statErr := os.Stat(marker)
	assert.True(t, os.IsNotExist(statErr), "dry-run must never spawn a subprocess")
}
