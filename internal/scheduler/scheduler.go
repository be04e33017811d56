// Package scheduler implements compi's Scheduler (spec.md §4.6): a
// bounded worker pool that drains a graph.Graph in dependency order,
// invoking the Glob Resolver and Staleness Oracle per task, spawning
// subprocesses for tasks that must run, and propagating failure with
// fail-fast semantics that never cancel in-flight siblings.
//
// The ready-queue/worker-pool shape is grounded on
// theRebelliousNerd-codenerd's internal/core/shards spawn queue
// (channel-fed priority queues drained by a fixed worker pool, single
// owner for shared state) generalized here to dependency-count-gated
// readiness instead of priority levels, with golang.org/x/sync/errgroup
// supplying the worker pool itself in place of a raw WaitGroup. The
// per-line output collector is grounded on Noldarim's
// activities.outputCollector (stream mode), and subprocess spawning
// generalizes Noldarim's local_exec.go use of os/exec, adapted for a
// host-shell invocation and spec.md's SIGTERM-then-grace-then-kill
// timeout policy (hand-rolled against os/exec + syscall since no pack
// example wraps that exact timeout escalation as a reusable library).
package scheduler

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"compi/internal/cache"
	"compi/internal/config"
	"compi/internal/diag"
	"compi/internal/globs"
	"compi/internal/graph"
)

const killGrace = 5 * time.Second

// Options configures one Scheduler run, per spec.md §4.6's contract.
type Options struct {
	Workers        int
	DefaultTimeout *time.Duration
	Output         string // "group" or "stream"
	Remove         bool   // --rm: delete outputs after every success, not just auto_remove tasks
	DryRun         bool
	ConfigDir      string // working directory for subprocesses; base dir for glob/output resolution
	CacheDir       string
}

// TaskResult is one row of the run report, used for dry-run output and
// the final summary.
type TaskResult struct {
	ID       string
	Skipped  bool
	Reason   string
	Failed   bool
	Err      error
	Duration time.Duration
}

// Scheduler drives one Plan to completion.
type Scheduler struct {
	graph *graph.Graph
	opts  Options
	log   *zap.SugaredLogger

	mu         sync.Mutex
	doc        *cache.Document
	remaining  map[string]int
	dependents map[string][]string
	failed     bool
	firstErr   error
	results    []TaskResult
}

// New constructs a Scheduler for g, loading (or initializing) the
// persistent cache document from opts.CacheDir.
func New(g *graph.Graph, opts Options, log *zap.SugaredLogger) (*Scheduler, error) {
	if opts.Workers <= 0 {
		opts.Workers = runtime.NumCPU()
	}

	cachePath := filepath.Join(opts.ConfigDir, opts.CacheDir, "compi_cache.json")
	doc, warning := cache.Load(cachePath)
	if warning != "" {
		log.Warn(warning)
	}

	remaining := make(map[string]int, len(g.Tasks))
	dependents := make(map[string][]string, len(g.Tasks))
	for id, deps := range g.Edges {
		remaining[id] = len(deps)
		for _, dep := range deps {
			dependents[dep] = append(dependents[dep], id)
		}
	}

	return &Scheduler{
		graph:      g,
		opts:       opts,
		log:        log,
		doc:        doc,
		remaining:  remaining,
		dependents: dependents,
	}, nil
}

// Run executes (or, in dry-run mode, merely evaluates) the whole plan
// and returns the accumulated per-task results plus the first failure
// encountered, if any.
func (s *Scheduler) Run(ctx context.Context) ([]TaskResult, error) {
	if s.opts.DryRun {
		return s.dryRun(), nil
	}

	ready := make(chan string, len(s.graph.Tasks))
	done := make(chan TaskResult, len(s.graph.Tasks))

	// pending tracks tasks dispatched to ready but not yet completed.
	// The run loop below drains exactly pending results, never a fixed
	// task total — a fixed total deadlocks as soon as fail-fast leaves
	// some dependent permanently undispatched (spec.md §8).
	pending := 0
	if len(s.graph.Levels) > 0 {
		for _, id := range s.graph.Levels[0] {
			ready <- id
			pending++
		}
	}

	// Workers are a fixed-size errgroup pool, mirroring the bounded
	// concurrency the teacher achieves via errgroup.Group.SetLimit
	// elsewhere in its codebase — here the pool size is spec.md's
	// worker count W rather than a library-enforced limit, since
	// readiness (not just a slot count) gates dispatch.
	group, groupCtx := errgroup.WithContext(ctx)
	for i := 0; i < s.opts.Workers; i++ {
		group.Go(func() error {
			s.worker(groupCtx, ready, done)
			return nil
		})
	}

	for pending > 0 {
		res := <-done
		pending--
		pending += s.recordAndAdvance(res, ready)
	}
	close(ready)
	_ = group.Wait()
	close(done)

	if err := s.doc.Save(); err != nil {
		s.log.Warnf("final cache save failed: %v", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.results, s.firstErr
}

// recordAndAdvance records one completed result and, unless the run has
// already failed, admits any dependents it newly unblocks. It returns
// the number of tasks it pushed to ready, so the caller can keep its
// pending count in sync with what is actually in flight.
func (s *Scheduler) recordAndAdvance(res TaskResult, ready chan<- string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.results = append(s.results, res)

	if res.Failed {
		if !s.failed {
			s.failed = true
			s.firstErr = res.Err
		}
		return 0
	}

	if s.failed {
		return 0 // fail-fast: stop admitting new work, let in-flight finish
	}

	newlyReady := 0
	for _, dependent := range s.dependents[res.ID] {
		s.remaining[dependent]--
		if s.remaining[dependent] == 0 {
			ready <- dependent
			newlyReady++
		}
	}
	return newlyReady
}

func (s *Scheduler) worker(ctx context.Context, ready <-chan string, done chan<- TaskResult) {
	for id := range ready {
		done <- s.runTask(ctx, id)
	}
}

func (s *Scheduler) runTask(ctx context.Context, id string) TaskResult {
	start := time.Now()
	task := s.graph.Tasks[id]

	in, resolvedOutputs, warnings := s.resolveStaleness(task)
	for _, w := range warnings {
		s.log.Warn(w)
	}

	s.mu.Lock()
	prevEntry := s.doc.Entry(id)
	s.mu.Unlock()

	decision, hashes, evalWarnings := cache.Evaluate(prevEntry, in)
	for _, w := range evalWarnings {
		s.log.Warn(w)
	}

	if !decision.Run {
		s.log.Infof("task %s: SKIP (%s)", id, decision.Reason)
		return TaskResult{ID: id, Skipped: true, Reason: decision.Reason, Duration: time.Since(start)}
	}
	s.log.Infof("task %s: RUN (%s)", id, decision.Reason)

	if err := s.spawn(ctx, id, task); err != nil {
		return TaskResult{ID: id, Failed: true, Err: err, Duration: time.Since(start)}
	}

	s.mu.Lock()
	s.doc.Put(id, hashes)
	if err := s.doc.Save(); err != nil {
		s.log.Warnf("cache save after task %s failed: %v", id, err)
	}
	s.mu.Unlock()

	if s.opts.Remove || task.AutoRemove {
		removeOutputs(resolvedOutputs)
	}

	return TaskResult{ID: id, Duration: time.Since(start)}
}

// resolveStaleness expands this task's input/output glob patterns and
// builds the Oracle's Inputs value.
func (s *Scheduler) resolveStaleness(task *config.Task) (cache.Inputs, []string, []string) {
	var warnings []string

	inputRes := globs.Expand(task.Inputs, s.opts.ConfigDir)
	warnings = append(warnings, inputRes.Warnings...)

	outputRes := globs.Expand(task.Outputs, s.opts.ConfigDir)
	warnings = append(warnings, outputRes.Warnings...)

	in := cache.Inputs{
		TaskID:         task.ID,
		AlwaysRun:      task.AlwaysRun,
		InputsDeclared: task.HasInputs(),
		InputPaths:     inputRes.Paths,
		OutputPaths:    outputRes.Paths,
	}
	return in, outputRes.Paths, warnings
}

// spawn runs task.Command through the host shell, enforcing the
// effective timeout and the configured output mode.
func (s *Scheduler) spawn(ctx context.Context, id string, task *config.Task) error {
	timeout := s.opts.DefaultTimeout
	if task.Timeout != nil {
		timeout = task.Timeout
	}

	// A cancelled run context stops new subprocesses from starting, but a
	// command that is already running is not killed by it: only the
	// per-task timeout below terminates a running command.
	if err := ctx.Err(); err != nil {
		return diag.Wrap(diag.ClassRuntime, fmt.Sprintf("task %q not started", id), err)
	}

	runCtx := context.WithoutCancel(ctx)
	var cancel context.CancelFunc
	if timeout != nil {
		runCtx, cancel = context.WithCancel(runCtx)
		defer cancel()
	}

	cmd := shellCommand(runCtx, task.Command)
	cmd.Dir = s.opts.ConfigDir
	cmd.Env = os.Environ()

	var stdout, stderr io.Writer
	var group *groupBuffer
	var outPrefix, errPrefix *linePrefixer
	if s.opts.Output == "stream" {
		outPrefix = &linePrefixer{id: id, dst: os.Stdout}
		errPrefix = &linePrefixer{id: id, dst: os.Stderr}
		stdout = outPrefix
		stderr = errPrefix
	} else {
		group = &groupBuffer{}
		stdout = &group.stdout
		stderr = &group.stderr
	}
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		return diag.Wrap(diag.ClassRuntime, fmt.Sprintf("spawn task %q", id), err)
	}

	var timedOut bool
	var timer *time.Timer
	if timeout != nil {
		timer = time.AfterFunc(*timeout, func() {
			timedOut = true
			terminateGracefully(cmd)
		})
	}

	waitErr := cmd.Wait()
	if timer != nil {
		timer.Stop()
	}

	if outPrefix != nil {
		outPrefix.Flush()
		errPrefix.Flush()
	}
	if group != nil {
		s.flushGroup(id, group)
	}

	if timedOut {
		return diag.New(diag.ClassRuntime, fmt.Sprintf("task %q timed out after %s", id, timeout))
	}
	if waitErr != nil {
		return diag.Wrap(diag.ClassRuntime, fmt.Sprintf("task %q exited with error", id), waitErr)
	}
	return nil
}

// flushGroup writes out a task's whole buffered output as a single
// contiguous block, prefixed once with the task id, guaranteeing no
// interleaving with a concurrent task's output (spec.md §4.6 "group").
func (s *Scheduler) flushGroup(id string, g *groupBuffer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if g.stdout.Len() > 0 {
		fmt.Fprintf(os.Stdout, "[%s] %s\n", id, strings.TrimRight(g.stdout.String(), "\n"))
	}
	if g.stderr.Len() > 0 {
		fmt.Fprintf(os.Stderr, "[%s] %s\n", id, strings.TrimRight(g.stderr.String(), "\n"))
	}
}

type groupBuffer struct {
	stdout bytes.Buffer
	stderr bytes.Buffer
}

// linePrefixer forwards each completed line to dst immediately,
// prefixed with the task id, per spec.md §4.6's "stream" output mode.
type linePrefixer struct {
	id  string
	dst io.Writer
	buf bytes.Buffer
	mu  sync.Mutex
}

func (p *linePrefixer) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.buf.Write(b)
	for {
		line, err := p.buf.ReadString('\n')
		if err != nil {
			// incomplete line: push it back and wait for more input
			p.buf.Reset()
			p.buf.WriteString(line)
			break
		}
		fmt.Fprintf(p.dst, "[%s] %s", p.id, line)
	}
	return len(b), nil
}

// Flush emits any residual partial line left in the buffer once the
// task's command has exited, so a final line with no trailing newline
// is never silently dropped.
func (p *linePrefixer) Flush() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.buf.Len() == 0 {
		return
	}
	fmt.Fprintf(p.dst, "[%s] %s\n", p.id, p.buf.String())
	p.buf.Reset()
}

func removeOutputs(paths []string) {
	for _, p := range paths {
		clean := strings.TrimSuffix(p, "/")
		_ = os.RemoveAll(clean)
	}
}

func terminateGracefully(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	_ = cmd.Process.Signal(syscall.SIGTERM)
	time.AfterFunc(killGrace, func() {
		_ = cmd.Process.Kill()
	})
}

func shellCommand(ctx context.Context, command string) *exec.Cmd {
	if runtime.GOOS == "windows" {
		return exec.CommandContext(ctx, "cmd", "/C", command)
	}
	return exec.CommandContext(ctx, "/bin/sh", "-c", command)
}

// dryRun evaluates every task's RUN/SKIP decision in dependency order
// without spawning any subprocess or mutating the cache or filesystem.
func (s *Scheduler) dryRun() []TaskResult {
	var results []TaskResult
	for _, level := range s.graph.Levels {
		ids := append([]string{}, level...)
		sort.Strings(ids)
		for _, id := range ids {
			task := s.graph.Tasks[id]
			in, _, _ := s.resolveStaleness(task)
			decision, _, _ := cache.Evaluate(s.doc.Entry(id), in)
			results = append(results, TaskResult{ID: id, Skipped: !decision.Run, Reason: decision.Reason})
		}
	}
	return results
}
