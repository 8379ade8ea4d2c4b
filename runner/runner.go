package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"

	"github.com/ethereum-optimism/infra/op-bundletest/types"
)

// FilePlaceholder is replaced by the staged file path in a command template
const FilePlaceholder = "{file}"

// outputWaitDelay bounds how long a killed file's leftover children may keep
// its output pipes open
const outputWaitDelay = 2 * time.Second

var _ Runner = (*ExecRunner)(nil)

// Runner accumulates test files and executes them
type Runner interface {
	// AddFile registers a file to execute on the next Run
	AddFile(file string)
	// Files returns the registered files in registration order
	Files() []string
	// OnLoad registers fn to be called every time a file is loaded for execution
	OnLoad(fn func(file string))
	// Run starts executing the registered files and returns immediately
	Run(ctx context.Context) *Execution
}

// Config holds configuration for creating a new ExecRunner
type Config struct {
	Log      log.Logger
	Command  []string      // Command template; FilePlaceholder marks the file, otherwise it is appended
	Env      []string      // Extra environment variables for every file
	Timeout  time.Duration // Per-file timeout, 0 disables it
	StageDir string        // Where loaded modules are staged
}

// ExecRunner runs every registered file as a separate process and collects
// test results from its output.
type ExecRunner struct {
	log      log.Logger
	command  []string
	env      []string
	timeout  time.Duration
	stageDir string
	modules  *ModuleCache

	mu     sync.Mutex
	files  []string
	onLoad []func(file string)
}

// New creates an ExecRunner. The zero Config executes each file directly.
func New(cfg Config) *ExecRunner {
	if cfg.Log == nil {
		cfg.Log = log.New()
	}
	if cfg.StageDir == "" {
		cfg.StageDir = filepath.Join(os.TempDir(), "op-bundletest-modules")
	}
	return &ExecRunner{
		log:      cfg.Log,
		command:  slices.Clone(cfg.Command),
		env:      slices.Clone(cfg.Env),
		timeout:  cfg.Timeout,
		stageDir: cfg.StageDir,
		modules:  Modules,
	}
}

// AddFile implements the Runner interface
func (r *ExecRunner) AddFile(file string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.files = append(r.files, file)
}

// Files implements the Runner interface
func (r *ExecRunner) Files() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.files)
}

// OnLoad implements the Runner interface
func (r *ExecRunner) OnLoad(fn func(file string)) {
	if fn == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onLoad = append(r.onLoad, fn)
}

// Run implements the Runner interface
func (r *ExecRunner) Run(ctx context.Context) *Execution {
	execution := NewExecution()

	r.mu.Lock()
	files := slices.Clone(r.files)
	hooks := slices.Clone(r.onLoad)
	r.mu.Unlock()

	go func() {
		defer execution.Finish()
		r.execute(ctx, execution, files, hooks)
	}()
	return execution
}

func (r *ExecRunner) execute(ctx context.Context, execution *Execution, files []string, hooks []func(string)) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-execution.Aborted():
			cancel()
		case <-ctx.Done():
		}
	}()

	r.log.Debug("Running test files", "run_id", execution.ID(), "files", len(files))
	execution.Emit(Event{Kind: EventStart})

	for _, file := range files {
		if ctx.Err() != nil {
			r.log.Warn("Test run stopped before all files ran", "run_id", execution.ID(), "file", file)
			return
		}

		mod, err := r.modules.Load(file, r.stageDir)
		if err != nil {
			r.emitResult(execution, &types.TestResult{
				File:   file,
				Name:   filepath.Base(file),
				Status: types.TestStatusFail,
				Error:  err,
			})
			continue
		}
		for _, hook := range hooks {
			hook(file)
		}
		execution.Emit(Event{Kind: EventLoad, File: file})

		for _, result := range r.runFile(ctx, file, mod) {
			r.emitResult(execution, result)
		}
		if err := r.modules.Release(mod); err != nil {
			r.log.Warn("Failed to release staged module", "file", file, "err", err)
		}
	}
}

func (r *ExecRunner) emitResult(execution *Execution, result *types.TestResult) {
	kind := EventPass
	switch result.Status {
	case types.TestStatusFail:
		kind = EventFail
	case types.TestStatusSkip:
		kind = EventSkip
	}
	execution.Emit(Event{Kind: kind, File: result.File, Result: result})
}

// runFile executes one staged module and converts its output into results
func (r *ExecRunner) runFile(ctx context.Context, file string, mod *Module) []*types.TestResult {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	name, args := r.buildCommand(mod.Staged)
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = filepath.Dir(mod.Path)
	cmd.Env = append(os.Environ(), r.env...)
	cmd.WaitDelay = outputWaitDelay

	var stdout, stderr bytes.Buffer
	tail := newTailBuffer(defaultOutputTailBytes)
	cmd.Stdout = io.MultiWriter(&stdout, tail)
	cmd.Stderr = io.MultiWriter(&stderr, tail)

	r.log.Info("Running test file", "file", file, "staged", mod.Staged)
	start := time.Now()
	runErr := cmd.Run()
	duration := time.Since(start)

	results, parseErr := parseOutput(&stdout, file)
	if parseErr != nil {
		r.log.Warn("Failed to parse test output", "file", file, "err", parseErr)
	}

	timedOut := r.timeout > 0 && errors.Is(ctx.Err(), context.DeadlineExceeded)
	failed := slices.ContainsFunc(results, func(res *types.TestResult) bool { return res.Failed() })

	switch {
	case timedOut:
		results = append(results, &types.TestResult{
			File:     file,
			Name:     filepath.Base(file),
			Status:   types.TestStatusFail,
			Error:    fmt.Errorf("test file exceeded timeout of %v", r.timeout),
			Duration: duration,
			Output:   tail.snippet(),
			TimedOut: true,
		})
	case runErr != nil && !failed:
		results = append(results, &types.TestResult{
			File:     file,
			Name:     filepath.Base(file),
			Status:   types.TestStatusFail,
			Error:    describeRunError(runErr, stderr.String()),
			Duration: duration,
			Output:   tail.snippet(),
		})
	case runErr == nil && len(results) == 0:
		results = append(results, &types.TestResult{
			File:     file,
			Name:     filepath.Base(file),
			Status:   types.TestStatusPass,
			Duration: duration,
		})
	}
	return results
}

func (r *ExecRunner) buildCommand(staged string) (string, []string) {
	if len(r.command) == 0 {
		return staged, nil
	}
	args := make([]string, 0, len(r.command))
	replaced := false
	for _, arg := range r.command[1:] {
		if strings.Contains(arg, FilePlaceholder) {
			arg = strings.ReplaceAll(arg, FilePlaceholder, staged)
			replaced = true
		}
		args = append(args, arg)
	}
	if !replaced {
		args = append(args, staged)
	}
	return r.command[0], args
}

func describeRunError(runErr error, stderr string) error {
	stderr = strings.TrimSpace(stderr)
	var exitErr *exec.ExitError
	if errors.As(runErr, &exitErr) {
		if stderr != "" {
			return fmt.Errorf("test file exited with code %d: %s", exitErr.ExitCode(), stderr)
		}
		return fmt.Errorf("test file exited with code %d", exitErr.ExitCode())
	}
	return fmt.Errorf("failed to run test file: %w", runErr)
}
