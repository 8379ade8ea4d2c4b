package bundletest

import (
	"context"

	"github.com/ethereum-optimism/infra/op-bundletest/runner"
	"github.com/ethereum-optimism/infra/op-bundletest/types"
)

// Setup configures how a plugin reacts to a bundle write. It is implemented by
// exactly two types: Options, which runs the default orchestration with
// per-step overrides, and SetupFunc, which replaces the orchestration.
type Setup interface {
	setupFunc() SetupFunc
}

var (
	_ Setup = Options{}
	_ Setup = SetupFunc(nil)
)

// SetupFunc fully replaces the test orchestration. It receives the API bound
// to the build's output directory and the emitted bundle, and must return an
// error if the tests fail.
type SetupFunc func(ctx context.Context, api *API, bundle *types.Bundle) error

func (f SetupFunc) setupFunc() SetupFunc {
	return f
}

// Options tunes the default orchestration. Every field is optional; a nil
// function falls back to the default behavior of its step.
type Options struct {
	// Cache keeps loaded modules cached between runs. By default every file
	// is evicted from the module cache when it is loaded, so tests rerun in
	// watch mode see the rebuilt files.
	Cache bool
	// Clear deletes the emitted files after the tests ran.
	// By default the files are kept.
	Clear bool
	// Instance creates the test runner. Defaults to a runner without options.
	Instance func(ctx context.Context) (runner.Runner, error)
	// FilterFiles narrows the files that are added to the runner.
	FilterFiles func(files []string) []string
	// Run executes the runner and waits for the outcome, replacing the default
	// run-and-await steps. When set, Runner is not called.
	Run func(ctx context.Context, r runner.Runner) error
	// Runner is called once the runner started executing and before its
	// completion is awaited.
	Runner func(ctx context.Context, execution *runner.Execution, r runner.Runner) error
	// RemoveFiles replaces the cleanup step. It is called after every run,
	// regardless of Clear.
	RemoveFiles func(ctx context.Context, files []string, r runner.Runner) error
	// Finally is called once everything is settled.
	Finally func(ctx context.Context, r runner.Runner) error
}

func (o Options) setupFunc() SetupFunc {
	return func(ctx context.Context, api *API, bundle *types.Bundle) error {
		return Run(ctx, api, bundle, o)
	}
}

// steps is the set of orchestration steps resolved for one invocation
type steps struct {
	cache       bool
	instance    func(ctx context.Context) (runner.Runner, error)
	filterFiles func(files []string) []string
	run         func(ctx context.Context, r runner.Runner) error
	removeFiles func(ctx context.Context, files []string, r runner.Runner) error
	finally     func(ctx context.Context, r runner.Runner) error
}

// resolve picks the caller's function for every step that has one and the
// default for the others.
func (o Options) resolve(api *API) steps {
	s := steps{
		cache:       o.Cache,
		instance:    o.Instance,
		filterFiles: o.FilterFiles,
		run:         o.Run,
		removeFiles: o.RemoveFiles,
		finally:     o.Finally,
	}

	if s.instance == nil {
		s.instance = func(context.Context) (runner.Runner, error) {
			return api.Instance(), nil
		}
	}
	if s.filterFiles == nil {
		s.filterFiles = func(files []string) []string {
			return files
		}
	}
	if s.run == nil {
		observe := o.Runner
		s.run = func(ctx context.Context, r runner.Runner) error {
			execution := r.Run(ctx)
			if observe != nil {
				if err := observe(ctx, execution, r); err != nil {
					// Do not delete files under a running test
					execution.Abort()
					_ = api.Run(ctx, execution)
					return err
				}
			}
			return api.Run(ctx, execution)
		}
	}
	if s.removeFiles == nil {
		clearFiles := o.Clear
		s.removeFiles = func(ctx context.Context, files []string, _ runner.Runner) error {
			if !clearFiles {
				return nil
			}
			return api.RemoveFiles(ctx, files, false)
		}
	}
	if s.finally == nil {
		s.finally = func(context.Context, runner.Runner) error {
			return nil
		}
	}
	return s
}
