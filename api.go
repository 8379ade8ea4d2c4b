package bundletest

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/log"
	"golang.org/x/sync/errgroup"

	"github.com/ethereum-optimism/infra/op-bundletest/metrics"
	"github.com/ethereum-optimism/infra/op-bundletest/runner"
	"github.com/ethereum-optimism/infra/op-bundletest/types"
)

// API is the helper surface handed to every build-write invocation. It is
// bound to the output directory of that build.
type API struct {
	dir string
	log log.Logger
}

// NewAPI creates an API for a build written with the given output options
func NewAPI(opts types.OutputOptions, logger log.Logger) *API {
	if logger == nil {
		logger = log.New()
	}
	return &API{
		dir: opts.OutputDir(),
		log: logger,
	}
}

// Dir returns the output directory path
func (a *API) Dir() string {
	return a.dir
}

// Instance creates a test runner without options
func (a *API) Instance() runner.Runner {
	return runner.New(runner.Config{Log: a.log})
}

// NoCache evicts every file from the shared module cache as soon as the
// runner loads it, so rerunning a rebuilt file picks up its new contents.
func (a *API) NoCache(r runner.Runner) *API {
	r.OnLoad(func(file string) {
		runner.Modules.Delete(file)
	})
	return a
}

// GetFiles returns the paths of the executable chunks of bundle, joined with
// the output directory, in bundle order.
func (a *API) GetFiles(bundle *types.Bundle) []string {
	var files []string
	bundle.Range(func(fileName string, output types.Output) bool {
		if output.IsChunk() {
			files = append(files, filepath.Join(a.dir, fileName))
		}
		return true
	})
	return files
}

// AddFiles registers files with the runner
func (a *API) AddFiles(files []string, r runner.Runner) *API {
	for _, file := range files {
		r.AddFile(file)
	}
	return a
}

// validateFiles makes sure files are within the output directory
func (a *API) validateFiles(files []string, force bool) error {
	loggedDir := false
	for _, file := range files {
		if strings.HasPrefix(filepath.Dir(file), a.dir) {
			continue
		}
		if !force {
			return &UnsafeRemovalError{File: file, Dir: a.dir}
		}
		if !loggedDir {
			loggedDir = true
			a.log.Warn("Output directory", "dir", a.dir)
		}
		a.log.Warn("Deleting file outside of output directory", "file", file)
	}
	return nil
}

// RemoveFiles deletes files from the file system. Every path is validated
// before anything is deleted; files outside of the output directory are only
// removed when force is set. Missing files are already removed.
func (a *API) RemoveFiles(ctx context.Context, files []string, force bool) error {
	if err := a.validateFiles(files, force); err != nil {
		return err
	}

	var removed atomic.Int64
	var g errgroup.Group
	for _, file := range files {
		g.Go(func() error {
			ok, err := removeFile(file)
			if ok {
				removed.Add(1)
			}
			return err
		})
	}
	err := g.Wait()
	metrics.RecordRemovedFiles(int(removed.Load()))
	if err != nil {
		metrics.RecordErrorDetails("remove_files", err)
		return err
	}
	a.log.Debug("Removed output files", "dir", a.dir, "removed", removed.Load(), "requested", len(files))
	return nil
}

// removeFile deletes file if it exists and reports whether it did
func removeFile(file string) (bool, error) {
	if _, err := os.Stat(file); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("failed to stat %s: %w", file, err)
	}
	if err := os.Remove(file); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("failed to remove %s: %w", file, err)
	}
	return true, nil
}

// Run waits for the execution to complete. It returns a TestFailureError if
// any test failed.
func (a *API) Run(ctx context.Context, execution *runner.Execution) error {
	select {
	case <-execution.Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	if failures := execution.Failures(); failures > 0 {
		return NewTestFailureError(failures)
	}
	return nil
}
