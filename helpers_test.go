package bundletest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/log"
	"github.com/stretchr/testify/require"

	"github.com/ethereum-optimism/infra/op-bundletest/runner"
	"github.com/ethereum-optimism/infra/op-bundletest/types"
)

var _ runner.Runner = (*fakeRunner)(nil)

// fakeRunner registers files and reports a fixed number of failures
type fakeRunner struct {
	failures int
	hold     chan struct{} // when set, the execution waits for it or for Abort

	mu     sync.Mutex
	files  []string
	onLoad []func(string)
	runs   int
}

func (f *fakeRunner) AddFile(file string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.files = append(f.files, file)
}

func (f *fakeRunner) Files() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.files)
}

func (f *fakeRunner) OnLoad(fn func(string)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onLoad = append(f.onLoad, fn)
}

func (f *fakeRunner) loadHooks() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.onLoad)
}

func (f *fakeRunner) Run(ctx context.Context) *runner.Execution {
	f.mu.Lock()
	f.runs++
	files := slices.Clone(f.files)
	hooks := slices.Clone(f.onLoad)
	f.mu.Unlock()

	e := runner.NewExecution()
	go func() {
		defer e.Finish()
		e.Emit(runner.Event{Kind: runner.EventStart})
		for _, file := range files {
			for _, hook := range hooks {
				hook(file)
			}
			e.Emit(runner.Event{Kind: runner.EventLoad, File: file})
		}
		if f.hold != nil {
			select {
			case <-f.hold:
			case <-e.Aborted():
				return
			}
		}
		for i := 0; i < f.failures; i++ {
			e.Emit(runner.Event{Kind: runner.EventFail, Result: &types.TestResult{
				Name:   fmt.Sprintf("test %d", i),
				Status: types.TestStatusFail,
			}})
		}
	}()
	return e
}

func testLogger() log.Logger {
	return log.NewLogger(log.DiscardHandler())
}

// sampleBundle is the bundle used by the end-to-end scenarios
func sampleBundle() *types.Bundle {
	return types.NewBundle(
		types.Output{FileName: "index.js", Kind: types.OutputKindChunk},
		types.Output{FileName: "asset.js", Kind: types.OutputKindAsset},
		types.Output{FileName: "chunk.js", Kind: types.OutputKindChunk},
	)
}

// writeOutputs creates the files of sampleBundle inside dir
func writeOutputs(t *testing.T, dir string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	for _, name := range []string{"index.js", "asset.js", "chunk.js"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("// "+name), 0o644))
	}
}

func instanceOf(r runner.Runner) func(context.Context) (runner.Runner, error) {
	return func(context.Context) (runner.Runner, error) {
		return r, nil
	}
}
