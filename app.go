package bundletest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/evanw/esbuild/pkg/api"

	"github.com/ethereum-optimism/infra/op-bundletest/esbuildplugin"
	"github.com/ethereum-optimism/infra/op-bundletest/exitcodes"
	"github.com/ethereum-optimism/infra/op-bundletest/flags"
	"github.com/ethereum-optimism/infra/op-bundletest/runner"
	"github.com/ethereum-optimism/infra/op-bundletest/service"
	"github.com/ethereum-optimism/infra/op-bundletest/types"
	"github.com/ethereum-optimism/optimism/op-service/cliapp"
)

// tester implements the cliapp.Lifecycle interface.
var _ cliapp.Lifecycle = &tester{}

var platforms = map[flags.Platform]api.Platform{
	flags.PlatformNode:    api.PlatformNode,
	flags.PlatformBrowser: api.PlatformBrowser,
	flags.PlatformNeutral: api.PlatformNeutral,
}

var formats = map[flags.Format]api.Format{
	flags.FormatCommonJS: api.FormatCommonJS,
	flags.FormatESM:      api.FormatESModule,
	flags.FormatIIFE:     api.FormatIIFE,
}

// tester bundles the configured entry points and runs the emitted chunks,
// once or after every rebuild in watch mode.
type tester struct {
	config  *Config
	version string
	writer  *trackingWriter
	service *service.Service

	buildCtx api.BuildContext

	running atomic.Bool

	shutdownCallback func(error) // Callback to signal application shutdown
}

func NewTester(config *Config, version string, shutdownCallback func(error)) (*tester, error) {
	if config == nil {
		return nil, errors.New("config is required")
	}
	if err := config.Check(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	config.Log.Debug("Creating tester with config",
		"entries", config.Entries,
		"outdir", config.Outdir,
		"outfile", config.Outfile,
		"watch", config.Watch,
		"clear", config.Clear,
		"cache", config.Cache)

	var formatter *ConsoleResultFormatter
	if config.ResultsTable {
		formatter = NewConsoleResultFormatter(config.Log, os.Stdout)
	}
	plugin := New(testOptions(config, formatter), config.Log)

	t := &tester{
		config:           config,
		version:          version,
		writer:           &trackingWriter{plugin: plugin},
		shutdownCallback: shutdownCallback,
	}
	if config.Watch {
		svc := service.New(config.Log, service.Config{
			HealthzAddr: config.HealthzAddr,
			Metrics:     config.MetricsConfig,
		})
		t.service = svc
		t.writer.onWrite = func(err error) {
			// Failing tests are expected while watching, only broken runs are unhealthy
			if err != nil && !IsTestFailureError(err) {
				svc.Healthz.SetError(err)
				return
			}
			svc.Healthz.SetError(nil)
		}
	}
	return t, nil
}

// Start builds the bundle and runs its tests. In watch mode it returns once
// watching started and tests rerun on every rebuild until Stop.
// Start implements the cliapp.Lifecycle interface.
func (t *tester) Start(ctx context.Context) error {
	// Set up panic recovery to ensure we exit with code 2 for runtime errors
	defer func() {
		if r := recover(); r != nil {
			t.config.Log.Error("Runtime error occurred", "error", r)
			os.Exit(exitcodes.RuntimeErr)
		}
	}()

	t.running.Store(true)
	opts := t.buildOptions(ctx)

	if !t.config.Watch {
		t.config.Log.Info("Starting op-bundletest in run-once mode", "version", t.version)
		if err := t.runOnce(opts); err != nil {
			return err
		}
		t.config.Log.Info("Tests completed, exiting (run-once mode)")
		go func() {
			t.shutdownCallback(nil)
		}()
		return nil
	}

	t.config.Log.Info("Starting op-bundletest in watch mode", "version", t.version)
	if err := t.service.Start(); err != nil {
		return NewRuntimeError(err)
	}
	buildCtx, ctxErr := api.Context(opts)
	if ctxErr != nil {
		return NewRuntimeError(fmt.Errorf("failed to create build context: %s", formatMessages(ctxErr.Errors)))
	}
	t.buildCtx = buildCtx
	if err := buildCtx.Watch(api.WatchOptions{}); err != nil {
		return NewRuntimeError(fmt.Errorf("failed to watch: %w", err))
	}
	t.config.Log.Debug("op-bundletest watching for changes")
	return nil
}

func (t *tester) runOnce(opts api.BuildOptions) error {
	result := api.Build(opts)
	if len(result.Errors) == 0 {
		return nil
	}

	pluginErr := t.writer.LastError()
	switch {
	case pluginErr == nil:
		return NewRuntimeError(fmt.Errorf("build failed: %s", formatMessages(result.Errors)))
	case IsTestFailureError(pluginErr):
		t.config.Log.Warn("Run-once test run completed with failures, returning exit code 1")
		return pluginErr
	default:
		return NewRuntimeError(pluginErr)
	}
}

// Stop stops watching and the servers.
// Stop implements the cliapp.Lifecycle interface.
func (t *tester) Stop(ctx context.Context) error {
	t.config.Log.Info("Stopping op-bundletest")

	if !t.running.Load() {
		t.config.Log.Debug("Service already stopped, nothing to do")
		return nil
	}
	t.running.Store(false)

	if t.buildCtx != nil {
		t.buildCtx.Dispose()
	}
	var err error
	if t.service != nil {
		err = t.service.Shutdown(ctx)
	}
	t.config.Log.Info("op-bundletest stopped successfully")
	return err
}

// Stopped implements the cliapp.Lifecycle interface.
func (t *tester) Stopped() bool {
	return !t.running.Load()
}

func (t *tester) buildOptions(ctx context.Context) api.BuildOptions {
	return api.BuildOptions{
		EntryPoints:   t.config.Entries,
		Outdir:        t.config.Outdir,
		Outfile:       t.config.Outfile,
		AbsWorkingDir: t.config.WorkingDir,
		Bundle:        true,
		Write:         true,
		Platform:      platforms[t.config.Platform],
		Format:        formats[t.config.Format],
		External:      t.config.External,
		LogLevel:      api.LogLevelWarning,
		Plugins:       []api.Plugin{esbuildplugin.NewContext(ctx, t.writer, t.config.Log)},
	}
}

// testOptions maps the config onto the orchestration overrides
func testOptions(config *Config, formatter *ConsoleResultFormatter) Options {
	opts := Options{
		Cache: config.Cache,
		Clear: config.Clear,
		Instance: func(context.Context) (runner.Runner, error) {
			return runner.New(runner.Config{
				Log:      config.Log,
				Command:  config.Command,
				Env:      config.Env,
				Timeout:  config.Timeout,
				StageDir: config.StageDir,
			}), nil
		},
	}
	if config.Filter != "" {
		opts.FilterFiles = filterByBaseName(config.Filter)
	}
	opts.Runner = func(ctx context.Context, execution *runner.Execution, r runner.Runner) error {
		if config.RunTimeout > 0 {
			enforceRunTimeout(execution, config.RunTimeout)
		}
		if formatter != nil {
			return formatter.Observe(ctx, execution, r)
		}
		return nil
	}
	if formatter != nil {
		opts.Finally = formatter.Render
	}
	return opts
}

// enforceRunTimeout fails and aborts execution if it is still running after d
func enforceRunTimeout(execution *runner.Execution, d time.Duration) {
	timer := time.AfterFunc(d, func() {
		select {
		case <-execution.Done():
			return
		default:
		}
		// Still dropped if the execution finishes in the meantime
		execution.Emit(runner.Event{Kind: runner.EventFail, Result: &types.TestResult{
			Name:     "test run",
			Status:   types.TestStatusFail,
			Error:    fmt.Errorf("test run exceeded timeout of %v", d),
			TimedOut: true,
		}})
		execution.Abort()
	})
	go func() {
		<-execution.Done()
		timer.Stop()
	}()
}

// filterByBaseName keeps the files whose base name matches pattern
func filterByBaseName(pattern string) func([]string) []string {
	return func(files []string) []string {
		var kept []string
		for _, file := range files {
			if ok, _ := filepath.Match(pattern, filepath.Base(file)); ok {
				kept = append(kept, file)
			}
		}
		return kept
	}
}

func formatMessages(msgs []api.Message) string {
	lines := make([]string, 0, len(msgs))
	for _, msg := range msgs {
		text := msg.Text
		if msg.PluginName != "" {
			text = fmt.Sprintf("[plugin %s] %s", msg.PluginName, text)
		}
		if msg.Location != nil {
			text = fmt.Sprintf("%s:%d:%d: %s", msg.Location.File, msg.Location.Line, msg.Location.Column, text)
		}
		lines = append(lines, text)
	}
	return strings.Join(lines, "\n")
}

// trackingWriter forwards bundles to the plugin and remembers the last error,
// which esbuild only reports back as text.
type trackingWriter struct {
	plugin  *Plugin
	onWrite func(err error) // Set before the first build

	mu      sync.Mutex
	lastErr error
}

func (w *trackingWriter) Name() string {
	return w.plugin.Name()
}

func (w *trackingWriter) WriteBundle(ctx context.Context, out types.OutputOptions, bundle *types.Bundle) error {
	err := w.plugin.WriteBundle(ctx, out, bundle)
	w.mu.Lock()
	w.lastErr = err
	w.mu.Unlock()
	if w.onWrite != nil {
		w.onWrite(err)
	}
	return err
}

// LastError returns the error of the latest bundle write
func (w *trackingWriter) LastError() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastErr
}
