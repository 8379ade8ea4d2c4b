package bundletest

import (
	"context"
	"errors"
	"time"

	"github.com/ethereum/go-ethereum/log"

	"github.com/ethereum-optimism/infra/op-bundletest/metrics"
	"github.com/ethereum-optimism/infra/op-bundletest/types"
)

// PluginName is the name the plugin registers with the bundler
const PluginName = "mocha"

// Plugin runs tests whenever the bundler finished writing a bundle
type Plugin struct {
	setup SetupFunc
	log   log.Logger
}

// New creates a plugin. A nil setup runs the default orchestration with
// default Options.
func New(setup Setup, logger log.Logger) *Plugin {
	if setup == nil {
		setup = Options{}
	}
	if logger == nil {
		logger = log.New()
	}
	fn := setup.setupFunc()
	if fn == nil {
		fn = Options{}.setupFunc()
	}
	return &Plugin{
		setup: fn,
		log:   logger,
	}
}

// Name returns the plugin name
func (p *Plugin) Name() string {
	return PluginName
}

// WriteBundle is called after the bundler wrote a bundle. The returned error
// is reported back to the bundler.
func (p *Plugin) WriteBundle(ctx context.Context, out types.OutputOptions, bundle *types.Bundle) error {
	api := NewAPI(out, p.log)
	p.log.Info("Running tests for bundle", "dir", api.Dir(), "outputs", bundle.Len())

	start := time.Now()
	err := p.setup(ctx, api, bundle)
	duration := time.Since(start)

	var testErr *TestFailureError
	switch {
	case err == nil:
		metrics.RecordRun(PluginName, metrics.ResultPass, 0, duration)
		p.log.Info("Tests passed", "dir", api.Dir(), "duration", duration)
	case errors.As(err, &testErr):
		metrics.RecordRun(PluginName, metrics.ResultFail, testErr.Failures, duration)
		p.log.Warn("Tests failed", "dir", api.Dir(), "failures", testErr.Failures, "duration", duration)
	default:
		metrics.RecordRun(PluginName, metrics.ResultError, 0, duration)
		metrics.RecordErrorDetails("write_bundle", err)
		p.log.Error("Test run errored", "dir", api.Dir(), "err", err)
	}
	return err
}
