package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"

	bundletest "github.com/ethereum-optimism/infra/op-bundletest"
	"github.com/ethereum-optimism/infra/op-bundletest/exitcodes"
	"github.com/ethereum-optimism/optimism/op-service/cliapp"
)

// runArgs builds the lifecycle for args without starting it
func runArgs(t *testing.T, args ...string) (cliapp.Lifecycle, error) {
	t.Helper()
	app := newApp()
	var lifecycle cliapp.Lifecycle
	var runErr error
	app.Action = func(ctx *cli.Context) error {
		lifecycle, runErr = run(ctx, func(error) {})
		return nil
	}
	require.NoError(t, app.Run(append([]string{"op-bundletest"}, args...)))
	return lifecycle, runErr
}

func TestRun_InvalidConfigIsRuntimeError(t *testing.T) {
	_, err := runArgs(t, "--outdir", "tmp")
	require.Error(t, err)
	assert.True(t, bundletest.IsRuntimeError(err))
	assert.Equal(t, exitcodes.RuntimeErr, exitcodes.FromError(err, bundletest.IsRuntimeError))
}

func TestRun_CreatesLifecycle(t *testing.T) {
	t.Chdir(t.TempDir())
	lifecycle, err := runArgs(t, "--entry", "src/index.test.js", "--outdir", "tmp", "--log.level", "error")
	require.NoError(t, err)
	require.NotNil(t, lifecycle)
	assert.True(t, lifecycle.Stopped())
}

func TestExitCodes(t *testing.T) {
	assert.Equal(t, exitcodes.Success, exitcodes.FromError(nil, bundletest.IsRuntimeError))
	assert.Equal(t, exitcodes.TestFailure, exitcodes.FromError(bundletest.NewTestFailureError(2), bundletest.IsRuntimeError))
	assert.Equal(t, exitcodes.RuntimeErr, exitcodes.FromError(bundletest.NewRuntimeError(assert.AnError), bundletest.IsRuntimeError))
}
