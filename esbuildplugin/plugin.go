// Package esbuildplugin runs a BundleWriter after every esbuild build,
// including the rebuilds of a watching build context.
package esbuildplugin

import (
	"context"
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/log"
	"github.com/evanw/esbuild/pkg/api"

	"github.com/ethereum-optimism/infra/op-bundletest/types"
)

// DefaultName is used when the writer does not name itself
const DefaultName = "bundletest"

// BundleWriter reacts to a written bundle
type BundleWriter interface {
	WriteBundle(ctx context.Context, out types.OutputOptions, bundle *types.Bundle) error
}

type namer interface {
	Name() string
}

// New returns an esbuild plugin that hands every successful build's outputs
// to writer. Errors returned by writer are reported as build errors.
func New(writer BundleWriter) api.Plugin {
	return NewContext(context.Background(), writer, nil)
}

// NewContext is like New but passes ctx to every WriteBundle call
func NewContext(ctx context.Context, writer BundleWriter, logger log.Logger) api.Plugin {
	if logger == nil {
		logger = log.New()
	}
	name := DefaultName
	if n, ok := writer.(namer); ok && n.Name() != "" {
		name = n.Name()
	}
	return api.Plugin{
		Name: name,
		Setup: func(build api.PluginBuild) {
			// Outputs are only listed in the metafile
			build.InitialOptions.Metafile = true

			out := OutputOptionsFrom(build.InitialOptions)
			workingDir := build.InitialOptions.AbsWorkingDir

			build.OnEnd(func(result *api.BuildResult) (api.OnEndResult, error) {
				if len(result.Errors) > 0 {
					logger.Debug("Skipping tests of failed build", "errors", len(result.Errors))
					return api.OnEndResult{}, nil
				}
				dir := workingDir
				if dir == "" {
					wd, err := os.Getwd()
					if err != nil {
						return api.OnEndResult{}, fmt.Errorf("failed to get working directory: %w", err)
					}
					dir = wd
				}
				bundle, err := BundleFromMetafile(result.Metafile, out.OutputDir(), dir)
				if err != nil {
					return api.OnEndResult{}, err
				}
				return api.OnEndResult{}, writer.WriteBundle(ctx, out, bundle)
			})
		},
	}
}
