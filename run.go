package bundletest

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ethereum-optimism/infra/op-bundletest/types"
)

var tracer = otel.Tracer("op-bundletest")

// Run runs the tests of one bundle write:
//  1. create the runner (Options.Instance)
//  2. evict loaded files from the module cache unless Options.Cache is set
//  3. collect the chunk files of the bundle and filter them (Options.FilterFiles)
//  4. add the files to the runner
//  5. run the runner, let Options.Runner observe it and wait for the outcome
//  6. clean up the files (Options.Clear or Options.RemoveFiles)
//  7. call Options.Finally
//
// Steps 6 and 7 run whatever the outcome of step 5. Errors from every phase are
// joined, so a test failure stays visible when cleanup fails too. If step 1
// fails there is no runner to hand to the cleanup or Finally, so neither runs
// and the emitted files are left in place.
func Run(ctx context.Context, api *API, bundle *types.Bundle, opts Options) (err error) {
	ctx, span := tracer.Start(ctx, "bundletest run", trace.WithSpanKind(trace.SpanKindInternal))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	s := opts.resolve(api)

	r, err := s.instance(ctx)
	if err != nil {
		return fmt.Errorf("failed to create test runner: %w", err)
	}
	if r == nil {
		return errors.New("test runner instance is nil")
	}

	if !s.cache {
		api.NoCache(r)
	}

	files := s.filterFiles(api.GetFiles(bundle))
	api.AddFiles(files, r)
	span.SetAttributes(
		attribute.String("dir", api.Dir()),
		attribute.Int("files", len(files)),
		attribute.Bool("cache", s.cache),
	)
	api.log.Debug("Added test files", "dir", api.Dir(), "files", files)

	defer func() {
		// Cleanup must not be skipped because the caller's context is done
		settleCtx := context.WithoutCancel(ctx)
		var removeErr, finallyErr error
		if removeErr = s.removeFiles(settleCtx, files, r); removeErr != nil {
			removeErr = fmt.Errorf("failed to remove files: %w", removeErr)
		}
		if finallyErr = s.finally(settleCtx, r); finallyErr != nil {
			finallyErr = fmt.Errorf("finally hook failed: %w", finallyErr)
		}
		err = errors.Join(err, removeErr, finallyErr)
	}()

	return s.run(ctx, r)
}
