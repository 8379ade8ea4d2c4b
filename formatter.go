package bundletest

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/ethereum-optimism/infra/op-bundletest/runner"
	"github.com/ethereum-optimism/infra/op-bundletest/types"
)

// ResultFormatter prints the results of a finished execution
type ResultFormatter interface {
	FormatResults(execution *runner.Execution) error
}

// ConsoleResultFormatter renders executions as a table
type ConsoleResultFormatter struct {
	logger log.Logger
	out    io.Writer

	mu        sync.Mutex
	execution *runner.Execution
}

// NewConsoleResultFormatter creates a formatter writing to out, or to stdout
// when out is nil.
func NewConsoleResultFormatter(logger log.Logger, out io.Writer) *ConsoleResultFormatter {
	if out == nil {
		out = os.Stdout
	}
	return &ConsoleResultFormatter{
		logger: logger,
		out:    out,
	}
}

// Observe remembers the execution so Render can print it. It has the
// signature of Options.Runner.
func (f *ConsoleResultFormatter) Observe(_ context.Context, execution *runner.Execution, _ runner.Runner) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.execution = execution
	return nil
}

// Render prints the observed execution once it is done. It has the signature
// of Options.Finally.
func (f *ConsoleResultFormatter) Render(context.Context, runner.Runner) error {
	f.mu.Lock()
	execution := f.execution
	f.execution = nil
	f.mu.Unlock()

	if execution == nil {
		return nil
	}
	select {
	case <-execution.Done():
	default:
		// Aborted before the runner finished; print what ran so far
		f.logger.Debug("Rendering unfinished execution", "run_id", execution.ID())
	}
	return f.FormatResults(execution)
}

// FormatResults implements ResultFormatter
func (f *ConsoleResultFormatter) FormatResults(execution *runner.Execution) error {
	f.logger.Info("Printing results...")
	results := execution.Results()
	duration := executionDuration(execution.Events())

	t := table.NewWriter()
	t.SetOutputMirror(f.out)
	t.SetTitle(fmt.Sprintf("Test Results (%s)", formatDuration(duration)))
	t.AppendHeader(table.Row{"File", "Test", "Duration", "Status", "Error"})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Name: "File", AutoMerge: true},
		{Name: "Test", WidthMax: 50, WidthMaxEnforcer: text.WrapSoft},
		{Name: "Duration", Align: text.AlignRight},
		{Name: "Error", WidthMax: 80, WidthMaxEnforcer: text.WrapSoft},
	})

	var passed, failed, skipped int
	for _, result := range results {
		switch result.Status {
		case types.TestStatusPass:
			passed++
		case types.TestStatusSkip:
			skipped++
		default:
			failed++
		}
		t.AppendRow(table.Row{
			filepath.Base(result.File),
			result.Name,
			formatDuration(result.Duration),
			getResultString(result.Status),
			extractKeyErrorMessage(result.Error),
		})
	}

	status := types.TestStatusPass
	switch {
	case failed > 0:
		status = types.TestStatusFail
		t.SetStyle(table.StyleColoredBlackOnRedWhite)
	case passed == 0 && skipped > 0:
		status = types.TestStatusSkip
		t.SetStyle(table.StyleColoredBlackOnYellowWhite)
	default:
		t.SetStyle(table.StyleColoredBlackOnGreenWhite)
	}

	t.AppendFooter(table.Row{
		"TOTAL",
		fmt.Sprintf("%d passed, %d failed, %d skipped", passed, failed, skipped),
		formatDuration(duration),
		getResultString(status),
		"",
	})
	t.Render()
	return nil
}

// executionDuration is the time between the start event and the latest event
func executionDuration(events []runner.Event) time.Duration {
	var start, end time.Time
	for _, ev := range events {
		if ev.Kind == runner.EventStart && start.IsZero() {
			start = ev.Time
		}
		if ev.Time.After(end) {
			end = ev.Time
		}
	}
	if start.IsZero() {
		return 0
	}
	return end.Sub(start)
}

// extractKeyErrorMessage keeps the first line of an error for display
func extractKeyErrorMessage(err error) string {
	if err == nil {
		return ""
	}
	errStr := err.Error()
	if idx := strings.Index(errStr, "\n"); idx != -1 {
		errStr = errStr[:idx]
	}
	if len(errStr) > 80 {
		return errStr[:77] + "..."
	}
	return errStr
}

// getResultString returns a string representing the test result
func getResultString(status types.TestStatus) string {
	switch status {
	case types.TestStatusPass:
		return "✓ pass"
	case types.TestStatusSkip:
		return "- skip"
	default:
		return "✗ fail"
	}
}

// Helper function to format duration to seconds with 1 decimal place
func formatDuration(d time.Duration) string {
	return fmt.Sprintf("%.1fs", d.Seconds())
}
