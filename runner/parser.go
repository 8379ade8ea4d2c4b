package runner

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"
	"time"

	"github.com/ethereum-optimism/infra/op-bundletest/types"
)

// Go test2json (TestEvent) action constants for JSON test output
// See https://cs.opensource.google/go/go/+/master:src/cmd/test2json/main.go;l=34-60
const (
	ActionStart  = "start"
	ActionPass   = "pass"
	ActionFail   = "fail"
	ActionSkip   = "skip"
	ActionOutput = "output"
)

const maxLineBytes = 1024 * 1024

// TestEvent represents a test event from go test -json output
type TestEvent struct {
	Time    time.Time
	Action  string
	Package string
	Test    string
	Elapsed float64
	Output  string
}

// tapLine matches a TAP test point at column 0, e.g. "not ok 3 - adds numbers # TODO".
// Indented test points belong to subtests and are folded into their parent.
var tapLine = regexp.MustCompile(`^(not ok|ok)\b[ \t]*(\d+)?[ \t]*(?:-[ \t]*)?(.*?)(?:[ \t]*#[ \t]*(?i:(skip|todo))\b.*)?$`)

// parseOutput reads the output of one test file. It understands go test2json
// events and TAP test points; every other line is plain output.
func parseOutput(r io.Reader, file string) ([]*types.TestResult, error) {
	var results []*types.TestResult
	outputs := make(map[string]*strings.Builder)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for scanner.Scan() {
		line := scanner.Text()

		if strings.HasPrefix(line, "{") {
			if event, ok := parseTestEvent(line); ok {
				if result := processTestEvent(event, file, outputs); result != nil {
					results = append(results, result)
				}
				continue
			}
		}

		if result := parseTAPLine(line, file); result != nil {
			results = append(results, result)
		}
	}
	if err := scanner.Err(); err != nil {
		return results, fmt.Errorf("failed to read test output: %w", err)
	}
	return results, nil
}

func parseTestEvent(line string) (TestEvent, bool) {
	var event TestEvent
	if err := json.Unmarshal([]byte(line), &event); err != nil {
		return event, false
	}
	return event, event.Action != ""
}

func processTestEvent(event TestEvent, file string, outputs map[string]*strings.Builder) *types.TestResult {
	// Package level events only repeat what the exit code already says
	if event.Test == "" {
		return nil
	}

	var status types.TestStatus
	switch event.Action {
	case ActionOutput:
		out, ok := outputs[event.Test]
		if !ok {
			out = &strings.Builder{}
			outputs[event.Test] = out
		}
		out.WriteString(event.Output)
		return nil
	case ActionPass:
		status = types.TestStatusPass
	case ActionFail:
		status = types.TestStatusFail
	case ActionSkip:
		status = types.TestStatusSkip
	default:
		return nil
	}

	result := &types.TestResult{
		File:     file,
		Name:     event.Test,
		Status:   status,
		Duration: time.Duration(event.Elapsed * float64(time.Second)),
	}
	if status == types.TestStatusFail {
		var output string
		if out, ok := outputs[event.Test]; ok {
			output = out.String()
		}
		result.Output = strings.TrimSpace(output)
		result.Error = errors.New(extractErrorMessage(output))
	}
	delete(outputs, event.Test)
	return result
}

func parseTAPLine(line string, file string) *types.TestResult {
	m := tapLine.FindStringSubmatch(strings.TrimRight(line, "\r"))
	if m == nil {
		return nil
	}
	ok, number, name, directive := m[1] == "ok", m[2], strings.TrimSpace(m[3]), strings.ToLower(m[4])
	if name == "" {
		name = fmt.Sprintf("test %s", number)
	}

	result := &types.TestResult{File: file, Name: name}
	switch {
	case directive == "skip", directive == "todo":
		result.Status = types.TestStatusSkip
	case ok:
		result.Status = types.TestStatusPass
	default:
		result.Status = types.TestStatusFail
		result.Error = errors.New(strings.TrimSpace(line))
	}
	return result
}

// extractErrorMessage picks the first line of test output that looks like an
// assertion failure, falling back to a generic message.
func extractErrorMessage(output string) string {
	for _, line := range strings.Split(output, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "=== ") || strings.HasPrefix(trimmed, "--- ") {
			continue
		}
		if strings.Contains(trimmed, "Error") || strings.Contains(trimmed, "error") || strings.Contains(trimmed, ".go:") {
			return trimmed
		}
	}
	return "test failed"
}
