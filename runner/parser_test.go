package runner

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethereum-optimism/infra/op-bundletest/types"
)

func TestParseOutput_Test2JSON(t *testing.T) {
	output := strings.Join([]string{
		`{"Action":"start","Package":"example"}`,
		`{"Action":"run","Package":"example","Test":"TestAdd"}`,
		`{"Action":"output","Package":"example","Test":"TestAdd","Output":"=== RUN   TestAdd\n"}`,
		`{"Action":"pass","Package":"example","Test":"TestAdd","Elapsed":0.5}`,
		`{"Action":"run","Package":"example","Test":"TestSub"}`,
		`{"Action":"output","Package":"example","Test":"TestSub","Output":"    sub_test.go:12: Error: expected 1, got 2\n"}`,
		`{"Action":"fail","Package":"example","Test":"TestSub","Elapsed":0.1}`,
		`{"Action":"skip","Package":"example","Test":"TestSkipped"}`,
		`{"Action":"fail","Package":"example","Elapsed":0.7}`,
	}, "\n")

	results, err := parseOutput(strings.NewReader(output), "tmp/index.js")
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.Equal(t, "TestAdd", results[0].Name)
	assert.Equal(t, types.TestStatusPass, results[0].Status)
	assert.Equal(t, 500*time.Millisecond, results[0].Duration)
	assert.Equal(t, "tmp/index.js", results[0].File)

	assert.Equal(t, types.TestStatusFail, results[1].Status)
	require.Error(t, results[1].Error)
	assert.Equal(t, "sub_test.go:12: Error: expected 1, got 2", results[1].Error.Error())
	assert.Contains(t, results[1].Output, "expected 1, got 2")

	assert.Equal(t, types.TestStatusSkip, results[2].Status)
}

func TestParseOutput_TAP(t *testing.T) {
	output := strings.Join([]string{
		"TAP version 13",
		"# Subtest: adds",
		"    ok 1 - nested passes",
		"ok 1 - adds",
		"not ok 2 - subtracts",
		"  ---",
		"  error: 'expected 1'",
		"  ...",
		"ok 3 - pending # SKIP not ready",
		"not ok 4 - later # TODO",
		"ok 5",
		"1..5",
	}, "\n")

	results, err := parseOutput(strings.NewReader(output), "tmp/chunk.js")
	require.NoError(t, err)
	require.Len(t, results, 5)

	assert.Equal(t, "adds", results[0].Name)
	assert.Equal(t, types.TestStatusPass, results[0].Status)

	assert.Equal(t, "subtracts", results[1].Name)
	assert.Equal(t, types.TestStatusFail, results[1].Status)
	assert.EqualError(t, results[1].Error, "not ok 2 - subtracts")

	assert.Equal(t, "pending", results[2].Name)
	assert.Equal(t, types.TestStatusSkip, results[2].Status)

	assert.Equal(t, "later", results[3].Name)
	assert.Equal(t, types.TestStatusSkip, results[3].Status)

	assert.Equal(t, "test 5", results[4].Name)
	assert.Equal(t, types.TestStatusPass, results[4].Status)
}

func TestParseOutput_PlainOutputIgnored(t *testing.T) {
	output := "hello\n{not json}\nokay then\n"
	results, err := parseOutput(strings.NewReader(output), "x.js")
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestExtractErrorMessage(t *testing.T) {
	tests := []struct {
		name   string
		output string
		want   string
	}{
		{name: "empty", output: "", want: "test failed"},
		{name: "run lines skipped", output: "=== RUN   TestX\n--- FAIL: TestX\n", want: "test failed"},
		{name: "go file reference", output: "=== RUN TestX\n    x_test.go:5: boom\n", want: "x_test.go:5: boom"},
		{name: "error keyword", output: "Error: thing broke\n", want: "Error: thing broke"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, extractErrorMessage(tt.output))
		})
	}
}
