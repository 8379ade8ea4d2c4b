package types

import (
	"time"
)

// TestStatus represents the possible states of a test execution
type TestStatus string

const (
	TestStatusPass TestStatus = "pass"
	TestStatusFail TestStatus = "fail"
	TestStatusSkip TestStatus = "skip"
)

// TestResult captures the outcome of a single test observed by a runner
type TestResult struct {
	File     string        // Registered file the test came from
	Name     string        // Test name as reported by the file
	Status   TestStatus    // Outcome of the test
	Error    error         // Failure reason, if any
	Duration time.Duration // Reported or measured duration
	Output   string        // Captured output for failing tests
	TimedOut bool          // Whether the file hit its timeout
}

// Failed reports whether the test failed
func (r *TestResult) Failed() bool {
	return r != nil && r.Status == TestStatusFail
}
