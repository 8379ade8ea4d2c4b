// Package exitcodes defines the exit codes of op-bundletest.
package exitcodes

// Exit code constants used by op-bundletest:
//
// * Success (0): the bundle built and every test passed
// * TestFailure (1): one or more tests failed
// * RuntimeErr (2): invalid configuration, build errors or file system failures
const (
	Success     = 0 // All tests pass
	TestFailure = 1 // Test failures
	RuntimeErr  = 2 // Runtime errors
)

// FromError picks the exit code for an error returned by the application
func FromError(err error, isRuntime func(error) bool) int {
	switch {
	case err == nil:
		return Success
	case isRuntime(err):
		return RuntimeErr
	default:
		return TestFailure
	}
}
