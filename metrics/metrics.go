package metrics

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	MetricsNamespace = "bundletest"
)

// Run results used as label values
const (
	ResultPass  = "pass"
	ResultFail  = "fail"
	ResultError = "error"
)

var (
	Debug                bool = true
	nonAlphanumericRegex      = regexp.MustCompile(`[^a-zA-Z ]+`)

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "errors_total",
		Help:      "Count of errors",
	}, []string{
		"error",
	})

	runsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "runs_total",
		Help:      "Count of test runs triggered by a bundle write",
	}, []string{
		"plugin",
		"result",
	})

	testFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "test_failures_total",
		Help:      "Number of failed tests across runs",
	}, []string{
		"plugin",
	})

	runDuration = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: MetricsNamespace,
		Name:      "run_duration_seconds",
		Help:      "Duration of the last test run",
	}, []string{
		"plugin",
	})

	removedFilesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "removed_files_total",
		Help:      "Number of output files deleted after test runs",
	})
)

// errToLabel tries to make the error string a more valid Prometheus label
func errToLabel(err error) string {
	if err == nil {
		return "nil"
	}
	errClean := nonAlphanumericRegex.ReplaceAllString(err.Error(), "")
	errClean = strings.ReplaceAll(errClean, " ", "_")
	errClean = strings.ReplaceAll(errClean, "__", "_")
	return errClean
}

func RecordError(error string) {
	if Debug {
		log.Debug("metric inc",
			"m", "errors_total",
			"error", error,
		)
	}
	errorsTotal.WithLabelValues(error).Inc()
}

// RecordErrorDetails concats the error message to the label
// and also tries to clean the label to be a valid Prometheus label
func RecordErrorDetails(label string, err error) {
	if err == nil {
		return
	}
	label = fmt.Sprintf("%s.%s", label, errToLabel(err))
	RecordError(label)
}

// RecordRun records the outcome of one bundle-write test run
func RecordRun(plugin string, result string, failures int, duration time.Duration) {
	if Debug {
		log.Debug("metric inc",
			"m", "runs_total",
			"plugin", plugin,
			"result", result,
			"failures", failures)
	}
	runsTotal.WithLabelValues(plugin, result).Inc()
	testFailuresTotal.WithLabelValues(plugin).Add(float64(failures))
	runDuration.WithLabelValues(plugin).Set(duration.Seconds())
}

func RecordRemovedFiles(count int) {
	if count <= 0 {
		return
	}
	removedFilesTotal.Add(float64(count))
}

// Collectors returns every collector of the package, for registries other
// than the default one
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		errorsTotal,
		runsTotal,
		testFailuresTotal,
		runDuration,
		removedFilesTotal,
	}
}
