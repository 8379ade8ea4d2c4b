package flags

import (
	"fmt"

	"github.com/urfave/cli/v2"

	opservice "github.com/ethereum-optimism/optimism/op-service"
	oplog "github.com/ethereum-optimism/optimism/op-service/log"
	opmetrics "github.com/ethereum-optimism/optimism/op-service/metrics"
)

const EnvVarPrefix = "OP_BUNDLETEST"

// Platform is the esbuild target platform
type Platform string

const (
	PlatformNode    Platform = "node"
	PlatformBrowser Platform = "browser"
	PlatformNeutral Platform = "neutral"
)

// Format is the esbuild output format
type Format string

const (
	FormatCommonJS Format = "cjs"
	FormatESM      Format = "esm"
	FormatIIFE     Format = "iife"
)

func (p Platform) IsValid() bool {
	switch p {
	case PlatformNode, PlatformBrowser, PlatformNeutral:
		return true
	}
	return false
}

func (f Format) IsValid() bool {
	switch f {
	case FormatCommonJS, FormatESM, FormatIIFE:
		return true
	}
	return false
}

var (
	Entry = &cli.StringSliceFlag{
		Name:    "entry",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "ENTRY"),
		Usage:   "Entry point to bundle and test. Can be repeated.",
	}
	Outdir = &cli.StringFlag{
		Name:    "outdir",
		Value:   "",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "OUTDIR"),
		Usage:   "Output directory of the bundle (eg. 'tmp')",
	}
	Outfile = &cli.StringFlag{
		Name:    "outfile",
		Value:   "",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "OUTFILE"),
		Usage:   "Output file of the bundle, for a single entry point",
	}
	OutputFormat = &cli.StringFlag{
		Name:    "format",
		Value:   string(FormatCommonJS),
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "FORMAT"),
		Usage:   fmt.Sprintf("Output format. One of: %s, %s, %s", FormatCommonJS, FormatESM, FormatIIFE),
		Action: func(_ *cli.Context, v string) error {
			if !Format(v).IsValid() {
				return fmt.Errorf("format must be one of %s, %s, %s", FormatCommonJS, FormatESM, FormatIIFE)
			}
			return nil
		},
	}
	TargetPlatform = &cli.StringFlag{
		Name:    "platform",
		Value:   string(PlatformNode),
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "PLATFORM"),
		Usage:   fmt.Sprintf("Target platform. One of: %s, %s, %s", PlatformNode, PlatformBrowser, PlatformNeutral),
		Action: func(_ *cli.Context, v string) error {
			if !Platform(v).IsValid() {
				return fmt.Errorf("platform must be one of %s, %s, %s", PlatformNode, PlatformBrowser, PlatformNeutral)
			}
			return nil
		},
	}
	External = &cli.StringSliceFlag{
		Name:    "external",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "EXTERNAL"),
		Usage:   "Module to leave out of the bundle. Can be repeated.",
	}
	Clear = &cli.BoolFlag{
		Name:    "clear",
		Value:   false,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "CLEAR"),
		Usage:   "Delete the emitted chunks after the tests ran",
	}
	Cache = &cli.BoolFlag{
		Name:    "cache",
		Value:   false,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "CACHE"),
		Usage:   "Keep loaded modules cached between runs instead of reloading rebuilt files",
	}
	Watch = &cli.BoolFlag{
		Name:    "watch",
		Value:   false,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "WATCH"),
		Usage:   "Rebuild on changes and rerun the tests after every rebuild",
	}
	Command = &cli.StringFlag{
		Name:    "command",
		Value:   "node {file}",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "COMMAND"),
		Usage:   "Command used to execute each chunk. {file} is replaced by the chunk path.",
	}
	Filter = &cli.StringFlag{
		Name:    "filter",
		Value:   "",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "FILTER"),
		Usage:   "Only run chunks whose base name matches this glob (eg. '*.test.js')",
	}
	Timeout = &cli.DurationFlag{
		Name:    "timeout",
		Value:   0,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "TIMEOUT"),
		Usage:   "Timeout for each chunk (e.g. '30s'). Set to 0 to disable.",
	}
	RunTimeout = &cli.DurationFlag{
		Name:    "run-timeout",
		Value:   0,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "RUN_TIMEOUT"),
		Usage:   "Timeout for a whole test run, after which remaining chunks are skipped. Set to 0 to disable.",
	}
	ConfigFile = &cli.StringFlag{
		Name:    "config",
		Value:   "",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "CONFIG"),
		Usage:   "Path to a YAML config file (eg. 'bundletest.yaml'). Flags override its values.",
	}
	HealthzAddr = &cli.StringFlag{
		Name:    "healthz.addr",
		Value:   "",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "HEALTHZ_ADDR"),
		Usage:   "Address to serve /healthz on in watch mode (eg. '0.0.0.0:8080'). Empty disables it.",
	}
	ResultsTable = &cli.BoolFlag{
		Name:    "results-table",
		Value:   true,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "RESULTS_TABLE"),
		Usage:   "Print a table of the test results after every run",
	}
	StageDir = &cli.StringFlag{
		Name:    "stage-dir",
		Value:   "",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "STAGE_DIR"),
		Usage:   "Directory loaded chunks are staged in. Defaults to a directory in the system temp dir.",
	}
)

var optionalFlags = []cli.Flag{
	Entry,
	Outdir,
	Outfile,
	OutputFormat,
	TargetPlatform,
	External,
	Clear,
	Cache,
	Watch,
	Command,
	Filter,
	Timeout,
	RunTimeout,
	ConfigFile,
	HealthzAddr,
	ResultsTable,
	StageDir,
}

var Flags []cli.Flag

func init() {
	optionalFlags = append(optionalFlags, oplog.CLIFlags(EnvVarPrefix)...)
	optionalFlags = append(optionalFlags, opmetrics.CLIFlags(EnvVarPrefix)...)

	Flags = optionalFlags
}

// CheckRequired validates flag combinations that the flags cannot express on
// their own. Entry points and an output location may come from the config
// file, so they are checked once the config is assembled.
func CheckRequired(ctx *cli.Context) error {
	if ctx.IsSet(Outdir.Name) && ctx.IsSet(Outfile.Name) {
		return fmt.Errorf("flags %s and %s are mutually exclusive", Outdir.Name, Outfile.Name)
	}
	if ctx.Duration(Timeout.Name) < 0 || ctx.Duration(RunTimeout.Name) < 0 {
		return fmt.Errorf("timeouts must not be negative, got %s=%s %s=%s",
			Timeout.Name, ctx.Duration(Timeout.Name), RunTimeout.Name, ctx.Duration(RunTimeout.Name))
	}
	return nil
}
