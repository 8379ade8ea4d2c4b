package bundletest

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"

	opmetrics "github.com/ethereum-optimism/optimism/op-service/metrics"

	"github.com/ethereum-optimism/infra/op-bundletest/flags"
)

// FileConfig is the layout of the YAML config file. Every field is optional.
type FileConfig struct {
	Entries     []string      `yaml:"entries"`
	Outdir      string        `yaml:"outdir"`
	Outfile     string        `yaml:"outfile"`
	Format      string        `yaml:"format"`
	Platform    string        `yaml:"platform"`
	External    []string      `yaml:"external"`
	Clear       *bool         `yaml:"clear"`
	Cache       *bool         `yaml:"cache"`
	Watch       *bool         `yaml:"watch"`
	Command     []string      `yaml:"command"`
	Env         []string      `yaml:"env"`
	Filter      string        `yaml:"filter"`
	Timeout     time.Duration `yaml:"timeout"`
	RunTimeout  time.Duration `yaml:"run_timeout"`
	HealthzAddr string        `yaml:"healthz_addr"`
	StageDir    string        `yaml:"stage_dir"`
}

// Config holds the application configuration
type Config struct {
	Entries       []string
	Outdir        string
	Outfile       string
	Format        flags.Format
	Platform      flags.Platform
	External      []string
	Clear         bool          // Delete emitted chunks after each run
	Cache         bool          // Keep loaded modules cached between runs
	Watch         bool          // Keep rebuilding and rerunning until stopped
	Command       []string      // Command template used to execute each chunk
	Env           []string      // Extra environment of each chunk
	Filter        string        // Glob on chunk base names
	Timeout       time.Duration // Per chunk, 0 disables it
	RunTimeout    time.Duration // Per run, 0 disables it
	HealthzAddr   string
	ResultsTable  bool
	StageDir      string
	WorkingDir    string
	MetricsConfig opmetrics.CLIConfig
	Log           log.Logger
}

// LoadFileConfig reads a YAML config file
func LoadFileConfig(path string) (*FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	var cfg FileConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	return &cfg, nil
}

// NewConfig creates a new Config from cli context. Values of the config file
// named by the config flag are used for every flag that is not set.
func NewConfig(ctx *cli.Context, log log.Logger) (*Config, error) {
	if err := flags.CheckRequired(ctx); err != nil {
		return nil, fmt.Errorf("invalid flags: %w", err)
	}

	file := &FileConfig{}
	if path := ctx.String(flags.ConfigFile.Name); path != "" {
		var err error
		if file, err = LoadFileConfig(path); err != nil {
			return nil, err
		}
	}

	workingDir, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("failed to get working directory: %w", err)
	}

	cfg := &Config{
		Entries:       stringSliceValue(ctx, flags.Entry.Name, file.Entries),
		Outdir:        stringValue(ctx, flags.Outdir.Name, file.Outdir),
		Outfile:       stringValue(ctx, flags.Outfile.Name, file.Outfile),
		Format:        flags.Format(stringValue(ctx, flags.OutputFormat.Name, file.Format)),
		Platform:      flags.Platform(stringValue(ctx, flags.TargetPlatform.Name, file.Platform)),
		External:      stringSliceValue(ctx, flags.External.Name, file.External),
		Clear:         boolValue(ctx, flags.Clear.Name, file.Clear),
		Cache:         boolValue(ctx, flags.Cache.Name, file.Cache),
		Watch:         boolValue(ctx, flags.Watch.Name, file.Watch),
		Command:       strings.Fields(ctx.String(flags.Command.Name)),
		Env:           file.Env,
		Filter:        stringValue(ctx, flags.Filter.Name, file.Filter),
		Timeout:       durationValue(ctx, flags.Timeout.Name, file.Timeout),
		RunTimeout:    durationValue(ctx, flags.RunTimeout.Name, file.RunTimeout),
		HealthzAddr:   stringValue(ctx, flags.HealthzAddr.Name, file.HealthzAddr),
		ResultsTable:  ctx.Bool(flags.ResultsTable.Name),
		StageDir:      stringValue(ctx, flags.StageDir.Name, file.StageDir),
		WorkingDir:    workingDir,
		MetricsConfig: opmetrics.ReadCLIConfig(ctx),
		Log:           log,
	}
	if !ctx.IsSet(flags.Command.Name) && len(file.Command) > 0 {
		cfg.Command = file.Command
	}

	if err := cfg.Check(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Check validates the assembled configuration
func (c *Config) Check() error {
	if len(c.Entries) == 0 {
		return errors.New("at least one entry point is required")
	}
	if c.Outdir == "" && c.Outfile == "" {
		return errors.New("an output directory or output file is required")
	}
	if c.Outdir != "" && c.Outfile != "" {
		return errors.New("output directory and output file are mutually exclusive")
	}
	if c.Outfile != "" && len(c.Entries) > 1 {
		return fmt.Errorf("an output file only supports a single entry point, got %d", len(c.Entries))
	}
	if !c.Format.IsValid() {
		return fmt.Errorf("invalid format: %s", c.Format)
	}
	if !c.Platform.IsValid() {
		return fmt.Errorf("invalid platform: %s", c.Platform)
	}
	if c.Filter != "" {
		if _, err := filepath.Match(c.Filter, ""); err != nil {
			return fmt.Errorf("invalid filter %q: %w", c.Filter, err)
		}
	}
	if c.Timeout < 0 || c.RunTimeout < 0 {
		return errors.New("timeouts must not be negative")
	}
	if err := c.MetricsConfig.Check(); err != nil {
		return fmt.Errorf("invalid metrics config: %w", err)
	}
	return nil
}

func stringValue(ctx *cli.Context, name string, fileValue string) string {
	if ctx.IsSet(name) || fileValue == "" {
		return ctx.String(name)
	}
	return fileValue
}

func stringSliceValue(ctx *cli.Context, name string, fileValue []string) []string {
	if ctx.IsSet(name) || len(fileValue) == 0 {
		return ctx.StringSlice(name)
	}
	return fileValue
}

func boolValue(ctx *cli.Context, name string, fileValue *bool) bool {
	if ctx.IsSet(name) || fileValue == nil {
		return ctx.Bool(name)
	}
	return *fileValue
}

func durationValue(ctx *cli.Context, name string, fileValue time.Duration) time.Duration {
	if ctx.IsSet(name) || fileValue == 0 {
		return ctx.Duration(name)
	}
	return fileValue
}
