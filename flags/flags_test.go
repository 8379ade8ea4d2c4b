package flags

import (
	"testing"
	"time"

	opservice "github.com/ethereum-optimism/optimism/op-service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"
)

// TestOptionalFlagsDontSetRequired asserts that all flags deemed optional set
// the Required field to false.
func TestOptionalFlagsDontSetRequired(t *testing.T) {
	for _, flag := range optionalFlags {
		reqFlag, ok := flag.(cli.RequiredFlag)
		require.True(t, ok)
		require.False(t, reqFlag.IsRequired())
	}
}

// TestUniqueFlags asserts that all flag names are unique, to avoid accidental conflicts between the many flags.
func TestUniqueFlags(t *testing.T) {
	seenCLI := make(map[string]struct{})
	for _, flag := range Flags {
		name := flag.Names()[0]
		if _, ok := seenCLI[name]; ok {
			t.Errorf("duplicate flag %s", name)
			continue
		}
		seenCLI[name] = struct{}{}
	}
}

func TestEnvVarFormat(t *testing.T) {
	for _, flag := range Flags {
		flagName := flag.Names()[0]

		t.Run(flagName, func(t *testing.T) {
			envFlagGetter, ok := flag.(interface {
				GetEnvVars() []string
			})
			require.True(t, ok, "must be able to cast the flag to an EnvVar interface")
			envFlags := envFlagGetter.GetEnvVars()
			require.Equal(t, 1, len(envFlags), "flags should have exactly one env var")
			require.Equal(t, opservice.FlagNameToEnvVarName(flagName, EnvVarPrefix), envFlags[0])
		})
	}
}

func TestPlatformAndFormat(t *testing.T) {
	assert.True(t, PlatformNode.IsValid())
	assert.True(t, PlatformBrowser.IsValid())
	assert.True(t, PlatformNeutral.IsValid())
	assert.False(t, Platform("deno").IsValid())
	assert.False(t, Platform("").IsValid())

	assert.True(t, FormatCommonJS.IsValid())
	assert.True(t, FormatESM.IsValid())
	assert.True(t, FormatIIFE.IsValid())
	assert.False(t, Format("umd").IsValid())
}

func TestFlagValidation(t *testing.T) {
	testCases := []struct {
		name        string
		args        []string
		shouldError bool
	}{
		{"defaults", []string{"app"}, false},
		{"valid platform", []string{"app", "--platform", "browser"}, false},
		{"invalid platform", []string{"app", "--platform", "deno"}, true},
		{"valid format", []string{"app", "--format", "esm"}, false},
		{"invalid format", []string{"app", "--format", "umd"}, true},
		{"outdir and outfile", []string{"app", "--outdir", "tmp", "--outfile", "tmp/app.js"}, true},
		{"negative timeout", []string{"app", "--timeout", "-1s"}, true},
		{"negative run timeout", []string{"app", "--run-timeout", "-1s"}, true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			app := &cli.App{
				Flags:  []cli.Flag{Outdir, Outfile, OutputFormat, TargetPlatform, Timeout, RunTimeout},
				Action: CheckRequired,
			}
			err := app.Run(tc.args)
			if tc.shouldError {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestRepeatableFlags(t *testing.T) {
	app := &cli.App{
		Flags: []cli.Flag{Entry, External, Timeout},
		Action: func(ctx *cli.Context) error {
			assert.Equal(t, []string{"src/a.test.js", "src/b.test.js"}, ctx.StringSlice(Entry.Name))
			assert.Equal(t, []string{"fs"}, ctx.StringSlice(External.Name))
			assert.Equal(t, 30*time.Second, ctx.Duration(Timeout.Name))
			return nil
		},
	}
	require.NoError(t, app.Run([]string{"app", "--entry", "src/a.test.js", "--entry", "src/b.test.js", "--external", "fs", "--timeout", "30s"}))
}
