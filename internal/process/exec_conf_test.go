// Copyright (C) 2026 Vulnwatch, Inc.
// See LICENSE for copying information.

package process

import (
	"flag"
	"os"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"
	yaml "gopkg.in/yaml.v2"

	"github.com/vulnwatch/vulnsync/internal/testcontext"
)

func TestExecutePropagatesSettings(t *testing.T) {
	// Set up a command that does nothing.
	cmd := &cobra.Command{RunE: func(cmd *cobra.Command, args []string) error { return nil }}
	cmd.SetArgs([]string{})

	// Define a config struct and some flags.
	var config struct {
		X int `default:"0"`
	}
	Bind(cmd, &config)
	y := cmd.Flags().Int("y", 0, "y flag (command)")
	z := flag.Int("z", 0, "z flag (stdlib)")

	// Set some environment variables for viper.
	t.Setenv("VULNSYNC_X", "1")
	t.Setenv("VULNSYNC_Y", "2")
	t.Setenv("VULNSYNC_Z", "3")

	// Run the command through the exec call.
	Execute(cmd)

	// Check that the variables are now bound.
	require.Equal(t, 1, config.X)
	require.Equal(t, 2, *y)
	require.Equal(t, 3, *z)
}

func TestBindNaming(t *testing.T) {
	cmd := &cobra.Command{}

	var config struct {
		ClientID       string        `default:"" help:"oauth client id"`
		MaxHTTPRetries int           `default:"3"`
		Interval       time.Duration `default:"1h"`

		Retry struct {
			MaxBackoff time.Duration `default:"1m"`
		}
	}
	Bind(cmd, &config)

	{ // Ensure camel case names hyphenate and nested structs add a prefix
		require.NotNil(t, cmd.Flags().Lookup("client-id"))
		require.NotNil(t, cmd.Flags().Lookup("max-http-retries"))
		require.NotNil(t, cmd.Flags().Lookup("retry.max-backoff"))
	}

	{ // Ensure defaults parse into their native types
		require.Equal(t, time.Hour, config.Interval)
		require.Equal(t, time.Minute, config.Retry.MaxBackoff)
		require.Equal(t, 3, config.MaxHTTPRetries)
	}

	{ // Ensure set flags propagate into the struct
		require.NoError(t, cmd.Flags().Set("retry.max-backoff", "30s"))
		require.Equal(t, 30*time.Second, config.Retry.MaxBackoff)
	}
}

func TestSaveConfig(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	cmd := &cobra.Command{}

	var config struct {
		Alpha    string `default:"white" help:"primary color"`
		Internal bool   `default:"false" hidden:"true"`
		EditConf bool   `default:"false" setup:"true"`

		Nested struct {
			Beta int `default:"7" help:"beta count"`
		}
	}
	Bind(cmd, &config)

	outfile := ctx.File("config.yaml")
	err := SaveConfig(cmd, outfile, map[string]interface{}{"alpha": "black"})
	require.NoError(t, err)

	data, err := os.ReadFile(outfile)
	require.NoError(t, err)
	content := string(data)

	{ // Ensure overrides are live and defaults are commented out
		require.Contains(t, content, "# primary color")
		require.Contains(t, content, "alpha: black")
		require.Contains(t, content, "# nested.beta: 7")
	}

	{ // Ensure hidden and setup-only flags never reach the file
		require.NotContains(t, content, "internal:")
		require.NotContains(t, content, "edit-conf:")
	}

	{ // Ensure the file parses as yaml and carries only the live entries
		parsed := map[string]interface{}{}
		require.NoError(t, yaml.Unmarshal(data, &parsed))
		require.Equal(t, map[string]interface{}{"alpha": "black"}, parsed)
	}
}
