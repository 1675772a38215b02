// Copyright (C) 2026 Vulnwatch, Inc.
// See LICENSE for copying information.

// Vulnsync keeps a local, queryable copy of the Vanta vulnerability
// inventory.
package main

import (
	"path/filepath"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"

	"github.com/vulnwatch/vulnsync/agent"
	"github.com/vulnwatch/vulnsync/internal/process"
)

// RunFlags configures the long running agent.
type RunFlags struct {
	agent.Config
}

// SetupFlags additionally carries the one time setup inputs. The credentials
// go into the settings store, never into config.yaml.
type SetupFlags struct {
	ClientID     string `help:"vanta oauth client id to store in the local settings" default:"" setup:"true"`
	ClientSecret string `help:"vanta oauth client secret to store in the local settings" default:"" setup:"true"`

	agent.Config
}

// SyncFlags configures a one shot sync.
type SyncFlags struct {
	Incremental bool `help:"only fetch remediations closed since the last successful sync" default:"false"`
	Progress    bool `help:"show sync progress" default:"true"`

	agent.Config
}

// StatusFlags configures the dashboard output.
type StatusFlags struct {
	Output      string `help:"output format, one of: text, json, yaml" default:"text"`
	Severity    string `help:"only count vulnerabilities with this severity" default:""`
	Integration string `help:"only count vulnerabilities reported by this integration" default:""`
	Status      string `help:"only count vulnerabilities with this status, active or deactivated" default:""`

	agent.Config
}

// HistoryFlags configures the journal listing.
type HistoryFlags struct {
	Limit int `help:"number of journal entries to show, newest first" default:"20"`

	agent.Config
}

var (
	rootCmd = &cobra.Command{
		Use:   "vulnsync",
		Short: "Vulnsync keeps a local copy of the Vanta vulnerability inventory",
	}
	runCmd = &cobra.Command{
		Use:   "run",
		Short: "Run the sync agent until interrupted",
		RunE:  cmdRun,
	}
	setupCmd = &cobra.Command{
		Use:         "setup",
		Short:       "Create the config directory and store the API credentials",
		RunE:        cmdSetup,
		Annotations: map[string]string{"type": "setup"},
	}
	syncCmd = &cobra.Command{
		Use:   "sync",
		Short: "Run one sync and exit",
		RunE:  cmdSync,
	}
	statusCmd = &cobra.Command{
		Use:         "status",
		Short:       "Show a dashboard of the local vulnerability store",
		RunE:        cmdStatus,
		Annotations: map[string]string{"type": "helper"},
	}
	historyCmd = &cobra.Command{
		Use:         "history",
		Short:       "Show the journal of past sync events",
		RunE:        cmdHistory,
		Annotations: map[string]string{"type": "helper"},
	}

	runCfg     RunFlags
	setupCfg   SetupFlags
	syncCfg    SyncFlags
	statusCfg  StatusFlags
	historyCfg HistoryFlags

	confDir string
)

func init() {
	rootCmd.PersistentFlags().StringVar(&confDir, "config-dir", defaultConfDir(), "main directory for vulnsync configuration")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(setupCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(historyCmd)

	process.Bind(runCmd, &runCfg)
	process.Bind(setupCmd, &setupCfg)
	process.Bind(syncCmd, &syncCfg)
	process.Bind(statusCmd, &statusCfg)
	process.Bind(historyCmd, &historyCfg)
}

// defaultConfDir returns ~/.vulnsync, falling back to a relative directory
// when the home directory cannot be determined.
func defaultConfDir() string {
	home, err := homedir.Dir()
	if err != nil {
		return ".vulnsync"
	}
	return filepath.Join(home, ".vulnsync")
}

// resolveDirs returns the absolute config directory and anchors a relative
// database directory inside it.
func resolveDirs(config *agent.Config) (string, error) {
	dir, err := filepath.Abs(confDir)
	if err != nil {
		return "", err
	}
	if !filepath.IsAbs(config.Database.Directory) {
		config.Database.Directory = filepath.Join(dir, config.Database.Directory)
	}
	return dir, nil
}

func main() {
	process.Execute(rootCmd)
}
