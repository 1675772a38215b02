// Copyright (C) 2026 Vulnwatch, Inc.
// See LICENSE for copying information.

// Package process wires command line flags, environment variables and the
// configuration file into cobra commands.
package process

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/zeebo/errs"
)

// Error is the process error class.
var Error = errs.Class("process")

// DefaultConfigFilename is the configuration file looked up inside the
// configuration directory when no explicit --config is given.
const DefaultConfigFilename = "config.yaml"

var cfgFile = flag.String("config", "", "configuration file")

// Execute runs the command after merging flag defaults, the configuration
// file and VULNSYNC_* environment variables into every subcommand.
func Execute(cmd *cobra.Command) {
	pflag.CommandLine.AddGoFlagSet(flag.CommandLine)
	cmd.PersistentFlags().AddFlagSet(pflag.CommandLine)

	cleanup(cmd)
	Must(cmd.Execute())
}

// cleanup wraps RunE of the command and its subcommands so configuration
// sources are applied after flag parsing but before the command body runs.
func cleanup(cmd *cobra.Command) {
	for _, child := range cmd.Commands() {
		cleanup(child)
	}
	if cmd.RunE == nil {
		return
	}
	internalRun := cmd.RunE

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		vip, err := Viper(cmd)
		if err != nil {
			return err
		}

		// command line flags win; everything else comes from viper
		var group errs.Group
		cmd.Flags().VisitAll(func(f *pflag.Flag) {
			if f.Changed || !vip.IsSet(f.Name) {
				return
			}
			group.Add(cmd.Flags().Set(f.Name, vip.GetString(f.Name)))
		})
		if err := group.Err(); err != nil {
			return Error.Wrap(err)
		}

		return internalRun(cmd, args)
	}
}

// Viper returns a viper instance seeded from the command flags, the
// environment and the configuration file.
func Viper(cmd *cobra.Command) (*viper.Viper, error) {
	vip := viper.New()
	if err := vip.BindPFlags(cmd.Flags()); err != nil {
		return nil, Error.Wrap(err)
	}
	vip.SetEnvPrefix("vulnsync")
	vip.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	vip.AutomaticEnv()

	if path := configPath(cmd); path != "" {
		vip.SetConfigFile(path)
		if err := vip.ReadInConfig(); err != nil {
			return nil, Error.Wrap(err)
		}
	}
	return vip, nil
}

// configPath resolves the configuration file: an explicit --config wins, then
// a config.yaml inside --config-dir when one exists.
func configPath(cmd *cobra.Command) string {
	if *cfgFile != "" {
		return *cfgFile
	}
	confDir, err := cmd.Flags().GetString("config-dir")
	if err != nil || confDir == "" {
		return ""
	}
	candidate := filepath.Join(confDir, DefaultConfigFilename)
	if _, err := os.Stat(candidate); err != nil {
		return ""
	}
	return candidate
}

var (
	contextMtx sync.Mutex
	contexts   = map[*cobra.Command]context.Context{}
)

// Ctx returns a context for the command that is cancelled on the first
// termination signal.
func Ctx(cmd *cobra.Command) context.Context {
	contextMtx.Lock()
	defer contextMtx.Unlock()

	if ctx, ok := contexts[cmd]; ok {
		return ctx
	}

	ctx, cancel := context.WithCancel(context.Background())
	contexts[cmd] = ctx

	c := make(chan os.Signal, 1)
	signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-c
		log.Printf("Got a signal from the OS: %q", sig)
		signal.Stop(c)
		cancel()
	}()

	return ctx
}

// Must can be used for default error handling of a command.
func Must(err error) {
	if err != nil {
		log.Fatal(err)
	}
}
