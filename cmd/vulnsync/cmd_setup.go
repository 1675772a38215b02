// Copyright (C) 2026 Vulnwatch, Inc.
// See LICENSE for copying information.

package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/zeebo/errs"

	"github.com/vulnwatch/vulnsync/internal/process"
	"github.com/vulnwatch/vulnsync/settings"
)

func cmdSetup(cmd *cobra.Command, args []string) (err error) {
	ctx := process.Ctx(cmd)

	setupDir, err := filepath.Abs(confDir)
	if err != nil {
		return err
	}

	configFile := filepath.Join(setupDir, process.DefaultConfigFilename)
	if _, err := os.Stat(configFile); err == nil {
		return errs.New("vulnsync configuration already exists (%v)", setupDir)
	}

	if err := os.MkdirAll(setupDir, 0700); err != nil {
		return err
	}

	overrides := map[string]interface{}{
		"log.level": "info",
	}
	if err := process.SaveConfig(cmd, configFile, overrides); err != nil {
		return err
	}
	fmt.Println("Configuration saved to:", configFile)

	if setupCfg.ClientID != "" || setupCfg.ClientSecret != "" {
		log, err := process.NewLogger()
		if err != nil {
			return err
		}
		defer func() { _ = log.Sync() }()

		store, err := settings.Open(log.Named("settings"), setupDir)
		if err != nil {
			return err
		}
		defer func() { err = errs.Combine(err, store.Close()) }()

		err = store.SetCredentials(ctx, settings.Credentials{
			ClientID:     setupCfg.ClientID,
			ClientSecret: setupCfg.ClientSecret,
		})
		if err != nil {
			return err
		}
		fmt.Println("Credentials stored in:", filepath.Join(setupDir, settings.DatabaseName))
	}

	return nil
}
