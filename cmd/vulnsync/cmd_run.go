// Copyright (C) 2026 Vulnwatch, Inc.
// See LICENSE for copying information.

package main

import (
	"github.com/spf13/cobra"
	"github.com/zeebo/errs"

	"github.com/vulnwatch/vulnsync/agent"
	"github.com/vulnwatch/vulnsync/internal/process"
)

func cmdRun(cmd *cobra.Command, args []string) (err error) {
	ctx := process.Ctx(cmd)

	log, err := process.NewLogger()
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	dir, err := resolveDirs(&runCfg.Config)
	if err != nil {
		return err
	}

	peer, err := agent.New(ctx, log, runCfg.Config, dir)
	if err != nil {
		return err
	}

	runError := peer.Run(ctx)
	closeError := peer.Close()
	return errs.Combine(runError, closeError)
}
