// Copyright (C) 2026 Vulnwatch, Inc.
// See LICENSE for copying information.

package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	progressbar "github.com/cheggaaa/pb/v3"
	"github.com/spf13/cobra"
	"github.com/zeebo/errs"

	"github.com/vulnwatch/vulnsync/agent"
	"github.com/vulnwatch/vulnsync/internal/process"
	"github.com/vulnwatch/vulnsync/syncer"
	"github.com/vulnwatch/vulnsync/vulndb"
)

func cmdSync(cmd *cobra.Command, args []string) (err error) {
	ctx := process.Ctx(cmd)

	log, err := process.NewLogger()
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	dir, err := resolveDirs(&syncCfg.Config)
	if err != nil {
		return err
	}

	peer, err := agent.New(ctx, log, syncCfg.Config, dir)
	if err != nil {
		return err
	}
	defer func() { err = errs.Combine(err, peer.Close()) }()

	opts := syncer.Options{Incremental: syncCfg.Incremental}

	var bar *progressbar.ProgressBar
	if syncCfg.Progress {
		bar = progressbar.New64(0).
			SetTemplateString(`syncing {{counters . }} records`).
			SetWriter(os.Stdout).
			Start()
		defer bar.Finish()

		// the callbacks are serialized by the syncer
		observed := map[string]int64{}
		opts.Callbacks.Progress = func(progress syncer.Progress) {
			observed[progress.Stream] = progress.Count
			var total int64
			for _, count := range observed {
				total += count
			}
			bar.SetCurrent(total)
		}
	}

	result, err := peer.Syncer.Sync(ctx, opts)
	if bar != nil {
		bar.Finish()
	}
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	defer func() { err = errs.Combine(err, w.Flush()) }()

	fmt.Fprintln(w, "\tNEW\tUPDATED\tREMEDIATED\tTOTAL")
	printStats := func(name string, stats vulndb.Stats) {
		fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\n", name, stats.New, stats.Updated, stats.Remediated, stats.Total)
	}
	printStats("Vulnerabilities", result.Vulnerabilities)
	printStats("Remediations", result.Remediations)
	printStats("Assets", result.Assets)

	return nil
}
