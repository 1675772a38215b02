// Copyright (C) 2026 Vulnwatch, Inc.
// See LICENSE for copying information.

package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/zeebo/errs"

	"github.com/vulnwatch/vulnsync/internal/process"
	"github.com/vulnwatch/vulnsync/vulndb"
)

func cmdHistory(cmd *cobra.Command, args []string) (err error) {
	ctx := process.Ctx(cmd)

	log, err := process.NewLogger()
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	if _, err := resolveDirs(&historyCfg.Config); err != nil {
		return err
	}

	db, err := vulndb.Open(ctx, log.Named("vulndb"), historyCfg.Database)
	if err != nil {
		return err
	}
	defer func() { err = errs.Combine(err, db.Close()) }()

	entries, err := db.History().ListHistory(ctx, historyCfg.Limit)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Println("No sync events recorded yet.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	defer func() { err = errs.Combine(err, w.Flush()) }()

	fmt.Fprintln(w, "DATE\tEVENT\tMESSAGE")
	for _, entry := range entries {
		fmt.Fprintf(w, "%s\t%s\t%s\n", entry.SyncDate, entry.EventType, entry.Message)
	}

	return nil
}
