// Copyright (C) 2026 Vulnwatch, Inc.
// See LICENSE for copying information.

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/zeebo/errs"
	yaml "gopkg.in/yaml.v2"

	"github.com/vulnwatch/vulnsync/console"
	"github.com/vulnwatch/vulnsync/internal/process"
	"github.com/vulnwatch/vulnsync/vulndb"
)

func cmdStatus(cmd *cobra.Command, args []string) (err error) {
	ctx := process.Ctx(cmd)

	log, err := process.NewLogger()
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	if _, err := resolveDirs(&statusCfg.Config); err != nil {
		return err
	}

	db, err := vulndb.Open(ctx, log.Named("vulndb"), statusCfg.Database)
	if err != nil {
		return err
	}
	defer func() { err = errs.Combine(err, db.Close()) }()

	service, err := console.NewService(log.Named("console"), db)
	if err != nil {
		return err
	}

	filters := vulndb.Filters{}
	if statusCfg.Severity != "" {
		filters["severity"] = statusCfg.Severity
	}
	if statusCfg.Integration != "" {
		filters["integration"] = statusCfg.Integration
	}
	if statusCfg.Status != "" {
		filters["status"] = statusCfg.Status
	}

	dashboard, err := service.Dashboard(ctx, filters)
	if err != nil {
		return err
	}

	switch statusCfg.Output {
	case "json":
		data, err := json.MarshalIndent(dashboard, "", "  ")
		if err != nil {
			return errs.Wrap(err)
		}
		fmt.Println(string(data))
		return nil
	case "yaml":
		data, err := yaml.Marshal(dashboard)
		if err != nil {
			return errs.Wrap(err)
		}
		fmt.Print(string(data))
		return nil
	case "text":
		return printDashboard(os.Stdout, dashboard)
	default:
		return errs.New("unknown output format %q", statusCfg.Output)
	}
}

func printDashboard(out io.Writer, dashboard *console.Dashboard) (err error) {
	lastSync := dashboard.LastSync
	if lastSync == "" {
		lastSync = "never"
	}
	fmt.Fprintf(out, "Last sync: %s\n", lastSync)
	fmt.Fprintf(out, "Vulnerabilities: %d (%d active, %d remediated)\n",
		dashboard.TotalVulnerabilities, dashboard.Active, dashboard.Deactivated)
	fmt.Fprintf(out, "Fixable: %d (%s)\n", dashboard.Fixable, dashboard.FixablePercent)
	fmt.Fprintf(out, "Unique assets: %d, unique CVEs: %d\n", dashboard.UniqueAssets, dashboard.UniqueCVEs)

	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	defer func() { err = errs.Combine(err, w.Flush()) }()

	if len(dashboard.Severities) > 0 {
		fmt.Fprintln(w, "\nSEVERITY\tCOUNT\tSHARE\tAVG CVSS")
		for _, row := range dashboard.Severities {
			fmt.Fprintf(w, "%s\t%d\t%s\t%.1f\n", row.Label, row.Count, row.Percent, row.AverageCVSS)
		}
	}

	if len(dashboard.Integrations) > 0 {
		fmt.Fprintln(w, "\nINTEGRATION\tCOUNT")
		for _, row := range dashboard.Integrations {
			fmt.Fprintf(w, "%s\t%d\n", row.Label, row.Value)
		}
	}

	if len(dashboard.Assets.Top) > 0 {
		fmt.Fprintln(w, "\nTOP ASSETS\tVULNS\tCRIT+HIGH")
		for _, row := range dashboard.Assets.Top {
			fmt.Fprintf(w, "%s\t%d\t%d\n", row.Label, row.Total, row.CriticalAndHigh)
		}
		fmt.Fprintf(w, "\nAverage vulnerabilities per asset: %.2f\n", dashboard.Assets.AveragePerAsset)
	}

	if dashboard.Remediations.TotalCount > 0 {
		fmt.Fprintf(w, "\nRemediations: %d (%d on time, %d late, %s on time)\n",
			dashboard.Remediations.TotalCount, dashboard.Remediations.OnTime,
			dashboard.Remediations.Late, dashboard.Remediations.OnTimePercent)
	}

	return nil
}
