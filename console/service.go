// Copyright (C) 2026 Vulnwatch, Inc.
// See LICENSE for copying information.

// Package console prepares the locally stored aggregates for presentation.
package console

import (
	"context"

	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"github.com/vulnwatch/vulnsync/vulndb"
)

var (
	mon = monkit.Package()

	// Error is the default error class for the console service.
	Error = errs.Class("console")
)

// Dashboard is the presentation-ready aggregate of the local store. All
// listings are sorted and all shares are preformatted percentages.
type Dashboard struct {
	LastSync string `json:"last_sync" yaml:"last_sync"`

	TotalVulnerabilities int64  `json:"total_vulnerabilities" yaml:"total_vulnerabilities"`
	Active               int64  `json:"active" yaml:"active"`
	Deactivated          int64  `json:"deactivated" yaml:"deactivated"`
	Fixable              int64  `json:"fixable" yaml:"fixable"`
	NotFixable           int64  `json:"not_fixable" yaml:"not_fixable"`
	FixablePercent       string `json:"fixable_percent" yaml:"fixable_percent"`
	UniqueAssets         int64  `json:"unique_assets" yaml:"unique_assets"`
	UniqueCVEs           int64  `json:"unique_cves" yaml:"unique_cves"`

	Severities   []SeverityRow `json:"severities" yaml:"severities"`
	Integrations []LabelValue  `json:"integrations" yaml:"integrations"`

	Assets       AssetSummary       `json:"assets" yaml:"assets"`
	Remediations RemediationSummary `json:"remediations" yaml:"remediations"`
}

// AssetSummary aggregates the vulnerable asset inventory.
type AssetSummary struct {
	TotalCount      int64        `json:"total_count" yaml:"total_count"`
	ByType          []LabelValue `json:"by_type" yaml:"by_type"`
	Top             []AssetRow   `json:"top" yaml:"top"`
	AveragePerAsset float64      `json:"average_per_asset" yaml:"average_per_asset"`
}

// RemediationSummary aggregates the remediation backlog.
type RemediationSummary struct {
	TotalCount    int64        `json:"total_count" yaml:"total_count"`
	ByStatus      []LabelValue `json:"by_status" yaml:"by_status"`
	OnTime        int64        `json:"on_time" yaml:"on_time"`
	Late          int64        `json:"late" yaml:"late"`
	OnTimePercent string       `json:"on_time_percent" yaml:"on_time_percent"`
}

// Service assembles dashboards out of the vulnerability database.
type Service struct {
	log *zap.Logger
	db  *vulndb.DB
}

// NewService creates a console service.
func NewService(log *zap.Logger, db *vulndb.DB) (*Service, error) {
	if log == nil {
		return nil, Error.New("log can't be nil")
	}
	if db == nil {
		return nil, Error.New("db can't be nil")
	}
	return &Service{log: log, db: db}, nil
}

// Dashboard fetches the aggregates and shapes them for display. Filters
// narrow the vulnerability numbers; assets and remediations always cover the
// whole store.
func (service *Service) Dashboard(ctx context.Context, filters vulndb.Filters) (_ *Dashboard, err error) {
	defer mon.Task()(&ctx)(&err)

	stats, err := service.db.Statistics(ctx, filters)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	return Build(stats), nil
}

// Build shapes raw aggregates into a dashboard. It does no I/O.
func Build(stats *vulndb.Statistics) *Dashboard {
	vulns := stats.Vulnerabilities
	assets := stats.Assets
	rems := stats.Remediations

	return &Dashboard{
		LastSync: stats.LastSync,

		TotalVulnerabilities: vulns.TotalCount,
		Active:               vulns.Active,
		Deactivated:          vulns.Deactivated,
		Fixable:              vulns.Fixable,
		NotFixable:           vulns.NotFixable,
		FixablePercent:       Percent(vulns.Fixable, vulns.TotalCount),
		UniqueAssets:         vulns.UniqueAssets,
		UniqueCVEs:           vulns.UniqueCVEs,

		Severities:   SeverityRows(vulns),
		Integrations: FormatCounts(vulns.ByIntegration),

		Assets: AssetSummary{
			TotalCount:      assets.TotalCount,
			ByType:          FormatCounts(assets.ByType),
			Top:             AssetRows(assets.TopAssets),
			AveragePerAsset: round2(assets.AveragePerAsset),
		},
		Remediations: RemediationSummary{
			TotalCount:    rems.TotalCount,
			ByStatus:      FormatCounts(rems.ByStatus),
			OnTime:        rems.OnTime,
			Late:          rems.Late,
			OnTimePercent: Percent(rems.OnTime, rems.OnTime+rems.Late),
		},
	}
}
