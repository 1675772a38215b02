// Copyright (C) 2026 Vulnwatch, Inc.
// See LICENSE for copying information.

package vulndb

import (
	"context"

	"github.com/zeebo/errs"
)

// VulnerabilityStatistics aggregates the vulnerabilities table under one
// compiled filter.
type VulnerabilityStatistics struct {
	TotalCount    int64
	BySeverity    map[string]int64
	ByIntegration map[string]int64
	Fixable       int64
	NotFixable    int64
	Active        int64
	Deactivated   int64
	UniqueAssets  int64
	UniqueCVEs    int64
	// AverageCVSSBySeverity is keyed by lowercased severity and only
	// considers rows with a cvss score.
	AverageCVSSBySeverity map[string]float64
}

// Statistics returns aggregate counts over the vulnerabilities matching the
// filters. Every query runs under the same compiled WHERE clause.
func (vdb *VulnerabilitiesDB) Statistics(ctx context.Context, filters Filters) (_ *VulnerabilityStatistics, err error) {
	defer mon.Task()(&ctx)(&err)

	vdb.mu.Lock()
	defer vdb.mu.Unlock()

	where, args := whereClause(filters)

	stats := &VulnerabilityStatistics{
		BySeverity:            map[string]int64{},
		ByIntegration:         map[string]int64{},
		AverageCVSSBySeverity: map[string]float64{},
	}

	err = vdb.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
			COALESCE(SUM(CASE WHEN is_fixable = 1 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN is_fixable = 0 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN deactivated_on IS NULL THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN deactivated_on IS NOT NULL THEN 1 ELSE 0 END), 0),
			COUNT(DISTINCT target_id),
			COUNT(DISTINCT name)
		FROM vulnerabilities`+where, args...).Scan(
		&stats.TotalCount, &stats.Fixable, &stats.NotFixable,
		&stats.Active, &stats.Deactivated,
		&stats.UniqueAssets, &stats.UniqueCVEs)
	if err != nil {
		return nil, ErrVulnerabilitiesDB.Wrap(err)
	}

	err = vdb.groupCount(ctx, `COALESCE(severity, '')`, where, args, stats.BySeverity)
	if err != nil {
		return nil, ErrVulnerabilitiesDB.Wrap(err)
	}

	err = vdb.groupCount(ctx, `COALESCE(integration_id, '')`, where, args, stats.ByIntegration)
	if err != nil {
		return nil, ErrVulnerabilitiesDB.Wrap(err)
	}

	err = func() (err error) {
		scored := where
		if scored == "" {
			scored = " WHERE cvss_score IS NOT NULL"
		} else {
			scored += " AND cvss_score IS NOT NULL"
		}

		rows, err := vdb.db.QueryContext(ctx, `
			SELECT COALESCE(LOWER(severity), ''), AVG(cvss_score)
			FROM vulnerabilities`+scored+`
			GROUP BY LOWER(severity)`, args...)
		if err != nil {
			return err
		}
		defer func() { err = errs.Combine(err, rows.Close()) }()

		for rows.Next() {
			var severity string
			var average float64
			if err := rows.Scan(&severity, &average); err != nil {
				return err
			}
			stats.AverageCVSSBySeverity[severity] = average
		}
		return rows.Err()
	}()
	if err != nil {
		return nil, ErrVulnerabilitiesDB.Wrap(err)
	}

	return stats, nil
}

// groupCount runs a grouped COUNT(*) over the filtered vulnerabilities and
// fills the result map keyed by the grouping expression.
func (vdb *VulnerabilitiesDB) groupCount(ctx context.Context, expr, where string, args []interface{}, into map[string]int64) (err error) {
	rows, err := vdb.db.QueryContext(ctx, `
		SELECT `+expr+`, COUNT(*)
		FROM vulnerabilities`+where+`
		GROUP BY `+expr, args...)
	if err != nil {
		return err
	}
	defer func() { err = errs.Combine(err, rows.Close()) }()

	for rows.Next() {
		var key string
		var count int64
		if err := rows.Scan(&key, &count); err != nil {
			return err
		}
		into[key] = count
	}
	return rows.Err()
}

// Statistics is the full dashboard aggregate assembled from all tables and
// the journal.
type Statistics struct {
	Vulnerabilities *VulnerabilityStatistics
	Assets          *AssetStatistics
	Remediations    *RemediationStatistics
	// LastSync is the sync_date of the newest journal row, empty for a
	// fresh store.
	LastSync string
}

// Statistics assembles the dashboard aggregates. The filters apply to the
// vulnerability aggregates only; asset and remediation aggregates always
// cover their whole tables.
func (db *DB) Statistics(ctx context.Context, filters Filters) (_ *Statistics, err error) {
	defer mon.Task()(&ctx)(&err)

	vulns, err := db.vulnerabilities.Statistics(ctx, filters)
	if err != nil {
		return nil, err
	}
	assets, err := db.assets.Statistics(ctx, 10)
	if err != nil {
		return nil, err
	}
	rems, err := db.remediations.Statistics(ctx)
	if err != nil {
		return nil, err
	}
	lastSync, err := db.history.LastSync(ctx)
	if err != nil {
		return nil, err
	}

	return &Statistics{
		Vulnerabilities: vulns,
		Assets:          assets,
		Remediations:    rems,
		LastSync:        lastSync,
	}, nil
}
