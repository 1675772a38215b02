// Copyright (C) 2026 Vulnwatch, Inc.
// See LICENSE for copying information.

package vulndb

import (
	"context"
	"database/sql"
	"encoding/json"
	"sync"

	"github.com/zeebo/errs"
)

// ErrRemediationsDB represents errors from the remediations table.
var ErrRemediationsDB = errs.Class("remediationsdb")

// RemediationsDB stores historical remediation records.
type RemediationsDB struct {
	mu sync.Mutex
	db *sql.DB
}

const upsertRemediation = `
	INSERT OR REPLACE INTO remediations (
		id, vulnerability_id, vulnerable_asset_id, severity, detected_date,
		sla_deadline_date, remediation_date, remediated_on_time,
		integration_id, integration_type, status, raw_data, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`

// StoreBatch upserts a batch of raw remediation records inside a single
// transaction. Classification matches the vulnerability variant except that
// remediations carry no deactivation transition, so Remediated stays zero.
func (rdb *RemediationsDB) StoreBatch(ctx context.Context, rows []json.RawMessage) (stats Stats, err error) {
	defer mon.Task()(&ctx)(&err)

	if len(rows) == 0 {
		return Stats{}, nil
	}

	rdb.mu.Lock()
	defer rdb.mu.Unlock()

	type parsedRow struct {
		fields remediationFields
		raw    string
	}
	parsed := make([]parsedRow, 0, len(rows))
	var ids []string
	for _, raw := range rows {
		var fields remediationFields
		if err := json.Unmarshal(raw, &fields); err != nil {
			return Stats{}, ErrRemediationsDB.New("malformed record: %w", err)
		}
		parsed = append(parsed, parsedRow{fields: fields, raw: string(raw)})
		if fields.ID != "" {
			ids = append(ids, fields.ID)
		}
	}

	tx, err := rdb.db.BeginTx(ctx, nil)
	if err != nil {
		return Stats{}, ErrRemediationsDB.Wrap(err)
	}
	defer func() { _ = tx.Rollback() }()

	existing, err := lookupRaw(ctx, tx, "remediations", ids)
	if err != nil {
		return Stats{}, ErrRemediationsDB.Wrap(err)
	}

	stmt, err := tx.PrepareContext(ctx, upsertRemediation)
	if err != nil {
		return Stats{}, ErrRemediationsDB.Wrap(err)
	}
	defer func() { err = errs.Combine(err, stmt.Close()) }()

	now := nowTimestamp()
	for _, row := range parsed {
		prior, exists := existing[row.fields.ID]
		switch {
		case !exists:
			stats.New++
		case prior != row.raw:
			stats.Updated++
		}

		_, err = stmt.ExecContext(ctx,
			row.fields.ID,
			nullString(row.fields.VulnerabilityID),
			nullString(row.fields.VulnerableAssetID),
			nullString(row.fields.Severity),
			nullString(row.fields.DetectedDate),
			nullString(row.fields.SLADeadlineDate),
			nullString(row.fields.RemediationDate),
			nullBool(row.fields.RemediatedOnTime),
			nullString(row.fields.IntegrationID),
			nullString(row.fields.IntegrationType),
			nullString(row.fields.Status),
			row.raw,
			now,
		)
		if err != nil {
			return Stats{}, ErrRemediationsDB.Wrap(err)
		}
	}

	if err := tx.Commit(); err != nil {
		return Stats{}, ErrRemediationsDB.Wrap(err)
	}

	stats.Total = int64(len(rows))
	mon.IntVal("remediations_batch_size").Observe(stats.Total)
	return stats, nil
}

// RemediationStatistics aggregates the remediations table.
type RemediationStatistics struct {
	TotalCount int64
	ByStatus   map[string]int64
	OnTime     int64
	Late       int64
}

// Statistics returns aggregate counts over all stored remediations.
func (rdb *RemediationsDB) Statistics(ctx context.Context) (_ *RemediationStatistics, err error) {
	defer mon.Task()(&ctx)(&err)

	rdb.mu.Lock()
	defer rdb.mu.Unlock()

	stats := &RemediationStatistics{ByStatus: map[string]int64{}}

	err = rdb.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
			COALESCE(SUM(CASE WHEN remediated_on_time = 1 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN remediated_on_time = 0 THEN 1 ELSE 0 END), 0)
		FROM remediations`).Scan(&stats.TotalCount, &stats.OnTime, &stats.Late)
	if err != nil {
		return nil, ErrRemediationsDB.Wrap(err)
	}

	rows, err := rdb.db.QueryContext(ctx, `
		SELECT COALESCE(status, ''), COUNT(*)
		FROM remediations GROUP BY status`)
	if err != nil {
		return nil, ErrRemediationsDB.Wrap(err)
	}
	defer func() { err = errs.Combine(err, ErrRemediationsDB.Wrap(rows.Close())) }()

	for rows.Next() {
		var status string
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return nil, ErrRemediationsDB.Wrap(err)
		}
		stats.ByStatus[status] = count
	}
	return stats, ErrRemediationsDB.Wrap(rows.Err())
}
