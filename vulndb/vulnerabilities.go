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

// ErrVulnerabilitiesDB represents errors from the vulnerabilities table.
var ErrVulnerabilitiesDB = errs.Class("vulnerabilitiesdb")

// VulnerabilitiesDB stores vulnerability records.
type VulnerabilitiesDB struct {
	mu sync.Mutex
	db *sql.DB
}

const upsertVulnerability = `
	INSERT OR REPLACE INTO vulnerabilities (
		id, name, description, vulnerability_type, integration_id, target_id,
		package_identifier, severity, cvss_score, scanner_score, is_fixable,
		first_detected, last_detected, remediate_by, deactivated_on,
		related_vulns, related_urls, raw_data, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`

// StoreBatch upserts a batch of raw vulnerability records inside a single
// transaction and classifies every row against the stored state.
//
// A row is new when its id was not stored before, updated when the stored
// raw payload differs byte-wise, and additionally remediated when it gains a
// deactivation date it did not have (rows arriving already deactivated count
// as remediated too).
func (vdb *VulnerabilitiesDB) StoreBatch(ctx context.Context, rows []json.RawMessage) (stats Stats, err error) {
	defer mon.Task()(&ctx)(&err)

	if len(rows) == 0 {
		return Stats{}, nil
	}

	vdb.mu.Lock()
	defer vdb.mu.Unlock()

	type parsedRow struct {
		fields vulnerabilityFields
		raw    string
	}
	parsed := make([]parsedRow, 0, len(rows))
	var ids []string
	for _, raw := range rows {
		var fields vulnerabilityFields
		if err := json.Unmarshal(raw, &fields); err != nil {
			return Stats{}, ErrVulnerabilitiesDB.New("malformed record: %w", err)
		}
		parsed = append(parsed, parsedRow{fields: fields, raw: string(raw)})
		if fields.ID != "" {
			ids = append(ids, fields.ID)
		}
	}

	tx, err := vdb.db.BeginTx(ctx, nil)
	if err != nil {
		return Stats{}, ErrVulnerabilitiesDB.Wrap(err)
	}
	defer func() { _ = tx.Rollback() }()

	existing, err := lookupRaw(ctx, tx, "vulnerabilities", ids)
	if err != nil {
		return Stats{}, ErrVulnerabilitiesDB.Wrap(err)
	}

	stmt, err := tx.PrepareContext(ctx, upsertVulnerability)
	if err != nil {
		return Stats{}, ErrVulnerabilitiesDB.Wrap(err)
	}
	defer func() { err = errs.Combine(err, stmt.Close()) }()

	now := nowTimestamp()
	for _, row := range parsed {
		deactivatedOn := row.fields.deactivatedOn()

		prior, exists := existing[row.fields.ID]
		switch {
		case !exists:
			stats.New++
			if deactivatedOn != "" {
				stats.Remediated++
			}
		case prior != row.raw:
			stats.Updated++
			if deactivatedOn != "" && !rawDeactivated(prior) {
				stats.Remediated++
			}
		}

		_, err = stmt.ExecContext(ctx,
			row.fields.ID,
			nullString(row.fields.Name),
			nullString(row.fields.Description),
			nullString(row.fields.VulnerabilityType),
			nullString(row.fields.IntegrationID),
			nullString(row.fields.TargetID),
			nullString(row.fields.PackageIdentifier),
			nullString(row.fields.Severity),
			nullFloat(row.fields.CVSSScore),
			nullFloat(row.fields.ScannerScore),
			nullBool(row.fields.IsFixable),
			nullString(row.fields.FirstDetected),
			nullString(row.fields.LastDetected),
			nullString(row.fields.RemediateBy),
			nullString(deactivatedOn),
			nullJSON(row.fields.RelatedVulns),
			nullJSON(row.fields.RelatedURLs),
			row.raw,
			now,
		)
		if err != nil {
			return Stats{}, ErrVulnerabilitiesDB.Wrap(err)
		}
	}

	if err := tx.Commit(); err != nil {
		return Stats{}, ErrVulnerabilitiesDB.Wrap(err)
	}

	stats.Total = int64(len(rows))
	mon.IntVal("vulnerabilities_batch_size").Observe(stats.Total)
	return stats, nil
}

// lookupRaw bulk-loads the stored raw payloads for the given ids, chunked to
// stay below the sqlite host parameter cap.
func lookupRaw(ctx context.Context, tx *sql.Tx, table string, ids []string) (map[string]string, error) {
	existing := make(map[string]string, len(ids))
	for _, chunk := range chunkIDs(ids, 500) {
		args := make([]interface{}, len(chunk))
		for i, id := range chunk {
			args[i] = id
		}

		err := func() (err error) {
			rows, err := tx.QueryContext(ctx,
				`SELECT id, raw_data FROM `+table+` WHERE id IN (`+placeholders(len(chunk))+`)`, args...)
			if err != nil {
				return err
			}
			defer func() { err = errs.Combine(err, rows.Close()) }()

			for rows.Next() {
				var id, raw string
				if err := rows.Scan(&id, &raw); err != nil {
					return err
				}
				existing[id] = raw
			}
			return rows.Err()
		}()
		if err != nil {
			return nil, err
		}
	}
	return existing, nil
}

// Vulnerability is the projected row shape returned by queries.
type Vulnerability struct {
	ID                string
	Name              string
	Description       string
	VulnerabilityType string
	IntegrationID     string
	TargetID          string
	PackageIdentifier string
	Severity          string
	CVSSScore         *float64
	ScannerScore      *float64
	IsFixable         *bool
	FirstDetected     string
	LastDetected      string
	RemediateBy       string
	DeactivatedOn     string
	RelatedVulns      []string
	RelatedURLs       []string
	RawData           string
	UpdatedAt         string
}

// ListOptions selects, orders and pages a vulnerability listing.
type ListOptions struct {
	Filters Filters
	SortBy  string
	SortDir string
	Limit   int
	Offset  int
}

// List returns vulnerabilities matching the filters, ordered by the
// whitelisted sort column. The default page is the first 100 rows.
func (vdb *VulnerabilitiesDB) List(ctx context.Context, opts ListOptions) (_ []Vulnerability, err error) {
	defer mon.Task()(&ctx)(&err)

	vdb.mu.Lock()
	defer vdb.mu.Unlock()

	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}
	offset := opts.Offset
	if offset < 0 {
		offset = 0
	}

	where, args := whereClause(opts.Filters)
	query := `SELECT id, name, description, vulnerability_type, integration_id,
			target_id, package_identifier, severity, cvss_score, scanner_score,
			is_fixable, first_detected, last_detected, remediate_by,
			deactivated_on, related_vulns, related_urls, raw_data, updated_at
		FROM vulnerabilities` + where + orderClause(opts.SortBy, opts.SortDir) + ` LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := vdb.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, ErrVulnerabilitiesDB.Wrap(err)
	}
	defer func() { err = errs.Combine(err, ErrVulnerabilitiesDB.Wrap(rows.Close())) }()

	var list []Vulnerability
	for rows.Next() {
		var (
			entry                                   Vulnerability
			name, description, vulnerabilityType    sql.NullString
			integrationID, targetID, packageID      sql.NullString
			severity                                sql.NullString
			cvssScore, scannerScore                 sql.NullFloat64
			isFixable                               sql.NullBool
			firstDetected, lastDetected             sql.NullString
			remediateBy, deactivatedOn              sql.NullString
			relatedVulns, relatedURLs               sql.NullString
		)
		err := rows.Scan(&entry.ID, &name, &description, &vulnerabilityType,
			&integrationID, &targetID, &packageID, &severity, &cvssScore,
			&scannerScore, &isFixable, &firstDetected, &lastDetected,
			&remediateBy, &deactivatedOn, &relatedVulns, &relatedURLs,
			&entry.RawData, &entry.UpdatedAt)
		if err != nil {
			return nil, ErrVulnerabilitiesDB.Wrap(err)
		}

		entry.Name = fromNullString(name)
		entry.Description = fromNullString(description)
		entry.VulnerabilityType = fromNullString(vulnerabilityType)
		entry.IntegrationID = fromNullString(integrationID)
		entry.TargetID = fromNullString(targetID)
		entry.PackageIdentifier = fromNullString(packageID)
		entry.Severity = fromNullString(severity)
		entry.CVSSScore = fromNullFloat(cvssScore)
		entry.ScannerScore = fromNullFloat(scannerScore)
		entry.IsFixable = fromNullBool(isFixable)
		entry.FirstDetected = fromNullString(firstDetected)
		entry.LastDetected = fromNullString(lastDetected)
		entry.RemediateBy = fromNullString(remediateBy)
		entry.DeactivatedOn = fromNullString(deactivatedOn)
		entry.RelatedVulns = fromJSONList(relatedVulns)
		entry.RelatedURLs = fromJSONList(relatedURLs)

		list = append(list, entry)
	}
	return list, ErrVulnerabilitiesDB.Wrap(rows.Err())
}

// Count returns the number of vulnerabilities matching the filters.
func (vdb *VulnerabilitiesDB) Count(ctx context.Context, filters Filters) (_ int64, err error) {
	defer mon.Task()(&ctx)(&err)

	vdb.mu.Lock()
	defer vdb.mu.Unlock()

	where, args := whereClause(filters)
	var count int64
	err = vdb.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM vulnerabilities`+where, args...).Scan(&count)
	if err != nil {
		return 0, ErrVulnerabilitiesDB.Wrap(err)
	}
	return count, nil
}
