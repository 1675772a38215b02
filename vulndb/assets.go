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

// ErrAssetsDB represents errors from the vulnerable_assets table.
var ErrAssetsDB = errs.Class("assetsdb")

// AssetsDB stores the asset correlation records.
type AssetsDB struct {
	mu sync.Mutex
	db *sql.DB
}

const upsertAsset = `
	INSERT OR REPLACE INTO vulnerable_assets (
		id, name, asset_type, integration_id, environment, platform, owner,
		external_identifier, ip_addresses, hostnames, raw_data, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`

// StoreBatch upserts a batch of raw asset records inside a single
// transaction, counting rows as new or updated against the stored state.
func (adb *AssetsDB) StoreBatch(ctx context.Context, rows []json.RawMessage) (stats Stats, err error) {
	defer mon.Task()(&ctx)(&err)

	if len(rows) == 0 {
		return Stats{}, nil
	}

	adb.mu.Lock()
	defer adb.mu.Unlock()

	type parsedRow struct {
		fields assetFields
		raw    string
	}
	parsed := make([]parsedRow, 0, len(rows))
	var ids []string
	for _, raw := range rows {
		var fields assetFields
		if err := json.Unmarshal(raw, &fields); err != nil {
			return Stats{}, ErrAssetsDB.New("malformed record: %w", err)
		}
		parsed = append(parsed, parsedRow{fields: fields, raw: string(raw)})
		if fields.ID != "" {
			ids = append(ids, fields.ID)
		}
	}

	tx, err := adb.db.BeginTx(ctx, nil)
	if err != nil {
		return Stats{}, ErrAssetsDB.Wrap(err)
	}
	defer func() { _ = tx.Rollback() }()

	existing, err := lookupRaw(ctx, tx, "vulnerable_assets", ids)
	if err != nil {
		return Stats{}, ErrAssetsDB.Wrap(err)
	}

	stmt, err := tx.PrepareContext(ctx, upsertAsset)
	if err != nil {
		return Stats{}, ErrAssetsDB.Wrap(err)
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
			nullString(row.fields.Name),
			nullString(row.fields.AssetType),
			nullString(row.fields.IntegrationID),
			nullString(row.fields.Environment),
			nullString(row.fields.Platform),
			nullString(row.fields.Owner),
			nullString(row.fields.ExternalIdentifier),
			nullJSON(row.fields.IPAddresses),
			nullJSON(row.fields.Hostnames),
			row.raw,
			now,
		)
		if err != nil {
			return Stats{}, ErrAssetsDB.Wrap(err)
		}
	}

	if err := tx.Commit(); err != nil {
		return Stats{}, ErrAssetsDB.Wrap(err)
	}

	stats.Total = int64(len(rows))
	mon.IntVal("assets_batch_size").Observe(stats.Total)
	return stats, nil
}

// TopAsset is one entry of the most-affected asset ranking.
type TopAsset struct {
	ID        string
	Name      string
	AssetType string
	Total     int64
	Critical  int64
	High      int64
}

// AssetStatistics aggregates the asset table and its correlation with the
// stored vulnerabilities.
type AssetStatistics struct {
	TotalCount int64
	ByType     map[string]int64
	TopAssets  []TopAsset
	// AveragePerAsset is active vulnerabilities per affected asset.
	AveragePerAsset float64
}

// Statistics returns aggregate counts over the stored assets. The ranking
// and the per-asset average consider active vulnerabilities only; assets
// without a stored record still rank by their target id.
func (adb *AssetsDB) Statistics(ctx context.Context, topN int) (_ *AssetStatistics, err error) {
	defer mon.Task()(&ctx)(&err)

	adb.mu.Lock()
	defer adb.mu.Unlock()

	if topN <= 0 {
		topN = 10
	}

	stats := &AssetStatistics{ByType: map[string]int64{}}

	err = adb.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM vulnerable_assets`).Scan(&stats.TotalCount)
	if err != nil {
		return nil, ErrAssetsDB.Wrap(err)
	}

	err = func() (err error) {
		rows, err := adb.db.QueryContext(ctx, `
			SELECT COALESCE(asset_type, ''), COUNT(*)
			FROM vulnerable_assets GROUP BY asset_type`)
		if err != nil {
			return err
		}
		defer func() { err = errs.Combine(err, rows.Close()) }()

		for rows.Next() {
			var assetType string
			var count int64
			if err := rows.Scan(&assetType, &count); err != nil {
				return err
			}
			stats.ByType[assetType] = count
		}
		return rows.Err()
	}()
	if err != nil {
		return nil, ErrAssetsDB.Wrap(err)
	}

	err = func() (err error) {
		rows, err := adb.db.QueryContext(ctx, `
			SELECT v.target_id, COALESCE(a.name, ''), COALESCE(a.asset_type, ''), COUNT(*),
				SUM(CASE WHEN v.severity = 'CRITICAL' THEN 1 ELSE 0 END),
				SUM(CASE WHEN v.severity = 'HIGH' THEN 1 ELSE 0 END)
			FROM vulnerabilities v
			LEFT JOIN vulnerable_assets a ON a.id = v.target_id
			WHERE v.target_id IS NOT NULL AND v.deactivated_on IS NULL
			GROUP BY v.target_id
			ORDER BY COUNT(*) DESC, v.target_id ASC
			LIMIT ?`, topN)
		if err != nil {
			return err
		}
		defer func() { err = errs.Combine(err, rows.Close()) }()

		for rows.Next() {
			var top TopAsset
			if err := rows.Scan(&top.ID, &top.Name, &top.AssetType, &top.Total, &top.Critical, &top.High); err != nil {
				return err
			}
			stats.TopAssets = append(stats.TopAssets, top)
		}
		return rows.Err()
	}()
	if err != nil {
		return nil, ErrAssetsDB.Wrap(err)
	}

	var active, affected int64
	err = adb.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COUNT(DISTINCT target_id)
		FROM vulnerabilities
		WHERE target_id IS NOT NULL AND deactivated_on IS NULL`).Scan(&active, &affected)
	if err != nil {
		return nil, ErrAssetsDB.Wrap(err)
	}
	if affected > 0 {
		stats.AveragePerAsset = float64(active) / float64(affected)
	}

	return stats, nil
}
