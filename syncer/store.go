// Copyright (C) 2026 Vulnwatch, Inc.
// See LICENSE for copying information.

package syncer

import (
	"context"
	"encoding/json"

	"github.com/vulnwatch/vulnsync/vulndb"
)

// Store adapts the vulnerability database to the syncer storage surface.
type Store struct {
	db *vulndb.DB
}

// NewStore wraps the database for use by the sync service.
func NewStore(db *vulndb.DB) *Store {
	return &Store{db: db}
}

// StoreVulnerabilities upserts one batch of raw vulnerability records.
func (store *Store) StoreVulnerabilities(ctx context.Context, batch []json.RawMessage) (vulndb.Stats, error) {
	return store.db.Vulnerabilities().StoreBatch(ctx, batch)
}

// StoreRemediations upserts one batch of raw remediation records.
func (store *Store) StoreRemediations(ctx context.Context, batch []json.RawMessage) (vulndb.Stats, error) {
	return store.db.Remediations().StoreBatch(ctx, batch)
}

// StoreAssets upserts one batch of raw vulnerable asset records.
func (store *Store) StoreAssets(ctx context.Context, batch []json.RawMessage) (vulndb.Stats, error) {
	return store.db.VulnerableAssets().StoreBatch(ctx, batch)
}

// LogEvent appends a journal event row.
func (store *Store) LogEvent(ctx context.Context, event vulndb.EventType, message string, details map[string]interface{}) error {
	return store.db.History().LogEvent(ctx, event, message, details)
}

// RecordSummary appends the summary row of a completed sync.
func (store *Store) RecordSummary(ctx context.Context, vulns, rems vulndb.Stats) error {
	return store.db.History().RecordSummary(ctx, vulns, rems)
}

// LastSuccessfulSync returns the date of the newest completed sync, empty
// when none finished yet.
func (store *Store) LastSuccessfulSync(ctx context.Context) (string, error) {
	return store.db.History().LastSuccessfulSync(ctx)
}
