// Copyright (C) 2026 Vulnwatch, Inc.
// See LICENSE for copying information.

package vulndb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"sync"

	"github.com/zeebo/errs"
)

// ErrHistoryDB represents errors from the sync journal.
var ErrHistoryDB = errs.Class("historydb")

// EventType names one kind of sync journal event.
type EventType string

// Journal event types.
const (
	EventStart    EventType = "start"
	EventBatch    EventType = "batch"
	EventFlush    EventType = "flush"
	EventPause    EventType = "pause"
	EventResume   EventType = "resume"
	EventStop     EventType = "stop"
	EventComplete EventType = "complete"
	EventError    EventType = "error"
)

// HistoryDB is the append-only sync journal. Rows are never mutated.
type HistoryDB struct {
	mu sync.Mutex
	db *sql.DB
}

// HistoryEntry is one journal row. Event rows carry EventType and Message;
// legacy summary rows carry a null event type and only the count columns.
// Consumers must tolerate both shapes.
type HistoryEntry struct {
	ID        int64
	SyncDate  string
	EventType string
	Message   string
	Details   string

	VulnerabilitiesCount      *int64
	VulnerabilitiesNew        *int64
	VulnerabilitiesUpdated    *int64
	VulnerabilitiesRemediated *int64
	RemediationsCount         *int64
	RemediationsNew           *int64
	RemediationsUpdated       *int64

	// Aliases kept for files written by older releases.
	NewCount        *int64
	UpdatedCount    *int64
	RemediatedCount *int64
}

// LogEvent appends an event row to the journal. Details are stored as JSON
// and may be nil.
func (hdb *HistoryDB) LogEvent(ctx context.Context, event EventType, message string, details map[string]interface{}) (err error) {
	defer mon.Task()(&ctx)(&err)

	hdb.mu.Lock()
	defer hdb.mu.Unlock()

	var detailsJSON interface{}
	if details != nil {
		serialized, err := json.Marshal(details)
		if err != nil {
			return ErrHistoryDB.Wrap(err)
		}
		detailsJSON = string(serialized)
	}

	_, err = hdb.db.ExecContext(ctx, `
		INSERT INTO sync_history (sync_date, event_type, message, details)
		VALUES (?, ?, ?, ?)`,
		nowTimestamp(), string(event), nullString(message), detailsJSON)
	return ErrHistoryDB.Wrap(err)
}

// RecordSummary appends the denormalized summary row of a completed sync.
// Cumulative counts go to both the semantic columns and the legacy alias
// columns; the event type stays null as in rows written by older releases.
func (hdb *HistoryDB) RecordSummary(ctx context.Context, vulns, rems Stats) (err error) {
	defer mon.Task()(&ctx)(&err)

	hdb.mu.Lock()
	defer hdb.mu.Unlock()

	_, err = hdb.db.ExecContext(ctx, `
		INSERT INTO sync_history (
			sync_date,
			vulnerabilities_count, vulnerabilities_new, vulnerabilities_updated,
			vulnerabilities_remediated,
			remediations_count, remediations_new, remediations_updated,
			new_count, updated_count, remediated_count
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		nowTimestamp(),
		vulns.Total, vulns.New, vulns.Updated, vulns.Remediated,
		rems.Total, rems.New, rems.Updated,
		vulns.New, vulns.Updated, vulns.Remediated)
	return ErrHistoryDB.Wrap(err)
}

// ListHistory returns journal rows newest first. The limit is clamped into
// [1, 100000]; zero or negative values get the full range. Rows sharing a
// sync_date are tie-broken by the primary key.
func (hdb *HistoryDB) ListHistory(ctx context.Context, limit int) (_ []HistoryEntry, err error) {
	defer mon.Task()(&ctx)(&err)

	hdb.mu.Lock()
	defer hdb.mu.Unlock()

	const maxLimit = 100000
	if limit <= 0 || limit > maxLimit {
		limit = maxLimit
	}

	rows, err := hdb.db.QueryContext(ctx, `
		SELECT id, sync_date, event_type, message, details,
			vulnerabilities_count, vulnerabilities_new, vulnerabilities_updated,
			vulnerabilities_remediated,
			remediations_count, remediations_new, remediations_updated,
			new_count, updated_count, remediated_count
		FROM sync_history
		ORDER BY sync_date DESC, id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, ErrHistoryDB.Wrap(err)
	}
	defer func() { err = errs.Combine(err, ErrHistoryDB.Wrap(rows.Close())) }()

	var entries []HistoryEntry
	for rows.Next() {
		var (
			entry                       HistoryEntry
			eventType, message, details sql.NullString
			counts                      [10]sql.NullInt64
		)
		err := rows.Scan(&entry.ID, &entry.SyncDate, &eventType, &message, &details,
			&counts[0], &counts[1], &counts[2], &counts[3],
			&counts[4], &counts[5], &counts[6],
			&counts[7], &counts[8], &counts[9])
		if err != nil {
			return nil, ErrHistoryDB.Wrap(err)
		}

		entry.EventType = fromNullString(eventType)
		entry.Message = fromNullString(message)
		entry.Details = fromNullString(details)
		entry.VulnerabilitiesCount = fromNullInt(counts[0])
		entry.VulnerabilitiesNew = fromNullInt(counts[1])
		entry.VulnerabilitiesUpdated = fromNullInt(counts[2])
		entry.VulnerabilitiesRemediated = fromNullInt(counts[3])
		entry.RemediationsCount = fromNullInt(counts[4])
		entry.RemediationsNew = fromNullInt(counts[5])
		entry.RemediationsUpdated = fromNullInt(counts[6])
		entry.NewCount = fromNullInt(counts[7])
		entry.UpdatedCount = fromNullInt(counts[8])
		entry.RemediatedCount = fromNullInt(counts[9])

		entries = append(entries, entry)
	}
	return entries, ErrHistoryDB.Wrap(rows.Err())
}

// LastSuccessfulSync returns the sync_date of the most recent complete
// event, or an empty string when no sync has completed yet.
func (hdb *HistoryDB) LastSuccessfulSync(ctx context.Context) (_ string, err error) {
	defer mon.Task()(&ctx)(&err)

	hdb.mu.Lock()
	defer hdb.mu.Unlock()

	var syncDate string
	err = hdb.db.QueryRowContext(ctx, `
		SELECT sync_date FROM sync_history
		WHERE event_type = ?
		ORDER BY sync_date DESC, id DESC
		LIMIT 1`, string(EventComplete)).Scan(&syncDate)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", ErrHistoryDB.Wrap(err)
	}
	return syncDate, nil
}

// LastSync returns the sync_date of the most recent journal row of any kind,
// or an empty string for a fresh store.
func (hdb *HistoryDB) LastSync(ctx context.Context) (_ string, err error) {
	defer mon.Task()(&ctx)(&err)

	hdb.mu.Lock()
	defer hdb.mu.Unlock()

	var syncDate string
	err = hdb.db.QueryRowContext(ctx, `
		SELECT sync_date FROM sync_history
		ORDER BY sync_date DESC, id DESC
		LIMIT 1`).Scan(&syncDate)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", ErrHistoryDB.Wrap(err)
	}
	return syncDate, nil
}
