// Copyright (C) 2026 Vulnwatch, Inc.
// See LICENSE for copying information.

package vulndb

// Schema DDL is idempotent; Open runs it on every start. Changes to the
// sync_history layout are handled by additive column repair, never by
// destructive migration.

var createTables = []string{
	`CREATE TABLE IF NOT EXISTS vulnerabilities (
		id TEXT PRIMARY KEY NOT NULL,
		name TEXT,
		description TEXT,
		vulnerability_type TEXT,
		integration_id TEXT,
		target_id TEXT,
		package_identifier TEXT,
		severity TEXT,
		cvss_score REAL,
		scanner_score REAL,
		is_fixable INTEGER,
		first_detected TEXT,
		last_detected TEXT,
		remediate_by TEXT,
		deactivated_on TEXT,
		related_vulns TEXT,
		related_urls TEXT,
		raw_data TEXT NOT NULL,
		updated_at TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_vulnerabilities_severity ON vulnerabilities(severity)`,
	`CREATE INDEX IF NOT EXISTS idx_vulnerabilities_target_id ON vulnerabilities(target_id)`,
	`CREATE INDEX IF NOT EXISTS idx_vulnerabilities_deactivated_on ON vulnerabilities(deactivated_on)`,
	`CREATE INDEX IF NOT EXISTS idx_vulnerabilities_is_fixable ON vulnerabilities(is_fixable)`,
	`CREATE INDEX IF NOT EXISTS idx_vulnerabilities_integration_id ON vulnerabilities(integration_id)`,

	`CREATE TABLE IF NOT EXISTS remediations (
		id TEXT PRIMARY KEY NOT NULL,
		vulnerability_id TEXT,
		vulnerable_asset_id TEXT,
		severity TEXT,
		detected_date TEXT,
		sla_deadline_date TEXT,
		remediation_date TEXT,
		remediated_on_time INTEGER,
		integration_id TEXT,
		integration_type TEXT,
		status TEXT,
		raw_data TEXT NOT NULL,
		updated_at TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_remediations_vulnerability_id ON remediations(vulnerability_id)`,
	`CREATE INDEX IF NOT EXISTS idx_remediations_status ON remediations(status)`,

	`CREATE TABLE IF NOT EXISTS vulnerable_assets (
		id TEXT PRIMARY KEY NOT NULL,
		name TEXT,
		asset_type TEXT,
		integration_id TEXT,
		environment TEXT,
		platform TEXT,
		owner TEXT,
		external_identifier TEXT,
		ip_addresses TEXT,
		hostnames TEXT,
		raw_data TEXT NOT NULL,
		updated_at TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_vulnerable_assets_asset_type ON vulnerable_assets(asset_type)`,

	`CREATE TABLE IF NOT EXISTS sync_history (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		sync_date TEXT NOT NULL,
		event_type TEXT,
		message TEXT,
		details TEXT,
		vulnerabilities_count INTEGER,
		vulnerabilities_new INTEGER,
		vulnerabilities_updated INTEGER,
		vulnerabilities_remediated INTEGER,
		remediations_count INTEGER,
		remediations_new INTEGER,
		remediations_updated INTEGER,
		new_count INTEGER,
		updated_count INTEGER,
		remediated_count INTEGER
	)`,
	`CREATE INDEX IF NOT EXISTS idx_sync_history_sync_date ON sync_history(sync_date)`,
}

// historyCountColumns are the sync_history columns older database files may
// be missing. Repair adds absent ones as nullable integers.
var historyCountColumns = []string{
	"vulnerabilities_count",
	"vulnerabilities_new",
	"vulnerabilities_updated",
	"vulnerabilities_remediated",
	"remediations_count",
	"remediations_new",
	"remediations_updated",
	"new_count",
	"updated_count",
	"remediated_count",
}

// expectedSchema lists the column names per table for the preflight check.
var expectedSchema = map[string][]string{
	"vulnerabilities": {
		"id", "name", "description", "vulnerability_type", "integration_id",
		"target_id", "package_identifier", "severity", "cvss_score",
		"scanner_score", "is_fixable", "first_detected", "last_detected",
		"remediate_by", "deactivated_on", "related_vulns", "related_urls",
		"raw_data", "updated_at",
	},
	"remediations": {
		"id", "vulnerability_id", "vulnerable_asset_id", "severity",
		"detected_date", "sla_deadline_date", "remediation_date",
		"remediated_on_time", "integration_id", "integration_type", "status",
		"raw_data", "updated_at",
	},
	"vulnerable_assets": {
		"id", "name", "asset_type", "integration_id", "environment",
		"platform", "owner", "external_identifier", "ip_addresses",
		"hostnames", "raw_data", "updated_at",
	},
	"sync_history": {
		"id", "sync_date", "event_type", "message", "details",
		"vulnerabilities_count", "vulnerabilities_new",
		"vulnerabilities_updated", "vulnerabilities_remediated",
		"remediations_count", "remediations_new", "remediations_updated",
		"new_count", "updated_count", "remediated_count",
	},
}
