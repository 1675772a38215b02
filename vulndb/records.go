// Copyright (C) 2026 Vulnwatch, Inc.
// See LICENSE for copying information.

package vulndb

import (
	"database/sql"
	"encoding/json"
	"time"
)

// The wire payloads have open, scanner-dependent shape. Only the closed set
// of fields below is projected into typed columns; the verbatim payload is
// kept in raw_data for downstream reprocessing.

type vulnerabilityFields struct {
	ID                string              `json:"id"`
	Name              string              `json:"name"`
	Description       string              `json:"description"`
	VulnerabilityType string              `json:"vulnerabilityType"`
	IntegrationID     string              `json:"integrationId"`
	TargetID          string              `json:"targetId"`
	PackageIdentifier string              `json:"packageIdentifier"`
	Severity          string              `json:"severity"`
	CVSSScore         *float64            `json:"cvssSeverityScore"`
	ScannerScore      *float64            `json:"scannerScore"`
	IsFixable         *bool               `json:"isFixable"`
	FirstDetected     string              `json:"firstDetectedDate"`
	LastDetected      string              `json:"lastDetectedDate"`
	RemediateBy       string              `json:"remediateByDate"`
	RelatedVulns      []string            `json:"relatedVulns"`
	RelatedURLs       []string            `json:"relatedUrls"`
	Deactivate        *deactivateMetadata `json:"deactivateMetadata"`
}

type deactivateMetadata struct {
	DeactivatedOnDate string `json:"deactivatedOnDate"`
}

// deactivatedOn returns the deactivation date, empty when the record is
// still active.
func (fields vulnerabilityFields) deactivatedOn() string {
	if fields.Deactivate == nil {
		return ""
	}
	return fields.Deactivate.DeactivatedOnDate
}

// rawDeactivated reports whether a stored raw payload carries a
// deactivation date.
func rawDeactivated(raw string) bool {
	var fields struct {
		Deactivate *deactivateMetadata `json:"deactivateMetadata"`
	}
	if err := json.Unmarshal([]byte(raw), &fields); err != nil {
		return false
	}
	return fields.Deactivate != nil && fields.Deactivate.DeactivatedOnDate != ""
}

type remediationFields struct {
	ID                string `json:"id"`
	VulnerabilityID   string `json:"vulnerabilityId"`
	VulnerableAssetID string `json:"vulnerableAssetId"`
	Severity          string `json:"severity"`
	DetectedDate      string `json:"detectedDate"`
	SLADeadlineDate   string `json:"slaDeadlineDate"`
	RemediationDate   string `json:"remediationDate"`
	RemediatedOnTime  *bool  `json:"remediatedOnTime"`
	IntegrationID     string `json:"integrationId"`
	IntegrationType   string `json:"integrationType"`
	Status            string `json:"status"`
}

type assetFields struct {
	ID                 string   `json:"id"`
	Name               string   `json:"name"`
	AssetType          string   `json:"assetType"`
	IntegrationID      string   `json:"integrationId"`
	Environment        string   `json:"environment"`
	Platform           string   `json:"platform"`
	Owner              string   `json:"owner"`
	ExternalIdentifier string   `json:"externalIdentifier"`
	IPAddresses        []string `json:"ipAddresses"`
	Hostnames          []string `json:"hostnames"`
}

// Stats summarizes one classified batch write. Remediated is only meaningful
// for vulnerability batches.
type Stats struct {
	New        int64 `json:"new"`
	Updated    int64 `json:"updated"`
	Remediated int64 `json:"remediated"`
	Total      int64 `json:"total"`
}

// Add accumulates another batch into the running stats.
func (stats *Stats) Add(other Stats) {
	stats.New += other.New
	stats.Updated += other.Updated
	stats.Remediated += other.Remediated
	stats.Total += other.Total
}

// nowTimestamp returns the write timestamp stored in updated_at columns.
func nowTimestamp() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

// nullString stores empty strings as NULL.
func nullString(value string) interface{} {
	if value == "" {
		return nil
	}
	return value
}

// nullFloat stores absent optionals as NULL.
func nullFloat(value *float64) interface{} {
	if value == nil {
		return nil
	}
	return *value
}

// nullBool stores absent optionals as NULL, otherwise 0/1.
func nullBool(value *bool) interface{} {
	if value == nil {
		return nil
	}
	if *value {
		return 1
	}
	return 0
}

// nullJSON stores nil slices as NULL, otherwise their JSON serialization.
func nullJSON(values []string) interface{} {
	if values == nil {
		return nil
	}
	serialized, err := json.Marshal(values)
	if err != nil {
		return nil
	}
	return string(serialized)
}

func fromNullString(value sql.NullString) string {
	if !value.Valid {
		return ""
	}
	return value.String
}

func fromNullFloat(value sql.NullFloat64) *float64 {
	if !value.Valid {
		return nil
	}
	f := value.Float64
	return &f
}

func fromNullBool(value sql.NullBool) *bool {
	if !value.Valid {
		return nil
	}
	b := value.Bool
	return &b
}

func fromNullInt(value sql.NullInt64) *int64 {
	if !value.Valid {
		return nil
	}
	n := value.Int64
	return &n
}

func fromJSONList(value sql.NullString) []string {
	if !value.Valid || value.String == "" {
		return nil
	}
	var out []string
	if err := json.Unmarshal([]byte(value.String), &out); err != nil {
		return nil
	}
	return out
}

// chunkIDs splits ids into slices of at most size entries. SQLite caps host
// parameters at 999 per statement.
func chunkIDs(ids []string, size int) [][]string {
	var chunks [][]string
	for len(ids) > size {
		chunks = append(chunks, ids[:size])
		ids = ids[size:]
	}
	if len(ids) > 0 {
		chunks = append(chunks, ids)
	}
	return chunks
}

// placeholders returns "?,?,…" with count entries.
func placeholders(count int) string {
	out := make([]byte, 0, count*2)
	for i := 0; i < count; i++ {
		if i > 0 {
			out = append(out, ',')
		}
		out = append(out, '?')
	}
	return string(out)
}
