// Copyright (C) 2026 Vulnwatch, Inc.
// See LICENSE for copying information.

package vulndb

import (
	"strings"
)

// Filters is an externally supplied filter map for vulnerability queries.
// Only the recognized keys below are compiled; everything else is ignored.
type Filters map[string]interface{}

// filterOrder fixes the order conditions are compiled in so the generated
// SQL is deterministic.
var filterOrder = []string{
	"severity",
	"status",
	"fixable",
	"integration",
	"asset_id",
	"cve",
	"search",
	"date_identified_start",
	"date_identified_end",
	"date_remediated_start",
	"date_remediated_end",
}

// compileFilters translates a filter map into a SQL condition and its
// arguments. Unrecognized keys and empty values compile to nothing.
func compileFilters(filters Filters) (string, []interface{}) {
	var conditions []string
	var args []interface{}

	add := func(condition string, values ...interface{}) {
		conditions = append(conditions, condition)
		args = append(args, values...)
	}

	for _, key := range filterOrder {
		value, ok := filters[key]
		if !ok {
			continue
		}

		switch key {
		case "severity":
			severities := stringSlice(value)
			if len(severities) == 0 {
				continue
			}
			placeholders := strings.TrimSuffix(strings.Repeat("?,", len(severities)), ",")
			condition := "severity IN (" + placeholders + ")"
			values := make([]interface{}, len(severities))
			for i, severity := range severities {
				values[i] = severity
			}
			add(condition, values...)

		case "status":
			switch stringValue(value) {
			case "active":
				add("deactivated_on IS NULL")
			case "deactivated":
				add("deactivated_on IS NOT NULL")
			}

		case "fixable":
			switch stringValue(value) {
			case "fixable":
				add("is_fixable = 1")
			case "not_fixable":
				add("is_fixable = 0")
			}

		case "integration":
			if v := stringValue(value); v != "" {
				add("integration_id LIKE ?", "%"+v+"%")
			}

		case "asset_id":
			if v := stringValue(value); v != "" {
				add("target_id = ?", v)
			}

		case "cve":
			if v := stringValue(value); v != "" {
				add("(name LIKE ? OR related_vulns LIKE ?)", "%"+v+"%", "%"+v+"%")
			}

		case "search":
			if v := stringValue(value); v != "" {
				add("(name LIKE ? OR description LIKE ? OR id LIKE ?)", "%"+v+"%", "%"+v+"%", "%"+v+"%")
			}

		case "date_identified_start":
			if v := stringValue(value); v != "" {
				add("first_detected >= ?", v)
			}
		case "date_identified_end":
			if v := stringValue(value); v != "" {
				add("first_detected <= ?", v)
			}
		case "date_remediated_start":
			if v := stringValue(value); v != "" {
				add("deactivated_on >= ?", v)
			}
		case "date_remediated_end":
			if v := stringValue(value); v != "" {
				add("deactivated_on <= ?", v)
			}
		}
	}

	if len(conditions) == 0 {
		return "", nil
	}
	return strings.Join(conditions, " AND "), args
}

// whereClause returns a leading-space WHERE clause, or an empty string when
// nothing is filtered.
func whereClause(filters Filters) (string, []interface{}) {
	condition, args := compileFilters(filters)
	if condition == "" {
		return "", nil
	}
	return " WHERE " + condition, args
}

// sortColumns is the whitelist of sortable columns. Anything else falls back
// to first_detected.
var sortColumns = map[string]bool{
	"id":             true,
	"name":           true,
	"severity":       true,
	"integration_id": true,
	"target_id":      true,
	"first_detected": true,
	"status":         true,
}

// severityOrder ranks severities so CRITICAL sorts ahead of HIGH and so on;
// anything unrecognized sorts after INFO.
const severityOrder = `CASE severity
		WHEN 'CRITICAL' THEN 1
		WHEN 'HIGH' THEN 2
		WHEN 'MEDIUM' THEN 3
		WHEN 'LOW' THEN 4
		WHEN 'INFO' THEN 5
		ELSE 6
	END`

// orderClause builds the ORDER BY clause for a whitelisted sort column and
// direction. NULL values always sort last regardless of direction.
func orderClause(sortBy, sortDir string) string {
	direction := "DESC"
	if strings.EqualFold(sortDir, "asc") {
		direction = "ASC"
	}

	column := strings.ToLower(sortBy)
	if !sortColumns[column] {
		column = "first_detected"
	}

	switch column {
	case "status":
		return " ORDER BY (deactivated_on IS NULL) " + direction + ", name ASC"
	case "severity":
		return " ORDER BY " + severityOrder + " " + direction + ", name ASC"
	default:
		return " ORDER BY (" + column + " IS NULL), " + column + " " + direction + ", name ASC"
	}
}

func stringValue(value interface{}) string {
	s, _ := value.(string)
	return s
}

func stringSlice(value interface{}) []string {
	switch v := value.(type) {
	case string:
		if v == "" {
			return nil
		}
		return []string{v}
	case []string:
		return v
	case []interface{}:
		var out []string
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
