// Copyright (C) 2026 Vulnwatch, Inc.
// See LICENSE for copying information.

package console

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/vulnwatch/vulnsync/vulndb"
)

// LabelValue is one row of a sorted aggregate listing.
type LabelValue struct {
	Label string `json:"label" yaml:"label"`
	Value int64  `json:"value" yaml:"value"`
}

// SeverityRow is one severity bucket with its share of the filtered total.
type SeverityRow struct {
	Label       string  `json:"label" yaml:"label"`
	Count       int64   `json:"count" yaml:"count"`
	Percent     string  `json:"percent" yaml:"percent"`
	AverageCVSS float64 `json:"average_cvss" yaml:"average_cvss"`
}

// AssetRow is a ranked asset with its vulnerability burden.
type AssetRow struct {
	ID              string `json:"id" yaml:"id"`
	Label           string `json:"label" yaml:"label"`
	Total           int64  `json:"total" yaml:"total"`
	CriticalAndHigh int64  `json:"critical_and_high" yaml:"critical_and_high"`
}

// FormatCounts turns an aggregate map into rows sorted by value descending,
// ties broken by label. Rows with an empty label are merged into an UNKNOWN
// bucket.
func FormatCounts(counts map[string]int64) []LabelValue {
	merged := make(map[string]int64, len(counts))
	for label, value := range counts {
		if label == "" {
			label = "UNKNOWN"
		}
		merged[label] += value
	}

	list := make([]LabelValue, 0, len(merged))
	for label, value := range merged {
		list = append(list, LabelValue{Label: label, Value: value})
	}
	sort.Slice(list, func(i, k int) bool {
		if list[i].Value != list[k].Value {
			return list[i].Value > list[k].Value
		}
		return list[i].Label < list[k].Label
	})
	return list
}

// Percent formats part of total as a percentage with one decimal place.
func Percent(part, total int64) string {
	if total == 0 {
		return "0.0%"
	}
	return fmt.Sprintf("%.1f%%", float64(part)/float64(total)*100)
}

// SeverityRows expands the severity aggregate into presentation rows carrying
// percentages and, where known, the average CVSS score of the bucket.
func SeverityRows(stats *vulndb.VulnerabilityStatistics) []SeverityRow {
	rows := make([]SeverityRow, 0, len(stats.BySeverity))
	for _, entry := range FormatCounts(stats.BySeverity) {
		average, ok := stats.AverageCVSSBySeverity[strings.ToLower(entry.Label)]
		if !ok && entry.Label == "UNKNOWN" {
			average = stats.AverageCVSSBySeverity[""]
		}
		rows = append(rows, SeverityRow{
			Label:       entry.Label,
			Count:       entry.Value,
			Percent:     Percent(entry.Value, stats.TotalCount),
			AverageCVSS: average,
		})
	}
	return rows
}

// AssetRows labels the ranked assets as "<name> (<type>)" and folds the
// critical and high counts together.
func AssetRows(top []vulndb.TopAsset) []AssetRow {
	rows := make([]AssetRow, 0, len(top))
	for _, asset := range top {
		name := asset.Name
		if name == "" {
			name = "Unknown"
		}
		kind := asset.AssetType
		if kind == "" {
			kind = "unknown"
		}
		rows = append(rows, AssetRow{
			ID:              asset.ID,
			Label:           fmt.Sprintf("%s (%s)", name, kind),
			Total:           asset.Total,
			CriticalAndHigh: asset.Critical + asset.High,
		})
	}
	return rows
}

func round2(value float64) float64 {
	return math.Round(value*100) / 100
}
