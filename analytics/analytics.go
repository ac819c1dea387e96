// Package analytics computes summary statistics over extracted rows and
// flags anomalies. It reads rows and nothing else, so re-running it over
// unchanged data always yields the identical report; results are advisory
// and never persisted as authoritative state.
package analytics

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

const (
	KindOutlier   = "outlier"
	KindMissing   = "missing"
	KindDuplicate = "duplicate"

	SeverityHigh = "high"
	SeverityMed  = "medium"
	SeverityInfo = "info"

	RiskHigh    = "HIGH"
	RiskMedium  = "MEDIUM"
	RiskLow     = "LOW"
	RiskMinimal = "MINIMAL"
)

// ColumnStats summarizes one numeric column.
type ColumnStats struct {
	Column string  `json:"column"`
	Count  int     `json:"count"`
	Total  float64 `json:"total"`
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"std_dev"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
}

// Finding is one detected anomaly. RowIndex is -1 for column-level findings;
// duplicate findings list every affected row in RowIndexes.
type Finding struct {
	Kind        string   `json:"kind"`
	Column      string   `json:"column,omitempty"`
	RowIndex    int      `json:"row_index"`
	RowIndexes  []int    `json:"row_indexes,omitempty"`
	Severity    string   `json:"severity"`
	Description string   `json:"description"`
	ZScore      *float64 `json:"z_score,omitempty"`
}

// Report is the full analytics output for one document.
type Report struct {
	Stats       []ColumnStats `json:"statistical_summary"`
	Findings    []Finding     `json:"anomalies"`
	RiskLevel   string        `json:"risk_level"`
	RiskSummary string        `json:"risk_summary"`
}

// Analyze runs statistics and anomaly detection over the given rows. Columns
// carry the original order so output is stable across repeated runs.
func Analyze(columns []string, rows []map[string]string) *Report {
	report := &Report{Findings: make([]Finding, 0)}

	for _, col := range columns {
		values, indexes := numericValues(col, rows)
		if len(values) < 2 {
			continue
		}

		stats := computeStats(col, values)
		report.Stats = append(report.Stats, stats)

		// z-score outliers; a zero spread means every value is identical
		// and nothing can be an outlier.
		if stats.StdDev > 0 {
			for i, v := range values {
				z := math.Abs(v-stats.Mean) / stats.StdDev
				if z <= 3 {
					continue
				}
				severity := SeverityMed
				if z > 4 {
					severity = SeverityHigh
				}
				rounded := round2(z)
				report.Findings = append(report.Findings, Finding{
					Kind:     KindOutlier,
					Column:   col,
					RowIndex: indexes[i],
					Severity: severity,
					ZScore:   &rounded,
					Description: fmt.Sprintf("value %.2f in %q is %.1f standard deviations from the mean (%.2f)",
						v, col, z, stats.Mean),
				})
			}
		}
	}

	report.Findings = append(report.Findings, missingFindings(columns, rows)...)
	report.Findings = append(report.Findings, duplicateFindings(columns, rows)...)

	report.RiskLevel, report.RiskSummary = assessRisk(report.Findings)
	return report
}

func numericValues(col string, rows []map[string]string) ([]float64, []int) {
	values := make([]float64, 0, len(rows))
	indexes := make([]int, 0, len(rows))
	for i, row := range rows {
		raw := strings.TrimSpace(row[col])
		if raw == "" {
			continue
		}
		clean := strings.ReplaceAll(raw, ",", "")
		clean = strings.TrimPrefix(clean, "$")
		v, err := strconv.ParseFloat(clean, 64)
		if err != nil {
			continue
		}
		values = append(values, v)
		indexes = append(indexes, i)
	}
	return values, indexes
}

func computeStats(col string, values []float64) ColumnStats {
	total := 0.0
	minV, maxV := values[0], values[0]
	for _, v := range values {
		total += v
		if v < minV {
			minV = v
		}
		if v > maxV {
			maxV = v
		}
	}
	mean := total / float64(len(values))

	// Sample standard deviation, matching the two-value edge case: with two
	// points both sit exactly one deviation from the mean, so the z-score
	// rule can never fire on them.
	variance := 0.0
	for _, v := range values {
		variance += (v - mean) * (v - mean)
	}
	variance /= float64(len(values) - 1)

	return ColumnStats{
		Column: col,
		Count:  len(values),
		Total:  round2(total),
		Mean:   round2(mean),
		StdDev: round2(math.Sqrt(variance)),
		Min:    round2(minV),
		Max:    round2(maxV),
	}
}

func missingFindings(columns []string, rows []map[string]string) []Finding {
	if len(rows) == 0 {
		return nil
	}
	findings := make([]Finding, 0)
	for _, col := range columns {
		missing := 0
		for _, row := range rows {
			if strings.TrimSpace(row[col]) == "" {
				missing++
			}
		}
		if missing == 0 {
			continue
		}
		ratio := float64(missing) / float64(len(rows))
		severity := SeverityMed
		if ratio > 0.2 {
			severity = SeverityHigh
		}
		findings = append(findings, Finding{
			Kind:     KindMissing,
			Column:   col,
			RowIndex: -1,
			Severity: severity,
			Description: fmt.Sprintf("column %q has %d missing values (%.1f%%)",
				col, missing, ratio*100),
		})
	}
	return findings
}

func duplicateFindings(columns []string, rows []map[string]string) []Finding {
	groups := make(map[string][]int)
	order := make([]string, 0)
	for i, row := range rows {
		parts := make([]string, len(columns))
		for j, col := range columns {
			parts[j] = row[col]
		}
		key := strings.Join(parts, "\x1f")
		if _, ok := groups[key]; !ok {
			order = append(order, key)
		}
		groups[key] = append(groups[key], i)
	}

	findings := make([]Finding, 0)
	for _, key := range order {
		indexes := groups[key]
		if len(indexes) < 2 {
			continue
		}
		findings = append(findings, Finding{
			Kind:       KindDuplicate,
			RowIndex:   indexes[0],
			RowIndexes: indexes,
			Severity:   SeverityInfo,
			Description: fmt.Sprintf("rows %s are identical across all columns",
				joinInts(indexes)),
		})
	}
	return findings
}

// assessRisk: any high-severity finding escalates to HIGH, medium without
// high yields MEDIUM, informational-only yields LOW, a clean report MINIMAL.
func assessRisk(findings []Finding) (string, string) {
	high, medium := 0, 0
	for _, f := range findings {
		switch f.Severity {
		case SeverityHigh:
			high++
		case SeverityMed:
			medium++
		}
	}
	switch {
	case high > 0:
		return RiskHigh, fmt.Sprintf("%d high-severity issues detected - immediate review required", high)
	case medium > 0:
		return RiskMedium, fmt.Sprintf("%d medium-severity issues detected - review recommended", medium)
	case len(findings) > 0:
		return RiskLow, fmt.Sprintf("%d minor issues detected - routine review suggested", len(findings))
	default:
		return RiskMinimal, "no significant issues detected - data appears clean"
	}
}

func joinInts(values []int) string {
	sorted := append([]int(nil), values...)
	sort.Ints(sorted)
	parts := make([]string, len(sorted))
	for i, v := range sorted {
		parts[i] = strconv.Itoa(v)
	}
	return strings.Join(parts, ", ")
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
