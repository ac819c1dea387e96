// Package extract parses delimited tabular uploads into ordered rows, reports
// data quality issues without discarding anything, and serializes each row
// into the column-aware text that gets embedded for retrieval.
package extract

import (
	"encoding/csv"
	"fmt"
	"strconv"
	"strings"

	"monthend_back/errdefs"
)

// MissingSentinel is rendered in chunk text wherever a field has no value.
const MissingSentinel = "Missing"

// Issue flags one data quality problem found during extraction. RowIndex is
// -1 for column-level issues.
type Issue struct {
	Kind     string `json:"kind"`
	RowIndex int    `json:"row_index"`
	Column   string `json:"column"`
}

const (
	IssueMissing     = "missing"
	IssueDuplicate   = "duplicate"
	IssueEmptyColumn = "empty_column"
)

// Result holds everything extraction produced for one file. Rows and
// RowTexts are index-aligned; RowTexts[i] is the chunk serialization of
// Rows[i].
type Result struct {
	DocType      string              `json:"doc_type"`
	Columns      []string            `json:"columns"`
	Rows         []map[string]string `json:"rows"`
	RowTexts     []string            `json:"-"`
	QualityScore float64             `json:"quality_score"`
	Issues       []Issue             `json:"issues"`
}

// Extract parses CSV content into rows, preserving column order and names.
// Unparseable content fails with errdefs.ErrParse; nothing is partially
// returned in that case.
func Extract(content []byte, docType string) (*Result, error) {
	reader := csv.NewReader(strings.NewReader(string(content)))
	reader.TrimLeadingSpace = true

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("extract: parse csv: %v: %w", err, errdefs.ErrParse)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("extract: content has no header row: %w", errdefs.ErrParse)
	}

	columns := make([]string, len(records[0]))
	for i, name := range records[0] {
		columns[i] = strings.TrimSpace(name)
		if columns[i] == "" {
			columns[i] = fmt.Sprintf("column_%d", i+1)
		}
	}

	rows := make([]map[string]string, 0, len(records)-1)
	for _, record := range records[1:] {
		row := make(map[string]string, len(columns))
		for i, col := range columns {
			row[col] = strings.TrimSpace(record[i])
		}
		rows = append(rows, row)
	}

	result := &Result{
		DocType: docType,
		Columns: columns,
		Rows:    rows,
	}
	result.Issues = detectIssues(columns, rows)
	result.QualityScore = qualityScore(columns, rows, result.Issues)
	result.RowTexts = make([]string, len(rows))
	for i, row := range rows {
		result.RowTexts[i] = RowText(i, columns, row)
	}
	return result, nil
}

// RowText builds the column-aware serialization of one row:
// "Row {index} | col1: val1, col2: val2". Missing values render as the
// sentinel so the embedding still carries the column name.
func RowText(index int, columns []string, row map[string]string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Row %d | ", index)
	for i, col := range columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(col)
		b.WriteString(": ")
		b.WriteString(renderValue(row[col]))
	}
	return b.String()
}

// renderValue makes raw cell values readable: large numbers get thousands
// separators, empty cells become the sentinel, everything else passes
// through untouched (dates are already human-readable in the source).
func renderValue(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return MissingSentinel
	}
	if formatted, ok := humanizeNumber(trimmed); ok {
		return formatted
	}
	return trimmed
}

func humanizeNumber(value string) (string, bool) {
	clean := strings.ReplaceAll(value, ",", "")
	clean = strings.TrimPrefix(clean, "$")
	parsed, err := strconv.ParseFloat(clean, 64)
	if err != nil {
		return "", false
	}
	if parsed != float64(int64(parsed)) {
		return groupDigits(strconv.FormatFloat(parsed, 'f', 2, 64)), true
	}
	return groupDigits(strconv.FormatInt(int64(parsed), 10)), true
}

func groupDigits(number string) string {
	sign := ""
	if strings.HasPrefix(number, "-") {
		sign = "-"
		number = number[1:]
	}
	intPart, fracPart, hasFrac := strings.Cut(number, ".")
	if len(intPart) > 3 {
		var b strings.Builder
		lead := len(intPart) % 3
		if lead > 0 {
			b.WriteString(intPart[:lead])
		}
		for i := lead; i < len(intPart); i += 3 {
			if b.Len() > 0 {
				b.WriteByte(',')
			}
			b.WriteString(intPart[i : i+3])
		}
		intPart = b.String()
	}
	if hasFrac {
		return sign + intPart + "." + fracPart
	}
	return sign + intPart
}

func detectIssues(columns []string, rows []map[string]string) []Issue {
	issues := make([]Issue, 0)

	for i, row := range rows {
		for _, col := range columns {
			if row[col] == "" {
				issues = append(issues, Issue{Kind: IssueMissing, RowIndex: i, Column: col})
			}
		}
	}

	seen := make(map[string]int, len(rows))
	for i, row := range rows {
		key := rowKey(columns, row)
		if _, dup := seen[key]; dup {
			issues = append(issues, Issue{Kind: IssueDuplicate, RowIndex: i})
		} else {
			seen[key] = i
		}
	}

	for _, col := range columns {
		empty := len(rows) > 0
		for _, row := range rows {
			if row[col] != "" {
				empty = false
				break
			}
		}
		if empty {
			issues = append(issues, Issue{Kind: IssueEmptyColumn, RowIndex: -1, Column: col})
		}
	}

	return issues
}

func rowKey(columns []string, row map[string]string) string {
	parts := make([]string, len(columns))
	for i, col := range columns {
		parts[i] = row[col]
	}
	return strings.Join(parts, "\x1f")
}

// qualityScore starts at 1.0 and deducts for missing cells, duplicate rows,
// and empty columns, each deduction capped so one pathology cannot zero out
// an otherwise usable file. Always within [0, 1] and non-increasing as
// issues accumulate.
func qualityScore(columns []string, rows []map[string]string, issues []Issue) float64 {
	if len(rows) == 0 || len(columns) == 0 {
		return 1.0
	}

	var missing, duplicates, emptyColumns float64
	for _, issue := range issues {
		switch issue.Kind {
		case IssueMissing:
			missing++
		case IssueDuplicate:
			duplicates++
		case IssueEmptyColumn:
			emptyColumns++
		}
	}

	score := 1.0
	score -= min(0.3, missing/float64(len(rows)*len(columns)))
	score -= min(0.2, duplicates/float64(len(rows)))
	score -= 0.1 * emptyColumns
	if score < 0 {
		return 0
	}
	return score
}
