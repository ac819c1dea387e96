package analytics

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rowsFromAmounts(amounts ...string) []map[string]string {
	rows := make([]map[string]string, len(amounts))
	for i, amount := range amounts {
		rows[i] = map[string]string{"Amount": amount}
	}
	return rows
}

func TestAnalyzeComputesColumnStats(t *testing.T) {
	report := Analyze([]string{"Amount"}, rowsFromAmounts("10", "20", "30", "40"))

	require.Len(t, report.Stats, 1)
	stats := report.Stats[0]
	assert.Equal(t, "Amount", stats.Column)
	assert.Equal(t, 4, stats.Count)
	assert.Equal(t, 100.0, stats.Total)
	assert.Equal(t, 25.0, stats.Mean)
	assert.Equal(t, 10.0, stats.Min)
	assert.Equal(t, 40.0, stats.Max)
	assert.Greater(t, stats.StdDev, 0.0)
}

func TestAnalyzeFlagsExtremeOutlier(t *testing.T) {
	// 29 small values and one huge one push the big value past z=3.
	amounts := make([]string, 0, 30)
	for i := 0; i < 29; i++ {
		amounts = append(amounts, fmt.Sprintf("%d", 100+i))
	}
	amounts = append(amounts, "1000000")

	report := Analyze([]string{"Amount"}, rowsFromAmounts(amounts...))

	var outliers []Finding
	for _, f := range report.Findings {
		if f.Kind == KindOutlier {
			outliers = append(outliers, f)
		}
	}
	require.Len(t, outliers, 1)
	assert.Equal(t, 29, outliers[0].RowIndex)
	assert.Equal(t, SeverityHigh, outliers[0].Severity)
	require.NotNil(t, outliers[0].ZScore)
	assert.Greater(t, *outliers[0].ZScore, 4.0)
	assert.Equal(t, RiskHigh, report.RiskLevel)
}

func TestAnalyzeZeroSpreadYieldsNoOutliers(t *testing.T) {
	report := Analyze([]string{"Amount"}, rowsFromAmounts("500", "500", "500"))

	for _, f := range report.Findings {
		assert.NotEqual(t, KindOutlier, f.Kind)
	}
}

func TestAnalyzeTwoPointColumnNeverCrashes(t *testing.T) {
	// The bank statement scenario: two numeric points give each value a
	// z-score of exactly 1 under the sample deviation, so no outlier fires.
	rows := []map[string]string{
		{"Date": "2024-11-01", "Amount": "50000"},
		{"Date": "2024-11-02", "Amount": "-5000"},
	}
	report := Analyze([]string{"Date", "Amount"}, rows)

	for _, f := range report.Findings {
		assert.NotEqual(t, KindOutlier, f.Kind)
	}
	assert.Equal(t, RiskMinimal, report.RiskLevel)
}

func TestAnalyzeDuplicateRowsProduceOneFinding(t *testing.T) {
	rows := []map[string]string{
		{"A": "1", "B": "x"},
		{"A": "2", "B": "y"},
		{"A": "1", "B": "x"},
	}
	report := Analyze([]string{"A", "B"}, rows)

	var duplicates []Finding
	for _, f := range report.Findings {
		if f.Kind == KindDuplicate {
			duplicates = append(duplicates, f)
		}
	}
	require.Len(t, duplicates, 1)
	assert.Equal(t, 0, duplicates[0].RowIndex)
	assert.Equal(t, []int{0, 2}, duplicates[0].RowIndexes)
	assert.Equal(t, SeverityInfo, duplicates[0].Severity)
	assert.Equal(t, RiskLow, report.RiskLevel)
}

func TestAnalyzeMissingSeverityThreshold(t *testing.T) {
	// 1 of 10 missing stays medium; 3 of 10 crosses the 20% line.
	mild := rowsFromAmounts("1", "2", "3", "4", "5", "6", "7", "8", "9", "")
	report := Analyze([]string{"Amount"}, mild)
	require.Len(t, findingsOfKind(report, KindMissing), 1)
	assert.Equal(t, SeverityMed, findingsOfKind(report, KindMissing)[0].Severity)

	severe := rowsFromAmounts("1", "2", "3", "4", "5", "6", "7", "", "", "")
	report = Analyze([]string{"Amount"}, severe)
	require.Len(t, findingsOfKind(report, KindMissing), 1)
	assert.Equal(t, SeverityHigh, findingsOfKind(report, KindMissing)[0].Severity)
	assert.Equal(t, RiskHigh, report.RiskLevel)
}

func TestAnalyzeParsesCurrencyValues(t *testing.T) {
	report := Analyze([]string{"Amount"}, rowsFromAmounts("$1,000", "$2,000", "$3,000"))

	require.Len(t, report.Stats, 1)
	assert.Equal(t, 3, report.Stats[0].Count)
	assert.Equal(t, 2000.0, report.Stats[0].Mean)
}

func TestAnalyzeIsIdempotent(t *testing.T) {
	rows := []map[string]string{
		{"A": "1", "B": ""},
		{"A": "1", "B": ""},
		{"A": "300", "B": "5"},
	}
	first := Analyze([]string{"A", "B"}, rows)
	second := Analyze([]string{"A", "B"}, rows)
	assert.Equal(t, first, second)
}

func TestAnalyzeEmptyInput(t *testing.T) {
	report := Analyze(nil, nil)
	assert.Empty(t, report.Stats)
	assert.Empty(t, report.Findings)
	assert.Equal(t, RiskMinimal, report.RiskLevel)
}

func TestRiskTiers(t *testing.T) {
	cases := []struct {
		name     string
		findings []Finding
		want     string
	}{
		{"high wins", []Finding{{Severity: SeverityHigh}, {Severity: SeverityMed}}, RiskHigh},
		{"medium without high", []Finding{{Severity: SeverityMed}}, RiskMedium},
		{"info only", []Finding{{Severity: SeverityInfo}}, RiskLow},
		{"clean", nil, RiskMinimal},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			level, summary := assessRisk(tc.findings)
			assert.Equal(t, tc.want, level)
			assert.NotEmpty(t, summary)
		})
	}
}

func findingsOfKind(report *Report, kind string) []Finding {
	var out []Finding
	for _, f := range report.Findings {
		if f.Kind == kind {
			out = append(out, f)
		}
	}
	return out
}
