package workflow

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"monthend_back/analytics"
)

func TestComposeReportAggregatesDocuments(t *testing.T) {
	p := newPipeline(t, fixedEmbedder{})
	ctx := context.Background()

	_, err := p.orchestrator.ProcessUpload(ctx, "owner-a", "bank_statement.csv", []byte(bankCSV))
	require.NoError(t, err)
	// Duplicate rows pull this document to LOW risk.
	ledgerCSV := "Account,Debit\nCash,100\nCash,100\nRevenue,250\n"
	_, err = p.orchestrator.ProcessUpload(ctx, "owner-a", "general_ledger.csv", []byte(ledgerCSV))
	require.NoError(t, err)

	report, err := p.orchestrator.ComposeReport(ctx, "owner-a")
	require.NoError(t, err)

	assert.Equal(t, "owner-a", report.OwnerID)
	assert.Equal(t, 2, report.DocumentCount)
	require.Len(t, report.Documents, 2)
	assert.Equal(t, analytics.RiskLow, report.RiskLevel)
	assert.InDelta(t, 40.0, report.Checklist.CompletionPercentage, 0.01)

	assert.Contains(t, report.Summary, "Checklist completion: 40%")
	assert.Contains(t, report.Summary, "invoice_register")
	assert.Contains(t, report.Summary, "general_ledger.csv (general_ledger): 1 finding(s), risk LOW.")
	assert.NotContains(t, report.Summary, "bank_statement.csv (bank_statement)")
}

func TestComposeReportSummaryIsDeterministic(t *testing.T) {
	p := newPipeline(t, fixedEmbedder{})
	ctx := context.Background()

	_, err := p.orchestrator.ProcessUpload(ctx, "owner-a", "bank_statement.csv", []byte(bankCSV))
	require.NoError(t, err)

	first, err := p.orchestrator.ComposeReport(ctx, "owner-a")
	require.NoError(t, err)
	second, err := p.orchestrator.ComposeReport(ctx, "owner-a")
	require.NoError(t, err)

	assert.Equal(t, first.Summary, second.Summary)
	assert.Equal(t, first.RiskLevel, second.RiskLevel)
}

func TestComposeReportNarrativeUsesModel(t *testing.T) {
	p := newPipeline(t, fixedEmbedder{})
	ctx := context.Background()

	_, err := p.orchestrator.ProcessUpload(ctx, "owner-a", "bank_statement.csv", []byte(bankCSV))
	require.NoError(t, err)

	report, err := p.orchestrator.ComposeReport(ctx, "owner-a")
	require.NoError(t, err)
	assert.Equal(t, "All clear.", report.Narrative)
	assert.Equal(t, 1, p.model.calls)
}

func TestComposeReportNarrativeFallsBackOnModelFailure(t *testing.T) {
	p := newPipeline(t, fixedEmbedder{})
	p.model.fail = true
	ctx := context.Background()

	_, err := p.orchestrator.ProcessUpload(ctx, "owner-a", "bank_statement.csv", []byte(bankCSV))
	require.NoError(t, err)

	report, err := p.orchestrator.ComposeReport(ctx, "owner-a")
	require.NoError(t, err)
	assert.Equal(t, report.Summary, report.Narrative)
}

func TestComposeReportWithoutModelMirrorsSummary(t *testing.T) {
	p := newPipeline(t, fixedEmbedder{})
	orchestrator, err := NewOrchestrator(p.store, p.knowledge, p.checklist, nil, nil)
	require.NoError(t, err)

	report, err := orchestrator.ComposeReport(context.Background(), "owner-a")
	require.NoError(t, err)
	assert.Equal(t, report.Summary, report.Narrative)
	assert.Equal(t, analytics.RiskMinimal, report.RiskLevel)
	assert.Zero(t, report.DocumentCount)
	assert.True(t, strings.HasPrefix(report.Summary, "Month-end close status for owner owner-a."))
	assert.Contains(t, report.Summary, "Outstanding required documents:")
}
