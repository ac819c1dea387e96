package workflow

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"monthend_back/analytics"
	"monthend_back/checklist"
	"monthend_back/llm"
	"monthend_back/store"
)

const narrativeInstruction = "You are a financial close assistant. Write a short narrative summary of the " +
	"month-end close status below for an accounting manager. Be factual, mention open checklist items and " +
	"the highest-risk findings, and do not invent numbers."

var riskOrder = map[string]int{
	analytics.RiskMinimal: 0,
	analytics.RiskLow:     1,
	analytics.RiskMedium:  2,
	analytics.RiskHigh:    3,
}

// ComposeReport aggregates the owner's stored documents into a close report.
// The summary text is deterministic; the narrative uses the language model
// when one is configured and falls back to the summary when the call fails.
func (o *Orchestrator) ComposeReport(ctx context.Context, ownerID string) (*Report, error) {
	status, err := o.checklist.Status(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	docs, err := o.store.ListDocuments(ctx, ownerID)
	if err != nil {
		return nil, err
	}

	report := &Report{
		OwnerID:       ownerID,
		GeneratedAt:   time.Now().UTC(),
		DocumentCount: len(docs),
		Checklist:     status,
		Documents:     make([]DocumentReport, 0, len(docs)),
		RiskLevel:     analytics.RiskMinimal,
	}

	for _, doc := range docs {
		entry := DocumentReport{
			DocumentID: doc.ID,
			Filename:   doc.Filename,
			DocType:    doc.DocType,
			RowCount:   doc.RowCount,
		}
		records, err := o.store.RowsForDocument(ctx, doc.ID)
		if err != nil {
			return nil, err
		}
		rows := make([]map[string]string, 0, len(records))
		for _, record := range records {
			rows = append(rows, store.DecodeFields(record))
		}
		entry.Analytics = analytics.Analyze(store.DecodeColumns(&doc), rows)
		if riskOrder[entry.Analytics.RiskLevel] > riskOrder[report.RiskLevel] {
			report.RiskLevel = entry.Analytics.RiskLevel
		}
		report.Documents = append(report.Documents, entry)
	}

	report.Summary = composeSummary(report)
	report.Narrative = o.composeNarrative(ctx, report)
	return report, nil
}

// composeSummary renders the deterministic report text from stored state
// only, so two calls with no intervening upload produce identical output.
func composeSummary(report *Report) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Month-end close status for owner %s.\n", report.OwnerID)
	fmt.Fprintf(&b, "Checklist completion: %.0f%% (%d documents on file).\n",
		report.Checklist.CompletionPercentage, report.DocumentCount)

	var missing []string
	for _, entry := range report.Checklist.Entries {
		if entry.State != checklist.StateSatisfied {
			missing = append(missing, entry.DocType)
		}
	}
	if len(missing) > 0 {
		fmt.Fprintf(&b, "Outstanding required documents: %s.\n", strings.Join(missing, ", "))
	} else {
		b.WriteString("All required documents are on file.\n")
	}

	fmt.Fprintf(&b, "Overall risk level: %s.\n", report.RiskLevel)
	for _, doc := range report.Documents {
		if doc.Analytics == nil || len(doc.Analytics.Findings) == 0 {
			continue
		}
		fmt.Fprintf(&b, "%s (%s): %d finding(s), risk %s.\n",
			doc.Filename, doc.DocType, len(doc.Analytics.Findings), doc.Analytics.RiskLevel)
	}
	return strings.TrimSpace(b.String())
}

func (o *Orchestrator) composeNarrative(ctx context.Context, report *Report) string {
	if o.model == nil {
		return report.Summary
	}
	result, err := o.model.Chat(ctx, []llm.Message{
		{Role: "system", Content: narrativeInstruction},
		{Role: "user", Content: report.Summary},
	})
	if err != nil || strings.TrimSpace(result.Content) == "" {
		if err != nil {
			log.Printf("workflow: report narrative failed: %v", err)
		}
		return report.Summary
	}
	return result.Content
}
