package workflow

import (
	"time"

	"monthend_back/analytics"
	"monthend_back/checklist"
)

// Workflow states for one upload request. failed is reachable from any
// non-terminal state.
const (
	StateReceived          = "received"
	StateClassifying       = "classifying"
	StateExtracting        = "extracting"
	StateChecklistUpdating = "checklist_updating"
	StateAnalyzing         = "analyzing"
	StateCompleted         = "completed"
	StateFailed            = "failed"
)

// UploadResult aggregates the stage outputs of one processed upload.
// AnalyticsFailed marks a completed workflow whose advisory analytics did not
// run; Analytics is nil in that case.
type UploadResult struct {
	DocumentID      string             `json:"document_id"`
	State           string             `json:"state"`
	FailedStage     string             `json:"failed_stage,omitempty"`
	DocType         string             `json:"doc_type"`
	Confidence      float64            `json:"confidence"`
	QualityScore    float64            `json:"quality_score"`
	RowCount        int                `json:"row_count"`
	ChunkCount      int                `json:"chunk_count"`
	Checklist       *checklist.Status  `json:"checklist_status,omitempty"`
	Analytics       *analytics.Report  `json:"analytics,omitempty"`
	AnalyticsFailed bool               `json:"analytics_failed,omitempty"`
	ArchiveObject   string             `json:"archive_object,omitempty"`
}

// DocumentSummary is the list view of a stored document.
type DocumentSummary struct {
	DocumentID string    `json:"document_id"`
	Filename   string    `json:"filename"`
	DocType    string    `json:"doc_type"`
	RowCount   int       `json:"row_count"`
	UploadTime time.Time `json:"upload_time"`
}

// DocumentReport is one document's analytics inside the aggregated report.
type DocumentReport struct {
	DocumentID string            `json:"document_id"`
	Filename   string            `json:"filename"`
	DocType    string            `json:"doc_type"`
	RowCount   int               `json:"row_count"`
	Analytics  *analytics.Report `json:"analytics,omitempty"`
}

// Report is the month-end close summary for one owner. Summary is composed
// deterministically from stored state; Narrative comes from the language
// model and falls back to Summary when the model is unavailable.
type Report struct {
	OwnerID       string            `json:"owner_id"`
	GeneratedAt   time.Time         `json:"generated_at"`
	DocumentCount int               `json:"document_count"`
	Checklist     *checklist.Status `json:"checklist_status"`
	Documents     []DocumentReport  `json:"documents"`
	RiskLevel     string            `json:"risk_level"`
	Summary       string            `json:"summary"`
	Narrative     string            `json:"narrative"`
}
