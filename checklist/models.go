package checklist

import "time"

// Entry states. With the current catalog minimums of one document per
// category, partial only applies if a category's minimum is raised.
const (
	StateMissing   = "missing"
	StatePartial   = "partial"
	StateSatisfied = "satisfied"
)

// Entry is the completion state of one required document category for one
// owner. SatisfiedCount is always recomputed from the document store, never
// incremented in place.
type Entry struct {
	ID             uint64    `gorm:"primaryKey" json:"-"`
	OwnerID        string    `gorm:"size:128;not null;uniqueIndex:idx_owner_doc" json:"owner_id"`
	DocType        string    `gorm:"size:64;not null;uniqueIndex:idx_owner_doc" json:"doc_type"`
	State          string    `gorm:"size:16;not null;default:missing" json:"state"`
	SatisfiedCount int64     `gorm:"not null;default:0" json:"satisfied_count"`
	Importance     string    `gorm:"size:16" json:"importance"`
	CreatedAt      time.Time `json:"-"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func (Entry) TableName() string {
	return "checklist_entries"
}

// RequiredDoc describes one category every close must cover.
type RequiredDoc struct {
	DocType    string `json:"doc_type"`
	Importance string `json:"importance"`
	Minimum    int64  `json:"minimum"`
}

// requiredDocs is the month-end close catalog. Order is the order entries
// appear in status responses.
var requiredDocs = []RequiredDoc{
	{DocType: "bank_statement", Importance: "high", Minimum: 1},
	{DocType: "invoice_register", Importance: "high", Minimum: 1},
	{DocType: "general_ledger", Importance: "high", Minimum: 1},
	{DocType: "reconciliation", Importance: "high", Minimum: 1},
	{DocType: "trial_balance", Importance: "medium", Minimum: 1},
}

// RequiredDocs returns the catalog of required document categories.
func RequiredDocs() []RequiredDoc {
	out := make([]RequiredDoc, len(requiredDocs))
	copy(out, requiredDocs)
	return out
}

func requiredDoc(docType string) (RequiredDoc, bool) {
	for _, doc := range requiredDocs {
		if doc.DocType == docType {
			return doc, true
		}
	}
	return RequiredDoc{}, false
}

// Status is the full checklist view for one owner.
type Status struct {
	Entries              []Entry       `json:"entries"`
	Required             []RequiredDoc `json:"required_documents"`
	CompletionPercentage float64       `json:"completion_percentage"`
}
