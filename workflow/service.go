// Package workflow drives the month-end close intake pipeline: classify an
// upload, extract its rows, persist document, rows, and embedded chunks in
// one transaction, advance the owner's checklist, and attach advisory
// analytics.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"monthend_back/analytics"
	"monthend_back/checklist"
	"monthend_back/classify"
	"monthend_back/errdefs"
	"monthend_back/extract"
	"monthend_back/knowledge"
	"monthend_back/llm"
	"monthend_back/store"
)

const classifySampleBytes = 4096

// Orchestrator runs the upload state machine. Failures in classification or
// extraction abort the workflow before anything is written; an analytics
// failure still completes the workflow with the failure flagged.
type Orchestrator struct {
	store     *store.Store
	knowledge *knowledge.Service
	checklist *checklist.Service
	archive   Archiver
	model     ModelClient
}

// ModelClient is the slice of the language model client the report composer
// needs. Nil disables narrative generation.
type ModelClient interface {
	Chat(ctx context.Context, messages []llm.Message) (llm.Result, error)
}

// Archiver keeps the raw uploaded bytes alongside the extracted rows. Nil
// disables archiving. Satisfied by *storage.Archive.
type Archiver interface {
	Store(ctx context.Context, ownerID, filename string, data []byte) (string, error)
	Remove(ctx context.Context, objectName string) error
	PresignedURL(ctx context.Context, objectName string, expiry time.Duration) (string, error)
}

func NewOrchestrator(st *store.Store, kn *knowledge.Service, cl *checklist.Service, archive Archiver, model ModelClient) (*Orchestrator, error) {
	if st == nil {
		return nil, errors.New("workflow: document store is required")
	}
	if kn == nil {
		return nil, errors.New("workflow: knowledge service is required")
	}
	if cl == nil {
		return nil, errors.New("workflow: checklist service is required")
	}
	return &Orchestrator{store: st, knowledge: kn, checklist: cl, archive: archive, model: model}, nil
}

// ProcessUpload runs one upload through the full pipeline. The returned
// result carries the terminal state; on failure it also names the stage that
// failed and the error is returned alongside.
func (o *Orchestrator) ProcessUpload(ctx context.Context, ownerID, filename string, content []byte) (*UploadResult, error) {
	result := &UploadResult{State: StateReceived}

	ownerID = strings.TrimSpace(ownerID)
	if ownerID == "" {
		result.State = StateFailed
		result.FailedStage = StateReceived
		return result, fmt.Errorf("workflow: owner id is required: %w", errdefs.ErrInvalidInput)
	}
	if len(content) == 0 {
		result.State = StateFailed
		result.FailedStage = StateReceived
		return result, fmt.Errorf("workflow: file is empty: %w", errdefs.ErrInvalidInput)
	}

	result.State = StateClassifying
	classification, err := classify.Classify(filename, classifySample(content))
	if err != nil {
		result.FailedStage = result.State
		result.State = StateFailed
		return result, err
	}
	result.DocType = classification.DocType
	result.Confidence = classification.Confidence

	result.State = StateExtracting
	extracted, err := extract.Extract(content, classification.DocType)
	if err != nil {
		result.FailedStage = result.State
		result.State = StateFailed
		return result, err
	}
	result.QualityScore = extracted.QualityScore
	result.RowCount = len(extracted.Rows)

	// Embedding feeds the chunk inserts inside the commit below, so its
	// failure counts as an extraction failure.
	vectors, err := o.knowledge.EmbedTexts(ctx, extracted.RowTexts)
	if err != nil {
		result.FailedStage = result.State
		result.State = StateFailed
		return result, err
	}

	documentID := uuid.NewString()
	doc, rows, err := buildRecords(documentID, ownerID, filename, extracted)
	if err != nil {
		result.FailedStage = result.State
		result.State = StateFailed
		return result, err
	}

	// Raw-file archival is best effort and never blocks the workflow, but it
	// runs before the commit so the object key is stored on the document and
	// deleting the document can remove the object too.
	if o.archive != nil {
		if object, err := o.archive.Store(ctx, ownerID, filename, content); err != nil {
			log.Printf("workflow: archive upload failed: %v", err)
		} else {
			doc.ArchiveObject = object
			result.ArchiveObject = object
		}
	}

	chunks := make([]knowledge.Chunk, 0, len(extracted.RowTexts))
	for i, text := range extracted.RowTexts {
		if i >= len(vectors) || len(vectors[i]) == 0 {
			result.FailedStage = result.State
			result.State = StateFailed
			return result, fmt.Errorf("workflow: missing embedding for row %d: %w", i, errdefs.ErrEmbeddingService)
		}
		chunk, err := o.knowledge.NewChunk(ownerID, documentID, filename, i, text, vectors[i], map[string]string{
			"doc_type": classification.DocType,
		})
		if err != nil {
			result.FailedStage = result.State
			result.State = StateFailed
			return result, err
		}
		chunks = append(chunks, chunk)
	}
	result.ChunkCount = len(chunks)

	// Analytics has no dependency on the commit, so it runs while the
	// transaction does. It is advisory: a panic here flags the failure and
	// the workflow still completes.
	analyticsCh := make(chan *analytics.Report, 1)
	go func() {
		defer func() {
			if recovered := recover(); recovered != nil {
				log.Printf("workflow: analytics stage failed: %v", recovered)
				analyticsCh <- nil
			}
		}()
		analyticsCh <- analytics.Analyze(extracted.Columns, extracted.Rows)
	}()

	err = o.store.CreateDocument(ctx, doc, rows, func(tx *gorm.DB) error {
		return o.knowledge.InsertChunks(tx, chunks)
	})
	if err != nil {
		o.removeArchived(ctx, doc.ArchiveObject)
		result.ArchiveObject = ""
		result.FailedStage = result.State
		result.State = StateFailed
		return result, err
	}
	result.DocumentID = documentID

	result.State = StateChecklistUpdating
	if _, err := o.checklist.Update(ctx, ownerID, classification.DocType); err != nil {
		result.FailedStage = result.State
		result.State = StateFailed
		return result, err
	}
	if status, err := o.checklist.Status(ctx, ownerID); err == nil {
		result.Checklist = status
	} else {
		log.Printf("workflow: load checklist status failed: %v", err)
	}

	result.State = StateAnalyzing
	if report := <-analyticsCh; report != nil {
		result.Analytics = report
	} else {
		result.AnalyticsFailed = true
	}

	result.State = StateCompleted
	return result, nil
}

// DeleteDocument removes a document with its rows, chunks, and archived raw
// file, then recomputes the owner's checklist, which may regress entries back
// to missing.
func (o *Orchestrator) DeleteDocument(ctx context.Context, ownerID, documentID string) error {
	doc, err := o.store.GetDocument(ctx, ownerID, documentID)
	if err != nil {
		return err
	}
	err = o.store.DeleteDocument(ctx, ownerID, documentID, func(tx *gorm.DB) error {
		return o.knowledge.DeleteForDocument(tx, documentID)
	})
	if err != nil {
		return err
	}
	o.removeArchived(ctx, doc.ArchiveObject)
	return o.checklist.Recalculate(ctx, ownerID)
}

// ArchiveLink returns a temporary download URL for the document's archived
// raw file.
func (o *Orchestrator) ArchiveLink(ctx context.Context, ownerID, documentID string) (string, error) {
	doc, err := o.store.GetDocument(ctx, ownerID, documentID)
	if err != nil {
		return "", err
	}
	if o.archive == nil || doc.ArchiveObject == "" {
		return "", fmt.Errorf("workflow: document has no archived file: %w", errdefs.ErrInvalidInput)
	}
	return o.archive.PresignedURL(ctx, doc.ArchiveObject, 15*time.Minute)
}

func (o *Orchestrator) removeArchived(ctx context.Context, objectName string) {
	if o.archive == nil || objectName == "" {
		return
	}
	if err := o.archive.Remove(ctx, objectName); err != nil {
		log.Printf("workflow: remove archived object %s failed: %v", objectName, err)
	}
}

// ListDocuments returns the owner's stored documents, newest first.
func (o *Orchestrator) ListDocuments(ctx context.Context, ownerID string) ([]DocumentSummary, error) {
	docs, err := o.store.ListDocuments(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	summaries := make([]DocumentSummary, 0, len(docs))
	for _, doc := range docs {
		summaries = append(summaries, DocumentSummary{
			DocumentID: doc.ID,
			Filename:   doc.Filename,
			DocType:    doc.DocType,
			RowCount:   doc.RowCount,
			UploadTime: doc.UploadTime,
		})
	}
	return summaries, nil
}

func buildRecords(documentID, ownerID, filename string, extracted *extract.Result) (store.Document, []store.RowRecord, error) {
	doc, err := store.NewDocument(documentID, ownerID, filename, extracted.DocType, extracted.Columns, len(extracted.Rows))
	if err != nil {
		return store.Document{}, nil, err
	}
	rows := make([]store.RowRecord, 0, len(extracted.Rows))
	for i, fields := range extracted.Rows {
		row, err := store.NewRowRecord(documentID, i, fields)
		if err != nil {
			return store.Document{}, nil, err
		}
		rows = append(rows, row)
	}
	return doc, rows, nil
}

func classifySample(content []byte) string {
	if len(content) <= classifySampleBytes {
		return string(content)
	}
	return string(content[:classifySampleBytes])
}
