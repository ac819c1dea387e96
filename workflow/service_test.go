package workflow

import (
	"context"
	"fmt"
	"path"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"monthend_back/analytics"
	"monthend_back/checklist"
	"monthend_back/errdefs"
	"monthend_back/knowledge"
	"monthend_back/llm"
	"monthend_back/store"
)

type fixedEmbedder struct {
	fail bool
}

func (f fixedEmbedder) Embed(ctx context.Context, inputs []string) ([][]float32, error) {
	if f.fail {
		return nil, fmt.Errorf("embedding endpoint down: %w", errdefs.ErrEmbeddingService)
	}
	vectors := make([][]float32, len(inputs))
	for i := range inputs {
		vectors[i] = []float32{1, float32(i)}
	}
	return vectors, nil
}

type fakeArchive struct {
	mu      sync.Mutex
	objects map[string][]byte
	removed []string
}

func newFakeArchive() *fakeArchive {
	return &fakeArchive{objects: map[string][]byte{}}
}

func (f *fakeArchive) Store(ctx context.Context, ownerID, filename string, data []byte) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := path.Join("uploads", ownerID, uuid.NewString()+path.Ext(filename))
	f.objects[key] = data
	return key, nil
}

func (f *fakeArchive) Remove(ctx context.Context, objectName string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, objectName)
	f.removed = append(f.removed, objectName)
	return nil
}

func (f *fakeArchive) PresignedURL(ctx context.Context, objectName string, expiry time.Duration) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.objects[objectName]; !ok {
		return "", fmt.Errorf("object %s not found", objectName)
	}
	return "https://archive.test/" + objectName, nil
}

type scriptedModel struct {
	calls int
	reply string
	fail  bool
}

func (s *scriptedModel) Chat(ctx context.Context, messages []llm.Message) (llm.Result, error) {
	s.calls++
	if s.fail {
		return llm.Result{}, fmt.Errorf("model down: %w", errdefs.ErrLLMService)
	}
	return llm.Result{Content: s.reply}, nil
}

type pipeline struct {
	orchestrator *Orchestrator
	store        *store.Store
	knowledge    *knowledge.Service
	checklist    *checklist.Service
	archive      *fakeArchive
	model        *scriptedModel
}

func newPipeline(t *testing.T, embedder knowledge.Embedder) *pipeline {
	t.Helper()
	db, err := store.Open(store.Config{
		Driver: "sqlite",
		DSN:    fmt.Sprintf("file:%s?mode=memory&cache=shared&_busy_timeout=5000", uuid.NewString()),
	})
	require.NoError(t, err)

	st, err := store.New(db)
	require.NoError(t, err)
	require.NoError(t, st.AutoMigrate())

	kn, err := knowledge.NewService(db, embedder, nil, "test-model")
	require.NoError(t, err)
	require.NoError(t, kn.AutoMigrate())

	cl, err := checklist.NewService(db, st)
	require.NoError(t, err)
	require.NoError(t, cl.AutoMigrate())

	model := &scriptedModel{reply: "All clear."}
	archive := newFakeArchive()
	orchestrator, err := NewOrchestrator(st, kn, cl, archive, model)
	require.NoError(t, err)

	return &pipeline{orchestrator: orchestrator, store: st, knowledge: kn, checklist: cl, archive: archive, model: model}
}

const bankCSV = "Date,Amount\n2024-11-01,50000\n2024-11-02,-5000\n"

func TestProcessUploadCompletes(t *testing.T) {
	p := newPipeline(t, fixedEmbedder{})
	ctx := context.Background()

	result, err := p.orchestrator.ProcessUpload(ctx, "owner-a", "bank_statement.csv", []byte(bankCSV))
	require.NoError(t, err)

	assert.Equal(t, StateCompleted, result.State)
	assert.Empty(t, result.FailedStage)
	assert.Equal(t, "bank_statement", result.DocType)
	assert.Greater(t, result.Confidence, 0.0)
	assert.Equal(t, 1.0, result.QualityScore)
	assert.Equal(t, 2, result.RowCount)
	assert.Equal(t, 2, result.ChunkCount)
	assert.NotEmpty(t, result.DocumentID)

	// Document, rows, and chunks all landed.
	doc, err := p.store.GetDocument(ctx, "owner-a", result.DocumentID)
	require.NoError(t, err)
	assert.Equal(t, "bank_statement", doc.DocType)

	chunkCount, err := p.knowledge.CountForOwner(ctx, "owner-a")
	require.NoError(t, err)
	assert.Equal(t, int64(2), chunkCount)

	// Checklist advanced and analytics ran without outliers on two points.
	require.NotNil(t, result.Checklist)
	assert.InDelta(t, 20.0, result.Checklist.CompletionPercentage, 0.01)
	require.NotNil(t, result.Analytics)
	assert.False(t, result.AnalyticsFailed)
	assert.Equal(t, analytics.RiskMinimal, result.Analytics.RiskLevel)
}

func TestProcessUploadParseFailureIsFatal(t *testing.T) {
	p := newPipeline(t, fixedEmbedder{})
	ctx := context.Background()

	result, err := p.orchestrator.ProcessUpload(ctx, "owner-a", "bank_statement.csv", []byte("A,B\n1,2,3\n"))
	require.Error(t, err)
	assert.ErrorIs(t, err, errdefs.ErrParse)
	assert.Equal(t, StateFailed, result.State)
	assert.Equal(t, StateExtracting, result.FailedStage)

	// Nothing persisted, checklist untouched.
	docs, err := p.orchestrator.ListDocuments(ctx, "owner-a")
	require.NoError(t, err)
	assert.Empty(t, docs)

	status, err := p.checklist.Status(ctx, "owner-a")
	require.NoError(t, err)
	assert.Zero(t, status.CompletionPercentage)
}

func TestProcessUploadClassificationFailureIsFatal(t *testing.T) {
	p := newPipeline(t, fixedEmbedder{})

	result, err := p.orchestrator.ProcessUpload(context.Background(), "owner-a", "  ", []byte(bankCSV))
	require.Error(t, err)
	assert.ErrorIs(t, err, errdefs.ErrInvalidInput)
	assert.Equal(t, StateFailed, result.State)
	assert.Equal(t, StateClassifying, result.FailedStage)
}

func TestProcessUploadEmbeddingFailureLeavesNothingBehind(t *testing.T) {
	p := newPipeline(t, fixedEmbedder{fail: true})
	ctx := context.Background()

	result, err := p.orchestrator.ProcessUpload(ctx, "owner-a", "bank_statement.csv", []byte(bankCSV))
	require.Error(t, err)
	assert.ErrorIs(t, err, errdefs.ErrEmbeddingService)
	assert.Equal(t, StateFailed, result.State)
	assert.Equal(t, StateExtracting, result.FailedStage)

	docs, err := p.orchestrator.ListDocuments(ctx, "owner-a")
	require.NoError(t, err)
	assert.Empty(t, docs)

	chunkCount, err := p.knowledge.CountForOwner(ctx, "owner-a")
	require.NoError(t, err)
	assert.Zero(t, chunkCount)
}

func TestProcessUploadRejectsEmptyInput(t *testing.T) {
	p := newPipeline(t, fixedEmbedder{})

	result, err := p.orchestrator.ProcessUpload(context.Background(), "", "f.csv", []byte(bankCSV))
	assert.ErrorIs(t, err, errdefs.ErrInvalidInput)
	assert.Equal(t, StateFailed, result.State)

	result, err = p.orchestrator.ProcessUpload(context.Background(), "owner-a", "f.csv", nil)
	assert.ErrorIs(t, err, errdefs.ErrInvalidInput)
	assert.Equal(t, StateFailed, result.State)
}

func TestProcessUploadPersistsArchiveObject(t *testing.T) {
	p := newPipeline(t, fixedEmbedder{})
	ctx := context.Background()

	result, err := p.orchestrator.ProcessUpload(ctx, "owner-a", "bank_statement.csv", []byte(bankCSV))
	require.NoError(t, err)
	require.NotEmpty(t, result.ArchiveObject)
	assert.Equal(t, []byte(bankCSV), p.archive.objects[result.ArchiveObject])

	// The object key lives on the stored document so deletion can find it.
	doc, err := p.store.GetDocument(ctx, "owner-a", result.DocumentID)
	require.NoError(t, err)
	assert.Equal(t, result.ArchiveObject, doc.ArchiveObject)
}

func TestDeleteDocumentRemovesArchivedObject(t *testing.T) {
	p := newPipeline(t, fixedEmbedder{})
	ctx := context.Background()

	result, err := p.orchestrator.ProcessUpload(ctx, "owner-a", "bank_statement.csv", []byte(bankCSV))
	require.NoError(t, err)
	require.NotEmpty(t, result.ArchiveObject)

	require.NoError(t, p.orchestrator.DeleteDocument(ctx, "owner-a", result.DocumentID))
	assert.Empty(t, p.archive.objects)
	assert.Equal(t, []string{result.ArchiveObject}, p.archive.removed)
}

func TestArchiveLink(t *testing.T) {
	p := newPipeline(t, fixedEmbedder{})
	ctx := context.Background()

	result, err := p.orchestrator.ProcessUpload(ctx, "owner-a", "bank_statement.csv", []byte(bankCSV))
	require.NoError(t, err)

	url, err := p.orchestrator.ArchiveLink(ctx, "owner-a", result.DocumentID)
	require.NoError(t, err)
	assert.Equal(t, "https://archive.test/"+result.ArchiveObject, url)

	// Another owner cannot resolve the document at all.
	_, err = p.orchestrator.ArchiveLink(ctx, "owner-b", result.DocumentID)
	assert.Error(t, err)
}

func TestArchiveLinkWithoutArchive(t *testing.T) {
	p := newPipeline(t, fixedEmbedder{})
	ctx := context.Background()

	orchestrator, err := NewOrchestrator(p.store, p.knowledge, p.checklist, nil, nil)
	require.NoError(t, err)

	result, err := orchestrator.ProcessUpload(ctx, "owner-a", "bank_statement.csv", []byte(bankCSV))
	require.NoError(t, err)
	assert.Empty(t, result.ArchiveObject)

	_, err = orchestrator.ArchiveLink(ctx, "owner-a", result.DocumentID)
	assert.ErrorIs(t, err, errdefs.ErrInvalidInput)
}

func TestDeleteDocumentRegressesChecklist(t *testing.T) {
	p := newPipeline(t, fixedEmbedder{})
	ctx := context.Background()

	result, err := p.orchestrator.ProcessUpload(ctx, "owner-a", "bank_statement.csv", []byte(bankCSV))
	require.NoError(t, err)

	require.NoError(t, p.orchestrator.DeleteDocument(ctx, "owner-a", result.DocumentID))

	status, err := p.checklist.Status(ctx, "owner-a")
	require.NoError(t, err)
	assert.Zero(t, status.CompletionPercentage)

	chunkCount, err := p.knowledge.CountForOwner(ctx, "owner-a")
	require.NoError(t, err)
	assert.Zero(t, chunkCount)
}

func TestConcurrentUploadsBothCount(t *testing.T) {
	p := newPipeline(t, fixedEmbedder{})
	ctx := context.Background()

	done := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func(n int) {
			content := fmt.Sprintf("Date,Amount\n2024-11-0%d,%d\n2024-11-10,77\n", n+1, 1000*(n+1))
			_, err := p.orchestrator.ProcessUpload(ctx, "owner-a", "bank_statement.csv", []byte(content))
			done <- err
		}(i)
	}
	for i := 0; i < 2; i++ {
		require.NoError(t, <-done)
	}

	count, err := p.store.CountByType(ctx, "owner-a", "bank_statement")
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	var entry checklist.Entry
	status, err := p.checklist.Status(ctx, "owner-a")
	require.NoError(t, err)
	for _, e := range status.Entries {
		if e.DocType == "bank_statement" {
			entry = e
		}
	}
	assert.Equal(t, int64(2), entry.SatisfiedCount)
}
