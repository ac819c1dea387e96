package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"monthend_back/errdefs"
)

// Store persists documents and their parsed rows.
type Store struct {
	db *gorm.DB
}

func New(db *gorm.DB) (*Store, error) {
	if db == nil {
		return nil, errors.New("store: database connection is required")
	}
	return &Store{db: db}, nil
}

func (s *Store) AutoMigrate() error {
	return s.db.AutoMigrate(&Document{}, &RowRecord{})
}

// DB exposes the underlying connection so sibling modules can share it.
func (s *Store) DB() *gorm.DB {
	return s.db
}

// CreateDocument writes the document and all of its rows in one transaction.
// extra, when non-nil, runs inside the same transaction so callers can commit
// dependent records (chunks) atomically with the rows: either everything for
// the document lands or nothing does.
func (s *Store) CreateDocument(ctx context.Context, doc Document, rows []RowRecord, extra func(tx *gorm.DB) error) error {
	if doc.ID == "" || doc.OwnerID == "" {
		return fmt.Errorf("store: document id and owner are required: %w", errdefs.ErrInvalidInput)
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&doc).Error; err != nil {
			return err
		}
		if len(rows) > 0 {
			for i := range rows {
				rows[i].DocumentID = doc.ID
			}
			if err := tx.CreateInBatches(rows, 200).Error; err != nil {
				return err
			}
		}
		if extra != nil {
			return extra(tx)
		}
		return nil
	})
	return wrapDB("create document", err)
}

func (s *Store) GetDocument(ctx context.Context, ownerID, documentID string) (*Document, error) {
	var doc Document
	err := s.db.WithContext(ctx).
		Where("id = ? AND owner_id = ?", documentID, ownerID).
		Take(&doc).Error
	if err != nil {
		return nil, wrapDB("load document", err)
	}
	return &doc, nil
}

func (s *Store) ListDocuments(ctx context.Context, ownerID string) ([]Document, error) {
	var docs []Document
	err := s.db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("upload_time DESC").
		Find(&docs).Error
	if err != nil {
		return nil, wrapDB("list documents", err)
	}
	return docs, nil
}

// CountByType returns how many documents of the given type the owner has.
// The checklist recomputes its satisfied counts from this, never by
// incrementing in place.
func (s *Store) CountByType(ctx context.Context, ownerID, docType string) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&Document{}).
		Where("owner_id = ? AND doc_type = ?", ownerID, docType).
		Count(&count).Error
	if err != nil {
		return 0, wrapDB("count documents", err)
	}
	return count, nil
}

// RowsForDocument returns all rows ordered by row index.
func (s *Store) RowsForDocument(ctx context.Context, documentID string) ([]RowRecord, error) {
	var rows []RowRecord
	err := s.db.WithContext(ctx).
		Where("document_id = ?", documentID).
		Order("row_index ASC").
		Find(&rows).Error
	if err != nil {
		return nil, wrapDB("load rows", err)
	}
	return rows, nil
}

// DeleteDocument removes a document with its rows. extra runs inside the same
// transaction, used to drop the document's chunks with it.
func (s *Store) DeleteDocument(ctx context.Context, ownerID, documentID string, extra func(tx *gorm.DB) error) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var doc Document
		if err := tx.Where("id = ? AND owner_id = ?", documentID, ownerID).Take(&doc).Error; err != nil {
			return err
		}
		if err := tx.Where("document_id = ?", documentID).Delete(&RowRecord{}).Error; err != nil {
			return err
		}
		if extra != nil {
			if err := extra(tx); err != nil {
				return err
			}
		}
		return tx.Delete(&Document{}, "id = ?", documentID).Error
	})
	return wrapDB("delete document", err)
}

// DecodeColumns unpacks the ordered column list stored on a document.
func DecodeColumns(doc *Document) []string {
	if doc == nil || len(doc.Columns) == 0 {
		return nil
	}
	var columns []string
	if err := json.Unmarshal(doc.Columns, &columns); err != nil {
		return nil
	}
	return columns
}

// DecodeFields unpacks a row's column→value mapping.
func DecodeFields(row RowRecord) map[string]string {
	fields := make(map[string]string)
	if len(row.Fields) == 0 {
		return fields
	}
	_ = json.Unmarshal(row.Fields, &fields)
	return fields
}

func wrapDB(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return fmt.Errorf("store: %s: %w", op, err)
	case errors.Is(err, errdefs.ErrDuplicateID),
		errors.Is(err, errdefs.ErrInvalidInput),
		errors.Is(err, errdefs.ErrEmbeddingService):
		// Already classified by the callback that ran inside the transaction.
		return err
	default:
		return errors.Join(errdefs.ErrStoreUnavailable, fmt.Errorf("store: %s: %w", op, err))
	}
}
