package store

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"gorm.io/datatypes"

	"monthend_back/errdefs"
)

// Document records the metadata of one successfully extracted upload.
// Immutable after creation.
type Document struct {
	ID            string         `gorm:"primaryKey;size:64" json:"document_id"`
	OwnerID       string         `gorm:"size:128;not null;index:idx_owner_doc_type" json:"owner_id"`
	Filename      string         `gorm:"size:255;not null" json:"filename"`
	DocType       string         `gorm:"size:64;not null;index:idx_owner_doc_type" json:"doc_type"`
	UploadTime    time.Time      `gorm:"not null" json:"upload_time"`
	RowCount      int            `gorm:"not null" json:"row_count"`
	Columns       datatypes.JSON `gorm:"type:json" json:"columns"`
	ArchiveObject string         `gorm:"size:512" json:"archive_object,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
}

func (Document) TableName() string {
	return "documents"
}

// RowRecord is one parsed row of a document. Created in bulk during
// extraction, never mutated, deleted only with the parent document.
type RowRecord struct {
	ID         uint64         `gorm:"primaryKey" json:"row_id"`
	DocumentID string         `gorm:"size:64;not null;index:idx_document_row,unique" json:"document_id"`
	RowIndex   int            `gorm:"not null;index:idx_document_row,unique" json:"row_index"`
	Fields     datatypes.JSON `gorm:"type:json;not null" json:"field_values"`
	CreatedAt  time.Time      `json:"created_at"`
}

func (RowRecord) TableName() string {
	return "row_records"
}

// NewDocument builds a document record with its column list encoded.
func NewDocument(id, ownerID, filename, docType string, columns []string, rowCount int) (Document, error) {
	if strings.TrimSpace(id) == "" {
		return Document{}, fmt.Errorf("store: document id is required: %w", errdefs.ErrInvalidInput)
	}
	if strings.TrimSpace(ownerID) == "" {
		return Document{}, fmt.Errorf("store: owner id is required: %w", errdefs.ErrInvalidInput)
	}
	encoded, err := json.Marshal(columns)
	if err != nil {
		return Document{}, fmt.Errorf("store: encode columns: %w", err)
	}
	return Document{
		ID:         id,
		OwnerID:    ownerID,
		Filename:   filename,
		DocType:    docType,
		UploadTime: time.Now().UTC(),
		RowCount:   rowCount,
		Columns:    datatypes.JSON(encoded),
	}, nil
}

// NewRowRecord builds a row record with its field map encoded.
func NewRowRecord(documentID string, rowIndex int, fields map[string]string) (RowRecord, error) {
	encoded, err := json.Marshal(fields)
	if err != nil {
		return RowRecord{}, fmt.Errorf("store: encode row fields: %w", err)
	}
	return RowRecord{
		DocumentID: documentID,
		RowIndex:   rowIndex,
		Fields:     datatypes.JSON(encoded),
	}, nil
}
