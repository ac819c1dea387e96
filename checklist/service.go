// Package checklist tracks required-document completion per owner. State is
// always recomputed from the document store, so concurrent updates for the
// same owner and category converge on the true count instead of racing on
// increments.
package checklist

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"monthend_back/errdefs"
	"monthend_back/store"
)

// Service owns the checklist_entries table.
type Service struct {
	db    *gorm.DB
	store *store.Store
}

func NewService(db *gorm.DB, st *store.Store) (*Service, error) {
	if db == nil {
		return nil, errors.New("checklist: db handle is required")
	}
	if st == nil {
		return nil, errors.New("checklist: document store is required")
	}
	return &Service{db: db, store: st}, nil
}

func (s *Service) AutoMigrate() error {
	if err := s.db.AutoMigrate(&Entry{}); err != nil {
		return fmt.Errorf("checklist: migrate entries: %w", err)
	}
	return nil
}

// Update recomputes the entry for (owner, docType) from the document store
// and upserts it. Calling it again with no intervening upload or delete
// yields the same state. Document types outside the required catalog are
// ignored without error so uploads of optional schedules do not fail.
func (s *Service) Update(ctx context.Context, ownerID, docType string) (*Entry, error) {
	if strings.TrimSpace(ownerID) == "" {
		return nil, fmt.Errorf("checklist: owner id is required: %w", errdefs.ErrInvalidInput)
	}
	required, ok := requiredDoc(docType)
	if !ok {
		return nil, nil
	}

	count, err := s.store.CountByType(ctx, ownerID, docType)
	if err != nil {
		return nil, err
	}

	entry := Entry{
		OwnerID:        ownerID,
		DocType:        docType,
		State:          stateFor(count, required.Minimum),
		SatisfiedCount: count,
		Importance:     required.Importance,
	}
	err = s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "owner_id"}, {Name: "doc_type"}},
			DoUpdates: clause.AssignmentColumns([]string{"state", "satisfied_count", "importance", "updated_at"}),
		}).
		Create(&entry).Error
	if err != nil {
		return nil, fmt.Errorf("checklist: upsert entry: %v: %w", err, errdefs.ErrStoreUnavailable)
	}
	return &entry, nil
}

// Recalculate refreshes every required category for the owner. Used after a
// document delete, where counts can go down and states regress.
func (s *Service) Recalculate(ctx context.Context, ownerID string) error {
	for _, doc := range requiredDocs {
		if _, err := s.Update(ctx, ownerID, doc.DocType); err != nil {
			return err
		}
	}
	return nil
}

// Status returns the owner's full checklist. Categories with no stored entry
// yet appear as missing. The completion percentage is satisfied required
// entries over total required entries; an empty catalog reads as complete.
func (s *Service) Status(ctx context.Context, ownerID string) (*Status, error) {
	if strings.TrimSpace(ownerID) == "" {
		return nil, fmt.Errorf("checklist: owner id is required: %w", errdefs.ErrInvalidInput)
	}

	var stored []Entry
	if err := s.db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Find(&stored).Error; err != nil {
		return nil, fmt.Errorf("checklist: load entries: %v: %w", err, errdefs.ErrStoreUnavailable)
	}
	byType := make(map[string]Entry, len(stored))
	for _, entry := range stored {
		byType[entry.DocType] = entry
	}

	status := &Status{
		Entries:  make([]Entry, 0, len(requiredDocs)),
		Required: RequiredDocs(),
	}
	satisfied := 0
	for _, doc := range requiredDocs {
		entry, ok := byType[doc.DocType]
		if !ok {
			entry = Entry{
				OwnerID:    ownerID,
				DocType:    doc.DocType,
				State:      StateMissing,
				Importance: doc.Importance,
			}
		}
		if entry.State == StateSatisfied {
			satisfied++
		}
		status.Entries = append(status.Entries, entry)
	}

	if len(requiredDocs) == 0 {
		status.CompletionPercentage = 100
	} else {
		pct := float64(satisfied) / float64(len(requiredDocs)) * 100
		status.CompletionPercentage = math.Round(pct*100) / 100
	}
	return status, nil
}

func stateFor(count, minimum int64) string {
	switch {
	case count <= 0:
		return StateMissing
	case count < minimum:
		return StatePartial
	default:
		return StateSatisfied
	}
}
