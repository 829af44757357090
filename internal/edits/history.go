package edits

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	opListHistory     = "edits.list_history"
	opGetHistoryEntry = "edits.get_history_entry"
)

// appendHistory writes the merged change for an approved proposal. It is only reachable from
// finalizeProposal; the unique proposal index rejects a second entry for the same proposal.
func (service *Service) appendHistory(transaction *gorm.DB, operation string, proposal EditProposal) (HistoryID, error) {
	historyID, err := service.idProvider.NewID()
	if err != nil {
		service.logError(operation, reasonIDGeneration, err, zap.String(fieldProposalID, proposal.ProposalID))
		return "", newServiceError(operation, reasonIDGeneration, ErrPersistence, err)
	}

	approvedBy := ""
	if proposal.ResolvedBy != nil {
		approvedBy = *proposal.ResolvedBy
	}
	mergedAt := service.nowSeconds()
	if proposal.ResolvedAtSeconds != nil {
		mergedAt = *proposal.ResolvedAtSeconds
	}

	entry := HistoryEntry{
		HistoryID:       historyID,
		ProposalID:      proposal.ProposalID,
		Collection:      proposal.Collection,
		EntityID:        proposal.EntityID,
		Field:           proposal.Field,
		OldValue:        proposal.OldValue,
		NewValue:        proposal.NewValue,
		AuthorID:        proposal.AuthorID,
		ApprovedBy:      approvedBy,
		MergedAtSeconds: mergedAt,
	}
	if err := transaction.Create(&entry).Error; err != nil {
		service.logError(operation, "history_append_failed", err,
			zap.String(fieldProposalID, proposal.ProposalID),
			zap.String(fieldHistoryID, historyID))
		return "", newServiceError(operation, "history_append_failed", ErrPersistence, err)
	}
	return HistoryID(historyID), nil
}

// ListHistory returns the merged changes of a record, most recent first.
func (service *Service) ListHistory(ctx context.Context, ref EntityRef) ([]HistoryEntry, error) {
	if err := service.requireDatabase(opListHistory); err != nil {
		return nil, err
	}
	validRef, err := NewEntityRef(ref.Collection, ref.EntityID)
	if err != nil {
		return nil, newServiceError(opListHistory, reasonInvalidInput, ErrValidation, err)
	}

	var entries []HistoryEntry
	err = service.db.WithContext(ctx).
		Where("collection = ? AND entity_id = ?", validRef.Collection, validRef.EntityID).
		Clauses(clause.OrderBy{Columns: []clause.OrderByColumn{
			{Column: clause.Column{Name: "merged_at_s"}, Desc: true},
			{Column: clause.Column{Name: "sequence"}, Desc: true},
		}}).
		Find(&entries).Error
	if err != nil {
		service.logError(opListHistory, reasonQueryFailed, err, zap.String(fieldEntity, validRef.Key()))
		return nil, newServiceError(opListHistory, reasonQueryFailed, ErrPersistence, err)
	}
	return entries, nil
}

// GetHistoryEntry loads one history entry.
func (service *Service) GetHistoryEntry(ctx context.Context, historyID HistoryID) (HistoryEntry, error) {
	if err := service.requireDatabase(opGetHistoryEntry); err != nil {
		return HistoryEntry{}, err
	}
	validHistoryID, err := NewHistoryID(historyID.String())
	if err != nil {
		return HistoryEntry{}, newServiceError(opGetHistoryEntry, reasonInvalidInput, ErrValidation, err)
	}
	return service.loadHistoryEntry(service.db.WithContext(ctx), opGetHistoryEntry, validHistoryID)
}

func (service *Service) loadHistoryEntry(database *gorm.DB, operation string, historyID HistoryID) (HistoryEntry, error) {
	var entry HistoryEntry
	err := database.Where("history_id = ?", historyID.String()).Take(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return HistoryEntry{}, newServiceError(operation, reasonNotFound, ErrNotFound, fmt.Errorf("history entry %s", historyID))
	}
	if err != nil {
		service.logError(operation, reasonLookupFailed, err, zap.String(fieldHistoryID, historyID.String()))
		return HistoryEntry{}, newServiceError(operation, reasonLookupFailed, ErrPersistence, err)
	}
	return entry, nil
}
