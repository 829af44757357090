package edits

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/MarcoPoloResearchLab/gravity-edits/backend/internal/diff"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	opSubmitEdit   = "edits.submit_edit"
	opGetProposal  = "edits.get_proposal"
	opListByEntity = "edits.list_by_entity"
	opListByUser   = "edits.list_by_user"
)

var (
	errEmptyDiff           = errors.New("edits: proposed value does not change any line")
	errMissingCitationText = errors.New("edits: citation source is required when a citation is attached")
	errUnknownSortOrder    = errors.New("edits: unknown sort order")
)

// SortOrder selects how proposal listings are ordered.
type SortOrder string

const (
	SortNewest SortOrder = "newest"
	SortOldest SortOrder = "oldest"
	// SortVotes orders by cached net score, highest first.
	SortVotes SortOrder = "votes"
)

// ParseSortOrder accepts newest, oldest or votes; empty input means newest.
func ParseSortOrder(rawInput string) (SortOrder, error) {
	switch SortOrder(strings.ToLower(strings.TrimSpace(rawInput))) {
	case "", SortNewest:
		return SortNewest, nil
	case SortOldest:
		return SortOldest, nil
	case SortVotes:
		return SortVotes, nil
	default:
		return "", fmt.Errorf("%w: %q", errUnknownSortOrder, rawInput)
	}
}

// orderClauses reads only the cached counter columns; the vote ledger is never scanned for sorting.
func (order SortOrder) orderClauses() []clause.OrderByColumn {
	createdAt := clause.Column{Name: "created_at_s"}
	proposalID := clause.Column{Name: "proposal_id"}
	switch order {
	case SortOldest:
		return []clause.OrderByColumn{{Column: createdAt}, {Column: proposalID}}
	case SortVotes:
		return []clause.OrderByColumn{
			{Column: clause.Column{Name: "(upvotes - downvotes)", Raw: true}, Desc: true},
			{Column: createdAt, Desc: true},
			{Column: proposalID, Desc: true},
		}
	default:
		return []clause.OrderByColumn{{Column: createdAt, Desc: true}, {Column: proposalID, Desc: true}}
	}
}

// SubmitRequest carries a contributor's proposed change.
type SubmitRequest struct {
	Entity   EntityRef
	Field    string
	OldValue string
	NewValue string
	Author   Actor
	Citation *Citation
}

// SubmitEdit stores a new pending proposal.
func (service *Service) SubmitEdit(ctx context.Context, request SubmitRequest) (EditProposal, error) {
	if err := service.requireDatabase(opSubmitEdit); err != nil {
		return EditProposal{}, err
	}
	if request.Author.Anonymous() {
		return EditProposal{}, newServiceError(opSubmitEdit, reasonAnonymousActor, ErrAuthorization, errInvalidUserID)
	}
	author, err := NewUserID(request.Author.UserID.String())
	if err != nil {
		return EditProposal{}, newServiceError(opSubmitEdit, reasonInvalidInput, ErrValidation, err)
	}
	ref, err := NewEntityRef(request.Entity.Collection, request.Entity.EntityID)
	if err != nil {
		return EditProposal{}, newServiceError(opSubmitEdit, reasonInvalidInput, ErrValidation, err)
	}
	field, err := validateIdentifier(request.Field, errInvalidField)
	if err != nil {
		return EditProposal{}, newServiceError(opSubmitEdit, reasonInvalidInput, ErrValidation, err)
	}
	// Line ending differences alone are not an edit; the diff treats CRLF as LF.
	if !diff.Summarize(diff.Compute(request.OldValue, request.NewValue)).HasChanges() {
		return EditProposal{}, newServiceError(opSubmitEdit, "empty_diff", ErrValidation, errEmptyDiff)
	}
	if request.Citation != nil && strings.TrimSpace(request.Citation.Source) == "" {
		return EditProposal{}, newServiceError(opSubmitEdit, reasonInvalidInput, ErrValidation, errMissingCitationText)
	}

	proposal := EditProposal{
		Collection: ref.Collection,
		EntityID:   ref.EntityID,
		Field:      field,
		OldValue:   request.OldValue,
		NewValue:   request.NewValue,
		AuthorID:   author.String(),
		AuthorName: strings.TrimSpace(request.Author.DisplayName),
	}
	if request.Citation != nil {
		source := strings.TrimSpace(request.Citation.Source)
		quote := request.Citation.Quote
		proposal.CitationSource = &source
		proposal.CitationQuote = &quote
	}

	created, err := service.insertProposal(service.db.WithContext(ctx), opSubmitEdit, proposal)
	if err != nil {
		return EditProposal{}, err
	}

	service.loggerOrDefault().Info("proposal submitted",
		zap.String(fieldProposalID, created.ProposalID),
		zap.String(fieldEntity, ref.Key()),
		zap.String(fieldUserID, created.AuthorID))
	service.publish(EventProposalCreated, created)
	return created, nil
}

// insertProposal assigns identity, timestamps and the initial state, then persists the row.
func (service *Service) insertProposal(database *gorm.DB, operation string, proposal EditProposal) (EditProposal, error) {
	proposalID, err := service.idProvider.NewID()
	if err != nil {
		service.logError(operation, reasonIDGeneration, err)
		return EditProposal{}, newServiceError(operation, reasonIDGeneration, ErrPersistence, err)
	}

	proposal.ProposalID = proposalID
	proposal.Status = StatusPending
	proposal.Upvotes = 0
	proposal.Downvotes = 0
	proposal.CreatedAtSeconds = service.nowSeconds()
	proposal.ResolvedBy = nil
	proposal.ResolvedAtSeconds = nil
	proposal.RejectReason = nil

	if err := database.Create(&proposal).Error; err != nil {
		service.logError(operation, "proposal_insert_failed", err,
			zap.String(fieldProposalID, proposalID),
			zap.String(fieldEntity, proposal.EntityRef().Key()))
		return EditProposal{}, newServiceError(operation, "proposal_insert_failed", ErrPersistence, err)
	}
	return proposal, nil
}

// GetProposal loads a proposal by id.
func (service *Service) GetProposal(ctx context.Context, proposalID ProposalID) (EditProposal, error) {
	if err := service.requireDatabase(opGetProposal); err != nil {
		return EditProposal{}, err
	}
	return service.loadProposal(service.db.WithContext(ctx), opGetProposal, proposalID, false)
}

// loadProposal reads one proposal, optionally taking a row lock for the surrounding transaction.
func (service *Service) loadProposal(database *gorm.DB, operation string, proposalID ProposalID, lock bool) (EditProposal, error) {
	query := database
	if lock {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var proposal EditProposal
	err := query.Where(queryProposalID, proposalID.String()).Take(&proposal).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return EditProposal{}, newServiceError(operation, reasonNotFound, ErrNotFound, fmt.Errorf("proposal %s", proposalID))
	}
	if err != nil {
		service.logError(operation, reasonLookupFailed, err, zap.String(fieldProposalID, proposalID.String()))
		return EditProposal{}, newServiceError(operation, reasonLookupFailed, ErrPersistence, err)
	}
	return proposal, nil
}

// ListFilter narrows ListByEntity to a single status when Status is set.
type ListFilter struct {
	Status *Status
	Sort   SortOrder
}

// ListByEntity returns the proposals targeting a record.
func (service *Service) ListByEntity(ctx context.Context, ref EntityRef, filter ListFilter) ([]EditProposal, error) {
	if err := service.requireDatabase(opListByEntity); err != nil {
		return nil, err
	}
	validRef, err := NewEntityRef(ref.Collection, ref.EntityID)
	if err != nil {
		return nil, newServiceError(opListByEntity, reasonInvalidInput, ErrValidation, err)
	}

	query := service.db.WithContext(ctx).
		Where("collection = ? AND entity_id = ?", validRef.Collection, validRef.EntityID)
	if filter.Status != nil {
		query = query.Where("status = ?", filter.Status.String())
	}

	var proposals []EditProposal
	if err := query.Clauses(clause.OrderBy{Columns: filter.Sort.orderClauses()}).Find(&proposals).Error; err != nil {
		service.logError(opListByEntity, reasonQueryFailed, err, zap.String(fieldEntity, validRef.Key()))
		return nil, newServiceError(opListByEntity, reasonQueryFailed, ErrPersistence, err)
	}
	return proposals, nil
}

// ListByUser returns the proposals authored by a user.
func (service *Service) ListByUser(ctx context.Context, userID UserID, sort SortOrder) ([]EditProposal, error) {
	if err := service.requireDatabase(opListByUser); err != nil {
		return nil, err
	}
	validUserID, err := NewUserID(userID.String())
	if err != nil {
		return nil, newServiceError(opListByUser, reasonInvalidInput, ErrValidation, err)
	}

	var proposals []EditProposal
	if err := service.db.WithContext(ctx).
		Where("author_id = ?", validUserID.String()).
		Clauses(clause.OrderBy{Columns: sort.orderClauses()}).
		Find(&proposals).Error; err != nil {
		service.logError(opListByUser, reasonQueryFailed, err, zap.String(fieldUserID, validUserID.String()))
		return nil, newServiceError(opListByUser, reasonQueryFailed, ErrPersistence, err)
	}
	return proposals, nil
}
