package edits

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	opMerge            = "edits.merge"
	opReject           = "edits.reject"
	opAutoApproveCheck = "edits.auto_approve_check"
	opRevert           = "edits.revert"
)

var (
	errModeratorRequired = errors.New("edits: actor may not moderate this record")
	errReasonTooShort    = errors.New("edits: reject reason is too short")
)

// transitionOutcome reports whether this caller won the pending -> terminal compare-and-set.
type transitionOutcome struct {
	proposal EditProposal
	won      bool
}

// Merge approves a pending proposal on behalf of a moderator and appends its history entry.
// A proposal that is already terminal yields ErrInvalidState; losing a concurrent race to
// another resolver returns the winner's proposal without error.
func (service *Service) Merge(ctx context.Context, proposalID ProposalID, actor Actor) (EditProposal, error) {
	if err := service.requireDatabase(opMerge); err != nil {
		return EditProposal{}, err
	}
	validProposalID, err := service.prepareModeration(ctx, opMerge, proposalID, actor)
	if err != nil {
		return EditProposal{}, err
	}

	var outcome transitionOutcome
	transactionError := service.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		proposal, err := service.loadProposal(transaction, opMerge, validProposalID, true)
		if err != nil {
			return err
		}
		outcome, err = service.finalizeProposal(transaction, opMerge, proposal, StatusApproved, actor.UserID.String(), nil)
		return err
	})
	if transactionError != nil {
		return EditProposal{}, passThrough(opMerge, reasonTransaction, transactionError)
	}

	if outcome.won {
		service.loggerOrDefault().Info("proposal merged",
			zap.String(fieldProposalID, validProposalID.String()),
			zap.String(fieldEntity, outcome.proposal.EntityRef().Key()),
			zap.String("resolved_by", actor.UserID.String()))
		service.publish(EventProposalResolved, outcome.proposal)
	}
	return outcome.proposal, nil
}

// Reject declines a pending proposal. The trimmed reason must meet the configured minimum length.
func (service *Service) Reject(ctx context.Context, proposalID ProposalID, actor Actor, reason string) (EditProposal, error) {
	if err := service.requireDatabase(opReject); err != nil {
		return EditProposal{}, err
	}
	if actor.Anonymous() {
		return EditProposal{}, newServiceError(opReject, reasonAnonymousActor, ErrAuthorization, errInvalidUserID)
	}
	trimmedReason := strings.TrimSpace(reason)
	if len([]rune(trimmedReason)) < service.minRejectReasonLength {
		return EditProposal{}, newServiceError(opReject, "reason_too_short", ErrValidation, errReasonTooShort)
	}
	validProposalID, err := service.prepareModeration(ctx, opReject, proposalID, actor)
	if err != nil {
		return EditProposal{}, err
	}

	var outcome transitionOutcome
	transactionError := service.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		proposal, err := service.loadProposal(transaction, opReject, validProposalID, true)
		if err != nil {
			return err
		}
		outcome, err = service.finalizeProposal(transaction, opReject, proposal, StatusRejected, actor.UserID.String(), &trimmedReason)
		return err
	})
	if transactionError != nil {
		return EditProposal{}, passThrough(opReject, reasonTransaction, transactionError)
	}

	if outcome.won {
		service.loggerOrDefault().Info("proposal rejected",
			zap.String(fieldProposalID, validProposalID.String()),
			zap.String(fieldEntity, outcome.proposal.EntityRef().Key()),
			zap.String("resolved_by", actor.UserID.String()))
		service.publish(EventProposalResolved, outcome.proposal)
	}
	return outcome.proposal, nil
}

// prepareModeration validates the request and consults the Authorizer before any transaction
// is opened, so the capability check never holds a database connection.
func (service *Service) prepareModeration(ctx context.Context, operation string, proposalID ProposalID, actor Actor) (ProposalID, error) {
	if actor.Anonymous() {
		return "", newServiceError(operation, reasonAnonymousActor, ErrAuthorization, errInvalidUserID)
	}
	validProposalID, err := NewProposalID(proposalID.String())
	if err != nil {
		return "", newServiceError(operation, reasonInvalidInput, ErrValidation, err)
	}

	proposal, err := service.loadProposal(service.db.WithContext(ctx), operation, validProposalID, false)
	if err != nil {
		return "", err
	}
	if proposal.Status.IsTerminal() {
		return "", newServiceError(operation, reasonNotPending, ErrInvalidState, errProposalNotPending)
	}

	allowed, err := service.authorizer.CanModerate(ctx, actor.UserID, proposal.EntityRef())
	if err != nil {
		service.logError(operation, reasonAuthorizeFailed, err,
			zap.String(fieldProposalID, validProposalID.String()),
			zap.String(fieldUserID, actor.UserID.String()))
		return "", newServiceError(operation, reasonAuthorizeFailed, ErrPersistence, err)
	}
	if !allowed {
		service.loggerOrDefault().Warn("moderation denied",
			zap.String("operation", operation),
			zap.String(fieldProposalID, validProposalID.String()),
			zap.String(fieldUserID, actor.UserID.String()))
		return "", newServiceError(operation, reasonForbidden, ErrAuthorization, errModeratorRequired)
	}
	return validProposalID, nil
}

// AutoApproveCheck merges a pending proposal whose net score has reached the threshold.
// It reports whether this call performed the transition; terminal proposals are a no-op.
func (service *Service) AutoApproveCheck(ctx context.Context, proposalID ProposalID) (bool, error) {
	if err := service.requireDatabase(opAutoApproveCheck); err != nil {
		return false, err
	}
	validProposalID, err := NewProposalID(proposalID.String())
	if err != nil {
		return false, newServiceError(opAutoApproveCheck, reasonInvalidInput, ErrValidation, err)
	}

	var approved bool
	transactionError := service.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		var err error
		approved, err = service.autoApproveWithin(transaction, opAutoApproveCheck, validProposalID)
		return err
	})
	if transactionError != nil {
		return false, passThrough(opAutoApproveCheck, reasonTransaction, transactionError)
	}
	if approved {
		proposal, err := service.GetProposal(ctx, validProposalID)
		if err == nil {
			service.loggerOrDefault().Info("proposal auto-approved",
				zap.String(fieldProposalID, validProposalID.String()),
				zap.Int64("net_score", proposal.NetScore()),
				zap.Int64("threshold", service.autoApproveThreshold))
			service.publish(EventProposalResolved, proposal)
		}
	}
	return approved, nil
}

func (service *Service) autoApproveWithin(transaction *gorm.DB, operation string, proposalID ProposalID) (bool, error) {
	proposal, err := service.loadProposal(transaction, operation, proposalID, true)
	if err != nil {
		return false, err
	}
	if proposal.Status != StatusPending || proposal.NetScore() < service.autoApproveThreshold {
		return false, nil
	}
	outcome, err := service.finalizeProposal(transaction, operation, proposal, StatusApproved, AutoApprovedResolver, nil)
	if err != nil {
		return false, err
	}
	return outcome.won, nil
}

// finalizeProposal moves a pending proposal to a terminal status with a compare-and-set on the
// status column. Approval appends the history entry in the same transaction.
func (service *Service) finalizeProposal(transaction *gorm.DB, operation string, proposal EditProposal, target Status, resolvedBy string, rejectReason *string) (transitionOutcome, error) {
	var (
		next Status
		err  error
	)
	switch target {
	case StatusApproved:
		next, err = proposal.Status.Approve()
	case StatusRejected:
		next, err = proposal.Status.Reject()
	default:
		return transitionOutcome{}, newServiceError(operation, "invalid_target", ErrValidation, errUnknownStatus)
	}
	if err != nil {
		return transitionOutcome{proposal: proposal}, nil
	}

	resolvedAt := service.nowSeconds()
	updates := map[string]any{
		"status":        next.String(),
		"resolved_by":   resolvedBy,
		"resolved_at_s": resolvedAt,
	}
	if rejectReason != nil {
		updates["reject_reason"] = *rejectReason
	}
	compareAndSet := transaction.Model(&EditProposal{}).
		Where(queryPendingProposalID, proposal.ProposalID, StatusPending.String()).
		Updates(updates)
	if compareAndSet.Error != nil {
		service.logError(operation, "transition_failed", compareAndSet.Error,
			zap.String(fieldProposalID, proposal.ProposalID),
			zap.String("target_status", next.String()))
		return transitionOutcome{}, newServiceError(operation, "transition_failed", ErrPersistence, compareAndSet.Error)
	}

	won := compareAndSet.RowsAffected == 1
	current, err := service.loadProposal(transaction, operation, ProposalID(proposal.ProposalID), false)
	if err != nil {
		return transitionOutcome{}, err
	}
	if won && next == StatusApproved {
		if _, err := service.appendHistory(transaction, operation, current); err != nil {
			return transitionOutcome{}, err
		}
	}
	return transitionOutcome{proposal: current, won: won}, nil
}

// Revert opens a new pending proposal that restores the value a history entry replaced.
// Any signed-in user may request a revert; it goes through the normal vote and moderation flow.
func (service *Service) Revert(ctx context.Context, historyID HistoryID, actor Actor) (EditProposal, error) {
	if err := service.requireDatabase(opRevert); err != nil {
		return EditProposal{}, err
	}
	if actor.Anonymous() {
		return EditProposal{}, newServiceError(opRevert, reasonAnonymousActor, ErrAuthorization, errInvalidUserID)
	}
	author, err := NewUserID(actor.UserID.String())
	if err != nil {
		return EditProposal{}, newServiceError(opRevert, reasonInvalidInput, ErrValidation, err)
	}
	validHistoryID, err := NewHistoryID(historyID.String())
	if err != nil {
		return EditProposal{}, newServiceError(opRevert, reasonInvalidInput, ErrValidation, err)
	}

	database := service.db.WithContext(ctx)
	entry, err := service.loadHistoryEntry(database, opRevert, validHistoryID)
	if err != nil {
		return EditProposal{}, err
	}

	revertedID := entry.HistoryID
	created, err := service.insertProposal(database, opRevert, EditProposal{
		Collection:        entry.Collection,
		EntityID:          entry.EntityID,
		Field:             entry.Field,
		OldValue:          entry.NewValue,
		NewValue:          entry.OldValue,
		AuthorID:          author.String(),
		AuthorName:        strings.TrimSpace(actor.DisplayName),
		IsRevert:          true,
		RevertedHistoryID: &revertedID,
	})
	if err != nil {
		return EditProposal{}, err
	}

	service.loggerOrDefault().Info("revert proposed",
		zap.String(fieldProposalID, created.ProposalID),
		zap.String(fieldHistoryID, validHistoryID.String()),
		zap.String(fieldUserID, created.AuthorID))
	service.publish(EventProposalCreated, created)
	return created, nil
}
