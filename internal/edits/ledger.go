package edits

import (
	"context"
	"errors"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	opCastVote     = "edits.cast_vote"
	opUserVote     = "edits.user_vote"
	opRecountVotes = "edits.recount_votes"
)

// VoteAction describes what applying a vote did to the ledger.
type VoteAction string

const (
	VoteActionRecorded VoteAction = "recorded"
	VoteActionToggled  VoteAction = "toggled_off"
	VoteActionFlipped  VoteAction = "flipped"
)

// voteTransition is the ledger change implied by a vote request against the user's current vote.
type voteTransition struct {
	action         VoteAction
	upvoteDelta    int64
	downvoteDelta  int64
	userVoteBefore VoteValue
	userVoteAfter  VoteValue
}

func counterDelta(value VoteValue, amount int64) (int64, int64) {
	if value == VoteUp {
		return amount, 0
	}
	return 0, amount
}

// resolveVote applies the toggle/flip rules: no vote records, the same vote removes,
// the opposite vote flips.
func resolveVote(existing, requested VoteValue) voteTransition {
	switch existing {
	case VoteNone:
		up, down := counterDelta(requested, 1)
		return voteTransition{action: VoteActionRecorded, upvoteDelta: up, downvoteDelta: down, userVoteBefore: existing, userVoteAfter: requested}
	case requested:
		up, down := counterDelta(requested, -1)
		return voteTransition{action: VoteActionToggled, upvoteDelta: up, downvoteDelta: down, userVoteBefore: existing, userVoteAfter: VoteNone}
	default:
		removedUp, removedDown := counterDelta(existing, -1)
		addedUp, addedDown := counterDelta(requested, 1)
		return voteTransition{
			action:         VoteActionFlipped,
			upvoteDelta:    removedUp + addedUp,
			downvoteDelta:  removedDown + addedDown,
			userVoteBefore: existing,
			userVoteAfter:  requested,
		}
	}
}

// VoteResult reports the committed ledger state after a vote.
type VoteResult struct {
	ProposalID   ProposalID
	Action       VoteAction
	Upvotes      int64
	Downvotes    int64
	UserVote     VoteValue
	Status       Status
	AutoApproved bool
}

// NetScore returns upvotes minus downvotes.
func (result VoteResult) NetScore() int64 {
	return result.Upvotes - result.Downvotes
}

// CastVote applies a vote and runs the auto-approve check in the same transaction.
// The proposal row is locked, the per-user vote document is the only input to the
// counter delta, and counters change by SQL expression guarded on the pending status.
// Any failure rolls the whole transaction back, leaving the prior vote and counts intact.
func (service *Service) CastVote(ctx context.Context, proposalID ProposalID, voter UserID, value VoteValue) (VoteResult, error) {
	if err := service.requireDatabase(opCastVote); err != nil {
		return VoteResult{}, err
	}
	if (Actor{UserID: voter}).Anonymous() {
		return VoteResult{}, newServiceError(opCastVote, reasonAnonymousActor, ErrAuthorization, errInvalidUserID)
	}
	validVoter, err := NewUserID(voter.String())
	if err != nil {
		return VoteResult{}, newServiceError(opCastVote, reasonInvalidInput, ErrValidation, err)
	}
	if _, err := NewVoteValue(value.Int()); err != nil {
		return VoteResult{}, newServiceError(opCastVote, "invalid_vote_value", ErrValidation, err)
	}
	validProposalID, err := NewProposalID(proposalID.String())
	if err != nil {
		return VoteResult{}, newServiceError(opCastVote, reasonInvalidInput, ErrValidation, err)
	}

	var (
		result        VoteResult
		finalProposal EditProposal
	)
	transactionError := service.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		proposal, err := service.loadProposal(transaction, opCastVote, validProposalID, true)
		if err != nil {
			return err
		}
		if !proposal.Status.AcceptsVotes() {
			return newServiceError(opCastVote, reasonNotPending, ErrInvalidState, errProposalNotPending)
		}

		existing, err := service.lookupVote(transaction, opCastVote, validProposalID, validVoter)
		if err != nil {
			return err
		}
		transition := resolveVote(existing, value)
		castAt := service.nowSeconds()

		if err := service.writeVoteDocument(transaction, validProposalID, validVoter, transition, castAt); err != nil {
			return err
		}

		counterUpdate := transaction.Model(&EditProposal{}).
			Where(queryPendingProposalID, validProposalID.String(), StatusPending.String()).
			Updates(map[string]any{
				"upvotes":   gorm.Expr("upvotes + ?", transition.upvoteDelta),
				"downvotes": gorm.Expr("downvotes + ?", transition.downvoteDelta),
			})
		if counterUpdate.Error != nil {
			service.logError(opCastVote, "counter_update_failed", counterUpdate.Error,
				zap.String(fieldProposalID, validProposalID.String()))
			return newServiceError(opCastVote, "counter_update_failed", ErrPersistence, counterUpdate.Error)
		}
		if counterUpdate.RowsAffected == 0 {
			return newServiceError(opCastVote, reasonNotPending, ErrInvalidState, errProposalNotPending)
		}

		approved, err := service.autoApproveWithin(transaction, opCastVote, validProposalID)
		if err != nil {
			return err
		}

		finalProposal, err = service.loadProposal(transaction, opCastVote, validProposalID, false)
		if err != nil {
			return err
		}
		result = VoteResult{
			ProposalID:   validProposalID,
			Action:       transition.action,
			Upvotes:      finalProposal.Upvotes,
			Downvotes:    finalProposal.Downvotes,
			UserVote:     transition.userVoteAfter,
			Status:       finalProposal.Status,
			AutoApproved: approved,
		}
		return nil
	})
	if transactionError != nil {
		return VoteResult{}, passThrough(opCastVote, reasonTransaction, transactionError)
	}

	service.loggerOrDefault().Debug("vote applied",
		zap.String(fieldProposalID, validProposalID.String()),
		zap.String(fieldUserID, validVoter.String()),
		zap.String("action", string(result.Action)),
		zap.Int64("net_score", result.NetScore()))
	service.publish(EventProposalVoted, finalProposal)
	if result.AutoApproved {
		service.loggerOrDefault().Info("proposal auto-approved",
			zap.String(fieldProposalID, validProposalID.String()),
			zap.Int64("net_score", result.NetScore()),
			zap.Int64("threshold", service.autoApproveThreshold))
		service.publish(EventProposalResolved, finalProposal)
	}
	return result, nil
}

func (service *Service) lookupVote(database *gorm.DB, operation string, proposalID ProposalID, voter UserID) (VoteValue, error) {
	var record VoteRecord
	err := database.Where(queryVoteIdentity, proposalID.String(), voter.String()).Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return VoteNone, nil
	}
	if err != nil {
		service.logError(operation, "vote_lookup_failed", err,
			zap.String(fieldProposalID, proposalID.String()),
			zap.String(fieldUserID, voter.String()))
		return VoteNone, newServiceError(operation, "vote_lookup_failed", ErrPersistence, err)
	}
	return VoteValue(record.Value), nil
}

func (service *Service) writeVoteDocument(database *gorm.DB, proposalID ProposalID, voter UserID, transition voteTransition, castAt int64) error {
	var err error
	switch transition.action {
	case VoteActionRecorded:
		err = database.Create(&VoteRecord{
			ProposalID:    proposalID.String(),
			UserID:        voter.String(),
			Value:         transition.userVoteAfter.Int(),
			CastAtSeconds: castAt,
		}).Error
	case VoteActionToggled:
		err = database.Where(queryVoteIdentity, proposalID.String(), voter.String()).Delete(&VoteRecord{}).Error
	case VoteActionFlipped:
		err = database.Model(&VoteRecord{}).
			Where(queryVoteIdentity, proposalID.String(), voter.String()).
			Updates(map[string]any{"value": transition.userVoteAfter.Int(), "cast_at_s": castAt}).Error
	}
	if err != nil {
		service.logError(opCastVote, "vote_write_failed", err,
			zap.String(fieldProposalID, proposalID.String()),
			zap.String(fieldUserID, voter.String()),
			zap.String("action", string(transition.action)))
		return newServiceError(opCastVote, "vote_write_failed", ErrPersistence, err)
	}
	return nil
}

// UserVote returns the caller's current vote on a proposal, VoteNone when absent.
func (service *Service) UserVote(ctx context.Context, proposalID ProposalID, voter UserID) (VoteValue, error) {
	if err := service.requireDatabase(opUserVote); err != nil {
		return VoteNone, err
	}
	if (Actor{UserID: voter}).Anonymous() {
		return VoteNone, nil
	}
	return service.lookupVote(service.db.WithContext(ctx), opUserVote, proposalID, voter)
}

// RecountVoteCounters rebuilds every cached upvote/downvote counter from the vote ledger.
func RecountVoteCounters(database *gorm.DB) error {
	if database == nil {
		return newServiceError(opRecountVotes, reasonMissingDatabase, ErrPersistence, errMissingDatabase)
	}
	votes := VoteRecord{}.TableName()
	proposals := EditProposal{}.TableName()
	countFor := func(value VoteValue) any {
		return gorm.Expr("(SELECT COUNT(*) FROM "+votes+" WHERE "+votes+".proposal_id = "+proposals+".proposal_id AND "+votes+".value = ?)", value.Int())
	}
	err := database.Model(&EditProposal{}).
		Where("1 = 1").
		Updates(map[string]any{
			"upvotes":   countFor(VoteUp),
			"downvotes": countFor(VoteDown),
		}).Error
	if err != nil {
		return newServiceError(opRecountVotes, "update_failed", ErrPersistence, err)
	}
	return nil
}
