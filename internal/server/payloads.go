package server

import (
	"github.com/MarcoPoloResearchLab/gravity-edits/backend/internal/diff"
	"github.com/MarcoPoloResearchLab/gravity-edits/backend/internal/edits"
)

type citationPayload struct {
	Source string `json:"source"`
	Quote  string `json:"quote,omitempty"`
}

type proposalPayload struct {
	ProposalID        string           `json:"id"`
	Collection        string           `json:"collection"`
	EntityID          string           `json:"entity_id"`
	Field             string           `json:"field"`
	OldValue          string           `json:"old_value"`
	NewValue          string           `json:"new_value"`
	AuthorID          string           `json:"author_id"`
	AuthorName        string           `json:"author_name"`
	Citation          *citationPayload `json:"citation,omitempty"`
	Status            string           `json:"status"`
	Upvotes           int64            `json:"upvotes"`
	Downvotes         int64            `json:"downvotes"`
	NetScore          int64            `json:"net_score"`
	CreatedAtSeconds  int64            `json:"created_at_s"`
	ResolvedBy        *string          `json:"resolved_by,omitempty"`
	ResolvedAtSeconds *int64           `json:"resolved_at_s,omitempty"`
	RejectReason      *string          `json:"reject_reason,omitempty"`
	IsRevert          bool             `json:"is_revert"`
	RevertedHistoryID *string          `json:"reverted_history_id,omitempty"`
	UserVote          *int             `json:"user_vote,omitempty"`
}

func newProposalPayload(proposal edits.EditProposal) proposalPayload {
	payload := proposalPayload{
		ProposalID:        proposal.ProposalID,
		Collection:        proposal.Collection,
		EntityID:          proposal.EntityID,
		Field:             proposal.Field,
		OldValue:          proposal.OldValue,
		NewValue:          proposal.NewValue,
		AuthorID:          proposal.AuthorID,
		AuthorName:        proposal.AuthorName,
		Status:            proposal.Status.String(),
		Upvotes:           proposal.Upvotes,
		Downvotes:         proposal.Downvotes,
		NetScore:          proposal.NetScore(),
		CreatedAtSeconds:  proposal.CreatedAtSeconds,
		ResolvedBy:        proposal.ResolvedBy,
		ResolvedAtSeconds: proposal.ResolvedAtSeconds,
		RejectReason:      proposal.RejectReason,
		IsRevert:          proposal.IsRevert,
		RevertedHistoryID: proposal.RevertedHistoryID,
	}
	if citation := proposal.Citation(); citation != nil {
		payload.Citation = &citationPayload{Source: citation.Source, Quote: citation.Quote}
	}
	return payload
}

func newProposalPayloads(proposals []edits.EditProposal) []proposalPayload {
	payloads := make([]proposalPayload, 0, len(proposals))
	for _, proposal := range proposals {
		payloads = append(payloads, newProposalPayload(proposal))
	}
	return payloads
}

type votePayload struct {
	ProposalID   string `json:"proposal_id"`
	Action       string `json:"action"`
	Upvotes      int64  `json:"upvotes"`
	Downvotes    int64  `json:"downvotes"`
	NetScore     int64  `json:"net_score"`
	UserVote     int    `json:"user_vote"`
	Status       string `json:"status"`
	AutoApproved bool   `json:"auto_approved"`
}

func newVotePayload(result edits.VoteResult) votePayload {
	return votePayload{
		ProposalID:   result.ProposalID.String(),
		Action:       string(result.Action),
		Upvotes:      result.Upvotes,
		Downvotes:    result.Downvotes,
		NetScore:     result.NetScore(),
		UserVote:     result.UserVote.Int(),
		Status:       result.Status.String(),
		AutoApproved: result.AutoApproved,
	}
}

type historyPayload struct {
	HistoryID       string `json:"id"`
	ProposalID      string `json:"proposal_id"`
	Collection      string `json:"collection"`
	EntityID        string `json:"entity_id"`
	Field           string `json:"field"`
	OldValue        string `json:"old_value"`
	NewValue        string `json:"new_value"`
	AuthorID        string `json:"author_id"`
	ApprovedBy      string `json:"approved_by"`
	MergedAtSeconds int64  `json:"merged_at_s"`
}

func newHistoryPayload(entry edits.HistoryEntry) historyPayload {
	return historyPayload{
		HistoryID:       entry.HistoryID,
		ProposalID:      entry.ProposalID,
		Collection:      entry.Collection,
		EntityID:        entry.EntityID,
		Field:           entry.Field,
		OldValue:        entry.OldValue,
		NewValue:        entry.NewValue,
		AuthorID:        entry.AuthorID,
		ApprovedBy:      entry.ApprovedBy,
		MergedAtSeconds: entry.MergedAtSeconds,
	}
}

type diffPayload struct {
	ProposalID string      `json:"proposal_id"`
	Mode       string      `json:"mode"`
	Stats      diff.Stats  `json:"stats"`
	Lines      []diff.Line `json:"lines,omitempty"`
	Unified    string      `json:"unified,omitempty"`
	Rows       []diff.Row  `json:"rows,omitempty"`
}
