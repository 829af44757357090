package server

import (
	"net/http"
	"strings"

	"github.com/MarcoPoloResearchLab/gravity-edits/backend/internal/diff"
	"github.com/MarcoPoloResearchLab/gravity-edits/backend/internal/edits"
	"github.com/gin-gonic/gin"
)

const (
	diffModeUnified = "unified"
	diffModeSplit   = "split"
)

type submitProposalRequest struct {
	Collection string           `json:"collection"`
	EntityID   string           `json:"entity_id"`
	Field      string           `json:"field"`
	OldValue   string           `json:"old_value"`
	NewValue   string           `json:"new_value"`
	Citation   *citationPayload `json:"citation"`
}

type castVoteRequest struct {
	Value int `json:"value"`
}

type rejectRequest struct {
	Reason string `json:"reason"`
}

func (h *httpHandler) handleSubmitProposal(c *gin.Context) {
	var request submitProposalRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		respondBadRequest(c, "invalid_request")
		return
	}

	submit := edits.SubmitRequest{
		Entity:   edits.EntityRef{Collection: request.Collection, EntityID: request.EntityID},
		Field:    request.Field,
		OldValue: request.OldValue,
		NewValue: request.NewValue,
		Author:   actorFromContext(c),
	}
	if request.Citation != nil {
		submit.Citation = &edits.Citation{Source: request.Citation.Source, Quote: request.Citation.Quote}
	}

	proposal, err := h.edits.SubmitEdit(c.Request.Context(), submit)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, newProposalPayload(proposal))
}

func (h *httpHandler) handleListProposals(c *gin.Context) {
	sort, err := edits.ParseSortOrder(c.Query("sort"))
	if err != nil {
		respondBadRequest(c, "invalid_sort")
		return
	}
	filter := edits.ListFilter{Sort: sort}
	if rawStatus := strings.TrimSpace(c.Query("status")); rawStatus != "" {
		status, err := edits.ParseStatus(rawStatus)
		if err != nil {
			respondBadRequest(c, "invalid_status")
			return
		}
		filter.Status = &status
	}

	ref := edits.EntityRef{Collection: c.Query("collection"), EntityID: c.Query("entity_id")}
	proposals, err := h.edits.ListByEntity(c.Request.Context(), ref, filter)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"proposals": newProposalPayloads(proposals)})
}

func (h *httpHandler) handleListMyProposals(c *gin.Context) {
	sort, err := edits.ParseSortOrder(c.Query("sort"))
	if err != nil {
		respondBadRequest(c, "invalid_sort")
		return
	}
	proposals, err := h.edits.ListByUser(c.Request.Context(), actorFromContext(c).UserID, sort)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"proposals": newProposalPayloads(proposals)})
}

func (h *httpHandler) handleGetProposal(c *gin.Context) {
	ctx := c.Request.Context()
	proposalID := edits.ProposalID(c.Param("id"))
	proposal, err := h.edits.GetProposal(ctx, proposalID)
	if err != nil {
		h.respondError(c, err)
		return
	}

	payload := newProposalPayload(proposal)
	if actor := actorFromContext(c); !actor.Anonymous() {
		vote, err := h.edits.UserVote(ctx, proposalID, actor.UserID)
		if err != nil {
			h.respondError(c, err)
			return
		}
		value := vote.Int()
		payload.UserVote = &value
	}
	c.JSON(http.StatusOK, payload)
}

func (h *httpHandler) handleProposalDiff(c *gin.Context) {
	mode := strings.ToLower(strings.TrimSpace(c.DefaultQuery("mode", diffModeUnified)))
	if mode != diffModeUnified && mode != diffModeSplit {
		respondBadRequest(c, "invalid_mode")
		return
	}

	proposal, err := h.edits.GetProposal(c.Request.Context(), edits.ProposalID(c.Param("id")))
	if err != nil {
		h.respondError(c, err)
		return
	}

	lines := diff.Compute(proposal.OldValue, proposal.NewValue)
	payload := diffPayload{
		ProposalID: proposal.ProposalID,
		Mode:       mode,
		Stats:      diff.Summarize(lines),
	}
	if mode == diffModeSplit {
		payload.Rows = diff.SideBySide(lines)
	} else {
		payload.Lines = lines
		payload.Unified = diff.Unified(lines)
	}
	c.JSON(http.StatusOK, payload)
}

func (h *httpHandler) handleCastVote(c *gin.Context) {
	var request castVoteRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		respondBadRequest(c, "invalid_request")
		return
	}

	result, err := h.edits.CastVote(c.Request.Context(), edits.ProposalID(c.Param("id")), actorFromContext(c).UserID, edits.VoteValue(request.Value))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, newVotePayload(result))
}

func (h *httpHandler) handleMerge(c *gin.Context) {
	proposal, err := h.edits.Merge(c.Request.Context(), edits.ProposalID(c.Param("id")), actorFromContext(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, newProposalPayload(proposal))
}

func (h *httpHandler) handleReject(c *gin.Context) {
	var request rejectRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		respondBadRequest(c, "invalid_request")
		return
	}

	proposal, err := h.edits.Reject(c.Request.Context(), edits.ProposalID(c.Param("id")), actorFromContext(c), request.Reason)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, newProposalPayload(proposal))
}
