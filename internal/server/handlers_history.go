package server

import (
	"net/http"

	"github.com/MarcoPoloResearchLab/gravity-edits/backend/internal/edits"
	"github.com/MarcoPoloResearchLab/gravity-edits/backend/internal/users"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func (h *httpHandler) handleListHistory(c *gin.Context) {
	ref := edits.EntityRef{Collection: c.Query("collection"), EntityID: c.Query("entity_id")}
	entries, err := h.edits.ListHistory(c.Request.Context(), ref)
	if err != nil {
		h.respondError(c, err)
		return
	}
	payloads := make([]historyPayload, 0, len(entries))
	for _, entry := range entries {
		payloads = append(payloads, newHistoryPayload(entry))
	}
	c.JSON(http.StatusOK, gin.H{"entries": payloads})
}

func (h *httpHandler) handleGetHistoryEntry(c *gin.Context) {
	entry, err := h.edits.GetHistoryEntry(c.Request.Context(), edits.HistoryID(c.Param("id")))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, newHistoryPayload(entry))
}

func (h *httpHandler) handleRevert(c *gin.Context) {
	proposal, err := h.edits.Revert(c.Request.Context(), edits.HistoryID(c.Param("id")), actorFromContext(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, newProposalPayload(proposal))
}

// handleAssignOwner lets admins grant record ownership, which carries moderation rights for that record.
func (h *httpHandler) handleAssignOwner(c *gin.Context) {
	ctx := c.Request.Context()
	actor := actorFromContext(c)

	roles, err := h.identities.Roles(ctx, actor.UserID)
	if err != nil {
		h.logger.Error("failed to load roles", zap.String("user_id", actor.UserID.String()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "roles_unavailable", "code": "owners.assign.roles_unavailable"})
		return
	}
	if !users.AnyCan(roles, users.ActionAdmin) {
		h.logger.Warn("owner assignment denied", zap.String("user_id", actor.UserID.String()))
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden", "code": "owners.assign.forbidden"})
		return
	}

	ref, err := edits.NewEntityRef(c.Param("collection"), c.Param("entity_id"))
	if err != nil {
		respondBadRequest(c, "invalid_entity")
		return
	}
	owner, err := edits.NewUserID(c.Param("user_id"))
	if err != nil {
		respondBadRequest(c, "invalid_user_id")
		return
	}
	if err := h.identities.AssignOwner(ctx, owner, ref); err != nil {
		h.logger.Error("failed to assign owner", zap.String("entity", ref.Key()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "assign_failed", "code": "owners.assign.assign_failed"})
		return
	}
	c.Status(http.StatusNoContent)
}
