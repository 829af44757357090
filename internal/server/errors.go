package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/MarcoPoloResearchLab/gravity-edits/backend/internal/edits"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const internalErrorReason = "internal_error"

// respondError maps a service error onto a status code and a {"error","code"} body.
func (h *httpHandler) respondError(c *gin.Context, err error) {
	code := internalErrorReason
	reason := internalErrorReason
	var serviceErr *edits.ServiceError
	if errors.As(err, &serviceErr) {
		code = serviceErr.Code()
		reason = code[strings.LastIndex(code, ".")+1:]
	}

	status := statusForError(err, actorFromContext(c))
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.String("code", code),
			zap.Error(err))
	}
	c.JSON(status, gin.H{"error": reason, "code": code})
}

func statusForError(err error, actor edits.Actor) int {
	switch {
	case errors.Is(err, edits.ErrValidation):
		return http.StatusUnprocessableEntity
	case errors.Is(err, edits.ErrAuthorization):
		if actor.Anonymous() {
			return http.StatusUnauthorized
		}
		return http.StatusForbidden
	case errors.Is(err, edits.ErrInvalidState):
		return http.StatusConflict
	case errors.Is(err, edits.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func respondBadRequest(c *gin.Context, reason string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": reason, "code": "request." + reason})
}
