package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/gravity-edits/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/gravity-edits/backend/internal/edits"
	"github.com/MarcoPoloResearchLab/gravity-edits/backend/internal/users"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	actorContextKey        = "edits_actor"
	accessTokenQueryParam  = "access_token"
	defaultStreamHeartbeat = 25 * time.Second
)

var (
	errMissingSessionValidator = errors.New("session validator dependency required")
	errMissingIdentityResolver = errors.New("identity resolver dependency required")
	errMissingEditsService     = errors.New("edits service dependency required")
)

// SessionValidator authenticates requests carrying session tokens.
type SessionValidator interface {
	ValidateToken(token string) (auth.SessionClaims, error)
	ValidateRequest(r *http.Request) (auth.SessionClaims, error)
}

// IdentityResolver maps validated sessions onto workflow actors.
type IdentityResolver interface {
	ResolveActor(ctx context.Context, claims auth.SessionClaims) (edits.Actor, error)
	Roles(ctx context.Context, userID edits.UserID) ([]users.Role, error)
	AssignOwner(ctx context.Context, userID edits.UserID, ref edits.EntityRef) error
}

type Dependencies struct {
	SessionValidator   SessionValidator
	Identities         IdentityResolver
	EditsService       *edits.Service
	Realtime           *RealtimeDispatcher
	CORSAllowedOrigins []string
	StreamHeartbeat    time.Duration
	Logger             *zap.Logger
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.SessionValidator == nil {
		return nil, errMissingSessionValidator
	}
	if deps.Identities == nil {
		return nil, errMissingIdentityResolver
	}
	if deps.EditsService == nil {
		return nil, errMissingEditsService
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	realtime := deps.Realtime
	if realtime == nil {
		realtime = NewRealtimeDispatcher()
	}
	heartbeat := deps.StreamHeartbeat
	if heartbeat <= 0 {
		heartbeat = defaultStreamHeartbeat
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware(deps.CORSAllowedOrigins))

	handler := &httpHandler{
		sessions:   deps.SessionValidator,
		identities: deps.Identities,
		edits:      deps.EditsService,
		realtime:   realtime,
		heartbeat:  heartbeat,
		logger:     logger,
	}

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	public := router.Group("/")
	public.Use(handler.identifyRequest)
	public.GET("/proposals", handler.handleListProposals)
	public.GET("/proposals/:id", handler.handleGetProposal)
	public.GET("/proposals/:id/diff", handler.handleProposalDiff)
	public.GET("/history", handler.handleListHistory)
	public.GET("/history/:id", handler.handleGetHistoryEntry)
	public.GET("/entities/:collection/:entity_id/stream", handler.handleEntityStream)

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.POST("/proposals", handler.handleSubmitProposal)
	protected.GET("/me/proposals", handler.handleListMyProposals)
	protected.POST("/proposals/:id/votes", handler.handleCastVote)
	protected.POST("/proposals/:id/merge", handler.handleMerge)
	protected.POST("/proposals/:id/reject", handler.handleReject)
	protected.POST("/history/:id/revert", handler.handleRevert)
	protected.PUT("/entities/:collection/:entity_id/owners/:user_id", handler.handleAssignOwner)

	return router, nil
}

func corsMiddleware(allowedOrigins []string) gin.HandlerFunc {
	cfg := cors.Config{
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type", "Last-Event-ID"},
		MaxAge:       12 * time.Hour,
	}
	// Credentials are only shared with explicitly listed origins.
	if len(allowedOrigins) == 0 {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = allowedOrigins
		cfg.AllowCredentials = true
	}
	return cors.New(cfg)
}

type httpHandler struct {
	sessions   SessionValidator
	identities IdentityResolver
	edits      *edits.Service
	realtime   *RealtimeDispatcher
	heartbeat  time.Duration
	logger     *zap.Logger
}

// identifyRequest attaches the caller's actor when a session is present and lets anonymous reads through.
func (h *httpHandler) identifyRequest(c *gin.Context) {
	h.authenticate(c, false)
}

// authorizeRequest requires a valid session.
func (h *httpHandler) authorizeRequest(c *gin.Context) {
	h.authenticate(c, true)
}

func (h *httpHandler) authenticate(c *gin.Context, required bool) {
	claims, err := h.sessionClaims(c)
	if errors.Is(err, auth.ErrMissingSessionToken) && !required {
		c.Next()
		return
	}
	if errors.Is(err, auth.ErrMissingSessionToken) {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	if err != nil {
		if errors.Is(err, auth.ErrExpiredSessionToken) {
			h.logger.Info("token validation failed", zap.Error(err))
		} else {
			h.logger.Warn("token validation failed", zap.Error(err))
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	actor, err := h.identities.ResolveActor(c.Request.Context(), claims)
	if err != nil {
		if errors.Is(err, users.ErrInvalidIdentity) {
			h.logger.Warn("session identity rejected", zap.Error(err))
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		h.logger.Error("failed to resolve actor", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "identity_unavailable"})
		return
	}
	c.Set(actorContextKey, actor)
	c.Next()
}

// sessionClaims accepts the access_token query parameter for EventSource clients that cannot set headers.
func (h *httpHandler) sessionClaims(c *gin.Context) (auth.SessionClaims, error) {
	if c.GetHeader("Authorization") == "" {
		if token := strings.TrimSpace(c.Query(accessTokenQueryParam)); token != "" {
			return h.sessions.ValidateToken(token)
		}
	}
	return h.sessions.ValidateRequest(c.Request)
}

func actorFromContext(c *gin.Context) edits.Actor {
	value, ok := c.Get(actorContextKey)
	if !ok {
		return edits.Actor{}
	}
	actor, _ := value.(edits.Actor)
	return actor
}
