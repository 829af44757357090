package edits

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	// DefaultAutoApproveThreshold is the net score that merges a proposal without a moderator.
	DefaultAutoApproveThreshold = 10
	// DefaultMinRejectReasonLength is the shortest rejection reason accepted.
	DefaultMinRejectReasonLength = 10
)

const (
	opServiceNew = "edits.service.new"

	fieldProposalID = "proposal_id"
	fieldHistoryID  = "history_id"
	fieldUserID     = "user_id"
	fieldEntity     = "entity"

	queryProposalID        = "proposal_id = ?"
	queryPendingProposalID = "proposal_id = ? AND status = ?"
	queryVoteIdentity      = "proposal_id = ? AND user_id = ?"

	reasonMissingDatabase = "missing_database"
	reasonInvalidInput    = "invalid_input"
	reasonNotFound        = "not_found"
	reasonLookupFailed    = "lookup_failed"
	reasonQueryFailed     = "query_failed"
	reasonNotPending      = "not_pending"
	reasonAnonymousActor  = "anonymous_actor"
	reasonForbidden       = "forbidden"
	reasonAuthorizeFailed = "authorization_check_failed"
	reasonTransaction     = "transaction_failed"
	reasonIDGeneration    = "id_generation_failed"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	errMissingAuthorizer = errors.New("authorizer is required")
	errInvalidThreshold  = errors.New("auto approve threshold must be positive")
	errInvalidMinReason  = errors.New("minimum reject reason length must not be negative")
	noOpLogger           = zap.NewNop()
)

// IDProvider issues identifiers for proposals and history entries.
type IDProvider interface {
	NewID() (string, error)
}

// Authorizer decides whether an actor may merge or reject proposals on a record.
// Owners, moderators and admins are expected to pass; the rule lives outside this package.
type Authorizer interface {
	CanModerate(ctx context.Context, actorID UserID, ref EntityRef) (bool, error)
}

// EventType names a proposal lifecycle event.
type EventType string

const (
	EventProposalCreated  EventType = "proposal-created"
	EventProposalVoted    EventType = "proposal-voted"
	EventProposalResolved EventType = "proposal-resolved"
)

// ProposalEvent is emitted after a committed change to a proposal.
type ProposalEvent struct {
	Type       EventType
	Proposal   EditProposal
	OccurredAt time.Time
}

// EventSink receives committed proposal events. Implementations must not block.
type EventSink interface {
	PublishProposalEvent(event ProposalEvent)
}

// ServiceConfig describes the dependencies of the edit workflow service.
type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider IDProvider
	Authorizer Authorizer
	Events     EventSink
	Logger     *zap.Logger
	// AutoApproveThreshold is the net score that approves a proposal. Zero selects DefaultAutoApproveThreshold.
	AutoApproveThreshold int64
	// MinRejectReasonLength is the shortest trimmed rejection reason. Zero selects DefaultMinRejectReasonLength.
	MinRejectReasonLength int
}

// Service exposes the command surface of the suggested-edit workflow:
// SubmitEdit, CastVote, Merge, Reject, Revert and their queries.
type Service struct {
	db                    *gorm.DB
	clock                 func() time.Time
	idProvider            IDProvider
	authorizer            Authorizer
	events                EventSink
	logger                *zap.Logger
	autoApproveThreshold  int64
	minRejectReasonLength int
}

// NewService validates the configuration and applies defaults for optional settings.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, reasonMissingDatabase, ErrValidation, errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, newServiceError(opServiceNew, "missing_id_provider", ErrValidation, errMissingIDProvider)
	}
	if cfg.Authorizer == nil {
		return nil, newServiceError(opServiceNew, "missing_authorizer", ErrValidation, errMissingAuthorizer)
	}

	threshold := cfg.AutoApproveThreshold
	if threshold == 0 {
		threshold = DefaultAutoApproveThreshold
	}
	if threshold < 0 {
		return nil, newServiceError(opServiceNew, "invalid_threshold", ErrValidation, errInvalidThreshold)
	}

	minReason := cfg.MinRejectReasonLength
	if minReason == 0 {
		minReason = DefaultMinRejectReasonLength
	}
	if minReason < 0 {
		return nil, newServiceError(opServiceNew, "invalid_min_reason", ErrValidation, errInvalidMinReason)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	return &Service{
		db:                    cfg.Database,
		clock:                 clock,
		idProvider:            cfg.IDProvider,
		authorizer:            cfg.Authorizer,
		events:                cfg.Events,
		logger:                logger,
		autoApproveThreshold:  threshold,
		minRejectReasonLength: minReason,
	}, nil
}

// AutoApproveThreshold returns the configured net score threshold.
func (service *Service) AutoApproveThreshold() int64 {
	return service.autoApproveThreshold
}

func (service *Service) requireDatabase(operation string) error {
	if service == nil || service.db == nil {
		service.logError(operation, reasonMissingDatabase, errMissingDatabase)
		return newServiceError(operation, reasonMissingDatabase, ErrPersistence, errMissingDatabase)
	}
	return nil
}

func (service *Service) nowSeconds() int64 {
	return service.clock().UTC().Unix()
}

func (service *Service) publish(eventType EventType, proposal EditProposal) {
	if service.events == nil {
		return
	}
	service.events.PublishProposalEvent(ProposalEvent{
		Type:       eventType,
		Proposal:   proposal,
		OccurredAt: service.clock().UTC(),
	})
}

func (service *Service) loggerOrDefault() *zap.Logger {
	if service == nil {
		return noOpLogger
	}
	if service.logger == nil {
		return noOpLogger
	}
	return service.logger
}

func (service *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	service.loggerOrDefault().Error("edits service error", attrs...)
}
