package edits

import (
	"errors"
	"fmt"
	"strings"
)

const maxIdentifierLength = 190

// AutoApprovedResolver is recorded as the resolver of proposals merged by community vote.
const AutoApprovedResolver = "Auto-Approved (Community Vote)"

var (
	errInvalidProposalID = errors.New("edits: invalid proposal id")
	errInvalidHistoryID  = errors.New("edits: invalid history id")
	errInvalidUserID     = errors.New("edits: invalid user id")
	errInvalidEntityRef  = errors.New("edits: invalid entity reference")
	errInvalidField      = errors.New("edits: invalid field")
	errInvalidVoteValue  = errors.New("edits: vote value must be +1 or -1")
)

func validateIdentifier(rawInput string, sentinel error) (string, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", sentinel)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", sentinel, maxIdentifierLength)
	}
	return trimmed, nil
}

// ProposalID identifies an edit proposal.
type ProposalID string

// NewProposalID validates raw input and returns a ProposalID.
func NewProposalID(rawInput string) (ProposalID, error) {
	value, err := validateIdentifier(rawInput, errInvalidProposalID)
	if err != nil {
		return "", err
	}
	return ProposalID(value), nil
}

// String returns the underlying identifier.
func (id ProposalID) String() string {
	return string(id)
}

// HistoryID identifies a history entry.
type HistoryID string

// NewHistoryID validates raw input and returns a HistoryID.
func NewHistoryID(rawInput string) (HistoryID, error) {
	value, err := validateIdentifier(rawInput, errInvalidHistoryID)
	if err != nil {
		return "", err
	}
	return HistoryID(value), nil
}

// String returns the underlying identifier.
func (id HistoryID) String() string {
	return string(id)
}

// UserID identifies an authenticated user. The zero value means anonymous.
type UserID string

// NewUserID validates raw input and returns a UserID.
func NewUserID(rawInput string) (UserID, error) {
	value, err := validateIdentifier(rawInput, errInvalidUserID)
	if err != nil {
		return "", err
	}
	return UserID(value), nil
}

// String returns the underlying identifier.
func (id UserID) String() string {
	return string(id)
}

// Actor is the identity performing an operation, as supplied by the identity provider.
type Actor struct {
	UserID      UserID
	DisplayName string
}

// Anonymous reports whether the actor carries no user identifier.
func (actor Actor) Anonymous() bool {
	return strings.TrimSpace(actor.UserID.String()) == ""
}

// EntityRef points at the shared record a proposal edits.
type EntityRef struct {
	Collection string
	EntityID   string
}

// NewEntityRef validates both parts of an entity reference.
func NewEntityRef(collection, entityID string) (EntityRef, error) {
	validCollection, err := validateIdentifier(collection, errInvalidEntityRef)
	if err != nil {
		return EntityRef{}, fmt.Errorf("collection: %w", err)
	}
	validEntityID, err := validateIdentifier(entityID, errInvalidEntityRef)
	if err != nil {
		return EntityRef{}, fmt.Errorf("entity id: %w", err)
	}
	return EntityRef{Collection: validCollection, EntityID: validEntityID}, nil
}

// Key returns a stable "collection/entityId" string for topics and logs.
func (ref EntityRef) Key() string {
	return ref.Collection + "/" + ref.EntityID
}

// VoteValue is a single user's vote. VoteNone means the user has not voted.
type VoteValue int

const (
	VoteNone VoteValue = 0
	VoteUp   VoteValue = 1
	VoteDown VoteValue = -1
)

// NewVoteValue accepts +1 or -1.
func NewVoteValue(raw int) (VoteValue, error) {
	switch VoteValue(raw) {
	case VoteUp, VoteDown:
		return VoteValue(raw), nil
	default:
		return VoteNone, fmt.Errorf("%w: %d", errInvalidVoteValue, raw)
	}
}

// Int exposes the raw vote value.
func (value VoteValue) Int() int {
	return int(value)
}

// Citation is advisory supporting material attached to a proposal.
type Citation struct {
	Source string
	Quote  string
}

// EditProposal is a suggested change to one field of a shared record.
type EditProposal struct {
	ProposalID        string  `gorm:"column:proposal_id;primaryKey;size:190;not null"`
	Collection        string  `gorm:"column:collection;size:190;not null;index:idx_proposals_entity,priority:1"`
	EntityID          string  `gorm:"column:entity_id;size:190;not null;index:idx_proposals_entity,priority:2"`
	Field             string  `gorm:"column:field;size:190;not null"`
	OldValue          string  `gorm:"column:old_value;type:text;not null"`
	NewValue          string  `gorm:"column:new_value;type:text;not null"`
	AuthorID          string  `gorm:"column:author_id;size:190;not null;index:idx_proposals_author"`
	AuthorName        string  `gorm:"column:author_name;size:320;not null"`
	CitationSource    *string `gorm:"column:citation_source;size:512"`
	CitationQuote     *string `gorm:"column:citation_quote;type:text"`
	Status            Status  `gorm:"column:status;size:16;not null;index:idx_proposals_entity,priority:3"`
	Upvotes           int64   `gorm:"column:upvotes;not null"`
	Downvotes         int64   `gorm:"column:downvotes;not null"`
	CreatedAtSeconds  int64   `gorm:"column:created_at_s;not null"`
	ResolvedBy        *string `gorm:"column:resolved_by;size:190"`
	ResolvedAtSeconds *int64  `gorm:"column:resolved_at_s"`
	RejectReason      *string `gorm:"column:reject_reason;type:text"`
	IsRevert          bool    `gorm:"column:is_revert;not null"`
	RevertedHistoryID *string `gorm:"column:reverted_history_id;size:190"`
}

// TableName provides the explicit table binding for GORM.
func (EditProposal) TableName() string {
	return "edit_proposals"
}

// NetScore is the single source of truth for a proposal's community score.
func (proposal EditProposal) NetScore() int64 {
	return proposal.Upvotes - proposal.Downvotes
}

// EntityRef returns the targeted record.
func (proposal EditProposal) EntityRef() EntityRef {
	return EntityRef{Collection: proposal.Collection, EntityID: proposal.EntityID}
}

// Citation returns the attached citation, if any.
func (proposal EditProposal) Citation() *Citation {
	if proposal.CitationSource == nil {
		return nil
	}
	citation := &Citation{Source: *proposal.CitationSource}
	if proposal.CitationQuote != nil {
		citation.Quote = *proposal.CitationQuote
	}
	return citation
}

// VoteRecord is the per-user vote document. At most one row exists per (proposal, user).
type VoteRecord struct {
	ProposalID    string `gorm:"column:proposal_id;primaryKey;size:190;not null"`
	UserID        string `gorm:"column:user_id;primaryKey;size:190;not null"`
	Value         int    `gorm:"column:value;not null"`
	CastAtSeconds int64  `gorm:"column:cast_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (VoteRecord) TableName() string {
	return "edit_votes"
}

// HistoryEntry records a merged change. Rows are only ever inserted.
type HistoryEntry struct {
	Sequence        int64  `gorm:"column:sequence;primaryKey;autoIncrement"`
	HistoryID       string `gorm:"column:history_id;size:190;not null;uniqueIndex:idx_history_id"`
	ProposalID      string `gorm:"column:proposal_id;size:190;not null;uniqueIndex:idx_history_proposal"`
	Collection      string `gorm:"column:collection;size:190;not null;index:idx_history_entity,priority:1"`
	EntityID        string `gorm:"column:entity_id;size:190;not null;index:idx_history_entity,priority:2"`
	Field           string `gorm:"column:field;size:190;not null"`
	OldValue        string `gorm:"column:old_value;type:text;not null"`
	NewValue        string `gorm:"column:new_value;type:text;not null"`
	AuthorID        string `gorm:"column:author_id;size:190;not null"`
	ApprovedBy      string `gorm:"column:approved_by;size:190;not null"`
	MergedAtSeconds int64  `gorm:"column:merged_at_s;not null;index:idx_history_entity,priority:3"`
}

// TableName provides the explicit table binding for GORM.
func (HistoryEntry) TableName() string {
	return "edit_history"
}

// EntityRef returns the record the merged change applied to.
func (entry HistoryEntry) EntityRef() EntityRef {
	return EntityRef{Collection: entry.Collection, EntityID: entry.EntityID}
}

// Models lists every table owned by this package, in migration order.
func Models() []any {
	return []any{&EditProposal{}, &VoteRecord{}, &HistoryEntry{}}
}
