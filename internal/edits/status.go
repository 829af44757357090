package edits

import (
	"errors"
	"fmt"
	"strings"
)

// Status is the moderation state of a proposal.
type Status string

const (
	// StatusPending is the initial state; the proposal accepts votes and moderation.
	StatusPending Status = "pending"
	// StatusApproved is terminal; the change was merged into the record.
	StatusApproved Status = "approved"
	// StatusRejected is terminal; the change was declined.
	StatusRejected Status = "rejected"
)

var (
	errUnknownStatus      = errors.New("edits: unknown status")
	errProposalNotPending = errors.New("edits: proposal is not pending")
)

// ParseStatus accepts the lowercase status names.
func ParseStatus(rawInput string) (Status, error) {
	switch Status(strings.ToLower(strings.TrimSpace(rawInput))) {
	case StatusPending:
		return StatusPending, nil
	case StatusApproved:
		return StatusApproved, nil
	case StatusRejected:
		return StatusRejected, nil
	default:
		return "", fmt.Errorf("%w: %q", errUnknownStatus, rawInput)
	}
}

// String returns the status name.
func (status Status) String() string {
	return string(status)
}

// IsTerminal reports whether no further transition may leave this status.
func (status Status) IsTerminal() bool {
	return status == StatusApproved || status == StatusRejected
}

// Approve returns the status reached by merging from the receiver.
func (status Status) Approve() (Status, error) {
	if status != StatusPending {
		return status, fmt.Errorf("%w: cannot approve from %s", errProposalNotPending, status)
	}
	return StatusApproved, nil
}

// Reject returns the status reached by rejecting from the receiver.
func (status Status) Reject() (Status, error) {
	if status != StatusPending {
		return status, fmt.Errorf("%w: cannot reject from %s", errProposalNotPending, status)
	}
	return StatusRejected, nil
}

// AcceptsVotes reports whether votes may still change the score.
func (status Status) AcceptsVotes() bool {
	return status == StatusPending
}
