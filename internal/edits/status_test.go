package edits

import (
	"errors"
	"testing"
)

func TestParseStatus(t *testing.T) {
	tests := []struct {
		input     string
		expected  Status
		expectErr bool
	}{
		{input: "pending", expected: StatusPending},
		{input: " Approved ", expected: StatusApproved},
		{input: "REJECTED", expected: StatusRejected},
		{input: "merged", expectErr: true},
		{input: "", expectErr: true},
	}

	for _, testCase := range tests {
		status, err := ParseStatus(testCase.input)
		if testCase.expectErr {
			if !errors.Is(err, errUnknownStatus) {
				t.Fatalf("expected unknown status error for %q, got %v", testCase.input, err)
			}
			continue
		}
		if err != nil {
			t.Fatalf("unexpected error for %q: %v", testCase.input, err)
		}
		if status != testCase.expected {
			t.Fatalf("expected %s for %q, got %s", testCase.expected, testCase.input, status)
		}
	}
}

func TestStatusTransitionsOnlyLeavePending(t *testing.T) {
	approved, err := StatusPending.Approve()
	if err != nil || approved != StatusApproved {
		t.Fatalf("expected pending to approve, got %s (%v)", approved, err)
	}
	rejected, err := StatusPending.Reject()
	if err != nil || rejected != StatusRejected {
		t.Fatalf("expected pending to reject, got %s (%v)", rejected, err)
	}

	for _, terminal := range []Status{StatusApproved, StatusRejected} {
		if !terminal.IsTerminal() {
			t.Fatalf("expected %s to be terminal", terminal)
		}
		if terminal.AcceptsVotes() {
			t.Fatalf("expected %s to refuse votes", terminal)
		}
		if next, err := terminal.Approve(); !errors.Is(err, errProposalNotPending) || next != terminal {
			t.Fatalf("expected approve from %s to fail and keep status, got %s (%v)", terminal, next, err)
		}
		if next, err := terminal.Reject(); !errors.Is(err, errProposalNotPending) || next != terminal {
			t.Fatalf("expected reject from %s to fail and keep status, got %s (%v)", terminal, next, err)
		}
	}

	if StatusPending.IsTerminal() || !StatusPending.AcceptsVotes() {
		t.Fatalf("pending must accept votes and not be terminal")
	}
}
