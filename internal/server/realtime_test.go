package server

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/gravity-edits/backend/internal/edits"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func zeusEvent(eventType edits.EventType) edits.ProposalEvent {
	return edits.ProposalEvent{
		Type: eventType,
		Proposal: edits.EditProposal{
			ProposalID: "proposal-1",
			Collection: "deities",
			EntityID:   "zeus",
			Field:      "description",
			Status:     edits.StatusPending,
			Upvotes:    4,
			Downvotes:  1,
		},
		OccurredAt: time.Unix(1700000000, 0).UTC(),
	}
}

func TestRealtimeDispatcherDeliversProposalEventsToTopic(t *testing.T) {
	dispatcher := NewRealtimeDispatcher()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream, cleanup := dispatcher.Subscribe(ctx, "deities/zeus")
	defer cleanup()

	dispatcher.PublishProposalEvent(zeusEvent(edits.EventProposalVoted))

	select {
	case received := <-stream:
		if received.EventType != string(edits.EventProposalVoted) {
			t.Fatalf("expected event %s, got %s", edits.EventProposalVoted, received.EventType)
		}
		if received.ProposalID != "proposal-1" || received.NetScore != 3 || received.Status != "pending" {
			t.Fatalf("unexpected message %+v", received)
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("expected realtime message within deadline")
	}
}

func TestRealtimeDispatcherIsolatesTopics(t *testing.T) {
	dispatcher := NewRealtimeDispatcher()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	heraStream, cleanup := dispatcher.Subscribe(ctx, "deities/hera")
	defer cleanup()

	dispatcher.PublishProposalEvent(zeusEvent(edits.EventProposalCreated))

	select {
	case message := <-heraStream:
		t.Fatalf("unexpected message for other topic: %+v", message)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestRealtimeDispatcherDropsWhenSubscriberIsSlow(t *testing.T) {
	dispatcher := NewRealtimeDispatcher()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream, cleanup := dispatcher.Subscribe(ctx, "deities/zeus")
	defer cleanup()

	for index := 0; index < 40; index++ {
		dispatcher.PublishProposalEvent(zeusEvent(edits.EventProposalVoted))
	}
	if len(stream) != 16 {
		t.Fatalf("expected buffered messages to cap at 16, got %d", len(stream))
	}
}

func TestRealtimeDispatcherUnsubscribesOnContextCancel(t *testing.T) {
	dispatcher := NewRealtimeDispatcher()
	ctx, cancel := context.WithCancel(context.Background())

	_, _ = dispatcher.Subscribe(ctx, "deities/zeus")
	if dispatcher.SubscriberCount("deities/zeus") != 1 {
		t.Fatalf("expected one subscriber")
	}
	cancel()

	deadline := time.Now().Add(time.Second)
	for dispatcher.SubscriberCount("deities/zeus") != 0 {
		if time.Now().After(deadline) {
			t.Fatal("subscriber was not removed after cancel")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestRealtimeDispatcherFallsBackWhenRelayFails(t *testing.T) {
	dispatcher := NewRealtimeDispatcher()
	core, logs := observer.New(zapcore.DebugLevel)
	dispatcher.UseRelay(failingRelay{}, zap.New(core))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stream, cleanup := dispatcher.Subscribe(ctx, "deities/zeus")
	defer cleanup()

	dispatcher.PublishProposalEvent(zeusEvent(edits.EventProposalResolved))

	select {
	case received := <-stream:
		if received.EventType != string(edits.EventProposalResolved) {
			t.Fatalf("unexpected event %s", received.EventType)
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("expected local delivery after relay failure")
	}
	if logs.FilterMessage("realtime relay failed, delivering locally").Len() != 1 {
		t.Fatalf("expected relay failure to be logged")
	}
}

type failingRelay struct{}

func (failingRelay) Relay(context.Context, RealtimeMessage) error {
	return errors.New("relay offline")
}

func TestRealtimeDispatcherDoesNotBlockOnSlowRelay(t *testing.T) {
	dispatcher := NewRealtimeDispatcher()
	relay := &blockingRelay{release: make(chan struct{}), relayed: make(chan RealtimeMessage, 1)}
	dispatcher.UseRelay(relay, zap.NewNop())

	returned := make(chan struct{})
	go func() {
		dispatcher.PublishProposalEvent(zeusEvent(edits.EventProposalVoted))
		close(returned)
	}()

	select {
	case <-returned:
	case <-time.After(100 * time.Millisecond):
		t.Fatal("publishing must not wait for the relay")
	}

	close(relay.release)
	select {
	case message := <-relay.relayed:
		if message.ProposalID != "proposal-1" || message.EventType != string(edits.EventProposalVoted) {
			t.Fatalf("unexpected relayed message %+v", message)
		}
	case <-time.After(time.Second):
		t.Fatal("expected the queued message to reach the relay")
	}
}

type blockingRelay struct {
	release chan struct{}
	relayed chan RealtimeMessage
}

func (r *blockingRelay) Relay(ctx context.Context, message RealtimeMessage) error {
	select {
	case <-r.release:
	case <-ctx.Done():
		return ctx.Err()
	}
	r.relayed <- message
	return nil
}
