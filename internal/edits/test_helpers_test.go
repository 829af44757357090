package edits

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type staticIDGenerator struct {
	mu    sync.Mutex
	ids   []string
	index int
}

func (g *staticIDGenerator) NewID() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.index >= len(g.ids) {
		return "", errors.New("exhausted ids")
	}
	id := g.ids[g.index]
	g.index++
	return id, nil
}

func generatedIDs(prefix string, count int) []string {
	ids := make([]string, count)
	for index := range ids {
		ids[index] = fmt.Sprintf("%s-%03d", prefix, index+1)
	}
	return ids
}

type testClock struct {
	mu      sync.Mutex
	current time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

func (c *testClock) Advance(step time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = c.current.Add(step)
}

type stubAuthorizer struct {
	mu         sync.Mutex
	moderators map[UserID]bool
	err        error
	calls      int
}

func (a *stubAuthorizer) CanModerate(_ context.Context, actorID UserID, _ EntityRef) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls++
	if a.err != nil {
		return false, a.err
	}
	return a.moderators[actorID], nil
}

type recordingSink struct {
	mu     sync.Mutex
	events []ProposalEvent
}

func (s *recordingSink) PublishProposalEvent(event ProposalEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
}

func (s *recordingSink) types() []EventType {
	s.mu.Lock()
	defer s.mu.Unlock()
	types := make([]EventType, 0, len(s.events))
	for _, event := range s.events {
		types = append(types, event.Type)
	}
	return types
}

type testFixture struct {
	service    *Service
	db         *gorm.DB
	clock      *testClock
	authorizer *stubAuthorizer
	events     *recordingSink
}

type fixtureOption func(*ServiceConfig)

func withThreshold(threshold int64) fixtureOption {
	return func(cfg *ServiceConfig) {
		cfg.AutoApproveThreshold = threshold
	}
}

func withLogger(logger *zap.Logger) fixtureOption {
	return func(cfg *ServiceConfig) {
		cfg.Logger = logger
	}
}

func newTestDatabase(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:edits_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() {
		_ = sqlDB.Close()
	})
	if err := db.AutoMigrate(Models()...); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return db
}

func newTestFixture(t *testing.T, ids []string, options ...fixtureOption) testFixture {
	t.Helper()

	db := newTestDatabase(t)
	clock := &testClock{current: time.Unix(1700000000, 0).UTC()}
	authorizer := &stubAuthorizer{moderators: map[UserID]bool{"moderator-1": true, "moderator-2": true}}
	events := &recordingSink{}

	cfg := ServiceConfig{
		Database:   db,
		Clock:      clock.Now,
		IDProvider: &staticIDGenerator{ids: ids},
		Authorizer: authorizer,
		Events:     events,
	}
	for _, option := range options {
		option(&cfg)
	}

	service, err := NewService(cfg)
	if err != nil {
		t.Fatalf("failed to construct edits service: %v", err)
	}
	return testFixture{service: service, db: db, clock: clock, authorizer: authorizer, events: events}
}

func mustUserID(t *testing.T, value string) UserID {
	t.Helper()
	id, err := NewUserID(value)
	if err != nil {
		t.Fatalf("unexpected user id error: %v", err)
	}
	return id
}

func mustEntityRef(t *testing.T, collection, entityID string) EntityRef {
	t.Helper()
	ref, err := NewEntityRef(collection, entityID)
	if err != nil {
		t.Fatalf("unexpected entity ref error: %v", err)
	}
	return ref
}

func actorFor(userID string) Actor {
	return Actor{UserID: UserID(userID), DisplayName: userID}
}

func mustSubmit(t *testing.T, service *Service, request SubmitRequest) EditProposal {
	t.Helper()
	proposal, err := service.SubmitEdit(context.Background(), request)
	if err != nil {
		t.Fatalf("unexpected submit error: %v", err)
	}
	return proposal
}

func zeusRequest(t *testing.T) SubmitRequest {
	t.Helper()
	return SubmitRequest{
		Entity:   mustEntityRef(t, "deities", "zeus"),
		Field:    "description",
		OldValue: "King of the gods.",
		NewValue: "King of the Olympian gods.",
		Author:   actorFor("contributor-1"),
	}
}

func mustVote(t *testing.T, service *Service, proposalID string, voter string, value VoteValue) VoteResult {
	t.Helper()
	result, err := service.CastVote(context.Background(), ProposalID(proposalID), UserID(voter), value)
	if err != nil {
		t.Fatalf("unexpected vote error from %s: %v", voter, err)
	}
	return result
}

func countHistory(t *testing.T, db *gorm.DB, proposalID string) int64 {
	t.Helper()
	var count int64
	if err := db.Model(&HistoryEntry{}).Where("proposal_id = ?", proposalID).Count(&count).Error; err != nil {
		t.Fatalf("failed to count history: %v", err)
	}
	return count
}

func countVotes(t *testing.T, db *gorm.DB, proposalID string) int64 {
	t.Helper()
	var count int64
	if err := db.Model(&VoteRecord{}).Where("proposal_id = ?", proposalID).Count(&count).Error; err != nil {
		t.Fatalf("failed to count votes: %v", err)
	}
	return count
}

func assertErrorKind(t *testing.T, err error, kind error) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %v, got nil", kind)
	}
	if !errors.Is(err, kind) {
		t.Fatalf("expected %v, got %v", kind, err)
	}
}
