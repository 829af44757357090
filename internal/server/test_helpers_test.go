package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/gravity-edits/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/gravity-edits/backend/internal/edits"
	"github.com/MarcoPoloResearchLab/gravity-edits/backend/internal/users"
	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const testSigningSecret = "test-signing-secret"

type testServer struct {
	server     *httptest.Server
	issuer     *auth.SessionIssuer
	dispatcher *RealtimeDispatcher
	identities *users.Service
	edits      *edits.Service
}

func newTestDatabase(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:server_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
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
	models := append(edits.Models(), users.Models()...)
	if err := db.AutoMigrate(models...); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return db
}

func newTestServer(t *testing.T, threshold int64) testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := newTestDatabase(t)
	identities, err := users.NewService(users.ServiceConfig{Database: db})
	if err != nil {
		t.Fatalf("failed to construct users service: %v", err)
	}
	dispatcher := NewRealtimeDispatcher()
	editsService, err := edits.NewService(edits.ServiceConfig{
		Database:              db,
		IDProvider:            edits.NewUUIDProvider(),
		Authorizer:            identities,
		Events:                dispatcher,
		AutoApproveThreshold:  threshold,
		MinRejectReasonLength: 10,
	})
	if err != nil {
		t.Fatalf("failed to construct edits service: %v", err)
	}
	validator, err := auth.NewSessionValidator(auth.SessionValidatorConfig{
		SigningSecret: []byte(testSigningSecret),
		CookieName:    "app_session",
	})
	if err != nil {
		t.Fatalf("failed to construct validator: %v", err)
	}
	issuer, err := auth.NewSessionIssuer(auth.SessionIssuerConfig{SigningSecret: []byte(testSigningSecret)})
	if err != nil {
		t.Fatalf("failed to construct issuer: %v", err)
	}

	handler, err := NewHTTPHandler(Dependencies{
		SessionValidator: validator,
		Identities:       identities,
		EditsService:     editsService,
		Realtime:         dispatcher,
		StreamHeartbeat:  time.Hour,
		Logger:           zap.NewNop(),
	})
	if err != nil {
		t.Fatalf("failed to construct http handler: %v", err)
	}

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return testServer{server: server, issuer: issuer, dispatcher: dispatcher, identities: identities, edits: editsService}
}

func (s testServer) token(t *testing.T, userID string, roles ...string) string {
	t.Helper()
	token, _, err := s.issuer.Issue(auth.SessionIdentity{UserID: userID, DisplayName: "User " + userID, Roles: roles})
	if err != nil {
		t.Fatalf("failed to issue token: %v", err)
	}
	return token
}

// do sends a JSON request and decodes the JSON response into out when out is non-nil.
func (s testServer) do(t *testing.T, method, path, token string, body any, out any) int {
	t.Helper()

	var reader io.Reader = http.NoBody
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to encode body: %v", err)
		}
		reader = bytes.NewReader(encoded)
	}
	request, err := http.NewRequest(method, s.server.URL+path, reader)
	if err != nil {
		t.Fatalf("failed to build request: %v", err)
	}
	if body != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		request.Header.Set("Authorization", "Bearer "+token)
	}
	response, err := http.DefaultClient.Do(request)
	if err != nil {
		t.Fatalf("%s %s failed: %v", method, path, err)
	}
	defer response.Body.Close()

	if out != nil {
		if err := json.NewDecoder(response.Body).Decode(out); err != nil {
			t.Fatalf("failed to decode %s %s response: %v", method, path, err)
		}
	}
	return response.StatusCode
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func (s testServer) submitZeus(t *testing.T, token string) proposalPayload {
	t.Helper()
	var created proposalPayload
	status := s.do(t, http.MethodPost, "/proposals", token, submitProposalRequest{
		Collection: "deities",
		EntityID:   "zeus",
		Field:      "description",
		OldValue:   "King of the gods.",
		NewValue:   "King of the gods and ruler of Mount Olympus.",
		Citation:   &citationPayload{Source: "Theogony", Quote: "Zeus, father of gods and men"},
	}, &created)
	if status != http.StatusCreated {
		t.Fatalf("expected 201 from submit, got %d", status)
	}
	return created
}
