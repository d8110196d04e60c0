// ABOUTME: End-to-end scenario tests for auth using real SQLite
// ABOUTME: Validates register, login and request authentication without mocking

package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/2389/mulchat-gateway/internal/store"
)

// createTestStore creates a real SQLite store in a temp directory.
func createTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()

	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to create SQLite store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// scenarioTestSecret is a 32-byte secret that meets MinSecretLength requirement.
var scenarioTestSecret = []byte("scenario-test-secret-32-bytes!!!")

func authenticateWith(t *testing.T, s *store.SQLiteStore, v TokenVerifier, token string) (*Identity, string) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return Authenticate(req, s, v)
}

func TestScenario_RegisterLoginAuthenticate(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	hash, err := HashPassword("hunter22")
	if err != nil {
		t.Fatalf("HashPassword() error = %v", err)
	}
	user := &store.User{Name: "Alice", Username: "alice", Email: "Alice@Example.com", PasswordHash: hash}
	if err := s.CreateUser(ctx, user); err != nil {
		t.Fatalf("failed to create user: %v", err)
	}

	// Login looks the user up by email, case-insensitively.
	found, err := s.GetUserByLogin(ctx, "alice@example.com")
	if err != nil {
		t.Fatalf("GetUserByLogin() error = %v", err)
	}
	if err := CheckPassword(found.PasswordHash, "hunter22"); err != nil {
		t.Fatalf("CheckPassword() error = %v", err)
	}
	if err := CheckPassword(found.PasswordHash, "wrong-password"); err != ErrInvalidCredentials {
		t.Errorf("CheckPassword(wrong) = %v, want ErrInvalidCredentials", err)
	}

	verifier, err := NewJWTVerifier(scenarioTestSecret)
	if err != nil {
		t.Fatalf("NewJWTVerifier() error = %v", err)
	}
	token, err := verifier.Generate(found.ID, time.Hour)
	if err != nil {
		t.Fatalf("failed to generate token: %v", err)
	}

	id, errMsg := authenticateWith(t, s, verifier, token)
	if errMsg != "" {
		t.Fatalf("Authenticate() error = %q", errMsg)
	}
	if id.UserID != user.ID {
		t.Errorf("UserID = %q, want %q", id.UserID, user.ID)
	}
	if id.Username != "alice" {
		t.Errorf("Username = %q, want %q", id.Username, "alice")
	}
}

func TestScenario_ExpiredTokenRejected(t *testing.T) {
	s := createTestStore(t)
	user := &store.User{Name: "Bob", Username: "bob", Email: "bob@example.com"}
	if err := s.CreateUser(context.Background(), user); err != nil {
		t.Fatalf("failed to create user: %v", err)
	}

	verifier, err := NewJWTVerifier(scenarioTestSecret)
	if err != nil {
		t.Fatalf("NewJWTVerifier() error = %v", err)
	}
	token, err := verifier.Generate(user.ID, -time.Hour) // Expired 1 hour ago
	if err != nil {
		t.Fatalf("failed to generate token: %v", err)
	}

	if _, errMsg := authenticateWith(t, s, verifier, token); errMsg != "invalid token" {
		t.Errorf("errMsg = %q, want %q", errMsg, "invalid token")
	}
}

func TestScenario_NonexistentUser(t *testing.T) {
	s := createTestStore(t)

	verifier, err := NewJWTVerifier(scenarioTestSecret)
	if err != nil {
		t.Fatalf("NewJWTVerifier() error = %v", err)
	}
	token, err := verifier.Generate("nonexistent-user-id", time.Hour)
	if err != nil {
		t.Fatalf("failed to generate token: %v", err)
	}

	if _, errMsg := authenticateWith(t, s, verifier, token); errMsg != "user not found" {
		t.Errorf("errMsg = %q, want %q", errMsg, "user not found")
	}
}

func TestScenario_BotCannotLogIn(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	bot := &store.User{ID: "677d9c66e765432101234567", Name: "Mul Chat Bot", Username: "mulchatbot", Email: "mulchatbot@bot.mulchat.local"}
	if _, err := s.EnsureUser(ctx, bot); err != nil {
		t.Fatalf("EnsureUser() error = %v", err)
	}

	found, err := s.GetUserByLogin(ctx, "mulchatbot@bot.mulchat.local")
	if err != nil {
		t.Fatalf("GetUserByLogin() error = %v", err)
	}
	if err := CheckPassword(found.PasswordHash, ""); err != ErrInvalidCredentials {
		t.Errorf("CheckPassword(bot) = %v, want ErrInvalidCredentials", err)
	}
}
