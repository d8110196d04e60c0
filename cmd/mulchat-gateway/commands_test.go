// ABOUTME: Tests for the CLI commands
// ABOUTME: Runs the cobra tree against temp config files and databases

package main

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/mulchat-gateway/internal/auth"
	"github.com/2389/mulchat-gateway/internal/config"
	"github.com/2389/mulchat-gateway/internal/store"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func init() {
	color.NoColor = true
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func writeTestConfig(t *testing.T, httpAddr string) (string, string) {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "chat.db")
	path := filepath.Join(dir, "gateway.yaml")
	content := fmt.Sprintf(`
server:
  http_addr: %q
database:
  path: %q
auth:
  jwt_secret: %q
ai:
  provider: none
`, httpAddr, dbPath, testSecret)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path, dbPath
}

func TestVersion(t *testing.T) {
	out, err := run(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "dev\n", out)
}

func TestInit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mulchat", "gateway.yaml")

	out, err := run(t, "init", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Created config")
	assert.FileExists(t, path)

	_, err = run(t, "init", "--config", path)
	assert.Error(t, err)

	_, err = run(t, "init", "--config", path, "--force")
	assert.NoError(t, err)
}

func TestBootstrapBotAndToken(t *testing.T) {
	path, dbPath := writeTestConfig(t, "127.0.0.1:0")

	out, err := run(t, "bootstrap-bot", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Created bot user")

	out, err = run(t, "bootstrap-bot", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "already exists")

	s, err := store.NewSQLiteStore(dbPath)
	require.NoError(t, err)
	require.NoError(t, s.CreateUser(t.Context(), &store.User{
		ID: "u-alice", Name: "Alice", Username: "alice", Email: "alice@example.com",
	}))
	require.NoError(t, s.Close())

	out, err = run(t, "token", "--config", path, "--user", "alice")
	require.NoError(t, err)

	verifier, err := auth.NewJWTVerifier([]byte(testSecret))
	require.NoError(t, err)
	userID, err := verifier.Verify(strings.TrimSpace(out))
	require.NoError(t, err)
	assert.Equal(t, "u-alice", userID)

	_, err = run(t, "token", "--config", path, "--user", "nobody")
	assert.Error(t, err)

	_, err = run(t, "token", "--config", path)
	assert.Error(t, err, "--user is required")
}

func TestHealth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/health/ready", r.URL.Path)
		_, _ = w.Write([]byte(`{"status":"ready"}`))
	}))
	defer srv.Close()

	path, _ := writeTestConfig(t, strings.TrimPrefix(srv.URL, "http://"))
	out, err := run(t, "health", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "ready")
}

func TestLocalAddr(t *testing.T) {
	assert.Equal(t, "127.0.0.1:3000", localAddr("0.0.0.0:3000"))
	assert.Equal(t, "127.0.0.1:3000", localAddr(":3000"))
	assert.Equal(t, "10.0.0.1:3000", localAddr("10.0.0.1:3000"))
}
