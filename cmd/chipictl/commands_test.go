package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Jean-snt/ZAITH-CHIPI/internal/domain"
	"github.com/Jean-snt/ZAITH-CHIPI/internal/identity"
)

func setTestEnv(t *testing.T) {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("STORAGE_BACKEND", "sqlite")
	t.Setenv("DB_PATH", filepath.Join(dir, "chipi.db"))
	t.Setenv("ORACLE_PROVIDER", "mock")
	t.Setenv("CONVERSATION_LOG_ENABLED", "false")
	t.Setenv("AUTH_JWT_SECRET", "")
	t.Setenv("TUTOR_EXERCISE_FLOW", "inline")
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := NewRootCmd()
	root.SetOut(&out)
	root.SetErr(&bytes.Buffer{})
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestTurnThenState(t *testing.T) {
	setTestEnv(t)

	out, err := run(t, "turn", "--user", "cli-user", "--message", "yo tiene un perro")
	require.NoError(t, err)
	assert.NotEmpty(t, strings.TrimSpace(out))

	out, err = run(t, "state", "--user", "cli-user")
	require.NoError(t, err)

	var state domain.ConversationState
	require.NoError(t, json.Unmarshal([]byte(out), &state))
	require.Len(t, state.History, 2)
	assert.Equal(t, "yo tiene un perro", state.History[0].Text)
	assert.Equal(t, domain.SpeakerBot, state.History[1].Speaker)
}

func TestTurnRequiresFlags(t *testing.T) {
	setTestEnv(t)

	_, err := run(t, "turn", "--user", "cli-user")
	require.Error(t, err)
}

func TestSchemaPrintsRequiredFields(t *testing.T) {
	out, err := run(t, "schema")
	require.NoError(t, err)

	var schema map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &schema))
	props, ok := schema["properties"].(map[string]any)
	require.True(t, ok, "schema has no properties: %s", out)
	assert.Contains(t, props, "has_error")
}

func TestTokenRoundTrip(t *testing.T) {
	t.Setenv("AUTH_JWT_SECRET", "test-secret")

	out, err := run(t, "token", "--user", "ana", "--name", "Ana")
	require.NoError(t, err)

	claims, err := identity.ParseToken("test-secret", strings.TrimSpace(out))
	require.NoError(t, err)
	assert.Equal(t, "ana", claims.Subject)
	assert.Equal(t, "Ana", claims.Name)
}

func TestTokenWithoutSecretFails(t *testing.T) {
	t.Setenv("AUTH_JWT_SECRET", "")

	_, err := run(t, "token", "--user", "ana")
	require.Error(t, err)
}

type failingCloser struct{ err error }

func (f failingCloser) Close() error { return f.err }

func TestCloseAppReportsError(t *testing.T) {
	var stderr bytes.Buffer
	closeApp(&stderr, failingCloser{err: errors.New("disk gone")})
	assert.Contains(t, stderr.String(), "Failed to close dependencies")
	assert.Contains(t, stderr.String(), "disk gone")

	stderr.Reset()
	closeApp(&stderr, failingCloser{})
	assert.Empty(t, stderr.String())
}
