package app

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Jean-snt/ZAITH-CHIPI/internal/config"
	"github.com/Jean-snt/ZAITH-CHIPI/internal/domain"
	"github.com/Jean-snt/ZAITH-CHIPI/internal/store"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	return &config.Config{
		Port:           "0",
		StorageBackend: config.StorageSQLite,
		DBPath:         filepath.Join(dir, "chipi.db"),
		ExerciseFlow:   config.FlowInline,
		Oracle: config.OracleConfig{
			Provider:   config.OracleMock,
			Timeout:    time.Second,
			MaxRetries: 0,
		},
		Auth:           config.AuthConfig{AllowAnonymous: true},
		RateLimit:      config.RateLimitConfig{RequestsPerWindow: 10, WindowDuration: time.Minute},
		MaxRequestBody: 1 << 16,
		ConversationLog: config.ConversationLogConfig{
			Enabled:   true,
			Dir:       filepath.Join(dir, "logs"),
			QueueSize: 10,
		},
	}
}

func TestBuildRunsTurnEndToEnd(t *testing.T) {
	cfg := testConfig(t)
	a, err := Build(context.Background(), cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	out, err := a.Service.HandleTurn(context.Background(), "user-1", "yo tiene hambre")
	require.NoError(t, err)
	assert.NotEmpty(t, out.Reply)

	state, err := a.Repo.GetOrCreateState(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Len(t, state.History, 2)
	assert.Equal(t, domain.SpeakerUser, state.History[0].Speaker)
}

func TestBuildDeferredFlow(t *testing.T) {
	cfg := testConfig(t)
	cfg.ExerciseFlow = config.FlowDeferred
	cfg.StorageBackend = config.StorageMemory

	a, err := Build(context.Background(), cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	assert.Equal(t, "deferred", string(a.Service.Flow()))
}

func TestBuildRejectsBadPromptCatalog(t *testing.T) {
	cfg := testConfig(t)
	cfg.PromptsPath = filepath.Join(t.TempDir(), "missing.yaml")

	_, err := Build(context.Background(), cfg, nil)
	require.Error(t, err)
}

func TestOpenStoreSelectsBackend(t *testing.T) {
	cfg := testConfig(t)

	repo, err := OpenStore(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	assert.IsType(t, &store.SQLiteStore{}, repo)

	cfg.StorageBackend = config.StorageMemory
	mem, err := OpenStore(context.Background(), cfg)
	require.NoError(t, err)
	assert.IsType(t, &store.MemoryStore{}, mem)

	cfg.StorageBackend = "postgres"
	_, err = OpenStore(context.Background(), cfg)
	require.Error(t, err)
}

func TestOpenBackendUnknownProvider(t *testing.T) {
	_, _, err := OpenBackend(context.Background(), config.OracleConfig{Provider: "nope"}, nil)
	require.Error(t, err)
}

func TestCloseJoinsErrorsInReverseOrder(t *testing.T) {
	var order []string
	a := &App{closers: []func() error{
		func() error { order = append(order, "first"); return errors.New("first failed") },
		func() error { order = append(order, "second"); return nil },
	}}

	err := a.Close()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "first failed")
	assert.Equal(t, []string{"second", "first"}, order)
	assert.NoError(t, a.Close())
}
