package tutor

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Jean-snt/ZAITH-CHIPI/internal/domain"
	"github.com/Jean-snt/ZAITH-CHIPI/internal/oracle"
	"github.com/Jean-snt/ZAITH-CHIPI/internal/store"
)

// fakeOracle answers extraction with a fixed analysis and completions from a
// per-prompt table.
type fakeOracle struct {
	mu         sync.Mutex
	analysis   oracle.ErrorAnalysis
	extractErr error
	replies    map[string]string
	errs       map[string]error
	calls      []string
	prompts    map[string]oracle.Prompt
}

func newFakeOracle() *fakeOracle {
	return &fakeOracle{
		replies: map[string]string{
			oracle.PromptExplanation:   "El verbo concuerda con el sujeto.",
			oracle.PromptExercise:      "Nosotros ___ (tener) hambre.",
			oracle.PromptEvaluation:    "True",
			oracle.PromptReinforcement: "¡Muy bien!",
			oracle.PromptReExplain:     "Otra forma de verlo.",
			oracle.PromptConversation:  "¿Qué hiciste hoy?",
		},
		errs:    map[string]error{},
		prompts: map[string]oracle.Prompt{},
	}
}

func (f *fakeOracle) withError(correction, errType string) *fakeOracle {
	f.analysis = oracle.ErrorAnalysis{HasError: true}
	if correction != "" {
		f.analysis.SuggestedCorrection = &correction
	}
	if errType != "" {
		f.analysis.ErrorType = &errType
	}
	return f
}

func (f *fakeOracle) ExtractError(_ context.Context, _ string) (oracle.ErrorAnalysis, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, oracle.PromptExtraction)
	return f.analysis, f.extractErr
}

func (f *fakeOracle) Complete(_ context.Context, p oracle.Prompt) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, p.Name)
	f.prompts[p.Name] = p
	if err := f.errs[p.Name]; err != nil {
		return "", err
	}
	return f.replies[p.Name], nil
}

func (f *fakeOracle) callNames() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// countingRepo wraps a Repository and counts saves.
type countingRepo struct {
	store.Repository
	mu      sync.Mutex
	saves   int
	saveErr error
}

func (r *countingRepo) SaveState(ctx context.Context, userID string, state *domain.ConversationState) error {
	r.mu.Lock()
	r.saves++
	err := r.saveErr
	r.mu.Unlock()
	if err != nil {
		return err
	}
	return r.Repository.SaveState(ctx, userID, state)
}

var errBoom = errors.New("boom")

func testCatalog(t *testing.T) *Catalog {
	t.Helper()
	c, err := LoadCatalog("")
	require.NoError(t, err)
	return c
}

func newTestService(t *testing.T, o oracle.Oracle, flow Flow) (*Service, *countingRepo) {
	t.Helper()
	repo := &countingRepo{Repository: store.NewMemory()}
	orch := NewOrchestrator(o, testCatalog(t), flow, nil)
	return NewService(repo, orch, nil, nil), repo
}

func newTestRepo() store.Repository {
	return store.NewMemory()
}
