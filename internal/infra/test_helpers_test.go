package infra

import (
	"context"
	"sync"

	"github.com/eliteGoblin/focusd/comp_ctl/internal/domain"
)

// mockExecutor is a test double for domain.CommandExecutor
type mockExecutor struct {
	mu       sync.Mutex
	results  map[string]*domain.CommandResult
	err      error
	commands []string
}

func newMockExecutor() *mockExecutor {
	return &mockExecutor{results: make(map[string]*domain.CommandResult)}
}

func (m *mockExecutor) Exec(ctx context.Context, command string) (*domain.CommandResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.commands = append(m.commands, command)
	if m.err != nil {
		return nil, m.err
	}
	if r, ok := m.results[command]; ok {
		return r, nil
	}
	return &domain.CommandResult{ExitCode: 127, Stderr: "not found"}, nil
}

func (m *mockExecutor) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.commands)
}

// Ensure mockExecutor implements domain.CommandExecutor
var _ domain.CommandExecutor = (*mockExecutor)(nil)
