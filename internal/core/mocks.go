package core

import (
	"context"
	"sync"

	"batchexports/internal/types"
)

// MockAuthenticator is an Authenticator for tests. ResolveTokenFunc, when
// set, takes precedence over Actor and Err.
type MockAuthenticator struct {
	Actor            *types.Actor
	Err              error
	ResolveTokenFunc func(ctx context.Context, token string) (*types.Actor, error)

	mu    sync.Mutex
	Calls []string
}

func (m *MockAuthenticator) ResolveToken(ctx context.Context, token string) (*types.Actor, error) {
	m.mu.Lock()
	m.Calls = append(m.Calls, token)
	m.mu.Unlock()

	if m.ResolveTokenFunc != nil {
		return m.ResolveTokenFunc(ctx, token)
	}
	if m.Err != nil {
		return nil, m.Err
	}
	return m.Actor, nil
}

// StaticTeams is a TeamLookup over a fixed set of teams.
type StaticTeams map[int64]*types.Team

func (t StaticTeams) GetByID(_ context.Context, id int64) (*types.Team, error) {
	team, ok := t[id]
	if !ok {
		return nil, types.NewAppError(types.ErrCodeNotFoundTeam, "team not found", nil)
	}
	return team, nil
}
