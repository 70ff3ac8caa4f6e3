package application

import (
	"context"

	"tomme-assistant/internal/domain"
)

type AppStateProvider interface {
	AppState(ctx context.Context) (domain.AppState, error)
}

// Navigator receives navigation actions. It is fire-and-forget.
type Navigator interface {
	Navigate(route domain.Route)
}

type MemoryStore interface {
	Load(ctx context.Context) (domain.MemoryState, error)
	Save(ctx context.Context, state domain.MemoryState) error
}
