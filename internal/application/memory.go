package application

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"tomme-assistant/internal/domain"
)

// Memory holds the bounded conversation log, user preferences and access to the live
// application state. It is the only writer of history and preferences.
type Memory struct {
	capacity int
	store    MemoryStore
	apps     AppStateProvider
	clock    Clock
	logger   *slog.Logger

	mu      sync.RWMutex
	turns   []domain.ConversationTurn
	prefs   map[string]string
	version uint64

	saveMu sync.Mutex
	saved  uint64
}

func NewMemory(capacity int, store MemoryStore, apps AppStateProvider, clock Clock, logger *slog.Logger) *Memory {
	if capacity <= 0 {
		capacity = 50
	}
	return &Memory{
		capacity: capacity,
		store:    store,
		apps:     apps,
		clock:    clock,
		logger:   logger,
		prefs:    make(map[string]string),
	}
}

// Load restores history and preferences saved by a previous process.
func (m *Memory) Load(ctx context.Context) error {
	if m.store == nil {
		return nil
	}
	state, err := m.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("loading memory: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	turns := state.Turns
	if len(turns) > m.capacity {
		turns = turns[len(turns)-m.capacity:]
	}
	m.turns = append([]domain.ConversationTurn(nil), turns...)
	m.prefs = make(map[string]string, len(state.Preferences))
	for k, v := range state.Preferences {
		m.prefs[k] = v
	}

	m.logger.Info("memory loaded", "turns", len(m.turns), "preferences", len(m.prefs))
	return nil
}

// RecordTurn appends a turn, evicting the oldest when over capacity. It never fails;
// persistence errors are logged.
func (m *Memory) RecordTurn(turn domain.ConversationTurn) domain.ConversationTurn {
	if turn.ID == "" {
		turn.ID = uuid.NewString()
	}
	if turn.Timestamp.IsZero() {
		turn.Timestamp = m.clock.Now()
	}

	m.mu.Lock()
	m.turns = append(m.turns, turn)
	if over := len(m.turns) - m.capacity; over > 0 {
		m.turns = append([]domain.ConversationTurn(nil), m.turns[over:]...)
	}
	state, version := m.stateLocked()
	m.mu.Unlock()

	m.persist(state, version)
	return turn
}

// RecentTurns returns up to k of the newest turns, oldest first.
func (m *Memory) RecentTurns(k int) []domain.ConversationTurn {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if k <= 0 {
		return nil
	}
	if k > len(m.turns) {
		k = len(m.turns)
	}
	out := make([]domain.ConversationTurn, k)
	copy(out, m.turns[len(m.turns)-k:])
	return out
}

func (m *Memory) LastTurn() (domain.ConversationTurn, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.turns) == 0 {
		return domain.ConversationTurn{}, false
	}
	return m.turns[len(m.turns)-1], true
}

func (m *Memory) Preference(key string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.prefs[key]
	return v, ok
}

func (m *Memory) SetPreference(key, value string) {
	m.mu.Lock()
	if m.prefs[key] == value {
		m.mu.Unlock()
		return
	}
	m.prefs[key] = value
	state, version := m.stateLocked()
	m.mu.Unlock()

	m.persist(state, version)
}

// Snapshot builds a fresh view of the application. A failing provider yields an empty
// view rather than an error.
func (m *Memory) Snapshot(ctx context.Context) domain.ContextSnapshot {
	snap := domain.ContextSnapshot{
		Route:     domain.RouteHome,
		TimeOfDay: domain.TimeOfDayAt(m.clock.Now()),
	}
	if m.apps == nil {
		return snap
	}

	app, err := m.apps.AppState(ctx)
	if err != nil {
		m.logger.Warn("reading app state", "error", err)
		return snap
	}

	if app.Route != "" {
		snap.Route = app.Route
	}
	snap.CartSize = app.CartSize
	snap.Catalog = app.Catalog
	snap.Orders = app.Orders
	return snap
}

func (m *Memory) stateLocked() (domain.MemoryState, uint64) {
	m.version++
	state := domain.MemoryState{
		Turns:       make([]domain.ConversationTurn, len(m.turns)),
		Preferences: make(map[string]string, len(m.prefs)),
	}
	copy(state.Turns, m.turns)
	for k, v := range m.prefs {
		state.Preferences[k] = v
	}
	return state, m.version
}

// persist writes a state unless a newer one has already been saved.
func (m *Memory) persist(state domain.MemoryState, version uint64) {
	if m.store == nil {
		return
	}
	m.saveMu.Lock()
	defer m.saveMu.Unlock()
	if version <= m.saved {
		return
	}
	m.saved = version
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := m.store.Save(ctx, state); err != nil {
		m.logger.Error("saving memory", "error", err)
	}
}
