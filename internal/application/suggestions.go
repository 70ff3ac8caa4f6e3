package application

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"tomme-assistant/internal/domain"
)

const maxSuggestions = 2

type SuggestionInput struct {
	TimeOfDay     domain.TimeOfDay
	Route         domain.Route
	CartSize      int
	PendingOrders int
	OrganicCount  int
}

type suggestionRule struct {
	id      string
	applies func(in SuggestionInput) bool
	text    func(in SuggestionInput) string
}

// Rules are in priority order; the first matches win.
var suggestionRules = []suggestionRule{
	{
		id:      "checkout",
		applies: func(in SuggestionInput) bool { return in.CartSize > 0 && in.Route != domain.RouteCart },
		text: func(in SuggestionInput) string {
			return fmt.Sprintf("You have %d %s in your cart. Say \"open my cart\" to check out.", in.CartSize, plural(in.CartSize, "item", "items"))
		},
	},
	{
		id:      "track-orders",
		applies: func(in SuggestionInput) bool { return in.PendingOrders > 0 && in.Route != domain.RouteOrders },
		text: func(in SuggestionInput) string {
			return fmt.Sprintf("%d %s on the way. Ask \"where is my order\".", in.PendingOrders, plural(in.PendingOrders, "order is", "orders are"))
		},
	},
	{
		id:      "morning-organic",
		applies: func(in SuggestionInput) bool { return in.TimeOfDay == domain.Morning && in.OrganicCount > 0 },
		text: func(in SuggestionInput) string {
			return fmt.Sprintf("Good morning! %d organic products are fresh today.", in.OrganicCount)
		},
	},
	{
		id:      "browse-organic",
		applies: func(in SuggestionInput) bool { return in.Route == domain.RouteProducts && in.OrganicCount > 0 },
		text: func(in SuggestionInput) string {
			return "Try saying \"show organic products\"."
		},
	},
	{
		id:      "evening-plan",
		applies: func(in SuggestionInput) bool { return in.TimeOfDay == domain.Evening || in.TimeOfDay == domain.Night },
		text: func(SuggestionInput) string {
			return "Planning tomorrow's meals? Say \"show products\"."
		},
	},
	{
		id:      "getting-started",
		applies: func(in SuggestionInput) bool { return in.Route == domain.RouteHome },
		text: func(SuggestionInput) string {
			return "Say \"Hey Tomme\" and ask me anything about the market."
		},
	},
}

type SnapshotSource interface {
	Snapshot(ctx context.Context) domain.ContextSnapshot
}

type PreferenceReader interface {
	Preference(key string) (string, bool)
}

// Suggester derives proactive prompts from the app snapshot on a fixed interval. It is
// independent of the conversation and only publishes to the UI.
type Suggester struct {
	source SnapshotSource
	prefs  PreferenceReader
	logger *slog.Logger

	mu     sync.RWMutex
	latest []string
}

func NewSuggester(source SnapshotSource, prefs PreferenceReader, logger *slog.Logger) *Suggester {
	return &Suggester{
		source: source,
		prefs:  prefs,
		logger: logger,
	}
}

func SuggestionInputFrom(s domain.ContextSnapshot) SuggestionInput {
	return SuggestionInput{
		TimeOfDay:     s.TimeOfDay,
		Route:         s.Route,
		CartSize:      s.CartSize,
		PendingOrders: s.Orders.Pending,
		OrganicCount:  s.Catalog.Organic,
	}
}

// Generate returns at most two suggestions, skipping rules the user suppressed.
func (s *Suggester) Generate(in SuggestionInput) []string {
	out := make([]string, 0, maxSuggestions)
	for _, rule := range suggestionRules {
		if len(out) == maxSuggestions {
			break
		}
		if s.suppressed(rule.id) || !rule.applies(in) {
			continue
		}
		out = append(out, rule.text(in))
	}
	return out
}

func (s *Suggester) suppressed(ruleID string) bool {
	if s.prefs == nil {
		return false
	}
	v, ok := s.prefs.Preference(domain.SuggestionSuppressedKey(ruleID))
	return ok && v == "true"
}

// Refresh recomputes suggestions and reports whether they changed.
func (s *Suggester) Refresh(ctx context.Context) ([]string, bool) {
	next := s.Generate(SuggestionInputFrom(s.source.Snapshot(ctx)))

	s.mu.Lock()
	defer s.mu.Unlock()
	changed := !slices.Equal(s.latest, next)
	s.latest = next
	return slices.Clone(next), changed
}

func (s *Suggester) Latest() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.latest)
}

func (s *Suggester) StartPeriodic(ctx context.Context, interval time.Duration, publish func([]string)) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		s.tick(ctx, publish)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.tick(ctx, publish)
			}
		}
	}()
}

func (s *Suggester) tick(ctx context.Context, publish func([]string)) {
	suggestions, changed := s.Refresh(ctx)
	if !changed {
		return
	}
	s.logger.Debug("suggestions updated", "count", len(suggestions))
	if publish != nil {
		publish(suggestions)
	}
}
