package application

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"tomme-assistant/internal/domain"
)

const interpreterSystemPrompt = `You are Tomme, the voice assistant of a local farm marketplace app.
Answer in one or two short spoken sentences. You may move the user to one of these routes:
/ (home), /products (catalog), /cart, /orders, /profile, /sell (list a product).
If you ask a yes/no question that leads to a route, describe it in follow_up.

Respond ONLY with valid JSON (no markdown, no backticks):
{
  "response": "what to say",
  "navigate": "/products or empty",
  "follow_up": {"type": "navigate|confirm", "route": "/cart"},
  "end_session": false
}`

// buildPrompt renders the utterance with the snapshot and recent history. Every part is
// bounded so the prompt size does not grow with the conversation.
func buildPrompt(text string, snap domain.ContextSnapshot, history []domain.ConversationTurn, maxChars int) string {
	var sb strings.Builder

	sb.WriteString("## App state\n")
	fmt.Fprintf(&sb, "- screen: %s\n", snap.Route)
	fmt.Fprintf(&sb, "- time of day: %s\n", snap.TimeOfDay)
	fmt.Fprintf(&sb, "- cart items: %d\n", snap.CartSize)
	fmt.Fprintf(&sb, "- catalog: %d products, %d organic\n", snap.Catalog.Total, snap.Catalog.Organic)
	if len(snap.Catalog.Categories) > 0 {
		fmt.Fprintf(&sb, "- categories: %s\n", strings.Join(snap.Catalog.Categories, ", "))
	}
	fmt.Fprintf(&sb, "- orders: %d pending, %d shipped, %d delivered\n", snap.Orders.Pending, snap.Orders.Shipped, snap.Orders.Delivered)

	if len(history) > 0 {
		sb.WriteString("\n## Recent conversation\n")
		for _, t := range history {
			fmt.Fprintf(&sb, "%s: %s\n", t.Speaker, truncateRunes(t.Text, maxChars))
		}
	}

	sb.WriteString("\n## User said\n")
	sb.WriteString(truncateRunes(strings.TrimSpace(text), maxChars))
	return sb.String()
}

type interpretation struct {
	Response string `json:"response"`
	Navigate string `json:"navigate"`
	FollowUp *struct {
		Type  string `json:"type"`
		Route string `json:"route"`
	} `json:"follow_up"`
	EndSession bool `json:"end_session"`
}

// parseInterpretation turns interpreter output into an intent. Unknown routes are
// dropped, and a follow-up is kept only when the response is actually a question.
func parseInterpretation(raw string, now time.Time, pendingTTL time.Duration) (domain.Intent, error) {
	text := strings.TrimSpace(raw)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)

	if start, end := strings.Index(text, "{"), strings.LastIndex(text, "}"); start >= 0 && end > start {
		text = text[start : end+1]
	}

	var in interpretation
	if err := json.Unmarshal([]byte(text), &in); err != nil {
		return domain.Intent{}, fmt.Errorf("%w: %v", domain.ErrUnparseableResponse, err)
	}

	response := strings.TrimSpace(in.Response)
	if response == "" {
		return domain.Intent{}, fmt.Errorf("%w: empty response", domain.ErrUnparseableResponse)
	}

	intent := domain.Intent{ResponseText: response, EndSession: in.EndSession}
	if route := domain.Route(strings.TrimSpace(in.Navigate)); domain.KnownRoute(route) {
		intent.Navigation = &domain.NavigationAction{Route: route}
	}

	if in.FollowUp != nil && strings.HasSuffix(response, "?") {
		kind := domain.PendingActionType(in.FollowUp.Type)
		route := domain.Route(in.FollowUp.Route)
		switch {
		case kind == domain.PendingNavigate && domain.KnownRoute(route):
			intent.FollowUp = &domain.PendingAction{Type: kind, Route: route, ExpiresAt: now.Add(pendingTTL)}
		case kind == domain.PendingConfirm:
			if !domain.KnownRoute(route) {
				route = ""
			}
			intent.FollowUp = &domain.PendingAction{Type: kind, Route: route, ExpiresAt: now.Add(pendingTTL)}
		}
	}

	return intent, nil
}
