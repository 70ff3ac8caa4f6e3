package application

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"tomme-assistant/internal/domain"
)

type ResolverConfig struct {
	Timeout           time.Duration
	HistoryTurns      int
	MaxUtteranceChars int
	PendingTTL        time.Duration
	// Clock supplies the time for requests that carry none.
	Clock             Clock
}

type ResolveRequest struct {
	Text     string
	Snapshot domain.ContextSnapshot
	History  []domain.ConversationTurn
	Pending  *domain.PendingAction
	Now      time.Time
}

// Resolver maps an utterance to a reply. It asks the interpreter under a deadline and
// falls back to the rule table on timeout, failure or unusable output, so Resolve always
// produces a non-empty response.
type Resolver struct {
	interpreter Interpreter
	fallback    *FallbackResponder
	cfg         ResolverConfig
	logger      *slog.Logger
}

func NewResolver(interpreter Interpreter, fallback *FallbackResponder, cfg ResolverConfig, logger *slog.Logger) *Resolver {
	if interpreter == nil {
		interpreter = UnavailableInterpreter{}
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 6 * time.Second
	}
	if cfg.HistoryTurns <= 0 {
		cfg.HistoryTurns = 6
	}
	if cfg.MaxUtteranceChars <= 0 {
		cfg.MaxUtteranceChars = 500
	}
	if cfg.PendingTTL <= 0 {
		cfg.PendingTTL = 30 * time.Second
	}
	if cfg.Clock == nil {
		cfg.Clock = SystemClock()
	}
	if fallback == nil {
		fallback = NewFallbackResponder(cfg.PendingTTL, 0)
	}
	return &Resolver{
		interpreter: interpreter,
		fallback:    fallback,
		cfg:         cfg,
		logger:      logger,
	}
}

func (r *Resolver) HistoryTurns() int { return r.cfg.HistoryTurns }

func (r *Resolver) Resolve(ctx context.Context, req ResolveRequest) domain.Resolution {
	res := r.resolve(ctx, req)
	res.Intent = ensureResponse(res.Intent)
	return res
}

func (r *Resolver) resolve(ctx context.Context, req ResolveRequest) domain.Resolution {
	if req.Now.IsZero() {
		req.Now = r.cfg.Clock.Now()
	}
	emotion := DetectEmotion(req.Text)

	if req.Pending != nil && !req.Pending.Expired(req.Now) {
		if intent, ok := r.resolvePending(req.Text, req.Pending); ok {
			return domain.Resolution{Intent: intent, Emotion: emotion, Source: domain.SourcePending}
		}
	}

	history := req.History
	if len(history) > r.cfg.HistoryTurns {
		history = history[len(history)-r.cfg.HistoryTurns:]
	}
	prompt := buildPrompt(req.Text, req.Snapshot, history, r.cfg.MaxUtteranceChars)

	raw, err := r.complete(ctx, prompt)
	if err == nil {
		intent, perr := parseInterpretation(raw, req.Now, r.cfg.PendingTTL)
		if perr == nil {
			return domain.Resolution{Intent: intent, Emotion: emotion, Source: domain.SourceInterpreter}
		}
		err = perr
	}

	intent, rule := r.fallback.Respond(req.Text, req.Snapshot, req.Now)
	r.logger.Info("using fallback responder", "rule", rule, "reason", err)
	return domain.Resolution{Intent: intent, Emotion: emotion, Source: domain.SourceFallback}
}

type completion struct {
	text string
	err  error
}

// complete calls the interpreter but stops waiting at the deadline even if the
// interpreter ignores its context.
func (r *Resolver) complete(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	done := make(chan completion, 1)
	go func() {
		text, err := r.interpreter.Complete(ctx, interpreterSystemPrompt, prompt)
		done <- completion{text: text, err: err}
	}()

	select {
	case c := <-done:
		return c.text, c.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

type confirmation int

const (
	confirmNone confirmation = iota
	confirmYes
	confirmNo
)

var (
	negativeWords    = anyOf("no", "nope", "nah", "not now", "cancel", "never mind", "don t", "do not", "no thanks")
	affirmativeWords = anyOf("yes", "yeah", "yep", "yup", "sure", "ok", "okay", "please", "go ahead", "do it", "of course", "absolutely", "sounds good", "alright")
)

func classifyConfirmation(text string) confirmation {
	norm := normalize(text)
	switch {
	case negativeWords(norm):
		return confirmNo
	case affirmativeWords(norm):
		return confirmYes
	default:
		return confirmNone
	}
}

func (r *Resolver) resolvePending(text string, pending *domain.PendingAction) (domain.Intent, bool) {
	switch classifyConfirmation(text) {
	case confirmYes:
		intent := domain.Intent{ResponseText: "Done."}
		if pending.Route != "" {
			intent.ResponseText = "Okay, opening " + routeLabel(pending.Route) + "."
			intent.Navigation = &domain.NavigationAction{Route: pending.Route}
		}
		return intent, true
	case confirmNo:
		return domain.Intent{ResponseText: "No problem."}, true
	default:
		return domain.Intent{}, false
	}
}

// ensureResponse guards the final reply so the session always has something to say.
func ensureResponse(intent domain.Intent) domain.Intent {
	if strings.TrimSpace(intent.ResponseText) == "" {
		intent.ResponseText = "Sorry, I didn't catch that."
		intent.FollowUp = nil
	}
	return intent
}
