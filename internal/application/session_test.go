package application

import (
	"context"
	"errors"
	"math/rand"
	"strings"
	"testing"
	"time"

	"tomme-assistant/internal/domain"
)

func TestSession_EnableWakeListeningIsIdempotent(t *testing.T) {
	h := newHarness(t, defaultSessionConfig())

	for i := 0; i < 3; i++ {
		if err := h.enableWake(); err != nil {
			t.Fatalf("EnableWakeListening #%d: %v", i+1, err)
		}
	}

	h.expectState(domain.StateWakeListening)
	if len(h.rec.starts) != 1 {
		t.Fatalf("recognizer starts: got %d, want 1", len(h.rec.starts))
	}
	if opts := h.rec.starts[0]; opts.Mode != domain.CaptureWake || !opts.Continuous || opts.InterimResults {
		t.Errorf("wake options: %+v", opts)
	}
}

func TestSession_WakePhraseMatching(t *testing.T) {
	tests := []struct {
		text  string
		wakes bool
	}{
		{"Hey Tomme, show products", true},
		{"HEY TOMME show products", true},
		{"hey tomme", true},
		{"well hey, Tomme!", true},
		{"hey tom", false},
		{"hey tommey", true},
		{"Hey Tommey show products", true},
		{"show products", false},
	}

	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			h := newHarness(t, defaultSessionConfig())
			if err := h.enableWake(); err != nil {
				t.Fatalf("EnableWakeListening: %v", err)
			}

			h.hear(tt.text, false)

			if !tt.wakes {
				h.expectState(domain.StateWakeListening)
				if len(h.synth.requests) != 0 {
					t.Errorf("unexpected speech: %v", h.synth.texts())
				}
				return
			}

			h.expectState(domain.StateActivating)
			if h.synth.last() != "Hi! What can I do for you?" {
				t.Errorf("greeting: got %q", h.synth.last())
			}
			if h.rec.active {
				t.Error("capture must be closed while the greeting plays")
			}
			if !h.s.Continuous() {
				t.Error("continuous mode should be armed on activation")
			}
			if v, _ := h.mem.Preference(domain.PrefLastWakePhrase); v != "hey tomme" {
				t.Errorf("last wake phrase: got %q", v)
			}

			h.finishSpeech()
			h.expectState(domain.StateCommandListening)
			if opts := h.rec.starts[len(h.rec.starts)-1]; opts.Mode != domain.CaptureCommand || !opts.InterimResults {
				t.Errorf("command options: %+v", opts)
			}
		})
	}
}

func TestSession_ShowProductsScenario(t *testing.T) {
	h := newHarness(t, defaultSessionConfig())
	h.wakeUp()

	h.hear("show", false)
	h.expectState(domain.StateCommandListening)

	h.hear("show products", true)

	h.expectState(domain.StateSpeaking)
	reply := h.synth.last()
	if !strings.Contains(reply, "12") {
		t.Errorf("reply should mention the catalog count: %q", reply)
	}
	if len(h.nav.routes) != 1 || h.nav.routes[0] != domain.RouteProducts {
		t.Errorf("navigation: got %v, want [/products]", h.nav.routes)
	}

	turns := h.mem.RecentTurns(10)
	if len(turns) != 3 {
		t.Fatalf("turns: got %d, want greeting, user, reply", len(turns))
	}
	if turns[1].Speaker != domain.SpeakerUser || turns[1].Text != "show products" {
		t.Errorf("user turn: %+v", turns[1])
	}
	if turns[2].Speaker != domain.SpeakerAssistant || turns[2].Text != reply {
		t.Errorf("assistant turn: %+v", turns[2])
	}

	h.finishSpeech()
	h.expectState(domain.StateContinuousWait)
	if h.rec.lastMode() != domain.CaptureCommand || !h.rec.active {
		t.Error("command capture should reopen in continuous mode")
	}
	h.expectNoViolations()
}

func TestSession_DuplicateFinalIsDiscarded(t *testing.T) {
	h := newHarness(t, defaultSessionConfig())
	h.wakeUp()

	staleEmit := h.rec.emit
	h.rec.emit(domain.RecognitionEvent{
		Kind: domain.RecognitionHeard,
		Results: []domain.RecognitionResult{
			{Text: "show products", IsFinal: true},
			{Text: "show products", IsFinal: true},
		},
	})
	h.drain()

	// the same final delivered again by the closed session
	staleEmit(domain.RecognitionEvent{
		Kind:    domain.RecognitionHeard,
		Results: []domain.RecognitionResult{{Text: "show products", IsFinal: true}},
	})
	h.drain()

	if n := len(h.userTurns()); n != 1 {
		t.Errorf("user turns: got %d, want 1", n)
	}
	if n := len(h.synth.requests); n != 2 {
		t.Errorf("speech requests: got %d (%v), want greeting and one reply", n, h.synth.texts())
	}
	if n := len(h.nav.routes); n != 1 {
		t.Errorf("navigations: got %d, want 1", n)
	}
}

func TestSession_ContinuousTimeoutNudgesOnce(t *testing.T) {
	h := newHarness(t, defaultSessionConfig())
	h.wakeUp()
	h.hear("thanks", true)
	h.finishSpeech()
	h.expectState(domain.StateContinuousWait)

	h.advance(44 * time.Second)
	h.expectState(domain.StateContinuousWait)

	h.advance(time.Second)
	h.expectState(domain.StateSpeaking)
	if h.synth.last() != "Are you still there?" {
		t.Fatalf("nudge: got %q", h.synth.last())
	}
	h.finishSpeech()
	h.expectState(domain.StateContinuousWait)

	h.advance(19 * time.Second)
	h.expectState(domain.StateContinuousWait)
	h.advance(time.Second)

	h.expectState(domain.StateWakeListening)
	if h.s.Continuous() {
		t.Error("continuous mode should be disarmed")
	}
	if h.rec.lastMode() != domain.CaptureWake || !h.rec.active {
		t.Error("wake capture should be open again")
	}

	before := len(h.synth.requests)
	h.advance(10 * time.Minute)
	if len(h.synth.requests) != before {
		t.Errorf("no further nudges expected, got %v", h.synth.texts()[before:])
	}

	nudges := 0
	for _, text := range h.synth.texts() {
		if text == "Are you still there?" {
			nudges++
		}
	}
	if nudges != 1 {
		t.Errorf("nudges: got %d, want 1", nudges)
	}
	h.expectNoViolations()
}

func TestSession_InterimSpeechDefersNudge(t *testing.T) {
	h := newHarness(t, defaultSessionConfig())
	h.wakeUp()
	h.hear("thanks", true)
	h.finishSpeech()
	h.expectState(domain.StateContinuousWait)

	h.advance(44 * time.Second)
	h.hear("could you show me the organic", false)

	h.advance(2 * time.Second)
	h.expectState(domain.StateContinuousWait)
	if !h.rec.active {
		t.Fatal("capture must stay open while the user is talking")
	}
	for _, text := range h.synth.texts() {
		if text == "Are you still there?" {
			t.Fatal("nudge spoke over the user")
		}
	}

	// a full nudge interval after the last interim
	h.advance(42 * time.Second)
	h.expectState(domain.StateContinuousWait)
	h.advance(time.Second)
	h.expectState(domain.StateSpeaking)
	if h.synth.last() != "Are you still there?" {
		t.Errorf("nudge: got %q", h.synth.last())
	}
	h.expectNoViolations()
}

func TestSession_InterimSpeechDefersListenTimeout(t *testing.T) {
	h := newHarness(t, defaultSessionConfig())
	h.wakeUp()
	h.expectState(domain.StateCommandListening)

	h.advance(29 * time.Second)
	h.hear("show me", false)
	h.advance(2 * time.Second)

	h.expectState(domain.StateCommandListening)
	if h.rec.lastMode() != domain.CaptureCommand || !h.rec.active {
		t.Error("command capture should still be open")
	}

	h.advance(28 * time.Second)
	h.expectState(domain.StateWakeListening)
}

func TestSession_SilenceTimeoutClearsFollowUp(t *testing.T) {
	h := newHarness(t, defaultSessionConfig())
	h.wakeUp()
	h.hear("how much is the honey", true)
	h.finishSpeech()
	if h.s.pending == nil {
		t.Fatal("price reply should leave a follow-up question")
	}

	h.advance(45 * time.Second)
	h.finishSpeech()
	h.advance(20 * time.Second)

	h.expectState(domain.StateWakeListening)
	if h.s.pending != nil {
		t.Errorf("pending follow-up: got %+v, want none", h.s.pending)
	}
}

func TestSession_ContinuousWaitAcceptsNextUtterance(t *testing.T) {
	h := newHarness(t, defaultSessionConfig())
	h.wakeUp()
	h.hear("thanks", true)
	h.finishSpeech()

	h.advance(30 * time.Second)
	h.hear("open my cart", true)

	h.expectState(domain.StateSpeaking)
	if last := h.nav.routes[len(h.nav.routes)-1]; last != domain.RouteCart {
		t.Errorf("navigation: got %s, want /cart", last)
	}

	// the old nudge deadline must not fire into the new turn
	h.advance(20 * time.Second)
	h.expectState(domain.StateSpeaking)
}

func TestSession_SingleTurnReturnsToWake(t *testing.T) {
	cfg := defaultSessionConfig()
	cfg.Continuous = false
	h := newHarness(t, cfg)
	h.wakeUp()

	h.hear("show products", true)
	h.finishSpeech()

	h.expectState(domain.StateWakeListening)
	if h.rec.lastMode() != domain.CaptureWake {
		t.Errorf("capture mode: got %s, want wake", h.rec.lastMode())
	}
}

func TestSession_FarewellEndsConversation(t *testing.T) {
	h := newHarness(t, defaultSessionConfig())
	h.wakeUp()

	h.hear("that's all, goodbye", true)
	if h.s.Continuous() {
		t.Error("farewell should disarm continuous mode")
	}
	h.finishSpeech()

	h.expectState(domain.StateWakeListening)
	h.advance(time.Hour)
	h.expectState(domain.StateWakeListening)
}

func TestSession_CommandListenTimeout(t *testing.T) {
	h := newHarness(t, defaultSessionConfig())
	h.wakeUp()

	h.advance(30 * time.Second)

	h.expectState(domain.StateWakeListening)
	if h.rec.lastMode() != domain.CaptureWake {
		t.Errorf("capture mode: got %s, want wake", h.rec.lastMode())
	}
}

func TestSession_PushToTalk(t *testing.T) {
	h := newHarness(t, defaultSessionConfig())

	if err := h.listen(); err != nil {
		t.Fatalf("Listen: %v", err)
	}
	h.expectState(domain.StateCommandListening)
	if h.rec.lastMode() != domain.CaptureCommand {
		t.Fatalf("capture mode: got %s", h.rec.lastMode())
	}

	if err := h.listen(); !errors.Is(err, domain.ErrSessionBusy) {
		t.Errorf("second Listen: got %v, want ErrSessionBusy", err)
	}

	// wake listening was never enabled, so silence ends in Idle
	h.advance(30 * time.Second)
	h.expectState(domain.StateIdle)
	if h.rec.active {
		t.Error("capture should be closed")
	}
}

func TestSession_PendingFollowUp(t *testing.T) {
	tests := []struct {
		answer    string
		wantRoute bool
		wantReply string
	}{
		{"yes please", true, "Okay, opening the catalog."},
		{"no thanks", false, "No problem."},
	}

	for _, tt := range tests {
		t.Run(tt.answer, func(t *testing.T) {
			h := newHarness(t, defaultSessionConfig())
			h.wakeUp()

			h.hear("how much is the honey", true)
			if !strings.HasSuffix(h.synth.last(), "?") {
				t.Fatalf("price reply should ask a question: %q", h.synth.last())
			}
			if len(h.nav.routes) != 0 {
				t.Fatalf("no navigation before the answer, got %v", h.nav.routes)
			}
			h.finishSpeech()

			h.hear(tt.answer, true)

			if h.synth.last() != tt.wantReply {
				t.Errorf("reply: got %q, want %q", h.synth.last(), tt.wantReply)
			}
			gotRoute := len(h.nav.routes) == 1 && h.nav.routes[0] == domain.RouteProducts
			if gotRoute != tt.wantRoute {
				t.Errorf("navigation: got %v", h.nav.routes)
			}
		})
	}
}

func TestSession_ExpiredFollowUpIsIgnored(t *testing.T) {
	h := newHarness(t, defaultSessionConfig())
	h.wakeUp()

	h.hear("how much is the honey", true)
	h.finishSpeech()
	h.advance(40 * time.Second)
	h.expectState(domain.StateContinuousWait)

	h.hear("yes", true)

	if h.synth.last() == "Okay, opening the catalog." {
		t.Error("expired follow-up should not be confirmed")
	}
}

func TestSession_InterpreterReply(t *testing.T) {
	h := newHarness(t, defaultSessionConfig())
	h.interp.err = nil
	h.interp.response = `{"response":"Opening your cart!","navigate":"/cart","end_session":false}`
	h.wakeUp()

	h.hear("take me to my cart", true)

	if h.synth.last() != "Opening your cart!" {
		t.Errorf("reply: got %q", h.synth.last())
	}
	if len(h.nav.routes) != 1 || h.nav.routes[0] != domain.RouteCart {
		t.Errorf("navigation: got %v", h.nav.routes)
	}
	if prompt := h.interp.lastPrompt(); !strings.Contains(prompt, "take me to my cart") || !strings.Contains(prompt, "12 products") {
		t.Errorf("prompt missing context:\n%s", prompt)
	}
}

func TestSession_TerminalErrorSurfacedOnce(t *testing.T) {
	h := newHarness(t, defaultSessionConfig())
	if err := h.enableWake(); err != nil {
		t.Fatalf("EnableWakeListening: %v", err)
	}
	starts := len(h.rec.starts)

	h.captureFails(domain.CodePermissionDenied)

	h.expectState(domain.StateSpeaking)
	if h.notes.count() != 1 {
		t.Errorf("notifications: got %d, want 1", h.notes.count())
	}
	if !strings.Contains(h.synth.last(), "microphone") {
		t.Errorf("spoken notice: %q", h.synth.last())
	}

	h.finishSpeech()
	h.expectState(domain.StateWakeListening)

	h.advance(time.Hour)
	if len(h.rec.starts) != starts {
		t.Errorf("capture restarted %d times after a terminal error", len(h.rec.starts)-starts)
	}
	if h.notes.count() != 1 {
		t.Errorf("notifications after waiting: got %d, want 1", h.notes.count())
	}

	if err := h.listen(); !errors.Is(err, domain.ErrCaptureDisabled) {
		t.Errorf("Listen while disabled: got %v, want ErrCaptureDisabled", err)
	}

	// an explicit enable clears the latch
	if err := h.enableWake(); err != nil {
		t.Fatalf("re-enable: %v", err)
	}
	if len(h.rec.starts) != starts+1 || h.rec.lastMode() != domain.CaptureWake {
		t.Errorf("wake capture should reopen after re-enable")
	}
	h.expectNoViolations()
}

func TestSession_TerminalStartError(t *testing.T) {
	h := newHarness(t, defaultSessionConfig())
	h.rec.startErr = &domain.CaptureError{Code: domain.CodeDeviceUnavailable}

	err := h.enableWake()

	var capErr *domain.CaptureError
	if !errors.As(err, &capErr) || capErr.Code != domain.CodeDeviceUnavailable {
		t.Fatalf("EnableWakeListening: got %v", err)
	}
	if h.notes.count() != 1 {
		t.Errorf("notifications: got %d, want 1", h.notes.count())
	}
	h.finishSpeech()
	h.expectState(domain.StateWakeListening)
}

func TestSession_RecoverableErrorsRestartSilently(t *testing.T) {
	h := newHarness(t, defaultSessionConfig())
	if err := h.enableWake(); err != nil {
		t.Fatalf("EnableWakeListening: %v", err)
	}

	for _, code := range []domain.CaptureErrorCode{domain.CodeNoSpeech, domain.CodeNetwork, domain.CodeAborted} {
		starts := len(h.rec.starts)
		h.captureFails(code)
		h.expectState(domain.StateWakeListening)

		h.advance(299 * time.Millisecond)
		if len(h.rec.starts) != starts {
			t.Fatalf("%s: restarted before the backoff", code)
		}
		h.advance(time.Millisecond)
		if len(h.rec.starts) != starts+1 || h.rec.lastMode() != domain.CaptureWake {
			t.Fatalf("%s: capture not restarted", code)
		}
	}

	// the service ending a session on its own is also recovered
	starts := len(h.rec.starts)
	h.rec.active = false
	h.rec.emit(domain.RecognitionEvent{Kind: domain.RecognitionEnded})
	h.rec.emit(domain.RecognitionEvent{Kind: domain.RecognitionEnded})
	h.drain()
	h.advance(time.Second)
	if len(h.rec.starts) != starts+1 {
		t.Errorf("end: got %d restarts, want exactly 1", len(h.rec.starts)-starts)
	}

	if h.notes.count() != 0 || len(h.synth.requests) != 0 {
		t.Error("recoverable errors must stay silent")
	}
	h.expectNoViolations()
}

func TestSession_DisableWakeListening(t *testing.T) {
	h := newHarness(t, defaultSessionConfig())
	if err := h.enableWake(); err != nil {
		t.Fatalf("EnableWakeListening: %v", err)
	}

	h.s.handle(disableWakeEvent{})
	h.drain()

	h.expectState(domain.StateIdle)
	if h.rec.active {
		t.Error("capture should be closed")
	}
}

func TestSession_ShutdownDropsInFlightResolution(t *testing.T) {
	h := newHarness(t, defaultSessionConfig())
	var deferred []func()
	h.s.spawn = func(f func()) { deferred = append(deferred, f) }

	if err := h.enableWake(); err != nil {
		t.Fatalf("EnableWakeListening: %v", err)
	}
	h.hear("hey tomme", true)
	h.finishSpeech()
	h.hear("show products", true)
	h.expectState(domain.StateProcessing)

	done := make(chan struct{})
	h.s.handle(shutdownEvent{done: done})
	<-done
	h.expectState(domain.StateIdle)

	for _, f := range deferred {
		f()
	}
	h.drain()

	h.expectState(domain.StateIdle)
	if len(h.nav.routes) != 0 {
		t.Errorf("stale resolution navigated to %v", h.nav.routes)
	}
	if h.rec.active || h.synth.speaking {
		t.Error("shutdown should release capture and playback")
	}
}

func TestSession_PlaybackFailureStillAdvances(t *testing.T) {
	h := newHarness(t, defaultSessionConfig())
	if err := h.enableWake(); err != nil {
		t.Fatalf("EnableWakeListening: %v", err)
	}
	h.synth.err = errors.New("no voice")

	h.hear("hey tomme", true)

	h.expectState(domain.StateCommandListening)
	if h.rec.lastMode() != domain.CaptureCommand {
		t.Errorf("capture mode: got %s", h.rec.lastMode())
	}
}

func TestSession_WatchersSeeTransitions(t *testing.T) {
	h := newHarness(t, defaultSessionConfig())
	var seen []domain.SessionState
	h.s.Watch(func(c domain.StateChange) { seen = append(seen, c.To) })

	h.wakeUp()

	want := []domain.SessionState{domain.StateWakeListening, domain.StateActivating, domain.StateCommandListening}
	if len(seen) != len(want) {
		t.Fatalf("transitions: got %v, want %v", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Errorf("transition %d: got %s, want %s", i, seen[i], want[i])
		}
	}
}

// Random interleavings of user input, service callbacks, caller commands and time must
// never have the microphone open while the assistant is speaking.
func TestSession_MutualExclusionUnderRandomInterleavings(t *testing.T) {
	utterances := []string{"hey tomme", "show products", "how much", "yes", "no", "goodbye", "thanks", "", "open my cart"}
	codes := []domain.CaptureErrorCode{domain.CodeNoSpeech, domain.CodeNetwork, domain.CodeAborted, domain.CodePermissionDenied}

	for seed := int64(1); seed <= 40; seed++ {
		rng := rand.New(rand.NewSource(seed))
		h := newHarness(t, defaultSessionConfig())
		var deferred []func()
		h.s.spawn = func(f func()) { deferred = append(deferred, f) }

		for step := 0; step < 200; step++ {
			switch rng.Intn(12) {
			case 0:
				_ = h.enableWake()
			case 1:
				h.s.handle(disableWakeEvent{})
			case 2:
				_ = h.listen()
			case 3, 4:
				if h.rec.active {
					h.rec.emit(domain.RecognitionEvent{
						Kind:    domain.RecognitionHeard,
						Results: []domain.RecognitionResult{{Text: utterances[rng.Intn(len(utterances))], IsFinal: rng.Intn(3) > 0}},
					})
				}
			case 5:
				if h.rec.active {
					h.rec.active = false
					code := codes[rng.Intn(len(codes))]
					h.rec.emit(domain.RecognitionEvent{Kind: domain.RecognitionFailed, Code: code})
				}
			case 6:
				if h.rec.active {
					h.rec.active = false
					h.rec.emit(domain.RecognitionEvent{Kind: domain.RecognitionEnded})
				}
			case 7:
				if h.synth.speaking {
					h.synth.speaking = false
					kind := domain.SynthesisEnded
					if rng.Intn(4) == 0 {
						kind = domain.SynthesisFailed
					}
					h.synth.emit(domain.SynthesisEvent{Kind: kind})
				}
			case 8:
				if n := len(h.rec.emits); n > 0 {
					h.rec.emits[rng.Intn(n)](domain.RecognitionEvent{
						Kind:    domain.RecognitionHeard,
						Results: []domain.RecognitionResult{{Text: "hey tomme show products", IsFinal: true}},
					})
				}
			case 9:
				if n := len(h.synth.emits); n > 0 {
					i := rng.Intn(n)
					if i == n-1 {
						h.synth.speaking = false
					}
					h.synth.emits[i](domain.SynthesisEvent{Kind: domain.SynthesisEnded})
				}
			case 10:
				h.advance(time.Duration(rng.Intn(50)) * time.Second)
			case 11:
				if len(deferred) > 0 {
					f := deferred[0]
					deferred = deferred[1:]
					f()
				}
			}
			h.drain()

			if h.rec.active && h.synth.speaking {
				t.Fatalf("seed %d step %d: capturing while speaking in state %s", seed, step, h.s.State())
			}
			if st := h.s.State(); st == domain.StateSpeaking && h.rec.active {
				t.Fatalf("seed %d step %d: capture open in Speaking", seed, step)
			}
		}

		for _, v := range append(h.rec.violations, h.synth.violations...) {
			t.Errorf("seed %d: %s", seed, v)
		}
	}
}

func TestSession_RunServesCallers(t *testing.T) {
	h := newHarness(t, defaultSessionConfig())
	h.s.spawn = func(f func()) { go f() }

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	runErr := make(chan error, 1)
	go func() { runErr <- h.s.Run(ctx) }()

	if err := h.s.EnableWakeListening(ctx); err != nil {
		t.Fatalf("EnableWakeListening: %v", err)
	}
	if st := h.s.State(); st != domain.StateWakeListening {
		t.Errorf("state: got %s", st)
	}
	if err := h.s.Listen(ctx); err != nil {
		t.Fatalf("Listen: %v", err)
	}
	if err := h.s.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	select {
	case err := <-runErr:
		if err != nil {
			t.Errorf("Run: %v", err)
		}
	case <-ctx.Done():
		t.Fatal("Run did not return after Shutdown")
	}

	if h.s.State() != domain.StateIdle {
		t.Errorf("state after shutdown: %s", h.s.State())
	}
	if len(h.rec.starts) != 2 || h.rec.active {
		t.Errorf("recognizer: starts=%d active=%v", len(h.rec.starts), h.rec.active)
	}
}

func TestSession_RunStopsOnContextCancel(t *testing.T) {
	h := newHarness(t, defaultSessionConfig())
	ctx, cancel := context.WithCancel(context.Background())

	runErr := make(chan error, 1)
	go func() { runErr <- h.s.Run(ctx) }()
	cancel()

	select {
	case err := <-runErr:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run: got %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}
}

func TestSession_EventsAfterRunAreDropped(t *testing.T) {
	h := newHarness(t, defaultSessionConfig())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := h.s.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Run: got %v, want context.Canceled", err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 1000; i++ {
			h.s.post(timerEvent{kind: timerNudge})
		}
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("late timer events blocked after Run returned")
	}

	if err := h.s.EnableWakeListening(context.Background()); !errors.Is(err, domain.ErrSessionStopped) {
		t.Errorf("EnableWakeListening: got %v, want ErrSessionStopped", err)
	}
	if err := h.s.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown: got %v", err)
	}
}
