package application

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"

	"tomme-assistant/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeClock only moves when a test advances it.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	seq    int
	timers []*fakeTimer
}

type fakeTimer struct {
	clock *fakeClock
	at    time.Time
	seq   int
	f     func()
	done  bool
}

func newFakeClock(now time.Time) *fakeClock {
	return &fakeClock{now: now}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	t := &fakeTimer{clock: c, at: c.now.Add(d), seq: c.seq, f: f}
	c.timers = append(c.timers, t)
	return t
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.done {
		return false
	}
	t.done = true
	return true
}

// fireNext runs the earliest pending timer due by deadline.
func (c *fakeClock) fireNext(deadline time.Time) bool {
	c.mu.Lock()
	var pending []*fakeTimer
	for _, t := range c.timers {
		if !t.done {
			pending = append(pending, t)
		}
	}
	c.timers = pending
	sort.Slice(pending, func(i, j int) bool {
		if pending[i].at.Equal(pending[j].at) {
			return pending[i].seq < pending[j].seq
		}
		return pending[i].at.Before(pending[j].at)
	})
	if len(pending) == 0 || pending[0].at.After(deadline) {
		c.mu.Unlock()
		return false
	}
	t := pending[0]
	t.done = true
	if t.at.After(c.now) {
		c.now = t.at
	}
	c.mu.Unlock()

	t.f()
	return true
}

func (c *fakeClock) set(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if now.After(c.now) {
		c.now = now
	}
}

func (c *fakeClock) pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.done {
			n++
		}
	}
	return n
}

// fakeRecognizer and fakeSynth check each other to catch the microphone and the
// speaker being used at the same time.
type fakeRecognizer struct {
	synth      *fakeSynth
	starts     []RecognitionOptions
	stops      int
	active     bool
	emit       func(domain.RecognitionEvent)
	emits      []func(domain.RecognitionEvent)
	startErr   error
	violations []string
}

func (r *fakeRecognizer) Start(opts RecognitionOptions, emit func(domain.RecognitionEvent)) error {
	if r.startErr != nil {
		return r.startErr
	}
	if r.active {
		r.violations = append(r.violations, fmt.Sprintf("start %s while a session is open", opts.Mode))
	}
	if r.synth != nil && r.synth.speaking {
		r.violations = append(r.violations, fmt.Sprintf("start %s while speaking", opts.Mode))
	}
	r.active = true
	r.starts = append(r.starts, opts)
	r.emit = emit
	r.emits = append(r.emits, emit)
	return nil
}

func (r *fakeRecognizer) Stop() error {
	r.stops++
	r.active = false
	return nil
}

func (r *fakeRecognizer) lastMode() domain.CaptureMode {
	if len(r.starts) == 0 {
		return domain.CaptureNone
	}
	return r.starts[len(r.starts)-1].Mode
}

type fakeSynth struct {
	rec        *fakeRecognizer
	requests   []domain.SpeechRequest
	cancels    int
	speaking   bool
	emit       func(domain.SynthesisEvent)
	emits      []func(domain.SynthesisEvent)
	err        error
	onSpeak    func(domain.SpeechRequest)
	violations []string
}

func (s *fakeSynth) Speak(req domain.SpeechRequest, emit func(domain.SynthesisEvent)) error {
	if s.onSpeak != nil {
		s.onSpeak(req)
	}
	if s.err != nil {
		return s.err
	}
	if s.rec != nil && s.rec.active {
		s.violations = append(s.violations, fmt.Sprintf("speak %q while capturing", req.Text))
	}
	if s.speaking {
		s.violations = append(s.violations, fmt.Sprintf("speak %q over another utterance", req.Text))
	}
	s.speaking = true
	s.requests = append(s.requests, req)
	s.emit = emit
	s.emits = append(s.emits, emit)
	return nil
}

func (s *fakeSynth) Cancel() error {
	s.cancels++
	s.speaking = false
	return nil
}

func (s *fakeSynth) texts() []string {
	out := make([]string, len(s.requests))
	for i, r := range s.requests {
		out[i] = r.Text
	}
	return out
}

func (s *fakeSynth) last() string {
	if len(s.requests) == 0 {
		return ""
	}
	return s.requests[len(s.requests)-1].Text
}

type fakeInterpreter struct {
	mu       sync.Mutex
	prompts  []string
	response string
	err      error
	block    chan struct{}
}

func (f *fakeInterpreter) Complete(_ context.Context, _, prompt string) (string, error) {
	f.mu.Lock()
	f.prompts = append(f.prompts, prompt)
	block := f.block
	f.mu.Unlock()

	if block != nil {
		<-block
	}
	return f.response, f.err
}

func (f *fakeInterpreter) lastPrompt() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.prompts) == 0 {
		return ""
	}
	return f.prompts[len(f.prompts)-1]
}

type fakeApps struct {
	state domain.AppState
	err   error
}

func (f *fakeApps) AppState(context.Context) (domain.AppState, error) {
	return f.state, f.err
}

type fakeStore struct {
	mu    sync.Mutex
	state domain.MemoryState
	saves int
	err   error
}

func (f *fakeStore) Load(context.Context) (domain.MemoryState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state, f.err
}

func (f *fakeStore) Save(_ context.Context, state domain.MemoryState) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.saves++
	f.state = state
	return nil
}

type fakeNavigator struct {
	routes []domain.Route
}

func (f *fakeNavigator) Navigate(route domain.Route) {
	f.routes = append(f.routes, route)
}

type fakeNotifier struct {
	mu       sync.Mutex
	messages []string
}

func (f *fakeNotifier) Notify(_ context.Context, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, message)
	return nil
}

func (f *fakeNotifier) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.messages)
}

var errUnavailable = errors.New("service unavailable")

// harness drives a Session synchronously: every event is handled on the test goroutine.
type harness struct {
	t      *testing.T
	s      *Session
	clock  *fakeClock
	rec    *fakeRecognizer
	synth  *fakeSynth
	interp *fakeInterpreter
	apps   *fakeApps
	store  *fakeStore
	mem    *Memory
	nav    *fakeNavigator
	notes  *fakeNotifier
}

func defaultSessionConfig() SessionConfig {
	return SessionConfig{
		WakePhrases: []string{"hey tomme"},
		Greeting:    "Hi! What can I do for you?",
		Nudge:       "Are you still there?",
		Continuous:  true,
		NudgeAfter:  45 * time.Second,
		StopAfter:   20 * time.Second,
	}
}

func newHarness(t *testing.T, cfg SessionConfig) *harness {
	t.Helper()

	h := &harness{
		t:      t,
		clock:  newFakeClock(time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)),
		synth:  &fakeSynth{},
		interp: &fakeInterpreter{err: errUnavailable},
		apps: &fakeApps{state: domain.AppState{
			Route:   domain.RouteHome,
			Catalog: domain.CatalogSummary{Total: 12, Organic: 4},
		}},
		store: &fakeStore{},
		nav:   &fakeNavigator{},
		notes: &fakeNotifier{},
	}
	h.rec = &fakeRecognizer{synth: h.synth}
	h.synth.rec = h.rec
	h.mem = NewMemory(20, h.store, h.apps, h.clock, testLogger())

	resolver := NewResolver(h.interp, NewFallbackResponder(30*time.Second, 1),
		ResolverConfig{Timeout: time.Second, Clock: h.clock}, testLogger())

	h.s = NewSession(cfg, SessionDeps{
		Recognizer:  h.rec,
		Synthesizer: h.synth,
		Resolver:    resolver,
		Memory:      h.mem,
		Navigator:   h.nav,
		Notifier:    h.notes,
		Clock:       h.clock,
		Logger:      testLogger(),
	})
	h.s.spawn = func(f func()) { f() }
	return h
}

func (h *harness) drain() {
	for {
		select {
		case ev := <-h.s.events:
			h.s.handle(ev)
		default:
			return
		}
	}
}

func (h *harness) advance(d time.Duration) {
	deadline := h.clock.Now().Add(d)
	for h.clock.fireNext(deadline) {
		h.drain()
	}
	h.clock.set(deadline)
	h.drain()
}

func (h *harness) enableWake() error {
	result := make(chan error, 1)
	h.s.handle(enableWakeEvent{result: result})
	h.drain()
	return <-result
}

func (h *harness) listen() error {
	result := make(chan error, 1)
	h.s.handle(listenEvent{result: result})
	h.drain()
	return <-result
}

func (h *harness) hear(text string, final bool) {
	h.t.Helper()
	if h.rec.emit == nil || !h.rec.active {
		h.t.Fatalf("hear %q: no capture session open", text)
	}
	h.rec.emit(domain.RecognitionEvent{
		Kind:    domain.RecognitionHeard,
		Results: []domain.RecognitionResult{{Text: text, IsFinal: final}},
	})
	h.drain()
}

func (h *harness) captureFails(code domain.CaptureErrorCode) {
	h.t.Helper()
	if h.rec.emit == nil {
		h.t.Fatal("no capture session to fail")
	}
	h.rec.active = false
	h.rec.emit(domain.RecognitionEvent{Kind: domain.RecognitionFailed, Code: code})
	h.drain()
}

func (h *harness) finishSpeech() {
	h.t.Helper()
	if !h.synth.speaking {
		h.t.Fatal("finishSpeech: nothing is being spoken")
	}
	h.synth.speaking = false
	h.synth.emit(domain.SynthesisEvent{Kind: domain.SynthesisEnded})
	h.drain()
}

func (h *harness) expectState(want domain.SessionState) {
	h.t.Helper()
	if got := h.s.State(); got != want {
		h.t.Fatalf("state: got %s, want %s", got, want)
	}
}

func (h *harness) expectNoViolations() {
	h.t.Helper()
	for _, v := range append(h.rec.violations, h.synth.violations...) {
		h.t.Errorf("mutual exclusion violated: %s", v)
	}
}

// wakeUp takes the session from Idle to CommandListening through the wake phrase.
func (h *harness) wakeUp() {
	h.t.Helper()
	if err := h.enableWake(); err != nil {
		h.t.Fatalf("EnableWakeListening: %v", err)
	}
	h.hear("hey tomme", true)
	h.expectState(domain.StateActivating)
	h.finishSpeech()
	h.expectState(domain.StateCommandListening)
}

func (h *harness) userTurns() []domain.ConversationTurn {
	var out []domain.ConversationTurn
	for _, t := range h.mem.RecentTurns(100) {
		if t.Speaker == domain.SpeakerUser {
			out = append(out, t)
		}
	}
	return out
}
