package application

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"tomme-assistant/internal/domain"
)

type SessionConfig struct {
	WakePhrases    []string
	Greeting       string
	Nudge          string
	Continuous     bool
	NudgeAfter     time.Duration
	StopAfter      time.Duration
	ListenTimeout  time.Duration
	RestartBackoff time.Duration
	Voice          string
}

func (c *SessionConfig) setDefaults() {
	if len(c.WakePhrases) == 0 {
		c.WakePhrases = []string{"hey tomme", "ok tomme"}
	}
	if c.Greeting == "" {
		c.Greeting = "Hi! What can I do for you?"
	}
	if c.Nudge == "" {
		c.Nudge = "Are you still there?"
	}
	if c.NudgeAfter <= 0 {
		c.NudgeAfter = 45 * time.Second
	}
	if c.StopAfter <= 0 {
		c.StopAfter = 20 * time.Second
	}
	if c.ListenTimeout <= 0 {
		c.ListenTimeout = 30 * time.Second
	}
	if c.RestartBackoff <= 0 {
		c.RestartBackoff = 300 * time.Millisecond
	}
}

type SessionDeps struct {
	Recognizer  SpeechRecognizer
	Synthesizer SpeechSynthesizer
	Resolver    *Resolver
	Memory      *Memory
	Navigator   Navigator
	Notifier    Notifier
	Clock       Clock
	Logger      *slog.Logger
}

type speechPurpose int

const (
	speechGreeting speechPurpose = iota
	speechReply
	speechNudge
	speechFarewell
	speechNotice
)

// Session is the voice session state machine. All collaborator callbacks and timers are
// turned into events and handled one at a time by Run; it is the only writer of the
// session state and the only caller of the capture arbiter.
type Session struct {
	cfg       SessionConfig
	resolver  *Resolver
	memory    *Memory
	navigator Navigator
	notifier  Notifier
	clock     Clock
	logger    *slog.Logger

	events   chan event
	stopped  chan struct{}
	capture  *CaptureArbiter
	playback *PlaybackController
	spawn    func(func())
	ctx      context.Context

	stateMu    sync.RWMutex
	state      domain.SessionState
	continuous bool
	watchers   []func(domain.StateChange)

	pending  *domain.PendingAction
	turn     uint64
	purpose  speechPurpose
	nudged   bool
	timer    Timer
	timerGen uint64

	// armed timer, re-armed while the user is still talking
	timerKind timerKind
	timerFor  time.Duration
}

func NewSession(cfg SessionConfig, deps SessionDeps) *Session {
	cfg.setDefaults()
	if deps.Clock == nil {
		deps.Clock = SystemClock()
	}
	if deps.Notifier == nil {
		deps.Notifier = &NoopNotifier{}
	}

	s := &Session{
		cfg:       cfg,
		resolver:  deps.Resolver,
		memory:    deps.Memory,
		navigator: deps.Navigator,
		notifier:  deps.Notifier,
		clock:     deps.Clock,
		logger:    deps.Logger,
		events:    make(chan event, 256),
		stopped:   make(chan struct{}),
		spawn:     func(f func()) { go f() },
		ctx:       context.Background(),
		state:     domain.StateIdle,
	}
	s.capture = newCaptureArbiter(deps.Recognizer, deps.Clock, cfg.RestartBackoff, s.post, deps.Logger)
	s.playback = newPlaybackController(deps.Synthesizer, deps.Memory, cfg.Voice, s.post, deps.Logger)
	return s
}

func (s *Session) State() domain.SessionState {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.state
}

// Continuous reports whether continuous conversation is armed.
func (s *Session) Continuous() bool {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.continuous
}

// Watch registers fn for every state change. fn runs on the session loop and must not block.
func (s *Session) Watch(fn func(domain.StateChange)) {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	s.watchers = append(s.watchers, fn)
}

func (s *Session) EnableWakeListening(ctx context.Context) error {
	result := make(chan error, 1)
	select {
	case s.events <- enableWakeEvent{result: result}:
	case <-s.stopped:
		return domain.ErrSessionStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-result:
		return err
	case <-s.stopped:
		return domain.ErrSessionStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Listen opens a command turn without a wake phrase, as a push-to-talk button does.
func (s *Session) Listen(ctx context.Context) error {
	result := make(chan error, 1)
	select {
	case s.events <- listenEvent{result: result}:
	case <-s.stopped:
		return domain.ErrSessionStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-result:
		return err
	case <-s.stopped:
		return domain.ErrSessionStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) DisableWakeListening() {
	s.post(disableWakeEvent{})
}

// Shutdown stops capture and playback and returns the session to Idle.
func (s *Session) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	select {
	case s.events <- shutdownEvent{done: done}:
	case <-s.stopped:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-s.stopped:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) Run(ctx context.Context) error {
	s.ctx = ctx
	s.logger.Info("voice session running", "wake_phrases", s.cfg.WakePhrases, "continuous", s.cfg.Continuous)
	defer close(s.stopped)

	for {
		select {
		case <-ctx.Done():
			s.shutdown("context done")
			return ctx.Err()
		case ev := <-s.events:
			if s.handle(ev) {
				return nil
			}
		}
	}
}

// post queues an event for the loop. Events arriving after Run has returned are dropped.
func (s *Session) post(ev event) {
	select {
	case s.events <- ev:
	case <-s.stopped:
	}
}

// handle processes one event and reports whether the session shut down.
func (s *Session) handle(ev event) bool {
	switch e := ev.(type) {
	case enableWakeEvent:
		err := s.enableWake()
		if e.result != nil {
			e.result <- err
		}
	case listenEvent:
		e.result <- s.listen()
	case disableWakeEvent:
		s.capture.DisableWakeListening()
		if s.State() == domain.StateWakeListening {
			s.setState(domain.StateIdle, "wake listening disabled")
		}
	case shutdownEvent:
		s.shutdown("shutdown requested")
		close(e.done)
		return true
	case captureEvent:
		s.onCapture(e)
	case captureRestartEvent:
		if capErr := s.capture.handleRestart(e); capErr != nil {
			s.onTerminal(capErr)
		}
	case playbackEvent:
		s.onPlayback(e)
	case resolvedEvent:
		s.onResolved(e)
	case timerEvent:
		s.onTimer(e)
	}
	return false
}

func (s *Session) enableWake() error {
	err := s.capture.EnableWakeListening()
	var capErr *domain.CaptureError
	if errors.As(err, &capErr) {
		s.onTerminal(capErr)
		return err
	}
	if s.State() == domain.StateIdle {
		s.setState(domain.StateWakeListening, "wake listening enabled")
	}
	return err
}

func (s *Session) listen() error {
	if st := s.State(); st != domain.StateIdle && st != domain.StateWakeListening {
		return domain.ErrSessionBusy
	}
	if err := s.capture.StartCommandCapture(); err != nil {
		var capErr *domain.CaptureError
		if errors.As(err, &capErr) {
			s.onTerminal(capErr)
		}
		return err
	}
	s.setContinuous(s.cfg.Continuous)
	s.pending = nil
	s.setState(domain.StateCommandListening, "push to talk")
	s.armTimer(timerStop, s.cfg.ListenTimeout)
	return nil
}

func (s *Session) shutdown(reason string) {
	s.cancelTimer()
	s.playback.Cancel()
	s.capture.Shutdown()
	s.pending = nil
	s.turn++
	s.setContinuous(false)
	s.setState(domain.StateIdle, reason)
}

func (s *Session) onCapture(ev captureEvent) {
	sig, ok := s.capture.handle(ev)
	if !ok {
		return
	}
	if sig.terminal != nil {
		s.onTerminal(sig.terminal)
		return
	}

	for _, u := range sig.utterances {
		switch sig.mode {
		case domain.CaptureWake:
			if s.State() != domain.StateWakeListening {
				return
			}
			if phrase, ok := matchWakePhrase(u.Text, s.cfg.WakePhrases); ok {
				s.activate(phrase)
				return
			}
		case domain.CaptureCommand:
			if !u.IsFinal {
				s.logger.Debug("interim utterance", "text", u.Text)
				s.userStillTalking()
				continue
			}
			s.onFinal(u)
		}
	}
}

func (s *Session) activate(phrase string) {
	s.logger.Info("wake phrase detected", "phrase", phrase)
	s.memory.SetPreference(domain.PrefLastWakePhrase, phrase)
	s.setContinuous(s.cfg.Continuous)
	s.pending = nil
	s.setState(domain.StateActivating, "wake phrase")
	s.speak(s.cfg.Greeting, domain.EmotionNeutral, speechGreeting)
}

func (s *Session) onFinal(u domain.Utterance) {
	if strings.TrimSpace(u.Text) == "" {
		return
	}

	switch s.State() {
	case domain.StateContinuousWait:
		s.setState(domain.StateCommandListening, "utterance during continuous wait")
	case domain.StateCommandListening:
	default:
		s.logger.Debug("discarding final utterance", "state", s.State(), "text", u.Text)
		return
	}

	s.capture.StopCommandCapture()

	history := s.memory.RecentTurns(s.resolver.HistoryTurns())
	s.memory.RecordTurn(domain.ConversationTurn{
		Speaker:   domain.SpeakerUser,
		Text:      u.Text,
		Timestamp: u.Timestamp,
		Emotion:   DetectEmotion(u.Text),
	})

	now := s.clock.Now()
	pending := s.pending
	s.pending = nil
	if pending.Expired(now) {
		pending = nil
	}

	s.turn++
	turn := s.turn
	req := ResolveRequest{
		Text:     u.Text,
		Snapshot: s.memory.Snapshot(s.ctx),
		History:  history,
		Pending:  pending,
		Now:      now,
	}
	s.setState(domain.StateProcessing, "final utterance")

	ctx := s.ctx
	s.spawn(func() {
		res := s.resolver.Resolve(ctx, req)
		s.post(resolvedEvent{turn: turn, res: res})
	})
}

func (s *Session) onResolved(ev resolvedEvent) {
	if ev.turn != s.turn || s.State() != domain.StateProcessing {
		s.logger.Debug("dropping stale resolution", "turn", ev.turn, "current", s.turn)
		return
	}

	intent := ev.res.Intent
	s.logger.Info("intent resolved", "source", ev.res.Source, "emotion", ev.res.Emotion, "has_navigation", intent.Navigation != nil)

	purpose := speechReply
	if intent.EndSession {
		purpose = speechFarewell
		s.setContinuous(false)
	}
	s.pending = intent.FollowUp

	s.speak(intent.ResponseText, ev.res.Emotion, purpose)

	if intent.Navigation != nil && s.navigator != nil {
		s.navigator.Navigate(intent.Navigation.Route)
	}
}

func (s *Session) onPlayback(ev playbackEvent) {
	kind, ok := s.playback.handle(ev)
	if !ok || kind == domain.SynthesisStarted {
		return
	}
	if st := s.State(); st == domain.StateSpeaking || st == domain.StateActivating {
		s.afterSpeech()
	}
}

// speak takes the speaker: capture is paused before audio starts and only resumed in
// afterSpeech.
func (s *Session) speak(text string, tone domain.Emotion, purpose speechPurpose) {
	s.capture.PauseForPlayback()
	s.purpose = purpose
	if purpose != speechGreeting {
		s.setState(domain.StateSpeaking, "responding")
	}
	if err := s.playback.Speak(text, tone); err != nil {
		s.logger.Error("playback failed", "error", err)
		s.afterSpeech()
	}
}

func (s *Session) afterSpeech() {
	switch s.purpose {
	case speechGreeting:
		if s.resumeCommand() {
			s.setState(domain.StateCommandListening, "greeting finished")
			s.armTimer(timerStop, s.cfg.ListenTimeout)
		}
	case speechReply:
		if !s.Continuous() {
			s.toPassive("reply finished")
			return
		}
		if s.resumeCommand() {
			s.nudged = false
			s.setState(domain.StateContinuousWait, "reply finished")
			s.armTimer(timerNudge, s.cfg.NudgeAfter)
		}
	case speechNudge:
		if s.resumeCommand() {
			s.setState(domain.StateContinuousWait, "nudge finished")
			s.armTimer(timerStop, s.cfg.StopAfter)
		}
	default:
		s.toPassive("session ended")
	}
}

func (s *Session) resumeCommand() bool {
	err := s.capture.ResumeAfterPlayback(domain.CaptureCommand)
	if err == nil {
		return true
	}
	var capErr *domain.CaptureError
	if errors.As(err, &capErr) {
		s.onTerminal(capErr)
		return false
	}
	s.logger.Warn("reopening command capture", "error", err)
	s.setContinuous(false)
	s.toPassive("capture unavailable")
	return false
}

// userStillTalking pushes back the silence timer while a sentence is in progress.
func (s *Session) userStillTalking() {
	if s.timer == nil {
		return
	}
	if st := s.State(); st == domain.StateContinuousWait || st == domain.StateCommandListening {
		s.armTimer(s.timerKind, s.timerFor)
	}
}

// toPassive returns to wake-word scanning, or to Idle when wake listening is off.
func (s *Session) toPassive(reason string) {
	s.setContinuous(false)
	s.pending = nil
	s.capture.StopCommandCapture()
	if !s.capture.WakeEnabled() {
		_ = s.capture.ResumeAfterPlayback(domain.CaptureNone)
		s.setState(domain.StateIdle, reason)
		return
	}

	err := s.capture.ResumeAfterPlayback(domain.CaptureWake)
	var capErr *domain.CaptureError
	if errors.As(err, &capErr) {
		s.onTerminal(capErr)
		return
	}
	s.setState(domain.StateWakeListening, reason)
}

func (s *Session) onTimer(ev timerEvent) {
	if ev.gen != s.timerGen {
		return
	}
	s.timer = nil

	switch st := s.State(); {
	case ev.kind == timerNudge && st == domain.StateContinuousWait && !s.nudged:
		s.nudged = true
		s.speak(s.cfg.Nudge, domain.EmotionCalm, speechNudge)
	case ev.kind == timerStop && (st == domain.StateContinuousWait || st == domain.StateCommandListening):
		s.capture.StopCommandCapture()
		s.toPassive("silence timeout")
	}
}

// onTerminal surfaces a terminal capture error once, by notification and by voice, and
// then settles in WakeListening with capture disabled.
func (s *Session) onTerminal(err *domain.CaptureError) {
	s.logger.Error("capture unavailable", "code", err.Code)
	s.setContinuous(false)
	s.pending = nil
	s.turn++

	message := terminalMessage(err.Code)
	notifier := s.notifier
	ctx := s.ctx
	s.spawn(func() {
		if nerr := notifier.Notify(ctx, message); nerr != nil {
			s.logger.Error("notifying capture error", "error", nerr)
		}
	})
	s.speak(message, domain.EmotionNeutral, speechNotice)
}

func terminalMessage(code domain.CaptureErrorCode) string {
	if code == domain.CodePermissionDenied {
		return "I can't use the microphone. Please allow microphone access and turn me on again."
	}
	return "I can't find a working microphone. Check your audio device and turn me on again."
}

func (s *Session) setState(to domain.SessionState, reason string) {
	s.cancelTimer()

	s.stateMu.Lock()
	from := s.state
	s.state = to
	watchers := s.watchers
	s.stateMu.Unlock()

	if from == to {
		return
	}
	s.logger.Info("session state", "from", from, "to", to, "reason", reason)
	change := domain.StateChange{From: from, To: to, Reason: reason}
	for _, w := range watchers {
		w(change)
	}
}

func (s *Session) setContinuous(v bool) {
	s.stateMu.Lock()
	s.continuous = v
	s.stateMu.Unlock()
}

func (s *Session) armTimer(kind timerKind, d time.Duration) {
	s.cancelTimer()
	s.timerGen++
	gen := s.timerGen
	s.timerKind, s.timerFor = kind, d
	s.timer = s.clock.AfterFunc(d, func() {
		s.post(timerEvent{kind: kind, gen: gen})
	})
}

func (s *Session) cancelTimer() {
	s.timerGen++
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}
