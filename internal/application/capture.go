package application

import (
	"errors"
	"log/slog"
	"time"

	"tomme-assistant/internal/domain"
)

// CaptureArbiter owns the wake-word and command capture sessions. At most one of them
// is open at a time, and none is open while playback holds the speaker.
//
// The arbiter is driven only from the session loop goroutine. Recognizer callbacks are
// posted back into that loop tagged with a generation number; bumping the generation on
// every open/close is what makes late callbacks from a cancelled session harmless.
type CaptureArbiter struct {
	recognizer SpeechRecognizer
	clock      Clock
	backoff    time.Duration
	post       func(event)
	logger     *slog.Logger

	wakeEnabled bool
	mode        domain.CaptureMode
	open        bool
	paused      bool
	gen         uint64
	restart     Timer
	disabled    *domain.CaptureError
}

type captureSignal struct {
	mode       domain.CaptureMode
	utterances []domain.Utterance
	terminal   *domain.CaptureError
}

func newCaptureArbiter(recognizer SpeechRecognizer, clock Clock, backoff time.Duration, post func(event), logger *slog.Logger) *CaptureArbiter {
	if backoff <= 0 {
		backoff = 300 * time.Millisecond
	}
	return &CaptureArbiter{
		recognizer: recognizer,
		clock:      clock,
		backoff:    backoff,
		post:       post,
		logger:     logger,
	}
}

// EnableWakeListening is idempotent. It also clears a latched terminal error, since an
// explicit enable means the user granted access again.
func (a *CaptureArbiter) EnableWakeListening() error {
	a.wakeEnabled = true
	a.disabled = nil
	if a.paused || a.mode != domain.CaptureNone {
		return nil
	}
	return a.openSession(domain.CaptureWake)
}

func (a *CaptureArbiter) DisableWakeListening() {
	a.wakeEnabled = false
	if a.mode == domain.CaptureWake {
		a.closeSession()
	}
}

func (a *CaptureArbiter) StartCommandCapture() error {
	if a.mode == domain.CaptureCommand {
		return domain.ErrAlreadyActive
	}
	if a.disabled != nil {
		return domain.ErrCaptureDisabled
	}
	if a.paused {
		return domain.ErrCapturePaused
	}
	a.closeSession()
	return a.openSession(domain.CaptureCommand)
}

func (a *CaptureArbiter) StopCommandCapture() {
	if a.mode == domain.CaptureCommand {
		a.closeSession()
	}
}

// ReturnToWake closes any command session and reopens wake-word scanning if enabled.
func (a *CaptureArbiter) ReturnToWake() error {
	if a.mode == domain.CaptureWake {
		return nil
	}
	a.closeSession()
	if !a.wakeEnabled || a.disabled != nil || a.paused {
		return nil
	}
	return a.openSession(domain.CaptureWake)
}

func (a *CaptureArbiter) PauseForPlayback() {
	a.paused = true
	a.closeSession()
}

// ResumeAfterPlayback releases the microphone and opens the session the caller wants next.
func (a *CaptureArbiter) ResumeAfterPlayback(next domain.CaptureMode) error {
	a.paused = false
	switch next {
	case domain.CaptureCommand:
		if a.disabled != nil {
			return domain.ErrCaptureDisabled
		}
		if a.mode == domain.CaptureCommand {
			return nil
		}
		a.closeSession()
		return a.openSession(domain.CaptureCommand)
	case domain.CaptureWake:
		return a.ReturnToWake()
	}
	return nil
}

// Shutdown closes everything and forgets the wake-listening request.
func (a *CaptureArbiter) Shutdown() {
	a.wakeEnabled = false
	a.paused = false
	a.closeSession()
}

func (a *CaptureArbiter) Capturing() bool          { return a.open }
func (a *CaptureArbiter) Mode() domain.CaptureMode { return a.mode }
func (a *CaptureArbiter) WakeEnabled() bool        { return a.wakeEnabled }
func (a *CaptureArbiter) Disabled() bool           { return a.disabled != nil }

func (a *CaptureArbiter) openSession(mode domain.CaptureMode) error {
	a.cancelRestart()
	a.gen++
	gen := a.gen
	a.mode = mode
	a.open = false

	opts := RecognitionOptions{
		Mode:           mode,
		Continuous:     true,
		InterimResults: mode == domain.CaptureCommand,
	}
	err := a.recognizer.Start(opts, func(ev domain.RecognitionEvent) {
		a.post(captureEvent{gen: gen, ev: ev})
	})
	if err != nil {
		var capErr *domain.CaptureError
		if errors.As(err, &capErr) && capErr.Code.Terminal() {
			a.block(capErr)
			return capErr
		}
		a.logger.Warn("starting capture failed, retrying", "mode", mode, "error", err)
		a.scheduleRestart()
		return nil
	}

	a.open = true
	a.logger.Debug("capture session opened", "mode", mode, "gen", gen)
	return nil
}

func (a *CaptureArbiter) closeSession() {
	a.cancelRestart()
	a.gen++
	if a.open {
		if err := a.recognizer.Stop(); err != nil {
			a.logger.Warn("stopping capture", "mode", a.mode, "error", err)
		}
	}
	a.open = false
	a.mode = domain.CaptureNone
}

func (a *CaptureArbiter) block(err *domain.CaptureError) {
	a.closeSession()
	a.disabled = err
}

func (a *CaptureArbiter) scheduleRestart() {
	if a.restart != nil || a.mode == domain.CaptureNone || a.paused {
		return
	}
	gen := a.gen
	a.restart = a.clock.AfterFunc(a.backoff, func() {
		a.post(captureRestartEvent{gen: gen})
	})
}

func (a *CaptureArbiter) cancelRestart() {
	if a.restart != nil {
		a.restart.Stop()
		a.restart = nil
	}
}

// handleRestart reopens the session after the backoff. It returns the terminal error
// when the recognizer refuses to start for good.
func (a *CaptureArbiter) handleRestart(ev captureRestartEvent) *domain.CaptureError {
	if ev.gen != a.gen || a.restart == nil {
		return nil
	}
	a.restart = nil
	if a.paused || a.mode == domain.CaptureNone {
		return nil
	}
	mode := a.mode
	err := a.openSession(mode)
	if err == nil {
		return nil
	}
	a.logger.Error("restarting capture", "mode", mode, "error", err)
	var capErr *domain.CaptureError
	if errors.As(err, &capErr) {
		return capErr
	}
	return nil
}

// handle applies a recognizer callback. It reports ok=false for callbacks that belong to
// a session that has since been cancelled or replaced.
func (a *CaptureArbiter) handle(ev captureEvent) (captureSignal, bool) {
	if ev.gen != a.gen {
		a.logger.Debug("dropping stale capture event", "kind", ev.ev.Kind, "gen", ev.gen, "current", a.gen)
		return captureSignal{}, false
	}

	switch ev.ev.Kind {
	case domain.RecognitionStarted:
		a.open = true

	case domain.RecognitionHeard:
		now := a.clock.Now()
		sig := captureSignal{mode: a.mode}
		for _, r := range ev.ev.Results {
			sig.utterances = append(sig.utterances, domain.Utterance{
				Text:       r.Text,
				IsFinal:    r.IsFinal,
				Confidence: r.Confidence,
				Timestamp:  now,
			})
		}
		return sig, true

	case domain.RecognitionFailed:
		code := ev.ev.Code
		if code.Terminal() {
			capErr := &domain.CaptureError{Code: code}
			a.block(capErr)
			return captureSignal{terminal: capErr}, true
		}
		a.logger.Debug("recoverable capture error, restarting", "mode", a.mode, "code", code)
		if a.open {
			if err := a.recognizer.Stop(); err != nil {
				a.logger.Debug("stopping failed capture", "error", err)
			}
		}
		a.open = false
		a.scheduleRestart()

	case domain.RecognitionEnded:
		a.open = false
		a.scheduleRestart()
	}

	return captureSignal{}, true
}
