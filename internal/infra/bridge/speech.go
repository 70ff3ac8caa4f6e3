package bridge

import (
	"errors"

	"github.com/google/uuid"

	"tomme-assistant/internal/application"
	"tomme-assistant/internal/domain"
)

var (
	errNoCapture = errors.New("no capture session open")
	errNoSpeech  = errors.New("no speech in progress")
	errNoClient  = errors.New("no bridge client connected")
	errStaleID   = errors.New("callback for a superseded session")
)

type captureSession struct {
	id   string
	opts application.RecognitionOptions
	emit func(domain.RecognitionEvent)
}

func (c *captureSession) message() Message {
	return Message{Type: "capture", Data: map[string]any{
		"captureId":      c.id,
		"mode":           c.opts.Mode.String(),
		"continuous":     c.opts.Continuous,
		"interimResults": c.opts.InterimResults,
	}}
}

type speechSession struct {
	req  domain.SpeechRequest
	emit func(domain.SynthesisEvent)
}

// Recognizer is the speech capture service hosted by the shell.
type Recognizer struct {
	s *Server
}

// Synthesizer is the speech synthesis service hosted by the shell.
type Synthesizer struct {
	s *Server
}

func (s *Server) Recognizer() *Recognizer {
	return &Recognizer{s: s}
}

func (s *Server) Synthesizer() *Synthesizer {
	return &Synthesizer{s: s}
}

// Start asks the shell to open a recognition session. It succeeds with no client
// connected; the request is replayed when the shell connects.
func (r *Recognizer) Start(opts application.RecognitionOptions, emit func(domain.RecognitionEvent)) error {
	s := r.s
	c := &captureSession{id: uuid.NewString(), opts: opts, emit: emit}

	s.mu.Lock()
	s.capture = c
	s.mu.Unlock()

	s.logger.Debug("capture requested", "capture_id", c.id, "mode", opts.Mode.String())
	s.hub.Broadcast(c.message())
	return nil
}

func (r *Recognizer) Stop() error {
	s := r.s
	s.mu.Lock()
	c := s.capture
	s.capture = nil
	s.mu.Unlock()

	if c == nil {
		return nil
	}
	s.hub.Broadcast(Message{Type: "stop-capture", Data: map[string]string{"captureId": c.id}})
	return nil
}

// recognized forwards a shell callback to the open capture session.
func (s *Server) recognized(captureID string, ev domain.RecognitionEvent) error {
	s.mu.Lock()
	c := s.capture
	if c != nil && ev.Kind == domain.RecognitionEnded && (captureID == "" || captureID == c.id) {
		s.capture = nil
	}
	s.mu.Unlock()

	if c == nil {
		return errNoCapture
	}
	if captureID != "" && captureID != c.id {
		return errStaleID
	}
	c.emit(ev)
	return nil
}

// Speak pushes a speech request to the shell, replacing any utterance in progress.
func (sy *Synthesizer) Speak(req domain.SpeechRequest, emit func(domain.SynthesisEvent)) error {
	s := sy.s
	if s.hub.Clients() == 0 {
		return errNoClient
	}

	s.mu.Lock()
	s.speech = &speechSession{req: req, emit: emit}
	s.mu.Unlock()

	s.hub.Broadcast(Message{Type: "speak", Data: req})
	return nil
}

func (sy *Synthesizer) Cancel() error {
	s := sy.s
	s.mu.Lock()
	sp := s.speech
	s.speech = nil
	s.mu.Unlock()

	if sp == nil {
		return nil
	}
	s.hub.Broadcast(Message{Type: "cancel-speech", Data: map[string]string{"id": sp.req.ID}})
	return nil
}

func (s *Server) synthesized(id string, ev domain.SynthesisEvent) error {
	s.mu.Lock()
	sp := s.speech
	if sp != nil && sp.req.ID == id && ev.Kind != domain.SynthesisStarted {
		s.speech = nil
	}
	s.mu.Unlock()

	if sp == nil {
		return errNoSpeech
	}
	if sp.req.ID != id {
		return errStaleID
	}
	sp.emit(ev)
	return nil
}
