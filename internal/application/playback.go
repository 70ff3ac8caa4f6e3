package application

import (
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"tomme-assistant/internal/domain"
)

// PlaybackController speaks one response at a time. A new Speak cancels the one in
// progress; there is no queue.
type PlaybackController struct {
	synth  SpeechSynthesizer
	memory *Memory
	voice  string
	post   func(event)
	logger *slog.Logger

	gen      uint64
	speaking bool
	current  string
}

func newPlaybackController(synth SpeechSynthesizer, memory *Memory, voice string, post func(event), logger *slog.Logger) *PlaybackController {
	return &PlaybackController{
		synth:  synth,
		memory: memory,
		voice:  voice,
		post:   post,
		logger: logger,
	}
}

// Speak records the assistant turn and then starts audio. The turn is recorded first so
// history reflects what was said even if playback is cut short.
func (p *PlaybackController) Speak(text string, tone domain.Emotion) error {
	p.memory.RecordTurn(domain.ConversationTurn{
		Speaker: domain.SpeakerAssistant,
		Text:    text,
		Emotion: tone,
	})

	p.Cancel()

	p.gen++
	gen := p.gen
	rate, pitch := prosody(tone)
	req := domain.SpeechRequest{
		ID:    uuid.NewString(),
		Text:  text,
		Voice: p.voice,
		Rate:  rate,
		Pitch: pitch,
	}

	p.speaking = true
	p.current = req.ID
	err := p.synth.Speak(req, func(ev domain.SynthesisEvent) {
		p.post(playbackEvent{gen: gen, ev: ev})
	})
	if err != nil {
		p.speaking = false
		p.current = ""
		return fmt.Errorf("speaking: %w", err)
	}

	p.logger.Debug("playback started", "id", req.ID, "tone", tone)
	return nil
}

func (p *PlaybackController) Cancel() {
	if !p.speaking {
		return
	}
	if err := p.synth.Cancel(); err != nil {
		p.logger.Warn("cancelling playback", "id", p.current, "error", err)
	}
	p.gen++
	p.speaking = false
	p.current = ""
}

func (p *PlaybackController) Speaking() bool { return p.speaking }

func (p *PlaybackController) handle(ev playbackEvent) (domain.SynthesisEventKind, bool) {
	if ev.gen != p.gen {
		p.logger.Debug("dropping stale playback event", "kind", ev.ev.Kind, "gen", ev.gen)
		return "", false
	}
	switch ev.ev.Kind {
	case domain.SynthesisEnded:
		p.speaking = false
		p.current = ""
	case domain.SynthesisFailed:
		p.logger.Warn("playback failed", "id", p.current, "message", ev.ev.Message)
		p.speaking = false
		p.current = ""
	}
	return ev.ev.Kind, true
}

// prosody maps a tone hint to speaking rate and pitch. The text is never altered.
func prosody(tone domain.Emotion) (rate, pitch float64) {
	switch tone {
	case domain.EmotionUrgent:
		return 1.15, 1.05
	case domain.EmotionExcited:
		return 1.1, 1.15
	case domain.EmotionCalm:
		return 0.9, 0.95
	default:
		return 1.0, 1.0
	}
}
