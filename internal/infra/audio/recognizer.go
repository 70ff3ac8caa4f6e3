package audio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"tomme-assistant/internal/application"
	"tomme-assistant/internal/domain"
)

// Input is a mono 16-bit sample stream.
type Input interface {
	Open() error
	Read() ([]int16, error)
	Close() error
}

// MicrophoneRecognizer turns microphone segments into final transcripts through a
// speech-to-text backend.
type MicrophoneRecognizer struct {
	input  Input
	stt    application.SpeechToText
	cfg    SegmentConfig
	logger *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewMicrophoneRecognizer(input Input, stt application.SpeechToText, cfg SegmentConfig, logger *slog.Logger) *MicrophoneRecognizer {
	return &MicrophoneRecognizer{
		input:  input,
		stt:    stt,
		cfg:    cfg,
		logger: logger,
	}
}

func (m *MicrophoneRecognizer) Start(opts application.RecognitionOptions, emit func(domain.RecognitionEvent)) error {
	m.Stop()

	if err := m.input.Open(); err != nil {
		var capErr *domain.CaptureError
		if errors.As(err, &capErr) {
			return err
		}
		return fmt.Errorf("opening microphone: %v: %w", err, &domain.CaptureError{Code: domain.CodeDeviceUnavailable})
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	m.mu.Lock()
	m.cancel = cancel
	m.done = done
	m.mu.Unlock()

	go func() {
		defer close(done)
		defer func() {
			if err := m.input.Close(); err != nil {
				m.logger.Warn("closing microphone", "error", err)
			}
		}()
		m.run(ctx, opts, emit)
	}()

	m.logger.Info("microphone listening", "mode", opts.Mode.String(), "sample_rate", m.cfg.SampleRate)
	return nil
}

// Stop ends the running session and waits for the stream to close. No callbacks are
// delivered after it returns.
func (m *MicrophoneRecognizer) Stop() error {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel, m.done = nil, nil
	m.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	<-done
	return nil
}

func (m *MicrophoneRecognizer) run(ctx context.Context, opts application.RecognitionOptions, emit func(domain.RecognitionEvent)) {
	send := func(ev domain.RecognitionEvent) bool {
		if ctx.Err() != nil {
			return false
		}
		emit(ev)
		return true
	}

	if !send(domain.RecognitionEvent{Kind: domain.RecognitionStarted}) {
		return
	}

	seg := newSegmenter(m.cfg)
	for {
		frame, err := m.input.Read()
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			m.logger.Warn("reading microphone", "error", err)
			send(domain.RecognitionEvent{Kind: domain.RecognitionFailed, Code: domain.CodeAborted})
			return
		}

		switch seg.push(frame) {
		case segmentPending:
			continue
		case segmentNoSpeech:
			send(domain.RecognitionEvent{Kind: domain.RecognitionFailed, Code: domain.CodeNoSpeech})
			return
		}

		wav := samplesToWav(seg.samples, m.cfg.SampleRate)
		seg.reset()

		text, err := m.stt.Transcribe(ctx, wav)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			m.logger.Warn("transcribing segment", "error", err)
			send(domain.RecognitionEvent{Kind: domain.RecognitionFailed, Code: domain.CodeNetwork})
			return
		}

		text = strings.TrimSpace(text)
		if text == "" {
			send(domain.RecognitionEvent{Kind: domain.RecognitionFailed, Code: domain.CodeNoSpeech})
			return
		}

		m.logger.Debug("segment transcribed", "text", text, "bytes", len(wav))
		if !send(domain.RecognitionEvent{
			Kind:    domain.RecognitionHeard,
			Results: []domain.RecognitionResult{{Text: text, IsFinal: true}},
		}) {
			return
		}

		if !opts.Continuous {
			send(domain.RecognitionEvent{Kind: domain.RecognitionEnded})
			return
		}
	}
}
