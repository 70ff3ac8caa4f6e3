package application

import (
	"context"
	"fmt"

	"tomme-assistant/internal/domain"
)

type RecognitionOptions struct {
	Mode           domain.CaptureMode
	Continuous     bool
	InterimResults bool
}

// SpeechRecognizer is the speech capture service. Start opens one session and reports
// its lifecycle through emit until Stop is called or the service ends it.
type SpeechRecognizer interface {
	Start(opts RecognitionOptions, emit func(domain.RecognitionEvent)) error
	Stop() error
}

// SpeechSynthesizer speaks one request at a time and reports progress through emit.
type SpeechSynthesizer interface {
	Speak(req domain.SpeechRequest, emit func(domain.SynthesisEvent)) error
	Cancel() error
}

type SpeechToText interface {
	Transcribe(ctx context.Context, audio []byte) (string, error)
}

// NoopSTT is used when no transcription backend is configured.
type NoopSTT struct{}

func (n *NoopSTT) Transcribe(ctx context.Context, audio []byte) (string, error) {
	return "", fmt.Errorf("speech-to-text not configured: set openai.api_key to enable audio transcription")
}
