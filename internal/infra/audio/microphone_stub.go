//go:build !portaudio
// +build !portaudio

package audio

import (
	"fmt"

	"tomme-assistant/internal/domain"
)

// PortAudioInput stub when portaudio is not available
type PortAudioInput struct{}

func NewPortAudioInput(sampleRate, frameSize int) *PortAudioInput {
	return &PortAudioInput{}
}

func (p *PortAudioInput) Open() error {
	return fmt.Errorf("microphone input not available, rebuild with -tags portaudio: %w",
		&domain.CaptureError{Code: domain.CodeDeviceUnavailable})
}

func (p *PortAudioInput) Read() ([]int16, error) {
	return nil, fmt.Errorf("microphone input not available")
}

func (p *PortAudioInput) Close() error {
	return nil
}
