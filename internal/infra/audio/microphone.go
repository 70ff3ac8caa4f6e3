//go:build portaudio
// +build portaudio

package audio

import (
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"

	"tomme-assistant/internal/domain"
)

// PortAudioInput reads the default input device.
type PortAudioInput struct {
	sampleRate int
	frameSize  int

	mu     sync.Mutex
	stream *portaudio.Stream
	buffer []int16
}

func NewPortAudioInput(sampleRate, frameSize int) *PortAudioInput {
	if frameSize <= 0 {
		frameSize = 1024
	}
	return &PortAudioInput{
		sampleRate: sampleRate,
		frameSize:  frameSize,
	}
}

func (p *PortAudioInput) Open() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("initializing portaudio: %w", err)
	}

	device, err := portaudio.DefaultInputDevice()
	if err != nil || device == nil || device.MaxInputChannels < 1 {
		portaudio.Terminate()
		return fmt.Errorf("no input device: %v: %w", err, &domain.CaptureError{Code: domain.CodeDeviceUnavailable})
	}

	p.buffer = make([]int16, p.frameSize)

	params := portaudio.LowLatencyParameters(device, nil)
	params.Input.Channels = 1
	params.SampleRate = float64(p.sampleRate)
	params.FramesPerBuffer = p.frameSize

	stream, err := portaudio.OpenStream(params, p.buffer)
	if err != nil {
		portaudio.Terminate()
		return fmt.Errorf("opening stream on %s: %w", device.Name, err)
	}

	if err := stream.Start(); err != nil {
		stream.Close()
		portaudio.Terminate()
		return fmt.Errorf("starting stream: %w", err)
	}

	p.stream = stream
	return nil
}

func (p *PortAudioInput) Read() ([]int16, error) {
	p.mu.Lock()
	stream := p.stream
	p.mu.Unlock()

	if stream == nil {
		return nil, fmt.Errorf("stream not open")
	}
	if err := stream.Read(); err != nil {
		return nil, fmt.Errorf("reading from stream: %w", err)
	}

	frame := make([]int16, len(p.buffer))
	copy(frame, p.buffer)
	return frame, nil
}

func (p *PortAudioInput) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stream == nil {
		return nil
	}
	p.stream.Stop()
	err := p.stream.Close()
	p.stream = nil
	portaudio.Terminate()
	return err
}
