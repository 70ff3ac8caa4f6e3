package audio

import (
	"bytes"
	"encoding/binary"
	"time"
)

// SegmentConfig controls energy-threshold endpointing.
type SegmentConfig struct {
	SampleRate       int
	FrameSize        int
	SilenceThreshold int16
	EndSilence       time.Duration // trailing silence that closes a segment
	MaxSegment       time.Duration
	NoSpeechAfter    time.Duration // zero waits forever
	PreRollFrames    int
}

func DefaultSegmentConfig(sampleRate int) SegmentConfig {
	if sampleRate <= 0 {
		sampleRate = 16000
	}
	return SegmentConfig{
		SampleRate:       sampleRate,
		FrameSize:        1024,
		SilenceThreshold: 500,
		EndSilence:       time.Second,
		MaxSegment:       10 * time.Second,
		NoSpeechAfter:    8 * time.Second,
		PreRollFrames:    3,
	}
}

func (c SegmentConfig) samples(d time.Duration) int {
	return int(d.Seconds() * float64(c.SampleRate))
}

type segmentStatus int

const (
	segmentPending segmentStatus = iota
	segmentComplete
	segmentNoSpeech
)

// segmenter accumulates frames into one spoken segment. Quiet frames before speech
// starts are kept only as a short pre-roll.
type segmenter struct {
	cfg     SegmentConfig
	preRoll [][]int16
	samples []int16
	heard   bool
	silent  int
	waited  int
}

func newSegmenter(cfg SegmentConfig) *segmenter {
	return &segmenter{cfg: cfg}
}

func (s *segmenter) push(frame []int16) segmentStatus {
	quiet := isSilent(frame, s.cfg.SilenceThreshold)

	if !s.heard {
		if quiet {
			s.waited += len(frame)
			if s.cfg.PreRollFrames > 0 {
				s.preRoll = append(s.preRoll, frame)
				if len(s.preRoll) > s.cfg.PreRollFrames {
					s.preRoll = s.preRoll[1:]
				}
			}
			if s.cfg.NoSpeechAfter > 0 && s.waited >= s.cfg.samples(s.cfg.NoSpeechAfter) {
				return segmentNoSpeech
			}
			return segmentPending
		}
		s.heard = true
		for _, f := range s.preRoll {
			s.samples = append(s.samples, f...)
		}
		s.preRoll = nil
	}

	s.samples = append(s.samples, frame...)
	if quiet {
		s.silent += len(frame)
	} else {
		s.silent = 0
	}

	if s.silent >= s.cfg.samples(s.cfg.EndSilence) {
		return segmentComplete
	}
	if len(s.samples) >= s.cfg.samples(s.cfg.MaxSegment) {
		return segmentComplete
	}
	return segmentPending
}

func (s *segmenter) reset() {
	s.preRoll = nil
	s.samples = nil
	s.heard = false
	s.silent = 0
	s.waited = 0
}

func isSilent(frame []int16, threshold int16) bool {
	for _, sample := range frame {
		if sample > threshold || sample < -threshold {
			return false
		}
	}
	return true
}

func samplesToWav(samples []int16, sampleRate int) []byte {
	var buf bytes.Buffer

	dataSize := len(samples) * 2
	fileSize := 36 + dataSize

	buf.WriteString("RIFF")
	binary.Write(&buf, binary.LittleEndian, int32(fileSize))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	binary.Write(&buf, binary.LittleEndian, int32(16))
	binary.Write(&buf, binary.LittleEndian, int16(1)) // PCM
	binary.Write(&buf, binary.LittleEndian, int16(1)) // mono
	binary.Write(&buf, binary.LittleEndian, int32(sampleRate))
	binary.Write(&buf, binary.LittleEndian, int32(sampleRate*2))
	binary.Write(&buf, binary.LittleEndian, int16(2))
	binary.Write(&buf, binary.LittleEndian, int16(16))

	buf.WriteString("data")
	binary.Write(&buf, binary.LittleEndian, int32(dataSize))
	binary.Write(&buf, binary.LittleEndian, samples)

	return buf.Bytes()
}
