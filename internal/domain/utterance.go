package domain

import "time"

// Utterance is a transcript produced by a capture session. Interim utterances are
// superseded by later ones for the same turn; final utterances never change.
type Utterance struct {
	Text       string
	IsFinal    bool
	Confidence *float64
	Timestamp  time.Time
}

type CaptureMode int

const (
	CaptureNone CaptureMode = iota
	CaptureWake
	CaptureCommand
)

func (m CaptureMode) String() string {
	switch m {
	case CaptureWake:
		return "wake"
	case CaptureCommand:
		return "command"
	default:
		return "none"
	}
}

type RecognitionEventKind string

const (
	RecognitionStarted RecognitionEventKind = "start"
	RecognitionHeard   RecognitionEventKind = "result"
	RecognitionFailed  RecognitionEventKind = "error"
	RecognitionEnded   RecognitionEventKind = "end"
)

// RecognitionResult is one alternative reported by the speech capture service.
type RecognitionResult struct {
	Text       string   `json:"text"`
	IsFinal    bool     `json:"isFinal"`
	Confidence *float64 `json:"confidence,omitempty"`
}

// RecognitionEvent is a callback from the speech capture service.
type RecognitionEvent struct {
	Kind    RecognitionEventKind
	Results []RecognitionResult
	Code    CaptureErrorCode
}

type SynthesisEventKind string

const (
	SynthesisStarted SynthesisEventKind = "start"
	SynthesisEnded   SynthesisEventKind = "end"
	SynthesisFailed  SynthesisEventKind = "error"
)

type SynthesisEvent struct {
	Kind    SynthesisEventKind
	Message string
}

// SpeechRequest is what the synthesis service is asked to say.
type SpeechRequest struct {
	ID    string  `json:"id"`
	Text  string  `json:"text"`
	Voice string  `json:"voice,omitempty"`
	Rate  float64 `json:"rate"`
	Pitch float64 `json:"pitch"`
}
