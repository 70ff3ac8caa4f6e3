package domain

import (
	"errors"
	"fmt"
)

var (
	ErrAlreadyActive          = errors.New("command capture already active")
	ErrCapturePaused          = errors.New("capture paused for playback")
	ErrCaptureDisabled        = errors.New("capture disabled after terminal error")
	ErrInterpreterUnavailable = errors.New("interpreter not configured")
	ErrUnparseableResponse    = errors.New("unparseable interpreter response")
	ErrSessionBusy            = errors.New("session is busy")
	ErrSessionStopped         = errors.New("session is no longer running")
)

type CaptureErrorCode string

const (
	CodeNoSpeech          CaptureErrorCode = "no-speech"
	CodePermissionDenied  CaptureErrorCode = "permission-denied"
	CodeDeviceUnavailable CaptureErrorCode = "device-unavailable"
	CodeAborted           CaptureErrorCode = "aborted"
	CodeNetwork           CaptureErrorCode = "network"
)

// Terminal reports whether the error disables listening until re-enabled.
func (c CaptureErrorCode) Terminal() bool {
	return c == CodePermissionDenied || c == CodeDeviceUnavailable
}

type CaptureError struct {
	Code CaptureErrorCode
}

func (e *CaptureError) Error() string {
	return fmt.Sprintf("capture error: %s", e.Code)
}
