package domain

import "time"

type NavigationAction struct {
	Route Route
}

type PendingActionType string

const (
	PendingNavigate PendingActionType = "navigate"
	PendingConfirm  PendingActionType = "confirm"
)

// PendingAction is a yes/no follow-up the assistant is waiting on.
type PendingAction struct {
	Type      PendingActionType
	Route     Route
	ExpiresAt time.Time
}

func (p *PendingAction) Expired(now time.Time) bool {
	return p == nil || !now.Before(p.ExpiresAt)
}

// Intent is the structured interpretation of an utterance.
type Intent struct {
	ResponseText string
	Navigation   *NavigationAction
	FollowUp     *PendingAction
	EndSession   bool
}

type ResolutionSource string

const (
	SourceInterpreter ResolutionSource = "interpreter"
	SourceFallback    ResolutionSource = "fallback"
	SourcePending     ResolutionSource = "pending"
)

type Resolution struct {
	Intent  Intent
	Emotion Emotion
	Source  ResolutionSource
}
