package application

import "tomme-assistant/internal/domain"

// event is the closed set of inputs the session loop consumes. Every collaborator
// callback and timer is normalized into one of these before it touches session state.
type event interface {
	isEvent()
}

type enableWakeEvent struct {
	result chan error
}

type disableWakeEvent struct{}

type listenEvent struct {
	result chan error
}

type shutdownEvent struct {
	done chan struct{}
}

// captureEvent carries a recognizer callback tagged with the session generation that
// produced it.
type captureEvent struct {
	gen uint64
	ev  domain.RecognitionEvent
}

type captureRestartEvent struct {
	gen uint64
}

type playbackEvent struct {
	gen uint64
	ev  domain.SynthesisEvent
}

type resolvedEvent struct {
	turn uint64
	res  domain.Resolution
}

type timerKind int

const (
	timerNudge timerKind = iota
	timerStop
)

func (k timerKind) String() string {
	if k == timerNudge {
		return "nudge"
	}
	return "stop"
}

type timerEvent struct {
	kind timerKind
	gen  uint64
}

func (enableWakeEvent) isEvent()     {}
func (disableWakeEvent) isEvent()    {}
func (listenEvent) isEvent()         {}
func (shutdownEvent) isEvent()       {}
func (captureEvent) isEvent()        {}
func (captureRestartEvent) isEvent() {}
func (playbackEvent) isEvent()       {}
func (resolvedEvent) isEvent()       {}
func (timerEvent) isEvent()          {}
