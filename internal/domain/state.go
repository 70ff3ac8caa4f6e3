package domain

type SessionState string

const (
	StateIdle             SessionState = "idle"
	StateWakeListening    SessionState = "wake_listening"
	StateActivating       SessionState = "activating"
	StateCommandListening SessionState = "command_listening"
	StateProcessing       SessionState = "processing"
	StateSpeaking         SessionState = "speaking"
	StateContinuousWait   SessionState = "continuous_wait"
)

type StateChange struct {
	From   SessionState
	To     SessionState
	Reason string
}
