package domain

import "time"

type Speaker string

const (
	SpeakerUser      Speaker = "user"
	SpeakerAssistant Speaker = "assistant"
)

type Emotion string

const (
	EmotionNeutral Emotion = "neutral"
	EmotionExcited Emotion = "excited"
	EmotionCalm    Emotion = "calm"
	EmotionUrgent  Emotion = "urgent"
)

// ConversationTurn is an entry in the append-only conversation log.
type ConversationTurn struct {
	ID        string    `json:"id"`
	Speaker   Speaker   `json:"speaker"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
	Emotion   Emotion   `json:"emotion,omitempty"`
}

// MemoryState is the durable part of the context memory.
type MemoryState struct {
	Turns       []ConversationTurn `json:"turns"`
	Preferences map[string]string  `json:"preferences"`
}

const (
	PrefLastWakePhrase = "wake.last_phrase"
)

// SuggestionSuppressedKey is the preference key that silences a suggestion rule.
func SuggestionSuppressedKey(ruleID string) string {
	return "suggestion." + ruleID + ".suppressed"
}
