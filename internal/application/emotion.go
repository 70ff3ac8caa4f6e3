package application

import (
	"strings"

	"tomme-assistant/internal/domain"
)

var (
	urgentWords  = anyOf("urgent*", "asap", "hurry", "quick*", "immediately", "emergency", "right now", "fast")
	excitedWords = anyOf("awesome", "amazing", "great", "love", "wow", "excit*", "fantastic", "yay", "perfect")
	calmWords    = anyOf("relax*", "calm*", "slowly", "no rush", "whenever", "take your time", "chill")
)

// DetectEmotion tags an utterance for playback tone. It has no effect on the intent.
func DetectEmotion(text string) domain.Emotion {
	norm := normalize(text)
	switch {
	case urgentWords(norm):
		return domain.EmotionUrgent
	case excitedWords(norm), strings.Count(text, "!") >= 2:
		return domain.EmotionExcited
	case calmWords(norm):
		return domain.EmotionCalm
	default:
		return domain.EmotionNeutral
	}
}
