package application

import (
	"context"

	"tomme-assistant/internal/domain"
)

// Interpreter is the external natural-language service. Callers bound it with a deadline.
type Interpreter interface {
	Complete(ctx context.Context, system, prompt string) (string, error)
}

// UnavailableInterpreter always fails, sending every utterance to the fallback rules.
type UnavailableInterpreter struct{}

func (UnavailableInterpreter) Complete(_ context.Context, _, _ string) (string, error) {
	return "", domain.ErrInterpreterUnavailable
}
