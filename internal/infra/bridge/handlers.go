package bridge

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"tomme-assistant/internal/domain"
)

const maxBody = 64 * 1024

type recognitionPayload struct {
	CaptureID string                     `json:"captureId"`
	Results   []domain.RecognitionResult `json:"results"`
	Code      domain.CaptureErrorCode    `json:"code"`
}

type synthesisPayload struct {
	ID      string `json:"id"`
	Message string `json:"message"`
}

func (s *Server) handleRecognition(w http.ResponseWriter, r *http.Request) {
	var kind domain.RecognitionEventKind
	switch mux.Vars(r)["kind"] {
	case "start":
		kind = domain.RecognitionStarted
	case "result":
		kind = domain.RecognitionHeard
	case "error":
		kind = domain.RecognitionFailed
	case "end":
		kind = domain.RecognitionEnded
	default:
		http.Error(w, "unknown recognition event", http.StatusNotFound)
		return
	}

	var p recognitionPayload
	if err := decodeBody(r, &p); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if kind == domain.RecognitionFailed && p.Code == "" {
		http.Error(w, "missing error code", http.StatusBadRequest)
		return
	}

	err := s.recognized(p.CaptureID, domain.RecognitionEvent{Kind: kind, Results: p.Results, Code: p.Code})
	if err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleSynthesis(w http.ResponseWriter, r *http.Request) {
	var kind domain.SynthesisEventKind
	switch mux.Vars(r)["kind"] {
	case "start":
		kind = domain.SynthesisStarted
	case "end":
		kind = domain.SynthesisEnded
	case "error":
		kind = domain.SynthesisFailed
	default:
		http.Error(w, "unknown synthesis event", http.StatusNotFound)
		return
	}

	var p synthesisPayload
	if err := decodeBody(r, &p); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if p.ID == "" {
		http.Error(w, "missing speech id", http.StatusBadRequest)
		return
	}

	if err := s.synthesized(p.ID, domain.SynthesisEvent{Kind: kind, Message: p.Message}); err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleAppState(w http.ResponseWriter, r *http.Request) {
	var st domain.AppState
	if err := decodeBody(r, &st); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if st.Route != "" && !domain.KnownRoute(st.Route) {
		http.Error(w, fmt.Sprintf("unknown route %q", st.Route), http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	s.appState = st
	s.haveState = true
	s.mu.Unlock()

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleWakeEnable(w http.ResponseWriter, r *http.Request) {
	ctl, ok := s.requireController(w)
	if !ok {
		return
	}
	if err := ctl.EnableWakeListening(r.Context()); err != nil {
		s.logger.Warn("enabling wake listening", "error", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.statePayload(""))
}

func (s *Server) handleWakeDisable(w http.ResponseWriter, r *http.Request) {
	ctl, ok := s.requireController(w)
	if !ok {
		return
	}
	ctl.DisableWakeListening()
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleListen(w http.ResponseWriter, r *http.Request) {
	ctl, ok := s.requireController(w)
	if !ok {
		return
	}
	if err := ctl.Listen(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.statePayload(""))
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.statePayload(""))
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	history := s.history
	s.mu.Unlock()

	if history == nil {
		http.Error(w, "session not attached", http.StatusServiceUnavailable)
		return
	}

	k := 10
	if raw := r.URL.Query().Get("k"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			http.Error(w, "k must be a non-negative integer", http.StatusBadRequest)
			return
		}
		k = n
	}

	turns := history.RecentTurns(k)
	if turns == nil {
		turns = []domain.ConversationTurn{}
	}
	writeJSON(w, http.StatusOK, turns)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	running := s.running
	capturing := s.capture != nil
	s.mu.Unlock()

	status := "ok"
	statusCode := http.StatusOK

	if !running {
		status = "not_ready"
		statusCode = http.StatusServiceUnavailable
	}

	writeJSON(w, statusCode, map[string]any{
		"status":    status,
		"running":   running,
		"clients":   s.hub.Clients(),
		"capturing": capturing,
	})
}

func (s *Server) requireController(w http.ResponseWriter) (Controller, bool) {
	s.mu.Lock()
	ctl := s.controller
	s.mu.Unlock()
	if ctl == nil {
		http.Error(w, "session not attached", http.StatusServiceUnavailable)
		return nil, false
	}
	return ctl, true
}

func decodeBody(r *http.Request, v any) error {
	defer r.Body.Close()
	data, err := io.ReadAll(io.LimitReader(r.Body, maxBody))
	if err != nil {
		return fmt.Errorf("failed to read body: %w", err)
	}
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	return nil
}

func writeError(w http.ResponseWriter, err error) {
	var capErr *domain.CaptureError
	switch {
	case errors.Is(err, domain.ErrSessionBusy), errors.Is(err, domain.ErrAlreadyActive), errors.Is(err, domain.ErrCapturePaused):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, domain.ErrCaptureDisabled), errors.As(err, &capErr):
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
