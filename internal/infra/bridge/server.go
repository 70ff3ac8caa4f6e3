package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"

	"tomme-assistant/internal/domain"
)

// Controller is the slice of the voice session the bridge drives.
type Controller interface {
	EnableWakeListening(ctx context.Context) error
	DisableWakeListening()
	Listen(ctx context.Context) error
	State() domain.SessionState
	Continuous() bool
}

type HistorySource interface {
	RecentTurns(k int) []domain.ConversationTurn
}

// Server is the HTTP and websocket bridge to the browser shell that hosts the
// platform speech services. Besides its Recognizer and Synthesizer it serves as the
// session's navigator, app-state provider and notifier.
type Server struct {
	addr      string
	authToken string
	logger    *slog.Logger
	router    *mux.Router
	hub       *Hub
	limiter   *RateLimiter

	mu          sync.Mutex
	server      *http.Server
	running     bool
	capture     *captureSession
	speech      *speechSession
	appState    domain.AppState
	haveState   bool
	suggestions []string
	controller  Controller
	history     HistorySource
}

func NewServer(addr, authToken string, rateLimit int, logger *slog.Logger) *Server {
	s := &Server{
		addr:      addr,
		authToken: authToken,
		logger:    logger,
		router:    mux.NewRouter(),
		hub:       NewHub(logger),
		limiter:   NewRateLimiter(rateLimit, time.Minute),
	}
	s.hub.welcome = s.welcome
	s.routes()
	return s
}

// Attach connects the session once it has been built with this server as its adapters.
func (s *Server) Attach(controller Controller, history HistorySource) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.controller = controller
	s.history = history
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Hub() *Hub {
	return s.hub
}

func (s *Server) routes() {
	// No auth or rate limiting on health check
	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	api := s.router.NewRoute().Subrouter()
	api.Use(s.authenticate)

	api.HandleFunc("/ws", s.hub.ServeWS).Methods(http.MethodGet)
	api.HandleFunc("/state", s.handleState).Methods(http.MethodGet)
	api.HandleFunc("/history", s.handleHistory).Methods(http.MethodGet)
	api.HandleFunc("/recognition/{kind}", s.handleRecognition).Methods(http.MethodPost)
	api.HandleFunc("/synthesis/{kind}", s.handleSynthesis).Methods(http.MethodPost)

	control := api.NewRoute().Subrouter()
	control.Use(s.limiter.Middleware)
	control.HandleFunc("/app-state", s.handleAppState).Methods(http.MethodPut)
	control.HandleFunc("/wake/enable", s.handleWakeEnable).Methods(http.MethodPost)
	control.HandleFunc("/wake/disable", s.handleWakeDisable).Methods(http.MethodPost)
	control.HandleFunc("/listen", s.handleListen).Methods(http.MethodPost)
}

func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.authToken != "" {
			// Check header first
			token := r.Header.Get("X-Auth-Token")
			// Browsers cannot set headers on websocket upgrades
			if token == "" {
				token = r.URL.Query().Get("token")
			}

			if token != s.authToken {
				s.logger.Warn("unauthorized bridge request", "path", r.URL.Path, "remote_addr", r.RemoteAddr)
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) Start(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}

	s.server = &http.Server{
		Addr:        s.addr,
		Handler:     s.router,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		s.logger.Info("bridge server starting", "addr", s.addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("bridge server error", "error", err)
		}
	}()

	s.running = true
	return nil
}

func (s *Server) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	srv := s.server
	s.mu.Unlock()

	// Hijacked websocket connections are not tracked by Shutdown
	s.hub.Close()

	if srv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			s.logger.Warn("graceful shutdown failed, forcing close", "error", err)
			if err := srv.Close(); err != nil {
				return fmt.Errorf("closing server: %w", err)
			}
		}
	}
	return nil
}

// AppState returns the last state the shell reported.
func (s *Server) AppState(_ context.Context) (domain.AppState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.haveState {
		return domain.AppState{}, errors.New("app state not reported yet")
	}
	return s.appState, nil
}

func (s *Server) Navigate(route domain.Route) {
	s.hub.Broadcast(Message{Type: "navigate", Data: map[string]string{"route": string(route)}})
}

func (s *Server) Notify(_ context.Context, message string) error {
	s.hub.Broadcast(Message{Type: "notice", Data: map[string]string{"message": message}})
	return nil
}

// PublishState pushes a session state change. Safe to pass to Session.Watch.
func (s *Server) PublishState(change domain.StateChange) {
	s.hub.Broadcast(Message{Type: "state", Data: s.statePayload(change.To)})
}

func (s *Server) PublishSuggestions(suggestions []string) {
	s.mu.Lock()
	s.suggestions = append([]string(nil), suggestions...)
	s.mu.Unlock()
	s.hub.Broadcast(Message{Type: "suggestions", Data: suggestions})
}

type statePayload struct {
	State       domain.SessionState `json:"state"`
	Continuous  bool                `json:"continuous"`
	Suggestions []string            `json:"suggestions"`
}

func (s *Server) statePayload(state domain.SessionState) statePayload {
	s.mu.Lock()
	ctl := s.controller
	p := statePayload{State: state, Suggestions: append([]string{}, s.suggestions...)}
	s.mu.Unlock()

	if ctl != nil {
		if state == "" {
			p.State = ctl.State()
		}
		p.Continuous = ctl.Continuous()
	}
	if p.State == "" {
		p.State = domain.StateIdle
	}
	return p
}

func (s *Server) welcome() []Message {
	msgs := []Message{{Type: "state", Data: s.statePayload("")}}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.capture != nil {
		msgs = append(msgs, s.capture.message())
	}
	if s.speech != nil {
		msgs = append(msgs, Message{Type: "speak", Data: s.speech.req})
	}
	return msgs
}
