package speech

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"mediator/internal/application"
	"mediator/internal/domain"
)

var (
	errNotListening = errors.New("party is not recording")
	errBackpressure = errors.New("recognition queue full")
	errRelayStopped = errors.New("relay stopped")
)

type RelayConfig struct {
	Addr      string
	Token     string
	Locale    string
	RateLimit int // results per client per minute over POST and /ws, 0 disables
}

// Relay receives recognition results from an external recognizer, typically
// the browser's Web Speech API, and routes them to the open stream of the
// party they belong to.
type Relay struct {
	cfg      RelayConfig
	logger   *slog.Logger
	mux      *http.ServeMux
	limiter  *RateLimiter
	upgrader websocket.Upgrader

	mu      sync.Mutex
	server  *http.Server
	running bool
	open    *relayStream
}

func NewRelay(cfg RelayConfig, logger *slog.Logger) *Relay {
	if cfg.Locale == "" {
		cfg.Locale = "zh-CN"
	}
	r := &Relay{
		cfg:     cfg,
		logger:  logger.With("component", "relay"),
		mux:     http.NewServeMux(),
		limiter: NewRateLimiter(cfg.RateLimit, time.Minute),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	r.mux.HandleFunc("POST /recognition", r.limiter.Middleware(r.authorized(r.handleRecognition)))
	r.mux.HandleFunc("GET /ws", r.authorized(r.handleWS))
	r.mux.HandleFunc("GET /health", r.handleHealth)
	return r
}

func (r *Relay) Handler() http.Handler {
	return r.mux
}

func (r *Relay) Supported() bool { return true }

// Start serves the relay endpoints until Stop. The listener is bound before
// Start returns.
func (r *Relay) Start(_ context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return nil
	}

	ln, err := net.Listen("tcp", r.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", r.cfg.Addr, err)
	}

	r.server = &http.Server{
		Handler:      r.mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		r.logger.Info("relay listening", "addr", ln.Addr().String(), "locale", r.cfg.Locale)
		if err := r.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			r.logger.Error("relay server error", "error", err)
		}
	}()

	r.running = true
	return nil
}

func (r *Relay) Stop() error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return nil
	}
	r.running = false
	server := r.server
	open := r.open
	r.mu.Unlock()

	if open != nil {
		open.end(errRelayStopped)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		r.logger.Warn("graceful shutdown failed, forcing close", "error", err)
		if err := server.Close(); err != nil {
			return fmt.Errorf("closing relay server: %w", err)
		}
	}
	return nil
}

// Open starts routing results for party. A stream still open from an earlier
// capture is ended first.
func (r *Relay) Open(ctx context.Context, party domain.Party) (application.RecognitionStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s := &relayStream{
		relay:  r,
		party:  party,
		events: make(chan domain.RecognitionEvent, 16),
	}

	r.mu.Lock()
	previous := r.open
	r.open = s
	r.mu.Unlock()

	if previous != nil {
		previous.end(nil)
	}

	s.stopWatch = context.AfterFunc(ctx, func() { s.end(nil) })
	r.logger.Info("listening for recognition results", "party", party)
	return s, nil
}

func (r *Relay) detach(s *relayStream) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.open == s {
		r.open = nil
	}
}

func (r *Relay) listening() (domain.Party, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.open == nil {
		return 0, false
	}
	return r.open.party, true
}

type recognitionResult struct {
	Party   string `json:"party"`
	Final   string `json:"final"`
	Interim string `json:"interim"`
}

func (r *Relay) deliver(res recognitionResult) error {
	party, err := domain.ParseParty(res.Party)
	if err != nil {
		return err
	}

	r.mu.Lock()
	s := r.open
	r.mu.Unlock()

	if s == nil || s.party != party {
		return errNotListening
	}
	return s.push(domain.RecognitionEvent{Final: res.Final, Interim: res.Interim})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidParty):
		return http.StatusBadRequest
	case errors.Is(err, errNotListening):
		return http.StatusConflict
	case errors.Is(err, errBackpressure):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (r *Relay) authorized(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if r.cfg.Token == "" {
			next(w, req)
			return
		}

		token := req.Header.Get("X-Auth-Token")
		if bearer, ok := cutBearer(req.Header.Get("Authorization")); ok {
			token = bearer
		}
		// Browsers cannot set headers on WebSocket upgrades.
		if token == "" {
			token = req.URL.Query().Get("token")
		}

		if token != r.cfg.Token {
			r.logger.Warn("unauthorized relay request", "remote_addr", req.RemoteAddr, "path", req.URL.Path)
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, req)
	}
}

func cutBearer(header string) (string, bool) {
	const prefix = "Bearer "
	if len(header) > len(prefix) && header[:len(prefix)] == prefix {
		return header[len(prefix):], true
	}
	return "", false
}

func (r *Relay) handleRecognition(w http.ResponseWriter, req *http.Request) {
	defer req.Body.Close()

	var res recognitionResult
	if err := json.NewDecoder(io.LimitReader(req.Body, 64*1024)).Decode(&res); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}

	if err := r.deliver(res); err != nil {
		r.logger.Debug("recognition result rejected", "party", res.Party, "error", err)
		writeError(w, statusFor(err), err.Error())
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "received"})
}

type wsMessage struct {
	Type    string `json:"type"`
	Message string `json:"message,omitempty"`
}

func (r *Relay) handleWS(w http.ResponseWriter, req *http.Request) {
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	conn.SetReadLimit(64 * 1024)
	addr := clientAddr(req)
	r.logger.Info("relay websocket connected", "remote_addr", req.RemoteAddr)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				r.logger.Debug("relay websocket closed", "error", err)
			}
			return
		}

		// Each message draws from the same budget as a POST.
		if !r.limiter.Allow(addr) {
			conn.WriteJSON(wsMessage{Type: "error", Message: "rate limit exceeded"})
			continue
		}

		var res recognitionResult
		if err := json.Unmarshal(data, &res); err != nil {
			conn.WriteJSON(wsMessage{Type: "error", Message: "invalid json"})
			continue
		}
		if err := r.deliver(res); err != nil {
			conn.WriteJSON(wsMessage{Type: "error", Message: err.Error()})
		}
	}
}

func (r *Relay) handleHealth(w http.ResponseWriter, _ *http.Request) {
	r.mu.Lock()
	running := r.running
	r.mu.Unlock()

	body := map[string]any{
		"status":  "ok",
		"running": running,
		"locale":  r.cfg.Locale,
	}
	if party, ok := r.listening(); ok {
		body["listening"] = party.String()
	}
	writeJSON(w, http.StatusOK, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

type relayStream struct {
	relay     *Relay
	party     domain.Party
	events    chan domain.RecognitionEvent
	stopWatch func() bool

	mu     sync.Mutex
	closed bool
	err    error
}

func (s *relayStream) Events() <-chan domain.RecognitionEvent { return s.events }

func (s *relayStream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *relayStream) push(ev domain.RecognitionEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errNotListening
	}
	select {
	case s.events <- ev:
		return nil
	default:
		return errBackpressure
	}
}

func (s *relayStream) end(err error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.err = err
	close(s.events)
	s.mu.Unlock()

	s.relay.detach(s)
}

func (s *relayStream) Close() error {
	if s.stopWatch != nil {
		s.stopWatch()
	}
	s.end(nil)
	return nil
}
