package application

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"mediator/internal/domain"
)

// Ticker drives the elapsed-seconds counter of a recording.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type TickerFactory func(interval time.Duration) Ticker

type timeTicker struct {
	t *time.Ticker
}

func (t timeTicker) C() <-chan time.Time { return t.t.C }
func (t timeTicker) Stop()               { t.t.Stop() }

func NewTimeTicker(interval time.Duration) Ticker {
	return timeTicker{t: time.NewTicker(interval)}
}

// Warning is a non-fatal problem with live transcription. The recording it
// belongs to keeps its timer and may be stopped or retried normally.
type Warning struct {
	Party domain.Party
	Err   error
}

func (w Warning) Error() string {
	return fmt.Sprintf("%s: %v", w.Party.Label(), w.Err)
}

func (w Warning) Unwrap() error { return w.Err }

type SessionOption func(*Session)

func WithTicker(f TickerFactory) SessionOption {
	return func(s *Session) { s.newTicker = f }
}

func WithTickInterval(d time.Duration) SessionOption {
	return func(s *Session) {
		if d > 0 {
			s.interval = d
		}
	}
}

// Session records the statements of both parties. Only the active party can be
// recorded and at most one capture runs at a time. Every mutation, including
// timer ticks and recognition results, happens under mu and is checked against
// the capture that produced it, so nothing from a stopped capture lands.
type Session struct {
	id         string
	recognizer Recognizer
	newTicker  TickerFactory
	interval   time.Duration
	logger     *slog.Logger
	warnings   chan Warning

	mu                sync.Mutex
	states            [2]domain.RecordingState
	active            domain.Party
	current           *capture
	warnedUnsupported bool
	closed            bool

	// running counts capture goroutines, including ones already detached by
	// Stop or Reset that have not finished, so Close can wait before closing
	// warnings.
	running sync.WaitGroup
}

// capture is one start..stop span. party is fixed when the capture begins and is
// the only place tick and recognition handlers take their target from.
type capture struct {
	party  domain.Party
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

type openResult struct {
	stream RecognitionStream
	err    error
}

func NewSession(recognizer Recognizer, logger *slog.Logger, opts ...SessionOption) *Session {
	if recognizer == nil {
		recognizer = NoopRecognizer{}
	}
	id := uuid.NewString()
	s := &Session{
		id:         id,
		recognizer: recognizer,
		newTicker:  NewTimeTicker,
		interval:   time.Second,
		logger:     logger.With("session", id),
		warnings:   make(chan Warning, 8),
		active:     domain.PartyA,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Session) ID() string { return s.id }

// Supported reports whether recordings will receive live transcription.
func (s *Session) Supported() bool { return s.recognizer.Supported() }

// Warnings delivers non-fatal recognition problems. It is closed by Close.
func (s *Session) Warnings() <-chan Warning { return s.warnings }

func (s *Session) Active() domain.Party {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

func (s *Session) State(p domain.Party) domain.RecordingState {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !p.Valid() {
		return domain.RecordingState{}
	}
	return s.states[p]
}

// SelectActiveParty switches which party the next recording belongs to. It is
// refused while the active party is recording.
func (s *Session) SelectActiveParty(p domain.Party) error {
	if !p.Valid() {
		return domain.ErrInvalidParty
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return domain.ErrSessionClosed
	}
	if s.current != nil {
		return domain.ErrRecordingInProgress
	}
	s.active = p
	return nil
}

func (s *Session) StartRecording() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return domain.ErrSessionClosed
	}
	if s.current != nil {
		return domain.ErrAlreadyRecording
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &capture{
		party:  s.active,
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	s.current = c
	s.states[c.party].IsRecording = true

	recognize := s.recognizer.Supported()
	if !recognize && !s.warnedUnsupported {
		s.warnedUnsupported = true
		s.warn(c.party, domain.ErrRecognitionUnsupported)
	}

	s.logger.Info("recording started", "party", c.party, "live_transcription", recognize)
	s.running.Add(1)
	go s.run(c, s.newTicker(s.interval), recognize)
	return nil
}

func (s *Session) StopRecording() error {
	s.mu.Lock()
	c := s.current
	if c == nil || c.party != s.active {
		s.mu.Unlock()
		return domain.ErrNotRecording
	}
	s.current = nil
	state := &s.states[c.party]
	state.Commit()
	elapsed := state.ElapsedSeconds
	transcribed := state.FinalTranscript != ""
	s.mu.Unlock()

	c.cancel()
	<-c.done

	s.logger.Info("recording stopped",
		"party", c.party,
		"elapsed", elapsed,
		"transcribed", transcribed,
	)
	return nil
}

// ResetRecording clears the active party's state, stopping its capture first
// when one is running.
func (s *Session) ResetRecording() {
	s.mu.Lock()
	c := s.current
	if c != nil && c.party == s.active {
		s.current = nil
	} else {
		c = nil
	}
	party := s.active
	s.states[party] = domain.RecordingState{}
	s.mu.Unlock()

	if c != nil {
		c.cancel()
		<-c.done
	}
	s.logger.Info("recording reset", "party", party)
}

// ApplyRecognitionEvent merges a recognition result into the party's transcript.
// Results for a party that is not recording are dropped.
func (s *Session) ApplyRecognitionEvent(p domain.Party, final, interim string) {
	if !p.Valid() {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.states[p].IsRecording {
		return
	}
	s.states[p].Merge(domain.RecognitionEvent{Final: final, Interim: interim})
}

// ReadyToProceed is true once both parties have a committed recording.
func (s *Session) ReadyToProceed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readyLocked()
}

func (s *Session) readyLocked() bool {
	return s.states[domain.PartyA].Recorded() && s.states[domain.PartyB].Recorded()
}

// BuildMediationInput returns both statements once ReadyToProceed holds and no
// recording is running.
func (s *Session) BuildMediationInput() (domain.MediationInput, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.readyLocked() {
		return domain.MediationInput{}, domain.ErrNotReady
	}
	// A party recording again has not committed its new statement yet.
	if s.current != nil {
		return domain.MediationInput{}, domain.ErrRecordingInProgress
	}
	return domain.MediationInput{
		PartyA: s.states[domain.PartyA].Statement(),
		PartyB: s.states[domain.PartyB].Statement(),
	}, nil
}

// Close abandons the session. A running capture is torn down without being
// committed. Warnings is closed once every capture goroutine has exited.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	c := s.current
	s.current = nil
	if c != nil {
		state := &s.states[c.party]
		state.IsRecording = false
		state.InterimTranscript = ""
	}
	s.mu.Unlock()

	if c != nil {
		c.cancel()
	}
	s.running.Wait()
	close(s.warnings)
}

func (s *Session) run(c *capture, ticker Ticker, recognize bool) {
	defer s.running.Done()
	defer close(c.done)
	defer ticker.Stop()

	var (
		stream RecognitionStream
		events <-chan domain.RecognitionEvent
		opened chan openResult
	)
	if recognize {
		opened = make(chan openResult, 1)
		go func() {
			st, err := s.recognizer.Open(c.ctx, c.party)
			opened <- openResult{stream: st, err: err}
		}()
	}
	defer func() {
		switch {
		case stream != nil:
			s.closeStream(stream)
		case opened != nil:
			// Open is still in flight; close whatever it eventually returns.
			go func() {
				if r := <-opened; r.stream != nil {
					s.closeStream(r.stream)
				}
			}()
		}
	}()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C():
			s.tick(c)
		case r := <-opened:
			opened = nil
			if r.err != nil {
				if c.ctx.Err() == nil {
					s.warn(c.party, fmt.Errorf("opening recognition: %w", r.err))
				}
				continue
			}
			stream = r.stream
			events = stream.Events()
		case ev, ok := <-events:
			if !ok {
				events = nil
				if err := stream.Err(); err != nil && c.ctx.Err() == nil {
					s.warn(c.party, fmt.Errorf("recognition stopped: %w", err))
				}
				continue
			}
			s.merge(c, ev)
		}
	}
}

func (s *Session) tick(c *capture) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current != c {
		return
	}
	s.states[c.party].ElapsedSeconds++
}

func (s *Session) merge(c *capture, ev domain.RecognitionEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current != c {
		return
	}
	s.states[c.party].Merge(ev)
}

func (s *Session) closeStream(stream RecognitionStream) {
	if err := stream.Close(); err != nil {
		s.logger.Debug("closing recognition stream", "error", err)
	}
}

// warn never blocks; when nobody drains Warnings the warning is only logged.
func (s *Session) warn(p domain.Party, err error) {
	w := Warning{Party: p, Err: err}
	s.logger.Warn("recognition warning", "party", p, "error", err)
	select {
	case s.warnings <- w:
	default:
	}
}
