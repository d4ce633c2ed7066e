package application_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"mediator/internal/application"
	"mediator/internal/domain"
)

type manualTicker struct {
	ch      chan time.Time
	stopped chan struct{}
	once    sync.Once
}

func (m *manualTicker) C() <-chan time.Time { return m.ch }

func (m *manualTicker) Stop() {
	m.once.Do(func() { close(m.stopped) })
}

type tickers struct {
	mu   sync.Mutex
	list []*manualTicker
}

func (t *tickers) factory(time.Duration) application.Ticker {
	mt := &manualTicker{ch: make(chan time.Time), stopped: make(chan struct{})}
	t.mu.Lock()
	t.list = append(t.list, mt)
	t.mu.Unlock()
	return mt
}

func (t *tickers) last(tb testing.TB) *manualTicker {
	tb.Helper()
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.list) == 0 {
		tb.Fatal("no ticker created")
	}
	return t.list[len(t.list)-1]
}

func (m *manualTicker) tick(tb testing.TB) {
	tb.Helper()
	select {
	case m.ch <- time.Now():
	case <-time.After(2 * time.Second):
		tb.Fatal("tick not consumed")
	}
}

type fakeStream struct {
	events chan domain.RecognitionEvent
	closed chan struct{}
	err    error
	once   sync.Once
}

func newFakeStream() *fakeStream {
	return &fakeStream{
		events: make(chan domain.RecognitionEvent, 16),
		closed: make(chan struct{}),
	}
}

func (f *fakeStream) Events() <-chan domain.RecognitionEvent { return f.events }
func (f *fakeStream) Err() error                             { return f.err }

func (f *fakeStream) Close() error {
	f.once.Do(func() { close(f.closed) })
	return nil
}

type fakeRecognizer struct {
	supported bool
	openErr   error
	opened    chan *fakeStream

	mu      sync.Mutex
	parties []domain.Party
}

func newFakeRecognizer() *fakeRecognizer {
	return &fakeRecognizer{supported: true, opened: make(chan *fakeStream, 8)}
}

func (f *fakeRecognizer) Supported() bool { return f.supported }

func (f *fakeRecognizer) Open(_ context.Context, party domain.Party) (application.RecognitionStream, error) {
	f.mu.Lock()
	f.parties = append(f.parties, party)
	f.mu.Unlock()
	if f.openErr != nil {
		return nil, f.openErr
	}
	st := newFakeStream()
	f.opened <- st
	return st, nil
}

func (f *fakeRecognizer) nextStream(tb testing.TB) *fakeStream {
	tb.Helper()
	select {
	case st := <-f.opened:
		return st
	case <-time.After(2 * time.Second):
		tb.Fatal("recognition stream was not opened")
		return nil
	}
}

func newTestSession(rec application.Recognizer) (*application.Session, *tickers) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	tk := &tickers{}
	return application.NewSession(rec, logger, application.WithTicker(tk.factory)), tk
}

func waitFor(tb testing.TB, what string, cond func() bool) {
	tb.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	tb.Fatalf("timeout waiting for %s", what)
}

func nextWarning(tb testing.TB, s *application.Session) application.Warning {
	tb.Helper()
	select {
	case w := <-s.Warnings():
		return w
	case <-time.After(2 * time.Second):
		tb.Fatal("no warning delivered")
		return application.Warning{}
	}
}

func TestSession_TranscriptMergedAndCommitted(t *testing.T) {
	rec := newFakeRecognizer()
	s, _ := newTestSession(rec)
	defer s.Close()

	if err := s.StartRecording(); err != nil {
		t.Fatalf("StartRecording: %v", err)
	}
	st := rec.nextStream(t)

	st.events <- domain.RecognitionEvent{Final: "你好"}
	st.events <- domain.RecognitionEvent{Final: "我觉得", Interim: "还有"}

	waitFor(t, "interim transcript", func() bool {
		return s.State(domain.PartyA).InterimTranscript == "还有"
	})

	got := s.State(domain.PartyA)
	if got.FinalTranscript != "你好 我觉得" {
		t.Errorf("FinalTranscript: got %q, want %q", got.FinalTranscript, "你好 我觉得")
	}

	if err := s.StopRecording(); err != nil {
		t.Fatalf("StopRecording: %v", err)
	}

	got = s.State(domain.PartyA)
	if got.IsRecording {
		t.Error("IsRecording should be false after stop")
	}
	if got.InterimTranscript != "" {
		t.Errorf("InterimTranscript: got %q, want empty", got.InterimTranscript)
	}
	if got.CommittedContent != "你好 我觉得" {
		t.Errorf("CommittedContent: got %q, want transcript", got.CommittedContent)
	}

	select {
	case <-st.closed:
	default:
		t.Error("recognition stream not closed on stop")
	}
}

func TestSession_PlaceholderWithoutTranscript(t *testing.T) {
	s, tk := newTestSession(application.NoopRecognizer{})
	defer s.Close()

	if err := s.StartRecording(); err != nil {
		t.Fatalf("StartRecording: %v", err)
	}
	mt := tk.last(t)
	for i := 0; i < 7; i++ {
		mt.tick(t)
	}
	waitFor(t, "seven ticks", func() bool {
		return s.State(domain.PartyA).ElapsedSeconds == 7
	})

	if err := s.StopRecording(); err != nil {
		t.Fatalf("StopRecording: %v", err)
	}

	if got := s.State(domain.PartyA).CommittedContent; got != "录音内容 7秒" {
		t.Errorf("CommittedContent: got %q, want %q", got, "录音内容 7秒")
	}
}

func TestSession_NoTickAfterStop(t *testing.T) {
	s, tk := newTestSession(application.NoopRecognizer{})
	defer s.Close()

	if err := s.StartRecording(); err != nil {
		t.Fatalf("StartRecording: %v", err)
	}
	mt := tk.last(t)
	mt.tick(t)
	mt.tick(t)
	waitFor(t, "two ticks", func() bool {
		return s.State(domain.PartyA).ElapsedSeconds == 2
	})

	if err := s.StopRecording(); err != nil {
		t.Fatalf("StopRecording: %v", err)
	}

	select {
	case <-mt.stopped:
	default:
		t.Fatal("ticker not stopped after StopRecording returned")
	}

	select {
	case mt.ch <- time.Now():
		t.Fatal("tick consumed after stop")
	case <-time.After(50 * time.Millisecond):
	}

	if got := s.State(domain.PartyA).ElapsedSeconds; got != 2 {
		t.Errorf("ElapsedSeconds after stop: got %d, want 2", got)
	}
}

func TestSession_NoTickForPartySwitchedAway(t *testing.T) {
	s, tk := newTestSession(application.NoopRecognizer{})
	defer s.Close()

	if err := s.StartRecording(); err != nil {
		t.Fatalf("StartRecording: %v", err)
	}
	first := tk.last(t)
	first.tick(t)
	waitFor(t, "first tick", func() bool {
		return s.State(domain.PartyA).ElapsedSeconds == 1
	})
	if err := s.StopRecording(); err != nil {
		t.Fatalf("StopRecording: %v", err)
	}

	if err := s.SelectActiveParty(domain.PartyB); err != nil {
		t.Fatalf("SelectActiveParty: %v", err)
	}
	if err := s.StartRecording(); err != nil {
		t.Fatalf("StartRecording B: %v", err)
	}
	second := tk.last(t)
	if second == first {
		t.Fatal("expected a fresh ticker for party B")
	}
	second.tick(t)
	waitFor(t, "party B tick", func() bool {
		return s.State(domain.PartyB).ElapsedSeconds == 1
	})

	select {
	case first.ch <- time.Now():
		t.Fatal("party A ticker still running")
	case <-time.After(50 * time.Millisecond):
	}

	if got := s.State(domain.PartyA).ElapsedSeconds; got != 1 {
		t.Errorf("party A ElapsedSeconds: got %d, want 1", got)
	}
}

func TestSession_StaleStreamEventsIgnored(t *testing.T) {
	rec := newFakeRecognizer()
	s, _ := newTestSession(rec)
	defer s.Close()

	if err := s.StartRecording(); err != nil {
		t.Fatalf("StartRecording: %v", err)
	}
	streamA := rec.nextStream(t)
	streamA.events <- domain.RecognitionEvent{Final: "甲方"}
	waitFor(t, "party A transcript", func() bool {
		return s.State(domain.PartyA).FinalTranscript == "甲方"
	})
	if err := s.StopRecording(); err != nil {
		t.Fatalf("StopRecording: %v", err)
	}

	if err := s.SelectActiveParty(domain.PartyB); err != nil {
		t.Fatalf("SelectActiveParty: %v", err)
	}
	if err := s.StartRecording(); err != nil {
		t.Fatalf("StartRecording B: %v", err)
	}
	streamB := rec.nextStream(t)

	// A late result on the old stream must not reach anyone.
	streamA.events <- domain.RecognitionEvent{Final: "迟到的", Interim: "x"}
	streamB.events <- domain.RecognitionEvent{Final: "乙方"}

	waitFor(t, "party B transcript", func() bool {
		return s.State(domain.PartyB).FinalTranscript == "乙方"
	})

	if got := s.State(domain.PartyA); got.FinalTranscript != "甲方" || got.InterimTranscript != "" {
		t.Errorf("party A changed by stale stream: %+v", got)
	}
	if got := s.State(domain.PartyB).FinalTranscript; got != "乙方" {
		t.Errorf("party B transcript: got %q", got)
	}

	rec.mu.Lock()
	parties := append([]domain.Party(nil), rec.parties...)
	rec.mu.Unlock()
	if len(parties) != 2 || parties[0] != domain.PartyA || parties[1] != domain.PartyB {
		t.Errorf("streams opened for %v, want [a b]", parties)
	}
}

func TestSession_ApplyRecognitionEventIdlePartyDropped(t *testing.T) {
	s, _ := newTestSession(application.NoopRecognizer{})
	defer s.Close()

	s.ApplyRecognitionEvent(domain.PartyB, "不该出现", "也不该")
	if got := s.State(domain.PartyB); got != (domain.RecordingState{}) {
		t.Errorf("idle party changed: %+v", got)
	}

	if err := s.StartRecording(); err != nil {
		t.Fatalf("StartRecording: %v", err)
	}
	s.ApplyRecognitionEvent(domain.PartyA, "第一句", "")
	s.ApplyRecognitionEvent(domain.PartyA, "第二句", "临时")
	s.ApplyRecognitionEvent(domain.PartyB, "串台", "")

	a := s.State(domain.PartyA)
	if a.FinalTranscript != "第一句 第二句" {
		t.Errorf("party A FinalTranscript: got %q", a.FinalTranscript)
	}
	if a.InterimTranscript != "临时" {
		t.Errorf("party A InterimTranscript: got %q", a.InterimTranscript)
	}
	if got := s.State(domain.PartyB); got != (domain.RecordingState{}) {
		t.Errorf("party B changed while idle: %+v", got)
	}

	if err := s.StopRecording(); err != nil {
		t.Fatalf("StopRecording: %v", err)
	}
	before := s.State(domain.PartyA)
	s.ApplyRecognitionEvent(domain.PartyA, "停止之后", "x")
	if got := s.State(domain.PartyA); got != before {
		t.Errorf("event after stop changed state: %+v", got)
	}
}

func TestSession_SelectWhileRecordingRefused(t *testing.T) {
	s, _ := newTestSession(application.NoopRecognizer{})
	defer s.Close()

	if err := s.StartRecording(); err != nil {
		t.Fatalf("StartRecording: %v", err)
	}
	if err := s.SelectActiveParty(domain.PartyB); !errors.Is(err, domain.ErrRecordingInProgress) {
		t.Fatalf("SelectActiveParty while recording: got %v, want ErrRecordingInProgress", err)
	}
	if s.Active() != domain.PartyA {
		t.Error("active party changed despite refusal")
	}
	if !s.State(domain.PartyA).IsRecording {
		t.Error("recording interrupted by refused switch")
	}
}

func TestSession_SelectIsIdempotent(t *testing.T) {
	s, _ := newTestSession(application.NoopRecognizer{})
	defer s.Close()

	before := [2]domain.RecordingState{s.State(domain.PartyA), s.State(domain.PartyB)}
	for _, p := range []domain.Party{domain.PartyB, domain.PartyB, domain.PartyA, domain.PartyA} {
		if err := s.SelectActiveParty(p); err != nil {
			t.Fatalf("SelectActiveParty(%v): %v", p, err)
		}
	}
	after := [2]domain.RecordingState{s.State(domain.PartyA), s.State(domain.PartyB)}
	if before != after {
		t.Errorf("states changed by switching: before %+v after %+v", before, after)
	}

	if err := s.SelectActiveParty(domain.Party(7)); !errors.Is(err, domain.ErrInvalidParty) {
		t.Errorf("invalid party: got %v", err)
	}
}

func TestSession_ReadyToProceed(t *testing.T) {
	s, _ := newTestSession(application.NoopRecognizer{})
	defer s.Close()

	if s.ReadyToProceed() {
		t.Fatal("ready before any recording")
	}
	if _, err := s.BuildMediationInput(); !errors.Is(err, domain.ErrNotReady) {
		t.Fatalf("BuildMediationInput before ready: got %v", err)
	}

	record := func(p domain.Party) {
		t.Helper()
		if err := s.SelectActiveParty(p); err != nil {
			t.Fatalf("SelectActiveParty: %v", err)
		}
		if err := s.StartRecording(); err != nil {
			t.Fatalf("StartRecording: %v", err)
		}
		if err := s.StopRecording(); err != nil {
			t.Fatalf("StopRecording: %v", err)
		}
	}

	record(domain.PartyA)
	if s.ReadyToProceed() {
		t.Fatal("ready with only party A recorded")
	}
	record(domain.PartyB)
	if !s.ReadyToProceed() {
		t.Fatal("not ready after both parties recorded")
	}

	for _, p := range []domain.Party{domain.PartyA, domain.PartyB, domain.PartyA} {
		_ = s.SelectActiveParty(p)
		if !s.ReadyToProceed() {
			t.Fatalf("readiness lost after selecting %v", p)
		}
	}
}

func TestSession_BuildMediationInputPrefersTranscript(t *testing.T) {
	rec := newFakeRecognizer()
	s, _ := newTestSession(rec)
	defer s.Close()

	if err := s.StartRecording(); err != nil {
		t.Fatalf("StartRecording: %v", err)
	}
	st := rec.nextStream(t)
	st.events <- domain.RecognitionEvent{Final: "你总是加班"}
	waitFor(t, "transcript", func() bool {
		return s.State(domain.PartyA).FinalTranscript != ""
	})
	if err := s.StopRecording(); err != nil {
		t.Fatalf("StopRecording: %v", err)
	}

	if err := s.SelectActiveParty(domain.PartyB); err != nil {
		t.Fatalf("SelectActiveParty: %v", err)
	}
	if err := s.StartRecording(); err != nil {
		t.Fatalf("StartRecording: %v", err)
	}
	rec.nextStream(t)
	if err := s.StopRecording(); err != nil {
		t.Fatalf("StopRecording: %v", err)
	}

	input, err := s.BuildMediationInput()
	if err != nil {
		t.Fatalf("BuildMediationInput: %v", err)
	}
	if input.PartyA != "你总是加班" {
		t.Errorf("PartyA: got %q", input.PartyA)
	}
	if input.PartyB != "录音内容 0秒" {
		t.Errorf("PartyB: got %q, want placeholder", input.PartyB)
	}
}

func TestSession_ResetWhileRecording(t *testing.T) {
	rec := newFakeRecognizer()
	s, tk := newTestSession(rec)
	defer s.Close()

	if err := s.StartRecording(); err != nil {
		t.Fatalf("StartRecording: %v", err)
	}
	st := rec.nextStream(t)
	mt := tk.last(t)
	mt.tick(t)
	st.events <- domain.RecognitionEvent{Final: "说到一半", Interim: "嗯"}
	waitFor(t, "progress", func() bool {
		got := s.State(domain.PartyA)
		return got.ElapsedSeconds == 1 && got.InterimTranscript == "嗯"
	})

	s.ResetRecording()

	if got := s.State(domain.PartyA); got != (domain.RecordingState{}) {
		t.Errorf("state after reset: %+v", got)
	}
	select {
	case <-mt.stopped:
	default:
		t.Error("ticker not stopped by reset")
	}
	select {
	case <-st.closed:
	default:
		t.Error("stream not closed by reset")
	}

	if err := s.StopRecording(); !errors.Is(err, domain.ErrNotRecording) {
		t.Errorf("StopRecording after reset: got %v, want ErrNotRecording", err)
	}
	if err := s.StartRecording(); err != nil {
		t.Errorf("StartRecording after reset: %v", err)
	}
}

func TestSession_ResetIdleIsSafe(t *testing.T) {
	s, _ := newTestSession(application.NoopRecognizer{})
	defer s.Close()

	s.ResetRecording()
	if err := s.StartRecording(); err != nil {
		t.Fatalf("StartRecording: %v", err)
	}
	if err := s.StopRecording(); err != nil {
		t.Fatalf("StopRecording: %v", err)
	}
	s.ResetRecording()
	if got := s.State(domain.PartyA); got != (domain.RecordingState{}) {
		t.Errorf("state after reset: %+v", got)
	}
}

func TestSession_Preconditions(t *testing.T) {
	s, _ := newTestSession(application.NoopRecognizer{})
	defer s.Close()

	if err := s.StopRecording(); !errors.Is(err, domain.ErrNotRecording) {
		t.Errorf("stop without start: got %v", err)
	}
	if err := s.StartRecording(); err != nil {
		t.Fatalf("StartRecording: %v", err)
	}
	if err := s.StartRecording(); !errors.Is(err, domain.ErrAlreadyRecording) {
		t.Errorf("double start: got %v", err)
	}
	if !s.State(domain.PartyA).IsRecording {
		t.Error("double start broke the running recording")
	}
}

func TestSession_UnsupportedWarnsOnce(t *testing.T) {
	s, tk := newTestSession(application.NoopRecognizer{})
	defer s.Close()

	if s.Supported() {
		t.Fatal("noop recognizer should not be supported")
	}
	if err := s.StartRecording(); err != nil {
		t.Fatalf("StartRecording: %v", err)
	}
	w := nextWarning(t, s)
	if !errors.Is(w, domain.ErrRecognitionUnsupported) {
		t.Errorf("warning: got %v", w)
	}

	tk.last(t).tick(t)
	waitFor(t, "timer-only tick", func() bool {
		return s.State(domain.PartyA).ElapsedSeconds == 1
	})
	if err := s.StopRecording(); err != nil {
		t.Fatalf("StopRecording: %v", err)
	}
	if err := s.StartRecording(); err != nil {
		t.Fatalf("second StartRecording: %v", err)
	}

	select {
	case w := <-s.Warnings():
		t.Errorf("unexpected second warning: %v", w)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSession_OpenFailureKeepsTiming(t *testing.T) {
	rec := newFakeRecognizer()
	rec.openErr = errors.New("microphone permission denied")
	s, tk := newTestSession(rec)
	defer s.Close()

	if err := s.StartRecording(); err != nil {
		t.Fatalf("StartRecording: %v", err)
	}
	w := nextWarning(t, s)
	if w.Party != domain.PartyA || !errors.Is(w, rec.openErr) {
		t.Errorf("warning: got %+v", w)
	}

	tk.last(t).tick(t)
	waitFor(t, "tick after open failure", func() bool {
		return s.State(domain.PartyA).ElapsedSeconds == 1
	})
	if !s.State(domain.PartyA).IsRecording {
		t.Fatal("recording should continue after open failure")
	}
	if err := s.StopRecording(); err != nil {
		t.Fatalf("StopRecording: %v", err)
	}
	if got := s.State(domain.PartyA).CommittedContent; got != "录音内容 1秒" {
		t.Errorf("CommittedContent: got %q", got)
	}
}

func TestSession_StreamErrorWarns(t *testing.T) {
	rec := newFakeRecognizer()
	s, _ := newTestSession(rec)
	defer s.Close()

	if err := s.StartRecording(); err != nil {
		t.Fatalf("StartRecording: %v", err)
	}
	st := rec.nextStream(t)
	st.events <- domain.RecognitionEvent{Final: "前半句"}
	st.err = errors.New("network lost")
	close(st.events)

	w := nextWarning(t, s)
	if !errors.Is(w, st.err) {
		t.Errorf("warning: got %v", w)
	}
	got := s.State(domain.PartyA)
	if !got.IsRecording || got.FinalTranscript != "前半句" {
		t.Errorf("state after stream error: %+v", got)
	}
}

func TestSession_CloseAbandonsCapture(t *testing.T) {
	rec := newFakeRecognizer()
	s, tk := newTestSession(rec)

	if err := s.StartRecording(); err != nil {
		t.Fatalf("StartRecording: %v", err)
	}
	st := rec.nextStream(t)
	st.events <- domain.RecognitionEvent{Interim: "正在说"}
	waitFor(t, "interim", func() bool {
		return s.State(domain.PartyA).InterimTranscript != ""
	})

	s.Close()
	s.Close()

	got := s.State(domain.PartyA)
	if got.IsRecording || got.InterimTranscript != "" || got.CommittedContent != "" {
		t.Errorf("state after close: %+v", got)
	}
	select {
	case <-tk.last(t).stopped:
	default:
		t.Error("ticker still running after close")
	}
	if _, ok := <-s.Warnings(); ok {
		t.Error("warnings channel should be closed")
	}
	if err := s.StartRecording(); !errors.Is(err, domain.ErrSessionClosed) {
		t.Errorf("StartRecording after close: got %v", err)
	}
}

func TestSession_StopAndCloseConcurrently(t *testing.T) {
	for i := 0; i < 200; i++ {
		rec := newFakeRecognizer()
		rec.openErr = errors.New("device busy")
		s, _ := newTestSession(rec)

		if err := s.StartRecording(); err != nil {
			t.Fatalf("StartRecording: %v", err)
		}

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = s.StopRecording()
		}()
		go func() {
			defer wg.Done()
			s.Close()
		}()
		wg.Wait()

		for range s.Warnings() {
		}
	}
}

func TestSession_BuildMediationInputWhileRerecording(t *testing.T) {
	s, _ := newTestSession(application.NoopRecognizer{})
	defer s.Close()

	for _, p := range domain.Parties {
		if err := s.SelectActiveParty(p); err != nil {
			t.Fatalf("SelectActiveParty: %v", err)
		}
		if err := s.StartRecording(); err != nil {
			t.Fatalf("StartRecording: %v", err)
		}
		if err := s.StopRecording(); err != nil {
			t.Fatalf("StopRecording: %v", err)
		}
	}

	if err := s.StartRecording(); err != nil {
		t.Fatalf("StartRecording again: %v", err)
	}
	if _, err := s.BuildMediationInput(); !errors.Is(err, domain.ErrRecordingInProgress) {
		t.Fatalf("BuildMediationInput while recording: got %v", err)
	}

	if err := s.StopRecording(); err != nil {
		t.Fatalf("StopRecording: %v", err)
	}
	if _, err := s.BuildMediationInput(); err != nil {
		t.Fatalf("BuildMediationInput after stop: %v", err)
	}
}
