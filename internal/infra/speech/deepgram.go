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
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"mediator/internal/application"
	"mediator/internal/domain"
	"mediator/internal/infra"
)

const (
	DefaultDeepgramURL   = "wss://api.deepgram.com/v1/listen"
	DefaultDeepgramModel = "nova-3"

	keepAliveInterval = 5 * time.Second
	writeTimeout      = 5 * time.Second
)

var (
	finalizeMsg    = []byte(`{"type":"Finalize"}`)
	keepAliveMsg   = []byte(`{"type":"KeepAlive"}`)
	closeStreamMsg = []byte(`{"type":"CloseStream"}`)
)

type DeepgramConfig struct {
	APIKey   string
	URL      string
	Model    string
	Language string
	Format   application.AudioFormat
	Retry    infra.RetryConfig
}

// Deepgram streams PCM from an audio source to Deepgram's live endpoint and
// turns its results into recognition events. The source is shared, so only one
// stream is open at a time.
type Deepgram struct {
	cfg    DeepgramConfig
	source application.AudioSource
	dialer *websocket.Dialer
	logger *slog.Logger
	slot   chan struct{}
}

func NewDeepgram(cfg DeepgramConfig, source application.AudioSource, logger *slog.Logger) *Deepgram {
	if cfg.URL == "" {
		cfg.URL = DefaultDeepgramURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultDeepgramModel
	}
	if cfg.Format.SampleRate == 0 {
		cfg.Format = application.DefaultAudioFormat()
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = infra.DefaultRetryConfig()
	}
	return &Deepgram{
		cfg:    cfg,
		source: source,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 10 * time.Second,
		},
		logger: logger.With("component", "deepgram"),
		slot:   make(chan struct{}, 1),
	}
}

func (d *Deepgram) Supported() bool {
	return strings.TrimSpace(d.cfg.APIKey) != ""
}

func (d *Deepgram) endpoint() (string, error) {
	u, err := url.Parse(d.cfg.URL)
	if err != nil {
		return "", fmt.Errorf("parsing deepgram url: %w", err)
	}
	q := u.Query()
	q.Set("model", d.cfg.Model)
	q.Set("encoding", "linear16")
	q.Set("sample_rate", strconv.Itoa(d.cfg.Format.SampleRate))
	q.Set("channels", strconv.Itoa(d.cfg.Format.Channels))
	q.Set("interim_results", "true")
	q.Set("punctuate", "true")
	if d.cfg.Language != "" {
		q.Set("language", d.cfg.Language)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (d *Deepgram) Open(ctx context.Context, party domain.Party) (application.RecognitionStream, error) {
	if !d.Supported() {
		return nil, domain.ErrRecognitionUnsupported
	}

	select {
	case d.slot <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	release := func() { <-d.slot }

	conn, err := d.dial(ctx)
	if err != nil {
		release()
		return nil, err
	}

	if err := d.source.Start(ctx); err != nil {
		conn.Close()
		release()
		return nil, fmt.Errorf("starting %s audio: %w", d.source.Name(), err)
	}

	streamCtx, cancel := context.WithCancel(ctx)
	s := &deepgramStream{
		conn:     conn,
		source:   d.source,
		events:   make(chan domain.RecognitionEvent, 16),
		ctx:      streamCtx,
		cancel:   cancel,
		sendDone: make(chan struct{}),
		recvDone: make(chan struct{}),
		release:  release,
		logger:   d.logger.With("party", party),
	}
	go s.send()
	go s.recv()

	s.logger.Info("recognition stream opened", "source", d.source.Name())
	return s, nil
}

func (d *Deepgram) dial(ctx context.Context) (*websocket.Conn, error) {
	endpoint, err := d.endpoint()
	if err != nil {
		return nil, err
	}
	header := http.Header{}
	header.Set("Authorization", "Token "+d.cfg.APIKey)

	var conn *websocket.Conn
	err = infra.WithRetry(ctx, d.cfg.Retry, func() error {
		c, resp, err := d.dialer.DialContext(ctx, endpoint, header)
		if err != nil {
			if resp != nil && !infra.IsRetryableHTTPStatus(resp.StatusCode) {
				return infra.Permanent(fmt.Errorf("deepgram handshake status %d: %w", resp.StatusCode, err))
			}
			d.logger.Debug("dial failed", "error", err)
			return fmt.Errorf("dialing deepgram: %w", err)
		}
		conn = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	return conn, nil
}

type deepgramResponse struct {
	Type        string `json:"type"`
	IsFinal     bool   `json:"is_final"`
	SpeechFinal bool   `json:"speech_final"`
	Channel     struct {
		Alternatives []struct {
			Transcript string `json:"transcript"`
		} `json:"alternatives"`
	} `json:"channel"`
}

type deepgramStream struct {
	conn    *websocket.Conn
	source  application.AudioSource
	events  chan domain.RecognitionEvent
	ctx     context.Context
	cancel  context.CancelFunc
	release func()
	logger  *slog.Logger

	sendDone chan struct{}
	recvDone chan struct{}

	writeMu   sync.Mutex
	closing   atomic.Bool
	closeOnce sync.Once

	errMu sync.Mutex
	err   error
}

func (s *deepgramStream) Events() <-chan domain.RecognitionEvent { return s.events }

func (s *deepgramStream) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

func (s *deepgramStream) fail(err error) {
	s.errMu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.errMu.Unlock()
	// Unblocks recv so the events channel closes and the failure surfaces.
	s.conn.Close()
}

func (s *deepgramStream) write(messageType int, data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return s.conn.WriteMessage(messageType, data)
}

func (s *deepgramStream) send() {
	defer close(s.sendDone)

	var sent int
	for {
		pcm, err := s.source.Read(s.ctx)
		if errors.Is(err, io.EOF) {
			s.logger.Debug("audio exhausted, finalizing", "bytes", sent)
			if err := s.write(websocket.TextMessage, finalizeMsg); err != nil && s.ctx.Err() == nil {
				s.fail(fmt.Errorf("finalizing: %w", err))
				return
			}
			s.keepAlive()
			return
		}
		if err != nil {
			if s.ctx.Err() == nil {
				s.fail(fmt.Errorf("reading audio: %w", err))
			}
			return
		}

		if err := s.write(websocket.BinaryMessage, pcm); err != nil {
			if s.ctx.Err() == nil {
				s.fail(fmt.Errorf("sending audio: %w", err))
			}
			return
		}
		sent += len(pcm)
	}
}

// keepAlive holds the connection open after the audio ends so late results
// still arrive.
func (s *deepgramStream) keepAlive() {
	ticker := time.NewTicker(keepAliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			if err := s.write(websocket.TextMessage, keepAliveMsg); err != nil {
				return
			}
		}
	}
}

func (s *deepgramStream) recv() {
	defer close(s.recvDone)
	defer close(s.events)

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if !s.closing.Load() && !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				s.fail(fmt.Errorf("receiving results: %w", err))
			}
			return
		}

		var resp deepgramResponse
		if err := json.Unmarshal(data, &resp); err != nil {
			s.logger.Debug("skipping undecodable message", "error", err)
			continue
		}
		if resp.Type != "Results" {
			continue
		}

		var transcript string
		if len(resp.Channel.Alternatives) > 0 {
			transcript = strings.TrimSpace(resp.Channel.Alternatives[0].Transcript)
		}

		ev := domain.RecognitionEvent{Interim: transcript}
		if resp.IsFinal {
			ev = domain.RecognitionEvent{Final: transcript}
		}

		select {
		case s.events <- ev:
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *deepgramStream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.closing.Store(true)
		s.cancel()
		<-s.sendDone

		if werr := s.write(websocket.TextMessage, closeStreamMsg); werr == nil {
			s.write(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		}
		err = s.conn.Close()
		<-s.recvDone

		if stopErr := s.source.Stop(); stopErr != nil {
			s.logger.Warn("stopping audio source", "error", stopErr)
		}
		s.release()
		s.logger.Info("recognition stream closed")
	})
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}
