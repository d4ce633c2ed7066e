package app

import (
	"fmt"
	"log/slog"

	"mediator/config"
	"mediator/internal/application"
	"mediator/internal/infra"
	"mediator/internal/infra/audio"
	"mediator/internal/infra/doubao"
	"mediator/internal/infra/pushover"
	"mediator/internal/infra/speech"
	"mediator/internal/version"
)

type App struct {
	Analyzer   application.Analyzer
	Notifier   application.Notifier
	Recognizer application.Recognizer
	// Relay is set when recognition results are pushed in over HTTP; its
	// listener must run for the duration of a session.
	Relay *speech.Relay

	cfg    *config.Config
	logger *slog.Logger
}

func New(cfg *config.Config, logger *slog.Logger) (*App, error) {
	a := &App{
		Analyzer: doubao.NewClientWithURL(
			cfg.Doubao.APIKey,
			cfg.Doubao.Model,
			cfg.Doubao.URL,
			cfg.Doubao.Timeout,
			logger,
		),
		Notifier: &application.NoopNotifier{},
		cfg:      cfg,
		logger:   logger,
	}

	if cfg.Pushover.Enabled {
		a.Notifier = pushover.NewClient(cfg.Pushover.Token, cfg.Pushover.UserKey, version.AppName, logger)
	}

	switch cfg.Speech.Provider {
	case "deepgram":
		source, err := newAudioSource(cfg.Audio, logger)
		if err != nil {
			return nil, err
		}
		format := application.DefaultAudioFormat()
		format.SampleRate = cfg.Audio.SampleRate
		a.Recognizer = speech.NewDeepgram(speech.DeepgramConfig{
			APIKey:   cfg.Speech.DeepgramAPIKey,
			URL:      cfg.Speech.DeepgramURL,
			Model:    cfg.Speech.DeepgramModel,
			Language: cfg.Speech.Language,
			Format:   format,
			Retry:    infra.DefaultRetryConfig(),
		}, source, logger)
	case "relay":
		a.Relay = speech.NewRelay(speech.RelayConfig{
			Addr:      cfg.Speech.RelayAddr,
			Token:     cfg.Speech.RelayToken,
			Locale:    cfg.Speech.Language,
			RateLimit: cfg.Speech.RelayRateLimit,
		}, logger)
		a.Recognizer = a.Relay
	default:
		a.Recognizer = application.NoopRecognizer{}
	}

	return a, nil
}

func newAudioSource(cfg config.AudioConfig, logger *slog.Logger) (application.AudioSource, error) {
	switch cfg.Source {
	case "microphone":
		return audio.NewMicrophoneSource(cfg.SampleRate, logger), nil
	case "file":
		return audio.NewFileSource(cfg.File, logger), nil
	default:
		return nil, fmt.Errorf("unknown audio source %q", cfg.Source)
	}
}

func (a *App) NewSession() *application.Session {
	return application.NewSession(
		a.Recognizer,
		a.logger,
		application.WithTickInterval(a.cfg.Session.TickInterval),
	)
}

func (a *App) NewMediator(s *application.Session) *application.Mediator {
	return application.NewMediator(s, a.Analyzer, a.Notifier, a.logger)
}
