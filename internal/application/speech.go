package application

import (
	"context"

	"mediator/internal/domain"
)

// Recognizer opens live speech-recognition streams.
type Recognizer interface {
	// Supported reports whether live transcription is available at all.
	Supported() bool
	Open(ctx context.Context, party domain.Party) (RecognitionStream, error)
}

// RecognitionStream delivers results for the party it was opened for. Events is
// closed when the stream ends; Err then reports why, nil for a clean close.
type RecognitionStream interface {
	Events() <-chan domain.RecognitionEvent
	Err() error
	Close() error
}

// NoopRecognizer is used when no recognition backend is configured. Recordings
// still run on their timer and commit a duration placeholder.
type NoopRecognizer struct{}

func (NoopRecognizer) Supported() bool { return false }

func (NoopRecognizer) Open(_ context.Context, _ domain.Party) (RecognitionStream, error) {
	return nil, domain.ErrRecognitionUnsupported
}
