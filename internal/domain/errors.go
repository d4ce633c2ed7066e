package domain

import "errors"

var (
	// Recording session errors
	ErrAlreadyRecording    = errors.New("active party is already recording")
	ErrNotRecording        = errors.New("active party is not recording")
	ErrRecordingInProgress = errors.New("a recording is in progress")
	ErrNotReady            = errors.New("both parties must finish recording first")
	ErrSessionClosed       = errors.New("session closed")
	ErrInvalidParty        = errors.New("invalid party")

	// Recognition errors
	ErrRecognitionUnsupported = errors.New("live speech recognition is not supported")
)
