package application

import "context"

// AudioSource yields raw PCM (16-bit little endian) for a recognizer to stream.
type AudioSource interface {
	Start(ctx context.Context) error
	Stop() error
	Read(ctx context.Context) ([]byte, error)
	Name() string
}

type AudioFormat struct {
	SampleRate int
	Channels   int
	BitDepth   int
}

func DefaultAudioFormat() AudioFormat {
	return AudioFormat{
		SampleRate: 16000,
		Channels:   1,
		BitDepth:   16,
	}
}

// BytesPerSecond is the PCM data rate for the format.
func (f AudioFormat) BytesPerSecond() int {
	return f.SampleRate * f.Channels * f.BitDepth / 8
}
