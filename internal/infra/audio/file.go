package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/go-audio/wav"
)

const chunkDuration = 100 * time.Millisecond

// FileSource replays the PCM payload of a WAV file at real-time pace, so a
// recorded statement can stand in for the microphone.
type FileSource struct {
	path   string
	logger *slog.Logger

	mu         sync.Mutex
	pcm        []byte
	offset     int
	chunkBytes int
	ticker     *time.Ticker
}

func NewFileSource(path string, logger *slog.Logger) *FileSource {
	return &FileSource{
		path:   path,
		logger: logger,
	}
}

func (f *FileSource) Name() string {
	return "file"
}

// Start rewinds to the beginning of the file.
func (f *FileSource) Start(_ context.Context) error {
	file, err := os.Open(f.path)
	if err != nil {
		return fmt.Errorf("opening audio file: %w", err)
	}
	defer file.Close()

	info, pcm, err := decodeWAV(file)
	if err != nil {
		return fmt.Errorf("parsing %s: %w", f.path, err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.ticker != nil {
		f.ticker.Stop()
	}
	f.pcm = pcm
	f.offset = 0
	f.chunkBytes = int(time.Duration(info.bytesPerSecond()) * chunkDuration / time.Second)
	f.chunkBytes -= f.chunkBytes % info.blockAlign()
	if f.chunkBytes <= 0 {
		f.chunkBytes = info.blockAlign()
	}
	f.ticker = time.NewTicker(chunkDuration)

	f.logger.Info("replaying audio file",
		"path", f.path,
		"sample_rate", info.SampleRate,
		"channels", info.Channels,
		"seconds", float64(len(pcm))/float64(info.bytesPerSecond()),
	)
	return nil
}

func (f *FileSource) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ticker != nil {
		f.ticker.Stop()
		f.ticker = nil
	}
	return nil
}

// Read returns the next chunk once its playback time has come, and io.EOF
// after the last one.
func (f *FileSource) Read(ctx context.Context) ([]byte, error) {
	f.mu.Lock()
	ticker := f.ticker
	f.mu.Unlock()

	if ticker == nil {
		return nil, errors.New("file source not started")
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-ticker.C:
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.offset >= len(f.pcm) {
		return nil, io.EOF
	}
	end := min(f.offset+f.chunkBytes, len(f.pcm))
	chunk := f.pcm[f.offset:end]
	f.offset = end
	return chunk, nil
}

type wavInfo struct {
	Channels      int
	SampleRate    int
	BitsPerSample int
}

func (w wavInfo) blockAlign() int {
	return w.Channels * w.BitsPerSample / 8
}

func (w wavInfo) bytesPerSecond() int {
	return w.SampleRate * w.blockAlign()
}

const wavFormatPCM = 1

// decodeWAV returns the fmt header and raw data payload of a WAV stream.
// Only uncompressed 16-bit PCM is accepted.
func decodeWAV(r io.ReadSeeker) (wavInfo, []byte, error) {
	var info wavInfo

	d := wav.NewDecoder(r)
	if !d.IsValidFile() {
		if err := d.Err(); err != nil {
			return info, nil, fmt.Errorf("not a valid WAVE file: %w", err)
		}
		return info, nil, errors.New("not a valid WAVE file")
	}
	if d.WavAudioFormat != wavFormatPCM || d.BitDepth != 16 {
		return info, nil, fmt.Errorf("unsupported encoding (format %d, %d bits)", d.WavAudioFormat, d.BitDepth)
	}
	info = wavInfo{
		Channels:      int(d.NumChans),
		SampleRate:    int(d.SampleRate),
		BitsPerSample: int(d.BitDepth),
	}

	if err := d.FwdToPCM(); err != nil {
		return info, nil, fmt.Errorf("locating data chunk: %w", err)
	}
	if d.PCMChunk == nil {
		return info, nil, errors.New("no data chunk")
	}

	pcm, err := io.ReadAll(io.LimitReader(d.PCMChunk, d.PCMLen()))
	if err != nil {
		return info, nil, fmt.Errorf("reading data chunk: %w", err)
	}
	if len(pcm) == 0 {
		return info, nil, errors.New("empty data chunk")
	}
	// Drop a trailing partial frame.
	pcm = pcm[:len(pcm)-len(pcm)%info.blockAlign()]
	return info, pcm, nil
}
