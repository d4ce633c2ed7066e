package domain

import (
	"fmt"
	"strings"
)

// RecordingState is one party's capture progress. The zero value is the initial state.
type RecordingState struct {
	IsRecording       bool
	ElapsedSeconds    int
	FinalTranscript   string
	InterimTranscript string
	// CommittedContent is set when a recording stops; empty means not yet recorded.
	CommittedContent string
}

// Recorded reports whether the party has completed at least one recording.
func (s RecordingState) Recorded() bool {
	return s.CommittedContent != ""
}

// Merge applies one recognition result. Final fragments are appended, the interim
// fragment always replaces the previous one.
func (s *RecordingState) Merge(ev RecognitionEvent) {
	if ev.Final != "" {
		s.FinalTranscript = strings.TrimSpace(s.FinalTranscript + " " + ev.Final)
	}
	s.InterimTranscript = ev.Interim
}

// Commit ends a recording and snapshots its content.
func (s *RecordingState) Commit() {
	s.IsRecording = false
	s.InterimTranscript = ""
	if s.FinalTranscript != "" {
		s.CommittedContent = s.FinalTranscript
	} else {
		s.CommittedContent = PlaceholderContent(s.ElapsedSeconds)
	}
}

// Statement is what gets sent for analysis: the transcript when there is one,
// otherwise the committed placeholder.
func (s RecordingState) Statement() string {
	if s.FinalTranscript != "" {
		return s.FinalTranscript
	}
	return s.CommittedContent
}

// PlaceholderContent stands in for a recording that produced no transcript.
func PlaceholderContent(seconds int) string {
	return fmt.Sprintf("录音内容 %d秒", seconds)
}

// FormatElapsed renders seconds as mm:ss.
func FormatElapsed(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%02d:%02d", seconds/60, seconds%60)
}

type RecognitionEvent struct {
	Final   string
	Interim string
}

// MediationInput is the pair of statements handed to the analyzer.
type MediationInput struct {
	PartyA string
	PartyB string
}
