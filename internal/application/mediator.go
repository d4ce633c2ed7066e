package application

import (
	"context"
	"fmt"
	"log/slog"
	"unicode/utf8"

	"mediator/internal/domain"
)

// Mediator hands a finished recording session to the analyzer and delivers
// the resulting report.
type Mediator struct {
	session  *Session
	analyzer Analyzer
	notifier Notifier
	logger   *slog.Logger
}

func NewMediator(
	session *Session,
	analyzer Analyzer,
	notifier Notifier,
	logger *slog.Logger,
) *Mediator {
	if notifier == nil {
		notifier = &NoopNotifier{}
	}
	return &Mediator{
		session:  session,
		analyzer: analyzer,
		notifier: notifier,
		logger:   logger.With("session", session.ID()),
	}
}

func (m *Mediator) Session() *Session {
	return m.session
}

// Analyze requests the mediation report for both recorded statements. Service
// failures come back as the fallback report; an error means either the session
// is not ready or ctx was cancelled, in which case nothing is delivered.
func (m *Mediator) Analyze(ctx context.Context) (domain.AnalysisResult, error) {
	input, err := m.session.BuildMediationInput()
	if err != nil {
		return domain.AnalysisResult{}, err
	}

	m.logger.Info("requesting analysis",
		"party_a_chars", utf8.RuneCountInString(input.PartyA),
		"party_b_chars", utf8.RuneCountInString(input.PartyB),
	)

	result, err := m.analyzer.Analyze(ctx, input)
	if err != nil {
		m.logger.Info("analysis abandoned", "error", err)
		return domain.AnalysisResult{}, fmt.Errorf("analyzing: %w", err)
	}

	if result.Fallback {
		m.logger.Warn("using fallback report", "reason", result.Reason)
	} else {
		m.logger.Info("analysis complete", "chars", utf8.RuneCountInString(result.Markdown))
	}

	if err := m.notifier.Notify(ctx, result); err != nil {
		m.logger.Error("delivering report", "error", err)
	}

	return result, nil
}
