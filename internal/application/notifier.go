package application

import (
	"context"

	"mediator/internal/domain"
)

// Notifier delivers a finished report somewhere outside the terminal.
type Notifier interface {
	Notify(ctx context.Context, report domain.AnalysisResult) error
}

type NoopNotifier struct{}

func (n *NoopNotifier) Notify(_ context.Context, _ domain.AnalysisResult) error {
	return nil
}
