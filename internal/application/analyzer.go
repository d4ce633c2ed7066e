package application

import (
	"context"

	"mediator/internal/domain"
)

// Analyzer turns both statements into a mediation report. Implementations never
// fail on service errors; they substitute the fallback report instead. The only
// error returned is the context's, when the caller gives up on the request.
type Analyzer interface {
	Analyze(ctx context.Context, input domain.MediationInput) (domain.AnalysisResult, error)
}
