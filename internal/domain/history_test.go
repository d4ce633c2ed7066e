package domain_test

import (
	"strings"
	"testing"

	"mediator/internal/domain"
)

func TestSampleHistory(t *testing.T) {
	records := domain.SampleHistory()

	if len(records) != 5 {
		t.Fatalf("records: got %d, want 5", len(records))
	}
	if got := domain.AverageHarmony(records); got != 78 {
		t.Errorf("AverageHarmony: got %d, want 78", got)
	}
	if got := domain.Resolved(records); got != 4 {
		t.Errorf("Resolved: got %d, want 4", got)
	}
	if domain.AverageHarmony(nil) != 0 {
		t.Error("AverageHarmony(nil) should be 0")
	}
}

func TestFallbackResult(t *testing.T) {
	r := domain.FallbackResult(domain.ReasonTransport)

	if !r.Fallback || r.Reason != domain.ReasonTransport {
		t.Errorf("result: %+v", r)
	}
	if !strings.HasPrefix(r.Markdown, "经过AI分析，发现你们的矛盾主要源于沟通方式和期望值的差异。") {
		t.Errorf("unexpected report start: %q", r.Markdown[:40])
	}
	if !strings.HasSuffix(r.Markdown, "你们一定可以找到属于自己的节奏！💕") {
		t.Error("unexpected report ending")
	}
}
