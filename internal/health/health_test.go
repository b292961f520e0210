package health

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestCheckerCollectAllHealthy(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	checker, err := NewChecker([]DependencyCheck{
		{Name: "gemini", Check: func(context.Context) error { return nil }},
		{Name: "secrets", Check: func(context.Context) error { return nil }},
	}, WithClock(func() time.Time { return now }))
	if err != nil {
		t.Fatalf("NewChecker returned error: %v", err)
	}

	report := checker.Collect(context.Background())
	if report.Status != StatusOK {
		t.Fatalf("expected ok, got %s", report.Status)
	}
	if len(report.Checks) != 2 || report.Checks["gemini"].Status != StatusOK {
		t.Fatalf("unexpected checks %+v", report.Checks)
	}
	if !report.GeneratedAt.Equal(now) {
		t.Fatalf("expected injected clock")
	}
	if len(report.Details()) != 0 {
		t.Fatalf("expected no details, got %v", report.Details())
	}
}

func TestCheckerCollectDegradedAndError(t *testing.T) {
	checker, err := NewChecker([]DependencyCheck{
		{Name: "gemini", Check: func(context.Context) error { return errors.New("permission denied") }},
		{Name: "secrets", Check: func(context.Context) error { return nil }},
	})
	if err != nil {
		t.Fatalf("NewChecker returned error: %v", err)
	}
	report := checker.Collect(context.Background())
	if report.Status != StatusDegraded {
		t.Fatalf("expected degraded, got %s", report.Status)
	}
	details := report.Details()
	if len(details) != 1 || details[0] != "gemini: permission denied" {
		t.Fatalf("unexpected details %v", details)
	}

	slow, err := NewChecker([]DependencyCheck{
		{Name: "gemini", Timeout: 10 * time.Millisecond, Check: func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		}},
	})
	if err != nil {
		t.Fatalf("NewChecker returned error: %v", err)
	}
	report = slow.Collect(context.Background())
	if report.Status != StatusError || report.Checks["gemini"].Detail != "timeout" {
		t.Fatalf("expected timeout error, got %+v", report)
	}
}

func TestNewCheckerValidates(t *testing.T) {
	if _, err := NewChecker(nil); err == nil {
		t.Fatal("expected error for empty check set")
	}
	if _, err := NewChecker([]DependencyCheck{{Name: " ", Check: func(context.Context) error { return nil }}}); err == nil {
		t.Fatal("expected error for missing name")
	}
	if _, err := NewChecker([]DependencyCheck{{Name: "gemini"}}); err == nil {
		t.Fatal("expected error for missing function")
	}
}
