package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/anonymous-cmd-os/palmistry/internal/oracle"
)

type stubRevealer struct {
	calls   atomic.Int32
	started chan struct{}
	release chan struct{}
	result  oracle.Result
	err     error
	ctxErr  error
	last    oracle.Submission
}

func (s *stubRevealer) Reveal(ctx context.Context, sub oracle.Submission) (oracle.Reading, error) {
	s.calls.Add(1)
	s.last = sub
	s.ctxErr = ctx.Err()
	if s.started != nil {
		close(s.started)
	}
	if s.release != nil {
		<-s.release
	}
	if s.err != nil {
		return oracle.Reading{}, s.err
	}
	return oracle.Reading{ID: "rdg_1", Result: s.result}, nil
}

func leftBlob() *oracle.Blob {
	return &oracle.Blob{Name: "left.jpg", MediaType: "image/jpeg", Data: []byte{0xff, 0xd8, 0xff}}
}

func rightBlob() *oracle.Blob {
	return &oracle.Blob{Name: "right.jpg", MediaType: "image/jpeg", Data: []byte{0xff, 0xd8, 0xff}}
}

func readyMachine(t *testing.T, opts ...MachineOption) *Machine {
	t.Helper()
	m := NewMachine(opts...)
	if err := m.SetDateOfBirth("1990-08-15"); err != nil {
		t.Fatalf("SetDateOfBirth: %v", err)
	}
	if err := m.SetLeftHand(leftBlob()); err != nil {
		t.Fatalf("SetLeftHand: %v", err)
	}
	if err := m.SetRightHand(rightBlob()); err != nil {
		t.Fatalf("SetRightHand: %v", err)
	}
	return m
}

func TestSubmitGate(t *testing.T) {
	tests := []struct {
		name  string
		dob   string
		left  *oracle.Blob
		right *oracle.Blob
	}{
		{name: "nothing"},
		{name: "date only", dob: "1990-08-15"},
		{name: "images only", left: leftBlob(), right: rightBlob()},
		{name: "missing right", dob: "1990-08-15", left: leftBlob()},
		{name: "blank date", dob: "   ", left: leftBlob(), right: rightBlob()},
		{name: "empty image", dob: "1990-08-15", left: leftBlob(), right: &oracle.Blob{Name: "x"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			m := NewMachine()
			_ = m.SetDateOfBirth(tc.dob)
			_ = m.SetLeftHand(tc.left)
			_ = m.SetRightHand(tc.right)
			if m.Ready() {
				t.Fatal("expected machine not ready")
			}
			rev := &stubRevealer{}
			if err := m.Submit(context.Background(), rev); !errors.Is(err, ErrIncompleteInput) {
				t.Fatalf("expected ErrIncompleteInput, got %v", err)
			}
			if rev.calls.Load() != 0 {
				t.Fatalf("revealer must not be called")
			}
			if m.Phase() != PhaseIdle {
				t.Fatalf("expected Idle, got %s", m.Phase())
			}
		})
	}
}

func TestSubmitSuccess(t *testing.T) {
	m := readyMachine(t)
	if !m.Ready() {
		t.Fatal("expected ready")
	}
	want := oracle.Result{ZodiacSign: "Leo ||| सिंह", DateOfBirth: "1990-08-15"}
	rev := &stubRevealer{result: want}

	if err := m.Submit(context.Background(), rev); err != nil {
		t.Fatalf("Submit returned error: %v", err)
	}
	snap := m.Snapshot()
	if snap.State.Phase != PhaseSuccess {
		t.Fatalf("expected Success, got %s", snap.State.Phase)
	}
	if snap.State.Result.ZodiacSign != want.ZodiacSign || snap.ReadingID != "rdg_1" {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
	if rev.last.DateOfBirth != "1990-08-15" || rev.last.LeftHand.Name != "left.jpg" || rev.last.RightHand.Name != "right.jpg" {
		t.Fatalf("unexpected submission %+v", rev.last)
	}
	if err := m.Submit(context.Background(), rev); !errors.Is(err, ErrNotIdle) {
		t.Fatalf("expected ErrNotIdle after success, got %v", err)
	}
	if rev.calls.Load() != 1 {
		t.Fatalf("expected one call, got %d", rev.calls.Load())
	}
}

func TestSubmitFailureStoresGenericMessage(t *testing.T) {
	for name, failure := range map[string]error{
		"transport": &oracle.Error{Kind: oracle.KindTransport, Detail: "network unreachable"},
		"malformed": &oracle.Error{Kind: oracle.KindMalformed, Detail: oracle.MalformedResponseMessage},
		"plain":     errors.New("boom"),
	} {
		t.Run(name, func(t *testing.T) {
			m := readyMachine(t)
			if err := m.Submit(context.Background(), &stubRevealer{err: failure}); err != nil {
				t.Fatalf("Submit returned error: %v", err)
			}
			snap := m.Snapshot()
			if snap.State.Phase != PhaseError {
				t.Fatalf("expected Error, got %s", snap.State.Phase)
			}
			if snap.State.Message != oracle.GenericFailureMessage {
				t.Fatalf("unexpected message %q", snap.State.Message)
			}
		})
	}
}

type panickingRevealer struct{}

func (panickingRevealer) Reveal(context.Context, oracle.Submission) (oracle.Reading, error) {
	var resp *oracle.Reading
	return *resp, nil
}

func TestSubmitRecoversFromRevealerPanic(t *testing.T) {
	var events []string
	m := readyMachine(t, WithLogger(func(_ context.Context, name string, fields map[string]any) {
		events = append(events, name)
		if name == "session.submission_panicked" && fields["stack"] == "" {
			t.Errorf("expected stack in panic event")
		}
	}))

	if err := m.Submit(context.Background(), panickingRevealer{}); err != nil {
		t.Fatalf("Submit returned error: %v", err)
	}
	snap := m.Snapshot()
	if snap.State.Phase != PhaseError {
		t.Fatalf("expected Error after panic, got %s", snap.State.Phase)
	}
	if snap.State.Message != oracle.GenericFailureMessage {
		t.Fatalf("unexpected message %q", snap.State.Message)
	}
	if len(events) != 2 || events[1] != "session.submission_panicked" {
		t.Fatalf("unexpected events %v", events)
	}

	if err := m.Retry(); err != nil {
		t.Fatalf("Retry after panic: %v", err)
	}
	if m.Phase() != PhaseIdle || !m.Ready() {
		t.Fatalf("expected Idle with input kept, got %s ready=%v", m.Phase(), m.Ready())
	}
}

func TestSubmitWhileAnalyzingIsNoOp(t *testing.T) {
	m := readyMachine(t)
	rev := &stubRevealer{started: make(chan struct{}), release: make(chan struct{})}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := m.Submit(context.Background(), rev); err != nil {
			t.Errorf("first Submit returned error: %v", err)
		}
	}()
	<-rev.started

	if m.Phase() != PhaseAnalyzing {
		t.Fatalf("expected Analyzing, got %s", m.Phase())
	}
	for i := 0; i < 5; i++ {
		if err := m.Submit(context.Background(), rev); !errors.Is(err, ErrNotIdle) {
			t.Fatalf("expected ErrNotIdle, got %v", err)
		}
	}
	if err := m.SetDateOfBirth("2000-01-01"); !errors.Is(err, ErrNotIdle) {
		t.Fatalf("expected edits rejected while analyzing, got %v", err)
	}
	if err := m.Reset(); !errors.Is(err, ErrAnalyzing) {
		t.Fatalf("expected reset rejected while analyzing, got %v", err)
	}

	close(rev.release)
	wg.Wait()

	if rev.calls.Load() != 1 {
		t.Fatalf("expected exactly one call, got %d", rev.calls.Load())
	}
	if m.Phase() != PhaseSuccess {
		t.Fatalf("expected Success, got %s", m.Phase())
	}
}

func TestSubmitIgnoresCallerCancellation(t *testing.T) {
	m := readyMachine(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rev := &stubRevealer{}
	if err := m.Submit(ctx, rev); err != nil {
		t.Fatalf("Submit returned error: %v", err)
	}
	if rev.ctxErr != nil {
		t.Fatalf("revealer saw cancelled context: %v", rev.ctxErr)
	}
	if m.Phase() != PhaseSuccess {
		t.Fatalf("expected Success, got %s", m.Phase())
	}
}

func TestResetClearsEverything(t *testing.T) {
	m := readyMachine(t)
	if err := m.Submit(context.Background(), &stubRevealer{result: oracle.Result{Career: "Law"}}); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if err := m.Reset(); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	snap := m.Snapshot()
	if snap.State.Phase != PhaseIdle || snap.State.Result.Career != "" || snap.ReadingID != "" {
		t.Fatalf("expected pristine state, got %+v", snap.State)
	}
	if snap.Input.DateOfBirth != "" || snap.Input.LeftHand != nil || snap.Input.RightHand != nil {
		t.Fatalf("expected empty input, got %+v", snap.Input)
	}
	if err := m.Reset(); err != nil {
		t.Fatalf("Reset from Idle: %v", err)
	}
}

func TestRetryPolicies(t *testing.T) {
	tests := []struct {
		name      string
		policy    RetryPolicy
		wantReady bool
	}{
		{name: "keep input", policy: RetryKeepInput, wantReady: true},
		{name: "clear input", policy: RetryClearInput, wantReady: false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			m := readyMachine(t, WithRetryPolicy(tc.policy))
			if err := m.Retry(); !errors.Is(err, ErrNoFailure) {
				t.Fatalf("expected ErrNoFailure from Idle, got %v", err)
			}
			if err := m.Submit(context.Background(), &stubRevealer{err: errors.New("down")}); err != nil {
				t.Fatalf("Submit: %v", err)
			}
			if err := m.Retry(); err != nil {
				t.Fatalf("Retry: %v", err)
			}
			if m.Phase() != PhaseIdle {
				t.Fatalf("expected Idle, got %s", m.Phase())
			}
			if m.Ready() != tc.wantReady {
				t.Fatalf("expected ready=%v after retry", tc.wantReady)
			}
			if m.Snapshot().State.Message != "" {
				t.Fatalf("expected error message discarded")
			}
		})
	}
}

func TestMachineLogsTransitions(t *testing.T) {
	var events []string
	m := readyMachine(t, WithLogger(func(_ context.Context, name string, _ map[string]any) {
		events = append(events, name)
	}), WithClock(func() time.Time { return time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC) }))

	_ = m.Submit(context.Background(), &stubRevealer{})
	if len(events) != 2 || events[0] != "session.submission_started" || events[1] != "session.submission_succeeded" {
		t.Fatalf("unexpected events %v", events)
	}
	if !m.Snapshot().UpdatedAt.Equal(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("expected injected clock to be used")
	}
}

func TestInputMissing(t *testing.T) {
	in := Input{LeftHand: leftBlob()}
	got := in.Missing()
	if len(got) != 2 || got[0] != "dob" || got[1] != "rightHand" {
		t.Fatalf("unexpected missing fields %v", got)
	}
}
