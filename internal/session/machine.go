package session

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/anonymous-cmd-os/palmistry/internal/oracle"
)

var (
	// ErrIncompleteInput is returned by Submit when the date or an image is missing.
	ErrIncompleteInput = errors.New("session: input incomplete")
	// ErrNotIdle is returned when an edit or submission arrives outside the Idle phase.
	ErrNotIdle = errors.New("session: not idle")
	// ErrAnalyzing is returned by Reset while a submission is in flight.
	ErrAnalyzing = errors.New("session: submission in flight")
	// ErrNoFailure is returned by Retry outside the Error phase.
	ErrNoFailure = errors.New("session: nothing to retry")
)

// RetryPolicy decides what happens to the input when a visitor retries after an error.
type RetryPolicy int

const (
	RetryKeepInput RetryPolicy = iota
	RetryClearInput
)

// Machine owns one visitor's input and reading lifecycle. All transitions are serialised by its
// mutex; the model round trip runs outside the lock.
type Machine struct {
	mu        sync.Mutex
	state     State
	input     Input
	readingID string
	updatedAt time.Time

	policy RetryPolicy
	clock  func() time.Time
	logger func(context.Context, string, map[string]any)
}

// MachineOption customises a Machine.
type MachineOption func(*Machine)

// WithRetryPolicy selects how Retry treats the previous input.
func WithRetryPolicy(p RetryPolicy) MachineOption {
	return func(m *Machine) { m.policy = p }
}

// WithClock overrides the time source.
func WithClock(clock func() time.Time) MachineOption {
	return func(m *Machine) {
		if clock != nil {
			m.clock = clock
		}
	}
}

// WithLogger receives transition events.
func WithLogger(logger func(context.Context, string, map[string]any)) MachineOption {
	return func(m *Machine) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// NewMachine returns a machine in the Idle phase with empty input.
func NewMachine(opts ...MachineOption) *Machine {
	m := &Machine{
		state:  State{Phase: PhaseIdle},
		clock:  time.Now,
		logger: func(context.Context, string, map[string]any) {},
	}
	for _, opt := range opts {
		opt(m)
	}
	m.updatedAt = m.clock().UTC()
	return m
}

// SetDateOfBirth stores the date verbatim. Only allowed while Idle.
func (m *Machine) SetDateOfBirth(dob string) error {
	return m.edit(func(in *Input) { in.DateOfBirth = dob })
}

// SetLeftHand replaces the left hand image. Only allowed while Idle.
func (m *Machine) SetLeftHand(blob *oracle.Blob) error {
	return m.edit(func(in *Input) { in.LeftHand = blob })
}

// SetRightHand replaces the right hand image. Only allowed while Idle.
func (m *Machine) SetRightHand(blob *oracle.Blob) error {
	return m.edit(func(in *Input) { in.RightHand = blob })
}

func (m *Machine) edit(apply func(*Input)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state.Phase != PhaseIdle {
		return ErrNotIdle
	}
	apply(&m.input)
	m.touch()
	return nil
}

// Ready reports whether the current input can be submitted.
func (m *Machine) Ready() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.input.Ready()
}

// Submit moves Idle to Analyzing, asks the revealer for a reading and settles in Success or Error.
// It returns ErrNotIdle or ErrIncompleteInput without touching the revealer when the gate is
// closed. Once started, the reading ignores cancellation of ctx. The outcome is recorded in the
// machine state, so a completed submission returns nil even when the reading failed. A panicking
// revealer settles the machine in Error with the generic message.
func (m *Machine) Submit(ctx context.Context, revealer oracle.Revealer) error {
	m.mu.Lock()
	if m.state.Phase != PhaseIdle {
		m.mu.Unlock()
		return ErrNotIdle
	}
	if !m.input.Ready() {
		m.mu.Unlock()
		return ErrIncompleteInput
	}
	m.state = State{Phase: PhaseAnalyzing}
	m.readingID = ""
	sub := m.input.submission()
	m.touch()
	m.mu.Unlock()

	m.logger(ctx, "session.submission_started", nil)

	var (
		reading oracle.Reading
		err     error
	)
	defer func() {
		rec := recover()
		m.mu.Lock()
		defer m.mu.Unlock()
		switch {
		case rec != nil:
			m.state = State{Phase: PhaseError, Message: oracle.GenericFailureMessage}
			m.logger(ctx, "session.submission_panicked", map[string]any{
				"panic": fmt.Sprint(rec),
				"stack": string(debug.Stack()),
			})
		case err != nil:
			m.state = State{Phase: PhaseError, Message: publicMessage(err)}
			m.logger(ctx, "session.submission_failed", map[string]any{"kind": string(oracle.KindOf(err))})
		default:
			m.state = State{Phase: PhaseSuccess, Result: reading.Result}
			m.readingID = reading.ID
			m.logger(ctx, "session.submission_succeeded", map[string]any{"readingId": reading.ID})
		}
		m.touch()
	}()

	reading, err = revealer.Reveal(context.WithoutCancel(ctx), sub)
	return nil
}

// Reset returns to Idle with empty input, discarding any result or error.
func (m *Machine) Reset() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state.Phase == PhaseAnalyzing {
		return ErrAnalyzing
	}
	m.state = State{Phase: PhaseIdle}
	m.input = Input{}
	m.readingID = ""
	m.touch()
	return nil
}

// Retry leaves the Error phase for Idle. The input is kept or cleared according to the policy.
func (m *Machine) Retry() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state.Phase != PhaseError {
		return ErrNoFailure
	}
	m.state = State{Phase: PhaseIdle}
	if m.policy == RetryClearInput {
		m.input = Input{}
	}
	m.touch()
	return nil
}

// Snapshot copies the current state for rendering.
func (m *Machine) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Snapshot{
		State:     m.state,
		Input:     m.input,
		ReadingID: m.readingID,
		UpdatedAt: m.updatedAt,
	}
}

// Phase returns the current phase.
func (m *Machine) Phase() Phase {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.Phase
}

func (m *Machine) lastActive() (time.Time, Phase) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updatedAt, m.state.Phase
}

func (m *Machine) touch() {
	m.updatedAt = m.clock().UTC()
}

func publicMessage(err error) string {
	var oe *oracle.Error
	if errors.As(err, &oe) {
		return oe.PublicMessage()
	}
	return oracle.GenericFailureMessage
}
