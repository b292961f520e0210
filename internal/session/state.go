package session

import (
	"strings"
	"time"

	"github.com/anonymous-cmd-os/palmistry/internal/oracle"
)

// Phase names the lifecycle stage of a visitor's reading.
type Phase string

const (
	PhaseIdle      Phase = "idle"
	PhaseAnalyzing Phase = "analyzing"
	PhaseSuccess   Phase = "success"
	PhaseError     Phase = "error"
)

// State is exactly one phase plus the payload that phase carries: the Result for Success and the
// visitor-facing message for Error.
type State struct {
	Phase   Phase
	Result  oracle.Result
	Message string
}

// Input holds the visitor's form values between edits. A nil hand means no image chosen.
type Input struct {
	DateOfBirth string
	LeftHand    *oracle.Blob
	RightHand   *oracle.Blob
}

// Ready reports whether the input can be submitted.
func (in Input) Ready() bool {
	return strings.TrimSpace(in.DateOfBirth) != "" && !in.LeftHand.Empty() && !in.RightHand.Empty()
}

// Missing lists the form fields still required, using their form names.
func (in Input) Missing() []string {
	var out []string
	if strings.TrimSpace(in.DateOfBirth) == "" {
		out = append(out, "dob")
	}
	if in.LeftHand.Empty() {
		out = append(out, "leftHand")
	}
	if in.RightHand.Empty() {
		out = append(out, "rightHand")
	}
	return out
}

func (in Input) submission() oracle.Submission {
	return oracle.Submission{
		DateOfBirth: in.DateOfBirth,
		LeftHand:    in.LeftHand,
		RightHand:   in.RightHand,
	}
}

// Snapshot is a read-only copy of a machine for rendering.
type Snapshot struct {
	State     State
	Input     Input
	ReadingID string
	UpdatedAt time.Time
}

// Ready reports whether the snapshot's input can be submitted.
func (s Snapshot) Ready() bool { return s.Input.Ready() }
