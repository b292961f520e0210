package oracle

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Submission is one complete set of visitor inputs.
type Submission struct {
	DateOfBirth string
	LeftHand    *Blob
	RightHand   *Blob
}

// Reading is a successful round trip.
type Reading struct {
	ID          string
	Result      Result
	StartedAt   time.Time
	CompletedAt time.Time
}

// Revealer produces a reading from visitor inputs.
type Revealer interface {
	Reveal(ctx context.Context, sub Submission) (Reading, error)
}

// ServiceDeps wires dependencies for the reading service.
type ServiceDeps struct {
	Client      Client
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(context.Context, string, map[string]any)
	Meter       metric.Meter
}

// Service runs Encoder, Client and Parser for a reading. Every failure comes back as *Error.
type Service struct {
	client   Client
	clock    func() time.Time
	newID    func() string
	logger   func(context.Context, string, map[string]any)
	readings metric.Int64Counter
	duration metric.Float64Histogram
}

var _ Revealer = (*Service)(nil)

// NewService constructs the reading service.
func NewService(deps ServiceDeps) (*Service, error) {
	if deps.Client == nil {
		return nil, errors.New("oracle service: client is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	newID := deps.IDGenerator
	if newID == nil {
		newID = func() string { return ulid.Make().String() }
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	meter := deps.Meter
	if meter == nil {
		meter = otel.GetMeterProvider().Meter(instrumentationName)
	}

	readings, err := meter.Int64Counter("oracle.readings",
		metric.WithDescription("Readings attempted, by outcome and failure kind"))
	if err != nil {
		return nil, fmt.Errorf("oracle service: register readings counter: %w", err)
	}
	duration, err := meter.Float64Histogram("oracle.reading.duration",
		metric.WithUnit("ms"),
		metric.WithDescription("Wall time of a reading including the model round trip"))
	if err != nil {
		return nil, fmt.Errorf("oracle service: register duration histogram: %w", err)
	}

	return &Service{
		client:   deps.Client,
		clock:    func() time.Time { return clock().UTC() },
		newID:    newID,
		logger:   logger,
		readings: readings,
		duration: duration,
	}, nil
}

// Reveal encodes both hands concurrently, consults the model once and parses the reply.
func (s *Service) Reveal(ctx context.Context, sub Submission) (Reading, error) {
	start := s.clock()
	id := s.newID()

	left, right, err := EncodePair(ctx, sub.LeftHand, sub.RightHand)
	if err != nil {
		var oe *Error
		if !errors.As(err, &oe) {
			err = inputError("image encoding failed", err)
		}
		return Reading{}, s.fail(ctx, id, start, err)
	}
	return s.consult(ctx, id, start, Request{DateOfBirth: sub.DateOfBirth, Left: left, Right: right})
}

// RevealEncoded runs a reading for images that arrived already encoded.
func (s *Service) RevealEncoded(ctx context.Context, dateOfBirth string, left, right EncodedImage) (Reading, error) {
	start := s.clock()
	return s.consult(ctx, s.newID(), start, Request{DateOfBirth: dateOfBirth, Left: left, Right: right})
}

func (s *Service) consult(ctx context.Context, id string, start time.Time, req Request) (Reading, error) {
	if strings.TrimSpace(req.DateOfBirth) == "" {
		return Reading{}, s.fail(ctx, id, start, inputError("date of birth missing", errMissingDate))
	}

	raw, err := s.client.Consult(ctx, req)
	if err != nil {
		var oe *Error
		if !errors.As(err, &oe) {
			err = transportError(err)
		}
		return Reading{}, s.fail(ctx, id, start, err)
	}

	result, err := Parse(raw)
	if err != nil {
		s.logger(ctx, "oracle.reply_rejected", map[string]any{
			"readingId": id,
			"replySize": len(raw),
		})
		return Reading{}, s.fail(ctx, id, start, err)
	}

	end := s.clock()
	s.record(ctx, start, end, "success", "")
	s.logger(ctx, "oracle.reading_completed", map[string]any{
		"readingId":  id,
		"durationMs": end.Sub(start).Milliseconds(),
	})
	return Reading{ID: id, Result: result, StartedAt: start, CompletedAt: end}, nil
}

func (s *Service) fail(ctx context.Context, id string, start time.Time, err error) error {
	kind := KindOf(err)
	s.record(ctx, start, s.clock(), "failure", kind)
	s.logger(ctx, "oracle.reading_failed", map[string]any{
		"readingId": id,
		"kind":      string(kind),
		"error":     err.Error(),
	})
	return err
}

func (s *Service) record(ctx context.Context, start, end time.Time, outcome string, kind Kind) {
	attrs := []attribute.KeyValue{attribute.String("outcome", outcome)}
	if kind != "" {
		attrs = append(attrs, attribute.String("kind", string(kind)))
	}
	s.readings.Add(ctx, 1, metric.WithAttributes(attrs...))
	s.duration.Record(ctx, float64(end.Sub(start))/float64(time.Millisecond), metric.WithAttributes(attrs...))
}
