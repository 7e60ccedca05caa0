// Package delivery runs the two-step exchange that delivers one queued
// submission: upload the photo, then write the record row. Both steps carry
// the submission id so the remote side can drop repeats.
package delivery

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/yangwenmai/fieldbox/internal/model"
	"github.com/yangwenmai/fieldbox/internal/transport"
)

// DefaultWriteAction is the action tag of the record-write step.
const DefaultWriteAction = "gravar_linha"

var (
	// ErrDeliveryFailed matches every error returned by Submit.
	ErrDeliveryFailed = errors.New("delivery failed")
	// ErrNoEndpoint means neither the item nor the protocol has an endpoint.
	ErrNoEndpoint = errors.New("no endpoint configured")
)

// Poster sends one request to the remote endpoint.
type Poster interface {
	Post(ctx context.Context, endpoint string, fields transport.Fields) (*transport.Response, error)
}

// Submitter delivers a single submission.
type Submitter interface {
	Submit(ctx context.Context, s model.Submission) error
}

// Lot identifies the field lot a record belongs to.
type Lot struct {
	Name string
	Code string
}

// Protocol delivers submissions with an upload step followed by a write step.
type Protocol struct {
	upload          *UploadStep
	write           *WriteStep
	defaultEndpoint string
	defaultLot      Lot
	logger          logrus.FieldLogger
	tracer          trace.Tracer
}

// Option configures the Protocol.
type Option func(*Protocol)

// WithDefaultEndpoint sets the endpoint used for items created without one.
func WithDefaultEndpoint(url string) Option {
	return func(p *Protocol) { p.defaultEndpoint = url }
}

// WithWriteAction overrides the write step action tag.
func WithWriteAction(action string) Option {
	return func(p *Protocol) {
		if action != "" {
			p.write.Action = action
		}
	}
}

// WithDefaultLot sets the lot sent when an item carries none.
func WithDefaultLot(lot Lot) Option {
	return func(p *Protocol) { p.defaultLot = lot }
}

// WithClock sets the clock used for the data_hora field.
func WithClock(now func() time.Time) Option {
	return func(p *Protocol) { p.write.Now = now }
}

// WithLogger sets the logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(p *Protocol) { p.logger = l }
}

// WithTracer sets the tracer (default: the global "fieldbox/delivery" tracer).
func WithTracer(t trace.Tracer) Option {
	return func(p *Protocol) { p.tracer = t }
}

// New creates a Protocol posting through poster.
func New(poster Poster, opts ...Option) *Protocol {
	p := &Protocol{
		upload: &UploadStep{Poster: poster},
		write:  &WriteStep{Poster: poster, Action: DefaultWriteAction, Now: time.Now},
		logger: logrus.StandardLogger(),
		tracer: otel.Tracer("fieldbox/delivery"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// ResolveEndpoint returns the endpoint s will be delivered to.
func (p *Protocol) ResolveEndpoint(s model.Submission) string {
	if s.Endpoint != "" {
		return s.Endpoint
	}
	return p.defaultEndpoint
}

// Submit runs both steps for s. Every failure is a *StepError matching
// ErrDeliveryFailed; the upload result is never kept between attempts.
func (p *Protocol) Submit(ctx context.Context, s model.Submission) (err error) {
	ctx, span := p.tracer.Start(ctx, "delivery.Submit",
		trace.WithAttributes(attribute.String("submission_uuid", s.SubmissionID)))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	log := p.logger.WithField("submission_uuid", s.SubmissionID)

	endpoint := p.ResolveEndpoint(s)
	if endpoint == "" {
		return &StepError{Step: "resolve", Err: ErrNoEndpoint}
	}
	lot := p.lotFor(s)

	art, err := p.runStep(ctx, "upload", func(ctx context.Context) (model.RemoteArtifact, error) {
		return p.upload.Run(ctx, endpoint, s, lot)
	})
	if err != nil {
		log.WithError(err).Warn("upload step failed")
		return err
	}

	if _, err := p.runStep(ctx, "write", func(ctx context.Context) (model.RemoteArtifact, error) {
		return art, p.write.Run(ctx, endpoint, s, lot, art)
	}); err != nil {
		log.WithError(err).Warn("write step failed")
		return err
	}

	log.Debug("submission delivered")
	return nil
}

func (p *Protocol) runStep(ctx context.Context, name string, fn func(context.Context) (model.RemoteArtifact, error)) (model.RemoteArtifact, error) {
	ctx, span := p.tracer.Start(ctx, "delivery."+name)
	defer span.End()

	art, err := fn(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return art, &StepError{Step: name, Err: err}
	}
	return art, nil
}

func (p *Protocol) lotFor(s model.Submission) Lot {
	lot := Lot{Name: s.Lot, Code: s.LotCode}
	if lot.Name == "" {
		lot.Name = p.defaultLot.Name
	}
	if lot.Code == "" {
		lot.Code = p.defaultLot.Code
	}
	return lot
}

// StepError wraps an error with the step name that failed.
type StepError struct {
	Step string
	Err  error
}

func (e *StepError) Error() string {
	return e.Step + ": " + e.Err.Error()
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// Is makes every StepError match ErrDeliveryFailed.
func (e *StepError) Is(target error) bool {
	return target == ErrDeliveryFailed
}
