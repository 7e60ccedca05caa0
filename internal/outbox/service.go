// Package outbox is the entry point for a freshly completed record: it tries
// to deliver immediately and falls back to the durable queue.
package outbox

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/yangwenmai/fieldbox/internal/connectivity"
	"github.com/yangwenmai/fieldbox/internal/model"
	"github.com/yangwenmai/fieldbox/internal/store"
	"github.com/yangwenmai/fieldbox/internal/worker"
)

// persistTimeout bounds the queueing write.
const persistTimeout = 10 * time.Second

// Deliverer submits a record and resolves the endpoint it goes to.
type Deliverer interface {
	Submit(ctx context.Context, s model.Submission) error
	ResolveEndpoint(s model.Submission) string
}

// Drainer runs a drain pass.
type Drainer interface {
	Drain(ctx context.Context) (worker.Report, bool)
}

// Callbacks are notified of the outcome of SubmitNow. Either may be nil.
type Callbacks struct {
	OnSent   func()
	OnQueued func()
}

// Result is the outcome reported to the user: sent, or safely queued.
type Result struct {
	SubmissionID string `json:"submission_uuid"`
	Sent         bool   `json:"sent"`
	Queued       bool   `json:"queued"`
}

// Service submits records directly when online and queues them otherwise.
type Service struct {
	store     store.OutboxWriter
	deliverer Deliverer
	signal    connectivity.Signal
	drainer   Drainer
	now       func() time.Time
	logger    logrus.FieldLogger
}

// Option configures the Service.
type Option func(*Service)

// WithClock sets the clock used for CreatedAt.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithLogger sets the logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(s *Service) { s.logger = l }
}

// NewService creates a Service. drainer may be nil when Flush is not used.
func NewService(st store.OutboxWriter, d Deliverer, signal connectivity.Signal, drainer Drainer, opts ...Option) *Service {
	s := &Service{
		store:     st,
		deliverer: d,
		signal:    signal,
		drainer:   drainer,
		now:       time.Now,
		logger:    logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SubmitNow fills in the identity and endpoint of sub, then delivers it if
// online, queueing it when offline or when delivery fails. The only error
// returned is a failure to queue.
func (s *Service) SubmitNow(ctx context.Context, sub *model.Submission, cb Callbacks) (Result, error) {
	sub.EnsureIdentity(s.now())
	if sub.Endpoint == "" {
		sub.Endpoint = s.deliverer.ResolveEndpoint(*sub)
	}
	log := s.logger.WithField("submission_uuid", sub.SubmissionID)
	res := Result{SubmissionID: sub.SubmissionID}

	if s.signal.Online() {
		err := s.deliverer.Submit(ctx, *sub)
		if err == nil {
			log.Info("submission sent")
			res.Sent = true
			s.notify(cb.OnSent, "OnSent")
			return res, nil
		}
		log.WithError(err).Warn("direct submit failed, queueing")
	}

	// The send may have failed because ctx ended; queueing must not.
	putCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()
	if err := s.store.Put(putCtx, sub); err != nil {
		log.WithError(err).Error("queue submission")
		return res, fmt.Errorf("queue submission %s: %w", sub.SubmissionID, err)
	}
	log.Info("submission queued")
	res.Queued = true
	s.notify(cb.OnQueued, "OnQueued")
	return res, nil
}

// Flush triggers a drain pass now.
func (s *Service) Flush(ctx context.Context) (worker.Report, bool) {
	if s.drainer == nil {
		return worker.Report{}, false
	}
	return s.drainer.Drain(ctx)
}

func (s *Service) notify(fn func(), name string) {
	if fn == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			s.logger.WithFields(logrus.Fields{"callback": name, "panic": r}).Error("callback panicked")
		}
	}()
	fn()
}
