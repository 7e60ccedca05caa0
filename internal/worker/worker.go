// Package worker drains the outbox: it decides when delivery is attempted and
// removes each item only after the remote side confirmed it.
package worker

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/yangwenmai/fieldbox/internal/connectivity"
	"github.com/yangwenmai/fieldbox/internal/delivery"
	"github.com/yangwenmai/fieldbox/internal/store"
)

// State is the engine's drain state.
type State int32

const (
	StateIdle State = iota
	StateDraining
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateDraining:
		return "draining"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Reasons a drain pass stopped before the end of its snapshot.
const (
	StopOffline  = "offline"
	StopFailure  = "failure"
	StopStorage  = "storage"
	StopCanceled = "canceled"
)

// Report summarizes one drain pass.
type Report struct {
	Attempted int    `json:"attempted"`
	Delivered int    `json:"delivered"`
	Remaining int    `json:"remaining"`
	Stopped   string `json:"stopped,omitempty"`
}

// Engine runs drain passes over the outbox, one at a time.
type Engine struct {
	store        store.Outbox
	submitter    delivery.Submitter
	signal       connectivity.Signal
	interval     time.Duration
	startupDelay time.Duration
	logger       logrus.FieldLogger
	tracer       trace.Tracer

	state atomic.Int32
}

// Option configures the Engine.
type Option func(*Engine)

// WithInterval sets the periodic drain interval (default: 60s).
func WithInterval(d time.Duration) Option {
	return func(e *Engine) { e.interval = d }
}

// WithStartupDelay sets the delay of the one-shot drain after Run starts
// (default: 2s).
func WithStartupDelay(d time.Duration) Option {
	return func(e *Engine) { e.startupDelay = d }
}

// WithLogger sets the logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithTracer sets the tracer.
func WithTracer(t trace.Tracer) Option {
	return func(e *Engine) { e.tracer = t }
}

// New creates a new Engine.
func New(st store.Outbox, submitter delivery.Submitter, signal connectivity.Signal, opts ...Option) *Engine {
	e := &Engine{
		store:        st,
		submitter:    submitter,
		signal:       signal,
		interval:     60 * time.Second,
		startupDelay: 2 * time.Second,
		logger:       logrus.StandardLogger(),
		tracer:       otel.Tracer("fieldbox/worker"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// State returns the current drain state.
func (e *Engine) State() State {
	return State(e.state.Load())
}

// Drain runs one pass over the outbox. It returns started=false without
// doing anything when a pass is already running or the signal is offline.
func (e *Engine) Drain(ctx context.Context) (rep Report, started bool) {
	if !e.signal.Online() {
		return Report{}, false
	}
	if !e.state.CompareAndSwap(int32(StateIdle), int32(StateDraining)) {
		return Report{}, false
	}
	started = true

	ctx, span := e.tracer.Start(ctx, "worker.Drain")
	defer func() {
		if r := recover(); r != nil {
			e.logger.WithField("panic", r).Error("drain pass panicked")
			rep.Stopped = StopFailure
		}
		span.SetAttributes(
			attribute.Int("attempted", rep.Attempted),
			attribute.Int("delivered", rep.Delivered),
			attribute.String("stopped", rep.Stopped),
		)
		span.End()
		e.state.Store(int32(StateIdle))
	}()

	e.drain(ctx, &rep)
	return rep, started
}

// drain fills rep as it goes so the counts survive a panic.
func (e *Engine) drain(ctx context.Context, rep *Report) {
	items, err := e.store.ListOrdered(ctx)
	if err != nil {
		e.logger.WithError(err).Error("drain: list outbox")
		rep.Stopped = StopStorage
		return
	}
	if len(items) == 0 {
		return
	}
	e.logger.WithField("queued", len(items)).Info("drain started")

	for i, item := range items {
		rep.Remaining = len(items) - i
		if err := ctx.Err(); err != nil {
			rep.Stopped = StopCanceled
			break
		}
		if !e.signal.Online() {
			rep.Stopped = StopOffline
			break
		}

		log := e.logger.WithField("submission_uuid", item.SubmissionID)
		rep.Attempted++
		if err := e.submitter.Submit(ctx, item); err != nil {
			log.WithError(err).Warn("delivery failed, stopping pass")
			rep.Stopped = StopFailure
			break
		}
		if err := e.store.Delete(ctx, item.SubmissionID); err != nil {
			// Delivered but still queued; the remote side drops the repeat.
			log.WithError(err).Error("delete after delivery")
			rep.Delivered++
			rep.Stopped = StopStorage
			break
		}
		rep.Delivered++
		rep.Remaining = len(items) - i - 1
		log.Info("submission delivered")
	}

	e.logger.WithFields(logrus.Fields{
		"attempted": rep.Attempted,
		"delivered": rep.Delivered,
		"remaining": rep.Remaining,
		"stopped":   rep.Stopped,
	}).Info("drain finished")
}

// Run blocks until ctx is cancelled, draining on every connectivity-restored
// event, every interval, and once after the startup delay.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.WithFields(logrus.Fields{
		"interval":      e.interval.String(),
		"startup_delay": e.startupDelay.String(),
	}).Info("sync engine started")
	defer e.logger.Info("sync engine stopped")

	restored, unsubscribe := e.signal.Subscribe()
	defer unsubscribe()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-restored:
				e.trigger(ctx, "online")
			}
		}
	})

	g.Go(func() error {
		ticker := time.NewTicker(e.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				e.trigger(ctx, "interval")
			}
		}
	})

	g.Go(func() error {
		timer := time.NewTimer(e.startupDelay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
		case <-timer.C:
			e.trigger(ctx, "startup")
		}
		return nil
	})

	return g.Wait()
}

func (e *Engine) trigger(ctx context.Context, source string) {
	rep, started := e.Drain(ctx)
	if !started {
		e.logger.WithField("trigger", source).Debug("drain skipped")
		return
	}
	if rep.Stopped != "" {
		e.logger.WithFields(logrus.Fields{
			"trigger": source,
			"stopped": rep.Stopped,
		}).Warn("drain pass stopped early")
	}
}
