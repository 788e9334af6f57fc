// Package dispatch drains the queue through a transport and records every
// outcome in the delivery log.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/sungwon/mailqueue/internal/logger"
	"github.com/sungwon/mailqueue/internal/mail"
	"github.com/sungwon/mailqueue/internal/maillog"
	"github.com/sungwon/mailqueue/internal/queue"
	"github.com/sungwon/mailqueue/internal/suppression"
	"github.com/sungwon/mailqueue/internal/transport"
)

const (
	instrumentationName = "github.com/sungwon/mailqueue/internal/dispatch"

	// TimeoutNote is the log note for a send that exceeded the timeout.
	TimeoutNote = "transport timeout"

	defaultTimeout = 30 * time.Second
)

// Stats summarises one drain pass.
type Stats struct {
	Attempted  int
	Sent       int
	Suppressed int
	Deferred   int
}

func (s *Stats) add(r mail.Result) {
	s.Attempted++
	switch r {
	case mail.ResultSuccess:
		s.Sent++
	case mail.ResultSuppressed:
		s.Suppressed++
	case mail.ResultFailure:
		s.Deferred++
	}
}

// DrainOptions narrows a drain pass.
type DrainOptions struct {
	// Priorities restricts the pass to these tiers. Empty means all active
	// tiers.
	Priorities []mail.Priority
	// Limit caps the messages attempted in one pass. Zero means no cap.
	Limit int
}

// Dispatcher moves messages from the queue to the transport.
type Dispatcher struct {
	store        queue.Store
	suppressions suppression.List
	transport    transport.Transport
	log          zerolog.Logger
	timeout      time.Duration
	tracer       trace.Tracer
	now          func() time.Time
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithTracerProvider sets the provider for delivery spans. The global
// provider is used otherwise.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(d *Dispatcher) {
		d.tracer = tp.Tracer(instrumentationName)
	}
}

// WithClock overrides the time source for log entries and pass cutoffs.
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) {
		d.now = now
	}
}

// New creates a Dispatcher. timeout bounds each transport call and each
// commit; zero means 30s.
func New(
	store queue.Store,
	suppressions suppression.List,
	tr transport.Transport,
	log zerolog.Logger,
	timeout time.Duration,
	opts ...Option,
) *Dispatcher {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	d := &Dispatcher{
		store:        store,
		suppressions: suppressions,
		transport:    tr,
		log:          log,
		timeout:      timeout,
		tracer:       otel.GetTracerProvider().Tracer(instrumentationName),
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Drain makes one pass over the queue. Messages are claimed one at a time in
// priority order; only messages enqueued before the pass started are
// eligible, so a pass always terminates.
//
// Cancelling ctx stops the pass between messages. A message already handed
// to the transport is still committed before Drain returns ctx.Err().
func (d *Dispatcher) Drain(ctx context.Context, opts DrainOptions) (Stats, error) {
	timer := prometheus.NewTimer(queue.DrainDuration)
	defer timer.ObserveDuration()

	passID := logger.NewCorrelationID()
	log := d.log.With().Str("pass_id", passID).Logger()
	ctx = logger.WithLogger(ctx, log)

	claimOpts := queue.ClaimOptions{
		Priorities:     opts.Priorities,
		EnqueuedBefore: d.now(),
	}

	var stats Stats
	for opts.Limit == 0 || stats.Attempted < opts.Limit {
		if err := ctx.Err(); err != nil {
			log.Info().Int("attempted", stats.Attempted).Msg("drain cancelled")
			return stats, err
		}

		claim, err := d.store.ClaimNext(ctx, claimOpts)
		if errors.Is(err, queue.ErrEmpty) {
			break
		}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return stats, ctxErr
			}
			return stats, fmt.Errorf("claim next message: %w", err)
		}

		result, err := d.deliver(ctx, claim)
		if err != nil {
			log.Error().Err(err).Str("message_id", claim.Message().ID.String()).Msg("drain aborted")
			return stats, err
		}
		stats.add(result)
	}

	log.Info().
		Int("attempted", stats.Attempted).
		Int("sent", stats.Sent).
		Int("suppressed", stats.Suppressed).
		Int("deferred", stats.Deferred).
		Msg("drain finished")

	return stats, nil
}

// deliver runs one claimed message through suppression, transport and
// commit. It ignores cancellation of ctx so the claim is always finished.
func (d *Dispatcher) deliver(ctx context.Context, claim queue.Claim) (result mail.Result, err error) {
	log := logger.FromContext(ctx)
	ctx = context.WithoutCancel(ctx)
	msg := claim.Message()

	ctx, span := d.tracer.Start(ctx, "dispatch.deliver",
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			attribute.String("mail.message_id", msg.ID.String()),
			attribute.String("mail.priority", msg.Priority.String()),
			attribute.String("mail.transport", d.transport.Name()),
		),
	)
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetAttributes(attribute.String("mail.result", result.String()))
		}
		span.End()
	}()

	checkCtx, cancel := context.WithTimeout(ctx, d.timeout)
	suppressed, err := d.suppressions.Contains(checkCtx, msg.To)
	cancel()
	if err != nil {
		d.release(ctx, claim, log)
		return 0, fmt.Errorf("check suppression for %s: %w", msg.ID, err)
	}

	var note string
	start := time.Now()
	if suppressed {
		result = mail.ResultSuppressed
	} else {
		sendCtx, cancel := context.WithTimeout(ctx, d.timeout)
		sendErr := d.transport.Send(sendCtx, transport.EnvelopeFor(msg))
		cancel()

		if sendErr == nil {
			result = mail.ResultSuccess
		} else {
			result = mail.ResultFailure
			note = failureNote(sendErr)
			span.RecordError(sendErr)
		}
	}

	entry := maillog.Record(msg, result, note, d.now())

	commitCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	if result == mail.ResultFailure {
		err = claim.Defer(commitCtx, entry)
	} else {
		err = claim.Complete(commitCtx, entry)
	}
	if err != nil {
		return 0, fmt.Errorf("commit %s outcome for %s: %w", result, msg.ID, err)
	}

	queue.DeliveryAttemptsTotal.WithLabelValues(result.String()).Inc()

	ev := log.Info()
	if result == mail.ResultFailure {
		ev = log.Warn().Str("note", note)
	}
	ev.Str("message_id", msg.ID.String()).
		Str("priority", msg.Priority.String()).
		Str("result", result.String()).
		Int64("duration_ms", time.Since(start).Milliseconds()).
		Msg("delivery attempted")

	return result, nil
}

func (d *Dispatcher) release(ctx context.Context, claim queue.Claim, log zerolog.Logger) {
	releaseCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	if err := claim.Release(releaseCtx); err != nil && !errors.Is(err, queue.ErrClaimClosed) {
		log.Error().Err(err).Str("message_id", claim.Message().ID.String()).Msg("failed to release claim")
	}
}

func failureNote(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return TimeoutNote
	}
	return err.Error()
}
