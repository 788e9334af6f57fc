package dispatch

import (
	"context"
	"time"

	"github.com/sungwon/mailqueue/internal/mail"
	"github.com/sungwon/mailqueue/internal/queue"
)

// Run drains immediately and then once per interval until ctx is done. A
// failed pass is logged and retried on the next tick. A pass that stopped at
// opts.Limit is followed by another pass straight away.
func (d *Dispatcher) Run(ctx context.Context, interval time.Duration, opts DrainOptions) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	d.log.Info().Dur("interval", interval).Msg("dispatcher started")

	for {
		stats, err := d.Drain(ctx, opts)
		if err != nil && ctx.Err() == nil {
			d.log.Error().Err(err).Msg("drain pass failed")
		}
		d.reportDepth(ctx)

		if err == nil && opts.Limit > 0 && stats.Attempted >= opts.Limit {
			continue
		}

		select {
		case <-ctx.Done():
			d.log.Info().Msg("dispatcher stopped")
			return
		case <-ticker.C:
		}
	}
}

// reportDepth refreshes the per-priority queue depth gauge.
func (d *Dispatcher) reportDepth(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	counts, err := d.store.Count(ctx)
	if err != nil {
		d.log.Warn().Err(err).Msg("failed to count queued messages")
		return
	}
	for _, p := range append(mail.ActivePriorities(), mail.Deferred) {
		queue.QueueDepth.WithLabelValues(p.String()).Set(float64(counts[p]))
	}
}
