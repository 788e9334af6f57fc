package cli

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/sungwon/mailqueue/internal/app"
	"github.com/sungwon/mailqueue/internal/dispatch"
	"github.com/sungwon/mailqueue/internal/mail"
	"github.com/sungwon/mailqueue/internal/mailer"
	"github.com/sungwon/mailqueue/internal/queue"
	"github.com/sungwon/mailqueue/internal/transport"
)

func newSendCommand() *cobra.Command {
	var (
		priorities []string
		limit      int
	)
	cmd := &cobra.Command{
		Use:   "send",
		Short: "Run one drain pass over the queue",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			tiers, err := parsePriorities(priorities)
			if err != nil {
				return err
			}
			tr, err := transport.New(app.TransportConfig(rt.cfg))
			if err != nil {
				return err
			}

			d := dispatch.New(rt.backends.Queue, rt.backends.Suppressions, tr, rt.log, rt.cfg.Transport.Timeout)
			stats, err := d.Drain(cmd.Context(), dispatch.DrainOptions{Priorities: tiers, Limit: limit})
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(rt.Writer(), "attempted %d: %d sent, %d suppressed, %d deferred\n",
				stats.Attempted, stats.Sent, stats.Suppressed, stats.Deferred)
			return err
		},
	}
	cmd.Flags().StringSliceVar(&priorities, "priority", nil, "Only drain these priorities (high, medium, low)")
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum messages to attempt (0 for no limit)")
	return cmd
}

func newEnqueueCommand() *cobra.Command {
	var (
		req      mailer.Request
		admins   bool
		managers bool
	)
	cmd := &cobra.Command{
		Use:   "enqueue",
		Short: "Queue a message for one or more recipients",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}

			var tr transport.Transport
			if req.Immediate || rt.cfg.Mailer.Immediate {
				if tr, err = transport.New(app.TransportConfig(rt.cfg)); err != nil {
					return err
				}
			}
			m := mailer.New(rt.backends.Queue, tr, rt.log, app.MailerConfig(rt.cfg))

			var msgs []*mail.Message
			switch {
			case admins:
				msgs, err = m.MailAdmins(cmd.Context(), req.Subject, req.Body, req.Priority)
			case managers:
				msgs, err = m.MailManagers(cmd.Context(), req.Subject, req.Body, req.Priority)
			default:
				if len(req.Recipients) == 0 {
					return fmt.Errorf("at least one --to recipient is required")
				}
				msgs, err = m.EnqueueMail(cmd.Context(), req)
			}
			if err != nil {
				return err
			}
			return writeMessages(rt.Writer(), rt.outputFormat, msgs)
		},
	}
	cmd.Flags().StringSliceVar(&req.Recipients, "to", nil, "Recipient address (repeatable)")
	cmd.Flags().StringVar(&req.From, "from", "", "Sender address")
	cmd.Flags().StringVar(&req.Subject, "subject", "", "Subject line")
	cmd.Flags().StringVar(&req.Body, "body", "", "Plain-text body")
	cmd.Flags().StringVar(&req.HTMLBody, "html", "", "HTML alternative body")
	cmd.Flags().StringVar(&req.Priority, "priority", "", "high, medium or low (default from config)")
	cmd.Flags().BoolVar(&req.Immediate, "immediate", false, "Send now instead of queueing")
	cmd.Flags().BoolVar(&admins, "admins", false, "Send to the configured admins from the server address")
	cmd.Flags().BoolVar(&managers, "managers", false, "Send to the configured managers from the server address")
	cmd.MarkFlagsMutuallyExclusive("admins", "managers", "to")
	return cmd
}

func newPendingCommand() *cobra.Command {
	var priorities []string
	cmd := &cobra.Command{
		Use:   "pending",
		Short: "List queued messages in dispatch order",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			tiers, err := parsePriorities(priorities)
			if err != nil {
				return err
			}
			msgs, err := queue.Collect(rt.backends.Queue.Pending(cmd.Context(), tiers...))
			if err != nil {
				return err
			}
			return writeMessages(rt.Writer(), rt.outputFormat, msgs)
		},
	}
	cmd.Flags().StringSliceVar(&priorities, "priority", nil, "Only list these priorities (high, medium, low, deferred)")
	return cmd
}

func newCountCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "count",
		Short: "Show the number of queued messages per priority",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			counts, err := rt.backends.Queue.Count(cmd.Context())
			if err != nil {
				return err
			}

			tiers := append(mail.ActivePriorities(), mail.Deferred)
			if rt.outputFormat == "json" {
				out := make(map[string]int, len(tiers))
				for _, p := range tiers {
					out[p.String()] = counts[p]
				}
				return writeJSON(rt.Writer(), out)
			}
			for _, p := range tiers {
				if _, err := fmt.Fprintf(rt.Writer(), "%-8s %d\n", p, counts[p]); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

func newRetryDeferredCommand() *cobra.Command {
	var (
		priority string
		ids      []string
	)
	cmd := &cobra.Command{
		Use:   "retry-deferred",
		Short: "Move deferred messages back into the queue",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			target := mail.DefaultPriority
			if priority != "" {
				if target, err = mail.ParsePriority(priority); err != nil {
					return err
				}
			}
			if target.IsDeferred() {
				return fmt.Errorf("%w: cannot retry into deferred", mail.ErrInvalidPriority)
			}

			if len(ids) == 0 {
				n, err := rt.backends.Queue.RetryAllDeferred(cmd.Context(), target)
				if err != nil {
					return err
				}
				rt.log.Info().Int("count", n).Str("priority", target.String()).Msg("retried deferred messages")
				_, err = fmt.Fprintf(rt.Writer(), "%d messages retried at %s\n", n, target)
				return err
			}

			retried := 0
			for _, raw := range ids {
				id, err := uuid.Parse(raw)
				if err != nil {
					return fmt.Errorf("invalid message id %q: %w", raw, err)
				}
				ok, err := rt.backends.Queue.Retry(cmd.Context(), id, target)
				if err != nil {
					return err
				}
				if !ok {
					_, _ = fmt.Fprintf(rt.Writer(), "%s is not deferred\n", id)
					continue
				}
				retried++
			}
			_, err = fmt.Fprintf(rt.Writer(), "%d messages retried at %s\n", retried, target)
			return err
		},
	}
	cmd.Flags().StringVar(&priority, "priority", "", "Priority to retry at (default medium)")
	cmd.Flags().StringSliceVar(&ids, "id", nil, "Retry only these message IDs")
	return cmd
}

func newDeferCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "defer ID...",
		Short: "Hold messages out of dispatch until retried",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return forEachID(cmd, args, func(rt *runtimeState, id uuid.UUID) error {
				return rt.backends.Queue.Defer(cmd.Context(), id)
			})
		},
	}
}

func newRemoveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "remove ID...",
		Short: "Delete messages from the queue without sending",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return forEachID(cmd, args, func(rt *runtimeState, id uuid.UUID) error {
				return rt.backends.Queue.Remove(cmd.Context(), id)
			})
		},
	}
}

func forEachID(cmd *cobra.Command, args []string, fn func(*runtimeState, uuid.UUID) error) error {
	rt, err := getRuntime(cmd)
	if err != nil {
		return err
	}
	for _, raw := range args {
		id, err := uuid.Parse(raw)
		if err != nil {
			return fmt.Errorf("invalid message id %q: %w", raw, err)
		}
		if err := fn(rt, id); err != nil {
			return err
		}
	}
	return nil
}

// parsePriorities accepts names from repeated or comma-separated flags.
func parsePriorities(names []string) ([]mail.Priority, error) {
	var out []mail.Priority
	for _, name := range names {
		p, err := mail.ParsePriority(strings.TrimSpace(name))
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}
