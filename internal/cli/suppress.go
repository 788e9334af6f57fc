package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sungwon/mailqueue/internal/mailer"
)

func newSuppressCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "suppress",
		Short: "Manage addresses that must never receive mail",
	}
	cmd.AddCommand(
		newSuppressAddCommand(),
		newSuppressRemoveCommand(),
		newSuppressListCommand(),
	)
	return cmd
}

func newSuppressAddCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "add ADDRESS...",
		Short: "Suppress addresses",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			addrs, err := normalizeAddresses(args)
			if err != nil {
				return err
			}
			for _, addr := range addrs {
				if err := rt.backends.Suppressions.Add(cmd.Context(), addr); err != nil {
					return err
				}
			}
			_, err = fmt.Fprintf(rt.Writer(), "%d addresses suppressed\n", len(args))
			return err
		},
	}
}

func newSuppressRemoveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "remove ADDRESS...",
		Short: "Allow suppressed addresses to receive mail again",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			addrs, err := normalizeAddresses(args)
			if err != nil {
				return err
			}
			for _, addr := range addrs {
				removed, err := rt.backends.Suppressions.Remove(cmd.Context(), addr)
				if err != nil {
					return err
				}
				if !removed {
					_, _ = fmt.Fprintf(rt.Writer(), "%s was not suppressed\n", addr)
				}
			}
			return nil
		},
	}
}

func newSuppressListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List suppressed addresses",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			entries, err := rt.backends.Suppressions.List(cmd.Context())
			if err != nil {
				return err
			}
			return writeSuppressions(rt.Writer(), rt.outputFormat, entries)
		},
	}
}

// normalizeAddresses reduces each argument to the bare address stored on
// queued messages, so "Jane <jane@example.com>" matches jane@example.com.
func normalizeAddresses(args []string) ([]string, error) {
	out := make([]string, 0, len(args))
	for _, a := range args {
		addr, err := mailer.NormalizeAddress(a)
		if err != nil {
			return nil, err
		}
		out = append(out, addr)
	}
	return out, nil
}
