package cli

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/sungwon/mailqueue/internal/app"
	"github.com/sungwon/mailqueue/internal/archive"
	"github.com/sungwon/mailqueue/internal/mail"
	"github.com/sungwon/mailqueue/internal/maillog"
)

func newLogCommand() *cobra.Command {
	var (
		results []string
		address string
		since   time.Duration
		limit   int
	)
	cmd := &cobra.Command{
		Use:   "log",
		Short: "Show delivery attempts",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			f, err := logFilter(results, address)
			if err != nil {
				return err
			}
			if since > 0 {
				f.Since = time.Now().Add(-since)
			}
			f.Limit = limit

			entries, err := rt.backends.Log.Query(cmd.Context(), f)
			if err != nil {
				return err
			}
			return writeLog(rt.Writer(), rt.outputFormat, entries)
		},
	}
	cmd.Flags().StringSliceVar(&results, "result", nil, "Only show these results (success, suppressed, failure)")
	cmd.Flags().StringVar(&address, "address", "", "Only show attempts to this recipient")
	cmd.Flags().DurationVar(&since, "since", 0, "Only show attempts newer than this (e.g. 24h)")
	cmd.Flags().IntVar(&limit, "limit", 100, "Maximum entries to show (0 for all)")
	return cmd
}

func newPurgeLogCommand() *cobra.Command {
	var (
		olderThan time.Duration
		results   []string
		noArchive bool
	)
	cmd := &cobra.Command{
		Use:   "purge-log",
		Short: "Delete old delivery log entries, archiving them first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			if olderThan <= 0 {
				return errors.New("--older-than must be positive")
			}
			f, err := logFilter(results, "")
			if err != nil {
				return err
			}
			f.Until = time.Now().Add(-olderThan)

			var store maillog.Archiver
			if !noArchive {
				s, err := archive.New(cmd.Context(), app.ArchiveConfig(rt.cfg), rt.log)
				if err != nil {
					return fmt.Errorf("open archive: %w", err)
				}
				store = s
			}

			n, err := maillog.Purge(cmd.Context(), rt.backends.Log, store, f)
			if err != nil {
				return err
			}
			rt.log.Info().Int("count", n).Time("until", f.Until).Bool("archived", !noArchive).Msg("delivery log purged")
			_, err = fmt.Fprintf(rt.Writer(), "%d entries purged\n", n)
			return err
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 30*24*time.Hour, "Purge entries attempted before this long ago")
	cmd.Flags().StringSliceVar(&results, "result", nil, "Only purge these results (success, suppressed, failure)")
	cmd.Flags().BoolVar(&noArchive, "no-archive", false, "Delete without writing an archive")
	return cmd
}

func logFilter(results []string, address string) (maillog.Filter, error) {
	f := maillog.Filter{Address: address}
	for _, name := range results {
		r, err := mail.ParseResult(strings.TrimSpace(name))
		if err != nil {
			return f, err
		}
		f.Results = append(f.Results, r)
	}
	return f, nil
}
