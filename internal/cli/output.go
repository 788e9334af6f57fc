package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/sungwon/mailqueue/internal/mail"
)

const timeLayout = "2006-01-02 15:04:05"

type messageView struct {
	ID        string    `json:"id"`
	To        string    `json:"to_address"`
	From      string    `json:"from_address"`
	Subject   string    `json:"subject"`
	Priority  string    `json:"priority"`
	WhenAdded time.Time `json:"when_added"`
}

type logView struct {
	ID            string    `json:"id"`
	MessageID     string    `json:"message_id"`
	To            string    `json:"to_address"`
	Subject       string    `json:"subject"`
	Priority      string    `json:"priority"`
	WhenAttempted time.Time `json:"when_attempted"`
	Result        string    `json:"result"`
	Note          string    `json:"log_message,omitempty"`
}

type suppressionView struct {
	Address   string    `json:"address"`
	WhenAdded time.Time `json:"when_added"`
}

func writeJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

func writeMessages(w io.Writer, format string, msgs []*mail.Message) error {
	views := make([]messageView, len(msgs))
	for i, m := range msgs {
		views[i] = messageView{
			ID:        m.ID.String(),
			To:        m.To,
			From:      m.From,
			Subject:   m.Subject,
			Priority:  m.Priority.String(),
			WhenAdded: m.WhenAdded,
		}
	}
	if format == "json" {
		return writeJSON(w, views)
	}

	tw := tabwriter.NewWriter(w, 2, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "ID\tPRIORITY\tTO\tSUBJECT\tADDED")
	for _, v := range views {
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", v.ID, v.Priority, v.To, v.Subject, v.WhenAdded.Format(timeLayout))
	}
	return tw.Flush()
}

func writeLog(w io.Writer, format string, entries []mail.LogEntry) error {
	views := make([]logView, len(entries))
	for i, e := range entries {
		views[i] = logView{
			ID:            e.ID.String(),
			MessageID:     e.MessageID.String(),
			To:            e.To,
			Subject:       e.Subject,
			Priority:      e.Priority.String(),
			WhenAttempted: e.WhenAttempted,
			Result:        e.Result.String(),
			Note:          e.Note,
		}
	}
	if format == "json" {
		return writeJSON(w, views)
	}

	tw := tabwriter.NewWriter(w, 2, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "ATTEMPTED\tRESULT\tPRIORITY\tTO\tSUBJECT\tNOTE")
	for _, v := range views {
		note := v.Note
		if note == "" {
			note = "-"
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", v.WhenAttempted.Format(timeLayout), v.Result, v.Priority, v.To, v.Subject, note)
	}
	return tw.Flush()
}

func writeSuppressions(w io.Writer, format string, entries []mail.SuppressionEntry) error {
	views := make([]suppressionView, len(entries))
	for i, e := range entries {
		views[i] = suppressionView{Address: e.Address, WhenAdded: e.WhenAdded}
	}
	if format == "json" {
		return writeJSON(w, views)
	}

	tw := tabwriter.NewWriter(w, 2, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "ADDRESS\tADDED")
	for _, v := range views {
		_, _ = fmt.Fprintf(tw, "%s\t%s\n", v.Address, v.WhenAdded.Format(timeLayout))
	}
	return tw.Flush()
}
