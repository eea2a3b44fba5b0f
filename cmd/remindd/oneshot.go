package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"remindd/internal/app"
	"remindd/internal/notifier"
	"remindd/internal/reminder"
)

// One-shot commands open the store directly. Do not run them against a file
// or sqlite store a running daemon also writes: the last writer wins.

func newScheduleCmd(rf *rootFlags) *cobra.Command {
	var (
		ev    reminder.Event
		date  string
		phone string
	)
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Schedule a reminder 15 minutes before an event",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := reminder.ParseDate(date)
			if err != nil {
				return fmt.Errorf("--date: %w", err)
			}
			ev.Date = d
			p, err := notifier.NormalizePhone(phone)
			if err != nil {
				return fmt.Errorf("--phone: %w", err)
			}

			a, err := app.NewApp(rf.configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			sched := a.Scheduler()
			at, err := reminder.ReminderTime(ev, sched.Location())
			if err != nil {
				return err
			}
			if !sched.Schedule(ev, p) {
				return fmt.Errorf("reminder time %s has already passed", at.Format(time.RFC3339))
			}
			fmt.Fprintf(cmd.OutOrStdout(), "scheduled %s for %s\n", ev.ID, at.Format(time.RFC3339))
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&ev.ID, "event-id", "", "calendar event id (required)")
	f.StringVar(&ev.Title, "title", "", "event title")
	f.StringVar(&date, "date", "", "event date, YYYY-MM-DD (required)")
	f.StringVar(&ev.Time, "time", "", "event time, HH:MM (required)")
	f.StringVar(&ev.Type, "type", "", "event type")
	f.StringVar(&ev.Description, "description", "", "event description")
	f.StringVar(&ev.Location, "location", "", "event location")
	f.StringVar(&phone, "phone", "", "recipient phone, E.164 (required)")
	for _, name := range []string{"event-id", "date", "time", "phone"} {
		_ = cmd.MarkFlagRequired(name)
	}
	return cmd
}

func newListCmd(rf *rootFlags) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "Print the persisted reminder set",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := app.NewApp(rf.configPath)
			if err != nil {
				return err
			}
			defer a.Close()
			return printReminders(cmd, a.Scheduler().Snapshot(), asJSON)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the raw JSON set")
	return cmd
}

func printReminders(cmd *cobra.Command, set []reminder.Stored, asJSON bool) error {
	out := cmd.OutOrStdout()
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(set)
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tEVENT\tPHONE\tREMINDER TIME\tSENT\tTITLE")
	for _, r := range set {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%t\t%s\n",
			r.ID, r.EventID, r.PhoneNumber, r.ReminderTime.Format(time.RFC3339), r.Sent, strings.TrimSpace(r.Event.Title))
	}
	return tw.Flush()
}

func newTickCmd(rf *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "tick",
		Short: "Run one dispatch and retention pass, then exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := app.NewApp(rf.configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			res := a.Scheduler().Tick(context.Background())
			fmt.Fprintf(cmd.OutOrStdout(), "due=%d sent=%d failed=%d pruned=%d remaining=%d\n",
				res.Due, res.Sent, res.Failed, res.Pruned, res.Remaining)
			if res.Failed > 0 {
				return fmt.Errorf("%d reminder(s) failed to send; they stay queued", res.Failed)
			}
			return nil
		},
	}
}
