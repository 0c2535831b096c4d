package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	pkgerrors "github.com/khalid1313/ai-customer-care-agent-sub003/pkg/errors"
	"github.com/khalid1313/ai-customer-care-agent-sub003/runtime/events"
)

func (a *app) eventsCmd() *cobra.Command {
	var (
		dir   string
		types []string
		since time.Duration
		limit int
		turn  string
	)
	cmd := &cobra.Command{
		Use:   "events SESSION_ID",
		Short: "Print the event journal of a session",
		Long: `Reads the JSON Lines event journal written by the engine when
spec.events.log_dir is set. --dir overrides the configured directory.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := a.format()
			if err != nil {
				return err
			}
			if dir == "" {
				cfg, err := a.loadConfig()
				if err != nil {
					return err
				}
				if cfg.Spec.Events == nil || cfg.Spec.Events.LogDir == "" {
					return fmt.Errorf("no event journal configured; pass --dir or set spec.events.log_dir")
				}
				dir = cfg.ResolvePath(cfg.Spec.Events.LogDir)
			}

			journal, err := events.NewFileEventStore(dir)
			if err != nil {
				return pkgerrors.New(component, "OpenJournal", err)
			}
			defer journal.Close()

			filter := &events.EventFilter{SessionID: args[0], TurnID: turn, Limit: limit}
			for _, t := range types {
				filter.Types = append(filter.Types, events.EventType(t))
			}
			if since > 0 {
				filter.Since = time.Now().Add(-since)
			}
			stored, err := journal.Query(cmd.Context(), filter)
			if err != nil {
				return pkgerrors.New(component, "QueryEvents", err)
			}

			if format == formatJSON {
				return writeJSON(cmd.OutOrStdout(), stored)
			}
			if len(stored) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No events recorded.")
				return nil
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "SEQ\tTIME\tTURN\tTYPE\tDATA")
			for _, e := range stored {
				fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n",
					e.Sequence, e.Timestamp.Format("15:04:05.000"), orDash(e.TurnID), e.Type, string(e.Data))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "", "Event journal directory")
	cmd.Flags().StringSliceVar(&types, "type", nil, "Only show these event types (e.g. topic.switched)")
	cmd.Flags().DurationVar(&since, "since", 0, "Only show events newer than this")
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum number of events")
	cmd.Flags().StringVar(&turn, "turn", "", "Only show events of this turn")
	return cmd
}
