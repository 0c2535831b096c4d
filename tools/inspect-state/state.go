package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	pkgerrors "github.com/khalid1313/ai-customer-care-agent-sub003/pkg/errors"
	"github.com/khalid1313/ai-customer-care-agent-sub003/runtime/sessionctx"
	"github.com/khalid1313/ai-customer-care-agent-sub003/runtime/statestore"
)

// withStore opens the configured store for the duration of fn.
func (a *app) withStore(fn func(statestore.Store) error) (err error) {
	cfg, err := a.loadConfig()
	if err != nil {
		return err
	}
	store, closeStore, err := cfg.BuildStateStore()
	if err != nil {
		return pkgerrors.New(component, "OpenStore", err).
			WithDetails(map[string]any{"type": cfg.GetStateStoreType()}).
			WithExitCode(exitStore)
	}
	defer func() {
		if cerr := closeStore(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return fn(store)
}

func (a *app) getCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get SESSION_ID",
		Short: "Print the context of a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := a.format()
			if err != nil {
				return err
			}
			return a.withStore(func(store statestore.Store) error {
				c, err := store.Load(cmd.Context(), args[0])
				if err != nil {
					return pkgerrors.New(component, "Get", err)
				}
				if format == formatJSON {
					return writeJSON(cmd.OutOrStdout(), c)
				}
				return writeContext(cmd.OutOrStdout(), c)
			})
		},
	}
}

func (a *app) listCmd() *cobra.Command {
	var opts statestore.ListOptions
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored session IDs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := a.format()
			if err != nil {
				return err
			}
			return a.withStore(func(store statestore.Store) error {
				lister, ok := store.(statestore.Lister)
				if !ok {
					return pkgerrors.New(component, "List", fmt.Errorf("store %T cannot list sessions", store))
				}
				ids, err := lister.List(cmd.Context(), opts)
				if err != nil {
					return pkgerrors.New(component, "List", err)
				}
				if format == formatJSON {
					return writeJSON(cmd.OutOrStdout(), ids)
				}
				return writeSessionTable(cmd.Context(), cmd.OutOrStdout(), store, ids)
			})
		},
	}
	cmd.Flags().IntVar(&opts.Limit, "limit", 100, "Maximum number of sessions")
	cmd.Flags().IntVar(&opts.Offset, "offset", 0, "Number of sessions to skip")
	cmd.Flags().StringVar(&opts.SortBy, "sort-by", "updated_at", "Sort field: created_at, updated_at")
	cmd.Flags().StringVar(&opts.SortOrder, "sort-order", "desc", "Sort order: asc, desc")
	return cmd
}

func (a *app) deleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete SESSION_ID...",
		Short: "Delete stored sessions",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withStore(func(store statestore.Store) error {
				deleter, ok := store.(statestore.Deleter)
				if !ok {
					return pkgerrors.New(component, "Delete", fmt.Errorf("store %T cannot delete sessions", store))
				}
				for _, id := range args {
					if err := deleter.Delete(cmd.Context(), id); err != nil {
						return pkgerrors.New(component, "Delete", err).WithDetails(map[string]any{"session_id": id})
					}
					fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", id)
				}
				return nil
			})
		},
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writeSessionTable(ctx context.Context, w io.Writer, store statestore.Store, ids []string) error {
	if len(ids) == 0 {
		fmt.Fprintln(w, "No sessions found.")
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SESSION\tVERSION\tTOPIC\tSWITCHES\tTURNS\tUPDATED")
	for _, id := range ids {
		c, err := store.Load(ctx, id)
		if err != nil {
			return pkgerrors.New(component, "List", err).WithDetails(map[string]any{"session_id": id})
		}
		s := c.Snapshot()
		fmt.Fprintf(tw, "%s\t%d\t%s\t%d\t%d\t%s\n",
			s.SessionID, s.Version, orDash(s.CurrentTopic), s.ContextSwitchCount, s.HistoryLength,
			s.UpdatedAt.Format("2006-01-02 15:04:05"))
	}
	return tw.Flush()
}

func writeContext(w io.Writer, c *sessionctx.Context) error {
	s := c.Snapshot()
	if s.Version == 0 {
		fmt.Fprintf(w, "Session %s has no stored context.\n", s.SessionID)
		return nil
	}

	fmt.Fprintf(w, "Session:  %s (version %d)\n", s.SessionID, s.Version)
	fmt.Fprintf(w, "Topic:    %s (previous %s, %d switches)\n",
		orDash(s.CurrentTopic), orDash(s.PreviousTopic), s.ContextSwitchCount)
	fmt.Fprintf(w, "Updated:  %s\n", s.UpdatedAt.Format("2006-01-02 15:04:05"))

	if len(s.MentionedProducts) > 0 {
		fmt.Fprintln(w, "\nProducts (most recent first):")
		for _, p := range s.MentionedProducts {
			fmt.Fprintf(w, "  - %s  %s\n", p.ID, p.Name)
		}
	}
	if len(s.MentionedOrders) > 0 {
		fmt.Fprintln(w, "\nOrders (most recent first):")
		for _, o := range s.MentionedOrders {
			fmt.Fprintf(w, "  - %s  %s\n", o.ID, orDash(o.Status))
		}
	}
	if len(s.Cart) > 0 {
		fmt.Fprintf(w, "\nCart (%d items, total %.2f):\n", s.CartItemCount, s.CartTotal)
		for _, item := range s.Cart {
			fmt.Fprintf(w, "  - %s x%d @ %.2f\n", item.ProductID, item.Quantity, item.UnitPrice)
		}
	}

	fmt.Fprintf(w, "\nHistory (%d turns):\n", s.HistoryLength)
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for i, turn := range c.ConversationHistory {
		status := orDash(turn.Topic)
		if turn.Failed {
			status = "failed"
		}
		input := turn.Input
		if turn.ResolvedInput != "" {
			input += " => " + turn.ResolvedInput
		}
		fmt.Fprintf(tw, "  %d\t%s\t%s\t%s\n", i+1, status, input, strings.Join(turn.ToolsUsed, ","))
	}
	return tw.Flush()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
