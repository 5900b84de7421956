package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/bhunte/atelier/internal/audit"
	"github.com/bhunte/atelier/internal/platform/db"
)

// TimelineSource reads audit entries.
type TimelineSource interface {
	Timeline(ctx context.Context, f audit.TimelineFilter) ([]audit.Entry, error)
}

func newAuditCommand(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Query the session audit trail",
	}

	var (
		principal string
		before    string
		limit     int
	)
	timeline := &cobra.Command{
		Use:   "timeline",
		Short: "List recent session transitions, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.pgDSN == "" {
				return errors.New("audit: --pg-dsn or PG_DSN required")
			}
			filter := audit.TimelineFilter{PrincipalID: principal, Limit: limit}
			if before != "" {
				ts, err := time.Parse(time.RFC3339, before)
				if err != nil {
					return fmt.Errorf("audit: --before: %w", err)
				}
				filter.Before = ts
			}
			pool, err := db.New(cmd.Context(), opts.pgDSN)
			if err != nil {
				return err
			}
			defer pool.Close()
			return printTimeline(cmd.Context(), cmd.OutOrStdout(), audit.NewRecorder(pool), filter)
		},
	}
	timeline.Flags().StringVar(&principal, "principal", "", "only entries of this principal id")
	timeline.Flags().StringVar(&before, "before", "", "RFC3339 upper bound")
	timeline.Flags().IntVar(&limit, "limit", 20, "maximum entries")

	cmd.AddCommand(timeline)
	return cmd
}

func printTimeline(ctx context.Context, out io.Writer, src TimelineSource, f audit.TimelineFilter) error {
	entries, err := src.Timeline(ctx, f)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "AT\tTRANSITION\tPRINCIPAL\tROLE\tIMPERSONATING\tSESSION\tREASON")
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%t\t%s\t%s\n",
			e.OccurredAt.UTC().Format(time.RFC3339), e.Transition, dash(e.PrincipalID), dash(e.Role),
			e.Impersonating, e.SessionRef, dash(e.Reason))
	}
	return tw.Flush()
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
