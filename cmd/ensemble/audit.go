// Copyright 2026 © The Ensemble Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/jllopis/ensemble/pkg/audit"
)

func newAuditCmd(a *app) *cobra.Command {
	var (
		filter audit.Filter
		format string
	)
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "List recorded trigger outcomes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, closeStore, err := audit.Open(a.cfg.Audit)
			if err != nil {
				return err
			}
			defer closeStore()
			if store == nil {
				return fmt.Errorf("audit is disabled, set audit.enabled=true")
			}
			events, err := store.List(cmd.Context(), filter)
			if err != nil {
				return err
			}
			return writeFormatted(cmd.OutOrStdout(), format, events, func(w io.Writer) error {
				return printEvents(w, events)
			})
		},
	}
	cmd.Flags().StringVar(&filter.ContextType, "context", "", "only this context type")
	cmd.Flags().StringVar(&filter.ContextID, "id", "", "only this context instance")
	cmd.Flags().StringVar(&filter.Trigger, "trigger", "", "only this trigger")
	cmd.Flags().StringVar(&filter.Status, "status", "", "only this status: ok, denied or failed")
	cmd.Flags().IntVar(&filter.Limit, "limit", 50, "maximum number of events, 0 for all")
	cmd.Flags().StringVarP(&format, "format", "f", "text", "output format: text, json or yaml")
	return cmd
}

func printEvents(w io.Writer, events []audit.Event) error {
	if len(events) == 0 {
		_, err := fmt.Fprintln(w, "no events")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "STARTED\tCONTEXT\tTRIGGER\tSTATUS\tDURATION\tERROR")
	for _, ev := range events {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			ev.StartedAt.Format(time.RFC3339),
			ev.ContextType,
			ev.Trigger,
			ev.Status,
			ev.Duration().Round(time.Microsecond),
			ev.Error,
		)
	}
	return tw.Flush()
}
