// Copyright 2026 © The Ensemble Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/jllopis/ensemble/pkg/config"
	"github.com/jllopis/ensemble/pkg/dci"
	"github.com/jllopis/ensemble/pkg/governance"
	"github.com/jllopis/ensemble/pkg/player"
)

type allowResult struct {
	Context string `json:"context" yaml:"context"`
	Trigger string `json:"trigger" yaml:"trigger"`
	Allowed bool   `json:"allowed" yaml:"allowed"`
	Policy  string `json:"policy,omitempty" yaml:"policy,omitempty"`
	RuleID  string `json:"rule_id,omitempty" yaml:"rule_id,omitempty"`
}

func newAllowCmd(a *app) *cobra.Command {
	var (
		format  string
		approve bool
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "allow <context> <trigger>...",
		Short: "Ask the governance rules whether triggers may run",
		Long: `Builds the named context type with placeholder players and asks its
guards whether each trigger may run. Triggers under a pending rule are denied
unless --approve is given, in which case the operator is asked on stdin.`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var opts []governance.InstallOption
			if approve {
				opts = append(opts, governance.WithApprovalHook(governance.NewConsoleApprovalHook(
					governance.WithApprovalInput(cmd.InOrStdin()),
					governance.WithApprovalOutput(cmd.ErrOrStderr()),
					governance.WithApprovalTimeout(timeout),
				)))
			}
			results, err := allowTriggers(cmd, a.cfg, args[0], args[1:], opts...)
			if err != nil {
				return err
			}
			return writeFormatted(cmd.OutOrStdout(), format, results, func(w io.Writer) error {
				printAllow(w, results)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "text", "output format: text, json or yaml")
	cmd.Flags().BoolVar(&approve, "approve", false, "ask on stdin before running triggers pending approval")
	cmd.Flags().DurationVar(&timeout, "approve-timeout", 0, "deny a pending trigger if no answer arrives in time")
	return cmd
}

func allowTriggers(cmd *cobra.Command, cfg *config.Config, name string, triggers []string, opts ...governance.InstallOption) ([]allowResult, error) {
	def, ok := cfg.Context(name)
	if !ok {
		return nil, fmt.Errorf("no context type named %q", name)
	}
	t, err := dci.FromConfig(def, placeholderRegistry(cfg))
	if err != nil {
		return nil, err
	}
	engine := governance.RuleSetFromConfig(cfg.Governance)
	if err := governance.Install(t, engine, opts...); err != nil {
		return nil, err
	}

	ctx := cmd.Context()
	assignments := make([]dci.Assignment, 0, len(t.Roles()))
	for _, role := range t.Roles() {
		assignments = append(assignments, dci.Assign(role, player.NewObject(nil)))
	}
	c, err := t.New(ctx, assignments...)
	if err != nil {
		return nil, err
	}

	results := make([]allowResult, 0, len(triggers))
	for _, trigger := range triggers {
		allowed, err := c.Allow(ctx, trigger)
		if err != nil {
			return nil, err
		}
		d := engine.Evaluate(ctx, governance.TriggerAction(t.Name(), c.ID(), trigger))
		results = append(results, allowResult{
			Context: t.Name(),
			Trigger: trigger,
			Allowed: allowed,
			Policy:  string(d.Status),
			RuleID:  d.RuleID,
		})
	}
	return results, nil
}

func printAllow(w io.Writer, results []allowResult) {
	for _, r := range results {
		verdict := "denied"
		if r.Allowed {
			verdict = "allowed"
		}
		if r.RuleID != "" {
			verdict += fmt.Sprintf(" [%s by %s]", r.Policy, r.RuleID)
		}
		fmt.Fprintf(w, "%s.%s: %s\n", r.Context, r.Trigger, verdict)
	}
}
