// Copyright 2026 © The Ensemble Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/jllopis/ensemble/pkg/behavior"
	"github.com/jllopis/ensemble/pkg/config"
	"github.com/jllopis/ensemble/pkg/dci"
	"github.com/jllopis/ensemble/pkg/governance"
)

type explainResult struct {
	DefaultStrategy string           `json:"default_strategy" yaml:"default_strategy"`
	Contexts        []explainContext `json:"contexts" yaml:"contexts"`
	Policies        []string         `json:"policies,omitempty" yaml:"policies,omitempty"`
	Audit           explainAudit     `json:"audit" yaml:"audit"`
}

type explainContext struct {
	Name            string           `json:"name" yaml:"name"`
	Policy          string           `json:"policy" yaml:"policy"`
	Strategy        string           `json:"strategy" yaml:"strategy"`
	OnNameCollision string           `json:"on_name_collision" yaml:"on_name_collision"`
	EastOriented    bool             `json:"east_oriented" yaml:"east_oriented"`
	Roles           []explainRole    `json:"roles" yaml:"roles"`
	Triggers        []explainTrigger `json:"triggers" yaml:"triggers"`
}

type explainRole struct {
	Name     string `json:"name" yaml:"name"`
	Behavior string `json:"behavior,omitempty" yaml:"behavior,omitempty"`
	Strategy string `json:"strategy,omitempty" yaml:"strategy,omitempty"`
}

type explainTrigger struct {
	Name     string `json:"name" yaml:"name"`
	Forward  string `json:"forward,omitempty" yaml:"forward,omitempty"`
	Decision string `json:"decision" yaml:"decision"`
	RuleID   string `json:"rule_id,omitempty" yaml:"rule_id,omitempty"`
}

type explainAudit struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Driver  string `json:"driver,omitempty" yaml:"driver,omitempty"`
}

func newExplainCmd(a *app) *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "explain",
		Short: "Describe the configured context types",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			result, err := buildExplainResult(cmd, a.cfg)
			if err != nil {
				return err
			}
			return writeFormatted(cmd.OutOrStdout(), format, result, func(w io.Writer) error {
				printExplainTree(w, result)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "text", "output format: text, json or yaml")
	return cmd
}

func buildExplainResult(cmd *cobra.Command, cfg *config.Config) (explainResult, error) {
	if err := cfg.Validate(); err != nil {
		return explainResult{}, err
	}
	types, err := dci.TypesFromConfig(cfg, placeholderRegistry(cfg))
	if err != nil {
		return explainResult{}, err
	}
	engine := governance.RuleSetFromConfig(cfg.Governance)

	result := explainResult{
		DefaultStrategy: behavior.DefaultStrategy().String(),
		Contexts:        make([]explainContext, 0, len(cfg.Contexts)),
		Audit:           explainAudit{Enabled: cfg.Audit.Enabled},
	}
	if cfg.Audit.Enabled {
		result.Audit.Driver = cfg.Audit.Driver
	}
	for _, rule := range engine.Rules {
		result.Policies = append(result.Policies, fmt.Sprintf("%s: %s %s", rule.ID, rule.Effect, rule.Name))
	}

	for _, def := range cfg.Contexts {
		t := types[def.Name]
		ec := explainContext{
			Name:            t.Name(),
			Policy:          string(t.Policy()),
			Strategy:        behavior.Resolve(t.Strategy(), behavior.Unset).String(),
			OnNameCollision: def.OnNameCollision,
			EastOriented:    t.EastOriented(),
		}
		if ec.OnNameCollision == "" {
			ec.OnNameCollision = "ignore"
		}
		for _, role := range t.Roles() {
			er := explainRole{Name: role}
			if b, s, ok := t.Behavior(role); ok {
				er.Behavior = b.Name
				er.Strategy = s.String()
			}
			ec.Roles = append(ec.Roles, er)
		}
		for _, name := range t.Triggers() {
			et := explainTrigger{Name: name}
			et.Forward, _ = t.Forwarded(name)
			d := engine.Evaluate(cmd.Context(), governance.TriggerAction(t.Name(), "", name))
			et.Decision = string(d.Status)
			et.RuleID = d.RuleID
			ec.Triggers = append(ec.Triggers, et)
		}
		result.Contexts = append(result.Contexts, ec)
	}
	return result, nil
}

func printExplainTree(w io.Writer, r explainResult) {
	fmt.Fprintf(w, "Default strategy: %s\n", r.DefaultStrategy)
	for _, c := range r.Contexts {
		fmt.Fprintf(w, "Context: %s\n", c.Name)
		fmt.Fprintf(w, "├── Policy: %s, strategy: %s, collisions: %s\n", c.Policy, c.Strategy, c.OnNameCollision)
		if c.EastOriented {
			fmt.Fprintf(w, "├── East oriented\n")
		}
		fmt.Fprintf(w, "├── Roles: %d\n", len(c.Roles))
		for i, role := range c.Roles {
			prefix := branch(i, len(c.Roles), "│   ")
			if role.Behavior == "" {
				fmt.Fprintf(w, "%s %s (bare)\n", prefix, role.Name)
				continue
			}
			fmt.Fprintf(w, "%s %s: %s (%s)\n", prefix, role.Name, role.Behavior, role.Strategy)
		}
		fmt.Fprintf(w, "└── Triggers: %d\n", len(c.Triggers))
		for i, trig := range c.Triggers {
			prefix := branch(i, len(c.Triggers), "    ")
			line := trig.Name
			if trig.Forward != "" {
				line += " -> " + trig.Forward
			}
			if trig.RuleID != "" {
				line += fmt.Sprintf(" [%s by %s]", trig.Decision, trig.RuleID)
			}
			fmt.Fprintf(w, "%s %s\n", prefix, line)
		}
	}
	if len(r.Policies) > 0 {
		fmt.Fprintf(w, "Governance: %d policies\n", len(r.Policies))
		for i, p := range r.Policies {
			fmt.Fprintf(w, "%s %s\n", branch(i, len(r.Policies), ""), p)
		}
	}
	if r.Audit.Enabled {
		fmt.Fprintf(w, "Audit: %s\n", r.Audit.Driver)
	} else {
		fmt.Fprintf(w, "Audit: disabled\n")
	}
}

func branch(i, n int, indent string) string {
	if i == n-1 {
		return indent + "└──"
	}
	return indent + "├──"
}
