// Copyright 2026 © The Ensemble Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"

	"github.com/spf13/cobra"

	"github.com/jllopis/ensemble/pkg/audit"
	"github.com/jllopis/ensemble/pkg/behavior"
	"github.com/jllopis/ensemble/pkg/config"
	"github.com/jllopis/ensemble/pkg/dci"
	"github.com/jllopis/ensemble/pkg/governance"
)

type validation struct {
	Contexts int
	Roles    int
	Triggers int
	Policies int
}

func newValidateCmd(a *app) *cobra.Command {
	var watch bool
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check that every configured context type can be built",
		Long: `Loads the configuration, builds every declared context type with
placeholder behaviors, installs the governance rules on them and opens the
audit store. With --watch the file is checked again on every change.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			v, err := checkConfig(a.cfg)
			if err != nil {
				return err
			}
			printValidation(out, v)
			if !watch {
				return nil
			}
			if a.configPath == "" {
				return fmt.Errorf("--watch needs --config")
			}
			return watchConfig(cmd.Context(), out, a.configPath)
		},
	}
	cmd.Flags().BoolVar(&watch, "watch", false, "keep checking the file as it changes")
	return cmd
}

// watchConfig revalidates path on every change until ctx is done. Only
// configurations that pass become current; the engine settings of the
// current one are applied to the process.
func watchConfig(ctx context.Context, out io.Writer, path string, opts ...config.WatcherOption) error {
	opts = append([]config.WatcherOption{config.WithWatchLogger(slog.Default())}, opts...)
	w, cfg, err := config.WatchConfig(ctx, path, opts...)
	if err != nil {
		return err
	}
	defer w.Stop()

	current := config.NewReloadableConfig(cfg)
	w.OnChange(func(next *config.Config) {
		v, err := checkConfig(next)
		if err != nil {
			fmt.Fprintf(out, "invalid: %v (keeping %d context types)\n", err, len(current.Contexts()))
			return
		}
		current.Update(next)
		if err := dci.ApplyEngine(current.Engine()); err != nil {
			fmt.Fprintf(out, "engine: %v\n", err)
			return
		}
		printValidation(out, v)
	})
	<-ctx.Done()
	return nil
}

// checkConfig builds every context type the way a host application would,
// with a placeholder behavior for every behavior name the file refers to.
func checkConfig(cfg *config.Config) (validation, error) {
	var v validation
	if err := cfg.Validate(); err != nil {
		return v, err
	}
	types, err := dci.TypesFromConfig(cfg, placeholderRegistry(cfg))
	if err != nil {
		return v, err
	}
	engine := governance.RuleSetFromConfig(cfg.Governance)
	for _, name := range sortedTypeNames(types) {
		t := types[name]
		if err := governance.Install(t, engine); err != nil {
			return v, err
		}
		v.Contexts++
		v.Roles += len(t.Roles())
		v.Triggers += len(t.Triggers())
	}
	v.Policies = len(engine.Rules)

	if _, closeStore, err := audit.Open(cfg.Audit); err != nil {
		return v, err
	} else if err := closeStore(); err != nil {
		return v, err
	}
	return v, nil
}

func placeholderRegistry(cfg *config.Config) *behavior.Registry {
	reg := behavior.NewRegistry()
	seen := make(map[string]struct{})
	for _, def := range cfg.Contexts {
		for _, role := range def.Roles {
			if role.Behavior == "" {
				continue
			}
			if _, ok := seen[role.Behavior]; ok {
				continue
			}
			seen[role.Behavior] = struct{}{}
			_ = reg.Register(behavior.New(role.Behavior).Build())
		}
	}
	return reg
}

func sortedTypeNames(types map[string]*dci.Type) []string {
	names := make([]string, 0, len(types))
	for name := range types {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func printValidation(w io.Writer, v validation) {
	fmt.Fprintf(w, "ok: %d context types, %d roles, %d triggers, %d policies\n",
		v.Contexts, v.Roles, v.Triggers, v.Policies)
}
