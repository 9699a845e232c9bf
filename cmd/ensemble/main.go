// Copyright 2026 © The Ensemble Authors
// SPDX-License-Identifier: Apache-2.0

// Command ensemble validates and explains declarative context types and
// reads the trigger audit log.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/jllopis/ensemble/pkg/config"
	"github.com/jllopis/ensemble/pkg/dci"
	"github.com/jllopis/ensemble/pkg/telemetry"
)

var version = "dev"

// app carries what every subcommand shares once the root has loaded config.
type app struct {
	configPath string
	sets       []string

	cfg      *config.Config
	shutdown telemetry.ShutdownFunc
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:                "ensemble",
		Short:              "Validate and explain ensemble context types",
		SilenceUsage:       true,
		SilenceErrors:      true,
		PersistentPreRunE:  a.load,
		PersistentPostRunE: a.close,
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", "", "configuration file (yaml or json)")
	root.PersistentFlags().StringArrayVar(&a.sets, "set", nil, "override a configuration key, key=value (repeatable)")

	root.AddCommand(
		newValidateCmd(a),
		newAllowCmd(a),
		newExplainCmd(a),
		newAuditCmd(a),
		newVersionCmd(),
	)
	return root
}

// load reads configuration and wires logging, telemetry and engine defaults.
func (a *app) load(cmd *cobra.Command, _ []string) error {
	cfg, err := config.LoadWithOverrides(a.configPath, a.sets)
	if err != nil {
		return err
	}
	a.cfg = cfg
	telemetry.ConfigureSlog(cmd.ErrOrStderr(), cfg.Log.Level, cfg.Log.Format)

	if err := dci.ApplyEngine(cfg.Engine); err != nil {
		return fmt.Errorf("engine: %w", err)
	}
	shutdown, err := telemetry.InitWithConfig("ensemble", version, telemetry.Config{
		Exporter:           cfg.Telemetry.Exporter,
		OTLPEndpoint:       cfg.Telemetry.OTLPEndpoint,
		OTLPInsecure:       cfg.Telemetry.OTLPInsecure,
		OTLPTimeoutSeconds: cfg.Telemetry.OTLPTimeoutSeconds,
	})
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	a.shutdown = shutdown
	return nil
}

func (a *app) close(cmd *cobra.Command, _ []string) error {
	if a.shutdown == nil {
		return nil
	}
	return a.shutdown(context.WithoutCancel(cmd.Context()))
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the ensemble version",
		Args:  cobra.NoArgs,
		// No configuration is needed to print the version.
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "ensemble %s\n", version)
			return err
		},
	}
}

// writeFormatted renders v as json or yaml, or calls text for the default format.
func writeFormatted(w io.Writer, format string, v any, text func(io.Writer) error) error {
	switch strings.ToLower(format) {
	case "", "text":
		return text(w)
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml", "yml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("unknown format %q, expected text, json or yaml", format)
	}
}
