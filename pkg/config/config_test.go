// Copyright 2026 © The Ensemble Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

const greetingConfig = `
log:
  level: debug
engine:
  default_strategy: wrap
governance:
  policies:
    - id: no-admin
      effect: deny
      name: "Admin.*"
      reason: admins only
contexts:
  - name: Greeting
    policy: on_trigger
    on_name_collision: warn
    roles:
      - name: user
        behavior: Greeter
        strategy: negotiate
      - name: other
    forward:
      - trigger: greet
        role: user
        op: say_hello_to
`

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Log.Level != "info" {
		t.Errorf("expected default level info, got %s", cfg.Log.Level)
	}
	if cfg.Engine.DefaultStrategy != "extend" {
		t.Errorf("expected default strategy extend, got %s", cfg.Engine.DefaultStrategy)
	}
	if cfg.Telemetry.Exporter != "none" {
		t.Errorf("expected telemetry disabled by default, got %s", cfg.Telemetry.Exporter)
	}
	if cfg.Audit.Enabled || cfg.Audit.Driver != "memory" {
		t.Errorf("unexpected audit defaults: %+v", cfg.Audit)
	}
}

func TestLoadFile(t *testing.T) {
	cfg, err := Load(writeConfig(t, "ensemble.yaml", greetingConfig))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Log.Level != "debug" || cfg.Engine.DefaultStrategy != "wrap" {
		t.Fatalf("file values not loaded: %+v %+v", cfg.Log, cfg.Engine)
	}
	if len(cfg.Governance.Policies) != 1 || cfg.Governance.Policies[0].Name != "Admin.*" {
		t.Fatalf("unexpected policies: %+v", cfg.Governance.Policies)
	}

	want := ContextConfig{
		Name:            "Greeting",
		Policy:          "on_trigger",
		OnNameCollision: "warn",
		Roles: []RoleConfig{
			{Name: "user", Behavior: "Greeter", Strategy: "negotiate"},
			{Name: "other"},
		},
		Forward: []ForwardConfig{{Trigger: "greet", Role: "user", Op: "say_hello_to"}},
	}
	got, ok := cfg.Context("Greeting")
	if !ok {
		t.Fatalf("expected Greeting context")
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("context mismatch (-want +got):\n%s", diff)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected valid config: %v", err)
	}
}

func TestLoadJSONFile(t *testing.T) {
	path := writeConfig(t, "ensemble.json", `{"log": {"format": "json"}, "contexts": [{"name": "Meeting"}]}`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Log.Format != "json" || len(cfg.Contexts) != 1 {
		t.Fatalf("unexpected config: %+v", cfg)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoadEnv(t *testing.T) {
	t.Setenv("ENSEMBLE_ENGINE_DEFAULT_STRATEGY", "negotiate")
	t.Setenv("ENSEMBLE_LOG_LEVEL", "warn")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Engine.DefaultStrategy != "negotiate" {
		t.Errorf("expected strategy negotiate from env, got %s", cfg.Engine.DefaultStrategy)
	}
	if cfg.Log.Level != "warn" {
		t.Errorf("expected level warn from env, got %s", cfg.Log.Level)
	}
}

func TestEnvKey(t *testing.T) {
	tests := map[string]string{
		"ENSEMBLE_LOG_LEVEL":               "log.level",
		"ENSEMBLE_TELEMETRY_OTLP_ENDPOINT": "telemetry.otlp_endpoint",
		"ENSEMBLE_AUDIT_DSN":               "audit.dsn",
	}
	for in, want := range tests {
		if got := envKey(in); got != want {
			t.Errorf("envKey(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestLoadWithCLIOverrides(t *testing.T) {
	path := writeConfig(t, "ensemble.yaml", greetingConfig)
	t.Setenv("ENSEMBLE_LOG_LEVEL", "error")

	cfg, err := LoadWithCLI([]string{
		"--config", path,
		"--set", "log.level=debug",
		"--set", "audit.enabled=true",
		"--set=telemetry.otlp_timeout_seconds=12",
		"--set", "engine.default_strategy=negotiate",
	})
	if err != nil {
		t.Fatalf("LoadWithCLI failed: %v", err)
	}
	if cfg.Log.Level != "debug" {
		t.Fatalf("cli override must beat env, got %s", cfg.Log.Level)
	}
	if !cfg.Audit.Enabled {
		t.Fatalf("expected audit.enabled=true")
	}
	if cfg.Telemetry.OTLPTimeoutSeconds != 12 {
		t.Fatalf("expected telemetry timeout override, got %d", cfg.Telemetry.OTLPTimeoutSeconds)
	}
	if cfg.Engine.DefaultStrategy != "negotiate" {
		t.Fatalf("expected strategy override, got %s", cfg.Engine.DefaultStrategy)
	}
	if len(cfg.Contexts) != 1 {
		t.Fatalf("file contexts must survive overrides")
	}
}

func TestParseCLIOverridesErrors(t *testing.T) {
	if _, _, err := parseCLIOverrides([]string{"--config"}); err == nil {
		t.Fatalf("expected error for missing --config value")
	}
	if _, _, err := parseCLIOverrides([]string{"--set"}); err == nil {
		t.Fatalf("expected error for missing --set value")
	}
	if _, _, err := parseCLIOverrides([]string{"--set", "invalid"}); err == nil {
		t.Fatalf("expected error for invalid --set value")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{name: "empty", cfg: Config{}},
		{name: "unnamed context", cfg: Config{Contexts: []ContextConfig{{}}}, wantErr: "name is required"},
		{
			name:    "duplicate context",
			cfg:     Config{Contexts: []ContextConfig{{Name: "A"}, {Name: "A"}}},
			wantErr: "declared twice",
		},
		{
			name:    "duplicate role",
			cfg:     Config{Contexts: []ContextConfig{{Name: "A", Roles: []RoleConfig{{Name: "x"}, {Name: "x"}}}}},
			wantErr: `role "x" declared twice`,
		},
		{
			name:    "forward without role",
			cfg:     Config{Contexts: []ContextConfig{{Name: "A", Forward: []ForwardConfig{{Trigger: "go"}}}}},
			wantErr: "trigger and role are required",
		},
		{
			name:    "unknown policy effect",
			cfg:     Config{Governance: GovernanceConfig{Policies: []PolicyRuleConfig{{ID: "x", Effect: "maybe"}}}},
			wantErr: `unknown effect "maybe"`,
		},
		{
			name:    "sqlite without dsn",
			cfg:     Config{Audit: AuditConfig{Enabled: true, Driver: "sqlite"}},
			wantErr: "needs a dsn",
		},
		{
			name:    "unknown audit driver",
			cfg:     Config{Audit: AuditConfig{Enabled: true, Driver: "postgres"}},
			wantErr: "unknown driver",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}
