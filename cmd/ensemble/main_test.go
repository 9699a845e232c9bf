// Copyright 2026 © The Ensemble Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"gopkg.in/yaml.v3"

	"github.com/jllopis/ensemble/pkg/audit"
	"github.com/jllopis/ensemble/pkg/behavior"
	"github.com/jllopis/ensemble/pkg/config"
)

const greetingConfig = `
governance:
  policies:
    - id: no-admin
      effect: deny
      name: "Admin.*"
      reason: admins only
contexts:
  - name: Greeting
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
  - name: Admin
    policy: on_initialize
    roles:
      - name: operator
    forward:
      - trigger: drop
        role: operator
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ensemble.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	out, _, err := executeWithInput(t, "", args...)
	return out, err
}

// executeWithInput runs the root command reading stdin from in and returns
// what it wrote to stdout and stderr.
func executeWithInput(t *testing.T, in string, args ...string) (string, string, error) {
	t.Helper()
	root := newRootCmd()
	var out, errOut bytes.Buffer
	root.SetIn(strings.NewReader(in))
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), errOut.String(), err
}

// syncBuffer is a bytes.Buffer safe for a writer goroutine and a polling test.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func waitForOutput(t *testing.T, buf *syncBuffer, want string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if strings.Contains(buf.String(), want) {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %q, got:\n%s", want, buf.String())
}

// rewrite replaces the file at path and moves its modification time forward
// so a polling watcher sees the change.
func rewrite(t *testing.T, path, content string, age time.Duration) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	mod := time.Now().Add(age)
	if err := os.Chtimes(path, mod, mod); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version", "--config", "/does/not/exist.yaml")
	if err != nil {
		t.Fatalf("version must not load config: %v", err)
	}
	if out != "ensemble dev\n" {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestValidate(t *testing.T) {
	path := writeConfig(t, greetingConfig)
	out, err := execute(t, "validate", "--config", path)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if out != "ok: 2 context types, 3 roles, 2 triggers, 1 policies\n" {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestValidateErrors(t *testing.T) {
	tests := []struct {
		name    string
		config  string
		args    []string
		wantErr string
	}{
		{
			name:    "bad strategy",
			config:  "contexts:\n  - name: A\n    strategy: inheritance\n",
			wantErr: "unknown composition strategy",
		},
		{
			name:    "reserved forward",
			config:  "contexts:\n  - name: A\n    forward:\n      - trigger: id\n        role: a\n        op: __id__\n",
			wantErr: "you may not forward '__id__'",
		},
		{
			name:    "duplicate role",
			config:  "contexts:\n  - name: A\n    roles:\n      - name: a\n      - name: a\n",
			wantErr: "declared twice",
		},
		{
			name:    "bad engine override",
			config:  "contexts: []\n",
			args:    []string{"--set", "engine.default_strategy=inheritance"},
			wantErr: "engine",
		},
		{
			name:    "watch without config",
			args:    []string{"--watch"},
			wantErr: "--watch needs --config",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := []string{"validate"}
			if tt.config != "" {
				args = append(args, "--config", writeConfig(t, tt.config))
			}
			_, err := execute(t, append(args, tt.args...)...)
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestValidateWatchKeepsLastGoodConfig(t *testing.T) {
	prev := behavior.DefaultStrategy()
	t.Cleanup(func() { _ = behavior.SetDefaultStrategy(prev) })

	path := writeConfig(t, greetingConfig)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var out syncBuffer
	done := make(chan error, 1)
	go func() {
		done <- watchConfig(ctx, &out, path,
			config.WithWatchInterval(20*time.Millisecond),
			config.WithWatchLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		)
	}()

	rewrite(t, path, "contexts:\n  - name: A\n    forward:\n      - trigger: id\n        role: a\n        op: __id__\n", time.Second)
	waitForOutput(t, &out, "(keeping 2 context types)")
	if !strings.Contains(out.String(), "invalid: ") || !strings.Contains(out.String(), "you may not forward") {
		t.Fatalf("rejected reload must be reported, got:\n%s", out.String())
	}

	rewrite(t, path, "engine:\n  default_strategy: negotiate\ncontexts:\n  - name: Solo\n    roles:\n      - name: a\n", 2*time.Second)
	waitForOutput(t, &out, "ok: 1 context types, 1 roles, 0 triggers, 0 policies")
	if behavior.DefaultStrategy() != behavior.Negotiate {
		t.Fatalf("engine settings of the accepted reload must be applied")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("watchConfig: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("watchConfig did not return after cancel")
	}
}

const approvalConfig = `
governance:
  policies:
    - id: review
      effect: pending
      name: "Ops.restart"
      reason: restarts need a human
    - id: no-drop
      effect: deny
      name: "Ops.drop"
      reason: never
contexts:
  - name: Ops
    strict_roles: true
    roles:
      - name: operator
    forward:
      - trigger: restart
        role: operator
      - trigger: drop
        role: operator
      - trigger: status
        role: operator
`

func TestAllow(t *testing.T) {
	path := writeConfig(t, approvalConfig)

	out, err := execute(t, "allow", "Ops", "status", "restart", "drop", "--config", path)
	if err != nil {
		t.Fatalf("allow: %v", err)
	}
	want := "Ops.status: allowed\n" +
		"Ops.restart: denied [pending by review]\n" +
		"Ops.drop: denied [deny by no-drop]\n"
	if out != want {
		t.Fatalf("unexpected output (-want +got):\n%s", cmp.Diff(want, out))
	}

	for _, tt := range []struct {
		name    string
		args    []string
		wantErr string
	}{
		{name: "unknown context", args: []string{"allow", "Nobody", "status"}, wantErr: `no context type named "Nobody"`},
		{name: "unknown trigger", args: []string{"allow", "Ops", "reboot"}, wantErr: "reboot"},
		{name: "missing trigger", args: []string{"allow", "Ops"}, wantErr: "requires at least 2 arg"},
	} {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execute(t, append(tt.args, "--config", path)...)
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestAllowApprove(t *testing.T) {
	path := writeConfig(t, approvalConfig)

	out, prompts, err := executeWithInput(t, "y\nn\n",
		"allow", "Ops", "restart", "restart", "drop", "--approve", "--format", "json", "--config", path)
	if err != nil {
		t.Fatalf("allow --approve: %v", err)
	}
	var got []allowResult
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	want := []allowResult{
		{Context: "Ops", Trigger: "restart", Allowed: true, Policy: "pending", RuleID: "review"},
		{Context: "Ops", Trigger: "restart", Allowed: false, Policy: "pending", RuleID: "review"},
		{Context: "Ops", Trigger: "drop", Allowed: false, Policy: "deny", RuleID: "no-drop"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("unexpected results (-want +got):\n%s", diff)
	}
	if n := strings.Count(prompts, "Trigger Ops.restart needs approval"); n != 2 {
		t.Fatalf("expected two prompts on stderr, got %d:\n%s", n, prompts)
	}
	if !strings.Contains(prompts, "reason:  restarts need a human") {
		t.Fatalf("prompt must carry the rule reason:\n%s", prompts)
	}

	out, _, err = executeWithInput(t, "", "allow", "Ops", "restart", "--approve", "--config", path)
	if err != nil || out != "Ops.restart: denied [pending by review]\n" {
		t.Fatalf("closed input must deny, got %q, %v", out, err)
	}
}

func TestExplainText(t *testing.T) {
	out, err := execute(t, "explain", "--config", writeConfig(t, greetingConfig))
	if err != nil {
		t.Fatalf("explain: %v", err)
	}
	for _, want := range []string{
		"Context: Greeting",
		"├── Policy: on_trigger, strategy: extend, collisions: warn",
		"user: Greeter (negotiate)",
		"other (bare)",
		"greet -> user.say_hello_to",
		"drop -> operator.drop [deny by no-admin]",
		"Governance: 1 policies",
		"Audit: disabled",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("output missing %q:\n%s", want, out)
		}
	}
}

func TestExplainStructured(t *testing.T) {
	path := writeConfig(t, greetingConfig)
	want := explainContext{
		Name:            "Admin",
		Policy:          "on_initialize",
		Strategy:        "extend",
		OnNameCollision: "ignore",
		Roles:           []explainRole{{Name: "operator"}},
		Triggers:        []explainTrigger{{Name: "drop", Forward: "operator.drop", Decision: "deny", RuleID: "no-admin"}},
	}

	out, err := execute(t, "explain", "--config", path, "--format", "json")
	if err != nil {
		t.Fatalf("explain json: %v", err)
	}
	var fromJSON explainResult
	if err := json.Unmarshal([]byte(out), &fromJSON); err != nil {
		t.Fatalf("decode json: %v", err)
	}
	if diff := cmp.Diff(want, fromJSON.Contexts[1]); diff != "" {
		t.Fatalf("json mismatch (-want +got):\n%s", diff)
	}

	out, err = execute(t, "explain", "--config", path, "-f", "yaml")
	if err != nil {
		t.Fatalf("explain yaml: %v", err)
	}
	var fromYAML explainResult
	if err := yaml.Unmarshal([]byte(out), &fromYAML); err != nil {
		t.Fatalf("decode yaml: %v", err)
	}
	if diff := cmp.Diff(fromJSON, fromYAML); diff != "" {
		t.Fatalf("yaml and json disagree (-json +yaml):\n%s", diff)
	}

	if _, err := execute(t, "explain", "--config", path, "--format", "xml"); err == nil {
		t.Fatalf("expected error for unknown format")
	}
}

func TestAudit(t *testing.T) {
	if _, err := execute(t, "audit"); err == nil || !strings.Contains(err.Error(), "audit is disabled") {
		t.Fatalf("expected disabled error, got %v", err)
	}

	dsn := filepath.Join(t.TempDir(), "audit.db")
	store, closeStore, err := audit.Open(config.AuditConfig{Enabled: true, Driver: "sqlite", DSN: dsn})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	for _, ev := range []audit.Event{
		{ContextType: "Greeting", ContextID: "c1", Trigger: "greet", Status: "ok", StartedAt: start, FinishedAt: start},
		{ContextType: "Admin", ContextID: "c2", Trigger: "drop", Status: "denied", Code: "ACCESS_DENIED",
			Error: "access to Admin#drop is not allowed", StartedAt: start, FinishedAt: start},
	} {
		if err := store.Record(context.Background(), ev); err != nil {
			t.Fatalf("record: %v", err)
		}
	}
	if err := closeStore(); err != nil {
		t.Fatalf("close: %v", err)
	}

	sets := []string{"--set", "audit.enabled=true", "--set", "audit.driver=sqlite", "--set", "audit.dsn=" + dsn}
	out, err := execute(t, append([]string{"audit", "--status", "denied", "--format", "json"}, sets...)...)
	if err != nil {
		t.Fatalf("audit: %v", err)
	}
	var events []audit.Event
	if err := json.Unmarshal([]byte(out), &events); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(events) != 1 || events[0].Trigger != "drop" || events[0].Code != "ACCESS_DENIED" {
		t.Fatalf("unexpected events %+v", events)
	}

	out, err = execute(t, append([]string{"audit"}, sets...)...)
	if err != nil {
		t.Fatalf("audit text: %v", err)
	}
	if !strings.Contains(out, "STARTED") || !strings.Contains(out, "greet") || !strings.Contains(out, "denied") {
		t.Fatalf("unexpected table:\n%s", out)
	}

	out, err = execute(t, append([]string{"audit", "--context", "Nobody"}, sets...)...)
	if err != nil || out != "no events\n" {
		t.Fatalf("expected no events, got %q, %v", out, err)
	}
}
