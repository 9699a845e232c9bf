// Copyright 2026 © The Ensemble Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads ensemble configuration with koanf: built-in defaults,
// then a YAML (or JSON) file, then ENSEMBLE_ environment variables, then
// explicit key=value overrides.
package config

import (
	"fmt"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	yamlv3 "gopkg.in/yaml.v3"
)

// EnvPrefix prefixes environment overrides: ENSEMBLE_LOG_LEVEL -> log.level.
const EnvPrefix = "ENSEMBLE_"

type Config struct {
	Log        LogConfig        `koanf:"log"`
	Telemetry  TelemetryConfig  `koanf:"telemetry"`
	Engine     EngineConfig     `koanf:"engine"`
	Audit      AuditConfig      `koanf:"audit"`
	Governance GovernanceConfig `koanf:"governance"`
	Contexts   []ContextConfig  `koanf:"contexts"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"` // json, text
}

type TelemetryConfig struct {
	Exporter           string `koanf:"exporter"` // stdout, otlp, none
	OTLPEndpoint       string `koanf:"otlp_endpoint"`
	OTLPInsecure       bool   `koanf:"otlp_insecure"`
	OTLPTimeoutSeconds int    `koanf:"otlp_timeout_seconds"`
}

// EngineConfig holds process-wide engine settings.
type EngineConfig struct {
	DefaultStrategy string `koanf:"default_strategy"` // extend, wrap, negotiate
}

// AuditConfig selects where trigger outcomes are recorded.
type AuditConfig struct {
	Enabled bool   `koanf:"enabled"`
	Driver  string `koanf:"driver"` // memory, sqlite
	DSN     string `koanf:"dsn"`
}

// GovernanceConfig holds trigger policy rules.
type GovernanceConfig struct {
	Policies []PolicyRuleConfig `koanf:"policies"`
}

// PolicyRuleConfig is one allow/deny rule. Name is a glob over "Type.trigger".
type PolicyRuleConfig struct {
	ID     string `koanf:"id"`
	Effect string `koanf:"effect"`
	Type   string `koanf:"type"`
	Name   string `koanf:"name"`
	Reason string `koanf:"reason"`
}

// ContextConfig declares a context type.
type ContextConfig struct {
	Name            string          `koanf:"name" yaml:"name" json:"name"`
	Policy          string          `koanf:"policy" yaml:"policy,omitempty" json:"policy,omitempty"`
	Strategy        string          `koanf:"strategy" yaml:"strategy,omitempty" json:"strategy,omitempty"`
	OnNameCollision string          `koanf:"on_name_collision" yaml:"on_name_collision,omitempty" json:"on_name_collision,omitempty"`
	EastOriented    bool            `koanf:"east_oriented" yaml:"east_oriented,omitempty" json:"east_oriented,omitempty"`
	StrictRoles     bool            `koanf:"strict_roles" yaml:"strict_roles,omitempty" json:"strict_roles,omitempty"`
	Roles           []RoleConfig    `koanf:"roles" yaml:"roles" json:"roles"`
	Forward         []ForwardConfig `koanf:"forward" yaml:"forward,omitempty" json:"forward,omitempty"`
}

// RoleConfig declares a role and, optionally, the registered behavior it gets.
type RoleConfig struct {
	Name     string `koanf:"name" yaml:"name" json:"name"`
	Behavior string `koanf:"behavior" yaml:"behavior,omitempty" json:"behavior,omitempty"`
	Strategy string `koanf:"strategy" yaml:"strategy,omitempty" json:"strategy,omitempty"`
}

// ForwardConfig declares a trigger forwarded to a role's operation. Op
// defaults to the trigger name.
type ForwardConfig struct {
	Trigger string `koanf:"trigger" yaml:"trigger" json:"trigger"`
	Role    string `koanf:"role" yaml:"role" json:"role"`
	Op      string `koanf:"op" yaml:"op,omitempty" json:"op,omitempty"`
}

// Context returns the context declaration named name.
func (c *Config) Context(name string) (ContextConfig, bool) {
	for _, def := range c.Contexts {
		if def.Name == name {
			return def, true
		}
	}
	return ContextConfig{}, false
}

// Validate checks structural problems that do not need a behavior registry.
func (c *Config) Validate() error {
	seen := make(map[string]struct{}, len(c.Contexts))
	for i, def := range c.Contexts {
		if strings.TrimSpace(def.Name) == "" {
			return fmt.Errorf("contexts[%d]: name is required", i)
		}
		if _, dup := seen[def.Name]; dup {
			return fmt.Errorf("context %q declared twice", def.Name)
		}
		seen[def.Name] = struct{}{}
		roles := make(map[string]struct{}, len(def.Roles))
		for j, role := range def.Roles {
			if role.Name == "" {
				return fmt.Errorf("context %q: roles[%d]: name is required", def.Name, j)
			}
			if _, dup := roles[role.Name]; dup {
				return fmt.Errorf("context %q: role %q declared twice", def.Name, role.Name)
			}
			roles[role.Name] = struct{}{}
		}
		for j, fwd := range def.Forward {
			if fwd.Trigger == "" || fwd.Role == "" {
				return fmt.Errorf("context %q: forward[%d]: trigger and role are required", def.Name, j)
			}
		}
	}
	for i, rule := range c.Governance.Policies {
		switch strings.ToLower(rule.Effect) {
		case "", "allow", "deny", "pending":
		default:
			return fmt.Errorf("governance.policies[%d]: unknown effect %q", i, rule.Effect)
		}
	}
	if c.Audit.Enabled {
		switch c.Audit.Driver {
		case "", "memory":
		case "sqlite":
			if c.Audit.DSN == "" {
				return fmt.Errorf("audit: sqlite driver needs a dsn")
			}
		default:
			return fmt.Errorf("audit: unknown driver %q", c.Audit.Driver)
		}
	}
	return nil
}

func defaults(k *koanf.Koanf) {
	k.Set("log.level", "info")
	k.Set("log.format", "text")
	k.Set("telemetry.exporter", "none")
	k.Set("engine.default_strategy", "extend")
	k.Set("audit.enabled", false)
	k.Set("audit.driver", "memory")
}

// Load reads defaults, the file at path (when set) and the environment.
func Load(path string) (*Config, error) {
	return LoadWithOverrides(path, nil)
}

// LoadWithOverrides is Load followed by key=value overrides. Values are
// parsed as YAML, so numbers, booleans, lists and maps keep their type.
func LoadWithOverrides(path string, overrides []string) (*Config, error) {
	k := koanf.New(".")
	defaults(k)

	// 1. Load from file
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config %s: %w", path, err)
		}
	}

	// 2. Load from ENV (ENSEMBLE_ENGINE_DEFAULT_STRATEGY -> engine.default_strategy)
	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, err
	}

	// 3. Explicit overrides
	for _, raw := range overrides {
		key, value, err := parseOverride(raw)
		if err != nil {
			return nil, err
		}
		if err := k.Set(key, value); err != nil {
			return nil, fmt.Errorf("apply override %q: %w", raw, err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadWithCLI understands --config <path> and repeated --set key=value.
func LoadWithCLI(args []string) (*Config, error) {
	path, sets, err := parseCLIOverrides(args)
	if err != nil {
		return nil, err
	}
	return LoadWithOverrides(path, sets)
}

// envKey maps the first underscore to a section separator and keeps the rest,
// so keys with underscores survive.
func envKey(s string) string {
	key := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.Replace(key, "_", ".", 1)
}

func parseCLIOverrides(args []string) (string, []string, error) {
	var path string
	var sets []string
	for i := 0; i < len(args); i++ {
		switch arg := args[i]; {
		case arg == "--config":
			if i+1 >= len(args) {
				return "", nil, fmt.Errorf("--config needs a value")
			}
			i++
			path = args[i]
		case strings.HasPrefix(arg, "--config="):
			path = strings.TrimPrefix(arg, "--config=")
		case arg == "--set":
			if i+1 >= len(args) {
				return "", nil, fmt.Errorf("--set needs a value")
			}
			i++
			if _, _, err := parseOverride(args[i]); err != nil {
				return "", nil, err
			}
			sets = append(sets, args[i])
		case strings.HasPrefix(arg, "--set="):
			raw := strings.TrimPrefix(arg, "--set=")
			if _, _, err := parseOverride(raw); err != nil {
				return "", nil, err
			}
			sets = append(sets, raw)
		}
	}
	return path, sets, nil
}

func parseOverride(raw string) (string, any, error) {
	key, value, ok := strings.Cut(raw, "=")
	key = strings.TrimSpace(key)
	if !ok || key == "" {
		return "", nil, fmt.Errorf("invalid override %q, expected key=value", raw)
	}
	var parsed any
	if err := yamlv3.Unmarshal([]byte(value), &parsed); err != nil || parsed == nil {
		return key, value, nil
	}
	return key, parsed, nil
}
