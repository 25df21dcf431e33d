// Copyright 2026 The healctl Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package hcpconfig loads and validates the healing control plane's
// YAML configuration.
package hcpconfig

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// HCPConfig is the top-level configuration for one orchestrator
// instance.
type HCPConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`

	// Mode names the operational mode: "disabled", "observe",
	// "human-in-the-loop", or "autopilot". Sanitize maps unknown values
	// to "disabled", and "disabled" turns Enabled off; the other three
	// modes are only logged at startup and all run the full pipeline.
	Mode string `yaml:"mode" json:"mode"`

	Safety      SafetyConfig      `yaml:"safety" json:"safety"`
	Confidence  ConfidenceConfig  `yaml:"confidence" json:"confidence"`
	Storage     StorageConfig     `yaml:"storage" json:"storage"`
	Workspace   WorkspaceConfig   `yaml:"workspace" json:"workspace"`
	Commit      CommitConfig      `yaml:"commit" json:"commit"`
	Worker      WorkerConfig      `yaml:"worker" json:"worker"`
	Webhook     WebhookConfig     `yaml:"webhook" json:"webhook"`
	Logging     LoggingConfig     `yaml:"logging" json:"logging"`
}

type SafetyConfig struct {
	KillSwitchThreshold    int `yaml:"kill_switch_threshold" json:"kill_switch_threshold"`
	KillSwitchDurationMin  int `yaml:"kill_switch_duration_min" json:"kill_switch_duration_min"`
	RateLimitMax           int `yaml:"rate_limit_max" json:"rate_limit_max"`
	RateLimitWindowMin     int `yaml:"rate_limit_window_min" json:"rate_limit_window_min"`
	MaxAttemptsPerIncident int `yaml:"max_attempts_per_incident" json:"max_attempts_per_incident"`
	LockCooldownSec        int `yaml:"lock_cooldown_sec" json:"lock_cooldown_sec"`
}

type ConfidenceConfig struct {
	AutoCommitThreshold int `yaml:"auto_commit_threshold" json:"auto_commit_threshold"`
	// KBAutoApplyThreshold gates whether a knowledge-base match is
	// trusted to drive tier-1 repair without worker-agent involvement;
	// distinct from (and lower than) AutoCommitThreshold, which gates
	// the commit-vs-PR decision after verification.
	KBAutoApplyThreshold int `yaml:"kb_auto_apply_threshold" json:"kb_auto_apply_threshold"`
	// RequireDeployment, when true, suspends a successful session at
	// the deploy phase awaiting a deployment webhook instead of
	// completing immediately after commit.
	RequireDeployment bool `yaml:"require_deployment" json:"require_deployment"`
}

type StorageConfig struct {
	// Driver selects the database/sql driver: "sqlite3" or "pgx".
	Driver string `yaml:"driver" json:"driver"`
	DSN    string `yaml:"dsn" json:"dsn"`
}

type WorkspaceConfig struct {
	Root         string `yaml:"root" json:"root"`
	TypeCheckCmd string `yaml:"type_check_cmd" json:"type_check_cmd"`
	// VerifyTimeoutSec bounds the type-check subprocess; hitting the
	// bound counts as a verification failure.
	VerifyTimeoutSec int `yaml:"verify_timeout_sec" json:"verify_timeout_sec"`
	// SnapshotBackend selects the durable pre-edit snapshot fallback:
	// "" (disabled), "minio", or "sqlite" (stored in the main database).
	SnapshotBackend  string `yaml:"snapshot_backend,omitempty" json:"snapshot_backend,omitempty"`
	SnapshotBucket   string `yaml:"snapshot_bucket,omitempty" json:"snapshot_bucket,omitempty"`
	SnapshotEndpoint string `yaml:"snapshot_endpoint,omitempty" json:"snapshot_endpoint,omitempty"`
}

type CommitConfig struct {
	// Backend selects the CommitGateway implementation: "git" (local,
	// development) or "forge" (hosted API, production).
	Backend    string `yaml:"backend" json:"backend"`
	RepoSlug   string `yaml:"repo_slug,omitempty" json:"repo_slug,omitempty"`
	ForgeAPI   string `yaml:"forge_api,omitempty" json:"forge_api,omitempty"`
	RemoteName string `yaml:"remote_name" json:"remote_name"`
}

type WorkerConfig struct {
	BaseURL string `yaml:"base_url" json:"base_url"`
}

type WebhookConfig struct {
	ListenAddr       string `yaml:"listen_addr" json:"listen_addr"`
	SharedSecretHash string `yaml:"shared_secret_hash" json:"shared_secret_hash"`
}

type LoggingConfig struct {
	ToFile bool   `yaml:"to_file" json:"to_file"`
	Dir    string `yaml:"dir,omitempty" json:"dir,omitempty"`
}

// Load reads and parses the YAML file at path, then runs Sanitize.
func Load(path string) (*HCPConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("hcpconfig: read %s: %w", path, err)
	}
	var cfg HCPConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("hcpconfig: parse %s: %w", path, err)
	}
	cfg.Sanitize()
	return &cfg, nil
}

// LoadDotEnv loads local credentials (DB DSN, git remote token,
// worker-agent endpoint) from a .env file. Missing files are not an
// error: production deployments set these as real environment
// variables.
func LoadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("hcpconfig: load .env: %w", err)
	}
	return nil
}

// Sanitize normalizes enum-like fields to a known-good whitelist and
// clamps numeric fields to documented ranges: invalid input gets a
// safe default rather than propagating into the orchestrator.
func (cfg *HCPConfig) Sanitize() {
	if cfg == nil {
		return
	}

	cfg.Mode = strings.ToLower(strings.TrimSpace(cfg.Mode))
	validModes := map[string]bool{"disabled": true, "observe": true, "human-in-the-loop": true, "autopilot": true}
	if !validModes[cfg.Mode] {
		cfg.Mode = "disabled"
	}
	if cfg.Mode == "disabled" {
		cfg.Enabled = false
	}

	if cfg.Safety.KillSwitchThreshold < 1 {
		cfg.Safety.KillSwitchThreshold = 3
	}
	if cfg.Safety.KillSwitchDurationMin < 1 {
		cfg.Safety.KillSwitchDurationMin = 60
	}
	if cfg.Safety.RateLimitMax < 1 {
		cfg.Safety.RateLimitMax = 3
	}
	if cfg.Safety.RateLimitWindowMin < 1 {
		cfg.Safety.RateLimitWindowMin = 60
	}
	if cfg.Safety.MaxAttemptsPerIncident < 1 {
		cfg.Safety.MaxAttemptsPerIncident = 3
	}
	if cfg.Safety.LockCooldownSec < 1 {
		cfg.Safety.LockCooldownSec = 5
	}

	if cfg.Confidence.AutoCommitThreshold <= 0 {
		cfg.Confidence.AutoCommitThreshold = 95
	}
	if cfg.Confidence.AutoCommitThreshold > 100 {
		cfg.Confidence.AutoCommitThreshold = 100
	}
	if cfg.Confidence.KBAutoApplyThreshold <= 0 {
		cfg.Confidence.KBAutoApplyThreshold = 90
	}
	if cfg.Confidence.KBAutoApplyThreshold > 100 {
		cfg.Confidence.KBAutoApplyThreshold = 100
	}

	if cfg.Workspace.VerifyTimeoutSec < 1 {
		cfg.Workspace.VerifyTimeoutSec = 30
	}
	cfg.Workspace.SnapshotBackend = strings.ToLower(strings.TrimSpace(cfg.Workspace.SnapshotBackend))
	if cfg.Workspace.SnapshotBackend != "minio" && cfg.Workspace.SnapshotBackend != "sqlite" {
		cfg.Workspace.SnapshotBackend = ""
	}

	cfg.Storage.Driver = strings.ToLower(strings.TrimSpace(cfg.Storage.Driver))
	if cfg.Storage.Driver != "sqlite3" && cfg.Storage.Driver != "pgx" {
		cfg.Storage.Driver = "sqlite3"
	}

	cfg.Commit.Backend = strings.ToLower(strings.TrimSpace(cfg.Commit.Backend))
	if cfg.Commit.Backend != "git" && cfg.Commit.Backend != "forge" {
		cfg.Commit.Backend = "git"
	}
	cfg.Commit.RemoteName = strings.TrimSpace(cfg.Commit.RemoteName)
	if cfg.Commit.RemoteName == "" {
		cfg.Commit.RemoteName = "origin"
	}

	if cfg.Webhook.ListenAddr == "" {
		cfg.Webhook.ListenAddr = ":8089"
	}
}
