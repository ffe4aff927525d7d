// Package config holds the closed set of recognized options. Unknown keys
// in a config file are an error, not a warning; silent typos in operational
// knobs are worse than a startup failure.
package config

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Git failure policies for the commit/push phases.
const (
	GitPolicyWarn = "warn" // record git_status=failed, complete the run
	GitPolicyFail = "fail" // fail the run
)

type Config struct {
	MaxRounds              int `yaml:"max_rounds"`
	MaxRevisionRounds      int `yaml:"max_revision_rounds"`
	MemorySize             int `yaml:"memory_size"`
	ApprovalTimeoutSeconds int `yaml:"approval_timeout_seconds"`
	RunTimeoutSeconds      int `yaml:"run_timeout_seconds"`
	ConcurrencyCap         int `yaml:"concurrency_cap"`

	EnableCaching   bool   `yaml:"enable_caching"`
	CacheBackend    string `yaml:"cache_backend"`
	CacheMaxEntries int    `yaml:"cache_max_entries"`
	CacheTTLSeconds int    `yaml:"cache_ttl_seconds"`
	RemoteURL       string `yaml:"remote_url"`

	SubscriberQueueCapacity int `yaml:"subscriber_queue_capacity"`

	RunBranchPrefix   string `yaml:"run_branch_prefix"`
	CommitTemplate    string `yaml:"commit_template"`
	PushMaxAttempts   int    `yaml:"push_max_attempts"`
	PushBackoffBaseMS int    `yaml:"push_backoff_base_ms"`
	GitFailurePolicy  string `yaml:"git_failure_policy"`

	Model string `yaml:"model"`
}

func Default() Config {
	return Config{
		MaxRounds:              5,
		MaxRevisionRounds:      2,
		MemorySize:             50,
		ApprovalTimeoutSeconds: 300,
		RunTimeoutSeconds:      1800,
		ConcurrencyCap:         100,

		EnableCaching:   true,
		CacheBackend:    "in_memory_lru_ttl",
		CacheMaxEntries: 1024,
		CacheTTLSeconds: 3600,

		SubscriberQueueCapacity: 100,

		RunBranchPrefix:   "mgx",
		CommitTemplate:    "MGX Task: {task_name} - Run #{run_number}",
		PushMaxAttempts:   3,
		PushBackoffBaseMS: 500,
		GitFailurePolicy:  GitPolicyWarn,

		Model: "gpt-4o",
	}
}

// Load reads a YAML file over the defaults. Unknown keys fail the load.
func Load(path string) (Config, error) {
	cfg := Default()
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate reports the first offending field.
func (c Config) Validate() error {
	switch {
	case c.MaxRounds < 1:
		return fmt.Errorf("max_rounds must be >= 1, got %d", c.MaxRounds)
	case c.MaxRevisionRounds < 0:
		return fmt.Errorf("max_revision_rounds must be >= 0, got %d", c.MaxRevisionRounds)
	case c.MemorySize < 1:
		return fmt.Errorf("memory_size must be >= 1, got %d", c.MemorySize)
	case c.ApprovalTimeoutSeconds < 1:
		return fmt.Errorf("approval_timeout_seconds must be >= 1, got %d", c.ApprovalTimeoutSeconds)
	case c.RunTimeoutSeconds < 1:
		return fmt.Errorf("run_timeout_seconds must be >= 1, got %d", c.RunTimeoutSeconds)
	case c.ConcurrencyCap < 1:
		return fmt.Errorf("concurrency_cap must be >= 1, got %d", c.ConcurrencyCap)
	case c.CacheMaxEntries < 1:
		return fmt.Errorf("cache_max_entries must be >= 1, got %d", c.CacheMaxEntries)
	case c.CacheTTLSeconds < 1:
		return fmt.Errorf("cache_ttl_seconds must be >= 1, got %d", c.CacheTTLSeconds)
	case c.SubscriberQueueCapacity < 1:
		return fmt.Errorf("subscriber_queue_capacity must be >= 1, got %d", c.SubscriberQueueCapacity)
	case c.PushMaxAttempts < 1:
		return fmt.Errorf("push_max_attempts must be >= 1, got %d", c.PushMaxAttempts)
	case c.PushBackoffBaseMS < 1:
		return fmt.Errorf("push_backoff_base_ms must be >= 1, got %d", c.PushBackoffBaseMS)
	case c.RunBranchPrefix == "":
		return fmt.Errorf("run_branch_prefix must not be empty")
	}
	switch c.CacheBackend {
	case "null", "in_memory_lru_ttl", "remote_keyvalue":
	default:
		return fmt.Errorf("cache_backend must be one of null, in_memory_lru_ttl, remote_keyvalue; got %q", c.CacheBackend)
	}
	if c.CacheBackend == "remote_keyvalue" && c.RemoteURL == "" {
		return fmt.Errorf("remote_url is required for cache_backend remote_keyvalue")
	}
	switch c.GitFailurePolicy {
	case GitPolicyWarn, GitPolicyFail:
	default:
		return fmt.Errorf("git_failure_policy must be warn or fail; got %q", c.GitFailurePolicy)
	}
	return nil
}

func (c Config) ApprovalTimeout() time.Duration {
	return time.Duration(c.ApprovalTimeoutSeconds) * time.Second
}

func (c Config) RunTimeout() time.Duration {
	return time.Duration(c.RunTimeoutSeconds) * time.Second
}

func (c Config) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLSeconds) * time.Second
}

func (c Config) PushBackoffBase() time.Duration {
	return time.Duration(c.PushBackoffBaseMS) * time.Millisecond
}
