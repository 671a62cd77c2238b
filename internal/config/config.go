// Package config loads the tunables for the PG-autoscaler core from a
// YAML file, the way the teacher's internal/pgscv.Config loads its
// exporter settings from JSON — here ported to gopkg.in/yaml.v2 so that
// dependency is actually exercised rather than left declared-but-idle.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

// Defaults mirror spec.md §3's named constants.
const (
	DefaultTargetPGsPerOSD  = 100
	DefaultMaxPGsPerOSD     = 150
	DefaultMinPGNum         = 8
	DefaultReplicationSize  = 3
	DefaultInterval         = 5 * time.Second
	DefaultChunkSize        = 10
	DefaultThresholdFactor  = 2.0
	DefaultListenAddress    = "127.0.0.1:9284"
	defaultHDDRuleName      = "replicated_rule"
	defaultSSDRuleName      = "replicated_rule_ssd"
	defaultSSDPoolRootName  = "default"
	defaultSSDCrushBucket   = "host"
	defaultSSDDeviceClass   = "ssd"
)

// Config holds every tunable the core orchestrator and command
// handlers need. Zero-valued fields are filled with the defaults above
// by Validate.
type Config struct {
	LogLevel       string        `yaml:"log_level"`
	ListenAddress  string        `yaml:"listen_address"`
	Interval       time.Duration `yaml:"interval"`
	ChunkSize      int           `yaml:"chunk_size"`
	TargetPGsPerOSD int          `yaml:"target_pgs_per_osd"`
	MaxPGsPerOSD    int          `yaml:"max_pgs_per_osd"`
	MinPGNum        int          `yaml:"min_pg_num"`
	ReplicationSize int          `yaml:"replication_size"`
	ThresholdFactor float64      `yaml:"threshold_factor"`
	HDDRuleName     string       `yaml:"hdd_rule_name"`
	SSDRuleName     string       `yaml:"ssd_rule_name"`
}

// New returns a Config with every field defaulted.
func New() *Config {
	return &Config{
		LogLevel:        "info",
		ListenAddress:   DefaultListenAddress,
		Interval:        DefaultInterval,
		ChunkSize:       DefaultChunkSize,
		TargetPGsPerOSD: DefaultTargetPGsPerOSD,
		MaxPGsPerOSD:    DefaultMaxPGsPerOSD,
		MinPGNum:        DefaultMinPGNum,
		ReplicationSize: DefaultReplicationSize,
		ThresholdFactor: DefaultThresholdFactor,
		HDDRuleName:     defaultHDDRuleName,
		SSDRuleName:     defaultSSDRuleName,
	}
}

// Load reads a YAML config file, starting from New()'s defaults and
// overriding with whatever the file specifies.
func Load(path string) (*Config, error) {
	cfg := New()

	content, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	if err := yaml.Unmarshal(content, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	return cfg, nil
}

// Validate fills in any zero-valued field with its default and rejects
// nonsensical tunables, the way the teacher's Config.Validate does.
func (c *Config) Validate() error {
	if c.ListenAddress == "" {
		c.ListenAddress = DefaultListenAddress
	}
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.ChunkSize <= 0 {
		c.ChunkSize = DefaultChunkSize
	}
	if c.TargetPGsPerOSD <= 0 {
		c.TargetPGsPerOSD = DefaultTargetPGsPerOSD
	}
	if c.MaxPGsPerOSD <= 0 {
		c.MaxPGsPerOSD = DefaultMaxPGsPerOSD
	}
	if c.MaxPGsPerOSD < c.TargetPGsPerOSD {
		return fmt.Errorf("max_pgs_per_osd (%d) must be >= target_pgs_per_osd (%d)", c.MaxPGsPerOSD, c.TargetPGsPerOSD)
	}
	if c.MinPGNum <= 0 {
		c.MinPGNum = DefaultMinPGNum
	}
	if c.ReplicationSize <= 0 {
		c.ReplicationSize = DefaultReplicationSize
	}
	if c.ThresholdFactor <= 1.0 {
		c.ThresholdFactor = DefaultThresholdFactor
	}
	if c.HDDRuleName == "" {
		c.HDDRuleName = defaultHDDRuleName
	}
	if c.SSDRuleName == "" {
		c.SSDRuleName = defaultSSDRuleName
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}

	return nil
}
