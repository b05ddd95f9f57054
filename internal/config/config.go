// Copyright 2026 Blink Labs Software
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

type ctxKey string

const configContextKey ctxKey = "bastion.config"

const DefaultShutdownTimeout = "30s"

func WithContext(ctx context.Context, cfg *Config) context.Context {
	return context.WithValue(ctx, configContextKey, cfg)
}

func FromContext(ctx context.Context) *Config {
	cfg, ok := ctx.Value(configContextKey).(*Config)
	if !ok {
		return nil
	}
	return cfg
}

type Config struct {
	DataDir           string `yaml:"dataDir"                                           split_words:"true"`
	ApiListenAddress  string `yaml:"apiListenAddress"  envconfig:"API_LISTEN_ADDRESS"`
	RootPrincipal     string `yaml:"rootPrincipal"                                     split_words:"true"`
	GcsBucket         string `yaml:"gcsBucket"         envconfig:"GCS_BUCKET"`
	QuorumNumerator   uint64 `yaml:"quorumNumerator"                                   split_words:"true"`
	QuorumDenominator uint64 `yaml:"quorumDenominator"                                 split_words:"true"`
	ProposalThreshold uint64 `yaml:"proposalThreshold"                                 split_words:"true"`
	VotingDelay       uint64 `yaml:"votingDelay"                                       split_words:"true"`
	VotingPeriod      uint64 `yaml:"votingPeriod"                                      split_words:"true"`
	QueueWindow       uint64 `yaml:"queueWindow"                                       split_words:"true"`
	MaxActions        int    `yaml:"maxActions"                                        split_words:"true"`
	MinDelay          string `yaml:"minDelay"                                          split_words:"true"`
	OpenExecutor      bool   `yaml:"openExecutor"                                      split_words:"true"`
	GlobalRateCap     uint64 `yaml:"globalRateCap"                                     split_words:"true"`
	RateWindow        string `yaml:"rateWindow"                                        split_words:"true"`
	MaxBatchSize      int    `yaml:"maxBatchSize"                                      split_words:"true"`
	EmergencyMaxPause string `yaml:"emergencyMaxPause"                                 split_words:"true"`
	ApprovalTimeout   string `yaml:"approvalTimeout"                                   split_words:"true"`
	MetricsPort       uint   `yaml:"metricsPort"                                       split_words:"true"`
	Tracing           bool   `yaml:"tracing"`
	TracingStdout     bool   `yaml:"tracingStdout"                                     split_words:"true"`
	ShutdownTimeout   string `yaml:"shutdownTimeout"                                   split_words:"true"`
}

var globalConfig = &Config{
	DataDir:           ".bastion",
	ApiListenAddress:  ":3000",
	QuorumNumerator:   4,
	QuorumDenominator: 100,
	ProposalThreshold: 0,
	VotingDelay:       1,
	VotingPeriod:      100,
	QueueWindow:       0,
	MaxActions:        16,
	MinDelay:          "48h",
	OpenExecutor:      false,
	GlobalRateCap:     0,
	RateWindow:        "1h",
	MaxBatchSize:      64,
	EmergencyMaxPause: "168h",
	ApprovalTimeout:   "0s",
	MetricsPort:       12798,
	ShutdownTimeout:   DefaultShutdownTimeout,
}

func LoadConfig(configFile string) (*Config, error) {
	// Load config file as YAML if provided
	if configFile == "" {
		// Check for config file in this path: ~/.bastion/bastion.yaml
		if homeDir, err := os.UserHomeDir(); err == nil {
			userPath := filepath.Join(homeDir, ".bastion", "bastion.yaml")
			if _, err := os.Stat(userPath); err == nil {
				configFile = userPath
			}
		}

		// Try to check for /etc/bastion/bastion.yaml if still not found
		if configFile == "" {
			systemPath := "/etc/bastion/bastion.yaml"
			if _, err := os.Stat(systemPath); err == nil {
				configFile = systemPath
			}
		}
	}

	if configFile != "" {
		buf, err := os.ReadFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}

		// Overlay config values onto existing defaults
		err = yaml.Unmarshal(buf, globalConfig)
		if err != nil {
			return nil, fmt.Errorf("error parsing config file: %w", err)
		}
	}
	// Process environment variables
	err := envconfig.Process("bastion", globalConfig)
	if err != nil {
		return nil, fmt.Errorf("error processing environment: %+w", err)
	}

	if globalConfig.RootPrincipal == "" {
		return nil, fmt.Errorf("rootPrincipal is required")
	}
	if globalConfig.QuorumDenominator == 0 ||
		globalConfig.QuorumNumerator > globalConfig.QuorumDenominator {
		return nil, fmt.Errorf(
			"invalid quorum fraction: %d/%d",
			globalConfig.QuorumNumerator,
			globalConfig.QuorumDenominator,
		)
	}
	return globalConfig, nil
}

func GetConfig() *Config {
	return globalConfig
}
