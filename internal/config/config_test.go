package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func resetGlobalConfig() {
	globalConfig = &Config{
		DataDir:           ".bastion",
		ApiListenAddress:  ":3000",
		QuorumNumerator:   4,
		QuorumDenominator: 100,
		VotingDelay:       1,
		VotingPeriod:      100,
		MaxActions:        16,
		MinDelay:          "48h",
		RateWindow:        "1h",
		MaxBatchSize:      64,
		EmergencyMaxPause: "168h",
		ApprovalTimeout:   "0s",
		MetricsPort:       12798,
		ShutdownTimeout:   DefaultShutdownTimeout,
	}
}

func TestLoad_CompareFullStruct(t *testing.T) {
	resetGlobalConfig()
	yamlContent := `
dataDir: "/var/lib/bastion"
apiListenAddress: ":8080"
rootPrincipal: "council"
quorumNumerator: 10
quorumDenominator: 100
proposalThreshold: 5000
votingDelay: 5
votingPeriod: 200
queueWindow: 50
maxActions: 8
minDelay: "24h"
openExecutor: true
globalRateCap: 100000
rateWindow: "30m"
maxBatchSize: 32
emergencyMaxPause: "72h"
approvalTimeout: "48h"
metricsPort: 8088
shutdownTimeout: "10s"
`

	tmpDir := t.TempDir()
	tmpFile := filepath.Join(tmpDir, "test-bastion.yaml")

	err := os.WriteFile(tmpFile, []byte(yamlContent), 0644)
	if err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	defer os.Remove(tmpFile)

	expected := &Config{
		DataDir:           "/var/lib/bastion",
		ApiListenAddress:  ":8080",
		RootPrincipal:     "council",
		QuorumNumerator:   10,
		QuorumDenominator: 100,
		ProposalThreshold: 5000,
		VotingDelay:       5,
		VotingPeriod:      200,
		QueueWindow:       50,
		MaxActions:        8,
		MinDelay:          "24h",
		OpenExecutor:      true,
		GlobalRateCap:     100000,
		RateWindow:        "30m",
		MaxBatchSize:      32,
		EmergencyMaxPause: "72h",
		ApprovalTimeout:   "48h",
		MetricsPort:       8088,
		ShutdownTimeout:   "10s",
	}

	actual, err := LoadConfig(tmpFile)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if !reflect.DeepEqual(actual, expected) {
		t.Errorf(
			"Loaded config does not match expected.\nActual: %+v\nExpected: %+v",
			actual,
			expected,
		)
	}
}

func TestLoad_RequiresRootPrincipal(t *testing.T) {
	resetGlobalConfig()
	yamlContent := `
dataDir: "/var/lib/bastion"
`

	tmpDir := t.TempDir()
	tmpFile := filepath.Join(tmpDir, "test-no-root.yaml")

	err := os.WriteFile(tmpFile, []byte(yamlContent), 0644)
	if err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	_, err = LoadConfig(tmpFile)
	if err == nil {
		t.Fatalf("expected error for missing rootPrincipal, got nil")
	}
}

func TestLoad_RejectsBadQuorum(t *testing.T) {
	resetGlobalConfig()
	yamlContent := `
rootPrincipal: "council"
quorumNumerator: 101
quorumDenominator: 100
`

	tmpDir := t.TempDir()
	tmpFile := filepath.Join(tmpDir, "test-bad-quorum.yaml")

	err := os.WriteFile(tmpFile, []byte(yamlContent), 0644)
	if err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	_, err = LoadConfig(tmpFile)
	if err == nil {
		t.Fatalf("expected error for quorum numerator above denominator, got nil")
	}
}

func TestLoad_PartialOverlayKeepsDefaults(t *testing.T) {
	resetGlobalConfig()
	yamlContent := `
rootPrincipal: "council"
votingPeriod: 500
`

	tmpDir := t.TempDir()
	tmpFile := filepath.Join(tmpDir, "test-partial.yaml")

	err := os.WriteFile(tmpFile, []byte(yamlContent), 0644)
	if err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	cfg, err := LoadConfig(tmpFile)
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}

	if cfg.VotingPeriod != 500 {
		t.Errorf("expected VotingPeriod 500, got: %d", cfg.VotingPeriod)
	}
	if cfg.MinDelay != "48h" {
		t.Errorf("expected default MinDelay 48h, got: %s", cfg.MinDelay)
	}
	if cfg.MaxBatchSize != 64 {
		t.Errorf("expected default MaxBatchSize 64, got: %d", cfg.MaxBatchSize)
	}
}

func TestContextRoundTrip(t *testing.T) {
	resetGlobalConfig()
	cfg := &Config{RootPrincipal: "council"}
	ctx := WithContext(t.Context(), cfg)
	got := FromContext(ctx)
	if got != cfg {
		t.Errorf("expected same config pointer from context")
	}
	if FromContext(t.Context()) != nil {
		t.Errorf("expected nil config from empty context")
	}
}
