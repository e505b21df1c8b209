package config

import "testing"

func TestDefaultConfigValidates(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
}

func TestValidatePowDifficulty(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PowDifficulty = cfg.PowMinDifficulty - 1
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error when PowDifficulty < PowMinDifficulty")
	}
}

func TestValidateKBucketSize(t *testing.T) {
	cfg := DefaultConfig()
	cfg.KBucketSize = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for zero KBucketSize")
	}
}

func TestValidateCircuitLengths(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CircuitLengths = nil
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for empty CircuitLengths")
	}

	cfg = DefaultConfig()
	cfg.CircuitLengths = []int{1, 0, 3}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for non-positive circuit length")
	}
}

func TestValidatePoolSizes(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CircuitPoolMinSize = 5
	cfg.CircuitPoolMaxSize = 2
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error when CircuitPoolMaxSize < CircuitPoolMinSize")
	}
}

func TestValidateLogLevel(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LogLevel = "verbose"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for invalid LogLevel")
	}
}

func TestClone(t *testing.T) {
	cfg := DefaultConfig()
	clone := cfg.Clone()

	clone.CircuitLengths[0] = 99
	if cfg.CircuitLengths[0] == 99 {
		t.Fatal("Clone should deep-copy CircuitLengths")
	}

	clone.LogLevel = "debug"
	if cfg.LogLevel == "debug" {
		t.Fatal("Clone should not alias the original struct")
	}
}
