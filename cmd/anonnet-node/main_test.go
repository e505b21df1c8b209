// Package main provides tests for the anonnet node executable.
package main

import (
	"bytes"
	"flag"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
)

// TestVersionFlag builds the binary and checks -version's output.
func TestVersionFlag(t *testing.T) {
	tmpDir := t.TempDir()
	binaryPath := filepath.Join(tmpDir, "anonnet-node-test")

	build := exec.Command("go", "build", "-o", binaryPath, ".")
	if err := build.Run(); err != nil {
		t.Skipf("skipping: unable to build test binary: %v", err)
	}

	cmd := exec.Command(binaryPath, "-version")
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	if err := cmd.Run(); err != nil {
		t.Fatalf("run -version: %v", err)
	}
	if !strings.Contains(stdout.String(), "anonnet-node version") {
		t.Errorf("version output missing version string, got: %s", stdout.String())
	}
}

func TestVersionVariable(t *testing.T) {
	if version == "" {
		t.Error("version variable should not be empty")
	}
	if buildTime == "" {
		t.Error("buildTime variable should not be empty")
	}
}

func TestFlagParsingDefaults(t *testing.T) {
	flag.CommandLine = flag.NewFlagSet(os.Args[0], flag.ExitOnError)

	dataDir := flag.String("data-dir", "", "")
	listenAddr := flag.String("listen", "127.0.0.1:0", "")
	powDifficulty := flag.Int("pow-difficulty", 0, "")
	logLevel := flag.String("log-level", "", "")
	showVersion := flag.Bool("version", false, "")

	if err := flag.CommandLine.Parse(nil); err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if *dataDir != "" {
		t.Errorf("dataDir = %q, want empty", *dataDir)
	}
	if *listenAddr != "127.0.0.1:0" {
		t.Errorf("listenAddr = %q, want 127.0.0.1:0", *listenAddr)
	}
	if *powDifficulty != 0 {
		t.Errorf("powDifficulty = %d, want 0", *powDifficulty)
	}
	if *logLevel != "" {
		t.Errorf("logLevel = %q, want empty", *logLevel)
	}
	if *showVersion {
		t.Error("showVersion = true, want false")
	}
}

func TestFlagParsingWithValues(t *testing.T) {
	flag.CommandLine = flag.NewFlagSet(os.Args[0], flag.ExitOnError)

	dataDir := flag.String("data-dir", "", "")
	listenAddr := flag.String("listen", "127.0.0.1:0", "")
	powDifficulty := flag.Int("pow-difficulty", 0, "")
	logLevel := flag.String("log-level", "", "")

	args := []string{
		"-data-dir", "/tmp/anonnet-data",
		"-listen", "0.0.0.0:9050",
		"-pow-difficulty", "16",
		"-log-level", "debug",
	}
	if err := flag.CommandLine.Parse(args); err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if *dataDir != "/tmp/anonnet-data" {
		t.Errorf("dataDir = %q, want /tmp/anonnet-data", *dataDir)
	}
	if *listenAddr != "0.0.0.0:9050" {
		t.Errorf("listenAddr = %q, want 0.0.0.0:9050", *listenAddr)
	}
	if *powDifficulty != 16 {
		t.Errorf("powDifficulty = %d, want 16", *powDifficulty)
	}
	if *logLevel != "debug" {
		t.Errorf("logLevel = %q, want debug", *logLevel)
	}
}
