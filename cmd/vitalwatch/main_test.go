package main

import (
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
)

var binaryPath string

func TestMain(m *testing.M) {
	dir, err := os.MkdirTemp("", "vitalwatch-bin")
	if err != nil {
		panic("Failed to create temp dir: " + err.Error())
	}

	binaryPath = filepath.Join(dir, "vitalwatch_test")
	cmd := exec.Command("go", "build", "-o", binaryPath, ".")
	if output, err := cmd.CombinedOutput(); err != nil {
		panic("Failed to build test binary: " + err.Error() + "\n" + string(output))
	}

	exitCode := m.Run()

	os.RemoveAll(dir)
	os.Exit(exitCode)
}

func runBinary(t *testing.T, args ...string) (string, int) {
	t.Helper()
	cmd := exec.Command(binaryPath, args...)
	cmd.Env = append(os.Environ(), "XDG_DATA_HOME="+t.TempDir())
	output, err := cmd.CombinedOutput()

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return string(output), exitErr.ExitCode()
	}
	if err != nil {
		t.Fatalf("failed to run binary: %v", err)
	}
	return string(output), 0
}

func TestBinaryHelp(t *testing.T) {
	output, code := runBinary(t, "--help")
	if code != 0 {
		t.Fatalf("--help exited with %d", code)
	}
	if !strings.Contains(output, "vitalwatch") {
		t.Errorf("help output missing usage: %s", output)
	}
}

func TestBinaryVersion(t *testing.T) {
	output, code := runBinary(t, "version")
	if code != 0 {
		t.Fatalf("version exited with %d", code)
	}
	if !strings.Contains(output, "VitalWatch version") {
		t.Errorf("unexpected version output: %s", output)
	}
}

func TestBinaryUnknownCommand(t *testing.T) {
	_, code := runBinary(t, "frobnicate")
	if code != 2 {
		t.Errorf("expected exit code 2, got %d", code)
	}
}

func TestBinaryRecordAndHistory(t *testing.T) {
	data := t.TempDir()

	output, code := runBinary(t, "-data", data, "record", "-temp", "39.2", "-hr", "80")
	if code != 0 {
		t.Fatalf("record exited with %d: %s", code, output)
	}
	if !strings.Contains(output, "Critical temperature") {
		t.Errorf("record did not report the alert: %s", output)
	}

	output, code = runBinary(t, "-data", data, "history")
	if code != 0 {
		t.Fatalf("history exited with %d: %s", code, output)
	}
	if !strings.Contains(output, "39.2") {
		t.Errorf("history missing the recorded sample: %s", output)
	}

	output, code = runBinary(t, "-data", data, "trend", "mood")
	if code != 1 {
		t.Errorf("expected exit code 1 for an unknown metric, got %d: %s", code, output)
	}
}
