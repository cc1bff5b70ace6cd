package main

import (
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func captureOutputWithExitCode(t *testing.T, run func() int) (int, string, string) {
	t.Helper()

	oldStdout := os.Stdout
	oldStderr := os.Stderr

	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe stdout failed: %v", err)
	}
	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe stderr failed: %v", err)
	}

	os.Stdout = stdoutW
	os.Stderr = stderrW

	code := run()

	_ = stdoutW.Close()
	_ = stderrW.Close()
	os.Stdout = oldStdout
	os.Stderr = oldStderr

	stdoutBytes, _ := io.ReadAll(stdoutR)
	stderrBytes, _ := io.ReadAll(stderrR)

	_ = stdoutR.Close()
	_ = stderrR.Close()

	return code, string(stdoutBytes), string(stderrBytes)
}

func writeTestConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
device: "unix:/tmp/meshd-test.sock"
channel_index: 1
lock_path: "` + filepath.Join(dir, "meshbot.pid") + `"
plugins_dir: "` + filepath.Join(dir, "plugins") + `"
mailbox:
  path: "` + filepath.Join(dir, "mailbox.jsonl") + `"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestRunCLIUnknownCommand(t *testing.T) {
	code, _, stderr := captureOutputWithExitCode(t, func() int {
		return runCLI([]string{"frobnicate"})
	})
	if code != 1 {
		t.Fatalf("expected exit 1, got %d", code)
	}
	if !strings.Contains(stderr, "Unknown command") {
		t.Fatalf("expected unknown command message, got %q", stderr)
	}
}

func TestRunCLINoArgs(t *testing.T) {
	code, _, _ := captureOutputWithExitCode(t, func() int {
		return runCLI(nil)
	})
	if code != 1 {
		t.Fatalf("expected exit 1, got %d", code)
	}
}

func TestVersionJSON(t *testing.T) {
	code, stdout, _ := captureOutputWithExitCode(t, func() int {
		return runCLI([]string{"version", "--json"})
	})
	if code != 0 {
		t.Fatalf("expected exit 0, got %d", code)
	}

	var info versionInfo
	if err := json.Unmarshal([]byte(stdout), &info); err != nil {
		t.Fatalf("invalid JSON output: %v", err)
	}
	if info.Version == "" {
		t.Fatal("expected non-empty version")
	}
}

func TestConfigCheckValid(t *testing.T) {
	path := writeTestConfig(t)

	code, stdout, stderr := captureOutputWithExitCode(t, func() int {
		return runConfigCheck([]string{"--config", path})
	})
	if code != 0 {
		t.Fatalf("expected exit 0, got %d (stderr: %s)", code, stderr)
	}
	if !strings.Contains(stdout, "Config OK") {
		t.Fatalf("expected Config OK, got %q", stdout)
	}
}

func TestConfigCheckInvalid(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("device: \"serial:/dev/ttyUSB0\"\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	code, _, stderr := captureOutputWithExitCode(t, func() int {
		return runConfigCheck([]string{"--config", path})
	})
	if code != 1 {
		t.Fatalf("expected exit 1, got %d", code)
	}
	if !strings.Contains(stderr, "Config invalid") {
		t.Fatalf("expected config invalid message, got %q", stderr)
	}
}

func TestConfigLockThenCheckDetectsTamper(t *testing.T) {
	path := writeTestConfig(t)

	code, _, stderr := captureOutputWithExitCode(t, func() int {
		return runConfigLock([]string{"--config", path})
	})
	if code != 0 {
		t.Fatalf("config lock failed: %s", stderr)
	}

	code, _, _ = captureOutputWithExitCode(t, func() int {
		return runConfigCheck([]string{"--config", path})
	})
	if code != 0 {
		t.Fatal("expected check to pass right after lock")
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("open config: %v", err)
	}
	if _, err := f.WriteString("\nmax_reply_len: 200\n"); err != nil {
		t.Fatalf("append config: %v", err)
	}
	_ = f.Close()

	code, _, stderr = captureOutputWithExitCode(t, func() int {
		return runConfigCheck([]string{"--config", path})
	})
	if code != 1 {
		t.Fatal("expected check to fail after tampering")
	}
	if !strings.Contains(stderr, "Integrity") {
		t.Fatalf("expected integrity failure message, got %q", stderr)
	}
}

func TestPluginListEmptyDir(t *testing.T) {
	path := writeTestConfig(t)

	code, stdout, stderr := captureOutputWithExitCode(t, func() int {
		return runPluginList([]string{"--config", path})
	})
	if code != 0 {
		t.Fatalf("expected exit 0, got %d (stderr: %s)", code, stderr)
	}
	if !strings.Contains(stdout, "No plugins found") {
		t.Fatalf("expected empty plugin listing, got %q", stdout)
	}
}
