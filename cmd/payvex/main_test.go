package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func payvexBinary(t *testing.T) string {
	t.Helper()
	binaryPath, err := filepath.Abs("../../payvex")
	if err != nil {
		t.Fatalf("failed to get binary path: %v", err)
	}
	if _, err := os.Stat(binaryPath); os.IsNotExist(err) {
		t.Skip("payvex binary not found - run 'go build -o payvex ./cmd/payvex' first")
	}
	return binaryPath
}

func TestSubcommands(t *testing.T) {
	binaryPath := payvexBinary(t)

	t.Run("help shows usage", func(t *testing.T) {
		out, err := exec.Command(binaryPath, "help").CombinedOutput()
		if err != nil {
			t.Fatalf("help command failed: %v", err)
		}
		if !strings.Contains(string(out), "serve") || !strings.Contains(string(out), "query") {
			t.Errorf("help output missing subcommands: %s", out)
		}
	})

	t.Run("version prints version info", func(t *testing.T) {
		out, err := exec.Command(binaryPath, "version").CombinedOutput()
		if err != nil {
			t.Fatalf("version command failed: %v", err)
		}
		if !strings.Contains(string(out), "payvex version") {
			t.Errorf("version output incorrect: %s", out)
		}
	})

	t.Run("no args shows usage and exits 1", func(t *testing.T) {
		out, err := exec.Command(binaryPath).CombinedOutput()
		if err == nil {
			t.Fatal("expected non-zero exit for no args")
		}
		if !strings.Contains(string(out), "Usage:") {
			t.Errorf("expected usage output, got: %s", out)
		}
	})

	t.Run("unknown command exits 1", func(t *testing.T) {
		out, err := exec.Command(binaryPath, "notreal").CombinedOutput()
		if err == nil {
			t.Fatal("expected non-zero exit for unknown command")
		}
		if !strings.Contains(string(out), "Unknown command") {
			t.Errorf("expected unknown command message, got: %s", out)
		}
	})

	t.Run("query requires a collection", func(t *testing.T) {
		out, err := exec.Command(binaryPath, "query").CombinedOutput()
		if err == nil {
			t.Fatal("expected non-zero exit without -collection")
		}
		if !strings.Contains(string(out), "-collection is required") {
			t.Errorf("expected collection error, got: %s", out)
		}
	})
}

func TestServeMode(t *testing.T) {
	binaryPath := payvexBinary(t)

	port := 18090
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cmd := exec.CommandContext(ctx, binaryPath, "serve", fmt.Sprintf("--addr=:%d", port))
	if err := cmd.Start(); err != nil {
		t.Fatalf("failed to start serve: %v", err)
	}
	defer cmd.Process.Kill()

	time.Sleep(2 * time.Second)

	resp, err := http.Get(fmt.Sprintf("http://localhost:%d/health", port))
	if err != nil {
		t.Fatalf("health check failed: %v", err)
	}
	defer resp.Body.Close()

	var result map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if result["status"] != "ok" {
		t.Errorf("expected status ok, got %s", result["status"])
	}
}

func TestQuerySnapshot(t *testing.T) {
	binaryPath := payvexBinary(t)

	configFile, err := os.CreateTemp("", "payvex-config-*.json")
	if err != nil {
		t.Fatalf("failed to create temp config: %v", err)
	}
	defer os.Remove(configFile.Name())

	config := fmt.Sprintf(`{
		"prefix": "app",
		"snapshot": {"object_store": {"type": "fs", "root_path": %q}}
	}`, t.TempDir())
	if _, err := configFile.WriteString(config); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	configFile.Close()

	out, err := exec.Command(binaryPath, "query", "--config="+configFile.Name(), "--collection=posts", "--count").CombinedOutput()
	if err != nil {
		t.Fatalf("query failed: %v: %s", err, out)
	}
	if !strings.Contains(string(out), `"count": 0`) {
		t.Errorf("expected empty count, got: %s", out)
	}
}
