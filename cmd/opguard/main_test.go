package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"

	"opguard/internal/config"
	"opguard/internal/logging"
)

// writeConfig creates a config in a temp dir and points --config at it.
func writeConfig(t *testing.T, mutate func(*config.Config)) string {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Defaults()
	cfg.Language = "en"
	cfg.DataDir = filepath.Join(dir, "data")
	cfg.Logging.Console = false
	if mutate != nil {
		mutate(cfg)
	}
	path := filepath.Join(dir, "config.yml")
	if err := config.Save(path, cfg); err != nil {
		t.Fatal(err)
	}

	prev := configPath
	configPath = path
	logger = logging.Discard()
	t.Cleanup(func() { configPath = prev })
	return path
}

func run(t *testing.T, cmd *cobra.Command, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestCheck_BlockedCommand(t *testing.T) {
	writeConfig(t, nil)
	out, err := run(t, checkCmd(), "alice", "/minecraft:OP", "bob")
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	for _, want := range []string{"verdict: deny", "cancel:  yes", "BLOCKED_CMD | source: alice | command: /minecraft:OP bob", "This command is blocked!"} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in:\n%s", want, out)
		}
	}
}

func TestCheck_AllowListedBypass(t *testing.T) {
	writeConfig(t, func(c *config.Config) { c.AllowedPlayers = []string{"Alice"} })
	out, err := run(t, checkCmd(), "alice", "/op", "bob")
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if !strings.Contains(out, "verdict: allow") || strings.Contains(out, "audit:") {
		t.Fatalf("expected silent allow:\n%s", out)
	}
}

func TestCheck_AutomatedDisabled(t *testing.T) {
	writeConfig(t, func(c *config.Config) { c.Settings.BlockCommandBlocks = false })
	out, err := run(t, checkCmd(), "--automated", "/stop")
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if !strings.Contains(out, "verdict: allow") {
		t.Fatalf("automated checks disabled should allow:\n%s", out)
	}
}

func TestCheck_Join(t *testing.T) {
	writeConfig(t, nil)
	out, err := run(t, checkCmd(), "--join", "carol")
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if !strings.Contains(out, "effect:  grant_privilege carol") || !strings.Contains(out, "OP_GRANT | source: carol") {
		t.Fatalf("unexpected join output:\n%s", out)
	}
}

func TestCheck_DoesNotPersist(t *testing.T) {
	path := writeConfig(t, func(c *config.Config) { c.BlockedCommands = nil })
	if _, err := run(t, checkCmd(), "alice", "/stop"); err != nil {
		t.Fatalf("check: %v", err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(cfg.BlockedCommands) != 0 {
		t.Fatalf("dry run wrote blocked-commands: %v", cfg.BlockedCommands)
	}
}

func TestAllow_PersistsToConfig(t *testing.T) {
	path := writeConfig(t, nil)
	out, err := run(t, allowCmd(), "Dave")
	if err != nil {
		t.Fatalf("allow: %v", err)
	}
	if !strings.Contains(out, "Player Dave added to the allow-list!") {
		t.Fatalf("unexpected output: %q", out)
	}

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(cfg.AllowedPlayers) != 1 || cfg.AllowedPlayers[0] != "dave" {
		t.Fatalf("allowed-players = %v", cfg.AllowedPlayers)
	}

	out, err = run(t, allowCmd(), "DAVE")
	if err != nil || !strings.Contains(out, "already on the allow-list") {
		t.Fatalf("second add: %v %q", err, out)
	}
}

func TestAllow_Usage(t *testing.T) {
	writeConfig(t, nil)
	out, err := run(t, allowCmd(), "a", "b")
	if err == nil {
		t.Fatal("expected error for two arguments")
	}
	if !strings.Contains(out, "Usage: /allowplayer <name>") {
		t.Fatalf("expected usage notice, got %q", out)
	}
}

func TestConfigSet_RejectsManagedList(t *testing.T) {
	writeConfig(t, nil)
	if _, err := run(t, configCmd(), "set", "allowed-players", "x"); err == nil {
		t.Fatal("expected managed list to be rejected")
	}
}

func TestInit_RefusesOverwrite(t *testing.T) {
	path := writeConfig(t, nil)
	if _, err := run(t, initCmd()); err == nil {
		t.Fatal("expected init to refuse an existing config")
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatal(err)
	}
}
