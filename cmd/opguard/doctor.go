package main

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/muesli/termenv"
	"github.com/spf13/cobra"

	"opguard/internal/config"
	"opguard/internal/store"
)

// report prints check results and keeps the tally.
type report struct {
	out                    *termenv.Output
	passed, failed, warned int
}

func newReport(w io.Writer) *report {
	return &report{out: termenv.NewOutput(w)}
}

func (r *report) pass(check, detail string) {
	r.passed++
	r.line(r.out.String("[PASS]").Foreground(termenv.ANSIGreen), check, detail)
}

func (r *report) fail(check, detail string) {
	r.failed++
	r.line(r.out.String("[FAIL]").Foreground(termenv.ANSIRed).Bold(), check, detail)
}

func (r *report) warn(check, detail string) {
	r.warned++
	r.line(r.out.String("[WARN]").Foreground(termenv.ANSIYellow), check, detail)
}

func (r *report) line(tag termenv.Style, check, detail string) {
	fmt.Fprintf(r.out, "  %s %-20s %s\n", tag, check, detail)
}

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostic checks on the opguard installation",
		Long: `Verifies that the configuration, data directory and enabled audit
outputs are usable. Reports pass/fail for each check.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			r := newReport(cmd.OutOrStdout())
			fmt.Fprintf(r.out, "opguard doctor v%s\n\n", version)

			if _, err := os.Stat(cfgPath); err != nil {
				r.fail("Config file", fmt.Sprintf("not found at %s", cfgPath))
				fmt.Fprintf(r.out, "\nRun 'opguard init' to create a default configuration.\n")
				return fmt.Errorf("config not found")
			}
			r.pass("Config file", cfgPath)

			cfg, err := config.Load(cfgPath)
			if err != nil {
				r.fail("Config validation", err.Error())
				return r.summary()
			}
			r.pass("Config validation", "valid")

			if len(cfg.BlockedCommands) == 0 {
				r.warn("Blocked commands", "empty, defaults will be seeded on start")
			} else {
				r.pass("Blocked commands", fmt.Sprintf("%d configured", len(cfg.BlockedCommands)))
			}

			if err := checkDir(cfg.DataDir); err != nil {
				r.fail("Data directory", err.Error())
			} else {
				r.pass("Data directory", cfg.DataDir)
			}

			if cfg.Logging.File {
				if err := checkAppend(cfg.AuditFilePath()); err != nil {
					r.fail("Audit file", err.Error())
				} else {
					r.pass("Audit file", cfg.AuditFilePath())
				}
			}

			if cfg.Logging.SQLite.Enabled {
				if v, err := checkDatabase(cfg.AuditDBPath()); err != nil {
					r.fail("Audit database", err.Error())
				} else {
					r.pass("Audit database", fmt.Sprintf("%s (schema v%d)", cfg.AuditDBPath(), v))
				}
			}

			if cfg.Logging.Telegram.Enabled {
				if cfg.Logging.Telegram.Token == "" || cfg.Logging.Telegram.ChatID == 0 {
					r.fail("Telegram alerts", "enabled but token or chat-id missing")
				} else {
					r.pass("Telegram alerts", fmt.Sprintf("chat %d", cfg.Logging.Telegram.ChatID))
				}
			}

			if hc := cfg.Host.HTTP; hc.Enabled {
				if err := checkAddr(hc.Addr); err != nil {
					r.warn("HTTP host", fmt.Sprintf("%s may be in use: %v", hc.Addr, err))
				} else if hc.Secret == "" {
					r.warn("HTTP host", "no host.http.secret, requests are not signed")
				} else {
					r.pass("HTTP host", hc.Addr+hc.Path)
				}
			}

			if cfg.Metrics.Enabled {
				if err := checkAddr(cfg.Metrics.Addr); err != nil {
					r.warn("Metrics address", fmt.Sprintf("%s may be in use: %v", cfg.Metrics.Addr, err))
				} else {
					r.pass("Metrics address", cfg.Metrics.Addr+" available")
				}
			}

			return r.summary()
		},
	}
}

func (r *report) summary() error {
	fmt.Fprintf(r.out, "\nResults: %d passed, %d warnings, %d failed\n", r.passed, r.warned, r.failed)
	if r.failed > 0 {
		return fmt.Errorf("%d check(s) failed", r.failed)
	}
	return nil
}

func checkDir(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create: %w", err)
	}
	probe, err := os.CreateTemp(dir, ".doctor-*")
	if err != nil {
		return fmt.Errorf("not writable: %w", err)
	}
	probe.Close()
	return os.Remove(probe.Name())
}

func checkAppend(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("cannot create directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("not writable: %w", err)
	}
	return f.Close()
}

// checkDatabase opens the audit database, applying migrations, and returns
// its schema version.
func checkDatabase(path string) (int, error) {
	db, err := store.NewSQLiteStore(path, logger)
	if err != nil {
		return 0, err
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := db.Count(ctx); err != nil {
		return 0, fmt.Errorf("cannot query: %w", err)
	}
	return db.SchemaVersion()
}

func checkAddr(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return ln.Close()
}
