package main

import (
	"errors"
	"strings"
	"time"

	"opguard/internal/audit"
	"opguard/internal/bus"
	"opguard/internal/command"
	"opguard/internal/config"
	"opguard/internal/domain"
	"opguard/internal/guard"
	"opguard/internal/metrics"
	"opguard/internal/policy"
	"opguard/internal/store"
)

// newPolicy builds the policy store from cfg. A nil persister keeps the store
// in memory only. A failed seed write is logged and the store is still used.
func newPolicy(cfg *config.Config, persister policy.Persister) (*policy.Store, *command.Normalizer, error) {
	norm := command.NewNormalizer(cfg.Settings.Namespaces)
	ps, err := policy.New(policy.Lists{
		Blocked: cfg.BlockedCommands,
		Allowed: cfg.AllowedPlayers,
	}, norm, persister, logger)
	if err != nil {
		var perr *domain.PersistenceError
		if ps == nil || !errors.As(err, &perr) {
			return nil, nil, err
		}
		metrics.PersistErrors.Inc()
		logger.Error("seed blocked-commands failed", "err", err)
	}
	_, allowed := ps.Len()
	metrics.AllowListSize.Set(int64(allowed))
	return ps, norm, nil
}

func newEngine(cfg *config.Config, ps guard.Policy, sink domain.AuditSink, norm *command.Normalizer) *guard.Engine {
	return guard.NewEngine(ps, sink, guard.Options{
		BlockAutomated: cfg.Settings.BlockCommandBlocks,
		AutomatedLabel: cfg.Settings.AutomatedLabel,
		Normalizer:     norm,
	}, logger)
}

// buildOutputs opens every enabled non-console audit output. An output that
// cannot be opened is logged and left out; the rest still run.
func buildOutputs(cfg *config.Config) []audit.Output {
	var outputs []audit.Output
	skip := func(name string, err error) {
		metrics.AuditWriteErrors.Inc()
		logger.Error("audit output disabled", "output", name, "err", domain.Persistence(name, err))
	}

	if cfg.Logging.File {
		if fo, err := audit.NewFileOutput(cfg.AuditFilePath()); err != nil {
			skip("audit-file", err)
		} else {
			outputs = append(outputs, fo)
		}
	}
	if cfg.Logging.SQLite.Enabled {
		if db, err := store.NewSQLiteStore(cfg.AuditDBPath(), logger); err != nil {
			skip("audit-db", err)
		} else {
			outputs = append(outputs, audit.NewDBOutput(db))
		}
	}
	if tc := cfg.Logging.Telegram; tc.Enabled {
		if tg, err := audit.NewTelegramOutput(tc.Token, tc.ChatID, auditKinds(tc.Kinds)); err != nil {
			skip("telegram", err)
		} else {
			if tc.RatePerMinute > 0 {
				tg.WithLimiter(audit.NewRateLimiter(tc.Burst, float64(tc.RatePerMinute), nil))
			}
			outputs = append(outputs, tg)
		}
	}
	return outputs
}

func auditKinds(names []string) []domain.AuditKind {
	kinds := make([]domain.AuditKind, 0, len(names))
	for _, n := range names {
		kinds = append(kinds, domain.AuditKind(strings.ToUpper(strings.TrimSpace(n))))
	}
	return kinds
}

func outputNames(outputs []audit.Output) []string {
	names := make([]string, 0, len(outputs))
	for _, o := range outputs {
		names = append(names, o.Name())
	}
	return names
}

// summarize counts the remembered events dispatched since the given time and
// how many of them were denied.
func summarize(d *bus.Dispatcher, since time.Time) (events, denied int) {
	for _, e := range d.Replay("*", since) {
		events++
		if e.Verdict == domain.VerdictDeny {
			denied++
		}
	}
	return events, denied
}
