package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"opguard/internal/audit"
	"opguard/internal/config"
	"opguard/internal/domain"
	"opguard/internal/guard"
	"opguard/internal/host"
	"opguard/internal/store"
)

// recordingSink collects audit records instead of writing them.
type recordingSink struct {
	mu      sync.Mutex
	records []domain.AuditRecord
}

func (s *recordingSink) Record(_ context.Context, rec domain.AuditRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}
	s.records = append(s.records, rec)
}

func checkCmd() *cobra.Command {
	var (
		automated bool
		label     string
		join      bool
	)
	cmd := &cobra.Command{
		Use:   "check [actor] <command...>",
		Short: "Show the decision for a command without applying it",
		Example: `  opguard check alice /op bob
  opguard check --automated "/minecraft:stop"
  opguard check --join alice`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig()
			if err != nil {
				return err
			}
			ps, norm, err := newPolicy(cfg, nil)
			if err != nil {
				return err
			}
			sink := &recordingSink{}
			engine := newEngine(cfg, ps, sink, norm)
			ctx := cmd.Context()

			var out domain.Outcome
			switch {
			case join:
				if len(args) != 1 {
					return errors.New("--join takes exactly one actor")
				}
				out = engine.Join(ctx, guard.JoinEvent{Actor: args[0]})
			case automated:
				if len(args) == 0 {
					return errors.New("missing command")
				}
				out = engine.AutomatedCommand(ctx, guard.AutomatedEvent{Source: label, Raw: strings.Join(args, " ")})
			default:
				if len(args) < 2 {
					return errors.New("usage: check <actor> <command...>")
				}
				out = engine.Command(ctx, guard.CommandEvent{Actor: args[0], Raw: strings.Join(args[1:], " ")})
			}

			w := cmd.OutOrStdout()
			renderer := host.NewRenderer(w, cfg.Message)
			fmt.Fprintf(w, "verdict: %s\n", out.Verdict)
			if out.Cancel {
				fmt.Fprintln(w, "cancel:  yes")
			}
			for _, eff := range out.Effects {
				switch eff.Kind {
				case domain.EffectSendNotice:
					fmt.Fprintf(w, "notice:  [%s] %s\n", eff.Target, renderer.Render(eff.Notice.Key, eff.Notice.Args...))
				default:
					fmt.Fprintf(w, "effect:  %s %s\n", eff.Kind, eff.Target)
				}
			}
			for _, rec := range sink.records {
				fmt.Fprintf(w, "audit:   %s\n", audit.Format(rec))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&automated, "automated", false, "decide as an automated command source")
	cmd.Flags().StringVar(&label, "label", "", "source label for --automated")
	cmd.Flags().BoolVar(&join, "join", false, "decide a join of the given actor")
	return cmd
}

func allowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "allow <actor>",
		Short: "Add an actor to the allow-list as the console would",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, cfgPath, err := loadConfig()
			if err != nil {
				return err
			}
			ps, norm, err := newPolicy(cfg, config.NewListPersister(cfgPath))
			if err != nil {
				return err
			}
			engine := newEngine(cfg, ps, nil, norm)
			res := engine.AddAllowListed(cmd.Context(), domain.ConsoleRequester(), args)

			renderer := host.NewRenderer(cmd.OutOrStdout(), cfg.Message)
			fmt.Fprintln(cmd.OutOrStdout(), renderer.Render(res.Notice.Key, res.Notice.Args...))
			if res.Status == domain.AdminBadRequest {
				return domain.ErrBadRequest
			}
			return nil
		},
	}
}

func auditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Inspect the audit database",
	}

	var (
		kind   string
		source string
		since  time.Duration
		limit  int
	)
	list := &cobra.Command{
		Use:   "list",
		Short: "List audit records, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openAuditDB()
			if err != nil {
				return err
			}
			defer db.Close()

			filter := domain.AuditFilter{
				Kind:   domain.AuditKind(strings.ToUpper(kind)),
				Source: source,
				Limit:  limit,
			}
			if since > 0 {
				filter.Since = time.Now().Add(-since)
			}
			records, err := db.Query(cmd.Context(), filter)
			if err != nil {
				return err
			}
			if len(records) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no audit records")
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "TIME\tKIND\tSOURCE\tCOMMAND")
			for _, r := range records {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
					r.Timestamp.Local().Format(audit.TimeLayout), r.Kind, r.Source, r.Command)
			}
			return w.Flush()
		},
	}
	list.Flags().StringVar(&kind, "kind", "", "filter by kind (OP_GRANT, BLOCKED_CMD, BLOCKED_CMD_AUTOMATED)")
	list.Flags().StringVar(&source, "source", "", "filter by source (case-insensitive)")
	list.Flags().DurationVar(&since, "since", 0, "only records newer than this (e.g. 24h)")
	list.Flags().IntVarP(&limit, "limit", "n", store.DefaultQueryLimit, "maximum records")

	stats := &cobra.Command{
		Use:   "stats",
		Short: "Count audit records by kind",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openAuditDB()
			if err != nil {
				return err
			}
			defer db.Close()

			counts, err := db.Count(cmd.Context())
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "KIND\tCOUNT")
			for _, k := range []domain.AuditKind{domain.KindOpGrant, domain.KindBlockedCmd, domain.KindBlockedCmdAutomated} {
				fmt.Fprintf(w, "%s\t%d\n", k, counts[k])
			}
			return w.Flush()
		},
	}

	cmd.AddCommand(list, stats)
	return cmd
}

func openAuditDB() (*store.SQLiteStore, error) {
	cfg, _, err := loadConfig()
	if err != nil {
		return nil, err
	}
	path := cfg.AuditDBPath()
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("audit database %s not found (enable logging.sqlite.enabled): %w", path, err)
	}
	return store.NewSQLiteStore(path, logger)
}
