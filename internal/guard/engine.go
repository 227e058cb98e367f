// Package guard decides host events against the policy store and applies the
// allow-list administration command.
package guard

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"opguard/internal/command"
	"opguard/internal/domain"
	"opguard/internal/metrics"
	"opguard/internal/policy"
)

// DefaultAutomatedLabel is the audit source for automated command sources.
const DefaultAutomatedLabel = "CommandBlock"

// Policy is the read and write surface of policy.Store used by the engine.
type Policy interface {
	IsBlocked(token string) bool
	IsAllowListed(actor string) bool
	TryAddAllowListed(actor string) (policy.AddResult, error)
	Len() (blocked, allowed int)
}

type Options struct {
	// BlockAutomated enables decisions for automated command sources.
	BlockAutomated bool
	AutomatedLabel string
	Normalizer     *command.Normalizer
}

// JoinEvent is an actor entering the host.
type JoinEvent struct {
	Actor      string
	Privileged bool
}

// CommandEvent is a command typed by an interactive actor.
type CommandEvent struct {
	Actor string
	Raw   string
}

// AutomatedEvent is a command issued by a non-actor source. Source overrides
// the configured label when set.
type AutomatedEvent struct {
	Source string
	Raw    string
}

// Engine is safe for concurrent use. Its entry points never return errors
// and never panic; failures in side effects are logged.
type Engine struct {
	policy Policy
	sink   domain.AuditSink
	norm   *command.Normalizer
	logger *slog.Logger

	blockAutomated bool
	automatedLabel string
}

func NewEngine(p Policy, sink domain.AuditSink, opts Options, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Normalizer == nil {
		opts.Normalizer = command.NewNormalizer(nil)
	}
	if opts.AutomatedLabel == "" {
		opts.AutomatedLabel = DefaultAutomatedLabel
	}
	return &Engine{
		policy:         p,
		sink:           sink,
		norm:           opts.Normalizer,
		logger:         logger,
		blockAutomated: opts.BlockAutomated,
		automatedLabel: opts.AutomatedLabel,
	}
}

// Join grants privilege to an actor that does not hold it yet.
func (e *Engine) Join(ctx context.Context, ev JoinEvent) (out domain.Outcome) {
	defer e.recoverDecision("join", &out)
	if ev.Privileged {
		return domain.Allow()
	}

	metrics.PrivilegeGrants.Inc()
	e.logger.Info("granting privilege", "actor", ev.Actor)
	e.record(ctx, domain.AuditRecord{Kind: domain.KindOpGrant, Source: ev.Actor})
	return domain.Outcome{
		Verdict: domain.VerdictAllow,
		Effects: []domain.Effect{
			{Kind: domain.EffectGrantPrivilege, Target: ev.Actor},
			notice(ev.Actor, domain.NoticeOpGrant),
		},
	}
}

// Command decides an interactive command. Allow-listed actors bypass the
// blocklist entirely.
func (e *Engine) Command(ctx context.Context, ev CommandEvent) (out domain.Outcome) {
	start := time.Now()
	defer metrics.DecisionLatency.ObserveSince(start)
	defer e.recoverDecision("command", &out)

	if e.policy.IsAllowListed(ev.Actor) {
		metrics.CommandsAllowed.Inc()
		return domain.Allow()
	}

	token := e.norm.Normalize(ev.Raw)
	if !e.policy.IsBlocked(token) {
		metrics.CommandsAllowed.Inc()
		return domain.Allow()
	}

	metrics.CommandsDenied.Inc()
	e.logger.Debug("command blocked", "actor", ev.Actor, "token", token)
	e.record(ctx, domain.AuditRecord{Kind: domain.KindBlockedCmd, Source: ev.Actor, Command: ev.Raw})
	return domain.Outcome{
		Verdict: domain.VerdictDeny,
		Cancel:  true,
		Effects: []domain.Effect{notice(ev.Actor, domain.NoticeCommandBlocked)},
	}
}

// AutomatedCommand decides a command from an automated source. It is a no-op
// unless automated blocking is enabled. The allow-list does not apply.
func (e *Engine) AutomatedCommand(ctx context.Context, ev AutomatedEvent) (out domain.Outcome) {
	start := time.Now()
	defer metrics.DecisionLatency.ObserveSince(start)
	defer e.recoverDecision("automated command", &out)

	if !e.blockAutomated {
		return domain.Allow()
	}
	token := e.norm.Normalize(ev.Raw)
	if !e.policy.IsBlocked(token) {
		return domain.Allow()
	}

	source := ev.Source
	if source == "" {
		source = e.automatedLabel
	}
	metrics.AutomatedDenied.Inc()
	e.record(ctx, domain.AuditRecord{Kind: domain.KindBlockedCmdAutomated, Source: source, Command: ev.Raw})
	return domain.Outcome{Verdict: domain.VerdictDeny, Cancel: true}
}

// record hands rec to the sink. A panicking sink does not change the decision.
func (e *Engine) record(ctx context.Context, rec domain.AuditRecord) {
	if e.sink == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("audit sink panicked", "kind", string(rec.Kind), "panic", fmt.Sprint(r))
		}
	}()
	e.sink.Record(ctx, rec)
}

// recoverDecision turns a panic into an allow outcome so the host event
// continues as if the engine were absent.
func (e *Engine) recoverDecision(op string, out *domain.Outcome) {
	if r := recover(); r != nil {
		e.logger.Error("decision panicked", "op", op, "panic", fmt.Sprint(r))
		*out = domain.Allow()
	}
}

func notice(target string, key domain.NoticeKey, args ...any) domain.Effect {
	return domain.Effect{
		Kind:   domain.EffectSendNotice,
		Target: target,
		Notice: domain.Notice{Key: key, Args: args},
	}
}
