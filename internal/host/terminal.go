// Package host adapts a line-oriented terminal session to the policy engine:
// each input line becomes a host event and every requested effect is printed.
package host

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"opguard/internal/command"
	"opguard/internal/domain"
)

// Publisher accepts host events. bus.Queue satisfies it.
type Publisher interface {
	Publish(ev domain.HostEvent) bool
}

// Terminal implements domain.Host on a pair of streams.
//
// Input protocol, one event per line:
//
//	join <actor> [op]
//	cmd <actor> <raw command...>
//	block [@label] <raw command...>
//	console <raw command...>
//	quit
type Terminal struct {
	in       io.Reader
	out      io.Writer
	outMu    sync.Mutex
	renderer *Renderer
	logger   *slog.Logger

	mu         sync.Mutex
	privileged map[string]bool
}

type TerminalConfig struct {
	Logger   *slog.Logger
	In       io.Reader
	Out      io.Writer
	Renderer *Renderer
}

func NewTerminal(cfg TerminalConfig) *Terminal {
	if cfg.In == nil {
		cfg.In = os.Stdin
	}
	if cfg.Out == nil {
		cfg.Out = os.Stdout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Renderer == nil {
		cfg.Renderer = NewRenderer(cfg.Out, func(string) string { return "" })
	}
	return &Terminal{
		in:         cfg.In,
		out:        cfg.Out,
		renderer:   cfg.Renderer,
		logger:     cfg.Logger,
		privileged: make(map[string]bool),
	}
}

// GrantPrivilege marks actor as privileged for the rest of the session.
func (t *Terminal) GrantPrivilege(actor string) error {
	t.mu.Lock()
	t.privileged[strings.ToLower(actor)] = true
	t.mu.Unlock()
	t.printf("* %s is now privileged\n", actor)
	return nil
}

// IsPrivileged reports whether actor holds privilege in this session.
func (t *Terminal) IsPrivileged(actor string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.privileged[strings.ToLower(actor)]
}

func (t *Terminal) SendNotice(target string, key domain.NoticeKey, args ...any) error {
	return t.printf("[%s] %s\n", target, t.renderer.Render(key, args...))
}

// Cancelled reports an event the engine denied.
func (t *Terminal) Cancelled(ev domain.HostEvent) {
	who := ev.Actor
	if who == "" {
		who = "automated"
	}
	t.printf("x %s: %q cancelled\n", who, ev.Raw)
}

func (t *Terminal) printf(format string, args ...any) error {
	t.outMu.Lock()
	defer t.outMu.Unlock()
	_, err := fmt.Fprintf(t.out, format, args...)
	return err
}

// Run reads lines until EOF, "quit" or ctx is done, publishing one event per
// line.
func (t *Terminal) Run(ctx context.Context, pub Publisher) error {
	scanner := bufio.NewScanner(t.in)
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if !scanner.Scan() {
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if line == "quit" || line == "exit" {
			t.logger.Info("terminal host quit requested")
			return nil
		}

		ev, err := t.Parse(line)
		if err != nil {
			t.printf("! %v\n", err)
			continue
		}
		if !pub.Publish(ev) {
			t.printf("! event dropped: %s\n", ev.Type)
		}
	}
}

// Parse turns one protocol line into a host event.
func (t *Terminal) Parse(line string) (domain.HostEvent, error) {
	verb, rest, _ := strings.Cut(strings.TrimSpace(line), " ")
	rest = strings.TrimSpace(rest)
	now := time.Now()

	switch strings.ToLower(verb) {
	case "join":
		fields := strings.Fields(rest)
		if len(fields) == 0 || len(fields) > 2 || (len(fields) == 2 && !strings.EqualFold(fields[1], "op")) {
			return domain.HostEvent{}, fmt.Errorf("usage: join <actor> [op]")
		}
		return domain.HostEvent{
			Type:       domain.EventActorJoin,
			Actor:      fields[0],
			Privileged: len(fields) == 2,
			Timestamp:  now,
		}, nil

	case "cmd":
		actor, raw, _ := strings.Cut(rest, " ")
		raw = strings.TrimSpace(raw)
		if actor == "" || raw == "" {
			return domain.HostEvent{}, fmt.Errorf("usage: cmd <actor> <command>")
		}
		return domain.HostEvent{Type: domain.EventActorCommand, Actor: actor, Raw: raw, Timestamp: now}, nil

	case "block":
		if rest == "" {
			return domain.HostEvent{}, fmt.Errorf("usage: block [@label] <command>")
		}
		var label string
		if strings.HasPrefix(rest, "@") {
			first, tail, _ := strings.Cut(rest, " ")
			label, rest = strings.TrimPrefix(first, "@"), strings.TrimSpace(tail)
		}
		if rest == "" {
			return domain.HostEvent{}, fmt.Errorf("usage: block [@label] <command>")
		}
		return domain.HostEvent{Type: domain.EventAutomatedCommand, Actor: label, Raw: rest, Timestamp: now}, nil

	case "console":
		if rest == "" {
			return domain.HostEvent{}, fmt.Errorf("usage: console <command>")
		}
		if command.Normalize(rest) != AdminCommand {
			return domain.HostEvent{}, fmt.Errorf("console: only %s is handled here", AdminCommand)
		}
		return domain.HostEvent{
			Type:      domain.EventAdminAllow,
			Requester: domain.ConsoleRequester(),
			Raw:       rest,
			Args:      command.Args(rest),
			Timestamp: now,
		}, nil
	}
	return domain.HostEvent{}, fmt.Errorf("unknown input %q (join, cmd, block, console, quit)", verb)
}
