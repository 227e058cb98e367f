package host

import (
	"context"
	"log/slog"

	"opguard/internal/bus"
	"opguard/internal/command"
	"opguard/internal/domain"
	"opguard/internal/guard"
)

// AdminCommand is the verb of the allow-list administration command.
const AdminCommand = "allowplayer"

// Environment is a host that can also report cancelled events.
type Environment interface {
	domain.Host
	Cancelled(ev domain.HostEvent)
}

// PrivilegeState is implemented by environments that remember which actors
// they have made privileged.
type PrivilegeState interface {
	IsPrivileged(actor string) bool
}

type envKey struct{}

// WithEnvironment makes handlers registered by Register apply effects to env
// instead of their default environment for events dispatched with ctx.
func WithEnvironment(ctx context.Context, env Environment) context.Context {
	return context.WithValue(ctx, envKey{}, env)
}

func environment(ctx context.Context, fallback Environment) Environment {
	if env, ok := ctx.Value(envKey{}).(Environment); ok && env != nil {
		return env
	}
	return fallback
}

// Register wires the engine into d for every host event type. Effects are
// applied to defaultEnv, or to the environment carried by the dispatch context.
func Register(d *bus.Dispatcher, e *guard.Engine, defaultEnv Environment, logger *slog.Logger) {
	d.On(domain.EventActorJoin, func(ctx context.Context, ev domain.HostEvent) domain.Outcome {
		env := environment(ctx, defaultEnv)
		privileged := ev.Privileged
		if ps, ok := env.(PrivilegeState); ok && ps.IsPrivileged(ev.Actor) {
			privileged = true
		}
		out := e.Join(ctx, guard.JoinEvent{Actor: ev.Actor, Privileged: privileged})
		guard.Apply(env, out, logger)
		return out
	})

	d.On(domain.EventActorCommand, func(ctx context.Context, ev domain.HostEvent) domain.Outcome {
		env := environment(ctx, defaultEnv)
		out := e.Command(ctx, guard.CommandEvent{Actor: ev.Actor, Raw: ev.Raw})
		guard.Apply(env, out, logger)
		if out.Cancel {
			env.Cancelled(ev)
			return out
		}
		// A permitted allowplayer typed by an actor reaches the admin operation.
		if command.Normalize(ev.Raw) == AdminCommand {
			req := domain.Requester{Actor: ev.Actor}
			res := e.AddAllowListed(ctx, req, command.Args(ev.Raw))
			guard.Reply(env, req, res, logger)
		}
		return out
	})

	d.On(domain.EventAutomatedCommand, func(ctx context.Context, ev domain.HostEvent) domain.Outcome {
		env := environment(ctx, defaultEnv)
		out := e.AutomatedCommand(ctx, guard.AutomatedEvent{Source: ev.Actor, Raw: ev.Raw})
		guard.Apply(env, out, logger)
		if out.Cancel {
			env.Cancelled(ev)
		}
		return out
	})

	d.On(domain.EventAdminAllow, func(ctx context.Context, ev domain.HostEvent) domain.Outcome {
		env := environment(ctx, defaultEnv)
		res := e.AddAllowListed(ctx, ev.Requester, ev.Args)
		guard.Reply(env, ev.Requester, res, logger)
		return domain.Allow()
	})
}
