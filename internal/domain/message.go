package domain

import "time"

// NoticeKey selects a localized message template. The host renders it.
type NoticeKey string

const (
	NoticeOpGrant        NoticeKey = "op-grant"
	NoticeCommandBlocked NoticeKey = "command-blocked"
	NoticePlayerAdded    NoticeKey = "player-added"
	NoticePlayerExists   NoticeKey = "player-exists"
	NoticeNoPermission   NoticeKey = "no-permission"
	NoticeUsage          NoticeKey = "usage"
)

// ConsoleTarget addresses notices to the server console.
const ConsoleTarget = "@console"

// Notice is a message key plus positional format arguments.
type Notice struct {
	Key  NoticeKey
	Args []any
}

// EventType names a host event.
type EventType string

const (
	EventActorJoin        EventType = "actor.join"
	EventActorCommand     EventType = "actor.command"
	EventAutomatedCommand EventType = "automated.command"
	EventAdminAllow       EventType = "admin.allowplayer"
)

// HostEvent is one event raised by the host environment.
type HostEvent struct {
	Type EventType
	// Actor is the actor name for actor events, or the source label for
	// automated commands.
	Actor      string
	Privileged bool
	Raw        string
	Requester  Requester
	Args       []string
	Timestamp  time.Time
}
