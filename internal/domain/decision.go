package domain

type Verdict string

const (
	VerdictAllow Verdict = "allow"
	VerdictDeny  Verdict = "deny"
)

// EffectKind names a side effect the engine asks the host to perform.
type EffectKind string

const (
	EffectGrantPrivilege EffectKind = "grant_privilege"
	EffectSendNotice     EffectKind = "send_notice"
)

// Effect is a side effect requested from the host. Target is an actor name
// or ConsoleTarget.
type Effect struct {
	Kind   EffectKind
	Target string
	Notice Notice
}

// Outcome is the result of one host event: the decision plus the side effects
// the host should apply.
type Outcome struct {
	Verdict Verdict
	Cancel  bool
	Effects []Effect
}

// Allowed reports whether the event may proceed.
func (o Outcome) Allowed() bool { return o.Verdict != VerdictDeny }

// Allow is the no-op outcome.
func Allow() Outcome { return Outcome{Verdict: VerdictAllow} }

// AdminStatus is the result of an allow-list administration request.
type AdminStatus string

const (
	AdminAdded          AdminStatus = "added"
	AdminAlreadyPresent AdminStatus = "already_present"
	AdminDenied         AdminStatus = "denied"
	AdminBadRequest     AdminStatus = "bad_request"
)

type AdminResult struct {
	Status AdminStatus
	// DisplayName is the name as supplied by the requester, set for AdminAdded.
	DisplayName string
	Notice      Notice
}

// Requester identifies who issued an administration command. The console
// is always authorized.
type Requester struct {
	Actor   string
	Console bool
}

// ConsoleRequester returns the non-interactive console requester.
func ConsoleRequester() Requester { return Requester{Console: true} }

// Target returns the notice target for the requester.
func (r Requester) Target() string {
	if r.Console {
		return ConsoleTarget
	}
	return r.Actor
}
