package domain

// Host is the environment the engine enforces policy for. It applies the
// side effects requested in an Outcome.
type Host interface {
	GrantPrivilege(actor string) error
	SendNotice(target string, key NoticeKey, args ...any) error
}
