// Package policy holds the blocked-command set and the allow-listed actor set.
package policy

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"opguard/internal/command"
	"opguard/internal/domain"
)

// DefaultBlockedCommands seeds the blocklist when configuration supplies none.
var DefaultBlockedCommands = []string{
	"ban", "ban-ip", "banlist", "kick", "stop",
	"op", "deop", "pardon", "pardon-ip", "whitelist",
	"reload", "restart", "save-all", "save-off", "save-on",
	"timings", "kill",
}

// Persister writes the lists back to durable configuration.
type Persister interface {
	PersistBlocked(blocked []string) error
	PersistAllowed(allowed []string) error
}

type AddResult int

const (
	Added AddResult = iota + 1
	AlreadyPresent
)

func (r AddResult) String() string {
	switch r {
	case Added:
		return "added"
	case AlreadyPresent:
		return "already_present"
	default:
		return "unknown"
	}
}

// Lists is the configured content of the store.
type Lists struct {
	Blocked []string
	Allowed []string
}

// snapshot is immutable once published.
type snapshot struct {
	blocked      map[string]struct{}
	blockedOrder []string
	allowed      map[string]struct{}
	allowedOrder []string
}

// Store is safe for concurrent use. Readers load the current snapshot without
// locking; writers serialize on mu and publish a new snapshot.
type Store struct {
	current   atomic.Pointer[snapshot]
	mu        sync.Mutex
	persister Persister
	logger    *slog.Logger
}

// New builds a Store from configured lists. Blocked entries are normalized
// with norm (nil means the default normalizer). An empty blocklist is seeded
// with DefaultBlockedCommands and persisted back.
func New(lists Lists, norm *command.Normalizer, persister Persister, logger *slog.Logger) (*Store, error) {
	if norm == nil {
		norm = command.NewNormalizer(nil)
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{persister: persister, logger: logger}

	snap := &snapshot{
		blocked: make(map[string]struct{}),
		allowed: make(map[string]struct{}),
	}
	for _, entry := range lists.Blocked {
		token := norm.Normalize(entry)
		if token == "" {
			continue
		}
		if _, dup := snap.blocked[token]; dup {
			continue
		}
		snap.blocked[token] = struct{}{}
		snap.blockedOrder = append(snap.blockedOrder, token)
	}
	for _, entry := range lists.Allowed {
		actor := canonical(entry)
		if actor == "" {
			continue
		}
		if _, dup := snap.allowed[actor]; dup {
			continue
		}
		snap.allowed[actor] = struct{}{}
		snap.allowedOrder = append(snap.allowedOrder, actor)
	}

	seeded := false
	if len(snap.blockedOrder) == 0 {
		for _, token := range DefaultBlockedCommands {
			snap.blocked[token] = struct{}{}
		}
		snap.blockedOrder = append([]string(nil), DefaultBlockedCommands...)
		seeded = true
	}
	s.current.Store(snap)

	if seeded {
		logger.Info("blocked-commands empty, seeded defaults", "count", len(snap.blockedOrder))
		if persister != nil {
			if err := persister.PersistBlocked(append([]string(nil), snap.blockedOrder...)); err != nil {
				return s, domain.Persistence("config", fmt.Errorf("blocked-commands: %w", err))
			}
		}
	}
	return s, nil
}

// IsBlocked reports whether token is in the blocked-command set. The empty
// token is never blocked.
func (s *Store) IsBlocked(token string) bool {
	if token == "" {
		return false
	}
	_, ok := s.current.Load().blocked[token]
	return ok
}

// IsAllowListed reports whether actor is allow-listed, ignoring case.
func (s *Store) IsAllowListed(actor string) bool {
	actor = canonical(actor)
	if actor == "" {
		return false
	}
	_, ok := s.current.Load().allowed[actor]
	return ok
}

// TryAddAllowListed inserts actor if absent. On Added the allow-list is
// persisted before returning; a persistence failure is returned as a
// *domain.PersistenceError while the insert stays applied.
func (s *Store) TryAddAllowListed(actor string) (AddResult, error) {
	actor = canonical(actor)
	if actor == "" {
		return 0, fmt.Errorf("empty actor: %w", domain.ErrBadRequest)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	old := s.current.Load()
	if _, ok := old.allowed[actor]; ok {
		return AlreadyPresent, nil
	}

	next := &snapshot{
		blocked:      old.blocked,
		blockedOrder: old.blockedOrder,
		allowed:      make(map[string]struct{}, len(old.allowed)+1),
		allowedOrder: make([]string, 0, len(old.allowedOrder)+1),
	}
	for k := range old.allowed {
		next.allowed[k] = struct{}{}
	}
	next.allowed[actor] = struct{}{}
	next.allowedOrder = append(append(next.allowedOrder, old.allowedOrder...), actor)
	s.current.Store(next)
	s.logger.Info("actor allow-listed", "actor", actor, "size", len(next.allowedOrder))

	if s.persister != nil {
		if err := s.persister.PersistAllowed(append([]string(nil), next.allowedOrder...)); err != nil {
			return Added, domain.Persistence("config", fmt.Errorf("allowed-players: %w", err))
		}
	}
	return Added, nil
}

// Snapshot returns copies of both lists in insertion order.
func (s *Store) Snapshot() Lists {
	snap := s.current.Load()
	return Lists{
		Blocked: append([]string(nil), snap.blockedOrder...),
		Allowed: append([]string(nil), snap.allowedOrder...),
	}
}

// Len returns the sizes of the blocked and allowed sets.
func (s *Store) Len() (blocked, allowed int) {
	snap := s.current.Load()
	return len(snap.blocked), len(snap.allowed)
}

// Flush persists the current allow-list. Called at shutdown.
func (s *Store) Flush() error {
	if s.persister == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.persister.PersistAllowed(append([]string(nil), s.current.Load().allowedOrder...)); err != nil {
		return domain.Persistence("config", err)
	}
	return nil
}

func canonical(actor string) string {
	return strings.ToLower(strings.TrimSpace(actor))
}
