package policy

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"testing"

	"opguard/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// memPersister records what the store persisted.
type memPersister struct {
	mu      sync.Mutex
	blocked [][]string
	allowed [][]string
	failErr error
}

func (m *memPersister) PersistBlocked(blocked []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blocked = append(m.blocked, blocked)
	return m.failErr
}

func (m *memPersister) PersistAllowed(allowed []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.allowed = append(m.allowed, allowed)
	return m.failErr
}

func mustStore(t *testing.T, lists Lists, p Persister) *Store {
	t.Helper()
	s, err := New(lists, nil, p, testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func TestNew_SeedsDefaultBlocklist(t *testing.T) {
	p := &memPersister{}
	s := mustStore(t, Lists{}, p)

	blocked, _ := s.Len()
	if blocked != len(DefaultBlockedCommands) {
		t.Fatalf("expected %d blocked, got %d", len(DefaultBlockedCommands), blocked)
	}
	for _, cmd := range DefaultBlockedCommands {
		if !s.IsBlocked(cmd) {
			t.Errorf("expected %q blocked", cmd)
		}
	}
	if len(p.blocked) != 1 || len(p.blocked[0]) != len(DefaultBlockedCommands) {
		t.Fatalf("expected default blocklist persisted once, got %v", p.blocked)
	}
}

func TestNew_ConfiguredBlocklistNotPersisted(t *testing.T) {
	p := &memPersister{}
	s := mustStore(t, Lists{Blocked: []string{"/Stop", "minecraft:op", "stop", "  "}}, p)

	if !s.IsBlocked("stop") || !s.IsBlocked("op") {
		t.Fatal("expected normalized entries to be blocked")
	}
	if s.IsBlocked("kick") {
		t.Fatal("kick is not configured")
	}
	blocked, _ := s.Len()
	if blocked != 2 {
		t.Fatalf("expected 2 distinct entries, got %d", blocked)
	}
	if len(p.blocked) != 0 {
		t.Fatal("configured blocklist should not be persisted back")
	}
}

func TestNew_SeedPersistFailure(t *testing.T) {
	p := &memPersister{failErr: errors.New("disk full")}
	s, err := New(Lists{}, nil, p, testLogger())
	var perr *domain.PersistenceError
	if !errors.As(err, &perr) {
		t.Fatalf("expected PersistenceError, got %v", err)
	}
	if s == nil || !s.IsBlocked("stop") {
		t.Fatal("store should still be usable after persistence failure")
	}
}

func TestIsBlocked_EmptyToken(t *testing.T) {
	s := mustStore(t, Lists{Blocked: []string{"stop"}}, nil)
	if s.IsBlocked("") {
		t.Fatal("empty token must never be blocked")
	}
}

func TestIsAllowListed_CaseInsensitive(t *testing.T) {
	s := mustStore(t, Lists{Allowed: []string{"Alice", "ALICE", " bob "}}, nil)
	if !s.IsAllowListed("alice") || !s.IsAllowListed("ALICE") || !s.IsAllowListed("Bob") {
		t.Fatal("expected case-insensitive matches")
	}
	_, allowed := s.Len()
	if allowed != 2 {
		t.Fatalf("expected duplicates collapsed to 2, got %d", allowed)
	}
	if s.IsAllowListed("") {
		t.Fatal("empty actor must not be allow-listed")
	}
}

func TestTryAddAllowListed_SetLike(t *testing.T) {
	p := &memPersister{}
	s := mustStore(t, Lists{Blocked: []string{"stop"}}, p)

	res, err := s.TryAddAllowListed("Alice")
	if err != nil || res != Added {
		t.Fatalf("first add: %v %v", res, err)
	}
	res, err = s.TryAddAllowListed("aLiCe")
	if err != nil || res != AlreadyPresent {
		t.Fatalf("second add: %v %v", res, err)
	}
	_, allowed := s.Len()
	if allowed != 1 {
		t.Fatalf("expected size 1, got %d", allowed)
	}
	if len(p.allowed) != 1 || p.allowed[0][0] != "alice" {
		t.Fatalf("expected one persist of [alice], got %v", p.allowed)
	}
}

func TestTryAddAllowListed_Empty(t *testing.T) {
	s := mustStore(t, Lists{Blocked: []string{"stop"}}, nil)
	if _, err := s.TryAddAllowListed("  "); !errors.Is(err, domain.ErrBadRequest) {
		t.Fatalf("expected ErrBadRequest, got %v", err)
	}
}

func TestTryAddAllowListed_PersistFailureKeepsInsert(t *testing.T) {
	p := &memPersister{failErr: errors.New("read-only fs")}
	s := mustStore(t, Lists{Blocked: []string{"stop"}}, p)

	res, err := s.TryAddAllowListed("carol")
	if res != Added {
		t.Fatalf("expected Added, got %v", res)
	}
	var perr *domain.PersistenceError
	if !errors.As(err, &perr) || perr.Target != "config" {
		t.Fatalf("expected config PersistenceError, got %v", err)
	}
	if !s.IsAllowListed("carol") {
		t.Fatal("in-memory insert should survive persistence failure")
	}
}

func TestSnapshot_IsCopy(t *testing.T) {
	s := mustStore(t, Lists{Blocked: []string{"stop"}, Allowed: []string{"alice"}}, nil)
	snap := s.Snapshot()
	snap.Allowed[0] = "mallory"
	snap.Blocked[0] = "nothing"
	if !s.IsAllowListed("alice") || s.IsAllowListed("mallory") || !s.IsBlocked("stop") {
		t.Fatal("mutating a snapshot must not affect the store")
	}
}

func TestFlush(t *testing.T) {
	p := &memPersister{}
	s := mustStore(t, Lists{Blocked: []string{"stop"}, Allowed: []string{"alice"}}, p)
	if err := s.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if len(p.allowed) != 1 || p.allowed[0][0] != "alice" {
		t.Fatalf("unexpected flush payload %v", p.allowed)
	}
}

func TestConcurrentReadsDuringAdds(t *testing.T) {
	s := mustStore(t, Lists{Blocked: []string{"stop"}}, &memPersister{})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 500; j++ {
				s.IsAllowListed(fmt.Sprintf("actor-%d", j%50))
				s.IsBlocked("stop")
			}
		}(i)
	}
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			if _, err := s.TryAddAllowListed(fmt.Sprintf("Actor-%d", n)); err != nil {
				t.Errorf("add: %v", err)
			}
		}(i)
	}
	wg.Wait()

	_, allowed := s.Len()
	if allowed != 50 {
		t.Fatalf("expected 50 allow-listed, got %d", allowed)
	}
	if got := len(s.Snapshot().Allowed); got != 50 {
		t.Fatalf("ordered list out of sync with set: %d", got)
	}
}
