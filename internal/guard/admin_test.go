package guard

import (
	"context"
	"errors"
	"testing"

	"opguard/internal/domain"
)

type sentNotice struct {
	target string
	key    domain.NoticeKey
	args   []any
}

type fakeHost struct {
	granted  []string
	notices  []sentNotice
	grantErr error
}

func (h *fakeHost) GrantPrivilege(actor string) error {
	if h.grantErr != nil {
		return h.grantErr
	}
	h.granted = append(h.granted, actor)
	return nil
}

func (h *fakeHost) SendNotice(target string, key domain.NoticeKey, args ...any) error {
	h.notices = append(h.notices, sentNotice{target: target, key: key, args: args})
	return nil
}

func TestAddAllowListed_BadRequest(t *testing.T) {
	e, _ := newEngine(t, []string{"alice"}, Options{})
	ctx := context.Background()
	for _, args := range [][]string{nil, {}, {"a", "b"}, {"  "}} {
		res := e.AddAllowListed(ctx, domain.ConsoleRequester(), args)
		if res.Status != domain.AdminBadRequest || res.Notice.Key != domain.NoticeUsage {
			t.Errorf("args %q: got %+v", args, res)
		}
	}
}

func TestAddAllowListed_UsageCheckedBeforePermission(t *testing.T) {
	e, _ := newEngine(t, nil, Options{})
	res := e.AddAllowListed(context.Background(), domain.Requester{Actor: "mallory"}, nil)
	if res.Status != domain.AdminBadRequest {
		t.Fatalf("expected bad request before permission check, got %s", res.Status)
	}
}

func TestAddAllowListed_DeniedForUnlisted(t *testing.T) {
	e, _ := newEngine(t, nil, Options{})
	res := e.AddAllowListed(context.Background(), domain.Requester{Actor: "mallory"}, []string{"mallory"})
	if res.Status != domain.AdminDenied || res.Notice.Key != domain.NoticeNoPermission {
		t.Fatalf("got %+v", res)
	}
}

func TestAddAllowListed_ConsoleNeverDenied(t *testing.T) {
	e, _ := newEngine(t, nil, Options{})
	res := e.AddAllowListed(context.Background(), domain.ConsoleRequester(), []string{"Steve"})
	if res.Status != domain.AdminAdded {
		t.Fatalf("got %+v", res)
	}
	if res.Notice.Key != domain.NoticePlayerAdded || len(res.Notice.Args) != 1 || res.Notice.Args[0] != "Steve" {
		t.Fatalf("unexpected notice: %+v", res.Notice)
	}
}

func TestAddAllowListed_SetLike(t *testing.T) {
	e, _ := newEngine(t, []string{"alice"}, Options{})
	ctx := context.Background()
	alice := domain.Requester{Actor: "Alice"}

	if res := e.AddAllowListed(ctx, alice, []string{"Bob"}); res.Status != domain.AdminAdded {
		t.Fatalf("first add: %+v", res)
	}
	res := e.AddAllowListed(ctx, alice, []string{"BOB"})
	if res.Status != domain.AdminAlreadyPresent || res.Notice.Key != domain.NoticePlayerExists {
		t.Fatalf("second add: %+v", res)
	}
	if _, allowed := e.policy.Len(); allowed != 2 {
		t.Fatalf("expected 2 allow-listed actors, got %d", allowed)
	}
}

func TestAddAllowListed_PersistFailureStillAdded(t *testing.T) {
	store := newStore(t, []string{"op"}, nil, &memPersister{err: errors.New("read-only fs")})
	e := NewEngine(store, &memSink{}, Options{}, testLogger())

	res := e.AddAllowListed(context.Background(), domain.ConsoleRequester(), []string{"bob"})
	if res.Status != domain.AdminAdded {
		t.Fatalf("persistence failure must not change the status: %+v", res)
	}
	if !store.IsAllowListed("bob") {
		t.Fatal("in-memory insert must stay applied")
	}
}

func TestReply_TargetsRequester(t *testing.T) {
	e, _ := newEngine(t, nil, Options{})
	host := &fakeHost{}
	ctx := context.Background()

	req := domain.ConsoleRequester()
	res := e.AddAllowListed(ctx, req, []string{"x"})
	if err := Reply(host, req, res, testLogger()); err != nil {
		t.Fatal(err)
	}
	req = domain.Requester{Actor: "mallory"}
	res = e.AddAllowListed(ctx, req, []string{"y"})
	Reply(host, req, res, testLogger())

	if len(host.notices) != 2 {
		t.Fatalf("expected 2 notices, got %d", len(host.notices))
	}
	if host.notices[0].target != domain.ConsoleTarget || host.notices[0].key != domain.NoticePlayerAdded {
		t.Errorf("console reply: %+v", host.notices[0])
	}
	if host.notices[1].target != "mallory" || host.notices[1].key != domain.NoticeNoPermission {
		t.Errorf("actor reply: %+v", host.notices[1])
	}
}
