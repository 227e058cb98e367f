package host

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/muesli/termenv"

	"opguard/internal/bus"
	"opguard/internal/domain"
	"opguard/internal/guard"
	"opguard/internal/policy"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

type memSink struct {
	mu   sync.Mutex
	recs []domain.AuditRecord
}

func (m *memSink) Record(_ context.Context, rec domain.AuditRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recs = append(m.recs, rec)
}

// syncPublisher dispatches each event inline so output order is stable.
type syncPublisher struct {
	d *bus.Dispatcher
}

func (p syncPublisher) Publish(ev domain.HostEvent) bool {
	p.d.Dispatch(context.Background(), ev)
	return true
}

type harness struct {
	term  *Terminal
	out   *bytes.Buffer
	sink  *memSink
	store *policy.Store
	pub   syncPublisher
}

func newHarness(t *testing.T, input string, allowed []string, blockAutomated bool) *harness {
	t.Helper()
	store, err := policy.New(policy.Lists{Blocked: []string{"op", "ban", "stop"}, Allowed: allowed}, nil, nil, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	sink := &memSink{}
	engine := guard.NewEngine(store, sink, guard.Options{BlockAutomated: blockAutomated}, testLogger())

	out := &bytes.Buffer{}
	term := NewTerminal(TerminalConfig{
		Logger:   testLogger(),
		In:       strings.NewReader(input),
		Out:      out,
		Renderer: NewRendererWithProfile(out, templates("en"), termenv.Ascii),
	})
	d := bus.NewDispatcher(16, testLogger())
	Register(d, engine, term, testLogger())
	return &harness{term: term, out: out, sink: sink, store: store, pub: syncPublisher{d: d}}
}

func TestParse(t *testing.T) {
	term := NewTerminal(TerminalConfig{In: strings.NewReader(""), Out: &bytes.Buffer{}})
	tests := []struct {
		line    string
		typ     domain.EventType
		actor   string
		raw     string
		wantErr bool
	}{
		{line: "join Steve", typ: domain.EventActorJoin, actor: "Steve"},
		{line: "join Steve op", typ: domain.EventActorJoin, actor: "Steve"},
		{line: "join Steve admin", wantErr: true},
		{line: "join", wantErr: true},
		{line: "cmd Steve /op Alex", typ: domain.EventActorCommand, actor: "Steve", raw: "/op Alex"},
		{line: "cmd Steve", wantErr: true},
		{line: "block /stop", typ: domain.EventAutomatedCommand, raw: "/stop"},
		{line: "block @Minecart say hi", typ: domain.EventAutomatedCommand, actor: "Minecart", raw: "say hi"},
		{line: "block @Minecart", wantErr: true},
		{line: "console allowplayer Bob", typ: domain.EventAdminAllow, raw: "allowplayer Bob"},
		{line: "console /minecraft:allowplayer Bob", typ: domain.EventAdminAllow, raw: "/minecraft:allowplayer Bob"},
		{line: "console stop", wantErr: true},
		{line: "dance", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			ev, err := term.Parse(tt.line)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %+v", ev)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if ev.Type != tt.typ || ev.Actor != tt.actor || ev.Raw != tt.raw {
				t.Fatalf("got %+v", ev)
			}
		})
	}
}

func TestParse_ConsoleRequester(t *testing.T) {
	term := NewTerminal(TerminalConfig{In: strings.NewReader(""), Out: &bytes.Buffer{}})
	ev, err := term.Parse("console allowplayer Bob")
	if err != nil {
		t.Fatal(err)
	}
	if !ev.Requester.Console || len(ev.Args) != 1 || ev.Args[0] != "Bob" {
		t.Fatalf("got %+v", ev)
	}
}

func TestTerminal_JoinGrantsOnce(t *testing.T) {
	h := newHarness(t, "join Steve\njoin Steve\njoin Alex op\n", nil, false)
	if err := h.term.Run(context.Background(), h.pub); err != nil {
		t.Fatal(err)
	}
	out := h.out.String()
	if strings.Count(out, "Steve is now privileged") != 1 {
		t.Fatalf("expected one grant for Steve:\n%s", out)
	}
	if strings.Contains(out, "Alex is now privileged") {
		t.Fatalf("already privileged actor must not be granted:\n%s", out)
	}
	if !strings.Contains(out, "[Steve] You have been granted OP status") {
		t.Fatalf("grant notice missing:\n%s", out)
	}
	if len(h.sink.recs) != 1 {
		t.Fatalf("expected one OP_GRANT record, got %d", len(h.sink.recs))
	}
}

func TestTerminal_QueuedJoinsGrantOnce(t *testing.T) {
	h := newHarness(t, "join alice\njoin alice\njoin ALICE\n", nil, false)
	q := bus.NewQueue(16, testLogger())
	if err := h.term.Run(context.Background(), q); err != nil {
		t.Fatal(err)
	}
	q.Close()
	h.pub.d.Serve(context.Background(), q, 4)

	if got := strings.Count(h.out.String(), "is now privileged"); got != 1 {
		t.Fatalf("expected one grant, got %d:\n%s", got, h.out.String())
	}
	if len(h.sink.recs) != 1 || h.sink.recs[0].Kind != domain.KindOpGrant {
		t.Fatalf("expected one OP_GRANT record, got %+v", h.sink.recs)
	}
}

func TestTerminal_ScenarioAllowPlayer(t *testing.T) {
	input := strings.Join([]string{
		"cmd Bob /ban Carol",
		"cmd Mallory /allowplayer Mallory",
		"cmd Alice /allowplayer Bob",
		"cmd Alice /allowplayer bob",
		"cmd Bob /ban Carol",
		"block /minecraft:stop",
		"console allowplayer",
		"quit",
		"cmd Bob /op never-read",
	}, "\n")
	h := newHarness(t, input, []string{"alice"}, true)
	if err := h.term.Run(context.Background(), h.pub); err != nil {
		t.Fatal(err)
	}

	out := h.out.String()
	for _, want := range []string{
		`x Bob: "/ban Carol" cancelled`,
		"[Bob] This command is blocked!",
		"[Mallory] You do not have permission!",
		"[Alice] Player Bob added to the allow-list!",
		"[Alice] Player is already on the allow-list!",
		`x automated: "/minecraft:stop" cancelled`,
		"[@console] Usage: /allowplayer <name>",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in output:\n%s", want, out)
		}
	}
	if strings.Count(out, "cancelled") != 2 {
		t.Errorf("bob's second /ban must pass:\n%s", out)
	}
	if strings.Contains(out, "never-read") {
		t.Error("input after quit must be ignored")
	}
	if !h.store.IsAllowListed("BOB") {
		t.Error("bob should be allow-listed")
	}

	kinds := make([]domain.AuditKind, 0, len(h.sink.recs))
	for _, r := range h.sink.recs {
		kinds = append(kinds, r.Kind)
	}
	if len(kinds) != 2 || kinds[0] != domain.KindBlockedCmd || kinds[1] != domain.KindBlockedCmdAutomated {
		t.Fatalf("unexpected audit kinds: %v", kinds)
	}
	if h.sink.recs[1].Source != guard.DefaultAutomatedLabel {
		t.Errorf("automated source = %q", h.sink.recs[1].Source)
	}
}

func TestTerminal_BadLineReported(t *testing.T) {
	h := newHarness(t, "dance\n", nil, false)
	if err := h.term.Run(context.Background(), h.pub); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(h.out.String(), "! unknown input") {
		t.Fatalf("got %q", h.out.String())
	}
}

type rejectAll struct{}

func (rejectAll) Publish(domain.HostEvent) bool { return false }

func TestTerminal_DroppedEvent(t *testing.T) {
	h := newHarness(t, "join Steve\n", nil, false)
	h.term.Run(context.Background(), rejectAll{})
	if !strings.Contains(h.out.String(), "! event dropped: actor.join") {
		t.Fatalf("got %q", h.out.String())
	}
}
