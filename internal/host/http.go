package host

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"opguard/internal/command"
	"opguard/internal/domain"
)

// Dispatcher decides one host event synchronously.
type Dispatcher interface {
	Dispatch(ctx context.Context, ev domain.HostEvent) domain.Outcome
}

// HTTPConfig configures the HTTP host.
type HTTPConfig struct {
	Addr     string
	Path     string // decision URL path (default: /v1/events)
	Secret   string // HMAC secret for verifying request signatures
	Renderer *Renderer
	Logger   *slog.Logger
}

// HTTPHost lets a remote game server submit host events and apply the
// returned effects itself. Every request is decided before the response is
// written, so the caller can cancel the command in time.
type HTTPHost struct {
	addr     string
	path     string
	secret   string
	renderer *Renderer
	logger   *slog.Logger
	server   *http.Server
}

// EventRequest is the JSON body of a decision request.
type EventRequest struct {
	Type       domain.EventType `json:"type"`
	Actor      string           `json:"actor,omitempty"`
	Privileged bool             `json:"privileged,omitempty"`
	Command    string           `json:"command,omitempty"`
	Source     string           `json:"source,omitempty"`  // automated source label
	Console    bool             `json:"console,omitempty"` // admin request from the console
	Args       []string         `json:"args,omitempty"`
}

// NoticeResponse is a notice the caller should deliver. Text keeps &-codes.
type NoticeResponse struct {
	Target string           `json:"target"`
	Key    domain.NoticeKey `json:"key"`
	Text   string           `json:"text"`
}

// EventResponse is the decision and the effects to apply.
type EventResponse struct {
	Verdict domain.Verdict   `json:"verdict"`
	Cancel  bool             `json:"cancel"`
	Grants  []string         `json:"grants,omitempty"`
	Notices []NoticeResponse `json:"notices,omitempty"`
}

func NewHTTPHost(cfg HTTPConfig) *HTTPHost {
	if cfg.Path == "" {
		cfg.Path = "/v1/events"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Renderer == nil {
		cfg.Renderer = NewRenderer(io.Discard, func(string) string { return "" })
	}
	return &HTTPHost{
		addr:     cfg.Addr,
		path:     cfg.Path,
		secret:   cfg.Secret,
		renderer: cfg.Renderer,
		logger:   cfg.Logger,
	}
}

func (h *HTTPHost) Name() string { return "http" }

// Handler returns the decision endpoint for d.
func (h *HTTPHost) Handler(d Dispatcher) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(h.path, func(rw http.ResponseWriter, r *http.Request) {
		h.handleEvent(rw, r, d)
	})
	return mux
}

// Start serves decisions until ctx is done.
func (h *HTTPHost) Start(ctx context.Context, d Dispatcher) error {
	h.server = &http.Server{
		Addr:              h.addr,
		Handler:           h.Handler(d),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	h.logger.Info("http host starting", "addr", h.addr, "path", h.path, "signed", h.secret != "")

	errCh := make(chan error, 1)
	go func() {
		if err := h.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		h.logger.Info("http host shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return h.server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return fmt.Errorf("http host: %w", err)
	}
}

func (h *HTTPHost) handleEvent(rw http.ResponseWriter, r *http.Request, d Dispatcher) {
	if r.Method != http.MethodPost {
		http.Error(rw, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 64<<10))
	if err != nil {
		http.Error(rw, "Bad Request", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	if h.secret != "" {
		sig := r.Header.Get("X-Signature-256")
		if sig == "" {
			http.Error(rw, "Missing signature", http.StatusUnauthorized)
			return
		}
		if !verifyHMAC(body, h.secret, sig) {
			http.Error(rw, "Invalid signature", http.StatusForbidden)
			return
		}
	}

	var req EventRequest
	if err := json.Unmarshal(body, &req); err != nil {
		http.Error(rw, "Invalid JSON", http.StatusBadRequest)
		return
	}
	ev, err := req.event()
	if err != nil {
		http.Error(rw, err.Error(), http.StatusBadRequest)
		return
	}

	rec := &effectRecorder{renderer: h.renderer}
	out := d.Dispatch(WithEnvironment(r.Context(), rec), ev)

	h.logger.Debug("http event decided",
		"type", string(ev.Type),
		"actor", ev.Actor,
		"verdict", string(out.Verdict),
	)

	resp := rec.response(out)
	rw.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(rw).Encode(resp); err != nil {
		h.logger.Error("write http response", "err", err)
	}
}

// event validates the request and converts it to a host event.
func (req EventRequest) event() (domain.HostEvent, error) {
	ev := domain.HostEvent{Type: req.Type, Timestamp: time.Now()}
	switch req.Type {
	case domain.EventActorJoin:
		if req.Actor == "" {
			return ev, errors.New("actor is required")
		}
		ev.Actor, ev.Privileged = req.Actor, req.Privileged

	case domain.EventActorCommand:
		if req.Actor == "" || req.Command == "" {
			return ev, errors.New("actor and command are required")
		}
		ev.Actor, ev.Raw = req.Actor, req.Command

	case domain.EventAutomatedCommand:
		if req.Command == "" {
			return ev, errors.New("command is required")
		}
		ev.Actor, ev.Raw = req.Source, req.Command

	case domain.EventAdminAllow:
		switch {
		case req.Console:
			ev.Requester = domain.ConsoleRequester()
		case req.Actor != "":
			ev.Requester = domain.Requester{Actor: req.Actor}
		default:
			return ev, errors.New("actor or console is required")
		}
		ev.Raw, ev.Args = req.Command, req.Args
		if ev.Args == nil {
			ev.Args = command.Args(req.Command)
		}

	default:
		return ev, fmt.Errorf("unknown event type %q", req.Type)
	}
	return ev, nil
}

// effectRecorder collects the effects of one request for the response.
type effectRecorder struct {
	renderer *Renderer

	mu      sync.Mutex
	grants  []string
	notices []NoticeResponse
}

func (e *effectRecorder) GrantPrivilege(actor string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.grants = append(e.grants, actor)
	return nil
}

func (e *effectRecorder) SendNotice(target string, key domain.NoticeKey, args ...any) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.notices = append(e.notices, NoticeResponse{Target: target, Key: key, Text: e.renderer.Format(key, args...)})
	return nil
}

// Cancelled is reported through EventResponse.Cancel.
func (e *effectRecorder) Cancelled(domain.HostEvent) {}

func (e *effectRecorder) response(out domain.Outcome) EventResponse {
	e.mu.Lock()
	defer e.mu.Unlock()
	return EventResponse{
		Verdict: out.Verdict,
		Cancel:  out.Cancel,
		Grants:  e.grants,
		Notices: e.notices,
	}
}

// verifyHMAC verifies the HMAC-SHA256 signature of the body.
func verifyHMAC(body []byte, secret, signature string) bool {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := "sha256=" + hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}
