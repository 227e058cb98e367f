package main

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"opguard/internal/audit"
	"opguard/internal/bus"
	"opguard/internal/config"
	"opguard/internal/host"
	"opguard/internal/metrics"
)

func serveCmd() *cobra.Command {
	var noTerminal bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the policy engine against the terminal host",
		Long: `Reads host events from stdin, one per line:

  join <actor> [op]
  cmd <actor> <command...>
  block [@label] <command...>
  console <command...>
  quit

With host.http.enabled, a game server can also POST events to host.http.path
and receive the decision with the effects to apply.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(noTerminal)
		},
	}
	cmd.Flags().BoolVar(&noTerminal, "no-terminal", false, "do not read stdin; serve the http host until a signal")
	return cmd
}

func runServe(noTerminal bool) error {
	cfg, cfgPath, err := loadConfig()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		logger.Error("data dir unavailable, audit outputs under it are disabled", "dir", cfg.DataDir, "err", err)
	}

	if noTerminal && !cfg.Host.HTTP.Enabled {
		return errors.New("--no-terminal needs host.http.enabled")
	}

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(sigCtx)
	defer cancel()

	ps, norm, err := newPolicy(cfg, config.NewListPersister(cfgPath))
	if err != nil {
		return err
	}

	outputs := buildOutputs(cfg)
	sink := audit.NewSink(audit.Options{
		Logger:    logger,
		Console:   cfg.Logging.Console,
		Outputs:   outputs,
		QueueSize: cfg.Host.QueueSize,
	})
	engine := newEngine(cfg, ps, sink, norm)

	term := host.NewTerminal(host.TerminalConfig{
		Logger:   logger,
		Renderer: host.NewRenderer(os.Stdout, cfg.Message),
	})
	dispatcher := bus.NewDispatcher(cfg.Host.History, logger)
	host.Register(dispatcher, engine, term, logger)
	queue := bus.NewQueue(cfg.Host.QueueSize, logger)

	var metricsSrv *http.Server
	if cfg.Metrics.Enabled {
		metricsSrv = startMetrics(cfg.Metrics.Addr)
	}

	httpDone := make(chan struct{})
	if hc := cfg.Host.HTTP; hc.Enabled {
		httpHost := host.NewHTTPHost(host.HTTPConfig{
			Addr:     hc.Addr,
			Path:     hc.Path,
			Secret:   hc.Secret,
			Renderer: host.NewRenderer(io.Discard, cfg.Message),
			Logger:   logger,
		})
		go func() {
			defer close(httpDone)
			if err := httpHost.Start(ctx, dispatcher); err != nil {
				logger.Error("http host stopped", "err", err)
				cancel()
			}
		}()
	} else {
		close(httpDone)
	}

	// Workers drain the queue after ctx is cancelled; they stop when it closes.
	workersDone := make(chan struct{})
	go func() {
		dispatcher.Serve(context.WithoutCancel(ctx), queue, cfg.Host.Workers)
		close(workersDone)
	}()

	started := time.Now()
	blocked, allowed := ps.Len()
	logger.Info("opguard serving",
		"config", cfgPath,
		"blocked", blocked,
		"allowed", allowed,
		"block_automated", cfg.Settings.BlockCommandBlocks,
		"workers", cfg.Host.Workers,
		"outputs", outputNames(outputs),
	)

	// Scanning stdin does not observe ctx, so a signal must not wait for it.
	runErr := make(chan error, 1)
	if !noTerminal {
		go func() { runErr <- term.Run(ctx, queue) }()
	}
	select {
	case err = <-runErr:
	case <-ctx.Done():
		logger.Info("shutting down", "reason", context.Cause(ctx))
	}

	cancel()
	<-httpDone
	queue.Close()
	<-workersDone

	if metricsSrv != nil {
		shutdownCtx, stopMetrics := context.WithTimeout(context.Background(), 5*time.Second)
		if serr := metricsSrv.Shutdown(shutdownCtx); serr != nil {
			logger.Error("metrics server shutdown", "err", serr)
		}
		stopMetrics()
	}
	logger.Info("draining audit outputs", "pending", sink.Pending())
	if cerr := sink.Close(); cerr != nil {
		logger.Error("close audit outputs", "err", cerr)
	}
	if ferr := ps.Flush(); ferr != nil {
		metrics.PersistErrors.Inc()
		logger.Error("flush allow-list", "err", ferr)
	}

	events, denied := summarize(dispatcher, started)
	logger.Info("opguard stopped", "events", events, "denied", denied)
	return err
}

func startMetrics(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Collector.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok\n"))
	})
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "addr", addr, "err", err)
		}
	}()
	logger.Info("metrics listening", "addr", addr)
	return srv
}
