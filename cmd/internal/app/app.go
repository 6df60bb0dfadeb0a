// Package app wires the Loom client runtime: config, logging, the gateway and
// agent clients, the local history cache, and the thread synchronizer behind
// an interactive console.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"loom/cmd/internal/agent"
	"loom/cmd/internal/chat"
	"loom/cmd/internal/gateway"
	"loom/cmd/internal/histcache"
	"loom/cmd/internal/media"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// App is the Loom client runtime: it owns the synchronizer's collaborators
// and their lifecycles.
type App struct {
	cfg Config
	log Logger

	gw      *gateway.Client
	agents  chat.AgentSink
	cache   *histcache.Cache
	metrics *chat.Metrics

	registry *prometheus.Registry
}

// New constructs a fully wired App instance from config and logger.
func New(cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat)
	}

	if strings.TrimSpace(cfg.UserID) == "" {
		return nil, errors.New("LOOM_USER_ID is required")
	}
	if strings.TrimSpace(cfg.ThreadID) == "" {
		return nil, errors.New("LOOM_THREAD_ID is required")
	}

	gw, err := gateway.New(log, gateway.Config{
		BaseURL:     cfg.GatewayURL,
		APIKey:      cfg.GatewayAPIKey,
		Token:       cfg.GatewayToken,
		HTTPTimeout: cfg.HTTPTimeout,
	})
	if err != nil {
		return nil, err
	}

	a := &App{cfg: cfg, log: log, gw: gw}

	if cfg.AgentURL != "" {
		agents, err := agent.New(log, agent.Config{
			BaseURL: cfg.AgentURL,
			Token:   cfg.GatewayToken,
			Timeout: cfg.AgentTimeout,
		})
		if err != nil {
			return nil, err
		}
		a.agents = agents
	} else {
		log.Info("agent.disabled", "reason", "no LOOM_AGENT_URL")
	}

	if cfg.CacheDir != "" {
		cache, err := histcache.Open(cfg.CacheDir)
		if err != nil {
			// A broken cache degrades to network-only, it never blocks startup.
			log.Warn("cache.open.fail", "dir", cfg.CacheDir, "err", err)
		} else {
			a.cache = cache
		}
	}

	if cfg.MetricsAddr != "" {
		a.registry = prometheus.NewRegistry()
		a.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		a.metrics = chat.NewMetrics(a.registry)
	}

	return a, nil
}

// Run opens the thread and blocks in the console loop until context
// cancellation or EOF on stdin.
func (a *App) Run(ctx context.Context) error {
	if a.registry != nil {
		a.serveMetrics(ctx)
	}

	settings := chat.AgentSettings{AgentID: a.cfg.AgentID, Enabled: a.cfg.AgentEnabled}
	var participants []chat.Participant

	// Thread metadata is a nicety: participant names in agent submissions and
	// authoritative agent settings. Missing metadata never blocks the screen.
	thCtx, cancel := context.WithTimeout(ctx, a.cfg.HTTPTimeout)
	thread, err := a.gw.Thread(thCtx, a.cfg.ThreadID)
	cancel()
	if err != nil {
		a.log.Warn("thread.fetch.fail", "thread_id", a.cfg.ThreadID, "err", err)
	} else {
		participants = thread.Participants
		if thread.ActiveAgentID != "" {
			settings = chat.AgentSettings{AgentID: thread.ActiveAgentID, Enabled: thread.AgentEnabled}
		}
	}

	console := newConsole(a.log)

	sync, err := chat.NewSynchronizer(chat.Config{
		ThreadID:      a.cfg.ThreadID,
		UserID:        a.cfg.UserID,
		Gateway:       a.gw,
		Agents:        a.agents,
		Cache:         a.cache,
		Optimizer:     media.New(a.cfg.ImageMaxDim, a.cfg.ImageQuality),
		Metrics:       a.metrics,
		Log:           a.log,
		AgentSettings: settings,
		Participants:  participants,
		PageSize:      a.cfg.PageSize,
		AgentTimeout:  a.cfg.AgentTimeout,
		OnEvent:       console.onChange,
	})
	if err != nil {
		return err
	}

	if err := sync.Open(ctx); err != nil {
		return fmt.Errorf("open thread: %w", err)
	}

	a.log.Info("thread.open", "thread_id", a.cfg.ThreadID, "user_id", a.cfg.UserID, "messages", len(sync.Messages()))

	runErr := console.Run(ctx, sync)

	if err := sync.Close(); err != nil && !errors.Is(err, chat.ErrClosed) {
		a.log.Error("sync.close.fail", "err", err)
	}
	if a.cache != nil {
		if err := a.cache.Close(); err != nil {
			a.log.Error("cache.close.fail", "err", err)
		}
	}

	a.log.Info("thread.closed")
	return runErr
}

// serveMetrics exposes /metrics on a debug listener. Failures are logged, not
// fatal: metrics are an operator convenience on a client binary.
func (a *App) serveMetrics(ctx context.Context) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:              a.cfg.MetricsAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		a.log.Info("metrics.start", "addr", a.cfg.MetricsAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error("metrics.fail", "err", err)
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
}
