package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/dusk-indust/logwire/internal/config"
	"github.com/dusk-indust/logwire/internal/logging"
	"github.com/dusk-indust/logwire/internal/mcptools"
	"github.com/dusk-indust/logwire/internal/metrics"
	"github.com/dusk-indust/logwire/internal/reconcile"
	"github.com/dusk-indust/logwire/internal/watch"
)

func newRunCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the reconciler until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), v)
		},
	}
	flags := cmd.Flags()
	flags.String("metrics-addr", "", "serve Prometheus metrics on this address")
	flags.String("mcp-addr", "", "serve the MCP tools over streamable HTTP on this address")
	flags.Bool("mcp-stdio", false, "serve the MCP tools on stdin/stdout")
	flags.Bool("watch", false, "rebuild when the config file or fragment files change")
	_ = v.BindPFlags(flags)
	return cmd
}

func runServe(parent context.Context, v *viper.Viper) error {
	cfg, err := loadConfig(v)
	if err != nil {
		return err
	}
	logger := logging.Init(cfg.Log.Format, cfg.Log.Level)

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	mgr := reconcile.New(
		reconcile.WithLogHome(cfg.ResolvedLogHome()),
		reconcile.WithMetrics(metrics.New(reg)),
		reconcile.WithLogger(logger),
	)
	defer mgr.Close()

	if err := cfg.Apply(ctx, mgr, nil); err != nil {
		logger.Warn("some configuration sources were rejected", "err", err)
	}
	if err := mgr.Start(ctx); err != nil {
		return fmt.Errorf("start: %w", err)
	}
	logger.Info("logwire running", "config", cfg.Path, "logHome", mgr.LogHome())

	g, gctx := errgroup.WithContext(ctx)

	if cfg.Metrics.Addr != "" {
		g.Go(func() error { return serveMetrics(gctx, reg, cfg.Metrics.Addr) })
	}

	svc := mcptools.NewService(mgr)
	switch {
	case v.GetBool("mcp-stdio"):
		g.Go(func() error { return mcptools.RunMCPServerStdio(gctx, svc) })
	case cfg.MCP.Addr != "":
		g.Go(func() error { return mcptools.RunMCPServer(gctx, svc, cfg.MCP.Addr) })
	}

	if cfg.Watch.Enabled {
		r := &reloader{mgr: mgr, cfg: cfg, logger: logger}
		w, err := watch.New(r.handle, &watch.Options{Debounce: cfg.Watch.Debounce, Logger: logger})
		if err != nil {
			return err
		}
		r.watcher = w
		if err := r.watchAll(); err != nil {
			w.Stop()
			return err
		}
		if err := w.Start(gctx); err != nil {
			w.Stop()
			return err
		}
		g.Go(func() error {
			<-gctx.Done()
			w.Stop()
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		return nil
	})
	return g.Wait()
}

func serveMetrics(ctx context.Context, reg *prometheus.Registry, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	// Shutdown gracefully when context is cancelled.
	go func() {
		<-ctx.Done()
		srv.Shutdown(context.Background())
	}()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics: %w", err)
	}
	return nil
}

// reloader reacts to watched file changes. A change to the config file
// re-applies it; a change to a fragment file marks the sources changed.
type reloader struct {
	mgr     *reconcile.Manager
	cfg     *config.Config
	watcher *watch.Watcher
	logger  *slog.Logger
}

func (r *reloader) watchAll() error {
	if r.cfg.Path != "" {
		if err := r.watcher.Add(r.cfg.Path); err != nil {
			return err
		}
	}
	for _, p := range r.cfg.FragmentPaths() {
		if err := r.watcher.Add(p); err != nil {
			return err
		}
	}
	return nil
}

// handle runs on the watcher's delivery goroutine, one batch at a time.
func (r *reloader) handle(ctx context.Context, changes []watch.Change) {
	cfgPath := ""
	if r.cfg.Path != "" {
		cfgPath, _ = filepath.Abs(r.cfg.Path)
	}
	for _, c := range changes {
		if c.Path == cfgPath {
			r.reloadConfig(ctx)
			return
		}
	}
	r.logger.Debug("fragment files changed", "count", len(changes))
	r.mgr.NotifyConfigChanged(ctx)
}

func (r *reloader) reloadConfig(ctx context.Context) {
	next, err := config.LoadFile(r.cfg.Path)
	if err != nil {
		r.logger.Error("config reload failed, keeping the current sources", "err", err)
		return
	}
	if err := next.Apply(ctx, r.mgr, r.cfg); err != nil {
		r.logger.Warn("some configuration sources were rejected", "err", err)
	}

	keep := make(map[string]bool)
	for _, p := range next.FragmentPaths() {
		keep[p] = true
	}
	for _, p := range r.cfg.FragmentPaths() {
		if !keep[p] {
			r.watcher.Remove(p)
		}
	}
	r.cfg = next
	if err := r.watchAll(); err != nil {
		r.logger.Warn("could not watch a fragment file", "err", err)
	}
}
