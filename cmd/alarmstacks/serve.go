package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/alarmstacks/alarmstacks/internal/config"
	"github.com/alarmstacks/alarmstacks/internal/coordinator"
	"github.com/alarmstacks/alarmstacks/internal/history"
	chsink "github.com/alarmstacks/alarmstacks/internal/history/clickhouse"
	sqsink "github.com/alarmstacks/alarmstacks/internal/history/sqlite"
	"github.com/alarmstacks/alarmstacks/internal/liveactivity"
	"github.com/alarmstacks/alarmstacks/internal/logger"
	"github.com/alarmstacks/alarmstacks/internal/metrics"
	"github.com/alarmstacks/alarmstacks/internal/mirror"
	"github.com/alarmstacks/alarmstacks/internal/scheduler"
	"github.com/alarmstacks/alarmstacks/internal/server"
	"github.com/alarmstacks/alarmstacks/internal/store"

	"github.com/prometheus/client_golang/prometheus"
)

func newServeCmd(g *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the alarmstacks daemon",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := config.Default()
			if g.ConfigPath != "" {
				var err error
				cfg, err = config.Load(g.ConfigPath)
				if err != nil {
					return err
				}
			}
			return runServe(cfg)
		},
	}
}

func runServe(cfg *config.Config) error {
	log := logger.Setup(cfg.Log)

	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	st, err := store.CreateStore(cfg.Store)
	if err != nil {
		return fmt.Errorf("failed to create store: %w", err)
	}
	defer func() { _ = st.Close() }()
	if err := st.EnsureSchema(context.Background()); err != nil {
		return err
	}

	mir, err := buildMirror(cfg.Mirror)
	if err != nil {
		return err
	}

	// Fire dispatch is late-bound: the coordinator needs the facade and
	// the facade's backends need the fire handler.
	var coord *coordinator.Coordinator
	fire := func(occ scheduler.Occurrence) {
		if coord != nil {
			coord.HandleFire(occ)
		}
	}

	primary := scheduler.NewAlarmKit(fire, nil)
	notify := scheduler.NewNotifyBackend(fire, scheduler.NotifyFunc(
		func(_ context.Context, n scheduler.Notification) error {
			log.Info("notification delivered", "stack", n.Title, "step", n.Body, "at", n.At)
			return nil
		}), cfg.NotifyConfig())
	if err := notify.Start(); err != nil {
		return err
	}
	defer notify.Stop()

	facade := scheduler.NewFacade(primary, notify, mir)
	facade.SetForceFallback(cfg.Schedule.ForceFallback)

	sinks, closers, err := buildSinks(cfg.History)
	if err != nil {
		return err
	}
	defer func() {
		for _, c := range closers {
			_ = c.Close()
		}
	}()
	facade.SetHistorySinks(sinks...)

	acts := liveactivity.NewManager(liveactivity.NewFakePresenter(), cfg.ActivityManagerConfig())
	coord = coordinator.New(st, facade, acts, mir, loc, cfg.Theme)

	if err := facade.RequestAuthorizationIfNeeded(context.Background()); err != nil {
		return fmt.Errorf("alarm permission needed: %w", err)
	}
	if err := coord.Rearm(context.Background()); err != nil {
		log.Warn("initial rearm failed", "error", err)
	}
	if err := coord.Sanitize(context.Background()); err != nil {
		log.Warn("initial sanitize failed", "error", err)
	}
	if cfg.Schedule.Resync != "" {
		if err := coord.StartResync(cfg.Schedule.Resync); err != nil {
			return err
		}
		defer coord.StopResync()
	}

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		return err
	}
	if cfg.Server.MetricsAddr != "" {
		go serveMetrics(cfg.Server.MetricsAddr, log)
	}

	srv, err := server.NewServer(cfg.Server.Addr, cfg.Server.BasePath, st, coord, acts)
	if err != nil {
		return err
	}
	log.Info("daemon listening", "addr", cfg.Server.Addr, "base_path", cfg.Server.BasePath)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(ctx)
}

func buildMirror(mc config.MirrorConfig) (*mirror.Mirror, error) {
	if mc.PrimaryPath == "" && mc.SecondaryPath == "" {
		// Headless default: volatile two-tier mirror.
		return mirror.New(mirror.NewMemKV(), mirror.NewMemKV()), nil
	}
	primaryPath := mc.PrimaryPath
	if primaryPath == "" {
		primaryPath = filepath.Join(os.TempDir(), "alarmstacks", "mirror")
	}
	secondaryPath := mc.SecondaryPath
	if secondaryPath == "" {
		secondaryPath = primaryPath + "-group"
	}
	primary, err := mirror.NewDiskvKV(primaryPath)
	if err != nil {
		return nil, err
	}
	secondary, err := mirror.NewDiskvKV(secondaryPath)
	if err != nil {
		return nil, err
	}
	return mirror.New(primary, secondary), nil
}

type closer interface{ Close() error }

func buildSinks(hc config.HistoryConfig) ([]history.Sink, []closer, error) {
	var sinks []history.Sink
	var closers []closer
	if hc.SQLitePath != "" {
		s, err := sqsink.New(hc.SQLitePath, hc.SQLiteTable)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create sqlite history sink: %w", err)
		}
		sinks = append(sinks, s)
		closers = append(closers, s)
	}
	if hc.ClickHouseDSN != "" {
		table := hc.ClickHouseTable
		if table == "" {
			table = "alarm_events"
		}
		s, err := chsink.New(hc.ClickHouseDSN, table)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create clickhouse history sink: %w", err)
		}
		sinks = append(sinks, s)
		closers = append(closers, s)
	}
	return sinks, closers, nil
}

func serveMetrics(addr string, log *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error("metrics server failed", "error", err)
	}
}
