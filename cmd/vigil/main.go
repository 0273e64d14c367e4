package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/vigil-mon/vigil/internal/alert"
	"github.com/vigil-mon/vigil/internal/buildinfo"
	"github.com/vigil-mon/vigil/internal/config"
	"github.com/vigil-mon/vigil/internal/geoip"
	"github.com/vigil-mon/vigil/internal/health"
	"github.com/vigil-mon/vigil/internal/monitor"
	"github.com/vigil-mon/vigil/internal/probe"
	"github.com/vigil-mon/vigil/internal/sched"
	"github.com/vigil-mon/vigil/internal/store"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load and validate environment config
	cfg, err := config.LoadEnvConfig()
	if err != nil {
		return err
	}
	if config.IsWeakToken(cfg.AdminToken) {
		log.Printf("[config] warning: VIGIL_ADMIN_TOKEN is weak; pick a longer random token")
	}
	version := cfg.AppVersion
	if version == "" {
		version = buildinfo.Version
	}
	log.Printf("[vigil] %s %s (commit %s, built %s)", cfg.AppName, version, buildinfo.GitCommit, buildinfo.BuildTime)

	// 2. Open datastore and apply migrations
	st, err := store.Open(cfg.DBPath, cfg.DBBusyTimeout)
	if err != nil {
		return err
	}
	defer st.Close()

	// 3. Optional GeoIP enrichment
	var geo *geoip.Resolver
	if cfg.GeoIPDBPath != "" {
		geo, err = geoip.Open(cfg.GeoIPDBPath)
		if err != nil {
			return err
		}
		defer geo.Close()
		log.Printf("[vigil] geoip enrichment enabled (%s)", cfg.GeoIPDBPath)
	}

	// 4. Alert pipeline
	var sink alert.Sink
	var resolver *alert.ChatResolver
	if cfg.SinkEnabled {
		sink = alert.NewTelegramSink(cfg.SinkBaseURL, cfg.SinkToken, cfg.RequestTimeout)
		resolver = alert.NewChatResolver(st, 1024)
		defer resolver.Close()
	} else {
		log.Printf("[vigil] sink disabled; alerts are persisted but not delivered")
	}
	pipeline := alert.NewPipeline(st, sink, resolver, alert.Config{
		QueueCap:   cfg.AlertQueueCap,
		Cooldown:   cfg.AlertCooldown,
		MaxPerHour: cfg.MaxAlertsPerHour,
		RetryCount: cfg.AlertRetryCount,
	})

	// 5. Monitoring engine
	runner := probe.NewRunner(probe.Options{
		DefaultTimeout: cfg.RequestTimeout,
		MaxRetries:     cfg.MaxRetries,
		RetryDelay:     cfg.RetryDelay,
		UserAgent:      fmt.Sprintf("vigil/%s (+https://github.com/vigil-mon/vigil)", version),
		DNSServer:      cfg.DNSServer,
		ExpectedStatus: cfg.ExpectedStatusCodes,
	})
	recorder := monitor.NewRecorder(st, geo)
	engine := monitor.NewEngine(st, runner, recorder, pipeline, monitor.EngineConfig{
		SweepInterval:   cfg.SweepInterval,
		BatchSize:       cfg.BatchSize,
		MaxConcurrent:   cfg.MaxConcurrentProbes,
		TLSWarningDays:  cfg.TLSExpiryWarningDays,
		DefaultInterval: cfg.DefaultInterval,
	})

	// 6. Periodic scheduler
	overrides, err := config.LoadJobOverrides(cfg.JobsFile)
	if err != nil {
		return err
	}
	scheduler := sched.New()
	deps := sched.Deps{
		Store:          st,
		Pipeline:       pipeline,
		LogRetention:   time.Duration(cfg.LogRetentionDays) * 24 * time.Hour,
		StatsHistory:   time.Duration(cfg.StatsHistoryDays) * 24 * time.Hour,
		TLSWarningDays: cfg.TLSExpiryWarningDays,
		AlertCooldown:  cfg.AlertCooldown,
		InactiveAfter:  90 * 24 * time.Hour,
		HeartbeatSpec:  cfg.HeartbeatSchedule,
	}
	for _, job := range sched.BuiltinJobs(deps) {
		if err := scheduler.Register(job, overrides); err != nil {
			return err
		}
	}

	// 7. Liveness server and self-pinger
	var pinger *health.SelfPinger
	server := health.NewServer(health.ServerConfig{
		Port:       cfg.Port,
		AppName:    cfg.AppName,
		AppVersion: version,
		AdminToken: cfg.AdminToken,
		Diagnostics: func() map[string]any {
			d := map[string]any{
				"engine": engine.Stats(),
				"alerts": pipeline.Stats(),
				"jobs":   scheduler.JobStats(),
			}
			if pinger != nil {
				d["selfPing"] = pinger.Stats()
			}
			return d
		},
	})
	if cfg.SelfPingEnabled {
		pinger = health.NewSelfPinger(health.SelfPingerConfig{
			URL:      health.ResolvePingURL(cfg.SelfPingURL, cfg.Port),
			Interval: cfg.SelfPingInterval,
			Timeout:  cfg.SelfPingTimeout,
			Retries:  cfg.SelfPingRetries,
		})
	}

	// 8. Start everything
	if err := server.Start(); err != nil {
		return err
	}
	pipeline.Start()
	engine.Start()
	scheduler.Start()
	if pinger != nil {
		pinger.Start()
	}

	// 9. Graceful shutdown: stop producers before consumers so the pipeline
	// can drain the engine's final intents.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	log.Printf("[vigil] received signal %s, shutting down", sig)

	if pinger != nil {
		pinger.Stop()
	}
	scheduler.Stop()
	engine.Stop()
	pipeline.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Stop(ctx); err != nil {
		log.Printf("[health] shutdown: %v", err)
	}
	log.Printf("[vigil] stopped")
	return nil
}
