package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"
	flotilla "github.com/flotilla-dev/flotilla"
	"github.com/flotilla-dev/flotilla/pkg/mqtt"
	"github.com/flotilla-dev/flotilla/pkg/pool"
	"github.com/flotilla-dev/flotilla/pkg/provision"
	"github.com/flotilla-dev/flotilla/pkg/registry"
	"github.com/flotilla-dev/flotilla/pkg/scoring"
	"github.com/flotilla-dev/flotilla/pkg/workload"
	"github.com/flotilla-dev/flotilla/selector"
	"github.com/flotilla-dev/flotilla/selector/api"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"
)

const svcName = "flotilla"

type envConfig struct {
	ConfigPath string `env:"FLOTILLA_CONFIG_PATH" envDefault:"config.toml"`
	LogLevel   string `env:"FLOTILLA_LOG_LEVEL"  envDefault:"info"`
	HTTPAddr   string `env:"FLOTILLA_HTTP_ADDR"`
	MQTTURL    string `env:"FLOTILLA_MQTT_URL"`
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	var ec envConfig
	if err := env.Parse(&ec); err != nil {
		return fmt.Errorf("failed to parse environment: %w", err)
	}

	logger := configureLogger(ec.LogLevel)
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		sig := <-sigChan
		logger.Info("received shutdown signal", slog.String("signal", sig.String()))
		cancel()
	}()

	cfg, err := flotilla.LoadConfig(ec.ConfigPath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to load configuration: %w", err)
		}
		logger.Warn("config file not found, using defaults",
			slog.String("path", ec.ConfigPath))
		cfg = flotilla.DefaultConfig()
	}
	if ec.HTTPAddr != "" {
		cfg.Server.Addr = ec.HTTPAddr
	}
	if ec.MQTTURL != "" {
		cfg.MQTT.URL = ec.MQTTURL
	}

	poolCfg, err := cfg.PoolManagerConfig()
	if err != nil {
		return err
	}
	optimizeInterval, err := cfg.OptimizeInterval()
	if err != nil {
		return err
	}
	spawnLatency, err := cfg.SpawnLatency()
	if err != nil {
		return err
	}

	scorer, err := scoring.NewScorer(cfg.Scoring)
	if err != nil {
		return fmt.Errorf("invalid scoring configuration: %w", err)
	}

	reg := registry.New()
	monitor := workload.NewMonitor(cfg.Workload.SoftLoadCap, cfg.Workload.EWMAAlpha, cfg.Workload.RecentWindow, logger)
	provisioner := provision.NewInProcess(spawnLatency)
	manager := pool.NewManager(poolCfg, reg, monitor, scorer, provisioner, logger)

	var pubsub mqtt.PubSub
	if cfg.MQTT.URL != "" {
		timeout, err := cfg.MQTTTimeout()
		if err != nil {
			return err
		}
		clientID := cfg.MQTT.ClientID
		if clientID == "" {
			clientID = svcName
		}
		pubsub, err = mqtt.NewPubSub(
			cfg.MQTT.URL, byte(cfg.MQTT.QoS), clientID,
			cfg.MQTT.Username, cfg.MQTT.Password, cfg.MQTT.BaseTopic,
			timeout, cfg.MQTT.CAPath, cfg.MQTT.CertPath, cfg.MQTT.KeyPath,
			logger,
		)
		if err != nil {
			return fmt.Errorf("failed to connect to MQTT broker: %w", err)
		}
		defer func() {
			_ = pubsub.Disconnect(context.Background())
		}()
	}

	svc := selector.New(manager, monitor, pubsub, cfg.MQTT.BaseTopic, logger)

	if pubsub != nil {
		topic := cfg.MQTT.BaseTopic + "/reports/completion"
		if err := pubsub.Subscribe(ctx, topic, svc.HandleCompletionReport); err != nil {
			return fmt.Errorf("failed to subscribe to completion reports: %w", err)
		}
		logger.Info("listening for completion reports", slog.String("topic", topic))
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/", otelhttp.NewHandler(api.MakeHandler(svc), svcName))

	server := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: mux,
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("starting HTTP server", slog.String("addr", cfg.Server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}

		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()

		return server.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		ticker := time.NewTicker(optimizeInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				report := svc.Optimize(ctx)
				logger.Debug("pool optimized",
					slog.Int("total_workers", report.TotalWorkers),
					slog.Float64("idle_ratio", report.IdleRatio),
					slog.Int("retired", len(report.Retired)))
			}
		}
	})

	logger.Info("flotilla engine started")

	return g.Wait()
}

func configureLogger(level string) *slog.Logger {
	var logLevel slog.Level
	if err := logLevel.UnmarshalText([]byte(level)); err != nil {
		logLevel = slog.LevelInfo
	}

	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))
}
