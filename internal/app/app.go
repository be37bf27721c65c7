package app

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"mi-sensor-bridge/internal/ble"
	"mi-sensor-bridge/internal/config"
	"mi-sensor-bridge/internal/httpapi"
	"mi-sensor-bridge/internal/journal"
	"mi-sensor-bridge/internal/metrics"
	"mi-sensor-bridge/internal/mqtt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"
)

func Run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	mqttOpts, err := mqtt.ParseURL(cfg.MQTTURL)
	if err != nil {
		return err
	}
	if cfg.MQTTClientID != "" {
		mqttOpts.ClientID = cfg.MQTTClientID
	}

	logger.Info("initializing bridge",
		"mqtt_broker", mqttOpts.Broker,
		"mqtt_client_id", mqttOpts.ClientID,
		"topic_prefix", cfg.TopicPrefix,
		"ble_adapter", cfg.BLEAdapter,
		"verbose", cfg.Verbose,
		"allowed_sensors", len(cfg.AllowedSensors),
	)

	listener := ble.NewListener(ble.Options{Adapter: cfg.BLEAdapter}, logger)
	if err := listener.Enable(); err != nil {
		return err
	}

	mqttClient, err := mqtt.NewClient(mqttOpts, logger)
	if err != nil {
		return err
	}
	if err := mqttClient.Connect(ctx); err != nil {
		return err
	}
	defer mqttClient.Disconnect()

	go drainNotifications(ctx, mqttClient.Notifications(), logger, cfg.Verbose)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	opts := ble.PipelineOptions{
		TopicPrefix: cfg.TopicPrefix,
		Verbose:     cfg.Verbose,
		Logger:      logger,
		Recorder:    metrics.NewRecorder(reg),
		Allow:       cfg.AllowedSensors,
	}

	var history httpapi.History

	if cfg.JournalPath != "" {
		j, err := journal.Open(ctx, cfg.JournalPath, logger)
		if err != nil {
			return err
		}
		defer func() {
			if closeErr := j.Close(); closeErr != nil {
				logger.Error("journal close", "error", closeErr)
			}
		}()
		opts.OnForward = func(ctx context.Context, f ble.Forwarded) {
			if err := j.Append(ctx, f); err != nil {
				logger.Warn("journal: failed to store reading", "mac", f.Reading.MAC.String(), "error", err)
			}
		}
		history = j
		logger.Info("journal enabled", "path", cfg.JournalPath)
	}

	pipeline := ble.NewPipeline(mqttClient, ble.NewCache(), opts)
	events := make(chan ble.Advertisement)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(events)
		return listener.Run(gctx, events)
	})

	g.Go(func() error {
		err := pipeline.Run(gctx, events)
		logger.Info("pipeline stopped", "devices", pipeline.Cache().Len())
		return err
	})

	if cfg.HTTPAddr != "" {
		srv := httpapi.NewServer(cfg.HTTPAddr, httpapi.NewMux(mqttClient, reg, history))
		g.Go(func() error {
			logger.Info("http listening", "addr", cfg.HTTPAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	return g.Wait()
}

// drainNotifications keeps the broker event stream flowing. Notifications
// are only logged in verbose mode. It stops with ctx and never influences
// the pipeline.
func drainNotifications(ctx context.Context, notes <-chan mqtt.Notification, logger *slog.Logger, verbose bool) {
	for {
		select {
		case <-ctx.Done():
			return
		case n := <-notes:
			if verbose {
				logger.InfoContext(ctx, "mqtt notification", "kind", string(n.Kind), "detail", n.Detail)
			}
		}
	}
}
