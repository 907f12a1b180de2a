// Command boiler-control drives the boiler relay from MQTT temperature
// telemetry and exposes an HTTP control API.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/pflag"

	"github.com/sweeney/boiler-control/internal/config"
	"github.com/sweeney/boiler-control/internal/control"
	"github.com/sweeney/boiler-control/internal/cycle"
	"github.com/sweeney/boiler-control/internal/gpio"
	"github.com/sweeney/boiler-control/internal/history"
	"github.com/sweeney/boiler-control/internal/lockfile"
	"github.com/sweeney/boiler-control/internal/logger"
	"github.com/sweeney/boiler-control/internal/metrics"
	"github.com/sweeney/boiler-control/internal/mqtt"
	"github.com/sweeney/boiler-control/internal/sensor"
	"github.com/sweeney/boiler-control/internal/status"
	"github.com/sweeney/boiler-control/internal/store"
	"github.com/sweeney/boiler-control/internal/telemetry"
	"github.com/sweeney/boiler-control/internal/web"
)

const shutdownTimeout = 5 * time.Second

func main() {
	configPath := pflag.StringP("config", "c", "", "settings file (yaml, json or toml)")
	printConfig := pflag.Bool("print-config", false, "print the effective settings and exit")
	pflag.Parse()

	settings, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
	if *printConfig {
		fmt.Println(string(settings.JSON()))
		return
	}

	log := logger.New(settings.LogLevel)
	defer log.Sync()

	if err := run(settings, log); err != nil {
		log.Errorw("fatal", "error", err)
		os.Exit(1)
	}
}

func run(s config.Settings, log *logger.Logger) error {
	lock, err := lockfile.Acquire(s.LockFile)
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	defer lock.Release()

	relay, err := openRelay(s.Relay)
	if err != nil {
		return fmt.Errorf("init relay: %w", err)
	}
	defer relay.Close()
	if err := relay.SetOutput(false); err != nil {
		return fmt.Errorf("force relay off: %w", err)
	}

	fileStore := store.NewFileStore(s.StatePath)
	doc, err := fileStore.LoadOrInit(defaultDocument(s))
	if err != nil {
		return err
	}
	defs, err := control.SensorsFromDocument(doc)
	if err != nil {
		return fmt.Errorf("load sensors from %s: %w", fileStore.Path(), err)
	}
	registry, err := sensor.NewRegistry(defs)
	if err != nil {
		return fmt.Errorf("load sensors from %s: %w", fileStore.Path(), err)
	}
	duration := control.NewDuration(doc.CycleDurationMinutes)

	m := metrics.New()

	var repo *history.Repo
	if s.HistoryPath != "" {
		db, err := history.Open(s.HistoryPath)
		if err != nil {
			return err
		}
		defer db.Close()
		repo = history.NewRepo(db)
	}

	var (
		tracker  *status.Tracker
		ingestor *telemetry.Ingestor
	)
	client := mqtt.NewClient(mqtt.Options{
		Broker:   s.MQTT.Broker,
		ClientID: s.MQTT.ClientID,
		OnConnectionChange: func(up bool) {
			tracker.SetMQTTConnected(up)
			m.SetMQTTConnected(up)
		},
	}, func(topic string, payload []byte) {
		ingestor.OnReading(topic, payload)
	}, log.Named("mqtt"))
	defer client.Close()

	opts := []cycle.Option{
		cycle.WithLogger(log.Named("cycle")),
		cycle.WithListener(m),
		cycle.WithListener(mqtt.NewEventForwarder(client, log.Named("mqtt"))),
	}
	if repo != nil {
		opts = append(opts, cycle.WithListener(history.NewRecorder(repo, log.Named("history"))))
	}
	ctrl := cycle.New(relay, duration.Get, opts...)

	tracker = status.NewTracker(time.Now(), status.Config{
		HeartbeatMs: s.Heartbeat.Milliseconds(),
		Broker:      s.MQTT.Broker,
		HTTPAddr:    s.HTTPAddr,
	}, registry, ctrl, duration.Minutes)
	ingestor = telemetry.NewIngestor(registry, ctrl, log.Named("telemetry"), m)

	svc := control.New(registry, ctrl, fileStore, duration, log.Named("control"))
	svc.OnSensorsChanged(func(topics []string) {
		if err := client.Resubscribe(topics); err != nil {
			log.Warnw("resubscribe_failed", "topics", topics, "error", err)
		}
	})

	if err := client.Resubscribe(registry.Topics()); err != nil {
		log.Warnw("subscribe_failed", "error", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		if err := client.Connect(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Errorw("mqtt_connect_abandoned", "error", err)
		}
	}()

	var srv *web.Server
	if s.HTTPAddr != "" {
		deps := web.Deps{
			Status:         tracker,
			Control:        svc,
			Metrics:        m,
			MetricsHandler: m.Handler(),
			Log:            log.Named("http"),
		}
		if repo != nil {
			deps.History = repo
		}
		gin.SetMode(gin.ReleaseMode)
		srv = web.New(s.HTTPAddr, deps)
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Errorw("http_server_failed", "error", err)
			}
		}()
		log.Infow("http_listening", "addr", s.HTTPAddr)
	}

	snap := tracker.Snapshot()
	if err := client.PublishSystem(mqtt.SystemEvent{
		Timestamp:  snap.Now,
		Event:      "STARTUP",
		Retained:   true,
		RawPayload: status.FormatStatusEvent(snap, "STARTUP", ""),
	}); err != nil {
		log.Warnw("publish_startup_failed", "error", err)
	}

	log.Infow("started",
		"broker", s.MQTT.Broker,
		"sensors", len(defs),
		"cycle_duration_minutes", duration.Minutes(),
		"heartbeat", s.Heartbeat,
		"relay", s.Relay.Driver,
	)

	ticker := time.NewTicker(s.Heartbeat)
	defer ticker.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	stop := func() error {
		cancel()
		if srv != nil {
			shutdownCtx, done := context.WithTimeout(context.Background(), shutdownTimeout)
			defer done()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				log.Warnw("http_shutdown_failed", "error", err)
			}
		}
		return ctrl.Shutdown()
	}

	return runLoop(client, client, tracker, log, time.Now, ticker.C, sigCh, stop)
}

// runLoop publishes a heartbeat on every tick until a signal arrives. On
// a signal it calls stop, which must leave the relay off, and publishes a
// retained SHUTDOWN event.
func runLoop(publisher mqtt.Publisher, mqttStatus mqtt.ConnectionStatus, tracker *status.Tracker, log *logger.Logger, now func() time.Time, tick <-chan time.Time, sig <-chan os.Signal, stop func() error) error {
	for {
		select {
		case s := <-sig:
			name := signalName(s)
			log.Infow("shutting_down", "signal", name)

			stopErr := stop()
			if stopErr != nil {
				log.Errorw("relay_off_failed", "error", stopErr)
			}

			event := mqtt.SystemEvent{
				Timestamp: now(),
				Event:     "SHUTDOWN",
				Reason:    name,
				Retained:  true,
			}
			if tracker != nil {
				if mqttStatus != nil {
					tracker.SetMQTTConnected(mqttStatus.IsConnected())
				}
				event.RawPayload = status.FormatStatusEvent(tracker.Snapshot(), "SHUTDOWN", name)
			}
			if err := publisher.PublishSystem(event); err != nil {
				log.Warnw("publish_shutdown_failed", "error", err)
			} else {
				log.Infow("published_shutdown")
			}
			return stopErr

		case t := <-tick:
			event := mqtt.SystemEvent{Timestamp: t, Event: "HEARTBEAT"}
			if tracker != nil {
				if mqttStatus != nil {
					tracker.SetMQTTConnected(mqttStatus.IsConnected())
				}
				snap := tracker.Snapshot()
				event.RawPayload = status.FormatStatusEvent(snap, "HEARTBEAT", "")
				log.Debugw("heartbeat", "uptime", snap.Uptime(), "cycle_running", snap.Cycle.Running)
			}
			if err := publisher.PublishSystem(event); err != nil {
				log.Warnw("heartbeat_publish_failed", "error", err)
			}
		}
	}
}

func signalName(s os.Signal) string {
	switch s {
	case syscall.SIGINT:
		return "SIGINT"
	case syscall.SIGTERM:
		return "SIGTERM"
	default:
		return "UNKNOWN"
	}
}

func openRelay(r config.Relay) (gpio.Relay, error) {
	if r.Driver == config.DriverFake {
		return gpio.NewFakeRelay(), nil
	}
	relay, err := gpio.NewRealRelay(r.Chip, r.Pin, r.ActiveLow)
	if err != nil {
		return nil, err
	}
	return relay, nil
}

// defaultDocument seeds the persisted configuration on first run.
func defaultDocument(s config.Settings) store.Document {
	doc := store.Document{
		CycleDurationMinutes: s.DefaultCycleMinutes,
		Sensors:              make([]store.SensorDoc, 0, len(s.Sensors)),
	}
	for _, ss := range s.Sensors {
		doc.Sensors = append(doc.Sensors, store.SensorDoc{
			ID:        ss.ID,
			Name:      ss.Name,
			Topic:     ss.Topic,
			Threshold: ss.ThresholdF,
			Unit:      ss.Unit,
		})
	}
	return doc
}
