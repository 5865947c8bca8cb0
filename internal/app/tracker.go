// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/relabs-tech/gps_tracker/internal/broadcast"
	"github.com/relabs-tech/gps_tracker/internal/config"
	"github.com/relabs-tech/gps_tracker/internal/display"
	"github.com/relabs-tech/gps_tracker/internal/gps"
	"github.com/relabs-tech/gps_tracker/internal/ingest"
	"github.com/relabs-tech/gps_tracker/internal/logger"
	"github.com/relabs-tech/gps_tracker/internal/metrics"
	"github.com/relabs-tech/gps_tracker/internal/mqttsink"
	"github.com/relabs-tech/gps_tracker/internal/source"
	"github.com/relabs-tech/gps_tracker/internal/telemetry"
	"github.com/relabs-tech/gps_tracker/internal/upload"
	"github.com/relabs-tech/gps_tracker/internal/web"
)

const (
	shutdownTimeout   = 5 * time.Second
	readHeaderTimeout = 10 * time.Second
)

// Tracker is one running instance: receiver in, web/telemetry/mqtt/display out.
type Tracker struct {
	cfg        *config.Config
	configPath string
	log        *logger.Logger

	store       *gps.Store
	metrics     *metrics.Metrics
	broadcaster *broadcast.Broadcaster
	telemetry   *telemetry.Client
	scheduler   *upload.Scheduler
	http        *http.Server
}

// NewTracker builds the components described by cfg without starting
// anything. configPath, if set, is watched for changes once Run starts.
func NewTracker(cfg *config.Config, configPath string, log *logger.Logger) (*Tracker, error) {
	t := &Tracker{
		cfg:        cfg,
		configPath: configPath,
		log:        log,
		store:      gps.NewStore(),
		metrics:    metrics.New(),
	}
	t.broadcaster = broadcast.New(t.store, cfg.Subscribers.Buffer, log, t.metrics)

	if !cfg.Telemetry.Disabled {
		t.telemetry = telemetry.New(cfg.Telemetry.URL, cfg.Telemetry.WriteKey,
			cfg.Telemetry.LatField, cfg.Telemetry.LonField, cfg.Telemetry.Timeout)
		sched, err := upload.New(t.store, t.telemetry, cfg.Telemetry.Interval, log, t.metrics)
		if err != nil {
			return nil, err
		}
		t.scheduler = sched
	}

	srv := web.NewServer(t.broadcaster, t.store, t.metrics, log, cfg.Subscribers.WriteTimeout, cfg.Web.StaticDir)
	t.http = &http.Server{
		Addr:              cfg.Web.Addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
	}
	return t, nil
}

// RunTracker runs the tracker described by the global configuration until
// SIGINT or SIGTERM.
func RunTracker(configPath string, log *logger.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	t, err := NewTracker(config.Get(), configPath, log)
	if err != nil {
		return err
	}
	return t.Run(ctx)
}

// Run starts every component and blocks until ctx is cancelled or one of
// them fails. A cancelled ctx is a clean shutdown and returns nil.
func (t *Tracker) Run(ctx context.Context) error {
	src, closeSrc, err := t.openSource()
	if err != nil {
		return err
	}
	defer closeSrc()

	parser := gps.Parser{Sentence: t.cfg.GPS.Sentence, VerifyChecksum: t.cfg.GPS.VerifyChecksum}
	loop := ingest.New(src, parser, t.store, t.broadcaster, t.log, t.metrics)

	t.joinOptionalSinks()

	g, gctx := errgroup.WithContext(ctx)

	if t.scheduler != nil {
		if err := t.scheduler.Start(gctx); err != nil {
			t.broadcaster.Close()
			return err
		}
	}

	g.Go(func() error {
		return loop.Run(gctx)
	})

	g.Go(func() error {
		t.log.Info("web: listening", "addr", t.cfg.Web.Addr, "tls", t.cfg.Web.TLSCert != "")
		var err error
		if t.cfg.Web.TLSCert != "" {
			err = t.http.ListenAndServeTLS(t.cfg.Web.TLSCert, t.cfg.Web.TLSKey)
		} else {
			err = t.http.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("web server: %w", err)
	})

	if t.configPath != "" {
		g.Go(func() error {
			if err := config.Watch(gctx, t.configPath, t.log, t.reload); err != nil {
				t.log.Error("config: hot reload disabled", "path", t.configPath, logger.Err(err))
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		t.shutdown()
		return nil
	})

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (t *Tracker) openSource() (source.Source, func(), error) {
	if name := t.cfg.GPS.ReplayFile; name != "" {
		f, err := os.Open(name)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open replay file: %w", err)
		}
		t.log.Info("ingest: replaying recorded sentences", "file", name, "interval", t.cfg.GPS.ReplayInterval)
		return source.NewReader(f, t.cfg.GPS.ReplayInterval), func() { f.Close() }, nil
	}

	s := source.NewSerial(t.cfg.GPS.SerialPort, t.cfg.GPS.BaudRate, t.cfg.GPS.ReconnectMin, t.cfg.GPS.ReconnectMax)
	t.log.Info("ingest: reading receiver", "port", s.Port(), "baud", t.cfg.GPS.BaudRate)
	return s, func() {}, nil
}

// joinOptionalSinks attaches the MQTT mirror and the OLED. Either one
// failing to start is logged and the tracker runs without it.
func (t *Tracker) joinOptionalSinks() {
	if c := t.cfg.MQTT; c.Enabled {
		sink, err := mqttsink.Connect(c.Broker, c.ClientID, c.Topic)
		if err != nil {
			t.log.Error("mqtt: sink disabled", logger.Err(err))
		} else if _, err := t.broadcaster.Join("mqtt", sink); err != nil {
			t.log.Error("mqtt: join failed", logger.Err(err))
		} else {
			t.log.Info("mqtt: publishing fixes", "broker", c.Broker, "topic", sink.Topic())
		}
	}

	if c := t.cfg.Display; c.Enabled {
		d, err := display.Open(c.I2CBus, c.I2CAddr)
		if err != nil {
			t.log.Error("display: disabled", logger.Err(err))
		} else if _, err := t.broadcaster.Join("display", d); err != nil {
			t.log.Error("display: join failed", logger.Err(err))
		} else {
			t.log.Info("display: initialized", "addr", fmt.Sprintf("0x%02X", c.I2CAddr))
		}
	}
}

// reload applies the settings that can change without a restart.
func (t *Tracker) reload(cfg *config.Config) {
	config.Set(cfg)
	if t.telemetry != nil {
		t.telemetry.SetWriteKey(cfg.Telemetry.WriteKey)
	}
	if t.scheduler != nil {
		if err := t.scheduler.Reschedule(cfg.Telemetry.Interval); err != nil {
			t.log.Error("config: upload interval not applied", logger.Err(err))
		}
	}
}

func (t *Tracker) shutdown() {
	t.log.Info("tracker: shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := t.http.Shutdown(ctx); err != nil {
		t.log.Error("web: shutdown", logger.Err(err))
	}

	if t.scheduler != nil {
		if err := t.scheduler.Stop(); err != nil {
			t.log.Error("upload: shutdown", logger.Err(err))
		}
	}

	t.broadcaster.Close()
}
