package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
	"github.com/nimdanitro/pulse-scraper-go/pkg/config"
	"github.com/nimdanitro/pulse-scraper-go/pkg/coordinator"
	"github.com/nimdanitro/pulse-scraper-go/pkg/entity"
	"github.com/nimdanitro/pulse-scraper-go/pkg/hass"
	"github.com/nimdanitro/pulse-scraper-go/pkg/pulse"
	"github.com/nimdanitro/pulse-scraper-go/pkg/store"
	"github.com/nimdanitro/pulse-scraper-go/pkg/telemetry"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"
	"go.opentelemetry.io/contrib/bridges/otelzap"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/log/global"
	"go.opentelemetry.io/otel/metric"
	semconv "go.opentelemetry.io/otel/semconv/v1.20.0"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const scopeName = "github.com/nimdanitro/pulse-scraper-go"

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	os.Exit(realMain())
}

func realMain() int {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// .env is optional
	_ = godotenv.Load()

	cfg, err := config.Parse(os.Args[1:])
	if errors.Is(err, pflag.ErrHelp) {
		return 0
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration:\n%v\n", err)
		return 2
	}
	level, _ := cfg.Level()

	// Setup Otel
	shutdown, err := setupOTelSDK(ctx)
	defer func() {
		sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer scancel()
		_ = shutdown(sctx)
	}()
	if err != nil {
		fmt.Fprintln(os.Stderr, "cannot set up opentelemetry:", err)
		return 1
	}

	// Initialize logger
	core := zapcore.NewTee(
		zapcore.NewCore(zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()), zapcore.AddSync(os.Stdout), level),
		otelzap.NewCore(scopeName, otelzap.WithLoggerProvider(global.GetLoggerProvider())),
	)
	logger := zap.New(core)
	defer logger.Sync()
	logger.Info("starting up", zap.String("version", version), zap.String("commit", commit), zap.String("buildDate", date))

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("shutting down", zap.Error(err))
		return 1
	}
	logger.Info("shut down")
	return 0
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	// Prometheus poll metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	pollMetrics, err := coordinator.NewMetrics(reg)
	if err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}
	if cfg.MetricsAddr != "" {
		srv := serveMetrics(cfg.MetricsAddr, reg, logger)
		defer func() {
			sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer scancel()
			_ = srv.Shutdown(sctx)
		}()
	}

	// OTel sensor gauges
	meter := otel.Meter(scopeName, metric.WithInstrumentationAttributes(semconv.OTelScopeName(scopeName)))
	recorder, err := telemetry.NewRecorder(meter, logger)
	if err != nil {
		return fmt.Errorf("create recorder: %w", err)
	}

	// create the client
	client, err := pulse.NewClient(cfg.AccessToken, cfg.OrganizationID,
		pulse.WithLogger(logger),
		pulse.WithBaseURL(cfg.BaseURL),
	)
	if err != nil {
		return fmt.Errorf("create pulse client: %w", err)
	}
	defer client.Close()

	coordOpts := []coordinator.Option{
		coordinator.WithLogger(logger),
		coordinator.WithMetrics(pollMetrics),
	}
	if cfg.Redis.Addr != "" {
		rs := store.NewRedisStore(redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		}), cfg.Redis.KeyPrefix, cfg.Redis.TTL)
		defer rs.Close()
		if err := rs.Ping(ctx); err != nil {
			logger.Warn("redis unavailable, snapshots will fail until it is reachable", zap.Error(err))
		}
		coordOpts = append(coordOpts, coordinator.WithStore(rs))
	}

	var bridge *hass.Bridge
	if cfg.MQTT.Broker != "" {
		bridge = hass.New(hass.Config{
			Broker:          cfg.MQTT.Broker,
			Username:        cfg.MQTT.Username,
			Password:        cfg.MQTT.Password,
			ClientID:        cfg.MQTT.ClientID,
			DiscoveryPrefix: cfg.MQTT.DiscoveryPrefix,
			BaseTopic:       cfg.MQTT.BaseTopic,
			Version:         version,
		}, logger)
		if err := bridge.Start(ctx); err != nil {
			return err
		}
		defer func() {
			sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer scancel()
			if err := bridge.Stop(sctx); err != nil {
				logger.Warn("mqtt disconnect", zap.Error(err))
			}
		}()
	}

	var coords []*coordinator.Coordinator
	for _, id := range cfg.EndpointIDs {
		c, err := coordinator.New(client, id, cfg.Interval(), coordOpts...)
		if err != nil {
			return err
		}
		setupEndpoint(ctx, c, bridge, recorder, logger)

		if err := c.FirstRefresh(ctx); err != nil {
			if pulse.IsAuthentication(err) {
				return err
			}
			logger.Warn("endpoint not ready, retrying on the next interval",
				zap.String("endpointId", id),
				zap.Duration("interval", c.Interval()),
				zap.Error(err),
			)
		}
		coords = append(coords, c)
	}

	var wg sync.WaitGroup
	for _, c := range coords {
		wg.Add(1)
		go func(c *coordinator.Coordinator) {
			defer wg.Done()
			c.Run(ctx)
		}(c)
	}

	<-ctx.Done()
	wg.Wait()
	return nil
}

// setupEndpoint wires a coordinator to its consumers. Entities are
// created on the first notification whose reading yields any, so an
// endpoint that is down or empty at startup joins once it answers.
func setupEndpoint(ctx context.Context, c *coordinator.Coordinator, bridge *hass.Bridge, recorder *telemetry.Recorder, logger *zap.Logger) {
	loader := &entityLoader{src: c, endpointID: c.EndpointID(), log: logger}
	c.AddListener(func() {
		data := c.Data()
		if data == nil {
			return
		}
		if ents := loader.load(); len(ents) > 0 && bridge != nil {
			bridge.Add(ents...)
		}
		if !c.LastUpdateSuccess() {
			return
		}

		logger.Info("fetched data",
			zap.String("endpointId", data.EndpointID),
			zap.String("roomName", data.RoomName),
			zap.Any("fields", data.Fields),
			zap.Time("timestamp", data.Time()),
		)
		recorder.Record(ctx, data)
	})
}

// entityLoader runs entity.Setup until it produces entities once.
type entityLoader struct {
	src        entity.Source
	endpointID string
	log        *zap.Logger

	mu   sync.Mutex
	done bool
}

// load returns the endpoint's entities the first time Setup yields any,
// and nil on every other call.
func (l *entityLoader) load() []entity.Entity {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.done {
		return nil
	}
	ents := entity.Setup(l.src, l.endpointID, l.log)
	if len(ents) == 0 {
		return nil
	}
	l.done = true
	return ents
}

func serveMetrics(addr string, reg *prometheus.Registry, logger *zap.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", zap.Error(err))
		}
	}()
	return srv
}
