package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"sfugate/internal/core/domain"
	"sfugate/internal/core/ports"
	"sfugate/internal/core/services"
	httphandlers "sfugate/internal/handlers/http"
	"sfugate/internal/infrastructure/engine"
	"sfugate/internal/infrastructure/events"
	"sfugate/internal/infrastructure/middleware"
	"sfugate/internal/infrastructure/monitoring"
	sig "sfugate/internal/infrastructure/signal"
	"sfugate/pkg/config"
	"sfugate/pkg/logger"
	"sfugate/pkg/tracing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to the YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		zap.NewExample().Sugar().Fatalw("failed to load configuration", "path", *configPath, "error", err)
	}

	zapLogger := logger.New(cfg.Logging.Level)
	defer zapLogger.Sync()
	log := zapLogger.Sugar()

	tp, err := tracing.Init(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: cfg.Tracing.ServiceName,
		JaegerURL:   cfg.Tracing.JaegerURL,
		Environment: "production",
		SampleRate:  cfg.Tracing.SampleRate,
	})
	if err != nil {
		log.Fatalw("failed to initialize tracing", "error", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := monitoring.NewPrometheusCollector(reg)

	startCtx, startCancel := context.WithTimeout(context.Background(), cfg.Engine.CallTimeout)
	pool, err := services.NewWorkerPool(startCtx, engine.New(log), cfg.Engine.NumWorkers, ports.WorkerSettings{
		LogLevel:   cfg.Engine.LogLevel,
		RTCMinPort: cfg.Engine.RTCMinPort,
		RTCMaxPort: cfg.Engine.RTCMaxPort,
	}, metrics, log)
	startCancel()
	if err != nil {
		log.Fatalw("failed to start media workers", "error", err)
	}
	pool.Watch(services.FatalOnDeath(cfg.Engine.DeathGracePeriod, os.Exit, log))

	health := monitoring.NewHealthChecker()
	health.AddWorkerCheck(pool.Workers())

	var publisher ports.EventPublisher = events.NoopPublisher{}
	var redisPublisher *events.RedisPublisher
	if cfg.Events.Enabled {
		client, err := events.NewRedisClient(cfg.Events.Address, cfg.Events.Password, cfg.Events.DB, cfg.Events.PoolSize, log)
		if err != nil {
			log.Fatalw("failed to connect event bus", "address", cfg.Events.Address, "error", err)
		}
		defer client.Close()
		health.AddRedisCheck(client, 2*time.Second)
		redisPublisher = events.NewRedisPublisher(client, cfg.Events.Channel, uuid.NewString(), cfg.Events.QueueSize, log)
		publisher = redisPublisher
	}

	hub := sig.NewHub(log)
	registry := services.NewRoomRegistry(services.RegistryConfig{
		MediaCodecs: mediaCodecs(cfg.Engine.MediaCodecs),
		Transport: ports.WebRtcTransportOptions{
			ListenIP:    cfg.Engine.ListenIP,
			AnnouncedIP: cfg.Engine.AnnouncedIP,
			EnableUDP:   cfg.Engine.EnableUDP,
			EnableTCP:   cfg.Engine.EnableTCP,
			PreferUDP:   cfg.Engine.PreferUDP,
		},
		EvictEmpty:    cfg.Rooms.EvictEmpty,
		CreateTimeout: cfg.Engine.CallTimeout,
	}, pool, hub, publisher, metrics, log)

	signalServer := sig.NewServer(registry, hub, sig.Options{
		PingInterval:   cfg.Signal.PingInterval,
		PongTimeout:    cfg.Signal.PongTimeout,
		WriteTimeout:   cfg.Signal.WriteTimeout,
		MaxMessageSize: cfg.Signal.MaxMessageSize,
		SendQueueSize:  cfg.Signal.SendQueueSize,
		CallTimeout:    cfg.Engine.CallTimeout,
		AllowedOrigins: cfg.Signal.AllowedOrigins,
		NewLimiter:     func() *middleware.MessageLimiter { return middleware.NewMessageLimiter(cfg) },
	}, metrics, log)

	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(middleware.RecoveryMiddleware(log))
	// Tracing wraps the error handler so spans see the rendered status.
	if cfg.Tracing.Enabled {
		router.Use(middleware.TracingMiddleware())
	}
	router.Use(middleware.ErrorHandlerMiddleware(log))

	// Registered before the HTTP limiter so a long lived socket never holds a concurrency slot.
	router.GET("/ws", gin.WrapF(signalServer.HandleWebSocket))

	router.Use(middleware.NewHTTPRateLimitMiddleware(cfg))
	httphandlers.NewRoomHandler(registry, signalServer, health).SetupRoutes(router)

	if cfg.Monitoring.PrometheusEnabled {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})))
		log.Info("Prometheus metrics enabled")
	}

	srv := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Infow("Starting sfugate", "address", cfg.Server.Address, "workers", pool.Size())
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		log.Fatalw("Server failed", "error", err)
	case s := <-sigChan:
		log.Infow("Received shutdown signal", "signal", s)
	}

	log.Info("Shutting down sfugate...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	// Hijacked websocket connections are not tracked by http.Server.
	signalServer.Shutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorw("Error during server shutdown", "error", err)
		if closeErr := srv.Close(); closeErr != nil {
			log.Errorw("Error force closing server", "error", closeErr)
		}
	}

	registry.Close()
	pool.Close()
	if redisPublisher != nil {
		redisPublisher.Close()
	}
	if err := tp.Shutdown(shutdownCtx); err != nil {
		log.Errorw("Error flushing traces", "error", err)
	}

	log.Info("sfugate stopped")
}

func mediaCodecs(in []config.CodecConfig) []domain.RtpCodecCapability {
	out := make([]domain.RtpCodecCapability, 0, len(in))
	for _, c := range in {
		out = append(out, domain.RtpCodecCapability{
			Kind:       domain.MediaKind(c.Kind),
			MimeType:   c.MimeType,
			ClockRate:  c.ClockRate,
			Channels:   c.Channels,
			Parameters: c.Parameters,
		})
	}
	return out
}
