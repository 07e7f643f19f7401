package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"fitbook/backend/internal/audit"
	"fitbook/backend/internal/auth"
	"fitbook/backend/internal/config"
	"fitbook/backend/internal/ratelimit"
	"fitbook/backend/internal/service/appointments"
	"fitbook/backend/internal/service/availability"
	"fitbook/backend/internal/store"
	"fitbook/backend/internal/store/memory"
	"fitbook/backend/internal/store/postgres"
	"fitbook/backend/internal/telemetry"
	grpcTransport "fitbook/backend/internal/transport/grpc"
	httpTransport "fitbook/backend/internal/transport/http"
)

const serviceName = "fitbook"

func newServeCmd(configFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and gRPC servers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), *configFile)
		},
	}
}

func newLogger(level string) *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: parseLogLevel(level)})).With(
		slog.String("service", serviceName),
	)
}

// backend bundles the stores one driver provides.
type backend struct {
	appointments store.AppointmentRepository
	catalog      store.Catalog
	audit        store.AuditRepository
	readiness    []httpTransport.ReadinessCheck
	close        func()
}

func serve(ctx context.Context, configFile string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	log := newLogger("info")
	slog.SetDefault(log)

	cfg, err := config.Load(configFile)
	if err != nil {
		log.Error("config load failed", slog.Any("err", err))
		return err
	}

	log = newLogger(cfg.LogLevel)
	slog.SetDefault(log)

	log.Info(
		"starting",
		slog.String("version", version),
		slog.String("grpc_addr", cfg.GRPCAddr()),
		slog.String("http_addr", cfg.HTTPAddr),
		slog.String("store_driver", cfg.StoreDriver),
		slog.String("log_level", cfg.LogLevel),
	)

	shutdownTelemetry, err := telemetry.Setup(ctx, telemetry.Config{
		Enabled:      cfg.OTelEnabled,
		ServiceName:  serviceName,
		OTLPEndpoint: cfg.OTelEndpoint,
		SampleRatio:  cfg.OTelSampleRatio,
	})
	if err != nil {
		log.Error("telemetry setup failed", slog.Any("err", err))
		return err
	}
	defer func() {
		tctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(tctx); err != nil {
			log.Warn("telemetry shutdown failed", slog.Any("err", err))
		}
	}()

	be, err := openBackend(cfg, log)
	if err != nil {
		return err
	}
	defer be.close()

	tokens, err := auth.NewTokens(cfg.JWTSecret, cfg.JWTIssuer, cfg.TokenTTL)
	if err != nil {
		log.Error("token setup failed", slog.Any("err", err))
		return err
	}

	dispatcher := audit.NewDispatcher(be.audit, log, 256)
	defer func() {
		dctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := dispatcher.Close(dctx); err != nil {
			log.Warn("audit dispatcher drain timed out", slog.Any("err", err))
		}
	}()

	apptSvc := appointments.NewService(be.appointments, be.catalog,
		appointments.WithLogger(log),
		appointments.WithRecorder(dispatcher),
	)
	availSvc := availability.NewService(be.appointments, be.catalog,
		availability.WithLogger(log),
		availability.WithLocation(cfg.FacilityLocation),
	)

	readiness := be.readiness
	var rateLimit gin.HandlerFunc
	if cfg.RedisURL != "" && cfg.RateLimit > 0 {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			log.Error("redis url invalid", slog.Any("err", err))
			return fmt.Errorf("redis url: %w", err)
		}
		rdb := redis.NewClient(opts)
		defer func() {
			if err := rdb.Close(); err != nil {
				log.Warn("redis close failed", slog.Any("err", err))
			}
		}()
		limiter := ratelimit.NewRedisLimiter(rdb, cfg.RateLimit, cfg.RateLimitWindow, "fitbook:rl", log)
		rateLimit = limiter.Middleware()
		readiness = append(readiness, httpTransport.ReadinessCheck{
			Name:  "redis",
			Check: func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
		})
		log.Info("rate limiting enabled", slog.Int("limit", cfg.RateLimit), slog.Duration("window", cfg.RateLimitWindow))
	}

	gin.SetMode(gin.ReleaseMode)
	router := httpTransport.NewRouter(httpTransport.Deps{
		Appointments: apptSvc,
		Availability: availSvc,
		Catalog:      be.catalog,
		Tokens:       tokens,
		RateLimit:    rateLimit,
		Readiness:    readiness,
		Location:     cfg.FacilityLocation,
		Logger:       log,
	})
	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           otelhttp.NewHandler(router, serviceName+".http"),
		ReadHeaderTimeout: 10 * time.Second,
	}

	grpcServer := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(
			grpcTransport.DefaultRequestTimeoutInterceptor(cfg.GRPCRequestTimeout),
			grpcTransport.AuthInterceptor(tokens, log),
		),
	)
	grpcTransport.RegisterAppointmentsServiceServer(grpcServer, grpcTransport.NewAppointmentsServer(apptSvc, availSvc, log))

	lis, err := net.Listen("tcp", cfg.GRPCAddr())
	if err != nil {
		log.Error("grpc listen failed", slog.Any("err", err), slog.String("grpc_addr", cfg.GRPCAddr()))
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("grpc server started", slog.String("grpc_addr", cfg.GRPCAddr()))
		if err := grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return fmt.Errorf("grpc server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		log.Info("http server started", slog.String("http_addr", cfg.HTTPAddr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutdown signal received")
		shutdown(log, grpcServer, httpServer, cfg.ShutdownTimeout)
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Error("server stopped with error", slog.Any("err", err))
		return err
	}
	log.Info("stopped")
	return nil
}

func openBackend(cfg config.Config, log *slog.Logger) (backend, error) {
	switch cfg.StoreDriver {
	case config.StoreDriverMemory:
		catalog := memory.NewCatalog()
		if cfg.CatalogFile != "" {
			loaded, err := memory.LoadCatalogFile(cfg.CatalogFile)
			if err != nil {
				log.Error("catalog load failed", slog.Any("err", err), slog.String("catalog_file", cfg.CatalogFile))
				return backend{}, err
			}
			catalog = loaded
		} else {
			log.Warn("memory store started without a catalog file; no services or trainers are registered")
		}
		return backend{
			appointments: memory.NewAppointmentStore(),
			catalog:      catalog,
			audit:        memory.NewAuditLog(),
			close:        func() {},
		}, nil

	default:
		log.Info("connecting to database", databaseLogArgs(cfg.DatabaseURL)...)
		db, err := postgres.Open(cfg.DatabaseURL, postgres.PoolConfig{
			MaxOpenConns:    cfg.DBMaxOpenConns,
			MaxIdleConns:    cfg.DBMaxIdleConns,
			ConnMaxLifetime: cfg.DBConnMaxLifetime,
			ConnMaxIdleTime: cfg.DBConnMaxIdleTime,
		})
		if err != nil {
			args := append([]any{slog.Any("err", err)}, databaseLogArgs(cfg.DatabaseURL)...)
			log.Error("database connection failed", args...)
			return backend{}, err
		}
		return backend{
			appointments: postgres.NewAppointmentRepo(db),
			catalog:      postgres.NewCatalogRepo(db),
			audit:        postgres.NewAuditRepo(db),
			readiness: []httpTransport.ReadinessCheck{{
				Name:  "postgres",
				Check: func(ctx context.Context) error { return postgres.Ping(ctx, db) },
			}},
			close: func() {
				if err := postgres.Close(db); err != nil {
					log.Warn("database close failed", slog.Any("err", err))
				}
			},
		}, nil
	}
}

func shutdown(log *slog.Logger, s *grpc.Server, h *http.Server, timeout time.Duration) {
	log.Info("shutting down servers", slog.Duration("timeout", timeout))

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := h.Shutdown(ctx); err != nil {
		log.Warn("http graceful shutdown failed", slog.Any("err", err))
	}

	done := make(chan struct{})
	go func() {
		s.GracefulStop()
		close(done)
	}()

	select {
	case <-done:
		log.Info("grpc server stopped")
	case <-ctx.Done():
		log.Warn("grpc graceful shutdown timed out; forcing stop")
		s.Stop()
	}
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func databaseLogArgs(databaseURL string) []any {
	u, err := url.Parse(databaseURL)
	if err != nil {
		return []any{slog.String("db_url", "invalid")}
	}
	name := strings.TrimPrefix(u.Path, "/")
	host := u.Hostname()
	port := u.Port()
	if port == "" {
		port = "default"
	}
	if host == "" {
		host = "unknown"
	}
	if name == "" {
		name = "unknown"
	}
	return []any{
		slog.String("db_host", host),
		slog.String("db_port", port),
		slog.String("db_name", name),
	}
}
