package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/example/pmv-rental/internal/config"
	"github.com/example/pmv-rental/internal/dispatch"
	"github.com/example/pmv-rental/internal/eta"
	"github.com/example/pmv-rental/internal/geo"
	httpapi "github.com/example/pmv-rental/internal/http"
	"github.com/example/pmv-rental/internal/ingest"
	"github.com/example/pmv-rental/internal/journey"
	"github.com/example/pmv-rental/internal/logging"
	"github.com/example/pmv-rental/internal/payments"
	"github.com/example/pmv-rental/internal/registry"
	"github.com/example/pmv-rental/internal/storage"
	"github.com/example/pmv-rental/internal/vehicle"
)

func main() {
	cfg, err := config.LoadServerConfig()
	logger := logging.NewLogger(cfg.LogLevel)
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	if err := run(cfg, logger); err != nil {
		logger.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.ServerConfig, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var index geo.Index = geo.NewMemoryIndex()
	if cfg.RedisAddr != "" {
		rc := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		defer rc.Close()
		index = geo.NewRedisIndex(rc, cfg.RedisGeoKey, 0)
		logger.Info("vehicle index on redis", "addr", cfg.RedisAddr, "key", cfg.RedisGeoKey)
	}

	var store storage.JourneyStore = storage.NewMemoryStore()
	if cfg.PGDSN != "" {
		ps, err := storage.NewPostgresStore(cfg.PGDSN)
		if err != nil {
			return err
		}
		defer ps.Close()
		if cfg.RunMigrations {
			if err := migrate(ctx, ps, logger); err != nil {
				return err
			}
		}
		store = ps
	}

	ws := dispatch.NewWSRegistry()
	var sinks []dispatch.Publisher
	sinks = append(sinks, dispatch.NewPushDispatcher(cfg.PushWebhookURL, ws))
	if len(cfg.KafkaBrokers) > 0 {
		kp := ingest.NewKafkaProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer kp.Close()
		sinks = append(sinks, kp)
		logger.Info("journey events to kafka", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaTopic)
	}

	var settler payments.Settler = payments.Wallet{}
	if cfg.StripeAPIKey != "" {
		settler = payments.WalletFirst{Card: payments.NewStripeClient(cfg.StripeAPIKey, cfg.StripeCurrency)}
	}

	walking := eta.Walking{SpeedMps: cfg.WalkingSpeedMps}
	etaClient := &eta.Cached{Fallback: walking, Cache: eta.NewCache(30 * time.Second)}
	if cfg.OSRMEndpoint != "" {
		etaClient.Routed = eta.NewOSRMClient(cfg.OSRMEndpoint)
	}

	srv := httpapi.NewServer(httpapi.Deps{
		Registry: registry.New(index, logger),
		Fleet:    vehicle.NewFleet(),
		Index:    index,
		ETA:      etaClient,
		Store:    store,
		Events:   dispatch.NewMultiPublisher(sinks...),
		Settler:  settler,
		WS:       ws,
		Tariff: journey.Tariff{
			UnlockFee:         cfg.UnlockFeeCents,
			PerMinute:         cfg.PerMinuteCents,
			PerKm:             cfg.PerKmCents,
			SpeedingSurcharge: cfg.SpeedingSurchargeCents,
			SpeedLimitKmh:     cfg.SpeedLimitKmh,
		},
		BroadcastInterval: cfg.BroadcastInterval,
		NearbyLimit:       cfg.NearbyLimit,
	}, logger)
	defer srv.Close()

	httpSrv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      srv,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("pmv-rental listening", "addr", cfg.HTTPAddr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		logger.Info("shutting down")
		return httpSrv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func migrate(ctx context.Context, ps *storage.PostgresStore, logger *slog.Logger) error {
	b, err := os.ReadFile(filepath.Join("migrations", "001_create_journeys.sql"))
	if err != nil {
		return err
	}
	if _, err := ps.DB().ExecContext(ctx, string(b)); err != nil {
		return err
	}
	logger.Info("migration applied", "file", "001_create_journeys.sql")
	return nil
}
