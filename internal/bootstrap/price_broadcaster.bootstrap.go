package bootstrap

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"

	"github.com/jmoiron/sqlx"
	"github.com/krobus00/price-stream-service/internal/auth"
	"github.com/krobus00/price-stream-service/internal/broadcaster"
	"github.com/krobus00/price-stream-service/internal/config"
	"github.com/krobus00/price-stream-service/internal/constant"
	priceHTTPHandler "github.com/krobus00/price-stream-service/internal/handler/price/http"
	streamHandler "github.com/krobus00/price-stream-service/internal/handler/stream/websocket"
	"github.com/krobus00/price-stream-service/internal/infrastructure"
	"github.com/krobus00/price-stream-service/internal/ingestion"
	"github.com/krobus00/price-stream-service/internal/pricecache"
	"github.com/krobus00/price-stream-service/internal/repository"
	"github.com/krobus00/price-stream-service/internal/util"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func StartPriceBroadcaster(cmd *cobra.Command, args []string) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := config.Env

	cacheConfig := pricecache.Config{
		TTL:           cfg.PriceCache.TTL,
		Capacity:      cfg.PriceCache.Capacity,
		Shards:        cfg.PriceCache.Shards,
		SweepInterval: cfg.PriceCache.SweepInterval,
	}

	var redisClient *redis.Client
	if cfg.PriceCache.RedisMirror {
		client, err := infrastructure.NewRedisClient(ctx, cfg.Redis["price_cache"].CacheDSN)
		util.ContinueOrFatal(err)
		redisClient = client
		cacheConfig.Mirror = pricecache.NewRedisSnapshotStore(redisClient)
	}

	cache := pricecache.New(cacheConfig)
	if redisClient != nil {
		warmed, err := cache.Warm(ctx)
		if err != nil {
			logrus.WithError(err).Warn("failed to warm price cache")
		}
		logrus.WithField("entries", warmed).Info("price cache warmed")
	}
	go cache.Run(ctx)

	authenticator, err := newAuthenticator(ctx, cfg.Auth)
	util.ContinueOrFatal(err)

	priceBroadcaster := broadcaster.New(broadcaster.Config{
		WriteTimeout: cfg.Broadcaster.WriteTimeout,
		MaxWorkers:   cfg.Broadcaster.MaxWorkers,
	})
	consumer := ingestion.NewConsumer(cache, priceBroadcaster)

	priceDeps := priceHTTPHandler.Dependencies{
		Prices:        cache,
		Authenticator: authenticator,
		Broadcast:     priceBroadcaster,
		Ingestion:     consumer,
	}

	var marketDataDB *sqlx.DB
	if dbConfig, ok := cfg.Database["market_data"]; ok && strings.TrimSpace(dbConfig.DSN) != "" {
		marketDataDB, err = infrastructure.NewPostgresConnection(ctx, dbConfig)
		util.ContinueOrFatal(err)
		infrastructure.StartPostgresHealthCheck(ctx, marketDataDB, dbConfig.PingInterval)

		priceDeps.Watchlists = repository.NewWatchlistRepository(marketDataDB)
		priceDeps.Instruments = repository.NewInstrumentRepository(marketDataDB)
	}

	var (
		source ingestion.Source
		nc     *nats.Conn
	)
	switch cfg.Ingestion.Source {
	case constant.IngestionSourceKafka:
		util.ContinueOrFatal(infrastructure.PingKafka(ctx, cfg.Kafka))

		reader, err := infrastructure.NewKafkaReader(cfg.Kafka, cfg.Ingestion.Topic, cfg.Ingestion.Group)
		util.ContinueOrFatal(err)

		source = ingestion.NewKafkaSource(reader, consumer, ingestion.KafkaSourceConfig{
			LaneBuffer:      cfg.Ingestion.LaneBuffer,
			RetryMinBackoff: cfg.Ingestion.RetryMinBackoff,
			RetryMaxBackoff: cfg.Ingestion.RetryMaxBackoff,
		})
	case constant.IngestionSourceJetstream:
		var js nats.JetStreamContext
		nc, js, err = infrastructure.NewJetstream(cfg.NatsJetstream)
		util.ContinueOrFatal(err)

		source = ingestion.NewJetStreamSource(js, consumer, ingestion.JetStreamSourceConfig{
			QueueGroup:    cfg.Ingestion.Group,
			NakDelay:      cfg.Ingestion.NakDelay,
			LaneBuffer:    cfg.Ingestion.LaneBuffer,
			HandleTimeout: cfg.NatsJetstream.TimeoutHandler["price_update"],
		})
	default:
		logrus.Fatalf("unknown ingestion source %q", cfg.Ingestion.Source)
	}

	util.ContinueOrFatal(source.Start(ctx))

	var ready atomic.Bool
	ready.Store(true)

	grpcServer, err := infrastructure.NewGRPCServer(cfg.Port["price_broadcaster_grpc"], config.ServiceName)
	util.ContinueOrFatal(err)
	go func() {
		if err := grpcServer.Start(); err != nil {
			logrus.Error(err)
		}
	}()
	grpcServer.SetServing("", true)
	grpcServer.SetServing(config.ServiceName, true)

	httpMux := http.NewServeMux()
	infrastructure.RegisterHealthRoutes(httpMux, ready.Load)
	streamHandler.NewStreamHandler(authenticator, priceBroadcaster, streamHandler.Config{
		PingInterval:   cfg.Broadcaster.PingInterval,
		PongWait:       cfg.Broadcaster.PongWait,
		AllowedOrigins: cfg.Broadcaster.AllowedOrigins,
	}).Register(httpMux)
	priceHTTPHandler.NewPriceHTTPHandler(priceDeps).Register(httpMux)

	httpPort := fmt.Sprintf(":%s", cfg.Port["price_broadcaster_http"])
	httpServer := infrastructure.NewHTTPServerWithConfig(infrastructure.HTTPServerConfig{
		Addr:            httpPort,
		ShutdownTimeout: cfg.GracefulShutdownTimeout,
	}, httpMux)

	go func() {
		err := httpServer.Start()
		if err != nil {
			logrus.Error(err)
		}
	}()
	logrus.Info(fmt.Sprintf("http server started on %s", httpPort))

	wait := gracefulShutdown(ctx, cfg.GracefulShutdownTimeout,
		map[string]operation{
			"readiness": func(ctx context.Context) error {
				ready.Store(false)
				grpcServer.SetServing("", false)
				grpcServer.SetServing(config.ServiceName, false)
				return nil
			},
			"price source": func(ctx context.Context) error {
				return source.Close()
			},
		},
		map[string]operation{
			"http": func(ctx context.Context) error {
				return httpServer.Shutdown(ctx)
			},
			"stream connections": func(ctx context.Context) error {
				priceBroadcaster.Close()
				return nil
			},
			"grpc": func(ctx context.Context) error {
				grpcServer.Shutdown()
				return nil
			},
		},
		map[string]operation{
			"nats connection": func(ctx context.Context) error {
				return infrastructure.CloseJetstream(nc)
			},
			"redis": func(ctx context.Context) error {
				if redisClient == nil {
					return nil
				}
				return redisClient.Close()
			},
			"database": func(ctx context.Context) error {
				cancel()
				if marketDataDB == nil {
					return nil
				}
				return marketDataDB.Close()
			},
		},
	)

	<-wait
}

func newAuthenticator(ctx context.Context, cfg config.AuthConfig) (*auth.Authenticator, error) {
	verifierConfig := auth.JWTVerifierConfig{
		HMACSecret: cfg.HMACSecret,
		Issuer:     cfg.Issuer,
	}

	if strings.TrimSpace(cfg.JWKSURL) != "" {
		keys := auth.NewJWKSKeySet(cfg.JWKSURL, cfg.JWKSRefreshInterval)
		if err := keys.Refresh(ctx); err != nil {
			// verification refetches on demand
			logrus.WithError(err).Warn("initial jwks fetch failed")
		}
		verifierConfig.Keys = keys
	}

	verifier, err := auth.NewJWTVerifier(verifierConfig)
	if err != nil {
		return nil, err
	}

	return auth.NewAuthenticator(verifier), nil
}
