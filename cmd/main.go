/**
 * @description
 * This is the main entry point for the service. It is responsible for
 * initializing all components, including configuration, database connection,
 * provider adapters, message brokers, repositories, the ledger and orchestrator
 * services, and the HTTP server. It wires everything together, starts the
 * background settlement and reconciliation loops, and runs the service.
 *
 * @dependencies
 * - log, net/http: Standard Go libraries for logging and HTTP server functionality.
 * - github.com/go-chi/chi/v5: For HTTP routing.
 * - github.com/jackc/pgx/v5: PostgreSQL driver.
 * - internal/api, internal/app, internal/config, internal/ledger,
 *   internal/provider, internal/store: Internal packages for the service.
 * - pkg/rabbitmq: Client for RabbitMQ.
 */

package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/buba6c/onesms-v1-sub002/internal/api"
	"github.com/buba6c/onesms-v1-sub002/internal/app"
	"github.com/buba6c/onesms-v1-sub002/internal/config"
	"github.com/buba6c/onesms-v1-sub002/internal/ledger"
	"github.com/buba6c/onesms-v1-sub002/internal/provider"
	"github.com/buba6c/onesms-v1-sub002/internal/store"
	rmrabbit "github.com/buba6c/onesms-v1-sub002/pkg/rabbitmq"
)

func main() {
	// Load application configuration from environment variables.
	cfg, err := config.LoadConfig(".")
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"config load failed\" err=%v", err)
	}
	if strings.TrimSpace(cfg.InternalAPIKey) == "" {
		log.Fatalf("level=fatal component=bootstrap msg=\"internal api key must be configured\" env=INTERNAL_API_KEY")
	}

	log.Printf("level=info component=bootstrap msg=\"starting service\" port=%s", cfg.ServerPort)

	// Establish a connection pool to the PostgreSQL database.
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database url parse failed\" err=%v", err)
	}

	// Settlement sweeps and purchase traffic share the pool; keep headroom.
	poolConfig.MaxConns = 100
	poolConfig.MinConns = 20
	poolConfig.MaxConnLifetime = 30 * time.Minute
	poolConfig.MaxConnIdleTime = 5 * time.Minute

	// Disable prepared statement caching to prevent conflicts
	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	dbpool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database connection failed\" err=%v", err)
	}
	defer dbpool.Close()
	log.Println("level=info component=bootstrap msg=\"database connected\"")

	// Initialize the RabbitMQ producer to publish events. The service only
	// publishes; a broker outage degrades to the no-op fallback.
	var eventProducer rmrabbit.Publisher
	rabbitProducer, err := rmrabbit.NewEventProducer(cfg.RabbitMQURL)
	if err != nil {
		log.Printf("level=warn component=bootstrap msg=\"rabbitmq producer unavailable; using fallback\" err=%v", err)
		eventProducer = &rmrabbit.EventProducerFallback{}
	} else {
		defer rabbitProducer.Close()
		eventProducer = rabbitProducer
		log.Println("level=info component=bootstrap msg=\"rabbitmq producer connected\"")
	}

	// Optional Redis for distributed purchase rate limiting.
	var redisClient *redis.Client
	if cfg.PurchaseRateLimitPerMinute > 0 {
		if strings.TrimSpace(cfg.RedisURL) == "" {
			log.Println("level=warn component=bootstrap msg=\"redis url missing; purchase rate limiting disabled\" env=REDIS_URL")
		} else {
			redisOptions, parseErr := redis.ParseURL(cfg.RedisURL)
			if parseErr != nil {
				log.Printf("level=warn component=bootstrap msg=\"redis url parse failed; purchase rate limiting disabled\" err=%v", parseErr)
			} else {
				redisClient = redis.NewClient(redisOptions)
				pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancelPing()
				if pingErr := redisClient.Ping(pingCtx).Err(); pingErr != nil {
					log.Printf("level=warn component=bootstrap msg=\"redis ping failed; purchase rate limiting disabled\" err=%v", pingErr)
					redisClient.Close()
					redisClient = nil
				} else {
					defer redisClient.Close()
					log.Println("level=info component=bootstrap msg=\"redis connected\"")
				}
			}
		}
	}

	// Build the provider registry from the configured upstreams.
	registry := provider.NewRegistry(
		provider.NewSMSActivateAdapter(cfg.SMSActivateBaseURL, cfg.SMSActivateAPIKey),
		provider.NewSMSHubAdapter(cfg.SMSHubBaseURL, cfg.SMSHubAPIKey),
		provider.NewFiveSimAdapter(cfg.FiveSimBaseURL, cfg.FiveSimAPIKey),
		provider.NewOnlineSimAdapter(cfg.OnlineSimBaseURL, cfg.OnlineSimAPIKey),
	)
	log.Printf("level=info component=bootstrap msg=\"providers registered\" providers=%v priority=%v", registry.Names(), cfg.ProviderPriorityList())

	// Initialize the data access layer (repository) and the two services.
	repository := store.NewPostgresRepository(dbpool)
	ledgerService := ledger.NewService(repository)
	orchestrator := app.NewService(repository, ledgerService, registry, eventProducer, app.Config{
		GraceWindow:         time.Duration(cfg.ProviderGraceWindowMinutes) * time.Minute,
		ActivationTTL:       time.Duration(cfg.ActivationTTLMinutes) * time.Minute,
		RentalDefault:       time.Duration(cfg.RentalDefaultMinutes) * time.Minute,
		SettleRetryAttempts: cfg.SettleRetryAttempts,
		SettleRetryBackoff:  time.Duration(cfg.SettleRetryBackoffMs) * time.Millisecond,
		ProviderPriority:    cfg.ProviderPriorityList(),
	})

	var rateLimiter *app.RedisPurchaseRateLimiter
	if redisClient != nil {
		rateLimiter = app.NewRedisPurchaseRateLimiter(redisClient, cfg.RedisRateLimitPrefix)
	}

	// Initialize the API handlers and router.
	handlers := api.NewHandlers(orchestrator, ledgerService, rateLimiter, cfg.PurchaseRateLimitPerMinute)
	router := api.Routes(handlers, cfg.AuthJWKSURL, cfg.InternalAPIKey)

	// Background loops: settlement sweep and reconciliation.
	loopCtx, cancelLoops := context.WithCancel(context.Background())
	defer cancelLoops()

	go func() {
		ticker := time.NewTicker(time.Duration(cfg.SettlePollIntervalSeconds) * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-loopCtx.Done():
				return
			case <-ticker.C:
				orchestrator.SettleDueOrders(loopCtx, cfg.SettlePollBatchSize)
			}
		}
	}()

	go func() {
		ticker := time.NewTicker(time.Duration(cfg.ReconcileIntervalMinutes) * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-loopCtx.Done():
				return
			case <-ticker.C:
				if _, reconcileErr := orchestrator.ReconcileFrozenBalances(loopCtx, 0); reconcileErr != nil {
					log.Printf("level=error component=bootstrap msg=\"scheduled reconcile failed\" err=%v", reconcileErr)
				}
			}
		}
	}()

	// Start the HTTP server.
	serverAddr := fmt.Sprintf(":%s", cfg.ServerPort)
	log.Printf("level=info component=http msg=\"server listening\" addr=%s", serverAddr)

	server := &http.Server{
		Addr:    serverAddr,
		Handler: router,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("level=fatal component=http msg=\"server stopped unexpectedly\" err=%v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	log.Println("level=info component=http msg=\"shutdown started\"")

	cancelLoops()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("level=error component=http msg=\"shutdown failed\" err=%v", err)
	}

	log.Println("level=info component=http msg=\"shutdown complete\"")
}
