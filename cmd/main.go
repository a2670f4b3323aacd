/**
 * @description
 * This is the main entry point for the ledger service. It is responsible for
 * initializing all components of the service, including configuration, database connection,
 * external API clients, message brokers, repositories, the core application service,
 * and the HTTP server. It wires everything together and starts the service.
 *
 * @dependencies
 * - log, net/http: Standard Go libraries for logging and HTTP server functionality.
 * - github.com/go-chi/chi/v5: For HTTP routing.
 * - github.com/jackc/pgx/v5: PostgreSQL driver.
 * - internal/api, internal/app, internal/config, internal/store: Internal packages for the service.
 * - pkg/stripeclient: Client for the Stripe API.
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

	"github.com/refpay/ledger-service/internal/api"
	"github.com/refpay/ledger-service/internal/app"
	"github.com/refpay/ledger-service/internal/config"
	"github.com/refpay/ledger-service/internal/store"
	rmrabbit "github.com/refpay/ledger-service/pkg/rabbitmq"
	"github.com/refpay/ledger-service/pkg/stripeclient"
)

func main() {
	// Load application configuration from environment variables.
	cfg, err := config.LoadConfig(".")
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"config load failed\" err=%v", err)
	}
	if strings.TrimSpace(cfg.JWTSecret) == "" {
		log.Fatalf("level=fatal component=bootstrap msg=\"jwt secret must be configured\" env=JWT_SECRET")
	}
	if strings.TrimSpace(cfg.StripeSecretKey) == "" {
		log.Fatalf("level=fatal component=bootstrap msg=\"stripe secret key must be configured\" env=STRIPE_SECRET_KEY")
	}

	log.Printf("level=info component=bootstrap msg=\"starting ledger-service\" port=%s", cfg.ServerPort)

	// Establish a connection pool to the PostgreSQL database.
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database url parse failed\" err=%v", err)
	}

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

	// Initialize the RabbitMQ producer to publish events. A fallback producer
	// keeps the HTTP surface up even when the broker is unreachable at boot.
	var rabbitProducer rmrabbit.Publisher
	eventProducer, err := rmrabbit.NewEventProducer(cfg.RabbitMQURL)
	if err != nil {
		log.Printf("level=warn component=bootstrap msg=\"rabbitmq producer unavailable; using fallback\" err=%v", err)
		rabbitProducer = &rmrabbit.EventProducerFallback{}
	} else {
		defer eventProducer.Close()
		rabbitProducer = eventProducer
		log.Println("level=info component=bootstrap msg=\"rabbitmq producer connected\"")
	}

	// Initialize the Stripe API client.
	stripeClient := stripeclient.NewClient(cfg.StripeAPIBaseURL, cfg.StripeSecretKey)

	// Redis backs the withdrawal rate limiter; the service degrades to
	// unlimited withdrawals when it is not available.
	var redisClient *redis.Client
	if cfg.WithdrawalRateLimitPerMinute > 0 {
		if strings.TrimSpace(cfg.RedisURL) == "" {
			log.Println("level=warn component=bootstrap msg=\"redis url missing; withdrawal rate limiting disabled\" env=REDIS_URL")
		} else {
			redisOptions, parseErr := redis.ParseURL(cfg.RedisURL)
			if parseErr != nil {
				log.Printf("level=warn component=bootstrap msg=\"redis url parse failed; withdrawal rate limiting disabled\" err=%v", parseErr)
			} else {
				redisClient = redis.NewClient(redisOptions)
				pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancelPing()
				if pingErr := redisClient.Ping(pingCtx).Err(); pingErr != nil {
					log.Printf("level=warn component=bootstrap msg=\"redis ping failed; withdrawal rate limiting disabled\" err=%v", pingErr)
					redisClient.Close()
					redisClient = nil
				} else {
					defer redisClient.Close()
					log.Println("level=info component=bootstrap msg=\"redis connected\"")
				}
			}
		}
	}

	var rateLimiter *app.RedisWithdrawalRateLimiter
	if redisClient != nil {
		rateLimiter = app.NewRedisWithdrawalRateLimiter(redisClient, cfg.RedisRateLimitPrefix)
	}

	// Initialize the data access layer (repository).
	repository := store.NewPostgresRepository(dbpool)

	// Initialize the core application service with its dependencies.
	ledgerService := app.NewService(
		repository,
		stripeClient,
		rabbitProducer,
		rateLimiter,
		cfg.RegistrationFeePence,
		cfg.WithdrawalRateLimitPerMinute,
	)

	// Initialize the API handlers and router.
	ledgerHandlers := api.NewLedgerHandlers(ledgerService, cfg.JWTSecret, cfg.StripeWebhookSecret, rabbitProducer)
	router := api.LedgerRoutes(ledgerHandlers, cfg.JWTSecret)

	// Wire up the event consumers: commission distribution for confirmed
	// registrations, settlement for payout outcomes.
	distributor := app.NewCommissionDistributor(repository, cfg.RegistrationFeePence)
	registrationConsumer := app.NewRegistrationConsumer(distributor)
	payoutConsumer := app.NewPayoutStatusConsumer(app.NewSettlementReconciler(repository))

	rabbitConsumer, err := rmrabbit.NewConsumer(cfg.RabbitMQURL)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"rabbitmq consumer init failed\" err=%v", err)
	}
	defer rabbitConsumer.Close()

	bindings := map[string]func([]byte) bool{
		rmrabbit.RoutingKeyRegistrationConfirmed: registrationConsumer.HandleMessage,
		rmrabbit.RoutingKeyPayoutPaid:            payoutConsumer.HandleMessage,
		rmrabbit.RoutingKeyPayoutFailed:          payoutConsumer.HandleMessage,
	}

	if err := rabbitConsumer.ConsumeWithBindings(rmrabbit.LedgerEventsExchange, cfg.LedgerEventQueue, bindings); err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"event consumer start failed\" err=%v", err)
	}

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

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("level=error component=http msg=\"shutdown failed\" err=%v", err)
	}

	log.Println("level=info component=http msg=\"shutdown complete\"")
}
