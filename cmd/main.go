/**
 * @description
 * This is the main entry point for the portal-service. It is responsible for
 * initializing all components of the service, including configuration, the
 * database connection pool, the Redis session store, the RabbitMQ notification
 * producer, repositories, the core application service, and the HTTP server.
 * It wires everything together and starts the service.
 *
 * @dependencies
 * - log, net/http: Standard Go libraries for logging and HTTP server functionality.
 * - github.com/jackc/pgx/v5: PostgreSQL driver.
 * - github.com/redis/go-redis/v9: Redis client for the session store.
 * - internal/api, internal/app, internal/config, internal/store: Internal packages.
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

	"github.com/finportal/portal-service/internal/api"
	"github.com/finportal/portal-service/internal/app"
	"github.com/finportal/portal-service/internal/config"
	"github.com/finportal/portal-service/internal/notifier"
	"github.com/finportal/portal-service/internal/otp"
	"github.com/finportal/portal-service/internal/session"
	"github.com/finportal/portal-service/internal/store"
	portalrabbit "github.com/finportal/portal-service/pkg/rabbitmq"
)

func main() {
	// Load application configuration from environment variables.
	cfg, err := config.LoadConfig(".")
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"config load failed\" err=%v", err)
	}
	if strings.TrimSpace(cfg.EmailTokenSecret) == "" {
		log.Fatalf("level=fatal component=bootstrap msg=\"email token secret must be configured\" env=EMAIL_TOKEN_SECRET")
	}

	log.Printf("level=info component=bootstrap msg=\"starting portal-service\" port=%s", cfg.ServerPort)

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

	// Ensure the schema exists so a fresh database can serve requests.
	if _, err := dbpool.Exec(context.Background(), `
        CREATE TABLE IF NOT EXISTS users (
            id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
            email TEXT NOT NULL UNIQUE,
            password_hash TEXT NOT NULL,
            email_verified BOOLEAN NOT NULL DEFAULT FALSE,
            created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
        );
        CREATE TABLE IF NOT EXISTS accounts (
            id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
            user_id UUID NOT NULL REFERENCES users(id),
            bank_type TEXT NOT NULL,
            alias TEXT NOT NULL,
            balance_cents BIGINT NOT NULL DEFAULT 0,
            created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
        );
        CREATE TABLE IF NOT EXISTS transactions (
            id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
            account_id UUID NOT NULL REFERENCES accounts(id),
            occurred_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
            description TEXT NOT NULL DEFAULT '',
            amount_cents BIGINT NOT NULL,
            kind TEXT NOT NULL,
            counterparty_account_id UUID,
            counterparty_email TEXT
        );
        CREATE TABLE IF NOT EXISTS otp_challenges (
            id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
            user_id UUID NOT NULL REFERENCES users(id),
            code TEXT NOT NULL,
            used BOOLEAN NOT NULL DEFAULT FALSE,
            created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
        );
        CREATE INDEX IF NOT EXISTS idx_accounts_user_id ON accounts(user_id);
        CREATE INDEX IF NOT EXISTS idx_transactions_account_id ON transactions(account_id);
    `); err != nil {
		log.Printf("level=warn component=bootstrap msg=\"failed ensuring tables (may already exist)\" err=%v", err)
	}

	// Session state lives in Redis so sessions survive restarts. If Redis is
	// unreachable the service still boots with an in-memory store.
	sessionTTL := time.Duration(cfg.SessionTTLMinutes) * time.Minute
	var sessions session.Store = session.NewMemoryStore()
	if strings.TrimSpace(cfg.RedisURL) == "" {
		log.Println("level=warn component=bootstrap msg=\"redis url missing; sessions held in memory\" env=REDIS_URL")
	} else {
		redisOptions, parseErr := redis.ParseURL(cfg.RedisURL)
		if parseErr != nil {
			log.Printf("level=warn component=bootstrap msg=\"redis url parse failed; sessions held in memory\" err=%v", parseErr)
		} else {
			redisClient := redis.NewClient(redisOptions)
			pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancelPing()
			if pingErr := redisClient.Ping(pingCtx).Err(); pingErr != nil {
				log.Printf("level=warn component=bootstrap msg=\"redis ping failed; sessions held in memory\" err=%v", pingErr)
				redisClient.Close()
			} else {
				defer redisClient.Close()
				sessions = session.NewRedisStore(redisClient, cfg.SessionKeyPrefix, sessionTTL)
				log.Println("level=info component=bootstrap msg=\"redis connected\"")
			}
		}
	}

	// Initialize the RabbitMQ producer to publish email events.
	// This service only needs to publish, so we use a producer.
	var producer portalrabbit.Publisher
	rabbitProducer, err := portalrabbit.NewEventProducer(cfg.RabbitMQURL)
	if err != nil {
		log.Printf("level=warn component=bootstrap msg=\"rabbitmq producer unavailable; using fallback\" err=%v", err)
		producer = &portalrabbit.EventProducerFallback{}
	} else {
		defer rabbitProducer.Close()
		producer = rabbitProducer
		log.Println("level=info component=bootstrap msg=\"rabbitmq producer connected\"")
	}

	// Initialize the data access layer (repository).
	repository := store.NewPostgresRepository(dbpool)

	// Initialize the core application service with its dependencies.
	otpStore := otp.NewStore(repository)
	emailNotifier := notifier.NewEventNotifier(producer, cfg.NotificationExchange, cfg.OtpExpiryMinutes)

	portalService := app.NewService(repository, otpStore, sessions, emailNotifier, app.Options{
		OtpMaxAge:          time.Duration(cfg.OtpExpiryMinutes) * time.Minute,
		EmailTokenSecret:   []byte(cfg.EmailTokenSecret),
		EmailTokenTTL:      time.Duration(cfg.EmailTokenTTLMinutes) * time.Minute,
		VerifyEmailBaseURL: cfg.VerifyEmailBaseURL,
	})

	// Set up the HTTP router and define the API routes.
	router := api.NewRouter(&cfg, portalService)

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
