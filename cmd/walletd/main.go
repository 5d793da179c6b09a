// Command walletd runs the wallet balance ledger service
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/coinpulse/walletcore/internal/config"
	"github.com/coinpulse/walletcore/internal/database"
	"github.com/coinpulse/walletcore/internal/marketfeeds"
	"github.com/coinpulse/walletcore/internal/server"
	"github.com/coinpulse/walletcore/internal/wallet/cache"
	"github.com/coinpulse/walletcore/internal/wallet/events"
	"github.com/coinpulse/walletcore/internal/wallet/interfaces"
	"github.com/coinpulse/walletcore/internal/wallet/repository"
	"github.com/coinpulse/walletcore/internal/wallet/services"
	"github.com/coinpulse/walletcore/pkg/logger"
	"github.com/coinpulse/walletcore/pkg/metrics"
)

func main() {
	// .env is optional, environment wins
	_ = godotenv.Load()

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.NewLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := run(cfg, log); err != nil {
		log.Fatal("walletd exited with error", zap.Error(err))
	}
}

func run(cfg *config.Config, log *zap.Logger) error {
	db, err := database.NewPostgresDB(
		cfg.Database.DSN,
		cfg.Database.MaxOpenConns,
		cfg.Database.MaxIdleConns,
		cfg.Database.ConnMaxLifetime,
	)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	repo := repository.NewWalletRepository(db, log)
	if err := repo.AutoMigrate(); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	if err := repo.CreateIndexes(); err != nil {
		return fmt.Errorf("failed to create indexes: %w", err)
	}

	// Redis is optional: the engine runs uncached without it
	var balanceCache *cache.RedisBalanceCache
	var streamPublisher *events.RedisStreamPublisher
	redisClient, err := database.NewRedisClient(cfg.Redis.Address, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		log.Warn("redis unavailable, running without balance cache", zap.Error(err))
	} else {
		balanceCache = cache.NewRedisBalanceCache(redisClient, log, "walletcore")
		streamPublisher = events.NewRedisStreamPublisher(redisClient, log)
	}

	var sinks []events.Publisher
	if streamPublisher != nil {
		sinks = append(sinks, streamPublisher)
	}
	var kafkaPublisher *events.KafkaPublisher
	if cfg.Kafka.Enabled {
		kafkaPublisher = events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic, log)
		sinks = append(sinks, kafkaPublisher)
	}
	var publisher *events.LedgerEventPublisher
	if len(sinks) > 0 {
		publisher = events.NewLedgerEventPublisher(sinks, cfg.Kafka.Topic, log)
	}

	feeds := marketfeeds.NewService(log, db, cfg.Wallet.PriceRefreshInterval, nil)
	if err := feeds.Start(); err != nil {
		return fmt.Errorf("failed to start market feeds: %w", err)
	}
	defer feeds.Stop()

	// interface fields stay nil unless the concrete collaborator exists,
	// so the engine's nil checks degrade gracefully
	var cacheDep interfaces.BalanceCache
	if balanceCache != nil {
		cacheDep = balanceCache
	}
	var eventsDep interfaces.EventPublisher
	if publisher != nil {
		eventsDep = publisher
	}

	svc := services.NewService(db, log, repo, cacheDep, feeds, eventsDep, services.Config{
		CashCurrency:        cfg.Wallet.CashCurrency,
		BalanceCacheTTL:     cfg.Wallet.BalanceCacheTTL,
		ConsistencyInterval: cfg.Wallet.ConsistencyInterval,
	})
	if err := svc.Start(); err != nil {
		return fmt.Errorf("failed to start wallet core: %w", err)
	}
	defer svc.Stop()

	go reportDBPoolMetrics(db, log)

	srv := server.NewServer(log, svc, feeds, repo)
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start(fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port))
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-quit:
		log.Info("received shutdown signal", zap.String("signal", sig.String()))
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shut down server: %w", err)
	}

	if kafkaPublisher != nil {
		if err := kafkaPublisher.Close(); err != nil {
			log.Warn("failed to close kafka publisher", zap.Error(err))
		}
	}

	log.Info("walletd stopped")
	return nil
}

// reportDBPoolMetrics exports connection pool gauges every 15 seconds
func reportDBPoolMetrics(db *gorm.DB, log *zap.Logger) {
	sqlDB, err := db.DB()
	if err != nil {
		log.Warn("failed to access sql.DB for pool metrics", zap.Error(err))
		return
	}

	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for range ticker.C {
		stats := sqlDB.Stats()
		metrics.DBOpenConns.WithLabelValues("postgres").Set(float64(stats.OpenConnections))
		metrics.DBIdleConns.WithLabelValues("postgres").Set(float64(stats.Idle))
		metrics.DBInUseConns.WithLabelValues("postgres").Set(float64(stats.InUse))
	}
}
