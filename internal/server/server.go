// Package server assembles the HTTP surface of the wallet service
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/coinpulse/walletcore/internal/wallet/handlers/rest"
	"github.com/coinpulse/walletcore/internal/wallet/interfaces"
	"github.com/coinpulse/walletcore/internal/wallet/repository"
)

// Server is the HTTP API server
type Server struct {
	router *gin.Engine
	logger *zap.Logger
	repo   *repository.WalletRepository
	http   *http.Server
}

// NewServer creates the API server and registers all routes
func NewServer(
	logger *zap.Logger,
	walletService interfaces.WalletService,
	priceService rest.PriceService,
	repo *repository.WalletRepository,
) *Server {
	server := &Server{
		logger: logger,
		repo:   repo,
	}

	router := gin.New()
	router.Use(ginzap.Ginzap(logger, time.RFC3339, true))
	router.Use(ginzap.RecoveryWithZap(logger, true))
	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "X-User-ID"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	api := router.Group("/api/v1")
	{
		api.GET("/metrics", gin.WrapH(promhttp.Handler()))
		api.GET("/health", server.healthCheck)

		rest.NewWalletHandler(walletService).RegisterRoutes(api)
		rest.NewMarketHandler(priceService).RegisterRoutes(api)
	}

	server.router = router
	return server
}

// Router returns the internal Gin engine for testing purposes
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Start serves HTTP on addr until Shutdown is called
func (s *Server) Start(addr string) error {
	s.http = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	s.logger.Info("starting API server", zap.String("addr", addr))
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests and stops the server
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	s.logger.Info("shutting down API server")
	return s.http.Shutdown(ctx)
}

func (s *Server) healthCheck(c *gin.Context) {
	if err := s.repo.HealthCheck(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "unhealthy",
			"error":  err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Format(time.RFC3339),
	})
}
