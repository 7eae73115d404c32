package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/logger"
	_ "github.com/joho/godotenv/autoload"

	"raffle/internal/config"
	"raffle/internal/handlers"
	"raffle/internal/models"
	"raffle/internal/schedule"
	"raffle/internal/services"
	"raffle/internal/storage"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("raffle: %v", err)
	}
}

func run() error {
	// 1. Load configuration (config.yaml, RAFFLE_* env, .env)
	cfgManager := config.NewManager()
	cfg, err := cfgManager.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// 2. Initialize logging
	logOut, verbose, err := logOutput(cfg.Log)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer logger.Init("raffle", verbose, false, logOut).Close()

	// 3. Open the history store
	kv, err := storage.Open(storageOptions(cfg))
	if err != nil {
		logger.Errorf("Failed to open history storage: %v", err)
		return err
	}
	defer kv.Close()
	history := services.NewHistoryStore(kv, cfg.Storage.Key, cfg.Storage.HistoryLimit)

	// 4. Initialize the Raffle Service
	raffleService := services.NewRaffleService(history, services.Options{
		Scheduler: schedule.New(),
		Limits:    drawLimits(cfg.Draw),
		Spin:      spinSettings(cfg.Spin),
	})
	defer raffleService.Close()

	cfgManager.Watch(func(c *config.Config) {
		raffleService.SetLimits(drawLimits(c.Draw))
	})

	// 5. Set up the Gin router
	gin.SetMode(cfg.Server.Mode)
	r := gin.Default()
	r.Use(cors.New(cors.Config{
		AllowOrigins:  cfg.Server.AllowedOrigins,
		AllowMethods:  []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type"},
		ExposeHeaders: []string{"Content-Disposition"},
		MaxAge:        12 * time.Hour,
	}))

	// 6. Register routes
	httpHandler := handlers.NewHTTPHandler(raffleService, cfg.Server.MaxUploadMB<<20)
	httpHandler.RegisterRoutes(r)

	// 7. Run the server until interrupted
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := newServer(cfg.Server.Address, r, raffleService)
	if err := serve(ctx, srv, shutdownTimeout); err != nil {
		logger.Errorf("Server stopped: %v", err)
		return err
	}
	return nil
}

const shutdownTimeout = 10 * time.Second

// logOutput picks where logs go. Without a log file everything goes to the
// console, so info and warning lines are not lost. The logger closes the file.
func logOutput(cfg config.LogConfig) (io.Writer, bool, error) {
	if cfg.File == "" {
		return io.Discard, true, nil
	}
	f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o660)
	if err != nil {
		return nil, false, err
	}
	return f, cfg.Verbose, nil
}

// newServer builds the HTTP server. Shutdown closes the service's event
// subscriptions, otherwise open event streams would hold it until the timeout.
func newServer(addr string, handler http.Handler, service *services.RaffleService) *http.Server {
	srv := &http.Server{Addr: addr, Handler: handler}
	srv.RegisterOnShutdown(service.Close)
	return srv
}

// serve runs srv until ctx is done, then shuts it down within timeout.
// A listener failure is returned as soon as it happens.
func serve(ctx context.Context, srv *http.Server, timeout time.Duration) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Infof("Server starting on %s", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func storageOptions(cfg *config.Config) storage.Options {
	return storage.Options{
		Driver:        cfg.Storage.Driver,
		Path:          cfg.Storage.Path,
		Bucket:        cfg.Storage.Bucket,
		RedisAddr:     cfg.Storage.Redis.Addr,
		RedisPassword: cfg.Storage.Redis.Password,
		RedisDB:       cfg.Storage.Redis.DB,
		Breaker: storage.BreakerSettings{
			Enabled:      cfg.Breaker.Enabled,
			MaxRequests:  cfg.Breaker.MaxRequests,
			Interval:     cfg.Breaker.Interval,
			Timeout:      cfg.Breaker.Timeout,
			FailureRatio: cfg.Breaker.FailureRatio,
			MinRequests:  cfg.Breaker.MinRequests,
		},
	}
}

func drawLimits(d config.DrawConfig) services.DrawLimits {
	return services.DrawLimits{
		Defaults: models.DrawConfig{
			TotalWinners:        d.TotalWinners,
			HighlightTopWinners: d.HighlightTopWinners,
			TopWinnersCount:     d.TopWinners,
		},
		MaxTotalWinners: d.MaxTotalWinners,
		MaxTopWinners:   d.MaxTopWinners,
	}
}

func spinSettings(s config.SpinConfig) services.SpinSettings {
	return services.SpinSettings{
		Duration:      s.Duration,
		BaseInterval:  s.BaseInterval,
		RampInterval:  s.RampInterval,
		FlashCount:    s.FlashCount,
		FlashInterval: s.FlashInterval,
		Hold:          s.Hold,
	}
}
