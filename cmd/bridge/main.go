// cmd/bridge/main.go
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"time"

	_ "github.com/joho/godotenv/autoload"
	"github.com/sirupsen/logrus"

	"github.com/quizwire/quizwire/internal/auth"
	"github.com/quizwire/quizwire/internal/bridge"
	"github.com/quizwire/quizwire/internal/config"
	"github.com/quizwire/quizwire/internal/database"
	"github.com/quizwire/quizwire/internal/middleware"
)

func main() {
	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		logrus.Fatalf("failed to load config: %v", err)
	}

	logger := logrus.New()
	if level, err := logrus.ParseLevel(cfg.Logging.Level); err == nil {
		logger.SetLevel(level)
	}

	auth.Init()
	database.ConnectDB()
	defer database.DB.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := database.EnsureSchema(ctx); err != nil {
		logger.Fatalf("schema init failed: %v", err)
	}
	cancel()

	hub := bridge.NewHub(logger)
	pool := bridge.NewPool(cfg.TCPAddr(), hub, logger)
	defer pool.Close()

	api := bridge.NewAPIServer(pool, hub, logger)
	handler := middleware.LogMiddleware(logger)(api.Routes())

	srv := &http.Server{
		Addr:        cfg.HTTPAddr(),
		Handler:     handler,
		ReadTimeout: 10 * time.Second,
		// No WriteTimeout: /api/events streams indefinitely.
	}

	logger.Infof("bridge listening on %s (game server at %s)", cfg.HTTPAddr(), cfg.TCPAddr())

	errc := make(chan error, 1)
	go func() {
		errc <- srv.ListenAndServe()
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt)
	select {
	case err := <-errc:
		logger.Errorf("failed to serve: %v", err)
	case sig := <-sigs:
		logger.Infof("terminating: %v", sig)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	srv.Shutdown(shutdownCtx)
}
