// cmd/gameserver/main.go
package main

import (
	"os"
	"os/signal"

	_ "github.com/joho/godotenv/autoload"
	"github.com/sirupsen/logrus"

	"github.com/quizwire/quizwire/internal/cache"
	"github.com/quizwire/quizwire/internal/config"
	"github.com/quizwire/quizwire/internal/server"
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

	opts := []server.Option{server.WithEndedTTL(cfg.Game.EndedTTL)}

	// The result queue is optional; the server runs fine without Redis.
	if os.Getenv("REDIS_ADDR") != "" {
		publisher, err := cache.Connect()
		if err != nil {
			logger.Warnf("result queue disabled: %v", err)
		} else {
			defer publisher.Close()
			opts = append(opts, server.WithResultPublisher(publisher))
			logger.Info("publishing game results to Redis")
		}
	}

	srv := server.New(logger, opts...)
	if err := srv.Listen(cfg.TCPAddr()); err != nil {
		logger.Fatalf("failed to listen: %v", err)
	}

	errc := make(chan error, 1)
	go func() {
		errc <- srv.Serve()
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt)
	select {
	case err := <-errc:
		logger.Errorf("failed to serve: %v", err)
	case sig := <-sigs:
		logger.Infof("terminating: %v", sig)
	}
	srv.Close()
}
