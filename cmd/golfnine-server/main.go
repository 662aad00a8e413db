// Command golfnine-server runs the authoritative Golf 9 room hub.
package main

import (
	"net/http"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/jpotter-25/GolfScorekeeper-sub002/internal/auth"
	"github.com/jpotter-25/GolfScorekeeper-sub002/internal/config"
	"github.com/jpotter-25/GolfScorekeeper-sub002/internal/server"
)

func main() {
	cfg := config.Load()

	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		log.SetLevel(level)
	}
	entry := logrus.NewEntry(log)

	var rdb *redis.Client
	if cfg.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		entry.WithField("addr", cfg.RedisAddr).Info("action history enabled")
	}

	issuer := auth.NewIssuer([]byte(cfg.AuthSecret))
	hub := server.NewHub(issuer, server.NewHistory(rdb, entry), entry)

	entry.WithField("addr", cfg.ListenAddr).Info("listening")
	if err := http.ListenAndServe(cfg.ListenAddr, hub.Routes()); err != nil {
		entry.WithError(err).Fatal("server stopped")
	}
}
