package main

import (
	"context"
	"flag"
	"log"
	"net/http"

	"go.uber.org/zap"

	"github.com/guessparty/backend/internal/config"
	"github.com/guessparty/backend/internal/history"
	"github.com/guessparty/backend/internal/httpapi"
	"github.com/guessparty/backend/internal/hub"
)

func main() {
	configPath := flag.String("config", "", "path to server.yaml")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sl := logger.Sugar()

	var onSettled func(roomID string, payload []byte)
	if cfg.DatabaseURL != "" {
		store, err := history.Open(cfg.DatabaseURL, sl)
		if err != nil {
			sl.Fatalw("opening history store", "err", err)
		}
		onSettled = store.SaveRound
		sl.Infow("settlement archive enabled")
	}

	h := hub.NewHub(context.Background(), hub.Options{
		MaxRooms:    cfg.MaxRooms,
		IdleTimeout: cfg.RoomIdleTimeout,
		OnSettled:   onSettled,
		Log:         sl,
	})

	handler := httpapi.SetupRoutes(h, sl)
	sl.Infow("listening", "addr", cfg.Addr(), "maxRooms", cfg.MaxRooms)
	if err := http.ListenAndServe(cfg.Addr(), handler); err != nil {
		sl.Fatalw("server stopped", "err", err)
	}
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, err
	}
	zcfg := zap.NewProductionConfig()
	zcfg.Level = lvl
	return zcfg.Build()
}
