package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"songmap/internal/auth"
	"songmap/internal/config"
	"songmap/internal/database"
	"songmap/internal/history"
	"songmap/internal/listening"
	"songmap/internal/logging"
	"songmap/internal/namespace"
	"songmap/internal/properties"
	"songmap/internal/recommend"
	"songmap/internal/server"
)

func main() {
	configPath := flag.String("config", "./config.toml", "path to the configuration file")
	flag.Parse()

	// Basic logger until the configured one exists
	bootLogger := logrus.New()
	bootLogger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		bootLogger.WithError(err).Fatal("Error loading configuration")
	}

	logger, closeLog, err := logging.New(cfg.Logging)
	if err != nil {
		bootLogger.WithError(err).Fatal("Error configuring logging")
	}
	defer closeLog()

	db, err := database.NewDatabase(database.OptionsFromConfig(cfg), logger)
	if err != nil {
		logger.WithError(err).Fatal("Error initializing graph store")
	}
	defer db.Close()

	hist, err := history.Open(history.Options{
		Path:     cfg.History.Path,
		InMemory: cfg.History.InMemory,
		Limit:    cfg.History.Limit,
	}, logger)
	if err != nil {
		logger.WithError(err).Fatal("Error opening history store")
	}
	defer hist.Close()

	manager, err := namespace.NewManager(db, hist, namespace.Options{
		TemplateNamespace: cfg.Graphs.TemplateNamespace,
		CacheSize:         cfg.Graphs.TagCacheSize,
		CacheTTL:          time.Duration(cfg.Graphs.TagCacheTTLSecs) * time.Second,
	}, logger)
	if err != nil {
		logger.WithError(err).Fatal("Error creating namespace manager")
	}

	engine := recommend.NewEngine(db, recommend.WeightsFromConfig(cfg.Ranking), time.Now, logger)
	if cfg.Ranking.Watch {
		watcher, err := config.WatchRanking(*configPath, func(r config.RankingConfig) {
			engine.SetWeights(recommend.WeightsFromConfig(r))
		}, logger)
		if err != nil {
			logger.WithError(err).Warn("Could not watch ranking weights, continuing with static weights")
		} else {
			defer watcher.Close()
		}
	}

	authService := auth.NewService(&cfg.Auth, db, logger)
	defer authService.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := authService.EnsureAdmin(ctx); err != nil {
		logger.WithError(err).Fatal("Error preparing accounts")
	}

	srv := server.NewServer(cfg, server.Dependencies{
		Auth:       authService,
		Namespaces: manager,
		Listening:  listening.NewService(manager, db, hist, engine, hist.Limit(), logger),
		Properties: properties.NewAdministrator(db),
		GraphStore: db,
		History:    hist,
	}, logger)

	logger.WithFields(logrus.Fields{
		"database": cfg.Database.Path,
		"history":  cfg.History.Path,
		"template": manager.Template(),
	}).Info("SongMap starting")

	if err := srv.Start(ctx); err != nil {
		logger.WithError(err).Error("Server stopped with error")
	}
}
