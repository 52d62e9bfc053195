package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"songmap/internal/config"
	"songmap/internal/database"
	"songmap/internal/logging"
	"songmap/internal/metadata"
	"songmap/internal/seed"
)

func main() {
	configPath := flag.String("config", "./config.toml", "path to the configuration file")
	library := flag.String("library", "", "music library to scan (defaults to seed.library_path)")
	flag.Parse()

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

	libraryPath := cfg.Seed.LibraryPath
	if *library != "" {
		libraryPath = *library
	}
	if _, err := os.Stat(libraryPath); os.IsNotExist(err) {
		logger.WithField("library_path", libraryPath).Fatal("Music directory does not exist")
	}

	if err := run(cfg, libraryPath, logger); err != nil {
		logger.WithError(err).Error("Seeding failed")
		closeLog()
		os.Exit(1)
	}
}

func run(cfg *config.Config, libraryPath string, logger *logrus.Logger) error {
	db, err := database.NewDatabase(database.OptionsFromConfig(cfg), logger)
	if err != nil {
		return fmt.Errorf("failed to open graph store: %w", err)
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	extractor := metadata.NewExtractor(cfg.Seed.SupportedFormats, logger)
	seeder := seed.NewSeeder(extractor, db, cfg.Seed.Workers, logger)

	result, err := seeder.Seed(ctx, libraryPath, cfg.Graphs.TemplateNamespace)
	if err != nil {
		return err
	}

	if result.Songs == 0 {
		logger.WithField("supported_formats", cfg.Seed.SupportedFormats).Warn("No supported audio files found in music directory")
	}
	fmt.Printf("Seeded %d songs and %d edges from %d albums into %s (%d files skipped)\n",
		result.Songs, result.Edges, result.Albums, cfg.Graphs.TemplateNamespace, result.Failed)
	return nil
}
