package config

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// RankingWatcher reloads the [ranking] section whenever the config file is
// written and hands the new weights to a callback.
type RankingWatcher struct {
	path     string
	watcher  *fsnotify.Watcher
	onChange func(RankingConfig)
	logger   *logrus.Logger
	done     chan struct{}
}

// WatchRanking starts watching configPath. The parent directory is watched
// rather than the file so editors that replace the file are still seen.
func WatchRanking(configPath string, onChange func(RankingConfig), logger *logrus.Logger) (*RankingWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create config watcher: %w", err)
	}

	abs, err := filepath.Abs(configPath)
	if err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to resolve config path: %w", err)
	}

	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch config directory: %w", err)
	}

	rw := &RankingWatcher{
		path:     abs,
		watcher:  watcher,
		onChange: onChange,
		logger:   logger,
		done:     make(chan struct{}),
	}
	go rw.loop()

	logger.WithField("path", abs).Info("Ranking weights watcher started")
	return rw, nil
}

func (rw *RankingWatcher) loop() {
	defer close(rw.done)

	// Editors often emit several events per save
	var debounce <-chan time.Time

	for {
		select {
		case event, ok := <-rw.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != rw.path {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				debounce = time.After(100 * time.Millisecond)
			}

		case <-debounce:
			debounce = nil
			rw.reload()

		case err, ok := <-rw.watcher.Errors:
			if !ok {
				return
			}
			rw.logger.WithError(err).Error("Config watcher error")
		}
	}
}

func (rw *RankingWatcher) reload() {
	ranking, err := LoadRanking(rw.path)
	if err != nil {
		rw.logger.WithError(err).Warn("Ignoring invalid ranking configuration")
		return
	}
	rw.logger.WithFields(logrus.Fields{
		"w_user_select":  ranking.UserSelectWeight,
		"w_jump":         ranking.JumpWeight,
		"w_random":       ranking.RandomWeight,
		"cooling_lambda": ranking.CoolingLambda,
	}).Info("Ranking weights reloaded")
	rw.onChange(ranking)
}

// LoadRanking reads only the [ranking] section of a config file, starting
// from the default weights.
func LoadRanking(configPath string) (RankingConfig, error) {
	var file struct {
		Ranking RankingConfig `toml:"ranking"`
	}
	file.Ranking = DefaultRanking()
	if _, err := toml.DecodeFile(configPath, &file); err != nil {
		return RankingConfig{}, fmt.Errorf("failed to parse config file: %w", err)
	}
	if err := file.Ranking.Validate(); err != nil {
		return RankingConfig{}, err
	}
	return file.Ranking, nil
}

// Close stops the watcher
func (rw *RankingWatcher) Close() error {
	err := rw.watcher.Close()
	<-rw.done
	return err
}
