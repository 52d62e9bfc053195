// Package history is the recency cache: one bounded, de-duplicated,
// most-recent-first list of played songs per graph, kept in badger.
package history

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strconv"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
	"github.com/sirupsen/logrus"

	"songmap/internal/apperr"
	"songmap/internal/metrics"
	"songmap/pkg/models"
)

const (
	keyPrefix = "history:graph:"
	separator = "::"

	DefaultLimit = 100

	maxConflictRetries = 200
)

// Options configures Open
type Options struct {
	Path     string
	InMemory bool
	Limit    int
}

// Store keeps per-graph play histories. Every mutation of one graph's list
// is a single badger transaction; concurrent writers to the same list
// conflict and are retried, writers to different lists never touch the same
// key.
type Store struct {
	db     *badger.DB
	limit  int
	logger *logrus.Logger
}

// Open opens the badger database behind the cache
func Open(opts Options, logger *logrus.Logger) (*Store, error) {
	var bopts badger.Options
	if opts.InMemory {
		bopts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		bopts = badger.DefaultOptions(opts.Path)
	}
	bopts = bopts.WithLogger(badgerLogger{logger}).WithLoggingLevel(badger.WARNING)

	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("failed to open history store: %w", err)
	}

	limit := opts.Limit
	if limit < 1 {
		limit = DefaultLimit
	}

	logger.WithFields(logrus.Fields{
		"path":      opts.Path,
		"in_memory": opts.InMemory,
		"limit":     limit,
	}).Info("History store initialized")
	return &Store{db: db, limit: limit, logger: logger}, nil
}

// Limit returns the configured list capacity
func (s *Store) Limit() int {
	return s.limit
}

func key(graphID int64) []byte {
	return []byte(keyPrefix + strconv.FormatInt(graphID, 10))
}

func encodeEntry(songID int64, songName string) string {
	return strconv.FormatInt(songID, 10) + separator + songName
}

// decodeEntry splits "id::name". Names may themselves contain the
// separator; ids never do.
func decodeEntry(raw string) (models.HistoryEntry, error) {
	idText, name, ok := strings.Cut(raw, separator)
	if !ok {
		return models.HistoryEntry{}, fmt.Errorf("malformed history entry %q", raw)
	}
	id, err := strconv.ParseInt(idText, 10, 64)
	if err != nil {
		return models.HistoryEntry{}, fmt.Errorf("malformed history entry %q: %w", raw, err)
	}
	return models.HistoryEntry{SongID: id, SongName: name}, nil
}

// readList loads graphID's list. A value that no longer decodes is treated
// as an empty list, so the next RecordPlay overwrites it.
func (s *Store) readList(txn *badger.Txn, graphID int64) ([]string, error) {
	item, err := txn.Get(key(graphID))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	raw, err := item.ValueCopy(nil)
	if err != nil {
		return nil, err
	}

	var list []string
	if err := json.Unmarshal(raw, &list); err != nil {
		s.logger.WithError(err).WithField("graph_id", graphID).Warn("Resetting undecodable history list")
		return nil, nil
	}
	return list, nil
}

// RecordPlay moves songID to the front of graphID's list, removing any
// earlier occurrence, and truncates the list to limit entries. A limit
// below one uses the configured capacity.
func (s *Store) RecordPlay(ctx context.Context, graphID, songID int64, songName string, limit int) error {
	if limit < 1 {
		limit = s.limit
	}
	entry := encodeEntry(songID, songName)
	prefix := strconv.FormatInt(songID, 10) + separator

	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return apperr.Wrap(apperr.KindCanceled, err, "history update canceled")
		}

		err := s.db.Update(func(txn *badger.Txn) error {
			list, err := s.readList(txn, graphID)
			if err != nil {
				return err
			}

			next := make([]string, 0, min(len(list)+1, limit))
			next = append(next, entry)
			for _, e := range list {
				if len(next) == limit {
					break
				}
				if strings.HasPrefix(e, prefix) {
					continue
				}
				next = append(next, e)
			}

			data, err := json.Marshal(next)
			if err != nil {
				return err
			}
			return txn.Set(key(graphID), data)
		})

		if errors.Is(err, badger.ErrConflict) && attempt < maxConflictRetries {
			metrics.HistoryConflictRetries.Inc()
			select {
			case <-ctx.Done():
				return apperr.Wrap(apperr.KindCanceled, ctx.Err(), "history update canceled")
			case <-time.After(time.Duration(rand.Intn(attempt+1)+1) * 100 * time.Microsecond):
			}
			continue
		}
		if err != nil {
			s.logger.WithError(err).WithField("graph_id", graphID).Error("Failed to record play")
			return apperr.Wrap(apperr.KindUnavailable, err, "failed to record play")
		}
		return nil
	}
}

// PreviousSongID returns the id at the head of graphID's list. Called before
// RecordPlay it is the song played just before the current one.
func (s *Store) PreviousSongID(ctx context.Context, graphID int64) (int64, bool, error) {
	var head string
	err := s.db.View(func(txn *badger.Txn) error {
		list, err := s.readList(txn, graphID)
		if err != nil || len(list) == 0 {
			return err
		}
		head = list[0]
		return nil
	})
	if err != nil {
		return 0, false, apperr.Wrap(apperr.KindUnavailable, err, "failed to read history")
	}
	if head == "" {
		return 0, false, nil
	}

	entry, err := decodeEntry(head)
	if err != nil {
		return 0, false, apperr.Wrap(apperr.KindInternal, err, "corrupt history")
	}
	return entry.SongID, true, nil
}

// FullHistory returns graphID's list, most recent first
func (s *Store) FullHistory(ctx context.Context, graphID int64) ([]models.HistoryEntry, error) {
	var list []string
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		list, err = s.readList(txn, graphID)
		return err
	})
	if err != nil {
		return nil, apperr.Wrap(apperr.KindUnavailable, err, "failed to read history")
	}

	entries := make([]models.HistoryEntry, 0, len(list))
	for _, raw := range list {
		entry, err := decodeEntry(raw)
		if err != nil {
			s.logger.WithError(err).WithField("graph_id", graphID).Warn("Skipping malformed history entry")
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// Clear drops graphID's list
func (s *Store) Clear(ctx context.Context, graphID int64) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(key(graphID))
	})
	if err != nil {
		return apperr.Wrap(apperr.KindUnavailable, err, "failed to clear history")
	}
	return nil
}

// Ping reports whether the store is open
func (s *Store) Ping(ctx context.Context) error {
	if s.db.IsClosed() {
		return apperr.New(apperr.KindUnavailable, "history store is closed")
	}
	return nil
}

// Close closes the underlying badger database. Closing twice is a no-op.
func (s *Store) Close() error {
	if s.db.IsClosed() {
		return nil
	}
	return s.db.Close()
}

// badgerLogger routes badger's internal logging through logrus
type badgerLogger struct {
	logger *logrus.Logger
}

func (l badgerLogger) Errorf(format string, args ...any) {
	l.logger.WithField("component", "badger").Errorf(strings.TrimSpace(format), args...)
}

func (l badgerLogger) Warningf(format string, args ...any) {
	l.logger.WithField("component", "badger").Warnf(strings.TrimSpace(format), args...)
}

func (l badgerLogger) Infof(format string, args ...any) {
	l.logger.WithField("component", "badger").Debugf(strings.TrimSpace(format), args...)
}

func (l badgerLogger) Debugf(format string, args ...any) {
	l.logger.WithField("component", "badger").Debugf(strings.TrimSpace(format), args...)
}
