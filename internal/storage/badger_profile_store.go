package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"

	"studybuddy/internal/models"
)

const (
	profileKeyPrefix   = "profile:"
	maxConflictRetries = 5
)

// BadgerProfileStore implements ProfileStore on an embedded badger database.
// Profiles are stored as JSON under "profile:<id>".
type BadgerProfileStore struct {
	db *badger.DB
}

// BadgerOptions configures OpenBadgerProfileStore.
type BadgerOptions struct {
	Path     string
	InMemory bool
	Logger   *zap.Logger // nil silences badger
}

// OpenBadgerProfileStore opens (or creates) the profile database.
func OpenBadgerProfileStore(opts BadgerOptions) (*BadgerProfileStore, error) {
	var bopts badger.Options
	if opts.InMemory {
		bopts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if opts.Path == "" {
			return nil, errors.New("badger path is required for a persistent store")
		}
		if err := os.MkdirAll(opts.Path, 0750); err != nil {
			return nil, fmt.Errorf("create badger directory %s: %w", opts.Path, err)
		}
		bopts = badger.DefaultOptions(opts.Path)
	}
	if opts.Logger != nil {
		bopts = bopts.WithLogger(&badgerLogger{s: opts.Logger.Named("badger").Sugar()})
	} else {
		bopts = bopts.WithLogger(nil)
	}

	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}
	return &BadgerProfileStore{db: db}, nil
}

// Close releases the database.
func (s *BadgerProfileStore) Close() error {
	return s.db.Close()
}

func profileKey(id string) []byte {
	return []byte(profileKeyPrefix + id)
}

func (s *BadgerProfileStore) Get(ctx context.Context, id string) (*models.UserProfile, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var profile *models.UserProfile
	err := s.db.View(func(txn *badger.Txn) error {
		p, err := readProfile(txn, id)
		profile = p
		return err
	})
	if err != nil {
		return nil, err
	}
	return profile, nil
}

func (s *BadgerProfileStore) Update(ctx context.Context, id string, patch models.ProfilePatch) (*models.UserProfile, error) {
	var updated *models.UserProfile
	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		err := s.db.Update(func(txn *badger.Txn) error {
			p, err := readProfile(txn, id)
			if err != nil {
				return err
			}
			patch.Apply(p)
			p.Touch(time.Now().UTC())
			updated = p
			return writeProfile(txn, p)
		})
		if errors.Is(err, badger.ErrConflict) && attempt < maxConflictRetries {
			continue
		}
		if err != nil {
			return nil, err
		}
		return updated, nil
	}
}

func (s *BadgerProfileStore) Create(ctx context.Context, profile *models.UserProfile) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	profile.EnsureID()
	profile.Touch(time.Now().UTC())
	return s.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get(profileKey(profile.ID))
		switch {
		case err == nil:
			return fmt.Errorf("%w: %s", ErrProfileExists, profile.ID)
		case !errors.Is(err, badger.ErrKeyNotFound):
			return err
		}
		return writeProfile(txn, profile)
	})
}

func (s *BadgerProfileStore) List(ctx context.Context, query ProfileQuery) (*ProfilePage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	after, err := decodePageToken(query.PageToken)
	if err != nil {
		return nil, err
	}
	limit := query.limit()
	page := &ProfilePage{Items: make([]*models.UserProfile, 0, limit)}

	err = s.db.View(func(txn *badger.Txn) error {
		prefix := []byte(profileKeyPrefix)
		it := txn.NewIterator(badger.IteratorOptions{PrefetchValues: true, PrefetchSize: limit, Prefix: prefix})
		defer it.Close()

		start := prefix
		if after != "" {
			start = profileKey(after)
		}
		for it.Seek(start); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			if after != "" && bytes.Equal(item.Key(), start) {
				continue
			}
			var p models.UserProfile
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &p)
			}); err != nil {
				return fmt.Errorf("decode %s: %w", item.Key(), err)
			}
			if !query.matches(&p) {
				continue
			}
			if len(page.Items) == limit {
				page.NextPageToken = encodePageToken(page.Items[limit-1].ID)
				return nil
			}
			page.Items = append(page.Items, &p)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return page, nil
}

func readProfile(txn *badger.Txn, id string) (*models.UserProfile, error) {
	item, err := txn.Get(profileKey(id))
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrProfileNotFound, id)
		}
		return nil, err
	}
	var p models.UserProfile
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &p)
	}); err != nil {
		return nil, fmt.Errorf("decode profile %s: %w", id, err)
	}
	return &p, nil
}

func writeProfile(txn *badger.Txn, p *models.UserProfile) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode profile %s: %w", p.ID, err)
	}
	return txn.Set(profileKey(p.ID), data)
}

// badgerLogger adapts zap to badger.Logger.
type badgerLogger struct {
	s *zap.SugaredLogger
}

func (l *badgerLogger) Errorf(format string, args ...interface{})   { l.s.Errorf(format, args...) }
func (l *badgerLogger) Warningf(format string, args ...interface{}) { l.s.Warnf(format, args...) }
func (l *badgerLogger) Infof(format string, args ...interface{})    { l.s.Infof(format, args...) }
func (l *badgerLogger) Debugf(format string, args ...interface{})   { l.s.Debugf(format, args...) }
