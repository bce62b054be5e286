/*
Package accounts is the local profile record store used by the CLI. It
keeps saved provider credential profiles and the session id currently
minted for each profile. Records live in a badger database on the
operator's machine only; the proxy never sees this store.
*/
package accounts

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/dgraph-io/badger/v3"
	"github.com/google/uuid"
)

const (
	profilePrefix = "profile::"
	sessionPrefix = "session::"
)

// Profile is one saved credential triple plus the optional upload
// preferences attached to it.
type Profile struct {
	ID           string    `json:"id"`
	Label        string    `json:"label"`
	CloudName    string    `json:"cloud_name"`
	APIKey       string    `json:"api_key"`
	APISecret    string    `json:"api_secret"`
	UploadPreset string    `json:"upload_preset,omitempty"`
	Folder       string    `json:"folder,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

type Store struct {
	logger *slog.Logger
	db     *badger.DB
}

func New(directory string, logger *slog.Logger) (*Store, error) {
	if err := os.MkdirAll(directory, 0700); err != nil {
		return nil, &ErrInternal{Err: err}
	}

	db, err := badger.Open(
		badger.DefaultOptions(filepath.Join(directory, "records")).
			WithLogger(newLogger(logger.WithGroup("records"))))
	if err != nil {
		return nil, &ErrInternal{Err: err}
	}

	return &Store{
		logger: logger.WithGroup("accounts"),
		db:     db,
	}, nil
}

func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		s.logger.Error("error closing records db", "error", err)
		return &ErrInternal{Err: err}
	}
	return nil
}

// Add saves a new profile and hands back its generated id.
func (s *Store) Add(profile Profile) (string, error) {
	if profile.Label == "" {
		return "", fmt.Errorf("label cannot be empty")
	}
	if profile.CloudName == "" || profile.APIKey == "" || profile.APISecret == "" {
		return "", fmt.Errorf("cloudName, apiKey, and apiSecret are all required")
	}

	profile.ID = uuid.NewString()
	profile.CreatedAt = time.Now().UTC()

	data, err := json.Marshal(profile)
	if err != nil {
		return "", &ErrInternal{Err: err}
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(profilePrefix+profile.ID), data)
	})
	if err != nil {
		return "", &ErrInternal{Err: err}
	}

	s.logger.Debug("Profile saved", "id", profile.ID, "label", profile.Label)
	return profile.ID, nil
}

func (s *Store) Get(id string) (*Profile, error) {
	var profile Profile
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(profilePrefix + id))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return &ErrProfileNotFound{ID: id}
			}
			return &ErrInternal{Err: err}
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &profile)
		})
	})
	if err != nil {
		return nil, err
	}
	return &profile, nil
}

// List returns every saved profile ordered by label.
func (s *Store) List() ([]Profile, error) {
	var profiles []Profile
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefixBytes := []byte(profilePrefix)
		for it.Seek(prefixBytes); it.ValidForPrefix(prefixBytes); it.Next() {
			var profile Profile
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &profile)
			})
			if err != nil {
				return &ErrInternal{Err: err}
			}
			profiles = append(profiles, profile)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(profiles, func(i, j int) bool {
		return profiles[i].Label < profiles[j].Label
	})
	return profiles, nil
}

// Delete removes a profile and any session mapping tied to it. Deleting
// an unknown profile is a no-op.
func (s *Store) Delete(id string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Delete([]byte(profilePrefix + id)); err != nil {
			return err
		}
		return txn.Delete([]byte(sessionPrefix + id))
	})
	if err != nil {
		return &ErrInternal{Err: err}
	}
	s.logger.Debug("Profile deleted", "id", id)
	return nil
}

// SetSession records the session id currently minted for a profile.
func (s *Store) SetSession(profileID, sessionID string) error {
	if _, err := s.Get(profileID); err != nil {
		return err
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(sessionPrefix+profileID), []byte(sessionID))
	})
	if err != nil {
		return &ErrInternal{Err: err}
	}
	return nil
}

func (s *Store) GetSession(profileID string) (string, error) {
	var sessionID []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(sessionPrefix + profileID))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return &ErrNoActiveSession{ProfileID: profileID}
			}
			return &ErrInternal{Err: err}
		}
		sessionID, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return "", err
	}
	return string(sessionID), nil
}

// ClearSession forgets the session mapping for a profile. Clearing a
// mapping that does not exist is a no-op.
func (s *Store) ClearSession(profileID string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(sessionPrefix + profileID))
	})
	if err != nil {
		return &ErrInternal{Err: err}
	}
	return nil
}
