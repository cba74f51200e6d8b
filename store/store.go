// Package store persists the host's provisioning record and the set of
// registered mobiles as a single JSON file under the application data
// directory.
package store

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/user/webcam-direct/logger"
	"github.com/user/webcam-direct/session"
)

type appData struct {
	HostInfo          session.HostInfo          `json:"host_info"`
	RegisteredMobiles map[string]session.Mobile `json:"registered_mobiles"`
}

// Store is a session.DataStore backed by one JSON file. Reads and writes
// go through a mutex; the dispatcher is the usual single caller but the
// file is also readable from CLI tooling.
type Store struct {
	mu   sync.Mutex
	path string
	data appData
}

// Open loads the store file under dir, creating it with a fresh host
// identity on first run.
func Open(dir, name string) (*Store, error) {
	path := filepath.Join(dir, name)
	s := &Store{path: path}

	raw, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := json.Unmarshal(raw, &s.data); err != nil {
			return nil, errors.Wrapf(err, "parsing %s", path)
		}
	case os.IsNotExist(err):
		hostname, herr := os.Hostname()
		if herr != nil {
			hostname = "unknown-host"
		}
		s.data = appData{
			HostInfo: session.HostInfo{
				ID:             uuid.NewString(),
				Name:           hostname,
				ConnectionType: session.ConnectionWLAN,
			},
			RegisteredMobiles: make(map[string]session.Mobile),
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, errors.Wrapf(err, "creating data dir %s", dir)
		}
		if err := s.persist(); err != nil {
			return nil, err
		}
		logger.Info("store", "created host record %s (%s)", s.data.HostInfo.ID, hostname)
	default:
		return nil, errors.Wrapf(err, "reading %s", path)
	}

	if s.data.RegisteredMobiles == nil {
		s.data.RegisteredMobiles = make(map[string]session.Mobile)
	}
	return s, nil
}

// HostProvInfo returns the host provisioning record.
func (s *Store) HostProvInfo() (session.HostInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.HostInfo, nil
}

// AddMobile inserts or replaces a mobile record and persists the file.
func (s *Store) AddMobile(m session.Mobile) error {
	if m.ID == "" {
		return errors.New("mobile record has no id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.data.RegisteredMobiles[m.ID] = m
	if err := s.persist(); err != nil {
		return err
	}
	logger.Debug("store", "mobile %s (%q) saved, %d registered", m.ID, m.Name, len(s.data.RegisteredMobiles))
	return nil
}

// Mobile looks up a registered mobile by id.
func (s *Store) Mobile(id string) (session.Mobile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.data.RegisteredMobiles[id]
	if !ok {
		return session.Mobile{}, errors.Errorf("mobile %s is not registered", id)
	}
	return m, nil
}

// Mobiles returns a copy of every registered mobile record.
func (s *Store) Mobiles() map[string]session.Mobile {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]session.Mobile, len(s.data.RegisteredMobiles))
	for id, m := range s.data.RegisteredMobiles {
		out[id] = m
	}
	return out
}

// persist writes the file; caller holds the mutex.
func (s *Store) persist() error {
	raw, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return errors.Wrap(err, "marshaling store data")
	}
	if err := os.WriteFile(s.path, raw, 0644); err != nil {
		return errors.Wrapf(err, "writing %s", s.path)
	}
	return nil
}
