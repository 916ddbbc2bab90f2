package store

import (
	"fmt"

	"github.com/gmsas95/vitalwatch/internal/config"
)

// Store bundles the local log and the optional sync store
type Store struct {
	Local *Local
	Sync  *Sync
}

// New opens the stores described by cfg. Sync is nil when disabled.
func New(cfg *config.Config) (*Store, error) {
	local, err := OpenLocal(cfg.Storage.BadgerPath)
	if err != nil {
		return nil, err
	}

	s := &Store{Local: local}

	if cfg.Sync.Enabled {
		sync, err := OpenSync(cfg.Sync.Driver, cfg.Sync.DSN)
		if err != nil {
			local.Close()
			return nil, fmt.Errorf("failed to open sync store: %w", err)
		}
		s.Sync = sync
	}

	return s, nil
}

// Close closes all database connections
func (s *Store) Close() error {
	var firstErr error
	if s.Sync != nil {
		if err := s.Sync.Close(); err != nil {
			firstErr = err
		}
	}
	if err := s.Local.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
