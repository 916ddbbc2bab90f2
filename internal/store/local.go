package store

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	apperrors "github.com/gmsas95/vitalwatch/internal/errors"
	"github.com/gmsas95/vitalwatch/internal/vitals"
)

// Key layout. Timestamps are zero-padded so lexical order is chronological.
// The user segment is hex encoded so no user ID can extend another's prefix.
//
//	vitals:<hex(user)>:<unixnano>:<id>  -> VitalSigns JSON
//	alert:<hex(user)>:<unixnano>:<id>   -> HealthAlert JSON
//	alertidx:<id>                  -> alert key
//	kv:<key>                       -> raw value
const (
	vitalsPrefix   = "vitals:"
	alertPrefix    = "alert:"
	alertIdxPrefix = "alertidx:"
	kvPrefix       = "kv:"
)

// Local is the on-device log backed by BadgerDB
type Local struct {
	badger *badger.DB
}

var _ vitals.LocalStore = (*Local)(nil)

// OpenLocal opens (or creates) the Badger database at path
func OpenLocal(path string) (*Local, error) {
	opts := badger.DefaultOptions(path).
		WithLogger(nil).
		WithNumVersionsToKeep(1).
		WithCompactL0OnClose(true).
		WithValueLogFileSize(16 << 20).
		WithMemTableSize(16 << 20)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger: %w", err)
	}
	return &Local{badger: db}, nil
}

// OpenLocalInMemory opens a throwaway in-memory database
func OpenLocalInMemory() (*Local, error) {
	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
	if err != nil {
		return nil, fmt.Errorf("failed to open badger: %w", err)
	}
	return &Local{badger: db}, nil
}

// Close closes the database
func (l *Local) Close() error {
	return l.badger.Close()
}

// Badger returns the BadgerDB instance
func (l *Local) Badger() *badger.DB {
	return l.badger
}

func tsKey(prefix, userID string, ts time.Time, id string) []byte {
	n := ts.UnixNano()
	if n < 0 {
		n = 0
	}
	return []byte(fmt.Sprintf("%s%s:%020d:%s", prefix, hex.EncodeToString([]byte(userID)), n, id))
}

func userPrefix(prefix, userID string) []byte {
	return []byte(prefix + hex.EncodeToString([]byte(userID)) + ":")
}

// ==================== Vitals ====================

// AppendVitals writes a sample to the log
func (l *Local) AppendVitals(ctx context.Context, v *vitals.VitalSigns) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return l.badger.Update(func(txn *badger.Txn) error {
		return txn.Set(tsKey(vitalsPrefix, v.UserID, v.Timestamp, v.ID), data)
	})
}

// ListVitals returns the newest samples first; limit <= 0 means all
func (l *Local) ListVitals(ctx context.Context, userID string, limit int) ([]vitals.VitalSigns, error) {
	out := []vitals.VitalSigns{}
	err := l.scanReverse(userPrefix(vitalsPrefix, userID), func(val []byte) (bool, error) {
		var v vitals.VitalSigns
		if err := json.Unmarshal(val, &v); err != nil {
			return false, err
		}
		out = append(out, v)
		return limit > 0 && len(out) >= limit, nil
	})
	return out, err
}

// LatestVitals returns the newest sample, or nil when the log is empty
func (l *Local) LatestVitals(ctx context.Context, userID string) (*vitals.VitalSigns, error) {
	list, err := l.ListVitals(ctx, userID, 1)
	if err != nil || len(list) == 0 {
		return nil, err
	}
	return &list[0], nil
}

// ==================== Alerts ====================

// AppendAlerts writes alerts and their id index in one transaction
func (l *Local) AppendAlerts(ctx context.Context, alerts []vitals.HealthAlert) error {
	return l.badger.Update(func(txn *badger.Txn) error {
		for i := range alerts {
			a := &alerts[i]
			data, err := json.Marshal(a)
			if err != nil {
				return err
			}
			key := tsKey(alertPrefix, a.UserID, a.Timestamp, a.ID)
			if err := txn.Set(key, data); err != nil {
				return err
			}
			if err := txn.Set([]byte(alertIdxPrefix+a.ID), key); err != nil {
				return err
			}
		}
		return nil
	})
}

// ListAlerts returns the user's alerts, newest first
func (l *Local) ListAlerts(ctx context.Context, userID string) ([]vitals.HealthAlert, error) {
	out := []vitals.HealthAlert{}
	err := l.scanReverse(userPrefix(alertPrefix, userID), func(val []byte) (bool, error) {
		var a vitals.HealthAlert
		if err := json.Unmarshal(val, &a); err != nil {
			return false, err
		}
		out = append(out, a)
		return false, nil
	})
	return out, err
}

// AcknowledgeAlert flips the acknowledged flag. changed is false when the
// alert was already acknowledged.
func (l *Local) AcknowledgeAlert(ctx context.Context, userID, alertID string, at time.Time) (alert *vitals.HealthAlert, changed bool, err error) {
	err = l.badger.Update(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(alertIdxPrefix + alertID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return apperrors.ErrAlertNotFound
		}
		if err != nil {
			return err
		}
		key, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}

		item, err = txn.Get(key)
		if err != nil {
			return err
		}
		var a vitals.HealthAlert
		if err := item.Value(func(v []byte) error {
			return json.Unmarshal(v, &a)
		}); err != nil {
			return err
		}

		// alerts of other users are invisible
		if a.UserID != userID {
			return apperrors.ErrAlertNotFound
		}

		alert = &a
		if a.Acknowledged {
			return nil
		}

		a.Acknowledged = true
		a.AcknowledgedAt = &at
		data, err := json.Marshal(&a)
		if err != nil {
			return err
		}
		changed = true
		return txn.Set(key, data)
	})
	if err != nil {
		return nil, false, err
	}
	return alert, changed, nil
}

// ==================== KV ====================

// SetKV stores a key-value pair
func (l *Local) SetKV(key string, value []byte) error {
	return l.badger.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(kvPrefix+key), value)
	})
}

// GetKV retrieves a value by key; a missing key yields nil without error
func (l *Local) GetKV(key string) ([]byte, error) {
	var val []byte
	err := l.badger.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(kvPrefix + key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		val, err = item.ValueCopy(nil)
		return err
	})
	return val, err
}

// NotificationsEnabled reports the user's notification toggle; default on
func (l *Local) NotificationsEnabled(ctx context.Context, userID string) bool {
	val, err := l.GetKV("notifications:" + userID)
	if err != nil || val == nil {
		return true
	}
	return string(val) != "off"
}

// SetNotificationsEnabled stores the user's notification toggle
func (l *Local) SetNotificationsEnabled(ctx context.Context, userID string, enabled bool) error {
	v := "on"
	if !enabled {
		v = "off"
	}
	return l.SetKV("notifications:"+userID, []byte(v))
}

// scanReverse walks keys under prefix from the newest. fn returns stop=true
// to end early.
func (l *Local) scanReverse(prefix []byte, fn func(val []byte) (stop bool, err error)) error {
	return l.badger.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		seek := append(append([]byte{}, prefix...), 0xFF)
		for it.Seek(seek); it.ValidForPrefix(prefix); it.Next() {
			var stop bool
			err := it.Item().Value(func(v []byte) error {
				var err error
				stop, err = fn(v)
				return err
			})
			if err != nil {
				return err
			}
			if stop {
				return nil
			}
		}
		return nil
	})
}
