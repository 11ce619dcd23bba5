package blesvc

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger"
)

// Controller is the persisted record of a controller the agent has
// seen. A known address lets later runs skip scanning.
type Controller struct {
	Address         string    `json:"address"`
	Name            string    `json:"name"`
	FirstSeenAt     time.Time `json:"firstSeenAt"`
	LastSeenAt      time.Time `json:"lastSeenAt"`
	LastConnectedAt time.Time `json:"lastConnectedAt,omitempty"`
}

// Registry stores controller records in badger.
type Registry struct {
	db  *badger.DB
	now func() time.Time
}

func NewRegistry(db *badger.DB, now func() time.Time) *Registry {
	return &Registry{db: db, now: now}
}

func controllerKey(address string) []byte {
	return []byte("ble/controllers/" + address)
}

// Observe upserts a controller record after a scan hit.
func (r *Registry) Observe(address, name string) error {
	now := r.now()
	return r.update(address, func(c *Controller) {
		c.Name = name
		if c.FirstSeenAt.IsZero() {
			c.FirstSeenAt = now
		}
		c.LastSeenAt = now
	})
}

// MarkConnected records a successful connection.
func (r *Registry) MarkConnected(address string) error {
	now := r.now()
	return r.update(address, func(c *Controller) {
		if c.FirstSeenAt.IsZero() {
			c.FirstSeenAt = now
		}
		c.LastSeenAt = now
		c.LastConnectedAt = now
	})
}

func (r *Registry) update(address string, mutate func(*Controller)) error {
	err := r.db.Update(func(txn *badger.Txn) error {
		key := controllerKey(address)
		var c Controller
		item, err := txn.Get(key)
		switch {
		case errors.Is(err, badger.ErrKeyNotFound):
		case err != nil:
			return err
		default:
			err = item.Value(func(val []byte) error {
				return json.Unmarshal(val, &c)
			})
			if err != nil {
				return fmt.Errorf("failed to unmarshal controller: %w", err)
			}
		}
		c.Address = address
		mutate(&c)
		b, err := json.Marshal(c)
		if err != nil {
			return fmt.Errorf("failed to marshal controller: %w", err)
		}
		return txn.Set(key, b)
	})
	if err != nil {
		return fmt.Errorf("failed to store controller %s: %w", address, err)
	}
	return nil
}

// LastConnected returns the most recently connected controller, if any.
func (r *Registry) LastConnected() (Controller, bool, error) {
	var (
		best  Controller
		found bool
	)
	controllers, err := r.List()
	if err != nil {
		return Controller{}, false, err
	}
	for _, c := range controllers {
		if c.LastConnectedAt.IsZero() {
			continue
		}
		if !found || c.LastConnectedAt.After(best.LastConnectedAt) {
			best = c
			found = true
		}
	}
	return best, found, nil
}

// List returns all stored controller records.
func (r *Registry) List() ([]Controller, error) {
	var controllers []Controller
	err := r.db.View(func(txn *badger.Txn) error {
		iter := txn.NewIterator(badger.DefaultIteratorOptions)
		defer iter.Close()
		prefix := []byte("ble/controllers/")
		for iter.Seek(prefix); iter.ValidForPrefix(prefix); iter.Next() {
			var c Controller
			err := iter.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &c)
			})
			if err != nil {
				return fmt.Errorf("failed to unmarshal controller: %w", err)
			}
			controllers = append(controllers, c)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list controllers: %w", err)
	}
	return controllers, nil
}
