package state

import (
	"encoding/json"
	"errors"
	"fmt"

	"kleolend/storage"
)

// Manager layers a journaled write buffer over a storage.Database so a
// composite ledger operation can be reverted wholesale when any of its
// cross-module calls fails. Writes stay in the overlay until Commit; Snapshot
// and RevertToSnapshot bracket each public entry point.
type Manager struct {
	db        storage.Database
	overlay   map[string]*overlayValue
	journal   []journalEntry
	snapshots []int
}

type overlayValue struct {
	data    []byte
	deleted bool
}

type journalEntry struct {
	key      string
	prev     *overlayValue
	hadEntry bool
}

// NewManager constructs a state manager over the supplied database.
func NewManager(db storage.Database) *Manager {
	return &Manager{
		db:      db,
		overlay: make(map[string]*overlayValue),
	}
}

var errNilManager = errors.New("state: manager not initialised")

// KVGet loads and JSON-decodes the value stored under key. The boolean result
// reports whether the key exists.
func (m *Manager) KVGet(key []byte, out interface{}) (bool, error) {
	if m == nil {
		return false, errNilManager
	}
	if entry, ok := m.overlay[string(key)]; ok {
		if entry.deleted {
			return false, nil
		}
		if out != nil {
			if err := json.Unmarshal(entry.data, out); err != nil {
				return false, fmt.Errorf("state: decode %q: %w", key, err)
			}
		}
		return true, nil
	}
	raw, err := m.db.Get(key)
	if errors.Is(err, storage.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return false, fmt.Errorf("state: decode %q: %w", key, err)
		}
	}
	return true, nil
}

// KVPut JSON-encodes value and stages it in the overlay.
func (m *Manager) KVPut(key []byte, value interface{}) error {
	if m == nil {
		return errNilManager
	}
	encoded, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("state: encode %q: %w", key, err)
	}
	m.stage(string(key), &overlayValue{data: encoded})
	return nil
}

// KVDelete stages a deletion in the overlay.
func (m *Manager) KVDelete(key []byte) error {
	if m == nil {
		return errNilManager
	}
	m.stage(string(key), &overlayValue{deleted: true})
	return nil
}

func (m *Manager) stage(key string, value *overlayValue) {
	prev, had := m.overlay[key]
	m.journal = append(m.journal, journalEntry{key: key, prev: prev, hadEntry: had})
	m.overlay[key] = value
}

// Snapshot marks the current journal position and returns a handle for
// RevertToSnapshot.
func (m *Manager) Snapshot() int {
	m.snapshots = append(m.snapshots, len(m.journal))
	return len(m.snapshots) - 1
}

// RevertToSnapshot unwinds every staged write made after the snapshot was
// taken. Later snapshots are discarded.
func (m *Manager) RevertToSnapshot(id int) {
	if m == nil || id < 0 || id >= len(m.snapshots) {
		return
	}
	target := m.snapshots[id]
	for i := len(m.journal) - 1; i >= target; i-- {
		entry := m.journal[i]
		if entry.hadEntry {
			m.overlay[entry.key] = entry.prev
		} else {
			delete(m.overlay, entry.key)
		}
	}
	m.journal = m.journal[:target]
	m.snapshots = m.snapshots[:id]
}

// DiscardSnapshot drops the snapshot handle while keeping the staged writes.
func (m *Manager) DiscardSnapshot(id int) {
	if m == nil || id < 0 || id >= len(m.snapshots) {
		return
	}
	m.snapshots = m.snapshots[:id]
}

// Commit flushes every staged write to the underlying database and resets the
// overlay. Pending snapshots are invalidated.
func (m *Manager) Commit() error {
	if m == nil {
		return errNilManager
	}
	for key, entry := range m.overlay {
		if entry.deleted {
			if err := m.db.Delete([]byte(key)); err != nil {
				return err
			}
			continue
		}
		if err := m.db.Put([]byte(key), entry.data); err != nil {
			return err
		}
	}
	m.overlay = make(map[string]*overlayValue)
	m.journal = m.journal[:0]
	m.snapshots = m.snapshots[:0]
	return nil
}
