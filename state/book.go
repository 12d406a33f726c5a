package state

import (
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/dhcgn/mbox-contacts/address"
)

// Entry is one contact in the address book together with when and how often
// it was seen.
type Entry struct {
	Address   address.Address `json:"address"`
	FirstSeen time.Time       `json:"first_seen,omitzero"`
	LastSeen  time.Time       `json:"last_seen,omitzero"`
	Count     int             `json:"count"`
}

// Book accumulates harvested addresses keyed by address.Key.
type Book interface {
	// Record adds a sighting of addr and reports whether it was a new contact.
	Record(addr address.Address, seen time.Time) (bool, error)
	Entries() []Entry
	Snapshot() Snapshot
}

type MemoryBook struct {
	mu      sync.RWMutex
	order   []address.Key
	entries map[address.Key]*Entry
}

func NewMemoryBook() *MemoryBook {
	return &MemoryBook{entries: make(map[address.Key]*Entry)}
}

func (m *MemoryBook) Record(addr address.Address, seen time.Time) (bool, error) {
	_, added := m.record(addr, seen)
	return added, nil
}

func (m *MemoryBook) record(addr address.Address, seen time.Time) (Entry, bool) {
	key := addr.Key()

	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.entries[key]
	if !ok {
		entry = &Entry{Address: addr, FirstSeen: seen, LastSeen: seen, Count: 1}
		m.entries[key] = entry
		m.order = append(m.order, key)
		return *entry, true
	}

	entry.Count++
	if entry.Address.Name() == "" && addr.Name() != "" {
		entry.Address.SetName(addr.Name())
	}
	if !seen.IsZero() {
		if entry.FirstSeen.IsZero() || seen.Before(entry.FirstSeen) {
			entry.FirstSeen = seen
		}
		if seen.After(entry.LastSeen) {
			entry.LastSeen = seen
		}
	}
	return *entry, false
}

// put replaces the stored state for e's key.
func (m *MemoryBook) put(e Entry) {
	key := e.Address.Key()

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.entries[key]; !ok {
		m.order = append(m.order, key)
	}
	m.entries[key] = &e
}

// Entries returns the contacts in the order they were first recorded.
func (m *MemoryBook) Entries() []Entry {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Entry, 0, len(m.order))
	for _, key := range m.order {
		out = append(out, *m.entries[key])
	}
	return out
}

// Top returns up to limit entries ordered by descending count. A limit of
// zero or less returns all of them.
func (m *MemoryBook) Top(limit int) []Entry {
	entries := m.Entries()
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Count > entries[j].Count
	})
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries
}

func (m *MemoryBook) Snapshot() Snapshot {
	m.mu.RLock()
	count := len(m.entries)
	m.mu.RUnlock()
	return Snapshot{Addresses: count}
}

// FileBook keeps the address book in addressbook.jsonl. Every sighting appends
// the updated entry, and the last line for a key wins on load.
type FileBook struct {
	*MemoryBook
	*journal
}

func NewFileBook(stateDir string, persist bool) (*FileBook, error) {
	memory := NewMemoryBook()
	j, err := openJournal(stateDir, "addressbook.jsonl", persist, func(_ int, data []byte) error {
		var entry Entry
		if err := json.Unmarshal(data, &entry); err != nil {
			return err
		}
		if entry.Address.Email() == "" {
			return nil
		}
		memory.put(entry)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &FileBook{MemoryBook: memory, journal: j}, nil
}

func (f *FileBook) Record(addr address.Address, seen time.Time) (bool, error) {
	entry, added := f.record(addr, seen)
	return added, f.append(entry)
}

// LoadBook reads the address book kept in stateDir without opening it for
// writing.
func LoadBook(stateDir string) ([]Entry, error) {
	book, err := NewFileBook(stateDir, false)
	if err != nil {
		return nil, err
	}
	return book.Entries(), nil
}
