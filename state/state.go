package state

import (
	"encoding/json"
	"sync"
)

// Tracker remembers which messages were already harvested.
type Tracker interface {
	AlreadyProcessed(hash string) bool
	MarkProcessed(hash, messageID string) error
	Snapshot() Snapshot
}

type Snapshot struct {
	Processed int
	Addresses int
}

type MemoryTracker struct {
	mu        sync.RWMutex
	processed map[string]string
}

func NewMemoryTracker() *MemoryTracker {
	return &MemoryTracker{processed: make(map[string]string)}
}

func (m *MemoryTracker) AlreadyProcessed(hash string) bool {
	if hash == "" {
		return false
	}

	m.mu.RLock()
	_, ok := m.processed[hash]
	m.mu.RUnlock()
	return ok
}

func (m *MemoryTracker) MarkProcessed(hash, messageID string) error {
	m.mark(hash, messageID)
	return nil
}

// mark reports whether hash was new.
func (m *MemoryTracker) mark(hash, messageID string) bool {
	if hash == "" {
		return false
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.processed[hash]; exists {
		return false
	}
	m.processed[hash] = messageID
	return true
}

func (m *MemoryTracker) Snapshot() Snapshot {
	m.mu.RLock()
	count := len(m.processed)
	m.mu.RUnlock()
	return Snapshot{Processed: count}
}

// FileTracker persists processed message hashes in processed.jsonl so a rerun
// over the same mailbox skips them.
type FileTracker struct {
	*MemoryTracker
	*journal
}

type processedRecord struct {
	Hash      string `json:"hash"`
	MessageID string `json:"message_id"`
}

func NewFileTracker(stateDir string, persist bool) (*FileTracker, error) {
	memory := NewMemoryTracker()
	j, err := openJournal(stateDir, "processed.jsonl", persist, func(_ int, data []byte) error {
		var record processedRecord
		if err := json.Unmarshal(data, &record); err != nil {
			return err
		}
		memory.mark(record.Hash, record.MessageID)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &FileTracker{MemoryTracker: memory, journal: j}, nil
}

func (f *FileTracker) MarkProcessed(hash, messageID string) error {
	if !f.mark(hash, messageID) {
		return nil
	}
	return f.append(processedRecord{Hash: hash, MessageID: messageID})
}
