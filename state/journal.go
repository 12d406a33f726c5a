package state

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// journal is an append-only JSONL file. Lines are replayed on open and new
// records are buffered until Flush or Close.
type journal struct {
	path    string
	persist bool
	writer  *bufio.Writer
	file    *os.File
	writeMu sync.Mutex
}

func openJournal(stateDir, name string, persist bool, replay func(line int, data []byte) error) (*journal, error) {
	if strings.TrimSpace(stateDir) == "" {
		return nil, fmt.Errorf("state directory is empty")
	}

	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return nil, fmt.Errorf("create state directory: %w", err)
	}

	j := &journal{
		path:    filepath.Join(stateDir, name),
		persist: persist,
	}

	if err := j.replay(replay); err != nil {
		return nil, err
	}

	if persist {
		file, err := os.OpenFile(j.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return nil, fmt.Errorf("open %s for append: %w", name, err)
		}
		j.file = file
		j.writer = bufio.NewWriterSize(file, 64*1024)
	}

	return j, nil
}

func (j *journal) replay(fn func(line int, data []byte) error) error {
	file, err := os.Open(j.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("open state file: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for line := 1; scanner.Scan(); line++ {
		text := scanner.Bytes()
		if len(text) == 0 {
			continue
		}
		if err := fn(line, text); err != nil {
			return fmt.Errorf("parse %s line %d: %w", filepath.Base(j.path), line, err)
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read state file: %w", err)
	}

	return nil
}

func (j *journal) append(record any) error {
	if !j.persist {
		return nil
	}

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode state record: %w", err)
	}

	j.writeMu.Lock()
	defer j.writeMu.Unlock()

	if _, err := j.writer.Write(data); err != nil {
		return fmt.Errorf("write state record: %w", err)
	}
	if err := j.writer.WriteByte('\n'); err != nil {
		return fmt.Errorf("write newline: %w", err)
	}

	return nil
}

// Path returns the location of the backing file.
func (j *journal) Path() string {
	return j.path
}

// Flush writes any buffered data to the underlying file.
func (j *journal) Flush() error {
	if !j.persist || j.writer == nil {
		return nil
	}

	j.writeMu.Lock()
	defer j.writeMu.Unlock()

	if err := j.writer.Flush(); err != nil {
		return fmt.Errorf("flush state file: %w", err)
	}
	if err := j.file.Sync(); err != nil {
		return fmt.Errorf("sync state file: %w", err)
	}
	return nil
}

// Close flushes and closes the state file.
func (j *journal) Close() error {
	if !j.persist || j.file == nil {
		return nil
	}

	j.writeMu.Lock()
	defer j.writeMu.Unlock()

	var firstErr error
	if j.writer != nil {
		if err := j.writer.Flush(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("flush state file: %w", err)
		}
	}
	if err := j.file.Sync(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("sync state file: %w", err)
	}
	if err := j.file.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("close state file: %w", err)
	}
	j.file = nil
	j.writer = nil

	return firstErr
}
