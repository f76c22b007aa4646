// Package history keeps the per-partition log of recently played songs.
// The log is line delimited JSON, appended on every play and rewritten to
// the newest entries once it grows past its cap.
package history

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// DefaultMaxEntries is the number of entries kept.
const DefaultMaxEntries = 50

// FileName is the log file name inside a partition's data directory.
const FileName = "last_played.jsonl"

// Entry is one played song.
type Entry struct {
	URI      string    `json:"uri"`
	PlayedAt time.Time `json:"ts"`
}

// Log is a bounded FIFO of played songs persisted to disk.
type Log struct {
	mu         sync.RWMutex
	path       string
	entries    []Entry
	maxEntries int
	// lines counts entries in the file, which may exceed len(entries)
	// until the next rewrite.
	lines int
}

// Open loads the log at path, creating nothing until the first append.
// A corrupt line is skipped.
func Open(path string, maxEntries int) (*Log, error) {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	l := &Log{path: path, maxEntries: maxEntries}
	if err := l.load(); err != nil {
		return nil, err
	}
	return l, nil
}

// PartitionPath returns the log location for a partition.
func PartitionPath(dataDir, partition string) string {
	return filepath.Join(dataDir, "partitions", partition, FileName)
}

func (l *Log) load() error {
	data, err := os.ReadFile(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read history: %w", err)
	}

	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		l.lines++
		var e Entry
		if err := json.Unmarshal(line, &e); err != nil || e.URI == "" {
			log.Warn().Str("file", l.path).Msg("Skipping malformed history line")
			continue
		}
		l.entries = append(l.entries, e)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("scan history: %w", err)
	}

	if len(l.entries) > l.maxEntries {
		l.entries = l.entries[len(l.entries)-l.maxEntries:]
	}
	log.Debug().Str("file", l.path).Int("count", len(l.entries)).Msg("Loaded play history")
	return nil
}

// Append records uri as played at ts.
func (l *Log) Append(uri string, ts time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	e := Entry{URI: uri, PlayedAt: ts.UTC().Truncate(time.Second)}
	l.entries = append(l.entries, e)
	if len(l.entries) > l.maxEntries {
		l.entries = l.entries[len(l.entries)-l.maxEntries:]
	}

	if err := os.MkdirAll(filepath.Dir(l.path), 0755); err != nil {
		return fmt.Errorf("create history directory: %w", err)
	}

	if l.lines+1 > l.maxEntries {
		return l.rewrite()
	}
	return l.appendLine(e)
}

func (l *Log) appendLine(e Entry) error {
	line, err := json.Marshal(e)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("open history: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("append history: %w", err)
	}
	l.lines++
	return nil
}

// rewrite replaces the file with the retained entries.
func (l *Log) rewrite() error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, e := range l.entries {
		if err := enc.Encode(e); err != nil {
			return err
		}
	}

	tmp := l.path + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("write history: %w", err)
	}
	if err := os.Rename(tmp, l.path); err != nil {
		return fmt.Errorf("replace history: %w", err)
	}
	l.lines = len(l.entries)
	return nil
}

// URIs returns the set of logged URIs.
func (l *Log) URIs() map[string]struct{} {
	l.mu.RLock()
	defer l.mu.RUnlock()

	set := make(map[string]struct{}, len(l.entries))
	for _, e := range l.entries {
		set[e.URI] = struct{}{}
	}
	return set
}

// Entries returns the log, oldest first.
func (l *Log) Entries() []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]Entry(nil), l.entries...)
}

// Len returns the number of retained entries.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}
