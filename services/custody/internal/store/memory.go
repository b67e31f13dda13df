package store

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// MemoryStore keeps state in a map guarded by one lock. With a journal path
// every committed Update is appended as a JSON line and replayed on open.
type MemoryStore struct {
	mu      sync.RWMutex
	data    map[string][]byte
	journal *os.File
}

type journalWrite struct {
	Kind  Kind            `json:"kind"`
	Key   string          `json:"key"`
	Value json.RawMessage `json:"value"`
}

type journalEntry struct {
	Writes []journalWrite `json:"writes"`
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: map[string][]byte{}}
}

func OpenJournal(path string) (*MemoryStore, error) {
	if path == "" {
		return nil, os.ErrInvalid
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}
	s := NewMemoryStore()
	if err := s.replay(path); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, err
	}
	s.journal = f
	return s, nil
}

func (s *MemoryStore) replay(path string) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var e journalEntry
		if err := json.Unmarshal(line, &e); err != nil {
			// torn tail write
			break
		}
		for _, w := range e.Writes {
			s.data[memKey(w.Kind, w.Key)] = append([]byte(nil), w.Value...)
		}
	}
	return sc.Err()
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return nil
	}
	err := s.journal.Close()
	s.journal = nil
	return err
}

func memKey(kind Kind, key string) string { return string(kind) + "\x00" + key }

type memTx struct {
	base     map[string][]byte
	staged   map[string][]byte
	order    []journalWrite
	readOnly bool
}

func (t *memTx) Get(_ context.Context, kind Kind, key string, dst any) (bool, error) {
	k := memKey(kind, key)
	b, ok := t.staged[k]
	if !ok {
		b, ok = t.base[k]
	}
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(b, dst)
}

func (t *memTx) Put(_ context.Context, kind Kind, key string, v any) error {
	if t.readOnly {
		return ErrReadOnly
	}
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	k := memKey(kind, key)
	if _, seen := t.staged[k]; !seen {
		t.order = append(t.order, journalWrite{Kind: kind, Key: key})
	}
	t.staged[k] = b
	return nil
}

func (s *MemoryStore) Update(ctx context.Context, fn func(Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	tx := &memTx{base: s.data, staged: map[string][]byte{}}
	if err := fn(tx); err != nil {
		return err
	}
	if len(tx.staged) == 0 {
		return nil
	}
	if s.journal != nil {
		entry := journalEntry{Writes: make([]journalWrite, 0, len(tx.order))}
		for _, w := range tx.order {
			w.Value = tx.staged[memKey(w.Kind, w.Key)]
			entry.Writes = append(entry.Writes, w)
		}
		line, err := json.Marshal(entry)
		if err != nil {
			return err
		}
		if _, err := s.journal.Write(append(line, '\n')); err != nil {
			return fmt.Errorf("store: journal append: %w", err)
		}
	}
	for k, v := range tx.staged {
		s.data[k] = v
	}
	return nil
}

func (s *MemoryStore) View(ctx context.Context, fn func(Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(&memTx{base: s.data, staged: map[string][]byte{}, readOnly: true})
}
