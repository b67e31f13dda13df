package notify

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
)

// JSONLSink appends events to an audit file, one JSON object per line.
type JSONLSink struct {
	path string
	mu   sync.Mutex
	f    *os.File
}

func NewJSONLSink(path string) (*JSONLSink, error) {
	if path == "" {
		return nil, os.ErrInvalid
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, err
	}
	return &JSONLSink{path: path, f: f}, nil
}

func (s *JSONLSink) Publish(_ context.Context, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return os.ErrClosed
	}
	_, err = s.f.Write(append(data, '\n'))
	return err
}

// ReadInvestigation scans the file for events of one investigation.
func (s *JSONLSink) ReadInvestigation(invID uint64) ([]Event, error) {
	s.mu.Lock()
	if s.f != nil {
		_ = s.f.Sync()
	}
	s.mu.Unlock()

	f, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()
	var out []Event
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var ev Event
		if err := json.Unmarshal(sc.Bytes(), &ev); err != nil {
			continue
		}
		if ev.InvestigationID == invID {
			out = append(out, ev)
		}
	}
	return out, sc.Err()
}

func (s *JSONLSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	return err
}
