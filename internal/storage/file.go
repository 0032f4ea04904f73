package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"notifyd/pkg/logx"
)

// compactEvery is how many dedup writes go to the journal between
// snapshot compactions.
const compactEvery = 1000

// fileStore keeps state in plain files next to cfg.Path:
//   - <prefix>.deliveries.jsonl      (append-only)
//   - <prefix>.dedup.snapshot.json   (compacted state)
//   - <prefix>.dedup.journal.jsonl   (writes since the last snapshot)
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	deliveriesPath string
	deliveries     *os.File

	snapshotPath string
	journal      *os.File
	dedup        map[string]int64 // unix milli
	dedupWrites  int
}

type dedupRecord struct {
	Key   string `json:"key"`
	Until int64  `json:"until"`
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	prefix := filepath.Join(dir, base)

	s := &fileStore{
		log:            log,
		deliveriesPath: prefix + ".deliveries.jsonl",
		snapshotPath:   prefix + ".dedup.snapshot.json",
		dedup:          map[string]int64{},
	}
	journalPath := prefix + ".dedup.journal.jsonl"

	if err := loadDedupSnapshot(s.snapshotPath, s.dedup); err != nil && !os.IsNotExist(err) {
		log.Warn("dedup snapshot unreadable; starting without it", logx.String("path", s.snapshotPath), logx.Err(err))
	}
	if err := replayDedupJournal(journalPath, s.dedup); err != nil && !os.IsNotExist(err) {
		log.Warn("dedup journal replay failed", logx.String("path", journalPath), logx.Err(err))
	}
	pruneExpiredDedup(s.dedup)

	var err error
	if s.deliveries, err = os.OpenFile(s.deliveriesPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600); err != nil {
		return nil, err
	}
	if s.journal, err = os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600); err != nil {
		_ = s.deliveries.Close()
		return nil, err
	}
	return s, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var errs []error
	if s.deliveries != nil {
		errs = append(errs, s.deliveries.Close())
		s.deliveries = nil
	}
	if s.journal != nil {
		errs = append(errs, s.journal.Close())
		s.journal = nil
	}
	return errors.Join(errs...)
}

func (s *fileStore) AppendDelivery(_ context.Context, d Delivery) error {
	if d.At.IsZero() {
		d.At = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.deliveries == nil {
		return ErrClosed
	}
	return json.NewEncoder(s.deliveries).Encode(d)
}

func (s *fileStore) RecentDeliveries(_ context.Context, limit int) ([]Delivery, error) {
	if limit <= 0 {
		return nil, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.deliveries == nil {
		return nil, ErrClosed
	}
	f, err := os.Open(s.deliveriesPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	// Keep only the tail while scanning.
	tail := make([]Delivery, 0, limit)
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		var d Delivery
		if err := json.Unmarshal(sc.Bytes(), &d); err != nil {
			continue
		}
		if len(tail) == limit {
			tail = append(tail[:0], tail[1:]...)
		}
		tail = append(tail, d)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	slices.Reverse(tail)
	return tail, nil
}

func (s *fileStore) PutDedup(_ context.Context, key string, until time.Time) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil
	}
	ms := until.UnixMilli()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return ErrClosed
	}
	s.dedup[key] = ms
	if err := json.NewEncoder(s.journal).Encode(dedupRecord{Key: key, Until: ms}); err != nil {
		return err
	}
	s.dedupWrites++
	if s.dedupWrites%compactEvery == 0 {
		if err := s.compactLocked(); err != nil {
			s.log.Debug("dedup compact failed", logx.Err(err))
		}
	}
	return nil
}

func (s *fileStore) GetDedup(_ context.Context, key string) (time.Time, bool, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return time.Time{}, false, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	ms, ok := s.dedup[key]
	if !ok {
		return time.Time{}, false, nil
	}
	return time.UnixMilli(ms), true, nil
}

func (s *fileStore) compactLocked() error {
	pruneExpiredDedup(s.dedup)

	tmp := s.snapshotPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(s.dedup); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.snapshotPath); err != nil {
		return err
	}
	if err := s.journal.Truncate(0); err != nil {
		return err
	}
	_, err = s.journal.Seek(0, 2)
	return err
}

func loadDedupSnapshot(path string, out map[string]int64) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	var m map[string]int64
	if err := json.NewDecoder(f).Decode(&m); err != nil {
		return err
	}
	for k, v := range m {
		out[k] = v
	}
	return nil
}

func replayDedupJournal(path string, out map[string]int64) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var r dedupRecord
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil || r.Key == "" {
			continue
		}
		out[r.Key] = r.Until
	}
	return sc.Err()
}

func pruneExpiredDedup(m map[string]int64) {
	now := time.Now().UnixMilli()
	for k, v := range m {
		if v < now {
			delete(m, k)
		}
	}
}
