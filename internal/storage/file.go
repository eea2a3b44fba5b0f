package storage

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"

	logx "remindd/pkg/logx"
)

// fileStore is a dependency-free persistence backend.
//
// Files:
//   - <prefix>.kv.json        (whole key/value map, rewritten atomically on Set)
//   - <prefix>.dispatch.jsonl (append-only JSON Lines)
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	kvPath       string
	kv           map[string]string
	dispatchFile *os.File
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	kvPath := prefix + ".kv.json"
	kv := map[string]string{}
	if err := loadKV(kvPath, kv); err != nil && !errors.Is(err, os.ErrNotExist) {
		// A corrupt snapshot must not keep the daemon from starting; callers
		// treat missing keys as empty state.
		log.Warn("kv snapshot unreadable; starting empty", logx.String("path", kvPath), logx.Err(err))
	}

	df, err := os.OpenFile(prefix+".dispatch.jsonl", os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}

	return &fileStore{
		log:          log,
		kvPath:       kvPath,
		kv:           kv,
		dispatchFile: df,
	}, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dispatchFile == nil {
		return nil
	}
	err := s.dispatchFile.Close()
	s.dispatchFile = nil
	return err
}

func (s *fileStore) Get(ctx context.Context, key string) (string, bool, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dispatchFile == nil {
		return "", false, ErrClosed
	}
	v, ok := s.kv[key]
	return v, ok, nil
}

func (s *fileStore) Set(ctx context.Context, key, value string) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dispatchFile == nil {
		return ErrClosed
	}
	prev, had := s.kv[key]
	s.kv[key] = value
	if err := s.writeSnapshotLocked(); err != nil {
		// Keep memory in sync with disk.
		if had {
			s.kv[key] = prev
		} else {
			delete(s.kv, key)
		}
		return err
	}
	return nil
}

func (s *fileStore) AppendDispatch(ctx context.Context, r DispatchRecord) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dispatchFile == nil {
		return ErrClosed
	}
	return json.NewEncoder(s.dispatchFile).Encode(r)
}

func (s *fileStore) writeSnapshotLocked() error {
	tmp := s.kvPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(s.kv); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, s.kvPath)
}

func loadKV(path string, out map[string]string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	var m map[string]string
	if err := json.NewDecoder(f).Decode(&m); err != nil {
		return err
	}
	for k, v := range m {
		out[k] = v
	}
	return nil
}
