package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"structwatch/internal/model"
	logx "structwatch/pkg/logx"
)

// fileStore keeps each piece of state in its own file:
//   - <prefix>.structures.json   JSON array of structures
//   - <prefix>.structures.meta   snapshot time (RFC 3339); the file mtime is a fallback
//   - <prefix>.notifications.txt newline-delimited notification IDs (append-only)
//   - <prefix>.dispatch.json     target -> tracked message refs
//   - <prefix>.account.json      SSO credentials
//
// Overwrites go through a temp file + rename so a crash never leaves a torn file.
type fileStore struct {
	log logx.Logger

	mu     sync.Mutex
	closed bool

	snapshotPath string
	takenAtPath  string
	seenPath     string
	dispatchPath string
	accountPath  string
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

	return &fileStore{
		log:          log,
		snapshotPath: prefix + ".structures.json",
		takenAtPath:  prefix + ".structures.meta",
		seenPath:     prefix + ".notifications.txt",
		dispatchPath: prefix + ".dispatch.json",
		accountPath:  prefix + ".account.json",
	}, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func (s *fileStore) lock() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	return nil
}

func (s *fileStore) LoadSnapshot(ctx context.Context) (model.Snapshot, bool, error) {
	_ = ctx
	if err := s.lock(); err != nil {
		return model.Snapshot{}, false, err
	}
	defer s.mu.Unlock()

	st, err := os.Stat(s.snapshotPath)
	if errors.Is(err, fs.ErrNotExist) {
		return model.Snapshot{}, false, nil
	}
	if err != nil {
		return model.Snapshot{}, false, err
	}
	b, err := os.ReadFile(s.snapshotPath)
	if err != nil {
		return model.Snapshot{}, false, err
	}
	var list []model.Structure
	if err := json.Unmarshal(b, &list); err != nil {
		return model.Snapshot{}, false, err
	}
	return model.NewSnapshot(s.takenAt(st.ModTime()), list), true, nil
}

// takenAt reads the recorded snapshot time. Files written before it existed,
// or a damaged record, fall back to mtime.
func (s *fileStore) takenAt(mtime time.Time) time.Time {
	b, err := os.ReadFile(s.takenAtPath)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			s.log.Warn("snapshot time unreadable; using file mtime", logx.Err(err))
		}
		return mtime
	}
	at, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(string(b)))
	if err != nil {
		s.log.Warn("snapshot time malformed; using file mtime", logx.String("value", string(b)), logx.Err(err))
		return mtime
	}
	return at
}

func (s *fileStore) SaveSnapshot(ctx context.Context, at time.Time, structures []model.Structure) error {
	_ = ctx
	if err := s.lock(); err != nil {
		return err
	}
	defer s.mu.Unlock()

	if structures == nil {
		structures = []model.Structure{}
	}
	b, err := json.Marshal(structures)
	if err != nil {
		return err
	}
	if err := writeFileAtomic(s.snapshotPath, b); err != nil {
		return err
	}
	if err := writeFileAtomic(s.takenAtPath, []byte(at.UTC().Format(time.RFC3339Nano)+"\n")); err != nil {
		return err
	}
	if err := os.Chtimes(s.snapshotPath, at, at); err != nil {
		s.log.Warn("snapshot chtimes failed", logx.Err(err))
	}
	return nil
}

func (s *fileStore) LoadSeen(ctx context.Context) (model.SeenSet, bool, error) {
	_ = ctx
	if err := s.lock(); err != nil {
		return nil, false, err
	}
	defer s.mu.Unlock()

	f, err := os.Open(s.seenPath)
	if errors.Is(err, fs.ErrNotExist) {
		return model.SeenSet{}, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	defer f.Close()

	seen := model.SeenSet{}
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		k := strings.TrimSpace(sc.Text())
		if k == "" {
			continue
		}
		seen[k] = struct{}{}
	}
	return seen, true, sc.Err()
}

func (s *fileStore) AppendSeen(ctx context.Context, keys []string) error {
	_ = ctx
	if err := s.lock(); err != nil {
		return err
	}
	defer s.mu.Unlock()

	f, err := os.OpenFile(s.seenPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	for _, k := range keys {
		k = strings.TrimSpace(k)
		if k == "" {
			continue
		}
		_, _ = w.WriteString(k)
		_ = w.WriteByte('\n')
	}
	if err := w.Flush(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func (s *fileStore) readTrackedLocked() (map[string][]model.TrackedMessage, error) {
	out := map[string][]model.TrackedMessage{}
	b, err := os.ReadFile(s.dispatchPath)
	if errors.Is(err, fs.ErrNotExist) {
		return out, nil
	}
	if err != nil {
		return nil, err
	}
	if len(b) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *fileStore) LoadTracked(ctx context.Context, target string) ([]model.TrackedMessage, error) {
	_ = ctx
	if err := s.lock(); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()

	all, err := s.readTrackedLocked()
	if err != nil {
		return nil, err
	}
	return all[target], nil
}

func (s *fileStore) SaveTracked(ctx context.Context, target string, msgs []model.TrackedMessage) error {
	_ = ctx
	if err := s.lock(); err != nil {
		return err
	}
	defer s.mu.Unlock()

	all, err := s.readTrackedLocked()
	if err != nil {
		// A corrupt tracking file only costs us stale messages; start over.
		s.log.Warn("dispatch tracking file unreadable; resetting", logx.Err(err))
		all = map[string][]model.TrackedMessage{}
	}
	if len(msgs) == 0 {
		delete(all, target)
	} else {
		all[target] = msgs
	}
	b, err := json.Marshal(all)
	if err != nil {
		return err
	}
	return writeFileAtomic(s.dispatchPath, b)
}

func (s *fileStore) LoadCredentials(ctx context.Context) (model.Credentials, bool, error) {
	_ = ctx
	if err := s.lock(); err != nil {
		return model.Credentials{}, false, err
	}
	defer s.mu.Unlock()

	b, err := os.ReadFile(s.accountPath)
	if errors.Is(err, fs.ErrNotExist) {
		return model.Credentials{}, false, nil
	}
	if err != nil {
		return model.Credentials{}, false, err
	}
	var c model.Credentials
	if err := json.Unmarshal(b, &c); err != nil {
		return model.Credentials{}, false, err
	}
	return c, true, nil
}

func (s *fileStore) SaveCredentials(ctx context.Context, creds model.Credentials) error {
	_ = ctx
	if err := s.lock(); err != nil {
		return err
	}
	defer s.mu.Unlock()

	b, err := json.Marshal(creds)
	if err != nil {
		return err
	}
	return writeFileAtomic(s.accountPath, b)
}

func writeFileAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
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
	return os.Rename(tmp, path)
}
