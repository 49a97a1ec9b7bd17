package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"structwatch/internal/model"
	logx "structwatch/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

const (
	metaSnapshotAt = "snapshot_taken_at"
	metaSeenInit   = "seen_initialized"
)

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) meta(ctx context.Context, key string) (string, bool, error) {
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (s *sqliteStore) LoadSnapshot(ctx context.Context) (model.Snapshot, bool, error) {
	raw, ok, err := s.meta(ctx, metaSnapshotAt)
	if err != nil || !ok {
		return model.Snapshot{}, false, err
	}
	at, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return model.Snapshot{}, false, fmt.Errorf("snapshot time: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `SELECT body FROM structures ORDER BY position`)
	if err != nil {
		return model.Snapshot{}, false, err
	}
	defer rows.Close()

	var list []model.Structure
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return model.Snapshot{}, false, err
		}
		var st model.Structure
		if err := json.Unmarshal([]byte(body), &st); err != nil {
			return model.Snapshot{}, false, err
		}
		list = append(list, st)
	}
	if err := rows.Err(); err != nil {
		return model.Snapshot{}, false, err
	}
	return model.NewSnapshot(at, list), true, nil
}

func (s *sqliteStore) SaveSnapshot(ctx context.Context, at time.Time, structures []model.Structure) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM structures`); err != nil {
		return err
	}
	for i, st := range structures {
		body, err := json.Marshal(st)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO structures(structure_id, position, body) VALUES(?,?,?)
			 ON CONFLICT(structure_id) DO UPDATE SET position=excluded.position, body=excluded.body`,
			st.ID, i, string(body),
		); err != nil {
			return err
		}
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO meta(key, value) VALUES(?,?) ON CONFLICT(key) DO UPDATE SET value=excluded.value`,
		metaSnapshotAt, at.UTC().Format(time.RFC3339Nano),
	); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *sqliteStore) LoadSeen(ctx context.Context) (model.SeenSet, bool, error) {
	_, ok, err := s.meta(ctx, metaSeenInit)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return model.SeenSet{}, false, nil
	}
	rows, err := s.db.QueryContext(ctx, `SELECT key FROM seen_notifications`)
	if err != nil {
		return nil, false, err
	}
	defer rows.Close()

	seen := model.SeenSet{}
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, false, err
		}
		seen[k] = struct{}{}
	}
	return seen, true, rows.Err()
}

func (s *sqliteStore) AppendSeen(ctx context.Context, keys []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, k := range keys {
		if strings.TrimSpace(k) == "" {
			continue
		}
		if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO seen_notifications(key) VALUES(?)`, k); err != nil {
			return err
		}
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO meta(key, value) VALUES(?,?)`,
		metaSeenInit, time.Now().UTC().Format(time.RFC3339Nano),
	); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *sqliteStore) LoadTracked(ctx context.Context, target string) ([]model.TrackedMessage, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT chat_id, thread_id, message_id FROM tracked_messages WHERE target = ? ORDER BY position`, target)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.TrackedMessage
	for rows.Next() {
		var m model.TrackedMessage
		if err := rows.Scan(&m.ChatID, &m.ThreadID, &m.MessageID); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *sqliteStore) SaveTracked(ctx context.Context, target string, msgs []model.TrackedMessage) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM tracked_messages WHERE target = ?`, target); err != nil {
		return err
	}
	for i, m := range msgs {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO tracked_messages(target, position, chat_id, thread_id, message_id) VALUES(?,?,?,?,?)`,
			target, i, m.ChatID, m.ThreadID, m.MessageID,
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *sqliteStore) LoadCredentials(ctx context.Context) (model.Credentials, bool, error) {
	var (
		c      model.Credentials
		expiry sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT access_token, refresh_token, expiry, character_id FROM credentials WHERE id = 1`,
	).Scan(&c.AccessToken, &c.RefreshToken, &expiry, &c.CharacterID)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Credentials{}, false, nil
	}
	if err != nil {
		return model.Credentials{}, false, err
	}
	if expiry.Valid && expiry.String != "" {
		if t, err := time.Parse(time.RFC3339Nano, expiry.String); err == nil {
			c.Expiry = t
		}
	}
	return c, true, nil
}

func (s *sqliteStore) SaveCredentials(ctx context.Context, c model.Credentials) error {
	var expiry any
	if !c.Expiry.IsZero() {
		expiry = c.Expiry.UTC().Format(time.RFC3339Nano)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO credentials(id, access_token, refresh_token, expiry, character_id) VALUES(1,?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET access_token=excluded.access_token, refresh_token=excluded.refresh_token,
		   expiry=excluded.expiry, character_id=excluded.character_id`,
		c.AccessToken, c.RefreshToken, expiry, c.CharacterID,
	)
	return err
}
