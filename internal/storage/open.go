package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	"structwatch/internal/model"
	logx "structwatch/pkg/logx"
)

// Store is the persistence API used by the monitor, dispatch and esi packages.
//
// Load methods report ok=false when the item was never written; callers use
// that to detect a first run.
type Store interface {
	LoadSnapshot(ctx context.Context) (snap model.Snapshot, ok bool, err error)
	// SaveSnapshot replaces the snapshot atomically. Structures keep their order.
	SaveSnapshot(ctx context.Context, at time.Time, structures []model.Structure) error

	LoadSeen(ctx context.Context) (seen model.SeenSet, ok bool, err error)
	// AppendSeen adds keys to the seen set, creating it if needed. It never removes.
	AppendSeen(ctx context.Context, keys []string) error

	LoadTracked(ctx context.Context, target string) ([]model.TrackedMessage, error)
	SaveTracked(ctx context.Context, target string, msgs []model.TrackedMessage) error

	LoadCredentials(ctx context.Context) (creds model.Credentials, ok bool, err error)
	SaveCredentials(ctx context.Context, creds model.Credentials) error

	Close() error
}

// Open initializes the configured store. An empty driver selects "file".
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "", "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
