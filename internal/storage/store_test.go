package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"structwatch/internal/model"
	logx "structwatch/pkg/logx"
)

func openDrivers(t *testing.T) map[string]Store {
	t.Helper()
	dir := t.TempDir()
	out := map[string]Store{}
	for _, d := range []struct{ driver, path string }{
		{"file", filepath.Join(dir, "file", "state.json")},
		{"sqlite", filepath.Join(dir, "sqlite", "state.db")},
	} {
		st, err := Open(Config{Driver: d.driver, Path: d.path}, logx.Nop())
		if err != nil {
			t.Fatalf("Open(%s): %v", d.driver, err)
		}
		t.Cleanup(func() { _ = st.Close() })
		out[d.driver] = st
	}
	return out
}

func fuelAt(t time.Time) *time.Time { return &t }

func TestSnapshotRoundTrip(t *testing.T) {
	ctx := context.Background()
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	list := []model.Structure{
		{ID: 30, Name: "Keepstar", State: model.StateShieldVulnerable, FuelExpires: fuelAt(at.Add(72 * time.Hour)), TypeID: 35834},
		{ID: 10, Name: "Athanor", State: model.StateHullReinforce, TypeID: 35835},
	}

	for name, st := range openDrivers(t) {
		st := st
		t.Run(name, func(t *testing.T) {
			if _, ok, err := st.LoadSnapshot(ctx); err != nil || ok {
				t.Fatalf("LoadSnapshot on empty store = ok %v, err %v; want absent", ok, err)
			}
			if err := st.SaveSnapshot(ctx, at, list); err != nil {
				t.Fatalf("SaveSnapshot: %v", err)
			}
			snap, ok, err := st.LoadSnapshot(ctx)
			if err != nil || !ok {
				t.Fatalf("LoadSnapshot = ok %v, err %v", ok, err)
			}
			if !snap.TakenAt.Equal(at) {
				t.Fatalf("TakenAt = %v, want %v", snap.TakenAt, at)
			}
			if snap.Len() != 2 {
				t.Fatalf("Len = %d, want 2", snap.Len())
			}
			got, _ := snap.Lookup(30)
			if diff := cmp.Diff(list[0].Name, got.Name); diff != "" {
				t.Fatalf("structure 30 mismatch (-want +got):\n%s", diff)
			}
			if got.FuelExpires == nil || !got.FuelExpires.Equal(*list[0].FuelExpires) {
				t.Fatalf("FuelExpires = %v, want %v", got.FuelExpires, list[0].FuelExpires)
			}
		})
	}
}

func TestSeenSetIsAppendOnly(t *testing.T) {
	ctx := context.Background()
	for name, st := range openDrivers(t) {
		st := st
		t.Run(name, func(t *testing.T) {
			if _, ok, err := st.LoadSeen(ctx); err != nil || ok {
				t.Fatalf("LoadSeen on empty store = ok %v, err %v; want absent", ok, err)
			}
			// An empty append still marks the set as existing.
			if err := st.AppendSeen(ctx, nil); err != nil {
				t.Fatalf("AppendSeen(nil): %v", err)
			}
			seen, ok, err := st.LoadSeen(ctx)
			if err != nil || !ok || len(seen) != 0 {
				t.Fatalf("LoadSeen = %v ok %v err %v; want empty existing set", seen, ok, err)
			}
			if err := st.AppendSeen(ctx, []string{"1", "2"}); err != nil {
				t.Fatalf("AppendSeen: %v", err)
			}
			if err := st.AppendSeen(ctx, []string{"2", "3"}); err != nil {
				t.Fatalf("AppendSeen: %v", err)
			}
			seen, _, err = st.LoadSeen(ctx)
			if err != nil {
				t.Fatalf("LoadSeen: %v", err)
			}
			want := model.SeenSet{"1": {}, "2": {}, "3": {}}
			if diff := cmp.Diff(want, seen); diff != "" {
				t.Fatalf("seen mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestTrackedMessagesPerTarget(t *testing.T) {
	ctx := context.Background()
	for name, st := range openDrivers(t) {
		st := st
		t.Run(name, func(t *testing.T) {
			list := []model.TrackedMessage{{ChatID: -100, MessageID: 5}, {ChatID: -100, MessageID: 6}}
			if err := st.SaveTracked(ctx, "list", list); err != nil {
				t.Fatalf("SaveTracked: %v", err)
			}
			if err := st.SaveTracked(ctx, "other", []model.TrackedMessage{{ChatID: 1, MessageID: 1}}); err != nil {
				t.Fatalf("SaveTracked: %v", err)
			}
			got, err := st.LoadTracked(ctx, "list")
			if err != nil {
				t.Fatalf("LoadTracked: %v", err)
			}
			if diff := cmp.Diff(list, got); diff != "" {
				t.Fatalf("tracked mismatch (-want +got):\n%s", diff)
			}
			if err := st.SaveTracked(ctx, "list", nil); err != nil {
				t.Fatalf("SaveTracked(nil): %v", err)
			}
			got, err = st.LoadTracked(ctx, "list")
			if err != nil || len(got) != 0 {
				t.Fatalf("LoadTracked after clear = %v, %v", got, err)
			}
			other, _ := st.LoadTracked(ctx, "other")
			if len(other) != 1 {
				t.Fatalf("other target lost: %v", other)
			}
		})
	}
}

func TestCredentialsRoundTrip(t *testing.T) {
	ctx := context.Background()
	exp := time.Date(2024, 5, 1, 12, 20, 0, 0, time.UTC)
	creds := model.Credentials{AccessToken: "a", RefreshToken: "r", Expiry: exp, CharacterID: 9001}
	for name, st := range openDrivers(t) {
		st := st
		t.Run(name, func(t *testing.T) {
			if _, ok, err := st.LoadCredentials(ctx); err != nil || ok {
				t.Fatalf("LoadCredentials on empty store = ok %v, err %v", ok, err)
			}
			if err := st.SaveCredentials(ctx, creds); err != nil {
				t.Fatalf("SaveCredentials: %v", err)
			}
			got, ok, err := st.LoadCredentials(ctx)
			if err != nil || !ok {
				t.Fatalf("LoadCredentials = ok %v err %v", ok, err)
			}
			if got.AccessToken != "a" || got.RefreshToken != "r" || got.CharacterID != 9001 || !got.Expiry.Equal(exp) {
				t.Fatalf("credentials = %+v", got)
			}
		})
	}
}

func TestFileSnapshotIsJSONList(t *testing.T) {
	dir := t.TempDir()
	st, err := Open(Config{Driver: "file", Path: filepath.Join(dir, "state.json")}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer st.Close()

	if err := st.SaveSnapshot(context.Background(), time.Now(), []model.Structure{{ID: 1, Name: "A"}}); err != nil {
		t.Fatalf("SaveSnapshot: %v", err)
	}
	b, err := os.ReadFile(filepath.Join(dir, "state.structures.json"))
	if err != nil {
		t.Fatalf("read snapshot: %v", err)
	}
	if len(b) == 0 || b[0] != '[' {
		t.Fatalf("snapshot file is not a JSON list: %s", b)
	}
	if _, err := os.Stat(filepath.Join(dir, "state.structures.json.tmp")); !os.IsNotExist(err) {
		t.Fatalf("temp file left behind: %v", err)
	}
}

func TestFileSnapshotTimeSurvivesRestore(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	st, err := Open(Config{Driver: "file", Path: filepath.Join(dir, "state.json")}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer st.Close()

	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	if err := st.SaveSnapshot(ctx, at, []model.Structure{{ID: 1, Name: "A"}}); err != nil {
		t.Fatalf("SaveSnapshot: %v", err)
	}
	// A copy or restore from backup rewrites the mtime.
	later := at.Add(6 * time.Hour)
	if err := os.Chtimes(filepath.Join(dir, "state.structures.json"), later, later); err != nil {
		t.Fatalf("Chtimes: %v", err)
	}
	snap, ok, err := st.LoadSnapshot(ctx)
	if err != nil || !ok {
		t.Fatalf("LoadSnapshot = ok %v, err %v", ok, err)
	}
	if !snap.TakenAt.Equal(at) {
		t.Fatalf("TakenAt = %v, want %v", snap.TakenAt, at)
	}

	// Without the time record the mtime is used.
	if err := os.Remove(filepath.Join(dir, "state.structures.meta")); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	snap, _, err = st.LoadSnapshot(ctx)
	if err != nil || !snap.TakenAt.Equal(later) {
		t.Fatalf("TakenAt without record = %v, %v; want %v", snap.TakenAt, err, later)
	}
}

func TestClosedFileStoreRejectsWrites(t *testing.T) {
	st, err := Open(Config{Driver: "file", Path: filepath.Join(t.TempDir(), "s.json")}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	_ = st.Close()
	if err := st.AppendSeen(context.Background(), []string{"1"}); err != ErrClosed {
		t.Fatalf("AppendSeen after close = %v, want ErrClosed", err)
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	if _, err := Open(Config{Driver: "redis", Path: "x"}, logx.Nop()); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}
