package store

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestNewStore_CreatesDatabase(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "nested", "dir", "test.db")

	s, err := New(dbPath)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	defer s.Close()

	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Fatal("database file should exist after creating store")
	}
	if s.Path() != dbPath {
		t.Errorf("Path() = %q, want %q", s.Path(), dbPath)
	}
}

func TestNewStore_RunsMigrations(t *testing.T) {
	s := newTestStore(t)

	for _, table := range []string{"settings", "snapshots"} {
		var name string
		err := s.DB().QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?",
			table,
		).Scan(&name)
		if err != nil {
			t.Errorf("table %q should exist after migrations: %v", table, err)
		}
	}

	var idx string
	err := s.DB().QueryRow(
		"SELECT name FROM sqlite_master WHERE type='index' AND name='idx_snapshots_created_at'",
	).Scan(&idx)
	if err != nil {
		t.Errorf("snapshot index should exist: %v", err)
	}
}

func TestNewStore_Reopen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")

	s, err := New(dbPath)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	if err := s.Settings().Set(SettingThreshold, "0.65"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	s.Close()

	s, err = New(dbPath)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer s.Close()

	v, err := s.Settings().Get(SettingThreshold)
	if err != nil || v != "0.65" {
		t.Errorf("after reopen Get() = %q, %v; want 0.65", v, err)
	}
}

func TestNewStore_Memory(t *testing.T) {
	s, err := New(":memory:")
	if err != nil {
		t.Fatalf("failed to create in-memory store: %v", err)
	}
	defer s.Close()

	if err := s.Settings().SetInt(SettingCamera, 1); err != nil {
		t.Errorf("SetInt() error = %v", err)
	}
}

func TestStore_Close(t *testing.T) {
	s, err := New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	if err := s.Close(); err != nil {
		t.Errorf("close should not return error: %v", err)
	}

	if _, err := s.DB().Exec("SELECT 1"); err == nil {
		t.Error("DB operations should fail after close")
	}
}

func TestSettings(t *testing.T) {
	repo := newTestStore(t).Settings()

	if _, err := repo.Get("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get(missing) error = %v, want ErrNotFound", err)
	}

	if err := repo.SetFloat(SettingThreshold, 0.45); err != nil {
		t.Fatalf("SetFloat() error = %v", err)
	}
	if err := repo.SetFloat(SettingThreshold, 0.7); err != nil {
		t.Fatalf("SetFloat() overwrite error = %v", err)
	}
	f, err := repo.GetFloat(SettingThreshold)
	if err != nil || f != 0.7 {
		t.Errorf("GetFloat() = %v, %v; want 0.7", f, err)
	}

	if err := repo.SetInt(SettingCamera, 2); err != nil {
		t.Fatalf("SetInt() error = %v", err)
	}
	n, err := repo.GetInt(SettingCamera)
	if err != nil || n != 2 {
		t.Errorf("GetInt() = %v, %v; want 2", n, err)
	}

	if err := repo.Set("garbage", "abc"); err != nil {
		t.Fatal(err)
	}
	if _, err := repo.GetFloat("garbage"); err == nil {
		t.Error("GetFloat() on non-number should fail")
	}
	if _, err := repo.GetInt("garbage"); err == nil {
		t.Error("GetInt() on non-number should fail")
	}
}

func TestSnapshots(t *testing.T) {
	repo := newTestStore(t).Snapshots()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	first := &Snapshot{
		ID:             "snap-1",
		Filename:       "output_1772366400.png",
		CameraID:       0,
		Threshold:      0.4,
		DetectionCount: 2,
		Labels:         []string{"A", "B"},
		CreatedAt:      base,
	}
	second := &Snapshot{
		ID:        "snap-2",
		Filename:  "output_1772366460.png",
		CameraID:  1,
		Threshold: 0.55,
		CreatedAt: base.Add(time.Minute),
	}

	for _, s := range []*Snapshot{first, second} {
		if err := repo.Create(s); err != nil {
			t.Fatalf("Create(%s) error = %v", s.ID, err)
		}
	}

	got, err := repo.GetByID("snap-1")
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if got.Filename != first.Filename || got.DetectionCount != 2 || got.Threshold != 0.4 {
		t.Errorf("GetByID() = %+v", got)
	}
	if !reflect.DeepEqual(got.Labels, []string{"A", "B"}) {
		t.Errorf("Labels = %v", got.Labels)
	}
	if !got.CreatedAt.Equal(base) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, base)
	}

	if _, err := repo.GetByID("nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetByID(nope) error = %v, want ErrNotFound", err)
	}

	list, err := repo.List(0)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(list) != 2 || list[0].ID != "snap-2" {
		t.Errorf("List() should return newest first, got %d rows", len(list))
	}
	if list[0].Labels == nil || len(list[0].Labels) != 0 {
		t.Errorf("nil labels should round-trip as empty, got %v", list[0].Labels)
	}

	limited, err := repo.List(1)
	if err != nil || len(limited) != 1 {
		t.Errorf("List(1) = %d rows, %v", len(limited), err)
	}

	n, err := repo.Count()
	if err != nil || n != 2 {
		t.Errorf("Count() = %d, %v; want 2", n, err)
	}

	dup := *first
	dup.ID = "snap-3"
	if err := repo.Create(&dup); err == nil {
		t.Error("filenames must be unique")
	}
}
