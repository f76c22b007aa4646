package annotations_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/edumarques81/stellar-jukebox/internal/domain/annotation"
	"github.com/edumarques81/stellar-jukebox/internal/infra/annotations"
)

// Compile-time checks that DB is usable as an annotation source.
var (
	_ annotation.Source = (*annotations.DB)(nil)
	_ annotation.Lister = (*annotations.DB)(nil)
)

func openTestDB(t *testing.T) *annotations.DB {
	t.Helper()
	db := annotations.NewDB(filepath.Join(t.TempDir(), "annotations.db"))
	if err := db.Open(); err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestNewDB(t *testing.T) {
	if db := annotations.NewDB(""); db == nil {
		t.Error("NewDB should return a non-nil instance")
	}
}

func TestDBOpenClose(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "nested", "annotations.db")
	db := annotations.NewDB(dbPath)

	if err := db.Open(); err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("Database file should exist after Open()")
	}
	if v := db.SchemaVersion(); v != annotations.CurrentSchemaVersion {
		t.Errorf("Expected schema version %q, got %q", annotations.CurrentSchemaVersion, v)
	}
	if err := db.Close(); err != nil {
		t.Errorf("Failed to close database: %v", err)
	}

	if _, _, err := db.GetInt(context.Background(), "a.flac", annotation.PlayCount); !errors.Is(err, annotations.ErrNotOpen) {
		t.Errorf("Expected ErrNotOpen after Close, got %v", err)
	}
}

func TestSetAndGet(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	if _, ok, err := db.GetInt(ctx, "a.flac", annotation.Like); err != nil || ok {
		t.Fatalf("Unset annotation should be missing, got ok=%v err=%v", ok, err)
	}

	if err := db.Set(ctx, "a.flac", annotation.Like, annotation.Hate); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := db.Set(ctx, "a.flac", annotation.Like, annotation.Love); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	v, ok, err := db.GetInt(ctx, "a.flac", annotation.Like)
	if err != nil || !ok || v != annotation.Love {
		t.Errorf("Expected like=%d, got %d ok=%v err=%v", annotation.Love, v, ok, err)
	}

	if err := db.Delete(ctx, "a.flac", annotation.Like); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if n, _ := db.Count(ctx); n != 0 {
		t.Errorf("Expected no annotations after delete, got %d", n)
	}
}

func TestIncrement(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := db.Increment(ctx, "a.flac", annotation.PlayCount, 1); err != nil {
			t.Fatalf("Increment failed: %v", err)
		}
	}

	v, ok, err := db.GetInt(ctx, "a.flac", annotation.PlayCount)
	if err != nil || !ok || v != 3 {
		t.Errorf("Expected playCount=3, got %d", v)
	}
}

func TestRecordPlayAndRecencySet(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	played := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	if err := annotation.RecordPlay(ctx, db, "a.flac", played); err != nil {
		t.Fatalf("RecordPlay failed: %v", err)
	}
	if err := annotation.RecordPlay(ctx, db, "b.flac", played.Add(time.Hour)); err != nil {
		t.Fatalf("RecordPlay failed: %v", err)
	}

	recent, err := db.RecencySet(ctx, annotation.LastPlayed)
	if err != nil {
		t.Fatalf("RecencySet failed: %v", err)
	}
	if len(recent) != 2 {
		t.Fatalf("Expected 2 entries, got %d", len(recent))
	}
	if !recent["a.flac"].Equal(played) {
		t.Errorf("Expected %v, got %v", played, recent["a.flac"])
	}

	counts, err := db.IntSet(ctx, annotation.PlayCount)
	if err != nil {
		t.Fatalf("IntSet failed: %v", err)
	}
	if counts["a.flac"] != 1 || counts["b.flac"] != 1 {
		t.Errorf("Unexpected play counts %v", counts)
	}
}

func TestIsHated(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	if err := db.Set(ctx, "bad.flac", annotation.Like, annotation.Hate); err != nil {
		t.Fatal(err)
	}

	hated, err := annotation.IsHated(ctx, db, "bad.flac")
	if err != nil || !hated {
		t.Errorf("Expected bad.flac to be hated, got %v (%v)", hated, err)
	}
	hated, err = annotation.IsHated(ctx, db, "other.flac")
	if err != nil || hated {
		t.Errorf("Songs without a rating are not hated, got %v (%v)", hated, err)
	}
}

func TestReopenKeepsData(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "annotations.db")
	ctx := context.Background()

	db := annotations.NewDB(dbPath)
	if err := db.Open(); err != nil {
		t.Fatal(err)
	}
	if err := db.Set(ctx, "a.flac", annotation.Rating, 8); err != nil {
		t.Fatal(err)
	}
	db.Close()

	db = annotations.NewDB(dbPath)
	if err := db.Open(); err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	if v, ok, _ := db.GetInt(ctx, "a.flac", annotation.Rating); !ok || v != 8 {
		t.Errorf("Expected rating 8 after reopen, got %d", v)
	}
}
