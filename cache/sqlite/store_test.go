package sqlite

import (
	"context"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/restward/restward/entity"
)

func newTestCache(t *testing.T) *Cache {
	t.Helper()
	c, err := New(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func jsonEntity(content any, ts time.Time) *entity.Entity {
	return &entity.Entity{
		Content:     content,
		ContentType: "application/json",
		Headers:     http.Header{},
		Timestamp:   ts,
	}
}

func TestReadMiss(t *testing.T) {
	c := newTestCache(t)
	ent, err := c.Read(context.Background(), "absent")
	if err != nil || ent != nil {
		t.Errorf("miss: got (%v, %v), want (nil, nil)", ent, err)
	}
}

func TestWriteReadRoundtrip(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()
	ts := time.Unix(1700000000, 0).UTC()

	if err := c.Write(ctx, jsonEntity(map[string]any{"a": float64(1)}, ts), "k"); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err := c.Read(ctx, "k")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	obj, ok := got.Content.(map[string]any)
	if !ok || obj["a"] != float64(1) {
		t.Errorf("Content = %v", got.Content)
	}
	if !got.Timestamp.Equal(ts) {
		t.Errorf("Timestamp = %v, want %v", got.Timestamp, ts)
	}
}

func TestWriteReplacesExisting(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()
	now := time.Now().UTC()

	c.Write(ctx, jsonEntity("first", now), "k")
	c.Write(ctx, jsonEntity("second", now), "k")

	got, err := c.Read(ctx, "k")
	if err != nil {
		t.Fatal(err)
	}
	if got.Content != "second" {
		t.Errorf("Content = %v, want second write", got.Content)
	}
}

func TestUpdateTimestampWithoutRewrite(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()
	t0 := time.Unix(1700000000, 0).UTC()
	t1 := t0.Add(time.Hour)

	c.Write(ctx, jsonEntity("payload", t0), "k")
	if err := c.UpdateTimestamp(ctx, t1, "k"); err != nil {
		t.Fatalf("UpdateTimestamp: %v", err)
	}

	got, err := c.Read(ctx, "k")
	if err != nil {
		t.Fatal(err)
	}
	if !got.Timestamp.Equal(t1) {
		t.Errorf("Timestamp = %v, want %v", got.Timestamp, t1)
	}
	if got.Content != "payload" {
		t.Errorf("Content changed by timestamp refresh: %v", got.Content)
	}
}

func TestRemove(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	c.Write(ctx, jsonEntity("x", time.Now().UTC()), "k")
	if err := c.Remove(ctx, "k"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if ent, _ := c.Read(ctx, "k"); ent != nil {
		t.Error("entry survived Remove")
	}
	// Removing an absent key is not an error.
	if err := c.Remove(ctx, "absent"); err != nil {
		t.Errorf("Remove absent: %v", err)
	}
}

func TestPersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cache.db")
	ctx := context.Background()

	c1, err := New(path)
	if err != nil {
		t.Fatal(err)
	}
	c1.Write(ctx, jsonEntity("durable", time.Now().UTC()), "k")
	c1.Close()

	c2, err := New(path)
	if err != nil {
		t.Fatal(err)
	}
	defer c2.Close()
	got, err := c2.Read(ctx, "k")
	if err != nil || got == nil || got.Content != "durable" {
		t.Errorf("entry did not survive reopen: %v, %v", got, err)
	}
}
