package catalog

import (
	"testing"
	"time"

	"cargohold/metadata"
)

func testKey() []byte { return []byte("01234567890123456789012345678901")[:32] }

func TestBucketLifecycle(t *testing.T) {
	c := New(t.TempDir(), testKey())

	if c.BucketExists("b1") {
		t.Fatalf("bucket should not exist yet")
	}
	if err := c.CreateBucket("b1"); err != nil {
		t.Fatalf("CreateBucket: %v", err)
	}
	if !c.BucketExists("b1") {
		t.Fatalf("bucket should exist after create")
	}

	buckets, err := c.ListBuckets()
	if err != nil {
		t.Fatalf("ListBuckets: %v", err)
	}
	if len(buckets) != 1 || buckets[0].Name != "b1" {
		t.Fatalf("expected [b1], got %v", buckets)
	}

	if err := c.DeleteBucket("b1"); err != nil {
		t.Fatalf("DeleteBucket: %v", err)
	}
	if c.BucketExists("b1") {
		t.Fatalf("bucket should not exist after delete")
	}
	// Deleting again is a no-op, not an error.
	if err := c.DeleteBucket("b1"); err != nil {
		t.Fatalf("DeleteBucket (again): %v", err)
	}
}

func TestSaveLoadHeadDelete(t *testing.T) {
	c := New(t.TempDir(), testKey())
	if err := c.CreateBucket("b1"); err != nil {
		t.Fatalf("CreateBucket: %v", err)
	}

	rec := metadata.Record{
		Name:     "hello.txt",
		Size:     14,
		FileType: "text/plain",
		Time:     time.Now().UTC(),
		Chunks:   []string{"HASH1"},
	}
	if err := c.Save("b1", "hello.txt", rec); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := c.Load("b1", "hello.txt")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.Name != rec.Name || got.Size != rec.Size {
		t.Fatalf("loaded record mismatch: %+v", got)
	}

	head, err := c.Head("b1", "hello.txt")
	if err != nil {
		t.Fatalf("Head: %v", err)
	}
	if head.Size != 14 {
		t.Fatalf("head size = %d, want 14", head.Size)
	}

	if err := c.Delete("b1", "hello.txt"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := c.Load("b1", "hello.txt"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestListIgnoresSubdirsAndPlaceholders(t *testing.T) {
	c := New(t.TempDir(), testKey())
	if err := c.CreateBucket("b1"); err != nil {
		t.Fatalf("CreateBucket: %v", err)
	}
	now := time.Now().UTC()
	if err := c.Save("b1", "x", metadata.Record{Name: "x", Size: 1, Time: now}); err != nil {
		t.Fatalf("Save x: %v", err)
	}
	if err := c.Save("b1", "dir/y", metadata.Record{Name: "y", Size: 2, Time: now}); err != nil {
		t.Fatalf("Save dir/y: %v", err)
	}
	if err := c.SaveAt("b1", "z.meta.U1", metadata.Record{Name: "z", Size: 3, Time: now}); err != nil {
		t.Fatalf("SaveAt placeholder: %v", err)
	}

	entries, err := c.List("b1", "ignored-prefix")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 1 || entries[0].Key != "x" {
		t.Fatalf("expected only the top-level entry 'x', got %v", entries)
	}
}

func TestGuessFileType(t *testing.T) {
	if got := GuessFileType("report.txt"); got != "text/plain" {
		t.Fatalf("report.txt => %s, want text/plain", got)
	}
	if got := GuessFileType("noext"); got != "text/plain" {
		t.Fatalf("noext => %s, want text/plain", got)
	}
}
