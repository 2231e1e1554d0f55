package multipart

import (
	"bytes"
	"testing"
	"time"

	"cargohold/catalog"
	"cargohold/chunkstore"

	"github.com/rs/zerolog"
)

func testKey() []byte { return []byte("01234567890123456789012345678901")[:32] }

func newStore(t *testing.T) (*Store, *catalog.Catalog, *chunkstore.Store) {
	t.Helper()
	dir := t.TempDir()
	cat := catalog.New(dir, testKey())
	chunks := chunkstore.New(dir, zerolog.Nop())
	if err := cat.CreateBucket("b1"); err != nil {
		t.Fatalf("CreateBucket: %v", err)
	}
	return New(dir, cat, chunks), cat, chunks
}

func TestInitRecordPartFinalize(t *testing.T) {
	mp, cat, chunks := newStore(t)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	if err := mp.Init("b1", "big.bin", "U1", now); err != nil {
		t.Fatalf("Init: %v", err)
	}

	part1 := bytes.Repeat([]byte{0x41}, 8<<20)
	hash1 := chunkstore.SumHash(part1)
	if err := chunks.Put(hash1, bytes.NewReader(part1)); err != nil {
		t.Fatalf("Put part1: %v", err)
	}
	if err := mp.RecordPart("U1", 1, int64(len(part1))); err != nil {
		t.Fatalf("RecordPart 1: %v", err)
	}

	part2 := bytes.Repeat([]byte{0x42}, 4<<20)
	hash2 := chunkstore.SumHash(part2)
	if err := chunks.Put(hash2, bytes.NewReader(part2)); err != nil {
		t.Fatalf("Put part2: %v", err)
	}
	if err := mp.RecordPart("U1", 2, int64(len(part2))); err != nil {
		t.Fatalf("RecordPart 2: %v", err)
	}

	rec, err := mp.Finalize("b1", "big.bin", "U1", []Part{
		{Number: 2, ETag: hash2},
		{Number: 1, ETag: hash1},
	}, now)
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if rec.Size != uint64(len(part1)+len(part2)) {
		t.Fatalf("size = %d, want %d", rec.Size, len(part1)+len(part2))
	}
	if len(rec.Chunks) != 2 || rec.Chunks[0] != hash1 || rec.Chunks[1] != hash2 {
		t.Fatalf("chunks not sorted by part number: %v", rec.Chunks)
	}

	if _, err := cat.LoadAt("b1", "big.bin.meta.U1"); err == nil {
		t.Fatalf("placeholder should be gone after finalize")
	}
	got, err := cat.Load("b1", "big.bin")
	if err != nil {
		t.Fatalf("Load final: %v", err)
	}
	if got.Size != rec.Size {
		t.Fatalf("final record size mismatch: %d != %d", got.Size, rec.Size)
	}
}

func TestFinalizeWithoutInitFails(t *testing.T) {
	mp, _, _ := newStore(t)
	_, err := mp.Finalize("b1", "x", "missing-upload", nil, time.Now())
	if err != ErrNotInitialized {
		t.Fatalf("expected ErrNotInitialized, got %v", err)
	}
}

func TestFinalizeWithMissingPartFails(t *testing.T) {
	mp, _, _ := newStore(t)
	now := time.Now().UTC()
	if err := mp.Init("b1", "x", "U2", now); err != nil {
		t.Fatalf("Init: %v", err)
	}
	_, err := mp.Finalize("b1", "x", "U2", []Part{{Number: 1, ETag: "NEVERWRITTEN"}}, now)
	if err != ErrIncompleteParts {
		t.Fatalf("expected ErrIncompleteParts, got %v", err)
	}
}

func TestRecordPartIdempotent(t *testing.T) {
	mp, _, chunks := newStore(t)
	now := time.Now().UTC()
	if err := mp.Init("b1", "x", "U3", now); err != nil {
		t.Fatalf("Init: %v", err)
	}
	body := []byte("same part bytes")
	hash := chunkstore.SumHash(body)
	if err := chunks.Put(hash, bytes.NewReader(body)); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := mp.RecordPart("U3", 1, int64(len(body))); err != nil {
		t.Fatalf("RecordPart: %v", err)
	}
	if err := mp.RecordPart("U3", 1, int64(len(body))); err != nil {
		t.Fatalf("RecordPart (again): %v", err)
	}
}
