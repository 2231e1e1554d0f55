package metadata

import (
	"bytes"
	"crypto/aes"
	"testing"
	"time"

	"github.com/fxamacker/cbor/v2"
)

func testKey() []byte {
	return []byte("01234567890123456789012345678901")[:32]
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	key := testKey()
	rec := Record{
		Name:     "hello.txt",
		Size:     14,
		FileType: "text/plain",
		Time:     time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		Chunks:   []string{"AAAA", "BBBB"},
	}

	enc, err := Encode(rec, key)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	dec, err := Decode(enc, key)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if dec.Name != rec.Name || dec.Size != rec.Size || dec.FileType != rec.FileType {
		t.Fatalf("round trip mismatch: got %+v want %+v", dec, rec)
	}
	if len(dec.Chunks) != 2 || dec.Chunks[0] != "AAAA" || dec.Chunks[1] != "BBBB" {
		t.Fatalf("chunk list mismatch: %v", dec.Chunks)
	}
	if !dec.Time.Equal(rec.Time) {
		t.Fatalf("time mismatch: got %v want %v", dec.Time, rec.Time)
	}
}

func TestEncodeIsNotPlaintextPrefixed(t *testing.T) {
	key := testKey()
	rec := Record{Name: "x", Size: 1, FileType: "text/plain", Time: time.Now().UTC()}

	enc, err := Encode(rec, key)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if len(enc) < ivSize+aes.BlockSize {
		t.Fatalf("encoded record too short: %d bytes", len(enc))
	}
	plain, err := cbor.Marshal(rec)
	if err != nil {
		t.Fatalf("marshal plaintext: %v", err)
	}
	// The first 16 bytes are a random IV, not the start of the plaintext
	// encoding.
	if bytes.Equal(enc[:ivSize], plain[:ivSize]) {
		t.Fatalf("encoded record begins with its plaintext encoding")
	}
}

func TestEncodeProducesFreshIVEachTime(t *testing.T) {
	key := testKey()
	rec := Record{Name: "x", Size: 1, FileType: "text/plain", Time: time.Now().UTC()}

	a, err := Encode(rec, key)
	if err != nil {
		t.Fatalf("Encode a: %v", err)
	}
	b, err := Encode(rec, key)
	if err != nil {
		t.Fatalf("Encode b: %v", err)
	}
	if bytes.Equal(a[:ivSize], b[:ivSize]) {
		t.Fatalf("expected distinct random IVs across encodes")
	}
}

func TestDecodeRejectsCorruptData(t *testing.T) {
	key := testKey()
	if _, err := Decode([]byte("short"), key); err != ErrCorrupt {
		t.Fatalf("expected ErrCorrupt for short input, got %v", err)
	}

	rec := Record{Name: "x", Size: 1, FileType: "text/plain", Time: time.Now().UTC()}
	enc, err := Encode(rec, key)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	tampered := append([]byte{}, enc...)
	tampered[len(tampered)-1] ^= 0xFF
	if _, err := Decode(tampered, key); err != ErrCorrupt {
		t.Fatalf("expected ErrCorrupt for tampered ciphertext, got %v", err)
	}
}
