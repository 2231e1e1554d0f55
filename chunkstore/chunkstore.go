// Package chunkstore implements the content-addressed, deduplicated, Zstd
// compressed chunk store and the fixed-size chunker that feeds it.
package chunkstore

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/rs/zerolog"
)

// DefaultChunkSize is the fixed (not content-defined) chunk size: 8 MiB.
const DefaultChunkSize = 8 << 20

// Store is a content-addressed blob store rooted at a data directory. It is
// safe for concurrent use: writers race benignly because same-hash writes
// are byte-identical by construction.
type Store struct {
	root string
	log  zerolog.Logger
}

// New returns a Store rooted at <dataDir>/file.
func New(dataDir string, log zerolog.Logger) *Store {
	return &Store{root: filepath.Join(dataDir, "file"), log: log}
}

// PathFor maps a hash to its sharded on-disk path: <root>/<H[0]>/<H[1:3]>/<H[3:]>.
func (s *Store) PathFor(hash string) string {
	return filepath.Join(s.root, hash[:1], hash[1:3], hash[3:])
}

// Exists is a pure filesystem existence test on PathFor(hash).
func (s *Store) Exists(hash string) bool {
	_, err := os.Stat(s.PathFor(hash))
	return err == nil
}

// Put compresses r with Zstd and writes it to PathFor(hash), creating parent
// directories as needed. It is idempotent: if the file already exists this
// is a no-op. Writes go through a temp file + rename so concurrent writers
// never observe a partial chunk file.
func (s *Store) Put(hash string, r io.Reader) error {
	if s.Exists(hash) {
		return nil
	}
	dst := s.PathFor(hash)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("mkdir chunk dir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp chunk: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op once renamed

	enc, err := zstd.NewWriter(tmp)
	if err != nil {
		tmp.Close()
		return fmt.Errorf("new zstd writer: %w", err)
	}
	if _, err := io.Copy(enc, r); err != nil {
		enc.Close()
		tmp.Close()
		return fmt.Errorf("compress chunk: %w", err)
	}
	if err := enc.Close(); err != nil {
		tmp.Close()
		return fmt.Errorf("close zstd writer: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp chunk: %w", err)
	}

	if err := os.Rename(tmpName, dst); err != nil {
		// Another writer may have raced us to the same hash; that's fine,
		// same-hash content is equivalent by construction.
		if s.Exists(hash) {
			return nil
		}
		return fmt.Errorf("publish chunk: %w", err)
	}
	return nil
}

// GetStream returns a reader that yields the concatenated, decompressed
// bytes of each hash in order. It is finite and single-consumer. A read
// error on any one chunk truncates the stream cleanly rather than
// propagating — the caller observes an early EOF, matching the reference's
// "silent truncation" download behavior.
func (s *Store) GetStream(hashes []string) io.ReadCloser {
	pr, pw := io.Pipe()
	go func() {
		for _, h := range hashes {
			if err := s.streamOne(h, pw); err != nil {
				s.log.Warn().Str("hash", h).Err(err).Msg("chunk stream truncated")
				pw.Close()
				return
			}
		}
		pw.Close()
	}()
	return pr
}

func (s *Store) streamOne(hash string, w io.Writer) error {
	f, err := os.Open(s.PathFor(hash))
	if err != nil {
		return err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return err
	}
	defer dec.Close()

	_, err = io.Copy(w, dec)
	return err
}

// SumHash returns the uppercase-hex SHA-256 digest of b.
func SumHash(b []byte) string {
	sum := sha256.Sum256(b)
	return strings.ToUpper(hex.EncodeToString(sum[:]))
}

// ChunkStream reads r in chunkSize-sized slices (defaulting to
// DefaultChunkSize), hashes each slice, stores any not already present, and
// returns the total byte count plus the ordered hash list. The trailing
// partial chunk (if any) is emitted the same way as a full chunk.
func ChunkStream(store *Store, r io.Reader, chunkSize int) (totalSize int64, hashes []string, err error) {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	buf := make([]byte, chunkSize)
	for {
		n, readErr := io.ReadFull(r, buf)
		if n > 0 {
			hash := SumHash(buf[:n])
			if !store.Exists(hash) {
				if err := store.Put(hash, bytes.NewReader(buf[:n])); err != nil {
					return 0, nil, fmt.Errorf("store chunk: %w", err)
				}
			}
			hashes = append(hashes, hash)
			totalSize += int64(n)
		}
		if readErr == io.EOF || readErr == io.ErrUnexpectedEOF {
			break
		}
		if readErr != nil {
			return 0, nil, fmt.Errorf("read chunk: %w", readErr)
		}
	}
	return totalSize, hashes, nil
}
