// Package multipart implements the Multipart Session Store: the per-upload
// scratch area (placeholder metadata + per-part length files) that backs
// the initiate -> per-part upload -> complete protocol.
package multipart

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"cargohold/catalog"
	"cargohold/chunkstore"
	"cargohold/metadata"
)

var (
	ErrNotInitialized  = errors.New("multipart: upload not initialized")
	ErrIncompleteParts = errors.New("multipart: incomplete parts")
)

// Part is one entry of a CompleteMultipartUpload request.
type Part struct {
	Number int    `cbor:"number"`
	ETag   string `cbor:"etag"`
}

// Store coordinates a Catalog and a chunkstore.Store to implement the
// three-phase multipart protocol.
type Store struct {
	tmpRoot string // <data-root>/tmp
	cat     *catalog.Catalog
	chunks  *chunkstore.Store
}

// New returns a multipart Store rooted at <dataDir>/tmp.
func New(dataDir string, cat *catalog.Catalog, chunks *chunkstore.Store) *Store {
	return &Store{tmpRoot: filepath.Join(dataDir, "tmp"), cat: cat, chunks: chunks}
}

func (s *Store) stagingDir(uploadID string) string {
	return filepath.Join(s.tmpRoot, uploadID)
}

func (s *Store) partLengthPath(uploadID string, partNumber int) string {
	return filepath.Join(s.stagingDir(uploadID), strconv.Itoa(partNumber))
}

// placeholderKey is the on-disk basename of the placeholder record,
// "<key>.meta.<upload-id>" (SPEC_FULL.md §3/§4.5). It is saved and loaded
// through Catalog's exact-path methods (SaveAt/LoadAt/DeleteAt) rather
// than Save/Load/Delete, which would append their own ".meta" on top.
func (s *Store) placeholderKey(key, uploadID string) string {
	return key + ".meta." + uploadID
}

// Init creates the scratch directory and writes a placeholder metadata
// record (size 0, no chunks). now is supplied by the caller (the Raft
// proposer) so the state machine never touches wall-clock time.
func (s *Store) Init(bucket, key, uploadID string, now time.Time) error {
	if err := os.MkdirAll(s.stagingDir(uploadID), 0o755); err != nil {
		return fmt.Errorf("create staging dir for upload %s: %w", uploadID, err)
	}
	placeholder := metadata.Record{
		Name:     filepath.Base(key),
		Size:     0,
		FileType: catalog.GuessFileType(key),
		Time:     now,
		Chunks:   nil,
	}
	if err := s.cat.SaveAt(bucket, s.placeholderKey(key, uploadID), placeholder); err != nil {
		return fmt.Errorf("save placeholder for upload %s: %w", uploadID, err)
	}
	return nil
}

// RecordPart writes the decimal-ASCII part length to the scratch area.
func (s *Store) RecordPart(uploadID string, partNumber int, length int64) error {
	if err := os.MkdirAll(s.stagingDir(uploadID), 0o755); err != nil {
		return fmt.Errorf("create staging dir for upload %s: %w", uploadID, err)
	}
	path := s.partLengthPath(uploadID, partNumber)
	if err := os.WriteFile(path, []byte(strconv.FormatInt(length, 10)), 0o644); err != nil {
		return fmt.Errorf("record part length for upload %s part %d: %w", uploadID, partNumber, err)
	}
	return nil
}

// Finalize validates that the placeholder and every part are present,
// publishes the real .meta record, and removes the scratch state.
//
// Validation order matches the reference implementation: placeholder
// existence first, then per-part existence (both the chunk and its length
// file, summing the lengths in the same pass), only then sorting.
func (s *Store) Finalize(bucket, key, uploadID string, parts []Part, now time.Time) (metadata.Record, error) {
	placeholderKey := s.placeholderKey(key, uploadID)
	placeholder, err := s.cat.LoadAt(bucket, placeholderKey)
	if err != nil {
		return metadata.Record{}, ErrNotInitialized
	}

	var totalSize int64
	for _, p := range parts {
		if !s.chunks.Exists(p.ETag) {
			return metadata.Record{}, ErrIncompleteParts
		}
		raw, err := os.ReadFile(s.partLengthPath(uploadID, p.Number))
		if err != nil {
			return metadata.Record{}, ErrIncompleteParts
		}
		length, err := strconv.ParseInt(string(raw), 10, 64)
		if err != nil {
			return metadata.Record{}, ErrIncompleteParts
		}
		totalSize += length
	}

	sorted := make([]Part, len(parts))
	copy(sorted, parts)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Number < sorted[j].Number })

	chunks := make([]string, len(sorted))
	for i, p := range sorted {
		chunks[i] = p.ETag
	}

	final := metadata.Record{
		Name:     placeholder.Name,
		Size:     uint64(totalSize),
		FileType: placeholder.FileType,
		Time:     now,
		Chunks:   chunks,
	}
	if err := s.cat.Save(bucket, key, final); err != nil {
		return metadata.Record{}, fmt.Errorf("save final metadata for upload %s: %w", uploadID, err)
	}

	if err := s.cat.DeleteAt(bucket, placeholderKey); err != nil {
		return metadata.Record{}, fmt.Errorf("remove placeholder for upload %s: %w", uploadID, err)
	}
	if err := os.RemoveAll(s.stagingDir(uploadID)); err != nil {
		return metadata.Record{}, fmt.Errorf("remove staging dir for upload %s: %w", uploadID, err)
	}
	return final, nil
}
