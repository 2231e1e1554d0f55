// Package catalog maps (bucket, object-key) pairs to encrypted metadata
// records on disk: <data-root>/buckets/<bucket>/<key>.meta.
package catalog

import (
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"cargohold/metadata"
)

var ErrNotFound = metadata.ErrNotFound

// Catalog is a thin filesystem abstraction over the Metadata Codec.
type Catalog struct {
	root string // <data-root>/buckets
	key  []byte
}

// New returns a Catalog rooted at <dataDir>/buckets, encrypting metadata
// records with key.
func New(dataDir string, key []byte) *Catalog {
	return &Catalog{root: filepath.Join(dataDir, "buckets"), key: key}
}

func (c *Catalog) bucketDir(bucket string) string {
	return filepath.Join(c.root, bucket)
}

func (c *Catalog) metaPath(bucket, key string) string {
	return filepath.Join(c.bucketDir(bucket), key+".meta")
}

// CreateBucket mkdir-p's the bucket directory.
func (c *Catalog) CreateBucket(bucket string) error {
	if err := os.MkdirAll(c.bucketDir(bucket), 0o755); err != nil {
		return fmt.Errorf("create bucket %q: %w", bucket, err)
	}
	return nil
}

// DeleteBucket recursively removes the bucket directory if present; it is a
// no-op otherwise. Chunk files are never touched (no GC).
func (c *Catalog) DeleteBucket(bucket string) error {
	if _, err := os.Stat(c.bucketDir(bucket)); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("stat bucket %q: %w", bucket, err)
	}
	if err := os.RemoveAll(c.bucketDir(bucket)); err != nil {
		return fmt.Errorf("delete bucket %q: %w", bucket, err)
	}
	return nil
}

// BucketExists reports whether the bucket directory exists.
func (c *Catalog) BucketExists(bucket string) bool {
	info, err := os.Stat(c.bucketDir(bucket))
	return err == nil && info.IsDir()
}

// BucketInfo is one row of a list-all-buckets response.
type BucketInfo struct {
	Name    string
	Created time.Time // the bucket directory's mtime, per the reference's list_bucket
}

// ListBuckets enumerates the immediate children of the buckets root, along
// with each bucket directory's modification time (used as CreationDate on
// the wire, matching the reference's directory-mtime-as-creation-date
// behavior since bucket creation time is not tracked anywhere else).
func (c *Catalog) ListBuckets() ([]BucketInfo, error) {
	entries, err := os.ReadDir(c.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list buckets: %w", err)
	}
	var infos []BucketInfo
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		fi, err := e.Info()
		if err != nil {
			continue
		}
		infos = append(infos, BucketInfo{Name: e.Name(), Created: fi.ModTime()})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos, nil
}

// Save mkdir-p's the parent of the object's .meta path and writes it via
// the Metadata Codec.
func (c *Catalog) Save(bucket, key string, rec metadata.Record) error {
	return c.SaveAt(bucket, key+".meta", rec)
}

// Load reads and decrypts the object's metadata record.
func (c *Catalog) Load(bucket, key string) (metadata.Record, error) {
	return c.LoadAt(bucket, key+".meta")
}

// Delete removes the object's .meta file only; chunk files are left in
// place (there is no garbage collection).
func (c *Catalog) Delete(bucket, key string) error {
	return c.DeleteAt(bucket, key+".meta")
}

// SaveAt, LoadAt, and DeleteAt operate on a caller-supplied path already
// relative to the bucket directory, without appending the ".meta" suffix
// Save/Load/Delete add for ordinary object keys. They exist for scratch
// state whose on-disk name is already fully qualified — namely the
// multipart placeholder record at "<key>.meta.<upload-id>" (SPEC_FULL.md
// §3/§4.5), which would otherwise pick up a second, undocumented ".meta"
// suffix by going through Save/Load/Delete's own key+".meta" convention.
func (c *Catalog) SaveAt(bucket, relPath string, rec metadata.Record) error {
	path := filepath.Join(c.bucketDir(bucket), relPath)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("mkdir for %s/%s: %w", bucket, relPath, err)
	}
	enc, err := metadata.Encode(rec, c.key)
	if err != nil {
		return fmt.Errorf("encode metadata for %s/%s: %w", bucket, relPath, err)
	}
	if err := os.WriteFile(path, enc, 0o644); err != nil {
		return fmt.Errorf("write metadata for %s/%s: %w", bucket, relPath, err)
	}
	return nil
}

func (c *Catalog) LoadAt(bucket, relPath string) (metadata.Record, error) {
	data, err := os.ReadFile(filepath.Join(c.bucketDir(bucket), relPath))
	if err != nil {
		if os.IsNotExist(err) {
			return metadata.Record{}, ErrNotFound
		}
		return metadata.Record{}, fmt.Errorf("read metadata for %s/%s: %w", bucket, relPath, err)
	}
	rec, err := metadata.Decode(data, c.key)
	if err != nil {
		// A mid-write or corrupt record fails closed as NotFound, since
		// the catalog has no way to distinguish "never written" from
		// "torn write" at this layer.
		return metadata.Record{}, ErrNotFound
	}
	return rec, nil
}

func (c *Catalog) DeleteAt(bucket, relPath string) error {
	err := os.Remove(filepath.Join(c.bucketDir(bucket), relPath))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete metadata for %s/%s: %w", bucket, relPath, err)
	}
	return nil
}

// Head is the projection of a Record used by HEAD responses and listings.
type Head struct {
	Name     string
	Size     uint64
	FileType string
	Time     time.Time
}

// Head loads the record and projects it down to Head.
func (c *Catalog) Head(bucket, key string) (Head, error) {
	rec, err := c.Load(bucket, key)
	if err != nil {
		return Head{}, err
	}
	return Head{Name: rec.Name, Size: rec.Size, FileType: rec.FileType, Time: rec.Time}, nil
}

// Entry is one row of a bucket listing.
type Entry struct {
	Key          string
	Size         uint64
	LastModified time.Time
}

// List enumerates the bucket directory one level deep; sub-directories
// (nested keys) are ignored, a known gap carried from the reference. prefix
// is accepted for API compatibility but is NOT applied as a filter — the
// caller is expected to echo it back verbatim.
func (c *Catalog) List(bucket, prefix string) ([]Entry, error) {
	dirEntries, err := os.ReadDir(c.bucketDir(bucket))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("list bucket %q: %w", bucket, err)
	}

	var entries []Entry
	for _, de := range dirEntries {
		if de.IsDir() {
			continue
		}
		name := de.Name()
		if !strings.HasSuffix(name, ".meta") || strings.Contains(name, ".meta.") {
			continue // skip multipart placeholders (<key>.meta.<upload-id>)
		}
		key := strings.TrimSuffix(name, ".meta")
		rec, err := c.Load(bucket, key)
		if err != nil {
			continue
		}
		entries = append(entries, Entry{Key: rec.Name, Size: rec.Size, LastModified: rec.Time})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Key < entries[j].Key })
	return entries, nil
}

// Copy copies the raw (still-encrypted) bytes of a source object's .meta
// file to a destination key, without decoding or re-encrypting. Because
// chunks are content-addressed, the destination record remains valid: it
// references the same chunk hashes as the source.
func (c *Catalog) Copy(srcBucket, srcKey, dstBucket, dstKey string) error {
	data, err := os.ReadFile(c.metaPath(srcBucket, srcKey))
	if err != nil {
		if os.IsNotExist(err) {
			return ErrNotFound
		}
		return fmt.Errorf("read source metadata for %s/%s: %w", srcBucket, srcKey, err)
	}
	dst := c.metaPath(dstBucket, dstKey)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("mkdir for copy destination %s/%s: %w", dstBucket, dstKey, err)
	}
	if err := os.WriteFile(dst, data, 0o644); err != nil {
		return fmt.Errorf("write copy destination %s/%s: %w", dstBucket, dstKey, err)
	}
	return nil
}

// GuessFileType derives a MIME type from a basename's extension, defaulting
// to text/plain when unknown.
func GuessFileType(name string) string {
	ext := filepath.Ext(name)
	if ext == "" {
		return "text/plain"
	}
	t := mime.TypeByExtension(ext)
	if t == "" {
		return "text/plain"
	}
	if i := strings.IndexByte(t, ';'); i >= 0 {
		t = t[:i]
	}
	return t
}
