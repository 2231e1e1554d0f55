// Package metadata implements the Metadata Codec: a CBOR-encoded object
// record, encrypted at rest with AES-256-CBC/PKCS7 under a static key and a
// per-write random IV.
package metadata

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// Record binds an object key to its ordered chunk list.
type Record struct {
	Name     string    `cbor:"name"`
	Size     uint64    `cbor:"size"`
	FileType string    `cbor:"file_type"`
	Time     time.Time `cbor:"time"`
	Chunks   []string  `cbor:"chunks"`
}

const ivSize = aes.BlockSize // 16

var (
	// ErrNotFound is returned by callers (catalog) when the backing path
	// does not exist; the codec itself never touches the filesystem.
	ErrNotFound = errors.New("metadata: not found")
	// ErrCorrupt is returned when decryption or deserialization fails.
	ErrCorrupt = errors.New("metadata: corrupt record")
)

// Encode CBOR-marshals rec, generates a fresh random IV, and returns
// IV || AES-256-CBC/PKCS7(ciphertext).
func Encode(rec Record, key []byte) ([]byte, error) {
	plain, err := cbor.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("marshal record: %w", err)
	}
	padded := pkcs7Pad(plain, aes.BlockSize)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("new cipher: %w", err)
	}

	iv := make([]byte, ivSize)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return nil, fmt.Errorf("generate iv: %w", err)
	}

	ciphertext := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, padded)

	out := make([]byte, 0, ivSize+len(ciphertext))
	out = append(out, iv...)
	out = append(out, ciphertext...)
	return out, nil
}

// Decode takes the first 16 bytes of data as the IV, decrypts the
// remainder, and CBOR-unmarshals the result into a Record. A bad length,
// bad padding, or unmarshal failure returns ErrCorrupt; an invalid key
// returns the cipher error. The decoded fields are not checked further.
func Decode(data []byte, key []byte) (Record, error) {
	if len(data) < ivSize || (len(data)-ivSize)%aes.BlockSize != 0 || len(data) == ivSize {
		return Record{}, ErrCorrupt
	}
	iv := data[:ivSize]
	ciphertext := data[ivSize:]

	block, err := aes.NewCipher(key)
	if err != nil {
		return Record{}, fmt.Errorf("new cipher: %w", err)
	}

	padded := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(padded, ciphertext)

	plain, err := pkcs7Unpad(padded, aes.BlockSize)
	if err != nil {
		return Record{}, ErrCorrupt
	}

	var rec Record
	if err := cbor.Unmarshal(plain, &rec); err != nil {
		return Record{}, ErrCorrupt
	}
	return rec, nil
}

func pkcs7Pad(b []byte, blockSize int) []byte {
	padLen := blockSize - len(b)%blockSize
	padding := bytes.Repeat([]byte{byte(padLen)}, padLen)
	return append(b, padding...)
}

func pkcs7Unpad(b []byte, blockSize int) ([]byte, error) {
	n := len(b)
	if n == 0 || n%blockSize != 0 {
		return nil, fmt.Errorf("invalid padded length %d", n)
	}
	padLen := int(b[n-1])
	if padLen == 0 || padLen > blockSize || padLen > n {
		return nil, fmt.Errorf("invalid pkcs7 padding")
	}
	for _, p := range b[n-padLen:] {
		if int(p) != padLen {
			return nil, fmt.Errorf("invalid pkcs7 padding bytes")
		}
	}
	return b[:n-padLen], nil
}
