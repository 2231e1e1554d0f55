// Package config centralizes process-wide configuration: data root, listen
// addresses, Raft node identity, SigV4 static credentials, and the metadata
// encryption key. It replaces per-handler os.Getenv lookups with a single
// value constructed once at startup.
package config

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
)

// Config is immutable after Load returns. Nothing in the rest of the module
// re-initializes it mid-life.
type Config struct {
	NodeID         string
	DataDir        string
	HTTPAddr       string
	RPCAddr        string
	LeaderHTTPAddr string // empty => bootstrap a new single-node cluster
	AccessKey      string
	SecretKey      string
	MetaKey        []byte // AES-256 key for the Metadata Codec, exactly 32 bytes
}

const metaKeyEnv = "CARGOHOLD_META_KEY"

// Load builds a Config from explicit flag values. An empty dataDir falls
// back to os.Getwd() the way the teacher's own config.LoadConfig did, and
// empty credentials fall back to built-in defaults. The only value read
// from the environment is the metadata key (CARGOHOLD_META_KEY), which has
// a fixed fallback of its own.
func Load(nodeID, dataDir, httpAddr, rpcAddr, leaderHTTPAddr, accessKey, secretKey string) (Config, error) {
	if dataDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return Config{}, fmt.Errorf("resolve data dir: %w", err)
		}
		dataDir = wd
	}

	metaKey := []byte(os.Getenv(metaKeyEnv))
	if len(metaKey) == 0 {
		// Fixed compile-time fallback, matching the spec's "the key is a
		// compile-time constant" contract (§4.3, known limitation).
		metaKey = []byte("cargohold-static-metadata-key!!!")
	}
	if len(metaKey) != 32 {
		return Config{}, fmt.Errorf("metadata key must be 32 bytes, got %d", len(metaKey))
	}

	if accessKey == "" {
		accessKey = "minioadmin"
	}
	if secretKey == "" {
		secretKey = "minioadmin"
	}

	return Config{
		NodeID:         nodeID,
		DataDir:        dataDir,
		HTTPAddr:       httpAddr,
		RPCAddr:        rpcAddr,
		LeaderHTTPAddr: leaderHTTPAddr,
		AccessKey:      accessKey,
		SecretKey:      secretKey,
		MetaKey:        metaKey,
	}, nil
}

// NewLogger builds the process-wide structured logger. Every package takes
// one of these by constructor injection instead of calling log.Printf
// directly.
func NewLogger(nodeID string) zerolog.Logger {
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}).
		With().
		Timestamp().
		Str("node", nodeID).
		Logger()
}
