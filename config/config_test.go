package config

import "testing"

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("n1", t.TempDir(), ":9000", ":9001", "", "", "")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.AccessKey != "minioadmin" || cfg.SecretKey != "minioadmin" {
		t.Fatalf("expected default credentials, got %+v", cfg)
	}
	if len(cfg.MetaKey) != 32 {
		t.Fatalf("expected 32 byte meta key, got %d", len(cfg.MetaKey))
	}
}

func TestLoadExplicitCredentials(t *testing.T) {
	cfg, err := Load("n1", t.TempDir(), ":9000", ":9001", "", "ak", "sk")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.AccessKey != "ak" || cfg.SecretKey != "sk" {
		t.Fatalf("expected explicit credentials, got %+v", cfg)
	}
}
