package config

import (
	"os"
	"testing"
)

func validConfig() Config {
	cfg := Defaults()
	cfg.Address = "1A1zP1eP5QGefi2DMPTfTL5SLmv7DivfNa"
	return cfg
}

func TestValidateAcceptsDefaults(t *testing.T) {
	cfg := validConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}
}

func TestValidateRejectsBadAddress(t *testing.T) {
	cfg := validConfig()
	cfg.Address = "not-an-address"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for invalid address")
	}
}

func TestValidateRejectsBadPort(t *testing.T) {
	cfg := validConfig()
	cfg.Port = 70000
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for out-of-range port")
	}
}

func TestValidateRejectsZeroDifficulty(t *testing.T) {
	cfg := validConfig()
	cfg.Difficulty = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for non-positive difficulty")
	}
}

func TestValidateRejectsWebStatsWithoutPort(t *testing.T) {
	cfg := validConfig()
	cfg.WebStats = true
	cfg.WebPort = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error when web_stats enabled with invalid web_port")
	}
}

func TestLoadYAMLOverlayThenFlagsWin(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/pool.yaml"
	content := []byte("rpchost: 10.0.0.5\nrpcport: 18332\naddress: 1A1zP1eP5QGefi2DMPTfTL5SLmv7DivfNa\ndifficulty: 2.5\n")
	if err := writeFile(path, content); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	cfg, err := Load([]string{"--config", path, "--rpcport", "28332"})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.RPCHost != "10.0.0.5" {
		t.Fatalf("file value not applied: %+v", cfg)
	}
	if cfg.RPCPort != 28332 {
		t.Fatalf("CLI flag must override file value, got %d", cfg.RPCPort)
	}
	if cfg.Difficulty != 2.5 {
		t.Fatalf("file-only field lost: %+v", cfg)
	}
}

func writeFile(path string, content []byte) error {
	return os.WriteFile(path, content, 0o644)
}
