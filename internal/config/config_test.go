package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

const validYAML = `
port: "8080"
logLevel: debug
databaseURL: "postgres://localhost/signflow"
redisAddr: "localhost:6379"
minioEndpoint: "localhost:9000"
minioAccessKey: "ak"
minioSecretKey: "sk"
minioBucket: "docs"
tokenSecret: "0123456789abcdef0123456789abcdef"
signBaseURL: "https://sign.example.com/sign"
magicLinkTTL: 168h
otpMaxAttempts: 3
maxUploadMB: 25
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadValidConfig(t *testing.T) {
	cfg, err := Load(writeConfig(t, validYAML))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != "8080" || cfg.MinioBucket != "docs" || cfg.OTPMaxAttempts != 3 {
		t.Errorf("unexpected config: %+v", cfg)
	}
	ttl, err := ParseTTL("magicLinkTTL", cfg.MagicLinkTTL)
	if err != nil {
		t.Fatalf("ParseTTL: %v", err)
	}
	if ttl != 168*time.Hour {
		t.Errorf("magic link ttl = %v, want 168h", ttl)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://override/db")
	t.Setenv("TOKEN_SECRET", "ffffffffffffffffffffffffffffffff")
	cfg, err := Load(writeConfig(t, validYAML))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DatabaseURL != "postgres://override/db" {
		t.Errorf("databaseURL = %q, want env override", cfg.DatabaseURL)
	}
	if cfg.TokenSecret != "ffffffffffffffffffffffffffffffff" {
		t.Errorf("tokenSecret not overridden")
	}
}

func TestLoadRejectsMissingRequiredFields(t *testing.T) {
	cases := map[string]string{
		"port":        "databaseURL: x\nredisAddr: y\nminioEndpoint: z\nminioBucket: b\ntokenSecret: s\nsignBaseURL: u\n",
		"tokenSecret": "port: \"80\"\ndatabaseURL: x\nredisAddr: y\nminioEndpoint: z\nminioBucket: b\nsignBaseURL: u\n",
		"signBaseURL": "port: \"80\"\ndatabaseURL: x\nredisAddr: y\nminioEndpoint: z\nminioBucket: b\ntokenSecret: s\n",
	}
	for missing, yaml := range cases {
		if _, err := Load(writeConfig(t, yaml)); err == nil {
			t.Errorf("config without %s accepted", missing)
		}
	}
}

func TestParseTTLRejectsGarbage(t *testing.T) {
	if _, err := ParseTTL("sessionTTL", "not-a-duration"); err == nil {
		t.Error("garbage duration accepted")
	}
	if ttl, err := ParseTTL("sessionTTL", ""); err != nil || ttl != 0 {
		t.Errorf("empty duration = %v/%v, want 0/nil", ttl, err)
	}
}
