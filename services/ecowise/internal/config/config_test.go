package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Port != DefaultPort || cfg.DatabaseURL != DefaultDatabaseURL || cfg.UploadDir != DefaultUploadDir {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if cfg.JWTSecret != InsecureJWTSecret || cfg.AdminSecret != InsecureAdminSecret {
		t.Fatalf("expected placeholder secrets, got %q %q", cfg.JWTSecret, cfg.AdminSecret)
	}
	if !cfg.AllowQuerySecret() {
		t.Fatalf("query secret should default to allowed")
	}
	if len(cfg.Warnings()) != 3 {
		t.Fatalf("expected 3 warnings, got %v", cfg.Warnings())
	}
	if cfg.MaxUploadBytes != DefaultMaxUploadBytes || len(cfg.AllowedExtensions) != 5 {
		t.Fatalf("unexpected upload defaults %+v", cfg)
	}
}

func TestLoadEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, `
port: "8080"
databaseURL: "sqlite://file.db"
jwtSecret: "from-file"
loginRateLimitPerMinute: 5
adminAllowQuerySecret: true
`)
	t.Setenv("PORT", "9090")
	t.Setenv("JWT_SECRET", "from-env")
	t.Setenv("LOGIN_RATE_LIMIT_PER_MINUTE", "7")
	t.Setenv("ADMIN_ALLOW_QUERY_SECRET", "false")
	t.Setenv("TRUSTED_PROXIES", "10.0.0.0/8, 192.168.0.0/16")
	t.Setenv("ANALYSIS_TIMEOUT", "5s")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Port != "9090" || cfg.JWTSecret != "from-env" || cfg.DatabaseURL != "sqlite://file.db" {
		t.Fatalf("unexpected overrides %+v", cfg)
	}
	if cfg.LoginRateLimitPerMinute != 7 {
		t.Fatalf("loginRateLimitPerMinute = %d, want 7", cfg.LoginRateLimitPerMinute)
	}
	if cfg.AllowQuerySecret() {
		t.Fatalf("expected query secret disabled by env")
	}
	if len(cfg.TrustedProxyCIDRs) != 2 || cfg.TrustedProxyCIDRs[1] != "192.168.0.0/16" {
		t.Fatalf("unexpected trusted proxies %v", cfg.TrustedProxyCIDRs)
	}
	timeout, err := ParseAnalysisTimeout(cfg.AnalysisTimeout)
	if err != nil || timeout != 5*time.Second {
		t.Fatalf("analysis timeout = %v err=%v", timeout, err)
	}
}

func TestLoadUsesConfigEnvPath(t *testing.T) {
	path := writeConfig(t, `port: "7070"`)
	t.Setenv("ECOWISE_CONFIG", path)
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Port != "7070" {
		t.Fatalf("port = %q, want 7070", cfg.Port)
	}
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	tests := []struct {
		name    string
		content string
		env     map[string]string
		wantErr string
	}{
		{name: "bad yaml", content: "port: [", wantErr: "parse config"},
		{name: "non numeric port", content: `port: "http"`, wantErr: "port"},
		{name: "negative rate limit", content: "adminRateLimitPerMinute: -1", wantErr: "rate limits"},
		{name: "bcrypt cost", content: "bcryptCost: 40", wantErr: "bcryptCost"},
		{name: "bad session ttl", content: `sessionTTL: "soon"`, wantErr: "sessionTTL"},
		{name: "partial minio", content: `minioEndpoint: "localhost:9000"`, wantErr: "minioEndpoint"},
		{name: "bad trusted proxy", content: "trustedProxyCidrs: [\"10.0.0.0/33\"]", wantErr: "trustedProxyCidrs"},
		{name: "bad trusted proxy env", env: map[string]string{"TRUSTED_PROXIES": "10.0.0.1, not-an-ip"}, wantErr: "not-an-ip"},
		{
			name:    "production placeholder jwt",
			content: `environment: production`,
			env:     map[string]string{"DATABASE_URL": "postgres://u:p@db/ecowise"},
			wantErr: "jwtSecret",
		},
		{
			name:    "production placeholder admin",
			content: `environment: production`,
			env:     map[string]string{"JWT_SECRET": "a-real-secret", "DATABASE_URL": "postgres://u:p@db/ecowise"},
			wantErr: "adminSecret",
		},
		{
			name:    "production sqlite",
			content: `environment: production`,
			env:     map[string]string{"JWT_SECRET": "a-real-secret", "ADMIN_SECRET": "another-secret"},
			wantErr: "postgres",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			_, err := Load(writeConfig(t, tc.content))
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tc.wantErr, err)
			}
		})
	}
}

func TestProductionConfigWithRealSecrets(t *testing.T) {
	t.Setenv("ECOWISE_ENV", "Production")
	t.Setenv("JWT_SECRET", "a-real-secret")
	t.Setenv("ADMIN_SECRET", "another-secret")
	t.Setenv("DATABASE_URL", "postgres://u:p@db/ecowise")
	t.Setenv("ADMIN_ALLOW_QUERY_SECRET", "false")
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if !cfg.IsProduction() {
		t.Fatalf("expected production")
	}
	if w := cfg.Warnings(); len(w) != 0 {
		t.Fatalf("expected no warnings, got %v", w)
	}
}
