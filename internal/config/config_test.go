package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range keys {
		if v, ok := os.LookupEnv(k); ok {
			os.Unsetenv(k)
			t.Cleanup(func() { os.Setenv(k, v) })
		}
	}
}

func missingEnvFile(t *testing.T) string {
	return filepath.Join(t.TempDir(), "absent.env")
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load(missingEnvFile(t))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Port != "8000" {
		t.Errorf("expected default port 8000, got %s", cfg.Port)
	}
	if cfg.FHIRPageSize != 50 {
		t.Errorf("expected default page size 50, got %d", cfg.FHIRPageSize)
	}
	if cfg.FHIRTimeout != 10*time.Second {
		t.Errorf("expected default timeout 10s, got %s", cfg.FHIRTimeout)
	}
	if cfg.FHIRMaxPages != 0 {
		t.Errorf("expected unbounded pages by default, got %d", cfg.FHIRMaxPages)
	}
	if cfg.DICOMLenientReadLimit != 1<<20 {
		t.Errorf("expected 1 MiB lenient limit, got %d", cfg.DICOMLenientReadLimit)
	}
	if cfg.ArtifactStore != StoreNone {
		t.Errorf("expected artifact store none, got %q", cfg.ArtifactStore)
	}
	if cfg.EventsQueue != "ingest_events" {
		t.Errorf("expected events queue ingest_events, got %q", cfg.EventsQueue)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("expected defaults to validate, got %v", err)
	}
}

func TestLoad_AuthClaims(t *testing.T) {
	clearEnv(t)
	t.Setenv("AUTH_ISSUER", "https://idp.example.org")
	t.Setenv("AUTH_AUDIENCE", "theranostics")

	cfg, err := Load(missingEnvFile(t))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.AuthIssuer != "https://idp.example.org" {
		t.Errorf("expected issuer from env, got %q", cfg.AuthIssuer)
	}
	if cfg.AuthAudience != "theranostics" {
		t.Errorf("expected audience from env, got %q", cfg.AuthAudience)
	}
}

func TestLoad_FromEnvironment(t *testing.T) {
	clearEnv(t)
	os.Setenv("FHIR_PAGE_SIZE", "25")
	os.Setenv("FHIR_TIMEOUT", "3s")
	os.Setenv("ARTIFACT_STORE", "MinIO")
	defer os.Unsetenv("FHIR_PAGE_SIZE")
	defer os.Unsetenv("FHIR_TIMEOUT")
	defer os.Unsetenv("ARTIFACT_STORE")

	cfg, err := Load(missingEnvFile(t))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.FHIRPageSize != 25 {
		t.Errorf("expected page size 25, got %d", cfg.FHIRPageSize)
	}
	if cfg.FHIRTimeout != 3*time.Second {
		t.Errorf("expected timeout 3s, got %s", cfg.FHIRTimeout)
	}
	if cfg.ArtifactStore != StoreMinio {
		t.Errorf("expected normalised store minio, got %q", cfg.ArtifactStore)
	}
}

func TestLoad_DotEnvFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "test.env")
	if err := os.WriteFile(path, []byte("FHIR_BASE_URL=http://fhir.test/r4\nDICOM_WORKERS=4\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	defer os.Unsetenv("FHIR_BASE_URL")
	defer os.Unsetenv("DICOM_WORKERS")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.FHIRBaseURL != "http://fhir.test/r4" {
		t.Errorf("expected base url from dotenv, got %q", cfg.FHIRBaseURL)
	}
	if cfg.DICOMWorkers != 4 {
		t.Errorf("expected 4 workers, got %d", cfg.DICOMWorkers)
	}
}

func validConfig() *Config {
	return &Config{
		Env:                   "development",
		FHIRPageSize:          50,
		FHIRTimeout:           10 * time.Second,
		DICOMWorkers:          1,
		DICOMLenientReadLimit: 1 << 20,
		ArtifactStore:         StoreNone,
		DBMaxConns:            10,
		DBMinConns:            1,
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"zero page size", func(c *Config) { c.FHIRPageSize = 0 }, "FHIR_PAGE_SIZE"},
		{"negative max pages", func(c *Config) { c.FHIRMaxPages = -1 }, "FHIR_MAX_PAGES"},
		{"no workers", func(c *Config) { c.DICOMWorkers = 0 }, "DICOM_WORKERS"},
		{"gcs without bucket", func(c *Config) { c.ArtifactStore = StoreGCS }, "ARTIFACT_BUCKET"},
		{"minio without endpoint", func(c *Config) {
			c.ArtifactStore = StoreMinio
			c.ArtifactBucket = "artifacts"
		}, "MINIO_ENDPOINT"},
		{"unknown store", func(c *Config) { c.ArtifactStore = "s3" }, "ARTIFACT_STORE"},
		{"min conns above max", func(c *Config) {
			c.DatabaseURL = "postgres://localhost/x"
			c.DBMinConns = 20
		}, "DB_MIN_CONNS"},
		{"short secret ref without project", func(c *Config) { c.FHIRBearerToken = "sm://fhir-token" }, "GCP_PROJECT_ID"},
		{"production without signing key", func(c *Config) { c.Env = "production" }, "AUTH_SIGNING_KEY"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validConfig()
			tt.mutate(c)
			err := c.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error mentioning %s, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestConfig_IsDev(t *testing.T) {
	c := &Config{Env: "development"}
	if !c.IsDev() {
		t.Error("expected IsDev() to return true for development")
	}

	c.Env = "production"
	if c.IsDev() {
		t.Error("expected IsDev() to return false for production")
	}
}
