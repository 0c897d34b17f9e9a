package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Artifact store backends.
const (
	StoreNone  = "none"
	StoreGCS   = "gcs"
	StoreMinio = "minio"
)

type Config struct {
	Env      string `mapstructure:"ENV"`
	LogLevel string `mapstructure:"LOG_LEVEL"`
	Port     string `mapstructure:"PORT"`

	FHIRBaseURL     string        `mapstructure:"FHIR_BASE_URL"`
	FHIRPageSize    int           `mapstructure:"FHIR_PAGE_SIZE"`
	FHIRTimeout     time.Duration `mapstructure:"FHIR_TIMEOUT"`
	FHIRMaxPages    int           `mapstructure:"FHIR_MAX_PAGES"`
	FHIRBearerToken string        `mapstructure:"FHIR_BEARER_TOKEN"`

	DICOMWorkers          int   `mapstructure:"DICOM_WORKERS"`
	DICOMLenientReadLimit int64 `mapstructure:"DICOM_LENIENT_READ_LIMIT"`

	ArtifactStore  string `mapstructure:"ARTIFACT_STORE"`
	ArtifactBucket string `mapstructure:"ARTIFACT_BUCKET"`
	MinioEndpoint  string `mapstructure:"MINIO_ENDPOINT"`
	MinioAccessKey string `mapstructure:"MINIO_ACCESS_KEY"`
	MinioSecretKey string `mapstructure:"MINIO_SECRET_KEY"`
	MinioUseSSL    bool   `mapstructure:"MINIO_USE_SSL"`

	AMQPURL     string `mapstructure:"AMQP_URL"`
	EventsQueue string `mapstructure:"EVENTS_QUEUE"`

	DatabaseURL string `mapstructure:"DATABASE_URL"`
	DBMaxConns  int32  `mapstructure:"DB_MAX_CONNS"`
	DBMinConns  int32  `mapstructure:"DB_MIN_CONNS"`

	AuthSigningKey string `mapstructure:"AUTH_SIGNING_KEY"`
	// AuthIssuer and AuthAudience are checked against trigger tokens when set.
	AuthIssuer   string `mapstructure:"AUTH_ISSUER"`
	AuthAudience string `mapstructure:"AUTH_AUDIENCE"`
	GCPProjectID string `mapstructure:"GCP_PROJECT_ID"`
}

var keys = []string{
	"ENV", "LOG_LEVEL", "PORT",
	"FHIR_BASE_URL", "FHIR_PAGE_SIZE", "FHIR_TIMEOUT", "FHIR_MAX_PAGES", "FHIR_BEARER_TOKEN",
	"DICOM_WORKERS", "DICOM_LENIENT_READ_LIMIT",
	"ARTIFACT_STORE", "ARTIFACT_BUCKET",
	"MINIO_ENDPOINT", "MINIO_ACCESS_KEY", "MINIO_SECRET_KEY", "MINIO_USE_SSL",
	"AMQP_URL", "EVENTS_QUEUE",
	"DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
	"AUTH_SIGNING_KEY", "AUTH_ISSUER", "AUTH_AUDIENCE", "GCP_PROJECT_ID",
}

// Load reads configuration from the environment. Variables in the given
// dotenv files (default ".env") are applied first without overriding the
// process environment; missing files are ignored.
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		_ = godotenv.Load(f)
	}

	v := viper.New()
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("PORT", "8000")
	v.SetDefault("FHIR_PAGE_SIZE", 50)
	v.SetDefault("FHIR_TIMEOUT", "10s")
	v.SetDefault("FHIR_MAX_PAGES", 0)
	v.SetDefault("DICOM_WORKERS", 1)
	v.SetDefault("DICOM_LENIENT_READ_LIMIT", 1<<20)
	v.SetDefault("ARTIFACT_STORE", StoreNone)
	v.SetDefault("EVENTS_QUEUE", "ingest_events")
	v.SetDefault("DB_MAX_CONNS", 10)
	v.SetDefault("DB_MIN_CONNS", 1)

	// Bind env vars explicitly so Unmarshal picks them up
	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.ArtifactStore = strings.ToLower(strings.TrimSpace(cfg.ArtifactStore))
	if cfg.ArtifactStore == "" {
		cfg.ArtifactStore = StoreNone
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// Validate rejects settings that cannot work together.
func (c *Config) Validate() error {
	if c.FHIRPageSize <= 0 {
		return fmt.Errorf("FHIR_PAGE_SIZE must be positive, got %d", c.FHIRPageSize)
	}
	if c.FHIRTimeout <= 0 {
		return fmt.Errorf("FHIR_TIMEOUT must be positive, got %s", c.FHIRTimeout)
	}
	if c.FHIRMaxPages < 0 {
		return fmt.Errorf("FHIR_MAX_PAGES must not be negative, got %d", c.FHIRMaxPages)
	}
	if c.DICOMWorkers < 1 {
		return fmt.Errorf("DICOM_WORKERS must be at least 1, got %d", c.DICOMWorkers)
	}
	if c.DICOMLenientReadLimit <= 0 {
		return fmt.Errorf("DICOM_LENIENT_READ_LIMIT must be positive, got %d", c.DICOMLenientReadLimit)
	}

	switch c.ArtifactStore {
	case StoreNone:
	case StoreGCS:
		if c.ArtifactBucket == "" {
			return fmt.Errorf("ARTIFACT_BUCKET is required when ARTIFACT_STORE is %q", c.ArtifactStore)
		}
	case StoreMinio:
		if c.ArtifactBucket == "" {
			return fmt.Errorf("ARTIFACT_BUCKET is required when ARTIFACT_STORE is %q", c.ArtifactStore)
		}
		if c.MinioEndpoint == "" {
			return fmt.Errorf("MINIO_ENDPOINT is required when ARTIFACT_STORE is \"minio\"")
		}
	default:
		return fmt.Errorf("ARTIFACT_STORE must be \"none\", \"gcs\", or \"minio\", got %q", c.ArtifactStore)
	}

	if c.DatabaseURL != "" && c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("DB_MIN_CONNS (%d) must not exceed DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}
	if strings.HasPrefix(c.FHIRBearerToken, "sm://") && c.GCPProjectID == "" &&
		!strings.HasPrefix(strings.TrimPrefix(c.FHIRBearerToken, "sm://"), "projects/") {
		return fmt.Errorf("GCP_PROJECT_ID is required to resolve secret reference %q", c.FHIRBearerToken)
	}
	if !c.IsDev() && c.AuthSigningKey == "" {
		return fmt.Errorf("AUTH_SIGNING_KEY is required when ENV is %q", c.Env)
	}
	return nil
}
