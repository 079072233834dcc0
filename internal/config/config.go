package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Mode string

const (
	ModeOffline Mode = "offline"
	ModeOnline  Mode = "online"
)

type Config struct {
	Mode     Mode
	HTTPAddr string

	// upstream exam API
	APIBaseURL string
	APITimeout time.Duration

	AuthHMACSecret string

	DBDriver string
	DBDSN    string

	AutosaveInterval time.Duration
	SaveWorkers      int
	SessionRetention time.Duration

	BlobDriver   string // fs|minio
	BlobBasePath string // for fs
	AssetBaseURL string // public prefix for fs-served images

	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioUseSSL    bool

	CORSOriginsOnline  []string
	CORSOriginsOffline []string
}

// CORSOrigins returns the origin list for the active mode.
func (c Config) CORSOrigins() []string {
	if c.Mode == ModeOnline {
		return c.CORSOriginsOnline
	}
	return c.CORSOriginsOffline
}

// FromEnv reads configuration from the environment, loading .env first when
// one is present. Variables already set win over the file.
func FromEnv() Config {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("config: .env: %v", err)
	}
	mode := Mode(os.Getenv("MODE"))
	if mode == "" {
		mode = ModeOffline
	}
	return Config{
		Mode:               mode,
		HTTPAddr:           envOr("HTTP_ADDR", ":8080"),
		APIBaseURL:         strings.TrimSuffix(envOr("API_BASE_URL", "http://localhost:8090"), "/"),
		APITimeout:         envDuration("API_TIMEOUT", 15*time.Second),
		AuthHMACSecret:     envOr("AUTH_HMAC_SECRET", "dev-secret-change-me"),
		DBDriver:           envOr("DB_DRIVER", "sqlite"),
		DBDSN:              envOr("DB_DSN", ""),
		AutosaveInterval:   envDuration("AUTOSAVE_INTERVAL", 10*time.Second),
		SaveWorkers:        envInt("SAVE_WORKERS", 8),
		SessionRetention:   envDuration("SESSION_RETENTION", 10*time.Minute),
		BlobDriver:         envOr("BLOB_DRIVER", "fs"),
		BlobBasePath:       envOr("BLOB_BASE_PATH", "./data"),
		AssetBaseURL:       envOr("ASSET_BASE_URL", "/assets"),
		MinioEndpoint:      envOr("MINIO_ENDPOINT", "localhost:9000"),
		MinioAccessKey:     os.Getenv("MINIO_ACCESS_KEY"),
		MinioSecretKey:     os.Getenv("MINIO_SECRET_KEY"),
		MinioBucket:        envOr("MINIO_BUCKET", "question-images"),
		MinioUseSSL:        envBool("MINIO_USE_SSL", mode == ModeOnline),
		CORSOriginsOnline:  csvOr("CORS_ORIGINS_ONLINE", "https://examprep.app"),
		CORSOriginsOffline: csvOr("CORS_ORIGINS_OFFLINE", "http://localhost:3000,http://localhost:5173"),
	}
}

func envOr(k, def string) string {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	return v
}
func envBool(k string, def bool) bool {
	switch os.Getenv(k) {
	case "1", "true", "TRUE", "yes", "YES":
		return true
	case "0", "false", "FALSE", "no", "NO":
		return false
	default:
		return def
	}
}
func envInt(k string, def int) int {
	n, err := strconv.Atoi(os.Getenv(k))
	if err != nil || n <= 0 {
		return def
	}
	return n
}

// envDuration accepts Go durations ("10s") or a bare number of seconds.
func envDuration(k string, def time.Duration) time.Duration {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil && d > 0 {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil && n > 0 {
		return time.Duration(n) * time.Second
	}
	return def
}
func csvOr(k, def string) []string {
	v := envOr(k, def)
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
