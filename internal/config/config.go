package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds environment-driven settings for the sync server and for
// service initialization.
type Config struct {
	// Port the disk sync server listens on.
	Port string
	// DataDir is where the sync server keeps the stored database file.
	DataDir string

	// SyncServerURL is the base URL of the disk sync server.
	SyncServerURL string
	// CachePath is the local persistent cache blob location.
	CachePath string
	// PrebuiltURLs are static database images tried in order on first run.
	// Must be absolute URLs; empty means no prebuilt fallback.
	PrebuiltURLs []string
	// LookupURL is the static reference cross-reference dataset. Empty
	// means no dataset this session.
	LookupURL string
	// HTTPTimeout bounds every probe, fetch, and push.
	HTTPTimeout time.Duration
}

func Load() *Config {
	return &Config{
		Port:          getEnv("PORT", "8077"),
		DataDir:       getEnv("DATA_DIR", "./data"),
		SyncServerURL: getEnv("SYNC_SERVER_URL", "http://localhost:8077"),
		CachePath:     getEnv("CACHE_PATH", "./cache/lexicon.sqlite"),
		PrebuiltURLs:  splitList(getEnv("PREBUILT_URLS", "")),
		LookupURL:     getEnv("LOOKUP_URL", ""),
		HTTPTimeout:   time.Duration(getEnvInt("HTTP_TIMEOUT_SECONDS", 10)) * time.Second,
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
