// Package config resolves the environment-driven configuration of both
// binaries. Missing required values are errors the callers treat as
// fatal; everything else has a default.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Monitor holds the pulsemon configuration surface.
type Monitor struct {
	HubURL         string
	SourceID       string
	KeyPath        string
	WatchDir       string
	BufferCapacity int
	BatchMax       int
	FlushInterval  time.Duration
	AllowedExts    []string
}

// LoadMonitor reads PULSEMON_* environment variables.
func LoadMonitor() (Monitor, error) {
	home, _ := os.UserHomeDir()

	cfg := Monitor{
		HubURL:         os.Getenv("PULSEMON_HUB_URL"),
		SourceID:       envStr("PULSEMON_SOURCE_ID", hostname()),
		KeyPath:        envStr("PULSEMON_KEY_PATH", filepath.Join(home, ".pulsemon", "key")),
		WatchDir:       envStr("PULSEMON_WATCH_DIR", filepath.Join(home, ".claude", "projects")),
		BufferCapacity: envInt("PULSEMON_BUFFER_CAPACITY", 1000),
		BatchMax:       envInt("PULSEMON_BATCH_MAX", 1000),
		FlushInterval:  envDuration("PULSEMON_FLUSH_INTERVAL", 2*time.Second),
		AllowedExts:    envList("PULSEMON_ALLOWED_EXTENSIONS"),
	}

	if cfg.HubURL == "" {
		return Monitor{}, fmt.Errorf("config: PULSEMON_HUB_URL is required")
	}
	if cfg.SourceID == "" {
		return Monitor{}, fmt.Errorf("config: PULSEMON_SOURCE_ID is required when the hostname is unavailable")
	}
	return cfg, nil
}

// Hub holds the pulsehub configuration surface.
type Hub struct {
	ListenAddr      string
	SourcesFile     string
	SourcesURL      string
	SubscriberToken string
	NoAuth          bool
	ArchivePath     string
	AuditLogPath    string
	SourceRate      float64
	GlobalRate      float64
	RefreshInterval time.Duration
	ShutdownGrace   time.Duration
}

// LoadHub reads PULSEHUB_* environment variables.
func LoadHub() (Hub, error) {
	cfg := Hub{
		ListenAddr:      envStr("PULSEHUB_LISTEN_ADDR", ":8787"),
		SourcesFile:     os.Getenv("PULSEHUB_SOURCES_FILE"),
		SourcesURL:      os.Getenv("PULSEHUB_SOURCES_URL"),
		SubscriberToken: os.Getenv("PULSEHUB_SUBSCRIBER_TOKEN"),
		NoAuth:          envBool("PULSEHUB_NO_AUTH"),
		ArchivePath:     os.Getenv("PULSEHUB_ARCHIVE_PATH"),
		AuditLogPath:    os.Getenv("PULSEHUB_AUDIT_LOG"),
		SourceRate:      envFloat("PULSEHUB_SOURCE_RATE", 100),
		GlobalRate:      envFloat("PULSEHUB_GLOBAL_RATE", 1000),
		RefreshInterval: envDuration("PULSEHUB_REFRESH_INTERVAL", time.Minute),
		ShutdownGrace:   envDuration("PULSEHUB_SHUTDOWN_GRACE", 5*time.Second),
	}

	if cfg.NoAuth {
		return cfg, nil
	}
	if cfg.SourcesFile == "" && cfg.SourcesURL == "" {
		return Hub{}, fmt.Errorf("config: PULSEHUB_SOURCES_FILE or PULSEHUB_SOURCES_URL is required")
	}
	if cfg.SourcesFile != "" && cfg.SourcesURL != "" {
		return Hub{}, fmt.Errorf("config: PULSEHUB_SOURCES_FILE and PULSEHUB_SOURCES_URL are mutually exclusive")
	}
	if cfg.SubscriberToken == "" {
		return Hub{}, fmt.Errorf("config: PULSEHUB_SUBSCRIBER_TOKEN is required")
	}
	return cfg, nil
}

func hostname() string {
	name, err := os.Hostname()
	if err != nil {
		return ""
	}
	return name
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

func envFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f <= 0 {
		return fallback
	}
	return f
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

func envBool(key string) bool {
	switch strings.ToLower(os.Getenv(key)) {
	case "1", "true", "yes":
		return true
	}
	return false
}

func envList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
