// Package config reads service settings from the environment.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type EventsCfg struct {
	Enabled bool
	Brokers []string
	Topic   string
}

type Config struct {
	Addr                string
	LogLevel            string
	LogConsole          bool
	DatasetsFile        string
	OutputDir           string
	UserAgent           string
	WFSPageSize         int
	WFSMaxPages         int
	CapabilitiesTimeout time.Duration
	HTTPTimeout         time.Duration
	MaxBodyBytes        int64
	PreferredEPSG       int
	RedisAddr           string
	CapsCacheTTL        time.Duration
	CapsCacheSize       int
	Events              EventsCfg
	MetricsEnabled      bool
}

func FromEnv() Config {
	pageSize := getint("WFS_PAGE_SIZE", 1000)
	if pageSize <= 0 {
		pageSize = 1000
	}
	maxPages := getint("WFS_MAX_PAGES", 1000)
	if maxPages <= 0 {
		maxPages = 1000
	}

	return Config{
		Addr:                getenv("ADDR", ":8090"),
		LogLevel:            getenv("LOG_LEVEL", "info"),
		LogConsole:          getbool("LOG_CONSOLE", false),
		DatasetsFile:        getenv("DATASETS_FILE", "datasets.json"),
		OutputDir:           getenv("OUTPUT_DIR", ""),
		UserAgent:           getenv("USER_AGENT", "geodata-retrieval/1.0"),
		WFSPageSize:         pageSize,
		WFSMaxPages:         maxPages,
		CapabilitiesTimeout: getduration("CAPABILITIES_TIMEOUT", 10*time.Second),
		HTTPTimeout:         getduration("HTTP_TIMEOUT", 60*time.Second),
		MaxBodyBytes:        int64(getint("MAX_BODY_BYTES", 256<<20)),
		PreferredEPSG:       getint("PREFERRED_EPSG", 28992),
		RedisAddr:           getenv("REDIS_ADDR", ""),
		CapsCacheTTL:        getduration("CAPS_CACHE_TTL", time.Hour),
		CapsCacheSize:       getint("CAPS_CACHE_SIZE", 256),
		Events: EventsCfg{
			Enabled: getbool("KAFKA_ENABLED", false),
			Brokers: getlist("KAFKA_BROKERS", "localhost:9092"),
			Topic:   getenv("KAFKA_TOPIC", "geodata.layers"),
		},
		MetricsEnabled: getbool("METRICS_ENABLED", true),
	}
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getint(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v := os.Getenv(k); v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "t", "true", "y", "yes":
			return true
		case "0", "f", "false", "n", "no":
			return false
		}
	}
	return def
}

func getduration(k string, def time.Duration) time.Duration {
	if v := os.Getenv(k); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

// comma separated, blanks dropped
func getlist(k, def string) []string {
	var out []string
	for p := range strings.SplitSeq(getenv(k, def), ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
