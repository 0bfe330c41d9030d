package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	defaultAddr           = "127.0.0.1:8090"
	defaultSampleInterval = 150 * time.Millisecond
	defaultOwnerID        = "player"
	defaultSource         = "synthetic"
)

type Config struct {
	DBPath         string
	CatalogPath    string
	Addr           string
	SampleInterval time.Duration
	OwnerID        string
	Source         string
	BridgeURL      string
	BridgeToken    string
	ScriptPath     string
	WorldPath      string
	RedisAddr      string
	ArchiveDir     string
	APIToken       string
	TLSCertFile    string
	TLSKeyFile     string
}

func LoadConfig(args []string) (Config, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return Config{}, fmt.Errorf("failed to get cwd: %w", err)
	}

	defaultDBPath := filepath.Join(cwd, "readycheck.db")
	defaultCatalogPath := filepath.Join(cwd, "catalog.json")
	defaultWorldPath := filepath.Join(cwd, "world.json")

	dbPath := envOrDefault("READYCHECK_DB_PATH", defaultDBPath)
	catalogPath := envOrDefaultWithFallback([]string{"READYCHECK_CATALOG_PATH", "READYCHECK_CONFIG_PATH"}, defaultCatalogPath)
	addr := addrFromEnv(defaultAddr)
	sampleInterval := defaultSampleInterval
	if env := os.Getenv("READYCHECK_SAMPLE_INTERVAL"); env != "" {
		parsed, err := time.ParseDuration(env)
		if err != nil {
			return Config{}, fmt.Errorf("invalid READYCHECK_SAMPLE_INTERVAL: %w", err)
		}
		if parsed <= 0 {
			return Config{}, errors.New("READYCHECK_SAMPLE_INTERVAL must be positive")
		}
		sampleInterval = parsed
	}
	ownerID := envOrDefault("READYCHECK_OWNER", defaultOwnerID)
	source := envOrDefault("READYCHECK_SOURCE", defaultSource)
	bridgeURL := os.Getenv("READYCHECK_BRIDGE_URL")
	bridgeToken := os.Getenv("READYCHECK_BRIDGE_TOKEN")
	scriptPath := os.Getenv("READYCHECK_SCRIPT_PATH")
	worldPath := envOrDefault("READYCHECK_WORLD_PATH", defaultWorldPath)
	redisAddr := os.Getenv("READYCHECK_REDIS_ADDR")
	archiveDir := os.Getenv("READYCHECK_ARCHIVE_DIR")
	apiToken := os.Getenv("READYCHECK_API_TOKEN")
	tlsCert := os.Getenv("READYCHECK_TLS_CERT")
	tlsKey := os.Getenv("READYCHECK_TLS_KEY")

	flagSet := flag.NewFlagSet("readycheck-d", flag.ContinueOnError)
	flagSet.SetOutput(io.Discard)
	flagDB := flagSet.String("db", dbPath, "path to SQLite journal")
	flagCatalog := flagSet.String("catalog", catalogPath, "path to ability catalog JSON")
	flagAddr := flagSet.String("addr", addr, "HTTP listen address")
	flagSampleInterval := flagSet.String("sample-interval", sampleInterval.String(), "pool sampling interval")
	flagOwner := flagSet.String("owner", ownerID, "owner id readings are tracked under")
	flagSource := flagSet.String("source", source, "pool source: bridge|script|synthetic|none")
	flagBridgeURL := flagSet.String("bridge-url", bridgeURL, "game client exporter URL when source=bridge")
	flagBridgeToken := flagSet.String("bridge-token", bridgeToken, "bearer token for the bridge exporter")
	flagScript := flagSet.String("script", scriptPath, "recorded session file when source=script")
	flagWorld := flagSet.String("world", worldPath, "synthetic world file when source=synthetic")
	flagRedis := flagSet.String("redis", redisAddr, "redis address for live state and leases (empty selects sqlite)")
	flagArchive := flagSet.String("archive-dir", archiveDir, "directory for journal archives (empty disables archival)")
	flagToken := flagSet.String("api-token", apiToken, "bearer token required on admin routes")
	flagTLSCert := flagSet.String("tls-cert", tlsCert, "TLS certificate file")
	flagTLSKey := flagSet.String("tls-key", tlsKey, "TLS key file")

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			flagSet.SetOutput(os.Stdout)
			flagSet.PrintDefaults()
			return Config{}, err
		}
		return Config{}, err
	}

	sampleParsed, err := time.ParseDuration(*flagSampleInterval)
	if err != nil {
		return Config{}, fmt.Errorf("invalid sample interval: %w", err)
	}
	if sampleParsed <= 0 {
		return Config{}, errors.New("sample interval must be positive")
	}

	config := Config{
		DBPath:         resolvePath(*flagDB, cwd),
		CatalogPath:    resolvePath(*flagCatalog, cwd),
		Addr:           strings.TrimSpace(*flagAddr),
		SampleInterval: sampleParsed,
		OwnerID:        strings.TrimSpace(*flagOwner),
		Source:         normalizeSource(*flagSource),
		BridgeURL:      strings.TrimSpace(*flagBridgeURL),
		BridgeToken:    strings.TrimSpace(*flagBridgeToken),
		ScriptPath:     resolvePath(*flagScript, cwd),
		WorldPath:      resolvePath(*flagWorld, cwd),
		RedisAddr:      strings.TrimSpace(*flagRedis),
		ArchiveDir:     resolvePath(*flagArchive, cwd),
		APIToken:       strings.TrimSpace(*flagToken),
		TLSCertFile:    resolvePath(*flagTLSCert, cwd),
		TLSKeyFile:     resolvePath(*flagTLSKey, cwd),
	}

	if config.Addr == "" {
		return Config{}, errors.New("addr cannot be empty")
	}
	if config.OwnerID == "" {
		return Config{}, errors.New("owner cannot be empty")
	}

	switch config.Source {
	case "bridge":
		if config.BridgeURL == "" {
			return Config{}, errors.New("source=bridge requires bridge-url")
		}
	case "script":
		if config.ScriptPath == "" {
			return Config{}, errors.New("source=script requires script")
		}
	case "synthetic":
		if config.WorldPath == "" {
			return Config{}, errors.New("source=synthetic requires world")
		}
	case "none":
	default:
		return Config{}, fmt.Errorf("unsupported source: %s", config.Source)
	}

	return config, nil
}

func envOrDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func envOrDefaultWithFallback(keys []string, fallback string) string {
	for _, key := range keys {
		if value := os.Getenv(key); value != "" {
			return value
		}
	}
	return fallback
}

func addrFromEnv(fallback string) string {
	if value := os.Getenv("READYCHECK_ADDR"); value != "" {
		return value
	}
	if port := os.Getenv("READYCHECK_PORT"); port != "" {
		return fmt.Sprintf("127.0.0.1:%s", port)
	}
	return fallback
}

func resolvePath(path string, cwd string) string {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return trimmed
	}
	if filepath.IsAbs(trimmed) {
		return trimmed
	}
	return filepath.Join(cwd, trimmed)
}

func normalizeSource(source string) string {
	switch strings.ToLower(strings.TrimSpace(source)) {
	case "", "synthetic", "sim", "demo":
		return "synthetic"
	case "bridge", "game":
		return "bridge"
	case "script", "replay":
		return "script"
	case "none", "off", "disabled":
		return "none"
	default:
		return strings.ToLower(strings.TrimSpace(source))
	}
}
