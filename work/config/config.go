package config

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"time"
)

// DefaultConfigPath is used when XTREAM_RESOLVER_CONFIG is not set.
const DefaultConfigPath = "/settings/config.json"

// Config holds all application configuration values for the resolver service.
// It includes settings for the HTTP listener, panel access, stream probing,
// resolution caching, persistence and catalog filtering.
type Config struct {
	ListenAddr     string        `json:"listenAddr"`     // Address the HTTP API binds to
	Debug          bool          `json:"debug"`          // Enable debug logging
	LogLevel       string        `json:"logLevel"`       // DEBUG, INFO, WARN or ERROR
	ObfuscateUrls  bool          `json:"obfuscateUrls"`  // Mask credentials in logged stream URLs
	UserAgent      string        `json:"userAgent"`      // User-Agent for panel API calls and probes
	ReqOrigin      string        `json:"reqOrigin"`      // Optional fixed Origin header
	ReqReferrer    string        `json:"reqReferrer"`    // Optional fixed Referer header
	WorkerThreads  int           `json:"workerThreads"`  // Worker pool size for catalog loading
	DatabasePath   string        `json:"databasePath"`   // SQLite file for accounts, favorites and history
	StorageSecret  string        `json:"storageSecret"`  // Secret the stored panel passwords are sealed with
	APIRateLimit   int           `json:"apiRateLimit"`   // Panel API requests per second
	RequestTimeout time.Duration `json:"requestTimeout"` // Timeout for a single panel API request
	Resolver       ResolverConfig
	Probe          ProbeConfig
	Cache          CacheConfig
	Catalog        CatalogConfig
}

// ResolverConfig controls candidate selection and retry bounds.
type ResolverConfig struct {
	MaxRetries  int      `json:"maxRetries"`  // Playback retries per descriptor before giving up
	PreferHint  bool     `json:"preferHint"`  // Try the panel's container_extension first
	PortPolicy  string   `json:"portPolicy"`  // never, always or hosts
	DefaultPort int      `json:"defaultPort"` // Port appended by the always/hosts policies
	PortHosts   []string `json:"portHosts"`   // Hostnames the hosts policy applies to
}

// ProbeConfig controls the existence check run against candidate URLs.
type ProbeConfig struct {
	Enabled           bool          `json:"enabled"`
	Timeout           time.Duration `json:"timeout"`
	RatePerSecond     int           `json:"ratePerSecond"`
	ValidatePlaylists bool          `json:"validatePlaylists"`
}

// CacheConfig controls the optional resolution cache.
type CacheConfig struct {
	Enabled  bool          `json:"enabled"`
	Duration time.Duration `json:"duration"`
	MaxSize  int           `json:"maxSize"`
}

// CatalogConfig holds the include/exclude name filters applied to listings.
type CatalogConfig struct {
	LiveIncludeRegex   string `json:"liveIncludeRegex,omitempty"`
	LiveExcludeRegex   string `json:"liveExcludeRegex,omitempty"`
	VODIncludeRegex    string `json:"vodIncludeRegex,omitempty"`
	VODExcludeRegex    string `json:"vodExcludeRegex,omitempty"`
	SeriesIncludeRegex string `json:"seriesIncludeRegex,omitempty"`
	SeriesExcludeRegex string `json:"seriesExcludeRegex,omitempty"`
}

// ConfigFile represents the JSON file structure for marshaling/unmarshaling configuration.
// String duration fields (e.g., "30m") are parsed into time.Duration values.
type ConfigFile struct {
	ListenAddr     string            `json:"listenAddr"`
	Debug          bool              `json:"debug"`
	LogLevel       string            `json:"logLevel"`
	ObfuscateUrls  bool              `json:"obfuscateUrls"`
	UserAgent      string            `json:"userAgent"`
	ReqOrigin      string            `json:"reqOrigin"`
	ReqReferrer    string            `json:"reqReferrer"`
	WorkerThreads  int               `json:"workerThreads"`
	DatabasePath   string            `json:"databasePath"`
	StorageSecret  string            `json:"storageSecret"`
	APIRateLimit   int               `json:"apiRateLimit"`
	RequestTimeout string            `json:"requestTimeout"` // Duration as string (e.g., "15s")
	Resolver       ResolverConfig    `json:"resolver"`
	Probe          ProbeConfigFile   `json:"probe"`
	Cache          CacheConfigFile   `json:"cache"`
	Catalog        CatalogConfig     `json:"catalog"`
}

// ProbeConfigFile is the on-disk form of ProbeConfig. Enabled is a pointer so
// a missing key keeps probing on.
type ProbeConfigFile struct {
	Enabled           *bool  `json:"enabled"`
	Timeout           string `json:"timeout"`
	RatePerSecond     int    `json:"ratePerSecond"`
	ValidatePlaylists *bool  `json:"validatePlaylists"`
}

// CacheConfigFile is the on-disk form of CacheConfig.
type CacheConfigFile struct {
	Enabled  bool   `json:"enabled"`
	Duration string `json:"duration"`
	MaxSize  int    `json:"maxSize"`
}

var (
	configCache *Config      // Cached configuration instance (singleton)
	configMutex sync.RWMutex // Mutex for safe concurrent access to configCache
)

// LoadConfig loads the configuration from file or returns the cached instance.
//
// The file path comes from XTREAM_RESOLVER_CONFIG, falling back to
// DefaultConfigPath. A missing or invalid file yields the default configuration.
func LoadConfig() *Config {
	configMutex.RLock()
	if configCache != nil {
		defer configMutex.RUnlock()
		return configCache
	}
	configMutex.RUnlock()

	configMutex.Lock()
	defer configMutex.Unlock()

	// Double-check under write lock
	if configCache != nil {
		return configCache
	}

	configPath := os.Getenv("XTREAM_RESOLVER_CONFIG")
	if configPath == "" {
		configPath = DefaultConfigPath
	}

	config, err := loadFromFile(configPath)
	if err != nil {
		log.Printf("Failed to load config from %s: %v", configPath, err)
		log.Printf("Falling back to default configuration...")
		config = getDefaultConfig()
	}

	validateAndSetDefaults(config)
	configCache = config

	if config.Debug {
		log.Printf("Configuration loaded:")
		log.Printf("  Listen: %s", config.ListenAddr)
		log.Printf("  Database: %s", config.DatabasePath)
		log.Printf("  Probe enabled: %v (timeout %s)", config.Probe.Enabled, config.Probe.Timeout)
		log.Printf("  Max retries: %d", config.Resolver.MaxRetries)
		log.Printf("  Port policy: %s", config.Resolver.PortPolicy)
	}

	return config
}

// loadFromFile reads and parses the configuration from a JSON file.
func loadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var configFile ConfigFile
	if err := json.Unmarshal(data, &configFile); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	return convertFromFile(&configFile)
}

// convertFromFile converts a ConfigFile to Config,
// parsing duration strings into time.Duration.
func convertFromFile(cf *ConfigFile) (*Config, error) {
	config := &Config{
		ListenAddr:    cf.ListenAddr,
		Debug:         cf.Debug,
		LogLevel:      cf.LogLevel,
		ObfuscateUrls: cf.ObfuscateUrls,
		UserAgent:     cf.UserAgent,
		ReqOrigin:     cf.ReqOrigin,
		ReqReferrer:   cf.ReqReferrer,
		WorkerThreads: cf.WorkerThreads,
		DatabasePath:  cf.DatabasePath,
		StorageSecret: cf.StorageSecret,
		APIRateLimit:  cf.APIRateLimit,
		Resolver:      cf.Resolver,
		Catalog:       cf.Catalog,
		Probe: ProbeConfig{
			Enabled:           true,
			RatePerSecond:     cf.Probe.RatePerSecond,
			ValidatePlaylists: true,
		},
		Cache: CacheConfig{
			Enabled: cf.Cache.Enabled,
			MaxSize: cf.Cache.MaxSize,
		},
	}
	if cf.Probe.Enabled != nil {
		config.Probe.Enabled = *cf.Probe.Enabled
	}
	if cf.Probe.ValidatePlaylists != nil {
		config.Probe.ValidatePlaylists = *cf.Probe.ValidatePlaylists
	}

	var err error
	if config.RequestTimeout, err = parseOptionalDuration(cf.RequestTimeout); err != nil {
		return nil, fmt.Errorf("invalid requestTimeout: %w", err)
	}
	if config.Probe.Timeout, err = parseOptionalDuration(cf.Probe.Timeout); err != nil {
		return nil, fmt.Errorf("invalid probe.timeout: %w", err)
	}
	if config.Cache.Duration, err = parseOptionalDuration(cf.Cache.Duration); err != nil {
		return nil, fmt.Errorf("invalid cache.duration: %w", err)
	}

	return config, nil
}

// parseOptionalDuration treats an empty string as "unset" so defaults apply later.
func parseOptionalDuration(s string) (time.Duration, error) {
	if strings.TrimSpace(s) == "" {
		return 0, nil
	}
	return time.ParseDuration(s)
}

// getDefaultConfig returns a baseline configuration
// with sensible defaults when no file is present.
func getDefaultConfig() *Config {
	return &Config{
		ListenAddr:     ":8080",
		LogLevel:       "INFO",
		UserAgent:      DefaultUserAgent,
		WorkerThreads:  4,
		DatabasePath:   "/settings/xtream-resolver.db",
		APIRateLimit:   5,
		RequestTimeout: 15 * time.Second,
		Resolver: ResolverConfig{
			MaxRetries:  2,
			PortPolicy:  "never",
			DefaultPort: 8080,
		},
		Probe: ProbeConfig{
			Enabled:           true,
			Timeout:           5 * time.Second,
			RatePerSecond:     10,
			ValidatePlaylists: true,
		},
		Cache: CacheConfig{
			Enabled:  false,
			Duration: 10 * time.Minute,
			MaxSize:  1000,
		},
	}
}

// DefaultUserAgent mimics the ExoPlayer build the mobile client plays with,
// which is what most panels whitelist.
const DefaultUserAgent = "ExoPlayerLib/2.15.1 (Linux;Android 11) ExoPlayer/2.15.1"

// validateAndSetDefaults ensures all config values are valid,
// filling in defaults for missing/invalid ones.
func validateAndSetDefaults(config *Config) {
	if config.ListenAddr == "" {
		config.ListenAddr = ":8080"
	}
	if config.LogLevel == "" {
		config.LogLevel = "INFO"
	}
	if config.Debug {
		config.LogLevel = "DEBUG"
	}
	if config.UserAgent == "" {
		config.UserAgent = DefaultUserAgent
	}
	if config.WorkerThreads <= 0 {
		config.WorkerThreads = 4
	}
	if config.DatabasePath == "" {
		config.DatabasePath = "/settings/xtream-resolver.db"
	}
	if config.APIRateLimit <= 0 {
		config.APIRateLimit = 5
	}
	if config.RequestTimeout <= 0 {
		config.RequestTimeout = 15 * time.Second
	}

	// a negative value means "never retry"; zero means "not configured"
	if config.Resolver.MaxRetries == 0 {
		config.Resolver.MaxRetries = 2
	}
	if config.Resolver.MaxRetries < 0 {
		config.Resolver.MaxRetries = 0
	}
	switch strings.ToLower(config.Resolver.PortPolicy) {
	case "never", "always", "hosts":
		config.Resolver.PortPolicy = strings.ToLower(config.Resolver.PortPolicy)
	default:
		config.Resolver.PortPolicy = "never"
	}
	if config.Resolver.DefaultPort <= 0 || config.Resolver.DefaultPort > 65535 {
		config.Resolver.DefaultPort = 8080
	}

	if config.Probe.Timeout <= 0 {
		config.Probe.Timeout = 5 * time.Second
	}
	if config.Probe.RatePerSecond <= 0 {
		config.Probe.RatePerSecond = 10
	}

	if config.Cache.Duration <= 0 {
		config.Cache.Duration = 10 * time.Minute
	}
	if config.Cache.MaxSize <= 0 {
		config.Cache.MaxSize = 1000
	}
}

// CreateExampleConfig creates an example config file on disk.
func CreateExampleConfig(path string) error {
	enabled := true
	example := ConfigFile{
		ListenAddr:     ":8080",
		LogLevel:       "INFO",
		ObfuscateUrls:  true,
		UserAgent:      DefaultUserAgent,
		WorkerThreads:  4,
		DatabasePath:   "/settings/xtream-resolver.db",
		StorageSecret:  "change-me",
		APIRateLimit:   5,
		RequestTimeout: "15s",
		Resolver: ResolverConfig{
			MaxRetries:  2,
			PortPolicy:  "never",
			DefaultPort: 8080,
		},
		Probe: ProbeConfigFile{
			Enabled:           &enabled,
			Timeout:           "5s",
			RatePerSecond:     10,
			ValidatePlaylists: &enabled,
		},
		Cache: CacheConfigFile{
			Enabled:  true,
			Duration: "10m",
			MaxSize:  1000,
		},
	}

	data, err := json.MarshalIndent(example, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// ClearConfigCache resets the configCache to nil.
// Forces a reload on the next LoadConfig() call.
func ClearConfigCache() {
	configMutex.Lock()
	defer configMutex.Unlock()
	configCache = nil
}
