package startup

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"

	"vdotapes/internal/database"
	"vdotapes/internal/logging"
	"vdotapes/internal/querycache"
)

// ConfigFileEnv names the environment variable holding the TOML config path.
const ConfigFileEnv = "VDOTAPES_CONFIG"

// Config holds all application configuration
type Config struct {
	DataDir         string
	DatabasePath    string
	Port            string
	CacheCapacity   int
	CacheTTL        time.Duration
	CompatShims     bool
	LegacyPolicy    database.LegacyPolicy
	LogFile         string
	LogLevel        string
	LogHealthChecks bool
	MetricsEnabled  bool
	MetricsInterval time.Duration

	// ConfigFile is the TOML file that was applied, if any.
	ConfigFile string
}

// fileConfig mirrors Config in the TOML file. Pointers distinguish unset
// keys from zero values.
type fileConfig struct {
	DataDir         *string `toml:"data_dir"`
	DatabasePath    *string `toml:"database_path"`
	Port            *string `toml:"port"`
	CacheCapacity   *int    `toml:"cache_capacity"`
	CacheTTL        *string `toml:"cache_ttl"`
	CompatShims     *bool   `toml:"compat_shims"`
	LegacyPolicy    *string `toml:"legacy_policy"`
	LogFile         *string `toml:"log_file"`
	LogLevel        *string `toml:"log_level"`
	LogHealthChecks *bool   `toml:"log_health_checks"`
	MetricsEnabled  *bool   `toml:"metrics_enabled"`
	MetricsInterval *string `toml:"metrics_interval"`
}

// LoadOptions selects the files LoadConfig reads.
type LoadOptions struct {
	// ConfigFile is a TOML file. Empty falls back to $VDOTAPES_CONFIG; a
	// missing file named only by the environment is an error too.
	ConfigFile string
	// EnvFile is a dotenv file. Empty means ".env"; a missing file is ignored.
	EnvFile string
}

// DefaultConfig returns the configuration used when nothing overrides it.
func DefaultConfig() *Config {
	dataDir := defaultDataDir()
	return &Config{
		DataDir:         dataDir,
		DatabasePath:    filepath.Join(dataDir, "vdotapes.db"),
		Port:            "8080",
		CacheCapacity:   querycache.DefaultCapacity,
		CacheTTL:        querycache.DefaultTTL,
		CompatShims:     true,
		LegacyPolicy:    database.LegacyBackup,
		LogLevel:        "info",
		LogHealthChecks: true,
		MetricsEnabled:  true,
		MetricsInterval: time.Minute,
	}
}

func defaultDataDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "vdotapes")
	}
	return "data"
}

// LoadConfig builds the configuration from defaults, then the TOML file,
// then the environment. A dotenv file is loaded into the environment first
// and never overrides variables that are already set.
func LoadConfig(opts LoadOptions) (*Config, error) {
	envFile := opts.EnvFile
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load %s: %w", envFile, err)
	}

	cfg := DefaultConfig()

	configFile := opts.ConfigFile
	if configFile == "" {
		configFile = os.Getenv(ConfigFileEnv)
	}
	if configFile != "" {
		if err := cfg.applyFile(configFile); err != nil {
			return nil, err
		}
		cfg.ConfigFile = configFile
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	var fc fileConfig
	if err := toml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	dbPathSet := false
	if fc.DataDir != nil {
		c.DataDir = *fc.DataDir
	}
	if fc.DatabasePath != nil {
		c.DatabasePath = *fc.DatabasePath
		dbPathSet = true
	}
	if fc.Port != nil {
		c.Port = *fc.Port
	}
	if fc.CacheCapacity != nil {
		c.CacheCapacity = *fc.CacheCapacity
	}
	if fc.CacheTTL != nil {
		ttl, err := time.ParseDuration(*fc.CacheTTL)
		if err != nil {
			return fmt.Errorf("config file %s: invalid cache_ttl %q: %w", path, *fc.CacheTTL, err)
		}
		c.CacheTTL = ttl
	}
	if fc.CompatShims != nil {
		c.CompatShims = *fc.CompatShims
	}
	if fc.LegacyPolicy != nil {
		policy, err := database.ParseLegacyPolicy(*fc.LegacyPolicy)
		if err != nil {
			return fmt.Errorf("config file %s: %w", path, err)
		}
		c.LegacyPolicy = policy
	}
	if fc.LogFile != nil {
		c.LogFile = *fc.LogFile
	}
	if fc.LogLevel != nil {
		c.LogLevel = *fc.LogLevel
	}
	if fc.LogHealthChecks != nil {
		c.LogHealthChecks = *fc.LogHealthChecks
	}
	if fc.MetricsEnabled != nil {
		c.MetricsEnabled = *fc.MetricsEnabled
	}
	if fc.MetricsInterval != nil {
		interval, err := time.ParseDuration(*fc.MetricsInterval)
		if err != nil {
			return fmt.Errorf("config file %s: invalid metrics_interval %q: %w", path, *fc.MetricsInterval, err)
		}
		c.MetricsInterval = interval
	}

	if fc.DataDir != nil && !dbPathSet {
		c.DatabasePath = filepath.Join(c.DataDir, "vdotapes.db")
	}
	return nil
}

func (c *Config) applyEnv() error {
	if dir := os.Getenv("DATA_DIR"); dir != "" {
		c.DataDir = dir
		c.DatabasePath = filepath.Join(dir, "vdotapes.db")
	}
	c.DatabasePath = getEnv("DATABASE_PATH", c.DatabasePath)
	c.Port = getEnv("PORT", c.Port)
	c.CacheCapacity = getEnvInt("CACHE_CAPACITY", c.CacheCapacity)
	c.CacheTTL = getEnvDuration("CACHE_TTL", c.CacheTTL)
	c.CompatShims = getEnvBool("COMPAT_SHIMS", c.CompatShims)
	c.LogFile = getEnv("LOG_FILE", c.LogFile)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.LogHealthChecks = getEnvBool("LOG_HEALTH_CHECKS", c.LogHealthChecks)
	c.MetricsEnabled = getEnvBool("METRICS_ENABLED", c.MetricsEnabled)
	c.MetricsInterval = getEnvDuration("METRICS_INTERVAL", c.MetricsInterval)

	if value := os.Getenv("LEGACY_POLICY"); value != "" {
		policy, err := database.ParseLegacyPolicy(value)
		if err != nil {
			return fmt.Errorf("LEGACY_POLICY: %w", err)
		}
		c.LegacyPolicy = policy
	}
	return nil
}

// Validate checks values that cannot be corrected with a default.
func (c *Config) Validate() error {
	if c.DatabasePath == "" {
		return fmt.Errorf("database path must not be empty")
	}
	port, err := strconv.Atoi(c.Port)
	if err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("invalid port %q", c.Port)
	}
	if c.CacheCapacity < 0 {
		return fmt.Errorf("cache capacity must not be negative, got %d", c.CacheCapacity)
	}
	if c.CacheTTL < 0 {
		return fmt.Errorf("cache TTL must not be negative, got %v", c.CacheTTL)
	}
	return nil
}

// DatabaseOptions converts the store settings into database.Options.
func (c *Config) DatabaseOptions() *database.Options {
	return &database.Options{LegacyPolicy: c.LegacyPolicy}
}

// LogConfig prints the effective configuration.
func LogConfig(c *Config) {
	logging.Info("------------------------------------------------------------")
	logging.Info("CONFIGURATION")
	logging.Info("------------------------------------------------------------")
	if c.ConfigFile != "" {
		logging.Info("  Config file:         %s", c.ConfigFile)
	}
	logging.Info("  DATA_DIR:            %s", c.DataDir)
	logging.Info("  DATABASE_PATH:       %s", c.DatabasePath)
	logging.Info("  PORT:                %s", c.Port)
	logging.Info("  CACHE_CAPACITY:      %d", c.CacheCapacity)
	logging.Info("  CACHE_TTL:           %v", c.CacheTTL)
	logging.Info("  COMPAT_SHIMS:        %v", c.CompatShims)
	logging.Info("  LEGACY_POLICY:       %s", c.LegacyPolicy)
	logging.Info("  METRICS_ENABLED:     %v", c.MetricsEnabled)
	logging.Info("  LOG_HEALTH_CHECKS:   %v", c.LogHealthChecks)
	logging.Info("  LOG_LEVEL:           %s", logging.GetLevel())
	if c.LogFile != "" {
		logging.Info("  LOG_FILE:            %s", c.LogFile)
	}
	logging.Info("")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		logging.Warn("Invalid boolean value for %s: %q, using default: %v", key, value, defaultValue)
		return defaultValue
	}
	return parsed
}

func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		logging.Warn("Invalid integer value for %s: %q, using default: %d", key, value, defaultValue)
		return defaultValue
	}
	return parsed
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		logging.Warn("Invalid duration for %s: %q, using default: %v", key, value, defaultValue)
		return defaultValue
	}
	return parsed
}
