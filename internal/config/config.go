package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Config represents the application configuration
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Database DatabaseConfig `toml:"database"`
	Store    StoreConfig    `toml:"store"`
	History  HistoryConfig  `toml:"history"`
	Ranking  RankingConfig  `toml:"ranking"`
	Graphs   GraphsConfig   `toml:"graphs"`
	Auth     AuthConfig     `toml:"auth"`
	Logging  LoggingConfig  `toml:"logging"`
	Seed     SeedConfig     `toml:"seed"`
}

// ServerConfig contains server-related configuration
type ServerConfig struct {
	Port         string `toml:"port"`
	Host         string `toml:"host"`
	EnableCORS   bool   `toml:"enable_cors"`
	ReadTimeout  int    `toml:"read_timeout_seconds"`
	WriteTimeout int    `toml:"write_timeout_seconds"`
}

// DatabaseConfig contains graph store configuration
type DatabaseConfig struct {
	Path           string `toml:"path"`
	MaxConnections int    `toml:"max_connections"`
	BusyTimeoutMs  int    `toml:"busy_timeout_ms"`
}

// StoreConfig controls deadlines, retries and the circuit breaker around
// graph store calls.
type StoreConfig struct {
	TimeoutMs       int `toml:"timeout_ms"`
	MaxRetries      int `toml:"max_retries"`
	RetryBackoffMs  int `toml:"retry_backoff_ms"`
	BreakerFailures int `toml:"breaker_failures"`
	BreakerOpenSecs int `toml:"breaker_open_seconds"`
}

// HistoryConfig contains the recency cache configuration
type HistoryConfig struct {
	Path     string `toml:"path"`
	InMemory bool   `toml:"in_memory"`
	Limit    int    `toml:"limit"`
}

// RankingConfig holds the recommendation weights
type RankingConfig struct {
	UserSelectWeight float64 `toml:"w_user_select"`
	JumpWeight       float64 `toml:"w_jump"`
	RandomWeight     float64 `toml:"w_random"`
	NodeFactor       float64 `toml:"node_factor"`
	MinBaseScore     float64 `toml:"min_base_score"`
	DirForward       float64 `toml:"dir_forward"`
	DirBackward      float64 `toml:"dir_backward"`
	DirRepeat        float64 `toml:"dir_repeat"`
	CoolingLambda    float64 `toml:"cooling_lambda"`
	Watch            bool    `toml:"watch"`
}

// GraphsConfig contains namespace settings
type GraphsConfig struct {
	TemplateNamespace string `toml:"template_namespace"`
	TagCacheSize      int    `toml:"tag_cache_size"`
	TagCacheTTLSecs   int    `toml:"tag_cache_ttl_seconds"`
}

// AuthConfig contains account and session configuration
type AuthConfig struct {
	SessionHours int    `toml:"session_hours"`
	CookieName   string `toml:"cookie_name"`
	AvatarURL    string `toml:"avatar_url"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
	File   string `toml:"file"`
}

// SeedConfig contains template seeding configuration
type SeedConfig struct {
	LibraryPath      string   `toml:"library_path"`
	SupportedFormats []string `toml:"supported_formats"`
	Workers          int      `toml:"workers"`
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         "8080",
			Host:         "0.0.0.0",
			EnableCORS:   true,
			ReadTimeout:  30,
			WriteTimeout: 30,
		},
		Database: DatabaseConfig{
			Path:           "./songmap.db",
			MaxConnections: 10,
			BusyTimeoutMs:  5000,
		},
		Store: StoreConfig{
			TimeoutMs:       5000,
			MaxRetries:      3,
			RetryBackoffMs:  50,
			BreakerFailures: 5,
			BreakerOpenSecs: 10,
		},
		History: HistoryConfig{
			Path:  "./history",
			Limit: 100,
		},
		Ranking: DefaultRanking(),
		Graphs: GraphsConfig{
			TemplateNamespace: "base_template",
			TagCacheSize:      1024,
			TagCacheTTLSecs:   300,
		},
		Auth: AuthConfig{
			SessionHours: 24,
			CookieName:   "songmap_session",
			AvatarURL:    "https://api.dicebear.com/7.x/avataaars/svg?seed=",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			File:   "",
		},
		Seed: SeedConfig{
			LibraryPath:      "./music",
			SupportedFormats: []string{".flac", ".mp3", ".wav", ".m4a"},
			Workers:          4,
		},
	}
}

// DefaultRanking returns the reference recommendation weights
func DefaultRanking() RankingConfig {
	return RankingConfig{
		UserSelectWeight: 5.0,
		JumpWeight:       1.0,
		RandomWeight:     0.8,
		NodeFactor:       0.2,
		MinBaseScore:     0.1,
		DirForward:       1.0,
		DirBackward:      0.5,
		DirRepeat:        0.1,
		CoolingLambda:    0.01,
	}
}

// LoadConfig loads configuration from a TOML file, then applies .env and
// SONGMAP_* environment overrides.
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	// A missing .env is fine
	_ = godotenv.Load()

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		if err := cfg.SaveToFile(configPath); err != nil {
			return nil, fmt.Errorf("failed to create default config file: %w", err)
		}
		fmt.Printf("Created default configuration file at: %s\n", configPath)
	} else if _, err := toml.DecodeFile(configPath, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("SONGMAP_DB_PATH"); v != "" {
		c.Database.Path = v
	}
	if v := os.Getenv("SONGMAP_HISTORY_PATH"); v != "" {
		c.History.Path = v
	}
	if v := os.Getenv("SONGMAP_PORT"); v != "" {
		c.Server.Port = v
	}
	if v := os.Getenv("SONGMAP_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("SONGMAP_HISTORY_LIMIT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid SONGMAP_HISTORY_LIMIT %q: %w", v, err)
		}
		c.History.Limit = n
	}
	return nil
}

// SaveToFile saves the configuration to a TOML file
func (c *Config) SaveToFile(configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	file, err := os.Create(configPath)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer file.Close()

	header := `# SongMap Configuration
# Listening graph service settings. Values under [ranking] are reloaded
# while the server runs when ranking.watch is true.

`
	if _, err := file.WriteString(header); err != nil {
		return fmt.Errorf("failed to write config header: %w", err)
	}

	encoder := toml.NewEncoder(file)
	if err := encoder.Encode(c); err != nil {
		return fmt.Errorf("failed to encode config to TOML: %w", err)
	}

	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port cannot be empty")
	}
	if c.Server.Host == "" {
		return fmt.Errorf("server host cannot be empty")
	}
	if c.Server.ReadTimeout < 0 || c.Server.WriteTimeout < 0 {
		return fmt.Errorf("server timeouts must be positive")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database path cannot be empty")
	}
	if c.Database.MaxConnections < 1 {
		return fmt.Errorf("database max connections must be at least 1")
	}

	if c.Store.TimeoutMs < 1 {
		return fmt.Errorf("store timeout must be at least 1ms")
	}
	if c.Store.MaxRetries < 0 {
		return fmt.Errorf("store max retries cannot be negative")
	}

	if !c.History.InMemory && c.History.Path == "" {
		return fmt.Errorf("history path cannot be empty unless in_memory is set")
	}
	if c.History.Limit < 1 {
		return fmt.Errorf("history limit must be at least 1")
	}

	if err := c.Ranking.Validate(); err != nil {
		return err
	}

	if c.Graphs.TemplateNamespace == "" {
		return fmt.Errorf("template namespace cannot be empty")
	}

	if c.Auth.SessionHours < 1 {
		return fmt.Errorf("session duration must be at least 1 hour")
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}

	validLogFormats := map[string]bool{
		"text": true, "json": true,
	}
	if !validLogFormats[c.Logging.Format] {
		return fmt.Errorf("invalid log format: %s (must be text or json)", c.Logging.Format)
	}

	return nil
}

// Validate checks the ranking weights
func (r RankingConfig) Validate() error {
	if r.CoolingLambda <= 0 {
		return fmt.Errorf("cooling lambda must be positive")
	}
	if r.MinBaseScore <= 0 {
		return fmt.Errorf("min base score must be positive")
	}
	for name, v := range map[string]float64{
		"dir_forward":  r.DirForward,
		"dir_backward": r.DirBackward,
		"dir_repeat":   r.DirRepeat,
	} {
		if v < 0 {
			return fmt.Errorf("ranking %s cannot be negative", name)
		}
	}
	return nil
}

// GetAddress returns the full server address
func (c *Config) GetAddress() string {
	return c.Server.Host + ":" + c.Server.Port
}

// IsFormatSupported checks if an audio format can be seeded
func (c *Config) IsFormatSupported(format string) bool {
	for _, supported := range c.Seed.SupportedFormats {
		if supported == format {
			return true
		}
	}
	return false
}
