package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
	"github.com/robfig/cron/v3"
)

// Config represents the application configuration
type Config struct {
	Environment string          `toml:"environment"` // "development" or "production"
	Server      ServerConfig    `toml:"server"`
	API         APIConfig       `toml:"api"`
	Storage     StorageConfig   `toml:"storage"`
	Cache       CacheConfig     `toml:"cache"`
	Graph       GraphConfig     `toml:"graph"`
	Poll        PollConfig      `toml:"poll"`
	Logging     LoggingConfig   `toml:"logging"`
	WebSocket   WebSocketConfig `toml:"websocket"`
	Metrics     MetricsConfig   `toml:"metrics"`
}

type ServerConfig struct {
	Port int    `toml:"port" validate:"min=1,max=65535"`
	Host string `toml:"host" validate:"required"`
}

// APIConfig points at the backend that owns the recorded job history
type APIConfig struct {
	BaseURL   string `toml:"base_url" validate:"required,url"`
	Timeout   string `toml:"timeout"`    // HTTP timeout as duration string (default: "30s")
	RateLimit int    `toml:"rate_limit"` // Requests per second, 0 disables limiting
}

type StorageConfig struct {
	Badger BadgerConfig `toml:"badger"`
}

// BadgerConfig represents BadgerDB-specific configuration
type BadgerConfig struct {
	Enabled        bool   `toml:"enabled"`          // false runs every job straight from the remote API
	Path           string `toml:"path"`             // Database directory path
	InMemory       bool   `toml:"in_memory"`        // Keep the cache in memory only (tests, ephemeral runs)
	ResetOnStartup bool   `toml:"reset_on_startup"` // Delete database on startup for clean runs
}

// CacheConfig sizes the resident window held for each stream
type CacheConfig struct {
	WindowSize    int `toml:"window_size" validate:"min=1"`     // Entries resident per stream (default: 1000)
	WindowPadding int `toml:"window_padding" validate:"min=0"`  // Distance from a window edge that triggers a recentre (default: 200)
	BulkFetchSize int `toml:"bulk_fetch_size" validate:"min=1"` // Page size for bulk refetch (default: 5000)
}

// GraphConfig tunes graph reconstruction and scrubbing
type GraphConfig struct {
	JumpVelocity         float64 `toml:"jump_velocity" validate:"gt=0"` // Indices per second above which scrubbing jumps (default: 500)
	MaxIncrementalFrames int     `toml:"max_incremental_frames"`        // Upper bound on intermediate frames per incremental seek (default: 50)
	CheckpointInterval   int     `toml:"checkpoint_interval"`           // Deltas between locally memoised checkpoints, 0 disables (default: 500)
}

// PollConfig controls periodic version re-polling of the loaded job
type PollConfig struct {
	Enabled  bool   `toml:"enabled"`
	Schedule string `toml:"schedule"` // Cron schedule format (default: "@every 30s")
}

type LoggingConfig struct {
	Level      string   `toml:"level"`       // "debug", "info", "warn", "error"
	Format     string   `toml:"format"`      // "json" or "text"
	Output     []string `toml:"output"`      // "stdout", "file"
	TimeFormat string   `toml:"time_format"` // Time format for logs (default: "15:04:05.000")
}

// WebSocketConfig contains configuration for pushing session events to the UI
type WebSocketConfig struct {
	// Whitelist of event types to broadcast. Empty list allows all events.
	AllowedEvents []string `toml:"allowed_events"`
	// Throttle intervals for high-frequency events. Map of event type to duration string.
	// Example: {"load_progress": "250ms", "graph_frame": "50ms"}
	ThrottleIntervals map[string]string `toml:"throttle_intervals"`
}

type MetricsConfig struct {
	Enabled bool `toml:"enabled"`
}

// NewDefaultConfig creates a configuration with default values
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Port: 8086,
			Host: "localhost",
		},
		API: APIConfig{
			BaseURL:   "http://localhost:8000/api",
			Timeout:   "30s",
			RateLimit: 20,
		},
		Storage: StorageConfig{
			Badger: BadgerConfig{
				Enabled: true,
				Path:    "./data/rewind",
			},
		},
		Cache: CacheConfig{
			WindowSize:    1000,
			WindowPadding: 200,
			BulkFetchSize: 5000,
		},
		Graph: GraphConfig{
			JumpVelocity:         500,
			MaxIncrementalFrames: 50,
			CheckpointInterval:   500,
		},
		Poll: PollConfig{
			Enabled:  true,
			Schedule: "@every 30s",
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			Output:     []string{"stdout", "file"},
			TimeFormat: "15:04:05.000",
		},
		WebSocket: WebSocketConfig{
			AllowedEvents: []string{},
			ThrottleIntervals: map[string]string{
				"load_progress": "250ms",
			},
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}
}

// LoadFromFile loads configuration from a single file.
func LoadFromFile(path string) (*Config, error) {
	if path == "" {
		return LoadFromFiles()
	}
	return LoadFromFiles(path)
}

// LoadFromFiles loads configuration with priority: defaults -> file1 -> file2 -> ... -> env.
// Later files override earlier ones.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for i, path := range paths {
		if path == "" {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	applyEnvOverrides(config)

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate checks struct constraints plus the values that only parse at runtime
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if c.Cache.WindowPadding*2 >= c.Cache.WindowSize {
		return fmt.Errorf("invalid configuration: cache.window_padding (%d) must be less than half of cache.window_size (%d)",
			c.Cache.WindowPadding, c.Cache.WindowSize)
	}

	if c.API.Timeout != "" {
		if _, err := time.ParseDuration(c.API.Timeout); err != nil {
			return fmt.Errorf("invalid configuration: api.timeout %q: %w", c.API.Timeout, err)
		}
	}

	if c.Poll.Enabled {
		if _, err := cron.ParseStandard(c.Poll.Schedule); err != nil {
			return fmt.Errorf("invalid configuration: poll.schedule %q: %w", c.Poll.Schedule, err)
		}
	}

	for eventType, interval := range c.WebSocket.ThrottleIntervals {
		if _, err := time.ParseDuration(interval); err != nil {
			return fmt.Errorf("invalid configuration: websocket throttle for %s %q: %w", eventType, interval, err)
		}
	}

	return nil
}

// APITimeout returns the parsed API timeout, falling back to 30s
func (c *Config) APITimeout() time.Duration {
	d, err := time.ParseDuration(c.API.Timeout)
	if err != nil || d <= 0 {
		return 30 * time.Second
	}
	return d
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("REWIND_ENV"); env != "" {
		config.Environment = env
	} else if env := os.Getenv("GO_ENV"); env != "" {
		config.Environment = env
	}

	// Server configuration
	if port := os.Getenv("REWIND_SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if host := os.Getenv("REWIND_SERVER_HOST"); host != "" {
		config.Server.Host = host
	}

	// API configuration
	if baseURL := os.Getenv("REWIND_API_BASE_URL"); baseURL != "" {
		config.API.BaseURL = baseURL
	}
	if timeout := os.Getenv("REWIND_API_TIMEOUT"); timeout != "" {
		config.API.Timeout = timeout
	}
	if rateLimit := os.Getenv("REWIND_API_RATE_LIMIT"); rateLimit != "" {
		if r, err := strconv.Atoi(rateLimit); err == nil {
			config.API.RateLimit = r
		}
	}

	// Storage configuration
	if badgerPath := os.Getenv("REWIND_BADGER_PATH"); badgerPath != "" {
		config.Storage.Badger.Path = badgerPath
	}
	if enabled := os.Getenv("REWIND_BADGER_ENABLED"); enabled != "" {
		if b, err := strconv.ParseBool(enabled); err == nil {
			config.Storage.Badger.Enabled = b
		}
	}
	if inMemory := os.Getenv("REWIND_BADGER_IN_MEMORY"); inMemory != "" {
		if b, err := strconv.ParseBool(inMemory); err == nil {
			config.Storage.Badger.InMemory = b
		}
	}

	// Cache configuration
	if windowSize := os.Getenv("REWIND_CACHE_WINDOW_SIZE"); windowSize != "" {
		if n, err := strconv.Atoi(windowSize); err == nil {
			config.Cache.WindowSize = n
		}
	}
	if windowPadding := os.Getenv("REWIND_CACHE_WINDOW_PADDING"); windowPadding != "" {
		if n, err := strconv.Atoi(windowPadding); err == nil {
			config.Cache.WindowPadding = n
		}
	}
	if bulkFetchSize := os.Getenv("REWIND_CACHE_BULK_FETCH_SIZE"); bulkFetchSize != "" {
		if n, err := strconv.Atoi(bulkFetchSize); err == nil {
			config.Cache.BulkFetchSize = n
		}
	}

	// Graph configuration
	if velocity := os.Getenv("REWIND_GRAPH_JUMP_VELOCITY"); velocity != "" {
		if v, err := strconv.ParseFloat(velocity, 64); err == nil {
			config.Graph.JumpVelocity = v
		}
	}

	// Poll configuration
	if enabled := os.Getenv("REWIND_POLL_ENABLED"); enabled != "" {
		if b, err := strconv.ParseBool(enabled); err == nil {
			config.Poll.Enabled = b
		}
	}
	if schedule := os.Getenv("REWIND_POLL_SCHEDULE"); schedule != "" {
		config.Poll.Schedule = schedule
	}

	// Logging configuration
	if level := os.Getenv("REWIND_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if format := os.Getenv("REWIND_LOG_FORMAT"); format != "" {
		config.Logging.Format = format
	}
	if output := os.Getenv("REWIND_LOG_OUTPUT"); output != "" {
		outputs := []string{}
		for _, o := range strings.Split(output, ",") {
			if trimmed := strings.TrimSpace(o); trimmed != "" {
				outputs = append(outputs, trimmed)
			}
		}
		if len(outputs) > 0 {
			config.Logging.Output = outputs
		}
	}
}

// ApplyFlagOverrides applies command-line flag overrides to config.
// Command-line flags have highest priority.
func ApplyFlagOverrides(config *Config, port int, host string, apiURL string) {
	if port > 0 {
		config.Server.Port = port
	}
	if host != "" {
		config.Server.Host = host
	}
	if apiURL != "" {
		config.API.BaseURL = apiURL
	}
}
