package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
)

// Service roles. One binary runs training jobs, the other runs dataset
// assembly; everything else about the two services is shared.
const (
	RoleTraining = "training"
	RoleDataset  = "dataset"
)

// Config represents the application configuration
type Config struct {
	Environment string                     `toml:"environment" validate:"omitempty,oneof=development production"`
	Service     ServiceConfig              `toml:"service"`
	Server      ServerConfig               `toml:"server"`
	Jobs        JobsConfig                 `toml:"jobs"`
	Events      EventsConfig               `toml:"events"`
	Auth        AuthConfig                 `toml:"auth"`
	Storage     StorageConfig              `toml:"storage"`
	Search      SearchConfig               `toml:"search"`
	Feedback    FeedbackConfig             `toml:"feedback"`
	Datasets    DatasetsConfig             `toml:"datasets"`
	Trainers    map[string]TrainerDefaults `toml:"trainers"`
	Logging     LoggingConfig              `toml:"logging"`
	Metrics     MetricsConfig              `toml:"metrics"`
}

// ServiceConfig identifies which half of the control plane this process is
type ServiceConfig struct {
	Role string `toml:"role" validate:"oneof=training dataset"` // "training" or "dataset"
	Name string `toml:"name"`                                   // Service name used in health responses and logs
}

type ServerConfig struct {
	Port int    `toml:"port" validate:"min=1,max=65535"`
	Host string `toml:"host"`
}

// JobsConfig controls the job manager and worker pool. Duration settings
// are strings ("30s", "24h") because the TOML decoder does not parse
// duration values natively.
type JobsConfig struct {
	Workers            int    `toml:"workers" validate:"min=1"`     // Number of concurrent job runners
	QueueDepth         int    `toml:"queue_depth" validate:"min=1"` // Maximum queued (not yet running) jobs
	DefaultPriority    int    `toml:"default_priority" validate:"min=1,max=5"`
	RetainTerminalFor  string `toml:"retain_terminal_for"`  // How long finished job records stay queryable
	CancelGraceTimeout string `toml:"cancel_grace_timeout"` // Grace period before a cancelled job is abandoned
	RunTimeout         string `toml:"run_timeout"`          // Per-job wall clock limit, empty or "0s" = no limit
}

// GetRetainTerminalFor parses and returns the terminal record retention window
func (c *JobsConfig) GetRetainTerminalFor() time.Duration {
	d, err := time.ParseDuration(c.RetainTerminalFor)
	if err != nil {
		return 24 * time.Hour
	}
	return d
}

// GetCancelGraceTimeout parses and returns the cancellation grace period
func (c *JobsConfig) GetCancelGraceTimeout() time.Duration {
	d, err := time.ParseDuration(c.CancelGraceTimeout)
	if err != nil {
		return 30 * time.Second
	}
	return d
}

// GetRunTimeout parses and returns the per-job wall clock limit, 0 = no limit
func (c *JobsConfig) GetRunTimeout() time.Duration {
	d, err := time.ParseDuration(c.RunTimeout)
	if err != nil || d < 0 {
		return 0
	}
	return d
}

// EventsConfig controls progress event fan-out
type EventsConfig struct {
	SubscriberBuffer int    `toml:"subscriber_buffer" validate:"min=1"` // Per-subscriber event buffer
	MaxSubscribers   int    `toml:"max_subscribers" validate:"min=1"`
	ThrottleInterval string `toml:"throttle_interval"` // Min interval between non-terminal websocket writes per job, empty = no throttle
}

// GetThrottleInterval parses and returns the websocket write throttle
// interval. Empty or unparseable means no throttling.
func (c *EventsConfig) GetThrottleInterval() time.Duration {
	d, err := time.ParseDuration(c.ThrottleInterval)
	if err != nil || d < 0 {
		return 0
	}
	return d
}

// AuthConfig controls the authentication gate
type AuthConfig struct {
	Mode       string   `toml:"mode" validate:"oneof=production development debug testing"`
	JWTSecret  string   `toml:"jwt_secret"`  // HMAC secret, required in production mode
	TokenTTL   string   `toml:"token_ttl"`   // Lifetime of tokens issued by the dev token helper
	DebugRoles []string `toml:"debug_roles"` // Roles granted to the mock principal in debug mode
}

// GetTokenTTL parses and returns the issued token lifetime
func (c *AuthConfig) GetTokenTTL() time.Duration {
	d, err := time.ParseDuration(c.TokenTTL)
	if err != nil {
		return 24 * time.Hour
	}
	return d
}

type StorageConfig struct {
	Type string `toml:"type" validate:"omitempty,oneof=memory badger"` // "memory" (default) or "badger"
	Path string `toml:"path"`                                          // Badger database directory
}

// SearchConfig points dataset assembly at the corpus search service
type SearchConfig struct {
	URL     string `toml:"url"` // Empty = no search service, filesystem fallback is used
	Timeout string `toml:"timeout"`
	APIKey  string `toml:"api_key"`
}

// GetTimeout parses and returns the search request timeout
func (c *SearchConfig) GetTimeout() time.Duration {
	d, err := time.ParseDuration(c.Timeout)
	if err != nil {
		return 10 * time.Second
	}
	return d
}

// FeedbackConfig bounds the interaction feedback buffer
type FeedbackConfig struct {
	BufferSize int `toml:"buffer_size" validate:"min=1"`
	DrainLimit int `toml:"drain_limit" validate:"min=1"` // Max items handed to continuous training per cycle
}

// DatasetsConfig locates corpus documents and export output
type DatasetsConfig struct {
	DocumentRoot string `toml:"document_root"` // Fallback corpus directory when no search service is configured
	ExportRoot   string `toml:"export_root"`   // Directory dataset exports are written to
}

// TrainerDefaults are per-kind simulation defaults, keyed by trainer kind
type TrainerDefaults struct {
	Epochs        int    `toml:"epochs"`
	StepsPerEpoch int    `toml:"steps_per_epoch"` // 0 = derive from dataset size and batch size
	StepInterval  string `toml:"step_interval"`   // Pacing between simulated steps
}

// GetStepInterval parses and returns the pacing interval between simulated
// steps. Value receiver so map entries can call it directly.
func (d TrainerDefaults) GetStepInterval() time.Duration {
	parsed, err := time.ParseDuration(d.StepInterval)
	if err != nil || parsed <= 0 {
		return 250 * time.Millisecond
	}
	return parsed
}

type LoggingConfig struct {
	Level  string   `toml:"level"`  // "debug", "info", "warn", "error"
	Output []string `toml:"output"` // "stdout", "file"
}

type MetricsConfig struct {
	Enabled bool `toml:"enabled"`
}

// NewDefaultConfig creates a configuration with default values for the
// training service. Only user-facing settings are exposed in exerceo.toml;
// technical parameters are hardcoded for stability.
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Service: ServiceConfig{
			Role: RoleTraining,
			Name: "exerceo",
		},
		Server: ServerConfig{
			Port: 8085,
			Host: "localhost",
		},
		Jobs: JobsConfig{
			Workers:            2,
			QueueDepth:         256,
			DefaultPriority:    3,
			RetainTerminalFor:  "24h",
			CancelGraceTimeout: "30s",
			RunTimeout:         "", // No per-job wall clock limit
		},
		Events: EventsConfig{
			SubscriberBuffer: 64,
			MaxSubscribers:   1024,
			ThrottleInterval: "1s",
		},
		Auth: AuthConfig{
			Mode:       "development",
			TokenTTL:   "24h",
			DebugRoles: []string{"admin", "trainer"},
		},
		Storage: StorageConfig{
			Type: "memory",
			Path: "./data/jobs",
		},
		Search: SearchConfig{
			URL:     "", // No search service by default
			Timeout: "10s",
		},
		Feedback: FeedbackConfig{
			BufferSize: 1024,
			DrainLimit: 256,
		},
		Datasets: DatasetsConfig{
			DocumentRoot: "./data/documents",
			ExportRoot:   "./data/exports",
		},
		Trainers: map[string]TrainerDefaults{
			"lora": {
				Epochs:       3,
				StepInterval: "250ms",
			},
			"qlora": {
				Epochs:       3,
				StepInterval: "250ms",
			},
			"continuous": {
				StepInterval: "1s", // Feedback drain cycle interval
			},
			"dataset_assembly": {
				StepInterval: "100ms",
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Output: []string{"stdout", "file"},
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}
}

// NewDefaultDatasetConfig creates default values for the dataset service.
// Same config surface, different role and port.
func NewDefaultDatasetConfig() *Config {
	config := NewDefaultConfig()
	config.Service.Role = RoleDataset
	config.Service.Name = "exerceo-data"
	config.Server.Port = 8086
	return config
}

// LoadFromFiles loads configuration from multiple files with priority:
// default -> file1 -> file2 -> ... -> env. Later files override earlier
// files; environment variables override all files. CLI flags are applied
// separately via ApplyFlagOverrides and take the highest priority.
func LoadFromFiles(paths ...string) (*Config, error) {
	return LoadWithDefaults(NewDefaultConfig(), paths...)
}

// LoadWithDefaults is LoadFromFiles starting from the given defaults.
// The dataset binary passes NewDefaultDatasetConfig here.
func LoadWithDefaults(config *Config, paths ...string) (*Config, error) {
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
	fillTrainerDefaults(config)

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// TrainerDefaultsFor returns the per-kind trainer defaults, zero-valued when
// the kind has no configuration entry.
func (c *Config) TrainerDefaultsFor(kind string) TrainerDefaults {
	if c.Trainers == nil {
		return TrainerDefaults{}
	}
	return c.Trainers[kind]
}

// fillTrainerDefaults backfills zero fields in per-kind trainer defaults.
// TOML map entries replace the whole struct, so a partial [trainers.lora]
// section would otherwise zero the fields it does not mention.
func fillTrainerDefaults(config *Config) {
	if config.Trainers == nil {
		config.Trainers = make(map[string]TrainerDefaults)
	}
	for kind, defaults := range config.Trainers {
		if defaults.Epochs <= 0 && (kind == "lora" || kind == "qlora") {
			defaults.Epochs = 3
		}
		if defaults.StepInterval == "" {
			defaults.StepInterval = "250ms"
		}
		config.Trainers[kind] = defaults
	}
}

// applyEnvOverrides applies EXERCEO_* environment variable overrides
func applyEnvOverrides(config *Config) {
	// Environment (EXERCEO_ENV, fallback GO_ENV)
	if env := os.Getenv("EXERCEO_ENV"); env != "" {
		config.Environment = env
	} else if env := os.Getenv("GO_ENV"); env != "" {
		config.Environment = env
	}

	// Service configuration
	if role := os.Getenv("EXERCEO_SERVICE_ROLE"); role != "" {
		config.Service.Role = role
	}

	// Server configuration
	if port := os.Getenv("EXERCEO_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if host := os.Getenv("EXERCEO_HOST"); host != "" {
		config.Server.Host = host
	}

	// Jobs configuration
	if workers := os.Getenv("EXERCEO_WORKERS"); workers != "" {
		if w, err := strconv.Atoi(workers); err == nil {
			config.Jobs.Workers = w
		}
	}
	if queueDepth := os.Getenv("EXERCEO_QUEUE_DEPTH"); queueDepth != "" {
		if qd, err := strconv.Atoi(queueDepth); err == nil {
			config.Jobs.QueueDepth = qd
		}
	}
	if retain := os.Getenv("EXERCEO_RETAIN_TERMINAL_FOR"); retain != "" {
		if _, err := time.ParseDuration(retain); err == nil {
			config.Jobs.RetainTerminalFor = retain
		}
	}
	if grace := os.Getenv("EXERCEO_CANCEL_GRACE_TIMEOUT"); grace != "" {
		if _, err := time.ParseDuration(grace); err == nil {
			config.Jobs.CancelGraceTimeout = grace
		}
	}
	if runTimeout := os.Getenv("EXERCEO_RUN_TIMEOUT"); runTimeout != "" {
		if _, err := time.ParseDuration(runTimeout); err == nil {
			config.Jobs.RunTimeout = runTimeout
		}
	}

	// Events configuration
	if buffer := os.Getenv("EXERCEO_SUBSCRIBER_BUFFER"); buffer != "" {
		if b, err := strconv.Atoi(buffer); err == nil {
			config.Events.SubscriberBuffer = b
		}
	}
	if maxSubs := os.Getenv("EXERCEO_MAX_SUBSCRIBERS"); maxSubs != "" {
		if ms, err := strconv.Atoi(maxSubs); err == nil {
			config.Events.MaxSubscribers = ms
		}
	}

	// Auth configuration
	if mode := os.Getenv("EXERCEO_AUTH_MODE"); mode != "" {
		config.Auth.Mode = mode
	}
	if secret := os.Getenv("EXERCEO_JWT_SECRET"); secret != "" {
		config.Auth.JWTSecret = secret
	}

	// Storage configuration
	if storageType := os.Getenv("EXERCEO_STORAGE_TYPE"); storageType != "" {
		config.Storage.Type = storageType
	}
	if storagePath := os.Getenv("EXERCEO_STORAGE_PATH"); storagePath != "" {
		config.Storage.Path = storagePath
	}

	// Search configuration
	if searchURL := os.Getenv("EXERCEO_SEARCH_URL"); searchURL != "" {
		config.Search.URL = searchURL
	}

	// Datasets configuration
	if documentRoot := os.Getenv("EXERCEO_DOCUMENT_ROOT"); documentRoot != "" {
		config.Datasets.DocumentRoot = documentRoot
	}
	if exportRoot := os.Getenv("EXERCEO_EXPORT_ROOT"); exportRoot != "" {
		config.Datasets.ExportRoot = exportRoot
	}

	// Logging configuration
	if level := os.Getenv("EXERCEO_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if output := os.Getenv("EXERCEO_LOG_OUTPUT"); output != "" {
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

// ApplyFlagOverrides applies command-line flag overrides to config
func ApplyFlagOverrides(config *Config, port int, host string) {
	// Command-line flags have highest priority
	if port > 0 {
		config.Server.Port = port
	}
	if host != "" {
		config.Server.Host = host
	}
}

// Validate checks the configuration using go-playground/validator tags
// plus the cross-field rules the tags cannot express.
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if c.Auth.Mode == "production" && c.Auth.JWTSecret == "" {
		return fmt.Errorf("invalid configuration: auth.jwt_secret is required when auth.mode is production")
	}
	if c.Storage.Type == "badger" && c.Storage.Path == "" {
		return fmt.Errorf("invalid configuration: storage.path is required when storage.type is badger")
	}
	return nil
}

// IsProduction returns true if the environment is set to production
func (c *Config) IsProduction() bool {
	env := strings.ToLower(strings.TrimSpace(c.Environment))
	return env == "production" || env == "prod"
}
