// Package config loads and validates the orchestrator's configuration:
// scoring weights, resource bounds, scheduler timings, and reward rates.
package config

import (
	"fmt"
	"os"
	"strconv"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	appErrors "github.com/DNYoussef/fog-compute-sub001/internal/errors"
)

// ServerConfig controls the HTTP mounting shim's listen ports.
type ServerConfig struct {
	HTTPPort    string `yaml:"http_port"`
	MetricsPort string `yaml:"metrics_port"`
}

// SchedulerConfig holds the placement-scoring weights and queue tuning
// named in the scoring formula (resource_score*0.40 + load_score*0.30 +
// locality_score*0.30, load_score split 15%/15% cpu/mem).
type SchedulerConfig struct {
	ResourceScoreWeight   float64 `yaml:"resource_score_weight"`
	LoadScoreCPUWeight    float64 `yaml:"load_score_cpu_weight"`
	LoadScoreMemoryWeight float64 `yaml:"load_score_memory_weight"`
	LocalityScoreWeight   float64 `yaml:"locality_score_weight"`
	MaxConcurrentJobs     int     `yaml:"max_concurrent_jobs"`
	QueueSize             int     `yaml:"queue_size"`
	MaxLatencyMS          int     `yaml:"max_latency_ms"`
	DefaultRegion         string  `yaml:"default_region"`
}

// ResourceBounds holds the envelope and quota constants referenced
// throughout placement and controller validation.
type ResourceBounds struct {
	MinCPUCores        float64 `yaml:"min_cpu_cores"`
	MaxCPUCores        float64 `yaml:"max_cpu_cores"`
	MinMemoryMB        int     `yaml:"min_memory_mb"`
	MaxMemoryMB        int     `yaml:"max_memory_mb"`
	MaxReplicasInitial int     `yaml:"max_replicas_initial"`
	MaxReplicasScale   int     `yaml:"max_replicas_scale"`
	DefaultOffset      int     `yaml:"default_offset"`
}

// RewardConfig holds the settlement pipeline's rate constants.
type RewardConfig struct {
	StakingAPY         float64 `yaml:"staking_apy"`
	RuntimeRatePerHour float64 `yaml:"runtime_rate_per_hour"`
	MinRewardThreshold float64 `yaml:"min_reward_threshold"`
}

// LoggingConfig controls the structured logger's level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Config is the root configuration object.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Resources ResourceBounds  `yaml:"resources"`
	Rewards   RewardConfig    `yaml:"rewards"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// DefaultConfig returns the orchestrator's built-in defaults, matching
// spec §6's named constants.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPPort:    "8080",
			MetricsPort: "9090",
		},
		Scheduler: SchedulerConfig{
			ResourceScoreWeight:   0.40,
			LoadScoreCPUWeight:    0.15,
			LoadScoreMemoryWeight: 0.15,
			LocalityScoreWeight:   0.30,
			MaxConcurrentJobs:     10,
			QueueSize:             256,
			MaxLatencyMS:          200,
			DefaultRegion:         "us-east",
		},
		Resources: ResourceBounds{
			MinCPUCores:        0.5,
			MaxCPUCores:        32,
			MinMemoryMB:        128,
			MaxMemoryMB:        131072,
			MaxReplicasInitial: 10,
			MaxReplicasScale:   50,
			DefaultOffset:      0,
		},
		Rewards: RewardConfig{
			StakingAPY:         0.05,
			RuntimeRatePerHour: 0.01,
			MinRewardThreshold: 0.0001,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads, parses, defaults, env-overrides, and validates the
// configuration at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, appErrors.NewPersistenceError("failed to read config file", err).WithDetails(path)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrorTypeValidation, "failed to parse config file").WithDetails(path)
	}

	applyDefaults(config)

	if err := loadFromEnv(config); err != nil {
		return nil, err
	}

	if err := validate(config); err != nil {
		return nil, err
	}

	return config, nil
}

// applyDefaults fills in zero-valued fields the YAML document omitted.
func applyDefaults(config *Config) {
	defaults := DefaultConfig()

	if config.Scheduler.MaxConcurrentJobs == 0 {
		config.Scheduler.MaxConcurrentJobs = defaults.Scheduler.MaxConcurrentJobs
	}
	if config.Scheduler.QueueSize == 0 {
		config.Scheduler.QueueSize = defaults.Scheduler.QueueSize
	}
	if config.Scheduler.MaxLatencyMS == 0 {
		config.Scheduler.MaxLatencyMS = defaults.Scheduler.MaxLatencyMS
	}
	if config.Scheduler.DefaultRegion == "" {
		config.Scheduler.DefaultRegion = defaults.Scheduler.DefaultRegion
	}
	if config.Scheduler.ResourceScoreWeight == 0 && config.Scheduler.LoadScoreCPUWeight == 0 &&
		config.Scheduler.LoadScoreMemoryWeight == 0 && config.Scheduler.LocalityScoreWeight == 0 {
		config.Scheduler = defaults.Scheduler
	}
	if config.Resources.MaxReplicasInitial == 0 {
		config.Resources.MaxReplicasInitial = defaults.Resources.MaxReplicasInitial
	}
	if config.Resources.MaxReplicasScale == 0 {
		config.Resources.MaxReplicasScale = defaults.Resources.MaxReplicasScale
	}
	if config.Resources.MaxCPUCores == 0 {
		config.Resources.MaxCPUCores = defaults.Resources.MaxCPUCores
	}
	if config.Resources.MaxMemoryMB == 0 {
		config.Resources.MaxMemoryMB = defaults.Resources.MaxMemoryMB
	}
	if config.Logging.Level == "" {
		config.Logging.Level = defaults.Logging.Level
	}
	if config.Logging.Format == "" {
		config.Logging.Format = defaults.Logging.Format
	}
}

// loadFromEnv overrides select fields from the process environment.
func loadFromEnv(config *Config) error {
	if v := os.Getenv("HTTP_PORT"); v != "" {
		config.Server.HTTPPort = v
	}
	if v := os.Getenv("METRICS_PORT"); v != "" {
		config.Server.MetricsPort = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		config.Logging.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		config.Logging.Format = v
	}
	if v := os.Getenv("SCHEDULER_MAX_CONCURRENT_JOBS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.Scheduler.MaxConcurrentJobs = n
		}
	}
	if v := os.Getenv("REWARD_RUNTIME_RATE_PER_HOUR"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			config.Rewards.RuntimeRatePerHour = f
		}
	}
	return nil
}

// validate enforces spec §9's weight-sum invariant and the positivity of
// every bound referenced by placement and controller validation.
func validate(config *Config) error {
	weightSum := config.Scheduler.ResourceScoreWeight +
		config.Scheduler.LoadScoreCPUWeight + config.Scheduler.LoadScoreMemoryWeight +
		config.Scheduler.LocalityScoreWeight
	if diff := weightSum - 1.0; diff > 1e-6 || diff < -1e-6 {
		return appErrors.NewValidationError(
			fmt.Sprintf("scoring weights must sum to 1.00, got %.4f", weightSum))
	}

	if config.Resources.MinCPUCores <= 0 {
		return appErrors.NewValidationError("min_cpu_cores must be greater than 0")
	}
	if config.Resources.MaxCPUCores < config.Resources.MinCPUCores {
		return appErrors.NewValidationError("max_cpu_cores must be greater than or equal to min_cpu_cores")
	}
	if config.Resources.MinMemoryMB <= 0 {
		return appErrors.NewValidationError("min_memory_mb must be greater than 0")
	}
	if config.Resources.MaxMemoryMB < config.Resources.MinMemoryMB {
		return appErrors.NewValidationError("max_memory_mb must be greater than or equal to min_memory_mb")
	}
	if config.Resources.MaxReplicasInitial <= 0 {
		return appErrors.NewValidationError("max_replicas_initial must be greater than 0")
	}
	if config.Resources.MaxReplicasScale < config.Resources.MaxReplicasInitial {
		return appErrors.NewValidationError("max_replicas_scale must be greater than or equal to max_replicas_initial")
	}
	if config.Scheduler.MaxConcurrentJobs <= 0 {
		return appErrors.NewValidationError("scheduler max_concurrent_jobs must be greater than 0")
	}
	if config.Scheduler.QueueSize <= 0 {
		return appErrors.NewValidationError("scheduler queue_size must be greater than 0")
	}
	if config.Rewards.RuntimeRatePerHour < 0 {
		return appErrors.NewValidationError("reward runtime_rate_per_hour must be non-negative")
	}
	if config.Rewards.StakingAPY < 0 {
		return appErrors.NewValidationError("reward staking_apy must be non-negative")
	}

	return nil
}

// Watcher holds a reloadable Config snapshot behind an atomic pointer, so
// concurrent readers never block a reload in progress (spec §9: scoring
// weights and reward rates may change without a restart).
type Watcher struct {
	path    string
	current atomic.Pointer[Config]
	logger  *logrus.Logger
}

// NewWatcher loads path once and returns a Watcher holding that snapshot.
func NewWatcher(path string, logger *logrus.Logger) (*Watcher, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	w := &Watcher{path: path, logger: logger}
	w.current.Store(cfg)
	return w, nil
}

// Current returns the most recently loaded, validated configuration.
func (w *Watcher) Current() *Config {
	return w.current.Load()
}

// Watch blocks, reloading the configuration file on every write event and
// swapping it into Current atomically. A reload that fails validation is
// logged and discarded; the previous snapshot keeps serving. Returns when
// ctx-independent stop channel is closed or the underlying watcher errors.
func (w *Watcher) Watch(stop <-chan struct{}) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrorTypeRuntimeError, "failed to start config file watcher")
	}
	defer fsw.Close()

	if err := fsw.Add(w.path); err != nil {
		return appErrors.Wrap(err, appErrors.ErrorTypeRuntimeError, "failed to watch config file").WithDetails(w.path)
	}

	for {
		select {
		case <-stop:
			return nil
		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			cfg, err := Load(w.path)
			if err != nil {
				w.logger.WithError(err).Warn("config reload failed validation, keeping previous snapshot")
				continue
			}
			w.current.Store(cfg)
			w.logger.Info("configuration reloaded")
		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.WithError(err).Warn("config watcher error")
		}
	}
}
