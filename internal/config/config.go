package config

import (
	"fmt"
	"os"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cuongbtq/case-pipeline/internal/capability"
	"github.com/cuongbtq/case-pipeline/internal/orchestrator/domain"
	"github.com/cuongbtq/case-pipeline/internal/pipeline"
)

const (
	// MinPort is the minimum valid port number
	MinPort = 1
	// MaxPort is the maximum valid port number
	MaxPort = 65535
)

// Persistence drivers
const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Config represents the complete application configuration
type Config struct {
	Server       ServerConfig                `yaml:"server"`
	Database     DatabaseConfig              `yaml:"database"`
	RabbitMQ     RabbitMQConfig              `yaml:"rabbitmq"`
	Logging      LoggingConfig               `yaml:"logging"`
	App          AppConfig                   `yaml:"app"`
	Persistence  PersistenceConfig           `yaml:"persistence"`
	Orchestrator OrchestratorConfig          `yaml:"orchestrator"`
	Pipeline     PipelineConfig              `yaml:"pipeline"`
	Capabilities map[string]CapabilityConfig `yaml:"capabilities"`
	Archiver     ArchiverConfig              `yaml:"archiver"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig holds PostgreSQL connection configuration
type DatabaseConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	SSLMode         string        `yaml:"sslmode"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
}

// RabbitMQConfig holds RabbitMQ connection and exchange/queue configuration
type RabbitMQConfig struct {
	Enabled     bool             `yaml:"enabled"`
	Host        string           `yaml:"host"`
	Port        int              `yaml:"port"`
	User        string           `yaml:"user"`
	Password    string           `yaml:"password"`
	VHost       string           `yaml:"vhost"`
	Exchange    ExchangeConfig   `yaml:"exchange"`
	Queue       QueueConfig      `yaml:"queue"`
	BindingKeys []string         `yaml:"binding_keys"`
	Connection  ConnectionConfig `yaml:"connection"`
	Publish     PublishConfig    `yaml:"publish"`
	Consumer    ConsumerConfig   `yaml:"consumer"`
}

// ExchangeConfig holds RabbitMQ exchange configuration
type ExchangeConfig struct {
	Name       string `yaml:"name"`
	Type       string `yaml:"type"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
}

// QueueConfig holds RabbitMQ queue configuration
type QueueConfig struct {
	Name       string `yaml:"name"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
	Exclusive  bool   `yaml:"exclusive"`
}

// ConnectionConfig holds RabbitMQ connection settings
type ConnectionConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	Heartbeat         time.Duration `yaml:"heartbeat"`
	ConnectionTimeout time.Duration `yaml:"connection_timeout"`
}

// PublishConfig holds RabbitMQ publish retry settings
type PublishConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
}

// ConsumerConfig holds RabbitMQ consumer settings
type ConsumerConfig struct {
	Tag           string `yaml:"tag"`
	PrefetchCount int    `yaml:"prefetch_count"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level        string `yaml:"level"`
	Format       string `yaml:"format"`
	Output       string `yaml:"output"`
	EnableCaller bool   `yaml:"enable_caller"`
}

// AppConfig holds application metadata
type AppConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment"`
}

// PersistenceConfig selects where job records and logs are written
type PersistenceConfig struct {
	Driver       string `yaml:"driver"`
	EnsureSchema bool   `yaml:"ensure_schema"`
}

// OrchestratorConfig holds scheduling, monitoring and estimation settings
type OrchestratorConfig struct {
	MaxConcurrentJobs    int                `yaml:"max_concurrent_jobs"`
	SchedulingTick       time.Duration      `yaml:"scheduling_tick"`
	MonitorInterval      time.Duration      `yaml:"monitor_interval"`
	ReportInterval       time.Duration      `yaml:"report_interval"`
	ErrorRateWindow      time.Duration      `yaml:"error_rate_window"`
	HighErrorRate        float64            `yaml:"high_error_rate"`
	MinErrorRateSamples  int                `yaml:"min_error_rate_samples"`
	BackoffDelays        []time.Duration    `yaml:"backoff_delays"`
	DefaultMaxRetries    *int               `yaml:"default_max_retries"`
	DefaultPriority      int                `yaml:"default_priority"`
	EnforceStageTimeouts bool               `yaml:"enforce_stage_timeouts"`
	RecentJobsLimit      int                `yaml:"recent_jobs_limit"`
	AlertLimit           int                `yaml:"alert_limit"`
	ApprovalFloor        float64            `yaml:"approval_floor"`
	Estimation           EstimationConfig   `yaml:"estimation"`
	EventBuffer          int                `yaml:"event_buffer"`
	Reload               PipelineReloadConf `yaml:"reload"`
}

// EstimationConfig tunes submit-time processing estimates
type EstimationConfig struct {
	BaseTime          time.Duration      `yaml:"base_time"`
	HistorySize       int                `yaml:"history_size"`
	ComplexityFactors map[string]float64 `yaml:"complexity_factors"`
	PerDocumentFactor float64            `yaml:"per_document_factor"`
	MaxDocuments      int                `yaml:"max_documents"`
}

// PipelineReloadConf controls hot reload of the pipeline section
type PipelineReloadConf struct {
	Enabled  bool          `yaml:"enabled"`
	Debounce time.Duration `yaml:"debounce"`
}

// PipelineConfig is the YAML form of the pipeline definition
type PipelineConfig struct {
	Stages       []StageConfig             `yaml:"stages"`
	QualityGates map[string]GateConfig     `yaml:"quality_gates"`
	Fallbacks    map[string]FallbackConfig `yaml:"fallbacks"`
}

// StageConfig is one pipeline stage
type StageConfig struct {
	Name     string        `yaml:"name"`
	Services []string      `yaml:"services"`
	Parallel bool          `yaml:"parallel"`
	Timeout  time.Duration `yaml:"timeout"`
	Retries  int           `yaml:"retries"`
}

// GateConfig is the quality gate for one stage
type GateConfig struct {
	RequiredServices []string          `yaml:"required_services"`
	Thresholds       []ThresholdConfig `yaml:"thresholds"`
}

// ThresholdConfig is one named gate rule
type ThresholdConfig struct {
	Name    string  `yaml:"name"`
	Service string  `yaml:"service"`
	Field   string  `yaml:"field"`
	Rule    string  `yaml:"rule"`
	Value   float64 `yaml:"value"`
	Text    string  `yaml:"text"`
}

// FallbackConfig is the strategy applied when a stage's retries run out
type FallbackConfig struct {
	Action     string  `yaml:"action"`
	Confidence float64 `yaml:"confidence"`
	Severity   string  `yaml:"severity"`
	Message    string  `yaml:"message"`
}

// CapabilityConfig describes one remote service endpoint
type CapabilityConfig struct {
	URL              string        `yaml:"url"`
	Timeout          time.Duration `yaml:"timeout"`
	RateLimit        float64       `yaml:"rate_limit"`
	Burst            int           `yaml:"burst"`
	FailureThreshold uint32        `yaml:"failure_threshold"`
	OpenTimeout      time.Duration `yaml:"open_timeout"`
	HalfOpenRequests uint32        `yaml:"half_open_requests"`
}

// ArchiverConfig holds event archiver configuration
type ArchiverConfig struct {
	Concurrency     int           `yaml:"concurrency"`
	BufferSize      int           `yaml:"buffer_size"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// Load reads and parses the configuration file
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return &config, nil
}

// ValidateServiceConfig checks the settings the pipeline service needs
func (c *Config) ValidateServiceConfig() error {
	if c.Server.Port < MinPort || c.Server.Port > MaxPort {
		return fmt.Errorf("invalid server port: %d (must be between %d and %d)", c.Server.Port, MinPort, MaxPort)
	}

	switch c.Persistence.Driver {
	case DriverMemory:
	case DriverPostgres, "":
		if err := c.validateDatabase(); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown persistence driver: %q", c.Persistence.Driver)
	}

	if c.RabbitMQ.Enabled {
		if err := c.validateRabbitMQ(); err != nil {
			return err
		}
	}

	if c.Orchestrator.MaxConcurrentJobs < 0 {
		return fmt.Errorf("orchestrator max_concurrent_jobs must not be negative")
	}

	if c.Orchestrator.DefaultMaxRetries != nil && *c.Orchestrator.DefaultMaxRetries < 0 {
		return fmt.Errorf("orchestrator default_max_retries must not be negative")
	}

	if c.Orchestrator.HighErrorRate < 0 || c.Orchestrator.HighErrorRate > 1 {
		return fmt.Errorf("orchestrator high_error_rate must be within [0,1]")
	}

	if c.Orchestrator.ApprovalFloor < 0 || c.Orchestrator.ApprovalFloor > 1 {
		return fmt.Errorf("orchestrator approval_floor must be within [0,1]")
	}

	for name, capCfg := range c.Capabilities {
		if capCfg.URL == "" {
			return fmt.Errorf("capability %s url is required", name)
		}
	}

	return nil
}

// ValidateArchiverConfig checks the settings the event archiver needs
func (c *Config) ValidateArchiverConfig() error {
	if err := c.validateDatabase(); err != nil {
		return err
	}

	if err := c.validateRabbitMQ(); err != nil {
		return err
	}

	if c.RabbitMQ.Queue.Name == "" {
		return fmt.Errorf("rabbitmq queue name is required")
	}

	if c.Archiver.Concurrency <= 0 {
		return fmt.Errorf("archiver concurrency must be greater than 0")
	}

	if c.Archiver.ShutdownTimeout <= 0 {
		return fmt.Errorf("archiver shutdown_timeout must be greater than 0")
	}

	return nil
}

func (c *Config) validateDatabase() error {
	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}

	if c.Database.Port < MinPort || c.Database.Port > MaxPort {
		return fmt.Errorf("invalid database port: %d (must be between %d and %d)", c.Database.Port, MinPort, MaxPort)
	}

	if c.Database.Database == "" {
		return fmt.Errorf("database name is required")
	}

	return nil
}

func (c *Config) validateRabbitMQ() error {
	if c.RabbitMQ.Host == "" {
		return fmt.Errorf("rabbitmq host is required")
	}

	if c.RabbitMQ.Port < MinPort || c.RabbitMQ.Port > MaxPort {
		return fmt.Errorf("invalid rabbitmq port: %d (must be between %d and %d)", c.RabbitMQ.Port, MinPort, MaxPort)
	}

	if c.RabbitMQ.Exchange.Name == "" {
		return fmt.Errorf("rabbitmq exchange name is required")
	}

	return nil
}

// ToDefinition converts the pipeline section into a domain definition. An
// empty section yields the built-in definition. Structural problems are
// reported as ConfigurationErrors; whether the named services exist is
// checked when the definition is installed.
func (p *PipelineConfig) ToDefinition() (*domain.Definition, error) {
	if len(p.Stages) == 0 {
		return pipeline.DefaultDefinition(), nil
	}

	def := &domain.Definition{
		Stages:       make([]domain.StageDefinition, 0, len(p.Stages)),
		QualityGates: make(map[string]domain.QualityGate, len(p.QualityGates)),
		Fallbacks:    make(map[string]domain.FallbackStrategy, len(p.Fallbacks)),
	}

	for _, s := range p.Stages {
		def.Stages = append(def.Stages, domain.StageDefinition{
			Name:     s.Name,
			Services: append([]string(nil), s.Services...),
			Parallel: s.Parallel,
			Timeout:  s.Timeout,
			Retries:  s.Retries,
		})
	}

	for stage, g := range p.QualityGates {
		gate := domain.QualityGate{
			Stage:            stage,
			RequiredServices: append([]string(nil), g.RequiredServices...),
			Rules:            make([]domain.GateRule, 0, len(g.Thresholds)),
		}
		for _, t := range g.Thresholds {
			gate.Rules = append(gate.Rules, domain.GateRule{
				Name:    t.Name,
				Service: t.Service,
				Field:   t.Field,
				Rule:    t.Rule,
				Value:   t.Value,
				Text:    t.Text,
			})
		}
		def.QualityGates[stage] = gate
	}

	for key, f := range p.Fallbacks {
		def.Fallbacks[key] = domain.FallbackStrategy{
			Key:        key,
			Action:     f.Action,
			Confidence: f.Confidence,
			Severity:   f.Severity,
			Message:    f.Message,
		}
	}

	if err := pipeline.Validate(def, def.ServiceNames()); err != nil {
		return nil, err
	}
	return def, nil
}

// HTTPCapabilities returns the capability endpoints sorted by service name
func (c *Config) HTTPCapabilities() []capability.HTTPConfig {
	names := make([]string, 0, len(c.Capabilities))
	for name := range c.Capabilities {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]capability.HTTPConfig, 0, len(names))
	for _, name := range names {
		cc := c.Capabilities[name]
		out = append(out, capability.HTTPConfig{
			Name:             name,
			URL:              cc.URL,
			Timeout:          cc.Timeout,
			RateLimit:        cc.RateLimit,
			Burst:            cc.Burst,
			FailureThreshold: cc.FailureThreshold,
			OpenTimeout:      cc.OpenTimeout,
			HalfOpenRequests: cc.HalfOpenRequests,
		})
	}
	return out
}
