package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the configuration shared by stqd and the oracle.
type Config struct {
	HTTP       HTTPConfig       `yaml:"http"`
	Database   DatabaseConfig   `yaml:"database"`
	Auth       AuthConfig       `yaml:"auth"`
	Crypto     CryptoConfig     `yaml:"crypto"`
	Oracle     OracleConfig     `yaml:"oracle"`
	Query      QueryConfig      `yaml:"query"`
	Partitions PartitionsConfig `yaml:"partitions"`
	Storage    StorageConfig    `yaml:"storage"`
	Logging    LoggingConfig    `yaml:"logging"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error (default: determined by env)
}

// AuthConfig holds API authentication settings for the public API.
type AuthConfig struct {
	APIKeys []string `yaml:"api_keys"`
}

// HTTPConfig holds HTTP server settings.
type HTTPConfig struct {
	Port            int `yaml:"port"`
	ReadTimeoutSec  int `yaml:"read_timeout_sec"`
	WriteTimeoutSec int `yaml:"write_timeout_sec"`
	ShutdownSec     int `yaml:"shutdown_timeout_sec"`
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	Driver           string   `yaml:"driver"` // redis, valkey, badger (default: redis)
	Addrs            []string `yaml:"addrs"`
	Password         string   `yaml:"password"`
	Path             string   `yaml:"path"` // badger directory; empty means in-memory
	ReadinessTimeout int      `yaml:"readiness_timeout_sec"`
}

// CryptoConfig points at the BGV key files. stqd needs only the public key,
// the oracle only the secret key.
type CryptoConfig struct {
	PublicKeyPath string `yaml:"public_key_path"`
	SecretKeyPath string `yaml:"secret_key_path"`
}

// OracleConfig holds both sides of the oracle link: the client settings used
// by stqd and the accepted clients used by the oracle itself.
type OracleConfig struct {
	URL         string            `yaml:"url"`
	APIKey      string            `yaml:"api_key"`
	FogID       string            `yaml:"fog_id"`
	Secret      string            `yaml:"secret"`
	TimeoutSec  int               `yaml:"timeout_sec"`
	MaxRetries  int               `yaml:"max_retries"`
	RateLimit   float64           `yaml:"rate_limit"` // requests per second, 0 = unlimited
	Burst       int               `yaml:"burst"`
	TokenMaxAge int               `yaml:"token_max_age_sec"`
	Clients     map[string]string `yaml:"clients"` // fog id -> api key
}

// QueryConfig tunes the orchestrator and the partition pipeline.
type QueryConfig struct {
	TimeoutSec       int  `yaml:"timeout_sec"`
	DecryptBatch     int  `yaml:"decrypt_batch"`
	DeliverCTK       bool `yaml:"deliver_ctk"`
	PruneWorkers     int  `yaml:"prune_workers"`
	AggregateWorkers int  `yaml:"aggregate_workers"`
	PointBatch       int  `yaml:"point_batch"`
	FogTimeoutSec    int  `yaml:"fog_timeout_sec"`
}

// PartitionConfig describes one storage partition.
type PartitionConfig struct {
	ID          string   `yaml:"id"`
	Endpoint    string   `yaml:"endpoint"`
	Keywords    []string `yaml:"keywords"`
	KeywordLoad int      `yaml:"keyword_load"`
	Status      string   `yaml:"status"`
}

// PartitionsConfig holds the partition served by this node and the registry seed.
type PartitionsConfig struct {
	LocalID string            `yaml:"local_id"`
	Seed    []PartitionConfig `yaml:"seed"`
}

// StorageConfig holds storage settings.
type StorageConfig struct {
	CTKTTLSec   int `yaml:"ctk_ttl_sec"`
	NonceTTLSec int `yaml:"nonce_ttl_sec"`
}

// TelemetryConfig holds tracing settings.
type TelemetryConfig struct {
	ServiceName   string  `yaml:"service_name"`
	TraceExporter string  `yaml:"trace_exporter"` // otlp, stdout, none (default: none)
	OTLPEndpoint  string  `yaml:"otlp_endpoint"`
	OTLPInsecure  bool    `yaml:"otlp_insecure"`
	SampleRatio   float64 `yaml:"sample_ratio"`
}

// Load reads configuration from a YAML file by environment name (local, dev, prod).
func Load(env string) (Config, error) {
	return LoadFile(findConfigPath(env))
}

// LoadFile reads configuration from an explicit path.
func LoadFile(configPath string) (Config, error) {
	data, err := os.ReadFile(filepath.Clean(configPath))
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", configPath, err)
	}

	// Substitute env variables of the form ${VAR}
	data = expandEnvVars(data)

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// MustLoad loads configuration or panics.
func MustLoad(env string) Config {
	cfg, err := Load(env)
	if err != nil {
		panic(err)
	}
	return cfg
}

// GetEnv returns the current environment from the ENV variable, defaulting to "local".
func GetEnv() string {
	if env := os.Getenv("ENV"); env != "" {
		return env
	}
	return "local"
}

// ApplyDefaults fills empty fields with default values.
func (c *Config) ApplyDefaults() {
	if c.HTTP.ReadTimeoutSec <= 0 {
		c.HTTP.ReadTimeoutSec = 30
	}
	if c.HTTP.WriteTimeoutSec <= 0 {
		c.HTTP.WriteTimeoutSec = 300
	}
	if c.HTTP.ShutdownSec <= 0 {
		c.HTTP.ShutdownSec = 10
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "redis"
	}
	if c.Database.ReadinessTimeout <= 0 {
		c.Database.ReadinessTimeout = 10
	}
	if c.Oracle.TimeoutSec <= 0 {
		c.Oracle.TimeoutSec = 10
	}
	if c.Oracle.MaxRetries <= 0 {
		c.Oracle.MaxRetries = 3
	}
	if c.Oracle.TokenMaxAge <= 0 {
		c.Oracle.TokenMaxAge = 300
	}
	if c.Query.DecryptBatch <= 0 {
		c.Query.DecryptBatch = 1024
	}
	if c.Query.PruneWorkers <= 0 {
		c.Query.PruneWorkers = 8
	}
	if c.Query.AggregateWorkers <= 0 {
		c.Query.AggregateWorkers = 4
	}
	if c.Query.PointBatch <= 0 {
		c.Query.PointBatch = 64
	}
	if c.Query.FogTimeoutSec <= 0 {
		c.Query.FogTimeoutSec = 300
	}
	for i := range c.Partitions.Seed {
		if c.Partitions.Seed[i].Status == "" {
			c.Partitions.Seed[i].Status = "online"
		}
	}
	if c.Storage.NonceTTLSec <= 0 {
		c.Storage.NonceTTLSec = c.Oracle.TokenMaxAge * 2
	}
	if c.Storage.CTKTTLSec <= 0 {
		c.Storage.CTKTTLSec = 24 * 3600
	}
	if c.Telemetry.ServiceName == "" {
		c.Telemetry.ServiceName = "stquery"
	}
	if c.Telemetry.TraceExporter == "" {
		c.Telemetry.TraceExporter = "none"
	}
	if c.Telemetry.SampleRatio <= 0 {
		c.Telemetry.SampleRatio = 1
	}
}

// Validate checks the configuration for correctness.
func (c *Config) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port must be between 1 and 65535, got %d", c.HTTP.Port)
	}
	switch c.Database.Driver {
	case "redis", "valkey":
		if len(c.Database.Addrs) == 0 {
			return fmt.Errorf("database.addrs is required for driver %q", c.Database.Driver)
		}
	case "badger":
	default:
		return fmt.Errorf("database.driver must be \"redis\", \"valkey\" or \"badger\", got %q", c.Database.Driver)
	}
	if c.Oracle.URL != "" {
		u, err := url.Parse(c.Oracle.URL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("oracle.url must be an absolute URL, got %q", c.Oracle.URL)
		}
	}
	if c.Oracle.RateLimit < 0 {
		return fmt.Errorf("oracle.rate_limit must not be negative, got %v", c.Oracle.RateLimit)
	}
	seen := make(map[string]bool, len(c.Partitions.Seed))
	for i, p := range c.Partitions.Seed {
		if p.ID == "" {
			return fmt.Errorf("partitions.seed[%d].id is required", i)
		}
		if seen[p.ID] {
			return fmt.Errorf("partitions.seed[%d].id %q is duplicated", i, p.ID)
		}
		seen[p.ID] = true
		if p.Status != "online" && p.Status != "offline" {
			return fmt.Errorf("partitions.seed.%s.status must be \"online\" or \"offline\", got %q", p.ID, p.Status)
		}
	}
	switch c.Telemetry.TraceExporter {
	case "none", "stdout":
	case "otlp":
		if c.Telemetry.OTLPEndpoint == "" {
			return fmt.Errorf("telemetry.otlp_endpoint is required for the otlp exporter")
		}
	default:
		return fmt.Errorf("telemetry.trace_exporter must be \"otlp\", \"stdout\" or \"none\", got %q",
			c.Telemetry.TraceExporter)
	}
	return nil
}

// ValidateNode checks the settings stqd needs on top of Validate.
func (c *Config) ValidateNode() error {
	if c.Oracle.URL == "" {
		return fmt.Errorf("oracle.url is required")
	}
	if c.Crypto.PublicKeyPath == "" {
		return fmt.Errorf("crypto.public_key_path is required")
	}
	return nil
}

// ValidateOracle checks the settings the oracle needs on top of Validate.
func (c *Config) ValidateOracle() error {
	if c.Crypto.SecretKeyPath == "" {
		return fmt.Errorf("crypto.secret_key_path is required")
	}
	if c.Oracle.Secret == "" {
		return fmt.Errorf("oracle.secret is required")
	}
	if len(c.Oracle.Clients) == 0 {
		return fmt.Errorf("oracle.clients must list at least one fog id")
	}
	return nil
}

// Duration converts a seconds setting.
func Duration(sec int) time.Duration {
	return time.Duration(sec) * time.Second
}

// findConfigPath locates the config file.
func findConfigPath(env string) string {
	filename := fmt.Sprintf("%s.yaml", env)

	// 1. Check ./config/
	if path := filepath.Join("config", filename); fileExists(path) {
		return path
	}

	// 2. Check relative to the source file
	_, b, _, _ := runtime.Caller(0)
	projectRoot := filepath.Dir(filepath.Dir(filepath.Dir(b))) // internal/config -> project root
	if path := filepath.Join(projectRoot, "config", filename); fileExists(path) {
		return path
	}

	// 3. Fallback to ./config/
	return filepath.Join("config", filename)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// expandEnvVars replaces ${VAR} and ${VAR:-default} with environment variable values.
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

func expandEnvVars(data []byte) []byte {
	return envVarRegex.ReplaceAllFunc(data, func(match []byte) []byte {
		expr := string(match[2 : len(match)-1]) // strip ${ and }
		varName, defaultVal, hasDefault := strings.Cut(expr, ":-")
		val := os.Getenv(varName)
		if val == "" && hasDefault {
			val = defaultVal
		}
		return []byte(val)
	})
}
