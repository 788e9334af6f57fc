// Package config loads mailqueue settings from config.yaml and the
// environment.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/sungwon/mailqueue/internal/mail"
)

// Config holds all application configuration.
type Config struct {
	Database    DatabaseConfig    `mapstructure:"database"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	Queue       QueueConfig       `mapstructure:"queue"`
	Transport   TransportConfig   `mapstructure:"transport"`
	Suppression SuppressionConfig `mapstructure:"suppression"`
	Archive     ArchiveConfig     `mapstructure:"archive"`
	Mailer      MailerConfig      `mapstructure:"mailer"`
	Metrics     MetricsConfig     `mapstructure:"metrics"`
}

// DatabaseConfig holds PostgreSQL connection configuration.
type DatabaseConfig struct {
	URL            string        `mapstructure:"url"`
	PoolMin        int32         `mapstructure:"pool_min"`
	PoolMax        int32         `mapstructure:"pool_max"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level     string `mapstructure:"level"`
	Output    string `mapstructure:"output"`
	Format    string `mapstructure:"format"`
	FilePath  string `mapstructure:"file_path"`
	MaxSizeMB int    `mapstructure:"max_size_mb"`
	MaxFiles  int    `mapstructure:"max_files"`
}

// QueueConfig selects the queue backend and dispatch pacing.
type QueueConfig struct {
	Store           string        `mapstructure:"store"`
	Schema          string        `mapstructure:"schema"`
	DefaultPriority string        `mapstructure:"default_priority"`
	BatchSize       int           `mapstructure:"batch_size"`
	PollInterval    time.Duration `mapstructure:"poll_interval"`
}

// TransportConfig configures the outbound transport.
type TransportConfig struct {
	Type               string        `mapstructure:"type"`
	Host               string        `mapstructure:"host"`
	Port               int           `mapstructure:"port"`
	Username           string        `mapstructure:"username"`
	Password           string        `mapstructure:"password"`
	SSL                bool          `mapstructure:"ssl"`
	InsecureSkipVerify bool          `mapstructure:"insecure_skip_verify"`
	OutputDir          string        `mapstructure:"output_dir"`
	Timeout            time.Duration `mapstructure:"timeout"`
}

// SuppressionConfig selects where suppressed addresses live.
type SuppressionConfig struct {
	Backend       string `mapstructure:"backend"`
	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`
	RedisKey      string `mapstructure:"redis_key"`
}

// ArchiveConfig configures where purged log batches are written.
type ArchiveConfig struct {
	Type       string `mapstructure:"type"`
	Path       string `mapstructure:"path"`
	S3Bucket   string `mapstructure:"s3_bucket"`
	S3Prefix   string `mapstructure:"s3_prefix"`
	S3Endpoint string `mapstructure:"s3_endpoint"`
	S3Region   string `mapstructure:"s3_region"`
}

// MailerConfig holds producer defaults.
type MailerConfig struct {
	Immediate     bool     `mapstructure:"immediate"`
	ServerEmail   string   `mapstructure:"server_email"`
	SubjectPrefix string   `mapstructure:"subject_prefix"`
	Admins        []string `mapstructure:"admins"`
	Managers      []string `mapstructure:"managers"`
}

// MetricsConfig holds the ops listener address. Empty disables it.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// Load reads configuration from the given config directory path.
// It looks for a file named "config.yaml" in that directory.
// Environment variables with prefix MAILQUEUE_ override file values.
// For example, MAILQUEUE_DATABASE_URL overrides database.url.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)

	v.SetEnvPrefix("MAILQUEUE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return &cfg, nil
}

// setDefaults registers every key so AutomaticEnv can override keys the
// file leaves out.
func setDefaults(v *viper.Viper) {
	v.SetDefault("database.url", "")
	v.SetDefault("database.pool_min", 2)
	v.SetDefault("database.pool_max", 10)
	v.SetDefault("database.connect_timeout", 5*time.Second)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.output", "stdout")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.file_path", "")
	v.SetDefault("logging.max_size_mb", 100)
	v.SetDefault("logging.max_files", 5)

	v.SetDefault("queue.store", "postgres")
	v.SetDefault("queue.schema", "default")
	v.SetDefault("queue.default_priority", mail.DefaultPriority.String())
	v.SetDefault("queue.batch_size", 100)
	v.SetDefault("queue.poll_interval", 30*time.Second)

	v.SetDefault("transport.type", "stdout")
	v.SetDefault("transport.host", "")
	v.SetDefault("transport.port", 25)
	v.SetDefault("transport.username", "")
	v.SetDefault("transport.password", "")
	v.SetDefault("transport.ssl", false)
	v.SetDefault("transport.insecure_skip_verify", false)
	v.SetDefault("transport.output_dir", "")
	v.SetDefault("transport.timeout", 30*time.Second)

	v.SetDefault("suppression.backend", "postgres")
	v.SetDefault("suppression.redis_addr", "localhost:6379")
	v.SetDefault("suppression.redis_password", "")
	v.SetDefault("suppression.redis_db", 0)
	v.SetDefault("suppression.redis_key", "")

	v.SetDefault("archive.type", "local")
	v.SetDefault("archive.path", "./archive")
	v.SetDefault("archive.s3_bucket", "")
	v.SetDefault("archive.s3_prefix", "")
	v.SetDefault("archive.s3_endpoint", "")
	v.SetDefault("archive.s3_region", "")

	v.SetDefault("mailer.immediate", false)
	v.SetDefault("mailer.server_email", "root@localhost")
	v.SetDefault("mailer.subject_prefix", "[mailqueue] ")
	v.SetDefault("mailer.admins", []string{})
	v.SetDefault("mailer.managers", []string{})

	v.SetDefault("metrics.addr", "")
}

// Validate checks enumerated values and settings the binaries cannot run
// without.
func (c *Config) Validate() error {
	var errs []error

	if _, err := mail.ParsePriority(c.Queue.DefaultPriority); err != nil {
		errs = append(errs, fmt.Errorf("queue.default_priority: %w", err))
	}
	if p, _ := mail.ParsePriority(c.Queue.DefaultPriority); p.IsDeferred() {
		errs = append(errs, errors.New("queue.default_priority: deferred cannot be a default"))
	}
	if !oneOf(c.Queue.Store, "postgres", "memory") {
		errs = append(errs, fmt.Errorf("queue.store: unknown store %q", c.Queue.Store))
	}
	if c.Queue.Store == "postgres" && c.Database.URL == "" {
		errs = append(errs, errors.New("database.url: required for the postgres store"))
	}
	if c.Queue.PollInterval <= 0 {
		errs = append(errs, errors.New("queue.poll_interval: must be positive"))
	}
	if !oneOf(c.Transport.Type, "smtp", "stdout", "file") {
		errs = append(errs, fmt.Errorf("transport.type: unknown transport %q", c.Transport.Type))
	}
	if c.Transport.Timeout <= 0 {
		errs = append(errs, errors.New("transport.timeout: must be positive"))
	}
	if !oneOf(c.Suppression.Backend, "postgres", "redis", "memory") {
		errs = append(errs, fmt.Errorf("suppression.backend: unknown backend %q", c.Suppression.Backend))
	}
	if c.Suppression.Backend == "redis" && c.Suppression.RedisAddr == "" {
		errs = append(errs, errors.New("suppression.redis_addr: required for the redis backend"))
	}
	if !oneOf(c.Logging.Output, "stdout", "stderr", "file") {
		errs = append(errs, fmt.Errorf("logging.output: unknown output %q", c.Logging.Output))
	}

	return errors.Join(errs...)
}

// DefaultPriority returns the parsed queue.default_priority. Call Validate
// first; an invalid value yields mail.DefaultPriority.
func (c *Config) DefaultPriority() mail.Priority {
	p, err := mail.ParsePriority(c.Queue.DefaultPriority)
	if err != nil || p.IsDeferred() {
		return mail.DefaultPriority
	}
	return p
}

func oneOf(v string, allowed ...string) bool {
	for _, a := range allowed {
		if v == a {
			return true
		}
	}
	return false
}
