package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Scheduler    SchedulerConfig    `mapstructure:"scheduler"`
	Queue        QueueConfig        `mapstructure:"queue"`
	Distribution DistributionConfig `mapstructure:"distribution"`
	Gmail        GmailConfig        `mapstructure:"gmail"`
	Events       EventsConfig       `mapstructure:"events"`
	Log          LogConfig          `mapstructure:"log"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port         string        `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// DatabaseConfig holds database connection configuration
type DatabaseConfig struct {
	Driver   string `mapstructure:"driver"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`

	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	SlowThreshold   time.Duration `mapstructure:"slow_threshold"`
}

// SchedulerConfig holds the cron expressions of the periodic triggers.
// Expressions use the six-field form with seconds.
type SchedulerConfig struct {
	Enabled           bool   `mapstructure:"enabled"`
	QueueCron         string `mapstructure:"queue_cron"`
	DistributionCron  string `mapstructure:"distribution_cron"`
	HourlyCron        string `mapstructure:"hourly_cron"`
	DailyCron         string `mapstructure:"daily_cron"`
	QueueLimit        int    `mapstructure:"queue_limit"`
	DistributionLimit int    `mapstructure:"distribution_limit"`
	PurgeDays         int    `mapstructure:"purge_days"`
}

// QueueConfig controls the dispatcher worker pool
type QueueConfig struct {
	Workers      int           `mapstructure:"workers"`
	MaxPerSecond float64       `mapstructure:"max_per_second"`
	Burst        int           `mapstructure:"burst"`
	SendTimeout  time.Duration `mapstructure:"send_timeout"`
	ExpireAfter  time.Duration `mapstructure:"expire_after"`
}

// DistributionConfig holds load balancing defaults
type DistributionConfig struct {
	DefaultSelectionPolicy string `mapstructure:"default_selection_policy"`
}

// GmailConfig holds the OAuth client used by gmail_api accounts
type GmailConfig struct {
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
}

// EventsConfig configures the delivery event publisher
type EventsConfig struct {
	AMQPURL string `mapstructure:"amqp_url"`
	Queue   string `mapstructure:"queue"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level string `mapstructure:"level"`
}

// LoadConfig loads configuration from environment variables and config file
func LoadConfig() (*Config, error) {
	// .env is optional; values already present in the environment win
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("error loading .env file: %w", err)
	}

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	// Environment variables override config file
	viper.AutomaticEnv()
	bindEnvVars()

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults() {
	viper.SetDefault("server.port", "8080")
	viper.SetDefault("server.read_timeout", "30s")
	viper.SetDefault("server.write_timeout", "30s")

	viper.SetDefault("database.driver", "mysql")
	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 3306)
	viper.SetDefault("database.sslmode", "disable")
	viper.SetDefault("database.max_open_conns", 100)
	viper.SetDefault("database.max_idle_conns", 10)
	viper.SetDefault("database.conn_max_lifetime", "1h")
	viper.SetDefault("database.slow_threshold", "1s")

	viper.SetDefault("scheduler.enabled", true)
	viper.SetDefault("scheduler.queue_cron", "*/30 * * * * *")
	viper.SetDefault("scheduler.distribution_cron", "0 */15 * * * *")
	viper.SetDefault("scheduler.hourly_cron", "0 0 * * * *")
	viper.SetDefault("scheduler.daily_cron", "0 0 0 * * *")
	viper.SetDefault("scheduler.queue_limit", 100)
	viper.SetDefault("scheduler.distribution_limit", 100)
	viper.SetDefault("scheduler.purge_days", 30)

	viper.SetDefault("queue.workers", 4)
	viper.SetDefault("queue.max_per_second", 5)
	viper.SetDefault("queue.burst", 5)
	viper.SetDefault("queue.send_timeout", "60s")
	viper.SetDefault("queue.expire_after", "0s")

	viper.SetDefault("distribution.default_selection_policy", "weighted_usage")

	viper.SetDefault("events.queue", "outreach_events")

	viper.SetDefault("log.level", "info")
}

// bindEnvVars binds environment variables to configuration keys
func bindEnvVars() {
	// Server
	viper.BindEnv("server.port", "SERVER_PORT")
	viper.BindEnv("server.read_timeout", "SERVER_READ_TIMEOUT")
	viper.BindEnv("server.write_timeout", "SERVER_WRITE_TIMEOUT")

	// Database
	viper.BindEnv("database.driver", "DB_DRIVER")
	viper.BindEnv("database.host", "DB_HOST")
	viper.BindEnv("database.port", "DB_PORT")
	viper.BindEnv("database.user", "DB_USER")
	viper.BindEnv("database.password", "DB_PASSWORD")
	viper.BindEnv("database.dbname", "DB_NAME")
	viper.BindEnv("database.sslmode", "DB_SSLMODE")
	viper.BindEnv("database.max_open_conns", "DB_MAX_OPEN_CONNS")
	viper.BindEnv("database.max_idle_conns", "DB_MAX_IDLE_CONNS")

	// Scheduler
	viper.BindEnv("scheduler.enabled", "SCHEDULER_ENABLED")
	viper.BindEnv("scheduler.queue_cron", "SCHEDULER_QUEUE_CRON")
	viper.BindEnv("scheduler.distribution_cron", "SCHEDULER_DISTRIBUTION_CRON")
	viper.BindEnv("scheduler.queue_limit", "SCHEDULER_QUEUE_LIMIT")
	viper.BindEnv("scheduler.distribution_limit", "SCHEDULER_DISTRIBUTION_LIMIT")
	viper.BindEnv("scheduler.purge_days", "SCHEDULER_PURGE_DAYS")

	// Queue
	viper.BindEnv("queue.workers", "QUEUE_WORKERS")
	viper.BindEnv("queue.max_per_second", "QUEUE_MAX_PER_SECOND")
	viper.BindEnv("queue.send_timeout", "QUEUE_SEND_TIMEOUT")
	viper.BindEnv("queue.expire_after", "QUEUE_EXPIRE_AFTER")

	// Gmail
	viper.BindEnv("gmail.client_id", "GMAIL_CLIENT_ID")
	viper.BindEnv("gmail.client_secret", "GMAIL_CLIENT_SECRET")

	// Events
	viper.BindEnv("events.amqp_url", "EVENTS_AMQP_URL")

	viper.BindEnv("log.level", "LOG_LEVEL")
}

// GetDSN returns the database connection string for the configured driver
func (c *DatabaseConfig) GetDSN() string {
	if c.Driver == "postgres" {
		return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
	}
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		c.User, c.Password, c.Host, c.Port, c.DBName)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}

	switch c.Database.Driver {
	case "mysql", "postgres":
		if c.Database.Host == "" || c.Database.User == "" || c.Database.DBName == "" {
			return fmt.Errorf("database host, user, and dbname are required")
		}
	case "memory":
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}

	if c.Scheduler.QueueLimit <= 0 || c.Scheduler.DistributionLimit <= 0 {
		return fmt.Errorf("scheduler limits must be greater than 0")
	}
	if c.Scheduler.PurgeDays <= 0 {
		return fmt.Errorf("scheduler purge_days must be greater than 0")
	}

	if c.Queue.Workers <= 0 {
		return fmt.Errorf("queue workers must be greater than 0")
	}
	if c.Queue.MaxPerSecond <= 0 || c.Queue.Burst <= 0 {
		return fmt.Errorf("queue rate must be greater than 0")
	}

	switch c.Distribution.DefaultSelectionPolicy {
	case "random", "least_recently_used", "weighted_usage":
	default:
		return fmt.Errorf("unknown selection policy %q", c.Distribution.DefaultSelectionPolicy)
	}

	return nil
}
