package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Log        LogConfig        `mapstructure:"log"`
	MQTT       MQTTConfig       `mapstructure:"mqtt"`
	Relay      RelayConfig      `mapstructure:"relay"`
	Tariff     TariffConfig     `mapstructure:"tariff"`
	Efficiency EfficiencyConfig `mapstructure:"efficiency"`
	Idle       IdleConfig       `mapstructure:"idle"`
	Forecast   ForecastConfig   `mapstructure:"forecast"`
	Journal    JournalConfig    `mapstructure:"journal"`
	Kafka      KafkaConfig      `mapstructure:"kafka"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
}

// ServerConfig holds server-specific configuration
type ServerConfig struct {
	Port         int    `mapstructure:"port"`
	Host         string `mapstructure:"host"`
	ReadTimeout  int    `mapstructure:"read_timeout"`
	WriteTimeout int    `mapstructure:"write_timeout"`
	IdleTimeout  int    `mapstructure:"idle_timeout"`
	Environment  string `mapstructure:"environment"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Production bool   `mapstructure:"production"`
}

// MQTTConfig holds the broker connection used for both telemetry ingestion and relay actuation
type MQTTConfig struct {
	BrokerURL      string        `mapstructure:"broker_url"`
	ClientID       string        `mapstructure:"client_id"`
	Username       string        `mapstructure:"username"`
	Password       string        `mapstructure:"password"`
	TopicPrefix    string        `mapstructure:"topic_prefix"`
	QoS            byte          `mapstructure:"qos"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
}

// RelayConfig holds the actuation output settings
type RelayConfig struct {
	Topic       string  `mapstructure:"topic"`
	Hysteresis  float64 `mapstructure:"hysteresis"`
	RestoreOnly bool    `mapstructure:"restore_only"`
}

// TariffConfig holds the billing constants
type TariffConfig struct {
	RatePerKWh    float64 `mapstructure:"rate_per_kwh"`
	FixedCharge   float64 `mapstructure:"fixed_charge"`
	FACRate       float64 `mapstructure:"fac_rate"`
	TaxRate       float64 `mapstructure:"tax_rate"`
	FlatTax       float64 `mapstructure:"flat_tax"`
	EnergyDivisor float64 `mapstructure:"energy_divisor"`
	Growth        float64 `mapstructure:"growth"`
}

// EfficiencyConfig holds the daily budget used by the efficiency score
type EfficiencyConfig struct {
	TargetKWh     float64 `mapstructure:"target_kwh"`
	EnergyDivisor float64 `mapstructure:"energy_divisor"`
}

// IdleConfig holds the load-state classifier settings
type IdleConfig struct {
	Channel         string        `mapstructure:"channel"`
	IdleThreshold   float64       `mapstructure:"idle_threshold"`
	ActiveThreshold float64       `mapstructure:"active_threshold"`
	Dwell           time.Duration `mapstructure:"dwell"`
	Tick            time.Duration `mapstructure:"tick"`
}

// ForecastConfig holds the forecast adapter and predictor settings
type ForecastConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	Channel     string        `mapstructure:"channel"`
	ModelURL    string        `mapstructure:"model_url"`
	ModelName   string        `mapstructure:"model_name"`
	InputLength int           `mapstructure:"input_length"`
	Horizon     int           `mapstructure:"horizon"`
	ChunkSize   int           `mapstructure:"chunk_size"`
	Step        time.Duration `mapstructure:"step"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// JournalConfig holds the in-memory relay command journal settings
type JournalConfig struct {
	MaxEvents int `mapstructure:"max_events"`
}

// KafkaConfig holds Kafka export configuration
type KafkaConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	Brokers        string `mapstructure:"brokers"`
	TelemetryTopic string `mapstructure:"telemetry_topic"`
	RelayTopic     string `mapstructure:"relay_topic"`
	SecurityEnable bool   `mapstructure:"security_enable"`
	SecurityUser   string `mapstructure:"security_user"`
	SecurityPass   string `mapstructure:"security_pass"`
}

// MetricsConfig holds Prometheus settings
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// LoadConfig loads the application configuration from file and environment variables
func LoadConfig(configPath string) (*Config, error) {
	var config Config

	// Set default configuration file path if not provided
	if configPath == "" {
		configPath = "./config"
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)

	v.SetEnvPrefix("POWERDASH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		// A missing file is fine, defaults and env vars still apply
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read configuration file: %w", err)
		}
	}

	v.AutomaticEnv()

	setDefaults(v)

	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := validateConfig(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

// setDefaults sets default values for the configuration
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.read_timeout", 15)  // seconds
	v.SetDefault("server.write_timeout", 15) // seconds
	v.SetDefault("server.idle_timeout", 60)  // seconds
	v.SetDefault("server.environment", "development")

	// Log defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.production", false)

	// MQTT defaults match the public broker the meter firmware publishes to
	v.SetDefault("mqtt.broker_url", "tcp://test.mosquitto.org:1883")
	v.SetDefault("mqtt.client_id", "powerdash")
	v.SetDefault("mqtt.topic_prefix", "power")
	v.SetDefault("mqtt.qos", 0)
	v.SetDefault("mqtt.connect_timeout", 10*time.Second)

	// Relay defaults
	v.SetDefault("relay.topic", "power/relay")
	v.SetDefault("relay.hysteresis", 0.9)
	v.SetDefault("relay.restore_only", false)

	// Tariff defaults
	v.SetDefault("tariff.rate_per_kwh", 6.75)
	v.SetDefault("tariff.fixed_charge", 50.0)
	v.SetDefault("tariff.fac_rate", 0.05)
	v.SetDefault("tariff.tax_rate", 0.09)
	v.SetDefault("tariff.flat_tax", 50.0)
	// The dashboard bills the raw energy register, so billing keeps divisor 1
	// while efficiency converts Wh to kWh.
	v.SetDefault("tariff.energy_divisor", 1.0)
	v.SetDefault("tariff.growth", 0.02)

	// Efficiency defaults (meter reports cumulative Wh)
	v.SetDefault("efficiency.target_kwh", 5.0)
	v.SetDefault("efficiency.energy_divisor", 1000.0)

	// Idle detection defaults
	v.SetDefault("idle.channel", "current")
	v.SetDefault("idle.idle_threshold", 0.2)
	v.SetDefault("idle.active_threshold", 0.3)
	v.SetDefault("idle.dwell", 5*time.Minute)
	v.SetDefault("idle.tick", 500*time.Millisecond)

	// Forecast defaults
	v.SetDefault("forecast.enabled", true)
	v.SetDefault("forecast.channel", "power")
	v.SetDefault("forecast.model_name", "forecast_model")
	v.SetDefault("forecast.input_length", 60)
	v.SetDefault("forecast.horizon", 100)
	v.SetDefault("forecast.chunk_size", 10)
	v.SetDefault("forecast.step", time.Second)
	v.SetDefault("forecast.timeout", 10*time.Second)

	// Journal defaults
	v.SetDefault("journal.max_events", 500)

	// Kafka defaults
	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", "kafka:9092")
	v.SetDefault("kafka.telemetry_topic", "power-telemetry")
	v.SetDefault("kafka.relay_topic", "power-relay-events")
	v.SetDefault("kafka.security_enable", false)

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
}

// validateConfig validates the configuration
func validateConfig(config *Config) error {
	if config.MQTT.BrokerURL == "" {
		return fmt.Errorf("mqtt broker url is required")
	}
	if config.Relay.Topic == "" {
		return fmt.Errorf("relay topic is required")
	}
	if config.Relay.Hysteresis <= 0 || config.Relay.Hysteresis >= 1 {
		return fmt.Errorf("relay hysteresis must be in (0, 1), got %v", config.Relay.Hysteresis)
	}
	if config.Idle.ActiveThreshold < config.Idle.IdleThreshold {
		return fmt.Errorf("idle active_threshold (%v) must not be below idle_threshold (%v)",
			config.Idle.ActiveThreshold, config.Idle.IdleThreshold)
	}
	if config.Idle.Tick <= 0 {
		return fmt.Errorf("idle tick must be positive")
	}
	if config.Forecast.Enabled {
		if config.Forecast.InputLength <= 0 || config.Forecast.Horizon <= 0 || config.Forecast.ChunkSize <= 0 {
			return fmt.Errorf("forecast input_length, horizon and chunk_size must be positive")
		}
	}
	if config.Kafka.Enabled && config.Kafka.Brokers == "" {
		return fmt.Errorf("kafka brokers are required when kafka export is enabled")
	}
	if config.Tariff.EnergyDivisor <= 0 || config.Efficiency.EnergyDivisor <= 0 {
		return fmt.Errorf("energy divisors must be positive")
	}

	return nil
}

// Address returns the listen address of the HTTP server
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// IsProduction returns true if the environment is production
func (c *ServerConfig) IsProduction() bool {
	return c.Environment == "production"
}

// IsDevelopment returns true if the environment is development
func (c *ServerConfig) IsDevelopment() bool {
	return c.Environment == "development"
}

// IsTest returns true if the environment is test
func (c *ServerConfig) IsTest() bool {
	return c.Environment == "test"
}
