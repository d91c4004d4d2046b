package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// ProviderConfig holds the SMS provider's HTTP API settings, shared by every
// configured instance.
type ProviderConfig struct {
	APIURL string `mapstructure:"api_url"`
	APIKey string `mapstructure:"api_key"`
}

// InstanceConfig is the raw per-instance configuration block
// (instances.<name>.* in yaml). Pointer fields distinguish "not set" from an
// explicit zero: max_retries 0 and cached_result_timeout_seconds 0 are both
// meaningful values.
type InstanceConfig struct {
	SenderNumber               string `mapstructure:"sender_number"`
	MaxConcurrency             int    `mapstructure:"max_concurrency"`
	MaxRetries                 *int   `mapstructure:"max_retries"`
	Tag                        string `mapstructure:"tag"`
	CachedResultTimeoutSeconds *int   `mapstructure:"cached_result_timeout_seconds"`
	TestSending                bool   `mapstructure:"test_sending"`
	TestPhoneNumber            string `mapstructure:"test_phone_number"`
}

// Config is the whole gateway configuration.
type Config struct {
	ServerPort    int                       `mapstructure:"server_port"`
	LogLevel      string                    `mapstructure:"log_level"`
	APIAuthSecret string                    `mapstructure:"api_auth_secret"` // empty disables API auth
	PostgresDSN   string                    `mapstructure:"postgres_dsn"`    // empty disables the message audit log
	NATSURL       string                    `mapstructure:"nats_url"`        // empty disables send-report events
	Provider      ProviderConfig            `mapstructure:"provider"`
	Instances     map[string]InstanceConfig `mapstructure:"instances"`
}

// Load reads config.yaml from path (optional, env-only deployments are fine)
// plus the TEXTGATE_* environment.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if path != "" {
		v.AddConfigPath(path)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")

	v.AutomaticEnv()
	v.SetEnvPrefix("TEXTGATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))

	v.SetDefault("server_port", 8080)
	v.SetDefault("log_level", "info")
	v.SetDefault("provider.api_url", "")
	v.SetDefault("provider.api_key", "")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if cfg.Provider.APIURL == "" {
		return nil, errors.New("provider.api_url must be configured")
	}
	if len(cfg.Instances) == 0 {
		// A bare deployment still gets a "default" instance so sends and
		// health checks have somewhere to land.
		cfg.Instances = map[string]InstanceConfig{"default": {}}
	}
	return &cfg, nil
}
