/**
 * @description
 * This package handles the configuration management for the service. It uses the
 * Viper library to read configuration from environment variables, providing a
 * centralized and straightforward way to manage application settings.
 *
 * @dependencies
 * - github.com/spf13/viper: A popular library for Go application configuration.
 */

package config

import (
	"log"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all the configuration variables for the service.
// These values are loaded from environment variables.
type Config struct {
	ServerPort                 string `mapstructure:"SERVER_PORT"`
	DatabaseURL                string `mapstructure:"DATABASE_URL"`
	RedisURL                   string `mapstructure:"REDIS_URL"`
	RedisRateLimitPrefix       string `mapstructure:"REDIS_RATE_LIMIT_PREFIX"`
	RabbitMQURL                string `mapstructure:"RABBITMQ_URL"`
	AuthJWKSURL                string `mapstructure:"AUTH_JWKS_URL"`
	InternalAPIKey             string `mapstructure:"INTERNAL_API_KEY"`
	ProviderGraceWindowMinutes int    `mapstructure:"PROVIDER_GRACE_WINDOW_MINUTES"`
	ActivationTTLMinutes       int    `mapstructure:"ACTIVATION_TTL_MINUTES"`
	RentalDefaultMinutes       int    `mapstructure:"RENTAL_DEFAULT_MINUTES"`
	SettlePollIntervalSeconds  int    `mapstructure:"SETTLE_POLL_INTERVAL_SECONDS"`
	SettlePollBatchSize        int    `mapstructure:"SETTLE_POLL_BATCH_SIZE"`
	SettleRetryAttempts        int    `mapstructure:"SETTLE_RETRY_ATTEMPTS"`
	SettleRetryBackoffMs       int    `mapstructure:"SETTLE_RETRY_BACKOFF_MS"`
	ReconcileIntervalMinutes   int    `mapstructure:"RECONCILE_INTERVAL_MINUTES"`
	PurchaseRateLimitPerMinute int    `mapstructure:"PURCHASE_RATE_LIMIT_PER_MINUTE"`
	ProviderPriority           string `mapstructure:"PROVIDER_PRIORITY"`
	SMSActivateBaseURL         string `mapstructure:"SMSACTIVATE_BASE_URL"`
	SMSActivateAPIKey          string `mapstructure:"SMSACTIVATE_API_KEY"`
	SMSHubBaseURL              string `mapstructure:"SMSHUB_BASE_URL"`
	SMSHubAPIKey               string `mapstructure:"SMSHUB_API_KEY"`
	FiveSimBaseURL             string `mapstructure:"FIVESIM_BASE_URL"`
	FiveSimAPIKey              string `mapstructure:"FIVESIM_API_KEY"`
	OnlineSimBaseURL           string `mapstructure:"ONLINESIM_BASE_URL"`
	OnlineSimAPIKey            string `mapstructure:"ONLINESIM_API_KEY"`
}

// ProviderPriorityList splits the comma-separated priority string.
func (c Config) ProviderPriorityList() []string {
	var names []string
	for _, part := range strings.Split(c.ProviderPriority, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			names = append(names, trimmed)
		}
	}
	return names
}

// LoadConfig reads configuration from environment variables from the given path.
// It uses Viper to automatically bind environment variables to the Config struct.
func LoadConfig(path string) (config Config, err error) {
	// Tell viper the path to look for the optional .env file.
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	// Enable automatic binding of environment variables.
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Set default values
	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("REDIS_RATE_LIMIT_PREFIX", "onesms:rate_limit")
	viper.SetDefault("PROVIDER_GRACE_WINDOW_MINUTES", 3)
	viper.SetDefault("ACTIVATION_TTL_MINUTES", 20)
	viper.SetDefault("RENTAL_DEFAULT_MINUTES", 240)
	viper.SetDefault("SETTLE_POLL_INTERVAL_SECONDS", 15)
	viper.SetDefault("SETTLE_POLL_BATCH_SIZE", 100)
	viper.SetDefault("SETTLE_RETRY_ATTEMPTS", 3)
	viper.SetDefault("SETTLE_RETRY_BACKOFF_MS", 150)
	viper.SetDefault("RECONCILE_INTERVAL_MINUTES", 10)
	viper.SetDefault("PURCHASE_RATE_LIMIT_PER_MINUTE", 20)
	viper.SetDefault("PROVIDER_PRIORITY", "smsactivate,smshub,fivesim,onlinesim")
	viper.SetDefault("SMSACTIVATE_BASE_URL", "https://api.sms-activate.org")
	viper.SetDefault("SMSHUB_BASE_URL", "https://smshub.org")
	viper.SetDefault("FIVESIM_BASE_URL", "https://5sim.net")
	viper.SetDefault("ONLINESIM_BASE_URL", "https://onlinesim.io/api")

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("REDIS_URL")
	_ = viper.BindEnv("REDIS_RATE_LIMIT_PREFIX")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("AUTH_JWKS_URL")
	_ = viper.BindEnv("INTERNAL_API_KEY")
	_ = viper.BindEnv("PROVIDER_GRACE_WINDOW_MINUTES")
	_ = viper.BindEnv("ACTIVATION_TTL_MINUTES")
	_ = viper.BindEnv("RENTAL_DEFAULT_MINUTES")
	_ = viper.BindEnv("SETTLE_POLL_INTERVAL_SECONDS")
	_ = viper.BindEnv("SETTLE_POLL_BATCH_SIZE")
	_ = viper.BindEnv("SETTLE_RETRY_ATTEMPTS")
	_ = viper.BindEnv("SETTLE_RETRY_BACKOFF_MS")
	_ = viper.BindEnv("RECONCILE_INTERVAL_MINUTES")
	_ = viper.BindEnv("PURCHASE_RATE_LIMIT_PER_MINUTE")
	_ = viper.BindEnv("PROVIDER_PRIORITY")
	_ = viper.BindEnv("SMSACTIVATE_BASE_URL")
	_ = viper.BindEnv("SMSACTIVATE_API_KEY")
	_ = viper.BindEnv("SMSHUB_BASE_URL")
	_ = viper.BindEnv("SMSHUB_API_KEY")
	_ = viper.BindEnv("FIVESIM_BASE_URL")
	_ = viper.BindEnv("FIVESIM_API_KEY")
	_ = viper.BindEnv("ONLINESIM_BASE_URL")
	_ = viper.BindEnv("ONLINESIM_API_KEY")

	// Attempt to read the config file. It's okay if it doesn't exist.
	if err = viper.ReadInConfig(); err != nil {
		// If the config file is not found, we can ignore the error.
		// For other errors, we should return them.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Printf("level=warn component=config msg=\"failed to read config file; using environment values\" err=%v", err)
		}
	}

	// Unmarshal the configuration into the Config struct.
	err = viper.Unmarshal(&config)
	if err != nil {
		return
	}

	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		config.ServerPort = port
	}
	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.RedisRateLimitPrefix = strings.TrimSpace(config.RedisRateLimitPrefix)
	if config.RedisRateLimitPrefix == "" {
		config.RedisRateLimitPrefix = "onesms:rate_limit"
	}

	if config.ProviderGraceWindowMinutes <= 0 {
		config.ProviderGraceWindowMinutes = 3
	}
	if config.ActivationTTLMinutes <= 0 {
		config.ActivationTTLMinutes = 20
	}
	if config.RentalDefaultMinutes <= 0 {
		config.RentalDefaultMinutes = 240
	}
	if config.SettlePollIntervalSeconds <= 0 {
		config.SettlePollIntervalSeconds = 15
	}
	if config.SettlePollBatchSize <= 0 {
		config.SettlePollBatchSize = 100
	}
	if config.SettleRetryAttempts <= 0 {
		config.SettleRetryAttempts = 3
	}
	if config.SettleRetryBackoffMs <= 0 {
		config.SettleRetryBackoffMs = 150
	}
	if config.ReconcileIntervalMinutes <= 0 {
		config.ReconcileIntervalMinutes = 10
	}
	if config.PurchaseRateLimitPerMinute <= 0 {
		config.PurchaseRateLimitPerMinute = 20
	}
	if strings.TrimSpace(config.ProviderPriority) == "" {
		config.ProviderPriority = "smsactivate,smshub,fivesim,onlinesim"
	}

	return
}
