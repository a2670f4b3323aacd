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
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all the configuration variables for the ledger service.
// These values are loaded from environment variables.
type Config struct {
	ServerPort                   string `mapstructure:"SERVER_PORT"`
	DatabaseURL                  string `mapstructure:"DATABASE_URL"`
	RedisURL                     string `mapstructure:"REDIS_URL"`
	RedisRateLimitPrefix         string `mapstructure:"REDIS_RATE_LIMIT_PREFIX"`
	RabbitMQURL                  string `mapstructure:"RABBITMQ_URL"`
	LedgerEventQueue             string `mapstructure:"LEDGER_EVENT_QUEUE"`
	StripeAPIBaseURL             string `mapstructure:"STRIPE_API_BASE_URL"`
	StripeSecretKey              string `mapstructure:"STRIPE_SECRET_KEY"`
	StripeWebhookSecret          string `mapstructure:"STRIPE_WEBHOOK_SECRET"`
	JWTSecret                    string `mapstructure:"JWT_SECRET"`
	RegistrationFeePence         int64  `mapstructure:"REGISTRATION_FEE_PENCE"`
	WithdrawalRateLimitPerMinute int    `mapstructure:"WITHDRAWAL_RATE_LIMIT_PER_MINUTE"`
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
	viper.SetDefault("LEDGER_EVENT_QUEUE", "ledger_service.events")
	viper.SetDefault("STRIPE_API_BASE_URL", "https://api.stripe.com")
	viper.SetDefault("REDIS_RATE_LIMIT_PREFIX", "refpay:rate_limit")
	viper.SetDefault("REGISTRATION_FEE_PENCE", 5000)
	viper.SetDefault("WITHDRAWAL_RATE_LIMIT_PER_MINUTE", 5)

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("REDIS_URL", "REDIS_URL", "LEDGER_REDIS_URL")
	_ = viper.BindEnv("REDIS_RATE_LIMIT_PREFIX")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("LEDGER_EVENT_QUEUE")
	_ = viper.BindEnv("STRIPE_API_BASE_URL")
	_ = viper.BindEnv("STRIPE_SECRET_KEY")
	_ = viper.BindEnv("STRIPE_WEBHOOK_SECRET")
	_ = viper.BindEnv("JWT_SECRET")
	_ = viper.BindEnv("REGISTRATION_FEE_PENCE")
	_ = viper.BindEnv("REGISTRATION_FEE")
	_ = viper.BindEnv("WITHDRAWAL_RATE_LIMIT_PER_MINUTE")

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
		config.RedisRateLimitPrefix = "refpay:rate_limit"
	}

	// Allow specifying the fee in whole currency units via REGISTRATION_FEE.
	if viper.IsSet("REGISTRATION_FEE") {
		feeStr := strings.TrimSpace(viper.GetString("REGISTRATION_FEE"))
		if feeStr != "" {
			feeValue, parseErr := strconv.ParseFloat(feeStr, 64)
			if parseErr != nil {
				log.Printf("level=warn component=config msg=\"invalid REGISTRATION_FEE\" value=%q err=%v", feeStr, parseErr)
			} else {
				config.RegistrationFeePence = int64(math.Round(feeValue * 100))
			}
		}
	}

	if config.RegistrationFeePence <= 0 {
		log.Printf("level=warn component=config msg=\"non-positive registration fee configured; using default\" fee_pence=%d", config.RegistrationFeePence)
		config.RegistrationFeePence = 5000
	}

	if config.WithdrawalRateLimitPerMinute <= 0 {
		config.WithdrawalRateLimitPerMinute = 5
	}

	return
}
