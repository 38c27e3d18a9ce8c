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

// Config holds all the configuration variables for the ledger-service.
// These values are loaded from environment variables.
type Config struct {
	ServerPort                string `mapstructure:"SERVER_PORT"`
	DatabaseURL               string `mapstructure:"DATABASE_URL"`
	RedisURL                  string `mapstructure:"REDIS_URL"`
	RedisRateLimitPrefix      string `mapstructure:"REDIS_RATE_LIMIT_PREFIX"`
	RabbitMQURL               string `mapstructure:"RABBITMQ_URL"`
	JWKSURL                   string `mapstructure:"JWKS_URL"`
	RedeemRateLimitPerMinute  int    `mapstructure:"REDEEM_RATE_LIMIT_PER_MINUTE"`
	OfferListDefaultPageSize  int    `mapstructure:"OFFER_LIST_DEFAULT_PAGE_SIZE"`
	CouponListDefaultPageSize int    `mapstructure:"COUPON_LIST_DEFAULT_PAGE_SIZE"`
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
	viper.SetDefault("REDIS_RATE_LIMIT_PREFIX", "platefi:rate_limit")
	viper.SetDefault("REDEEM_RATE_LIMIT_PER_MINUTE", 60)
	viper.SetDefault("OFFER_LIST_DEFAULT_PAGE_SIZE", 50)
	viper.SetDefault("COUPON_LIST_DEFAULT_PAGE_SIZE", 50)

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("REDIS_URL", "REDIS_URL", "LEDGER_REDIS_URL")
	_ = viper.BindEnv("REDIS_RATE_LIMIT_PREFIX")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("JWKS_URL", "JWKS_URL", "AUTH_JWKS_URL")
	_ = viper.BindEnv("REDEEM_RATE_LIMIT_PER_MINUTE")
	_ = viper.BindEnv("OFFER_LIST_DEFAULT_PAGE_SIZE")
	_ = viper.BindEnv("COUPON_LIST_DEFAULT_PAGE_SIZE")

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

	// Platform-as-a-service runtimes inject PORT; it wins over SERVER_PORT.
	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		config.ServerPort = port
	}
	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.RedisRateLimitPrefix = strings.TrimSpace(config.RedisRateLimitPrefix)
	if config.RedisRateLimitPrefix == "" {
		config.RedisRateLimitPrefix = "platefi:rate_limit"
	}

	if config.RedeemRateLimitPerMinute <= 0 {
		config.RedeemRateLimitPerMinute = 60
	}
	if config.OfferListDefaultPageSize <= 0 {
		config.OfferListDefaultPageSize = 50
	}
	if config.CouponListDefaultPageSize <= 0 {
		config.CouponListDefaultPageSize = 50
	}

	return
}
