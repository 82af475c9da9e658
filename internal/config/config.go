/**
 * @description
 * This package handles the configuration management for the service. It uses
 * the Viper library to read configuration from environment variables (with an
 * optional .env file for local development), providing a centralized and
 * straightforward way to manage application settings.
 *
 * @dependencies
 * - github.com/spf13/viper: A popular library for Go application configuration.
 */

package config

import (
	"log"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all the configuration variables for the portal-service.
// These values are loaded from environment variables.
type Config struct {
	ServerPort           string `mapstructure:"SERVER_PORT"`
	DatabaseURL          string `mapstructure:"DATABASE_URL"`
	RedisURL             string `mapstructure:"REDIS_URL"`
	SessionKeyPrefix     string `mapstructure:"SESSION_KEY_PREFIX"`
	SessionTTLMinutes    int    `mapstructure:"SESSION_TTL_MINUTES"`
	RabbitMQURL          string `mapstructure:"RABBITMQ_URL"`
	NotificationExchange string `mapstructure:"NOTIFICATION_EXCHANGE"`
	OtpExpiryMinutes     int    `mapstructure:"OTP_EXPIRY_MINUTES"`
	EmailTokenSecret     string `mapstructure:"EMAIL_TOKEN_SECRET"`
	EmailTokenTTLMinutes int    `mapstructure:"EMAIL_TOKEN_TTL_MINUTES"`
	VerifyEmailBaseURL   string `mapstructure:"VERIFY_EMAIL_BASE_URL"`
	CORSAllowedOrigins   string `mapstructure:"CORS_ALLOWED_ORIGINS"`
}

// LoadConfig reads configuration from environment variables from the given
// path. It uses Viper to automatically bind environment variables to the
// Config struct.
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
	viper.SetDefault("SESSION_KEY_PREFIX", "portal:session")
	viper.SetDefault("SESSION_TTL_MINUTES", 720)
	viper.SetDefault("NOTIFICATION_EXCHANGE", "portal.events")
	viper.SetDefault("OTP_EXPIRY_MINUTES", 5)
	viper.SetDefault("EMAIL_TOKEN_TTL_MINUTES", 60)
	viper.SetDefault("VERIFY_EMAIL_BASE_URL", "http://localhost:8080/auth/verify-email")
	viper.SetDefault("CORS_ALLOWED_ORIGINS", "*")

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("REDIS_URL")
	_ = viper.BindEnv("SESSION_KEY_PREFIX")
	_ = viper.BindEnv("SESSION_TTL_MINUTES")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("NOTIFICATION_EXCHANGE")
	_ = viper.BindEnv("OTP_EXPIRY_MINUTES")
	_ = viper.BindEnv("EMAIL_TOKEN_SECRET")
	_ = viper.BindEnv("EMAIL_TOKEN_TTL_MINUTES")
	_ = viper.BindEnv("VERIFY_EMAIL_BASE_URL")
	_ = viper.BindEnv("CORS_ALLOWED_ORIGINS")

	// Attempt to read the config file. It's okay if it doesn't exist.
	if err = viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Printf("level=warn component=config msg=\"failed to read config file; using environment values\" err=%v", err)
		}
		err = nil
	}

	// Unmarshal the configuration into the Config struct.
	if err = viper.Unmarshal(&config); err != nil {
		return
	}

	if config.OtpExpiryMinutes <= 0 {
		log.Printf("level=warn component=config msg=\"non-positive otp expiry configured; using default\" minutes=%d", config.OtpExpiryMinutes)
		config.OtpExpiryMinutes = 5
	}
	if config.SessionTTLMinutes <= 0 {
		config.SessionTTLMinutes = 720
	}
	if config.EmailTokenTTLMinutes <= 0 {
		config.EmailTokenTTLMinutes = 60
	}
	config.EmailTokenSecret = strings.TrimSpace(config.EmailTokenSecret)

	return
}
