package config

import (
	"errors"
	"os"
)

// Config holds all server settings, loaded from environment variables.
type Config struct {
	Port           string
	RedisAddr      string // empty disables presence fan-out
	ExecAPIURL     string
	ExecClientID   string
	ExecClientKey  string
	AuthSecret     string // empty disables the websocket token gate
	FrontendOrigin string
}

func LoadConfig() (*Config, error) {
	config := &Config{
		Port:           getEnvOrDefault("PORT", "5000"),
		RedisAddr:      os.Getenv("REDIS_ADDR"),
		ExecAPIURL:     getEnvOrDefault("EXEC_API_URL", "https://api.jdoodle.com/v1/execute"),
		ExecClientID:   os.Getenv("EXEC_CLIENT_ID"),
		ExecClientKey:  os.Getenv("EXEC_CLIENT_SECRET"),
		AuthSecret:     os.Getenv("AUTH_SECRET"),
		FrontendOrigin: getEnvOrDefault("FRONTEND_ORIGIN", "*"),
	}
	if err := validateConfig(config); err != nil {
		return nil, err
	}
	return config, nil
}

func validateConfig(config *Config) error {
	if config.Port == "" {
		return errors.New("PORT must not be empty")
	}
	if config.ExecAPIURL == "" {
		return errors.New("EXEC_API_URL must not be empty")
	}
	return nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
