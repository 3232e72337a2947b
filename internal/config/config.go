package config

import (
	"fmt"
	"os"
	"strconv"
)

// Config holds all application configuration
type Config struct {
	ServiceName string
	Database    DatabaseConfig
	MQTT        MQTTConfig
	HTTP        HTTPConfig
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	URL string
}

// MQTTConfig holds MQTT broker connection and subscription settings
type MQTTConfig struct {
	BrokerURL             string
	Username              string
	Password              string
	ClientIDPrefix        string
	DataTopic             string
	QoS                   int
	ReconnectDelaySeconds int
}

// HTTPConfig holds the query/dashboard server settings
type HTTPConfig struct {
	Port      int
	StaticDir string
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		ServiceName: getEnv("SERVICE_NAME", "iot-device-hub"),
		Database: DatabaseConfig{
			URL: getEnv("DATABASE_URL", ""),
		},
		MQTT: MQTTConfig{
			BrokerURL:             getEnv("MQTT_BROKER_URL", "tcp://localhost:1883"),
			Username:              getEnv("MQTT_USERNAME", ""),
			Password:              getEnv("MQTT_PASSWORD", ""),
			ClientIDPrefix:        getEnv("MQTT_CLIENT_ID_PREFIX", "iot-device-hub"),
			DataTopic:             getEnv("MQTT_DATA_TOPIC", "devices/+/data"),
			QoS:                   getEnvAsInt("MQTT_QOS", 1),
			ReconnectDelaySeconds: getEnvAsInt("MQTT_RECONNECT_DELAY_SECONDS", 5),
		},
		HTTP: HTTPConfig{
			Port:      getEnvAsInt("HTTP_PORT", 3000),
			StaticDir: getEnv("STATIC_DIR", "public"),
		},
	}

	// Validate required fields
	if cfg.Database.URL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required but not set in environment variables")
	}
	if cfg.MQTT.QoS < 0 || cfg.MQTT.QoS > 2 {
		return nil, fmt.Errorf("MQTT_QOS must be 0, 1 or 2, got %d", cfg.MQTT.QoS)
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
