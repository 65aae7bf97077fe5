package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"meshbridge/internal/constants"
)

func Load(configFile string) (*Config, error) {
	viper.Reset()

	viper.SetConfigType("yaml")
	viper.SetConfigFile(configFile)

	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	bindEnvVariables()
	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	if err := ValidateStatic(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

func setDefaults() {
	viper.SetDefault("bridge.message_tracking.max_age_minutes", constants.DefaultMaxAgeMinutes)
	viper.SetDefault("bridge.message_tracking.max_messages", constants.DefaultMaxMessages)
	viper.SetDefault("database.retention_days", constants.DefaultRetentionDays)
	viper.SetDefault("database.run_migrations", true)
	viper.SetDefault("bus.kafka.messages_topic", constants.DefaultMessagesTopic)
	viper.SetDefault("bus.kafka.commands_topic", constants.DefaultCommandsTopic)
	viper.SetDefault("bus.kafka.stats_topic", constants.DefaultStatsTopic)
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("events.buffer_size", constants.DefaultEventBufferSize)
}

func bindEnvVariables() {
	viper.BindEnv("bus.kafka.brokers", "BUS_KAFKA_BROKERS")
	viper.BindEnv("bus.kafka.group_id", "BUS_KAFKA_GROUP_ID")
	viper.BindEnv("bus.kafka.messages_topic", "BUS_KAFKA_MESSAGES_TOPIC")
	viper.BindEnv("bus.kafka.commands_topic", "BUS_KAFKA_COMMANDS_TOPIC")
	viper.BindEnv("bus.kafka.stats_topic", "BUS_KAFKA_STATS_TOPIC")

	viper.BindEnv("database.postgres.host", "DATABASE_POSTGRES_HOST")
	viper.BindEnv("database.postgres.port", "DATABASE_POSTGRES_PORT")
	viper.BindEnv("database.postgres.user", "DATABASE_POSTGRES_USER")
	viper.BindEnv("database.postgres.password", "DATABASE_POSTGRES_PASSWORD")
	viper.BindEnv("database.postgres.dbname", "DATABASE_POSTGRES_DBNAME")
	viper.BindEnv("database.postgres.sslmode", "DATABASE_POSTGRES_SSLMODE")

	viper.BindEnv("server.port", "SERVER_PORT")
	viper.BindEnv("server.read_timeout_seconds", "SERVER_READ_TIMEOUT_SECONDS")
	viper.BindEnv("server.write_timeout_seconds", "SERVER_WRITE_TIMEOUT_SECONDS")

	viper.BindEnv("logging.level", "LOGGING_LEVEL")
	viper.BindEnv("logging.format", "LOGGING_FORMAT")
}

func applyEnvOverrides(cfg *Config) error {
	if brokersEnv := viper.GetString("BUS_KAFKA_BROKERS"); brokersEnv != "" {
		brokers := strings.Split(brokersEnv, ",")
		for i := range brokers {
			brokers[i] = strings.TrimSpace(brokers[i])
		}
		if len(brokers) > 0 && brokers[0] != "" {
			cfg.Bus.Kafka.Brokers = brokers
		}
	}

	return nil
}
