package config

import (
	"errors"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Sync     SyncConfig     `mapstructure:"sync"`
	Log      LogConfig      `mapstructure:"log"`
}

type ServerConfig struct {
	HTTPAddress       string        `mapstructure:"http_address"`
	RPCAddress        string        `mapstructure:"rpc_address"`
	HealthAddress     string        `mapstructure:"health_address"`
	MetricsAddress    string        `mapstructure:"metrics_address"`
	CORSAllowedOrigin string        `mapstructure:"cors_allowed_origin"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
}

type DatabaseConfig struct {
	Postgres PostgresConfig `mapstructure:"postgres"`
}

type PostgresConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

// SyncConfig tunes the change feed and the update registry.
type SyncConfig struct {
	RegistryCapacity     int           `mapstructure:"registry_capacity"`
	ListenerMinReconnect time.Duration `mapstructure:"listener_min_reconnect"`
	ListenerMaxReconnect time.Duration `mapstructure:"listener_max_reconnect"`
	ListenerMaxFailures  int           `mapstructure:"listener_max_failures"`
	ListenerPingInterval time.Duration `mapstructure:"listener_ping_interval"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.http_address", ":1313")
	v.SetDefault("server.rpc_address", ":1314")
	v.SetDefault("server.health_address", ":1315")
	v.SetDefault("server.metrics_address", ":9090")
	v.SetDefault("server.cors_allowed_origin", "http://localhost:5173")
	v.SetDefault("server.heartbeat_interval", "30s")

	v.SetDefault("database.postgres.host", "localhost")
	v.SetDefault("database.postgres.port", 5432)
	v.SetDefault("database.postgres.user", "postgres")
	v.SetDefault("database.postgres.password", "")
	v.SetDefault("database.postgres.dbname", "bingo")
	v.SetDefault("database.postgres.sslmode", "disable")

	v.SetDefault("sync.registry_capacity", 100000)
	v.SetDefault("sync.listener_min_reconnect", "10s")
	v.SetDefault("sync.listener_max_reconnect", "1m")
	v.SetDefault("sync.listener_max_failures", 10)
	v.SetDefault("sync.listener_ping_interval", "90s")

	v.SetDefault("log.level", "info")
}

// LoadConfig reads config.yaml from path, then applies environment overrides
// (DATABASE_POSTGRES_HOST and so on). A missing config file is not an error.
func LoadConfig(path string) (*Config, error) {
	// .env is optional
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	v.AddConfigPath(path)
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}
	return &config, nil
}
