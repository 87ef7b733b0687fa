package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Tick     TickConfig     `mapstructure:"tick"`
	Log      LogConfig      `mapstructure:"log"`
	Database DatabaseConfig `mapstructure:"database"`
}

type ServerConfig struct {
	HTTPAddress       string        `mapstructure:"http_address"`
	RPCAddress        string        `mapstructure:"rpc_address"`
	ReadLimit         int64         `mapstructure:"read_limit"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	AllowedOrigins    []string      `mapstructure:"allowed_origins"`
}

type TickConfig struct {
	Interval time.Duration `mapstructure:"interval"`
}

type LogConfig struct {
	File  string `mapstructure:"file"`
	Level string `mapstructure:"level"`
}

type DatabaseConfig struct {
	// memory, gorm or postgres
	Driver       string         `mapstructure:"driver"`
	HistoryLimit int            `mapstructure:"history_limit"`
	Postgres     PostgresConfig `mapstructure:"postgres"`
}

type PostgresConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
}

// EnvPrefix is prepended to every environment override, e.g.
// JOYSYNC_SERVER_HTTP_ADDRESS.
const EnvPrefix = "JOYSYNC"

// Default returns the configuration used when no file or env override is set.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPAddress:       ":3001",
			ReadLimit:         64 * 1024,
			WriteTimeout:      2 * time.Second,
			HeartbeatInterval: 30 * time.Second,
		},
		Tick:     TickConfig{Interval: 16 * time.Millisecond},
		Log:      LogConfig{Level: "info"},
		Database: DatabaseConfig{Driver: "memory", HistoryLimit: 256},
	}
}

func setDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("server.http_address", d.Server.HTTPAddress)
	v.SetDefault("server.rpc_address", d.Server.RPCAddress)
	v.SetDefault("server.read_limit", d.Server.ReadLimit)
	v.SetDefault("server.write_timeout", d.Server.WriteTimeout)
	v.SetDefault("server.heartbeat_interval", d.Server.HeartbeatInterval)
	v.SetDefault("server.allowed_origins", []string{})
	v.SetDefault("tick.interval", d.Tick.Interval)
	v.SetDefault("log.file", d.Log.File)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("database.driver", d.Database.Driver)
	v.SetDefault("database.history_limit", d.Database.HistoryLimit)
	v.SetDefault("database.postgres.host", "localhost")
	v.SetDefault("database.postgres.port", 5432)
	v.SetDefault("database.postgres.user", "postgres")
	v.SetDefault("database.postgres.password", "")
	v.SetDefault("database.postgres.dbname", "joysync")
}

// LoadConfig reads config.yaml from path. A missing file is not an error;
// defaults and JOYSYNC_* environment variables still apply.
func LoadConfig(path string) (config *Config, err error) {
	v := viper.New()
	v.AddConfigPath(path)
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err = v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	err = v.Unmarshal(&config)
	if err != nil {
		return nil, err
	}
	if config.Tick.Interval <= 0 {
		config.Tick.Interval = Default().Tick.Interval
	}
	return config, nil
}
