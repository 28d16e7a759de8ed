package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

type TLSConfig struct {
	Cert string `mapstructure:"cert"`
	Key  string `mapstructure:"key"`
}

type RoomConfig struct {
	CodeLength         int           `mapstructure:"code_length"`
	IdleTTL            time.Duration `mapstructure:"idle_ttl"`
	SweepInterval      time.Duration `mapstructure:"sweep_interval"`
	AllowHostReconnect bool          `mapstructure:"allow_host_reconnect"`
}

type LimitsConfig struct {
	CreatePerMinute int `mapstructure:"create_per_minute"`
}

type Config struct {
	Mode           string        `mapstructure:"mode"`
	Bind           string        `mapstructure:"bind"`
	Host           string        `mapstructure:"host"`
	AppConfigsPath string        `mapstructure:"app_configs_path"`
	ReadLimit      int64         `mapstructure:"read_limit"`
	PingPeriod     time.Duration `mapstructure:"ping_period"`
	SendBuffer     int           `mapstructure:"send_buffer"`
	Secret         string        `mapstructure:"secret"`
	TLS            TLSConfig     `mapstructure:"tls"`
	Room           RoomConfig    `mapstructure:"room"`
	Limits         LimitsConfig  `mapstructure:"limits"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)

	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetDefault("mode", "release")
	v.SetDefault("bind", ":8080")
	v.SetDefault("host", "localhost:8080")
	v.SetDefault("app_configs_path", "./app-configs")
	v.SetDefault("read_limit", 32768)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("send_buffer", 32)
	v.SetDefault("secret", "partyhub-dev-secret")
	v.SetDefault("room.code_length", 4)
	v.SetDefault("room.idle_ttl", "60s")
	v.SetDefault("room.sweep_interval", "15s")
	v.SetDefault("room.allow_host_reconnect", true)
	v.SetDefault("limits.create_per_minute", 10)

	if err := v.ReadInConfig(); err != nil {
		fmt.Printf("⚠️ Config file not found (%s), using defaults\n", fileName)
	} else {
		fmt.Printf("✅ Loaded config: %s\n", fileName)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
