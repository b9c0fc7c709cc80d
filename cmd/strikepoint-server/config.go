package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sablesec/strikepoint/internal/api/http"
	"github.com/sablesec/strikepoint/internal/db"
	"github.com/spf13/viper"
)

type Config struct {
	Log        LogConfig
	Http       http.Config
	Db         db.Config
	Worker     WorkerConfig
	Collectors CollectorsConfig
}

// WorkerConfig points at the external scan worker service.
type WorkerConfig struct {
	Url    string `mapstructure:"url"`
	ApiKey string `mapstructure:"api_key"`
}

type CollectorsConfig struct {
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	TokenTTL          time.Duration `mapstructure:"token_ttl"`
	// StalenessSweepInterval <= 0 disables the background sweep; staleness is
	// still applied on every read.
	StalenessSweepInterval time.Duration `mapstructure:"staleness_sweep_interval"`
}

var config Config

func InitConfig() {
	var err error

	_ = godotenv.Load()

	viper.SetConfigName("application")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./cmd/strikepoint-server")
	viper.SetConfigType("yaml")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	_ = viper.BindEnv("db.url", "DATABASE_URL")
	_ = viper.BindEnv("http.jwt_secret", "JWT_SECRET")
	_ = viper.BindEnv("http.internal_api_key", "INTERNAL_API_KEY")
	_ = viper.BindEnv("worker.api_key", "WORKER_API_KEY")

	if err := viper.ReadInConfig(); err != nil {
		panic(err)
	}

	err = viper.Unmarshal(&config)
	if err != nil {
		panic(err)
	}

	initLogger(config.Log.Level)

	if strings.ToUpper(config.Log.Level) == LOG_LEVEL_DEBUG {
		configJSON, err := json.MarshalIndent(config, "", "  ")
		if err == nil {
			fmt.Println("Config loaded:")
			fmt.Println(string(configJSON))
		}
	}
}
