package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Log    LogConfig
	Http   HttpConfig
	Scan   ScanConfig
	Server ServerConfig
}

type HttpConfig struct {
	Port   uint   `mapstructure:"port"`
	ApiKey string `mapstructure:"api_key"`
}

// ScanConfig bounds and locates the scanning tools.
type ScanConfig struct {
	MaxConcurrent int64  `mapstructure:"max_concurrent"`
	NmapBinary    string `mapstructure:"nmap_binary"`
	NucleiBinary  string `mapstructure:"nuclei_binary"`
	ReportDir     string `mapstructure:"report_dir"`
}

// ServerConfig points back at the central API for result callbacks.
type ServerConfig struct {
	Url    string `mapstructure:"url"`
	ApiKey string `mapstructure:"api_key"`
}

var config Config

func InitConfig() {
	var err error

	_ = godotenv.Load()

	viper.SetConfigName("application")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./cmd/strikepoint-scanworker")
	viper.SetConfigType("yaml")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	_ = viper.BindEnv("http.api_key", "WORKER_API_KEY")
	_ = viper.BindEnv("server.api_key", "INTERNAL_API_KEY")

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
