package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/EternisAI/silo-relay/internal/api/http"
	"github.com/EternisAI/silo-relay/internal/auth"
	"github.com/EternisAI/silo-relay/internal/db"
	"github.com/EternisAI/silo-relay/internal/relay"
	"github.com/EternisAI/silo-relay/internal/snapshot"
	"github.com/EternisAI/silo-relay/internal/ws/server"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Log      LogConfig
	Http     http.Config
	Auth     auth.Config
	Accounts AccountsConfig
	Relay    relay.Config
	Ws       server.Config
	Snapshot snapshot.Config
	Db       db.Config
}

type AccountsConfig struct {
	Path string `mapstructure:"path"`
}

var config Config

func InitConfig() {
	var err error

	_ = godotenv.Load()

	viper.SetConfigName("application")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./cmd/silo-relay-server")
	viper.SetConfigType("yaml")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	_ = viper.BindEnv("auth.secret", "JWT_SECRET")
	_ = viper.BindEnv("db.url", "DATABASE_URL")
	_ = viper.BindEnv("http.admin_api_key", "ADMIN_API_KEY")
	_ = viper.BindEnv("http.port", "PORT")

	viper.SetDefault("http.port", 3000)
	viper.SetDefault("accounts.path", "accounts.txt")
	viper.SetDefault("snapshot.backend", "file")
	viper.SetDefault("snapshot.path", snapshot.DefaultPath)
	viper.SetDefault("snapshot.flush_interval", snapshot.DefaultFlushInterval)
	viper.SetDefault("db.schema", "relay")

	if err := viper.ReadInConfig(); err != nil {
		panic(err)
	}

	err = viper.Unmarshal(&config)
	if err != nil {
		panic(err)
	}

	initLogger(config.Log)

	if config.Auth.Secret == "" {
		panic(fmt.Errorf("auth.secret (JWT_SECRET) is required"))
	}

	// Pretty print config as JSON (only at DEBUG level)
	if strings.ToUpper(config.Log.Level) == LOG_LEVEL_DEBUG {
		redacted := config
		redacted.Auth.Secret = "***"
		redacted.Http.AdminAPIKey = "***"
		redacted.Db.Url = "***"
		configJSON, err := json.MarshalIndent(redacted, "", "  ")
		if err == nil {
			fmt.Println("Config loaded:")
			fmt.Println(string(configJSON))
		}
	}
}
