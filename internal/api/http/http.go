package http

import "time"

type Config struct {
	Port        uint       `mapstructure:"port"`
	AdminAPIKey string     `mapstructure:"admin_api_key"`
	Cors        CorsConfig `mapstructure:"cors"`
}

type CorsConfig struct {
	AllowOrigins []string      `mapstructure:"allow_origins"`
	MaxAge       time.Duration `mapstructure:"max_age"`
}
