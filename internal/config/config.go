package config

import "time"

// Config holds server configuration values.
type Config struct {
	Addr              string        `mapstructure:"addr" yaml:"addr"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	DatabasePath      string        `mapstructure:"database_path" yaml:"database_path"`
	LogLevel          string        `mapstructure:"log_level" yaml:"log_level"`

	JWTSecret   string `mapstructure:"jwt_secret" yaml:"jwt_secret"`
	JWTIssuer   string `mapstructure:"jwt_issuer" yaml:"jwt_issuer"`
	JWTAudience string `mapstructure:"jwt_audience" yaml:"jwt_audience"`

	// LiveKit trust material for minting call credentials, and the
	// websocket URL clients connect their media to.
	LiveKitAPIKey    string        `mapstructure:"livekit_api_key" yaml:"livekit_api_key"`
	LiveKitAPISecret string        `mapstructure:"livekit_api_secret" yaml:"livekit_api_secret"`
	LiveKitURL       string        `mapstructure:"livekit_url" yaml:"livekit_url"`
	CallTokenTTL     time.Duration `mapstructure:"call_token_ttl" yaml:"call_token_ttl"`
}

// Default returns configuration with reasonable starter defaults.
func Default() Config {
	return Config{
		Addr:              ":8080",
		ReadHeaderTimeout: 5 * time.Second,
		ShutdownTimeout:   5 * time.Second,
		DatabasePath:      "carecall.db",
		LogLevel:          "info",
		JWTIssuer:         "carecall",
		JWTAudience:       "carecall-api",
		LiveKitURL:        "ws://localhost:7880",
		CallTokenTTL:      time.Hour,
	}
}

// UpdateFrom overwrites non-zero values from other config into receiver.
func (c *Config) UpdateFrom(other Config) {
	if other.Addr != "" {
		c.Addr = other.Addr
	}
	if other.ReadHeaderTimeout != 0 {
		c.ReadHeaderTimeout = other.ReadHeaderTimeout
	}
	if other.ShutdownTimeout != 0 {
		c.ShutdownTimeout = other.ShutdownTimeout
	}
	if other.DatabasePath != "" {
		c.DatabasePath = other.DatabasePath
	}
	if other.LogLevel != "" {
		c.LogLevel = other.LogLevel
	}
	if other.JWTSecret != "" {
		c.JWTSecret = other.JWTSecret
	}
	if other.JWTIssuer != "" {
		c.JWTIssuer = other.JWTIssuer
	}
	if other.JWTAudience != "" {
		c.JWTAudience = other.JWTAudience
	}
	if other.LiveKitAPIKey != "" {
		c.LiveKitAPIKey = other.LiveKitAPIKey
	}
	if other.LiveKitAPISecret != "" {
		c.LiveKitAPISecret = other.LiveKitAPISecret
	}
	if other.LiveKitURL != "" {
		c.LiveKitURL = other.LiveKitURL
	}
	if other.CallTokenTTL != 0 {
		c.CallTokenTTL = other.CallTokenTTL
	}
}
