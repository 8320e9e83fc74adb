// Package config centralizes the relay's environment-variable configuration.
package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds every tunable the relay reads from the environment. Fields
// group roughly by the subsystem that consumes them.
type Config struct {
	BindAddress string
	RTMPPort    int
	SSLPort     int
	SSLCert     string
	SSLKey      string

	ExternalIP   string
	ExternalPort string
	ExternalSSL  bool

	RTMPChunkSize int

	MaxIPConcurrentConnections uint32
	ConcurrentLimitWhitelist   string
	PlayWhitelist              string

	GopCacheSizeMB int64

	StreamIDMaxLength int

	LogRequests bool
	LogDebug    bool

	JWTSecret        string
	CustomJWTSubject string
	CallbackURL      string

	ControlBaseURL string
	ControlSecret  string

	OriginPullBaseURL string

	RedisUse      bool
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisChannel  string
	RedisTLS      bool
}

// Load reads a .env file (if present) into the process environment and then
// builds a Config from os.Getenv, applying the same defaults as the
// environment-var reads scattered through the original single-process server.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		BindAddress: os.Getenv("BIND_ADDRESS"),
		RTMPPort:    envInt("RTMP_PORT", 1935),
		SSLPort:     envInt("SSL_PORT", 443),
		SSLCert:     os.Getenv("SSL_CERT"),
		SSLKey:      os.Getenv("SSL_KEY"),

		ExternalIP:   os.Getenv("EXTERNAL_IP"),
		ExternalPort: os.Getenv("EXTERNAL_PORT"),
		ExternalSSL:  os.Getenv("EXTERNAL_SSL") == "YES",

		RTMPChunkSize: envInt("RTMP_CHUNK_SIZE", 128),

		MaxIPConcurrentConnections: uint32(envInt("MAX_IP_CONCURRENT_CONNECTIONS", 4)),
		ConcurrentLimitWhitelist:   os.Getenv("CONCURRENT_LIMIT_WHITELIST"),
		PlayWhitelist:              os.Getenv("RTMP_PLAY_WHITELIST"),

		GopCacheSizeMB: int64(envInt("GOP_CACHE_SIZE_MB", 256)),

		StreamIDMaxLength: envInt("STREAM_ID_MAX_LENGTH", 128),

		LogRequests: os.Getenv("LOG_REQUESTS") != "NO",
		LogDebug:    os.Getenv("LOG_DEBUG") == "YES",

		JWTSecret:        os.Getenv("JWT_SECRET"),
		CustomJWTSubject: os.Getenv("CUSTOM_JWT_SUBJECT"),
		CallbackURL:      os.Getenv("CALLBACK_URL"),

		ControlBaseURL: os.Getenv("CONTROL_BASE_URL"),
		ControlSecret:  os.Getenv("CONTROL_SECRET"),

		OriginPullBaseURL: os.Getenv("ORIGIN_PULL_BASE_URL"),

		RedisUse:      os.Getenv("REDIS_USE") == "YES",
		RedisHost:     envString("REDIS_HOST", "localhost"),
		RedisPort:     envString("REDIS_PORT", "6379"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisChannel:  envString("REDIS_CHANNEL", "rtmp_commands"),
		RedisTLS:      os.Getenv("REDIS_TLS") == "YES",
	}

	if cfg.RTMPChunkSize <= 128 {
		cfg.RTMPChunkSize = 128
	}

	return cfg
}

// GopCacheLimitBytes returns the GOP cache size limit in bytes.
func (c Config) GopCacheLimitBytes() int64 {
	return c.GopCacheSizeMB * 1024 * 1024
}

func envInt(name string, def int) int {
	v := os.Getenv(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envString(name string, def string) string {
	v := os.Getenv(name)
	if v == "" {
		return def
	}
	return v
}
