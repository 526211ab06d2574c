// Package config loads server configuration from YAML and the environment.
package config

import (
	"os"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config represents the server configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Auth      AuthConfig      `yaml:"auth"`
	MySQL     MySQLConfig     `yaml:"mysql"`
	Redis     RedisConfig     `yaml:"redis"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Spotify   SpotifyConfig   `yaml:"spotify"`
	YouTube   YouTubeConfig   `yaml:"youtube"`
	WebSocket WebSocketConfig `yaml:"websocket"`
}

type ServerConfig struct {
	Addr           string   `yaml:"addr" default:":8080"`
	Env            string   `yaml:"env" default:"development" validate:"oneof=development production"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

type AuthConfig struct {
	JWTSecret  string        `yaml:"jwt_secret" validate:"required"`
	CookieName string        `yaml:"cookie_name" default:"auth_token"`
	TokenTTL   time.Duration `yaml:"token_ttl" default:"168h"`
}

type MySQLConfig struct {
	Host     string `yaml:"host" default:"localhost"`
	Port     string `yaml:"port" default:"3306"`
	User     string `yaml:"user" default:"root"`
	Password string `yaml:"password"`
	Database string `yaml:"database" validate:"required"`
}

type RedisConfig struct {
	Addr     string        `yaml:"addr" default:"localhost:6379"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	RoomTTL  time.Duration `yaml:"room_ttl" default:"24h"`
}

// KafkaConfig is optional. Without brokers room events stay in-process.
type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic" default:"music-room-events"`
	GroupID string   `yaml:"group_id" default:"music-room"`
}

func (k KafkaConfig) Enabled() bool {
	return len(k.Brokers) > 0
}

type SpotifyConfig struct {
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret" validate:"required_with=ClientID"`
}

type YouTubeConfig struct {
	APIKey string `yaml:"api_key"`
}

type WebSocketConfig struct {
	SendBuffer      int           `yaml:"send_buffer" default:"64" validate:"gte=1"`
	WriteTimeout    time.Duration `yaml:"write_timeout" default:"10s"`
	PongWait        time.Duration `yaml:"pong_wait" default:"60s"`
	PingInterval    time.Duration `yaml:"ping_interval" default:"30s" validate:"ltfield=PongWait"`
	MaxMessageBytes int64         `yaml:"max_message_bytes" default:"4096" validate:"gte=512"`
}

// Load reads path (optional), applies environment overrides and defaults,
// then validates the result.
func Load(path string) (*Config, error) {
	var cfg Config

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrap(err, "failed to read config file")
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, errors.Wrap(err, "failed to parse config file")
		}
	}

	cfg.overrideFromEnv()

	if err := defaults.Set(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to set defaults")
	}

	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "config validation failed")
	}

	return &cfg, nil
}

func (c *Config) overrideFromEnv() {
	set := func(dst *string, key string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	set(&c.Server.Env, "ENV")
	if v := os.Getenv("PORT"); v != "" {
		c.Server.Addr = ":" + v
	}
	set(&c.Auth.JWTSecret, "JWT_SECRET")

	set(&c.MySQL.Host, "MYSQL_HOST")
	set(&c.MySQL.Port, "MYSQL_PORT")
	set(&c.MySQL.User, "MYSQL_USER")
	set(&c.MySQL.Password, "MYSQL_PASSWORD")
	set(&c.MySQL.Database, "MYSQL_DATABASE")

	if host := os.Getenv("REDIS_HOST"); host != "" {
		port := os.Getenv("REDIS_PORT")
		if port == "" {
			port = "6379"
		}
		c.Redis.Addr = host + ":" + port
	}
	set(&c.Redis.Password, "REDIS_PASSWORD")

	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = splitList(v)
	}
	set(&c.Kafka.GroupID, "KAFKA_GROUP_ID")

	set(&c.Spotify.ClientID, "SPOTIFY_CLIENT_ID")
	set(&c.Spotify.ClientSecret, "SPOTIFY_CLIENT_SECRET")
	set(&c.YouTube.APIKey, "YOUTUBE_API_KEY")
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	return validator.New().Struct(c)
}
