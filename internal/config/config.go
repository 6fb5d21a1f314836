package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

const devSecret = "dev-secret-change-me"

type RateLimitConfig struct {
	Messages int           `mapstructure:"messages"`
	Interval time.Duration `mapstructure:"interval"`
}

type BrokerConfig struct {
	// Kind is "memory" or "redis".
	Kind     string `mapstructure:"kind"`
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Buffer   int    `mapstructure:"buffer"`
}

type ReconnectConfig struct {
	InitialDelay time.Duration `mapstructure:"initial_delay"`
	MaxDelay     time.Duration `mapstructure:"max_delay"`
	Multiplier   float64       `mapstructure:"multiplier"`
	Jitter       float64       `mapstructure:"jitter"`
	MaxAttempts  int           `mapstructure:"max_attempts"`
}

// ClientConfig configures the session manager used by cmd/meetchat.
type ClientConfig struct {
	BaseURL          string          `mapstructure:"base_url"`
	EventName        string          `mapstructure:"event_name"`
	Transports       []string        `mapstructure:"transports"`
	SendMethod       string          `mapstructure:"send_method"`
	RequestTimeout   time.Duration   `mapstructure:"request_timeout"`
	LeaveTimeout     time.Duration   `mapstructure:"leave_timeout"`
	HandshakeTimeout time.Duration   `mapstructure:"handshake_timeout"`
	ReadTimeout      time.Duration   `mapstructure:"read_timeout"`
	PollWait         time.Duration   `mapstructure:"poll_wait"`
	Reconnect        ReconnectConfig `mapstructure:"reconnect"`
}

type Config struct {
	Mode        string          `mapstructure:"mode"`
	Port        int             `mapstructure:"port"`
	PublicURL   string          `mapstructure:"public_url"`
	LogLevel    string          `mapstructure:"log_level"`
	ReadLimit   int64           `mapstructure:"read_limit"`
	PingPeriod  time.Duration   `mapstructure:"ping_period"`
	WriteWait   time.Duration   `mapstructure:"write_wait"`
	Secret      string          `mapstructure:"secret"`
	TokenTTL    time.Duration   `mapstructure:"token_ttl"`
	PollTimeout time.Duration   `mapstructure:"poll_timeout"`
	SendBuffer  int             `mapstructure:"send_buffer"`
	EventName   string          `mapstructure:"event_name"`
	RateLimit   RateLimitConfig `mapstructure:"rate_limit"`
	Broker      BrokerConfig    `mapstructure:"broker"`
	Client      ClientConfig    `mapstructure:"client"`
}

// Load reads config/config.<CONFIG_ENV>.yaml (env defaults to dev).
func Load() (*Config, error) {
	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	return LoadFile(fmt.Sprintf("config/config.%s.yaml", env))
}

// LoadFile reads fileName if it exists; defaults and MEET_* variables apply either way.
func LoadFile(fileName string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetConfigFile(fileName)
	v.SetEnvPrefix("MEET")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to parse config")
	}
	if cfg.Secret == devSecret && cfg.Mode == "release" {
		log.Warn().Str("module", "config").Msg("hub is running with the development token secret")
	}
	log.Info().Str("module", "config").Str("mode", cfg.Mode).Int("port", cfg.Port).Str("broker", cfg.Broker.Kind).Msg("config")
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("public_url", "")
	v.SetDefault("log_level", "info")
	v.SetDefault("read_limit", 32768)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("write_wait", "10s")
	v.SetDefault("secret", devSecret)
	v.SetDefault("token_ttl", "1h")
	v.SetDefault("poll_timeout", "25s")
	v.SetDefault("send_buffer", 64)
	v.SetDefault("event_name", "ReceiveDoubt")
	v.SetDefault("rate_limit.messages", 20)
	v.SetDefault("rate_limit.interval", "10s")
	v.SetDefault("broker.kind", "memory")
	v.SetDefault("broker.addr", "localhost:6379")
	v.SetDefault("broker.password", "")
	v.SetDefault("broker.db", 0)
	v.SetDefault("broker.buffer", 256)

	v.SetDefault("client.base_url", "http://localhost:8080/api")
	v.SetDefault("client.event_name", "ReceiveDoubt")
	v.SetDefault("client.transports", []string{"websocket", "longpolling"})
	v.SetDefault("client.send_method", "GET")
	v.SetDefault("client.request_timeout", "15s")
	v.SetDefault("client.leave_timeout", "5s")
	v.SetDefault("client.handshake_timeout", "10s")
	v.SetDefault("client.read_timeout", "2m")
	v.SetDefault("client.poll_wait", "60s")
	v.SetDefault("client.reconnect.initial_delay", "500ms")
	v.SetDefault("client.reconnect.max_delay", "30s")
	v.SetDefault("client.reconnect.multiplier", 2.0)
	v.SetDefault("client.reconnect.jitter", 0.2)
	v.SetDefault("client.reconnect.max_attempts", 5)
}
