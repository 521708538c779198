package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// Account binds a bearer token to a user.
type Account struct {
	Token string `mapstructure:"token"`
	ID    string `mapstructure:"id"`
	Name  string `mapstructure:"name"`
}

type Family struct {
	ID      string   `mapstructure:"id"`
	Members []string `mapstructure:"members"`
}

type Config struct {
	Mode        string        `mapstructure:"mode"`
	Port        int           `mapstructure:"port"`
	ReadLimit   int64         `mapstructure:"read_limit"`
	PingPeriod  time.Duration `mapstructure:"ping_period"`
	SendBuffer  int           `mapstructure:"send_buffer"`
	LogLevel    string        `mapstructure:"log_level"`
	ICEServers  []string      `mapstructure:"ice_servers"`
	Accounts    []Account     `mapstructure:"accounts"`
	Families    []Family      `mapstructure:"families"`
	InviteRate  float64       `mapstructure:"invite_rate"`
	InviteBurst int           `mapstructure:"invite_burst"`
}

type ReconnectConfig struct {
	InitialInterval time.Duration `mapstructure:"initial_interval"`
	MaxInterval     time.Duration `mapstructure:"max_interval"`
	MaxElapsed      time.Duration `mapstructure:"max_elapsed"`
}

type MediaConfig struct {
	Video        bool `mapstructure:"video"`
	Audio        bool `mapstructure:"audio"`
	MaxWidth     int  `mapstructure:"max_width"`
	MaxHeight    int  `mapstructure:"max_height"`
	VideoBitRate int  `mapstructure:"video_bitrate"`
}

type ClientConfig struct {
	ServerURL  string          `mapstructure:"server_url"`
	Token      string          `mapstructure:"token"`
	Room       string          `mapstructure:"room"`
	LogLevel   string          `mapstructure:"log_level"`
	PingPeriod time.Duration   `mapstructure:"ping_period"`
	SendBuffer int             `mapstructure:"send_buffer"`
	ICEServers []string        `mapstructure:"ice_servers"`
	Reconnect  ReconnectConfig `mapstructure:"reconnect"`
	Media      MediaConfig     `mapstructure:"media"`
}

const envPrefix = "INTERCOM"

func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// FileName resolves config/config.<CONFIG_ENV>.yaml, CONFIG_ENV defaulting
// to dev. A set prefix selects the client file (config/client.<env>.yaml).
func FileName(kind string) string {
	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	return fmt.Sprintf("config/%s.%s.yaml", kind, env)
}

func Load() (*Config, error) {
	return LoadFile(FileName("config"))
}

// LoadFile reads the relay config. A missing file is not an error; defaults
// and INTERCOM_* variables still apply.
func LoadFile(fileName string) (*Config, error) {
	v := newViper()
	SetServerDefaults(v)
	if err := read(v, fileName); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	log.Info().Str("module", "config").Str("mode", cfg.Mode).Int("port", cfg.Port).Int("accounts", len(cfg.Accounts)).Msg("relay config")
	return &cfg, nil
}

func SetServerDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("read_limit", 65536)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("send_buffer", 32)
	v.SetDefault("log_level", "info")
	v.SetDefault("ice_servers", []string{"stun:stun.l.google.com:19302"})
	v.SetDefault("invite_rate", 1.0)
	v.SetDefault("invite_burst", 5)
}

func SetClientDefaults(v *viper.Viper) {
	v.SetDefault("server_url", "ws://localhost:8080/api/ws/signal")
	v.SetDefault("token", "")
	v.SetDefault("room", "")
	v.SetDefault("log_level", "info")
	v.SetDefault("ping_period", "25s")
	v.SetDefault("send_buffer", 32)
	v.SetDefault("ice_servers", []string{"stun:stun.l.google.com:19302"})
	v.SetDefault("reconnect.initial_interval", "500ms")
	v.SetDefault("reconnect.max_interval", "10s")
	v.SetDefault("reconnect.max_elapsed", "2m")
	v.SetDefault("media.video", true)
	v.SetDefault("media.audio", true)
	v.SetDefault("media.max_width", 640)
	v.SetDefault("media.max_height", 480)
	v.SetDefault("media.video_bitrate", 1500000)
}

// LoadClient reads the client config into v, which may already carry bound
// command-line flags.
func LoadClient(v *viper.Viper, fileName string) (*ClientConfig, error) {
	if v == nil {
		v = newViper()
	} else {
		v.SetConfigType("yaml")
		v.SetEnvPrefix(envPrefix)
		v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
		v.AutomaticEnv()
	}
	SetClientDefaults(v)
	if err := read(v, fileName); err != nil {
		return nil, err
	}

	var cfg ClientConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse client config: %w", err)
	}
	return &cfg, nil
}

func read(v *viper.Viper, fileName string) error {
	if fileName == "" {
		return nil
	}
	v.SetConfigFile(fileName)
	if err := v.ReadInConfig(); err != nil {
		if _, statErr := os.Stat(fileName); os.IsNotExist(statErr) {
			log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
			return nil
		}
		return fmt.Errorf("read %s: %w", fileName, err)
	}
	log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	return nil
}
