package config

import (
	"flag"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

const (
	SignalingMemory = "memory"
	SignalingRedis  = "redis"
)

type Config struct {
	Env       string          `yaml:"env" env:"ENV" env-default:"local"`
	HTTP      HTTPConfig      `yaml:"http"`
	Agent     AgentConfig     `yaml:"agent"`
	WebRTC    WebRTCConfig    `yaml:"webrtc"`
	Signaling SignalingConfig `yaml:"signaling"`
	Database  DatabaseConfig  `yaml:"database"`
	Media     MediaConfig     `yaml:"media"`
	Ringback  RingbackConfig  `yaml:"ringback"`
	Call      CallConfig      `yaml:"call"`
}

type HTTPConfig struct {
	Address      string   `yaml:"address" env:"HTTP_ADDRESS"`
	AllowOrigins []string `yaml:"allow_origins" env:"HTTP_ALLOW_ORIGINS"`
}

// AgentConfig identifies the user this process places and receives calls for.
type AgentConfig struct {
	UserID              string        `yaml:"user_id" env:"AGENT_USER_ID" env-required:"true"`
	DisplayName         string        `yaml:"display_name" env:"AGENT_DISPLAY_NAME"`
	IncomingPollInterval time.Duration `yaml:"incoming_poll_interval" env:"AGENT_INCOMING_POLL_INTERVAL" env-default:"1s"`
}

type TURNServer struct {
	URLs       []string `yaml:"urls"`
	Username   string   `yaml:"username"`
	Credential string   `yaml:"credential"`
}

type WebRTCConfig struct {
	STUNServers         []string      `yaml:"stun_servers" env:"WEBRTC_STUN_SERVERS"`
	TURNServers         []TURNServer  `yaml:"turn_servers"`
	DisconnectedTimeout time.Duration `yaml:"ice_disconnected_timeout" env-default:"5s"`
	FailedTimeout       time.Duration `yaml:"ice_failed_timeout" env-default:"25s"`
	KeepAliveInterval   time.Duration `yaml:"ice_keepalive_interval" env-default:"2s"`
}

type SignalingConfig struct {
	Backend string        `yaml:"backend" env:"SIGNALING_BACKEND" env-default:"memory"`
	TTL     time.Duration `yaml:"ttl" env:"SIGNALING_TTL" env-default:"24h"`
	Redis   RedisConfig   `yaml:"redis"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr" env:"REDIS_ADDR" env-default:"localhost:6379"`
	Password string `yaml:"password" env:"REDIS_PASSWORD"`
	DB       int    `yaml:"db" env:"REDIS_DB" env-default:"0"`
}

// DatabaseConfig holds the availability and call history database. An empty
// DSN keeps both in memory.
type DatabaseConfig struct {
	DSN string `yaml:"dsn" env:"DATABASE_DSN"`
}

type MediaConfig struct {
	// MicrophoneFile is an Ogg/Opus file played as the local microphone.
	// Silence is sent when it is empty.
	MicrophoneFile string `yaml:"microphone_file" env:"MEDIA_MICROPHONE_FILE"`
}

type RingbackConfig struct {
	Asset string `yaml:"asset" env:"RINGBACK_ASSET" env-default:"sounds/ringback.mp3"`
}

type CallConfig struct {
	EndWriteTimeout time.Duration `yaml:"end_write_timeout" env:"CALL_END_WRITE_TIMEOUT" env-default:"10s"`
	EventBuffer     int           `yaml:"event_buffer" env-default:"64"`
}

func MustLoad() *Config {
	configPath := fetchConfigPath()
	if configPath == "" {
		panic("config path is empty")
	}

	return MustLoadPath(configPath)
}

func MustLoadPath(configPath string) *Config {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		panic("config file does not exist: " + configPath)
	}

	var cfg Config

	if err := cleanenv.ReadConfig(configPath, &cfg); err != nil {
		panic("cannot read config: " + err.Error())
	}

	cfg.setDefaults()
	if err := cfg.validate(); err != "" {
		panic("invalid config: " + err)
	}

	return &cfg
}

func fetchConfigPath() string {
	var res string

	flag.StringVar(&res, "config", "", "path to config file")
	flag.Parse()

	if res == "" {
		res = os.Getenv("CONFIG_PATH")
	}

	if res == "" {
		res = "config/local.yaml"
	}

	return res
}

func (c *Config) setDefaults() {
	if c.HTTP.Address == "" {
		c.HTTP.Address = ":8080"
	}
	if len(c.WebRTC.STUNServers) == 0 {
		c.WebRTC.STUNServers = []string{"stun:stun.l.google.com:19302"}
	}
	if c.Agent.DisplayName == "" {
		c.Agent.DisplayName = c.Agent.UserID
	}
}

func (c *Config) validate() string {
	switch c.Signaling.Backend {
	case SignalingMemory, SignalingRedis:
	default:
		return "unknown signaling backend " + c.Signaling.Backend
	}
	if c.WebRTC.FailedTimeout < c.WebRTC.DisconnectedTimeout {
		return "ice_failed_timeout must not be shorter than ice_disconnected_timeout"
	}
	return ""
}
