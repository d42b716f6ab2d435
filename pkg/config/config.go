package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"
)

type CodecConfig struct {
	Kind       string                 `yaml:"kind"`
	MimeType   string                 `yaml:"mime_type"`
	ClockRate  uint32                 `yaml:"clock_rate"`
	Channels   uint16                 `yaml:"channels,omitempty"`
	Parameters map[string]interface{} `yaml:"parameters,omitempty"`
}

type Config struct {
	Server struct {
		Address         string        `yaml:"address"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"server"`

	Signal struct {
		PingInterval   time.Duration `yaml:"ping_interval"`
		PongTimeout    time.Duration `yaml:"pong_timeout"`
		WriteTimeout   time.Duration `yaml:"write_timeout"`
		MaxMessageSize int64         `yaml:"max_message_size_bytes"`
		SendQueueSize  int           `yaml:"send_queue_size"`
		AllowedOrigins []string      `yaml:"allowed_origins"`
	} `yaml:"signal"`

	Engine struct {
		NumWorkers       int           `yaml:"num_workers"`
		RTCMinPort       uint16        `yaml:"rtc_min_port"`
		RTCMaxPort       uint16        `yaml:"rtc_max_port"`
		ListenIP         string        `yaml:"listen_ip"`
		AnnouncedIP      string        `yaml:"announced_ip"`
		EnableUDP        bool          `yaml:"enable_udp"`
		EnableTCP        bool          `yaml:"enable_tcp"`
		PreferUDP        bool          `yaml:"prefer_udp"`
		LogLevel         string        `yaml:"log_level"`
		CallTimeout      time.Duration `yaml:"call_timeout"`
		DeathGracePeriod time.Duration `yaml:"death_grace_period"`
		MediaCodecs      []CodecConfig `yaml:"media_codecs"`
	} `yaml:"engine"`

	Rooms struct {
		EvictEmpty bool `yaml:"evict_empty"`
	} `yaml:"rooms"`

	Monitoring struct {
		PrometheusEnabled bool `yaml:"prometheus_enabled"`
	} `yaml:"monitoring"`

	Logging struct {
		Level string `yaml:"level"`
	} `yaml:"logging"`

	Tracing struct {
		Enabled     bool    `yaml:"enabled"`
		JaegerURL   string  `yaml:"jaeger_url"`
		ServiceName string  `yaml:"service_name"`
		SampleRate  float64 `yaml:"sample_rate"`
	} `yaml:"tracing"`

	RateLimiting struct {
		Enabled bool `yaml:"enabled"`

		HTTP struct {
			RequestsPerSecond float64 `yaml:"requests_per_second"`
			Burst             int     `yaml:"burst"`
			MaxConcurrent     int     `yaml:"max_concurrent"` // global concurrent HTTP requests
		} `yaml:"http"`

		WebSocket struct {
			MessagesPerSecond float64 `yaml:"messages_per_second"`
			Burst             int     `yaml:"burst"`
		} `yaml:"websocket"`
	} `yaml:"rate_limiting"`

	Events struct {
		Enabled   bool   `yaml:"enabled"`
		Address   string `yaml:"address"`
		Password  string `yaml:"password"`
		DB        int    `yaml:"db"`
		PoolSize  int    `yaml:"pool_size"`
		Channel   string `yaml:"channel"`
		QueueSize int    `yaml:"queue_size"`
	} `yaml:"events"`
}

// Validate checks that configuration values are within acceptable ranges.
func (c *Config) Validate() error {
	// Server
	if c.Server.Address == "" {
		return fmt.Errorf("server.address must not be empty")
	}
	if c.Server.ReadTimeout <= 0 {
		return fmt.Errorf("server.read_timeout must be > 0")
	}
	if c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("server.write_timeout must be > 0")
	}
	if c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("server.shutdown_timeout must be > 0")
	}

	// Signal
	if c.Signal.PingInterval <= 0 {
		return fmt.Errorf("signal.ping_interval must be > 0")
	}
	if c.Signal.PongTimeout <= c.Signal.PingInterval {
		return fmt.Errorf("signal.pong_timeout must be > signal.ping_interval")
	}
	if c.Signal.WriteTimeout <= 0 {
		return fmt.Errorf("signal.write_timeout must be > 0")
	}
	if c.Signal.MaxMessageSize <= 0 {
		return fmt.Errorf("signal.max_message_size_bytes must be > 0")
	}
	if c.Signal.SendQueueSize <= 0 {
		return fmt.Errorf("signal.send_queue_size must be > 0")
	}

	// Engine
	if c.Engine.NumWorkers <= 0 {
		return fmt.Errorf("engine.num_workers must be > 0")
	}
	if c.Engine.RTCMinPort == 0 || c.Engine.RTCMaxPort == 0 {
		return fmt.Errorf("engine.rtc_min_port and rtc_max_port must be set")
	}
	if c.Engine.RTCMinPort > c.Engine.RTCMaxPort {
		return fmt.Errorf("engine.rtc_min_port must be <= rtc_max_port")
	}
	if c.Engine.ListenIP == "" {
		return fmt.Errorf("engine.listen_ip must not be empty")
	}
	if !c.Engine.EnableUDP && !c.Engine.EnableTCP {
		return fmt.Errorf("engine: at least one of enable_udp and enable_tcp must be set")
	}
	if c.Engine.CallTimeout <= 0 {
		return fmt.Errorf("engine.call_timeout must be > 0")
	}
	if c.Engine.DeathGracePeriod < 0 {
		return fmt.Errorf("engine.death_grace_period must be >= 0")
	}
	if len(c.Engine.MediaCodecs) == 0 {
		return fmt.Errorf("engine.media_codecs must not be empty")
	}
	for i, codec := range c.Engine.MediaCodecs {
		if codec.Kind != "audio" && codec.Kind != "video" {
			return fmt.Errorf("engine.media_codecs[%d].kind must be audio or video", i)
		}
		if !strings.HasPrefix(strings.ToLower(codec.MimeType), codec.Kind+"/") {
			return fmt.Errorf("engine.media_codecs[%d].mime_type %q does not match kind %s", i, codec.MimeType, codec.Kind)
		}
		if codec.ClockRate == 0 {
			return fmt.Errorf("engine.media_codecs[%d].clock_rate must be > 0", i)
		}
	}

	// Logging
	if c.Logging.Level == "" {
		return fmt.Errorf("logging.level must not be empty")
	}

	// Tracing
	if c.Tracing.Enabled {
		if c.Tracing.JaegerURL == "" {
			return fmt.Errorf("tracing.jaeger_url must not be empty when tracing.enabled=true")
		}
		if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
			return fmt.Errorf("tracing.sample_rate must be within [0, 1]")
		}
	}

	// Rate limiting
	if c.RateLimiting.Enabled {
		if c.RateLimiting.HTTP.RequestsPerSecond <= 0 {
			return fmt.Errorf("rate_limiting.http.requests_per_second must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.HTTP.Burst <= 0 {
			return fmt.Errorf("rate_limiting.http.burst must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.HTTP.MaxConcurrent < 0 {
			return fmt.Errorf("rate_limiting.http.max_concurrent must be >= 0")
		}
		if c.RateLimiting.WebSocket.MessagesPerSecond <= 0 {
			return fmt.Errorf("rate_limiting.websocket.messages_per_second must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.WebSocket.Burst <= 0 {
			return fmt.Errorf("rate_limiting.websocket.burst must be > 0 when rate limiting is enabled")
		}
	}

	// Events
	if c.Events.Enabled {
		if c.Events.Address == "" {
			return fmt.Errorf("events.address must not be empty when events.enabled=true")
		}
		if c.Events.Channel == "" {
			return fmt.Errorf("events.channel must not be empty when events.enabled=true")
		}
		if c.Events.QueueSize <= 0 {
			return fmt.Errorf("events.queue_size must be > 0 when events.enabled=true")
		}
	}

	return nil
}

// Load reads configuration from YAML file, applies defaults and env overrides.
func Load(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	// If file does not exist, fall back to defaults
	if _, err := os.Stat(configPath); err == nil {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
		}
		// Codecs from the file replace the defaults rather than merging into them.
		cfg.Engine.MediaCodecs = nil
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to unmarshal config yaml: %w", err)
		}
		if len(cfg.Engine.MediaCodecs) == 0 {
			cfg.Engine.MediaCodecs = DefaultMediaCodecs()
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to stat config file %s: %w", configPath, err)
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// DefaultMediaCodecs is opus, VP8 and H264 baseline.
func DefaultMediaCodecs() []CodecConfig {
	return []CodecConfig{
		{Kind: "audio", MimeType: "audio/opus", ClockRate: 48000, Channels: 2},
		{Kind: "video", MimeType: "video/VP8", ClockRate: 90000},
		{
			Kind:      "video",
			MimeType:  "video/H264",
			ClockRate: 90000,
			Parameters: map[string]interface{}{
				"packetization-mode": 1,
				"profile-level-id":   "42e01f",
			},
		},
	}
}

// DefaultConfig returns configuration with sane defaults.
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Server.Address = ":3000"
	cfg.Server.ReadTimeout = 30 * time.Second
	cfg.Server.WriteTimeout = 30 * time.Second
	cfg.Server.ShutdownTimeout = 15 * time.Second

	cfg.Signal.PingInterval = 25 * time.Second
	cfg.Signal.PongTimeout = 60 * time.Second
	cfg.Signal.WriteTimeout = 10 * time.Second
	cfg.Signal.MaxMessageSize = 64 * 1024
	cfg.Signal.SendQueueSize = 64
	cfg.Signal.AllowedOrigins = []string{"*"}

	cfg.Engine.NumWorkers = 1
	cfg.Engine.RTCMinPort = 10000
	cfg.Engine.RTCMaxPort = 10100
	cfg.Engine.ListenIP = "0.0.0.0"
	cfg.Engine.EnableUDP = true
	cfg.Engine.EnableTCP = true
	cfg.Engine.PreferUDP = true
	cfg.Engine.LogLevel = "warn"
	cfg.Engine.CallTimeout = 10 * time.Second
	cfg.Engine.DeathGracePeriod = 2 * time.Second
	cfg.Engine.MediaCodecs = DefaultMediaCodecs()

	cfg.Rooms.EvictEmpty = true

	cfg.Monitoring.PrometheusEnabled = true

	cfg.Logging.Level = "info"

	cfg.Tracing.Enabled = false
	cfg.Tracing.JaegerURL = "http://localhost:14268/api/traces"
	cfg.Tracing.ServiceName = "sfugate"
	cfg.Tracing.SampleRate = 1

	// Rate limiting defaults (disabled by default)
	cfg.RateLimiting.Enabled = false
	cfg.RateLimiting.HTTP.RequestsPerSecond = 50
	cfg.RateLimiting.HTTP.Burst = 100
	cfg.RateLimiting.HTTP.MaxConcurrent = 0
	cfg.RateLimiting.WebSocket.MessagesPerSecond = 50
	cfg.RateLimiting.WebSocket.Burst = 100

	cfg.Events.Enabled = false
	cfg.Events.Address = "localhost:6379"
	cfg.Events.PoolSize = 10
	cfg.Events.Channel = "sfugate:events"
	cfg.Events.QueueSize = 1024

	return cfg
}

func (c *Config) applyEnvOverrides() error {
	if addr := os.Getenv("SFUGATE_SERVER_ADDRESS"); addr != "" {
		c.Server.Address = addr
	}
	if level := os.Getenv("SFUGATE_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if ip := os.Getenv("SFUGATE_LISTEN_IP"); ip != "" {
		c.Engine.ListenIP = ip
	}
	if ip := os.Getenv("SFUGATE_ANNOUNCED_IP"); ip != "" {
		c.Engine.AnnouncedIP = ip
	}
	if v := os.Getenv("SFUGATE_NUM_WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("SFUGATE_NUM_WORKERS: %w", err)
		}
		c.Engine.NumWorkers = n
	}
	if v := os.Getenv("SFUGATE_RTC_MIN_PORT"); v != "" {
		port, err := strconv.ParseUint(v, 10, 16)
		if err != nil {
			return fmt.Errorf("SFUGATE_RTC_MIN_PORT: %w", err)
		}
		c.Engine.RTCMinPort = uint16(port)
	}
	if v := os.Getenv("SFUGATE_RTC_MAX_PORT"); v != "" {
		port, err := strconv.ParseUint(v, 10, 16)
		if err != nil {
			return fmt.Errorf("SFUGATE_RTC_MAX_PORT: %w", err)
		}
		c.Engine.RTCMaxPort = uint16(port)
	}
	if addr := os.Getenv("SFUGATE_REDIS_ADDRESS"); addr != "" {
		c.Events.Address = addr
		c.Events.Enabled = true
	}
	if url := os.Getenv("SFUGATE_JAEGER_URL"); url != "" {
		c.Tracing.JaegerURL = url
		c.Tracing.Enabled = true
	}
	return nil
}
