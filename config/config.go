package config

import (
	"errors"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type TLS struct {
	Cert string `yaml:"cert"`
	Key  string `yaml:"key"`
}

type RateLimiterConfig struct {
	Limit float64 `yaml:"limit"` // Requests per second
	Burst int     `yaml:"burst"` // Burst size
}

type RateLimiters struct {
	Sessions RateLimiterConfig `yaml:"sessions"`
	Media    RateLimiterConfig `yaml:"media"`
	Upload   RateLimiterConfig `yaml:"upload"`
	Default  RateLimiterConfig `yaml:"default"`
}

type SessionsConfig struct {
	TTL        time.Duration `yaml:"ttl"`
	MaxEntries uint64        `yaml:"maxEntries"`

	// ValidateOnCreate pings the provider with the submitted triple
	// before minting a session. Off by default: bad credentials then
	// surface on first use instead.
	ValidateOnCreate bool `yaml:"validateOnCreate"`

	EventChannelSize         int `yaml:"eventChannelSize"`
	WebSocketReadBufferSize  int `yaml:"webSocketReadBufferSize"`
	WebSocketWriteBufferSize int `yaml:"webSocketWriteBufferSize"`
	MaxEventConnections      int `yaml:"maxEventConnections"`
}

type UploadConfig struct {
	MaxFileBytes  int64  `yaml:"maxFileBytes"`
	MaxFiles      int    `yaml:"maxFiles"`
	DefaultFolder string `yaml:"defaultFolder"`
}

type RemoteConfig struct {
	// APIBase overrides the provider endpoint. Empty means the
	// provider's production endpoint.
	APIBase string        `yaml:"apiBase,omitempty"`
	Timeout time.Duration `yaml:"timeout"`
}

// LegacyAccount is the optional single-tenant default account. It is
// consumed only by the operator CLI as a convenience; the daemon's
// per-session credential path never reads it.
type LegacyAccount struct {
	CloudName string `yaml:"cloudName,omitempty"`
	APIKey    string `yaml:"apiKey,omitempty"`
	APISecret string `yaml:"apiSecret,omitempty"`
}

type Config struct {
	HTTPBinding    string         `yaml:"httpBinding"`
	TLS            TLS            `yaml:"tls"`
	TrustedProxies []string       `yaml:"trustedProxies,omitempty"`
	RateLimiters   RateLimiters   `yaml:"rateLimiters"`
	Sessions       SessionsConfig `yaml:"sessions"`
	Upload         UploadConfig   `yaml:"upload"`
	Remote         RemoteConfig   `yaml:"remote"`
	LegacyAccount  LegacyAccount  `yaml:"legacyAccount,omitempty"`
}

var (
	ErrConfigFileUnreadable             = errors.New("config file is unreadable")
	ErrConfigFileUnmarshallable         = errors.New("config file is unmarshallable")
	ErrHTTPBindingMissing               = errors.New("httpBinding is missing in config")
	ErrTLSMissing                       = errors.New("TLS configuration incomplete: both cert and key must be provided if one is specified")
	ErrRateLimitersSessionsLimitMissing = errors.New("rateLimiters.sessions.limit is missing in config")
	ErrRateLimitersMediaLimitMissing    = errors.New("rateLimiters.media.limit is missing in config")
	ErrRateLimitersUploadLimitMissing   = errors.New("rateLimiters.upload.limit is missing in config")
	ErrRateLimitersDefaultLimitMissing  = errors.New("rateLimiters.default.limit is missing in config")
	ErrSessionsEventChannelSizeMissing  = errors.New("sessions.eventChannelSize is missing or invalid in config")
	ErrSessionsWebSocketBuffersMissing  = errors.New("sessions webSocket buffer sizes are missing or invalid in config")
	ErrSessionsMaxConnectionsMissing    = errors.New("sessions.maxEventConnections is missing or invalid in config")
	ErrUploadMaxFileBytesMissing        = errors.New("upload.maxFileBytes is missing or invalid in config")
	ErrUploadMaxFilesMissing            = errors.New("upload.maxFiles is missing or invalid in config")
	ErrRemoteTimeoutMissing             = errors.New("remote.timeout is missing or invalid in config")
)

func LoadConfig(configFile string) (*Config, error) {
	data, err := os.ReadFile(configFile)
	if err != nil {
		return nil, ErrConfigFileUnreadable
	}

	var cfg Config
	err = yaml.Unmarshal(data, &cfg)
	if err != nil {
		return nil, ErrConfigFileUnmarshallable
	}

	if cfg.HTTPBinding == "" {
		return nil, ErrHTTPBindingMissing
	}

	if cfg.TLS.Cert != "" && cfg.TLS.Key == "" ||
		cfg.TLS.Cert == "" && cfg.TLS.Key != "" {
		return nil, ErrTLSMissing
	}

	if cfg.RateLimiters.Sessions.Limit == 0 {
		return nil, ErrRateLimitersSessionsLimitMissing
	}
	if cfg.RateLimiters.Media.Limit == 0 {
		return nil, ErrRateLimitersMediaLimitMissing
	}
	if cfg.RateLimiters.Upload.Limit == 0 {
		return nil, ErrRateLimitersUploadLimitMissing
	}
	if cfg.RateLimiters.Default.Limit == 0 {
		return nil, ErrRateLimitersDefaultLimitMissing
	}

	if cfg.Sessions.EventChannelSize <= 0 {
		return nil, ErrSessionsEventChannelSizeMissing
	}
	if cfg.Sessions.WebSocketReadBufferSize <= 0 || cfg.Sessions.WebSocketWriteBufferSize <= 0 {
		return nil, ErrSessionsWebSocketBuffersMissing
	}
	if cfg.Sessions.MaxEventConnections <= 0 {
		return nil, ErrSessionsMaxConnectionsMissing
	}

	if cfg.Upload.MaxFileBytes <= 0 {
		return nil, ErrUploadMaxFileBytesMissing
	}
	if cfg.Upload.MaxFiles <= 0 {
		return nil, ErrUploadMaxFilesMissing
	}

	if cfg.Remote.Timeout <= 0 {
		return nil, ErrRemoteTimeoutMissing
	}

	return &cfg, nil
}

func GenerateConfig() *Config {
	return &Config{
		HTTPBinding: "127.0.0.1:7440",
		TLS:         TLS{},
		RateLimiters: RateLimiters{
			Sessions: RateLimiterConfig{Limit: 10.0, Burst: 20},
			Media:    RateLimiterConfig{Limit: 100.0, Burst: 200},
			Upload:   RateLimiterConfig{Limit: 10.0, Burst: 20},
			Default:  RateLimiterConfig{Limit: 50.0, Burst: 100},
		},
		Sessions: SessionsConfig{
			TTL:                      12 * time.Hour,
			MaxEntries:               10000,
			ValidateOnCreate:         false,
			EventChannelSize:         1000,
			WebSocketReadBufferSize:  4096,
			WebSocketWriteBufferSize: 4096,
			MaxEventConnections:      100,
		},
		Upload: UploadConfig{
			MaxFileBytes:  10 * 1024 * 1024, // 10MiB per file
			MaxFiles:      10,
			DefaultFolder: "default_folder",
		},
		Remote: RemoteConfig{
			Timeout: 30 * time.Second,
		},
	}
}
