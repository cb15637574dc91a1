package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"livecam/native/internal/logging"
)

// Config holds the application configuration.
type Config struct {
	// APIURL is the base of the auth and events services. The origin of
	// TokenEndpoint replaces it whenever TokenEndpoint is set.
	APIURL        string `mapstructure:"api_url"`
	TokenEndpoint string `mapstructure:"token_endpoint"`
	MediaURL      string `mapstructure:"media_url"`
	Room          string `mapstructure:"room"`

	// IdentityField is the JSON field login and register send the user
	// identifier in ("email" or "username").
	IdentityField string `mapstructure:"auth_identity_field"`
	TokenStore    string `mapstructure:"token_store"`

	DeviceID     string `mapstructure:"device_id"`
	Width        int    `mapstructure:"width"`
	Height       int    `mapstructure:"height"`
	FFmpegPath   string `mapstructure:"ffmpeg_path"`
	SysfsRoot    string `mapstructure:"sysfs_root"`
	FrameRate    int    `mapstructure:"frame_rate"`
	VideoBitrate string `mapstructure:"video_bitrate"`

	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	PingInterval   time.Duration `mapstructure:"ping_interval"`
	HTTPTimeout    time.Duration `mapstructure:"http_timeout"`

	MetricsAddr string         `mapstructure:"metrics_addr"`
	Log         logging.Config `mapstructure:"log"`
}

const envPrefix = "LIVECAM"

func setDefaults(v *viper.Viper) {
	v.SetDefault("api_url", "")
	v.SetDefault("token_endpoint", "")
	v.SetDefault("media_url", "")
	v.SetDefault("room", "playground-01")
	v.SetDefault("auth_identity_field", "email")
	v.SetDefault("token_store", defaultTokenStore())
	v.SetDefault("device_id", "")
	v.SetDefault("width", 1280)
	v.SetDefault("height", 720)
	v.SetDefault("ffmpeg_path", "ffmpeg")
	v.SetDefault("sysfs_root", "/sys/class/video4linux")
	v.SetDefault("frame_rate", 30)
	v.SetDefault("video_bitrate", "2M")
	v.SetDefault("connect_timeout", "20s")
	v.SetDefault("ping_interval", "15s")
	v.SetDefault("http_timeout", "10s")
	v.SetDefault("metrics_addr", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", true)
}

func defaultTokenStore() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = "."
	}
	return filepath.Join(dir, "livecam", "credentials.json")
}

// Load reads configuration from a .env file (if present), an optional YAML
// file named by LIVECAM_CONFIG, and LIVECAM_* environment variables.
// Environment variables take precedence over both files.
func Load() (*Config, error) {
	// godotenv.Load does not overwrite existing env vars
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file := os.Getenv(envPrefix + "_CONFIG"); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", file, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) normalize() error {
	c.IdentityField = strings.ToLower(strings.TrimSpace(c.IdentityField))
	if c.IdentityField != "email" && c.IdentityField != "username" {
		return fmt.Errorf("auth_identity_field must be email or username, got %q", c.IdentityField)
	}
	if c.Width <= 0 || c.Height <= 0 {
		return fmt.Errorf("invalid resolution %dx%d", c.Width, c.Height)
	}
	// The token endpoint's origin wins so auth and tokens share a server.
	if c.TokenEndpoint != "" {
		u, err := url.Parse(c.TokenEndpoint)
		if err != nil {
			return fmt.Errorf("parse token endpoint: %w", err)
		}
		if u.Host != "" {
			c.APIURL = u.Scheme + "://" + u.Host
		}
	}
	c.APIURL = strings.TrimRight(c.APIURL, "/")
	return nil
}

// RequireAPI checks the settings the auth and events commands need.
func (c *Config) RequireAPI() error {
	if c.APIURL == "" {
		return errors.New("LIVECAM_API_URL or LIVECAM_TOKEN_ENDPOINT environment variable is required")
	}
	return nil
}

// RequireLive checks the settings a live session needs.
func (c *Config) RequireLive() error {
	if c.TokenEndpoint == "" {
		return errors.New("LIVECAM_TOKEN_ENDPOINT environment variable is required")
	}
	if c.MediaURL == "" {
		return errors.New("LIVECAM_MEDIA_URL environment variable is required")
	}
	return nil
}
