// Package config loads annotator and dev server settings.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Backend   BackendConfig   `mapstructure:"backend"`
	Brush     BrushConfig     `mapstructure:"brush"`
	Zoom      ZoomConfig      `mapstructure:"zoom"`
	Canvas    CanvasConfig    `mapstructure:"canvas"`
	History   HistoryConfig   `mapstructure:"history"`
	Autosave  AutosaveConfig  `mapstructure:"autosave"`
	Markers   MarkersConfig   `mapstructure:"markers"`
	Log       LogConfig       `mapstructure:"log"`
	DevServer DevServerConfig `mapstructure:"devserver"`
}

type BackendConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type BrushConfig struct {
	Size            float64 `mapstructure:"size"`
	ObjectColor     string  `mapstructure:"object_color"`
	BackgroundColor string  `mapstructure:"background_color"`
}

type ZoomConfig struct {
	Min  float64 `mapstructure:"min"`
	Max  float64 `mapstructure:"max"`
	Step float64 `mapstructure:"step"`
}

type CanvasConfig struct {
	MaxWidth  int `mapstructure:"max_width"`
	MaxHeight int `mapstructure:"max_height"`
}

// HistoryConfig bounds the undo stack. Limit 0 means unbounded.
type HistoryConfig struct {
	Limit int `mapstructure:"limit"`
}

type AutosaveConfig struct {
	Debounce     time.Duration `mapstructure:"debounce"`
	RetryBackoff time.Duration `mapstructure:"retry_backoff"`
	FlushTimeout time.Duration `mapstructure:"flush_timeout"`
}

type MarkersConfig struct {
	Stride         int     `mapstructure:"stride"`
	ObjectSize     float64 `mapstructure:"object_size"`
	BackgroundSize float64 `mapstructure:"background_size"`
}

type LogConfig struct {
	Mode string `mapstructure:"mode"`
}

type DevServerConfig struct {
	Port      string      `mapstructure:"port"`
	Storage   string      `mapstructure:"storage"`
	UploadDir string      `mapstructure:"upload_dir"`
	Redis     RedisConfig `mapstructure:"redis"`
}

type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TTL      time.Duration `mapstructure:"ttl"`
}

// Load reads a YAML file on top of the defaults. SEGANNOTATOR_* environment
// variables override both, e.g. SEGANNOTATOR_BACKEND_BASE_URL.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("segannotator")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// New loads config.yaml from the working directory, falling back to defaults.
func New() *Config {
	cfg, err := Load("config.yaml")
	if err != nil {
		return Default()
	}
	return cfg
}

func setDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("backend.base_url", d.Backend.BaseURL)
	v.SetDefault("backend.timeout", d.Backend.Timeout)

	v.SetDefault("brush.size", d.Brush.Size)
	v.SetDefault("brush.object_color", d.Brush.ObjectColor)
	v.SetDefault("brush.background_color", d.Brush.BackgroundColor)

	v.SetDefault("zoom.min", d.Zoom.Min)
	v.SetDefault("zoom.max", d.Zoom.Max)
	v.SetDefault("zoom.step", d.Zoom.Step)

	v.SetDefault("canvas.max_width", d.Canvas.MaxWidth)
	v.SetDefault("canvas.max_height", d.Canvas.MaxHeight)

	v.SetDefault("history.limit", d.History.Limit)

	v.SetDefault("autosave.debounce", d.Autosave.Debounce)
	v.SetDefault("autosave.retry_backoff", d.Autosave.RetryBackoff)
	v.SetDefault("autosave.flush_timeout", d.Autosave.FlushTimeout)

	v.SetDefault("markers.stride", d.Markers.Stride)
	v.SetDefault("markers.object_size", d.Markers.ObjectSize)
	v.SetDefault("markers.background_size", d.Markers.BackgroundSize)

	v.SetDefault("log.mode", d.Log.Mode)

	v.SetDefault("devserver.port", d.DevServer.Port)
	v.SetDefault("devserver.storage", d.DevServer.Storage)
	v.SetDefault("devserver.upload_dir", d.DevServer.UploadDir)
	v.SetDefault("devserver.redis.addr", d.DevServer.Redis.Addr)
	v.SetDefault("devserver.redis.password", d.DevServer.Redis.Password)
	v.SetDefault("devserver.redis.db", d.DevServer.Redis.DB)
	v.SetDefault("devserver.redis.ttl", d.DevServer.Redis.TTL)
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Backend: BackendConfig{
			BaseURL: "http://localhost:8080",
			Timeout: 30 * time.Second,
		},
		Brush: BrushConfig{
			Size:            10,
			ObjectColor:     "#00ff00",
			BackgroundColor: "#ff0000",
		},
		Zoom: ZoomConfig{
			Min:  1,
			Max:  3,
			Step: 0.1,
		},
		Canvas: CanvasConfig{
			MaxWidth:  1024,
			MaxHeight: 768,
		},
		History: HistoryConfig{
			Limit: 0,
		},
		Autosave: AutosaveConfig{
			Debounce:     1500 * time.Millisecond,
			RetryBackoff: 5 * time.Second,
			FlushTimeout: 3 * time.Second,
		},
		Markers: MarkersConfig{
			Stride:         2,
			ObjectSize:     6,
			BackgroundSize: 4,
		},
		Log: LogConfig{
			Mode: "debug",
		},
		DevServer: DevServerConfig{
			Port:      ":8080",
			Storage:   "memory",
			UploadDir: "./uploads",
			Redis: RedisConfig{
				Addr: "localhost:6379",
				DB:   0,
				TTL:  24 * time.Hour,
			},
		},
	}
}
