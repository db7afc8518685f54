package config

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// PasswordEnv overrides camera.password when set.
const PasswordEnv = "PTZGO_PASSWORD"

// CameraConfig describes how to reach the camera.
// Type selects a concrete implementation ("onvif" or "mock").
type CameraConfig struct {
	Type               string `yaml:"type"`                 // "onvif" (default) or "mock"
	Address            string `yaml:"address"`              // host or IP of the camera
	OnvifPort          int    `yaml:"onvif_port"`           // ONVIF HTTP port
	Username           string `yaml:"username"`             // ONVIF user
	Password           string `yaml:"password"`             // ONVIF password (or PTZGO_PASSWORD)
	Stream             string `yaml:"stream"`               // "main" = largest profile, "sub" = smallest
	ProfileToken       string `yaml:"profile_token"`        // explicit media profile, skips selection
	TimeoutMs          int    `yaml:"timeout_ms"`           // per-request HTTP timeout
	IdleTimeoutMs      int    `yaml:"idle_timeout_ms"`      // max wait for PTZ to report IDLE after a move
	InsecureSkipVerify bool   `yaml:"insecure_skip_verify"` // accept self-signed HTTPS certificates
	HomeOnStart        bool   `yaml:"home_on_start"`        // GotoHomePosition before the first step
}

// SnapshotConfig describes where and how snapshots are stored.
type SnapshotConfig struct {
	SaveDir       string `yaml:"save_dir"`       // base folder; runs go to <save_dir>/<run name>
	Resize        string `yaml:"resize"`         // optional "WxH" downscale, empty = keep device size
	JPEGQuality   int    `yaml:"jpeg_quality"`   // quality used when re-encoding (resize only)
	MinFreeMB     uint64 `yaml:"min_free_mb"`    // refuse to start a run below this free space, 0 = no check
	MaxResolution bool   `yaml:"max_resolution"` // switch the camera encoder to its largest resolution before a run
}

// IndicatorConfig is optional: a GPIO pin held HIGH while a run is in progress.
type IndicatorConfig struct {
	Pin int `yaml:"pin"` // BCM pin, 0 = disabled
}

// DefaultsConfig contains generic parameters.
type DefaultsConfig struct {
	DebugLevel int    `yaml:"debug_level"` // debug level 0-4 (0=off, 1=info, 2=live, 3=verbose, 4=trace)
	LogFile    string `yaml:"log_file"`    // optional rotating log file
	RunsDir    string `yaml:"runs_dir"`    // folder listing run files for the web UI
	MockGPIO   bool   `yaml:"mock_gpio"`   // use mock GPIO (true=dev/test, false=real Raspberry Pi)
}

// Config aggregates all application configuration.
type Config struct {
	Camera    CameraConfig    `yaml:"camera"`
	Snapshot  SnapshotConfig  `yaml:"snapshot"`
	Indicator IndicatorConfig `yaml:"indicator"`
	Defaults  DefaultsConfig  `yaml:"defaults"`
}

// Load reads a YAML file and returns the configuration.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML, applies defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal yaml: %w", err)
	}

	if pwd := os.Getenv(PasswordEnv); pwd != "" {
		cfg.Camera.Password = pwd
	}

	if cfg.Camera.Type == "" {
		cfg.Camera.Type = "onvif"
	}
	switch cfg.Camera.Type {
	case "onvif":
		if cfg.Camera.Address == "" {
			return nil, fmt.Errorf("camera.address is required")
		}
	case "mock":
	default:
		return nil, fmt.Errorf("unsupported camera type: %s", cfg.Camera.Type)
	}
	if cfg.Camera.OnvifPort == 0 {
		cfg.Camera.OnvifPort = 80
	}
	if cfg.Camera.OnvifPort < 1 || cfg.Camera.OnvifPort > 65535 {
		return nil, fmt.Errorf("camera.onvif_port must be 1-65535, got %d", cfg.Camera.OnvifPort)
	}
	if cfg.Camera.Username == "" {
		cfg.Camera.Username = "admin"
	}
	if cfg.Camera.Stream == "" {
		cfg.Camera.Stream = "main"
	}
	if cfg.Camera.Stream != "main" && cfg.Camera.Stream != "sub" {
		return nil, fmt.Errorf("camera.stream must be \"main\" or \"sub\", got %q", cfg.Camera.Stream)
	}
	if cfg.Camera.TimeoutMs <= 0 {
		cfg.Camera.TimeoutMs = 5000
	}
	if cfg.Camera.IdleTimeoutMs <= 0 {
		cfg.Camera.IdleTimeoutMs = 8000
	}

	if cfg.Snapshot.SaveDir == "" {
		cfg.Snapshot.SaveDir = "DATA"
	}
	if cfg.Snapshot.Resize != "" {
		if _, _, err := ParseResolution(cfg.Snapshot.Resize); err != nil {
			return nil, fmt.Errorf("snapshot.resize: %w", err)
		}
	}
	if cfg.Snapshot.JPEGQuality == 0 {
		cfg.Snapshot.JPEGQuality = 90
	}
	if cfg.Snapshot.JPEGQuality < 1 || cfg.Snapshot.JPEGQuality > 100 {
		return nil, fmt.Errorf("snapshot.jpeg_quality must be between 1 and 100, got %d", cfg.Snapshot.JPEGQuality)
	}

	if cfg.Indicator.Pin < 0 || cfg.Indicator.Pin > 27 {
		return nil, fmt.Errorf("indicator.pin must be a BCM pin 1-27 (0 = disabled), got %d", cfg.Indicator.Pin)
	}

	if cfg.Defaults.DebugLevel < 0 || cfg.Defaults.DebugLevel > 4 {
		return nil, fmt.Errorf("debug_level must be between 0 and 4, got %d", cfg.Defaults.DebugLevel)
	}
	if cfg.Defaults.RunsDir == "" {
		cfg.Defaults.RunsDir = "runs"
	}

	return &cfg, nil
}

// ParseResolution parses "WxH" (e.g. "1280x720").
func ParseResolution(s string) (int, int, error) {
	w, h, ok := strings.Cut(strings.ToLower(strings.TrimSpace(s)), "x")
	if !ok {
		return 0, 0, fmt.Errorf("resolution must be WxH, got %q", s)
	}
	width, err := strconv.Atoi(w)
	if err != nil {
		return 0, 0, fmt.Errorf("resolution width %q: %w", w, err)
	}
	height, err := strconv.Atoi(h)
	if err != nil {
		return 0, 0, fmt.Errorf("resolution height %q: %w", h, err)
	}
	if width <= 0 || height <= 0 || width > 16384 || height > 16384 {
		return 0, 0, fmt.Errorf("resolution out of range: %dx%d", width, height)
	}
	return width, height, nil
}

// Timeout returns the per-request device timeout.
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.Camera.TimeoutMs) * time.Millisecond
}

// IdleTimeout returns the maximum wait for the PTZ unit to settle.
func (c *Config) IdleTimeout() time.Duration {
	return time.Duration(c.Camera.IdleTimeoutMs) * time.Millisecond
}

// DeviceAddr returns host:port of the ONVIF device service.
func (c *Config) DeviceAddr() string {
	return fmt.Sprintf("%s:%d", c.Camera.Address, c.Camera.OnvifPort)
}

// MinFreeBytes returns the free space required to start a run.
func (c *Config) MinFreeBytes() uint64 {
	return c.Snapshot.MinFreeMB * 1024 * 1024
}

// ValidateRunPath checks that name designates a run file directly inside dir:
// no path separators or traversal, and a .toml, .yaml, .yml or .json extension.
// It returns the joined path.
func ValidateRunPath(dir, name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("run file name is empty")
	}
	if name != filepath.Base(name) || strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return "", fmt.Errorf("run file name must not contain a path: %q", name)
	}
	switch strings.ToLower(filepath.Ext(name)) {
	case ".toml", ".yaml", ".yml", ".json":
	default:
		return "", fmt.Errorf("run file must be .toml, .yaml, .yml or .json: %q", name)
	}
	return filepath.Join(dir, name), nil
}

// ValidateInterval checks an interval (auto mode) override in seconds.
// Zero means "run once".
func ValidateInterval(sec float64) error {
	if sec == 0 {
		return nil
	}
	if math.IsNaN(sec) || math.IsInf(sec, 0) || sec < 1 {
		return fmt.Errorf("interval must be >= 1 second, got %g", sec)
	}
	return nil
}
