package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cjeanneret/ArmCal/internal/logic/geometry"
)

// MaxConfigFileBytes caps the size of a configuration file.
const MaxConfigFileBytes = 64 * 1024

// Camera types.
const (
	CameraWebcam = "webcam" // live capture through OpenCV
	CameraStill  = "still"  // a single image file on disk
)

// Calibration strategies.
const (
	StrategyPattern = "pattern" // detect a chessboard, take its extreme corners
	StrategyManual  = "manual"  // operator enters 4 image points
)

// CameraConfig selects the frame source.
type CameraConfig struct {
	Type      string `yaml:"type"`       // "webcam" or "still"
	Device    int    `yaml:"device"`     // video device index for "webcam"
	StillPath string `yaml:"still_path"` // image file for "still"
}

// PatternConfig describes the calibration chessboard and how it is used.
type PatternConfig struct {
	Columns  int    `yaml:"columns"`  // inner corners per row
	Rows     int    `yaml:"rows"`     // inner corners per column
	Strategy string `yaml:"strategy"` // "pattern" or "manual"
}

// BoardConfig describes the playing board whose intersections are converted.
type BoardConfig struct {
	GridLines int `yaml:"grid_lines"` // lines per side (e.g. 13 for a Gomoku board)
}

// CalibrationConfig locates the persisted homography.
type CalibrationConfig struct {
	Path string `yaml:"path"`
}

// GPIOConfig wires the optional trigger button and "calibrated" LED.
type GPIOConfig struct {
	Mock        bool `yaml:"mock"`          // true=dev/test, false=real Raspberry Pi
	TriggerPin  int  `yaml:"trigger_pin"`   // BCM pin of the push button, 0 = not used. Active LOW.
	ReadyLEDPin int  `yaml:"ready_led_pin"` // BCM pin of the LED, 0 = not used
}

// DefaultsConfig contains generic parameters.
type DefaultsConfig struct {
	DebugLevel     int `yaml:"debug_level"`      // debug level 0-4 (0=off, 1=info, 2=live, 3=verbose, 4=trace)
	PollIntervalMs int `yaml:"poll_interval_ms"` // delay between two frames of the detection loop
}

// Config aggregates all application configuration.
type Config struct {
	Camera      CameraConfig      `yaml:"camera"`
	Pattern     PatternConfig     `yaml:"pattern"`
	Board       BoardConfig       `yaml:"board"`
	Calibration CalibrationConfig `yaml:"calibration"`
	GPIO        GPIOConfig        `yaml:"gpio"`
	Defaults    DefaultsConfig    `yaml:"defaults"`
}

// ValidateConfigPath rejects paths that do not name a .yaml file directly
// inside a configs/ directory.
func ValidateConfigPath(path string) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	clean := filepath.Clean(path)
	if filepath.Ext(clean) != ".yaml" {
		return fmt.Errorf("config file must have a .yaml extension: %s", path)
	}
	abs, err := filepath.Abs(clean)
	if err != nil {
		return fmt.Errorf("resolve config path: %w", err)
	}
	if filepath.Base(filepath.Dir(abs)) != "configs" {
		return fmt.Errorf("config file must live in a configs/ directory: %s", path)
	}
	for _, part := range strings.Split(filepath.ToSlash(clean), "/") {
		if part == ".." {
			return fmt.Errorf("config path must not contain '..': %s", path)
		}
	}
	return nil
}

// Load reads a YAML file and returns the configuration.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, MaxConfigFileBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	if len(data) > MaxConfigFileBytes {
		return nil, fmt.Errorf("config file exceeds %d bytes", MaxConfigFileBytes)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal yaml: %w", err)
	}

	switch cfg.Camera.Type {
	case CameraWebcam:
		if cfg.Camera.Device < 0 {
			return nil, fmt.Errorf("camera.device must be >= 0, got %d", cfg.Camera.Device)
		}
	case CameraStill:
		if cfg.Camera.StillPath == "" {
			return nil, fmt.Errorf("camera.still_path is required for camera.type %q", CameraStill)
		}
	case "":
		return nil, fmt.Errorf("camera.type is required")
	default:
		return nil, fmt.Errorf("unknown camera.type %q (want %q or %q)", cfg.Camera.Type, CameraWebcam, CameraStill)
	}

	// The shipped calibration board has 12x12 inner corners.
	if cfg.Pattern.Columns == 0 {
		cfg.Pattern.Columns = 12
	}
	if cfg.Pattern.Rows == 0 {
		cfg.Pattern.Rows = 12
	}
	if !cfg.PatternSize().Valid() {
		return nil, fmt.Errorf("pattern must be at least 2x2, got %s", cfg.PatternSize())
	}
	if cfg.Pattern.Strategy == "" {
		cfg.Pattern.Strategy = StrategyPattern
	}
	if err := ValidateStrategy(cfg.Pattern.Strategy); err != nil {
		return nil, err
	}

	if cfg.Board.GridLines == 0 {
		cfg.Board.GridLines = 13
	}
	if cfg.Board.GridLines < 2 {
		return nil, fmt.Errorf("board.grid_lines must be >= 2, got %d", cfg.Board.GridLines)
	}

	if cfg.Calibration.Path == "" {
		cfg.Calibration.Path = "calibration/homography.txt"
	}

	if cfg.GPIO.TriggerPin < 0 || cfg.GPIO.ReadyLEDPin < 0 {
		return nil, fmt.Errorf("gpio pins must be >= 0")
	}
	if cfg.GPIO.TriggerPin != 0 && cfg.GPIO.TriggerPin == cfg.GPIO.ReadyLEDPin {
		return nil, fmt.Errorf("gpio.trigger_pin and gpio.ready_led_pin must differ, both are %d", cfg.GPIO.TriggerPin)
	}

	if cfg.Defaults.DebugLevel < 0 || cfg.Defaults.DebugLevel > 4 {
		return nil, fmt.Errorf("debug_level must be between 0 and 4, got %d", cfg.Defaults.DebugLevel)
	}
	if cfg.Defaults.PollIntervalMs <= 0 {
		cfg.Defaults.PollIntervalMs = 100 // ~10 frames per second
	}

	return &cfg, nil
}

// ValidateStrategy reports whether s names a known calibration strategy.
func ValidateStrategy(s string) error {
	if s != StrategyPattern && s != StrategyManual {
		return fmt.Errorf("unknown strategy %q (want %q or %q)", s, StrategyPattern, StrategyManual)
	}
	return nil
}

// PatternSize returns the chessboard inner-corner grid.
func (c *Config) PatternSize() geometry.GridSize {
	return geometry.GridSize{Columns: c.Pattern.Columns, Rows: c.Pattern.Rows}
}

// PollInterval returns the delay between two frames of the detection loop.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Defaults.PollIntervalMs) * time.Millisecond
}

// UseTrigger reports whether a GPIO push button gates pattern calibration.
// A mocked button is never pressed, so mock GPIO calibrates on the first
// detection instead.
func (c *Config) UseTrigger() bool {
	return c.GPIO.TriggerPin > 0 && !c.GPIO.Mock
}

// UseReadyLED reports whether a GPIO LED shows the calibration state.
func (c *Config) UseReadyLED() bool {
	return c.GPIO.ReadyLEDPin > 0
}
