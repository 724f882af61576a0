// Package config loads runtime configuration from the environment and an optional .env file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Confidence threshold bounds exposed by the UI slider.
const (
	MinThreshold     = 0.1
	MaxThreshold     = 1.0
	ThresholdStep    = 0.05
	DefaultThreshold = 0.4
)

// DefaultSTUNServer is used when ICE_SERVERS is not set.
const DefaultSTUNServer = "stun:stun.l.google.com:19302"

// Config holds every tunable of the service.
type Config struct {
	Addr           string
	ModelPath      string
	LabelsPath     string
	InferenceSize  int
	NMSThreshold   float64
	Threshold      float64
	MaxCameraIndex int
	CameraFPS      int
	ScreenshotDir  string
	DataDir        string
	WebDir         string
	ICEServers     []string
	LogLevel       string
	LogFormat      string
	Tray           bool
}

// Load reads an optional .env file from the working directory and builds a
// Config from the environment. Missing keys fall back to defaults.
func Load() *Config {
	// A missing .env is the normal case.
	_ = godotenv.Load()

	return &Config{
		Addr:           getEnv("ADDR", ":8080"),
		ModelPath:      getEnv("MODEL_PATH", filepath.Join("models", "bisindo.onnx")),
		LabelsPath:     getEnv("LABELS_PATH", filepath.Join("models", "data.yaml")),
		InferenceSize:  getEnvAsInt("INFERENCE_SIZE", 640),
		NMSThreshold:   getEnvAsFloat("NMS_THRESHOLD", 0.45),
		Threshold:      getEnvAsFloat("CONF_THRESHOLD", DefaultThreshold),
		MaxCameraIndex: getEnvAsInt("MAX_CAMERA_INDEX", 5),
		CameraFPS:      getEnvAsInt("CAMERA_FPS", 15),
		ScreenshotDir:  getEnv("SCREENSHOT_DIR", "screenshots"),
		DataDir:        getEnv("DATA_DIR", defaultDataDir()),
		WebDir:         getEnv("WEB_DIR", ""),
		ICEServers:     getEnvAsList("ICE_SERVERS", []string{DefaultSTUNServer}),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		LogFormat:      getEnv("LOG_FORMAT", "text"),
		Tray:           getEnvAsBool("TRAY", false),
	}
}

// Validate reports every out-of-range value.
func (c *Config) Validate() error {
	var errs []error

	if c.Addr == "" {
		errs = append(errs, errors.New("addr must not be empty"))
	}
	if c.ModelPath == "" {
		errs = append(errs, errors.New("model path must not be empty"))
	}
	if c.InferenceSize <= 0 || c.InferenceSize%32 != 0 {
		errs = append(errs, fmt.Errorf("inference size %d must be a positive multiple of 32", c.InferenceSize))
	}
	if c.NMSThreshold <= 0 || c.NMSThreshold > 1 {
		errs = append(errs, fmt.Errorf("nms threshold %.2f out of range (0, 1]", c.NMSThreshold))
	}
	if c.Threshold < MinThreshold || c.Threshold > MaxThreshold {
		errs = append(errs, fmt.Errorf("confidence threshold %.2f out of range [%.1f, %.1f]", c.Threshold, MinThreshold, MaxThreshold))
	}
	if c.MaxCameraIndex <= 0 {
		errs = append(errs, fmt.Errorf("max camera index %d must be positive", c.MaxCameraIndex))
	}
	if c.CameraFPS <= 0 {
		errs = append(errs, fmt.Errorf("camera fps %d must be positive", c.CameraFPS))
	}
	if c.ScreenshotDir == "" {
		errs = append(errs, errors.New("screenshot dir must not be empty"))
	}

	return errors.Join(errs...)
}

// DBPath returns the sqlite database location inside DataDir.
func (c *Config) DBPath() string {
	return filepath.Join(c.DataDir, "bisindo.db")
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".bisindo"
	}
	return filepath.Join(home, ".bisindo")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvAsList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	var out []string
	for _, part := range strings.Split(value, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
