package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed defaults.yaml
var defaultsYAML []byte

// Supported model backends.
const (
	BackendDlib   = "dlib"
	BackendRemote = "remote"
)

type Config struct {
	Models   ModelsConfig   `yaml:"models"`
	Analysis AnalysisConfig `yaml:"analysis"`
	Web      WebConfig      `yaml:"web"`
	Database DatabaseConfig `yaml:"database"`
}

type ModelsConfig struct {
	Backend      string `yaml:"backend"`       // dlib or remote
	Dir          string `yaml:"dir"`           // directory with dlib .dat model files
	CNN          bool   `yaml:"cnn"`           // use the CNN face detector (slower, more accurate)
	EmbeddingURL string `yaml:"embedding_url"` // embedding server for the remote backend
}

type AnalysisConfig struct {
	SampleInterval time.Duration `yaml:"sample_interval"`
	MatchThreshold float64       `yaml:"match_threshold"`
	Timeout        time.Duration `yaml:"timeout"`
	Workers        int           `yaml:"workers"`
	TempDir        string        `yaml:"temp_dir"` // defaults to the system temp directory
	MaxImageSize   int           `yaml:"max_image_size"`
	FFmpegPath     string        `yaml:"ffmpeg_path"`
	FFprobePath    string        `yaml:"ffprobe_path"`
}

type WebConfig struct {
	Host           string   `yaml:"host"`
	Port           int      `yaml:"port"`
	MaxUploadMB    int      `yaml:"max_upload_mb"`
	AllowedOrigins []string `yaml:"allowed_origins"` // CORS whitelist, localhost is always allowed
}

// MaxUploadBytes returns the upload limit in bytes.
func (c *WebConfig) MaxUploadBytes() int64 {
	return int64(c.MaxUploadMB) << 20
}

type DatabaseConfig struct {
	URL          string `yaml:"url"`            // PostgreSQL connection URL, run history is disabled when empty
	MaxOpenConns int    `yaml:"max_open_conns"` // Maximum open connections (default 25)
	MaxIdleConns int    `yaml:"max_idle_conns"` // Maximum idle connections (default 5)
}

// envInt reads an environment variable and parses it as a positive integer.
// Returns the default value if the env var is unset, empty, or invalid.
func envInt(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n
	}
	return defaultVal
}

// envFloat reads a positive float, falling back to defaultVal.
func envFloat(key string, defaultVal float64) float64 {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && f > 0 {
		return f
	}
	return defaultVal
}

// envDuration reads a positive duration ("3s", "5m") or a plain number of seconds.
func envDuration(key string, defaultVal time.Duration) time.Duration {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if d, err := time.ParseDuration(s); err == nil && d > 0 {
		return d
	}
	if secs, err := strconv.ParseFloat(s, 64); err == nil && secs > 0 {
		return time.Duration(secs * float64(time.Second))
	}
	return defaultVal
}

func envString(key, defaultVal string) string {
	if s := os.Getenv(key); s != "" {
		return s
	}
	return defaultVal
}

// envList reads a comma-separated list.
func envList(key string, defaultVal []string) []string {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	var out []string
	for item := range strings.SplitSeq(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func envBool(key string, defaultVal bool) bool {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if b, err := strconv.ParseBool(s); err == nil {
		return b
	}
	return defaultVal
}

// Defaults returns the embedded default configuration.
func Defaults() *Config {
	var cfg Config
	if err := yaml.Unmarshal(defaultsYAML, &cfg); err != nil {
		// This is an embedded file so this error should never happen in practice
		panic("failed to unmarshal embedded defaults.yaml: " + err.Error())
	}
	return &cfg
}

// Load returns the defaults overridden by environment variables.
func Load() *Config {
	d := Defaults()

	return &Config{
		Models: ModelsConfig{
			Backend:      envString("MODELS_BACKEND", d.Models.Backend),
			Dir:          envString("MODELS_DIR", d.Models.Dir),
			CNN:          envBool("MODELS_CNN", d.Models.CNN),
			EmbeddingURL: envString("EMBEDDING_URL", d.Models.EmbeddingURL),
		},
		Analysis: AnalysisConfig{
			SampleInterval: envDuration("ANALYSIS_SAMPLE_INTERVAL", d.Analysis.SampleInterval),
			MatchThreshold: envFloat("ANALYSIS_MATCH_THRESHOLD", d.Analysis.MatchThreshold),
			Timeout:        envDuration("ANALYSIS_TIMEOUT", d.Analysis.Timeout),
			Workers:        envInt("ANALYSIS_WORKERS", d.Analysis.Workers),
			TempDir:        envString("ANALYSIS_TEMP_DIR", d.Analysis.TempDir),
			MaxImageSize:   envInt("ANALYSIS_MAX_IMAGE_SIZE", d.Analysis.MaxImageSize),
			FFmpegPath:     envString("FFMPEG_PATH", d.Analysis.FFmpegPath),
			FFprobePath:    envString("FFPROBE_PATH", d.Analysis.FFprobePath),
		},
		Web: WebConfig{
			Host:           envString("WEB_HOST", d.Web.Host),
			Port:           envInt("WEB_PORT", d.Web.Port),
			MaxUploadMB:    envInt("WEB_MAX_UPLOAD_MB", d.Web.MaxUploadMB),
			AllowedOrigins: envList("WEB_ALLOWED_ORIGINS", d.Web.AllowedOrigins),
		},
		Database: DatabaseConfig{
			URL:          envString("DATABASE_URL", d.Database.URL),
			MaxOpenConns: envInt("DATABASE_MAX_OPEN_CONNS", d.Database.MaxOpenConns),
			MaxIdleConns: envInt("DATABASE_MAX_IDLE_CONNS", d.Database.MaxIdleConns),
		},
	}
}

// Validate checks values that would make every run fail.
func (c *Config) Validate() error {
	var errs []error
	switch c.Models.Backend {
	case BackendDlib:
		if c.Models.Dir == "" {
			errs = append(errs, errors.New("MODELS_DIR is required for the dlib backend"))
		}
	case BackendRemote:
		if c.Models.EmbeddingURL == "" {
			errs = append(errs, errors.New("EMBEDDING_URL is required for the remote backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown models backend %q (want %s or %s)", c.Models.Backend, BackendDlib, BackendRemote))
	}
	if c.Analysis.SampleInterval <= 0 {
		errs = append(errs, errors.New("sample interval must be positive"))
	}
	if c.Analysis.Timeout <= 0 {
		errs = append(errs, errors.New("analysis timeout must be positive"))
	}
	if c.Analysis.MatchThreshold <= 0 || c.Analysis.MatchThreshold > 1 {
		errs = append(errs, fmt.Errorf("match threshold %v must be in (0, 1]", c.Analysis.MatchThreshold))
	}
	if c.Analysis.Workers < 1 {
		errs = append(errs, errors.New("workers must be at least 1"))
	}
	return errors.Join(errs...)
}
