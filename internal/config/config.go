// Package config loads settings from defaults, an optional TOML file, an
// optional .env file and the environment, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
	"github.com/programme-lv/skillfactory/internal/logging"
	"github.com/programme-lv/skillfactory/internal/task"
	"github.com/programme-lv/skillfactory/internal/xdg"
)

const (
	BatchFileName  = "skills_todo.json"
	ReportFileName = "results_log.json"
)

type Config struct {
	Workers          int    `toml:"workers"`
	WorkerTimeout    int    `toml:"worker_timeout"`
	MaxRetryAttempts int    `toml:"max_retry_attempts"`
	RoundTimeout     int    `toml:"round_timeout"`
	LogLevel         string `toml:"log_level"`
	SkillsDir        string `toml:"skills_dir"`
	DataDir          string `toml:"data_dir"`
	// LogsDir defaults to <data dir>/logs.
	LogsDir          string `toml:"logs_dir"`

	Docker Docker `toml:"docker"`
	Claude Claude `toml:"claude"`
	Events Events `toml:"events"`
	AWS    AWS    `toml:"aws"`
}

type Docker struct {
	Runtime        string            `toml:"runtime"`
	Timeout        int               `toml:"timeout"`
	MemoryLimit    string            `toml:"memory_limit"`
	CPULimit       float64           `toml:"cpu_limit"`
	RegistryMirror string            `toml:"registry_mirror"`
	Images         map[string]string `toml:"images"`
}

type Claude struct {
	Binary         string `toml:"binary"`
	Model          string `toml:"model"`
	PermissionMode string `toml:"permission_mode"`
	BaseURL        string `toml:"base_url"`
	AuthToken      string `toml:"auth_token"`
	Context7APIKey string `toml:"context7_api_key"`
	Context7APIURL string `toml:"context7_api_url"`
}

type Events struct {
	NatsURL     string `toml:"nats_url"`
	NatsSubject string `toml:"nats_subject"`
	SqsURL      string `toml:"sqs_url"`
}

type AWS struct {
	Region          string `toml:"region"`
	RequestQueueURL string `toml:"request_queue_url"`
	S3Bucket        string `toml:"s3_bucket"`
}

func Default() *Config {
	dirs := xdg.NewXDGDirs()
	return &Config{
		Workers:          3,
		WorkerTimeout:    600,
		MaxRetryAttempts: 3,
		RoundTimeout:     1200,
		LogLevel:         "info",
		SkillsDir:        dirs.SkillsDir(),
		DataDir:          dirs.AppDataDir(),
		Docker: Docker{
			Runtime:     "docker",
			Timeout:     300,
			MemoryLimit: "512m",
			CPULimit:    1.0,
			Images:      map[string]string{},
		},
		Claude: Claude{
			Binary:         "claude",
			Model:          "claude-3-5-sonnet",
			PermissionMode: "bypassPermissions",
			Context7APIURL: "https://mcp.context7.com/mcp",
		},
		Events: Events{
			NatsSubject: "skillfactory.events",
		},
		AWS: AWS{
			Region: "eu-central-1",
		},
	}
}

type Sources struct {
	// File is a TOML file. Empty means the XDG config file, if present.
	File string
	// DotEnv is a .env file. Empty means ".env" in the working directory,
	// if present.
	DotEnv string
}

// Load builds the configuration. Missing default files are not an error;
// explicitly named files must exist.
func Load(src Sources) (*Config, error) {
	cfg := Default()

	file, required := src.File, true
	if file == "" {
		file, required = xdg.NewXDGDirs().AppConfigFile(), false
	}
	if err := cfg.mergeFile(file, required); err != nil {
		return nil, err
	}

	dotenv, required := src.DotEnv, true
	if dotenv == "" {
		dotenv, required = ".env", false
	}
	vars, err := readDotEnv(dotenv, required)
	if err != nil {
		return nil, err
	}

	lookup := func(name string) string {
		if v := os.Getenv(name); v != "" {
			return v
		}
		return vars[name]
	}
	if err := cfg.applyEnv(lookup); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) mergeFile(path string, required bool) error {
	b, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) && !required {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	if err := toml.Unmarshal(b, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func readDotEnv(path string, required bool) (map[string]string, error) {
	vars, err := godotenv.Read(path)
	if errors.Is(err, os.ErrNotExist) && !required {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return vars, nil
}

func (c *Config) Validate() error {
	var errs []error
	if c.Workers < 1 {
		errs = append(errs, fmt.Errorf("workers must be at least 1, got %d", c.Workers))
	}
	if c.WorkerTimeout <= 0 {
		errs = append(errs, fmt.Errorf("worker timeout must be positive, got %d", c.WorkerTimeout))
	}
	if c.Docker.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("docker timeout must be positive, got %d", c.Docker.Timeout))
	}
	if c.RoundTimeout <= 0 {
		errs = append(errs, fmt.Errorf("round timeout must be positive, got %d", c.RoundTimeout))
	}
	if c.MaxRetryAttempts < 1 {
		errs = append(errs, fmt.Errorf("max retry attempts must be at least 1, got %d", c.MaxRetryAttempts))
	}
	if c.Docker.CPULimit < 0 {
		errs = append(errs, fmt.Errorf("cpu limit must not be negative, got %v", c.Docker.CPULimit))
	}
	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	for lang := range c.Docker.Images {
		if _, err := task.ParseLanguage(lang); err != nil {
			errs = append(errs, fmt.Errorf("docker image override: %w", err))
		}
	}
	return errors.Join(errs...)
}

func (c *Config) WorkerTimeoutDur() time.Duration {
	return time.Duration(c.WorkerTimeout) * time.Second
}

func (c *Config) DockerTimeoutDur() time.Duration {
	return time.Duration(c.Docker.Timeout) * time.Second
}

func (c *Config) RoundTimeoutDur() time.Duration {
	return time.Duration(c.RoundTimeout) * time.Second
}

func (c *Config) BatchFile() string {
	return filepath.Join(c.DataDir, BatchFileName)
}

// LogsPath is the directory the log file is appended to.
func (c *Config) LogsPath() string {
	if c.LogsDir != "" {
		return c.LogsDir
	}
	return filepath.Join(c.DataDir, "logs")
}

func (c *Config) ReportPath() string {
	return filepath.Join(c.DataDir, ReportFileName)
}

// Images returns the per-language image overrides.
func (c *Config) Images() map[task.Language]string {
	out := make(map[task.Language]string, len(c.Docker.Images))
	for k, v := range c.Docker.Images {
		lang, err := task.ParseLanguage(k)
		if err == nil && v != "" {
			out[lang] = v
		}
	}
	return out
}

// AgentEnv is the environment passed to the agent process.
func (c *Config) AgentEnv() []string {
	var env []string
	if c.Claude.BaseURL != "" {
		env = append(env, "ANTHROPIC_BASE_URL="+c.Claude.BaseURL)
	}
	if c.Claude.AuthToken != "" {
		env = append(env, "ANTHROPIC_AUTH_TOKEN="+c.Claude.AuthToken)
	}
	return env
}

// Warnings lists settings that will likely degrade a run.
func (c *Config) Warnings() []string {
	var w []string
	if c.Claude.AuthToken == "" && os.Getenv("ANTHROPIC_API_KEY") == "" {
		w = append(w, "no ANTHROPIC_AUTH_TOKEN or CLAUDE_API_KEY configured, the agent relies on its own login")
	}
	if c.Claude.Context7APIKey == "" {
		w = append(w, "no CONTEXT7_API_KEY configured, documentation lookups may be rate limited")
	}
	return w
}
