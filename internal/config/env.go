package config

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/programme-lv/skillfactory/internal/task"
)

type envVar struct {
	name  string
	apply func(c *Config, v string) error
}

func str(dst func(*Config) *string) func(*Config, string) error {
	return func(c *Config, v string) error {
		*dst(c) = v
		return nil
	}
}

func integer(dst func(*Config) *int) func(*Config, string) error {
	return func(c *Config, v string) error {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return err
		}
		*dst(c) = n
		return nil
	}
}

var envVars = []envVar{
	{"MAX_CONCURRENT_WORKERS", integer(func(c *Config) *int { return &c.Workers })},
	{"WORKER_TIMEOUT", integer(func(c *Config) *int { return &c.WorkerTimeout })},
	{"MAX_RETRY_ATTEMPTS", integer(func(c *Config) *int { return &c.MaxRetryAttempts })},
	{"ROUND_TIMEOUT", integer(func(c *Config) *int { return &c.RoundTimeout })},
	{"LOG_LEVEL", str(func(c *Config) *string { return &c.LogLevel })},
	{"SKILLS_DIR", str(func(c *Config) *string { return &c.SkillsDir })},
	{"DATA_DIR", str(func(c *Config) *string { return &c.DataDir })},
	{"LOGS_DIR", str(func(c *Config) *string { return &c.LogsDir })},

	{"CONTAINER_RUNTIME", str(func(c *Config) *string { return &c.Docker.Runtime })},
	{"DOCKER_TIMEOUT", integer(func(c *Config) *int { return &c.Docker.Timeout })},
	{"DOCKER_MEMORY_LIMIT", str(func(c *Config) *string { return &c.Docker.MemoryLimit })},
	{"DOCKER_CPU_LIMIT", func(c *Config, v string) error {
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return err
		}
		c.Docker.CPULimit = f
		return nil
	}},
	{"DOCKER_REGISTRY_MIRROR", str(func(c *Config) *string { return &c.Docker.RegistryMirror })},

	{"CLAUDE_BIN", str(func(c *Config) *string { return &c.Claude.Binary })},
	{"CLAUDE_MODEL", str(func(c *Config) *string { return &c.Claude.Model })},
	{"PERMISSION_MODE", str(func(c *Config) *string { return &c.Claude.PermissionMode })},
	{"ANTHROPIC_BASE_URL", str(func(c *Config) *string { return &c.Claude.BaseURL })},
	{"ANTHROPIC_AUTH_TOKEN", str(func(c *Config) *string { return &c.Claude.AuthToken })},
	{"CONTEXT7_API_KEY", str(func(c *Config) *string { return &c.Claude.Context7APIKey })},
	{"CONTEXT7_API_URL", str(func(c *Config) *string { return &c.Claude.Context7APIURL })},

	{"NATS_URL", str(func(c *Config) *string { return &c.Events.NatsURL })},
	{"NATS_SUBJECT", str(func(c *Config) *string { return &c.Events.NatsSubject })},
	{"SQS_EVENTS_URL", str(func(c *Config) *string { return &c.Events.SqsURL })},

	{"AWS_REGION", str(func(c *Config) *string { return &c.AWS.Region })},
	{"SQS_REQUEST_URL", str(func(c *Config) *string { return &c.AWS.RequestQueueURL })},
	{"S3_BUCKET", str(func(c *Config) *string { return &c.AWS.S3Bucket })},
}

// EnvNames lists every environment variable the configuration reads.
func EnvNames() []string {
	names := make([]string, 0, len(envVars)+len(task.Languages)+2)
	for _, e := range envVars {
		names = append(names, e.name)
	}
	names = append(names, "CLAUDE_API_KEY", "DOCKER_IMAGE")
	for _, lang := range task.Languages {
		names = append(names, imageEnv(lang))
	}
	return names
}

func imageEnv(lang task.Language) string {
	return "DOCKER_IMAGE_" + strings.ToUpper(string(lang))
}

func (c *Config) applyEnv(lookup func(string) string) error {
	for _, e := range envVars {
		v := lookup(e.name)
		if v == "" {
			continue
		}
		if err := e.apply(c, v); err != nil {
			return fmt.Errorf("invalid %s=%q: %w", e.name, v, err)
		}
	}

	if c.Claude.AuthToken == "" {
		c.Claude.AuthToken = lookup("CLAUDE_API_KEY")
	}

	if c.Docker.Images == nil {
		c.Docker.Images = map[string]string{}
	}
	if v := lookup("DOCKER_IMAGE"); v != "" {
		c.Docker.Images[string(task.Python)] = v
	}
	for _, lang := range task.Languages {
		if v := lookup(imageEnv(lang)); v != "" {
			c.Docker.Images[string(lang)] = v
		}
	}
	return nil
}
