package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// LoadDotEnv loads variables from the given .env files into the process
// environment. Missing files are ignored; variables already set win.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return fmt.Errorf("failed to load %s: %w", f, err)
		}
	}
	return nil
}

type envBinding struct {
	key   string
	apply func(c *Config, v string) error
}

var envBindings = []envBinding{
	{"MYROOM_STORE_DIR", func(c *Config, v string) error { c.Store.Dir = v; return nil }},
	{"MYROOM_STORE_ADVISORY_LOCK", func(c *Config, v string) error { return setBool(&c.Store.AdvisoryLock, v) }},
	{"MYROOM_EMBEDDING_PROVIDER", func(c *Config, v string) error { c.Embedding.Provider = v; return nil }},
	{"MYROOM_EMBEDDING_URL", func(c *Config, v string) error { c.Embedding.BaseURL = v; return nil }},
	{"MYROOM_QUALITY_ENABLED", func(c *Config, v string) error { return setBool(&c.Quality.Enabled, v) }},
	{"MYROOM_QUALITY_URL", func(c *Config, v string) error { c.Quality.BaseURL = v; return nil }},
	{"MYROOM_ANALYZER_PROVIDER", func(c *Config, v string) error { c.Analyzer.Provider = v; return nil }},
	{"MYROOM_ANALYZER_URL", func(c *Config, v string) error { c.Analyzer.BaseURL = v; return nil }},
	{"MYROOM_ANALYZER_MODEL", func(c *Config, v string) error { c.Analyzer.Model = v; return nil }},
	{"MYROOM_GENERATION_URL", func(c *Config, v string) error { c.Generation.BaseURL = v; return nil }},
	{"MYROOM_BLOB_PROVIDER", func(c *Config, v string) error { c.Blob.Provider = v; return nil }},
	{"MYROOM_S3_BUCKET", func(c *Config, v string) error { c.Blob.S3.Bucket = v; return nil }},
	{"MYROOM_S3_REGION", func(c *Config, v string) error { c.Blob.S3.Region = v; return nil }},
	{"MYROOM_S3_ENDPOINT", func(c *Config, v string) error { c.Blob.S3.Endpoint = v; return nil }},
	{"MYROOM_BROKER_TRANSPORT", func(c *Config, v string) error { c.Broker.Transport = v; return nil }},
	{"MYROOM_AMQP_URL", func(c *Config, v string) error { c.Broker.AMQP.URL = v; return nil }},
	{"MYROOM_REDIS_ADDR", func(c *Config, v string) error { c.Broker.Redis.Addr = v; return nil }},
	{"MYROOM_REDIS_PASSWORD", func(c *Config, v string) error { c.Broker.Redis.Password = v; return nil }},
	{"MYROOM_REDIS_DB", func(c *Config, v string) error { return setInt(&c.Broker.Redis.DB, v) }},
	{"MYROOM_HTTP_ADDR", func(c *Config, v string) error { c.Server.Addr = v; return nil }},
	{"MYROOM_LOG_LEVEL", func(c *Config, v string) error { c.Logging.Level = v; return nil }},
	{"MYROOM_LOG_FORMAT", func(c *Config, v string) error { c.Logging.Format = v; return nil }},
}

// ApplyEnv overrides configuration values from MYROOM_* environment variables.
func (c *Config) ApplyEnv() error {
	for _, b := range envBindings {
		v, ok := os.LookupEnv(b.key)
		if !ok || strings.TrimSpace(v) == "" {
			continue
		}
		if err := b.apply(c, strings.TrimSpace(v)); err != nil {
			return fmt.Errorf("invalid %s: %w", b.key, err)
		}
	}
	return nil
}

func setBool(dst *bool, v string) error {
	b, err := strconv.ParseBool(v)
	if err != nil {
		return err
	}
	*dst = b
	return nil
}

func setInt(dst *int, v string) error {
	n, err := strconv.Atoi(v)
	if err != nil {
		return err
	}
	*dst = n
	return nil
}
