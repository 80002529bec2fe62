// Package config loads and validates target-databend settings.
//
// The file is decoded with yaml.v3, so both YAML and the JSON config files
// that Singer tooling produces are accepted.
package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"gopkg.in/yaml.v3"
)

const (
	DefaultHost           = "localhost"
	DefaultPort           = 3307
	DefaultBatchSizeRows  = 10000
	DefaultMaxBatchAge    = 5 * time.Minute
	DefaultMaxParallelism = 8
	DefaultCharset        = "utf8"

	// DefaultMaxAllowedPacket bounds an interpolated statement. The writer is
	// given the same limit so oversized batches fail instead of being prepared
	// server side.
	DefaultMaxAllowedPacket = 64 << 20

	// EnvPrefix prefixes the environment overrides, e.g. TARGET_DATABEND_HOST.
	EnvPrefix = "TARGET_DATABEND_"
)

// Port accepts both 3307 and "3307".
type Port int

// UnmarshalYAML decodes a numeric or string scalar.
func (p *Port) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("port must be a scalar, got %s", value.Tag)
	}
	n, err := strconv.Atoi(strings.TrimSpace(value.Value))
	if err != nil {
		return fmt.Errorf("invalid port %q: %w", value.Value, err)
	}
	*p = Port(n)
	return nil
}

// Config holds all settings of a run.
type Config struct {
	Host     string `yaml:"host"`
	Port     Port   `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`

	BatchSizeRows  int           `yaml:"batch_size_rows"` // records per INSERT (default: 10000)
	MaxBatchAge    time.Duration `yaml:"max_batch_age"`   // drain all sinks when the oldest record is this old (default: 5m)
	MaxParallelism int           `yaml:"max_parallelism"` // concurrent stream flushes during a full drain (default: 8)
	HistoryDB      string        `yaml:"history_db"`      // SQLite run history, disabled when empty

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	passwordSet bool
}

// Load reads, overrides, defaults and validates the config at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data)
}

// Parse is Load without the file read.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	var keys map[string]any
	if err := yaml.Unmarshal(data, &keys); err == nil {
		_, cfg.passwordSet = keys["password"]
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv() error {
	if v, ok := os.LookupEnv(EnvPrefix + "HOST"); ok {
		c.Host = v
	}
	if v, ok := os.LookupEnv(EnvPrefix + "PORT"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %sPORT %q: %w", EnvPrefix, v, err)
		}
		c.Port = Port(n)
	}
	if v, ok := os.LookupEnv(EnvPrefix + "USER"); ok {
		c.User = v
	}
	if v, ok := os.LookupEnv(EnvPrefix + "PASSWORD"); ok {
		c.Password = v
		c.passwordSet = true
	}
	if v, ok := os.LookupEnv(EnvPrefix + "DBNAME"); ok {
		c.DBName = v
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Host == "" {
		c.Host = DefaultHost
	}
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	if c.BatchSizeRows <= 0 {
		c.BatchSizeRows = DefaultBatchSizeRows
	}
	if c.MaxBatchAge <= 0 {
		c.MaxBatchAge = DefaultMaxBatchAge
	}
	if c.MaxParallelism <= 0 {
		c.MaxParallelism = DefaultMaxParallelism
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.LogFormat == "" {
		c.LogFormat = "text"
	}
}

// Validate checks required settings. The password may be empty but must be
// given, either in the file or through the environment.
func (c *Config) Validate() error {
	var missing []string
	if c.User == "" {
		missing = append(missing, "user")
	}
	if !c.passwordSet {
		missing = append(missing, "password")
	}
	if c.DBName == "" {
		missing = append(missing, "dbname")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required config: %s", strings.Join(missing, ", "))
	}
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range", c.Port)
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		return fmt.Errorf("log_format must be text or json, got %q", c.LogFormat)
	}
	return nil
}

// DSN builds the go-sql-driver/mysql connection string for Databend's MySQL
// handler. Parameters are interpolated client side because Databend has no
// server-side prepared statements.
func (c *Config) DSN() string {
	mc := mysql.NewConfig()
	mc.User = c.User
	mc.Passwd = c.Password
	mc.Net = "tcp"
	mc.Addr = net.JoinHostPort(c.Host, strconv.Itoa(int(c.Port)))
	mc.DBName = c.DBName
	mc.InterpolateParams = true
	mc.MaxAllowedPacket = DefaultMaxAllowedPacket
	mc.Params = map[string]string{"charset": DefaultCharset}
	return mc.FormatDSN()
}

// String describes the target without the password.
func (c *Config) String() string {
	return fmt.Sprintf("%s@%s:%d/%s", c.User, c.Host, c.Port, c.DBName)
}
