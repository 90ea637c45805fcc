package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Environment variables read by ApplyEnv.
const (
	EnvModel       = "HELMET_MODEL"
	EnvInputNames  = "HELMET_INPUT_NAMES"
	EnvOutputNames = "HELMET_OUTPUT_NAMES"
	EnvBackend     = "HELMET_BACKEND"
	EnvDeviceID    = "HELMET_DEVICE_ID"
)

var log = logrus.WithField("component", "config")

// Load reads a YAML configuration on top of the compiled-in defaults.
//
// Loading is lenient: a missing file or a missing section is logged and the defaults are
// kept. Only a file that exists but cannot be parsed is an error.
//
// Arguments:
//   - path: Path to the YAML file, may be empty.
//
// Returns:
//   - *Config: The merged configuration.
//   - error: An error if the file is not valid YAML.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		log.Warn("no configuration file given, using defaults")
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		log.WithError(err).WithField("path", path).Warn("cannot read configuration file, using defaults")
		return cfg, nil
	}

	if err := cfg.Decode(data); err != nil {
		return nil, errors.Wrapf(err, "parse %s", path)
	}
	return cfg, nil
}

// Decode merges YAML sections into the configuration. Fields missing from a present
// section keep their current values.
func (c *Config) Decode(data []byte) error {
	var sections map[string]yaml.Node
	if err := yaml.Unmarshal(data, &sections); err != nil {
		return err
	}

	targets := []struct {
		name string
		dst  any
	}{
		{"model", &c.Model},
		{"data", &c.Data},
		{"pipeline", &c.Pipeline},
		{"postprocess", &c.Postprocess},
	}
	for _, t := range targets {
		node, ok := sections[t.name]
		if !ok {
			log.WithField("section", t.name).Warn("section missing, keeping defaults")
			continue
		}
		if err := node.Decode(t.dst); err != nil {
			return errors.Wrapf(err, "section %s", t.name)
		}
	}
	return nil
}

// LoadDotEnv loads KEY=VALUE pairs from the given .env files into the process environment.
// Missing files are ignored.
func LoadDotEnv(files ...string) {
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			log.WithError(err).WithField("file", f).Warn("cannot load env file")
		}
	}
}

// ApplyEnv overrides model settings from HELMET_* environment variables.
func (c *Config) ApplyEnv() {
	if v := os.Getenv(EnvModel); v != "" {
		c.Model.Path = v
	}
	if v := os.Getenv(EnvInputNames); v != "" {
		c.Model.InputNames = SplitNames(v)
	}
	if v := os.Getenv(EnvOutputNames); v != "" {
		c.Model.OutputNames = SplitNames(v)
	}
	if v := os.Getenv(EnvBackend); v != "" {
		c.Model.Backend = v
	}
	if v := os.Getenv(EnvDeviceID); v != "" {
		id, err := strconv.Atoi(v)
		if err != nil {
			log.WithField(EnvDeviceID, v).Warn("ignoring non-numeric device id")
			return
		}
		c.Model.DeviceID = id
	}
}

// SplitNames splits a tensor name list on ';' or ','.
func SplitNames(s string) []string {
	fields := strings.FieldsFunc(s, func(r rune) bool { return r == ';' || r == ',' })
	out := fields[:0]
	for _, f := range fields {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}
